package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"io"
	"strings"

	"log/slog"
	"net/http"
	"os"
	"time"

	internalDB "github.com/admesh/adcp-sales-agent/internal/db"

	"github.com/admesh/adcp-sales-agent/internal/adapters"
	"github.com/admesh/adcp-sales-agent/internal/api"
	"github.com/admesh/adcp-sales-agent/internal/auth"
	"github.com/admesh/adcp-sales-agent/internal/config"
	httpHandlers "github.com/admesh/adcp-sales-agent/internal/http"
	mcpHandlers "github.com/admesh/adcp-sales-agent/internal/mcp"
	"github.com/admesh/adcp-sales-agent/internal/server"
	"github.com/admesh/adcp-sales-agent/internal/workflow"
	mcpSdk "github.com/modelcontextprotocol/go-sdk/mcp"

	_ "github.com/mattn/go-sqlite3"
)

func main() {
	cfg, err := config.NewConfig()
	if err != nil {
		logs := slog.New(slog.NewTextHandler(os.Stdout, nil))
		logs.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	logger := newLogger(cfg)
	slog.SetDefault(logger)

	dbConn, err := sql.Open("sqlite3", cfg.DB.Path)
	if err != nil {
		logger.Error("failed to open database", "error", err)
		os.Exit(1)
	}
	defer dbConn.Close()

	dbConn.SetMaxOpenConns(1)
	dbConn.SetMaxIdleConns(1)
	dbConn.SetConnMaxLifetime(0)

	// Enable foreign key support in SQLite (for referential integrity)
	if _, err := dbConn.Exec("PRAGMA foreign_keys = ON;"); err != nil {
		logger.Error("failed to enable foreign keys", "error", err)
		os.Exit(1)
	}

	if _, err := dbConn.Exec(internalDB.SchemaSQL); err != nil {
		logger.Error("failed to apply schema", "error", err)
		os.Exit(1)
	}

	adapterKind, err := adapters.ParseKind(cfg.AdapterType)
	if err != nil {
		logger.Error("failed to resolve adapter", "error", err)
		os.Exit(1)
	}

	var adapterConfig adapters.Config
	if cfg.AdapterConfigJSON != "" {
		if err := json.Unmarshal([]byte(cfg.AdapterConfigJSON), &adapterConfig); err != nil {
			logger.Error("failed to parse ADAPTER_CONFIG_JSON", "error", err)
			os.Exit(1)
		}
	}

	// Initialize server with shared business logic
	srv := server.NewServer(dbConn, logger)
	srv.AdapterKind = adapterKind
	srv.AdapterConfig = adapterConfig
	srv.Workflow = workflow.NewStore(dbConn, logger)
	srv.Notifier = workflow.NewNotifier(logger)
	srv.TenantID = cfg.TenantID
	srv.DryRun = cfg.DryRun
	srv.Products = loadProducts(cfg.ProductCatalogPath, logger)
	srv.AuthProperties = api.AuthorizedPropertiesResponse{
		Properties: []api.AuthorizedPropertyGroup{
			{
				PublisherDomain: "admesh.example",
				PropertyIDs:     []string{"mesh_tv_ctv", "mesh_tv_mobile", "mesh_tv_web"},
			},
		},
	}
	srv.InternalProperties = srv.AuthProperties.Properties

	// Start MCP server in background
	if cfg.MCP.Enabled() {
		startMCPServer(srv, logger, cfg.MCP.Transport)
	}

	// Start HTTP server
	startHTTPServer(srv, logger, cfg)
}

func newLogger(cfg *config.Config) *slog.Logger {
	logLevel := slog.LevelInfo
	switch strings.ToLower(cfg.Log.Level) {
	case "trace":
		logLevel = slog.LevelDebug - 4
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	}

	var out io.Writer = os.Stdout
	if cfg.Log.File != "" {
		f, err := os.OpenFile(cfg.Log.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err == nil {
			out = f
		}
	}

	opts := &slog.HandlerOptions{AddSource: true, Level: logLevel}
	if cfg.Log.Human {
		return slog.New(slog.NewTextHandler(out, opts))
	}
	return slog.New(slog.NewJSONHandler(out, opts))
}

// loadProducts reads the product catalog from disk, falling back to the
// built-in catalog when the file is absent.
func loadProducts(path string, logger *slog.Logger) []api.Product {
	if path != "" {
		data, err := os.ReadFile(path)
		if err == nil {
			var products []api.Product
			if err := json.Unmarshal(data, &products); err != nil {
				logger.Error("failed to parse product catalog, using built-in catalog", "path", path, "error", err)
			} else if len(products) > 0 {
				logger.Info("loaded product catalog", "path", path, "products", len(products))
				return products
			}
		}
	}
	return defaultProducts()
}

func defaultProducts() []api.Product {
	creativeAgentURL := "https://creative.adcontextprotocol.org" // reference Creative agent for format IDs
	return []api.Product{
		{
			ProductID:    "ctv_premium_preroll_30s",
			Name:         "Premium CTV Pre-Roll (30s, US)",
			DeliveryType: "guaranteed",
			Properties: []api.ProductPropertyRef{
				{PublisherDomain: "admesh.example", PropertyIDs: []string{"mesh_tv_ctv"}},
			},
			PricingOptions: []api.PricingOption{
				{PricingOptionID: "cpm_fixed_usd", PricingModel: "cpm", Currency: "USD", IsFixed: true, Rate: 22.0},
			},
			SupportedFormats: []api.SupportedFormat{
				{FormatID: api.FormatID{AgentURL: creativeAgentURL, ID: "video_30s_hosted"}},
			},
			AvailableMetrics: []string{"impressions", "spend", "video_starts", "video_completions", "completion_rate"},
		},
		{
			ProductID:    "ctv_premium_preroll_15s",
			Name:         "Premium CTV Pre-Roll (15s, US)",
			DeliveryType: "guaranteed",
			Properties: []api.ProductPropertyRef{
				{PublisherDomain: "admesh.example", PropertyIDs: []string{"mesh_tv_ctv"}},
			},
			PricingOptions: []api.PricingOption{
				{PricingOptionID: "cpm_fixed_usd", PricingModel: "cpm", Currency: "USD", IsFixed: true, Rate: 18.0},
			},
			SupportedFormats: []api.SupportedFormat{
				{FormatID: api.FormatID{AgentURL: creativeAgentURL, ID: "video_15s_hosted"}},
			},
			AvailableMetrics: []string{"impressions", "spend", "video_starts", "video_completions", "completion_rate"},
		},
		{
			ProductID:    "web_display_run_of_network",
			Name:         "Web Display Run of Network (US)",
			DeliveryType: "non_guaranteed",
			Properties: []api.ProductPropertyRef{
				{PublisherDomain: "admesh.example", PropertyIDs: []string{"mesh_tv_web"}},
			},
			PricingOptions: []api.PricingOption{
				{
					PricingOptionID: "cpm_auction_usd",
					PricingModel:    "cpm",
					Currency:        "USD",
					IsFixed:         false,
					PriceGuidance:   &api.PriceGuidance{Floor: 2.0, P25: 3.5, P50: 5.0, P75: 7.5, P90: 10.0},
				},
			},
			SupportedFormats: []api.SupportedFormat{
				{FormatID: api.FormatID{AgentURL: creativeAgentURL, ID: "display_300x250"}},
				{FormatID: api.FormatID{AgentURL: creativeAgentURL, ID: "display_728x90"}},
			},
			AvailableMetrics: []string{"impressions", "spend", "clicks", "ctr"},
		},
	}
}

func startMCPServer(srv *server.Server, logger *slog.Logger, transport string) {
	impl := &mcpSdk.Implementation{
		Name:    "AdMesh Sales Agent",
		Version: "0.1.0",
	}
	mcpServer := mcpSdk.NewServer(impl, nil)

	mcpHandler := mcpHandlers.NewMCPHandler(srv)
	mcpHandler.RegisterTools(mcpServer)

	go func() {
		ctx := context.Background()
		logger.Info("Starting MCP server", "transport", transport)

		var mcpTransport mcpSdk.Transport
		switch transport {
		case "stdio":
			mcpTransport = &mcpSdk.StdioTransport{}
		default:
			logger.Error("unsupported MCP transport", "transport", transport)
			return
		}

		if err := mcpServer.Run(ctx, mcpTransport); err != nil {
			logger.Error("MCP server error", "error", err)
		}
	}()
}

func startHTTPServer(srv *server.Server, logger *slog.Logger, cfg *config.Config) {
	// Initialize API key store with test keys
	apiKeyStore := auth.InitializeDefaultAPIKeys()

	// Add configured API keys from environment if available
	if apiKey := os.Getenv("ADCP_API_KEY"); apiKey != "" {
		apiKeyStore.AddKey(apiKey, &auth.Principal{
			PrincipalID: "principal_env",
			Name:        "Environment Principal",
			Permissions: map[string][]auth.Permission{
				"products":   {auth.PermissionRead},
				"media_buys": {auth.PermissionRead, auth.PermissionWrite},
				"creatives":  {auth.PermissionRead, auth.PermissionWrite},
				"reports":    {auth.PermissionRead, auth.PermissionWrite},
			},
		})
	}

	httpHandler := httpHandlers.NewHTTPHandler(srv)
	router := httpHandlers.NewRouter(httpHandler, cfg.JWTSecretKey, apiKeyStore, logger)

	httpServer := &http.Server{
		Addr:              cfg.HTTPAddress,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	logger.Info("Sales Agent service is running",
		"address", cfg.HTTPAddress,
		"adapter", cfg.AdapterType,
		"dry_run", cfg.DryRun)

	if err := httpServer.ListenAndServe(); err != nil {
		logger.Error("server shutdown", "error", err)
	}
}
