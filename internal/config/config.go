package config

import (
	"fmt"

	"github.com/caarlos0/env/v11"
)

// Config holds the full process configuration, populated from environment
// variables. Nested sections use envPrefix so e.g. LOG_LEVEL lands in
// Log.Level.
type Config struct {
	// HTTPAddress is the listen address for the REST transport.
	HTTPAddress string `env:"HTTP_ADDRESS" envDefault:":8080"`

	// HTTPAPIKey optionally protects the REST transport with a static key
	// in addition to bearer-token auth.
	HTTPAPIKey string `env:"HTTP_API_KEY"`

	// JWTSecretKey signs and verifies bearer tokens. Required.
	JWTSecretKey string `env:"JWT_SECRET_KEY"`

	// AdapterType selects the backend integration (mock, gam,
	// google_ad_manager, kevel, triton, triton_digital, xandr,
	// creative_engine).
	AdapterType string `env:"ADAPTER_TYPE" envDefault:"mock"`

	// AdapterConfigJSON is the backend integration's config blob
	// (credentials, feature flags, HITL settings), decoded into
	// adapters.Config at startup.
	AdapterConfigJSON string `env:"ADAPTER_CONFIG_JSON"`

	// TenantID namespaces workflow contexts.
	TenantID string `env:"TENANT_ID" envDefault:"default"`

	// DryRun disables all backend mutation; operations log what they would
	// send and return synthesized identifiers.
	DryRun bool `env:"DRY_RUN"`

	// ProductCatalogPath points at the product catalog JSON served by
	// get_products and used for package validation.
	ProductCatalogPath string `env:"PRODUCT_CATALOG_PATH" envDefault:"products.json"`

	DB  DBConfig  `envPrefix:"DB_"`
	Log LogConfig `envPrefix:"LOG_"`
	MCP MCPConfig `envPrefix:"MCP_"`
}

type DBConfig struct {
	// Path is the sqlite database file. ":memory:" is valid for tests.
	Path string `env:"PATH" envDefault:"sales_agent.db"`
}

type LogConfig struct {
	Level string `env:"LEVEL" envDefault:"INFO"`
	File  string `env:"FILE"`
	Human bool   `env:"HUMAN"`
}

type MCPConfig struct {
	// Transport selects the MCP wiring: "stdio", "http", or empty to
	// disable the MCP surface entirely.
	Transport string `env:"TRANSPORT"`
}

// Enabled reports whether the MCP surface should be started.
func (m MCPConfig) Enabled() bool { return m.Transport != "" }

// NewConfig reads configuration from the environment and validates the
// fields with no usable default.
func NewConfig() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, err
	}
	if cfg.JWTSecretKey == "" {
		return nil, fmt.Errorf("missing environment variable: JWT_SECRET_KEY")
	}
	return &cfg, nil
}
