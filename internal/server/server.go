package server

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/admesh/adcp-sales-agent/internal/adapters"
	"github.com/admesh/adcp-sales-agent/internal/api"
	"github.com/admesh/adcp-sales-agent/internal/auth"
	"github.com/admesh/adcp-sales-agent/internal/workflow"
	"github.com/google/uuid"
)

// Server holds application dependencies and implements the protocol
// operations shared by the HTTP and MCP transports. Each operation resolves
// the caller's principal, validates the request against the product catalog,
// dispatches to the configured ad server adapter, and persists the outcome.
type Server struct {
	DB                 *sql.DB
	Products           []api.Product
	AuthProperties     api.AuthorizedPropertiesResponse
	InternalProperties []api.AuthorizedPropertyGroup // For internal product validation
	Logger             *slog.Logger

	AdapterKind   adapters.Kind
	AdapterConfig adapters.Config
	Workflow      *workflow.Store
	Notifier      *workflow.Notifier
	TenantID      string
	DryRun        bool

	// mockStore carries simulated media buys across requests when the mock
	// adapter is configured.
	mockStore *adapters.MediaBuyStore
}

// NewServer wires a Server. The mock simulation store is created eagerly so
// media buys survive across requests regardless of which request created them.
func NewServer(db *sql.DB, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		DB:        db,
		Logger:    logger,
		mockStore: adapters.NewMediaBuyStore(),
	}
}

// CreateMediaBuyParams encapsulates parameters for creating a media buy
type CreateMediaBuyParams struct {
	Request *api.CreateMediaBuyRequest
}

// ValidationError represents a validation failure
type ValidationError struct {
	Message string
	Code    string
	Field   string
}

func (e ValidationError) Error() string {
	return e.Message
}

// adapterFor constructs the configured adapter bound to the caller's
// principal. Dry-run is the union of process-level configuration and the
// per-request header flag.
func (s *Server) adapterFor(ctx context.Context, principal *auth.Principal) (adapters.Adapter, error) {
	deps := adapters.Deps{
		Logger:    s.Logger,
		Workflow:  s.Workflow,
		Webhooks:  &notifierBridge{notifier: s.Notifier},
		TenantID:  s.TenantID,
		DryRun:    s.DryRun || auth.IsDryRun(ctx),
		MockStore: s.mockStore,
		Budgets:   s,
	}
	adapter, err := adapters.New(s.AdapterKind, s.AdapterConfig, principal, deps)
	if err != nil {
		s.Logger.Error("adapter construction failed", "kind", s.AdapterKind.String(), "error", err)
		return nil, fmt.Errorf("adapter unavailable: %w", err)
	}
	return adapter, nil
}

// notifierBridge adapts the workflow notifier to the adapter-facing
// webhook interface.
type notifierBridge struct {
	notifier *workflow.Notifier
}

func (b *notifierBridge) NotifyTaskCompleted(ctx context.Context, url string, event adapters.TaskEvent) {
	if b.notifier == nil {
		return
	}
	b.notifier.NotifyTaskCompleted(ctx, url, workflow.TaskCompletedEvent{
		StepID:          event.StepID,
		PrincipalID:     event.PrincipalID,
		Status:          event.Status,
		Approved:        event.Approved,
		RejectionReason: event.RejectionReason,
		Timestamp:       event.Timestamp,
	})
}

// SavePackageBudget persists a package-budget change made through
// update_media_buy.
func (s *Server) SavePackageBudget(ctx context.Context, mediaBuyID, packageID string, budget float64) error {
	res, err := s.DB.ExecContext(ctx,
		`UPDATE packages SET budget = ? WHERE package_id = ? AND media_buy_id = ?`,
		budget, packageID, mediaBuyID)
	if err != nil {
		s.Logger.Error("persist package budget error", "package_id", packageID, "error", err)
		return fmt.Errorf("failed to persist package budget: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ValidationError{Message: "Package not found", Code: "NOT_FOUND"}
	}
	return nil
}

// GetProducts returns the product catalog.
func (s *Server) GetProducts(ctx context.Context) ([]api.Product, error) {
	principal, _ := auth.GetPrincipalFromContext(ctx)
	if err := auth.CheckOperationPermissions(principal, "get_products"); err != nil {
		return nil, err
	}
	return s.Products, nil
}

// CreateMediaBuy validates the request, persists a provisional record,
// dispatches to the configured adapter, and reconciles the stored record with
// the adapter's outcome.
func (s *Server) CreateMediaBuy(ctx context.Context, params CreateMediaBuyParams) (*api.CreateMediaBuyResult, error) {
	req := params.Request

	principal, _ := auth.GetPrincipalFromContext(ctx)
	if err := auth.CheckOperationPermissions(principal, "create_media_buy"); err != nil {
		return nil, err
	}

	if err := s.ValidateMediaBuyRequest(req); err != nil {
		return nil, err
	}

	start, end, err := s.parseDates(req.StartTime, req.EndTime)
	if err != nil {
		return nil, err
	}

	adapter, err := s.adapterFor(ctx, principal)
	if err != nil {
		return nil, err
	}

	packages, pricing, err := s.buildPackages(ctx, principal, req)
	if err != nil {
		return nil, err
	}

	result, err := adapter.CreateMediaBuy(ctx, req, packages, start, end, pricing)
	if err != nil {
		s.Logger.Error("adapter create_media_buy failed", "adapter", adapter.Name(), "error", err)
		return nil, fmt.Errorf("media buy creation failed: %w", err)
	}
	if result.Error != nil {
		// Structured refusal: nothing to persist.
		return result, nil
	}

	if result.Success.MediaBuyID != api.PendingMediaBuyID {
		if err := s.persistMediaBuy(ctx, principal, adapter.Name(), req, start, end, result.Success, packages, pricing); err != nil {
			return nil, err
		}
	}
	return result, nil
}

// UpdateMediaBuy applies one action from the update vocabulary through the
// adapter.
func (s *Server) UpdateMediaBuy(ctx context.Context, req *api.UpdateMediaBuyRequest) (*api.UpdateMediaBuyResult, error) {
	principal, _ := auth.GetPrincipalFromContext(ctx)
	if err := auth.CheckOperationPermissions(principal, "update_media_buy"); err != nil {
		return nil, err
	}
	if req.MediaBuyID == "" {
		return nil, ValidationError{Message: "media_buy_id is required", Code: "MISSING_REQUIRED_FIELD"}
	}
	if req.Action == "" {
		return nil, ValidationError{Message: "action is required", Code: "MISSING_REQUIRED_FIELD"}
	}
	if req.Today.IsZero() {
		req.Today = time.Now().UTC()
	}

	adapter, err := s.adapterFor(ctx, principal)
	if err != nil {
		return nil, err
	}
	result, err := adapter.UpdateMediaBuy(ctx, req)
	if err != nil {
		s.Logger.Error("adapter update_media_buy failed", "adapter", adapter.Name(), "error", err)
		return nil, fmt.Errorf("media buy update failed: %w", err)
	}

	if result.Success != nil {
		if _, dbErr := s.DB.ExecContext(ctx,
			`UPDATE media_buys SET updated_at = CURRENT_TIMESTAMP WHERE media_buy_id = ?`,
			req.MediaBuyID); dbErr != nil {
			s.Logger.Error("touch media buy error", "media_buy_id", req.MediaBuyID, "error", dbErr)
		}
		for _, pkg := range result.Success.AffectedPackages {
			paused := 0
			if pkg.Paused {
				paused = 1
			}
			if _, dbErr := s.DB.ExecContext(ctx,
				`UPDATE packages SET paused = ? WHERE package_id = ?`, paused, pkg.PackageID); dbErr != nil {
				s.Logger.Error("persist package pause state error", "package_id", pkg.PackageID, "error", dbErr)
			}
		}
	}
	return result, nil
}

// CheckMediaBuyStatus reports the media buy's current lifecycle status.
func (s *Server) CheckMediaBuyStatus(ctx context.Context, mediaBuyID string, today time.Time) (*api.CheckMediaBuyStatusResponse, error) {
	principal, _ := auth.GetPrincipalFromContext(ctx)
	if err := auth.CheckOperationPermissions(principal, "check_media_buy_status"); err != nil {
		return nil, err
	}
	if mediaBuyID == "" {
		return nil, ValidationError{Message: "media_buy_id is required", Code: "MISSING_REQUIRED_FIELD"}
	}
	if today.IsZero() {
		today = time.Now().UTC()
	}

	adapter, err := s.adapterFor(ctx, principal)
	if err != nil {
		return nil, err
	}
	resp, err := adapter.CheckMediaBuyStatus(ctx, mediaBuyID, today)
	if err != nil {
		var nf *adapters.NotFoundError
		if errors.As(err, &nf) {
			return nil, ValidationError{Message: "Media buy not found", Code: "NOT_FOUND"}
		}
		s.Logger.Error("adapter check_media_buy_status failed", "adapter", adapter.Name(), "error", err)
		return nil, fmt.Errorf("status check failed: %w", err)
	}
	if resp.BuyerRef == "" {
		resp.BuyerRef = s.buyerRefForMediaBuy(ctx, mediaBuyID)
	}
	return resp, nil
}

// GetMediaBuyDelivery reports delivered volume for the period.
func (s *Server) GetMediaBuyDelivery(ctx context.Context, mediaBuyID string, dateRange api.DateRange, today time.Time) (*api.MediaBuyDeliveryResponse, error) {
	principal, _ := auth.GetPrincipalFromContext(ctx)
	if err := auth.CheckOperationPermissions(principal, "get_media_buy_delivery"); err != nil {
		return nil, err
	}
	if mediaBuyID == "" {
		return nil, ValidationError{Message: "media_buy_id is required", Code: "MISSING_REQUIRED_FIELD"}
	}
	if dateRange.End.Before(dateRange.Start) {
		return nil, ValidationError{Message: "date range end must be on or after start", Code: "INVALID_DATE_RANGE"}
	}
	if today.IsZero() {
		today = time.Now().UTC()
	}

	adapter, err := s.adapterFor(ctx, principal)
	if err != nil {
		return nil, err
	}
	resp, err := adapter.GetMediaBuyDelivery(ctx, mediaBuyID, dateRange, today)
	if err != nil {
		var nf *adapters.NotFoundError
		if errors.As(err, &nf) {
			return nil, ValidationError{Message: "Media buy not found", Code: "NOT_FOUND"}
		}
		s.Logger.Error("adapter get_media_buy_delivery failed", "adapter", adapter.Name(), "error", err)
		return nil, fmt.Errorf("delivery report failed: %w", err)
	}
	return resp, nil
}

// AddCreativeAssets uploads creatives to a media buy, returning one status
// per asset.
func (s *Server) AddCreativeAssets(ctx context.Context, mediaBuyID string, assets []api.CreativeAsset, today time.Time) ([]api.AssetStatus, error) {
	principal, _ := auth.GetPrincipalFromContext(ctx)
	if err := auth.CheckOperationPermissions(principal, "add_creative_assets"); err != nil {
		return nil, err
	}
	if mediaBuyID == "" {
		return nil, ValidationError{Message: "media_buy_id is required", Code: "MISSING_REQUIRED_FIELD"}
	}
	if len(assets) == 0 {
		return nil, ValidationError{Message: "At least one asset is required", Code: "MISSING_ASSETS"}
	}
	for _, asset := range assets {
		if asset.CreativeID == "" {
			return nil, ValidationError{Message: "Every asset needs a creative_id", Code: "MISSING_REQUIRED_FIELD"}
		}
	}
	if today.IsZero() {
		today = time.Now().UTC()
	}

	adapter, err := s.adapterFor(ctx, principal)
	if err != nil {
		return nil, err
	}
	statuses, err := adapter.AddCreativeAssets(ctx, mediaBuyID, assets, today)
	if err != nil {
		s.Logger.Error("adapter add_creative_assets failed", "adapter", adapter.Name(), "error", err)
		return nil, fmt.Errorf("creative sync failed: %w", err)
	}
	return statuses, nil
}

// AssociateCreatives links already-uploaded creatives to line items.
func (s *Server) AssociateCreatives(ctx context.Context, lineItemIDs, platformCreativeIDs []string) ([]api.CreativeAssociation, error) {
	principal, _ := auth.GetPrincipalFromContext(ctx)
	if err := auth.CheckOperationPermissions(principal, "associate_creatives"); err != nil {
		return nil, err
	}
	if len(lineItemIDs) == 0 || len(platformCreativeIDs) == 0 {
		return nil, ValidationError{Message: "line_item_ids and platform_creative_ids are both required", Code: "MISSING_REQUIRED_FIELD"}
	}

	adapter, err := s.adapterFor(ctx, principal)
	if err != nil {
		return nil, err
	}
	return adapter.AssociateCreatives(ctx, lineItemIDs, platformCreativeIDs)
}

// UpdateMediaBuyPerformanceIndex forwards buyer performance signals to the
// backend's pacing controls.
func (s *Server) UpdateMediaBuyPerformanceIndex(ctx context.Context, mediaBuyID string, perf []api.PackagePerformance) (bool, error) {
	principal, _ := auth.GetPrincipalFromContext(ctx)
	if err := auth.CheckOperationPermissions(principal, "update_media_buy_performance_index"); err != nil {
		return false, err
	}
	if mediaBuyID == "" {
		return false, ValidationError{Message: "media_buy_id is required", Code: "MISSING_REQUIRED_FIELD"}
	}
	for _, p := range perf {
		if p.PerformanceIndex < 0 {
			return false, ValidationError{Message: "performance_index must be non-negative", Code: "INVALID_PERFORMANCE_INDEX"}
		}
	}

	adapter, err := s.adapterFor(ctx, principal)
	if err != nil {
		return false, err
	}
	return adapter.UpdateMediaBuyPerformanceIndex(ctx, mediaBuyID, perf)
}

// Helper methods

// ValidateMediaBuyRequest validates a media buy request without creating it (used for dry-run)
func (s *Server) ValidateMediaBuyRequest(req *api.CreateMediaBuyRequest) error {
	if req.BrandManifest.URL == "" {
		return ValidationError{Message: "brand_manifest.url is required", Code: "MISSING_REQUIRED_FIELD"}
	}
	if _, err := url.ParseRequestURI(req.BrandManifest.URL); err != nil {
		return ValidationError{Message: "brand_manifest.url must be a valid absolute URL", Code: "INVALID_URL"}
	}
	if len(req.Packages) == 0 {
		return ValidationError{Message: "At least one package is required", Code: "MISSING_PACKAGES"}
	}

	// Validate each package
	for _, pkg := range req.Packages {
		if err := s.validatePackage(&pkg); err != nil {
			return err
		}
	}

	return nil
}

func (s *Server) validatePackage(pkg *api.MediaBuyPackageReq) error {
	if pkg.Budget <= 0 && pkg.Impressions <= 0 {
		return ValidationError{Message: "Each package needs a positive budget or impression goal", Code: "INVALID_BUDGET"}
	}

	// Validate pacing
	validPacing := map[string]bool{"even": true, "asap": true, "frontloaded": true}
	if pkg.Pacing != "" && !validPacing[pkg.Pacing] {
		return ValidationError{Message: "Invalid pacing value: " + pkg.Pacing, Code: "INVALID_PACING"}
	}

	prod := s.productByID(pkg.ProductID)
	if prod == nil {
		return ValidationError{Message: "invalid product_id: " + pkg.ProductID, Code: "INVALID_PRODUCT_ID"}
	}

	// Check pricing option
	option := pricingOptionByID(prod, pkg.PricingOptionID)
	if option == nil {
		return ValidationError{Message: "invalid pricing_option_id: " + pkg.PricingOptionID, Code: "INVALID_PRICING_OPTION_ID"}
	}
	if option.IsFixed && pkg.BidPrice != nil {
		return ValidationError{Message: "bid_price is not allowed on a fixed-rate pricing option", Code: "INVALID_BID_PRICE"}
	}

	// Check format IDs
	allowedFormats := make(map[string]struct{})
	for _, sf := range prod.SupportedFormats {
		key := sf.FormatID.AgentURL + "|" + sf.FormatID.ID
		allowedFormats[key] = struct{}{}
	}
	for _, fid := range pkg.FormatIDs {
		key := fid.AgentURL + "|" + fid.ID
		if _, ok := allowedFormats[key]; !ok {
			return ValidationError{Message: "unsupported format_id: " + fid.ID, Code: "INVALID_FORMAT_ID"}
		}
	}

	return nil
}

func (s *Server) productByID(productID string) *api.Product {
	for i := range s.Products {
		if s.Products[i].ProductID == productID {
			return &s.Products[i]
		}
	}
	return nil
}

func pricingOptionByID(prod *api.Product, optionID string) *api.PricingOption {
	for i := range prod.PricingOptions {
		if prod.PricingOptions[i].PricingOptionID == optionID {
			return &prod.PricingOptions[i]
		}
	}
	return nil
}

func (s *Server) parseDates(startTime, endTime string) (time.Time, time.Time, error) {
	var zero time.Time

	if startTime == "" || endTime == "" {
		return zero, zero, ValidationError{Message: "start_time and end_time are required", Code: "MISSING_REQUIRED_FIELD"}
	}

	start, err := time.Parse(time.RFC3339, startTime)
	if err != nil {
		return zero, zero, ValidationError{Message: "Invalid start_time format (use RFC3339)", Code: "INVALID_DATE_FORMAT"}
	}
	if start.Before(time.Now().UTC().Add(-15 * time.Minute)) {
		return zero, zero, ValidationError{Message: "start_time cannot be in the past", Code: "INVALID_START_TIME"}
	}

	end, err := time.Parse(time.RFC3339, endTime)
	if err != nil {
		return zero, zero, ValidationError{Message: "Invalid end_time format (use RFC3339)", Code: "INVALID_DATE_FORMAT"}
	}
	if end.Before(start) {
		return zero, zero, ValidationError{Message: "end_time must be on or after start_time", Code: "INVALID_DATE_RANGE"}
	}

	return start.UTC(), end.UTC(), nil
}

// buildPackages converts validated request packages into the adapter-facing
// package list plus per-package pricing, minting durable package IDs from the
// packages table.
func (s *Server) buildPackages(ctx context.Context, principal *auth.Principal, req *api.CreateMediaBuyRequest) ([]api.MediaPackage, map[string]api.PackagePricingInfo, error) {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		s.Logger.Error("DB BeginTx error", "error", err)
		return nil, nil, fmt.Errorf("database transaction error: %w", err)
	}
	defer func() {
		if rollbackErr := tx.Rollback(); rollbackErr != nil && !errors.Is(rollbackErr, sql.ErrTxDone) {
			s.Logger.Error("transaction rollback failed", "error", rollbackErr)
		}
	}()

	packages := make([]api.MediaPackage, 0, len(req.Packages))
	pricing := make(map[string]api.PackagePricingInfo, len(req.Packages))

	for _, pkg := range req.Packages {
		prod := s.productByID(pkg.ProductID)
		option := pricingOptionByID(prod, pkg.PricingOptionID)

		formatIDsJSON, err := json.Marshal(pkg.FormatIDs)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to marshal format IDs: %w", err)
		}

		packageID := "pkg_" + strings.Split(uuid.NewString(), "-")[0]
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO packages (package_id, media_buy_id, buyer_ref, product_id, pricing_option_id, format_ids_json, budget, impressions)
			 VALUES (?, '', ?, ?, ?, ?, ?, ?)`,
			packageID, pkg.BuyerRef, pkg.ProductID, pkg.PricingOptionID, string(formatIDsJSON), pkg.Budget, pkg.Impressions); err != nil {
			s.Logger.Error("insert package error", "error", err)
			return nil, nil, fmt.Errorf("failed to create package: %w", err)
		}

		info := api.PackagePricingInfo{
			PricingModel: option.PricingModel,
			Rate:         option.Rate,
			Currency:     option.Currency,
			IsFixed:      option.IsFixed,
			BidPrice:     pkg.BidPrice,
		}
		pricing[packageID] = info

		impressions := pkg.Impressions
		rate := adapters.EffectiveRate(api.MediaPackage{CPM: option.Rate}, &info)
		if impressions == 0 && pkg.Budget > 0 && rate > 0 {
			impressions = int64(pkg.Budget / rate * 1000)
		}

		mp := api.MediaPackage{
			PackageID:        packageID,
			Name:             prod.Name,
			DeliveryType:     prod.DeliveryType,
			CPM:              option.Rate,
			Impressions:      impressions,
			FormatIDs:        pkg.FormatIDs,
			TargetingOverlay: pkg.Targeting,
			BuyerRef:         pkg.BuyerRef,
			ProductID:        pkg.ProductID,
		}
		if pkg.Budget > 0 {
			budget := pkg.Budget
			mp.Budget = &budget
		}
		packages = append(packages, mp)
	}

	if err := tx.Commit(); err != nil {
		s.Logger.Error("transaction commit failed", "error", err)
		return nil, nil, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return packages, pricing, nil
}

// persistMediaBuy records the created media buy and back-fills its packages
// with the final media_buy_id.
func (s *Server) persistMediaBuy(ctx context.Context, principal *auth.Principal, adapterName string,
	req *api.CreateMediaBuyRequest, start, end time.Time,
	success *api.CreateMediaBuySuccess, packages []api.MediaPackage, pricing map[string]api.PackagePricingInfo) error {

	recordJSON, err := json.Marshal(success)
	if err != nil {
		return fmt.Errorf("failed to marshal media buy record: %w", err)
	}

	principalID := ""
	if principal != nil {
		principalID = principal.PrincipalID
	}
	currency := adapters.DefaultCurrency
	if len(packages) > 0 {
		if info, ok := pricing[packages[0].PackageID]; ok {
			currency = adapters.PricingCurrency(&info)
		}
	}

	_, err = s.DB.ExecContext(ctx,
		`INSERT INTO media_buys (media_buy_id, buyer_ref, principal_id, adapter, brand_url, start_time, end_time, total_budget, currency, record_json)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		success.MediaBuyID, req.BuyerRef, principalID, adapterName, req.BrandManifest.URL,
		start.Format(time.RFC3339), end.Format(time.RFC3339),
		adapters.TotalBudget(packages, pricing), currency, string(recordJSON))
	if err != nil {
		s.Logger.Error("insert media_buys error", "error", err)
		return fmt.Errorf("failed to store media buy: %w", err)
	}

	for _, pkg := range packages {
		if _, err := s.DB.ExecContext(ctx,
			`UPDATE packages SET media_buy_id = ? WHERE package_id = ?`,
			success.MediaBuyID, pkg.PackageID); err != nil {
			s.Logger.Error("link package error", "package_id", pkg.PackageID, "error", err)
			return fmt.Errorf("failed to link package: %w", err)
		}
	}
	return nil
}

func (s *Server) buyerRefForMediaBuy(ctx context.Context, mediaBuyID string) string {
	var buyerRef sql.NullString
	err := s.DB.QueryRowContext(ctx,
		`SELECT buyer_ref FROM media_buys WHERE media_buy_id = ?`, mediaBuyID).Scan(&buyerRef)
	if err != nil {
		return ""
	}
	return buyerRef.String
}
