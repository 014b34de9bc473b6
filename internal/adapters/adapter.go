package adapters

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/admesh/adcp-sales-agent/internal/api"
	"github.com/admesh/adcp-sales-agent/internal/auth"
)

// Operation names used for audit entries and manual-approval gating.
const (
	OpCreateMediaBuy     = "create_media_buy"
	OpUpdateMediaBuy     = "update_media_buy"
	OpAddCreativeAssets  = "add_creative_assets"
	OpAssociateCreatives = "associate_creatives"
)

// Adapter is the operation contract every backend implements. Callers stay
// backend-agnostic: whatever the platform's idiosyncrasies, each adapter
// emits the same response shapes, echoes buyer_ref, and never lets a raw
// backend failure cross this boundary for an expected failure mode.
type Adapter interface {
	// Name returns the adapter's registry key (e.g. "kevel").
	Name() string

	// CreateMediaBuy creates one campaign with one backend flight/line item
	// per package, in input order. Unsupported targeting yields a structured
	// error enumerating every offending feature, with no backend mutation.
	CreateMediaBuy(ctx context.Context, req *api.CreateMediaBuyRequest, packages []api.MediaPackage,
		start, end time.Time, pricing map[string]api.PackagePricingInfo) (*api.CreateMediaBuyResult, error)

	// AddCreativeAssets processes creatives one by one; partial failure is
	// itemized per asset, never an all-or-nothing error.
	AddCreativeAssets(ctx context.Context, mediaBuyID string, assets []api.CreativeAsset, today time.Time) ([]api.AssetStatus, error)

	// AssociateCreatives links already-uploaded creatives to line items.
	// Backends that associate during upload report status "skipped".
	AssociateCreatives(ctx context.Context, lineItemIDs, platformCreativeIDs []string) ([]api.CreativeAssociation, error)

	// CheckMediaBuyStatus derives status from the flight window versus today.
	CheckMediaBuyStatus(ctx context.Context, mediaBuyID string, today time.Time) (*api.CheckMediaBuyStatusResponse, error)

	// GetMediaBuyDelivery reports aggregate delivery, degrading to zeroed
	// totals plus an explicit error when reporting is unreachable.
	GetMediaBuyDelivery(ctx context.Context, mediaBuyID string, dateRange api.DateRange, today time.Time) (*api.MediaBuyDeliveryResponse, error)

	// UpdateMediaBuyPerformanceIndex informs backend pacing. Backends with
	// no real priority lever log intent and return true.
	UpdateMediaBuyPerformanceIndex(ctx context.Context, mediaBuyID string, perf []api.PackagePerformance) (bool, error)

	// UpdateMediaBuy applies one action from the fixed vocabulary; an action
	// outside the adapter's subset returns an unsupported_action error.
	UpdateMediaBuy(ctx context.Context, req *api.UpdateMediaBuyRequest) (*api.UpdateMediaBuyResult, error)
}

// InventoryLister is an optional capability for backends that can enumerate
// available inventory for product configuration.
type InventoryLister interface {
	GetAvailableInventory(ctx context.Context) (map[string]any, error)
}

// ProductConfigValidator is an optional capability for backends that can
// check a product's implementation config against live platform state.
type ProductConfigValidator interface {
	ValidateProductConfig(ctx context.Context, config map[string]any) error
}

// WorkflowStore is the collaborator adapters use to park pending
// human-approval work. Implemented by workflow.Store; stubbed in tests.
type WorkflowStore interface {
	CreateContext(ctx context.Context, tenantID, principalID string) (string, error)
	CreateStep(ctx context.Context, contextID, stepType, toolName string, requestData []byte, status, owner string) (string, error)
	UpdateStep(ctx context.Context, stepID, status string, responseData []byte, errorMessage string) error
}

// WebhookNotifier is the collaborator used for async auto-completion
// notifications.
type WebhookNotifier interface {
	NotifyTaskCompleted(ctx context.Context, url string, event TaskEvent)
}

// TaskEvent mirrors the webhook payload emitted on async completion.
type TaskEvent struct {
	StepID          string
	PrincipalID     string
	Status          string
	Approved        bool
	RejectionReason *string
	Timestamp       time.Time
}

// Config is the construction-time adapter configuration, decoded from the
// tenant's adapter config JSON.
type Config struct {
	ManualApprovalRequired   bool     `json:"manual_approval_required"`
	ManualApprovalOperations []string `json:"manual_approval_operations"`

	// Kevel
	NetworkID               string `json:"network_id,omitempty"`
	APIKey                  string `json:"api_key,omitempty"`
	UserDBEnabled           bool   `json:"userdb_enabled,omitempty"`
	FrequencyCappingEnabled bool   `json:"frequency_capping_enabled,omitempty"`

	// Triton
	AuthToken string `json:"auth_token,omitempty"`

	// Shared backend base URL override
	BaseURL string `json:"base_url,omitempty"`

	// Mock
	HITL *HITLConfig `json:"hitl_config,omitempty"`
}

// defaultManualApprovalOps gates the core mutating operations when
// manual_approval_operations is not configured explicitly.
var defaultManualApprovalOps = []string{OpCreateMediaBuy, OpUpdateMediaBuy, OpAddCreativeAssets, OpAssociateCreatives}

// BudgetPersister persists a package-budget change through the surrounding
// system's record store. Only the mock adapter's update path uses it.
type BudgetPersister interface {
	SavePackageBudget(ctx context.Context, mediaBuyID, packageID string, budget float64) error
}

// Deps bundles the external collaborators every adapter shares, plus the
// mock adapter's simulation store.
type Deps struct {
	Logger   *slog.Logger
	Audit    AuditSink
	Workflow WorkflowStore
	Webhooks WebhookNotifier
	TenantID string
	DryRun   bool

	// MockStore carries mock media buys across requests. When nil the mock
	// adapter constructs a private store, which is what tests want.
	MockStore *MediaBuyStore
	Budgets   BudgetPersister
}

// base carries the cross-cutting state shared by all adapter
// implementations: principal identity, dry-run flag, audit sink, and the
// manual-approval gate.
type base struct {
	name       string
	principal  *auth.Principal
	logger     *slog.Logger
	audit      AuditSink
	workflow   WorkflowStore
	webhooks   WebhookNotifier
	tenantID   string
	dryRun     bool
	approvalOp map[string]bool
}

func newBase(name string, cfg Config, principal *auth.Principal, deps Deps) base {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	audit := deps.Audit
	if audit == nil {
		audit = NewSlogAudit(logger)
	}

	approvalOp := make(map[string]bool)
	if cfg.ManualApprovalRequired {
		ops := cfg.ManualApprovalOperations
		if len(ops) == 0 {
			ops = defaultManualApprovalOps
		}
		for _, op := range ops {
			approvalOp[op] = true
		}
	}

	return base{
		name:       name,
		principal:  principal,
		logger:     logger.With("adapter", name),
		audit:      audit,
		workflow:   deps.Workflow,
		webhooks:   deps.Webhooks,
		tenantID:   deps.TenantID,
		dryRun:     deps.DryRun,
		approvalOp: approvalOp,
	}
}

func (b *base) Name() string { return b.name }

func (b *base) requiresManualApproval(operation string) bool {
	return b.approvalOp[operation]
}

// logDryRun emits the human-readable trace of what would be sent when no
// backend mutation is allowed.
func (b *base) logDryRun(msg string, args ...any) {
	b.logger.Info("(dry-run) "+msg, args...)
}

func (b *base) auditOperation(operation string, success bool, details map[string]any) {
	name, id := "", ""
	if b.principal != nil {
		name, id = b.principal.Name, b.principal.PrincipalID
	}
	b.audit.LogOperation(operation, name, id, b.name, success, details)
}

// createPendingStep parks an operation behind a durable workflow step and
// returns the step ID. Manual approval and async HITL share this mechanism;
// only the trigger condition differs.
func (b *base) createPendingStep(ctx context.Context, operation string, requestData []byte) (string, error) {
	if b.workflow == nil {
		return "", fmt.Errorf("no workflow store configured for pending %s", operation)
	}
	principalID := ""
	if b.principal != nil {
		principalID = b.principal.PrincipalID
	}
	contextID, err := b.workflow.CreateContext(ctx, b.tenantID, principalID)
	if err != nil {
		return "", err
	}
	return b.workflow.CreateStep(ctx, contextID, "approval", operation, requestData, "pending", "publisher")
}

// pendingUpdate parks an update behind a durable approval step and returns
// the pending-shaped result. The backend is not touched.
func (b *base) pendingUpdate(ctx context.Context, req *api.UpdateMediaBuyRequest) (*api.UpdateMediaBuyResult, string, error) {
	stepID, err := b.createPendingStep(ctx, OpUpdateMediaBuy, mustJSON(req))
	if err != nil {
		return nil, "", fmt.Errorf("failed to record pending step: %w", err)
	}
	b.auditOperation(OpUpdateMediaBuy, true, map[string]any{
		"media_buy_id": req.MediaBuyID, "action": req.Action, "step_id": stepID, "pending": true,
	})
	return &api.UpdateMediaBuyResult{Success: &api.UpdateMediaBuySuccess{
		MediaBuyID: req.MediaBuyID,
		BuyerRef:   buyerRefOrUnknown(req.BuyerRef),
		Status:     api.UpdatePendingApproval,
		Detail:     "awaiting approval (step " + stepID + ")",
	}}, stepID, nil
}

// pendingAssets parks a creative batch behind a durable approval step and
// reports every asset as pending.
func (b *base) pendingAssets(ctx context.Context, mediaBuyID string, assets []api.CreativeAsset) ([]api.AssetStatus, string, error) {
	stepID, err := b.createPendingStep(ctx, OpAddCreativeAssets, mustJSON(map[string]any{
		"media_buy_id": mediaBuyID,
		"assets":       assets,
	}))
	if err != nil {
		return nil, "", fmt.Errorf("failed to record pending step: %w", err)
	}
	statuses := make([]api.AssetStatus, 0, len(assets))
	for _, asset := range assets {
		statuses = append(statuses, api.AssetStatus{
			CreativeID: asset.CreativeID,
			Status:     api.AssetPending,
			Message:    "awaiting approval (step " + stepID + ")",
		})
	}
	b.auditOperation(OpAddCreativeAssets, true, map[string]any{"media_buy_id": mediaBuyID, "step_id": stepID, "pending": true})
	return statuses, stepID, nil
}

// pendingAssociations parks an association batch behind a durable approval
// step and reports every pair as pending.
func (b *base) pendingAssociations(ctx context.Context, lineItemIDs, platformCreativeIDs []string) ([]api.CreativeAssociation, string, error) {
	stepID, err := b.createPendingStep(ctx, OpAssociateCreatives, mustJSON(map[string]any{
		"line_item_ids":         lineItemIDs,
		"platform_creative_ids": platformCreativeIDs,
	}))
	if err != nil {
		return nil, "", fmt.Errorf("failed to record pending step: %w", err)
	}
	results := make([]api.CreativeAssociation, 0, len(lineItemIDs)*len(platformCreativeIDs))
	for _, li := range lineItemIDs {
		for _, cr := range platformCreativeIDs {
			results = append(results, api.CreativeAssociation{
				LineItemID: li,
				CreativeID: cr,
				Status:     "pending",
				Message:    "awaiting approval (step " + stepID + ")",
			})
		}
	}
	b.auditOperation(OpAssociateCreatives, true, map[string]any{"associations": len(results), "step_id": stepID, "pending": true})
	return results, stepID, nil
}

// validateFlightWindow enforces the shared time-window contract: end after
// start, end in the future, compared on a single timezone.
func validateFlightWindow(start, end, now time.Time) error {
	start, end, now = start.UTC(), end.UTC(), now.UTC()
	if !end.After(start) {
		return fmt.Errorf("end_time must be after start_time")
	}
	if !end.After(now) {
		return fmt.Errorf("end_time must be in the future")
	}
	return nil
}

// buyerRefOrUnknown applies the buyer_ref echo contract's fallback.
func buyerRefOrUnknown(buyerRef string) string {
	if buyerRef == "" {
		return "unknown"
	}
	return buyerRef
}

// packageResults normalizes backend creation output back onto the input
// package list. Pairing is positional: platformIDs[i] (when available)
// becomes internal tracking data for packages[i], and the exposed
// package_id is always the buyer-context one. Dry-run passes nil
// platformIDs and pairs against the inputs directly.
func packageResults(packages []api.MediaPackage, platformIDs []string) []api.PackageResult {
	results := make([]api.PackageResult, 0, len(packages))
	for i, pkg := range packages {
		r := api.PackageResult{
			PackageID: pkg.PackageID,
			BuyerRef:  pkg.BuyerRef,
			Paused:    false,
		}
		if i < len(platformIDs) {
			r.PlatformID = platformIDs[i]
		}
		results = append(results, r)
	}
	return results
}

// unsupportedTargetingResult builds the atomic refusal for a create call:
// every offending feature is enumerated, and the caller is guaranteed no
// backend mutation happened.
func unsupportedTargetingResult(buyerRef string, problems []string) *api.CreateMediaBuyResult {
	msg := "targeting includes dimensions this platform cannot fulfill: " + strings.Join(problems, "; ")
	return api.CreateError(api.ErrCodeUnsupportedTargeting, msg, buyerRefOrUnknown(buyerRef))
}

// collectTargetingProblems runs a validator across every package overlay,
// prefixing each problem with its package for an actionable message.
func collectTargetingProblems(packages []api.MediaPackage, validate func(*api.Targeting) []string) []string {
	var problems []string
	for _, pkg := range packages {
		if pkg.TargetingOverlay == nil {
			continue
		}
		for _, p := range validate(pkg.TargetingOverlay) {
			problems = append(problems, fmt.Sprintf("package %s: %s", pkg.PackageID, p))
		}
	}
	return problems
}

// dateDerivedStatus implements the shared status derivation from the stored
// flight window. Inputs are normalized to UTC so timezone-naive and
// timezone-aware values compare consistently.
func dateDerivedStatus(start, end, today time.Time) string {
	start, end, today = start.UTC(), end.UTC(), today.UTC()
	switch {
	case today.Before(start):
		return api.StatusPendingStart
	case today.After(end):
		return api.StatusCompleted
	default:
		return api.StatusDelivering
	}
}
