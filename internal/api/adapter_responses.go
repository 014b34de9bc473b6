package api

import "time"

// Error codes shared by every adapter. Backend failures are converted into
// one of these structured codes at the call site; raw errors never cross the
// adapter boundary for expected failure modes.
const (
	ErrCodeUnsupportedTargeting = "unsupported_targeting"
	ErrCodeUnsupportedAction    = "unsupported_action"
	ErrCodeFlightNotFound       = "flight_not_found"
	ErrCodeAPIError             = "api_error"
)

// Per-asset creative outcomes. These are itemized statuses, not errors:
// content-level rejection of one asset never aborts the batch.
const (
	AssetApproved = "approved"
	AssetRejected = "rejected"
	AssetPending  = "pending"
	AssetFailed   = "failed"
)

// PendingMediaBuyID is the sentinel identifier returned when an operation
// has been parked behind a pending workflow step (async HITL or manual
// approval) instead of producing a final backend ID.
const PendingMediaBuyID = "pending"

// PackageResult is the normalized per-package entry every adapter emits for
// a successful mutating call. PackageID is always the buyer-context package
// ID from the input MediaPackage; the backend-native identifier rides along
// only as internal tracking data.
type PackageResult struct {
	PackageID string `json:"package_id"`
	BuyerRef  string `json:"buyer_ref,omitempty"`
	Paused    bool   `json:"paused"`

	// PlatformID is the backend-native campaign/flight/line-item ID,
	// never substituted for PackageID.
	PlatformID string `json:"-"`
}

// MediaBuyError is the structured error half of the create/update oneOf
// responses.
type MediaBuyError struct {
	Code     string `json:"code"`
	Message  string `json:"message"`
	BuyerRef string `json:"buyer_ref,omitempty"`
}

func (e *MediaBuyError) Error() string { return e.Code + ": " + e.Message }

// CreateMediaBuySuccess carries the result of a successful create. BuyerRef
// always echoes the request (falling back to "unknown") and Packages holds
// exactly one entry per input package, in input order.
type CreateMediaBuySuccess struct {
	MediaBuyID       string          `json:"media_buy_id"`
	BuyerRef         string          `json:"buyer_ref"`
	Packages         []PackageResult `json:"packages"`
	CreativeDeadline *time.Time      `json:"creative_deadline,omitempty"`
	Detail           string          `json:"detail,omitempty"`
}

// CreateMediaBuyResult is the oneOf of success and structured error.
type CreateMediaBuyResult struct {
	Success *CreateMediaBuySuccess `json:"success,omitempty"`
	Error   *MediaBuyError         `json:"error,omitempty"`
}

func CreateError(code, message, buyerRef string) *CreateMediaBuyResult {
	return &CreateMediaBuyResult{Error: &MediaBuyError{Code: code, Message: message, BuyerRef: buyerRef}}
}

// Update outcome vocabulary: applied immediately, or parked behind a
// pending approval step with no backend mutation.
const (
	UpdateAccepted        = "accepted"
	UpdatePendingApproval = "pending_approval"
)

// UpdateMediaBuySuccess carries the result of a successful update, including
// the packages whose delivery state the action changed.
type UpdateMediaBuySuccess struct {
	MediaBuyID         string          `json:"media_buy_id"`
	BuyerRef           string          `json:"buyer_ref"`
	Status             string          `json:"status"`
	ImplementationDate *time.Time      `json:"implementation_date,omitempty"`
	AffectedPackages   []PackageResult `json:"affected_packages,omitempty"`
	Detail             string          `json:"detail,omitempty"`
}

// UpdateMediaBuyResult is the oneOf of success and structured error.
type UpdateMediaBuyResult struct {
	Success *UpdateMediaBuySuccess `json:"success,omitempty"`
	Error   *MediaBuyError         `json:"error,omitempty"`
}

func UpdateError(code, message, buyerRef string) *UpdateMediaBuyResult {
	return &UpdateMediaBuyResult{Error: &MediaBuyError{Code: code, Message: message, BuyerRef: buyerRef}}
}

// AssetStatus reports the independent outcome of syncing one creative asset.
type AssetStatus struct {
	CreativeID string `json:"creative_id"`
	Status     string `json:"status"` // approved|rejected|pending|failed
	PlatformID string `json:"platform_id,omitempty"`
	Message    string `json:"message,omitempty"`
}

// CreativeAssociation reports the outcome of associating one already-uploaded
// creative with one line item. Backends where association happened during
// upload report status "skipped" with an explanatory message.
type CreativeAssociation struct {
	LineItemID string `json:"line_item_id"`
	CreativeID string `json:"creative_id"`
	Status     string `json:"status"` // associated|skipped|pending|failed
	Message    string `json:"message,omitempty"`
}

// Media buy status vocabulary. The date-derived trio is shared by all
// adapters; GAM-like backends report the richer state set.
const (
	StatusPendingStart    = "pending_start"
	StatusDelivering      = "delivering"
	StatusCompleted       = "completed"
	StatusPendingCreative = "pending_creative"
	StatusActive          = "active"
	StatusPaused          = "paused"
	StatusFailed          = "failed"
)

type CheckMediaBuyStatusResponse struct {
	MediaBuyID string `json:"media_buy_id"`
	BuyerRef   string `json:"buyer_ref,omitempty"`
	Status     string `json:"status"`
}

// DeliveryTotals aggregates delivered volume over the reporting period.
type DeliveryTotals struct {
	Impressions      int64   `json:"impressions"`
	Spend            float64 `json:"spend"`
	Clicks           int64   `json:"clicks"`
	CTR              float64 `json:"ctr"`
	VideoCompletions int64   `json:"video_completions"`
	CompletionRate   float64 `json:"completion_rate"`
}

type PackageDelivery struct {
	PackageID   string  `json:"package_id"`
	Impressions int64   `json:"impressions"`
	Spend       float64 `json:"spend"`
}

type DailyDelivery struct {
	Date        string  `json:"date"`
	Impressions int64   `json:"impressions"`
	Spend       float64 `json:"spend"`
}

// MediaBuyDeliveryResponse is the normalized delivery report. When the
// reporting backend is unreachable within the retry budget the adapter
// degrades to zeroed totals plus Error rather than failing the call.
//
// PartialData and ReportingDelayed are forward-compatible optional fields;
// no current adapter sets them.
type MediaBuyDeliveryResponse struct {
	MediaBuyID       string            `json:"media_buy_id"`
	ReportingPeriod  DateRange         `json:"reporting_period"`
	Currency         string            `json:"currency"`
	Totals           DeliveryTotals    `json:"totals"`
	ByPackage        []PackageDelivery `json:"by_package,omitempty"`
	DailyBreakdown   []DailyDelivery   `json:"daily_breakdown,omitempty"`
	PartialData      *bool             `json:"partial_data,omitempty"`
	ReportingDelayed *bool             `json:"reporting_delayed,omitempty"`
	Error            string            `json:"error,omitempty"`
}

// UpdateMediaBuyRequest is the adapter-facing update call. Action must be
// one of the fixed vocabulary; adapters return an unsupported_action error
// for anything outside their supported subset.
type UpdateMediaBuyRequest struct {
	MediaBuyID  string    `json:"media_buy_id"`
	BuyerRef    string    `json:"buyer_ref"`
	Action      string    `json:"action"`
	PackageID   string    `json:"package_id,omitempty"`
	Budget      *float64  `json:"budget,omitempty"`
	Impressions *int64    `json:"impressions,omitempty"`
	Today       time.Time `json:"today,omitempty"`
}

// Update action vocabulary. The first six are adapter-independent; the
// order-lifecycle actions are GAM-only.
const (
	ActionPauseMediaBuy            = "pause_media_buy"
	ActionResumeMediaBuy           = "resume_media_buy"
	ActionPausePackage             = "pause_package"
	ActionResumePackage            = "resume_package"
	ActionUpdatePackageBudget      = "update_package_budget"
	ActionUpdatePackageImpressions = "update_package_impressions"
	ActionActivateOrder            = "activate_order"
	ActionSubmitForApproval        = "submit_for_approval"
	ActionApproveOrder             = "approve_order"
	ActionArchiveOrder             = "archive_order"
)
