package adapters

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/admesh/adcp-sales-agent/internal/api"
	"github.com/admesh/adcp-sales-agent/internal/auth"
	"github.com/google/uuid"
)

const xandrDefaultBaseURL = "https://api.appnexus.com"

// XandrAdapter drives Xandr (AppNexus): one insertion order per media buy,
// one line item per package. The reporting and update integrations are not
// wired to the current console API version; those operations return a
// structured api_error instead of attempting a call.
type XandrAdapter struct {
	base
	advertiserID string
	baseURL      string
	client       *backendClient
	now          func() time.Time
}

func NewXandrAdapter(cfg Config, principal *auth.Principal, deps Deps) (*XandrAdapter, error) {
	if cfg.AuthToken == "" {
		return nil, fmt.Errorf("xandr adapter requires auth_token")
	}

	advertiserID := ""
	if mapping, ok := principal.MappingFor("xandr"); ok {
		advertiserID = mapping["advertiser_id"]
	}
	if advertiserID == "" {
		return nil, fmt.Errorf("principal %s has no xandr advertiser mapping", principal.PrincipalID)
	}

	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = xandrDefaultBaseURL
	}

	b := newBase("xandr", cfg, principal, deps)
	return &XandrAdapter{
		base:         b,
		advertiserID: advertiserID,
		baseURL:      baseURL,
		client:       newBackendClient(b.logger, map[string]string{"Authorization": cfg.AuthToken}),
		now:          time.Now,
	}, nil
}

func (x *XandrAdapter) validateTargeting(tg *api.Targeting) []string {
	var problems []string
	for _, media := range append(append([]string{}, tg.MediaTypeAnyOf...), tg.MediaTypeNoneOf...) {
		switch strings.ToLower(media) {
		case "display", "video", "native":
		default:
			problems = append(problems, fmt.Sprintf("media type %q is not supported (supported: display, video, native)", media))
		}
	}
	if tg.FrequencyCap != nil && tg.FrequencyCap.Scope == "media_buy" {
		problems = append(problems, "frequency capping at media buy scope is not supported (package scope only)")
	}
	return problems
}

func (x *XandrAdapter) buildTargeting(tg *api.Targeting) map[string]any {
	if tg == nil {
		return map[string]any{}
	}
	payload := make(map[string]any)
	if len(tg.GeoCountryAnyOf) > 0 {
		payload["country_targets"] = tg.GeoCountryAnyOf
	}
	if len(tg.GeoRegionAnyOf) > 0 {
		payload["region_targets"] = tg.GeoRegionAnyOf
	}
	if len(tg.DeviceTypeAnyOf) > 0 {
		payload["device_type_targets"] = tg.DeviceTypeAnyOf
	}
	if len(tg.AudiencesAnyOf) > 0 {
		payload["segment_targets"] = tg.AudiencesAnyOf
	}
	if len(tg.ContentCatNoneOf) > 0 {
		payload["content_category_exclusions"] = tg.ContentCatNoneOf
	}
	if tg.FrequencyCap != nil {
		payload["frequency_cap_minutes"] = tg.FrequencyCap.SuppressMinutes
	}
	if custom := tg.CustomFor("xandr"); custom != nil {
		for k, v := range custom {
			payload[k] = v
		}
	}
	return payload
}

func (x *XandrAdapter) CreateMediaBuy(ctx context.Context, req *api.CreateMediaBuyRequest, packages []api.MediaPackage,
	start, end time.Time, pricing map[string]api.PackagePricingInfo) (*api.CreateMediaBuyResult, error) {

	buyerRef := buyerRefOrUnknown(req.BuyerRef)

	if err := validateFlightWindow(start, end, x.now()); err != nil {
		x.auditOperation(OpCreateMediaBuy, false, map[string]any{"error": err.Error()})
		return api.CreateError(api.ErrCodeAPIError, err.Error(), buyerRef), nil
	}

	if problems := collectTargetingProblems(packages, x.validateTargeting); len(problems) > 0 {
		x.auditOperation(OpCreateMediaBuy, false, map[string]any{"unsupported": strings.Join(problems, "; ")})
		return unsupportedTargetingResult(req.BuyerRef, problems), nil
	}

	if x.requiresManualApproval(OpCreateMediaBuy) {
		stepID, err := x.createPendingStep(ctx, OpCreateMediaBuy, mustJSON(req))
		if err != nil {
			return nil, fmt.Errorf("failed to record pending step: %w", err)
		}
		x.auditOperation(OpCreateMediaBuy, true, map[string]any{"step_id": stepID, "pending": true})
		return &api.CreateMediaBuyResult{Success: &api.CreateMediaBuySuccess{
			MediaBuyID: api.PendingMediaBuyID,
			BuyerRef:   buyerRef,
			Packages:   []api.PackageResult{},
			Detail:     "manual approval required",
		}}, nil
	}

	insertionOrder := map[string]any{
		"advertiser_id": x.advertiserID,
		"name":          req.BrandManifest.Name,
		"start_date":    start.UTC().Format(time.RFC3339),
		"end_date":      end.UTC().Format(time.RFC3339),
		"budget":        TotalBudget(packages, pricing),
	}

	var orderID string
	if x.dryRun {
		orderID = "dry_io_" + strings.Split(uuid.NewString(), "-")[0]
		x.logDryRun("would POST /insertion-order", "payload", insertionOrder, "insertion_order_id", orderID)
	} else {
		var created struct {
			ID string `json:"id"`
		}
		url := fmt.Sprintf("%s/insertion-order?advertiser_id=%s", x.baseURL, x.advertiserID)
		if err := x.client.doJSON(ctx, http.MethodPost, url, insertionOrder, &created); err != nil {
			x.auditOperation(OpCreateMediaBuy, false, map[string]any{"error": err.Error()})
			return api.CreateError(api.ErrCodeAPIError, err.Error(), buyerRef), nil
		}
		orderID = created.ID
	}

	lineItemIDs := make([]string, 0, len(packages))
	for _, pkg := range packages {
		var info *api.PackagePricingInfo
		if p, ok := pricing[pkg.PackageID]; ok {
			info = &p
		}
		lineItem := map[string]any{
			"insertion_order_id": orderID,
			"name":               pkg.Name,
			"code":               pkg.PackageID,
			"revenue_value":      EffectiveRate(pkg, info),
			"lifetime_budget":    PackageBudget(pkg, info),
			"profile":            x.buildTargeting(pkg.TargetingOverlay),
		}
		if x.dryRun {
			x.logDryRun("would POST /line-item", "package_id", pkg.PackageID, "payload", lineItem)
			lineItemIDs = append(lineItemIDs, "dry_li_"+strings.Split(uuid.NewString(), "-")[0])
			continue
		}
		var created struct {
			ID string `json:"id"`
		}
		url := fmt.Sprintf("%s/line-item?advertiser_id=%s", x.baseURL, x.advertiserID)
		if err := x.client.doJSON(ctx, http.MethodPost, url, lineItem, &created); err != nil {
			x.auditOperation(OpCreateMediaBuy, false, map[string]any{"error": err.Error(), "package_id": pkg.PackageID})
			return api.CreateError(api.ErrCodeAPIError, err.Error(), buyerRef), nil
		}
		lineItemIDs = append(lineItemIDs, created.ID)
	}

	x.auditOperation(OpCreateMediaBuy, true, map[string]any{
		"media_buy_id": "xandr_" + orderID,
		"po_number":    req.PONumber,
		"flight_start": start.UTC().Format(time.RFC3339),
		"flight_end":   end.UTC().Format(time.RFC3339),
	})

	deadline := x.now().UTC().Add(creativeDeadlineOffset)
	return &api.CreateMediaBuyResult{Success: &api.CreateMediaBuySuccess{
		MediaBuyID:       "xandr_" + orderID,
		BuyerRef:         buyerRef,
		Packages:         packageResults(packages, lineItemIDs),
		CreativeDeadline: &deadline,
	}}, nil
}

func (x *XandrAdapter) AddCreativeAssets(ctx context.Context, mediaBuyID string, assets []api.CreativeAsset, today time.Time) ([]api.AssetStatus, error) {
	if x.requiresManualApproval(OpAddCreativeAssets) {
		statuses, _, err := x.pendingAssets(ctx, mediaBuyID, assets)
		return statuses, err
	}

	statuses := make([]api.AssetStatus, 0, len(assets))
	for _, asset := range assets {
		payload := map[string]any{
			"advertiser_id": x.advertiserID,
			"name":          asset.Name,
			"media_url":     asset.MediaURL,
			"click_url":     asset.ClickURL,
			"width":         asset.Width,
			"height":        asset.Height,
		}
		if x.dryRun {
			x.logDryRun("would POST /creative", "creative_id", asset.CreativeID, "payload", payload)
			statuses = append(statuses, api.AssetStatus{
				CreativeID: asset.CreativeID,
				Status:     api.AssetApproved,
				PlatformID: "dry_creative_" + strings.Split(uuid.NewString(), "-")[0],
			})
			continue
		}
		var created struct {
			ID string `json:"id"`
		}
		url := fmt.Sprintf("%s/creative?advertiser_id=%s", x.baseURL, x.advertiserID)
		if err := x.client.doJSON(ctx, http.MethodPost, url, payload, &created); err != nil {
			x.logger.Error("creative upload failed", "creative_id", asset.CreativeID, "error", err)
			statuses = append(statuses, api.AssetStatus{
				CreativeID: asset.CreativeID,
				Status:     api.AssetFailed,
				Message:    err.Error(),
			})
			continue
		}
		// Xandr audits every new creative before it can serve.
		statuses = append(statuses, api.AssetStatus{
			CreativeID: asset.CreativeID,
			Status:     api.AssetPending,
			PlatformID: created.ID,
			Message:    "submitted for platform audit",
		})
	}
	x.auditOperation(OpAddCreativeAssets, true, map[string]any{"media_buy_id": mediaBuyID, "assets": len(assets)})
	return statuses, nil
}

func (x *XandrAdapter) AssociateCreatives(ctx context.Context, lineItemIDs, platformCreativeIDs []string) ([]api.CreativeAssociation, error) {
	if x.requiresManualApproval(OpAssociateCreatives) {
		results, _, err := x.pendingAssociations(ctx, lineItemIDs, platformCreativeIDs)
		return results, err
	}

	results := make([]api.CreativeAssociation, 0, len(lineItemIDs)*len(platformCreativeIDs))
	for _, li := range lineItemIDs {
		for _, cr := range platformCreativeIDs {
			if x.dryRun {
				x.logDryRun("would PUT /line-item creatives", "line_item_id", li, "creative_id", cr)
				results = append(results, api.CreativeAssociation{LineItemID: li, CreativeID: cr, Status: "associated"})
				continue
			}
			url := fmt.Sprintf("%s/line-item/%s/creatives/%s", x.baseURL, li, cr)
			if err := x.client.doJSON(ctx, http.MethodPut, url, nil, nil); err != nil {
				results = append(results, api.CreativeAssociation{LineItemID: li, CreativeID: cr, Status: "failed", Message: err.Error()})
				continue
			}
			results = append(results, api.CreativeAssociation{LineItemID: li, CreativeID: cr, Status: "associated"})
		}
	}
	return results, nil
}

func (x *XandrAdapter) CheckMediaBuyStatus(ctx context.Context, mediaBuyID string, today time.Time) (*api.CheckMediaBuyStatusResponse, error) {
	if x.dryRun {
		x.logDryRun("would GET /insertion-order for status", "media_buy_id", mediaBuyID)
		return &api.CheckMediaBuyStatusResponse{MediaBuyID: mediaBuyID, Status: api.StatusDelivering}, nil
	}

	var order struct {
		StartDate string `json:"start_date"`
		EndDate   string `json:"end_date"`
	}
	url := fmt.Sprintf("%s/insertion-order/%s", x.baseURL, strings.TrimPrefix(mediaBuyID, "xandr_"))
	if err := x.client.doJSON(ctx, http.MethodGet, url, nil, &order); err != nil {
		return nil, &NotFoundError{Resource: "insertion order", ID: mediaBuyID}
	}
	start, err := time.Parse(time.RFC3339, order.StartDate)
	if err != nil {
		return nil, fmt.Errorf("insertion order %s has unparseable start date: %w", mediaBuyID, err)
	}
	end, err := time.Parse(time.RFC3339, order.EndDate)
	if err != nil {
		return nil, fmt.Errorf("insertion order %s has unparseable end date: %w", mediaBuyID, err)
	}
	return &api.CheckMediaBuyStatusResponse{
		MediaBuyID: mediaBuyID,
		Status:     dateDerivedStatus(start, end, today),
	}, nil
}

func (x *XandrAdapter) GetMediaBuyDelivery(ctx context.Context, mediaBuyID string, dateRange api.DateRange, today time.Time) (*api.MediaBuyDeliveryResponse, error) {
	x.logger.Warn("delivery reporting not wired for this backend", "media_buy_id", mediaBuyID)
	return &api.MediaBuyDeliveryResponse{
		MediaBuyID:      mediaBuyID,
		ReportingPeriod: dateRange,
		Currency:        DefaultCurrency,
		Error:           "delivery reporting is not supported by this adapter integration",
	}, nil
}

func (x *XandrAdapter) UpdateMediaBuyPerformanceIndex(ctx context.Context, mediaBuyID string, perf []api.PackagePerformance) (bool, error) {
	for _, p := range perf {
		x.logger.Info("performance index noted (no xandr priority integration)",
			"media_buy_id", mediaBuyID, "package_id", p.PackageID, "index", p.PerformanceIndex)
	}
	return true, nil
}

func (x *XandrAdapter) UpdateMediaBuy(ctx context.Context, req *api.UpdateMediaBuyRequest) (*api.UpdateMediaBuyResult, error) {
	x.auditOperation(OpUpdateMediaBuy, false, map[string]any{"media_buy_id": req.MediaBuyID, "action": req.Action, "unsupported": true})
	return api.UpdateError(api.ErrCodeAPIError,
		"media buy updates are not supported by this adapter integration", buyerRefOrUnknown(req.BuyerRef)), nil
}
