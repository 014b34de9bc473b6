package adapters

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/admesh/adcp-sales-agent/internal/api"
	"github.com/admesh/adcp-sales-agent/internal/auth"
	"github.com/google/uuid"
)

const gamDefaultBaseURL = "https://admanager.googleapis.com/v1"

// gamUpdateActions is the full vocabulary: the adapter-independent six plus
// the order-lifecycle actions only this backend exposes.
var gamUpdateActions = map[string]bool{
	api.ActionPauseMediaBuy:            true,
	api.ActionResumeMediaBuy:           true,
	api.ActionPausePackage:             true,
	api.ActionResumePackage:            true,
	api.ActionUpdatePackageBudget:      true,
	api.ActionUpdatePackageImpressions: true,
	api.ActionActivateOrder:            true,
	api.ActionSubmitForApproval:        true,
	api.ActionApproveOrder:             true,
	api.ActionArchiveOrder:             true,
}

// gamOrderStatus maps the backend's order states onto the richer media buy
// state set.
var gamOrderStatus = map[string]string{
	"DRAFT":            api.StatusPendingCreative,
	"PENDING_APPROVAL": api.StatusPendingCreative,
	"APPROVED":         api.StatusActive,
	"DELIVERING":       api.StatusActive,
	"PAUSED":           api.StatusPaused,
	"COMPLETED":        api.StatusCompleted,
	"CANCELED":         api.StatusFailed,
	"DELETED":          api.StatusFailed,
}

// GAMAdapter drives Google Ad Manager: one order per media buy, one line
// item per package.
type GAMAdapter struct {
	base
	networkCode  string
	advertiserID string
	baseURL      string
	client       *backendClient
	now          func() time.Time
}

func NewGAMAdapter(cfg Config, principal *auth.Principal, deps Deps) (*GAMAdapter, error) {
	if cfg.NetworkID == "" {
		return nil, fmt.Errorf("gam adapter requires network_id")
	}

	advertiserID := ""
	if mapping, ok := principal.MappingFor("gam"); ok {
		advertiserID = mapping["advertiser_id"]
	}
	if advertiserID == "" {
		return nil, fmt.Errorf("principal %s has no gam advertiser mapping", principal.PrincipalID)
	}

	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = gamDefaultBaseURL
	}

	headers := map[string]string{}
	if cfg.AuthToken != "" {
		headers["Authorization"] = "Bearer " + cfg.AuthToken
	}

	b := newBase("gam", cfg, principal, deps)
	return &GAMAdapter{
		base:         b,
		networkCode:  cfg.NetworkID,
		advertiserID: advertiserID,
		baseURL:      baseURL,
		client:       newBackendClient(b.logger, headers),
		now:          time.Now,
	}, nil
}

// validateTargeting: the broadest backend here. Every standard dimension
// (geo, device, OS, browser, content category, keywords, audiences, media
// type, frequency caps at either scope, key-values) maps to a native
// concept, so only requests the translator genuinely cannot render are
// rejected.
func (g *GAMAdapter) validateTargeting(tg *api.Targeting) []string {
	var problems []string
	for _, media := range append(append([]string{}, tg.MediaTypeAnyOf...), tg.MediaTypeNoneOf...) {
		switch strings.ToLower(media) {
		case "display", "video", "audio", "native":
		default:
			problems = append(problems, fmt.Sprintf("media type %q is not supported (supported: display, video, audio, native)", media))
		}
	}
	return problems
}

func (g *GAMAdapter) buildTargeting(tg *api.Targeting) map[string]any {
	if tg == nil {
		return map[string]any{}
	}
	payload := make(map[string]any)

	geo := make(map[string]any)
	if len(tg.GeoCountryAnyOf) > 0 {
		geo["targeted_countries"] = tg.GeoCountryAnyOf
	}
	if len(tg.GeoCountryNoneOf) > 0 {
		geo["excluded_countries"] = tg.GeoCountryNoneOf
	}
	if len(tg.GeoRegionAnyOf) > 0 {
		geo["targeted_regions"] = tg.GeoRegionAnyOf
	}
	if len(tg.GeoMetroAnyOf) > 0 {
		geo["targeted_metros"] = tg.GeoMetroAnyOf
	}
	if len(tg.GeoCityAnyOf) > 0 {
		geo["targeted_cities"] = tg.GeoCityAnyOf
	}
	if len(geo) > 0 {
		payload["geo_targeting"] = geo
	}

	tech := make(map[string]any)
	if len(tg.DeviceTypeAnyOf) > 0 {
		tech["device_categories"] = tg.DeviceTypeAnyOf
	}
	if len(tg.OSAnyOf) > 0 {
		tech["operating_systems"] = tg.OSAnyOf
	}
	if len(tg.BrowserAnyOf) > 0 {
		tech["browsers"] = tg.BrowserAnyOf
	}
	if len(tech) > 0 {
		payload["technology_targeting"] = tech
	}

	if len(tg.ContentCatAnyOf) > 0 || len(tg.ContentCatNoneOf) > 0 {
		payload["content_targeting"] = map[string]any{
			"targeted_categories": tg.ContentCatAnyOf,
			"excluded_categories": tg.ContentCatNoneOf,
		}
	}
	if len(tg.AudiencesAnyOf) > 0 {
		payload["audience_segment_ids"] = tg.AudiencesAnyOf
	}

	// Keywords and managed key-values both land in custom targeting.
	custom := make(map[string]any)
	if len(tg.KeywordsAnyOf) > 0 {
		custom["keywords"] = tg.KeywordsAnyOf
	}
	if len(tg.KeywordsNoneOf) > 0 {
		custom["excluded_keywords"] = tg.KeywordsNoneOf
	}
	for _, key := range sortedKeys(tg.KeyValuePairs) {
		custom[key] = tg.KeyValuePairs[key]
	}
	if len(custom) > 0 {
		payload["custom_targeting"] = custom
	}

	if tg.FrequencyCap != nil {
		payload["frequency_caps"] = []map[string]any{{
			"max_impressions": 1,
			"time_unit":       "MINUTE",
			"num_time_units":  tg.FrequencyCap.SuppressMinutes,
			"scope":           tg.FrequencyCap.Scope,
		}}
	}

	if extra := tg.CustomFor("gam"); extra != nil {
		for k, v := range extra {
			payload[k] = v
		}
	}
	return payload
}

func (g *GAMAdapter) CreateMediaBuy(ctx context.Context, req *api.CreateMediaBuyRequest, packages []api.MediaPackage,
	start, end time.Time, pricing map[string]api.PackagePricingInfo) (*api.CreateMediaBuyResult, error) {

	buyerRef := buyerRefOrUnknown(req.BuyerRef)

	if err := validateFlightWindow(start, end, g.now()); err != nil {
		g.auditOperation(OpCreateMediaBuy, false, map[string]any{"error": err.Error()})
		return api.CreateError(api.ErrCodeAPIError, err.Error(), buyerRef), nil
	}

	if problems := collectTargetingProblems(packages, g.validateTargeting); len(problems) > 0 {
		g.auditOperation(OpCreateMediaBuy, false, map[string]any{"unsupported": strings.Join(problems, "; ")})
		return unsupportedTargetingResult(req.BuyerRef, problems), nil
	}

	if g.requiresManualApproval(OpCreateMediaBuy) {
		stepID, err := g.createPendingStep(ctx, OpCreateMediaBuy, mustJSON(req))
		if err != nil {
			return nil, fmt.Errorf("failed to record pending step: %w", err)
		}
		g.auditOperation(OpCreateMediaBuy, true, map[string]any{"step_id": stepID, "pending": true})
		return &api.CreateMediaBuyResult{Success: &api.CreateMediaBuySuccess{
			MediaBuyID: api.PendingMediaBuyID,
			BuyerRef:   buyerRef,
			Packages:   []api.PackageResult{},
			Detail:     "manual approval required",
		}}, nil
	}

	order := map[string]any{
		"advertiser_id": g.advertiserID,
		"name":          req.BrandManifest.Name,
		"po_number":     req.PONumber,
		"start_date":    start.UTC().Format(time.RFC3339),
		"end_date":      end.UTC().Format(time.RFC3339),
	}

	var orderID string
	if g.dryRun {
		orderID = "dry_order_" + strings.Split(uuid.NewString(), "-")[0]
		g.logDryRun("would POST /networks/{code}/orders", "network_code", g.networkCode, "payload", order, "order_id", orderID)
	} else {
		var created struct {
			ID string `json:"id"`
		}
		url := fmt.Sprintf("%s/networks/%s/orders", g.baseURL, g.networkCode)
		if err := g.client.doJSON(ctx, http.MethodPost, url, order, &created); err != nil {
			g.auditOperation(OpCreateMediaBuy, false, map[string]any{"error": err.Error()})
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
			"order_id":    orderID,
			"name":        pkg.Name,
			"external_id": pkg.PackageID,
			"cost_per_unit": map[string]any{
				"currency": PricingCurrency(info),
				"amount":   EffectiveRate(pkg, info),
			},
			"units_goal": pkg.Impressions,
			"targeting":  g.buildTargeting(pkg.TargetingOverlay),
		}
		if g.dryRun {
			g.logDryRun("would POST /lineItems", "package_id", pkg.PackageID, "payload", lineItem)
			lineItemIDs = append(lineItemIDs, "dry_li_"+strings.Split(uuid.NewString(), "-")[0])
			continue
		}
		var created struct {
			ID string `json:"id"`
		}
		url := fmt.Sprintf("%s/networks/%s/lineItems", g.baseURL, g.networkCode)
		if err := g.client.doJSON(ctx, http.MethodPost, url, lineItem, &created); err != nil {
			g.auditOperation(OpCreateMediaBuy, false, map[string]any{"error": err.Error(), "package_id": pkg.PackageID})
			return api.CreateError(api.ErrCodeAPIError, err.Error(), buyerRef), nil
		}
		lineItemIDs = append(lineItemIDs, created.ID)
	}

	g.auditOperation(OpCreateMediaBuy, true, map[string]any{
		"media_buy_id": "gam_" + orderID,
		"po_number":    req.PONumber,
		"flight_start": start.UTC().Format(time.RFC3339),
		"flight_end":   end.UTC().Format(time.RFC3339),
	})

	deadline := g.now().UTC().Add(creativeDeadlineOffset)
	return &api.CreateMediaBuyResult{Success: &api.CreateMediaBuySuccess{
		MediaBuyID:       "gam_" + orderID,
		BuyerRef:         buyerRef,
		Packages:         packageResults(packages, lineItemIDs),
		CreativeDeadline: &deadline,
	}}, nil
}

func (g *GAMAdapter) AddCreativeAssets(ctx context.Context, mediaBuyID string, assets []api.CreativeAsset, today time.Time) ([]api.AssetStatus, error) {
	if g.requiresManualApproval(OpAddCreativeAssets) {
		statuses, _, err := g.pendingAssets(ctx, mediaBuyID, assets)
		return statuses, err
	}

	statuses := make([]api.AssetStatus, 0, len(assets))
	for _, asset := range assets {
		payload := map[string]any{
			"advertiser_id":   g.advertiserID,
			"name":            asset.Name,
			"destination_url": asset.ClickURL,
			"asset_url":       asset.MediaURL,
			"size":            map[string]int{"width": asset.Width, "height": asset.Height},
		}
		if g.dryRun {
			g.logDryRun("would POST /creatives", "creative_id", asset.CreativeID, "payload", payload)
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
		url := fmt.Sprintf("%s/networks/%s/creatives", g.baseURL, g.networkCode)
		if err := g.client.doJSON(ctx, http.MethodPost, url, payload, &created); err != nil {
			g.logger.Error("creative upload failed", "creative_id", asset.CreativeID, "error", err)
			statuses = append(statuses, api.AssetStatus{
				CreativeID: asset.CreativeID,
				Status:     api.AssetFailed,
				Message:    err.Error(),
			})
			continue
		}
		statuses = append(statuses, api.AssetStatus{
			CreativeID: asset.CreativeID,
			Status:     api.AssetApproved,
			PlatformID: created.ID,
		})
	}
	g.auditOperation(OpAddCreativeAssets, true, map[string]any{"media_buy_id": mediaBuyID, "assets": len(assets)})
	return statuses, nil
}

func (g *GAMAdapter) AssociateCreatives(ctx context.Context, lineItemIDs, platformCreativeIDs []string) ([]api.CreativeAssociation, error) {
	if g.requiresManualApproval(OpAssociateCreatives) {
		results, _, err := g.pendingAssociations(ctx, lineItemIDs, platformCreativeIDs)
		return results, err
	}

	results := make([]api.CreativeAssociation, 0, len(lineItemIDs)*len(platformCreativeIDs))
	for _, li := range lineItemIDs {
		for _, cr := range platformCreativeIDs {
			if g.dryRun {
				g.logDryRun("would POST /licas", "line_item_id", li, "creative_id", cr)
				results = append(results, api.CreativeAssociation{LineItemID: li, CreativeID: cr, Status: "associated"})
				continue
			}
			url := fmt.Sprintf("%s/networks/%s/licas", g.baseURL, g.networkCode)
			payload := map[string]any{"line_item_id": li, "creative_id": cr}
			if err := g.client.doJSON(ctx, http.MethodPost, url, payload, nil); err != nil {
				results = append(results, api.CreativeAssociation{LineItemID: li, CreativeID: cr, Status: "failed", Message: err.Error()})
				continue
			}
			results = append(results, api.CreativeAssociation{LineItemID: li, CreativeID: cr, Status: "associated"})
		}
	}
	return results, nil
}

func (g *GAMAdapter) CheckMediaBuyStatus(ctx context.Context, mediaBuyID string, today time.Time) (*api.CheckMediaBuyStatusResponse, error) {
	if g.dryRun {
		g.logDryRun("would GET /orders for status", "media_buy_id", mediaBuyID)
		return &api.CheckMediaBuyStatusResponse{MediaBuyID: mediaBuyID, Status: api.StatusActive}, nil
	}

	var order struct {
		Status    string `json:"status"`
		StartDate string `json:"start_date"`
		EndDate   string `json:"end_date"`
	}
	url := fmt.Sprintf("%s/networks/%s/orders/%s", g.baseURL, g.networkCode, strings.TrimPrefix(mediaBuyID, "gam_"))
	if err := g.client.doJSON(ctx, http.MethodGet, url, nil, &order); err != nil {
		return nil, &NotFoundError{Resource: "order", ID: mediaBuyID}
	}

	if status, ok := gamOrderStatus[order.Status]; ok && status != api.StatusActive {
		return &api.CheckMediaBuyStatusResponse{MediaBuyID: mediaBuyID, Status: status}, nil
	}

	// Active orders still report pending_start/completed by flight window.
	start, errStart := time.Parse(time.RFC3339, order.StartDate)
	end, errEnd := time.Parse(time.RFC3339, order.EndDate)
	if errStart != nil || errEnd != nil {
		return &api.CheckMediaBuyStatusResponse{MediaBuyID: mediaBuyID, Status: api.StatusActive}, nil
	}
	return &api.CheckMediaBuyStatusResponse{
		MediaBuyID: mediaBuyID,
		Status:     dateDerivedStatus(start, end, today),
	}, nil
}

func (g *GAMAdapter) GetMediaBuyDelivery(ctx context.Context, mediaBuyID string, dateRange api.DateRange, today time.Time) (*api.MediaBuyDeliveryResponse, error) {
	resp := &api.MediaBuyDeliveryResponse{
		MediaBuyID:      mediaBuyID,
		ReportingPeriod: dateRange,
		Currency:        DefaultCurrency,
	}
	if g.dryRun {
		g.logDryRun("would run delivery report", "media_buy_id", mediaBuyID)
		return resp, nil
	}

	var report struct {
		Rows []struct {
			LineItemExternalID string  `json:"line_item_external_id"`
			Impressions        int64   `json:"impressions"`
			Clicks             int64   `json:"clicks"`
			Spend              float64 `json:"spend"`
		} `json:"rows"`
	}
	url := fmt.Sprintf("%s/networks/%s/reports/delivery?order_id=%s&start=%s&end=%s",
		g.baseURL, g.networkCode, strings.TrimPrefix(mediaBuyID, "gam_"),
		dateRange.Start.Format("2006-01-02"), dateRange.End.Format("2006-01-02"))
	if err := g.client.doJSON(ctx, http.MethodGet, url, nil, &report); err != nil {
		g.logger.Error("gam delivery report failed", "media_buy_id", mediaBuyID, "error", err)
		resp.Error = err.Error()
		return resp, nil
	}

	for _, row := range report.Rows {
		resp.Totals.Impressions += row.Impressions
		resp.Totals.Clicks += row.Clicks
		resp.Totals.Spend += row.Spend
		resp.ByPackage = append(resp.ByPackage, api.PackageDelivery{
			PackageID:   row.LineItemExternalID,
			Impressions: row.Impressions,
			Spend:       row.Spend,
		})
	}
	if resp.Totals.Impressions > 0 {
		resp.Totals.CTR = float64(resp.Totals.Clicks) / float64(resp.Totals.Impressions)
	}
	return resp, nil
}

func (g *GAMAdapter) UpdateMediaBuyPerformanceIndex(ctx context.Context, mediaBuyID string, perf []api.PackagePerformance) (bool, error) {
	// Rendered as line item priority nudges: above-baseline packages get a
	// higher delivery priority, below-baseline a lower one.
	for _, p := range perf {
		priority := 8
		if p.PerformanceIndex > 1.1 {
			priority = 6
		} else if p.PerformanceIndex < 0.9 {
			priority = 10
		}
		if g.dryRun {
			g.logDryRun("would PATCH line item priority", "media_buy_id", mediaBuyID,
				"package_id", p.PackageID, "index", p.PerformanceIndex, "priority", priority)
			continue
		}
		lineItemID, err := g.lineItemForPackage(ctx, mediaBuyID, p.PackageID)
		if err != nil {
			g.logger.Error("priority update skipped", "package_id", p.PackageID, "error", err)
			continue
		}
		url := fmt.Sprintf("%s/networks/%s/lineItems/%s", g.baseURL, g.networkCode, lineItemID)
		if err := g.client.doJSON(ctx, http.MethodPut, url, map[string]any{"priority": priority}, nil); err != nil {
			g.logger.Error("priority update failed", "package_id", p.PackageID, "error", err)
		}
	}
	return true, nil
}

func (g *GAMAdapter) UpdateMediaBuy(ctx context.Context, req *api.UpdateMediaBuyRequest) (*api.UpdateMediaBuyResult, error) {
	buyerRef := buyerRefOrUnknown(req.BuyerRef)

	if !gamUpdateActions[req.Action] {
		return api.UpdateError(api.ErrCodeUnsupportedAction,
			fmt.Sprintf("action %q is not supported by this adapter", req.Action), buyerRef), nil
	}

	if g.requiresManualApproval(OpUpdateMediaBuy) {
		result, _, err := g.pendingUpdate(ctx, req)
		return result, err
	}

	orderID := strings.TrimPrefix(req.MediaBuyID, "gam_")
	var affected []api.PackageResult
	now := g.now().UTC()

	var err error
	switch req.Action {
	case api.ActionPauseMediaBuy:
		err = g.performOrderAction(ctx, orderID, "pause")
	case api.ActionResumeMediaBuy:
		err = g.performOrderAction(ctx, orderID, "resume")
	case api.ActionActivateOrder:
		err = g.performOrderAction(ctx, orderID, "activate")
	case api.ActionSubmitForApproval:
		err = g.performOrderAction(ctx, orderID, "submitForApproval")
	case api.ActionApproveOrder:
		err = g.performOrderAction(ctx, orderID, "approve")
	case api.ActionArchiveOrder:
		err = g.performOrderAction(ctx, orderID, "archive")
	case api.ActionPausePackage:
		err = g.updateLineItem(ctx, req.MediaBuyID, req.PackageID, map[string]any{"status": "PAUSED"})
		affected = append(affected, api.PackageResult{PackageID: req.PackageID, Paused: true})
	case api.ActionResumePackage:
		err = g.updateLineItem(ctx, req.MediaBuyID, req.PackageID, map[string]any{"status": "ACTIVE"})
		affected = append(affected, api.PackageResult{PackageID: req.PackageID, Paused: false})
	case api.ActionUpdatePackageBudget:
		if req.Budget == nil || *req.Budget <= 0 {
			return api.UpdateError(api.ErrCodeAPIError, "a positive budget is required for update_package_budget", buyerRef), nil
		}
		err = g.updateLineItem(ctx, req.MediaBuyID, req.PackageID, map[string]any{"budget": *req.Budget})
		affected = append(affected, api.PackageResult{PackageID: req.PackageID, Paused: false})
	case api.ActionUpdatePackageImpressions:
		if req.Impressions == nil || *req.Impressions <= 0 {
			return api.UpdateError(api.ErrCodeAPIError, "a positive impression goal is required for update_package_impressions", buyerRef), nil
		}
		err = g.updateLineItem(ctx, req.MediaBuyID, req.PackageID, map[string]any{"units_goal": *req.Impressions})
		affected = append(affected, api.PackageResult{PackageID: req.PackageID, Paused: false})
	}
	if err != nil {
		g.auditOperation(OpUpdateMediaBuy, false, map[string]any{"media_buy_id": req.MediaBuyID, "action": req.Action, "error": err.Error()})
		var nf *NotFoundError
		if errors.As(err, &nf) {
			return api.UpdateError(api.ErrCodeFlightNotFound, err.Error(), buyerRef), nil
		}
		return api.UpdateError(api.ErrCodeAPIError, err.Error(), buyerRef), nil
	}

	g.auditOperation(OpUpdateMediaBuy, true, map[string]any{"media_buy_id": req.MediaBuyID, "action": req.Action})
	return &api.UpdateMediaBuyResult{Success: &api.UpdateMediaBuySuccess{
		MediaBuyID:         req.MediaBuyID,
		BuyerRef:           buyerRef,
		Status:             api.UpdateAccepted,
		ImplementationDate: &now,
		AffectedPackages:   affected,
	}}, nil
}

func (g *GAMAdapter) performOrderAction(ctx context.Context, orderID, action string) error {
	if g.dryRun {
		g.logDryRun("would POST order action", "order_id", orderID, "order_action", action)
		return nil
	}
	url := fmt.Sprintf("%s/networks/%s/orders/%s:%s", g.baseURL, g.networkCode, orderID, action)
	return g.client.doJSON(ctx, http.MethodPost, url, nil, nil)
}

func (g *GAMAdapter) updateLineItem(ctx context.Context, mediaBuyID, packageID string, fields map[string]any) error {
	if g.dryRun {
		g.logDryRun("would PUT line item", "media_buy_id", mediaBuyID, "package_id", packageID, "fields", fields)
		return nil
	}
	lineItemID, err := g.lineItemForPackage(ctx, mediaBuyID, packageID)
	if err != nil {
		return err
	}
	url := fmt.Sprintf("%s/networks/%s/lineItems/%s", g.baseURL, g.networkCode, lineItemID)
	return g.client.doJSON(ctx, http.MethodPut, url, fields, nil)
}

// lineItemForPackage resolves the backend line item carrying the buyer-side
// package ID as its external ID.
func (g *GAMAdapter) lineItemForPackage(ctx context.Context, mediaBuyID, packageID string) (string, error) {
	var listing struct {
		LineItems []struct {
			ID         string `json:"id"`
			ExternalID string `json:"external_id"`
		} `json:"line_items"`
	}
	url := fmt.Sprintf("%s/networks/%s/lineItems?order_id=%s", g.baseURL, g.networkCode, strings.TrimPrefix(mediaBuyID, "gam_"))
	if err := g.client.doJSON(ctx, http.MethodGet, url, nil, &listing); err != nil {
		return "", err
	}
	for _, li := range listing.LineItems {
		if li.ExternalID == packageID {
			return li.ID, nil
		}
	}
	return "", &NotFoundError{Resource: "line item for package", ID: packageID}
}
