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

const tritonDefaultBaseURL = "https://api.tritondigital.com/v1"

// tritonDeviceTypes is the device vocabulary the audio platform can honor.
var tritonDeviceTypes = map[string]bool{"mobile": true, "desktop": true, "audio": true}

// TritonAdapter drives Triton Digital's streaming-audio ad platform: one
// campaign per media buy, one flight per package.
type TritonAdapter struct {
	base
	advertiserID string
	baseURL      string
	client       *backendClient
	now          func() time.Time
}

func NewTritonAdapter(cfg Config, principal *auth.Principal, deps Deps) (*TritonAdapter, error) {
	if cfg.AuthToken == "" {
		return nil, fmt.Errorf("triton adapter requires auth_token")
	}

	advertiserID := ""
	if mapping, ok := principal.MappingFor("triton"); ok {
		advertiserID = mapping["advertiser_id"]
	}
	if advertiserID == "" {
		return nil, fmt.Errorf("principal %s has no triton advertiser mapping", principal.PrincipalID)
	}

	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = tritonDefaultBaseURL
	}

	b := newBase("triton", cfg, principal, deps)
	return &TritonAdapter{
		base:         b,
		advertiserID: advertiserID,
		baseURL:      baseURL,
		client:       newBackendClient(b.logger, map[string]string{"Authorization": "Bearer " + cfg.AuthToken}),
		now:          time.Now,
	}, nil
}

// validateTargeting reports every requested dimension the audio platform
// cannot honor. Content categories, keywords, and browsers have no meaning
// in a streaming-audio context and are rejected outright.
func (t *TritonAdapter) validateTargeting(tg *api.Targeting) []string {
	var problems []string

	for _, device := range append(append([]string{}, tg.DeviceTypeAnyOf...), tg.DeviceTypeNoneOf...) {
		if !tritonDeviceTypes[strings.ToLower(device)] {
			problems = append(problems, fmt.Sprintf("device type %q is not supported (supported: mobile, desktop, audio)", device))
		}
	}
	for _, media := range append(append([]string{}, tg.MediaTypeAnyOf...), tg.MediaTypeNoneOf...) {
		if strings.ToLower(media) != "audio" {
			problems = append(problems, fmt.Sprintf("media type %q is not supported (audio only)", media))
		}
	}
	if len(tg.ContentCatAnyOf) > 0 || len(tg.ContentCatNoneOf) > 0 {
		problems = append(problems, "content category targeting is not supported on an audio platform")
	}
	if len(tg.KeywordsAnyOf) > 0 || len(tg.KeywordsNoneOf) > 0 {
		problems = append(problems, "keyword targeting is not supported on an audio platform")
	}
	if len(tg.BrowserAnyOf) > 0 || len(tg.BrowserNoneOf) > 0 {
		problems = append(problems, "browser targeting is not supported on an audio platform")
	}
	return problems
}

// buildTargeting renders the supported subset into Triton's flight payload.
// Station, genre, and stream-type targeting come through the escape hatch.
func (t *TritonAdapter) buildTargeting(tg *api.Targeting) map[string]any {
	if tg == nil {
		return map[string]any{}
	}
	payload := make(map[string]any)

	if len(tg.GeoCountryAnyOf) > 0 {
		payload["countries"] = tg.GeoCountryAnyOf
	}
	if len(tg.GeoRegionAnyOf) > 0 {
		payload["regions"] = tg.GeoRegionAnyOf
	}
	if len(tg.GeoMetroAnyOf) > 0 {
		payload["metros"] = tg.GeoMetroAnyOf
	}
	if len(tg.DeviceTypeAnyOf) > 0 {
		payload["device_types"] = tg.DeviceTypeAnyOf
	}
	if len(tg.AudiencesAnyOf) > 0 {
		payload["audience_segments"] = tg.AudiencesAnyOf
	}

	if custom := tg.CustomFor("triton"); custom != nil {
		if stations, ok := custom["station_ids"]; ok {
			payload["stations"] = stations
		}
		if genres, ok := custom["genres"]; ok {
			payload["genres"] = genres
		}
		if streamTypes, ok := custom["stream_types"]; ok {
			payload["stream_types"] = streamTypes
		}
	}
	return payload
}

func (t *TritonAdapter) CreateMediaBuy(ctx context.Context, req *api.CreateMediaBuyRequest, packages []api.MediaPackage,
	start, end time.Time, pricing map[string]api.PackagePricingInfo) (*api.CreateMediaBuyResult, error) {

	buyerRef := buyerRefOrUnknown(req.BuyerRef)

	if err := validateFlightWindow(start, end, t.now()); err != nil {
		t.auditOperation(OpCreateMediaBuy, false, map[string]any{"error": err.Error()})
		return api.CreateError(api.ErrCodeAPIError, err.Error(), buyerRef), nil
	}

	if problems := collectTargetingProblems(packages, t.validateTargeting); len(problems) > 0 {
		t.auditOperation(OpCreateMediaBuy, false, map[string]any{"unsupported": strings.Join(problems, "; ")})
		return unsupportedTargetingResult(req.BuyerRef, problems), nil
	}

	if t.requiresManualApproval(OpCreateMediaBuy) {
		stepID, err := t.createPendingStep(ctx, OpCreateMediaBuy, mustJSON(req))
		if err != nil {
			return nil, fmt.Errorf("failed to record pending step: %w", err)
		}
		t.auditOperation(OpCreateMediaBuy, true, map[string]any{"step_id": stepID, "pending": true})
		return &api.CreateMediaBuyResult{Success: &api.CreateMediaBuySuccess{
			MediaBuyID: api.PendingMediaBuyID,
			BuyerRef:   buyerRef,
			Packages:   []api.PackageResult{},
			Detail:     "manual approval required",
		}}, nil
	}

	campaign := map[string]any{
		"advertiser_id": t.advertiserID,
		"name":          req.BrandManifest.Name,
		"start_date":    start.UTC().Format(time.RFC3339),
		"end_date":      end.UTC().Format(time.RFC3339),
	}

	var campaignID string
	if t.dryRun {
		campaignID = "dry_campaign_" + strings.Split(uuid.NewString(), "-")[0]
		t.logDryRun("would POST /campaigns", "payload", campaign, "campaign_id", campaignID)
	} else {
		var created struct {
			ID string `json:"id"`
		}
		if err := t.client.doJSON(ctx, http.MethodPost, t.baseURL+"/campaigns", campaign, &created); err != nil {
			t.auditOperation(OpCreateMediaBuy, false, map[string]any{"error": err.Error()})
			return api.CreateError(api.ErrCodeAPIError, err.Error(), buyerRef), nil
		}
		campaignID = created.ID
	}

	flightIDs := make([]string, 0, len(packages))
	for _, pkg := range packages {
		var info *api.PackagePricingInfo
		if p, ok := pricing[pkg.PackageID]; ok {
			info = &p
		}
		flight := map[string]any{
			"campaign_id":     campaignID,
			"name":            pkg.Name,
			"external_ref":    pkg.PackageID,
			"cpm":             EffectiveRate(pkg, info),
			"impression_goal": pkg.Impressions,
			"targeting":       t.buildTargeting(pkg.TargetingOverlay),
		}
		if t.dryRun {
			t.logDryRun("would POST /flights", "package_id", pkg.PackageID, "payload", flight)
			flightIDs = append(flightIDs, "dry_flight_"+strings.Split(uuid.NewString(), "-")[0])
			continue
		}
		var created struct {
			ID string `json:"id"`
		}
		if err := t.client.doJSON(ctx, http.MethodPost, t.baseURL+"/flights", flight, &created); err != nil {
			t.auditOperation(OpCreateMediaBuy, false, map[string]any{"error": err.Error(), "package_id": pkg.PackageID})
			return api.CreateError(api.ErrCodeAPIError, err.Error(), buyerRef), nil
		}
		flightIDs = append(flightIDs, created.ID)
	}

	t.auditOperation(OpCreateMediaBuy, true, map[string]any{
		"media_buy_id": "triton_" + campaignID,
		"po_number":    req.PONumber,
		"flight_start": start.UTC().Format(time.RFC3339),
		"flight_end":   end.UTC().Format(time.RFC3339),
	})

	deadline := t.now().UTC().Add(creativeDeadlineOffset)
	return &api.CreateMediaBuyResult{Success: &api.CreateMediaBuySuccess{
		MediaBuyID:       "triton_" + campaignID,
		BuyerRef:         buyerRef,
		Packages:         packageResults(packages, flightIDs),
		CreativeDeadline: &deadline,
	}}, nil
}

func (t *TritonAdapter) AddCreativeAssets(ctx context.Context, mediaBuyID string, assets []api.CreativeAsset, today time.Time) ([]api.AssetStatus, error) {
	if t.requiresManualApproval(OpAddCreativeAssets) {
		statuses, _, err := t.pendingAssets(ctx, mediaBuyID, assets)
		return statuses, err
	}

	statuses := make([]api.AssetStatus, 0, len(assets))
	for _, asset := range assets {
		// Audio platform: only audio creatives can be trafficked.
		if asset.Format != "" && !strings.HasPrefix(strings.ToLower(asset.Format), "audio") {
			statuses = append(statuses, api.AssetStatus{
				CreativeID: asset.CreativeID,
				Status:     api.AssetRejected,
				Message:    fmt.Sprintf("format %q is not an audio format", asset.Format),
			})
			continue
		}

		payload := map[string]any{
			"advertiser_id": t.advertiserID,
			"name":          asset.Name,
			"audio_url":     asset.MediaURL,
			"duration":      asset.Duration,
		}
		if t.dryRun {
			t.logDryRun("would POST /creatives", "creative_id", asset.CreativeID, "payload", payload)
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
		if err := t.client.doJSON(ctx, http.MethodPost, t.baseURL+"/creatives", payload, &created); err != nil {
			t.logger.Error("creative upload failed", "creative_id", asset.CreativeID, "error", err)
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
	t.auditOperation(OpAddCreativeAssets, true, map[string]any{"media_buy_id": mediaBuyID, "assets": len(assets)})
	return statuses, nil
}

func (t *TritonAdapter) AssociateCreatives(ctx context.Context, lineItemIDs, platformCreativeIDs []string) ([]api.CreativeAssociation, error) {
	if t.requiresManualApproval(OpAssociateCreatives) {
		results, _, err := t.pendingAssociations(ctx, lineItemIDs, platformCreativeIDs)
		return results, err
	}

	results := make([]api.CreativeAssociation, 0, len(lineItemIDs)*len(platformCreativeIDs))
	for _, li := range lineItemIDs {
		for _, cr := range platformCreativeIDs {
			if t.dryRun {
				t.logDryRun("would PUT /flights/creatives", "flight_id", li, "creative_id", cr)
				results = append(results, api.CreativeAssociation{LineItemID: li, CreativeID: cr, Status: "associated"})
				continue
			}
			url := fmt.Sprintf("%s/flights/%s/creatives/%s", t.baseURL, li, cr)
			if err := t.client.doJSON(ctx, http.MethodPut, url, nil, nil); err != nil {
				results = append(results, api.CreativeAssociation{LineItemID: li, CreativeID: cr, Status: "failed", Message: err.Error()})
				continue
			}
			results = append(results, api.CreativeAssociation{LineItemID: li, CreativeID: cr, Status: "associated"})
		}
	}
	return results, nil
}

func (t *TritonAdapter) CheckMediaBuyStatus(ctx context.Context, mediaBuyID string, today time.Time) (*api.CheckMediaBuyStatusResponse, error) {
	if t.dryRun {
		t.logDryRun("would GET /campaigns for status", "media_buy_id", mediaBuyID)
		return &api.CheckMediaBuyStatusResponse{MediaBuyID: mediaBuyID, Status: api.StatusDelivering}, nil
	}

	var campaign struct {
		StartDate string `json:"start_date"`
		EndDate   string `json:"end_date"`
	}
	url := fmt.Sprintf("%s/campaigns/%s", t.baseURL, strings.TrimPrefix(mediaBuyID, "triton_"))
	if err := t.client.doJSON(ctx, http.MethodGet, url, nil, &campaign); err != nil {
		return nil, &NotFoundError{Resource: "campaign", ID: mediaBuyID}
	}
	start, err := time.Parse(time.RFC3339, campaign.StartDate)
	if err != nil {
		return nil, fmt.Errorf("campaign %s has unparseable start date: %w", mediaBuyID, err)
	}
	end, err := time.Parse(time.RFC3339, campaign.EndDate)
	if err != nil {
		return nil, fmt.Errorf("campaign %s has unparseable end date: %w", mediaBuyID, err)
	}
	return &api.CheckMediaBuyStatusResponse{
		MediaBuyID: mediaBuyID,
		Status:     dateDerivedStatus(start, end, today),
	}, nil
}

func (t *TritonAdapter) GetMediaBuyDelivery(ctx context.Context, mediaBuyID string, dateRange api.DateRange, today time.Time) (*api.MediaBuyDeliveryResponse, error) {
	resp := &api.MediaBuyDeliveryResponse{
		MediaBuyID:      mediaBuyID,
		ReportingPeriod: dateRange,
		Currency:        DefaultCurrency,
	}
	if t.dryRun {
		t.logDryRun("would GET /reports/delivery", "media_buy_id", mediaBuyID)
		return resp, nil
	}

	var report struct {
		Impressions int64   `json:"impressions"`
		Spend       float64 `json:"spend"`
		Completions int64   `json:"completions"`
	}
	url := fmt.Sprintf("%s/reports/delivery?campaign_id=%s&start=%s&end=%s",
		t.baseURL, strings.TrimPrefix(mediaBuyID, "triton_"),
		dateRange.Start.Format("2006-01-02"), dateRange.End.Format("2006-01-02"))
	if err := t.client.doJSON(ctx, http.MethodGet, url, nil, &report); err != nil {
		t.logger.Error("triton report failed", "media_buy_id", mediaBuyID, "error", err)
		resp.Error = err.Error()
		return resp, nil
	}

	resp.Totals.Impressions = report.Impressions
	resp.Totals.Spend = report.Spend
	resp.Totals.VideoCompletions = report.Completions
	if report.Impressions > 0 {
		resp.Totals.CompletionRate = float64(report.Completions) / float64(report.Impressions)
	}
	return resp, nil
}

func (t *TritonAdapter) UpdateMediaBuyPerformanceIndex(ctx context.Context, mediaBuyID string, perf []api.PackagePerformance) (bool, error) {
	// No pacing-priority lever on the audio platform; intent is logged.
	for _, p := range perf {
		t.logger.Info("performance index noted (no triton priority lever)",
			"media_buy_id", mediaBuyID, "package_id", p.PackageID, "index", p.PerformanceIndex)
	}
	return true, nil
}

func (t *TritonAdapter) UpdateMediaBuy(ctx context.Context, req *api.UpdateMediaBuyRequest) (*api.UpdateMediaBuyResult, error) {
	buyerRef := buyerRefOrUnknown(req.BuyerRef)

	if !mockUpdateActions[req.Action] {
		return api.UpdateError(api.ErrCodeUnsupportedAction,
			fmt.Sprintf("action %q is not supported by this adapter", req.Action), buyerRef), nil
	}

	if t.requiresManualApproval(OpUpdateMediaBuy) {
		result, _, err := t.pendingUpdate(ctx, req)
		return result, err
	}

	var affected []api.PackageResult
	now := t.now().UTC()

	apply := func(url string, fields map[string]any) error {
		if t.dryRun {
			t.logDryRun("would PUT "+url, "fields", fields)
			return nil
		}
		return t.client.doJSON(ctx, http.MethodPut, url, fields, nil)
	}

	campaignURL := fmt.Sprintf("%s/campaigns/%s", t.baseURL, strings.TrimPrefix(req.MediaBuyID, "triton_"))
	flightURL := fmt.Sprintf("%s/flights/%s", t.baseURL, req.PackageID)

	var err error
	switch req.Action {
	case api.ActionPauseMediaBuy:
		err = apply(campaignURL, map[string]any{"status": "paused"})
	case api.ActionResumeMediaBuy:
		err = apply(campaignURL, map[string]any{"status": "active"})
	case api.ActionPausePackage:
		err = apply(flightURL, map[string]any{"status": "paused"})
		affected = append(affected, api.PackageResult{PackageID: req.PackageID, Paused: true})
	case api.ActionResumePackage:
		err = apply(flightURL, map[string]any{"status": "active"})
		affected = append(affected, api.PackageResult{PackageID: req.PackageID, Paused: false})
	case api.ActionUpdatePackageBudget:
		if req.Budget == nil || *req.Budget <= 0 {
			return api.UpdateError(api.ErrCodeAPIError, "a positive budget is required for update_package_budget", buyerRef), nil
		}
		err = apply(flightURL, map[string]any{"budget": *req.Budget})
		affected = append(affected, api.PackageResult{PackageID: req.PackageID, Paused: false})
	case api.ActionUpdatePackageImpressions:
		if req.Impressions == nil || *req.Impressions <= 0 {
			return api.UpdateError(api.ErrCodeAPIError, "a positive impression goal is required for update_package_impressions", buyerRef), nil
		}
		err = apply(flightURL, map[string]any{"impression_goal": *req.Impressions})
		affected = append(affected, api.PackageResult{PackageID: req.PackageID, Paused: false})
	}
	if err != nil {
		t.auditOperation(OpUpdateMediaBuy, false, map[string]any{"media_buy_id": req.MediaBuyID, "action": req.Action, "error": err.Error()})
		var nf *NotFoundError
		if errors.As(err, &nf) {
			return api.UpdateError(api.ErrCodeFlightNotFound, err.Error(), buyerRef), nil
		}
		return api.UpdateError(api.ErrCodeAPIError, err.Error(), buyerRef), nil
	}

	t.auditOperation(OpUpdateMediaBuy, true, map[string]any{"media_buy_id": req.MediaBuyID, "action": req.Action})
	return &api.UpdateMediaBuyResult{Success: &api.UpdateMediaBuySuccess{
		MediaBuyID:         req.MediaBuyID,
		BuyerRef:           buyerRef,
		Status:             api.UpdateAccepted,
		ImplementationDate: &now,
		AffectedPackages:   affected,
	}}, nil
}
