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

const kevelDefaultBaseURL = "https://api.kevel.co/v1"

// kevelDeviceTypes is the device vocabulary Kevel can honor. No CTV.
var kevelDeviceTypes = map[string]bool{"mobile": true, "desktop": true, "tablet": true}

// kevelMediaTypes is the media-type vocabulary Kevel can honor.
var kevelMediaTypes = map[string]bool{"display": true, "native": true}

// KevelAdapter drives the Kevel (Adzerk) ad server: one campaign per media
// buy, one flight per package.
type KevelAdapter struct {
	base
	networkID    string
	advertiserID string
	baseURL      string
	userDB       bool
	freqCapping  bool
	client       *backendClient
	now          func() time.Time
}

// NewKevelAdapter fails fast on missing credentials; a config error is a
// startup failure, not a request-time one.
func NewKevelAdapter(cfg Config, principal *auth.Principal, deps Deps) (*KevelAdapter, error) {
	if cfg.NetworkID == "" {
		return nil, fmt.Errorf("kevel adapter requires network_id")
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("kevel adapter requires api_key")
	}

	advertiserID := ""
	if mapping, ok := principal.MappingFor("kevel"); ok {
		advertiserID = mapping["advertiser_id"]
	}
	if advertiserID == "" {
		return nil, fmt.Errorf("principal %s has no kevel advertiser mapping", principal.PrincipalID)
	}

	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = kevelDefaultBaseURL
	}

	b := newBase("kevel", cfg, principal, deps)
	return &KevelAdapter{
		base:         b,
		networkID:    cfg.NetworkID,
		advertiserID: advertiserID,
		baseURL:      baseURL,
		userDB:       cfg.UserDBEnabled,
		freqCapping:  cfg.FrequencyCappingEnabled,
		client:       newBackendClient(b.logger, map[string]string{"X-Adzerk-ApiKey": cfg.APIKey}),
		now:          time.Now,
	}, nil
}

// validateTargeting reports every requested dimension Kevel cannot honor.
func (k *KevelAdapter) validateTargeting(t *api.Targeting) []string {
	var problems []string

	for _, device := range append(append([]string{}, t.DeviceTypeAnyOf...), t.DeviceTypeNoneOf...) {
		if !kevelDeviceTypes[strings.ToLower(device)] {
			problems = append(problems, fmt.Sprintf("device type %q is not supported (supported: mobile, desktop, tablet)", device))
		}
	}
	for _, media := range append(append([]string{}, t.MediaTypeAnyOf...), t.MediaTypeNoneOf...) {
		if !kevelMediaTypes[strings.ToLower(media)] {
			problems = append(problems, fmt.Sprintf("media type %q is not supported (supported: display, native)", media))
		}
	}
	if (len(t.AudiencesAnyOf) > 0 || len(t.AudiencesNoneOf) > 0) && !k.userDB {
		problems = append(problems, "audience targeting requires UserDB to be enabled for this network")
	}
	if t.FrequencyCap != nil {
		if !k.freqCapping {
			problems = append(problems, "frequency capping is not enabled for this network")
		} else if t.FrequencyCap.Scope == "media_buy" {
			problems = append(problems, "frequency capping is only supported at package (flight) scope")
		}
	}
	return problems
}

// buildTargeting renders the supported subset into Kevel's flight payload
// shape. AEE key-values and UserDB audiences become CustomTargeting boolean
// expressions; an explicit custom expression from the escape hatch is
// AND-combined with the generated one.
func (k *KevelAdapter) buildTargeting(t *api.Targeting) map[string]any {
	if t == nil {
		return map[string]any{}
	}
	payload := make(map[string]any)

	geo := make([]map[string]string, 0)
	for _, country := range t.GeoCountryAnyOf {
		geo = append(geo, map[string]string{"CountryCode": country})
	}
	for _, region := range t.GeoRegionAnyOf {
		geo = append(geo, map[string]string{"Region": region})
	}
	for _, metro := range t.GeoMetroAnyOf {
		geo = append(geo, map[string]string{"MetroCode": metro})
	}
	if len(geo) > 0 {
		payload["GeoTargeting"] = geo
	}

	if len(t.KeywordsAnyOf) > 0 {
		payload["Keywords"] = strings.Join(t.KeywordsAnyOf, ",")
	}

	if t.FrequencyCap != nil && k.freqCapping {
		payload["FreqCap"] = 1
		payload["FreqCapDuration"] = t.FrequencyCap.SuppressMinutes
		payload["FreqCapType"] = 1 // minutes
	}

	var exprs []string
	if k.userDB {
		for _, segment := range t.AudiencesAnyOf {
			if interest := kevelInterestName(segment); interest != "" {
				exprs = append(exprs, fmt.Sprintf(`$user.interests CONTAINS %q`, interest))
			}
		}
	}
	for _, key := range sortedKeys(t.KeyValuePairs) {
		exprs = append(exprs, fmt.Sprintf(`$user.%s CONTAINS %q`, key, t.KeyValuePairs[key]))
	}

	if custom := t.CustomFor("kevel"); custom != nil {
		if siteIDs, ok := custom["site_ids"]; ok {
			payload["SiteZoneTargeting"] = siteIDs
		}
		if zoneIDs, ok := custom["zone_ids"]; ok {
			payload["ZoneIds"] = zoneIDs
		}
		if expr, ok := custom["custom_targeting"].(string); ok && expr != "" {
			exprs = append(exprs, "("+expr+")")
		}
	}

	if len(exprs) > 0 {
		payload["CustomTargeting"] = strings.Join(exprs, " AND ")
	}
	return payload
}

// kevelInterestName turns an audience segment "<provider>:<interest>" into
// the Title Case interest name Kevel's UserDB expressions expect.
func kevelInterestName(segment string) string {
	parts := strings.SplitN(segment, ":", 2)
	interest := parts[len(parts)-1]
	if interest == "" {
		return ""
	}
	words := strings.Split(interest, "_")
	for i, w := range words {
		if w == "" {
			continue
		}
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	for i := 1; i < len(keys); i++ {
		for j := i; j > 0 && keys[j] < keys[j-1]; j-- {
			keys[j], keys[j-1] = keys[j-1], keys[j]
		}
	}
	return keys
}

func (k *KevelAdapter) CreateMediaBuy(ctx context.Context, req *api.CreateMediaBuyRequest, packages []api.MediaPackage,
	start, end time.Time, pricing map[string]api.PackagePricingInfo) (*api.CreateMediaBuyResult, error) {

	buyerRef := buyerRefOrUnknown(req.BuyerRef)

	if err := validateFlightWindow(start, end, k.now()); err != nil {
		k.auditOperation(OpCreateMediaBuy, false, map[string]any{"error": err.Error()})
		return api.CreateError(api.ErrCodeAPIError, err.Error(), buyerRef), nil
	}

	// Check-then-act: no campaign or flight is created when any requested
	// dimension is unsupported.
	if problems := collectTargetingProblems(packages, k.validateTargeting); len(problems) > 0 {
		k.auditOperation(OpCreateMediaBuy, false, map[string]any{"unsupported": strings.Join(problems, "; ")})
		return unsupportedTargetingResult(req.BuyerRef, problems), nil
	}

	if k.requiresManualApproval(OpCreateMediaBuy) {
		stepID, err := k.createPendingStep(ctx, OpCreateMediaBuy, mustJSON(req))
		if err != nil {
			return nil, fmt.Errorf("failed to record pending step: %w", err)
		}
		k.auditOperation(OpCreateMediaBuy, true, map[string]any{"step_id": stepID, "pending": true})
		return &api.CreateMediaBuyResult{Success: &api.CreateMediaBuySuccess{
			MediaBuyID: api.PendingMediaBuyID,
			BuyerRef:   buyerRef,
			Packages:   []api.PackageResult{},
			Detail:     "manual approval required",
		}}, nil
	}

	total := TotalBudget(packages, pricing)
	daily := DailyBudget(total, start, end)

	campaign := map[string]any{
		"AdvertiserId": k.advertiserID,
		"Name":         req.BrandManifest.Name,
		"StartDate":    start.UTC().Format(time.RFC3339),
		"EndDate":      end.UTC().Format(time.RFC3339),
		"DailyBudget":  daily,
		"IsActive":     true,
	}

	var campaignID string
	if k.dryRun {
		campaignID = "dry_campaign_" + strings.Split(uuid.NewString(), "-")[0]
		k.logDryRun("would POST /campaign", "payload", campaign, "campaign_id", campaignID)
	} else {
		var created struct {
			ID int64 `json:"Id"`
		}
		if err := k.client.doJSON(ctx, http.MethodPost, k.baseURL+"/campaign", campaign, &created); err != nil {
			k.auditOperation(OpCreateMediaBuy, false, map[string]any{"error": err.Error()})
			return api.CreateError(api.ErrCodeAPIError, err.Error(), buyerRef), nil
		}
		campaignID = fmt.Sprintf("%d", created.ID)
	}

	// One flight per package, created in input order so positional pairing
	// stays valid.
	flightIDs := make([]string, 0, len(packages))
	for _, pkg := range packages {
		var info *api.PackagePricingInfo
		if p, ok := pricing[pkg.PackageID]; ok {
			info = &p
		}
		flight := map[string]any{
			"CampaignId":       campaignID,
			"Name":             pkg.Name,
			"StartDate":        start.UTC().Format(time.RFC3339),
			"EndDate":          end.UTC().Format(time.RFC3339),
			"Price":            EffectiveRate(pkg, info),
			"Impressions":      pkg.Impressions,
			"GoalType":         2, // impression goal
			"RateType":         2, // CPM
			"IsActive":         true,
			"CustomFieldsJson": fmt.Sprintf(`{"package_id":%q}`, pkg.PackageID),
		}
		for key, value := range k.buildTargeting(pkg.TargetingOverlay) {
			flight[key] = value
		}

		if k.dryRun {
			flightID := "dry_flight_" + strings.Split(uuid.NewString(), "-")[0]
			k.logDryRun("would POST /flight", "package_id", pkg.PackageID, "payload", flight)
			flightIDs = append(flightIDs, flightID)
			continue
		}
		var created struct {
			ID int64 `json:"Id"`
		}
		if err := k.client.doJSON(ctx, http.MethodPost, k.baseURL+"/flight", flight, &created); err != nil {
			k.auditOperation(OpCreateMediaBuy, false, map[string]any{"error": err.Error(), "package_id": pkg.PackageID})
			return api.CreateError(api.ErrCodeAPIError, err.Error(), buyerRef), nil
		}
		flightIDs = append(flightIDs, fmt.Sprintf("%d", created.ID))
	}

	k.auditOperation(OpCreateMediaBuy, true, map[string]any{
		"media_buy_id": "kevel_" + campaignID,
		"po_number":    req.PONumber,
		"flight_start": start.UTC().Format(time.RFC3339),
		"flight_end":   end.UTC().Format(time.RFC3339),
	})

	deadline := k.now().UTC().Add(creativeDeadlineOffset)
	return &api.CreateMediaBuyResult{Success: &api.CreateMediaBuySuccess{
		MediaBuyID:       "kevel_" + campaignID,
		BuyerRef:         buyerRef,
		Packages:         packageResults(packages, flightIDs),
		CreativeDeadline: &deadline,
	}}, nil
}

func (k *KevelAdapter) AddCreativeAssets(ctx context.Context, mediaBuyID string, assets []api.CreativeAsset, today time.Time) ([]api.AssetStatus, error) {
	if k.requiresManualApproval(OpAddCreativeAssets) {
		statuses, _, err := k.pendingAssets(ctx, mediaBuyID, assets)
		return statuses, err
	}

	statuses := make([]api.AssetStatus, 0, len(assets))
	for _, asset := range assets {
		payload := map[string]any{
			"AdvertiserId": k.advertiserID,
			"Title":        asset.Name,
			"Url":          asset.ClickURL,
			"ImageUrl":     asset.MediaURL,
			"IsActive":     true,
		}

		if k.dryRun {
			k.logDryRun("would POST /creative", "creative_id", asset.CreativeID, "payload", payload)
			statuses = append(statuses, api.AssetStatus{
				CreativeID: asset.CreativeID,
				Status:     api.AssetApproved,
				PlatformID: "dry_creative_" + strings.Split(uuid.NewString(), "-")[0],
			})
			continue
		}

		var created struct {
			ID int64 `json:"Id"`
		}
		if err := k.client.doJSON(ctx, http.MethodPost, k.baseURL+"/creative", payload, &created); err != nil {
			// One asset's failure never aborts the batch.
			k.logger.Error("creative upload failed", "creative_id", asset.CreativeID, "error", err)
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
			PlatformID: fmt.Sprintf("%d", created.ID),
		})
	}
	k.auditOperation(OpAddCreativeAssets, true, map[string]any{"media_buy_id": mediaBuyID, "assets": len(assets)})
	return statuses, nil
}

func (k *KevelAdapter) AssociateCreatives(ctx context.Context, lineItemIDs, platformCreativeIDs []string) ([]api.CreativeAssociation, error) {
	if k.requiresManualApproval(OpAssociateCreatives) {
		results, _, err := k.pendingAssociations(ctx, lineItemIDs, platformCreativeIDs)
		return results, err
	}

	// Kevel attaches the ad to its flight when the creative is uploaded,
	// so this call has nothing left to do. Reported, not silently ignored.
	results := make([]api.CreativeAssociation, 0, len(lineItemIDs)*len(platformCreativeIDs))
	for _, li := range lineItemIDs {
		for _, cr := range platformCreativeIDs {
			results = append(results, api.CreativeAssociation{
				LineItemID: li,
				CreativeID: cr,
				Status:     "skipped",
				Message:    "kevel associates creatives with flights at upload time",
			})
		}
	}
	return results, nil
}

func (k *KevelAdapter) CheckMediaBuyStatus(ctx context.Context, mediaBuyID string, today time.Time) (*api.CheckMediaBuyStatusResponse, error) {
	if k.dryRun {
		k.logDryRun("would GET /campaign for status", "media_buy_id", mediaBuyID)
		return &api.CheckMediaBuyStatusResponse{MediaBuyID: mediaBuyID, Status: api.StatusDelivering}, nil
	}

	var campaign struct {
		StartDate string `json:"StartDate"`
		EndDate   string `json:"EndDate"`
	}
	url := fmt.Sprintf("%s/campaign/%s", k.baseURL, strings.TrimPrefix(mediaBuyID, "kevel_"))
	if err := k.client.doJSON(ctx, http.MethodGet, url, nil, &campaign); err != nil {
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

func (k *KevelAdapter) GetMediaBuyDelivery(ctx context.Context, mediaBuyID string, dateRange api.DateRange, today time.Time) (*api.MediaBuyDeliveryResponse, error) {
	resp := &api.MediaBuyDeliveryResponse{
		MediaBuyID:      mediaBuyID,
		ReportingPeriod: dateRange,
		Currency:        DefaultCurrency,
	}

	if k.dryRun {
		k.logDryRun("would POST /report/queue", "media_buy_id", mediaBuyID)
		return resp, nil
	}

	var report struct {
		Grouping []struct {
			Impressions int64   `json:"Impressions"`
			Clicks      int64   `json:"Clicks"`
			Revenue     float64 `json:"Revenue"`
		} `json:"Grouping"`
	}
	payload := map[string]any{
		"StartDate": dateRange.Start.Format("2006-01-02"),
		"EndDate":   dateRange.End.Format("2006-01-02"),
		"Parameters": []map[string]any{
			{"campaignId": strings.TrimPrefix(mediaBuyID, "kevel_")},
		},
	}
	if err := k.client.doJSON(ctx, http.MethodPost, k.baseURL+"/report", payload, &report); err != nil {
		// Degrade to zeroed totals plus an explicit error when reporting is
		// unreachable within the retry budget.
		k.logger.Error("kevel report failed", "media_buy_id", mediaBuyID, "error", err)
		resp.Error = err.Error()
		return resp, nil
	}

	for _, row := range report.Grouping {
		resp.Totals.Impressions += row.Impressions
		resp.Totals.Clicks += row.Clicks
		resp.Totals.Spend += row.Revenue
	}
	if resp.Totals.Impressions > 0 {
		resp.Totals.CTR = float64(resp.Totals.Clicks) / float64(resp.Totals.Impressions)
	}
	return resp, nil
}

func (k *KevelAdapter) UpdateMediaBuyPerformanceIndex(ctx context.Context, mediaBuyID string, perf []api.PackagePerformance) (bool, error) {
	// Kevel has no direct priority lever per flight; intent is logged.
	for _, p := range perf {
		k.logger.Info("performance index noted (no kevel priority lever)",
			"media_buy_id", mediaBuyID, "package_id", p.PackageID, "index", p.PerformanceIndex)
	}
	return true, nil
}

func (k *KevelAdapter) UpdateMediaBuy(ctx context.Context, req *api.UpdateMediaBuyRequest) (*api.UpdateMediaBuyResult, error) {
	buyerRef := buyerRefOrUnknown(req.BuyerRef)

	if !mockUpdateActions[req.Action] {
		return api.UpdateError(api.ErrCodeUnsupportedAction,
			fmt.Sprintf("action %q is not supported by this adapter", req.Action), buyerRef), nil
	}

	if k.requiresManualApproval(OpUpdateMediaBuy) {
		result, _, err := k.pendingUpdate(ctx, req)
		return result, err
	}

	var affected []api.PackageResult
	now := k.now().UTC()

	switch req.Action {
	case api.ActionPauseMediaBuy, api.ActionResumeMediaBuy:
		active := req.Action == api.ActionResumeMediaBuy
		if k.dryRun {
			k.logDryRun("would PUT /campaign", "media_buy_id", req.MediaBuyID, "IsActive", active)
		} else if err := k.setCampaignActive(ctx, req.MediaBuyID, active); err != nil {
			return k.updateFailure(req, err, buyerRef), nil
		}

	case api.ActionPausePackage, api.ActionResumePackage:
		active := req.Action == api.ActionResumePackage
		if k.dryRun {
			k.logDryRun("would PUT /flight", "package_id", req.PackageID, "IsActive", active)
		} else if err := k.setFlightActive(ctx, req.PackageID, active); err != nil {
			return k.updateFailure(req, err, buyerRef), nil
		}
		affected = append(affected, api.PackageResult{PackageID: req.PackageID, Paused: !active})

	case api.ActionUpdatePackageBudget:
		if req.Budget == nil || *req.Budget <= 0 {
			return api.UpdateError(api.ErrCodeAPIError, "a positive budget is required for update_package_budget", buyerRef), nil
		}
		if k.dryRun {
			k.logDryRun("would PUT /flight budget", "package_id", req.PackageID, "budget", *req.Budget)
		} else if err := k.updateFlight(ctx, req.PackageID, map[string]any{"LifetimeCapAmount": *req.Budget}); err != nil {
			return k.updateFailure(req, err, buyerRef), nil
		}
		affected = append(affected, api.PackageResult{PackageID: req.PackageID, Paused: false})

	case api.ActionUpdatePackageImpressions:
		if req.Impressions == nil || *req.Impressions <= 0 {
			return api.UpdateError(api.ErrCodeAPIError, "a positive impression goal is required for update_package_impressions", buyerRef), nil
		}
		if k.dryRun {
			k.logDryRun("would PUT /flight impressions", "package_id", req.PackageID, "impressions", *req.Impressions)
		} else if err := k.updateFlight(ctx, req.PackageID, map[string]any{"Impressions": *req.Impressions}); err != nil {
			return k.updateFailure(req, err, buyerRef), nil
		}
		affected = append(affected, api.PackageResult{PackageID: req.PackageID, Paused: false})
	}

	k.auditOperation(OpUpdateMediaBuy, true, map[string]any{"media_buy_id": req.MediaBuyID, "action": req.Action})
	return &api.UpdateMediaBuyResult{Success: &api.UpdateMediaBuySuccess{
		MediaBuyID:         req.MediaBuyID,
		BuyerRef:           buyerRef,
		Status:             api.UpdateAccepted,
		ImplementationDate: &now,
		AffectedPackages:   affected,
	}}, nil
}

func (k *KevelAdapter) updateFailure(req *api.UpdateMediaBuyRequest, err error, buyerRef string) *api.UpdateMediaBuyResult {
	k.auditOperation(OpUpdateMediaBuy, false, map[string]any{"media_buy_id": req.MediaBuyID, "action": req.Action, "error": err.Error()})
	var nf *NotFoundError
	if errors.As(err, &nf) {
		return api.UpdateError(api.ErrCodeFlightNotFound, err.Error(), buyerRef)
	}
	return api.UpdateError(api.ErrCodeAPIError, err.Error(), buyerRef)
}

func (k *KevelAdapter) setCampaignActive(ctx context.Context, mediaBuyID string, active bool) error {
	url := fmt.Sprintf("%s/campaign/%s", k.baseURL, strings.TrimPrefix(mediaBuyID, "kevel_"))
	return k.client.doJSON(ctx, http.MethodPut, url, map[string]any{"IsActive": active}, nil)
}

// setFlightActive resolves the flight for a buyer package and toggles it.
func (k *KevelAdapter) setFlightActive(ctx context.Context, packageID string, active bool) error {
	flightID, err := k.flightForPackage(ctx, packageID)
	if err != nil {
		return err
	}
	return k.updateFlightByID(ctx, flightID, map[string]any{"IsActive": active})
}

func (k *KevelAdapter) updateFlight(ctx context.Context, packageID string, fields map[string]any) error {
	flightID, err := k.flightForPackage(ctx, packageID)
	if err != nil {
		return err
	}
	return k.updateFlightByID(ctx, flightID, fields)
}

func (k *KevelAdapter) updateFlightByID(ctx context.Context, flightID string, fields map[string]any) error {
	url := fmt.Sprintf("%s/flight/%s", k.baseURL, flightID)
	return k.client.doJSON(ctx, http.MethodPut, url, fields, nil)
}

// flightForPackage finds the flight whose custom fields carry the buyer's
// package_id.
func (k *KevelAdapter) flightForPackage(ctx context.Context, packageID string) (string, error) {
	var flights struct {
		Items []struct {
			ID               int64  `json:"Id"`
			CustomFieldsJson string `json:"CustomFieldsJson"`
		} `json:"items"`
	}
	if err := k.client.doJSON(ctx, http.MethodGet, k.baseURL+"/flight", nil, &flights); err != nil {
		return "", err
	}
	needle := fmt.Sprintf("%q", packageID)
	for _, f := range flights.Items {
		if strings.Contains(f.CustomFieldsJson, needle) {
			return fmt.Sprintf("%d", f.ID), nil
		}
	}
	return "", &NotFoundError{Resource: "flight for package", ID: packageID}
}
