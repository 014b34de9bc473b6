package adapters

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/admesh/adcp-sales-agent/internal/api"
	"github.com/admesh/adcp-sales-agent/internal/auth"
	"github.com/google/uuid"
)

// NotFoundError is the structured form of a missing-resource failure on the
// read paths.
type NotFoundError struct {
	Resource string
	ID       string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Resource, e.ID)
}

// creativeDeadlineOffset is how long after creation the buyer has to sync
// creatives.
const creativeDeadlineOffset = 48 * time.Hour

// MockAdapter simulates a strict ad-server platform. It is the only backend
// that exercises the full HITL state machine and the keyword-driven test
// scenarios; its in-memory store lets delivery reporting replay a created
// buy's pacing profile later.
type MockAdapter struct {
	base
	hitl    *HITLConfig
	store   *MediaBuyStore
	budgets BudgetPersister

	rngMu sync.Mutex
	rng   *rand.Rand
	sleep func(time.Duration)
	now   func() time.Time
}

func NewMockAdapter(cfg Config, principal *auth.Principal, deps Deps) *MockAdapter {
	store := deps.MockStore
	if store == nil {
		store = NewMediaBuyStore()
	}
	return &MockAdapter{
		base:    newBase("mock", cfg, principal, deps),
		hitl:    cfg.HITL,
		store:   store,
		budgets: deps.Budgets,
		rng:     rand.New(rand.NewSource(time.Now().UnixNano())),
		sleep:   time.Sleep,
		now:     time.Now,
	}
}

// validateCreateTargeting mirrors strict-platform contractual behavior for
// the create path: dimensions the platform cannot fulfill hard-fail the buy
// rather than being silently dropped.
func (m *MockAdapter) validateCreateTargeting(t *api.Targeting) []string {
	var problems []string
	if len(t.DeviceTypeAnyOf) > 0 || len(t.DeviceTypeNoneOf) > 0 {
		problems = append(problems, "device targeting is not supported")
	}
	if len(t.OSAnyOf) > 0 || len(t.OSNoneOf) > 0 {
		problems = append(problems, "OS targeting is not supported")
	}
	if len(t.BrowserAnyOf) > 0 || len(t.BrowserNoneOf) > 0 {
		problems = append(problems, "browser targeting is not supported")
	}
	if len(t.ContentCatAnyOf) > 0 || len(t.ContentCatNoneOf) > 0 {
		problems = append(problems, "content category targeting is not supported")
	}
	if len(t.KeywordsAnyOf) > 0 || len(t.KeywordsNoneOf) > 0 {
		problems = append(problems, "keyword targeting is not supported")
	}
	return problems
}

// buildTargeting renders the dimensions the simulated platform honors.
// Used for the dry-run trace.
func (m *MockAdapter) buildTargeting(t *api.Targeting) map[string]any {
	if t == nil {
		return nil
	}
	payload := make(map[string]any)
	if len(t.GeoCountryAnyOf) > 0 {
		payload["countries"] = t.GeoCountryAnyOf
	}
	if len(t.GeoRegionAnyOf) > 0 {
		payload["regions"] = t.GeoRegionAnyOf
	}
	if len(t.GeoMetroAnyOf) > 0 {
		payload["metros"] = t.GeoMetroAnyOf
	}
	if len(t.AudiencesAnyOf) > 0 {
		payload["audiences"] = t.AudiencesAnyOf
	}
	if len(t.MediaTypeAnyOf) > 0 {
		payload["media_types"] = t.MediaTypeAnyOf
	}
	if t.FrequencyCap != nil {
		payload["frequency_cap_minutes"] = t.FrequencyCap.SuppressMinutes
	}
	if len(t.KeyValuePairs) > 0 {
		payload["key_values"] = t.KeyValuePairs
	}
	return payload
}

func (m *MockAdapter) CreateMediaBuy(ctx context.Context, req *api.CreateMediaBuyRequest, packages []api.MediaPackage,
	start, end time.Time, pricing map[string]api.PackagePricingInfo) (*api.CreateMediaBuyResult, error) {

	buyerRef := buyerRefOrUnknown(req.BuyerRef)
	scenario := ParseScenario(req.BrandManifest.Name)

	// [REJECT] overrides every other keyword and every configured mode.
	if scenario.ShouldReject {
		m.auditOperation(OpCreateMediaBuy, false, map[string]any{"reason": scenario.RejectionReason})
		return api.CreateError("rejected", scenario.RejectionReason, buyerRef), nil
	}

	// [ERROR:...] simulates a genuine backend fault, so it raises.
	if scenario.ErrorMessage != "" {
		m.auditOperation(OpCreateMediaBuy, false, map[string]any{"error": scenario.ErrorMessage})
		return nil, errors.New(scenario.ErrorMessage)
	}

	// [QUESTION:...] parks the buy pending buyer input, without creating it.
	if scenario.ShouldAskQuestion {
		if m.workflow != nil {
			if _, err := m.createPendingStep(ctx, OpCreateMediaBuy, mustJSON(req)); err != nil {
				m.logger.Error("create question step failed", "error", err)
			}
		}
		return &api.CreateMediaBuyResult{Success: &api.CreateMediaBuySuccess{
			MediaBuyID: api.PendingMediaBuyID,
			BuyerRef:   buyerRef,
			Packages:   []api.PackageResult{},
			Detail:     "needs input: " + scenario.QuestionText,
		}}, nil
	}

	if err := validateFlightWindow(start, end, m.now()); err != nil {
		m.auditOperation(OpCreateMediaBuy, false, map[string]any{"error": err.Error()})
		return api.CreateError(api.ErrCodeAPIError, err.Error(), buyerRef), nil
	}

	// No quiet failures: refuse the whole buy before any mutation when a
	// requested dimension cannot be honored.
	if problems := collectTargetingProblems(packages, m.validateCreateTargeting); len(problems) > 0 {
		m.auditOperation(OpCreateMediaBuy, false, map[string]any{"unsupported": strings.Join(problems, "; ")})
		return unsupportedTargetingResult(req.BuyerRef, problems), nil
	}

	if scenario.DelaySeconds > 0 {
		m.logger.Info("simulating processing delay", "seconds", scenario.DelaySeconds)
		m.sleep(time.Duration(scenario.DelaySeconds) * time.Second)
	}

	if m.requiresManualApproval(OpCreateMediaBuy) {
		return m.pendingCreate(ctx, req, buyerRef, "manual approval required")
	}

	mode := m.hitl.ModeFor(OpCreateMediaBuy)
	forcedOutcome := ""
	syncDelay := m.hitl.SyncDelay()
	if scenario.UseAsync {
		mode = ModeAsync
	}
	if scenario.SimulateHITL {
		mode = ModeSync
		syncDelay = time.Duration(scenario.HITLDelayMinutes) * time.Minute
		forcedOutcome = scenario.HITLOutcome
	}

	switch mode {
	case ModeAsync:
		result, err := m.pendingCreate(ctx, req, buyerRef, "awaiting approval")
		if err != nil {
			return nil, err
		}
		return result, nil
	case ModeSync:
		m.syncWait(OpCreateMediaBuy, syncDelay)
		approved, reason := m.decideOutcome(forcedOutcome)
		if !approved {
			m.auditOperation(OpCreateMediaBuy, false, map[string]any{"reason": reason})
			return api.CreateError("rejected", reason, buyerRef), nil
		}
	}

	return m.executeCreate(req, packages, start, end, pricing, scenario, buyerRef)
}

// pendingCreate parks the create behind a durable workflow step and returns
// the pending-shaped response. Async auto-completion is scheduled here when
// configured.
func (m *MockAdapter) pendingCreate(ctx context.Context, req *api.CreateMediaBuyRequest, buyerRef, detail string) (*api.CreateMediaBuyResult, error) {
	stepID, err := m.createPendingStep(ctx, OpCreateMediaBuy, mustJSON(req))
	if err != nil {
		return nil, fmt.Errorf("failed to record pending step: %w", err)
	}
	m.logger.Info("media buy parked pending approval", "step_id", stepID, "buyer_ref", buyerRef)
	m.auditOperation(OpCreateMediaBuy, true, map[string]any{"step_id": stepID, "pending": true})

	if m.hitl != nil && m.hitl.Async.AutoComplete {
		m.scheduleAutoComplete(stepID, "")
	}

	return &api.CreateMediaBuyResult{Success: &api.CreateMediaBuySuccess{
		MediaBuyID: api.PendingMediaBuyID,
		BuyerRef:   buyerRef,
		Packages:   []api.PackageResult{},
		Detail:     detail,
	}}, nil
}

// executeCreate performs the immediate-mode creation: synthesize the media
// buy, record it, and normalize one result per input package in input order.
func (m *MockAdapter) executeCreate(req *api.CreateMediaBuyRequest, packages []api.MediaPackage,
	start, end time.Time, pricing map[string]api.PackagePricingInfo, scenario Scenario, buyerRef string) (*api.CreateMediaBuyResult, error) {

	mediaBuyID := "buy_" + strings.Split(uuid.NewString(), "-")[0]
	total := TotalBudget(packages, pricing)

	currency := DefaultCurrency
	for _, pkg := range packages {
		if info, ok := pricing[pkg.PackageID]; ok && info.Currency != "" {
			currency = info.Currency
			break
		}
	}

	if m.dryRun {
		m.logDryRun("would create media buy", "media_buy_id", mediaBuyID, "total_budget", total, "currency", currency)
		for _, pkg := range packages {
			m.logDryRun("would create flight",
				"package_id", pkg.PackageID,
				"impressions", pkg.Impressions,
				"targeting", m.buildTargeting(pkg.TargetingOverlay))
		}
	}

	m.store.Put(&MockMediaBuy{
		MediaBuyID:       mediaBuyID,
		BuyerRef:         buyerRef,
		PONumber:         req.PONumber,
		StrategyID:       req.StrategyID,
		Packages:         packages,
		Pricing:          pricing,
		TotalBudget:      total,
		Currency:         currency,
		StartTime:        start.UTC(),
		EndTime:          end.UTC(),
		Scenario:         scenario,
		PausedPackages:   make(map[string]bool),
		PerformanceIndex: make(map[string]float64),
	})

	deadline := m.now().UTC().Add(creativeDeadlineOffset)
	m.auditOperation(OpCreateMediaBuy, true, map[string]any{
		"media_buy_id": mediaBuyID,
		"po_number":    req.PONumber,
		"flight_start": start.UTC().Format(time.RFC3339),
		"flight_end":   end.UTC().Format(time.RFC3339),
	})

	return &api.CreateMediaBuyResult{Success: &api.CreateMediaBuySuccess{
		MediaBuyID:       mediaBuyID,
		BuyerRef:         buyerRef,
		Packages:         packageResults(packages, nil),
		CreativeDeadline: &deadline,
	}}, nil
}

// syncWait blocks for the sync-mode delay, optionally emitting periodic
// progress lines. The delay is subdivided into full update intervals with
// the final partial remainder slept separately.
func (m *MockAdapter) syncWait(operation string, delay time.Duration) {
	if delay <= 0 {
		return
	}
	streaming := m.hitl != nil && m.hitl.Sync.StreamingUpdates && m.hitl.Sync.UpdateIntervalMS > 0
	if !streaming {
		m.sleep(delay)
		return
	}

	interval := time.Duration(m.hitl.Sync.UpdateIntervalMS) * time.Millisecond
	elapsed := time.Duration(0)
	for elapsed+interval <= delay {
		m.sleep(interval)
		elapsed += interval
		m.logger.Info("still working", "operation", operation,
			"elapsed_ms", elapsed.Milliseconds(), "total_ms", delay.Milliseconds())
	}
	if rem := delay - elapsed; rem > 0 {
		m.sleep(rem)
	}
}

// decideOutcome resolves an approval: a forced HITL outcome wins, otherwise
// the configured approval simulation rolls.
func (m *MockAdapter) decideOutcome(forced string) (bool, string) {
	switch forced {
	case "approve", "approved":
		return true, ""
	case "reject", "rejected":
		return false, DefaultRejectionReason
	}
	sim := ApprovalSimulation{}
	if m.hitl != nil {
		sim = m.hitl.ApprovalSimulation
	}
	m.rngMu.Lock()
	defer m.rngMu.Unlock()
	return sim.Decide(m.rng)
}

// scheduleAutoComplete transitions a pending step on a detached worker after
// the configured delay. The worker re-acquires its own context; the original
// request's may already be gone. Once scheduled it always runs; there is no
// cancellation hook.
func (m *MockAdapter) scheduleAutoComplete(stepID, forced string) {
	delay := m.hitl.AutoCompleteDelay()
	asyncCfg := m.hitl.Async
	principalID := ""
	if m.principal != nil {
		principalID = m.principal.PrincipalID
	}

	go func() {
		m.sleep(delay)
		ctx := context.Background()

		approved, reason := m.decideOutcome(forced)
		status := "completed"
		errMsg := ""
		if !approved {
			status = "failed"
			errMsg = reason
		}
		if err := m.workflow.UpdateStep(ctx, stepID, status, nil, errMsg); err != nil {
			m.logger.Error("auto-complete step update failed", "step_id", stepID, "error", err)
			return
		}
		m.logger.Info("workflow step auto-completed", "step_id", stepID, "status", status, "approved", approved)

		if asyncCfg.WebhookOnComplete && asyncCfg.WebhookURL != "" && m.webhooks != nil {
			var rr *string
			if !approved {
				rr = &reason
			}
			m.webhooks.NotifyTaskCompleted(ctx, asyncCfg.WebhookURL, TaskEvent{
				StepID:          stepID,
				PrincipalID:     principalID,
				Status:          status,
				Approved:        approved,
				RejectionReason: rr,
				Timestamp:       time.Now().UTC(),
			})
		}
	}()
}

func (m *MockAdapter) AddCreativeAssets(ctx context.Context, mediaBuyID string, assets []api.CreativeAsset, today time.Time) ([]api.AssetStatus, error) {
	if _, ok := m.store.Get(mediaBuyID); !ok {
		statuses := make([]api.AssetStatus, 0, len(assets))
		for _, asset := range assets {
			statuses = append(statuses, api.AssetStatus{
				CreativeID: asset.CreativeID,
				Status:     api.AssetFailed,
				Message:    fmt.Sprintf("media buy %s not found", mediaBuyID),
			})
		}
		m.auditOperation(OpAddCreativeAssets, false, map[string]any{"media_buy_id": mediaBuyID, "error": "not found"})
		return statuses, nil
	}

	pendingBatch := m.requiresManualApproval(OpAddCreativeAssets) ||
		m.hitl.ModeFor(OpAddCreativeAssets) == ModeAsync
	if pendingBatch {
		stepID, err := m.createPendingStep(ctx, OpAddCreativeAssets, mustJSON(assets))
		if err != nil {
			return nil, fmt.Errorf("failed to record pending step: %w", err)
		}
		if m.hitl != nil && m.hitl.Async.AutoComplete {
			m.scheduleAutoComplete(stepID, "")
		}
		statuses := make([]api.AssetStatus, 0, len(assets))
		for _, asset := range assets {
			statuses = append(statuses, api.AssetStatus{
				CreativeID: asset.CreativeID,
				Status:     api.AssetPending,
				Message:    "awaiting approval (step " + stepID + ")",
			})
		}
		m.auditOperation(OpAddCreativeAssets, true, map[string]any{"media_buy_id": mediaBuyID, "step_id": stepID, "pending": true})
		return statuses, nil
	}

	if m.hitl.ModeFor(OpAddCreativeAssets) == ModeSync {
		m.syncWait(OpAddCreativeAssets, m.hitl.SyncDelay())
	}

	// Each asset's name is scanned independently, so one call can yield
	// mixed outcomes.
	statuses := make([]api.AssetStatus, 0, len(assets))
	var approved []string
	for _, asset := range assets {
		status := api.AssetStatus{CreativeID: asset.CreativeID, Status: api.AssetApproved}
		if action := ParseCreativeAction(asset.Name); action != nil {
			switch action.Action {
			case "reject":
				status.Status = api.AssetRejected
				status.Message = action.Reason
			case "ask":
				status.Status = api.AssetPending
				status.Message = "needs: " + action.Reason
			}
		}
		if status.Status == api.AssetApproved {
			status.PlatformID = "mock_cr_" + strings.Split(uuid.NewString(), "-")[0]
			approved = append(approved, asset.CreativeID)
		}
		if m.dryRun {
			m.logDryRun("would upload creative", "creative_id", asset.CreativeID, "status", status.Status)
		}
		statuses = append(statuses, status)
	}

	if len(approved) > 0 {
		m.store.Update(mediaBuyID, func(buy *MockMediaBuy) {
			buy.CreativeIDs = append(buy.CreativeIDs, approved...)
		})
	}
	m.auditOperation(OpAddCreativeAssets, true, map[string]any{"media_buy_id": mediaBuyID, "assets": len(assets)})
	return statuses, nil
}

func (m *MockAdapter) AssociateCreatives(ctx context.Context, lineItemIDs, platformCreativeIDs []string) ([]api.CreativeAssociation, error) {
	if m.requiresManualApproval(OpAssociateCreatives) || m.hitl.ModeFor(OpAssociateCreatives) == ModeAsync {
		results, stepID, err := m.pendingAssociations(ctx, lineItemIDs, platformCreativeIDs)
		if err != nil {
			return nil, err
		}
		if m.hitl != nil && m.hitl.Async.AutoComplete {
			m.scheduleAutoComplete(stepID, "")
		}
		return results, nil
	}

	// Creatives are already attached to their flights at upload time, so
	// association is reported as skipped, never silently ignored.
	results := make([]api.CreativeAssociation, 0, len(lineItemIDs)*len(platformCreativeIDs))
	for _, li := range lineItemIDs {
		for _, cr := range platformCreativeIDs {
			results = append(results, api.CreativeAssociation{
				LineItemID: li,
				CreativeID: cr,
				Status:     "skipped",
				Message:    "creative was associated during upload",
			})
		}
	}
	m.auditOperation(OpAssociateCreatives, true, map[string]any{"associations": len(results)})
	return results, nil
}

func (m *MockAdapter) CheckMediaBuyStatus(ctx context.Context, mediaBuyID string, today time.Time) (*api.CheckMediaBuyStatusResponse, error) {
	buy, ok := m.store.Get(mediaBuyID)
	if !ok {
		return nil, &NotFoundError{Resource: "media buy", ID: mediaBuyID}
	}
	return &api.CheckMediaBuyStatusResponse{
		MediaBuyID: mediaBuyID,
		BuyerRef:   buy.BuyerRef,
		Status:     dateDerivedStatus(buy.StartTime, buy.EndTime, today),
	}, nil
}

func (m *MockAdapter) GetMediaBuyDelivery(ctx context.Context, mediaBuyID string, dateRange api.DateRange, today time.Time) (*api.MediaBuyDeliveryResponse, error) {
	buy, ok := m.store.Get(mediaBuyID)
	if !ok {
		return nil, &NotFoundError{Resource: "media buy", ID: mediaBuyID}
	}

	resp := &api.MediaBuyDeliveryResponse{
		MediaBuyID:      mediaBuyID,
		ReportingPeriod: dateRange,
		Currency:        buy.Currency,
	}

	if buy.Scenario.SimulateOutage {
		resp.Error = "simulated reporting outage"
		m.logger.Warn("delivery report degraded", "media_buy_id", mediaBuyID, "error", resp.Error)
		return resp, nil
	}

	today = today.UTC()
	if today.Before(buy.StartTime) {
		return resp, nil
	}

	totalDays := FlightDays(buy.StartTime, buy.EndTime)
	currentDay := int(today.Sub(buy.StartTime).Hours()/24) + 1
	if currentDay > totalDays {
		currentDay = totalDays
	}

	var spend float64
	if today.After(buy.EndTime) {
		// Slight over/under-delivery at flight end.
		spend = buy.TotalBudget * (0.95 + m.randFloat()*0.10)
	} else {
		var progress float64
		if buy.Scenario.DeliveryPercentage != nil {
			progress = clamp01(*buy.Scenario.DeliveryPercentage / 100.0)
		} else {
			m.rngMu.Lock()
			progress = ProgressRatio(buy.Scenario.DeliveryProfile, currentDay, totalDays, m.rng)
			m.rngMu.Unlock()
		}
		spend = buy.TotalBudget * progress
	}

	resp.Totals = simulatedTotals(spend)
	resp.ByPackage = m.packageBreakdown(buy, spend)
	resp.DailyBreakdown = m.dailyBreakdown(buy, currentDay, totalDays)
	return resp, nil
}

func (m *MockAdapter) randFloat() float64 {
	m.rngMu.Lock()
	defer m.rngMu.Unlock()
	return m.rng.Float64()
}

// simulatedTotals derives the volume metrics from spend at the fixed
// reference CPM.
func simulatedTotals(spend float64) api.DeliveryTotals {
	impressions := int64(spend / (SimulationCPM / 1000.0))
	totals := api.DeliveryTotals{
		Impressions: impressions,
		Spend:       spend,
	}
	if impressions > 0 {
		totals.Clicks = impressions / 500
		totals.CTR = float64(totals.Clicks) / float64(impressions)
		totals.VideoCompletions = impressions * 70 / 100
		totals.CompletionRate = 0.70
	}
	return totals
}

// packageBreakdown splits spend across packages proportionally to their
// budget contributions, priced the same way the create call priced them.
func (m *MockAdapter) packageBreakdown(buy MockMediaBuy, spend float64) []api.PackageDelivery {
	if len(buy.Packages) == 0 || buy.TotalBudget <= 0 {
		return nil
	}
	breakdown := make([]api.PackageDelivery, 0, len(buy.Packages))
	for _, pkg := range buy.Packages {
		var info *api.PackagePricingInfo
		if p, ok := buy.Pricing[pkg.PackageID]; ok {
			info = &p
		}
		share := PackageBudget(pkg, info) / buy.TotalBudget
		pkgSpend := spend * share
		breakdown = append(breakdown, api.PackageDelivery{
			PackageID:   pkg.PackageID,
			Impressions: int64(pkgSpend / (SimulationCPM / 1000.0)),
			Spend:       pkgSpend,
		})
	}
	return breakdown
}

// dailyBreakdown simulates per-day delivery under the strategy multiplier,
// hard-capped at total budget unless the budget-exceeded scenario forces a
// 15% overspend.
func (m *MockAdapter) dailyBreakdown(buy MockMediaBuy, currentDay, totalDays int) []api.DailyDelivery {
	if currentDay < 1 {
		return nil
	}
	mult := StrategyMultiplier(buy.StrategyID)
	spendCap := buy.TotalBudget
	if OverspendAllowed(buy.StrategyID) {
		spendCap = buy.TotalBudget * 1.15
	}

	baseDaily := buy.TotalBudget / float64(totalDays)
	days := make([]api.DailyDelivery, 0, currentDay)
	cumulative := 0.0
	for day := 1; day <= currentDay; day++ {
		daySpend := baseDaily * mult
		if cumulative+daySpend > spendCap {
			daySpend = spendCap - cumulative
		}
		if daySpend < 0 {
			daySpend = 0
		}
		cumulative += daySpend
		days = append(days, api.DailyDelivery{
			Date:        buy.StartTime.AddDate(0, 0, day-1).Format("2006-01-02"),
			Impressions: int64(daySpend / (SimulationCPM / 1000.0)),
			Spend:       daySpend,
		})
	}
	return days
}

func (m *MockAdapter) UpdateMediaBuyPerformanceIndex(ctx context.Context, mediaBuyID string, perf []api.PackagePerformance) (bool, error) {
	ok := m.store.Update(mediaBuyID, func(buy *MockMediaBuy) {
		for _, p := range perf {
			buy.PerformanceIndex[p.PackageID] = p.PerformanceIndex
		}
	})
	if !ok {
		return false, &NotFoundError{Resource: "media buy", ID: mediaBuyID}
	}
	// No true priority lever in the simulation; recording intent is the
	// whole effect.
	m.logger.Info("performance index updated", "media_buy_id", mediaBuyID, "packages", len(perf))
	return true, nil
}

// mockUpdateActions is the shared (non-GAM) update vocabulary.
var mockUpdateActions = map[string]bool{
	api.ActionPauseMediaBuy:            true,
	api.ActionResumeMediaBuy:           true,
	api.ActionPausePackage:             true,
	api.ActionResumePackage:            true,
	api.ActionUpdatePackageBudget:      true,
	api.ActionUpdatePackageImpressions: true,
}

func (m *MockAdapter) UpdateMediaBuy(ctx context.Context, req *api.UpdateMediaBuyRequest) (*api.UpdateMediaBuyResult, error) {
	buyerRef := buyerRefOrUnknown(req.BuyerRef)

	if !mockUpdateActions[req.Action] {
		return api.UpdateError(api.ErrCodeUnsupportedAction,
			fmt.Sprintf("action %q is not supported by this adapter", req.Action), buyerRef), nil
	}

	if m.requiresManualApproval(OpUpdateMediaBuy) || m.hitl.ModeFor(OpUpdateMediaBuy) == ModeAsync {
		result, stepID, err := m.pendingUpdate(ctx, req)
		if err != nil {
			return nil, err
		}
		if m.hitl != nil && m.hitl.Async.AutoComplete {
			m.scheduleAutoComplete(stepID, "")
		}
		return result, nil
	}

	buy, ok := m.store.Get(req.MediaBuyID)
	if !ok {
		return api.UpdateError(api.ErrCodeFlightNotFound,
			fmt.Sprintf("media buy %s not found", req.MediaBuyID), buyerRef), nil
	}

	var affected []api.PackageResult
	switch req.Action {
	case api.ActionPauseMediaBuy, api.ActionResumeMediaBuy:
		paused := req.Action == api.ActionPauseMediaBuy
		m.store.Update(req.MediaBuyID, func(b *MockMediaBuy) { b.Paused = paused })
		for _, pkg := range buy.Packages {
			affected = append(affected, api.PackageResult{PackageID: pkg.PackageID, BuyerRef: pkg.BuyerRef, Paused: paused})
		}

	case api.ActionPausePackage, api.ActionResumePackage:
		pkg, found := findPackage(buy.Packages, req.PackageID)
		if !found {
			return api.UpdateError(api.ErrCodeFlightNotFound,
				fmt.Sprintf("package %s not found in media buy %s", req.PackageID, req.MediaBuyID), buyerRef), nil
		}
		paused := req.Action == api.ActionPausePackage
		m.store.Update(req.MediaBuyID, func(b *MockMediaBuy) { b.PausedPackages[req.PackageID] = paused })
		affected = append(affected, api.PackageResult{PackageID: pkg.PackageID, BuyerRef: pkg.BuyerRef, Paused: paused})

	case api.ActionUpdatePackageBudget:
		pkg, found := findPackage(buy.Packages, req.PackageID)
		if !found {
			return api.UpdateError(api.ErrCodeFlightNotFound,
				fmt.Sprintf("package %s not found in media buy %s", req.PackageID, req.MediaBuyID), buyerRef), nil
		}
		if req.Budget == nil || *req.Budget <= 0 {
			return api.UpdateError(api.ErrCodeAPIError, "a positive budget is required for update_package_budget", buyerRef), nil
		}
		m.store.Update(req.MediaBuyID, func(b *MockMediaBuy) {
			for i := range b.Packages {
				if b.Packages[i].PackageID == req.PackageID {
					b.Packages[i].Budget = req.Budget
				}
			}
		})
		if m.budgets != nil {
			if err := m.budgets.SavePackageBudget(ctx, req.MediaBuyID, req.PackageID, *req.Budget); err != nil {
				m.auditOperation(OpUpdateMediaBuy, false, map[string]any{"error": err.Error()})
				return api.UpdateError(api.ErrCodeAPIError, err.Error(), buyerRef), nil
			}
		}
		affected = append(affected, api.PackageResult{PackageID: pkg.PackageID, BuyerRef: pkg.BuyerRef, Paused: buy.PausedPackages[req.PackageID]})

	case api.ActionUpdatePackageImpressions:
		pkg, found := findPackage(buy.Packages, req.PackageID)
		if !found {
			return api.UpdateError(api.ErrCodeFlightNotFound,
				fmt.Sprintf("package %s not found in media buy %s", req.PackageID, req.MediaBuyID), buyerRef), nil
		}
		if req.Impressions == nil || *req.Impressions <= 0 {
			return api.UpdateError(api.ErrCodeAPIError, "a positive impression goal is required for update_package_impressions", buyerRef), nil
		}
		m.store.Update(req.MediaBuyID, func(b *MockMediaBuy) {
			for i := range b.Packages {
				if b.Packages[i].PackageID == req.PackageID {
					b.Packages[i].Impressions = *req.Impressions
				}
			}
		})
		affected = append(affected, api.PackageResult{PackageID: pkg.PackageID, BuyerRef: pkg.BuyerRef, Paused: buy.PausedPackages[req.PackageID]})
	}

	now := m.now().UTC()
	m.auditOperation(OpUpdateMediaBuy, true, map[string]any{"media_buy_id": req.MediaBuyID, "action": req.Action})
	return &api.UpdateMediaBuyResult{Success: &api.UpdateMediaBuySuccess{
		MediaBuyID:         req.MediaBuyID,
		BuyerRef:           buyerRef,
		Status:             api.UpdateAccepted,
		ImplementationDate: &now,
		AffectedPackages:   affected,
	}}, nil
}

func findPackage(packages []api.MediaPackage, packageID string) (api.MediaPackage, bool) {
	for _, pkg := range packages {
		if pkg.PackageID == packageID {
			return pkg, true
		}
	}
	return api.MediaPackage{}, false
}

func mustJSON(v any) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		return []byte("{}")
	}
	return data
}
