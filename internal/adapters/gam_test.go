package adapters

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/admesh/adcp-sales-agent/internal/api"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestGAM(t *testing.T, deps Deps) *GAMAdapter {
	t.Helper()
	if deps.Logger == nil {
		deps.Logger = quietLogger()
	}
	g, err := NewGAMAdapter(Config{NetworkID: "123456"}, testPrincipal(), deps)
	require.NoError(t, err)
	g.now = func() time.Time { return testNow }
	return g
}

func TestNewGAMAdapterConfigErrors(t *testing.T) {
	deps := Deps{Logger: quietLogger()}

	_, err := NewGAMAdapter(Config{}, testPrincipal(), deps)
	assert.ErrorContains(t, err, "network_id")

	principal := testPrincipal()
	delete(principal.PlatformMappings, "gam")
	_, err = NewGAMAdapter(Config{NetworkID: "123456"}, principal, deps)
	assert.ErrorContains(t, err, "no gam advertiser mapping")
}

func TestGAMValidateTargeting(t *testing.T) {
	g := newTestGAM(t, Deps{})

	// The broadest translator: everything standard maps to a native concept.
	problems := g.validateTargeting(&api.Targeting{
		GeoCountryAnyOf: []string{"US"},
		DeviceTypeAnyOf: []string{"ctv"},
		OSAnyOf:         []string{"ios"},
		BrowserAnyOf:    []string{"chrome"},
		ContentCatAnyOf: []string{"IAB1"},
		KeywordsAnyOf:   []string{"sports"},
		AudiencesAnyOf:  []string{"provider:fans"},
		MediaTypeAnyOf:  []string{"display", "video", "audio", "native"},
		FrequencyCap:    &api.FrequencyCap{SuppressMinutes: 30, Scope: "media_buy"},
	})
	assert.Empty(t, problems)

	problems = g.validateTargeting(&api.Targeting{MediaTypeAnyOf: []string{"billboard"}})
	require.Len(t, problems, 1)
	assert.Contains(t, problems[0], `media type "billboard"`)
}

func TestGAMBuildTargeting(t *testing.T) {
	g := newTestGAM(t, Deps{})

	payload := g.buildTargeting(&api.Targeting{
		GeoCountryAnyOf:  []string{"US"},
		GeoCountryNoneOf: []string{"RU"},
		GeoCityAnyOf:     []string{"Austin"},
		DeviceTypeAnyOf:  []string{"mobile"},
		OSAnyOf:          []string{"android"},
		ContentCatNoneOf: []string{"IAB25"},
		AudiencesAnyOf:   []string{"seg_9"},
		KeywordsAnyOf:    []string{"sports"},
		KeyValuePairs:    map[string]string{"aee_segment": "s1"},
		FrequencyCap:     &api.FrequencyCap{SuppressMinutes: 60, Scope: "media_buy"},
		Custom:           map[string]map[string]any{"gam": {"team_ids": []string{"t1"}}},
	})

	geo, ok := payload["geo_targeting"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, []string{"US"}, geo["targeted_countries"])
	assert.Equal(t, []string{"RU"}, geo["excluded_countries"])
	assert.Equal(t, []string{"Austin"}, geo["targeted_cities"])

	tech, ok := payload["technology_targeting"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, []string{"mobile"}, tech["device_categories"])
	assert.Equal(t, []string{"android"}, tech["operating_systems"])

	content, ok := payload["content_targeting"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, []string{"IAB25"}, content["excluded_categories"])

	custom, ok := payload["custom_targeting"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, []string{"sports"}, custom["keywords"])
	assert.Equal(t, "s1", custom["aee_segment"])

	caps, ok := payload["frequency_caps"].([]map[string]any)
	require.True(t, ok)
	require.Len(t, caps, 1)
	assert.Equal(t, 60, caps[0]["num_time_units"])
	assert.Equal(t, "media_buy", caps[0]["scope"])

	assert.Equal(t, []string{"t1"}, payload["team_ids"], "escape hatch passes through")
}

func TestGAMOrderStatusMapping(t *testing.T) {
	assert.Equal(t, api.StatusPendingCreative, gamOrderStatus["DRAFT"])
	assert.Equal(t, api.StatusPendingCreative, gamOrderStatus["PENDING_APPROVAL"])
	assert.Equal(t, api.StatusActive, gamOrderStatus["APPROVED"])
	assert.Equal(t, api.StatusActive, gamOrderStatus["DELIVERING"])
	assert.Equal(t, api.StatusPaused, gamOrderStatus["PAUSED"])
	assert.Equal(t, api.StatusFailed, gamOrderStatus["CANCELED"])
	assert.Equal(t, api.StatusFailed, gamOrderStatus["DELETED"])
}

func TestGAMCreateMediaBuyDryRun(t *testing.T) {
	g := newTestGAM(t, Deps{DryRun: true})
	start, end := testWindow()

	pricing := map[string]api.PackagePricingInfo{
		"pkg_a": {PricingModel: "cpm", IsFixed: true, Rate: 22.0, Currency: "USD"},
	}
	result, err := g.CreateMediaBuy(context.Background(), testCreateRequest("ref_1", "Acme"), testPackages(), start, end, pricing)
	require.NoError(t, err)
	require.NotNil(t, result.Success)
	assert.True(t, strings.HasPrefix(result.Success.MediaBuyID, "gam_"))
	require.Len(t, result.Success.Packages, 2)
	assert.Equal(t, "pkg_a", result.Success.Packages[0].PackageID)
	assert.NotEmpty(t, result.Success.Packages[0].PlatformID)
}

func TestGAMUpdateMediaBuyLifecycleActions(t *testing.T) {
	g := newTestGAM(t, Deps{DryRun: true})

	for _, action := range []string{
		api.ActionActivateOrder,
		api.ActionSubmitForApproval,
		api.ActionApproveOrder,
		api.ActionArchiveOrder,
		api.ActionPauseMediaBuy,
		api.ActionResumeMediaBuy,
	} {
		result, err := g.UpdateMediaBuy(context.Background(), &api.UpdateMediaBuyRequest{
			MediaBuyID: "gam_9", BuyerRef: "ref_1", Action: action,
		})
		require.NoError(t, err)
		require.NotNil(t, result.Success, "action %s", action)
		assert.Equal(t, "accepted", result.Success.Status)
	}

	result, err := g.UpdateMediaBuy(context.Background(), &api.UpdateMediaBuyRequest{
		MediaBuyID: "gam_9", BuyerRef: "ref_1", Action: "delete_everything",
	})
	require.NoError(t, err)
	require.NotNil(t, result.Error)
	assert.Equal(t, api.ErrCodeUnsupportedAction, result.Error.Code)
}

func TestGAMUpdateMediaBuyPackageActionsDryRun(t *testing.T) {
	g := newTestGAM(t, Deps{DryRun: true})

	result, err := g.UpdateMediaBuy(context.Background(), &api.UpdateMediaBuyRequest{
		MediaBuyID: "gam_9", BuyerRef: "ref_1", Action: api.ActionPausePackage, PackageID: "pkg_a",
	})
	require.NoError(t, err)
	require.NotNil(t, result.Success)
	require.Len(t, result.Success.AffectedPackages, 1)
	assert.True(t, result.Success.AffectedPackages[0].Paused)

	budget := 0.0
	result, err = g.UpdateMediaBuy(context.Background(), &api.UpdateMediaBuyRequest{
		MediaBuyID: "gam_9", BuyerRef: "ref_1", Action: api.ActionUpdatePackageBudget,
		PackageID: "pkg_a", Budget: &budget,
	})
	require.NoError(t, err)
	require.NotNil(t, result.Error)
	assert.Equal(t, api.ErrCodeAPIError, result.Error.Code)
}

func TestGAMPerformanceIndexDryRun(t *testing.T) {
	g := newTestGAM(t, Deps{DryRun: true})

	ok, err := g.UpdateMediaBuyPerformanceIndex(context.Background(), "gam_9", []api.PackagePerformance{
		{PackageID: "pkg_a", PerformanceIndex: 1.4},
		{PackageID: "pkg_b", PerformanceIndex: 0.5},
	})
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestGAMAddCreativeAssetsManualApproval(t *testing.T) {
	wf := &stubWorkflow{}
	g, err := NewGAMAdapter(Config{NetworkID: "123456", ManualApprovalRequired: true},
		testPrincipal(), Deps{Logger: quietLogger(), Workflow: wf})
	require.NoError(t, err)

	statuses, err := g.AddCreativeAssets(context.Background(), "gam_9",
		[]api.CreativeAsset{{CreativeID: "cr_1", Name: "hero"}, {CreativeID: "cr_2", Name: "side"}}, testNow)
	require.NoError(t, err)
	require.Len(t, statuses, 2)
	for _, s := range statuses {
		assert.Equal(t, api.AssetPending, s.Status)
	}
	require.Len(t, wf.steps, 1)
	assert.Equal(t, OpAddCreativeAssets, wf.steps[0].ToolName)
}

func TestGAMUpdateMediaBuyManualApproval(t *testing.T) {
	wf := &stubWorkflow{}
	g, err := NewGAMAdapter(Config{NetworkID: "123456", ManualApprovalRequired: true},
		testPrincipal(), Deps{Logger: quietLogger(), Workflow: wf})
	require.NoError(t, err)

	result, err := g.UpdateMediaBuy(context.Background(), &api.UpdateMediaBuyRequest{
		MediaBuyID: "gam_9", BuyerRef: "ref_1", Action: api.ActionPauseMediaBuy,
	})
	require.NoError(t, err)
	require.NotNil(t, result.Success)
	assert.Equal(t, api.UpdatePendingApproval, result.Success.Status)
	assert.Contains(t, result.Success.Detail, "awaiting approval")
	require.Len(t, wf.steps, 1)
	assert.Equal(t, OpUpdateMediaBuy, wf.steps[0].ToolName)

	// An action outside the vocabulary is still refused, never parked.
	result, err = g.UpdateMediaBuy(context.Background(), &api.UpdateMediaBuyRequest{
		MediaBuyID: "gam_9", BuyerRef: "ref_1", Action: "delete_everything",
	})
	require.NoError(t, err)
	require.NotNil(t, result.Error)
	assert.Equal(t, api.ErrCodeUnsupportedAction, result.Error.Code)
	assert.Len(t, wf.steps, 1)
}

func TestGAMAssociateCreativesManualApproval(t *testing.T) {
	wf := &stubWorkflow{}
	g, err := NewGAMAdapter(Config{NetworkID: "123456", ManualApprovalRequired: true},
		testPrincipal(), Deps{Logger: quietLogger(), Workflow: wf})
	require.NoError(t, err)

	results, err := g.AssociateCreatives(context.Background(), []string{"li_1"}, []string{"cr_1"})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "pending", results[0].Status)
	require.Len(t, wf.steps, 1)
	assert.Equal(t, OpAssociateCreatives, wf.steps[0].ToolName)
}
