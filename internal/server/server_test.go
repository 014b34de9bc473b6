package server

import (
	"context"
	"database/sql"
	"io"
	"log/slog"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/admesh/adcp-sales-agent/internal/adapters"
	"github.com/admesh/adcp-sales-agent/internal/api"
	"github.com/admesh/adcp-sales-agent/internal/auth"
	"github.com/admesh/adcp-sales-agent/internal/db"
	"github.com/admesh/adcp-sales-agent/internal/workflow"
)

const formatAgentURL = "https://creatives.example.com"

func testCatalog() []api.Product {
	return []api.Product{
		{
			ProductID:    "prod_display",
			Name:         "Run of Network Display",
			DeliveryType: "guaranteed",
			PricingOptions: []api.PricingOption{
				{PricingOptionID: "fixed_cpm", PricingModel: "cpm", Currency: "USD", IsFixed: true, Rate: 20.0},
				{
					PricingOptionID: "auction_cpm", PricingModel: "cpm", Currency: "USD", IsFixed: false,
					PriceGuidance: &api.PriceGuidance{Floor: 2.0, P50: 4.5},
				},
			},
			SupportedFormats: []api.SupportedFormat{
				{FormatID: api.FormatID{AgentURL: formatAgentURL, ID: "display_300x250"}},
				{FormatID: api.FormatID{AgentURL: formatAgentURL, ID: "display_728x90"}},
			},
		},
		{
			ProductID:    "prod_audio",
			Name:         "Streaming Audio",
			DeliveryType: "non_guaranteed",
			PricingOptions: []api.PricingOption{
				{PricingOptionID: "fixed_cpm", PricingModel: "cpm", Currency: "EUR", IsFixed: true, Rate: 8.0},
			},
			SupportedFormats: []api.SupportedFormat{
				{FormatID: api.FormatID{AgentURL: formatAgentURL, ID: "audio_30s"}},
			},
		},
	}
}

func serverPrincipal() *auth.Principal {
	return &auth.Principal{
		PrincipalID: "principal_test",
		Name:        "Test Buyer",
		Permissions: map[string][]auth.Permission{
			"products":   {auth.PermissionRead},
			"media_buys": {auth.PermissionRead, auth.PermissionWrite},
			"creatives":  {auth.PermissionWrite},
			"reports":    {auth.PermissionRead, auth.PermissionWrite},
		},
		PlatformMappings: map[string]map[string]string{
			"mock": {"advertiser_id": "10001"},
		},
	}
}

func newTestServer(t *testing.T) *Server {
	t.Helper()
	conn, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	_, err = conn.Exec(db.SchemaSQL)
	require.NoError(t, err)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	s := NewServer(conn, logger)
	s.Products = testCatalog()
	s.AdapterKind = adapters.KindMock
	s.Workflow = workflow.NewStore(conn, logger)
	s.TenantID = "default"
	return s
}

func principalContext(p *auth.Principal) context.Context {
	return context.WithValue(context.Background(), auth.ContextKeyPrincipal, p)
}

func validCreateRequest() *api.CreateMediaBuyRequest {
	start := time.Now().UTC().Add(time.Hour)
	end := start.Add(14 * 24 * time.Hour)
	return &api.CreateMediaBuyRequest{
		BuyerRef:      "br_server_1",
		BrandManifest: api.BrandManifest{URL: "https://brand.example.com", Name: "Acme Widgets"},
		StartTime:     start.Format(time.RFC3339),
		EndTime:       end.Format(time.RFC3339),
		Packages: []api.MediaBuyPackageReq{
			{
				BuyerRef:        "br_pkg_1",
				ProductID:       "prod_display",
				PricingOptionID: "fixed_cpm",
				FormatIDs:       []api.FormatID{{AgentURL: formatAgentURL, ID: "display_300x250"}},
				Budget:          1000,
			},
		},
	}
}

func validationCode(t *testing.T, err error) string {
	t.Helper()
	var ve ValidationError
	require.ErrorAs(t, err, &ve)
	return ve.Code
}

func TestValidateMediaBuyRequest(t *testing.T) {
	s := newTestServer(t)

	t.Run("valid request passes", func(t *testing.T) {
		assert.NoError(t, s.ValidateMediaBuyRequest(validCreateRequest()))
	})

	t.Run("missing brand url", func(t *testing.T) {
		req := validCreateRequest()
		req.BrandManifest.URL = ""
		assert.Equal(t, "MISSING_REQUIRED_FIELD", validationCode(t, s.ValidateMediaBuyRequest(req)))
	})

	t.Run("malformed brand url", func(t *testing.T) {
		req := validCreateRequest()
		req.BrandManifest.URL = "not a url"
		assert.Equal(t, "INVALID_URL", validationCode(t, s.ValidateMediaBuyRequest(req)))
	})

	t.Run("no packages", func(t *testing.T) {
		req := validCreateRequest()
		req.Packages = nil
		assert.Equal(t, "MISSING_PACKAGES", validationCode(t, s.ValidateMediaBuyRequest(req)))
	})

	t.Run("no budget or impressions", func(t *testing.T) {
		req := validCreateRequest()
		req.Packages[0].Budget = 0
		req.Packages[0].Impressions = 0
		assert.Equal(t, "INVALID_BUDGET", validationCode(t, s.ValidateMediaBuyRequest(req)))
	})

	t.Run("bad pacing", func(t *testing.T) {
		req := validCreateRequest()
		req.Packages[0].Pacing = "whenever"
		assert.Equal(t, "INVALID_PACING", validationCode(t, s.ValidateMediaBuyRequest(req)))
	})

	t.Run("unknown product", func(t *testing.T) {
		req := validCreateRequest()
		req.Packages[0].ProductID = "prod_ctv"
		assert.Equal(t, "INVALID_PRODUCT_ID", validationCode(t, s.ValidateMediaBuyRequest(req)))
	})

	t.Run("unknown pricing option", func(t *testing.T) {
		req := validCreateRequest()
		req.Packages[0].PricingOptionID = "flat_rate"
		assert.Equal(t, "INVALID_PRICING_OPTION_ID", validationCode(t, s.ValidateMediaBuyRequest(req)))
	})

	t.Run("bid price on fixed rate", func(t *testing.T) {
		req := validCreateRequest()
		bid := 3.5
		req.Packages[0].BidPrice = &bid
		assert.Equal(t, "INVALID_BID_PRICE", validationCode(t, s.ValidateMediaBuyRequest(req)))
	})

	t.Run("bid price on auction allowed", func(t *testing.T) {
		req := validCreateRequest()
		req.Packages[0].PricingOptionID = "auction_cpm"
		bid := 3.5
		req.Packages[0].BidPrice = &bid
		assert.NoError(t, s.ValidateMediaBuyRequest(req))
	})

	t.Run("format not offered by product", func(t *testing.T) {
		req := validCreateRequest()
		req.Packages[0].FormatIDs = []api.FormatID{{AgentURL: formatAgentURL, ID: "audio_30s"}}
		assert.Equal(t, "INVALID_FORMAT_ID", validationCode(t, s.ValidateMediaBuyRequest(req)))
	})
}

func TestParseDates(t *testing.T) {
	s := newTestServer(t)

	t.Run("missing values", func(t *testing.T) {
		_, _, err := s.parseDates("", "2026-10-01T00:00:00Z")
		assert.Equal(t, "MISSING_REQUIRED_FIELD", validationCode(t, err))
	})

	t.Run("bad start format", func(t *testing.T) {
		_, _, err := s.parseDates("next tuesday", "2026-10-01T00:00:00Z")
		assert.Equal(t, "INVALID_DATE_FORMAT", validationCode(t, err))
	})

	t.Run("start in the past", func(t *testing.T) {
		past := time.Now().UTC().Add(-time.Hour)
		_, _, err := s.parseDates(past.Format(time.RFC3339), past.Add(24*time.Hour).Format(time.RFC3339))
		assert.Equal(t, "INVALID_START_TIME", validationCode(t, err))
	})

	t.Run("recent start within tolerance", func(t *testing.T) {
		start := time.Now().UTC().Add(-5 * time.Minute)
		_, _, err := s.parseDates(start.Format(time.RFC3339), start.Add(24*time.Hour).Format(time.RFC3339))
		assert.NoError(t, err)
	})

	t.Run("end before start", func(t *testing.T) {
		start := time.Now().UTC().Add(time.Hour)
		_, _, err := s.parseDates(start.Format(time.RFC3339), start.Add(-time.Hour).Format(time.RFC3339))
		assert.Equal(t, "INVALID_DATE_RANGE", validationCode(t, err))
	})

	t.Run("valid range normalized to UTC", func(t *testing.T) {
		start := time.Now().Add(time.Hour).Format(time.RFC3339)
		end := time.Now().Add(48 * time.Hour).Format(time.RFC3339)
		gotStart, gotEnd, err := s.parseDates(start, end)
		require.NoError(t, err)
		assert.Equal(t, time.UTC, gotStart.Location())
		assert.Equal(t, time.UTC, gotEnd.Location())
		assert.True(t, gotEnd.After(gotStart))
	})
}

func TestBuildPackages(t *testing.T) {
	s := newTestServer(t)
	principal := serverPrincipal()
	ctx := context.Background()

	req := validCreateRequest()
	req.Packages = append(req.Packages, api.MediaBuyPackageReq{
		BuyerRef:        "br_pkg_2",
		ProductID:       "prod_audio",
		PricingOptionID: "fixed_cpm",
		FormatIDs:       []api.FormatID{{AgentURL: formatAgentURL, ID: "audio_30s"}},
		Impressions:     250000,
	})

	packages, pricing, err := s.buildPackages(ctx, principal, req)
	require.NoError(t, err)
	require.Len(t, packages, 2)

	// Budget-only package: impressions derived from the fixed rate.
	display := packages[0]
	assert.Contains(t, display.PackageID, "pkg_")
	assert.Equal(t, "Run of Network Display", display.Name)
	assert.Equal(t, "guaranteed", display.DeliveryType)
	assert.Equal(t, 20.0, display.CPM)
	assert.Equal(t, int64(50000), display.Impressions)
	require.NotNil(t, display.Budget)
	assert.Equal(t, 1000.0, *display.Budget)

	// Impression-goal package keeps its explicit goal.
	audio := packages[1]
	assert.Equal(t, int64(250000), audio.Impressions)
	assert.Nil(t, audio.Budget)

	info, ok := pricing[display.PackageID]
	require.True(t, ok)
	assert.True(t, info.IsFixed)
	assert.Equal(t, 20.0, info.Rate)
	assert.Equal(t, "USD", info.Currency)

	info, ok = pricing[audio.PackageID]
	require.True(t, ok)
	assert.Equal(t, "EUR", info.Currency)

	var count int
	require.NoError(t, s.DB.QueryRow(`SELECT COUNT(*) FROM packages WHERE media_buy_id = ''`).Scan(&count))
	assert.Equal(t, 2, count)
}

func TestCreateMediaBuyPersists(t *testing.T) {
	s := newTestServer(t)
	ctx := principalContext(serverPrincipal())

	result, err := s.CreateMediaBuy(ctx, CreateMediaBuyParams{Request: validCreateRequest()})
	require.NoError(t, err)
	require.NotNil(t, result.Success)
	assert.Nil(t, result.Error)
	assert.Equal(t, "br_server_1", result.Success.BuyerRef)
	require.Len(t, result.Success.Packages, 1)

	var buyerRef, principalID, adapterName, currency string
	var totalBudget float64
	err = s.DB.QueryRow(
		`SELECT buyer_ref, principal_id, adapter, currency, total_budget FROM media_buys WHERE media_buy_id = ?`,
		result.Success.MediaBuyID).Scan(&buyerRef, &principalID, &adapterName, &currency, &totalBudget)
	require.NoError(t, err)
	assert.Equal(t, "br_server_1", buyerRef)
	assert.Equal(t, "principal_test", principalID)
	assert.Equal(t, "mock", adapterName)
	assert.Equal(t, "USD", currency)
	assert.Equal(t, 1000.0, totalBudget)

	var linkedBuyID string
	err = s.DB.QueryRow(
		`SELECT media_buy_id FROM packages WHERE package_id = ?`,
		result.Success.Packages[0].PackageID).Scan(&linkedBuyID)
	require.NoError(t, err)
	assert.Equal(t, result.Success.MediaBuyID, linkedBuyID)
}

func TestCreateMediaBuyRejectedNotPersisted(t *testing.T) {
	s := newTestServer(t)
	ctx := principalContext(serverPrincipal())

	req := validCreateRequest()
	req.BrandManifest.Name = "Acme [REJECT:budget too low]"

	result, err := s.CreateMediaBuy(ctx, CreateMediaBuyParams{Request: req})
	require.NoError(t, err)
	require.NotNil(t, result.Error)
	assert.Equal(t, "rejected", result.Error.Code)

	var count int
	require.NoError(t, s.DB.QueryRow(`SELECT COUNT(*) FROM media_buys`).Scan(&count))
	assert.Zero(t, count)
}

func TestCreateMediaBuyPermissions(t *testing.T) {
	s := newTestServer(t)

	t.Run("no principal", func(t *testing.T) {
		_, err := s.CreateMediaBuy(context.Background(), CreateMediaBuyParams{Request: validCreateRequest()})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "authentication required")
	})

	t.Run("read-only principal", func(t *testing.T) {
		p := serverPrincipal()
		p.Permissions["media_buys"] = []auth.Permission{auth.PermissionRead}
		_, err := s.CreateMediaBuy(principalContext(p), CreateMediaBuyParams{Request: validCreateRequest()})
		var pe *auth.InsufficientPermissionsError
		require.ErrorAs(t, err, &pe)
		assert.Equal(t, "media_buys", pe.Resource)
	})
}

func TestGetProducts(t *testing.T) {
	s := newTestServer(t)

	products, err := s.GetProducts(principalContext(serverPrincipal()))
	require.NoError(t, err)
	assert.Len(t, products, 2)

	p := serverPrincipal()
	delete(p.Permissions, "products")
	_, err = s.GetProducts(principalContext(p))
	var pe *auth.InsufficientPermissionsError
	assert.ErrorAs(t, err, &pe)
}

func TestUpdateMediaBuyValidation(t *testing.T) {
	s := newTestServer(t)
	ctx := principalContext(serverPrincipal())

	_, err := s.UpdateMediaBuy(ctx, &api.UpdateMediaBuyRequest{Action: api.ActionPauseMediaBuy})
	assert.Equal(t, "MISSING_REQUIRED_FIELD", validationCode(t, err))

	_, err = s.UpdateMediaBuy(ctx, &api.UpdateMediaBuyRequest{MediaBuyID: "buy_1"})
	assert.Equal(t, "MISSING_REQUIRED_FIELD", validationCode(t, err))
}

func TestUpdateMediaBuyPausePersists(t *testing.T) {
	s := newTestServer(t)
	ctx := principalContext(serverPrincipal())

	created, err := s.CreateMediaBuy(ctx, CreateMediaBuyParams{Request: validCreateRequest()})
	require.NoError(t, err)
	require.NotNil(t, created.Success)

	result, err := s.UpdateMediaBuy(ctx, &api.UpdateMediaBuyRequest{
		MediaBuyID: created.Success.MediaBuyID,
		BuyerRef:   "br_server_1",
		Action:     api.ActionPauseMediaBuy,
		Today:      time.Now().UTC(),
	})
	require.NoError(t, err)
	require.NotNil(t, result.Success)
	require.NotEmpty(t, result.Success.AffectedPackages)

	var paused int
	err = s.DB.QueryRow(
		`SELECT paused FROM packages WHERE package_id = ?`,
		result.Success.AffectedPackages[0].PackageID).Scan(&paused)
	require.NoError(t, err)
	assert.Equal(t, 1, paused)
}

func TestUpdateMediaBuyBudgetPersists(t *testing.T) {
	s := newTestServer(t)
	ctx := principalContext(serverPrincipal())

	created, err := s.CreateMediaBuy(ctx, CreateMediaBuyParams{Request: validCreateRequest()})
	require.NoError(t, err)
	require.NotNil(t, created.Success)
	packageID := created.Success.Packages[0].PackageID

	budget := 2500.0
	result, err := s.UpdateMediaBuy(ctx, &api.UpdateMediaBuyRequest{
		MediaBuyID: created.Success.MediaBuyID,
		BuyerRef:   "br_server_1",
		Action:     api.ActionUpdatePackageBudget,
		PackageID:  packageID,
		Budget:     &budget,
		Today:      time.Now().UTC(),
	})
	require.NoError(t, err)
	require.NotNil(t, result.Success)

	var stored float64
	err = s.DB.QueryRow(`SELECT budget FROM packages WHERE package_id = ?`, packageID).Scan(&stored)
	require.NoError(t, err)
	assert.Equal(t, 2500.0, stored)
}

func TestSavePackageBudgetNotFound(t *testing.T) {
	s := newTestServer(t)

	err := s.SavePackageBudget(context.Background(), "buy_none", "pkg_none", 100)
	assert.Equal(t, "NOT_FOUND", validationCode(t, err))
}

func TestCheckMediaBuyStatus(t *testing.T) {
	s := newTestServer(t)
	ctx := principalContext(serverPrincipal())

	_, err := s.CheckMediaBuyStatus(ctx, "", time.Time{})
	assert.Equal(t, "MISSING_REQUIRED_FIELD", validationCode(t, err))

	_, err = s.CheckMediaBuyStatus(ctx, "buy_missing", time.Time{})
	assert.Equal(t, "NOT_FOUND", validationCode(t, err))

	created, err := s.CreateMediaBuy(ctx, CreateMediaBuyParams{Request: validCreateRequest()})
	require.NoError(t, err)
	require.NotNil(t, created.Success)

	resp, err := s.CheckMediaBuyStatus(ctx, created.Success.MediaBuyID, time.Time{})
	require.NoError(t, err)
	assert.Equal(t, created.Success.MediaBuyID, resp.MediaBuyID)
	assert.Equal(t, "br_server_1", resp.BuyerRef)
	assert.Equal(t, "pending_start", resp.Status)
}

func TestGetMediaBuyDeliveryValidation(t *testing.T) {
	s := newTestServer(t)
	ctx := principalContext(serverPrincipal())

	_, err := s.GetMediaBuyDelivery(ctx, "", api.DateRange{}, time.Time{})
	assert.Equal(t, "MISSING_REQUIRED_FIELD", validationCode(t, err))

	now := time.Now().UTC()
	_, err = s.GetMediaBuyDelivery(ctx, "buy_1",
		api.DateRange{Start: now, End: now.Add(-24 * time.Hour)}, time.Time{})
	assert.Equal(t, "INVALID_DATE_RANGE", validationCode(t, err))

	_, err = s.GetMediaBuyDelivery(ctx, "buy_missing",
		api.DateRange{Start: now, End: now.Add(24 * time.Hour)}, time.Time{})
	assert.Equal(t, "NOT_FOUND", validationCode(t, err))
}

func TestAddCreativeAssetsValidation(t *testing.T) {
	s := newTestServer(t)
	ctx := principalContext(serverPrincipal())

	_, err := s.AddCreativeAssets(ctx, "", []api.CreativeAsset{{CreativeID: "cr_1"}}, time.Time{})
	assert.Equal(t, "MISSING_REQUIRED_FIELD", validationCode(t, err))

	_, err = s.AddCreativeAssets(ctx, "buy_1", nil, time.Time{})
	assert.Equal(t, "MISSING_ASSETS", validationCode(t, err))

	_, err = s.AddCreativeAssets(ctx, "buy_1", []api.CreativeAsset{{Name: "no id"}}, time.Time{})
	assert.Equal(t, "MISSING_REQUIRED_FIELD", validationCode(t, err))
}

func TestAddCreativeAssetsThroughAdapter(t *testing.T) {
	s := newTestServer(t)
	ctx := principalContext(serverPrincipal())

	created, err := s.CreateMediaBuy(ctx, CreateMediaBuyParams{Request: validCreateRequest()})
	require.NoError(t, err)
	require.NotNil(t, created.Success)

	statuses, err := s.AddCreativeAssets(ctx, created.Success.MediaBuyID, []api.CreativeAsset{
		{CreativeID: "cr_1", Name: "banner"},
	}, time.Time{})
	require.NoError(t, err)
	require.Len(t, statuses, 1)
	assert.Equal(t, "cr_1", statuses[0].CreativeID)
	assert.Equal(t, "approved", statuses[0].Status)
}

func TestAssociateCreativesValidation(t *testing.T) {
	s := newTestServer(t)
	ctx := principalContext(serverPrincipal())

	_, err := s.AssociateCreatives(ctx, nil, []string{"plat_1"})
	assert.Equal(t, "MISSING_REQUIRED_FIELD", validationCode(t, err))

	_, err = s.AssociateCreatives(ctx, []string{"li_1"}, nil)
	assert.Equal(t, "MISSING_REQUIRED_FIELD", validationCode(t, err))
}

func TestUpdateMediaBuyPerformanceIndexValidation(t *testing.T) {
	s := newTestServer(t)
	ctx := principalContext(serverPrincipal())

	_, err := s.UpdateMediaBuyPerformanceIndex(ctx, "", nil)
	assert.Equal(t, "MISSING_REQUIRED_FIELD", validationCode(t, err))

	_, err = s.UpdateMediaBuyPerformanceIndex(ctx, "buy_1",
		[]api.PackagePerformance{{PackageID: "pkg_1", PerformanceIndex: -0.5}})
	assert.Equal(t, "INVALID_PERFORMANCE_INDEX", validationCode(t, err))
}
