package adapters

import (
	"testing"
	"time"

	"github.com/admesh/adcp-sales-agent/internal/api"
	"github.com/stretchr/testify/assert"
)

func TestEffectiveRate(t *testing.T) {
	pkg := api.MediaPackage{PackageID: "pkg_1", CPM: 5.0}

	t.Run("no pricing info falls back to legacy cpm", func(t *testing.T) {
		assert.Equal(t, 5.0, EffectiveRate(pkg, nil))
	})

	t.Run("fixed rate wins", func(t *testing.T) {
		info := &api.PackagePricingInfo{IsFixed: true, Rate: 22.0}
		assert.Equal(t, 22.0, EffectiveRate(pkg, info))
	})

	t.Run("auction uses bid price", func(t *testing.T) {
		bid := 3.5
		info := &api.PackagePricingInfo{IsFixed: false, BidPrice: &bid}
		assert.Equal(t, 3.5, EffectiveRate(pkg, info))
	})

	t.Run("auction without bid falls back to legacy cpm", func(t *testing.T) {
		info := &api.PackagePricingInfo{IsFixed: false}
		assert.Equal(t, 5.0, EffectiveRate(pkg, info))
	})
}

func TestPackageBudget(t *testing.T) {
	t.Run("explicit budget is authoritative", func(t *testing.T) {
		budget := 1500.0
		pkg := api.MediaPackage{PackageID: "pkg_1", CPM: 10.0, Impressions: 1_000_000, Budget: &budget}
		assert.Equal(t, 1500.0, PackageBudget(pkg, nil))
	})

	t.Run("derived from rate and impressions", func(t *testing.T) {
		pkg := api.MediaPackage{PackageID: "pkg_1", Impressions: 500_000}
		info := &api.PackagePricingInfo{IsFixed: true, Rate: 18.0}
		assert.Equal(t, 9000.0, PackageBudget(pkg, info))
	})

	t.Run("zero budget pointer is ignored", func(t *testing.T) {
		budget := 0.0
		pkg := api.MediaPackage{PackageID: "pkg_1", CPM: 10.0, Impressions: 100_000, Budget: &budget}
		assert.Equal(t, 1000.0, PackageBudget(pkg, nil))
	})
}

func TestTotalBudget(t *testing.T) {
	b1 := 600.0
	packages := []api.MediaPackage{
		{PackageID: "pkg_1", Budget: &b1},
		{PackageID: "pkg_2", Impressions: 100_000},
		{PackageID: "pkg_3", CPM: 4.0, Impressions: 100_000},
	}
	pricing := map[string]api.PackagePricingInfo{
		"pkg_2": {IsFixed: true, Rate: 20.0},
	}

	// 600 + 20*100 + 4*100
	assert.Equal(t, 3000.0, TotalBudget(packages, pricing))
}

func TestFlightDays(t *testing.T) {
	day := func(d int) time.Time {
		return time.Date(2026, 3, d, 0, 0, 0, 0, time.UTC)
	}

	assert.Equal(t, 1, FlightDays(day(1), day(1)))
	assert.Equal(t, 7, FlightDays(day(1), day(7)))
	assert.Equal(t, 1, FlightDays(day(7), day(1)), "inverted windows floor to one day")

	// Partial days still count by calendar date.
	start := time.Date(2026, 3, 1, 23, 0, 0, 0, time.UTC)
	end := time.Date(2026, 3, 2, 1, 0, 0, 0, time.UTC)
	assert.Equal(t, 2, FlightDays(start, end))
}

func TestDailyBudget(t *testing.T) {
	start := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)
	assert.InDelta(t, 100.0, DailyBudget(1000.0, start, end), 1e-9)
}

func TestPricingCurrency(t *testing.T) {
	assert.Equal(t, "USD", PricingCurrency(nil))
	assert.Equal(t, "USD", PricingCurrency(&api.PackagePricingInfo{}))
	assert.Equal(t, "EUR", PricingCurrency(&api.PackagePricingInfo{Currency: "EUR"}))
}
