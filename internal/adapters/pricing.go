package adapters

import (
	"time"

	"github.com/admesh/adcp-sales-agent/internal/api"
)

// DefaultCurrency is used only by legacy and test paths when no pricing
// option carries an explicit currency.
const DefaultCurrency = "USD"

// EffectiveRate resolves the per-thousand rate for one package. With pricing
// info present, the fixed rate wins; an auction package uses its bid price if
// provided and otherwise falls back to the package's legacy CPM. With no
// pricing info at all, the legacy CPM applies directly.
func EffectiveRate(pkg api.MediaPackage, info *api.PackagePricingInfo) float64 {
	if info == nil {
		return pkg.CPM
	}
	if info.IsFixed {
		return info.Rate
	}
	if info.BidPrice != nil {
		return *info.BidPrice
	}
	return pkg.CPM
}

// PackageBudget computes one package's budget contribution. A package-level
// budget is authoritative when present; otherwise rate x impressions / 1000.
func PackageBudget(pkg api.MediaPackage, info *api.PackagePricingInfo) float64 {
	if pkg.Budget != nil && *pkg.Budget > 0 {
		return *pkg.Budget
	}
	return EffectiveRate(pkg, info) * float64(pkg.Impressions) / 1000.0
}

// TotalBudget sums package budget contributions for a create operation.
// pricing maps package_id to its resolved pricing info; packages without an
// entry use the legacy CPM path.
func TotalBudget(packages []api.MediaPackage, pricing map[string]api.PackagePricingInfo) float64 {
	total := 0.0
	for _, pkg := range packages {
		var info *api.PackagePricingInfo
		if p, ok := pricing[pkg.PackageID]; ok {
			info = &p
		}
		total += PackageBudget(pkg, info)
	}
	return total
}

// FlightDays counts the calendar days spanned by a flight, inclusive,
// floored at 1 so daily-budget math never divides by zero.
func FlightDays(start, end time.Time) int {
	startDay := time.Date(start.Year(), start.Month(), start.Day(), 0, 0, 0, 0, time.UTC)
	endDay := time.Date(end.Year(), end.Month(), end.Day(), 0, 0, 0, 0, time.UTC)
	days := int(endDay.Sub(startDay).Hours()/24) + 1
	if days < 1 {
		return 1
	}
	return days
}

// DailyBudget spreads the total evenly across the flight's calendar days.
func DailyBudget(total float64, start, end time.Time) float64 {
	return total / float64(FlightDays(start, end))
}

// PricingCurrency returns the pricing info's currency, or the legacy default.
func PricingCurrency(info *api.PackagePricingInfo) string {
	if info != nil && info.Currency != "" {
		return info.Currency
	}
	return DefaultCurrency
}
