package adapters

import (
	"math/rand"
	"strings"
)

// Delivery pacing profiles understood by the simulator.
const (
	ProfileNormal = "normal"
	ProfileSlow   = "slow"
	ProfileFast   = "fast"
	ProfileUneven = "uneven"
)

// SimulationCPM is the fixed reference rate used to derive impressions from
// simulated spend.
const SimulationCPM = 10.0

// Strategy hints recognized inside a strategy ID. They scale the simulated
// per-day delivery; budget_exceeded intentionally overspends.
const (
	StrategyHighPerformance = "high_performance"
	StrategyUnderperforming = "underperforming"
	StrategyBudgetExceeded  = "budget_exceeded"
)

// ProgressRatio computes the fraction of total budget delivered after
// currentDay of totalDays, under the given pacing profile. The result is
// always within [0, 1].
//
// slow reaches 10% on day 1 and 30% through day 3, then climbs linearly to
// 100%. fast delivers half on day 1 and everything from day 2 onward.
// uneven is linear plus a perturbation in [-0.10, +0.20]. The default is
// linear pacing.
func ProgressRatio(profile string, currentDay, totalDays int, rng *rand.Rand) float64 {
	if totalDays < 1 {
		totalDays = 1
	}
	if currentDay < 0 {
		currentDay = 0
	}

	switch profile {
	case ProfileSlow:
		switch {
		case currentDay <= 0:
			return 0
		case currentDay == 1:
			return 0.10
		case currentDay <= 3:
			return 0.10 + 0.20*float64(currentDay-1)/2.0
		case currentDay >= totalDays:
			return 1.0
		default:
			remaining := float64(totalDays - 3)
			if remaining <= 0 {
				return 1.0
			}
			return clamp01(0.30 + 0.70*float64(currentDay-3)/remaining)
		}
	case ProfileFast:
		switch {
		case currentDay <= 0:
			return 0
		case currentDay == 1:
			return 0.5
		default:
			return 1.0
		}
	case ProfileUneven:
		linear := clamp01(float64(currentDay) / float64(totalDays))
		perturbed := linear + (rng.Float64()*0.30 - 0.10)
		return clamp01(perturbed)
	default:
		return clamp01(float64(currentDay) / float64(totalDays))
	}
}

// StrategyMultiplier maps a strategy ID to the per-day delivery multiplier
// applied to the simulated breakdown.
func StrategyMultiplier(strategyID string) float64 {
	switch {
	case containsHint(strategyID, StrategyHighPerformance):
		return 1.3
	case containsHint(strategyID, StrategyUnderperforming):
		return 0.6
	default:
		return 1.0
	}
}

// OverspendAllowed reports whether the strategy forces the budget-exceeded
// scenario, which intentionally overspends by 15%.
func OverspendAllowed(strategyID string) bool {
	return containsHint(strategyID, StrategyBudgetExceeded)
}

func containsHint(s, hint string) bool {
	return s != "" && strings.Contains(strings.ToLower(s), hint)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
