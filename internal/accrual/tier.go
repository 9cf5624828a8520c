// Package accrual turns staked rarity into daily points and reward tiers.
package accrual

import "nftrarity/internal/models"

// PointsPerScore is the daily base reward per unit of rarity score
const PointsPerScore = 10.0

type tierRule struct {
	models.TierRule
	multiplier float64
}

// tiers is ordered from highest to lowest
var tiers = []tierRule{
	{models.TierRule{Tier: models.TierGold, MinPoints: 1000, MinStaked: 5}, 2.0},
	{models.TierRule{Tier: models.TierSilver, MinPoints: 500, MinStaked: 3}, 1.5},
	{models.TierRule{Tier: models.TierBronze, MinPoints: 0, MinStaked: 0}, 1.0},
}

// Rules returns the tier thresholds, highest tier first. Stores evaluate them
// inside the points update.
func Rules() []models.TierRule {
	out := make([]models.TierRule, len(tiers))
	for i, r := range tiers {
		out[i] = r.TierRule
	}
	return out
}

// Multiplier returns the points multiplier for tier. Unknown tiers earn as Bronze.
func Multiplier(tier models.Tier) float64 {
	for _, r := range tiers {
		if r.Tier == tier {
			return r.multiplier
		}
	}
	return 1.0
}

// EvaluateTier picks the highest tier whose thresholds are both met
func EvaluateTier(points float64, stakedCount int) models.Tier {
	return models.ResolveTier(Rules(), points, stakedCount)
}

// DailyPoints is 10 x the summed scores, scaled by the tier multiplier
func DailyPoints(scores []float64, tier models.Tier) float64 {
	sum := 0.0
	for _, s := range scores {
		sum += PointsPerScore * s
	}
	return sum * Multiplier(tier)
}
