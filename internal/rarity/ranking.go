package rarity

import (
	"cmp"
	"slices"

	"nftrarity/internal/models"
)

// ScoreItem sums 1/count over the item's attributes. Pairs missing from the
// table count as 1.
func ScoreItem(item models.Item, table FrequencyTable) float64 {
	score := 0.0
	for _, attr := range item.Attributes {
		count := table.Count(attr.TraitType, attr.Value)
		if count <= 0 {
			count = 1
		}
		score += 1 / float64(count)
	}
	return score
}

// RankAll scores every item and orders them by score descending, ties broken
// by ascending token id. Ranks start at 1.
func RankAll(items []models.Item, table FrequencyTable) []models.RankingRecord {
	records := make([]models.RankingRecord, 0, len(items))
	for i := range items {
		records = append(records, models.RankingRecord{
			TokenID:     items[i].TokenID,
			RarityScore: ScoreItem(items[i], table),
		})
	}

	slices.SortFunc(records, func(a, b models.RankingRecord) int {
		if c := cmp.Compare(b.RarityScore, a.RarityScore); c != 0 {
			return c
		}
		return cmp.Compare(a.TokenID, b.TokenID)
	})

	for i := range records {
		records[i].Rank = i + 1
	}
	return records
}
