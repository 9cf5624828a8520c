// Package rarity scores items by the inverse frequency of their attributes
// and orders them into a ranking.
package rarity

import (
	"sort"

	"nftrarity/internal/models"
)

// FrequencyTable maps category -> value -> occurrence count
type FrequencyTable map[string]map[string]int

// BuildFrequencyTable counts every (category, value) pair across items
func BuildFrequencyTable(items []models.Item) FrequencyTable {
	table := make(FrequencyTable)
	for i := range items {
		for _, attr := range items[i].Attributes {
			values, ok := table[attr.TraitType]
			if !ok {
				values = make(map[string]int)
				table[attr.TraitType] = values
			}
			values[attr.Value]++
		}
	}
	return table
}

// Count returns the occurrences of a pair, or 0 if unseen
func (t FrequencyTable) Count(category, value string) int {
	return t[category][value]
}

// Entries flattens the table ordered by category, then value
func (t FrequencyTable) Entries() []models.TraitCount {
	entries := make([]models.TraitCount, 0, len(t))
	for category, values := range t {
		for value, count := range values {
			entries = append(entries, models.TraitCount{TraitType: category, Value: value, Count: count})
		}
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].TraitType != entries[j].TraitType {
			return entries[i].TraitType < entries[j].TraitType
		}
		return entries[i].Value < entries[j].Value
	})
	return entries
}
