package rarity

import (
	"time"

	"nftrarity/internal/models"
)

// Snapshot is an immutable, versioned ranking. It is replaced as a whole on
// every rebuild and never mutated after construction.
type Snapshot struct {
	Version int64
	BuiltAt time.Time
	Records []models.RankingRecord
	Table   FrequencyTable

	byID map[int]int
}

// Build scores items and returns a snapshot tagged with version
func Build(items []models.Item, version int64, builtAt time.Time) *Snapshot {
	table := BuildFrequencyTable(items)
	return NewSnapshot(RankAll(items, table), table, version, builtAt)
}

// NewSnapshot wraps already ranked records
func NewSnapshot(records []models.RankingRecord, table FrequencyTable, version int64, builtAt time.Time) *Snapshot {
	if table == nil {
		table = FrequencyTable{}
	}
	s := &Snapshot{
		Version: version,
		BuiltAt: builtAt,
		Records: records,
		Table:   table,
		byID:    make(map[int]int, len(records)),
	}
	for i := range records {
		s.Records[i].Version = version
		s.byID[records[i].TokenID] = i
	}
	return s
}

// Lookup returns the record for tokenID
func (s *Snapshot) Lookup(tokenID int) (models.RankingRecord, bool) {
	idx, ok := s.byID[tokenID]
	if !ok {
		return models.RankingRecord{}, false
	}
	return s.Records[idx], true
}

// Top returns up to limit records in rank order
func (s *Snapshot) Top(limit int) []models.RankingRecord {
	if limit > len(s.Records) {
		limit = len(s.Records)
	}
	if limit < 0 {
		limit = 0
	}
	out := make([]models.RankingRecord, limit)
	copy(out, s.Records[:limit])
	return out
}

// Total is the number of ranked items
func (s *Snapshot) Total() int {
	return len(s.Records)
}
