package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"nftrarity/internal/apperr"
	"nftrarity/internal/archive"
	"nftrarity/internal/events"
	"nftrarity/internal/metrics"
	"nftrarity/internal/models"
	"nftrarity/internal/rarity"
	"nftrarity/internal/repository"
)

const (
	DefaultListLimit = 10
	MaxListLimit     = 100
)

// RankingStore is the durable side of the ranking
type RankingStore interface {
	ListItems(ctx context.Context) ([]models.Item, error)
	GetItem(ctx context.Context, tokenID int) (*models.Item, error)
	ReplaceRankings(ctx context.Context, records []models.RankingRecord, version int64) error
	LoadRankings(ctx context.Context) ([]models.RankingRecord, int64, error)
}

// RankingCache shares snapshots between processes
type RankingCache interface {
	NextRankingVersion(ctx context.Context) (int64, error)
	PublishRankingSnapshot(ctx context.Context, snap *rarity.Snapshot) error
	LoadRankingSnapshot(ctx context.Context) (*rarity.Snapshot, error)
	GetRankingVersion(ctx context.Context) (int64, error)
}

// RankingService builds the rarity ranking and serves lookups from the
// live snapshot
type RankingService struct {
	store     RankingStore
	cache     RankingCache
	archiver  *archive.Archiver
	publisher events.Publisher
	metrics   *metrics.Metrics
	logger    *slog.Logger

	current   atomic.Pointer[rarity.Snapshot]
	rebuildMu sync.Mutex
}

// NewRankingService creates a ranking service. archiver, publisher and
// metrics may be nil.
func NewRankingService(
	store RankingStore,
	cache RankingCache,
	archiver *archive.Archiver,
	publisher events.Publisher,
	m *metrics.Metrics,
	logger *slog.Logger,
) *RankingService {
	if publisher == nil {
		publisher = events.NoopPublisher{}
	}
	return &RankingService{
		store:     store,
		cache:     cache,
		archiver:  archiver,
		publisher: publisher,
		metrics:   m,
		logger:    logger,
	}
}

// Rebuild recomputes the ranking from every stored item and swaps it in.
// The durable store is written before the cache so a reader that sees the
// new cache version can also find the new ranks on items.
func (s *RankingService) Rebuild(ctx context.Context) (*rarity.Snapshot, error) {
	s.rebuildMu.Lock()
	defer s.rebuildMu.Unlock()

	start := time.Now()
	items, err := s.store.ListItems(ctx)
	if err != nil {
		return nil, fmt.Errorf("list items: %w", err)
	}
	version, err := s.cache.NextRankingVersion(ctx)
	if err != nil {
		return nil, apperr.Persistence("allocate ranking version", err)
	}

	snap := rarity.Build(items, version, start.UTC())

	if err := s.store.ReplaceRankings(ctx, snap.Records, version); err != nil {
		return nil, fmt.Errorf("replace rankings: %w", err)
	}
	if err := s.cache.PublishRankingSnapshot(ctx, snap); err != nil {
		if !errors.Is(err, repository.ErrStaleRankingVersion) {
			return nil, apperr.Persistence("publish ranking snapshot", err)
		}
		s.logger.Warn("newer ranking already published, cache pointer kept", "version", version)
	}
	s.swap(snap)

	took := time.Since(start)
	s.metrics.RankingRebuilt(took, snap.Total(), version)
	s.logger.Info("ranking rebuilt", "version", version, "items", snap.Total(), "took", took)

	if err := s.archiver.WriteSnapshot(ctx, snap); err != nil {
		s.logger.Error("snapshot archive failed", "version", version, "error", err)
	}

	evt := events.RankingRebuiltEvent{Version: version, Items: snap.Total(), Timestamp: time.Now().UTC()}
	if top := snap.Top(1); len(top) > 0 {
		evt.TopToken = top[0].TokenID
	}
	if err := s.publisher.Publish(events.SubjectRankingRebuilt, evt); err != nil {
		s.logger.Warn("publish ranking event failed", "error", err)
	}
	return snap, nil
}

// Load installs the newest available snapshot, preferring the cache and
// falling back to the durable ranking. It reports whether one was found.
func (s *RankingService) Load(ctx context.Context) (bool, error) {
	snap, err := s.cache.LoadRankingSnapshot(ctx)
	if err != nil {
		s.logger.Warn("ranking cache unavailable, reading store", "error", err)
	}
	if snap == nil {
		snap, err = s.loadFromStore(ctx)
		if err != nil {
			return false, err
		}
	}
	if snap == nil {
		return false, nil
	}
	s.swap(snap)
	s.logger.Info("ranking loaded", "version", snap.Version, "items", snap.Total())
	return true, nil
}

func (s *RankingService) loadFromStore(ctx context.Context) (*rarity.Snapshot, error) {
	records, version, err := s.store.LoadRankings(ctx)
	if err != nil {
		return nil, fmt.Errorf("load rankings: %w", err)
	}
	if len(records) == 0 {
		return nil, nil
	}
	items, err := s.store.ListItems(ctx)
	if err != nil {
		return nil, fmt.Errorf("list items: %w", err)
	}
	return rarity.NewSnapshot(records, rarity.BuildFrequencyTable(items), version, time.Now().UTC()), nil
}

// Refresh picks up a snapshot published by another process
func (s *RankingService) Refresh(ctx context.Context) (bool, error) {
	version, err := s.cache.GetRankingVersion(ctx)
	if err != nil {
		return false, err
	}
	if cur := s.current.Load(); cur != nil && cur.Version >= version {
		return false, nil
	}
	snap, err := s.cache.LoadRankingSnapshot(ctx)
	if err != nil || snap == nil {
		return false, err
	}
	return s.swap(snap), nil
}

// swap installs snap unless a newer one is already live
func (s *RankingService) swap(snap *rarity.Snapshot) bool {
	for {
		cur := s.current.Load()
		if cur != nil && cur.Version > snap.Version {
			return false
		}
		if s.current.CompareAndSwap(cur, snap) {
			return true
		}
	}
}

// Snapshot returns the live ranking
func (s *RankingService) Snapshot() (*rarity.Snapshot, error) {
	snap := s.current.Load()
	if snap == nil {
		return nil, apperr.ErrRankingUnavailable
	}
	return snap, nil
}

// Version of the live snapshot, 0 if none
func (s *RankingService) Version() int64 {
	if snap := s.current.Load(); snap != nil {
		return snap.Version
	}
	return 0
}

func validTokenID(tokenID int) error {
	if tokenID <= 0 {
		return apperr.Validation(apperr.CodeInvalidItemID, "tokenId must be a positive integer")
	}
	return nil
}

// GetRarity returns the rank of one item
func (s *RankingService) GetRarity(ctx context.Context, tokenID int) (*models.RarityResponse, error) {
	if err := validTokenID(tokenID); err != nil {
		return nil, err
	}
	snap, err := s.Snapshot()
	if err != nil {
		return nil, err
	}
	rec, ok := snap.Lookup(tokenID)
	if !ok {
		return nil, apperr.ErrItemNotFound
	}
	return &models.RarityResponse{
		TokenID:     rec.TokenID,
		Rank:        rec.Rank,
		Total:       snap.Total(),
		RarityScore: rec.RarityScore,
	}, nil
}

// GetItem returns the stored item including staking state
func (s *RankingService) GetItem(ctx context.Context, tokenID int) (*models.Item, error) {
	if err := validTokenID(tokenID); err != nil {
		return nil, err
	}
	return s.store.GetItem(ctx, tokenID)
}

// TopRankedItems returns the rarest items first
func (s *RankingService) TopRankedItems(ctx context.Context, limit int) (*models.TopItemsResponse, error) {
	snap, err := s.Snapshot()
	if err != nil {
		return nil, err
	}
	return &models.TopItemsResponse{
		Items:   snap.Top(ClampLimit(limit)),
		Total:   snap.Total(),
		Version: snap.Version,
	}, nil
}

// Traits returns the frequency table behind the live ranking
func (s *RankingService) Traits(ctx context.Context) (*models.TraitsResponse, error) {
	snap, err := s.Snapshot()
	if err != nil {
		return nil, err
	}
	return &models.TraitsResponse{Version: snap.Version, Traits: snap.Table.Entries()}, nil
}

// ClampLimit applies the default and upper bound for list endpoints
func ClampLimit(limit int) int {
	if limit <= 0 {
		return DefaultListLimit
	}
	if limit > MaxListLimit {
		return MaxListLimit
	}
	return limit
}
