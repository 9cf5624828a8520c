package repository

import (
	"context"
	"time"

	"nftrarity/internal/models"
)

// ItemStore persists collection items and their staking state
type ItemStore interface {
	// UpsertItems writes chain-derived fields and leaves staking fields untouched
	UpsertItems(ctx context.Context, items []models.Item) error
	GetItem(ctx context.Context, tokenID int) (*models.Item, error)
	ListItems(ctx context.Context) ([]models.Item, error)
	ListStakedItems(ctx context.Context) ([]models.Item, error)
	// MarkItemStaked succeeds only if the item is currently unstaked
	MarkItemStaked(ctx context.Context, tokenID int, address string, at time.Time) error
	// ClearItemStake succeeds only if the item is currently staked by address
	ClearItemStake(ctx context.Context, tokenID int, address string) error
}

// UserStore persists wallet users
type UserStore interface {
	EnsureUser(ctx context.Context, address string) (*models.User, error)
	GetUser(ctx context.Context, address string) (*models.User, error)
	// AddUserStake appends entry, creating the user if missing. Adding an
	// already present token is a no-op.
	AddUserStake(ctx context.Context, address string, entry models.StakedItem) error
	RemoveUserStake(ctx context.Context, address string, tokenID int) error
	ListStakingUsers(ctx context.Context) ([]models.User, error)
	TopUsersByPoints(ctx context.Context, limit int) ([]models.User, error)
	// ApplyAccrual atomically adds delta to the user's points and stores the
	// tier rules resolve to for the new total and stakedCount. Nothing is
	// written when it fails.
	ApplyAccrual(ctx context.Context, address string, delta float64, stakedCount int, rules []models.TierRule) (float64, models.Tier, error)
}

// RankingStore persists the canonical ranking
type RankingStore interface {
	// ReplaceRankings swaps the whole ranking and copies score and rank onto items
	ReplaceRankings(ctx context.Context, records []models.RankingRecord, version int64) error
	LoadRankings(ctx context.Context) ([]models.RankingRecord, int64, error)
}

// Store is the complete durable persistence layer
type Store interface {
	ItemStore
	UserStore
	RankingStore
	Ping(ctx context.Context) error
	Close() error
}

var (
	_ Store = (*PostgresRepository)(nil)
	_ Store = (*MongoRepository)(nil)
	_ Store = (*MemoryStore)(nil)
)
