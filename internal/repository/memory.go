package repository

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"nftrarity/internal/apperr"
	"nftrarity/internal/models"
)

// MemoryStore keeps everything in process. Used for local runs and tests.
type MemoryStore struct {
	mu       sync.RWMutex
	items    map[int]models.Item
	users    map[string]models.User
	rankings []models.RankingRecord
	version  int64
	now      func() time.Time
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		items: make(map[int]models.Item),
		users: make(map[string]models.User),
		now:   time.Now,
	}
}

func cloneItem(it models.Item) models.Item {
	out := it
	out.Attributes = append(out.Attributes[:0:0], it.Attributes...)
	if it.StakedBy != nil {
		by := *it.StakedBy
		out.StakedBy = &by
	}
	if it.StakedAt != nil {
		at := *it.StakedAt
		out.StakedAt = &at
	}
	return out
}

func cloneUser(u models.User) models.User {
	out := u
	out.StakedItems = append(out.StakedItems[:0:0], u.StakedItems...)
	return out
}

func (m *MemoryStore) UpsertItems(ctx context.Context, items []models.Item) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	for _, it := range items {
		existing, ok := m.items[it.TokenID]
		next := cloneItem(it)
		if ok {
			next.Staked = existing.Staked
			next.StakedBy = existing.StakedBy
			next.StakedAt = existing.StakedAt
			next.RarityScore = existing.RarityScore
			next.Rank = existing.Rank
			next.CreatedAt = existing.CreatedAt
		} else {
			next.Staked = false
			next.StakedBy = nil
			next.StakedAt = nil
			next.CreatedAt = now
		}
		next.UpdatedAt = now
		m.items[it.TokenID] = next
	}
	return nil
}

func (m *MemoryStore) GetItem(ctx context.Context, tokenID int) (*models.Item, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	it, ok := m.items[tokenID]
	if !ok {
		return nil, apperr.ErrItemNotFound
	}
	out := cloneItem(it)
	return &out, nil
}

func (m *MemoryStore) ListItems(ctx context.Context) ([]models.Item, error) {
	return m.listItems(func(models.Item) bool { return true }), nil
}

func (m *MemoryStore) ListStakedItems(ctx context.Context) ([]models.Item, error) {
	return m.listItems(func(it models.Item) bool { return it.Staked }), nil
}

func (m *MemoryStore) listItems(keep func(models.Item) bool) []models.Item {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]models.Item, 0, len(m.items))
	for _, it := range m.items {
		if keep(it) {
			out = append(out, cloneItem(it))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TokenID < out[j].TokenID })
	return out
}

func (m *MemoryStore) MarkItemStaked(ctx context.Context, tokenID int, address string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	it, ok := m.items[tokenID]
	if !ok {
		return apperr.ErrItemNotFound
	}
	if it.Staked {
		return apperr.ErrAlreadyStaked
	}
	by := address
	stakedAt := at
	it.Staked = true
	it.StakedBy = &by
	it.StakedAt = &stakedAt
	it.UpdatedAt = m.now()
	m.items[tokenID] = it
	return nil
}

func (m *MemoryStore) ClearItemStake(ctx context.Context, tokenID int, address string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	it, ok := m.items[tokenID]
	if !ok {
		return apperr.ErrItemNotFound
	}
	if !it.Staked {
		return apperr.ErrNotStaked
	}
	if it.StakedBy == nil || *it.StakedBy != address {
		return apperr.ErrNotOwner
	}
	it.Staked = false
	it.StakedBy = nil
	it.StakedAt = nil
	it.UpdatedAt = m.now()
	m.items[tokenID] = it
	return nil
}

func (m *MemoryStore) EnsureUser(ctx context.Context, address string) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	u, ok := m.users[address]
	if !ok {
		u = *models.NewUser(address, m.now())
		m.users[address] = u
	}
	out := cloneUser(u)
	return &out, nil
}

func (m *MemoryStore) GetUser(ctx context.Context, address string) (*models.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	u, ok := m.users[address]
	if !ok {
		return nil, apperr.ErrUserNotFound
	}
	out := cloneUser(u)
	return &out, nil
}

func (m *MemoryStore) AddUserStake(ctx context.Context, address string, entry models.StakedItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	u, ok := m.users[address]
	if !ok {
		u = *models.NewUser(address, m.now())
	}
	if u.HasStaked(entry.TokenID) {
		return nil
	}
	u = cloneUser(u)
	u.StakedItems = append(u.StakedItems, entry)
	u.UpdatedAt = m.now()
	m.users[address] = u
	return nil
}

func (m *MemoryStore) RemoveUserStake(ctx context.Context, address string, tokenID int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	u, ok := m.users[address]
	if !ok {
		return apperr.ErrUserNotFound
	}
	kept := u.StakedItems[:0:0]
	for _, s := range u.StakedItems {
		if s.TokenID != tokenID {
			kept = append(kept, s)
		}
	}
	u.StakedItems = kept
	u.UpdatedAt = m.now()
	m.users[address] = u
	return nil
}

func (m *MemoryStore) ListStakingUsers(ctx context.Context) ([]models.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]models.User, 0)
	for _, u := range m.users {
		if len(u.StakedItems) > 0 {
			out = append(out, cloneUser(u))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].WalletAddress < out[j].WalletAddress })
	return out, nil
}

func (m *MemoryStore) TopUsersByPoints(ctx context.Context, limit int) ([]models.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]models.User, 0, len(m.users))
	for _, u := range m.users {
		out = append(out, cloneUser(u))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Points != out[j].Points {
			return out[i].Points > out[j].Points
		}
		return strings.Compare(out[i].WalletAddress, out[j].WalletAddress) < 0
	})
	if limit >= 0 && limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryStore) ApplyAccrual(ctx context.Context, address string, delta float64, stakedCount int, rules []models.TierRule) (float64, models.Tier, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	u, ok := m.users[address]
	if !ok {
		return 0, "", apperr.ErrUserNotFound
	}
	u.Points += delta
	u.Tier = models.ResolveTier(rules, u.Points, stakedCount)
	u.UpdatedAt = m.now()
	m.users[address] = u
	return u.Points, u.Tier, nil
}

func (m *MemoryStore) ReplaceRankings(ctx context.Context, records []models.RankingRecord, version int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	next := make([]models.RankingRecord, len(records))
	copy(next, records)
	ranked := make(map[int]models.RankingRecord, len(next))
	for i := range next {
		next[i].Version = version
		ranked[next[i].TokenID] = next[i]
	}
	for id, it := range m.items {
		rec := ranked[id]
		it.RarityScore = rec.RarityScore
		it.Rank = rec.Rank
		m.items[id] = it
	}
	m.rankings = next
	m.version = version
	return nil
}

func (m *MemoryStore) LoadRankings(ctx context.Context) ([]models.RankingRecord, int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]models.RankingRecord, len(m.rankings))
	copy(out, m.rankings)
	return out, m.version, nil
}

// Ping always succeeds
func (m *MemoryStore) Ping(ctx context.Context) error {
	return nil
}

// Close is a no-op
func (m *MemoryStore) Close() error {
	return nil
}
