package repository

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nftrarity/internal/apperr"
	"nftrarity/internal/models"
)

func seedItems(t *testing.T, store *MemoryStore, ids ...int) {
	t.Helper()
	items := make([]models.Item, 0, len(ids))
	for _, id := range ids {
		items = append(items, models.Item{TokenID: id, Owner: wallet, TokenURI: "ipfs://meta"})
	}
	require.NoError(t, store.UpsertItems(context.Background(), items))
}

func TestMemoryStakeTransitions(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	seedItems(t, store, 42)
	at := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, store.MarkItemStaked(ctx, 42, "0xabc", at))
	assert.ErrorIs(t, store.MarkItemStaked(ctx, 42, "0xdef", at), apperr.ErrAlreadyStaked)
	assert.ErrorIs(t, store.MarkItemStaked(ctx, 7, "0xabc", at), apperr.ErrItemNotFound)

	item, err := store.GetItem(ctx, 42)
	require.NoError(t, err)
	assert.True(t, item.IsStakedBy("0xabc"))
	assert.Equal(t, at, *item.StakedAt)

	assert.ErrorIs(t, store.ClearItemStake(ctx, 42, "0xdef"), apperr.ErrNotOwner)
	require.NoError(t, store.ClearItemStake(ctx, 42, "0xabc"))
	assert.ErrorIs(t, store.ClearItemStake(ctx, 42, "0xabc"), apperr.ErrNotStaked)

	item, err = store.GetItem(ctx, 42)
	require.NoError(t, err)
	assert.False(t, item.Staked)
	assert.Nil(t, item.StakedBy)
	assert.Nil(t, item.StakedAt)
}

func TestMemoryUpsertKeepsStakingFields(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	seedItems(t, store, 1)
	require.NoError(t, store.MarkItemStaked(ctx, 1, "0xabc", time.Now()))

	require.NoError(t, store.UpsertItems(ctx, []models.Item{{TokenID: 1, Owner: "0xnew", TokenURI: "ipfs://v2"}}))

	item, err := store.GetItem(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "0xnew", item.Owner)
	assert.True(t, item.IsStakedBy("0xabc"))
}

func TestMemoryUserStakes(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, store.AddUserStake(ctx, "0xabc", models.StakedItem{TokenID: 1, StakedAt: now}))
	require.NoError(t, store.AddUserStake(ctx, "0xabc", models.StakedItem{TokenID: 1, StakedAt: now}))
	require.NoError(t, store.AddUserStake(ctx, "0xabc", models.StakedItem{TokenID: 2, StakedAt: now}))

	user, err := store.GetUser(ctx, "0xabc")
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2}, user.StakedTokenIDs())
	assert.Equal(t, models.TierBronze, user.Tier)

	staking, err := store.ListStakingUsers(ctx)
	require.NoError(t, err)
	assert.Len(t, staking, 1)

	require.NoError(t, store.RemoveUserStake(ctx, "0xabc", 1))
	require.NoError(t, store.RemoveUserStake(ctx, "0xabc", 2))
	staking, err = store.ListStakingUsers(ctx)
	require.NoError(t, err)
	assert.Empty(t, staking)

	assert.ErrorIs(t, store.RemoveUserStake(ctx, "0xnobody", 1), apperr.ErrUserNotFound)
}

func TestMemoryPointsAndTop(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	for _, addr := range []string{"0xa", "0xb", "0xc"} {
		_, err := store.EnsureUser(ctx, addr)
		require.NoError(t, err)
	}

	rules := []models.TierRule{{Tier: models.TierSilver, MinPoints: 20, MinStaked: 1}}

	total, tier, err := store.ApplyAccrual(ctx, "0xb", 15, 1, rules)
	require.NoError(t, err)
	assert.Equal(t, 15.0, total)
	assert.Equal(t, models.TierBronze, tier)
	total, tier, err = store.ApplyAccrual(ctx, "0xb", 5, 1, rules)
	require.NoError(t, err)
	assert.Equal(t, 20.0, total)
	assert.Equal(t, models.TierSilver, tier)
	_, _, err = store.ApplyAccrual(ctx, "0xc", 1, 1, rules)
	require.NoError(t, err)

	_, _, err = store.ApplyAccrual(ctx, "0xz", 1, 1, rules)
	assert.ErrorIs(t, err, apperr.ErrUserNotFound)

	top, err := store.TopUsersByPoints(ctx, 2)
	require.NoError(t, err)
	require.Len(t, top, 2)
	assert.Equal(t, "0xb", top[0].WalletAddress)
	assert.Equal(t, models.TierSilver, top[0].Tier)
	assert.Equal(t, "0xc", top[1].WalletAddress)
}

func TestMemoryApplyAccrualDemotes(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	_, err := store.EnsureUser(ctx, "0xa")
	require.NoError(t, err)

	rules := []models.TierRule{{Tier: models.TierSilver, MinPoints: 500, MinStaked: 3}}
	_, tier, err := store.ApplyAccrual(ctx, "0xa", 600, 3, rules)
	require.NoError(t, err)
	assert.Equal(t, models.TierSilver, tier)

	// staked count dropped below the minimum
	total, tier, err := store.ApplyAccrual(ctx, "0xa", 20, 2, rules)
	require.NoError(t, err)
	assert.Equal(t, 620.0, total)
	assert.Equal(t, models.TierBronze, tier)

	user, err := store.GetUser(ctx, "0xa")
	require.NoError(t, err)
	assert.Equal(t, models.TierBronze, user.Tier)
}

func TestMemoryReplaceRankings(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	seedItems(t, store, 1, 2)

	records := []models.RankingRecord{
		{TokenID: 2, RarityScore: 1.5, Rank: 1},
		{TokenID: 1, RarityScore: 0.5, Rank: 2},
	}
	require.NoError(t, store.ReplaceRankings(ctx, records, 3))

	loaded, version, err := store.LoadRankings(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), version)
	require.Len(t, loaded, 2)
	assert.Equal(t, int64(3), loaded[0].Version)

	item, err := store.GetItem(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, 1.5, item.RarityScore)
	assert.Equal(t, 1, item.Rank)

	require.NoError(t, store.ReplaceRankings(ctx, records[:1], 4))
	item, err = store.GetItem(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 0, item.Rank)
}
