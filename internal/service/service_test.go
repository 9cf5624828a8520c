package service

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nftrarity/internal/accrual"
	"nftrarity/internal/apperr"
	"nftrarity/internal/archive"
	"nftrarity/internal/auth"
	"nftrarity/internal/events"
	"nftrarity/internal/ledger"
	"nftrarity/internal/metrics"
	"nftrarity/internal/models"
	"nftrarity/internal/repository"
)

const wallet = "0x00000000000000000000000000000000000000aa"

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type harness struct {
	store     *repository.MemoryStore
	redis     *repository.RedisRepository
	mr        *miniredis.Miniredis
	publisher *events.MemoryPublisher
	ranking   *RankingService
	accounts  *AccountService
	staking   *StakingService
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	h := &harness{
		store:     repository.NewMemoryStore(),
		redis:     repository.NewRedisRepository(client),
		mr:        mr,
		publisher: &events.MemoryPublisher{},
	}
	log := discardLogger()
	m := metrics.New(prometheus.NewRegistry())

	h.ranking = NewRankingService(h.store, h.redis, nil, h.publisher, m, log)
	h.accounts = NewAccountService(auth.NewAuthenticator(h.redis, h.redis, log), h.store, log)
	h.staking = NewStakingService(ledger.New(h.store, h.redis, log), h.store, h.publisher, log)
	return h
}

// seedColours stores ten items: token 1 is Red, the rest Blue
func seedColours(t *testing.T, store *repository.MemoryStore) {
	t.Helper()
	items := make([]models.Item, 0, 10)
	for id := 1; id <= 10; id++ {
		colour := "Blue"
		if id == 1 {
			colour = "Red"
		}
		items = append(items, models.Item{
			TokenID:    id,
			Name:       fmt.Sprintf("Token #%d", id),
			Attributes: []models.Attribute{{TraitType: "Background", Value: colour}},
		})
	}
	require.NoError(t, store.UpsertItems(context.Background(), items))
}

func TestRankingRebuildAndLookups(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	seedColours(t, h.store)

	_, err := h.ranking.GetRarity(ctx, 1)
	assert.ErrorIs(t, err, apperr.ErrRankingUnavailable)

	snap, err := h.ranking.Rebuild(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), snap.Version)

	red, err := h.ranking.GetRarity(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, red.Rank)
	assert.Equal(t, 10, red.Total)
	assert.InDelta(t, 1.0, red.RarityScore, 1e-9)

	blue, err := h.ranking.GetRarity(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, 2, blue.Rank)
	assert.InDelta(t, 1.0/9, blue.RarityScore, 1e-9)

	_, err = h.ranking.GetRarity(ctx, 99)
	assert.ErrorIs(t, err, apperr.ErrItemNotFound)
	_, err = h.ranking.GetRarity(ctx, 0)
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))

	item, err := h.ranking.GetItem(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, item.Rank, "rank is mirrored onto the stored item")

	top, err := h.ranking.TopRankedItems(ctx, 3)
	require.NoError(t, err)
	require.Len(t, top.Items, 3)
	assert.Equal(t, []int{1, 2, 3}, []int{top.Items[0].TokenID, top.Items[1].TokenID, top.Items[2].TokenID})

	traits, err := h.ranking.Traits(ctx)
	require.NoError(t, err)
	assert.Equal(t, []models.TraitCount{
		{TraitType: "Background", Value: "Blue", Count: 9},
		{TraitType: "Background", Value: "Red", Count: 1},
	}, traits.Traits)

	msgs := h.publisher.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, events.SubjectRankingRebuilt, msgs[0].Subject)
}

func TestRankingLoadAndRefresh(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	seedColours(t, h.store)
	_, err := h.ranking.Rebuild(ctx)
	require.NoError(t, err)

	// a second process sharing the cache
	other := NewRankingService(h.store, h.redis, nil, nil, nil, discardLogger())
	found, err := other.Load(ctx)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, int64(1), other.Version())

	_, err = h.ranking.Rebuild(ctx)
	require.NoError(t, err)

	swapped, err := other.Refresh(ctx)
	require.NoError(t, err)
	assert.True(t, swapped)
	assert.Equal(t, int64(2), other.Version())

	swapped, err = other.Refresh(ctx)
	require.NoError(t, err)
	assert.False(t, swapped)
}

func TestRankingLoadFallsBackToStore(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	seedColours(t, h.store)
	_, err := h.ranking.Rebuild(ctx)
	require.NoError(t, err)

	h.mr.FlushAll()

	fresh := NewRankingService(h.store, h.redis, nil, nil, nil, discardLogger())
	found, err := fresh.Load(ctx)
	require.NoError(t, err)
	require.True(t, found)

	rec, err := fresh.GetRarity(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, rec.Rank)
}

func TestRankingLoadEmpty(t *testing.T) {
	h := newHarness(t)
	found, err := h.ranking.Load(context.Background())
	require.NoError(t, err)
	assert.False(t, found)
}

func TestRebuildArchives(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	seedColours(t, h.store)

	dir := t.TempDir()
	local, err := archive.NewLocalDir(dir)
	require.NoError(t, err)
	svc := NewRankingService(h.store, h.redis, archive.New(discardLogger(), local), nil, nil, discardLogger())

	_, err = svc.Rebuild(ctx)
	require.NoError(t, err)
	assert.FileExists(t, dir+"/v1/"+archive.RarityFile)
	assert.FileExists(t, dir+"/"+archive.TraitFrequenciesFile)
}

func TestClampLimit(t *testing.T) {
	tests := []struct{ in, want int }{
		{0, 10}, {-5, 10}, {1, 1}, {50, 50}, {100, 100}, {101, 100},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ClampLimit(tt.in), "limit %d", tt.in)
	}
}

func TestIssueNonceBootstrapsUser(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.store.GetUser(ctx, wallet)
	require.ErrorIs(t, err, apperr.ErrUserNotFound)

	resp, err := h.accounts.IssueNonce(ctx, "0x00000000000000000000000000000000000000AA")
	require.NoError(t, err)
	assert.Len(t, resp.Nonce, 32)
	assert.Equal(t, auth.ChallengeMessage(resp.Nonce), resp.Message)

	user, err := h.store.GetUser(ctx, wallet)
	require.NoError(t, err)
	assert.Equal(t, models.TierBronze, user.Tier)

	_, err = h.accounts.IssueNonce(ctx, "not-an-address")
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
}

func TestCurrentUserWithoutRecord(t *testing.T) {
	h := newHarness(t)
	summary, err := h.accounts.CurrentUser(context.Background(), wallet)
	require.NoError(t, err)
	assert.Equal(t, wallet, summary.WalletAddress)
	assert.Equal(t, models.TierBronze, summary.Tier)
	assert.Empty(t, summary.StakedItems)
}

func TestTopUsersByPoints(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	for i, pts := range []float64{5, 50, 20} {
		addr := fmt.Sprintf("0x%040d", i+1)
		_, err := h.store.EnsureUser(ctx, addr)
		require.NoError(t, err)
		_, _, err = h.store.ApplyAccrual(ctx, addr, pts, 0, nil)
		require.NoError(t, err)
	}

	resp, err := h.accounts.TopUsersByPoints(ctx, 2)
	require.NoError(t, err)
	require.Len(t, resp.Users, 2)
	assert.Equal(t, 50.0, resp.Users[0].Points)
	assert.Equal(t, 20.0, resp.Users[1].Points)
}

func TestStakeFlowPublishesEvents(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	seedColours(t, h.store)
	_, err := h.ranking.Rebuild(ctx)
	require.NoError(t, err)

	res, err := h.staking.Stake(ctx, wallet, 1)
	require.NoError(t, err)
	assert.True(t, res.Staked)

	view, err := h.staking.StakedItems(ctx, wallet)
	require.NoError(t, err)
	require.Len(t, view.Items, 1)
	assert.Equal(t, 1, view.Items[0].Rank)
	assert.Equal(t, "Token #1", view.Items[0].Name)

	_, err = h.staking.Stake(ctx, wallet, 1)
	assert.ErrorIs(t, err, apperr.ErrAlreadyStaked)

	_, err = h.staking.Unstake(ctx, wallet, 1)
	require.NoError(t, err)

	view, err = h.staking.StakedItems(ctx, wallet)
	require.NoError(t, err)
	assert.Empty(t, view.Items)

	var subjects []string
	for _, m := range h.publisher.Messages() {
		subjects = append(subjects, m.Subject)
	}
	assert.Equal(t, []string{
		events.SubjectRankingRebuilt,
		events.SubjectItemStaked(1),
		events.SubjectItemUnstaked(1),
	}, subjects)
}

func TestAccrualNotifier(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	n := NewAccrualNotifier(h.redis, h.publisher, nil, discardLogger())

	start := time.Now()
	n.AccrualCompleted(ctx, &accrual.RunReport{
		StartedAt:      start,
		FinishedAt:     start.Add(time.Second),
		UsersProcessed: 3,
		TotalPoints:    42,
	})

	v, err := h.redis.GetPointsVersion(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), v)

	msgs := h.publisher.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, events.SubjectAccrualCompleted, msgs[0].Subject)
	evt := msgs[0].Data.(events.AccrualCompletedEvent)
	assert.Equal(t, 3, evt.UsersProcessed)
}
