package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"nftrarity/internal/apperr"
	"nftrarity/internal/models"
	"nftrarity/internal/rarity"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	// NonceKeyPrefix namespaces one-time login challenges per wallet
	NonceKeyPrefix = "nonce:"

	// SessionKeyPrefix namespaces session id -> wallet bindings
	SessionKeyPrefix = "session:"

	// LockKeyPrefix namespaces per-item stake locks
	LockKeyPrefix = "lock:"

	// RankingSeqKey hands out monotonically increasing ranking versions
	RankingSeqKey = "ranking:seq"

	// RankingCurrentKey points at the live ranking version
	RankingCurrentKey = "ranking:current"

	// PointsVersionKey is bumped after every accrual run for change detection
	PointsVersionKey = "points:version"

	// retiredRankingTTL keeps superseded snapshots readable for in-flight readers
	retiredRankingTTL = 10 * time.Minute

	lockTTL        = 10 * time.Second
	lockRetryDelay = 25 * time.Millisecond
)

var (
	// ErrLockLost means a lock expired or changed owner before release
	ErrLockLost = errors.New("lock no longer held")

	// ErrStaleRankingVersion means a newer ranking was published first
	ErrStaleRankingVersion = errors.New("newer ranking version already published")
)

// consumeNonceScript deletes the nonce only if it still holds the expected value
var consumeNonceScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// releaseLockScript deletes the lock only if we still own it
var releaseLockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// advanceRankingScript moves the current pointer forward only. The version it
// replaces gets its keys expired.
var advanceRankingScript = redis.NewScript(`
local current = tonumber(redis.call("GET", KEYS[1]) or "0")
local version = tonumber(ARGV[1])
if version < current then
	return 0
end
redis.call("SET", KEYS[1], ARGV[1])
if current > 0 and current ~= version then
	local prefix = "ranking:v" .. current .. ":"
	redis.call("EXPIRE", prefix .. "order", ARGV[2])
	redis.call("EXPIRE", prefix .. "scores", ARGV[2])
	redis.call("EXPIRE", prefix .. "traits", ARGV[2])
end
return 1
`)

// RedisRepository handles all Redis operations
type RedisRepository struct {
	client *redis.Client
}

// NewRedisRepository creates a new Redis repository
func NewRedisRepository(client *redis.Client) *RedisRepository {
	return &RedisRepository{
		client: client,
	}
}

func nonceKey(address string) string {
	return NonceKeyPrefix + address
}

func sessionKey(id string) string {
	return SessionKeyPrefix + id
}

func rankingOrderKey(version int64) string {
	return fmt.Sprintf("ranking:v%d:order", version)
}

func rankingScoresKey(version int64) string {
	return fmt.Sprintf("ranking:v%d:scores", version)
}

func rankingTraitsKey(version int64) string {
	return fmt.Sprintf("ranking:v%d:traits", version)
}

// SetNonce stores a challenge, replacing any earlier one for the wallet
func (r *RedisRepository) SetNonce(ctx context.Context, address, nonce string, ttl time.Duration) error {
	return r.client.Set(ctx, nonceKey(address), nonce, ttl).Err()
}

// GetNonce returns the live challenge for the wallet
func (r *RedisRepository) GetNonce(ctx context.Context, address string) (string, error) {
	nonce, err := r.client.Get(ctx, nonceKey(address)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", apperr.ErrNonceNotFound
		}
		return "", err
	}
	return nonce, nil
}

// ConsumeNonce deletes the challenge if it still equals nonce. Returns false
// when another verification already consumed it or it expired.
func (r *RedisRepository) ConsumeNonce(ctx context.Context, address, nonce string) (bool, error) {
	n, err := consumeNonceScript.Run(ctx, r.client, []string{nonceKey(address)}, nonce).Int()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// CreateSession binds a fresh session id to the wallet
func (r *RedisRepository) CreateSession(ctx context.Context, address string, ttl time.Duration) (string, error) {
	id := uuid.NewString()
	if err := r.client.Set(ctx, sessionKey(id), address, ttl).Err(); err != nil {
		return "", err
	}
	return id, nil
}

// GetSession resolves a session id to its wallet
func (r *RedisRepository) GetSession(ctx context.Context, id string) (string, error) {
	address, err := r.client.Get(ctx, sessionKey(id)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", apperr.ErrUnauthorized
		}
		return "", err
	}
	return address, nil
}

// DeleteSession ends a session. Unknown ids are ignored.
func (r *RedisRepository) DeleteSession(ctx context.Context, id string) error {
	return r.client.Del(ctx, sessionKey(id)).Err()
}

// Lock acquires a distributed lock on key, retrying until ctx is done
func (r *RedisRepository) Lock(ctx context.Context, key string) (func() error, error) {
	lockKey := LockKeyPrefix + key
	token := uuid.NewString()
	for {
		ok, err := r.client.SetNX(ctx, lockKey, token, lockTTL).Result()
		if err != nil {
			return nil, err
		}
		if ok {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(lockRetryDelay):
		}
	}

	return func() error {
		// release must outlive a cancelled request context
		releaseCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		released, err := releaseLockScript.Run(releaseCtx, r.client, []string{lockKey}, token).Int()
		if err != nil {
			return fmt.Errorf("release %s: %w", lockKey, err)
		}
		if released == 0 {
			return fmt.Errorf("release %s: %w", lockKey, ErrLockLost)
		}
		return nil
	}, nil
}

// NextRankingVersion allocates the version for a new snapshot
func (r *RedisRepository) NextRankingVersion(ctx context.Context) (int64, error) {
	return r.client.Incr(ctx, RankingSeqKey).Result()
}

// PublishRankingSnapshot writes the snapshot under its own keys, then moves
// the current pointer to it unless a newer version is already live. The
// superseded version's keys are left to expire. Publishing an older version
// returns ErrStaleRankingVersion and leaves the pointer alone.
func (r *RedisRepository) PublishRankingSnapshot(ctx context.Context, snap *rarity.Snapshot) error {
	traits, err := json.Marshal(snap.Table)
	if err != nil {
		return fmt.Errorf("marshal traits: %w", err)
	}

	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		orderKey := rankingOrderKey(snap.Version)
		scoresKey := rankingScoresKey(snap.Version)
		pipe.Del(ctx, orderKey, scoresKey)

		if len(snap.Records) > 0 {
			members := make([]redis.Z, 0, len(snap.Records))
			scores := make(map[string]interface{}, len(snap.Records))
			for _, rec := range snap.Records {
				id := strconv.Itoa(rec.TokenID)
				members = append(members, redis.Z{Score: float64(rec.Rank), Member: id})
				scores[id] = strconv.FormatFloat(rec.RarityScore, 'g', -1, 64)
			}
			pipe.ZAdd(ctx, orderKey, members...)
			pipe.HSet(ctx, scoresKey, scores)
		}
		pipe.Set(ctx, rankingTraitsKey(snap.Version), traits, 0)
		return nil
	})
	if err != nil {
		return err
	}

	advanced, err := advanceRankingScript.Run(ctx, r.client,
		[]string{RankingCurrentKey}, snap.Version, int64(retiredRankingTTL/time.Second)).Int()
	if err != nil {
		return fmt.Errorf("advance ranking pointer: %w", err)
	}
	if advanced == 0 {
		r.retireRanking(ctx, snap.Version)
		return ErrStaleRankingVersion
	}
	return nil
}

// retireRanking lets a version's keys expire
func (r *RedisRepository) retireRanking(ctx context.Context, version int64) {
	pipe := r.client.Pipeline()
	pipe.Expire(ctx, rankingOrderKey(version), retiredRankingTTL)
	pipe.Expire(ctx, rankingScoresKey(version), retiredRankingTTL)
	pipe.Expire(ctx, rankingTraitsKey(version), retiredRankingTTL)
	_, _ = pipe.Exec(ctx)
}

// LoadRankingSnapshot reads the live snapshot. Returns nil when no ranking
// has been published yet.
func (r *RedisRepository) LoadRankingSnapshot(ctx context.Context) (*rarity.Snapshot, error) {
	version, err := r.GetRankingVersion(ctx)
	if err != nil {
		return nil, err
	}
	if version == 0 {
		return nil, nil
	}

	pipe := r.client.Pipeline()
	orderCmd := pipe.ZRangeWithScores(ctx, rankingOrderKey(version), 0, -1)
	scoresCmd := pipe.HGetAll(ctx, rankingScoresKey(version))
	traitsCmd := pipe.Get(ctx, rankingTraitsKey(version))
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, err
	}

	raw, err := traitsCmd.Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}
	table := rarity.FrequencyTable{}
	if err := json.Unmarshal(raw, &table); err != nil {
		return nil, fmt.Errorf("decode traits: %w", err)
	}

	scores := scoresCmd.Val()
	order := orderCmd.Val()
	records := make([]models.RankingRecord, 0, len(order))
	for _, z := range order {
		member, _ := z.Member.(string)
		id, err := strconv.Atoi(member)
		if err != nil {
			return nil, fmt.Errorf("invalid ranking member %q: %w", member, err)
		}
		score, err := strconv.ParseFloat(scores[member], 64)
		if err != nil {
			return nil, fmt.Errorf("invalid score for token %d: %w", id, err)
		}
		records = append(records, models.RankingRecord{
			TokenID:     id,
			RarityScore: score,
			Rank:        int(z.Score),
		})
	}

	return rarity.NewSnapshot(records, table, version, time.Now()), nil
}

// GetRankingVersion returns the live ranking version, 0 if none
func (r *RedisRepository) GetRankingVersion(ctx context.Context) (int64, error) {
	return r.getCounter(ctx, RankingCurrentKey)
}

// BumpPointsVersion signals that user points changed
func (r *RedisRepository) BumpPointsVersion(ctx context.Context) (int64, error) {
	return r.client.Incr(ctx, PointsVersionKey).Result()
}

// GetPointsVersion returns the points change counter
func (r *RedisRepository) GetPointsVersion(ctx context.Context) (int64, error) {
	return r.getCounter(ctx, PointsVersionKey)
}

func (r *RedisRepository) getCounter(ctx context.Context, key string) (int64, error) {
	v, err := r.client.Get(ctx, key).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil // not set yet
		}
		return 0, err
	}
	return v, nil
}

// Ping checks if Redis is reachable
func (r *RedisRepository) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// Close closes the Redis connection
func (r *RedisRepository) Close() error {
	return r.client.Close()
}
