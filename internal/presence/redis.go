// ABOUTME: Redis-backed presence tracker shared by every gateway instance
// ABOUTME: One sorted set per thread, members scored by expiry so crashed gateways age out

package presence

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/samber/lo"
)

// RedisTracker stores presence in Redis sorted sets keyed
// <prefix><threadID>. Members are "<actorID>\x1f<sessionID>" scored by the
// unix-millisecond time they expire. Sessions must re-Join before ttl passes.
type RedisTracker struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
	now    func() time.Time
}

// NewRedisTracker wraps an existing client.
func NewRedisTracker(client *redis.Client, prefix string, ttl time.Duration) *RedisTracker {
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &RedisTracker{client: client, prefix: prefix, ttl: ttl, now: time.Now}
}

// DialRedis connects and verifies the server answers PING.
func DialRedis(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connecting to redis at %s: %w", addr, err)
	}
	return client, nil
}

// TTL is how long an entry survives without a refresh.
func (r *RedisTracker) TTL() time.Duration {
	return r.ttl
}

func (r *RedisTracker) key(threadID string) string {
	return r.prefix + threadID
}

func member(actorID, sessionID string) string {
	return actorID + "\x1f" + sessionID
}

func (r *RedisTracker) Join(ctx context.Context, threadID, actorID, sessionID string) error {
	key := r.key(threadID)
	expiresAt := r.now().Add(r.ttl)

	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZAdd(ctx, key, redis.Z{Score: float64(expiresAt.UnixMilli()), Member: member(actorID, sessionID)})
		pipe.PExpire(ctx, key, 2*r.ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("presence join: %w", err)
	}
	return nil
}

func (r *RedisTracker) Leave(ctx context.Context, threadID, actorID, sessionID string) error {
	if err := r.client.ZRem(ctx, r.key(threadID), member(actorID, sessionID)).Err(); err != nil {
		return fmt.Errorf("presence leave: %w", err)
	}
	return nil
}

func (r *RedisTracker) Online(ctx context.Context, threadID string) ([]string, error) {
	key := r.key(threadID)
	now := strconv.FormatInt(r.now().UnixMilli(), 10)

	var live *redis.StringSliceCmd
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZRemRangeByScore(ctx, key, "-inf", "("+now)
		live = pipe.ZRangeByScore(ctx, key, &redis.ZRangeBy{Min: now, Max: "+inf"})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("presence online: %w", err)
	}

	actors := lo.Uniq(lo.Map(live.Val(), func(m string, _ int) string {
		actor, _, _ := strings.Cut(m, "\x1f")
		return actor
	}))
	sort.Strings(actors)
	return actors, nil
}

// Close closes the underlying client.
func (r *RedisTracker) Close() error {
	return r.client.Close()
}
