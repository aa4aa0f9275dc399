package searchindex

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RateLimiter decides whether userID may issue another query within the
// current epoch. The in-memory default (countRecentQueriesLocked, driven
// off idx.queryHistory) satisfies this per-process; RedisRateLimiter
// extends the same budget across every process sharing the user's
// index, per §4.3.2's note that rate limiting "must hold across
// replicas" in a horizontally scaled deployment.
type RateLimiter interface {
	// Allow counts one more query against key's budget for the current
	// epochDuration window (denied calls included) and reports whether
	// the count is still within max.
	Allow(ctx context.Context, key string, epochDuration time.Duration, max int) (bool, error)
}

// RedisRateLimiter implements RateLimiter with a fixed-window counter
// per epoch: INCR the epoch-scoped key, set its TTL to epochDuration on
// first write, and compare the result against max.
type RedisRateLimiter struct {
	client *redis.Client
	prefix string
}

// NewRedisRateLimiter wraps an already-dialed client.
func NewRedisRateLimiter(client *redis.Client) *RedisRateLimiter {
	return &RedisRateLimiter{client: client, prefix: "zkim:ratelimit:"}
}

func (r *RedisRateLimiter) Allow(ctx context.Context, key string, epochDuration time.Duration, max int) (bool, error) {
	windowKey := fmt.Sprintf("%s%s:%d", r.prefix, key, time.Now().UnixNano()/epochDuration.Nanoseconds())

	count, err := r.client.Incr(ctx, windowKey).Result()
	if err != nil {
		return false, fmt.Errorf("searchindex: redis rate limit incr: %w", err)
	}
	if count == 1 {
		if err := r.client.Expire(ctx, windowKey, epochDuration).Err(); err != nil {
			return false, fmt.Errorf("searchindex: redis rate limit expire: %w", err)
		}
	}
	return count <= int64(max), nil
}
