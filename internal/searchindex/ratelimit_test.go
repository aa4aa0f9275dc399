package searchindex

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testRedisClient(t *testing.T) *redis.Client {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestRedisRateLimiterAllowsUpToMax(t *testing.T) {
	rl := NewRedisRateLimiter(testRedisClient(t))
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		allowed, err := rl.Allow(ctx, "user-1", time.Minute, 3)
		require.NoError(t, err)
		assert.True(t, allowed)
	}

	allowed, err := rl.Allow(ctx, "user-1", time.Minute, 3)
	require.NoError(t, err)
	assert.False(t, allowed)
}

func TestRedisRateLimiterTracksKeysIndependently(t *testing.T) {
	rl := NewRedisRateLimiter(testRedisClient(t))
	ctx := context.Background()

	allowed, err := rl.Allow(ctx, "user-1", time.Minute, 1)
	require.NoError(t, err)
	assert.True(t, allowed)

	allowed, err = rl.Allow(ctx, "user-2", time.Minute, 1)
	require.NoError(t, err)
	assert.True(t, allowed, "a distinct key must have its own budget")
}

func TestIndexSearchUsesInstalledRateLimiter(t *testing.T) {
	cfg := defaultTestConfig()
	cfg.MaxQueriesPerEpoch = 2
	idx := testIndex(t, cfg)
	idx.SetRateLimiter(NewRedisRateLimiter(testRedisClient(t)))

	file := sampleIndexedFile("file-1", []string{"invoice"})
	require.NoError(t, idx.IndexFile(file, "object-1"))

	for i := 0; i < cfg.MaxQueriesPerEpoch; i++ {
		_, err := idx.Search(Query{UserID: "user-1", Query: "invoice"})
		require.NoError(t, err)
	}

	_, err := idx.Search(Query{UserID: "user-1", Query: "invoice"})
	assert.ErrorIs(t, err, ErrRateLimitExceeded)
}
