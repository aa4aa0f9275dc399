package blobstore

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testRedisStore(t *testing.T) *RedisStore {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisStoreFromClient(client)
}

func TestRedisStorePutGetDelete(t *testing.T) {
	ctx := context.Background()
	store := testRedisStore(t)

	require.NoError(t, store.Put(ctx, "file-1", []byte("payload")))

	data, err := store.Get(ctx, "file-1")
	require.NoError(t, err)
	assert.Equal(t, []byte("payload"), data)

	require.NoError(t, store.Delete(ctx, "file-1"))
	_, err = store.Get(ctx, "file-1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRedisStoreGetMissingReturnsNotFound(t *testing.T) {
	store := testRedisStore(t)
	_, err := store.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}
