package blobstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cloud10922/zkim/internal/config"
	"github.com/redis/go-redis/v9"
)

const pingTimeout = 5 * time.Second

// RedisStore backs Store with a Redis key space. It is used for the
// §6 local key/value fallback (the search index's persisted file-index
// blob when no ZKIM engine is configured), not as a primary object
// store — Redis values are not intended to hold large chunked payloads.
type RedisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStore dials the Redis server named by cfg and returns a Store
// backed by it. The teacher's own go.mod lists go-redis and miniredis
// without any source file exercising them; this wiring follows the
// go-redis/v9 client's documented conventions directly.
func NewRedisStore(cfg config.RedisConfig) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr: cfg.Addr,
		DB:   cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), pingTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("blobstore: redis ping %s: %w", cfg.Addr, err)
	}

	return &RedisStore{client: client, prefix: "zkim:blob:"}, nil
}

// NewRedisStoreFromClient wraps an already-constructed client, letting
// tests point it at a miniredis instance without redialing.
func NewRedisStoreFromClient(client *redis.Client) *RedisStore {
	return &RedisStore{client: client, prefix: "zkim:blob:"}
}

func (r *RedisStore) key(id string) string {
	return r.prefix + id
}

func (r *RedisStore) Put(ctx context.Context, id string, data []byte) error {
	if err := r.client.Set(ctx, r.key(id), data, 0).Err(); err != nil {
		return fmt.Errorf("blobstore: redis put %s: %w", id, err)
	}
	return nil
}

func (r *RedisStore) Get(ctx context.Context, id string) ([]byte, error) {
	data, err := r.client.Get(ctx, r.key(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("blobstore: redis get %s: %w", id, err)
	}
	return data, nil
}

func (r *RedisStore) Delete(ctx context.Context, id string) error {
	if err := r.client.Del(ctx, r.key(id)).Err(); err != nil {
		return fmt.Errorf("blobstore: redis delete %s: %w", id, err)
	}
	return nil
}

// Close releases the underlying connection pool.
func (r *RedisStore) Close() error {
	return r.client.Close()
}
