package storage

import (
	"context"
	"errors"
	"time"

	"github.com/angelmondragon/packfinderz-storefront/pkg/redis"
)

type redisStore interface {
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
	Get(ctx context.Context, key string) (string, error)
	Del(ctx context.Context, keys ...string) error
	StorageKey(key string) string
}

// RedisKV stores entries under the sf:kv namespace without expiry.
type RedisKV struct {
	client redisStore
}

func NewRedisKV(client *redis.Client) *RedisKV {
	return &RedisKV{client: client}
}

func (r *RedisKV) Get(ctx context.Context, key string) (string, error) {
	val, err := r.client.Get(ctx, r.client.StorageKey(key))
	if errors.Is(err, redis.ErrNil) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", err
	}
	return val, nil
}

func (r *RedisKV) Set(ctx context.Context, key, value string) error {
	return r.client.Set(ctx, r.client.StorageKey(key), value, 0)
}

func (r *RedisKV) Remove(ctx context.Context, keys ...string) error {
	namespaced := make([]string, 0, len(keys))
	for _, key := range keys {
		namespaced = append(namespaced, r.client.StorageKey(key))
	}
	return r.client.Del(ctx, namespaced...)
}
