// Package storage is the durable string key-value bridge shared by the token
// store and the cart persister.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/angelmondragon/packfinderz-storefront/pkg/config"
	"github.com/angelmondragon/packfinderz-storefront/pkg/db"
	"github.com/angelmondragon/packfinderz-storefront/pkg/logger"
	"github.com/angelmondragon/packfinderz-storefront/pkg/redis"
)

// ErrNotFound is returned by Get when the key has never been set or was removed.
var ErrNotFound = errors.New("storage: key not found")

// KV is the durable get/set/remove surface.
type KV interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
	// Remove deletes keys; absent keys are not an error.
	Remove(ctx context.Context, keys ...string) error
}

// MultiSetter is implemented by backends that can write several keys atomically.
type MultiSetter interface {
	SetMany(ctx context.Context, entries map[string]string) error
}

// Open builds the backend selected by cfg. The returned closer releases its connections.
func Open(ctx context.Context, storageCfg config.StorageConfig, redisCfg config.RedisConfig, logg *logger.Logger) (KV, io.Closer, error) {
	switch storageCfg.Driver {
	case config.StorageDriverMemory:
		return NewMemoryKV(), nopCloser{}, nil
	case config.StorageDriverRedis:
		client, err := redis.New(ctx, redisCfg, logg)
		if err != nil {
			return nil, nil, err
		}
		return NewRedisKV(client), client, nil
	case config.StorageDriverSQLite, config.StorageDriverPostgres:
		client, err := db.New(ctx, storageCfg, logg)
		if err != nil {
			return nil, nil, err
		}
		return NewSQLKV(client), client, nil
	default:
		return nil, nil, fmt.Errorf("unsupported storage driver %q", storageCfg.Driver)
	}
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
