package cache

import (
	"context"
	"errors"
	"time"

	"github.com/marcogenualdo/redsktop-proxy/internal/config"
)

var (
	ErrNotFound   = errors.New("key not found")
	ErrInvalidTTL = errors.New("ttl must be positive")
)

// Cache is a byte-valued store with per-key TTL. An expired key behaves as
// absent on every read. Set rejects a non-positive TTL with ErrInvalidTTL.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Exists(ctx context.Context, key string) (bool, error)
	// Take returns the value and removes the key in one step, so at most one
	// caller ever observes a given entry.
	Take(ctx context.Context, key string) ([]byte, error)
	Close() error
}

func New(storeType string, redisCfg *config.RedisConfig, sweepInterval time.Duration) (Cache, error) {
	switch storeType {
	case "memory":
		return NewMemoryCache(sweepInterval), nil
	case "redis":
		if redisCfg == nil {
			return nil, errors.New("redis config is required for redis cache type")
		}
		return NewRedisCache(*redisCfg)
	default:
		return nil, errors.New("unsupported cache type: " + storeType)
	}
}
