package cache

import (
	"fmt"

	"github.com/jmehdipour/webhook-delivery/internal/config"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Open builds the cache over the configured storage driver.
func Open(cfg config.CacheConfig, store Store, rdb *redis.Client, log *zap.Logger) (*SubscriptionCache, error) {
	var storage Storage
	switch cfg.Driver {
	case "redis":
		if rdb == nil {
			return nil, fmt.Errorf("cache: redis driver needs a redis client")
		}
		storage = NewRedisStorage(rdb)
	case "memory":
		storage = NewMemoryStorage(nil)
	default:
		return nil, fmt.Errorf("unknown cache driver %q", cfg.Driver)
	}

	return New(store, storage, Options{
		TTL:         cfg.TTL(),
		NegativeTTL: cfg.NegativeTTL(),
		KeyPrefix:   cfg.KeyPrefix,
		Logger:      log,
	}), nil
}
