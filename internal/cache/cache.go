// Package cache is the read-through subscription cache in front of the
// subscription store.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/jmehdipour/webhook-delivery/internal/clock"
	"github.com/jmehdipour/webhook-delivery/internal/logger"
	"github.com/jmehdipour/webhook-delivery/internal/metrics"
	"github.com/jmehdipour/webhook-delivery/internal/model"
	"github.com/jmehdipour/webhook-delivery/internal/repository"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// ErrMiss is returned by a Storage that has no value for a key.
var ErrMiss = errors.New("cache miss")

// Store is the authoritative source behind the cache.
type Store interface {
	Get(ctx context.Context, id string) (*model.Subscription, error)
}

// Storage holds encoded entries. ttl is a hint for backends that evict on
// their own; expiry is always re-checked on read.
type Storage interface {
	Load(ctx context.Context, key string) ([]byte, error)
	Save(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

// entry is the stored form. A nil Subscription is a cached "does not exist".
type entry struct {
	Subscription *model.Subscription `json:"subscription"`
	ExpiresAt    time.Time           `json:"expires_at"`
}

type Options struct {
	TTL         time.Duration
	NegativeTTL time.Duration // 0 disables negative caching
	KeyPrefix   string
	Clock       clock.Clock
	Logger      *zap.Logger
}

type SubscriptionCache struct {
	store   Store
	storage Storage
	opts    Options
	group   singleflight.Group

	mu  sync.Mutex
	gen map[string]uint64 // bumped by Invalidate
}

func New(store Store, storage Storage, opts Options) *SubscriptionCache {
	if opts.TTL <= 0 {
		opts.TTL = 5 * time.Minute
	}
	if opts.NegativeTTL < 0 {
		opts.NegativeTTL = 0
	}
	if opts.KeyPrefix == "" {
		opts.KeyPrefix = "subscription:"
	}
	opts.Clock = clock.OrReal(opts.Clock)
	opts.Logger = logger.OrNop(opts.Logger)
	return &SubscriptionCache{store: store, storage: storage, opts: opts, gen: map[string]uint64{}}
}

func (c *SubscriptionCache) key(id string) string { return c.opts.KeyPrefix + id }

// Get returns the subscription, or repository.ErrNotFound when it does not
// exist. Any other error comes from the store.
func (c *SubscriptionCache) Get(ctx context.Context, id string) (*model.Subscription, error) {
	if sub, found, ok := c.lookup(ctx, id); ok {
		if !found {
			metrics.CacheLookups.WithLabelValues("negative_hit").Inc()
			return nil, repository.ErrNotFound
		}
		metrics.CacheLookups.WithLabelValues("hit").Inc()
		return sub, nil
	}
	metrics.CacheLookups.WithLabelValues("miss").Inc()

	// The shared fill outlives any single caller; each caller still stops
	// waiting when its own ctx ends.
	fillCtx := context.WithoutCancel(ctx)
	ch := c.group.DoChan(id, func() (any, error) {
		return c.fill(fillCtx, id)
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		sub := *res.Val.(*model.Subscription)
		return &sub, nil
	}
}

// lookup reports ok=false when the caller has to go to the store.
func (c *SubscriptionCache) lookup(ctx context.Context, id string) (sub *model.Subscription, found, ok bool) {
	key := c.key(id)
	raw, err := c.storage.Load(ctx, key)
	if err != nil {
		if !errors.Is(err, ErrMiss) {
			c.opts.Logger.Warn("subscription cache read failed", zap.String("key", key), zap.Error(err))
		}
		return nil, false, false
	}

	var e entry
	if err := json.Unmarshal(raw, &e); err != nil {
		c.opts.Logger.Warn("dropping corrupt subscription cache entry", zap.String("key", key), zap.Error(err))
		if derr := c.storage.Delete(ctx, key); derr != nil {
			c.opts.Logger.Warn("subscription cache delete failed", zap.String("key", key), zap.Error(derr))
		}
		return nil, false, false
	}
	if !c.opts.Clock.Now().Before(e.ExpiresAt) {
		return nil, false, false
	}
	return e.Subscription, e.Subscription != nil, true
}

func (c *SubscriptionCache) fill(ctx context.Context, id string) (*model.Subscription, error) {
	gen := c.generation(id)
	sub, err := c.store.Get(ctx, id)
	switch {
	case errors.Is(err, repository.ErrNotFound):
		if c.opts.NegativeTTL > 0 {
			c.save(ctx, id, gen, nil, c.opts.NegativeTTL)
		}
		return nil, repository.ErrNotFound
	case err != nil:
		return nil, err
	}
	c.save(ctx, id, gen, sub, c.opts.TTL)
	return sub, nil
}

func (c *SubscriptionCache) generation(id string) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gen[id]
}

// save is best effort: the store stays authoritative when the cache is down.
// A snapshot read before an Invalidate in this process is not left behind:
// Invalidate bumps the generation before deleting, so a save that lands after
// the delete sees the bump and removes its own entry.
func (c *SubscriptionCache) save(ctx context.Context, id string, gen uint64, sub *model.Subscription, ttl time.Duration) {
	if c.generation(id) != gen {
		return
	}
	raw, err := json.Marshal(entry{Subscription: sub, ExpiresAt: c.opts.Clock.Now().Add(ttl)})
	if err != nil {
		c.opts.Logger.Error("encode subscription cache entry", zap.String("subscription_id", id), zap.Error(err))
		return
	}
	if err := c.storage.Save(ctx, c.key(id), raw, ttl); err != nil {
		c.opts.Logger.Warn("subscription cache write failed", zap.String("subscription_id", id), zap.Error(err))
		return
	}
	if c.generation(id) != gen {
		if err := c.storage.Delete(ctx, c.key(id)); err != nil {
			c.opts.Logger.Warn("subscription cache delete failed", zap.String("subscription_id", id), zap.Error(err))
		}
	}
}

// Invalidate evicts id whatever state its entry is in.
func (c *SubscriptionCache) Invalidate(ctx context.Context, id string) error {
	c.mu.Lock()
	c.gen[id]++
	c.mu.Unlock()

	if err := c.storage.Delete(ctx, c.key(id)); err != nil {
		return err
	}
	c.group.Forget(id)
	return nil
}
