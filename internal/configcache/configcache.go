// Package configcache provides a short-TTL memoised cache in front of
// values that are expensive or rate-limited to fetch repeatedly — worker
// pause/stop/throttle config reads and review-service PHID lookups. A
// Redis backend is used when available; concurrent misses for the same
// key are collapsed via singleflight so a cache stampede doesn't turn
// into N simultaneous upstream calls.
package configcache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"
)

// DefaultTTL matches the original's short-lived config cache window —
// long enough to absorb repeated reads within a single worker poll loop,
// short enough that a pause/stop flag flip takes effect promptly.
const DefaultTTL = 10 * time.Second

// Loader fetches the current value for key from its source of truth.
type Loader func(ctx context.Context) (string, error)

// Cache is a Redis-backed, singleflight-deduplicated string cache.
// A nil *redis.Client degrades to "always call Loader" — the cache is
// an optimisation, not a correctness requirement, so KV unavailability
// must never block a caller.
type Cache struct {
	redis *redis.Client
	ttl   time.Duration
	group singleflight.Group
}

// New builds a Cache over the given Redis client. Pass nil to disable
// caching (every Get calls through to its Loader).
func New(client *redis.Client, ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Cache{redis: client, ttl: ttl}
}

// Get returns the cached value for key, calling load on a miss. Redis
// errors (including an absent Redis) fall back to calling load directly
// rather than failing the caller.
func (c *Cache) Get(ctx context.Context, key string, load Loader) (string, error) {
	if c.redis != nil {
		if val, err := c.redis.Get(ctx, key).Result(); err == nil {
			return val, nil
		}
	}

	v, err, _ := c.group.Do(key, func() (interface{}, error) {
		val, err := load(ctx)
		if err != nil {
			return "", err
		}
		if c.redis != nil {
			// Best-effort: a failed SET just means the next Get misses
			// again, it doesn't affect correctness of this call.
			c.redis.Set(ctx, key, val, c.ttl)
		}
		return val, nil
	})
	if err != nil {
		return "", fmt.Errorf("loading config cache key %q: %w", key, err)
	}
	return v.(string), nil
}

// Invalidate removes key from the cache immediately, used after a config
// value is known to have changed (e.g. an admin flips a pause flag).
func (c *Cache) Invalidate(ctx context.Context, key string) error {
	if c.redis == nil {
		return nil
	}
	if err := c.redis.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("invalidating config cache key %q: %w", key, err)
	}
	return nil
}
