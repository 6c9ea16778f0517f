package searcher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/pitabwire/portico/internal/config"
	"github.com/pitabwire/portico/internal/observability"
	"github.com/pitabwire/portico/model"
)

// FilterCache remembers the filters of a list between mounts.
type FilterCache interface {
	// Get returns the cached filters for key, with found false on a miss.
	Get(ctx context.Context, key string) (filters model.Filters, found bool, err error)

	// Set stores filters under key.
	Set(ctx context.Context, key string, filters model.Filters) error

	// Delete removes key.
	Delete(ctx context.Context, key string) error

	// Ping reports whether the cache backend is reachable.
	Ping(ctx context.Context) error
}

// CacheKey builds the cache key of one list instance. The tab, when set,
// namespaces lists sharing a cache key across tabs of the same page.
func CacheKey(subjectID, cacheKey, tab string) string {
	key := cacheKey
	if tab != "" {
		key += "." + tab
	}
	return fmt.Sprintf("filters:%s:%s", subjectID, key)
}

// NewFilterCache builds the filter cache selected by cfg.
func NewFilterCache(cfg config.FilterCacheConfig, metrics *observability.Metrics) (FilterCache, error) {
	switch cfg.Driver {
	case "", "memory":
		return &instrumentedCache{next: NewMemoryFilterCache(cfg.TTL), metrics: metrics}, nil
	case "redis":
		addr := os.Getenv(cfg.AddrEnv)
		if addr == "" {
			return nil, fmt.Errorf("filter cache: environment variable %s is empty", cfg.AddrEnv)
		}
		client := redis.NewClient(&redis.Options{Addr: addr, DB: cfg.DB})
		return &instrumentedCache{next: NewRedisFilterCache(client, cfg.TTL), metrics: metrics}, nil
	default:
		return nil, fmt.Errorf("filter cache: unknown driver %q", cfg.Driver)
	}
}

// --- MemoryFilterCache ---

// MemoryFilterCache is an in-memory FilterCache with TTL support. Suitable
// for testing and single-instance deployments.
type MemoryFilterCache struct {
	mu      sync.RWMutex
	ttl     time.Duration
	entries map[string]*memEntry
	now     func() time.Time
}

type memEntry struct {
	filters   model.Filters
	expiresAt time.Time
}

// NewMemoryFilterCache creates a memory cache. A zero ttl keeps entries
// until deleted.
func NewMemoryFilterCache(ttl time.Duration) *MemoryFilterCache {
	return &MemoryFilterCache{
		ttl:     ttl,
		entries: make(map[string]*memEntry),
		now:     time.Now,
	}
}

// Get returns the cached filters for key.
func (c *MemoryFilterCache) Get(_ context.Context, key string) (model.Filters, bool, error) {
	c.mu.RLock()
	entry, exists := c.entries[key]
	c.mu.RUnlock()

	if !exists {
		return nil, false, nil
	}
	if !entry.expiresAt.IsZero() && c.now().After(entry.expiresAt) {
		c.mu.Lock()
		delete(c.entries, key)
		c.mu.Unlock()
		return nil, false, nil
	}
	return entry.filters.Clone(), true, nil
}

// Set stores filters under key.
func (c *MemoryFilterCache) Set(_ context.Context, key string, filters model.Filters) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry := &memEntry{filters: filters.Clone()}
	if c.ttl > 0 {
		entry.expiresAt = c.now().Add(c.ttl)
	}
	c.entries[key] = entry
	return nil
}

// Delete removes key.
func (c *MemoryFilterCache) Delete(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
	return nil
}

// Ping always succeeds.
func (c *MemoryFilterCache) Ping(context.Context) error { return nil }

// Len returns the number of entries (including expired ones). For testing.
func (c *MemoryFilterCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// --- RedisFilterCache ---

// RedisFilterCache is a Redis-backed FilterCache. Filters are stored as
// JSON with the configured TTL.
type RedisFilterCache struct {
	client redis.Cmdable
	ttl    time.Duration
}

// NewRedisFilterCache creates a new Redis-backed filter cache.
func NewRedisFilterCache(client redis.Cmdable, ttl time.Duration) *RedisFilterCache {
	return &RedisFilterCache{client: client, ttl: ttl}
}

// Get returns the cached filters for key.
func (c *RedisFilterCache) Get(ctx context.Context, key string) (model.Filters, bool, error) {
	raw, err := c.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis get %q: %w", key, err)
	}

	var filters model.Filters
	if err := json.Unmarshal(raw, &filters); err != nil {
		return nil, false, fmt.Errorf("unmarshal filters %q: %w", key, err)
	}
	if filters == nil {
		filters = model.Filters{}
	}
	return filters, true, nil
}

// Set stores filters under key.
func (c *RedisFilterCache) Set(ctx context.Context, key string, filters model.Filters) error {
	data, err := json.Marshal(filters)
	if err != nil {
		return fmt.Errorf("marshal filters: %w", err)
	}
	if err := c.client.Set(ctx, key, data, c.ttl).Err(); err != nil {
		return fmt.Errorf("redis set %q: %w", key, err)
	}
	return nil
}

// Delete removes key.
func (c *RedisFilterCache) Delete(ctx context.Context, key string) error {
	if err := c.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("redis del %q: %w", key, err)
	}
	return nil
}

// Ping checks Redis connectivity.
func (c *RedisFilterCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// instrumentedCache records hit/miss and error counts for another cache.
type instrumentedCache struct {
	next    FilterCache
	metrics *observability.Metrics
}

func (c *instrumentedCache) Get(ctx context.Context, key string) (model.Filters, bool, error) {
	filters, found, err := c.next.Get(ctx, key)
	switch {
	case err != nil:
		c.metrics.RecordFilterCacheOp("get", "error")
	case found:
		c.metrics.RecordFilterCacheOp("get", "hit")
	default:
		c.metrics.RecordFilterCacheOp("get", "miss")
	}
	return filters, found, err
}

func (c *instrumentedCache) Set(ctx context.Context, key string, filters model.Filters) error {
	err := c.next.Set(ctx, key, filters)
	c.metrics.RecordFilterCacheOp("set", resultOf(err))
	return err
}

func (c *instrumentedCache) Delete(ctx context.Context, key string) error {
	err := c.next.Delete(ctx, key)
	c.metrics.RecordFilterCacheOp("delete", resultOf(err))
	return err
}

func (c *instrumentedCache) Ping(ctx context.Context) error { return c.next.Ping(ctx) }

func resultOf(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
