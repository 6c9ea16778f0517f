package role

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/pitabwire/portico/internal/config"
	"github.com/pitabwire/portico/internal/graphql"
	"github.com/pitabwire/portico/internal/observability"
	"github.com/pitabwire/portico/model"
)

const catalogQuery = "{ modulesPermissions { modulePermsList { moduleName permissions { permsName permsValue } } } }"

// Catalog fetches and caches the permission catalog of all modules. Entries
// are keyed by language since permission names may be translated.
// Concurrent misses for the same key share one backend call.
type Catalog struct {
	ex         graphql.Executor
	ttl        time.Duration
	maxEntries int
	metrics    *observability.Metrics
	now        func() time.Time

	mu    sync.RWMutex
	cache map[string]catalogEntry
	group singleflight.Group
}

type catalogEntry struct {
	modules   []model.ModulePermissions
	expiresAt time.Time
}

// NewCatalog creates a catalog cache.
func NewCatalog(ex graphql.Executor, cfg config.PermissionsConfig, metrics *observability.Metrics) *Catalog {
	ttl := cfg.Cache.TTL
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	maxEntries := cfg.Cache.MaxEntries
	if maxEntries <= 0 {
		maxEntries = 100
	}
	return &Catalog{
		ex:         ex,
		ttl:        ttl,
		maxEntries: maxEntries,
		metrics:    metrics,
		now:        time.Now,
		cache:      make(map[string]catalogEntry),
	}
}

// Modules returns the permission catalog, from cache when fresh.
func (c *Catalog) Modules(ctx context.Context, d model.Dispatcher) ([]model.ModulePermissions, error) {
	key := "perms:"
	if rctx := model.RequestContextFrom(ctx); rctx != nil {
		key += rctx.Language
	}

	if modules, hit := c.getFromCache(key); hit {
		c.metrics.RecordPermissionsCache(true)
		return modules, nil
	}
	c.metrics.RecordPermissionsCache(false)

	v, err, _ := c.group.Do(key, func() (any, error) {
		modules, err := c.fetch(ctx, d)
		if err != nil {
			return nil, err
		}
		c.putInCache(key, modules)
		return modules, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]model.ModulePermissions), nil
}

// Rights returns every right id published by the catalog.
func (c *Catalog) Rights(ctx context.Context, d model.Dispatcher) (model.RightSet, error) {
	modules, err := c.Modules(ctx, d)
	if err != nil {
		return nil, err
	}
	rights := model.RightSet{}
	for _, m := range modules {
		for _, p := range m.Permissions {
			rights[p.PermsValue] = true
		}
	}
	return rights, nil
}

// Invalidate drops all cached catalogs.
func (c *Catalog) Invalidate() {
	c.mu.Lock()
	c.cache = make(map[string]catalogEntry)
	c.mu.Unlock()
}

func (c *Catalog) fetch(ctx context.Context, d model.Dispatcher) ([]model.ModulePermissions, error) {
	resp, err := c.ex.Execute(ctx, d, graphql.Request{Query: catalogQuery}, CatalogTypes, nil)
	if err != nil {
		return nil, err
	}
	var data struct {
		ModulesPermissions struct {
			ModulePermsList []model.ModulePermissions `json:"modulePermsList"`
		} `json:"modulesPermissions"`
	}
	if err := resp.Decode(&data); err != nil {
		return nil, fmt.Errorf("decode permission catalog: %w", err)
	}
	return data.ModulesPermissions.ModulePermsList, nil
}

func (c *Catalog) getFromCache(key string) ([]model.ModulePermissions, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, ok := c.cache[key]
	if !ok || c.now().After(entry.expiresAt) {
		return nil, false
	}
	return entry.modules, true
}

func (c *Catalog) putInCache(key string, modules []model.ModulePermissions) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.cache) >= c.maxEntries {
		now := c.now()
		for k, v := range c.cache {
			if now.After(v.expiresAt) {
				delete(c.cache, k)
			}
		}
	}
	c.cache[key] = catalogEntry{modules: modules, expiresAt: c.now().Add(c.ttl)}
}
