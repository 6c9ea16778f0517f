// Package capability resolves and caches the rights granted to the subject
// of a request, and gates operations on them.
package capability

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/pitabwire/portico/internal/observability"
	"github.com/pitabwire/portico/model"
)

// RightsSource loads the rights of a subject from the system of record.
type RightsSource interface {
	Rights(ctx context.Context, rctx *model.RequestContext) (model.RightSet, error)
}

// RightsSourceFunc adapts a function to RightsSource.
type RightsSourceFunc func(ctx context.Context, rctx *model.RequestContext) (model.RightSet, error)

// Rights calls f.
func (f RightsSourceFunc) Rights(ctx context.Context, rctx *model.RequestContext) (model.RightSet, error) {
	return f(ctx, rctx)
}

type cacheEntry struct {
	rights  model.RightSet
	expires time.Time
}

// Resolver implements model.RightsResolver with an in-memory cache.
// Concurrent misses for the same subject share one source call.
type Resolver struct {
	source  RightsSource
	ttl     time.Duration
	metrics *observability.Metrics
	now     func() time.Time

	mu    sync.RWMutex
	cache map[string]cacheEntry
	group singleflight.Group
}

// NewResolver creates a new Resolver with the given source and cache TTL.
func NewResolver(source RightsSource, ttl time.Duration, metrics *observability.Metrics) *Resolver {
	return &Resolver{
		source:  source,
		ttl:     ttl,
		metrics: metrics,
		now:     time.Now,
		cache:   make(map[string]cacheEntry),
	}
}

// Resolve returns the rights of the request's subject. Results are cached
// for the configured TTL.
func (r *Resolver) Resolve(ctx context.Context, rctx *model.RequestContext) (model.RightSet, error) {
	key := rctx.SubjectID

	r.mu.RLock()
	if entry, ok := r.cache[key]; ok && r.now().Before(entry.expires) {
		r.mu.RUnlock()
		r.metrics.RecordRightsCache(true)
		return entry.rights, nil
	}
	r.mu.RUnlock()
	r.metrics.RecordRightsCache(false)

	v, err, _ := r.group.Do(key, func() (any, error) {
		rights, err := r.source.Rights(ctx, rctx)
		if err != nil {
			return nil, err
		}
		r.mu.Lock()
		r.cache[key] = cacheEntry{rights: rights, expires: r.now().Add(r.ttl)}
		r.mu.Unlock()
		return rights, nil
	})
	if err != nil {
		return nil, fmt.Errorf("resolving rights of %s: %w", key, err)
	}
	return v.(model.RightSet), nil
}

// Invalidate clears cached rights for the given subject.
func (r *Resolver) Invalidate(subjectID string) {
	r.mu.Lock()
	delete(r.cache, subjectID)
	r.mu.Unlock()
}

var _ model.RightsResolver = (*Resolver)(nil)
