// Package contrib lets modules contribute routes and readiness checks to
// the portal under well-known keys.
package contrib

import (
	"sort"
	"sync"
)

// Well-known contribution keys.
const (
	// KeyRoutes collects transport.RouteContributor values.
	KeyRoutes = "core.Router"
	// KeyReadiness collects named observability.HealthChecker values.
	KeyReadiness = "core.Readiness"
)

// Registry collects contributions by key. Safe for concurrent use.
type Registry struct {
	mu            sync.RWMutex
	contributions map[string][]any
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{contributions: make(map[string][]any)}
}

// Contribute appends items to key's contributions.
func (r *Registry) Contribute(key string, items ...any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.contributions[key] = append(r.contributions[key], items...)
}

// Contributions returns key's contributions in contribution order.
func (r *Registry) Contributions(key string) []any {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]any(nil), r.contributions[key]...)
}

// ContributionsOf returns key's contributions that are T, skipping others.
func ContributionsOf[T any](r *Registry, key string) []T {
	var out []T
	for _, c := range r.Contributions(key) {
		if t, ok := c.(T); ok {
			out = append(out, t)
		}
	}
	return out
}

// Keys returns every key with at least one contribution, sorted.
func (r *Registry) Keys() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	keys := make([]string, 0, len(r.contributions))
	for k, items := range r.contributions {
		if len(items) > 0 {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys
}
