package store

import (
	"sync"
	"time"
)

// Registry hands out one Store per subject and evicts stores idle for
// longer than ttl.
type Registry struct {
	mu      sync.Mutex
	stores  map[string]*entry
	ttl     time.Duration
	factory func() *Store
	now     func() time.Time
}

type entry struct {
	store    *Store
	lastSeen time.Time
}

// NewRegistry creates a registry. A zero ttl disables eviction. factory may
// be nil, in which case New() is used.
func NewRegistry(ttl time.Duration, factory func() *Store) *Registry {
	if factory == nil {
		factory = func() *Store { return New() }
	}
	return &Registry{
		stores:  make(map[string]*entry),
		ttl:     ttl,
		factory: factory,
		now:     time.Now,
	}
}

// For returns the subject's store, creating it on first use.
func (r *Registry) For(subjectID string) *Store {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	r.evictLocked(now)

	e, ok := r.stores[subjectID]
	if !ok {
		e = &entry{store: r.factory()}
		r.stores[subjectID] = e
	}
	e.lastSeen = now
	return e.store
}

// Drop forgets the subject's store, e.g. on logout.
func (r *Registry) Drop(subjectID string) {
	r.mu.Lock()
	delete(r.stores, subjectID)
	r.mu.Unlock()
}

// Len returns the number of live stores.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.stores)
}

func (r *Registry) evictLocked(now time.Time) {
	if r.ttl <= 0 {
		return
	}
	for id, e := range r.stores {
		if now.Sub(e.lastSeen) > r.ttl {
			delete(r.stores, id)
		}
	}
}
