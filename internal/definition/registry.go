package definition

import (
	"cmp"
	"crypto/sha256"
	"encoding/hex"
	"slices"
	"sync/atomic"

	"github.com/pitabwire/portico/model"
)

// catalog is one immutable generation of loaded definitions. Readers take
// the whole catalog at once, so a reload never shows them a mix of old and
// new searchers.
type catalog struct {
	ordered  []model.SearcherDefinition
	index    map[string]int
	modules  map[string]string // module -> version
	checksum string
}

func newCatalog(defs []model.DefinitionFile) *catalog {
	c := &catalog{
		index:   make(map[string]int),
		modules: make(map[string]string, len(defs)),
	}
	sums := make([]string, 0, len(defs))
	for _, def := range defs {
		c.modules[def.Module] = def.Version
		sums = append(sums, def.Checksum)
		c.ordered = append(c.ordered, def.Searchers...)
	}
	slices.SortStableFunc(c.ordered, func(a, b model.SearcherDefinition) int {
		return cmp.Compare(a.ID, b.ID)
	})
	// On a duplicate ID the first file wins; the validator rejects
	// duplicates before they get here.
	c.ordered = slices.CompactFunc(c.ordered, func(a, b model.SearcherDefinition) bool {
		return a.ID == b.ID
	})
	for i, s := range c.ordered {
		c.index[s.ID] = i
	}

	slices.Sort(sums)
	h := sha256.New()
	for _, s := range sums {
		h.Write([]byte(s))
		h.Write([]byte{':'})
	}
	c.checksum = hex.EncodeToString(h.Sum(nil))
	return c
}

// Registry serves the current catalog to concurrent readers and lets the
// watcher swap in a new one without locks.
type Registry struct {
	cur atomic.Pointer[catalog]
}

// NewRegistry returns a registry holding defs.
func NewRegistry(defs []model.DefinitionFile) *Registry {
	r := &Registry{}
	r.Replace(defs)
	return r
}

// Replace publishes defs as the new catalog.
func (r *Registry) Replace(defs []model.DefinitionFile) {
	r.cur.Store(newCatalog(defs))
}

// GetSearcher looks a searcher up by ID.
func (r *Registry) GetSearcher(id string) (model.SearcherDefinition, bool) {
	c := r.cur.Load()
	i, ok := c.index[id]
	if !ok {
		return model.SearcherDefinition{}, false
	}
	return c.ordered[i], true
}

// Searchers returns every searcher ordered by ID.
func (r *Registry) Searchers() []model.SearcherDefinition {
	return slices.Clone(r.cur.Load().ordered)
}

// Visible returns the searchers a holder of rights may query: those with no
// rights listed or with at least one right the holder has.
func (r *Registry) Visible(rights model.RightSet) []model.SearcherDefinition {
	var out []model.SearcherDefinition
	for _, s := range r.cur.Load().ordered {
		if len(s.Rights) == 0 || rights.HasAny(s.Rights...) {
			out = append(out, s)
		}
	}
	return out
}

// ModuleVersion returns the version of a loaded module.
func (r *Registry) ModuleVersion(module string) (string, bool) {
	v, ok := r.cur.Load().modules[module]
	return v, ok
}

// Len returns the number of searchers.
func (r *Registry) Len() int {
	return len(r.cur.Load().ordered)
}

// Checksum identifies the loaded set of files independent of load order.
func (r *Registry) Checksum() string {
	return r.cur.Load().checksum
}
