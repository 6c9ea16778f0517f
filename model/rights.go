package model

import (
	"context"
	"sort"
)

// RightSet is the set of right identifiers granted to a user. Right ids are
// the numeric permission values published by the backend's permissions
// catalog (e.g. 122001 for role search).
type RightSet map[int]bool

// NewRightSet builds a RightSet from a list of right ids.
func NewRightSet(ids ...int) RightSet {
	rs := make(RightSet, len(ids))
	for _, id := range ids {
		rs[id] = true
	}
	return rs
}

// Has returns true if the set contains the right.
func (rs RightSet) Has(right int) bool {
	return rs[right]
}

// HasAll returns true if the set contains all given rights.
func (rs RightSet) HasAll(rights ...int) bool {
	for _, r := range rights {
		if !rs.Has(r) {
			return false
		}
	}
	return true
}

// HasAny returns true if the set contains at least one of the given rights.
// An empty argument list never matches.
func (rs RightSet) HasAny(rights ...int) bool {
	for _, r := range rights {
		if rs.Has(r) {
			return true
		}
	}
	return false
}

// Sorted returns the granted right ids in ascending order.
func (rs RightSet) Sorted() []int {
	out := make([]int, 0, len(rs))
	for id, ok := range rs {
		if ok {
			out = append(out, id)
		}
	}
	sort.Ints(out)
	return out
}

// Role management rights.
const (
	RightRoleSearch    = 122001
	RightRoleCreate    = 122002
	RightRoleUpdate    = 122003
	RightRoleDelete    = 122004
	RightRoleDuplicate = 122005
)

// RightsResolver resolves the rights granted to the subject of a request.
type RightsResolver interface {
	// Resolve returns the rights of the request's subject.
	Resolve(ctx context.Context, rctx *RequestContext) (RightSet, error)

	// Invalidate clears cached rights for the given subject.
	Invalidate(subjectID string)
}

// Equal reports whether both sets grant the same rights.
func (rs RightSet) Equal(other RightSet) bool {
	a, b := rs.Sorted(), other.Sorted()
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
