package model

import "sort"

// Filter is one active search criterion. Filter holds the pre-rendered
// GraphQL argument fragment (e.g. `name_Icontains: "foo"`) and Value the raw
// value the user entered.
type Filter struct {
	ID     string `json:"id"`
	Value  any    `json:"value"`
	Filter string `json:"filter"`
}

// Filters holds the active filters keyed by filter id. Writes to the same id
// replace the previous filter.
type Filters map[string]Filter

// Clone returns a shallow copy of the filters.
func (f Filters) Clone() Filters {
	out := make(Filters, len(f))
	for k, v := range f {
		out[k] = v
	}
	return out
}

// With returns a copy of the filters with each given filter applied. A filter
// with an empty Filter fragment removes the entry for its id.
func (f Filters) With(filters ...Filter) Filters {
	out := f.Clone()
	for _, flt := range filters {
		if flt.Filter == "" {
			delete(out, flt.ID)
			continue
		}
		out[flt.ID] = flt
	}
	return out
}

// Fragments returns the non-empty filter fragments ordered by filter id.
func (f Filters) Fragments() []string {
	keys := make([]string, 0, len(f))
	for k := range f {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]string, 0, len(keys))
	for _, k := range keys {
		if frag := f[k].Filter; frag != "" {
			out = append(out, frag)
		}
	}
	return out
}
