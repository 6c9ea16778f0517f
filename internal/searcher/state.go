// Package searcher implements cursor-paginated, filterable search over the
// backend's GraphQL connections: the pagination state machine, per-list
// filter caching and the generic Searcher that ties them to a fetcher.
package searcher

import (
	"fmt"

	"github.com/pitabwire/portico/internal/graphql"
	"github.com/pitabwire/portico/model"
)

// Phase is the searcher's position in its fetch cycle.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseFiltering
	PhaseFetching
	PhaseSucceeded
	PhaseFailed
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseFiltering:
		return "filtering"
	case PhaseFetching:
		return "fetching"
	case PhaseSucceeded:
		return "succeeded"
	case PhaseFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// State is the full pagination and filter state of one list. Transitions
// are pure functions returning a new State.
type State struct {
	Filters  model.Filters   `json:"filters"`
	OrderBy  string          `json:"orderBy,omitempty"`
	Page     model.PageState `json:"page"`
	PageInfo model.PageInfo  `json:"pageInfo"`
	Phase    Phase           `json:"phase"`

	// Generation increases on every transition that triggers a fetch.
	// Results fetched for an older generation are discarded.
	Generation uint64 `json:"generation"`
}

// NewState returns the initial state for a list with the given defaults.
func NewState(pageSize int, defaults model.Filters, orderBy string) State {
	if defaults == nil {
		defaults = model.Filters{}
	}
	return State{
		Filters: defaults.Clone(),
		OrderBy: orderBy,
		Page:    model.PageState{PageSize: pageSize},
	}
}

func (s State) restart() State {
	s.Page.Page = 0
	s.Page.AfterCursor = ""
	s.Page.BeforeCursor = ""
	s.PageInfo = model.PageInfo{}
	return s
}

// ApplyFilters applies filter changes, returning to page 0 with both
// cursors cleared.
func ApplyFilters(s State, changes ...model.Filter) State {
	s.Filters = s.Filters.With(changes...)
	s = s.restart()
	s.Phase = PhaseFiltering
	return s
}

// ReplaceFilters swaps in a whole filter set with the same reset as
// ApplyFilters.
func ReplaceFilters(s State, filters model.Filters) State {
	if filters == nil {
		filters = model.Filters{}
	}
	s.Filters = filters.Clone()
	s = s.restart()
	s.Phase = PhaseFiltering
	return s
}

// Reset restores the default filters and ordering.
func Reset(s State, defaults model.Filters, orderBy string) State {
	s = ReplaceFilters(s, defaults)
	s.OrderBy = orderBy
	return s
}

// NextPage moves forward using the last page's end cursor.
func NextPage(s State) State {
	s.Page.Page++
	s.Page.AfterCursor = s.PageInfo.EndCursor
	s.Page.BeforeCursor = ""
	return s
}

// PreviousPage moves back using the last page's start cursor.
func PreviousPage(s State) State {
	if s.Page.Page > 0 {
		s.Page.Page--
	}
	s.Page.BeforeCursor = s.PageInfo.StartCursor
	s.Page.AfterCursor = ""
	return s
}

// ChangePageSize sets a new page size, restarting at page 0 with filters
// kept.
func ChangePageSize(s State, size int) State {
	s.Page.PageSize = size
	return s.restart()
}

// ChangeOrderBy sets the ordering, restarting at page 0.
func ChangeOrderBy(s State, orderBy string) State {
	s.OrderBy = orderBy
	return s.restart()
}

// Sort computes the next ordering when the user sorts by attr: attr flips
// to -attr, -attr flips to attr, and anything else starts at attr (or -attr
// when asc is false).
func Sort(orderBy, attr string, asc bool) string {
	switch orderBy {
	case attr:
		return "-" + attr
	case "-" + attr:
		return attr
	}
	if asc {
		return attr
	}
	return "-" + attr
}

// QueryParams renders the GraphQL arguments for s: filter fragments ordered
// by filter id, then the pagination arguments, then orderBy.
func QueryParams(s State) []string {
	params := s.Filters.Fragments()
	switch {
	case s.Page.AfterCursor != "":
		params = append(params,
			graphql.StringArg("after", s.Page.AfterCursor),
			fmt.Sprintf("first: %d", s.Page.PageSize),
		)
	case s.Page.BeforeCursor != "":
		params = append(params,
			graphql.StringArg("before", s.Page.BeforeCursor),
			fmt.Sprintf("last: %d", s.Page.PageSize),
		)
	default:
		params = append(params, fmt.Sprintf("first: %d", s.Page.PageSize))
	}
	if ob := graphql.OrderByArg(s.OrderBy); ob != "" {
		params = append(params, ob)
	}
	return params
}
