package transport

import (
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/pitabwire/portico/internal/capability"
	"github.com/pitabwire/portico/internal/searcher"
	"github.com/pitabwire/portico/model"
)

// searchResponse is the body of a searcher or role list response.
type searchResponse[T any] struct {
	Items      []T            `json:"items"`
	PageInfo   model.PageInfo `json:"pageInfo"`
	TotalCount int            `json:"totalCount"`
	State      searcher.State `json:"state"`
}

func newSearchResponse[T any](snap searcher.Snapshot[T]) searchResponse[T] {
	items := snap.Result.Items
	if items == nil {
		items = []T{}
	}
	return searchResponse[T]{
		Items:      items,
		PageInfo:   snap.Result.PageInfo,
		TotalCount: snap.Result.TotalCount,
		State:      snap.State,
	}
}

// searcherSummary describes a searcher the caller may query.
type searcherSummary struct {
	ID              string   `json:"id"`
	Entity          string   `json:"entity"`
	Projections     []string `json:"projections"`
	WithCount       bool     `json:"withCount"`
	DefaultPageSize int      `json:"defaultPageSize"`
	PageSizes       []int    `json:"pageSizes,omitempty"`
	DefaultOrderBy  string   `json:"defaultOrderBy,omitempty"`
}

func (h *handlers) listSearchers(w http.ResponseWriter, r *http.Request) {
	rctx, _, err := h.session(r)
	if err != nil {
		WriteError(w, err)
		return
	}

	visible := h.deps.Definitions.Visible(rctx.Rights)
	out := make([]searcherSummary, 0, len(visible))
	for _, d := range visible {
		out = append(out, searcherSummary{
			ID:              d.ID,
			Entity:          d.Entity,
			Projections:     d.Projections,
			WithCount:       d.WithCount,
			DefaultPageSize: d.DefaultPageSize,
			PageSizes:       d.PageSizes,
			DefaultOrderBy:  d.DefaultOrderBy,
		})
	}
	WriteJSON(w, http.StatusOK, map[string]any{"searchers": out})
}

func (h *handlers) search(w http.ResponseWriter, r *http.Request) {
	rctx, st, err := h.session(r)
	if err != nil {
		WriteError(w, err)
		return
	}

	id := chi.URLParam(r, "searcherId")
	def, ok := h.deps.Definitions.GetSearcher(id)
	if !ok {
		WriteNotFound(w, fmt.Sprintf("searcher %q not found", id))
		return
	}
	if err := capability.Require(rctx.Rights, def.Rights...); err != nil {
		WriteError(w, err)
		return
	}

	q, err := parseSearchQuery(r.URL.Query())
	if err != nil {
		WriteError(w, err)
		return
	}

	s := searcher.New[map[string]any](def,
		searcher.GraphQLFetcher[map[string]any](h.deps.Backend, st, def),
		h.searcherOptions(r, rctx)...,
	)
	snap, err := s.Query(r.Context(), q)
	if err != nil {
		WriteError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, newSearchResponse(snap))
}

func (h *handlers) searcherOptions(r *http.Request, rctx *model.RequestContext) []searcher.Option {
	opts := []searcher.Option{
		searcher.WithTab(r.URL.Query().Get("tab")),
		searcher.WithLogger(h.logger(r)),
	}
	if n := h.deps.Config.Searcher.DefaultPageSize; n > 0 {
		opts = append(opts, searcher.WithDefaultPageSize(n))
	}
	if h.deps.FilterCache != nil {
		opts = append(opts, searcher.WithFilterCache(h.deps.FilterCache, rctx.SubjectID))
	}
	return opts
}

// parseSearchQuery reads filter[id]=fragment, page_size, after, before and
// order_by. Without any filter parameter the cached or default filters
// apply; reset=true with no filters restores the defaults.
func parseSearchQuery(values url.Values) (searcher.Query, error) {
	var q searcher.Query

	for key, vals := range values {
		if !strings.HasPrefix(key, "filter[") || !strings.HasSuffix(key, "]") {
			continue
		}
		id := key[len("filter[") : len(key)-1]
		if id == "" {
			return q, model.NewBadRequestError("filter id must not be empty")
		}
		fragment := vals[len(vals)-1]
		if err := checkFragment(fragment); err != nil {
			return q, model.NewValidationError([]model.FieldError{
				{Field: key, Code: "invalid_fragment", Message: err.Error()},
			})
		}
		if q.Filters == nil {
			q.Filters = model.Filters{}
		}
		if fragment == "" {
			continue
		}
		q.Filters[id] = model.Filter{ID: id, Value: fragment, Filter: fragment}
	}
	if q.Filters == nil && values.Get("reset") == "true" {
		q.Reset = true
	}

	if v := values.Get("page_size"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return q, model.NewBadRequestError("page_size must be an integer")
		}
		q.PageSize = n
	}
	q.After = values.Get("after")
	q.Before = values.Get("before")
	q.OrderBy = values.Get("order_by")
	return q, nil
}

// checkFragment accepts a filter fragment only if its brackets balance
// outside string literals and it never closes the argument list it is
// rendered into.
func checkFragment(fragment string) error {
	depth := 0
	inString := false
	escaped := false
	for _, c := range fragment {
		switch {
		case escaped:
			escaped = false
		case inString && c == '\\':
			escaped = true
		case c == '"':
			inString = !inString
		case inString:
		case c == '{', c == '}', c == '(', c == ')':
			return fmt.Errorf("unexpected %q outside a string", c)
		case c == '[':
			depth++
		case c == ']':
			depth--
			if depth < 0 {
				return fmt.Errorf("unbalanced brackets")
			}
		}
	}
	if inString {
		return fmt.Errorf("unterminated string")
	}
	if depth != 0 {
		return fmt.Errorf("unbalanced brackets")
	}
	return nil
}
