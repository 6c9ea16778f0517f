package searcher

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/pitabwire/portico/internal/graphql"
	"github.com/pitabwire/portico/internal/observability"
	"github.com/pitabwire/portico/model"
)

// ErrSuperseded is returned when a fetch finished after a newer transition
// started. Its result was discarded.
var ErrSuperseded = errors.New("searcher: result superseded by a newer request")

// Fetcher loads one page given rendered query arguments.
type Fetcher[T any] interface {
	Fetch(ctx context.Context, params []string) (model.Page[T], error)
}

// FetcherFunc adapts a function to the Fetcher interface.
type FetcherFunc[T any] func(ctx context.Context, params []string) (model.Page[T], error)

// Fetch calls f.
func (f FetcherFunc[T]) Fetch(ctx context.Context, params []string) (model.Page[T], error) {
	return f(ctx, params)
}

// ActionTypes returns the lifecycle triplet dispatched by a searcher's
// fetches, e.g. CORE_SEARCHER_ROLES for searcher id "core.roles".
func ActionTypes(searcherID string) model.ActionTypes {
	id := strings.ToUpper(strings.NewReplacer(".", "_", "-", "_").Replace(searcherID))
	return model.NewActionTypes("CORE_SEARCHER_" + id)
}

// GraphQLFetcher fetches pages of def's entity through ex.
func GraphQLFetcher[T any](ex graphql.Executor, d model.Dispatcher, def model.SearcherDefinition) Fetcher[T] {
	types := ActionTypes(def.ID)
	return FetcherFunc[T](func(ctx context.Context, params []string) (model.Page[T], error) {
		q := graphql.PageQuery{
			Entity:      def.Entity,
			Filters:     params,
			Projections: def.Projections,
			WithCount:   def.WithCount,
		}
		return graphql.FetchPage[T](ctx, ex, d, q, types, def.ID)
	})
}

// Snapshot is a consistent view of a searcher.
type Snapshot[T any] struct {
	State  State
	Result model.Page[T]
	Err    error
}

type settings struct {
	cache           FilterCache
	subjectID       string
	tab             string
	defaultPageSize int
	logger          *zap.Logger
}

// Option configures a Searcher.
type Option func(*settings)

// WithFilterCache persists filters under the definition's cache key.
func WithFilterCache(c FilterCache, subjectID string) Option {
	return func(s *settings) {
		s.cache = c
		s.subjectID = subjectID
	}
}

// WithTab namespaces the cache key for one tab of a page.
func WithTab(tab string) Option {
	return func(s *settings) { s.tab = tab }
}

// WithDefaultPageSize is used when the definition has no page size.
func WithDefaultPageSize(n int) Option {
	return func(s *settings) { s.defaultPageSize = n }
}

// WithLogger sets the searcher's logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *settings) { s.logger = l }
}

// Searcher drives one list: it applies transitions, persists filters,
// fetches pages and notifies subscribers. Safe for concurrent use.
type Searcher[T any] struct {
	def      model.SearcherDefinition
	fetcher  Fetcher[T]
	cache    FilterCache
	cacheKey string
	logger   *zap.Logger

	mu        sync.Mutex
	state     State
	result    model.Page[T]
	err       error
	listeners map[int]func(Snapshot[T])
	nextID    int
}

// New creates a searcher over def in the idle phase.
func New[T any](def model.SearcherDefinition, fetcher Fetcher[T], opts ...Option) *Searcher[T] {
	cfg := settings{defaultPageSize: 10, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(&cfg)
	}
	pageSize := def.DefaultPageSize
	if pageSize <= 0 {
		pageSize = cfg.defaultPageSize
	}

	s := &Searcher[T]{
		def:       def,
		fetcher:   fetcher,
		cache:     cfg.cache,
		logger:    cfg.logger.With(zap.String("searcher_id", def.ID)),
		state:     NewState(pageSize, def.Filters(), def.DefaultOrderBy),
		listeners: make(map[int]func(Snapshot[T])),
	}
	if cfg.cache != nil && def.CacheKey != "" {
		s.cacheKey = CacheKey(cfg.subjectID, def.CacheKey, cfg.tab)
	}
	return s
}

// Snapshot returns the current state and last result.
func (s *Searcher[T]) Snapshot() Snapshot[T] {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

// Subscribe registers fn to receive a snapshot after every phase change.
// The returned function unregisters it.
func (s *Searcher[T]) Subscribe(fn func(Snapshot[T])) (cancel func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = fn
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.listeners, id)
	}
}

// Mount restores cached filters, falling back to the defaults, and fetches
// the first page.
func (s *Searcher[T]) Mount(ctx context.Context) (Snapshot[T], error) {
	filters := s.restore(ctx)
	return s.run(ctx, func(st State) State {
		st = ReplaceFilters(st, filters)
		st.Phase = PhaseIdle
		return st
	}, false)
}

// Unmount clears the cached filters and resets the state when the
// definition asks for it. It never fetches.
func (s *Searcher[T]) Unmount(ctx context.Context) error {
	if !s.def.ResetOnUnmount {
		return nil
	}
	s.mu.Lock()
	st := Reset(s.state, s.def.Filters(), s.def.DefaultOrderBy)
	st.Phase = PhaseIdle
	st.Generation = s.state.Generation + 1
	s.state = st
	s.result = model.Page[T]{}
	s.err = nil
	s.mu.Unlock()

	if s.cacheKey == "" {
		return nil
	}
	if err := s.cache.Delete(ctx, s.cacheKey); err != nil {
		return fmt.Errorf("clear cached filters: %w", err)
	}
	return nil
}

// ApplyFilters applies filter changes and fetches page 0.
func (s *Searcher[T]) ApplyFilters(ctx context.Context, changes ...model.Filter) (Snapshot[T], error) {
	return s.run(ctx, func(st State) State { return ApplyFilters(st, changes...) }, true)
}

// Reset restores the default filters and ordering and fetches page 0.
func (s *Searcher[T]) Reset(ctx context.Context) (Snapshot[T], error) {
	return s.run(ctx, func(st State) State {
		return Reset(st, s.def.Filters(), s.def.DefaultOrderBy)
	}, true)
}

// NextPage fetches the page after the current one. It is a no-op when the
// backend reported no next page.
func (s *Searcher[T]) NextPage(ctx context.Context) (Snapshot[T], error) {
	s.mu.Lock()
	hasNext := s.state.PageInfo.HasNextPage
	s.mu.Unlock()
	if !hasNext {
		return s.Snapshot(), nil
	}
	return s.run(ctx, NextPage, false)
}

// PreviousPage fetches the page before the current one. It is a no-op on
// page 0.
func (s *Searcher[T]) PreviousPage(ctx context.Context) (Snapshot[T], error) {
	s.mu.Lock()
	first := s.state.Page.Page == 0
	s.mu.Unlock()
	if first {
		return s.Snapshot(), nil
	}
	return s.run(ctx, PreviousPage, false)
}

// ChangePageSize sets the page size and fetches page 0. When the
// definition lists allowed sizes, size must be one of them.
func (s *Searcher[T]) ChangePageSize(ctx context.Context, size int) (Snapshot[T], error) {
	if err := s.checkPageSize(size); err != nil {
		return s.Snapshot(), err
	}
	return s.run(ctx, func(st State) State { return ChangePageSize(st, size) }, false)
}

// Sort toggles ordering on attr and fetches page 0.
func (s *Searcher[T]) Sort(ctx context.Context, attr string, asc bool) (Snapshot[T], error) {
	return s.run(ctx, func(st State) State {
		return ChangeOrderBy(st, Sort(st.OrderBy, attr, asc))
	}, false)
}

// Refresh refetches the current page.
func (s *Searcher[T]) Refresh(ctx context.Context) (Snapshot[T], error) {
	return s.run(ctx, func(st State) State { return st }, false)
}

// Query describes a one-shot search, as the HTTP API receives it.
type Query struct {
	// Filters replaces the active filters. Nil restores the cached filters
	// or the defaults.
	Filters model.Filters
	// Reset, with nil Filters, restores the default filters and ordering
	// and drops the cached filters.
	Reset    bool
	PageSize int
	After    string
	Before   string
	OrderBy  string
}

// Query positions the searcher as q describes and fetches that page.
func (s *Searcher[T]) Query(ctx context.Context, q Query) (Snapshot[T], error) {
	if q.After != "" && q.Before != "" {
		return s.Snapshot(), model.NewBadRequestError("after and before are mutually exclusive")
	}
	if q.PageSize != 0 {
		if err := s.checkPageSize(q.PageSize); err != nil {
			return s.Snapshot(), err
		}
	}

	filters := q.Filters
	persist := filters != nil
	reset := q.Reset && filters == nil
	switch {
	case reset:
		filters = s.def.Filters()
		s.forget(ctx)
	case filters == nil:
		filters = s.restore(ctx)
	}
	return s.run(ctx, func(st State) State {
		if reset {
			st = Reset(st, filters, s.def.DefaultOrderBy)
		} else {
			st = ReplaceFilters(st, filters)
		}
		if q.PageSize > 0 {
			st.Page.PageSize = q.PageSize
		}
		if q.OrderBy != "" {
			st.OrderBy = q.OrderBy
		}
		st.Page.AfterCursor = q.After
		st.Page.BeforeCursor = q.Before
		return st
	}, persist)
}

func (s *Searcher[T]) checkPageSize(size int) error {
	if size <= 0 {
		return model.NewBadRequestError("page size must be positive")
	}
	if len(s.def.PageSizes) > 0 && !slices.Contains(s.def.PageSizes, size) {
		return model.NewBadRequestError(fmt.Sprintf("page size %d is not one of %v", size, s.def.PageSizes))
	}
	return nil
}

// restore reads cached filters. Cache failures are logged and fall back to
// the defaults.
func (s *Searcher[T]) restore(ctx context.Context) model.Filters {
	if s.cacheKey == "" {
		return s.def.Filters()
	}
	filters, found, err := s.cache.Get(ctx, s.cacheKey)
	if err != nil {
		s.logger.Warn("searcher: restore cached filters failed", zap.Error(err))
		return s.def.Filters()
	}
	if !found {
		return s.def.Filters()
	}
	return filters
}

// forget drops the cached filters. Failures are logged.
func (s *Searcher[T]) forget(ctx context.Context) {
	if s.cacheKey == "" {
		return
	}
	if err := s.cache.Delete(ctx, s.cacheKey); err != nil {
		s.logger.Warn("searcher: clear cached filters failed", zap.Error(err))
	}
}

// run applies transition, bumps the generation and fetches. The result is
// applied only if no newer transition happened meanwhile.
func (s *Searcher[T]) run(ctx context.Context, transition func(State) State, persist bool) (Snapshot[T], error) {
	ctx, span := observability.StartSpan(ctx, "searcher.fetch",
		observability.AttrSearcherID.String(s.def.ID),
	)

	s.mu.Lock()
	next := transition(s.state)
	next.Generation = s.state.Generation + 1
	var emitted []Snapshot[T]
	if next.Phase == PhaseFiltering {
		s.state = next
		emitted = append(emitted, s.snapshotLocked())
	}
	next.Phase = PhaseFetching
	s.state = next
	emitted = append(emitted, s.snapshotLocked())
	gen := next.Generation
	params := QueryParams(next)
	filters := next.Filters
	listeners := s.listenersLocked()
	s.mu.Unlock()

	for _, snap := range emitted {
		notify(listeners, snap)
	}

	if persist && s.cacheKey != "" {
		if err := s.cache.Set(ctx, s.cacheKey, filters); err != nil {
			s.logger.Warn("searcher: cache filters failed", zap.Error(err))
		}
	}

	page, err := s.fetcher.Fetch(ctx, params)

	s.mu.Lock()
	if s.state.Generation != gen {
		snap := s.snapshotLocked()
		s.mu.Unlock()
		s.logger.Debug("searcher: discarding superseded result", zap.Uint64("generation", gen))
		observability.EndSpanWithError(span, nil)
		return snap, ErrSuperseded
	}
	if err != nil {
		s.state.Phase = PhaseFailed
		s.err = err
	} else {
		s.state.Phase = PhaseSucceeded
		s.state.PageInfo = page.PageInfo
		s.result = page
		s.err = nil
	}
	snap := s.snapshotLocked()
	listeners = s.listenersLocked()
	s.mu.Unlock()

	notify(listeners, snap)
	observability.EndSpanWithError(span, err)
	return snap, err
}

func (s *Searcher[T]) snapshotLocked() Snapshot[T] {
	st := s.state
	st.Filters = st.Filters.Clone()
	return Snapshot[T]{State: st, Result: s.result, Err: s.err}
}

func (s *Searcher[T]) listenersLocked() []func(Snapshot[T]) {
	out := make([]func(Snapshot[T]), 0, len(s.listeners))
	for _, fn := range s.listeners {
		out = append(out, fn)
	}
	return out
}

func notify[T any](listeners []func(Snapshot[T]), snap Snapshot[T]) {
	for _, fn := range listeners {
		fn(snap)
	}
}
