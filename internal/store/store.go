// Package store holds per-subject application state: the global alert,
// in-flight request flags, the mutation journal, the current user and
// pending confirmations. State changes only through dispatched actions
// reduced under a mutex.
package store

import (
	"sync"

	"github.com/pitabwire/portico/model"
)

// DefaultJournalSize bounds the in-memory journal.
const DefaultJournalSize = 100

// State is a snapshot of the application state. Snapshots returned by
// Store.State are deep enough copies to be read without locking.
type State struct {
	Alert         *model.ServiceError
	Fetching      map[string]bool
	Errors        map[string]*model.ServiceError
	Journal       []model.MutationRecord
	User          *model.User
	Confirmations map[string]Confirmation
}

func (s State) clone() State {
	out := s
	out.Fetching = make(map[string]bool, len(s.Fetching))
	for k, v := range s.Fetching {
		out.Fetching[k] = v
	}
	out.Errors = make(map[string]*model.ServiceError, len(s.Errors))
	for k, v := range s.Errors {
		out.Errors[k] = v
	}
	out.Journal = append([]model.MutationRecord(nil), s.Journal...)
	out.Confirmations = make(map[string]Confirmation, len(s.Confirmations))
	for k, v := range s.Confirmations {
		out.Confirmations[k] = v
	}
	return out
}

// Reducer folds one action into state. Reducers receive a private copy and
// may mutate it.
type Reducer func(State, model.Action) State

// Listener observes state after each dispatch.
type Listener func(State, model.Action)

// Store is a serialized reducer pipeline. It implements model.Dispatcher.
type Store struct {
	mu       sync.Mutex
	state    State
	reducers []Reducer

	lmu       sync.Mutex
	listeners map[int]Listener
	nextID    int

	actions map[string]ConfirmedAction
}

// New creates a store running the core reducers followed by extra.
func New(extra ...Reducer) *Store {
	return &Store{
		state: State{
			Fetching:      map[string]bool{},
			Errors:        map[string]*model.ServiceError{},
			Confirmations: map[string]Confirmation{},
		},
		reducers:  append([]Reducer{Core(DefaultJournalSize)}, extra...),
		listeners: map[int]Listener{},
		actions:   map[string]ConfirmedAction{},
	}
}

// Dispatch reduces action and notifies listeners with the resulting state.
func (s *Store) Dispatch(action model.Action) {
	s.mu.Lock()
	next := s.state.clone()
	for _, r := range s.reducers {
		next = r(next, action)
	}
	s.state = next
	snapshot := next.clone()
	s.mu.Unlock()

	s.lmu.Lock()
	ls := make([]Listener, 0, len(s.listeners))
	for _, l := range s.listeners {
		ls = append(ls, l)
	}
	s.lmu.Unlock()
	for _, l := range ls {
		l(snapshot, action)
	}
}

// State returns a snapshot of the current state.
func (s *Store) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.clone()
}

// Subscribe registers l and returns its cancel func.
func (s *Store) Subscribe(l Listener) func() {
	s.lmu.Lock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = l
	s.lmu.Unlock()

	return func() {
		s.lmu.Lock()
		delete(s.listeners, id)
		s.lmu.Unlock()
	}
}

// DrainAlert returns the current alert, if any, and clears it.
func (s *Store) DrainAlert() *model.ServiceError {
	s.mu.Lock()
	alert := s.state.Alert
	s.mu.Unlock()
	if alert != nil {
		s.Dispatch(model.Action{Type: model.ActionClearAlert})
	}
	return alert
}

// JournalEntry returns the journal record with the given id.
func (s *Store) JournalEntry(clientMutationID string) (model.MutationRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.state.Journal {
		if r.ClientMutationID == clientMutationID {
			return r, true
		}
	}
	return model.MutationRecord{}, false
}
