package store

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/pitabwire/portico/model"
)

// ConfirmedAction runs once the user confirms.
type ConfirmedAction func(ctx context.Context) (any, error)

// Confirmation is a pending yes/no question. The action it guards is kept
// by the store, not in State.
type Confirmation struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Message     string    `json:"message"`
	RequestedAt time.Time `json:"requestedAt"`
}

// RequestConfirmation records a pending confirmation guarding action.
func (s *Store) RequestConfirmation(title, message string, action ConfirmedAction) Confirmation {
	c := Confirmation{
		ID:          uuid.NewString(),
		Title:       title,
		Message:     message,
		RequestedAt: time.Now().UTC(),
	}

	s.mu.Lock()
	s.actions[c.ID] = action
	s.mu.Unlock()

	s.Dispatch(model.Action{Type: model.ActionConfirmationRequest, Payload: c})
	return c
}

// Confirm resolves a pending confirmation. A confirmed answer runs the
// guarded action and returns its result; a declined answer returns a
// CONFIRMATION_DECLINED error. Each confirmation resolves at most once.
func (s *Store) Confirm(ctx context.Context, id string, confirmed bool) (any, error) {
	s.mu.Lock()
	action, ok := s.actions[id]
	delete(s.actions, id)
	s.mu.Unlock()

	if !ok {
		return nil, model.NewConfirmationNotFoundError(id)
	}
	s.Dispatch(model.Action{Type: model.ActionConfirmationResolve, Payload: id})

	if !confirmed {
		return nil, model.NewConfirmationDeclinedError()
	}
	return action(ctx)
}
