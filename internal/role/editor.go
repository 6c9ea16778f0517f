package role

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/pitabwire/portico/internal/mutation"
	"github.com/pitabwire/portico/internal/store"
	"github.com/pitabwire/portico/model"
)

// Phase is the editor's position in New → Editing → Saving → (Saved | Failed).
type Phase int

const (
	PhaseNew Phase = iota
	PhaseEditing
	PhaseSaving
	PhaseSaved
	PhaseFailed
)

func (p Phase) String() string {
	switch p {
	case PhaseNew:
		return "new"
	case PhaseEditing:
		return "editing"
	case PhaseSaving:
		return "saving"
	case PhaseSaved:
		return "saved"
	case PhaseFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Confirmer asks the user to confirm an action. *store.Store implements it.
type Confirmer interface {
	RequestConfirmation(title, message string, action store.ConfirmedAction) store.Confirmation
}

// Editor is one role edit session. It tracks the last fetched copy and the
// edited copy; Save is only possible when they differ. Updates and deletes
// go through a confirmation and fire from its confirmed action.
type Editor struct {
	svc       *Service
	confirmer Confirmer

	mu      sync.Mutex
	phase   Phase
	saved   *model.Role
	edited  model.Role
	catalog []model.ModulePermissions
	outcome *mutation.Outcome
	err     error
}

// NewEditor starts an editor for a new role.
func NewEditor(svc *Service, confirmer Confirmer) *Editor {
	return &Editor{svc: svc, confirmer: confirmer, phase: PhaseNew}
}

// Load fetches the role and the permission catalog in parallel and starts
// editing the role.
func (e *Editor) Load(ctx context.Context, d model.Dispatcher, uuid string) error {
	var (
		r       model.Role
		catalog []model.ModulePermissions
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		r, err = e.svc.Get(gctx, d, uuid)
		return err
	})
	if e.svc.catalog != nil {
		g.Go(func() error {
			var err error
			catalog, err = e.svc.catalog.Modules(gctx, d)
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.saved = &r
	e.edited = r.Clone()
	e.catalog = catalog
	e.phase = PhaseEditing
	e.outcome, e.err = nil, nil
	return nil
}

// LoadDuplicate starts editing a copy of the role that saves as a new one.
func (e *Editor) LoadDuplicate(ctx context.Context, d model.Dispatcher, uuid string) error {
	var (
		r       model.Role
		catalog []model.ModulePermissions
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		r, err = e.svc.Duplicate(gctx, d, uuid)
		return err
	})
	if e.svc.catalog != nil {
		g.Go(func() error {
			var err error
			catalog, err = e.svc.catalog.Modules(gctx, d)
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.saved = nil
	e.edited = r
	e.catalog = catalog
	e.phase = PhaseNew
	e.outcome, e.err = nil, nil
	return nil
}

// Edit applies fn to the edited copy and moves the editor to Editing,
// whether it was new, saved or failed. Whether Save creates or updates
// depends on the last fetched copy, not on the phase.
func (e *Editor) Edit(fn func(*model.Role)) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.phase == PhaseSaving {
		return model.NewInvalidTransitionError("role is being saved")
	}
	fn(&e.edited)
	e.phase = PhaseEditing
	return nil
}

// Phase returns the current phase.
func (e *Editor) Phase() Phase {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.phase
}

// Role returns a copy of the edited role.
func (e *Editor) Role() model.Role {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.edited.Clone()
}

// Catalog returns the permission catalog loaded with the role.
func (e *Editor) Catalog() []model.ModulePermissions {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.catalog
}

// Outcome returns the last save or delete outcome and error.
func (e *Editor) Outcome() (*mutation.Outcome, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.outcome, e.err
}

// Dirty reports whether the edited copy differs from the last fetched
// copy. A new role is dirty once it has a name.
func (e *Editor) Dirty() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.dirtyLocked()
}

func (e *Editor) dirtyLocked() bool {
	if e.saved == nil {
		return e.edited.Name != ""
	}
	return DoesRoleChange(e.edited, *e.saved)
}

// CanSave reports whether Save is available.
func (e *Editor) CanSave() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.phase != PhaseSaving && e.dirtyLocked()
}

// Save creates a new role immediately. For an existing role it returns a
// pending confirmation; the update fires once it is confirmed.
func (e *Editor) Save(ctx context.Context, d model.Dispatcher) (*store.Confirmation, *mutation.Outcome, error) {
	e.mu.Lock()
	if e.phase == PhaseSaving {
		e.mu.Unlock()
		return nil, nil, model.NewInvalidTransitionError("role is already being saved")
	}
	if !e.dirtyLocked() {
		e.mu.Unlock()
		return nil, nil, model.NewInvalidTransitionError("role has no changes to save")
	}
	isNew := e.saved == nil
	r := e.edited.Clone()
	e.mu.Unlock()

	if isNew {
		out, err := e.run(ctx, nil, func(ctx context.Context) (mutation.Outcome, error) {
			return e.svc.Create(ctx, d, r)
		})
		if err == nil && out.Kind == mutation.OutcomeSucceeded {
			e.adoptCreated(ctx, d, r.Name)
		}
		return nil, out, err
	}

	c := e.confirmer.RequestConfirmation(
		"Update role",
		fmt.Sprintf("Save changes to role %q?", r.Name),
		func(ctx context.Context) (any, error) {
			return e.run(ctx, &r, func(ctx context.Context) (mutation.Outcome, error) {
				return e.svc.Update(ctx, d, r)
			})
		},
	)
	return &c, nil, nil
}

// Delete returns a pending confirmation; the delete fires once it is
// confirmed.
func (e *Editor) Delete(ctx context.Context, d model.Dispatcher) (*store.Confirmation, error) {
	e.mu.Lock()
	if e.saved == nil {
		e.mu.Unlock()
		return nil, model.NewInvalidTransitionError("role has not been saved")
	}
	r := e.saved.Clone()
	e.mu.Unlock()

	c := e.confirmer.RequestConfirmation(
		"Delete role",
		fmt.Sprintf("Delete role %q?", r.Name),
		func(ctx context.Context) (any, error) {
			return e.run(ctx, nil, func(ctx context.Context) (mutation.Outcome, error) {
				return e.svc.Delete(ctx, d, r)
			})
		},
	)
	return &c, nil
}

// adoptCreated refetches a role the backend has just created so that later
// saves update it. The create mutation returns no uuid. When the refetch
// fails the editor goes back to New with the edits kept.
func (e *Editor) adoptCreated(ctx context.Context, d model.Dispatcher, name string) {
	created, err := e.svc.FindByName(ctx, d, name)

	e.mu.Lock()
	defer e.mu.Unlock()
	if err != nil {
		e.svc.logger.Warn("role: refetch after create failed",
			zap.String("name", name), zap.Error(err))
		e.saved = nil
		e.phase = PhaseNew
		return
	}
	e.saved = &created
	e.edited = created.Clone()
}

// run moves through Saving into Saved or Failed. On success saved becomes
// the last fetched copy; nil means the role is gone or not yet refetched.
// A timed-out outcome ends in Failed without an error.
func (e *Editor) run(ctx context.Context, saved *model.Role, fn func(context.Context) (mutation.Outcome, error)) (*mutation.Outcome, error) {
	e.mu.Lock()
	e.phase = PhaseSaving
	e.mu.Unlock()

	out, err := fn(ctx)

	e.mu.Lock()
	defer e.mu.Unlock()
	e.err = err
	if err != nil {
		e.phase = PhaseFailed
		e.outcome = nil
		return nil, err
	}
	e.outcome = &out
	if out.Kind == mutation.OutcomeSucceeded {
		e.phase = PhaseSaved
		e.saved = saved
	} else {
		e.phase = PhaseFailed
	}
	return &out, out.Err()
}
