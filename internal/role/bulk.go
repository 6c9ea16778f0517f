package role

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/pitabwire/portico/internal/mutation"
	"github.com/pitabwire/portico/internal/selection"
	"github.com/pitabwire/portico/internal/store"
	"github.com/pitabwire/portico/model"
)

// BulkResult reports what a bulk action did to one role.
type BulkResult struct {
	UUID             string `json:"uuid"`
	Name             string `json:"name"`
	Status           string `json:"status"`
	ClientMutationID string `json:"clientMutationId,omitempty"`
	Error            string `json:"error,omitempty"`
}

// Bulk runs one confirmed action over a selection of roles.
type Bulk struct {
	svc *Service
	sel *selection.Coordinator[model.Role]
}

// NewBulk creates an empty multiple-mode selection of roles keyed by uuid.
func NewBulk(svc *Service) *Bulk {
	return &Bulk{
		svc: svc,
		sel: selection.New(selection.ModeMultiple, func(r model.Role) string { return r.UUID }),
	}
}

// Selection exposes the underlying coordinator.
func (b *Bulk) Selection() *selection.Coordinator[model.Role] { return b.sel }

// Load fetches the roles in parallel and selects them all. Any missing role
// fails the whole load and leaves the selection untouched.
func (b *Bulk) Load(ctx context.Context, d model.Dispatcher, uuids []string) error {
	roles := make([]model.Role, len(uuids))
	g, gctx := errgroup.WithContext(ctx)
	for i, id := range uuids {
		g.Go(func() error {
			r, err := b.svc.Get(gctx, d, id)
			if err != nil {
				return err
			}
			roles[i] = r
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	b.sel.SelectAll(roles)
	return nil
}

// Delete asks confirmer to confirm deleting the selection. Once confirmed
// the selection is cleared and each role is deleted in turn; a failure does
// not stop the rest. System roles are skipped.
func (b *Bulk) Delete(d model.Dispatcher, confirmer Confirmer) (*store.Confirmation, error) {
	selected := b.sel.Selection()
	if len(selected) == 0 {
		return nil, model.NewBadRequestError("no roles selected")
	}

	c := confirmer.RequestConfirmation(
		"Delete roles",
		fmt.Sprintf("Delete %d roles?", len(selected)),
		func(ctx context.Context) (any, error) {
			var results []BulkResult
			err := b.sel.Trigger(ctx, func(ctx context.Context, roles []model.Role) error {
				results = make([]BulkResult, 0, len(roles))
				for _, r := range roles {
					if r.IsSystem {
						results = append(results, BulkResult{
							UUID:   r.UUID,
							Name:   r.Name,
							Status: "skipped",
							Error:  "system roles cannot be deleted",
						})
						continue
					}
					out, err := b.svc.Delete(ctx, d, r)
					results = append(results, newBulkResult(r, out, err))
				}
				return nil
			})
			return results, err
		},
	)
	return &c, nil
}

func newBulkResult(r model.Role, out mutation.Outcome, err error) BulkResult {
	res := BulkResult{UUID: r.UUID, Name: r.Name}
	if err != nil {
		res.Status = "error"
		res.Error = err.Error()
		return res
	}
	res.Status = out.Kind.String()
	res.ClientMutationID = out.Record.ClientMutationID
	if ferr := out.Err(); ferr != nil {
		res.Error = ferr.Error()
	}
	return res
}
