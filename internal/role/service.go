// Package role implements role management: search, fetch, create, update,
// delete and duplicate of roles and their rights, the editor state machine
// driving an edit session, and the permission catalog roles are checked
// against.
package role

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/pitabwire/portico/internal/graphql"
	"github.com/pitabwire/portico/internal/mutation"
	"github.com/pitabwire/portico/model"
)

// Service runs role queries and mutations against the backend.
type Service struct {
	ex        graphql.Executor
	submitter *mutation.Submitter
	catalog   *Catalog
	validate  *validator.Validate
	logger    *zap.Logger
}

// NewService creates a role service.
func NewService(ex graphql.Executor, submitter *mutation.Submitter, catalog *Catalog, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return &Service{
		ex:        ex,
		submitter: submitter,
		catalog:   catalog,
		validate:  v,
		logger:    logger,
	}
}

// Catalog returns the permission catalog.
func (s *Service) Catalog() *Catalog { return s.catalog }

// Search fetches one page of roles. params are the rendered filter and
// pagination arguments.
func (s *Service) Search(ctx context.Context, d model.Dispatcher, params []string) (model.Page[model.Role], error) {
	q := graphql.PageQuery{
		Entity:      rolesEntity,
		Filters:     params,
		Projections: Projections,
		WithCount:   true,
	}
	page, err := graphql.FetchPage[node](ctx, s.ex, d, q, SearchTypes, nil)
	if err != nil {
		return model.Page[model.Role]{}, err
	}
	out := model.Page[model.Role]{
		Items:      make([]model.Role, 0, len(page.Items)),
		PageInfo:   page.PageInfo,
		TotalCount: page.TotalCount,
	}
	for _, n := range page.Items {
		out.Items = append(out.Items, n.role())
	}
	return out, nil
}

// Get fetches one role by uuid.
func (s *Service) Get(ctx context.Context, d model.Dispatcher, uuid string) (model.Role, error) {
	q := graphql.PageQuery{
		Entity:      rolesEntity,
		Filters:     []string{graphql.StringArg("uuid", uuid)},
		Projections: Projections,
	}
	page, err := graphql.FetchPage[node](ctx, s.ex, d, q, FetchTypes, uuid)
	if err != nil {
		return model.Role{}, err
	}
	if len(page.Items) == 0 {
		return model.Role{}, model.NewNotFoundError(fmt.Sprintf("role %q not found", uuid))
	}
	return page.Items[0].role(), nil
}

// FindByName fetches the newest role named name. Role names are not
// unique across deleted and blocked roles, so the most recently created
// one wins.
func (s *Service) FindByName(ctx context.Context, d model.Dispatcher, name string) (model.Role, error) {
	q := graphql.PageQuery{
		Entity:      rolesEntity,
		Filters:     []string{graphql.StringArg("name", name), "first: 1", `orderBy: ["-id"]`},
		Projections: Projections,
	}
	page, err := graphql.FetchPage[node](ctx, s.ex, d, q, FetchTypes, nil)
	if err != nil {
		return model.Role{}, err
	}
	if len(page.Items) == 0 {
		return model.Role{}, model.NewNotFoundError(fmt.Sprintf("role %q not found", name))
	}
	return page.Items[0].role(), nil
}

// Duplicate fetches a role and prepares it to be saved as a new one.
func (s *Service) Duplicate(ctx context.Context, d model.Dispatcher, uuid string) (model.Role, error) {
	r, err := s.Get(ctx, d, uuid)
	if err != nil {
		return model.Role{}, err
	}
	return PrepareDuplicate(r), nil
}

// Validate checks r's fields and that every right exists in the
// catalog.
func (s *Service) Validate(ctx context.Context, d model.Dispatcher, r model.Role) error {
	var details []model.FieldError

	if err := s.validate.Struct(r); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return fmt.Errorf("validate role: %w", err)
		}
		for _, fe := range verrs {
			details = append(details, model.FieldError{
				Field:   fe.Field(),
				Code:    fe.Tag(),
				Message: fmt.Sprintf("%s failed the %q check", fe.Field(), fe.Tag()),
			})
		}
	}
	if r.ValidityFrom != nil && r.ValidityTo != nil && r.ValidityTo.Before(*r.ValidityFrom) {
		details = append(details, model.FieldError{
			Field:   "validityTo",
			Code:    "gtefield",
			Message: "validityTo is before validityFrom",
		})
	}

	if s.catalog != nil && len(r.RoleRights) > 0 {
		known, err := s.catalog.Rights(ctx, d)
		if err != nil {
			return err
		}
		for _, id := range r.RoleRights {
			if !known.Has(id) {
				details = append(details, model.FieldError{
					Field:   "roleRights",
					Code:    "unknown_right",
					Message: fmt.Sprintf("right %d is not in the permission catalog", id),
				})
			}
		}
	}

	if len(details) > 0 {
		return model.NewValidationError(details)
	}
	return nil
}

// Create saves r as a new role and waits for the backend to process it.
func (s *Service) Create(ctx context.Context, d model.Dispatcher, r model.Role) (mutation.Outcome, error) {
	if err := s.Validate(ctx, d, r); err != nil {
		return mutation.Outcome{}, err
	}
	return s.submit(ctx, d, "createRole", formatInput(r, false), "Create role "+r.Name, []string{r.Name}, CreateTypes)
}

// Update saves r over the existing role with the same uuid.
func (s *Service) Update(ctx context.Context, d model.Dispatcher, r model.Role) (mutation.Outcome, error) {
	if r.UUID == "" {
		return mutation.Outcome{}, model.NewBadRequestError("role uuid is required for update")
	}
	if err := s.Validate(ctx, d, r); err != nil {
		return mutation.Outcome{}, err
	}
	return s.submit(ctx, d, "updateRole", formatInput(r, true), "Update role "+r.Name, []string{r.Name}, UpdateTypes)
}

// Delete removes the role.
func (s *Service) Delete(ctx context.Context, d model.Dispatcher, r model.Role) (mutation.Outcome, error) {
	if r.UUID == "" {
		return mutation.Outcome{}, model.NewBadRequestError("role uuid is required for delete")
	}
	input := `uuids: ["` + graphql.FormatGQLString(r.UUID) + `"]`
	return s.submit(ctx, d, "deleteRole", input, "Delete role "+r.Name, []string{r.Name}, DeleteTypes)
}

func (s *Service) submit(ctx context.Context, d model.Dispatcher, op, input, label string, details []string, types model.ActionTypes) (mutation.Outcome, error) {
	m, err := graphql.FormatMutationWithDetails(op, input, label, details)
	if err != nil {
		return mutation.Outcome{}, err
	}
	out, err := s.submitter.Submit(ctx, d, m, details, mutation.SubmitOptions{
		Wait:  true,
		Types: types,
		Meta:  m.ClientMutationID,
	})
	if err != nil {
		return mutation.Outcome{}, err
	}
	s.logger.Info("role: mutation settled",
		zap.String("operation", op),
		zap.String("client_mutation_id", m.ClientMutationID),
		zap.Stringer("outcome", out.Kind),
	)
	return out, nil
}
