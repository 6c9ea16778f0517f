package transport

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/pitabwire/portico/internal/capability"
	"github.com/pitabwire/portico/internal/mutation"
	"github.com/pitabwire/portico/internal/role"
	"github.com/pitabwire/portico/internal/searcher"
	"github.com/pitabwire/portico/internal/store"
	"github.com/pitabwire/portico/model"
)

// roleResponse is an editor view of one role.
type roleResponse struct {
	Role       model.Role                `json:"role"`
	Catalog    []model.ModulePermissions `json:"catalog"`
	Phase      string                    `json:"phase"`
	Operations map[string]bool           `json:"operations"`
}

// outcomeResponse reports a settled or timed-out mutation.
type outcomeResponse struct {
	Status   string               `json:"status"`
	Attempts int                  `json:"attempts"`
	Mutation model.MutationRecord `json:"mutation"`
}

func newOutcomeResponse(out *mutation.Outcome) outcomeResponse {
	return outcomeResponse{
		Status:   out.Kind.String(),
		Attempts: out.Attempts,
		Mutation: out.Record,
	}
}

// outcomeStatus is 202 while the backend may still be processing.
func outcomeStatus(out *mutation.Outcome, done int) int {
	if out.Kind == mutation.OutcomeTimedOut || out.Kind == mutation.OutcomePending {
		return http.StatusAccepted
	}
	return done
}

type confirmationResponse struct {
	Confirmation store.Confirmation `json:"confirmation"`
}

func (h *handlers) roleSearcher() model.SearcherDefinition {
	if h.deps.Definitions != nil {
		if def, ok := h.deps.Definitions.GetSearcher(role.SearcherID); ok {
			return def
		}
	}
	return role.DefaultSearcher()
}

func (h *handlers) listRoles(w http.ResponseWriter, r *http.Request) {
	rctx, st, err := h.session(r)
	if err != nil {
		WriteError(w, err)
		return
	}
	if err := capability.Require(rctx.Rights, model.RightRoleSearch); err != nil {
		WriteError(w, err)
		return
	}

	q, err := parseSearchQuery(r.URL.Query())
	if err != nil {
		WriteError(w, err)
		return
	}

	fetch := searcher.FetcherFunc[model.Role](func(ctx context.Context, params []string) (model.Page[model.Role], error) {
		return h.deps.Roles.Search(ctx, st, params)
	})
	s := searcher.New[model.Role](h.roleSearcher(), fetch, h.searcherOptions(r, rctx)...)
	snap, err := s.Query(r.Context(), q)
	if err != nil {
		WriteError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, newSearchResponse(snap))
}

func (h *handlers) getRole(w http.ResponseWriter, r *http.Request) {
	rctx, st, err := h.session(r)
	if err != nil {
		WriteError(w, err)
		return
	}
	if err := capability.Require(rctx.Rights, model.RightRoleSearch); err != nil {
		WriteError(w, err)
		return
	}

	ed := role.NewEditor(h.deps.Roles, st)
	if err := ed.Load(r.Context(), st, chi.URLParam(r, "uuid")); err != nil {
		WriteError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, editorResponse(ed, rctx))
}

func (h *handlers) duplicateRole(w http.ResponseWriter, r *http.Request) {
	rctx, st, err := h.session(r)
	if err != nil {
		WriteError(w, err)
		return
	}
	if err := capability.Require(rctx.Rights, model.RightRoleDuplicate); err != nil {
		WriteError(w, err)
		return
	}

	ed := role.NewEditor(h.deps.Roles, st)
	if err := ed.LoadDuplicate(r.Context(), st, chi.URLParam(r, "uuid")); err != nil {
		WriteError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, editorResponse(ed, rctx))
}

func (h *handlers) createRole(w http.ResponseWriter, r *http.Request) {
	rctx, st, err := h.session(r)
	if err != nil {
		WriteError(w, err)
		return
	}
	if err := capability.Require(rctx.Rights, model.RightRoleCreate, model.RightRoleDuplicate); err != nil {
		WriteError(w, err)
		return
	}

	body, err := decodeRole(r)
	if err != nil {
		WriteError(w, err)
		return
	}
	body.ID, body.UUID = "", ""
	if err := h.deps.Roles.Validate(r.Context(), st, body); err != nil {
		WriteError(w, err)
		return
	}

	ed := role.NewEditor(h.deps.Roles, st)
	if err := ed.Edit(func(x *model.Role) { *x = body }); err != nil {
		WriteError(w, err)
		return
	}
	_, out, err := ed.Save(r.Context(), st)
	if err != nil {
		WriteError(w, err)
		return
	}
	WriteJSON(w, outcomeStatus(out, http.StatusCreated), newOutcomeResponse(out))
}

func (h *handlers) updateRole(w http.ResponseWriter, r *http.Request) {
	rctx, st, err := h.session(r)
	if err != nil {
		WriteError(w, err)
		return
	}
	if err := capability.Require(rctx.Rights, model.RightRoleUpdate); err != nil {
		WriteError(w, err)
		return
	}

	uuid := chi.URLParam(r, "uuid")
	body, err := decodeRole(r)
	if err != nil {
		WriteError(w, err)
		return
	}
	body.UUID = uuid
	if err := h.deps.Roles.Validate(r.Context(), st, body); err != nil {
		WriteError(w, err)
		return
	}

	ed := role.NewEditor(h.deps.Roles, st)
	if err := ed.Load(r.Context(), st, uuid); err != nil {
		WriteError(w, err)
		return
	}
	if err := ed.Edit(func(x *model.Role) {
		id := x.ID
		*x = body
		x.ID = id
	}); err != nil {
		WriteError(w, err)
		return
	}
	c, out, err := ed.Save(r.Context(), st)
	if err != nil {
		WriteError(w, err)
		return
	}
	if c == nil {
		WriteJSON(w, outcomeStatus(out, http.StatusOK), newOutcomeResponse(out))
		return
	}
	WriteJSON(w, http.StatusAccepted, confirmationResponse{Confirmation: *c})
}

func (h *handlers) deleteRole(w http.ResponseWriter, r *http.Request) {
	rctx, st, err := h.session(r)
	if err != nil {
		WriteError(w, err)
		return
	}
	if err := capability.Require(rctx.Rights, model.RightRoleDelete); err != nil {
		WriteError(w, err)
		return
	}

	ed := role.NewEditor(h.deps.Roles, st)
	if err := ed.Load(r.Context(), st, chi.URLParam(r, "uuid")); err != nil {
		WriteError(w, err)
		return
	}
	c, err := ed.Delete(r.Context(), st)
	if err != nil {
		WriteError(w, err)
		return
	}
	WriteJSON(w, http.StatusAccepted, confirmationResponse{Confirmation: *c})
}

// bulkDeleteRoles selects the listed roles and returns a confirmation that
// deletes them all.
func (h *handlers) bulkDeleteRoles(w http.ResponseWriter, r *http.Request) {
	rctx, st, err := h.session(r)
	if err != nil {
		WriteError(w, err)
		return
	}
	if err := capability.Require(rctx.Rights, model.RightRoleDelete); err != nil {
		WriteError(w, err)
		return
	}

	var body struct {
		UUIDs []string `json:"uuids"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		WriteError(w, model.NewBadRequestError("invalid JSON body"))
		return
	}
	if len(body.UUIDs) == 0 {
		WriteValidationError(w, []model.FieldError{
			{Field: "uuids", Code: "required", Message: "at least one role uuid is required"},
		})
		return
	}

	bulk := role.NewBulk(h.deps.Roles)
	if err := bulk.Load(r.Context(), st, body.UUIDs); err != nil {
		WriteError(w, err)
		return
	}
	c, err := bulk.Delete(st, st)
	if err != nil {
		WriteError(w, err)
		return
	}
	WriteJSON(w, http.StatusAccepted, confirmationResponse{Confirmation: *c})
}

func (h *handlers) confirm(w http.ResponseWriter, r *http.Request) {
	rctx, st, err := h.session(r)
	if err != nil {
		WriteError(w, err)
		return
	}

	var body struct {
		Confirmed *bool `json:"confirmed"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		WriteError(w, model.NewBadRequestError("invalid JSON body"))
		return
	}
	if body.Confirmed == nil {
		WriteValidationError(w, []model.FieldError{
			{Field: "confirmed", Code: "required", Message: "confirmed is required"},
		})
		return
	}

	id := chi.URLParam(r, "id")
	result, err := st.Confirm(r.Context(), id, *body.Confirmed)
	var ee *model.ErrorEnvelope
	if errors.As(err, &ee) && ee.Code == model.ErrConfirmationDeclined {
		WriteJSON(w, http.StatusOK, map[string]any{"id": id, "confirmed": false})
		return
	}
	if err != nil {
		WriteError(w, err)
		return
	}

	if h.deps.Rights != nil {
		h.deps.Rights.Invalidate(rctx.SubjectID)
	}
	if out, ok := result.(*mutation.Outcome); ok && out != nil {
		WriteJSON(w, outcomeStatus(out, http.StatusOK), newOutcomeResponse(out))
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{"id": id, "confirmed": true, "result": result})
}

func editorResponse(ed *role.Editor, rctx *model.RequestContext) roleResponse {
	catalog := ed.Catalog()
	if catalog == nil {
		catalog = []model.ModulePermissions{}
	}
	return roleResponse{
		Role:       ed.Role(),
		Catalog:    catalog,
		Phase:      ed.Phase().String(),
		Operations: capability.Operations(rctx.Rights),
	}
}

func decodeRole(r *http.Request) (model.Role, error) {
	var body model.Role
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		return model.Role{}, model.NewBadRequestError("invalid JSON body")
	}
	return body, nil
}
