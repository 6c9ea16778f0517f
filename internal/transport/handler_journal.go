package transport

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/pitabwire/portico/internal/mutation"
	"github.com/pitabwire/portico/model"
)

// listJournal returns the subject's journaled mutations, newest first.
// source=backend lists the backend's mutation log instead.
func (h *handlers) listJournal(w http.ResponseWriter, r *http.Request) {
	rctx, st, err := h.session(r)
	if err != nil {
		WriteError(w, err)
		return
	}

	limit := queryInt(r, "limit", 0)
	if r.URL.Query().Get("source") == "backend" {
		records, err := mutation.FetchHistory(r.Context(), h.deps.Backend, st, limit)
		if err != nil {
			WriteError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, map[string]any{"items": records})
		return
	}

	filter := mutation.JournalFilter{
		Limit:  limit,
		Offset: queryInt(r, "offset", 0),
	}
	if v := r.URL.Query().Get("status"); v != "" {
		status, err := parseMutationStatus(v)
		if err != nil {
			WriteError(w, err)
			return
		}
		filter.Status = &status
	}

	if h.deps.Journal == nil {
		WriteJSON(w, http.StatusOK, map[string]any{"items": st.State().Journal})
		return
	}
	records, err := h.deps.Journal.List(r.Context(), rctx.SubjectID, filter)
	if err != nil {
		WriteError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{"items": records})
}

// getJournalEntry returns one journaled mutation. refresh=true re-reads a
// pending record from the backend log first.
func (h *handlers) getJournalEntry(w http.ResponseWriter, r *http.Request) {
	rctx, st, err := h.session(r)
	if err != nil {
		WriteError(w, err)
		return
	}
	id := chi.URLParam(r, "clientMutationId")

	if r.URL.Query().Get("refresh") == "true" && h.deps.Submitter != nil && h.deps.Journal != nil {
		rec, err := h.deps.Submitter.Refresh(r.Context(), st, rctx.SubjectID, id)
		if err != nil {
			WriteError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, rec)
		return
	}

	if h.deps.Journal != nil {
		rec, err := h.deps.Journal.Get(r.Context(), rctx.SubjectID, id)
		if err == nil {
			WriteJSON(w, http.StatusOK, rec)
			return
		}
		var ee *model.ErrorEnvelope
		if !errors.As(err, &ee) || ee.Code != model.ErrNotFound {
			WriteError(w, err)
			return
		}
	}
	if rec, ok := st.JournalEntry(id); ok {
		WriteJSON(w, http.StatusOK, rec)
		return
	}
	WriteNotFound(w, "mutation "+strconv.Quote(id)+" not found")
}

func parseMutationStatus(v string) (model.MutationStatus, error) {
	for _, s := range []model.MutationStatus{model.MutationPending, model.MutationError, model.MutationSucceeded} {
		if v == s.String() || v == strconv.Itoa(int(s)) {
			return s, nil
		}
	}
	return 0, model.NewBadRequestError("status must be pending, error or succeeded")
}

func queryInt(r *http.Request, key string, def int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return def
	}
	return n
}
