package transport

import (
	"encoding/json"
	"io"
	"mime"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/pitabwire/portico/internal/capability"
	"github.com/pitabwire/portico/internal/settings"
	"github.com/pitabwire/portico/model"
)

const maxSettingBytes = 64 << 10

func (h *handlers) rights(w http.ResponseWriter, r *http.Request) {
	rctx, _, err := h.session(r)
	if err != nil {
		WriteError(w, err)
		return
	}
	rights := rctx.Rights.Sorted()
	if rights == nil {
		rights = []int{}
	}
	WriteJSON(w, http.StatusOK, map[string]any{
		"rights":     rights,
		"operations": capability.Operations(rctx.Rights),
	})
}

// downloadExport streams a backend export to the client as an attachment.
func (h *handlers) downloadExport(w http.ResponseWriter, r *http.Request) {
	if _, _, err := h.session(r); err != nil {
		WriteError(w, err)
		return
	}

	dl, err := h.deps.Exports.Open(r.Context(), chi.URLParam(r, "file"))
	if err != nil {
		WriteError(w, err)
		return
	}
	defer dl.Body.Close()

	w.Header().Set("Content-Type", dl.ContentType)
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": dl.Filename}))
	if dl.Size > 0 {
		w.Header().Set("Content-Length", strconv.FormatInt(dl.Size, 10))
	}
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, dl.Body); err != nil {
		h.logger(r).Warn("export: stream interrupted", zap.String("file", dl.Filename), zap.Error(err))
	}
}

type settingResponse struct {
	Key   string          `json:"key"`
	Value json.RawMessage `json:"value"`
}

func (h *handlers) getSetting(w http.ResponseWriter, r *http.Request) {
	rctx, _, err := h.session(r)
	if err != nil {
		WriteError(w, err)
		return
	}
	key := chi.URLParam(r, "key")
	value, ok, err := h.deps.Settings.Get(r.Context(), rctx.SubjectID, key)
	if err != nil {
		WriteError(w, err)
		return
	}
	if !ok {
		WriteNotFound(w, "setting "+strconv.Quote(key)+" is not set")
		return
	}
	WriteJSON(w, http.StatusOK, settingResponse{Key: key, Value: value})
}

func (h *handlers) putSetting(w http.ResponseWriter, r *http.Request) {
	rctx, _, err := h.session(r)
	if err != nil {
		WriteError(w, err)
		return
	}
	key := chi.URLParam(r, "key")

	var body struct {
		Value json.RawMessage `json:"value"`
	}
	if err := json.NewDecoder(io.LimitReader(r.Body, maxSettingBytes)).Decode(&body); err != nil {
		WriteError(w, model.NewBadRequestError("invalid JSON body"))
		return
	}
	if err := settings.ValidateValue(key, body.Value); err != nil {
		WriteError(w, err)
		return
	}
	if err := h.deps.Settings.Set(r.Context(), rctx.SubjectID, key, body.Value); err != nil {
		WriteError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, settingResponse{Key: key, Value: body.Value})
}

func (h *handlers) deleteSetting(w http.ResponseWriter, r *http.Request) {
	rctx, _, err := h.session(r)
	if err != nil {
		WriteError(w, err)
		return
	}
	if err := h.deps.Settings.Delete(r.Context(), rctx.SubjectID, chi.URLParam(r, "key")); err != nil {
		WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// drainAlert returns and clears the subject's global alert. The alert is
// null when none is pending.
func (h *handlers) drainAlert(w http.ResponseWriter, r *http.Request) {
	_, st, err := h.session(r)
	if err != nil {
		WriteError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]*model.ServiceError{"alert": st.DrainAlert()})
}
