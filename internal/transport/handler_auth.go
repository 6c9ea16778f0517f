package transport

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"github.com/pitabwire/portico/internal/auth"
	"github.com/pitabwire/portico/internal/graphql"
	"github.com/pitabwire/portico/model"
)

func (h *handlers) login(w http.ResponseWriter, r *http.Request) {
	var creds auth.Credentials
	if err := json.NewDecoder(r.Body).Decode(&creds); err != nil {
		WriteError(w, model.NewBadRequestError("invalid JSON body"))
		return
	}

	sess, err := h.deps.Auth.Login(r.Context(), nil, creds, auth.CSRFToken(r), r.Cookies())
	if err != nil {
		WriteError(w, err)
		return
	}
	relayCookies(w, sess.Cookies)
	WriteJSON(w, http.StatusOK, sess)
}

func (h *handlers) refresh(w http.ResponseWriter, r *http.Request) {
	_, st, err := h.session(r)
	if err != nil {
		WriteError(w, err)
		return
	}

	var body struct {
		RefreshToken string `json:"refreshToken"`
	}
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			WriteError(w, model.NewBadRequestError("invalid JSON body"))
			return
		}
	}

	ctx := graphql.WithOutbound(r.Context(), nil, r.Cookies()...)
	sess, err := h.deps.Auth.Refresh(ctx, st, body.RefreshToken)
	if err != nil {
		WriteError(w, err)
		return
	}
	relayCookies(w, sess.Cookies)
	WriteJSON(w, http.StatusOK, sess)
}

func (h *handlers) logout(w http.ResponseWriter, r *http.Request) {
	rctx, st, err := h.session(r)
	if err != nil {
		WriteError(w, err)
		return
	}

	ctx := graphql.WithOutbound(r.Context(), nil, r.Cookies()...)
	cookies, err := h.deps.Auth.Logout(ctx, st)
	if err != nil {
		WriteError(w, err)
		return
	}
	relayCookies(w, cookies)

	if h.deps.Rights != nil {
		h.deps.Rights.Invalidate(rctx.SubjectID)
	}
	h.deps.Stores.Drop(rctx.SubjectID)
	h.logger(r).Info("auth: logout")
	w.WriteHeader(http.StatusNoContent)
}

func (h *handlers) me(w http.ResponseWriter, r *http.Request) {
	_, st, err := h.session(r)
	if err != nil {
		WriteError(w, err)
		return
	}
	user, err := h.deps.Auth.CurrentUser(r.Context(), st)
	if err != nil {
		h.logger(r).Warn("auth: current user failed", zap.Error(err))
		WriteError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, user)
}

func (h *handlers) samlLogin(w http.ResponseWriter, r *http.Request) {
	next := r.URL.Query().Get("next")
	http.Redirect(w, r, auth.SAMLLoginURL(h.deps.Config.Backend.APIURL, next), http.StatusFound)
}

func (h *handlers) samlLogout(w http.ResponseWriter, r *http.Request) {
	next := r.URL.Query().Get("next")
	http.Redirect(w, r, auth.SAMLLogoutURL(h.deps.Config.Backend.APIURL, next), http.StatusFound)
}

// relayCookies passes backend session cookies through to the browser.
func relayCookies(w http.ResponseWriter, cookies []*http.Cookie) {
	for _, c := range cookies {
		http.SetCookie(w, c)
	}
}
