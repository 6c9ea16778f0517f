// Package auth signs users in and out of the portal backend. Login and
// token refresh are GraphQL mutations whose session cookies the backend
// sets; the current user, with their rights, comes from a REST endpoint.
package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"go.uber.org/zap"

	"github.com/pitabwire/portico/internal/graphql"
	"github.com/pitabwire/portico/model"
)

// CSRF cookie and header names used by the backend.
const (
	CSRFCookie = "csrftoken"
	CSRFHeader = "X-CSRFToken"
)

const currentUserPath = "core/users/current_user/"

const (
	loginDocument   = "mutation authenticate($username: String!, $password: String!) { tokenAuth(username: $username, password: $password) { token refreshExpiresIn } }"
	refreshDocument = "mutation refresh($refreshToken: String) { refreshToken(refreshToken: $refreshToken) { token refreshExpiresIn } }"
	logoutDocument  = "mutation { deleteTokenCookie { deleted } deleteRefreshTokenCookie { deleted } }"
)

// Credentials are a username/password pair.
type Credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// Session is the result of a login or refresh.
type Session struct {
	Token            string         `json:"token"`
	RefreshExpiresIn int64          `json:"refreshExpiresIn"`
	User             *model.User    `json:"user,omitempty"`
	Cookies          []*http.Cookie `json:"-"`
}

// Service performs authentication calls.
type Service struct {
	client *graphql.Client
	logger *zap.Logger
}

// NewService creates an auth service.
func NewService(client *graphql.Client, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{client: client, logger: logger}
}

// Login authenticates creds. csrf and cookies are forwarded from the
// caller's browser session; the CSRF token is sent as X-CSRFToken. On
// success the current user is fetched with the new token.
func (s *Service) Login(ctx context.Context, d model.Dispatcher, creds Credentials, csrf string, cookies []*http.Cookie) (*Session, error) {
	if strings.TrimSpace(creds.Username) == "" || creds.Password == "" {
		return nil, model.NewValidationError([]model.FieldError{
			{Field: "username", Code: "required", Message: "username and password are required"},
		})
	}

	header := http.Header{}
	if csrf != "" {
		header.Set(CSRFHeader, csrf)
	}
	octx := graphql.WithOutbound(ctx, header, cookies...)

	resp, err := s.client.Execute(octx, d, graphql.Request{
		Query:     loginDocument,
		Variables: map[string]any{"username": creds.Username, "password": creds.Password},
	}, model.LoginTypes, creds.Username)
	if err != nil {
		s.logger.Info("auth: login rejected", zap.String("username", creds.Username), zap.Error(err))
		return nil, err
	}

	sess, err := decodeSession(resp, "tokenAuth")
	if err != nil {
		return nil, err
	}

	uctx := withToken(ctx, sess.Token)
	user, err := s.CurrentUser(uctx, d)
	if err != nil {
		return nil, fmt.Errorf("load current user: %w", err)
	}
	sess.User = user
	s.logger.Info("auth: login", zap.String("username", user.Username))
	return sess, nil
}

// Refresh exchanges a refresh token for a new access token. An empty
// refreshToken relies on the refresh cookie forwarded in ctx.
func (s *Service) Refresh(ctx context.Context, d model.Dispatcher, refreshToken string) (*Session, error) {
	vars := map[string]any{}
	if refreshToken != "" {
		vars["refreshToken"] = refreshToken
	}
	resp, err := s.client.Execute(ctx, d, graphql.Request{Query: refreshDocument, Variables: vars}, model.RefreshTypes, nil)
	if err != nil {
		return nil, err
	}
	return decodeSession(resp, "refreshToken")
}

// Logout deletes both session cookies on the backend. The cookies the
// backend clears are returned so they can be relayed to the browser.
func (s *Service) Logout(ctx context.Context, d model.Dispatcher) ([]*http.Cookie, error) {
	resp, err := s.client.Execute(ctx, d, graphql.Request{Query: logoutDocument}, model.LogoutTypes, nil)
	if err != nil {
		return nil, err
	}
	return resp.Cookies, nil
}

// CurrentUser fetches the authenticated user.
func (s *Service) CurrentUser(ctx context.Context, d model.Dispatcher) (*model.User, error) {
	var u model.User
	if err := s.client.GetJSON(ctx, d, currentUserPath, nil, model.CurrentUserTypes, nil, &u); err != nil {
		return nil, err
	}
	if u.ID == "" && u.Username == "" {
		return nil, errors.New("auth: current user response is empty")
	}
	return &u, nil
}

// Rights loads the rights of rctx's subject from the current-user
// endpoint.
func (s *Service) Rights(ctx context.Context, rctx *model.RequestContext) (model.RightSet, error) {
	u, err := s.CurrentUser(model.WithRequestContext(ctx, rctx), nil)
	if err != nil {
		return nil, err
	}
	return u.RightSet(), nil
}

func decodeSession(resp *graphql.Response, field string) (*Session, error) {
	var data map[string]*Session
	if err := resp.Decode(&data); err != nil {
		return nil, err
	}
	sess := data[field]
	if sess == nil {
		return nil, model.NewUnauthorizedError("backend returned no " + field + " payload")
	}
	sess.Cookies = resp.Cookies
	return sess, nil
}

// withToken returns ctx with the request context's token replaced.
func withToken(ctx context.Context, token string) context.Context {
	rctx := model.RequestContext{}
	if cur := model.RequestContextFrom(ctx); cur != nil {
		rctx = *cur
	}
	if token != "" {
		rctx.Token = token
	}
	return model.WithRequestContext(ctx, &rctx)
}

// CSRFToken returns the CSRF token of an incoming browser request, or "".
func CSRFToken(r *http.Request) string {
	if c, err := r.Cookie(CSRFCookie); err == nil {
		return c.Value
	}
	return r.Header.Get(CSRFHeader)
}

// SAMLLoginURL is the backend's SAML login redirect. next, when set, is
// where the identity provider sends the user back to.
func SAMLLoginURL(apiURL, next string) string {
	return samlURL(apiURL, "login", next)
}

// SAMLLogoutURL is the backend's SAML logout redirect.
func SAMLLogoutURL(apiURL, next string) string {
	return samlURL(apiURL, "logout", next)
}

func samlURL(apiURL, action, next string) string {
	u := strings.TrimRight(apiURL, "/") + "/msystems/saml/" + action + "/"
	if next != "" {
		u += "?next=" + url.QueryEscape(next)
	}
	return u
}
