package model

import (
	"context"
	"errors"
)

// RequestContext identifies the caller of one request: who they are, the
// bearer token forwarded to the backend, and the rights resolved for them.
// Treat it as read-only once attached to a context; use WithRights to derive
// a copy.
type RequestContext struct {
	SubjectID     string
	Username      string
	Email         string
	Language      string
	Rights        RightSet
	Claims        map[string]any
	Token         string
	CorrelationID string
	TraceID       string
	SpanID        string
}

var (
	errNoSubject = errors.New("request context: subject is required")
	errNoToken   = errors.New("request context: token is required")
)

// Validate reports a missing subject or token.
func (rc *RequestContext) Validate() error {
	var errs []error
	if rc.SubjectID == "" {
		errs = append(errs, errNoSubject)
	}
	if rc.Token == "" {
		errs = append(errs, errNoToken)
	}
	return errors.Join(errs...)
}

// HasRight reports whether right was granted.
func (rc *RequestContext) HasRight(right int) bool {
	return rc.Rights.Has(right)
}

// WithRights returns a copy of rc carrying rights.
func (rc *RequestContext) WithRights(rights RightSet) *RequestContext {
	cp := *rc
	cp.Rights = rights
	return &cp
}

// BearerHeader is the Authorization value forwarded to the backend, or ""
// when the request carries no token.
func (rc *RequestContext) BearerHeader() string {
	if rc.Token == "" {
		return ""
	}
	return "Bearer " + rc.Token
}

type requestContextKey struct{}

// WithRequestContext attaches rctx to ctx.
func WithRequestContext(ctx context.Context, rctx *RequestContext) context.Context {
	return context.WithValue(ctx, requestContextKey{}, rctx)
}

// RequestContextFrom returns the RequestContext attached to ctx, or nil.
func RequestContextFrom(ctx context.Context) *RequestContext {
	rctx, _ := ctx.Value(requestContextKey{}).(*RequestContext)
	return rctx
}

// MustRequestContext is RequestContextFrom for handlers mounted behind the
// authentication middleware. It panics when no context is attached.
func MustRequestContext(ctx context.Context) *RequestContext {
	rctx := RequestContextFrom(ctx)
	if rctx == nil {
		panic("model: no RequestContext in context")
	}
	return rctx
}
