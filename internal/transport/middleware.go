package transport

import (
	"context"
	"log/slog"
	"net/http"
	"runtime/debug"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/pitabwire/portico/internal/config"
	"github.com/pitabwire/portico/internal/observability"
	"github.com/pitabwire/portico/model"
)

// CorrelationHeader carries the correlation ID in both directions and is
// forwarded to the backend.
const CorrelationHeader = "X-Correlation-Id"

type (
	requestInfoKey struct{}
	claimsKey      struct{}
	tokenKey       struct{}
)

// requestInfo is shared by every middleware of one request. Inner layers
// record the subject on it so the access log written by the outer layer can
// name who made the request.
type requestInfo struct {
	correlationID string
	subjectID     string
}

func requestInfoFrom(ctx context.Context) *requestInfo {
	info, _ := ctx.Value(requestInfoKey{}).(*requestInfo)
	return info
}

// defaultClaimPaths apply where identity.claim_paths is silent.
var defaultClaimPaths = map[string]string{
	"subject":  "sub",
	"username": "username",
	"email":    "email",
	"language": "language",
}

// CorrelationIDFrom returns the request's correlation ID, or "".
func CorrelationIDFrom(ctx context.Context) string {
	if info := requestInfoFrom(ctx); info != nil {
		return info.correlationID
	}
	return ""
}

// WithClaims stores verified token claims in ctx.
func WithClaims(ctx context.Context, claims map[string]any) context.Context {
	return context.WithValue(ctx, claimsKey{}, claims)
}

// ClaimsFrom returns the verified token claims, or nil.
func ClaimsFrom(ctx context.Context) map[string]any {
	claims, _ := ctx.Value(claimsKey{}).(map[string]any)
	return claims
}

func withToken(ctx context.Context, token string) context.Context {
	return context.WithValue(ctx, tokenKey{}, token)
}

// TokenFrom returns the verified raw token.
func TokenFrom(ctx context.Context) string {
	t, _ := ctx.Value(tokenKey{}).(string)
	return t
}

// Recovery turns a handler panic into a 500 envelope and logs the stack.
func Recovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			if rec == http.ErrAbortHandler {
				panic(rec)
			}
			slog.Error("panic recovered",
				"panic", rec,
				"method", r.Method,
				"path", r.URL.Path,
				"correlation_id", CorrelationIDFrom(r.Context()),
				"stack", string(debug.Stack()),
			)
			WriteError(w, model.NewInternalError())
		}()
		next.ServeHTTP(w, r)
	})
}

// CORS answers preflight requests and decorates responses for the allowed
// origins. Credentials are allowed because the front end authenticates with
// the token cookie.
func CORS(cfg config.CORSConfig) func(http.Handler) http.Handler {
	allowed := make(map[string]struct{}, len(cfg.AllowedOrigins))
	for _, o := range cfg.AllowedOrigins {
		allowed[o] = struct{}{}
	}
	fixed := [][2]string{
		{"Access-Control-Allow-Methods", strings.Join(cfg.AllowedMethods, ", ")},
		{"Access-Control-Allow-Headers", strings.Join(cfg.AllowedHeaders, ", ")},
		{"Access-Control-Allow-Credentials", "true"},
		{"Access-Control-Max-Age", strconv.Itoa(cfg.MaxAge)},
		{"Access-Control-Expose-Headers", CorrelationHeader},
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			h := w.Header()
			h.Add("Vary", "Origin")
			if origin := r.Header.Get("Origin"); origin != "" {
				if _, ok := allowed[origin]; ok {
					h.Set("Access-Control-Allow-Origin", origin)
					for _, kv := range fixed {
						h.Set(kv[0], kv[1])
					}
				}
			}
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequestID adopts the caller's X-Correlation-Id or mints one, and echoes
// it on the response.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(CorrelationHeader)
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(CorrelationHeader, id)
		ctx := context.WithValue(r.Context(), requestInfoKey{}, &requestInfo{correlationID: id})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

var securityHeaders = [][2]string{
	{"Strict-Transport-Security", "max-age=31536000; includeSubDomains"},
	{"X-Content-Type-Options", "nosniff"},
	{"X-Frame-Options", "DENY"},
	{"X-XSS-Protection", "0"},
	{"Cache-Control", "no-store"},
	{"Referrer-Policy", "strict-origin-when-cross-origin"},
}

// SecurityHeaders sets the hardening headers on every response.
func SecurityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		for _, kv := range securityHeaders {
			w.Header().Set(kv[0], kv[1])
		}
		next.ServeHTTP(w, r)
	})
}

// BuildRequestContextMiddleware constructs a model.RequestContext from the
// verified claims, the raw token and standard request headers. claimPaths
// maps subject, username, email and language to dotted claim paths.
func BuildRequestContextMiddleware(claimPaths map[string]string) func(http.Handler) http.Handler {
	paths := make(map[string]string, len(defaultClaimPaths))
	for k, v := range defaultClaimPaths {
		paths[k] = v
	}
	for k, v := range claimPaths {
		paths[k] = v
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			claims := ClaimsFrom(ctx)

			rctx := &model.RequestContext{
				SubjectID:     extractClaimString(claims, paths["subject"]),
				Username:      extractClaimString(claims, paths["username"]),
				Email:         extractClaimString(claims, paths["email"]),
				Language:      extractClaimString(claims, paths["language"]),
				Claims:        claims,
				Token:         TokenFrom(ctx),
				CorrelationID: CorrelationIDFrom(ctx),
				TraceID:       observability.TraceIDFromContext(ctx),
				SpanID:        observability.SpanIDFromContext(ctx),
			}
			if rctx.SubjectID == "" {
				rctx.SubjectID = rctx.Username
			}
			if rctx.Language == "" {
				rctx.Language = primaryLanguage(r.Header.Get("Accept-Language"))
			}
			if info := requestInfoFrom(ctx); info != nil {
				info.subjectID = rctx.SubjectID
			}
			if err := rctx.Validate(); err != nil {
				WriteError(w, model.NewUnauthorizedError("token does not identify a subject"))
				return
			}

			next.ServeHTTP(w, r.WithContext(model.WithRequestContext(ctx, rctx)))
		})
	}
}

// ResolveRights returns middleware that resolves the current subject's
// rights and attaches them to the request context. A failed resolution is
// logged and leaves the rights empty; gated handlers then answer 403.
func ResolveRights(resolver model.RightsResolver) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rctx := model.RequestContextFrom(r.Context())
			if resolver != nil && rctx != nil {
				rights, err := resolver.Resolve(r.Context(), rctx)
				if err != nil {
					slog.Warn("rights resolution failed",
						"error", err,
						"subject_id", rctx.SubjectID,
					)
				} else {
					r = r.WithContext(model.WithRequestContext(r.Context(), rctx.WithRights(rights)))
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}

// HandlerTimeout puts a deadline of d on the request context. Zero
// disables it.
func HandlerTimeout(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if d <= 0 {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, cancel := context.WithTimeout(r.Context(), d)
			defer cancel()
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequestLogging writes one access log line per request, at warn for 4xx
// and error for 5xx. The route is the chi pattern when one matched.
func RequestLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		route := r.URL.Path
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			route = rc.RoutePattern()
		}
		attrs := []any{
			"method", r.Method,
			"route", route,
			"status", status,
			"bytes", ww.BytesWritten(),
			"duration", time.Since(start),
		}
		if info := requestInfoFrom(r.Context()); info != nil {
			attrs = append(attrs, "correlation_id", info.correlationID)
			if info.subjectID != "" {
				attrs = append(attrs, "subject_id", info.subjectID)
			}
		}

		level := slog.LevelInfo
		switch {
		case status >= http.StatusInternalServerError:
			level = slog.LevelError
		case status >= http.StatusBadRequest:
			level = slog.LevelWarn
		}
		slog.Log(r.Context(), level, "request", attrs...)
	})
}

// extractClaimString walks a dotted path through nested claim maps. Numeric
// claims are formatted without a fraction.
func extractClaimString(claims map[string]any, path string) string {
	if claims == nil || path == "" {
		return ""
	}
	var cur any = claims
	for _, part := range strings.Split(path, ".") {
		m, ok := cur.(map[string]any)
		if !ok {
			return ""
		}
		cur, ok = m[part]
		if !ok {
			return ""
		}
	}
	switch v := cur.(type) {
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(v)
	default:
		return ""
	}
}

// primaryLanguage returns the first language tag of an Accept-Language value.
func primaryLanguage(header string) string {
	tag, _, _ := strings.Cut(header, ",")
	tag, _, _ = strings.Cut(tag, ";")
	tag = strings.TrimSpace(tag)
	if tag == "*" {
		return ""
	}
	return tag
}

