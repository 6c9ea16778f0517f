package transport

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/pitabwire/portico/internal/auth"
	"github.com/pitabwire/portico/internal/config"
	"github.com/pitabwire/portico/internal/contrib"
	"github.com/pitabwire/portico/internal/definition"
	"github.com/pitabwire/portico/internal/export"
	"github.com/pitabwire/portico/internal/graphql"
	"github.com/pitabwire/portico/internal/mutation"
	"github.com/pitabwire/portico/internal/observability"
	"github.com/pitabwire/portico/internal/openapi"
	"github.com/pitabwire/portico/internal/role"
	"github.com/pitabwire/portico/internal/searcher"
	"github.com/pitabwire/portico/internal/settings"
	"github.com/pitabwire/portico/internal/store"
	"github.com/pitabwire/portico/model"
)

// Dependencies holds all injected dependencies for the HTTP transport layer.
type Dependencies struct {
	Config       *config.Config
	Authenticate func(http.Handler) http.Handler
	Rights       model.RightsResolver
	Definitions  *definition.Registry
	Backend      graphql.Executor
	FilterCache  searcher.FilterCache
	Stores       *store.Registry
	Roles        *role.Service
	Auth         *auth.Service
	Exports      *export.Service
	Settings     settings.Repository
	Journal      mutation.JournalStore
	Submitter    *mutation.Submitter
	Metrics      *observability.Metrics
	Logger       *zap.Logger
	Contrib      *contrib.Registry
	Contract     *openapi.Index
	Readiness    observability.ReadinessChecks
}

// RouteContributor mounts extra authenticated routes. Modules contribute
// them under contrib.KeyRoutes.
type RouteContributor interface {
	Routes(r chi.Router)
}

// ReadinessContributor is a named readiness check contributed under
// contrib.KeyReadiness.
type ReadinessContributor interface {
	observability.HealthChecker
	Name() string
}

// NewRouter creates a chi.Router with the full middleware pipeline and all
// route registrations. Health, readiness, metrics, login and the SAML
// redirects bypass the authentication middleware.
func NewRouter(deps Dependencies) chi.Router {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	h := &handlers{deps: deps}

	r := chi.NewRouter()

	// Global middleware: applied to all routes including health.
	r.Use(Recovery)
	r.Use(observability.TracingMiddleware)
	r.Use(CORS(deps.Config.Server.CORS))
	r.Use(RequestID)
	r.Use(SecurityHeaders)
	r.Use(RequestLogging)
	r.Use(deps.Metrics.MetricsMiddleware)

	// Public routes.
	r.Get("/ui/health", observability.HandleHealth())
	r.Get("/ui/ready", observability.HandleReady(readinessChecks(deps)))
	r.Method(http.MethodGet, "/metrics", observability.Handler())
	r.With(ValidateBody(deps.Contract, "login")).Post("/auth/login", h.login)
	if deps.Contract != nil {
		r.Get("/ui/openapi.json", h.contract)
	}
	r.Get("/auth/saml/login", h.samlLogin)
	r.Get("/auth/saml/logout", h.samlLogout)

	if deps.Config.Server.IsDevelopment() {
		if public := deps.Config.Server.PublicURL; public != "" && public != "/" {
			r.Get("/", func(w http.ResponseWriter, r *http.Request) {
				http.Redirect(w, r, public, http.StatusFound)
			})
		}
	}

	authenticate := deps.Authenticate
	if authenticate == nil {
		authenticate = func(next http.Handler) http.Handler { return next }
	}

	r.Group(func(r chi.Router) {
		r.Use(authenticate)
		r.Use(BuildRequestContextMiddleware(deps.Config.Identity.ClaimPaths))
		r.Use(ResolveRights(deps.Rights))
		r.Use(HandlerTimeout(deps.Config.Server.HandlerTimeout))

		body := func(operationID string) func(http.Handler) http.Handler {
			return ValidateBody(deps.Contract, operationID)
		}

		r.With(body("refresh")).Post("/auth/refresh", h.refresh)
		r.Post("/auth/logout", h.logout)
		r.Get("/auth/me", h.me)

		r.Get("/ui/searchers", h.listSearchers)
		r.Get("/ui/searchers/{searcherId}", h.search)

		r.Get("/ui/roles", h.listRoles)
		r.With(body("createRole")).Post("/ui/roles", h.createRole)
		r.With(body("bulkDeleteRoles")).Post("/ui/roles/bulk-delete", h.bulkDeleteRoles)
		r.Get("/ui/roles/{uuid}", h.getRole)
		r.Get("/ui/roles/{uuid}/duplicate", h.duplicateRole)
		r.With(body("updateRole")).Put("/ui/roles/{uuid}", h.updateRole)
		r.Delete("/ui/roles/{uuid}", h.deleteRole)

		r.With(body("confirm")).Post("/ui/confirmations/{id}", h.confirm)
		r.Get("/ui/rights", h.rights)
		r.Get("/ui/journal", h.listJournal)
		r.Get("/ui/journal/{clientMutationId}", h.getJournalEntry)
		r.Get("/ui/exports/{file}", h.downloadExport)
		r.Get("/ui/settings/{key}", h.getSetting)
		r.With(body("putSetting")).Put("/ui/settings/{key}", h.putSetting)
		r.Delete("/ui/settings/{key}", h.deleteSetting)
		r.Get("/ui/alerts", h.drainAlert)

		if deps.Contrib != nil {
			for _, c := range contrib.ContributionsOf[RouteContributor](deps.Contrib, contrib.KeyRoutes) {
				c.Routes(r)
			}
		}
	})

	return r
}

func readinessChecks(deps Dependencies) observability.ReadinessChecks {
	checks := deps.Readiness
	if deps.Contrib == nil {
		return checks
	}
	contributed := contrib.ContributionsOf[ReadinessContributor](deps.Contrib, contrib.KeyReadiness)
	if len(contributed) == 0 {
		return checks
	}
	extra := make(map[string]observability.HealthChecker, len(checks.Extra)+len(contributed))
	for name, c := range checks.Extra {
		extra[name] = c
	}
	for _, c := range contributed {
		extra[c.Name()] = c
	}
	checks.Extra = extra
	return checks
}

// handlers serves the BFF routes from one Dependencies value.
type handlers struct {
	deps Dependencies
}

// session returns the request context and the subject's store, which is
// the dispatcher for every backend call made on the subject's behalf.
func (h *handlers) session(r *http.Request) (*model.RequestContext, *store.Store, error) {
	rctx := model.RequestContextFrom(r.Context())
	if rctx == nil {
		return nil, nil, model.NewUnauthorizedError("missing request context")
	}
	return rctx, h.deps.Stores.For(rctx.SubjectID), nil
}

func (h *handlers) logger(r *http.Request) *zap.Logger {
	return observability.RequestLogger(r.Context(), h.deps.Logger)
}
