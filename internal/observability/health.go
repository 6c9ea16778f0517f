package observability

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"
)

// Build identity, set by cmd/bff from its ldflags variables.
var (
	Version = "dev"
	Commit  = "unknown"
)

// HealthResponse is the JSON response for the liveness endpoint.
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
	Commit  string `json:"commit"`
}

// ReadinessResponse is the JSON response for the readiness endpoint.
type ReadinessResponse struct {
	Status string                 `json:"status"`
	Checks map[string]CheckResult `json:"checks"`
}

// CheckResult is the result of a single readiness check.
type CheckResult struct {
	Status    string `json:"status"`
	LatencyMs int64  `json:"latency_ms"`
	Error     string `json:"error,omitempty"`
}

// HealthChecker can verify its own health.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// HealthCheckFunc adapts a function to the HealthChecker interface.
type HealthCheckFunc func(ctx context.Context) error

// HealthCheck calls f(ctx).
func (f HealthCheckFunc) HealthCheck(ctx context.Context) error { return f(ctx) }

// ReadinessChecks holds the dependency checkers for the readiness endpoint.
type ReadinessChecks struct {
	// DefinitionsLoaded always runs; a nil func counts as not loaded.
	DefinitionsLoaded func() bool

	// Optional checks run only when non-nil.
	Backend      HealthChecker
	JournalStore HealthChecker
	FilterCache  HealthChecker
	Notifier     HealthChecker

	// Extra holds contributed checks keyed by name.
	Extra map[string]HealthChecker
}

const checkTimeout = 2 * time.Second

// HandleHealth reports liveness and the running build.
func HandleHealth() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		writeHealthJSON(w, http.StatusOK, HealthResponse{Status: "ok", Version: Version, Commit: Commit})
	}
}

type namedCheck struct {
	name    string
	checker HealthChecker
}

// HandleReady reports readiness. The definitions check always runs; the
// others run concurrently, each bounded by checkTimeout. Any failed check
// answers 503.
func HandleReady(checks ReadinessChecks) http.HandlerFunc {
	var named []namedCheck
	add := func(name string, c HealthChecker) {
		if c != nil {
			named = append(named, namedCheck{name, c})
		}
	}
	add("backend", checks.Backend)
	add("journal_store", checks.JournalStore)
	add("filter_cache", checks.FilterCache)
	add("notifier", checks.Notifier)
	for name, c := range checks.Extra {
		add(name, c)
	}

	return func(w http.ResponseWriter, r *http.Request) {
		out := make([]CheckResult, len(named))
		var g errgroup.Group
		for i, nc := range named {
			g.Go(func() error {
				out[i] = runCheck(r.Context(), nc.checker)
				return nil
			})
		}

		results := make(map[string]CheckResult, len(named)+1)
		results["definitions"] = CheckResult{Status: "ok"}
		if checks.DefinitionsLoaded == nil || !checks.DefinitionsLoaded() {
			results["definitions"] = CheckResult{Status: "error", Error: "no searcher definitions loaded"}
		}

		_ = g.Wait()
		for i, nc := range named {
			results[nc.name] = out[i]
		}

		resp := ReadinessResponse{Status: "ready", Checks: results}
		status := http.StatusOK
		for _, res := range results {
			if res.Status != "ok" {
				resp.Status = "not_ready"
				status = http.StatusServiceUnavailable
				break
			}
		}
		writeHealthJSON(w, status, resp)
	}
}

func runCheck(parent context.Context, checker HealthChecker) CheckResult {
	ctx, cancel := context.WithTimeout(parent, checkTimeout)
	defer cancel()

	start := time.Now()
	err := checker.HealthCheck(ctx)
	res := CheckResult{Status: "ok", LatencyMs: time.Since(start).Milliseconds()}
	if err != nil {
		res.Status = "error"
		res.Error = err.Error()
	}
	return res
}

func writeHealthJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
