package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "portico"

var (
	httpDurationBuckets    = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10}
	backendDurationBuckets = []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5}
	bodySizeBuckets        = prometheus.ExponentialBuckets(128, 8, 6)
	pollAttemptBuckets     = []float64{1, 2, 3, 5, 8, 10}
)

// Metrics groups the BFF's Prometheus instruments. A nil *Metrics is valid
// and records nothing, so components can be built without metrics.
type Metrics struct {
	HTTPRequests      *prometheus.CounterVec   // method, route, status
	HTTPDuration      *prometheus.HistogramVec // method, route
	HTTPRequestBytes  *prometheus.HistogramVec // method, route
	HTTPResponseBytes *prometheus.HistogramVec // method, route

	BackendRequests *prometheus.CounterVec   // action_type, outcome
	BackendDuration *prometheus.HistogramVec // action_type
	BreakerState    prometheus.Gauge
	RateLimited     prometheus.Counter

	MutationOutcomes *prometheus.CounterVec // outcome
	MutationPolls    prometheus.Histogram

	FilterCacheOps *prometheus.CounterVec // op, result
	CacheLookups   *prometheus.CounterVec // cache, result

	DefinitionReloads *prometheus.CounterVec // status
	SearchersLoaded   prometheus.Gauge
}

// InitMetrics creates the instruments and registers them with reg.
func InitMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	httpOpts := func(name, help string) prometheus.HistogramOpts {
		return prometheus.HistogramOpts{Namespace: namespace, Subsystem: "http", Name: name, Help: help}
	}
	reqBytes := httpOpts("request_size_bytes", "HTTP request body size in bytes.")
	reqBytes.Buckets = bodySizeBuckets
	respBytes := httpOpts("response_size_bytes", "HTTP response body size in bytes.")
	respBytes.Buckets = bodySizeBuckets
	duration := httpOpts("request_duration_seconds", "HTTP request duration in seconds.")
	duration.Buckets = httpDurationBuckets

	route := []string{"method", "route"}
	return &Metrics{
		HTTPRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "http", Name: "requests_total",
			Help: "HTTP requests by route and status.",
		}, []string{"method", "route", "status"}),
		HTTPDuration:      f.NewHistogramVec(duration, route),
		HTTPRequestBytes:  f.NewHistogramVec(reqBytes, route),
		HTTPResponseBytes: f.NewHistogramVec(respBytes, route),

		BackendRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "graphql", Name: "requests_total",
			Help: "GraphQL requests by action type and outcome.",
		}, []string{"action_type", "outcome"}),
		BackendDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "graphql", Name: "request_duration_seconds",
			Help:    "GraphQL round trip duration in seconds.",
			Buckets: backendDurationBuckets,
		}, []string{"action_type"}),
		BreakerState: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "graphql", Name: "circuit_breaker_state",
			Help: "Backend circuit breaker state: 0 closed, 1 half-open, 2 open.",
		}),
		RateLimited: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "graphql", Name: "rate_limited_total",
			Help: "GraphQL requests refused by the outbound rate limiter.",
		}),

		MutationOutcomes: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "mutation", Name: "outcomes_total",
			Help: "Tracked mutations by final outcome.",
		}, []string{"outcome"}),
		MutationPolls: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "mutation", Name: "poll_attempts",
			Help:    "Mutation log polls per tracked mutation.",
			Buckets: pollAttemptBuckets,
		}),

		FilterCacheOps: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "filter_cache", Name: "operations_total",
			Help: "Filter cache operations by kind and result.",
		}, []string{"op", "result"}),
		CacheLookups: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "cache_lookups_total",
			Help: "Permissions catalog and user rights cache lookups.",
		}, []string{"cache", "result"}),

		DefinitionReloads: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "definition_reload_total",
			Help: "Searcher definition reloads by status.",
		}, []string{"status"}),
		SearchersLoaded: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "searchers_loaded",
			Help: "Searcher definitions currently served.",
		}),
	}
}

func (m *Metrics) RecordHTTPRequest(method, route string, status int, d time.Duration, reqBytes, respBytes int) {
	if m == nil {
		return
	}
	m.HTTPRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.HTTPDuration.WithLabelValues(method, route).Observe(d.Seconds())
	m.HTTPRequestBytes.WithLabelValues(method, route).Observe(float64(reqBytes))
	m.HTTPResponseBytes.WithLabelValues(method, route).Observe(float64(respBytes))
}

// RecordGraphQLRequest counts one backend round trip. outcome is "ok",
// "server_error", "data_error" or "rejected".
func (m *Metrics) RecordGraphQLRequest(actionType, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.BackendRequests.WithLabelValues(actionType, outcome).Inc()
	m.BackendDuration.WithLabelValues(actionType).Observe(d.Seconds())
}

func (m *Metrics) SetCircuitBreakerState(state float64) {
	if m != nil {
		m.BreakerState.Set(state)
	}
}

func (m *Metrics) RecordRateLimited() {
	if m != nil {
		m.RateLimited.Inc()
	}
}

// RecordMutationOutcome counts a finished mutation and the polls it took.
func (m *Metrics) RecordMutationOutcome(outcome string, attempts int) {
	if m == nil {
		return
	}
	m.MutationOutcomes.WithLabelValues(outcome).Inc()
	m.MutationPolls.Observe(float64(attempts))
}

// RecordFilterCacheOp counts a filter cache "get", "set" or "delete" with
// its result: "hit", "miss", "ok" or "error".
func (m *Metrics) RecordFilterCacheOp(op, result string) {
	if m != nil {
		m.FilterCacheOps.WithLabelValues(op, result).Inc()
	}
}

func (m *Metrics) RecordPermissionsCache(hit bool) { m.recordLookup("permissions", hit) }
func (m *Metrics) RecordRightsCache(hit bool)      { m.recordLookup("rights", hit) }

func (m *Metrics) recordLookup(cache string, hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.CacheLookups.WithLabelValues(cache, result).Inc()
}

func (m *Metrics) RecordDefinitionReload(status string) {
	if m != nil {
		m.DefinitionReloads.WithLabelValues(status).Inc()
	}
}

func (m *Metrics) SetSearchersLoaded(n float64) {
	if m != nil {
		m.SearchersLoaded.Set(n)
	}
}

// MetricsMiddleware records every request under its chi route pattern, so
// /ui/roles/{uuid} is one series however many roles are read.
func (m *Metrics) MetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		m.RecordHTTPRequest(r.Method, routePattern(r), status, time.Since(start),
			int(max(r.ContentLength, 0)), ww.BytesWritten())
	})
}

// Handler serves the default Prometheus registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

func routePattern(r *http.Request) string {
	if rc := chi.RouteContext(r.Context()); rc != nil {
		if p := rc.RoutePattern(); p != "" {
			return p
		}
	}
	return r.URL.Path
}
