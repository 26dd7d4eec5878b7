package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	registry *prometheus.Registry

	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Authorization metrics
	AuthzDecisionsTotal *prometheus.CounterVec
	ResolverCacheTotal  *prometheus.CounterVec

	// Derived-state metrics
	RecomputeTotal    *prometheus.CounterVec
	RecomputeDuration *prometheus.HistogramVec

	// Lifecycle metrics
	EnrollmentTotal       *prometheus.CounterVec
	ShareResolutionsTotal *prometheus.CounterVec
	DispatcherSweepsTotal *prometheus.CounterVec
}

// NewMetrics creates and registers all Prometheus metrics. A nil registry
// gets a fresh one so tests can create as many as they like.
func NewMetrics(registry *prometheus.Registry) *Metrics {
	if registry == nil {
		registry = prometheus.NewRegistry()
	}

	m := &Metrics{
		registry: registry,
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "keystone_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "keystone_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		AuthzDecisionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "keystone_authz_decisions_total",
				Help: "Authorization decisions by table, operation and outcome",
			},
			[]string{"table", "op", "decision"},
		),
		ResolverCacheTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "keystone_resolver_cache_total",
				Help: "Principal attribute resolver lookups by cache outcome",
			},
			[]string{"result"},
		),
		RecomputeTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "keystone_recompute_total",
				Help: "Derived aggregate recomputations",
			},
			[]string{"aggregate", "status"},
		),
		RecomputeDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "keystone_recompute_duration_seconds",
				Help:    "Derived aggregate recomputation duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"aggregate"},
		),
		EnrollmentTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "keystone_enrollment_total",
				Help: "Identity enrollment outcomes",
			},
			[]string{"outcome"},
		),
		ShareResolutionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "keystone_share_resolutions_total",
				Help: "Share token resolutions by status",
			},
			[]string{"status"},
		),
		DispatcherSweepsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "keystone_dispatcher_sweeps_total",
				Help: "Dispatcher sweeps by job and status",
			},
			[]string{"job", "status"},
		),
	}

	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.AuthzDecisionsTotal,
		m.ResolverCacheTotal,
		m.RecomputeTotal,
		m.RecomputeDuration,
		m.EnrollmentTotal,
		m.ShareResolutionsTotal,
		m.DispatcherSweepsTotal,
	)

	return m
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns the /metrics handler for this registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordAuthzDecision counts one evaluator decision.
func (m *Metrics) RecordAuthzDecision(table, op string, allowed bool) {
	if m == nil {
		return
	}
	decision := "deny"
	if allowed {
		decision = "allow"
	}
	m.AuthzDecisionsTotal.WithLabelValues(table, op, decision).Inc()
}

// RecordResolverLookup counts a resolver lookup ("request", "lru", "redis", "store").
func (m *Metrics) RecordResolverLookup(result string) {
	if m == nil {
		return
	}
	m.ResolverCacheTotal.WithLabelValues(result).Inc()
}

// RecordRecompute records one aggregate recomputation.
func (m *Metrics) RecordRecompute(aggregate string, duration time.Duration, err error) {
	if m == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	m.RecomputeTotal.WithLabelValues(aggregate, status).Inc()
	m.RecomputeDuration.WithLabelValues(aggregate).Observe(duration.Seconds())
}

// RecordEnrollment counts an enrollment outcome.
func (m *Metrics) RecordEnrollment(outcome string) {
	if m == nil {
		return
	}
	m.EnrollmentTotal.WithLabelValues(outcome).Inc()
}

// RecordShareResolution counts a share token resolution.
func (m *Metrics) RecordShareResolution(status string) {
	if m == nil {
		return
	}
	m.ShareResolutionsTotal.WithLabelValues(status).Inc()
}

// RecordSweep counts a dispatcher sweep.
func (m *Metrics) RecordSweep(job string, err error) {
	if m == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	m.DispatcherSweepsTotal.WithLabelValues(job, status).Inc()
}

// HTTPMiddleware records request counts and durations.
func (m *Metrics) HTTPMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		m.HTTPRequestsTotal.WithLabelValues(r.Method, r.URL.Path, strconv.Itoa(rec.status)).Inc()
		m.HTTPRequestDuration.WithLabelValues(r.Method, r.URL.Path).Observe(time.Since(start).Seconds())
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}
