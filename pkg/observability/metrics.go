package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPResponseSize    *prometheus.HistogramVec

	// Pipeline metrics
	PipelineRequestsTotal *prometheus.CounterVec
	PipelineStageDuration *prometheus.HistogramVec

	// Guard metrics
	RateLimitDecisionsTotal *prometheus.CounterVec
	CooldownDecisionsTotal  *prometheus.CounterVec
	CounterSweepsTotal      *prometheus.CounterVec
	CountersSweptTotal      prometheus.Counter

	// Audit metrics
	AuditWritesTotal    *prometheus.CounterVec
	AuditWriteDuration  prometheus.Histogram
	AuditOverflowsTotal prometheus.Counter

	// Redis metrics
	RedisCommandsTotal *prometheus.CounterVec
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(registry prometheus.Registerer) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gatekeeper_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "gatekeeper_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
		HTTPResponseSize: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "gatekeeper_http_response_size_bytes",
				Help:    "HTTP response size in bytes",
				Buckets: prometheus.ExponentialBuckets(100, 10, 6),
			},
			[]string{"method", "route"},
		),

		PipelineRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gatekeeper_pipeline_requests_total",
				Help: "Pipeline stage outcomes per route",
			},
			[]string{"route", "stage", "outcome"},
		),
		PipelineStageDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "gatekeeper_pipeline_stage_duration_seconds",
				Help:    "Time spent in each pipeline stage",
				Buckets: []float64{.0005, .001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
			},
			[]string{"route", "stage"},
		),

		RateLimitDecisionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gatekeeper_ratelimit_decisions_total",
				Help: "Rate limit decisions by profile and scope kind",
			},
			[]string{"profile", "scope", "decision"},
		),
		CooldownDecisionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gatekeeper_cooldown_decisions_total",
				Help: "Cooldown decisions by cooldown type",
			},
			[]string{"type", "decision"},
		),
		CounterSweepsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gatekeeper_counter_sweeps_total",
				Help: "Periodic counter sweeps by outcome",
			},
			[]string{"status"},
		),
		CountersSweptTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "gatekeeper_counters_swept_total",
				Help: "Expired counters removed by the sweeper",
			},
		),

		AuditWritesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gatekeeper_audit_writes_total",
				Help: "Durable audit writes by outcome",
			},
			[]string{"status"},
		),
		AuditWriteDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "gatekeeper_audit_write_duration_seconds",
				Help:    "Durable audit write duration in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 5},
			},
		),
		AuditOverflowsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "gatekeeper_audit_queue_overflows_total",
				Help: "Audit writes that bypassed the full worker queue",
			},
		),

		RedisCommandsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gatekeeper_redis_commands_total",
				Help: "Total number of Redis commands",
			},
			[]string{"command", "status"},
		),
	}

	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.HTTPResponseSize,
		m.PipelineRequestsTotal,
		m.PipelineStageDuration,
		m.RateLimitDecisionsTotal,
		m.CooldownDecisionsTotal,
		m.CounterSweepsTotal,
		m.CountersSweptTotal,
		m.AuditWritesTotal,
		m.AuditWriteDuration,
		m.AuditOverflowsTotal,
		m.RedisCommandsTotal,
	)

	return m
}

// responseWriter wraps http.ResponseWriter to capture status code and size
type responseWriter struct {
	http.ResponseWriter
	statusCode   int
	bytesWritten int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	rw.bytesWritten += n
	return n, err
}

// routeLabel prefers the mux path template so ids never become label values
func routeLabel(r *http.Request) string {
	if route := mux.CurrentRoute(r); route != nil {
		if tpl, err := route.GetPathTemplate(); err == nil {
			return tpl
		}
	}
	return "unmatched"
}

// HTTPMetricsMiddleware instruments HTTP requests with Prometheus metrics
func HTTPMetricsMiddleware(metrics *Metrics) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			rw := &responseWriter{
				ResponseWriter: w,
				statusCode:     http.StatusOK,
			}

			next.ServeHTTP(rw, r)

			route := routeLabel(r)
			duration := time.Since(start).Seconds()
			status := strconv.Itoa(rw.statusCode)

			metrics.HTTPRequestsTotal.WithLabelValues(r.Method, route, status).Inc()
			metrics.HTTPRequestDuration.WithLabelValues(r.Method, route).Observe(duration)
			metrics.HTTPResponseSize.WithLabelValues(r.Method, route).Observe(float64(rw.bytesWritten))
		})
	}
}

// RegisterMetricsEndpoint registers the /metrics endpoint
func RegisterMetricsEndpoint(router *mux.Router, gatherer prometheus.Gatherer) {
	router.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)
}
