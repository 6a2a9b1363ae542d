// Package metrics exposes Prometheus collectors for the gateway. All
// record functions are nil-safe so code paths work before InitPrometheus
// runs (tests, tooling).
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// PrometheusMetrics wraps prometheus collectors for gateway metrics
type PrometheusMetrics struct {
	registry *prometheus.Registry

	// Counters
	admissionTotal  *prometheus.CounterVec
	retriesTotal    *prometheus.CounterVec
	eventsDropped   prometheus.Counter
	toolCallsTotal  *prometheus.CounterVec
	tenantCacheOps  *prometheus.CounterVec

	// Histograms
	requestDuration *prometheus.HistogramVec
	backendDuration *prometheus.HistogramVec

	// Gauges
	activeRequests prometheus.Gauge
	activeSessions prometheus.Gauge
	bucketCount    prometheus.Gauge
	uptime         prometheus.GaugeFunc
}

// Default histogram buckets for request duration (in milliseconds)
var defaultBuckets = []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000}

var promMetrics *PrometheusMetrics

var startTime = time.Now()

// InitPrometheus initializes the Prometheus metrics subsystem
func InitPrometheus(namespace string, buckets []float64) {
	if len(buckets) == 0 {
		buckets = defaultBuckets
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(prometheus.NewGoCollector())
	registry.MustRegister(prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))

	pm := &PrometheusMetrics{
		registry: registry,

		admissionTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "admission_total",
				Help:      "Admission decisions by service, result and reason",
			},
			[]string{"service", "result", "reason"},
		),

		retriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "retries_total",
				Help:      "Backend retry attempts by service",
			},
			[]string{"service"},
		),

		eventsDropped: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "events_dropped_total",
				Help:      "Audit events dropped due to queue overflow or publish failure",
			},
		),

		toolCallsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "tool_calls_total",
				Help:      "Tool invocations by tool name and outcome",
			},
			[]string{"tool", "outcome"},
		),

		tenantCacheOps: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "tenant_cache_ops_total",
				Help:      "Tenant directory cache operations by result",
			},
			[]string{"result"}, // hit, miss, error
		),

		requestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "request_duration_milliseconds",
				Help:      "End-to-end request duration in milliseconds",
				Buckets:   buckets,
			},
			[]string{"service", "outcome"},
		),

		backendDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "backend_duration_milliseconds",
				Help:      "Backend call duration in milliseconds, per attempt",
				Buckets:   buckets,
			},
			[]string{"service", "action"},
		),

		activeRequests: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "active_requests",
				Help:      "Number of currently in-flight requests",
			},
		),

		activeSessions: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "active_sessions",
				Help:      "Number of live tenant sessions",
			},
		),

		bucketCount: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "rate_limit_buckets",
				Help:      "Number of live token buckets across all shards",
			},
		),
	}

	pm.uptime = prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "uptime_seconds",
			Help:      "Time since the gateway started",
		},
		func() float64 {
			return time.Since(startTime).Seconds()
		},
	)

	registry.MustRegister(
		pm.admissionTotal,
		pm.retriesTotal,
		pm.eventsDropped,
		pm.toolCallsTotal,
		pm.tenantCacheOps,
		pm.requestDuration,
		pm.backendDuration,
		pm.activeRequests,
		pm.activeSessions,
		pm.bucketCount,
		pm.uptime,
	)

	promMetrics = pm
}

// Handler returns the HTTP handler for the /metrics endpoint
func Handler() http.Handler {
	if promMetrics == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(promMetrics.registry, promhttp.HandlerOpts{})
}

// AdmissionObserved records an admission decision
func AdmissionObserved(service, result, reason string) {
	if promMetrics == nil {
		return
	}
	promMetrics.admissionTotal.WithLabelValues(service, result, reason).Inc()
}

// RetryObserved records a backend retry attempt
func RetryObserved(service string) {
	if promMetrics == nil {
		return
	}
	promMetrics.retriesTotal.WithLabelValues(service).Inc()
}

// AuditDropped records an audit event lost to overflow or publish failure
func AuditDropped() {
	if promMetrics == nil {
		return
	}
	promMetrics.eventsDropped.Inc()
}

// ToolCallObserved records a tool invocation outcome
func ToolCallObserved(tool, outcome string) {
	if promMetrics == nil {
		return
	}
	promMetrics.toolCallsTotal.WithLabelValues(tool, outcome).Inc()
}

// TenantCacheObserved records a tenant cache lookup result
func TenantCacheObserved(result string) {
	if promMetrics == nil {
		return
	}
	promMetrics.tenantCacheOps.WithLabelValues(result).Inc()
}

// RequestDurationObserved records end-to-end request duration
func RequestDurationObserved(service, outcome string, durationMs float64) {
	if promMetrics == nil {
		return
	}
	promMetrics.requestDuration.WithLabelValues(service, outcome).Observe(durationMs)
}

// BackendDurationObserved records a single backend attempt duration
func BackendDurationObserved(service, action string, durationMs float64) {
	if promMetrics == nil {
		return
	}
	promMetrics.backendDuration.WithLabelValues(service, action).Observe(durationMs)
}

// IncActiveRequests increments the in-flight request gauge
func IncActiveRequests() {
	if promMetrics == nil {
		return
	}
	promMetrics.activeRequests.Inc()
}

// DecActiveRequests decrements the in-flight request gauge
func DecActiveRequests() {
	if promMetrics == nil {
		return
	}
	promMetrics.activeRequests.Dec()
}

// SetActiveSessions sets the live session gauge
func SetActiveSessions(n int) {
	if promMetrics == nil {
		return
	}
	promMetrics.activeSessions.Set(float64(n))
}

// SetBucketCount sets the live token bucket gauge
func SetBucketCount(n int) {
	if promMetrics == nil {
		return
	}
	promMetrics.bucketCount.Set(float64(n))
}
