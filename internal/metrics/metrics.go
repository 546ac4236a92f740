// Package metrics exposes spanz and demo-route metrics to Prometheus.
//
// Metrics are registered on a private registry rather than the global one,
// so several instances can coexist in one process (tests, embedded use).
// Span metrics are fed by a completion handler on the store; the active span
// gauge and the persistence counters are read from the store at scrape time.
//
// Usage:
//
//	m := metrics.New(store)
//	router.Use(m.Middleware())
//	router.GET("/metrics", gin.WrapH(m.Handler()))
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/zoobzio/spanz"
)

// Namespace prefixes span and HTTP metric names.
const Namespace = "spanz"

// Metrics holds all Prometheus metrics.
type Metrics struct {
	registry *prometheus.Registry

	// HTTP metrics
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec

	// Span metrics
	SpansFinished *prometheus.CounterVec
	SpanDuration  *prometheus.HistogramVec

	// Demo metrics
	BonjourRequests     prometheus.Counter
	BonjourResponseTime prometheus.Histogram
	CustomValue         prometheus.Gauge
	CustomCount         *prometheus.CounterVec

	handlerID uint64
	store     *spanz.Store
}

// New creates the metrics and subscribes them to store.
// Call Close to unsubscribe.
func New(store *spanz.Store) *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	m := &Metrics{
		registry: reg,
		store:    store,

		RequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		RequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: Namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
			},
			[]string{"method", "path"},
		),

		SpansFinished: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Name:      "spans_finished_total",
				Help:      "Total number of finished spans",
			},
			[]string{"operation", "errored"},
		),
		SpanDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: Namespace,
				Name:      "span_duration_seconds",
				Help:      "Finished span duration in seconds",
				Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
			},
			[]string{"operation"},
		),

		BonjourRequests: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "bonjour_requests_total",
				Help: "Total number of bonjour requests",
			},
		),
		BonjourResponseTime: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "bonjour_response_time_seconds",
				Help:    "Bonjour request response time in seconds",
				Buckets: []float64{.01, .025, .05, .1, .15, .2, .25, .5, 1},
			},
		),
		CustomValue: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "custom_operation_value",
				Help: "Last value recorded through the custom metric endpoint",
			},
		),
		CustomCount: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "custom_operation_count",
				Help: "Number of custom metric recordings per operation",
			},
			[]string{"operation"},
		),
	}

	factory.NewGaugeFunc(
		prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "spans_active",
			Help:      "Number of started but unfinished spans",
		},
		func() float64 { return float64(store.CountActive()) },
	)
	factory.NewCounterFunc(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "persist_failures_total",
			Help:      "Total number of finished spans the journal failed to write",
		},
		func() float64 { return float64(store.PersistFailures()) },
	)
	factory.NewCounterFunc(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "dropped_notifications_total",
			Help:      "Total number of async span notifications dropped by a full worker queue",
		},
		func() float64 { return float64(store.DroppedNotifications()) },
	)

	m.handlerID = store.OnSpanComplete(m.recordSpan)
	return m
}

func (m *Metrics) recordSpan(span spanz.Span) {
	m.SpansFinished.WithLabelValues(span.Name, strconv.FormatBool(span.Errored)).Inc()
	m.SpanDuration.WithLabelValues(span.Name).Observe(span.Duration.Seconds())
}

// Close unsubscribes from the store.
func (m *Metrics) Close() {
	m.store.RemoveHandler(m.handlerID)
}

// Registry returns the registry holding every metric.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// RecordHTTPRequest records an HTTP request.
func (m *Metrics) RecordHTTPRequest(method, path, status string, duration time.Duration) {
	m.RequestsTotal.WithLabelValues(method, path, status).Inc()
	m.RequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// RecordBonjour records one bonjour request and its response time.
func (m *Metrics) RecordBonjour(duration time.Duration) {
	m.BonjourRequests.Inc()
	m.BonjourResponseTime.Observe(duration.Seconds())
}

// RecordCustom sets the custom value gauge and counts the operation.
func (m *Metrics) RecordCustom(operation string, value float64) {
	m.CustomValue.Set(value)
	m.CustomCount.WithLabelValues(operation).Inc()
}

// Middleware creates a Gin middleware for request metrics.
// Requests are labeled with the route pattern, not the raw path.
func (m *Metrics) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		status := strconv.Itoa(c.Writer.Status())
		m.RecordHTTPRequest(c.Request.Method, path, status, time.Since(start))
	}
}
