// Package telemetry provides Prometheus metrics and OpenTelemetry tracing
// for the gateway and the worker.
package telemetry

import (
	"math"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Per-message outcome labels for processor_events_total. Duplicates count
// as success: the message reached its terminal state without data loss.
const (
	ResultSuccess = "success"
	ResultRetry   = "retry"
	ResultDLQ     = "dlq"
)

// Metrics holds every pipeline metric behind a private registry, so tests
// can create isolated instances without global collector collisions.
type Metrics struct {
	registry *prometheus.Registry

	gatewayRequests        *prometheus.CounterVec
	gatewayRequestDuration prometheus.Histogram
	processorEvents        *prometheus.CounterVec
	dlqEvents              prometheus.Counter

	freshness prometheus.Histogram

	// lagBits carries the last observed lag as float64 bits so the gauge
	// callback can read it without a lock.
	lagBits atomic.Uint64
}

// NewMetrics creates and registers all pipeline metrics.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	m := &Metrics{registry: registry}

	m.gatewayRequests = factory.NewCounterVec(prometheus.CounterOpts{
		Name: "gateway_requests_total",
		Help: "Ingestion requests by terminal HTTP status.",
	}, []string{"status"})

	m.gatewayRequestDuration = factory.NewHistogram(prometheus.HistogramOpts{
		Name:    "gateway_request_duration_ms",
		Help:    "Ingestion request latency in milliseconds.",
		Buckets: prometheus.ExponentialBuckets(1, 2, 12), // 1ms .. ~2s
	})

	m.processorEvents = factory.NewCounterVec(prometheus.CounterOpts{
		Name: "processor_events_total",
		Help: "Worker messages by terminal outcome.",
	}, []string{"result"})

	m.dlqEvents = factory.NewCounter(prometheus.CounterOpts{
		Name: "dlq_events_total",
		Help: "Messages routed to the dead-letter table.",
	})

	factory.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "processor_lag_seconds",
		Help: "Event-time lag observed at the last successful persist.",
	}, func() float64 {
		return math.Float64frombits(m.lagBits.Load())
	})

	m.freshness = factory.NewHistogram(prometheus.HistogramOpts{
		Name:    "end_to_end_freshness_seconds",
		Help:    "Time from gateway receipt to persist.",
		Buckets: prometheus.ExponentialBuckets(0.01, 2, 14), // 10ms .. ~2.5min
	})

	return m
}

// Handler serves the registry in the Prometheus text exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveRequest records one terminal gateway outcome.
func (m *Metrics) ObserveRequest(status int, elapsed time.Duration) {
	m.gatewayRequests.WithLabelValues(strconv.Itoa(status)).Inc()
	m.gatewayRequestDuration.Observe(float64(elapsed.Milliseconds()))
}

// ObserveOutcome records one terminal per-message worker outcome.
func (m *Metrics) ObserveOutcome(result string) {
	m.processorEvents.WithLabelValues(result).Inc()

	if result == ResultDLQ {
		m.dlqEvents.Inc()
	}
}

// ObservePersist records lag and freshness at the moment of a successful
// persist. Negative inputs from clock skew clamp to zero.
func (m *Metrics) ObservePersist(lag, freshness time.Duration) {
	m.lagBits.Store(math.Float64bits(max(lag.Seconds(), 0)))
	m.freshness.Observe(max(freshness.Seconds(), 0))
}
