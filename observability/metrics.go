package observability

import (
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// TippingMetrics records the outcome of every settlement engine call.
type TippingMetrics struct {
	calls   *prometheus.CounterVec
	latency *prometheus.HistogramVec
}

type gatewayMetrics struct {
	requests  *prometheus.CounterVec
	errors    *prometheus.CounterVec
	latency   *prometheus.HistogramVec
	throttles *prometheus.CounterVec
	streams   prometheus.Gauge
}

var (
	tippingMetricsOnce sync.Once
	tippingRegistry    *TippingMetrics

	gatewayMetricsOnce sync.Once
	gatewayRegistry    *gatewayMetrics
)

// Tipping returns the lazily-initialised settlement engine metrics.
func Tipping() *TippingMetrics {
	tippingMetricsOnce.Do(func() {
		tippingRegistry = &TippingMetrics{
			calls: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "tip",
				Subsystem: "engine",
				Name:      "calls_total",
				Help:      "Settlement engine calls segmented by operation and outcome code.",
			}, []string{"operation", "outcome"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "tip",
				Subsystem: "engine",
				Name:      "call_duration_seconds",
				Help:      "Latency distribution for settlement engine calls.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"operation"}),
		}
		prometheus.MustRegister(tippingRegistry.calls, tippingRegistry.latency)
	})
	return tippingRegistry
}

// RecordOutcome satisfies tipping.Metrics.
func (m *TippingMetrics) RecordOutcome(operation, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	if operation == "" {
		operation = "unknown"
	}
	if outcome == "" {
		outcome = "unknown"
	}
	m.calls.WithLabelValues(operation, outcome).Inc()
	m.latency.WithLabelValues(operation).Observe(elapsed.Seconds())
}

// CallsVec exposes the outcome counter for tests.
func (m *TippingMetrics) CallsVec() *prometheus.CounterVec { return m.calls }

// Gateway returns the metrics registry for the HTTP API.
func Gateway() *gatewayMetrics {
	gatewayMetricsOnce.Do(func() {
		gatewayRegistry = &gatewayMetrics{
			requests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "tip",
				Subsystem: "gateway",
				Name:      "requests_total",
				Help:      "Total HTTP requests segmented by route and outcome.",
			}, []string{"route", "outcome"}),
			errors: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "tip",
				Subsystem: "gateway",
				Name:      "errors_total",
				Help:      "Total HTTP errors segmented by route and status code.",
			}, []string{"route", "status"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "tip",
				Subsystem: "gateway",
				Name:      "request_duration_seconds",
				Help:      "Latency distribution for HTTP handlers.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"route"}),
			throttles: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "tip",
				Subsystem: "gateway",
				Name:      "throttles_total",
				Help:      "Count of requests rejected by the gateway before reaching the engine.",
			}, []string{"reason"}),
			streams: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "tip",
				Subsystem: "gateway",
				Name:      "event_streams",
				Help:      "Open event stream subscriptions.",
			}),
		}
		prometheus.MustRegister(
			gatewayRegistry.requests,
			gatewayRegistry.errors,
			gatewayRegistry.latency,
			gatewayRegistry.throttles,
			gatewayRegistry.streams,
		)
	})
	return gatewayRegistry
}

// Observe records the outcome of a request. The status code should be the
// HTTP status that was ultimately written to the response writer.
func (m *gatewayMetrics) Observe(route string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	if route == "" {
		route = "unknown"
	}
	outcome := "success"
	if status >= 400 {
		outcome = "error"
		m.errors.WithLabelValues(route, fmt.Sprintf("%d", status)).Inc()
	}
	m.requests.WithLabelValues(route, outcome).Inc()
	m.latency.WithLabelValues(route).Observe(duration.Seconds())
}

// RecordThrottle increments the throttle counter. Reasons should be stable
// strings such as "rate_limit" or "auth".
func (m *gatewayMetrics) RecordThrottle(reason string) {
	if m == nil {
		return
	}
	if reason == "" {
		reason = "unspecified"
	}
	m.throttles.WithLabelValues(reason).Inc()
}

// StreamOpened tracks a new event stream subscriber.
func (m *gatewayMetrics) StreamOpened() {
	if m != nil {
		m.streams.Inc()
	}
}

// StreamClosed tracks a finished event stream subscriber.
func (m *gatewayMetrics) StreamClosed() {
	if m != nil {
		m.streams.Dec()
	}
}

// ThrottlesVec exposes the throttle counter for tests.
func (m *gatewayMetrics) ThrottlesVec() *prometheus.CounterVec { return m.throttles }
