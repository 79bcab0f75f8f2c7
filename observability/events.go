package observability

import (
	"math/big"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"tipsettle/core/events"
)

// EventMetrics counts emitted events and settled volume. It satisfies
// events.Emitter so it can sit in the daemon's fanout.
type EventMetrics struct {
	emitted *prometheus.CounterVec
	volume  prometheus.Counter
}

var (
	eventMetricsOnce sync.Once
	eventRegistry    *EventMetrics
)

// Events returns the metrics registry tracking structured settlement events.
func Events() *EventMetrics {
	eventMetricsOnce.Do(func() {
		eventRegistry = &EventMetrics{
			emitted: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "tip",
				Subsystem: "events",
				Name:      "emitted_total",
				Help:      "Count of committed events segmented by type.",
			}, []string{"type"}),
			volume: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "tip",
				Subsystem: "events",
				Name:      "settled_volume",
				Help:      "Sum of settled tip amounts in base units (float approximation).",
			}),
		}
		prometheus.MustRegister(eventRegistry.emitted, eventRegistry.volume)
	})
	return eventRegistry
}

// Emit implements events.Emitter.
func (m *EventMetrics) Emit(evt events.Event) {
	if m == nil || evt == nil {
		return
	}
	m.emitted.WithLabelValues(evt.EventType()).Inc()
	if settled, ok := evt.(events.TipSettled); ok && settled.Amount != nil {
		amount, _ := new(big.Float).SetInt(settled.Amount.ToBig()).Float64()
		m.volume.Add(amount)
	}
}

// EmittedVec exposes the per-type counter for tests.
func (m *EventMetrics) EmittedVec() *prometheus.CounterVec { return m.emitted }
