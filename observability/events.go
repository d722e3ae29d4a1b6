package observability

import (
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"moneymarket/core/events"
)

type eventMetrics struct {
	actions   *prometheus.CounterVec
	transfers *prometheus.CounterVec
	feeBurns  *prometheus.CounterVec
	height    prometheus.Gauge
}

var (
	eventMetricsOnce sync.Once
	eventRegistry    *eventMetrics
)

// Events returns the metrics registry tracking committed protocol events. The
// registry is an events.Emitter and is meant to sit in the node sink fanout.
func Events() *eventMetrics {
	eventMetricsOnce.Do(func() {
		eventRegistry = &eventMetrics{
			actions: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "lending",
				Subsystem: "events",
				Name:      "emitted_total",
				Help:      "Count of committed protocol events segmented by type.",
			}, []string{"type"}),
			transfers: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "lending",
				Subsystem: "events",
				Name:      "transfers_total",
				Help:      "Count of underlying transfers segmented by asset.",
			}, []string{"asset"}),
			feeBurns: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "lending",
				Subsystem: "events",
				Name:      "transfer_fee_burns_total",
				Help:      "Count of transfers that burned a fee, segmented by asset.",
			}, []string{"asset"}),
			height: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "lending",
				Subsystem: "events",
				Name:      "block_height",
				Help:      "Height of the last committed block.",
			}),
		}
		prometheus.MustRegister(
			eventRegistry.actions,
			eventRegistry.transfers,
			eventRegistry.feeBurns,
			eventRegistry.height,
		)
	})
	return eventRegistry
}

// Emit implements events.Emitter.
func (m *eventMetrics) Emit(evt events.Event) {
	if m == nil || evt == nil {
		return
	}
	m.actions.WithLabelValues(evt.EventType()).Inc()
	switch e := evt.(type) {
	case events.Transfer:
		m.RecordTransfer(e.Asset)
		if e.Fee != nil && !e.Fee.IsZero() {
			m.feeBurns.WithLabelValues(normalizeAsset(e.Asset)).Inc()
		}
	case events.Block:
		m.height.Set(float64(e.Height))
	}
}

// RecordTransfer increments the transfer counter for the supplied asset ticker.
func (m *eventMetrics) RecordTransfer(asset string) {
	if m == nil {
		return
	}
	m.transfers.WithLabelValues(normalizeAsset(asset)).Inc()
}

func normalizeAsset(asset string) string {
	normalized := strings.TrimSpace(strings.ToUpper(asset))
	if normalized == "" {
		normalized = "UNKNOWN"
	}
	return normalized
}
