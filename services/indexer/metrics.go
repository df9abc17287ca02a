package indexer

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exposes Prometheus collectors for reconciler instrumentation.
type Metrics struct {
	processed *prometheus.CounterVec
	malformed prometheus.Counter
	batches   prometheus.Counter
	cursor    prometheus.Gauge
}

var (
	metricsOnce     sync.Once
	metricsRegistry *Metrics
)

// NewMetrics returns the lazily initialised metrics registry.
func NewMetrics() *Metrics {
	metricsOnce.Do(func() {
		metricsRegistry = &Metrics{
			processed: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "tipvault",
				Subsystem: "indexer",
				Name:      "events_processed_total",
				Help:      "Total ledger events applied to the cache, segmented by event type.",
			}, []string{"type"}),
			malformed: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "tipvault",
				Subsystem: "indexer",
				Name:      "malformed_events_total",
				Help:      "Count of events quarantined because they could not be parsed.",
			}),
			batches: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "tipvault",
				Subsystem: "indexer",
				Name:      "batches_total",
				Help:      "Count of committed sync batches.",
			}),
			cursor: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "tipvault",
				Subsystem: "indexer",
				Name:      "cursor",
				Help:      "Last durably processed ledger sequence number.",
			}),
		}
		prometheus.MustRegister(
			metricsRegistry.processed,
			metricsRegistry.malformed,
			metricsRegistry.batches,
			metricsRegistry.cursor,
		)
	})
	return metricsRegistry
}

func (m *Metrics) observeProcessed(eventType string) {
	if m == nil {
		return
	}
	m.processed.WithLabelValues(eventType).Inc()
}

func (m *Metrics) observeMalformed() {
	if m == nil {
		return
	}
	m.malformed.Inc()
}

func (m *Metrics) observeBatch(cursor uint64) {
	if m == nil {
		return
	}
	m.batches.Inc()
	m.cursor.Set(float64(cursor))
}
