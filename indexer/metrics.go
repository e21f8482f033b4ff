package indexer

import (
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/atomic"
)

// Metrics holds the indexer's exposed counters/gauges. The prometheus
// objects are registered against a private registry (never the default
// one) so more than one Service can run in the same process — each test
// and each indexer flavor gets its own. The atomic mirrors are the values
// the health endpoint actually reads; Gather()-ing a prometheus registry
// just for a status line is unnecessary ceremony.
type Metrics struct {
	registry         *prometheus.Registry
	batchesProcessed prometheus.Counter
	ticksProcessed   prometheus.Counter
	isHealthy        prometheus.Gauge

	batchesCount atomic.Uint64
	ticksCount   atomic.Uint64
	healthy      atomic.Bool
}

// NewMetrics builds a fresh, registered Metrics instance.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		batchesProcessed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "evochora_indexer_batches_processed_total",
			Help: "Batch messages fully drained and acknowledged.",
		}),
		ticksProcessed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "evochora_indexer_ticks_processed_total",
			Help: "Ticks flushed to the query store.",
		}),
		isHealthy: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "evochora_indexer_is_healthy",
			Help: "1 while the indexer's state machine is in the running state, 0 otherwise.",
		}),
	}
	m.registry.MustRegister(m.batchesProcessed, m.ticksProcessed, m.isHealthy)
	return m
}

// Registry exposes the private registry so cmd/ can mount a promhttp
// handler in front of it; the indexer package itself never imports
// net/http.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

func (m *Metrics) IncBatchesProcessed() {
	m.batchesProcessed.Inc()
	m.batchesCount.Inc()
}

func (m *Metrics) AddTicksProcessed(n int) {
	if n <= 0 {
		return
	}
	m.ticksProcessed.Add(float64(n))
	m.ticksCount.Add(uint64(n))
}

func (m *Metrics) SetHealthy(v bool) {
	m.healthy.Store(v)
	if v {
		m.isHealthy.Set(1)
	} else {
		m.isHealthy.Set(0)
	}
}

// Snapshot returns the current counters for the health endpoint.
func (m *Metrics) Snapshot() (batchesProcessed, ticksProcessed uint64, healthy bool) {
	return m.batchesCount.Load(), m.ticksCount.Load(), m.healthy.Load()
}
