package scenestore

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics records scene store activity. A nil *Metrics is valid and records
// nothing.
type Metrics struct {
	operations    *prometheus.CounterVec
	lockWait      prometheus.Histogram
	writeDuration prometheus.Histogram
	writtenBytes  prometheus.Gauge
}

// NewMetrics registers the scene store collectors on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		operations: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "sceneplus_store_operations_total",
			Help: "Scene store mutations by operation and result",
		}, []string{"operation", "result"}),
		lockWait: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "sceneplus_store_lock_wait_seconds",
			Help:    "Time spent waiting for the scenes document lock",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 30},
		}),
		writeDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "sceneplus_store_write_duration_seconds",
			Help:    "Time to atomically replace the scenes document",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		}),
		writtenBytes: factory.NewGauge(prometheus.GaugeOpts{
			Name: "sceneplus_store_document_bytes",
			Help: "Size of the most recently written scenes document",
		}),
	}
}

func (m *Metrics) observeOutcome(operation string, out Outcome) {
	if m == nil {
		return
	}
	result := "succeeded"
	switch {
	case out.NotFound:
		result = "not_found"
	case !out.Success:
		result = "failed"
	}
	m.operations.WithLabelValues(operation, result).Inc()
}

func (m *Metrics) observeLockWait(d time.Duration) {
	if m == nil {
		return
	}
	m.lockWait.Observe(d.Seconds())
}

func (m *Metrics) observeWrite(d time.Duration, size int) {
	if m == nil {
		return
	}
	m.writeDuration.Observe(d.Seconds())
	m.writtenBytes.Set(float64(size))
}
