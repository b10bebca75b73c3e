// Package metrics exposes Prometheus collectors for the connection pools and
// service operations. Collectors are registered once by InitMetrics; every
// Record call is a no-op until then, so library users who never enable
// metrics pay nothing.
package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Pool metrics
	poolAcquireTotal   *prometheus.CounterVec
	poolAcquireWait    *prometheus.HistogramVec
	poolInUse          *prometheus.GaugeVec
	poolDiscardedTotal *prometheus.CounterVec

	// Operation metrics
	operationTotal    *prometheus.CounterVec
	operationDuration *prometheus.HistogramVec
	batchItemsTotal   *prometheus.CounterVec
	cacheRequestTotal *prometheus.CounterVec

	// Registration guard
	metricsOnce       sync.Once
	metricsRegistered bool
)

// Recorder provides methods to record pool and operation metrics.
type Recorder struct{}

// NewRecorder creates a new Recorder.
func NewRecorder() *Recorder {
	return &Recorder{}
}

// InitMetrics registers all collectors with the default registry.
// Safe to call more than once.
func InitMetrics() {
	metricsOnce.Do(func() {
		poolAcquireTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dsstore_pool_acquire_total",
				Help: "Total number of connection acquisitions by outcome",
			},
			[]string{"pool", "outcome"},
		)

		poolAcquireWait = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "dsstore_pool_acquire_wait_seconds",
				Help:    "Time spent waiting for a pooled connection",
				Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
			},
			[]string{"pool"},
		)

		poolInUse = promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "dsstore_pool_in_use",
				Help: "Connections currently borrowed",
			},
			[]string{"pool"},
		)

		poolDiscardedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dsstore_pool_discarded_total",
				Help: "Connections closed because they failed a liveness check or broke mid-call",
			},
			[]string{"pool", "reason"},
		)

		operationTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dsstore_operations_total",
				Help: "Total number of service operations by outcome",
			},
			[]string{"store", "operation", "outcome"},
		)

		operationDuration = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "dsstore_operation_duration_seconds",
				Help:    "Duration of service operations in seconds",
				Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
			},
			[]string{"store", "operation"},
		)

		batchItemsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dsstore_batch_items_total",
				Help: "Items processed by batch operations by outcome",
			},
			[]string{"store", "operation", "outcome"},
		)

		cacheRequestTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dsstore_cache_requests_total",
				Help: "Payload cache lookups by result",
			},
			[]string{"store", "result"},
		)

		metricsRegistered = true
	})
}

// Handler serves the default registry for a /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordAcquire records one acquisition attempt. outcome is "ok", "timeout"
// or "error".
func (m *Recorder) RecordAcquire(pool, outcome string, waitSeconds float64) {
	if !metricsRegistered {
		return
	}
	if poolAcquireTotal != nil {
		poolAcquireTotal.WithLabelValues(pool, outcome).Inc()
	}
	if poolAcquireWait != nil {
		poolAcquireWait.WithLabelValues(pool).Observe(waitSeconds)
	}
}

// SetInUse records the current number of borrowed connections.
func (m *Recorder) SetInUse(pool string, n int64) {
	if !metricsRegistered || poolInUse == nil {
		return
	}
	poolInUse.WithLabelValues(pool).Set(float64(n))
}

// RecordDiscard records a connection dropped from the pool.
func (m *Recorder) RecordDiscard(pool, reason string) {
	if !metricsRegistered || poolDiscardedTotal == nil {
		return
	}
	poolDiscardedTotal.WithLabelValues(pool, reason).Inc()
}

// RecordOperation records one completed service call.
func (m *Recorder) RecordOperation(store, operation, outcome string, durationSeconds float64) {
	if !metricsRegistered {
		return
	}
	if operationTotal != nil {
		operationTotal.WithLabelValues(store, operation, outcome).Inc()
	}
	if operationDuration != nil {
		operationDuration.WithLabelValues(store, operation).Observe(durationSeconds)
	}
}

// RecordBatch records per-item outcomes of one batch call.
func (m *Recorder) RecordBatch(store, operation string, succeeded, failed int) {
	if !metricsRegistered || batchItemsTotal == nil {
		return
	}
	batchItemsTotal.WithLabelValues(store, operation, "success").Add(float64(succeeded))
	batchItemsTotal.WithLabelValues(store, operation, "failure").Add(float64(failed))
}

// RecordCache records a cache hit or miss.
func (m *Recorder) RecordCache(store string, hit bool) {
	if !metricsRegistered || cacheRequestTotal == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	cacheRequestTotal.WithLabelValues(store, result).Inc()
}

// GetPoolAcquireTotal returns the acquisition counter for testing.
func GetPoolAcquireTotal() *prometheus.CounterVec {
	return poolAcquireTotal
}

// GetOperationTotal returns the operation counter for testing.
func GetOperationTotal() *prometheus.CounterVec {
	return operationTotal
}

// GetBatchItemsTotal returns the batch item counter for testing.
func GetBatchItemsTotal() *prometheus.CounterVec {
	return batchItemsTotal
}

// IsMetricsRegistered returns whether metrics have been initialized.
func IsMetricsRegistered() bool {
	return metricsRegistered
}
