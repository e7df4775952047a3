package vectorindex

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// openHandles tracks handles held by providers, by backend.
	openHandles = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "lexrag",
			Subsystem: "vectorindex",
			Name:      "open_handles",
			Help:      "Number of open per-client index handles",
		},
		[]string{"backend"},
	)

	// operationDuration tracks index operation latency.
	// Labels: operation (upsert, replace, delete_source, search), backend
	operationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "lexrag",
			Subsystem: "vectorindex",
			Name:      "operation_duration_seconds",
			Help:      "Duration of vector index operations in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"operation", "backend"},
	)

	// corruptDetected counts handles marked corrupt.
	corruptDetected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "lexrag",
			Subsystem: "vectorindex",
			Name:      "corrupt_detected_total",
			Help:      "Total number of indexes marked corrupt (dimension mismatch or namespace violation)",
		},
		[]string{"backend"},
	)
)

func observe(op, backend string, start time.Time) {
	operationDuration.WithLabelValues(op, backend).Observe(time.Since(start).Seconds())
}
