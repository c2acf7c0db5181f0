// Package prometheus holds the Prometheus-backed implementations of the
// metrics interfaces.
package prometheus

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/pheyse/FileSystemFacade-sub001/pkg/metrics"
	"github.com/pheyse/FileSystemFacade-sub001/pkg/vfs"
)

// fsMetrics is the Prometheus implementation of metrics.FSMetrics.
type fsMetrics struct {
	operationsTotal   *prometheus.CounterVec
	operationDuration *prometheus.HistogramVec
	errorsTotal       *prometheus.CounterVec
	bytesTransferred  *prometheus.CounterVec
}

// NewFSMetrics creates a Prometheus-backed FSMetrics on the global registry.
//
// Returns a no-op implementation if metrics are not enabled (InitRegistry
// not called).
func NewFSMetrics() metrics.FSMetrics {
	if !metrics.IsEnabled() {
		return metrics.NewNoopFSMetrics()
	}
	return NewFSMetricsWith(metrics.GetRegistry())
}

// NewFSMetricsWith registers the filesystem metrics on reg.
func NewFSMetricsWith(reg prometheus.Registerer) metrics.FSMetrics {
	return &fsMetrics{
		operationsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "fsfacade_operations_total",
				Help: "Total number of filesystem operations by filesystem, operation and status",
			},
			[]string{"fs", "operation", "status"},
		),
		operationDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Name: "fsfacade_operation_duration_seconds",
				Help: "Duration of filesystem operations in seconds",
				Buckets: []float64{
					0.0001, // 100µs
					0.001,  // 1ms
					0.01,   // 10ms
					0.1,    // 100ms
					1.0,    // 1s
					10.0,   // 10s
				},
			},
			[]string{"fs", "operation"},
		),
		errorsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "fsfacade_errors_total",
				Help: "Total number of failed filesystem operations by error category",
			},
			[]string{"fs", "operation", "code"},
		),
		bytesTransferred: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "fsfacade_bytes_total",
				Help: "Total content bytes read or written",
			},
			[]string{"fs", "direction"},
		),
	}
}

func (m *fsMetrics) ObserveOperation(fs, operation string, duration time.Duration, err error) {
	status := "success"
	if err != nil {
		status = "error"
		m.errorsTotal.WithLabelValues(fs, operation, vfs.CodeOf(err).String()).Inc()
	}
	m.operationsTotal.WithLabelValues(fs, operation, status).Inc()
	m.operationDuration.WithLabelValues(fs, operation).Observe(duration.Seconds())
}

func (m *fsMetrics) RecordBytes(fs, direction string, bytes int64) {
	m.bytesTransferred.WithLabelValues(fs, direction).Add(float64(bytes))
}
