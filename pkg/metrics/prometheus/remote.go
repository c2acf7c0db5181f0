package prometheus

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/pheyse/FileSystemFacade-sub001/pkg/metrics"
)

// remoteMetrics is the Prometheus implementation of metrics.RemoteMetrics.
type remoteMetrics struct {
	requestsTotal       *prometheus.CounterVec
	requestDuration     *prometheus.HistogramVec
	activeConnections   prometheus.Gauge
	connectionsAccepted prometheus.Counter
	connectionsClosed   prometheus.Counter
	rateLimited         prometheus.Counter
}

// NewRemoteMetrics creates a Prometheus-backed RemoteMetrics on the global
// registry, or a no-op implementation when metrics are disabled.
func NewRemoteMetrics() metrics.RemoteMetrics {
	if !metrics.IsEnabled() {
		return metrics.NewNoopRemoteMetrics()
	}
	return NewRemoteMetricsWith(metrics.GetRegistry())
}

// NewRemoteMetricsWith registers the remote server metrics on reg.
func NewRemoteMetricsWith(reg prometheus.Registerer) metrics.RemoteMetrics {
	return &remoteMetrics{
		requestsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "fsfacade_remote_requests_total",
				Help: "Total number of remote requests by operation and outcome",
			},
			[]string{"operation", "outcome"},
		),
		requestDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Name: "fsfacade_remote_request_duration_milliseconds",
				Help: "Duration of remote requests in milliseconds",
				Buckets: []float64{
					1,     // 1ms
					10,    // 10ms
					100,   // 100ms
					1000,  // 1s
					10000, // 10s
				},
			},
			[]string{"operation"},
		),
		activeConnections: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Name: "fsfacade_remote_active_connections",
				Help: "Current number of open remote connections",
			},
		),
		connectionsAccepted: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "fsfacade_remote_connections_accepted_total",
				Help: "Total number of remote connections accepted",
			},
		),
		connectionsClosed: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "fsfacade_remote_connections_closed_total",
				Help: "Total number of remote connections closed",
			},
		),
		rateLimited: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "fsfacade_remote_rate_limited_total",
				Help: "Total number of connections rejected by the rate limiter",
			},
		),
	}
}

func (m *remoteMetrics) RecordRequest(operation, outcome string, duration time.Duration) {
	m.requestsTotal.WithLabelValues(operation, outcome).Inc()
	m.requestDuration.WithLabelValues(operation).Observe(duration.Seconds() * 1000)
}

func (m *remoteMetrics) RecordConnectionAccepted() { m.connectionsAccepted.Inc() }
func (m *remoteMetrics) RecordConnectionClosed()   { m.connectionsClosed.Inc() }
func (m *remoteMetrics) RecordRateLimited()        { m.rateLimited.Inc() }

func (m *remoteMetrics) SetActiveConnections(count int32) {
	m.activeConnections.Set(float64(count))
}
