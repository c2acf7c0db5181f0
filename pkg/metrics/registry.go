// Package metrics defines the metric interfaces recorded by filesystem
// stacks and the remote server, plus the process-wide registry they are
// exported through.
//
// Metrics are opt-in. Until InitRegistry runs, the Prometheus
// constructors hand back no-op recorders:
//
//	metrics.InitRegistry()
//	fs := metered.New(backend, prometheus.NewFSMetrics())
//
//	// disabled
//	fs := metered.New(backend, nil)
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

var (
	registry     *prometheus.Registry
	registryOnce sync.Once
)

// InitRegistry creates the global registry with the Go runtime and process
// collectors attached. Later calls are no-ops.
func InitRegistry() {
	registryOnce.Do(func() {
		r := prometheus.NewRegistry()
		r.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		registry = r
	})
}

// GetRegistry returns the global registry, nil while metrics are disabled.
func GetRegistry() *prometheus.Registry {
	return registry
}

// IsEnabled reports whether InitRegistry has run.
func IsEnabled() bool {
	return GetRegistry() != nil
}
