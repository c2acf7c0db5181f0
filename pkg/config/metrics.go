package config

import (
	"github.com/pheyse/FileSystemFacade-sub001/pkg/metrics"
	promMetrics "github.com/pheyse/FileSystemFacade-sub001/pkg/metrics/prometheus"
)

// MetricsResult contains all metrics-related components created from configuration.
type MetricsResult struct {
	// Server is the HTTP server exposing Prometheus metrics (nil if disabled)
	Server *metrics.Server

	// FSMetrics is shared by every metrics decorator (never nil)
	FSMetrics metrics.FSMetrics

	// RemoteMetrics is used by the responder and socket server (never nil)
	RemoteMetrics metrics.RemoteMetrics
}

// InitializeMetrics creates and initializes all metrics components based on configuration.
//
// If metrics are disabled, no-op implementations are returned and Server
// is nil. Collectors are registered once, so call this once per process.
func InitializeMetrics(cfg *Config) *MetricsResult {
	if !cfg.Metrics.Enabled {
		return &MetricsResult{
			FSMetrics:     metrics.NewNoopFSMetrics(),
			RemoteMetrics: metrics.NewNoopRemoteMetrics(),
		}
	}

	metrics.InitRegistry()

	return &MetricsResult{
		Server:        metrics.NewServer(metrics.ServerConfig{Listen: cfg.Metrics.Listen}),
		FSMetrics:     promMetrics.NewFSMetrics(),
		RemoteMetrics: promMetrics.NewRemoteMetrics(),
	}
}
