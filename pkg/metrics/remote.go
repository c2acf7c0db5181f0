package metrics

import "time"

// RemoteMetrics provides observability for the remote protocol server.
type RemoteMetrics interface {
	// RecordRequest records a handled request with its operation name and
	// outcome ("ok", "failure", "authentication", "version-mismatch").
	RecordRequest(operation, outcome string, duration time.Duration)

	// RecordConnectionAccepted is called for every accepted connection.
	RecordConnectionAccepted()

	// RecordConnectionClosed is called when a connection is released.
	RecordConnectionClosed()

	// RecordRateLimited is called when a connection is rejected by the
	// rate limiter.
	RecordRateLimited()

	// SetActiveConnections updates the current connection count.
	SetActiveConnections(count int32)
}

// NewNoopRemoteMetrics returns a RemoteMetrics that discards everything.
func NewNoopRemoteMetrics() RemoteMetrics { return noopRemoteMetrics{} }

type noopRemoteMetrics struct{}

func (noopRemoteMetrics) RecordRequest(operation, outcome string, duration time.Duration) {}
func (noopRemoteMetrics) RecordConnectionAccepted()                                      {}
func (noopRemoteMetrics) RecordConnectionClosed()                                        {}
func (noopRemoteMetrics) RecordRateLimited()                                             {}
func (noopRemoteMetrics) SetActiveConnections(count int32)                               {}
