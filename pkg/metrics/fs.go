package metrics

import (
	"time"
)

// FSMetrics provides observability for filesystem operations.
//
// The metered decorator reports every facade call through it. Labels are
// the filesystem name (so several stacks can share one registry), the
// operation and, for failures, the error category.
type FSMetrics interface {
	// ObserveOperation records a completed operation.
	//
	// Parameters:
	//   - fs: Name of the measured filesystem
	//   - operation: Operation name (e.g., "stat", "write", "move")
	//   - duration: Time taken by the inner filesystem
	//   - err: Error if the operation failed, nil if successful
	ObserveOperation(fs, operation string, duration time.Duration, err error)

	// RecordBytes records content read or written.
	//
	// Parameters:
	//   - fs: Name of the measured filesystem
	//   - direction: "read" or "write"
	//   - bytes: Number of bytes transferred
	RecordBytes(fs, direction string, bytes int64)
}

// NewNoopFSMetrics returns an FSMetrics that discards everything.
func NewNoopFSMetrics() FSMetrics { return noopFSMetrics{} }

type noopFSMetrics struct{}

func (noopFSMetrics) ObserveOperation(fs, operation string, duration time.Duration, err error) {}
func (noopFSMetrics) RecordBytes(fs, direction string, bytes int64)                              {}
