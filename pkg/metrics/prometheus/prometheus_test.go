package prometheus

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	"github.com/pheyse/FileSystemFacade-sub001/pkg/vfs"
)

func TestFSMetricsCountsByStatusAndCode(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewFSMetricsWith(reg).(*fsMetrics)

	m.ObserveOperation("mem", "stat", time.Millisecond, nil)
	m.ObserveOperation("mem", "stat", time.Millisecond, vfs.NotFound("stat", vfs.Root))
	m.ObserveOperation("mem", "write", time.Millisecond, errors.New("disk on fire"))
	m.RecordBytes("mem", "write", 42)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.operationsTotal.WithLabelValues("mem", "stat", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.operationsTotal.WithLabelValues("mem", "stat", "error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.errorsTotal.WithLabelValues("mem", "stat", vfs.ErrNotFound.String())))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.errorsTotal.WithLabelValues("mem", "write", vfs.ErrBackend.String())))
	assert.Equal(t, 42.0, testutil.ToFloat64(m.bytesTransferred.WithLabelValues("mem", "write")))
}

func TestRemoteMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewRemoteMetricsWith(reg).(*remoteMetrics)

	m.RecordConnectionAccepted()
	m.RecordConnectionAccepted()
	m.RecordConnectionClosed()
	m.RecordRateLimited()
	m.SetActiveConnections(1)
	m.RecordRequest("stat", "ok", 3*time.Millisecond)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.connectionsAccepted))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.connectionsClosed))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.rateLimited))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.activeConnections))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.requestsTotal.WithLabelValues("stat", "ok")))
}
