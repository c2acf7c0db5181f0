package metered

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	promclient "github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pheyse/FileSystemFacade-sub001/pkg/backend/memory"
	"github.com/pheyse/FileSystemFacade-sub001/pkg/metrics/prometheus"
	"github.com/pheyse/FileSystemFacade-sub001/pkg/vfs"
	"github.com/pheyse/FileSystemFacade-sub001/pkg/vfs/vfstest"
)

type observation struct {
	op   string
	code vfs.ErrorCode
	ok   bool
}

type recorder struct {
	mu    sync.Mutex
	ops   []observation
	bytes map[string]int64
}

func newRecorder() *recorder { return &recorder{bytes: map[string]int64{}} }

func (r *recorder) ObserveOperation(fs, operation string, duration time.Duration, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	o := observation{op: operation, ok: err == nil}
	if err != nil {
		o.code = vfs.CodeOf(err)
	}
	r.ops = append(r.ops, o)
}

func (r *recorder) RecordBytes(fs, direction string, bytes int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.bytes[direction] += bytes
}

func (r *recorder) last() observation {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.ops[len(r.ops)-1]
}

func TestMeteredConformance(t *testing.T) {
	suite := &vfstest.Suite{
		NewFileSystem: func(t *testing.T) vfs.FileSystem {
			return New(memory.New(memory.Config{}), nil)
		},
	}
	suite.Run(t)
}

func TestOperationsAreObserved(t *testing.T) {
	ctx := context.Background()
	rec := newRecorder()
	fs := New(memory.New(memory.Config{}), rec)

	_, err := fs.Stat(ctx, vfs.MustParsePath("/missing"))
	require.Error(t, err)
	assert.Equal(t, observation{op: "stat", code: vfs.ErrNotFound}, rec.last())

	require.NoError(t, fs.Mkdir(ctx, vfs.MustParsePath("/docs")))
	assert.Equal(t, observation{op: "mkdir", ok: true}, rec.last())

	_, err = fs.WriteVersioned(ctx, vfs.MustParsePath("/docs/a.txt"), []byte("hello"), 3)
	require.Error(t, err)
	assert.Equal(t, observation{op: "write", code: vfs.ErrVersionMismatch}, rec.last())
	assert.Zero(t, rec.bytes["write"])
}

func TestBytesAreCounted(t *testing.T) {
	ctx := context.Background()
	rec := newRecorder()
	fs := New(memory.New(memory.Config{}), rec)
	p := vfs.MustParsePath("/a.txt")

	w, err := fs.Create(ctx, p)
	require.NoError(t, err)
	_, err = io.WriteString(w, "hello world")
	require.NoError(t, err)
	require.NoError(t, w.Close())
	assert.Equal(t, observation{op: "create", ok: true}, rec.last())
	assert.Equal(t, int64(11), rec.bytes["write"])

	r, err := fs.Open(ctx, p)
	require.NoError(t, err)
	data, err := io.ReadAll(r)
	require.NoError(t, err)
	require.NoError(t, r.Close())
	assert.Equal(t, "hello world", string(data))
	assert.Equal(t, int64(11), rec.bytes["read"])

	_, err = fs.ReadVersioned(ctx, p)
	require.NoError(t, err)
	assert.Equal(t, int64(22), rec.bytes["read"])
}

func TestHistoryUnsupportedWithoutHistorian(t *testing.T) {
	fs := New(memory.New(memory.Config{}), nil)
	_, err := fs.HistoryTimes(context.Background(), vfs.MustParsePath("/a.txt"))
	assert.ErrorIs(t, err, vfs.ErrUnsupported)
}

func TestNameAndUnwrap(t *testing.T) {
	inner := memory.New(memory.Config{})
	fs := New(inner, nil)
	assert.Equal(t, "metered("+inner.Name()+")", fs.Name())
	assert.Same(t, inner, fs.Unwrap())
}

func TestPrometheusRegistryReceivesMeasurements(t *testing.T) {
	reg := promclient.NewRegistry()
	fs := New(memory.New(memory.Config{}), prometheus.NewFSMetricsWith(reg))
	vfstest.MustWriteString(t, fs, "/a.txt", "12345")

	families, err := reg.Gather()
	require.NoError(t, err)

	var written float64
	for _, family := range families {
		if family.GetName() != "fsfacade_bytes_total" {
			continue
		}
		for _, m := range family.GetMetric() {
			written += m.GetCounter().GetValue()
		}
	}
	assert.Equal(t, 5.0, written)
}
