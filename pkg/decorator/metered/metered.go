// Package metered records per-operation metrics for an inner filesystem.
//
// Every call is timed and reported to a metrics.FSMetrics under the inner
// filesystem's name. Content passing through Open, Create, ReadVersioned
// and WriteVersioned is counted in bytes. Behaviour is otherwise identical
// to the inner filesystem.
package metered

import (
	"context"
	"io"
	"time"

	"github.com/pheyse/FileSystemFacade-sub001/pkg/metrics"
	"github.com/pheyse/FileSystemFacade-sub001/pkg/vfs"
)

// FileSystem is a vfs.FileSystem that reports metrics for Inner.
type FileSystem struct {
	inner   vfs.FileSystem
	metrics metrics.FSMetrics
	label   string
}

var (
	_ vfs.FileSystem  = (*FileSystem)(nil)
	_ vfs.Mover       = (*FileSystem)(nil)
	_ vfs.TreeRemover = (*FileSystem)(nil)
	_ vfs.Historian   = (*FileSystem)(nil)
	_ vfs.Unwrapper   = (*FileSystem)(nil)
)

// New wraps inner. A nil m discards all measurements.
func New(inner vfs.FileSystem, m metrics.FSMetrics) *FileSystem {
	if m == nil {
		m = metrics.NewNoopFSMetrics()
	}
	return &FileSystem{inner: inner, metrics: m, label: inner.Name()}
}

// Unwrap implements vfs.Unwrapper.
func (fs *FileSystem) Unwrap() vfs.FileSystem { return fs.inner }

// Name implements vfs.FileSystem.
func (fs *FileSystem) Name() string { return "metered(" + fs.label + ")" }

// Separator implements vfs.FileSystem.
func (fs *FileSystem) Separator() string { return fs.inner.Separator() }

// Resolve implements vfs.FileSystem. It never touches storage and is not
// measured.
func (fs *FileSystem) Resolve(raw string) (vfs.Path, error) { return fs.inner.Resolve(raw) }

// observe reports one completed operation started at start.
func (fs *FileSystem) observe(op string, start time.Time, err error) {
	fs.metrics.ObserveOperation(fs.label, op, time.Since(start), err)
}

// Roots implements vfs.FileSystem.
func (fs *FileSystem) Roots(ctx context.Context) (roots []vfs.Path, err error) {
	start := time.Now()
	defer func() { fs.observe("roots", start, err) }()
	return fs.inner.Roots(ctx)
}

// Stat implements vfs.FileSystem.
func (fs *FileSystem) Stat(ctx context.Context, p vfs.Path) (info vfs.Info, err error) {
	start := time.Now()
	defer func() { fs.observe("stat", start, err) }()
	return fs.inner.Stat(ctx, p)
}

// ReadDir implements vfs.FileSystem.
func (fs *FileSystem) ReadDir(ctx context.Context, p vfs.Path) (infos []vfs.Info, err error) {
	start := time.Now()
	defer func() { fs.observe("list", start, err) }()
	return fs.inner.ReadDir(ctx, p)
}

// Mkdir implements vfs.FileSystem.
func (fs *FileSystem) Mkdir(ctx context.Context, p vfs.Path) (err error) {
	start := time.Now()
	defer func() { fs.observe("mkdir", start, err) }()
	return fs.inner.Mkdir(ctx, p)
}

// Remove implements vfs.FileSystem.
func (fs *FileSystem) Remove(ctx context.Context, p vfs.Path) (err error) {
	start := time.Now()
	defer func() { fs.observe("remove", start, err) }()
	return fs.inner.Remove(ctx, p)
}

// RemoveAll implements vfs.TreeRemover, natively when the inner filesystem
// can.
func (fs *FileSystem) RemoveAll(ctx context.Context, p vfs.Path) (err error) {
	start := time.Now()
	defer func() { fs.observe("remove-all", start, err) }()
	return vfs.NewFile(fs.inner, p).DeleteTree(ctx)
}

// Rename implements vfs.FileSystem.
func (fs *FileSystem) Rename(ctx context.Context, p vfs.Path, newName string) (err error) {
	start := time.Now()
	defer func() { fs.observe("rename", start, err) }()
	return fs.inner.Rename(ctx, p, newName)
}

// Move implements vfs.Mover, natively when the inner filesystem can.
func (fs *FileSystem) Move(ctx context.Context, src, dst vfs.Path) (err error) {
	start := time.Now()
	defer func() { fs.observe("move", start, err) }()
	return vfs.NewFile(fs.inner, src).MoveTo(ctx, vfs.NewFile(fs.inner, dst))
}

// SetModTime implements vfs.FileSystem.
func (fs *FileSystem) SetModTime(ctx context.Context, p vfs.Path, t time.Time) (err error) {
	start := time.Now()
	defer func() { fs.observe("set-modtime", start, err) }()
	return fs.inner.SetModTime(ctx, p, t)
}

// Open implements vfs.FileSystem. Bytes are counted as the stream is read.
func (fs *FileSystem) Open(ctx context.Context, p vfs.Path) (io.ReadCloser, error) {
	start := time.Now()
	r, err := fs.inner.Open(ctx, p)
	fs.observe("open", start, err)
	if err != nil {
		return nil, err
	}
	return &countingReader{ReadCloser: r, done: func(n int64) {
		fs.metrics.RecordBytes(fs.label, "read", n)
	}}, nil
}

// Create implements vfs.FileSystem. The write is measured from Create to
// Close, since content only reaches storage on Close.
func (fs *FileSystem) Create(ctx context.Context, p vfs.Path) (io.WriteCloser, error) {
	start := time.Now()
	w, err := fs.inner.Create(ctx, p)
	if err != nil {
		fs.observe("create", start, err)
		return nil, err
	}
	return &countingWriter{WriteCloser: w, done: func(n int64, err error) {
		fs.observe("create", start, err)
		if err == nil {
			fs.metrics.RecordBytes(fs.label, "write", n)
		}
	}}, nil
}

// ReadVersioned implements vfs.FileSystem.
func (fs *FileSystem) ReadVersioned(ctx context.Context, p vfs.Path) (v vfs.Versioned[[]byte], err error) {
	start := time.Now()
	defer func() {
		fs.observe("read", start, err)
		if err == nil {
			fs.metrics.RecordBytes(fs.label, "read", int64(len(v.Value)))
		}
	}()
	return fs.inner.ReadVersioned(ctx, p)
}

// WriteVersioned implements vfs.FileSystem.
func (fs *FileSystem) WriteVersioned(ctx context.Context, p vfs.Path, data []byte, expected int64) (version int64, err error) {
	start := time.Now()
	defer func() {
		fs.observe("write", start, err)
		if err == nil {
			fs.metrics.RecordBytes(fs.label, "write", int64(len(data)))
		}
	}()
	return fs.inner.WriteVersioned(ctx, p, data, expected)
}

// ============================================================================
// History
// ============================================================================

func (fs *FileSystem) historian(op string, p vfs.Path) (vfs.Historian, error) {
	h, ok := fs.inner.(vfs.Historian)
	if !ok {
		return nil, vfs.Unsupported(op, p)
	}
	return h, nil
}

// HistoryTimes implements vfs.Historian when the inner filesystem does.
func (fs *FileSystem) HistoryTimes(ctx context.Context, p vfs.Path) (ids []int64, err error) {
	start := time.Now()
	defer func() { fs.observe("history-times", start, err) }()
	h, err := fs.historian("history-times", p)
	if err != nil {
		return nil, err
	}
	return h.HistoryTimes(ctx, p)
}

// OpenHistory implements vfs.Historian when the inner filesystem does.
func (fs *FileSystem) OpenHistory(ctx context.Context, p vfs.Path, id int64) (r io.ReadCloser, err error) {
	start := time.Now()
	defer func() { fs.observe("open-history", start, err) }()
	h, err := fs.historian("open-history", p)
	if err != nil {
		return nil, err
	}
	return h.OpenHistory(ctx, p, id)
}

// CopyHistoryTree implements vfs.Historian when the inner filesystem does.
func (fs *FileSystem) CopyHistoryTree(ctx context.Context, p vfs.Path, dst *vfs.File) (err error) {
	start := time.Now()
	defer func() { fs.observe("copy-history", start, err) }()
	h, err := fs.historian("copy-history", p)
	if err != nil {
		return err
	}
	return h.CopyHistoryTree(ctx, p, dst)
}

// ============================================================================
// Byte counting
// ============================================================================

type countingReader struct {
	io.ReadCloser
	n    int64
	done func(int64)
}

func (r *countingReader) Read(p []byte) (int, error) {
	n, err := r.ReadCloser.Read(p)
	r.n += int64(n)
	return n, err
}

func (r *countingReader) Close() error {
	err := r.ReadCloser.Close()
	if r.done != nil {
		r.done(r.n)
		r.done = nil
	}
	return err
}

type countingWriter struct {
	io.WriteCloser
	n    int64
	done func(int64, error)
}

func (w *countingWriter) Write(p []byte) (int, error) {
	n, err := w.WriteCloser.Write(p)
	w.n += int64(n)
	return n, err
}

func (w *countingWriter) Close() error {
	err := w.WriteCloser.Close()
	if w.done != nil {
		w.done(w.n, err)
		w.done = nil
	}
	return err
}
