package vfs

import (
	"bytes"
	"io"
)

// BufferedWriter collects written bytes in memory and hands them to a commit
// function on Close. Backends without native streaming writes use it to
// implement Create; the content becomes visible atomically on Close.
type BufferedWriter struct {
	buf    bytes.Buffer
	commit func([]byte) error
	closed bool
}

// NewBufferedWriter returns a writer that calls commit with the collected
// content when closed.
func NewBufferedWriter(commit func([]byte) error) *BufferedWriter {
	return &BufferedWriter{commit: commit}
}

// Write implements io.Writer.
func (w *BufferedWriter) Write(p []byte) (int, error) {
	if w.closed {
		return 0, io.ErrClosedPipe
	}
	return w.buf.Write(p)
}

// Close commits the content. Closing twice is a no-op.
func (w *BufferedWriter) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true
	return w.commit(w.buf.Bytes())
}

// NopReadCloser returns an in-memory stream over data.
func NopReadCloser(data []byte) io.ReadCloser {
	return io.NopCloser(bytes.NewReader(data))
}
