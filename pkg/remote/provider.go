package remote

import (
	"context"
	"errors"
	"io"

	"github.com/pheyse/FileSystemFacade-sub001/internal/logger"
)

// Conn is one duplex stream pair for a single call. The client writes the
// request to Out and closes it, then reads the full response from In.
type Conn struct {
	// Out carries the request to the server
	Out io.WriteCloser

	// In carries the response from the server
	In io.ReadCloser
}

// Close releases both halves.
func (c *Conn) Close() error {
	errOut := c.Out.Close()
	errIn := c.In.Close()
	if errOut != nil {
		return errOut
	}
	return errIn
}

// ConnectionProvider supplies a fresh Conn for each call. Implementations
// decide the physical transport.
type ConnectionProvider interface {
	Connect(ctx context.Context) (*Conn, error)
}

// Loopback connects a client to a Responder in the same process over a
// pair of pipes. Each Connect runs one Serve call in its own goroutine.
type Loopback struct {
	Responder *Responder
}

var _ ConnectionProvider = (*Loopback)(nil)

// Connect implements ConnectionProvider.
func (l *Loopback) Connect(ctx context.Context) (*Conn, error) {
	reqR, reqW := io.Pipe()
	respR, respW := io.Pipe()

	go func() {
		err := l.Responder.Serve(ctx, reqR, respW)
		// A client still writing gets io.ErrClosedPipe instead of blocking.
		_ = reqR.Close()
		switch {
		case err == nil:
			_ = respW.Close()
		case errors.Is(err, ErrMalformedRequest):
			logger.Debug("loopback: %v", err)
			_ = respW.Close()
		default:
			logger.Debug("loopback: serve failed: %v", err)
			_ = respW.CloseWithError(err)
		}
	}()

	return &Conn{Out: reqW, In: respR}, nil
}
