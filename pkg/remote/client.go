// Package remote lets a filesystem stack be operated from another process.
//
// The Client implements vfs.FileSystem by turning every call into a
// Request, written to a stream obtained from a ConnectionProvider; the
// Responder on the other end authenticates the request, runs it against
// the filesystem its SystemProvider resolves and writes back one Response.
// Messages are deterministic CBOR frames, optionally zstd-compressed (see
// internal/codec). The transport is injected: Loopback connects in-process,
// internal/transport over TCP or unix sockets.
//
// Remote failures keep their category on the client side: a version
// mismatch on the server is a vfs.ErrVersionMismatch for the caller, a
// credential rejection a vfs.ErrAuthentication. Failures of the local side
// (connecting, stream I/O, decoding) are vfs.ErrTransport.
package remote

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/pheyse/FileSystemFacade-sub001/internal/codec"
	"github.com/pheyse/FileSystemFacade-sub001/pkg/vfs"
)

// ClientConfig configures a Client.
type ClientConfig struct {
	// Provider supplies one connection per call
	Provider ConnectionProvider

	// Credentials are sent with every request
	Credentials Credentials

	// Compress enables zstd compression of requests (and thereby responses)
	Compress bool

	// MaxFrameSize bounds accepted responses; zero uses the codec default
	MaxFrameSize int64
}

// Client is a vfs.FileSystem served by a remote Responder.
type Client struct {
	cfg ClientConfig
}

var (
	_ vfs.FileSystem  = (*Client)(nil)
	_ vfs.TreeRemover = (*Client)(nil)
	_ vfs.Mover       = (*Client)(nil)
	_ vfs.Historian   = (*Client)(nil)
	_ vfs.NameLister  = (*Client)(nil)
)

// NewClient creates a Client. No connection is made until the first call.
func NewClient(cfg ClientConfig) *Client {
	return &Client{cfg: cfg}
}

// Name implements vfs.FileSystem.
func (c *Client) Name() string {
	return "remote(" + c.cfg.Credentials.App + "/" + c.cfg.Credentials.Tenant + ")"
}

// Separator implements vfs.FileSystem.
func (c *Client) Separator() string { return vfs.Separator }

// Resolve implements vfs.FileSystem. Paths are validated locally; the
// server resolves them again against its own filesystem.
func (c *Client) Resolve(raw string) (vfs.Path, error) { return vfs.ParsePath(raw) }

// Call sends req and returns the validated response. Transport problems
// are reported in LocalFailure, never as a separate error.
func (c *Client) Call(ctx context.Context, req *Request) *Response {
	req.Credentials = c.cfg.Credentials

	conn, err := c.cfg.Provider.Connect(ctx)
	if err != nil {
		return &Response{LocalFailure: fmt.Errorf("connect: %w", err)}
	}
	defer func() { _ = conn.In.Close() }()

	sendErr := codec.WriteFrame(conn.Out, req, c.cfg.Compress)
	if err := conn.Out.Close(); sendErr == nil {
		sendErr = err
	}

	var resp Response
	if _, err := codec.ReadFrame(conn.In, &resp, c.cfg.MaxFrameSize); err != nil {
		if sendErr != nil {
			return &Response{LocalFailure: fmt.Errorf("send request: %w", sendErr)}
		}
		return &Response{LocalFailure: fmt.Errorf("read response: %w", err)}
	}
	if err := resp.Validate(); err != nil {
		return &Response{LocalFailure: err}
	}
	// A server that stopped reading early may still have answered.
	return &resp
}

// do performs req and converts failures into vfs errors.
func (c *Client) do(ctx context.Context, req *Request) (*Response, error) {
	resp := c.Call(ctx, req)
	if resp.LocalFailure != nil {
		return nil, &vfs.Error{Code: vfs.ErrTransport, Op: string(req.Op), Path: req.Path, Err: resp.LocalFailure}
	}
	if err := resp.Err(); err != nil {
		return nil, err
	}
	return resp, nil
}

func unexpected(req *Request) error {
	return &vfs.Error{Code: vfs.ErrTransport, Op: string(req.Op), Path: req.Path, Message: "unexpected response slot"}
}

func (c *Client) doBool(ctx context.Context, req *Request) error {
	resp, err := c.do(ctx, req)
	if err != nil {
		return err
	}
	if resp.Bool == nil {
		return unexpected(req)
	}
	return nil
}

func (c *Client) doValue(ctx context.Context, req *Request, v any) error {
	resp, err := c.do(ctx, req)
	if err != nil {
		return err
	}
	if resp.Value == nil {
		return unexpected(req)
	}
	if err := codec.Unmarshal(*resp.Value, v); err != nil {
		return &vfs.Error{Code: vfs.ErrTransport, Op: string(req.Op), Path: req.Path, Err: err}
	}
	return nil
}

func (c *Client) doStream(ctx context.Context, req *Request) ([]byte, error) {
	resp, err := c.do(ctx, req)
	if err != nil {
		return nil, err
	}
	if resp.Stream == nil {
		return nil, unexpected(req)
	}
	return *resp.Stream, nil
}

// Roots implements vfs.FileSystem.
func (c *Client) Roots(ctx context.Context) ([]vfs.Path, error) {
	req := &Request{Op: OpRoots}
	resp, err := c.do(ctx, req)
	if err != nil {
		return nil, err
	}
	if resp.Names == nil {
		return nil, unexpected(req)
	}
	roots := make([]vfs.Path, 0, len(*resp.Names))
	for _, name := range *resp.Names {
		p, err := vfs.ParsePath(name)
		if err != nil {
			return nil, err
		}
		roots = append(roots, p)
	}
	return roots, nil
}

// Stat implements vfs.FileSystem.
func (c *Client) Stat(ctx context.Context, p vfs.Path) (vfs.Info, error) {
	var w wireInfo
	if err := c.doValue(ctx, &Request{Op: OpStat, Path: p.String()}, &w); err != nil {
		return vfs.Info{}, err
	}
	return w.info()
}

// ReadDir implements vfs.FileSystem.
func (c *Client) ReadDir(ctx context.Context, p vfs.Path) ([]vfs.Info, error) {
	var wire []wireInfo
	if err := c.doValue(ctx, &Request{Op: OpList, Path: p.String()}, &wire); err != nil {
		return nil, err
	}
	infos := make([]vfs.Info, len(wire))
	for i, w := range wire {
		info, err := w.info()
		if err != nil {
			return nil, err
		}
		infos[i] = info
	}
	return infos, nil
}

// ListNames implements vfs.NameLister.
func (c *Client) ListNames(ctx context.Context, p vfs.Path) ([]string, error) {
	req := &Request{Op: OpListNames, Path: p.String()}
	resp, err := c.do(ctx, req)
	if err != nil {
		return nil, err
	}
	if resp.Names == nil {
		return nil, unexpected(req)
	}
	return *resp.Names, nil
}

// Mkdir implements vfs.FileSystem.
func (c *Client) Mkdir(ctx context.Context, p vfs.Path) error {
	return c.doBool(ctx, &Request{Op: OpMkdir, Path: p.String()})
}

// Remove implements vfs.FileSystem.
func (c *Client) Remove(ctx context.Context, p vfs.Path) error {
	return c.doBool(ctx, &Request{Op: OpRemove, Path: p.String()})
}

// RemoveAll implements vfs.TreeRemover in a single round trip.
func (c *Client) RemoveAll(ctx context.Context, p vfs.Path) error {
	return c.doBool(ctx, &Request{Op: OpRemoveAll, Path: p.String()})
}

// Rename implements vfs.FileSystem.
func (c *Client) Rename(ctx context.Context, p vfs.Path, newName string) error {
	if err := vfs.ValidateName(newName); err != nil {
		return err
	}
	return c.doBool(ctx, &Request{Op: OpRename, Path: p.String(), Target: newName})
}

// Move implements vfs.Mover. The server moves natively when it can.
func (c *Client) Move(ctx context.Context, src, dst vfs.Path) error {
	return c.doBool(ctx, &Request{Op: OpMove, Path: src.String(), Target: dst.String()})
}

// SetModTime implements vfs.FileSystem.
func (c *Client) SetModTime(ctx context.Context, p vfs.Path, t time.Time) error {
	return c.doBool(ctx, &Request{Op: OpSetModTime, Path: p.String(), Time: t.UnixNano()})
}

// Open implements vfs.FileSystem. The whole content travels in one
// response.
func (c *Client) Open(ctx context.Context, p vfs.Path) (io.ReadCloser, error) {
	data, err := c.doStream(ctx, &Request{Op: OpOpen, Path: p.String()})
	if err != nil {
		return nil, err
	}
	return vfs.NopReadCloser(data), nil
}

// Create implements vfs.FileSystem. Content is sent when the writer is
// closed.
func (c *Client) Create(ctx context.Context, p vfs.Path) (io.WriteCloser, error) {
	return vfs.NewBufferedWriter(func(data []byte) error {
		return c.doBool(ctx, &Request{Op: OpCreate, Path: p.String(), Data: data})
	}), nil
}

// ReadVersioned implements vfs.FileSystem.
func (c *Client) ReadVersioned(ctx context.Context, p vfs.Path) (vfs.Versioned[[]byte], error) {
	var w wireVersioned
	if err := c.doValue(ctx, &Request{Op: OpRead, Path: p.String()}, &w); err != nil {
		return vfs.Versioned[[]byte]{}, err
	}
	if w.Data == nil {
		w.Data = []byte{}
	}
	return vfs.Versioned[[]byte]{Value: w.Data, Version: w.Version}, nil
}

// WriteVersioned implements vfs.FileSystem.
func (c *Client) WriteVersioned(ctx context.Context, p vfs.Path, data []byte, expected int64) (int64, error) {
	req := &Request{Op: OpWrite, Path: p.String(), Data: data, Version: expected}
	resp, err := c.do(ctx, req)
	if err != nil {
		return 0, err
	}
	if resp.Number == nil {
		return 0, unexpected(req)
	}
	return *resp.Number, nil
}

// HistoryTimes implements vfs.Historian. Servers without history answer
// vfs.ErrUnsupported.
func (c *Client) HistoryTimes(ctx context.Context, p vfs.Path) ([]int64, error) {
	req := &Request{Op: OpHistoryTimes, Path: p.String()}
	resp, err := c.do(ctx, req)
	if err != nil {
		return nil, err
	}
	if resp.Numbers == nil {
		return nil, unexpected(req)
	}
	return *resp.Numbers, nil
}

// OpenHistory implements vfs.Historian.
func (c *Client) OpenHistory(ctx context.Context, p vfs.Path, id int64) (io.ReadCloser, error) {
	data, err := c.doStream(ctx, &Request{Op: OpOpenHistory, Path: p.String(), ID: id})
	if err != nil {
		return nil, err
	}
	return vfs.NopReadCloser(data), nil
}

// CopyHistoryTree implements vfs.Historian by walking the remote tree.
func (c *Client) CopyHistoryTree(ctx context.Context, p vfs.Path, dst *vfs.File) error {
	return vfs.CopyHistoryEntries(ctx, c, c, p, dst)
}
