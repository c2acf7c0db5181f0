package remote

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/pheyse/FileSystemFacade-sub001/internal/codec"
	"github.com/pheyse/FileSystemFacade-sub001/internal/logger"
	"github.com/pheyse/FileSystemFacade-sub001/pkg/metrics"
	"github.com/pheyse/FileSystemFacade-sub001/pkg/vfs"
)

// Responder is the server side of the protocol: it reads one Request,
// authenticates it through a SystemProvider, executes it and writes exactly
// one Response.
type Responder struct {
	systems      SystemProvider
	metrics      metrics.RemoteMetrics
	maxFrameSize int64
}

// ResponderOption configures a Responder.
type ResponderOption func(*Responder)

// WithMetrics records every served request.
func WithMetrics(m metrics.RemoteMetrics) ResponderOption {
	return func(r *Responder) {
		if m != nil {
			r.metrics = m
		}
	}
}

// WithMaxFrameSize bounds the size of accepted requests.
func WithMaxFrameSize(n int64) ResponderOption {
	return func(r *Responder) { r.maxFrameSize = n }
}

// NewResponder creates a Responder resolving filesystems through systems.
func NewResponder(systems SystemProvider, opts ...ResponderOption) *Responder {
	r := &Responder{
		systems: systems,
		metrics: metrics.NewNoopRemoteMetrics(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Serve handles one call: in is read to EOF, the response is written to
// out. The returned error reports transport problems only; failures of the
// call itself travel in the response. An error wrapping
// ErrMalformedRequest means the failure response was still delivered.
func (r *Responder) Serve(ctx context.Context, in io.Reader, out io.Writer) error {
	start := time.Now()

	var req Request
	compressed, err := codec.ReadFrame(in, &req, r.maxFrameSize)
	if err != nil {
		// The caller may still be writing; it only reads once its request
		// is fully sent.
		_, _ = io.Copy(io.Discard, in)
		resp := &Response{Failure: &Failure{
			Code:    vfs.ErrBackend.String(),
			Message: "malformed request",
		}}
		r.metrics.RecordRequest("invalid", outcome(resp), time.Since(start))
		if werr := codec.WriteFrame(out, resp, false); werr != nil {
			return werr
		}
		return fmt.Errorf("%w: %w", ErrMalformedRequest, err)
	}

	resp := r.handle(ctx, &req)
	if err := resp.Validate(); err != nil {
		// A handler bug; never send an ambiguous response.
		logger.Error("remote: %s produced an invalid response: %v", req.Op, err)
		resp = FailureResponse(vfs.NewError(vfs.ErrBackend, string(req.Op), vfs.Root, "invalid response"))
	}
	r.metrics.RecordRequest(string(req.Op), outcome(resp), time.Since(start))

	if err := codec.WriteFrame(out, resp, compressed); err != nil {
		return fmt.Errorf("remote: write response: %w", err)
	}
	return nil
}

func (r *Responder) handle(ctx context.Context, req *Request) *Response {
	fsys, err := r.systems.Open(ctx, req.Credentials)
	if err != nil {
		logger.Warn("remote: rejected %s for %s/%s user %q: %v",
			req.Op, req.App, req.Tenant, req.Username, err)
		if vfs.CodeOf(err) != vfs.ErrAuthentication {
			err = &vfs.Error{Code: vfs.ErrAuthentication, Message: "access denied"}
		}
		return FailureResponse(err)
	}

	resp, err := execute(ctx, fsys, req)
	if err != nil {
		logger.Debug("remote: %s %s: %v", req.Op, req.Path, err)
		return FailureResponse(err)
	}
	return resp
}

func outcome(resp *Response) string {
	switch {
	case resp.AuthFailure != nil:
		return "auth_failure"
	case resp.Mismatch != nil:
		return "version_mismatch"
	case resp.Failure != nil:
		return "failure"
	}
	return "ok"
}

// execute runs req against fsys.
func execute(ctx context.Context, fsys vfs.FileSystem, req *Request) (*Response, error) {
	if req.Op == OpRoots {
		roots, err := fsys.Roots(ctx)
		if err != nil {
			return nil, err
		}
		names := make([]string, len(roots))
		for i, root := range roots {
			names[i] = root.String()
		}
		return namesResponse(names), nil
	}

	p, err := fsys.Resolve(req.Path)
	if err != nil {
		return nil, err
	}

	switch req.Op {
	case OpStat:
		info, err := fsys.Stat(ctx, p)
		if err != nil {
			return nil, err
		}
		return valueResponse(toWire(info))

	case OpList:
		infos, err := fsys.ReadDir(ctx, p)
		if err != nil {
			return nil, err
		}
		wire := make([]wireInfo, len(infos))
		for i, info := range infos {
			wire[i] = toWire(info)
		}
		return valueResponse(wire)

	case OpListNames:
		names, err := vfs.NewFile(fsys, p).ListNames(ctx)
		if err != nil {
			return nil, err
		}
		return namesResponse(names), nil

	case OpMkdir:
		return boolResponse(true), fsys.Mkdir(ctx, p)

	case OpRemove:
		return boolResponse(true), fsys.Remove(ctx, p)

	case OpRemoveAll:
		return boolResponse(true), vfs.NewFile(fsys, p).DeleteTree(ctx)

	case OpRename:
		return boolResponse(true), fsys.Rename(ctx, p, req.Target)

	case OpMove:
		dst, err := fsys.Resolve(req.Target)
		if err != nil {
			return nil, err
		}
		return boolResponse(true), vfs.NewFile(fsys, p).MoveTo(ctx, vfs.NewFile(fsys, dst))

	case OpSetModTime:
		return boolResponse(true), fsys.SetModTime(ctx, p, time.Unix(0, req.Time))

	case OpOpen:
		data, err := readAll(ctx, fsys, p)
		if err != nil {
			return nil, err
		}
		return streamResponse(data), nil

	case OpCreate:
		w, err := fsys.Create(ctx, p)
		if err != nil {
			return nil, err
		}
		if _, err := w.Write(req.Data); err != nil {
			_ = w.Close()
			return nil, vfs.BackendFailure("create", p, err)
		}
		return boolResponse(true), w.Close()

	case OpRead:
		v, err := fsys.ReadVersioned(ctx, p)
		if err != nil {
			return nil, err
		}
		return valueResponse(wireVersioned{Data: v.Value, Version: v.Version})

	case OpWrite:
		version, err := fsys.WriteVersioned(ctx, p, req.Data, req.Version)
		if err != nil {
			return nil, err
		}
		return numberResponse(version), nil

	case OpHistoryTimes:
		ids, err := vfs.NewFile(fsys, p).HistoryTimes(ctx)
		if err != nil {
			return nil, err
		}
		return numbersResponse(ids), nil

	case OpOpenHistory:
		data, err := vfs.NewFile(fsys, p).ReadHistoryBytes(ctx, req.ID)
		if err != nil {
			return nil, err
		}
		return streamResponse(data), nil
	}

	return nil, vfs.NewError(vfs.ErrUnsupported, string(req.Op), p, "unknown operation")
}

func readAll(ctx context.Context, fsys vfs.FileSystem, p vfs.Path) ([]byte, error) {
	r, err := fsys.Open(ctx, p)
	if err != nil {
		return nil, err
	}
	defer func() { _ = r.Close() }()

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, vfs.BackendFailure("open", p, err)
	}
	return data, nil
}
