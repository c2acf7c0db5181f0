package remote

import (
	"errors"
	"fmt"
	"time"

	"github.com/pheyse/FileSystemFacade-sub001/internal/codec"
	"github.com/pheyse/FileSystemFacade-sub001/pkg/vfs"
)

// Op identifies one facade operation on the wire.
type Op string

// Operations. The string values are protocol constants.
const (
	OpRoots        Op = "roots"
	OpStat         Op = "stat"
	OpList         Op = "list"
	OpListNames    Op = "list-names"
	OpMkdir        Op = "mkdir"
	OpRemove       Op = "remove"
	OpRemoveAll    Op = "remove-all"
	OpRename       Op = "rename"
	OpMove         Op = "move"
	OpSetModTime   Op = "set-modtime"
	OpOpen         Op = "open"
	OpCreate       Op = "create"
	OpRead         Op = "read"
	OpWrite        Op = "write"
	OpHistoryTimes Op = "history-times"
	OpOpenHistory  Op = "open-history"
)

// Credentials identify the caller and the namespace it wants to reach.
type Credentials struct {
	App      string `cbor:"app"`
	Tenant   string `cbor:"tenant"`
	Username string `cbor:"user"`
	Password string `cbor:"password"`
}

// Request is one facade call.
type Request struct {
	Op          Op `cbor:"op"`
	Credentials `cbor:"auth"`

	// Path is the primary path argument in its canonical string form
	Path string `cbor:"path"`

	// Target is the destination path of a move or the new name of a rename
	Target string `cbor:"target,omitempty"`

	// Data is the content of a write
	Data []byte `cbor:"data,omitempty"`

	// Version is the asserted version of a versioned write
	Version int64 `cbor:"version,omitempty"`

	// Time is a Unix timestamp in nanoseconds (set-modtime)
	Time int64 `cbor:"time,omitempty"`

	// ID is a history identifier (open-history)
	ID int64 `cbor:"id,omitempty"`
}

// Failure is a generic failure reported by the remote side.
type Failure struct {
	Code    string `cbor:"code"`
	Op      string `cbor:"op,omitempty"`
	Path    string `cbor:"path,omitempty"`
	Message string `cbor:"message,omitempty"`
}

// Mismatch is a version-mismatch failure reported by the remote side.
type Mismatch struct {
	Op       string `cbor:"op,omitempty"`
	Path     string `cbor:"path,omitempty"`
	Expected int64  `cbor:"expected"`
	Actual   int64  `cbor:"actual"`
}

// Response carries exactly one result slot or exactly one remote failure.
// Slots are pointers so that an empty listing or empty content stays
// distinguishable from an unset slot.
type Response struct {
	Names   *[]string `cbor:"names,omitempty"`
	Value   *[]byte   `cbor:"value,omitempty"`
	Number  *int64    `cbor:"number,omitempty"`
	Numbers *[]int64  `cbor:"numbers,omitempty"`
	Bool    *bool     `cbor:"bool,omitempty"`
	Stream  *[]byte   `cbor:"stream,omitempty"`

	Failure     *Failure  `cbor:"failure,omitempty"`
	AuthFailure *string   `cbor:"auth_failure,omitempty"`
	Mismatch    *Mismatch `cbor:"mismatch,omitempty"`

	// LocalFailure is set by the client when the call failed on its own
	// side (connection, stream I/O, decoding). It never crosses the wire.
	LocalFailure error `cbor:"-"`
}

// ErrInvalidResponse is returned by Validate.
var ErrInvalidResponse = errors.New("remote: invalid response")

// ErrMalformedRequest is returned by Responder.Serve when the request could
// not be read or decoded. The failure response has been written by then.
var ErrMalformedRequest = errors.New("remote: malformed request")

// Validate checks that exactly one slot is populated, or none when the
// response carries a local failure.
func (r *Response) Validate() error {
	set := 0
	for _, populated := range []bool{
		r.Names != nil, r.Value != nil, r.Number != nil, r.Numbers != nil,
		r.Bool != nil, r.Stream != nil,
		r.Failure != nil, r.AuthFailure != nil, r.Mismatch != nil,
	} {
		if populated {
			set++
		}
	}
	if r.LocalFailure != nil {
		if set != 0 {
			return fmt.Errorf("%w: local failure with %d populated slots", ErrInvalidResponse, set)
		}
		return nil
	}
	if set != 1 {
		return fmt.Errorf("%w: %d populated slots", ErrInvalidResponse, set)
	}
	return nil
}

// Err converts the failure slots into a vfs error, or returns nil for a
// successful response.
func (r *Response) Err() error {
	switch {
	case r.LocalFailure != nil:
		var fsErr *vfs.Error
		if errors.As(r.LocalFailure, &fsErr) && fsErr.Code == vfs.ErrTransport {
			return r.LocalFailure
		}
		return &vfs.Error{Code: vfs.ErrTransport, Err: r.LocalFailure}
	case r.AuthFailure != nil:
		return &vfs.Error{Code: vfs.ErrAuthentication, Message: *r.AuthFailure}
	case r.Mismatch != nil:
		return &vfs.Error{
			Code:     vfs.ErrVersionMismatch,
			Op:       r.Mismatch.Op,
			Path:     r.Mismatch.Path,
			Expected: r.Mismatch.Expected,
			Actual:   r.Mismatch.Actual,
		}
	case r.Failure != nil:
		return &vfs.Error{
			Code:    vfs.ParseErrorCode(r.Failure.Code),
			Op:      r.Failure.Op,
			Path:    r.Failure.Path,
			Message: r.Failure.Message,
		}
	}
	return nil
}

// FailureResponse maps err onto the matching failure slot. Transports use
// it to answer requests they refuse before reaching the Responder.
func FailureResponse(err error) *Response {
	var fsErr *vfs.Error
	if !errors.As(err, &fsErr) {
		fsErr = &vfs.Error{Code: vfs.CodeOf(err), Message: err.Error()}
	}
	switch fsErr.Code {
	case vfs.ErrAuthentication:
		msg := fsErr.Message
		return &Response{AuthFailure: &msg}
	case vfs.ErrVersionMismatch:
		return &Response{Mismatch: &Mismatch{
			Op:       fsErr.Op,
			Path:     fsErr.Path,
			Expected: fsErr.Expected,
			Actual:   fsErr.Actual,
		}}
	}
	msg := fsErr.Message
	if fsErr.Err != nil {
		// Only the cause's text crosses the wire.
		if msg != "" {
			msg += ": "
		}
		msg += fsErr.Err.Error()
	}
	return &Response{Failure: &Failure{
		Code:    fsErr.Code.String(),
		Op:      fsErr.Op,
		Path:    fsErr.Path,
		Message: msg,
	}}
}

// ============================================================================
// Structured values
// ============================================================================

// wireInfo is vfs.Info as carried in a Value slot. OpList uses it because
// ReadDir needs kind, size and times; bare child names travel in the Names
// slot through OpListNames.
type wireInfo struct {
	Path     string `cbor:"path"`
	Kind     uint8  `cbor:"kind"`
	Size     int64  `cbor:"size,omitempty"`
	Modified int64  `cbor:"modified"`
	Created  int64  `cbor:"created,omitempty"`
	Version  int64  `cbor:"version,omitempty"`
}

func toWire(info vfs.Info) wireInfo {
	w := wireInfo{
		Path:     info.Path.String(),
		Kind:     uint8(info.Kind),
		Size:     info.Size,
		Modified: info.ModTime.UnixNano(),
		Version:  info.Version,
	}
	if !info.Created.IsZero() {
		w.Created = info.Created.UnixNano()
	}
	return w
}

func (w wireInfo) info() (vfs.Info, error) {
	p, err := vfs.ParsePath(w.Path)
	if err != nil {
		return vfs.Info{}, err
	}
	info := vfs.Info{
		Path:    p,
		Kind:    vfs.Kind(w.Kind),
		Size:    w.Size,
		ModTime: time.Unix(0, w.Modified),
		Version: w.Version,
	}
	if w.Created != 0 {
		info.Created = time.Unix(0, w.Created)
	}
	return info, nil
}

// wireVersioned is vfs.Versioned[[]byte] as carried in a Value slot.
type wireVersioned struct {
	Data    []byte `cbor:"data"`
	Version int64  `cbor:"version"`
}

func valueResponse(v any) (*Response, error) {
	data, err := codec.Marshal(v)
	if err != nil {
		return nil, err
	}
	return &Response{Value: &data}, nil
}

func namesResponse(names []string) *Response {
	if names == nil {
		names = []string{}
	}
	return &Response{Names: &names}
}

func numberResponse(n int64) *Response { return &Response{Number: &n} }

func numbersResponse(ns []int64) *Response {
	if ns == nil {
		ns = []int64{}
	}
	return &Response{Numbers: &ns}
}

func boolResponse(b bool) *Response { return &Response{Bool: &b} }

func streamResponse(data []byte) *Response {
	if data == nil {
		data = []byte{}
	}
	return &Response{Stream: &data}
}
