package vfs

import (
	"errors"
	"fmt"
)

// ErrorCode represents the category of a filesystem error.
//
// ErrorCode values are errors themselves, so callers can test the category
// of any error returned by this module with errors.Is:
//
//	if errors.Is(err, vfs.ErrVersionMismatch) {
//	    // reload and retry with the fresh version
//	}
type ErrorCode int

const (
	// ErrNotFound indicates the operation requires a node that does not exist
	ErrNotFound ErrorCode = iota + 1

	// ErrIllegalPath indicates a malformed path, an up-traversal segment or a
	// separator collision. Always reported before storage is touched.
	ErrIllegalPath

	// ErrVersionMismatch indicates the optimistic-write precondition failed.
	// No stored data (current or historical) was modified.
	ErrVersionMismatch

	// ErrAuthentication indicates the remote side rejected the credentials
	ErrAuthentication

	// ErrUnsupported indicates the backend does not implement the operation
	// (e.g. history on a backend without history support)
	ErrUnsupported

	// ErrBackend indicates an I/O, driver or storage fault
	ErrBackend

	// ErrAlreadyExists indicates the target name is taken
	ErrAlreadyExists

	// ErrNotDirectory indicates a directory was expected
	ErrNotDirectory

	// ErrIsDirectory indicates a file was expected
	ErrIsDirectory

	// ErrNotEmpty indicates a directory still has children
	ErrNotEmpty

	// ErrTransport indicates a local failure while talking to a remote
	// filesystem (stream I/O, encoding), as opposed to a failure reported
	// by the remote side
	ErrTransport
)

var codeNames = map[ErrorCode]string{
	ErrNotFound:        "not found",
	ErrIllegalPath:     "illegal path",
	ErrVersionMismatch: "version mismatch",
	ErrAuthentication:  "authentication failed",
	ErrUnsupported:     "unsupported operation",
	ErrBackend:         "backend failure",
	ErrAlreadyExists:   "already exists",
	ErrNotDirectory:    "not a directory",
	ErrIsDirectory:     "is a directory",
	ErrNotEmpty:        "directory not empty",
	ErrTransport:       "transport failure",
}

var codesByName = func() map[string]ErrorCode {
	out := make(map[string]ErrorCode, len(codeNames))
	for code, name := range codeNames {
		out[name] = code
	}
	return out
}()

// String returns the human-readable name of the code.
func (c ErrorCode) String() string {
	if name, ok := codeNames[c]; ok {
		return name
	}
	return fmt.Sprintf("error code %d", int(c))
}

// Error implements the error interface.
func (c ErrorCode) Error() string { return c.String() }

// ParseErrorCode is the inverse of ErrorCode.String. Unknown names map to
// ErrBackend.
func ParseErrorCode(name string) ErrorCode {
	if code, ok := codesByName[name]; ok {
		return code
	}
	return ErrBackend
}

// Error is the error type returned by every FileSystem in this module.
//
// Code is the category; Op and Path give enough context to diagnose the
// failure. Err, when set, is the underlying collaborator error (driver,
// native I/O, transport). Messages never include credentials.
type Error struct {
	// Code is the error category
	Code ErrorCode

	// Op is the facade operation that failed (e.g. "write", "rename")
	Op string

	// Path is the path the operation was applied to, if any
	Path string

	// Message adds detail beyond the code
	Message string

	// Expected and Actual carry the versions of a version-mismatch failure
	Expected int64
	Actual   int64

	// Err is the wrapped cause
	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := e.Code.String()
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Code == ErrVersionMismatch && e.Message == "" {
		msg += fmt.Sprintf(": expected version %d, current version %d", e.Expected, e.Actual)
	}
	if e.Op != "" || e.Path != "" {
		loc := e.Op
		if e.Path != "" {
			if loc != "" {
				loc += " "
			}
			loc += displayPath(e.Path)
		}
		msg = loc + ": " + msg
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error { return e.Err }

// Is makes errors.Is(err, code) match on the error category.
func (e *Error) Is(target error) bool {
	if code, ok := target.(ErrorCode); ok {
		return e.Code == code
	}
	return false
}

func displayPath(p string) string {
	if p == "" {
		return Separator
	}
	return p
}

// CodeOf returns the category of err. Errors that did not originate in
// this module are reported as ErrBackend; nil yields 0.
func CodeOf(err error) ErrorCode {
	if err == nil {
		return 0
	}
	var fsErr *Error
	if errors.As(err, &fsErr) {
		return fsErr.Code
	}
	var code ErrorCode
	if errors.As(err, &code) {
		return code
	}
	return ErrBackend
}

// NewError builds an *Error for op on p.
func NewError(code ErrorCode, op string, p Path, message string) *Error {
	return &Error{Code: code, Op: op, Path: p.String(), Message: message}
}

// NotFound builds the standard not-found error.
func NotFound(op string, p Path) *Error {
	return &Error{Code: ErrNotFound, Op: op, Path: p.String()}
}

// VersionMismatch builds the standard version-mismatch error.
func VersionMismatch(op string, p Path, expected, actual int64) *Error {
	return &Error{Code: ErrVersionMismatch, Op: op, Path: p.String(), Expected: expected, Actual: actual}
}

// Unsupported builds the standard unsupported-operation error.
func Unsupported(op string, p Path) *Error {
	return &Error{Code: ErrUnsupported, Op: op, Path: p.String()}
}

// BackendFailure wraps a collaborator error with the operation context.
// Errors that already carry a category are returned unchanged.
func BackendFailure(op string, p Path, err error) error {
	if err == nil {
		return nil
	}
	var fsErr *Error
	if errors.As(err, &fsErr) {
		return err
	}
	return &Error{Code: ErrBackend, Op: op, Path: p.String(), Err: err}
}
