// Package vfs defines the facade contract shared by every storage backend
// and decorator of the module.
//
// Callers address one interface, FileSystem, and one handle type, File.
// Backends (memory, relational, badger, S3, host) implement the primitive
// operations; decorators (sandbox, encryption, history, metrics) implement
// the same interface around an inner FileSystem and add exactly one
// cross-cutting concern. The remote client implements it too, so a whole
// stack can be operated from another process.
//
// Composite operations (recursive mkdir, tree listing, copy, move, tree
// delete) live on File and are built from the primitives, so that every
// implementation gets them for free. Implementations that can do better
// natively advertise it through the optional capability interfaces
// (TreeRemover, Mover, Historian), which File discovers by type assertion.
package vfs

import (
	"context"
	"io"
	"time"
)

// ============================================================================
// FileSystem Interface
// ============================================================================

// FileSystem is the contract every backend and decorator satisfies.
//
// Error Handling:
// All operations return *Error values whose Code identifies the category
// (see errors.go). Path validation happens before storage is touched, so an
// ErrIllegalPath never comes with a partial write.
//
// Versioning:
// Every write to a file produces a new, strictly greater version. Unversioned
// writes (Create) overwrite unconditionally; WriteVersioned only succeeds if
// the asserted version equals the current one (InitialVersion for a node
// that does not exist yet). This is the only concurrency mechanism: there is
// no locking across operations.
//
// Streams:
// Readers returned by Open and writers returned by Create are scoped
// resources; the caller must Close them on every path. Content written
// through Create becomes visible when Close returns nil.
type FileSystem interface {
	// Name describes the backend or decorator for logs and metrics.
	Name() string

	// Separator is the separator character of the underlying storage.
	// Names passed to Rename must never contain it.
	Separator() string

	// Roots enumerates the filesystem roots. Most implementations have
	// exactly one, Root.
	Roots(ctx context.Context) ([]Path, error)

	// Resolve validates raw and maps it to a Path of this filesystem.
	// It never touches storage and never fails for a non-existent path.
	Resolve(raw string) (Path, error)

	// Stat returns the node at p, or ErrNotFound.
	Stat(ctx context.Context, p Path) (Info, error)

	// ReadDir lists the immediate children of directory p, ordered
	// lexicographically by name.
	ReadDir(ctx context.Context, p Path) ([]Info, error)

	// Mkdir creates directory p. The parent must exist; p must not.
	Mkdir(ctx context.Context, p Path) error

	// Remove deletes a file or an empty directory.
	Remove(ctx context.Context, p Path) error

	// Rename changes the last segment of p, keeping it in the same parent.
	// Directories are renamed with their whole subtree.
	Rename(ctx context.Context, p Path, newName string) error

	// SetModTime sets the last-modified timestamp of p.
	SetModTime(ctx context.Context, p Path, t time.Time) error

	// Open returns the content of file p as a stream.
	Open(ctx context.Context, p Path) (io.ReadCloser, error)

	// Create returns a writer that replaces the content of file p on Close,
	// creating the file if needed. The parent directory must exist.
	Create(ctx context.Context, p Path) (io.WriteCloser, error)

	// ReadVersioned returns the content of file p with its current version.
	ReadVersioned(ctx context.Context, p Path) (Versioned[[]byte], error)

	// WriteVersioned replaces the content of file p if its current version
	// equals expected, returning the new version. On mismatch it returns an
	// ErrVersionMismatch error and leaves all stored data untouched.
	WriteVersioned(ctx context.Context, p Path, data []byte, expected int64) (int64, error)
}

// ============================================================================
// Optional Capabilities
// ============================================================================

// TreeRemover is implemented by filesystems that can delete a whole subtree
// natively.
type TreeRemover interface {
	RemoveAll(ctx context.Context, p Path) error
}

// Mover is implemented by filesystems that can move a node (with its
// subtree) to another location of the same filesystem without copying
// content. dst must not exist; its parent must.
type Mover interface {
	Move(ctx context.Context, src, dst Path) error
}

// NameLister is implemented by filesystems that can list child names
// without full node information. Names are ordered as ReadDir orders them.
type NameLister interface {
	ListNames(ctx context.Context, p Path) ([]string, error)
}

// Historian is implemented by filesystems that retain prior content.
//
// History identifiers are int64 values that increase with age order:
// version numbers or Unix-millisecond timestamps depending on the
// implementation.
type Historian interface {
	// HistoryTimes returns the retained identifiers of p, oldest first.
	HistoryTimes(ctx context.Context, p Path) ([]int64, error)

	// OpenHistory returns the content retained under id.
	OpenHistory(ctx context.Context, p Path, id int64) (io.ReadCloser, error)

	// CopyHistoryTree copies every retained entry of p (and, for a
	// directory, of its descendants) below dst, which may belong to a
	// different filesystem. Entries are named by their identifier.
	CopyHistoryTree(ctx context.Context, p Path, dst *File) error
}

// Unwrapper is implemented by decorators to expose their inner filesystem.
type Unwrapper interface {
	Unwrap() FileSystem
}
