package vfs

import (
	"time"
)

// Kind distinguishes files from directories.
type Kind uint8

const (
	// KindFile is a regular file with byte content
	KindFile Kind = iota + 1

	// KindDirectory is a directory; it never has content
	KindDirectory
)

// String returns "file" or "dir".
func (k Kind) String() string {
	switch k {
	case KindFile:
		return "file"
	case KindDirectory:
		return "dir"
	default:
		return "unknown"
	}
}

// InitialVersion is the version of a node that has never been written.
//
// A versioned write asserting InitialVersion succeeds only when the target
// does not exist yet (or exists without ever having been written).
const InitialVersion int64 = 0

// Info describes one node.
type Info struct {
	// Path is the node's location in the filesystem that produced the Info
	Path Path

	// Kind is file or directory
	Kind Kind

	// Size is the content length in bytes (files only). Decorators that
	// transform content report the stored size.
	Size int64

	// ModTime is the last-modified timestamp
	ModTime time.Time

	// Created is the creation timestamp, zero when the backend cannot tell
	Created time.Time

	// Version is the current content generation, InitialVersion when the
	// backend does not track versions or the node was never written
	Version int64
}

// Name returns the last path segment.
func (i Info) Name() string { return i.Path.Name() }

// IsDir reports whether the node is a directory.
func (i Info) IsDir() bool { return i.Kind == KindDirectory }

// IsFile reports whether the node is a regular file.
func (i Info) IsFile() bool { return i.Kind == KindFile }

// Versioned pairs a payload with a version number.
//
// On reads, Version is the version current when Value was produced. On
// writes, it is the version the caller asserts as the precondition.
type Versioned[T any] struct {
	Value   T
	Version int64
}
