// Package vfstest is a conformance suite for vfs.FileSystem implementations.
//
// It tests the facade contract, not implementation details, so the same
// tests run against every backend and decorator:
//
//	func TestMemoryConformance(t *testing.T) {
//	    suite := &vfstest.Suite{
//	        NewFileSystem: func(t *testing.T) vfs.FileSystem {
//	            return memory.New(memory.Config{})
//	        },
//	    }
//	    suite.Run(t)
//	}
package vfstest

import (
	"context"
	"testing"

	"github.com/pheyse/FileSystemFacade-sub001/pkg/vfs"
	"github.com/stretchr/testify/require"
)

// Suite runs the facade conformance tests.
type Suite struct {
	// NewFileSystem creates a fresh, empty filesystem for each test.
	NewFileSystem func(t *testing.T) vfs.FileSystem

	// StoredSizeDiffers is set for decorators that transform content, where
	// Length reports the stored size rather than the plaintext size.
	StoredSizeDiffers bool
}

// Run executes all tests in the suite.
func (suite *Suite) Run(t *testing.T) {
	t.Run("Paths", suite.RunPathTests)
	t.Run("Structure", suite.RunStructureTests)
	t.Run("Content", suite.RunContentTests)
	t.Run("Versioning", suite.RunVersionTests)
	t.Run("Transfer", suite.RunTransferTests)
}

func testContext() context.Context {
	return context.Background()
}

// MustFile resolves raw on fsys and fails the test on error.
func MustFile(t *testing.T, fsys vfs.FileSystem, raw string) *vfs.File {
	t.Helper()
	f, err := vfs.CreateByPath(fsys, raw)
	require.NoError(t, err)
	return f
}

// MustMkdirs creates raw and its ancestors.
func MustMkdirs(t *testing.T, fsys vfs.FileSystem, raw string) *vfs.File {
	t.Helper()
	f := MustFile(t, fsys, raw)
	require.NoError(t, f.Mkdirs(testContext()))
	return f
}

// MustWriteString writes content to raw, creating missing ancestors.
func MustWriteString(t *testing.T, fsys vfs.FileSystem, raw, content string) *vfs.File {
	t.Helper()
	f := MustFile(t, fsys, raw)
	if parent, ok := f.Parent(); ok {
		require.NoError(t, parent.Mkdirs(testContext()))
	}
	require.NoError(t, f.WriteString(testContext(), content))
	return f
}

// MustReadString reads the content of raw.
func MustReadString(t *testing.T, fsys vfs.FileSystem, raw string) string {
	t.Helper()
	s, err := MustFile(t, fsys, raw).ReadString(testContext())
	require.NoError(t, err)
	return s
}

// MustListNames lists the children names of raw.
func MustListNames(t *testing.T, fsys vfs.FileSystem, raw string) []string {
	t.Helper()
	names, err := MustFile(t, fsys, raw).ListNames(testContext())
	require.NoError(t, err)
	return names
}

// AssertCode asserts that err carries the given category.
func AssertCode(t *testing.T, code vfs.ErrorCode, err error) {
	t.Helper()
	require.Error(t, err)
	require.ErrorIs(t, err, code, "unexpected error: %v", err)
}
