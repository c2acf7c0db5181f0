package sandbox

import (
	"context"
	"testing"

	"github.com/pheyse/FileSystemFacade-sub001/pkg/backend/memory"
	"github.com/pheyse/FileSystemFacade-sub001/pkg/vfs"
	"github.com/pheyse/FileSystemFacade-sub001/pkg/vfs/vfstest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newSandbox(t *testing.T) (*FileSystem, *memory.FileSystem) {
	t.Helper()
	inner := memory.New(memory.Config{})
	vfstest.MustMkdirs(t, inner, "/srv/base")
	fs, err := New(context.Background(), inner, "/srv/base")
	require.NoError(t, err)
	return fs, inner
}

func TestSandboxConformance(t *testing.T) {
	suite := &vfstest.Suite{
		NewFileSystem: func(t *testing.T) vfs.FileSystem {
			fs, _ := newSandbox(t)
			return fs
		},
	}
	suite.Run(t)
}

func TestNewRejectsInvalidBase(t *testing.T) {
	ctx := context.Background()
	inner := memory.New(memory.Config{})
	vfstest.MustWriteString(t, inner, "/file.txt", "x")

	_, err := New(ctx, inner, "/missing")
	assert.ErrorIs(t, err, vfs.ErrNotFound)

	_, err = New(ctx, inner, "/")
	assert.ErrorIs(t, err, vfs.ErrIllegalPath)

	_, err = New(ctx, inner, "")
	assert.ErrorIs(t, err, vfs.ErrIllegalPath)

	_, err = New(ctx, inner, "/file.txt")
	assert.ErrorIs(t, err, vfs.ErrNotDirectory)

	_, err = New(ctx, inner, "/a/../b")
	assert.ErrorIs(t, err, vfs.ErrIllegalPath)
}

func TestResolvedPathsStayInsideBase(t *testing.T) {
	fs, _ := newSandbox(t)

	inputs := []string{
		"", "/", "/a", "/a/b/c", "/a/", "/..", "/../x", "/a/../../x", "..",
		"../etc/passwd", "a", "/./a", "//", "/a//b", "/a\x00b", "/..a", "/a..",
	}
	for _, raw := range inputs {
		p, err := fs.Resolve(raw)
		if err != nil {
			assert.ErrorIs(t, err, vfs.ErrIllegalPath, raw)
			continue
		}
		inner, err := fs.InnerPath(p)
		require.NoError(t, err, raw)
		assert.True(t, inner.HasPrefix(fs.Base()), "%q resolved to %s", raw, inner)
	}
}

func TestWritesLandBelowBase(t *testing.T) {
	fs, inner := newSandbox(t)
	vfstest.MustWriteString(t, inner, "/srv/secret.txt", "outside")

	vfstest.MustWriteString(t, fs, "/docs/readme.txt", "inside")

	assert.Equal(t, "inside", vfstest.MustReadString(t, inner, "/srv/base/docs/readme.txt"))
	assert.Equal(t, []string{"docs"}, vfstest.MustListNames(t, fs, "/"))

	info, err := vfstest.MustFile(t, fs, "/docs/readme.txt").Stat(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "/docs/readme.txt", info.Path.String())
}

func TestRenameCannotEscape(t *testing.T) {
	fs, inner := newSandbox(t)
	f := vfstest.MustWriteString(t, fs, "/a.txt", "a")

	for _, name := range []string{"..", "../escaped", "/escaped", "a/../../b"} {
		_, err := f.Rename(context.Background(), name)
		assert.ErrorIs(t, err, vfs.ErrIllegalPath, name)
	}

	assert.Equal(t, []string{"base"}, vfstest.MustListNames(t, inner, "/srv"))
	assert.Equal(t, "a", vfstest.MustReadString(t, fs, "/a.txt"))
}

func TestRootIsProtected(t *testing.T) {
	fs, inner := newSandbox(t)
	ctx := context.Background()

	assert.ErrorIs(t, fs.Remove(ctx, vfs.Root), vfs.ErrIllegalPath)
	assert.ErrorIs(t, fs.RemoveAll(ctx, vfs.Root), vfs.ErrIllegalPath)
	assert.ErrorIs(t, fs.Rename(ctx, vfs.Root, "other"), vfs.ErrIllegalPath)

	exists, err := vfstest.MustFile(t, inner, "/srv/base").Exists(ctx)
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestErrorsHideBase(t *testing.T) {
	fs, _ := newSandbox(t)
	_, err := vfstest.MustFile(t, fs, "/missing.txt").ReadBytes(context.Background())
	require.Error(t, err)
	assert.NotContains(t, err.Error(), "/srv/base")
	assert.Contains(t, err.Error(), "/missing.txt")
}

func TestHistoryUnsupportedWithoutHistorian(t *testing.T) {
	fs, _ := newSandbox(t)
	f := vfstest.MustWriteString(t, fs, "/a.txt", "a")
	_, err := f.HistoryTimes(context.Background())
	assert.ErrorIs(t, err, vfs.ErrUnsupported)
}
