package host

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pheyse/FileSystemFacade-sub001/pkg/clock"
	"github.com/pheyse/FileSystemFacade-sub001/pkg/vfs"
	"github.com/pheyse/FileSystemFacade-sub001/pkg/vfs/vfstest"
)

func TestMemMapConformance(t *testing.T) {
	suite := &vfstest.Suite{
		NewFileSystem: func(t *testing.T) vfs.FileSystem {
			return NewMemory()
		},
	}
	suite.Run(t)
}

func TestOSConformance(t *testing.T) {
	suite := &vfstest.Suite{
		NewFileSystem: func(t *testing.T) vfs.FileSystem {
			fsys, err := New(Config{Root: t.TempDir()})
			require.NoError(t, err)
			return fsys
		},
	}
	suite.Run(t)
}

func TestRootMustBeDirectory(t *testing.T) {
	_, err := New(Config{})
	require.Error(t, err)

	file := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0o644))
	_, err = New(Config{Root: file})
	require.Error(t, err)
}

func TestWritesStayBelowRoot(t *testing.T) {
	root := t.TempDir()
	fsys, err := New(Config{Root: root})
	require.NoError(t, err)

	vfstest.MustWriteString(t, fsys, "/nested/file.txt", "on disk")
	data, err := os.ReadFile(filepath.Join(root, "nested", "file.txt"))
	require.NoError(t, err)
	assert.Equal(t, "on disk", string(data))
}

func TestVersionIsModificationTime(t *testing.T) {
	fake := clock.Fake(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	fsys, err := New(Config{Fs: afero.NewMemMapFs(), Clock: fake})
	require.NoError(t, err)
	ctx := context.Background()
	f := vfstest.MustFile(t, fsys, "/clock.txt")

	v1, err := f.WriteStringVersioned(ctx, vfs.Versioned[string]{Value: "one"})
	require.NoError(t, err)
	assert.Equal(t, fake.Now().UnixNano(), v1)

	// The clock has not moved; the version still must.
	v2, err := f.WriteStringVersioned(ctx, vfs.Versioned[string]{Value: "two", Version: v1})
	require.NoError(t, err)
	assert.Greater(t, v2, v1)

	info, err := f.Stat(ctx)
	require.NoError(t, err)
	assert.Equal(t, v2, info.Version)
	assert.Equal(t, v2, info.ModTime.UnixNano())
}

func TestSetModTimeNeverReissuesVersion(t *testing.T) {
	fake := clock.Fake(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	fsys, err := New(Config{Fs: afero.NewMemMapFs(), Clock: fake})
	require.NoError(t, err)
	ctx := context.Background()
	f := vfstest.MustFile(t, fsys, "/doc.txt")

	v1, err := f.WriteStringVersioned(ctx, vfs.Versioned[string]{Value: "one"})
	require.NoError(t, err)
	v2, err := f.WriteStringVersioned(ctx, vfs.Versioned[string]{Value: "two", Version: v1})
	require.NoError(t, err)

	require.NoError(t, f.SetLastModified(ctx, time.Unix(0, v1)))
	info, err := f.Stat(ctx)
	require.NoError(t, err)
	assert.Equal(t, v1, info.ModTime.UnixNano())
	assert.Greater(t, info.Version, v2)

	read, err := fsys.ReadVersioned(ctx, info.Path)
	require.NoError(t, err)
	assert.Equal(t, info.Version, read.Version)

	_, err = f.WriteStringVersioned(ctx, vfs.Versioned[string]{Value: "stale", Version: v1})
	assert.ErrorIs(t, err, vfs.ErrVersionMismatch)

	v3, err := f.WriteStringVersioned(ctx, vfs.Versioned[string]{Value: "three", Version: info.Version})
	require.NoError(t, err)
	assert.Greater(t, v3, info.Version)

	info, err = f.Stat(ctx)
	require.NoError(t, err)
	assert.Equal(t, v3, info.Version)
	assert.Equal(t, v3, info.ModTime.UnixNano())
}

func TestRenameRejectsHostSeparator(t *testing.T) {
	fsys := NewMemory()
	f := vfstest.MustWriteString(t, fsys, "/a.txt", "a")
	_, err := f.Rename(context.Background(), "x"+fsys.Separator()+"y")
	vfstest.AssertCode(t, vfs.ErrIllegalPath, err)
}
