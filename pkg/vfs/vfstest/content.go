package vfstest

import (
	"bytes"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/pheyse/FileSystemFacade-sub001/pkg/vfs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sampleObject struct {
	Name  string   `json:"name"`
	Count int      `json:"count"`
	Tags  []string `json:"tags"`
}

// RunContentTests checks reads and unversioned writes.
func (suite *Suite) RunContentTests(t *testing.T) {
	t.Run("WriteReadString", func(t *testing.T) {
		fsys := suite.NewFileSystem(t)
		MustWriteString(t, fsys, "/c/hello.txt", "Hello!")
		assert.Equal(t, "Hello!", MustReadString(t, fsys, "/c/hello.txt"))

		isFile, err := MustFile(t, fsys, "/c/hello.txt").IsFile(testContext())
		require.NoError(t, err)
		assert.True(t, isFile)
	})

	t.Run("Overwrite", func(t *testing.T) {
		fsys := suite.NewFileSystem(t)
		MustWriteString(t, fsys, "/c/f.txt", "first version, longer")
		MustWriteString(t, fsys, "/c/f.txt", "second")
		assert.Equal(t, "second", MustReadString(t, fsys, "/c/f.txt"))
	})

	t.Run("EmptyContent", func(t *testing.T) {
		fsys := suite.NewFileSystem(t)
		MustWriteString(t, fsys, "/c/empty", "")
		assert.Equal(t, "", MustReadString(t, fsys, "/c/empty"))
	})

	t.Run("LargeContent", func(t *testing.T) {
		fsys := suite.NewFileSystem(t)
		data := bytes.Repeat([]byte("0123456789abcdef"), 64*1024)
		f := MustFile(t, fsys, "/big.bin")
		require.NoError(t, f.WriteBytes(testContext(), data))

		got, err := f.ReadBytes(testContext())
		require.NoError(t, err)
		assert.True(t, bytes.Equal(data, got))
	})

	t.Run("Length", func(t *testing.T) {
		fsys := suite.NewFileSystem(t)
		f := MustWriteString(t, fsys, "/c/len.txt", "12345")
		length, err := f.Length(testContext())
		require.NoError(t, err)
		if suite.StoredSizeDiffers {
			assert.Greater(t, length, int64(5))
		} else {
			assert.Equal(t, int64(5), length)
		}
	})

	t.Run("StreamWriter", func(t *testing.T) {
		fsys := suite.NewFileSystem(t)
		f := MustFile(t, fsys, "/stream.txt")
		w, err := f.OpenWriter(testContext())
		require.NoError(t, err)
		_, err = io.WriteString(w, "part one, ")
		require.NoError(t, err)
		_, err = io.WriteString(w, "part two")
		require.NoError(t, err)
		require.NoError(t, w.Close())

		r, err := f.OpenReader(testContext())
		require.NoError(t, err)
		defer func() { _ = r.Close() }()
		data, err := io.ReadAll(r)
		require.NoError(t, err)
		assert.Equal(t, "part one, part two", string(data))
	})

	t.Run("ReadMissing", func(t *testing.T) {
		fsys := suite.NewFileSystem(t)
		_, err := MustFile(t, fsys, "/missing.txt").ReadBytes(testContext())
		AssertCode(t, vfs.ErrNotFound, err)
	})

	t.Run("ReadDirectory", func(t *testing.T) {
		fsys := suite.NewFileSystem(t)
		MustMkdirs(t, fsys, "/dir")
		_, err := MustFile(t, fsys, "/dir").ReadBytes(testContext())
		AssertCode(t, vfs.ErrIsDirectory, err)
	})

	t.Run("WriteMissingParent", func(t *testing.T) {
		fsys := suite.NewFileSystem(t)
		err := MustFile(t, fsys, "/no/parent.txt").WriteString(testContext(), "x")
		AssertCode(t, vfs.ErrNotFound, err)
	})

	t.Run("WriteOverDirectory", func(t *testing.T) {
		fsys := suite.NewFileSystem(t)
		MustMkdirs(t, fsys, "/dir")
		err := MustFile(t, fsys, "/dir").WriteString(testContext(), "x")
		AssertCode(t, vfs.ErrIsDirectory, err)
	})

	t.Run("Objects", func(t *testing.T) {
		fsys := suite.NewFileSystem(t)
		f := MustFile(t, fsys, "/obj.json")
		in := sampleObject{Name: "facade", Count: 3, Tags: []string{"a", "b"}}
		require.NoError(t, f.WriteObject(testContext(), in))

		var out sampleObject
		require.NoError(t, f.ReadObject(testContext(), &out))
		assert.Equal(t, in, out)

		require.NoError(t, f.WriteObjectWith(testContext(), vfs.YAML, in))
		out = sampleObject{}
		require.NoError(t, f.ReadObjectWith(testContext(), vfs.YAML, &out))
		assert.Equal(t, in, out)
	})

	t.Run("SetLastModified", func(t *testing.T) {
		fsys := suite.NewFileSystem(t)
		f := MustWriteString(t, fsys, "/c/time.txt", "x")
		when := time.Date(2021, 3, 4, 5, 6, 7, 0, time.UTC)
		require.NoError(t, f.SetLastModified(testContext(), when))

		got, err := f.LastModified(testContext())
		require.NoError(t, err)
		assert.Equal(t, when.UnixMilli(), got.UnixMilli())
	})

	t.Run("SetLastModifiedMissing", func(t *testing.T) {
		fsys := suite.NewFileSystem(t)
		err := MustFile(t, fsys, "/missing").SetLastModified(testContext(), time.Now())
		AssertCode(t, vfs.ErrNotFound, err)
	})
}

// RunVersionTests checks the optimistic-versioning write protocol.
func (suite *Suite) RunVersionTests(t *testing.T) {
	t.Run("CreateWithInitialVersion", func(t *testing.T) {
		fsys := suite.NewFileSystem(t)
		f := MustFile(t, fsys, "/v.txt")

		v1, err := f.WriteStringVersioned(testContext(), vfs.Versioned[string]{Value: "one", Version: vfs.InitialVersion})
		require.NoError(t, err)
		assert.Greater(t, v1, vfs.InitialVersion)

		got, err := f.ReadStringVersioned(testContext())
		require.NoError(t, err)
		assert.Equal(t, "one", got.Value)
		assert.Equal(t, v1, got.Version)
	})

	t.Run("MonotonicVersions", func(t *testing.T) {
		fsys := suite.NewFileSystem(t)
		f := MustFile(t, fsys, "/v.txt")

		version := vfs.InitialVersion
		for i := 0; i < 5; i++ {
			next, err := f.WriteBytesVersioned(testContext(), vfs.Versioned[[]byte]{Value: []byte{byte(i)}, Version: version})
			require.NoError(t, err)
			assert.Greater(t, next, version)
			version = next
		}

		current, err := f.Version(testContext())
		require.NoError(t, err)
		assert.Equal(t, version, current)
	})

	t.Run("StaleVersionRejected", func(t *testing.T) {
		fsys := suite.NewFileSystem(t)
		f := MustFile(t, fsys, "/v.txt")

		v1, err := f.WriteStringVersioned(testContext(), vfs.Versioned[string]{Value: "one"})
		require.NoError(t, err)
		v2, err := f.WriteStringVersioned(testContext(), vfs.Versioned[string]{Value: "two", Version: v1})
		require.NoError(t, err)

		_, err = f.WriteStringVersioned(testContext(), vfs.Versioned[string]{Value: "stale", Version: v1})
		AssertCode(t, vfs.ErrVersionMismatch, err)

		got, err := f.ReadStringVersioned(testContext())
		require.NoError(t, err)
		assert.Equal(t, "two", got.Value)
		assert.Equal(t, v2, got.Version)
	})

	t.Run("InitialVersionOnExistingRejected", func(t *testing.T) {
		fsys := suite.NewFileSystem(t)
		f := MustWriteString(t, fsys, "/v.txt", "existing")

		_, err := f.WriteStringVersioned(testContext(), vfs.Versioned[string]{Value: "clobber", Version: vfs.InitialVersion})
		AssertCode(t, vfs.ErrVersionMismatch, err)
		assert.Equal(t, "existing", MustReadString(t, fsys, "/v.txt"))
	})

	t.Run("NonInitialVersionOnMissingRejected", func(t *testing.T) {
		fsys := suite.NewFileSystem(t)
		f := MustFile(t, fsys, "/nope.txt")

		_, err := f.WriteStringVersioned(testContext(), vfs.Versioned[string]{Value: "x", Version: 42})
		AssertCode(t, vfs.ErrVersionMismatch, err)

		exists, err := f.Exists(testContext())
		require.NoError(t, err)
		assert.False(t, exists)
	})

	t.Run("UnversionedWriteAdvancesVersion", func(t *testing.T) {
		fsys := suite.NewFileSystem(t)
		f := MustFile(t, fsys, "/v.txt")

		v1, err := f.WriteStringVersioned(testContext(), vfs.Versioned[string]{Value: "one"})
		require.NoError(t, err)
		require.NoError(t, f.WriteString(testContext(), "overwrite"))

		v2, err := f.Version(testContext())
		require.NoError(t, err)
		assert.Greater(t, v2, v1)

		_, err = f.WriteStringVersioned(testContext(), vfs.Versioned[string]{Value: "late", Version: v1})
		var fsErr *vfs.Error
		require.True(t, errors.As(err, &fsErr))
		assert.Equal(t, vfs.ErrVersionMismatch, fsErr.Code)
	})

	t.Run("VersionedObjects", func(t *testing.T) {
		fsys := suite.NewFileSystem(t)
		f := MustFile(t, fsys, "/obj.json")

		v1, err := f.WriteObjectVersioned(testContext(), sampleObject{Name: "a"}, vfs.InitialVersion)
		require.NoError(t, err)

		var out sampleObject
		version, err := f.ReadObjectVersioned(testContext(), &out)
		require.NoError(t, err)
		assert.Equal(t, v1, version)
		assert.Equal(t, "a", out.Name)
	})

	t.Run("VersionedWriteOverDirectory", func(t *testing.T) {
		fsys := suite.NewFileSystem(t)
		MustMkdirs(t, fsys, "/dir")
		_, err := MustFile(t, fsys, "/dir").WriteStringVersioned(testContext(), vfs.Versioned[string]{Value: "x"})
		AssertCode(t, vfs.ErrIsDirectory, err)
	})
}

// RunTransferTests checks copy and move, within one filesystem and across
// filesystems.
func (suite *Suite) RunTransferTests(t *testing.T) {
	t.Run("CopyFile", func(t *testing.T) {
		fsys := suite.NewFileSystem(t)
		src := MustWriteString(t, fsys, "/src/a.txt", "copy me")
		MustMkdirs(t, fsys, "/dst")

		require.NoError(t, src.CopyTo(testContext(), MustFile(t, fsys, "/dst/b.txt")))
		assert.Equal(t, "copy me", MustReadString(t, fsys, "/dst/b.txt"))
		assert.Equal(t, "copy me", MustReadString(t, fsys, "/src/a.txt"))
	})

	t.Run("CopyTree", func(t *testing.T) {
		fsys := suite.NewFileSystem(t)
		MustWriteString(t, fsys, "/src/x/1.txt", "one")
		MustWriteString(t, fsys, "/src/2.txt", "two")

		require.NoError(t, MustFile(t, fsys, "/src").CopyTo(testContext(), MustFile(t, fsys, "/copy")))
		assert.Equal(t, "one", MustReadString(t, fsys, "/copy/x/1.txt"))
		assert.Equal(t, "two", MustReadString(t, fsys, "/copy/2.txt"))
	})

	t.Run("CopyIntoItself", func(t *testing.T) {
		fsys := suite.NewFileSystem(t)
		MustWriteString(t, fsys, "/src/1.txt", "one")
		err := MustFile(t, fsys, "/src").CopyTo(testContext(), MustFile(t, fsys, "/src/inner"))
		AssertCode(t, vfs.ErrIllegalPath, err)
	})

	t.Run("MoveFile", func(t *testing.T) {
		fsys := suite.NewFileSystem(t)
		src := MustWriteString(t, fsys, "/m/a.txt", "moving")
		MustMkdirs(t, fsys, "/n")

		require.NoError(t, src.MoveTo(testContext(), MustFile(t, fsys, "/n/b.txt")))
		assert.Equal(t, "moving", MustReadString(t, fsys, "/n/b.txt"))

		exists, err := src.Exists(testContext())
		require.NoError(t, err)
		assert.False(t, exists)
	})

	t.Run("MoveTree", func(t *testing.T) {
		fsys := suite.NewFileSystem(t)
		MustWriteString(t, fsys, "/m/tree/deep/f.txt", "deep")
		MustMkdirs(t, fsys, "/n")

		require.NoError(t, MustFile(t, fsys, "/m/tree").MoveTo(testContext(), MustFile(t, fsys, "/n/tree")))
		assert.Equal(t, "deep", MustReadString(t, fsys, "/n/tree/deep/f.txt"))
		assert.Empty(t, MustListNames(t, fsys, "/m"))
	})

	t.Run("MoveAcrossFileSystems", func(t *testing.T) {
		src := suite.NewFileSystem(t)
		dst := suite.NewFileSystem(t)
		MustWriteString(t, src, "/tree/a/1.txt", "one")
		MustWriteString(t, src, "/tree/2.txt", "two")

		require.NoError(t, MustFile(t, src, "/tree").MoveTo(testContext(), MustFile(t, dst, "/landed")))
		assert.Equal(t, "one", MustReadString(t, dst, "/landed/a/1.txt"))
		assert.Equal(t, "two", MustReadString(t, dst, "/landed/2.txt"))

		exists, err := MustFile(t, src, "/tree").Exists(testContext())
		require.NoError(t, err)
		assert.False(t, exists)
	})
}
