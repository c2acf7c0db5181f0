package vfstest

import (
	"testing"

	"github.com/pheyse/FileSystemFacade-sub001/pkg/vfs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// RunPathTests checks path resolution rules.
func (suite *Suite) RunPathTests(t *testing.T) {
	t.Run("ResolveRoot", func(t *testing.T) {
		fsys := suite.NewFileSystem(t)
		for _, raw := range []string{"", "/"} {
			f, err := vfs.CreateByPath(fsys, raw)
			require.NoError(t, err)
			assert.True(t, f.Path().IsRoot())
		}
	})

	t.Run("ResolveNeverTouchesStorage", func(t *testing.T) {
		fsys := suite.NewFileSystem(t)
		f, err := vfs.CreateByPath(fsys, "/does/not/exist.txt")
		require.NoError(t, err)
		assert.Equal(t, "/does/not/exist.txt", f.AbsolutePath())

		exists, err := f.Exists(testContext())
		require.NoError(t, err)
		assert.False(t, exists)
	})

	t.Run("ResolveRejectsIllegalPaths", func(t *testing.T) {
		fsys := suite.NewFileSystem(t)
		for _, raw := range []string{"relative", "/a/../b", "/..", "/a//b", "/./a"} {
			_, err := vfs.CreateByPath(fsys, raw)
			AssertCode(t, vfs.ErrIllegalPath, err)
		}
	})

	t.Run("RootIsDirectory", func(t *testing.T) {
		fsys := suite.NewFileSystem(t)
		roots, err := fsys.Roots(testContext())
		require.NoError(t, err)
		require.NotEmpty(t, roots)

		isDir, err := vfs.NewFile(fsys, roots[0]).IsDirectory(testContext())
		require.NoError(t, err)
		assert.True(t, isDir)
	})
}

// RunStructureTests checks directory and namespace operations.
func (suite *Suite) RunStructureTests(t *testing.T) {
	t.Run("MkdirAndStat", func(t *testing.T) {
		fsys := suite.NewFileSystem(t)
		dir := MustFile(t, fsys, "/docs")
		require.NoError(t, dir.Mkdir(testContext()))

		info, err := dir.Stat(testContext())
		require.NoError(t, err)
		assert.True(t, info.IsDir())
		assert.Equal(t, "docs", info.Name())
	})

	t.Run("MkdirExisting", func(t *testing.T) {
		fsys := suite.NewFileSystem(t)
		dir := MustMkdirs(t, fsys, "/docs")
		AssertCode(t, vfs.ErrAlreadyExists, dir.Mkdir(testContext()))
	})

	t.Run("MkdirMissingParent", func(t *testing.T) {
		fsys := suite.NewFileSystem(t)
		AssertCode(t, vfs.ErrNotFound, MustFile(t, fsys, "/a/b").Mkdir(testContext()))
	})

	t.Run("MkdirsNested", func(t *testing.T) {
		fsys := suite.NewFileSystem(t)
		MustMkdirs(t, fsys, "/a/b/c")
		for _, raw := range []string{"/a", "/a/b", "/a/b/c"} {
			isDir, err := MustFile(t, fsys, raw).IsDirectory(testContext())
			require.NoError(t, err)
			assert.True(t, isDir, raw)
		}
		// Idempotent on existing directories.
		MustMkdirs(t, fsys, "/a/b/c")
	})

	t.Run("MkdirsThroughFile", func(t *testing.T) {
		fsys := suite.NewFileSystem(t)
		MustWriteString(t, fsys, "/a/file", "x")
		AssertCode(t, vfs.ErrNotDirectory, MustFile(t, fsys, "/a/file/sub").Mkdirs(testContext()))
	})

	t.Run("ListFilesOrdered", func(t *testing.T) {
		fsys := suite.NewFileSystem(t)
		MustMkdirs(t, fsys, "/dir/b")
		MustWriteString(t, fsys, "/dir/c.txt", "c")
		MustWriteString(t, fsys, "/dir/a.txt", "a")

		assert.Equal(t, []string{"a.txt", "b", "c.txt"}, MustListNames(t, fsys, "/dir"))

		files, err := MustFile(t, fsys, "/dir").ListFiles(testContext())
		require.NoError(t, err)
		require.Len(t, files, 3)
		assert.Equal(t, "/dir/b", files[1].AbsolutePath())
	})

	t.Run("ListEmptyDirectory", func(t *testing.T) {
		fsys := suite.NewFileSystem(t)
		MustMkdirs(t, fsys, "/empty")
		assert.Empty(t, MustListNames(t, fsys, "/empty"))
	})

	t.Run("ListFileFails", func(t *testing.T) {
		fsys := suite.NewFileSystem(t)
		MustWriteString(t, fsys, "/file.txt", "x")
		_, err := MustFile(t, fsys, "/file.txt").ListNames(testContext())
		AssertCode(t, vfs.ErrNotDirectory, err)
	})

	t.Run("ListMissingFails", func(t *testing.T) {
		fsys := suite.NewFileSystem(t)
		_, err := MustFile(t, fsys, "/missing").ListNames(testContext())
		AssertCode(t, vfs.ErrNotFound, err)
	})

	t.Run("ListTreePreOrder", func(t *testing.T) {
		fsys := suite.NewFileSystem(t)
		MustWriteString(t, fsys, "/t/a/one.txt", "1")
		MustWriteString(t, fsys, "/t/b.txt", "2")

		tree, err := MustFile(t, fsys, "/t").ListTree(testContext())
		require.NoError(t, err)

		var paths []string
		for _, f := range tree {
			paths = append(paths, f.AbsolutePath())
		}
		assert.Equal(t, []string{"/t/a", "/t/a/one.txt", "/t/b.txt"}, paths)
	})

	t.Run("DeleteFile", func(t *testing.T) {
		fsys := suite.NewFileSystem(t)
		f := MustWriteString(t, fsys, "/d/file.txt", "x")
		require.NoError(t, f.Delete(testContext()))

		exists, err := f.Exists(testContext())
		require.NoError(t, err)
		assert.False(t, exists)
		assert.Empty(t, MustListNames(t, fsys, "/d"))
	})

	t.Run("DeleteNonEmptyDirectory", func(t *testing.T) {
		fsys := suite.NewFileSystem(t)
		MustWriteString(t, fsys, "/d/file.txt", "x")
		AssertCode(t, vfs.ErrNotEmpty, MustFile(t, fsys, "/d").Delete(testContext()))
	})

	t.Run("DeleteMissing", func(t *testing.T) {
		fsys := suite.NewFileSystem(t)
		AssertCode(t, vfs.ErrNotFound, MustFile(t, fsys, "/missing").Delete(testContext()))
	})

	t.Run("DeleteTree", func(t *testing.T) {
		fsys := suite.NewFileSystem(t)
		MustWriteString(t, fsys, "/tree/a/b/c.txt", "c")
		MustWriteString(t, fsys, "/tree/d.txt", "d")
		MustWriteString(t, fsys, "/keep.txt", "k")

		require.NoError(t, MustFile(t, fsys, "/tree").DeleteTree(testContext()))

		exists, err := MustFile(t, fsys, "/tree").Exists(testContext())
		require.NoError(t, err)
		assert.False(t, exists)
		assert.Equal(t, "k", MustReadString(t, fsys, "/keep.txt"))
	})

	t.Run("RenameFile", func(t *testing.T) {
		fsys := suite.NewFileSystem(t)
		f := MustWriteString(t, fsys, "/r/old.txt", "payload")

		renamed, err := f.Rename(testContext(), "new.txt")
		require.NoError(t, err)
		assert.Equal(t, "/r/new.txt", renamed.AbsolutePath())
		assert.Equal(t, []string{"new.txt"}, MustListNames(t, fsys, "/r"))
		assert.Equal(t, "payload", MustReadString(t, fsys, "/r/new.txt"))
	})

	t.Run("RenameDirectoryWithChildren", func(t *testing.T) {
		fsys := suite.NewFileSystem(t)
		MustWriteString(t, fsys, "/r/dir/sub/file.txt", "deep")

		_, err := MustFile(t, fsys, "/r/dir").Rename(testContext(), "moved")
		require.NoError(t, err)
		assert.Equal(t, "deep", MustReadString(t, fsys, "/r/moved/sub/file.txt"))
		assert.Equal(t, []string{"moved"}, MustListNames(t, fsys, "/r"))
	})

	t.Run("RenameOntoExisting", func(t *testing.T) {
		fsys := suite.NewFileSystem(t)
		f := MustWriteString(t, fsys, "/r/a.txt", "a")
		MustWriteString(t, fsys, "/r/b.txt", "b")

		_, err := f.Rename(testContext(), "b.txt")
		AssertCode(t, vfs.ErrAlreadyExists, err)
		assert.Equal(t, "b", MustReadString(t, fsys, "/r/b.txt"))
	})

	t.Run("RenameRejectsTraversal", func(t *testing.T) {
		fsys := suite.NewFileSystem(t)
		f := MustWriteString(t, fsys, "/r/a.txt", "a")
		for _, name := range []string{"..", "x/y", ""} {
			_, err := f.Rename(testContext(), name)
			AssertCode(t, vfs.ErrIllegalPath, err)
		}
		assert.Equal(t, "a", MustReadString(t, fsys, "/r/a.txt"))
	})

	t.Run("RenameMissing", func(t *testing.T) {
		fsys := suite.NewFileSystem(t)
		MustMkdirs(t, fsys, "/r")
		_, err := MustFile(t, fsys, "/r/missing").Rename(testContext(), "other")
		AssertCode(t, vfs.ErrNotFound, err)
	})
}
