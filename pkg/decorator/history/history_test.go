package history

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/pheyse/FileSystemFacade-sub001/pkg/backend/memory"
	"github.com/pheyse/FileSystemFacade-sub001/pkg/clock"
	"github.com/pheyse/FileSystemFacade-sub001/pkg/vfs"
	"github.com/pheyse/FileSystemFacade-sub001/pkg/vfs/vfstest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var epoch = time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

func newHistory(t *testing.T, cfg Config) (*FileSystem, *memory.FileSystem, *clock.FakeClock) {
	t.Helper()
	fake := clock.Fake(epoch)
	inner := memory.New(memory.Config{Clock: fake})
	cfg.Clock = fake
	fs, err := New(inner, cfg)
	require.NoError(t, err)
	return fs, inner, fake
}

func TestHistoryConformance(t *testing.T) {
	modes := map[string]Config{
		"Versioning": {Versioning: true},
		"History":    {History: true},
		"Both":       {Versioning: true, History: true, MaxRetained: 2},
	}
	for name, cfg := range modes {
		t.Run(name, func(t *testing.T) {
			suite := &vfstest.Suite{
				NewFileSystem: func(t *testing.T) vfs.FileSystem {
					fs, _, _ := newHistory(t, cfg)
					return fs
				},
			}
			suite.Run(t)
		})
	}
}

func TestVersioningKeepsEveryVersion(t *testing.T) {
	ctx := context.Background()
	fs, inner, _ := newHistory(t, Config{Versioning: true})
	f := vfstest.MustFile(t, fs, "/doc.txt")

	var versions []int64
	version := vfs.InitialVersion
	for i := 1; i <= 3; i++ {
		next, err := f.WriteStringVersioned(ctx, vfs.Versioned[string]{Value: fmt.Sprintf("rev %d", i), Version: version})
		require.NoError(t, err)
		versions = append(versions, next)
		version = next
	}

	retained, err := fs.Versions(ctx, f.Path())
	require.NoError(t, err)
	assert.Equal(t, versions[:2], retained)

	for i, v := range retained {
		r, err := fs.OpenVersion(ctx, f.Path(), v)
		require.NoError(t, err)
		data := make([]byte, 16)
		n, _ := r.Read(data)
		_ = r.Close()
		assert.Equal(t, fmt.Sprintf("rev %d", i+1), string(data[:n]))
	}

	assert.Equal(t, []string{"doc.txt"}, vfstest.MustListNames(t, fs, "/"))
	assert.Equal(t, []string{VersionsDirName, "doc.txt"}, vfstest.MustListNames(t, inner, "/"))
}

func TestHistoryRetainsMostRecent(t *testing.T) {
	ctx := context.Background()
	const maxRetained = 3
	fs, _, fake := newHistory(t, Config{History: true, MaxRetained: maxRetained})
	f := vfstest.MustFile(t, fs, "/notes.txt")

	const writes = 8
	for i := 0; i < writes; i++ {
		require.NoError(t, f.WriteString(ctx, fmt.Sprintf("content %d", i)))
		fake.Advance(time.Second)

		ids, err := f.HistoryTimes(ctx)
		require.NoError(t, err)
		assert.LessOrEqual(t, len(ids), maxRetained)
	}

	ids, err := f.HistoryTimes(ctx)
	require.NoError(t, err)
	require.Len(t, ids, maxRetained)

	// Retained entries are the superseded contents of the last writes.
	for i, id := range ids {
		data, err := f.ReadHistoryBytes(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, fmt.Sprintf("content %d", writes-1-maxRetained+i), string(data))
	}
	assert.Equal(t, "content 7", vfstest.MustReadString(t, fs, "/notes.txt"))
}

func TestHistoryIDsStrictlyIncrease(t *testing.T) {
	ctx := context.Background()
	fs, _, _ := newHistory(t, Config{History: true})
	f := vfstest.MustFile(t, fs, "/same-millisecond.txt")

	// The clock never advances: ids must still be distinct.
	for i := 0; i < 4; i++ {
		require.NoError(t, f.WriteString(ctx, fmt.Sprint(i)))
	}
	ids, err := f.HistoryTimes(ctx)
	require.NoError(t, err)
	require.Len(t, ids, 3)
	assert.Equal(t, epoch.UnixMilli(), ids[0])
	assert.Equal(t, []int64{ids[0], ids[0] + 1, ids[0] + 2}, ids)
}

func TestStaleWriteTouchesNothing(t *testing.T) {
	ctx := context.Background()
	fs, _, _ := newHistory(t, Config{Versioning: true, History: true})
	f := vfstest.MustFile(t, fs, "/v.txt")

	v1, err := f.WriteStringVersioned(ctx, vfs.Versioned[string]{Value: "one"})
	require.NoError(t, err)
	_, err = f.WriteStringVersioned(ctx, vfs.Versioned[string]{Value: "two", Version: v1})
	require.NoError(t, err)

	historyBefore, err := f.HistoryTimes(ctx)
	require.NoError(t, err)
	versionsBefore, err := fs.Versions(ctx, f.Path())
	require.NoError(t, err)

	_, err = f.WriteStringVersioned(ctx, vfs.Versioned[string]{Value: "stale", Version: v1})
	require.ErrorIs(t, err, vfs.ErrVersionMismatch)

	historyAfter, err := f.HistoryTimes(ctx)
	require.NoError(t, err)
	versionsAfter, err := fs.Versions(ctx, f.Path())
	require.NoError(t, err)

	assert.Equal(t, historyBefore, historyAfter)
	assert.Equal(t, versionsBefore, versionsAfter)
	assert.Equal(t, "two", vfstest.MustReadString(t, fs, "/v.txt"))
}

func TestDeletedContentMovesToHistory(t *testing.T) {
	ctx := context.Background()
	fs, inner, _ := newHistory(t, Config{Versioning: true, History: true})
	f := vfstest.MustWriteString(t, fs, "/dir/gone.txt", "last words")
	require.NoError(t, f.WriteString(ctx, "final words"))

	require.NoError(t, f.Delete(ctx))

	ids, err := f.HistoryTimes(ctx)
	require.NoError(t, err)
	require.Len(t, ids, 2)
	data, err := f.ReadHistoryBytes(ctx, ids[1])
	require.NoError(t, err)
	assert.Equal(t, "final words", string(data))

	// The version sidecar is gone with its file.
	assert.Empty(t, vfstest.MustListNames(t, inner, "/dir"))
	require.NoError(t, vfstest.MustFile(t, fs, "/dir").Delete(ctx))
}

func TestReservedNames(t *testing.T) {
	ctx := context.Background()
	fs, _, _ := newHistory(t, Config{Versioning: true, History: true})

	for _, raw := range []string{"/.history", "/.history/x", "/a/.versions", "/.versions/x"} {
		_, err := fs.Resolve(raw)
		assert.ErrorIs(t, err, vfs.ErrIllegalPath, raw)
	}
	// Only the top-level history directory is reserved.
	_, err := fs.Resolve("/a/.history")
	assert.NoError(t, err)

	f := vfstest.MustWriteString(t, fs, "/a.txt", "a")
	_, err = f.Rename(ctx, ".history")
	assert.ErrorIs(t, err, vfs.ErrIllegalPath)
	_, err = f.Rename(ctx, VersionsDirName)
	assert.ErrorIs(t, err, vfs.ErrIllegalPath)
}

func TestRenameCarriesEntries(t *testing.T) {
	ctx := context.Background()
	fs, _, fake := newHistory(t, Config{Versioning: true, History: true})
	f := vfstest.MustWriteString(t, fs, "/dir/old.txt", "1")
	fake.Advance(time.Second)
	require.NoError(t, f.WriteString(ctx, "2"))

	renamed, err := f.Rename(ctx, "new.txt")
	require.NoError(t, err)

	ids, err := renamed.HistoryTimes(ctx)
	require.NoError(t, err)
	assert.Len(t, ids, 1)
	versions, err := fs.Versions(ctx, renamed.Path())
	require.NoError(t, err)
	assert.Len(t, versions, 1)

	ids, err = f.HistoryTimes(ctx)
	require.NoError(t, err)
	assert.Empty(t, ids)

	// Renaming a directory moves the history of its descendants.
	_, err = vfstest.MustFile(t, fs, "/dir").Rename(ctx, "moved")
	require.NoError(t, err)
	ids, err = vfstest.MustFile(t, fs, "/moved/new.txt").HistoryTimes(ctx)
	require.NoError(t, err)
	assert.Len(t, ids, 1)
}

func TestCopyHistoryTree(t *testing.T) {
	ctx := context.Background()
	fs, _, fake := newHistory(t, Config{History: true})
	a := vfstest.MustWriteString(t, fs, "/tree/a.txt", "a1")
	b := vfstest.MustWriteString(t, fs, "/tree/sub/b.txt", "b1")
	fake.Advance(time.Second)
	require.NoError(t, a.WriteString(ctx, "a2"))
	require.NoError(t, b.Delete(ctx))

	export := memory.New(memory.Config{})
	dst := vfstest.MustFile(t, export, "/export")
	require.NoError(t, vfstest.MustFile(t, fs, "/tree").CopyHistoryTree(ctx, dst))

	aIDs := vfstest.MustListNames(t, export, "/export/a.txt")
	require.Len(t, aIDs, 1)
	assert.Equal(t, "a1", vfstest.MustReadString(t, export, "/export/a.txt/"+aIDs[0]))

	bIDs := vfstest.MustListNames(t, export, "/export/sub/b.txt")
	require.Len(t, bIDs, 1)
	assert.Equal(t, "b1", vfstest.MustReadString(t, export, "/export/sub/b.txt/"+bIDs[0]))
}

func TestVersioningOnlyServesVersionsAsHistory(t *testing.T) {
	ctx := context.Background()
	fs, _, _ := newHistory(t, Config{Versioning: true})
	f := vfstest.MustWriteString(t, fs, "/a.txt", "1")
	require.NoError(t, f.WriteString(ctx, "2"))

	ids, err := f.HistoryTimes(ctx)
	require.NoError(t, err)
	assert.Equal(t, []int64{1}, ids)
	data, err := f.ReadHistoryBytes(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "1", string(data))
}

func TestNoModeIsUnsupported(t *testing.T) {
	fs, _, _ := newHistory(t, Config{})
	f := vfstest.MustWriteString(t, fs, "/a.txt", "1")
	_, err := f.HistoryTimes(context.Background())
	assert.ErrorIs(t, err, vfs.ErrUnsupported)
}
