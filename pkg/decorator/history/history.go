// Package history provides a decorator that retains prior file content.
//
// Two independent modes are supported:
//
//   - Versioning: before a file is overwritten, its current content is kept
//     next to it under .versions/<name>/<version>, so every retained
//     version stays individually readable.
//   - History: overwritten and deleted content is kept in a parallel tree
//     below a configurable directory (".history" by default), identified by
//     the Unix-millisecond time it was superseded.
//
// Both stores are bounded by MaxRetained entries per file; the oldest
// entries are evicted first. Retention areas are hidden from listings and
// cannot be addressed through the decorator.
package history

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/pheyse/FileSystemFacade-sub001/internal/logger"
	"github.com/pheyse/FileSystemFacade-sub001/pkg/clock"
	"github.com/pheyse/FileSystemFacade-sub001/pkg/vfs"
)

const (
	// DefaultHistoryDir is the root directory of the history store.
	DefaultHistoryDir = ".history"

	// DefaultMaxRetained is the default per-file retention bound.
	DefaultMaxRetained = 10
)

// Config configures the decorator.
type Config struct {
	// Versioning keeps every superseded version next to its file.
	Versioning bool

	// History keeps overwritten and deleted content in the history tree.
	History bool

	// HistoryDir names the top-level directory of the history tree.
	HistoryDir string

	// MaxRetained bounds the number of entries kept per file and store.
	MaxRetained int

	// Clock supplies history identifiers. Defaults to the real clock.
	Clock clock.Clock
}

// FileSystem is a history-keeping vfs.FileSystem decorator.
type FileSystem struct {
	inner    vfs.FileSystem
	cfg      Config
	clock    clock.Clock
	versions *store
	history  *store
}

var (
	_ vfs.FileSystem  = (*FileSystem)(nil)
	_ vfs.Mover       = (*FileSystem)(nil)
	_ vfs.TreeRemover = (*FileSystem)(nil)
	_ vfs.Historian   = (*FileSystem)(nil)
	_ vfs.Unwrapper   = (*FileSystem)(nil)
)

// New wraps inner. At least one of Versioning and History should be set;
// with neither, the decorator only hides retention areas.
func New(inner vfs.FileSystem, cfg Config) (*FileSystem, error) {
	if cfg.HistoryDir == "" {
		cfg.HistoryDir = DefaultHistoryDir
	}
	if cfg.MaxRetained == 0 {
		cfg.MaxRetained = DefaultMaxRetained
	}
	if cfg.MaxRetained < 0 {
		return nil, errors.New("history: MaxRetained must not be negative")
	}
	if err := vfs.ValidateName(cfg.HistoryDir); err != nil {
		return nil, err
	}
	if cfg.HistoryDir == VersionsDirName {
		return nil, errors.New("history: HistoryDir collides with the versions directory")
	}

	historyRoot, _ := vfs.Root.Child(cfg.HistoryDir)
	fs := &FileSystem{
		inner: inner,
		cfg:   cfg,
		clock: clock.Or(cfg.Clock),
		versions: &store{
			inner: inner,
			root:  vfs.Root,
			kind:  "version",
			max:   cfg.MaxRetained,
		},
		history: &store{
			inner: inner,
			root:  historyRoot,
			kind:  "history",
			max:   cfg.MaxRetained,
		},
	}
	return fs, nil
}

// Unwrap implements vfs.Unwrapper.
func (fs *FileSystem) Unwrap() vfs.FileSystem { return fs.inner }

// Name implements vfs.FileSystem.
func (fs *FileSystem) Name() string { return "history(" + fs.inner.Name() + ")" }

// Separator implements vfs.FileSystem.
func (fs *FileSystem) Separator() string { return vfs.Separator }

// Roots implements vfs.FileSystem.
func (fs *FileSystem) Roots(ctx context.Context) ([]vfs.Path, error) {
	return fs.inner.Roots(ctx)
}

// Resolve implements vfs.FileSystem. Paths into retention areas are
// rejected.
func (fs *FileSystem) Resolve(raw string) (vfs.Path, error) {
	p, err := vfs.ParsePath(raw)
	if err != nil {
		return vfs.Path{}, err
	}
	if err := fs.guard("resolve", p); err != nil {
		return vfs.Path{}, err
	}
	return p, nil
}

func (fs *FileSystem) reservedName(parent vfs.Path, name string) bool {
	if name == VersionsDirName {
		return true
	}
	return fs.cfg.History && parent.IsRoot() && name == fs.cfg.HistoryDir
}

func (fs *FileSystem) guard(op string, p vfs.Path) error {
	parent := vfs.Root
	for _, seg := range p.Segments() {
		if fs.reservedName(parent, seg) {
			return vfs.NewError(vfs.ErrIllegalPath, op, p, "reserved name "+seg)
		}
		parent, _ = parent.Child(seg)
	}
	return nil
}

// stat returns the inner node at p; ok is false when it does not exist.
func (fs *FileSystem) stat(ctx context.Context, p vfs.Path) (vfs.Info, bool, error) {
	info, err := fs.inner.Stat(ctx, p)
	if errors.Is(err, vfs.ErrNotFound) {
		return vfs.Info{}, false, nil
	}
	if err != nil {
		return vfs.Info{}, false, err
	}
	return info, true, nil
}

// nextHistoryID returns a timestamp id strictly greater than every id
// already retained for p.
func (fs *FileSystem) nextHistoryID(ctx context.Context, p vfs.Path) (int64, error) {
	id := fs.clock.Now().UnixMilli()
	ids, err := fs.history.ids(ctx, p)
	if err != nil {
		return 0, err
	}
	if n := len(ids); n > 0 && ids[n-1] >= id {
		id = ids[n-1] + 1
	}
	return id, nil
}

// retain keeps the current content of the existing file p in every enabled
// store. With move set, the content is moved into history instead of being
// copied; the version store never outlives its file.
func (fs *FileSystem) retain(ctx context.Context, p vfs.Path, info vfs.Info, move bool) error {
	if fs.cfg.Versioning && !move && info.Version != vfs.InitialVersion {
		if err := fs.versions.retain(ctx, p, info.Version, false); err != nil {
			return err
		}
	}
	if fs.cfg.History {
		id, err := fs.nextHistoryID(ctx, p)
		if err != nil {
			return err
		}
		if err := fs.history.retain(ctx, p, id, move); err != nil {
			return err
		}
	}
	return nil
}

// ============================================================================
// FileSystem
// ============================================================================

// Stat implements vfs.FileSystem.
func (fs *FileSystem) Stat(ctx context.Context, p vfs.Path) (vfs.Info, error) {
	if err := fs.guard("stat", p); err != nil {
		return vfs.Info{}, err
	}
	return fs.inner.Stat(ctx, p)
}

// ReadDir implements vfs.FileSystem. Retention areas are omitted.
func (fs *FileSystem) ReadDir(ctx context.Context, p vfs.Path) ([]vfs.Info, error) {
	if err := fs.guard("list", p); err != nil {
		return nil, err
	}
	infos, err := fs.inner.ReadDir(ctx, p)
	if err != nil {
		return nil, err
	}
	out := infos[:0]
	for _, info := range infos {
		if !fs.reservedName(p, info.Name()) {
			out = append(out, info)
		}
	}
	return out, nil
}

// Mkdir implements vfs.FileSystem.
func (fs *FileSystem) Mkdir(ctx context.Context, p vfs.Path) error {
	if err := fs.guard("mkdir", p); err != nil {
		return err
	}
	return fs.inner.Mkdir(ctx, p)
}

// Remove implements vfs.FileSystem. A removed file's content moves to the
// history store (in history mode) and its retained versions are dropped.
func (fs *FileSystem) Remove(ctx context.Context, p vfs.Path) error {
	if err := fs.guard("remove", p); err != nil {
		return err
	}
	info, ok, err := fs.stat(ctx, p)
	if err != nil {
		return err
	}
	if !ok {
		return vfs.NotFound("remove", p)
	}

	if info.IsDir() {
		if err := fs.versions.removeIfEmpty(ctx, mustChild(p, VersionsDirName)); err != nil {
			return err
		}
		return fs.inner.Remove(ctx, p)
	}
	return fs.removeFile(ctx, p, info)
}

func (fs *FileSystem) removeFile(ctx context.Context, p vfs.Path, info vfs.Info) error {
	if _, ok := p.Parent(); !ok {
		return vfs.NewError(vfs.ErrIllegalPath, "remove", p, "cannot remove the root")
	}
	if fs.cfg.History {
		// Moving the content into history removes the file.
		if err := fs.retain(ctx, p, info, true); err != nil {
			return err
		}
	} else if err := fs.inner.Remove(ctx, p); err != nil {
		return err
	}
	if fs.cfg.Versioning {
		return fs.versions.drop(ctx, p)
	}
	return nil
}

// RemoveAll implements vfs.TreeRemover. In history mode every file of the
// subtree is retained first.
func (fs *FileSystem) RemoveAll(ctx context.Context, p vfs.Path) error {
	if err := fs.guard("remove-all", p); err != nil {
		return err
	}
	info, ok, err := fs.stat(ctx, p)
	if err != nil {
		return err
	}
	if !ok {
		return vfs.NotFound("remove-all", p)
	}
	if !info.IsDir() {
		return fs.removeFile(ctx, p, info)
	}

	if fs.cfg.History {
		tree, err := vfs.NewFile(fs, p).ListTree(ctx)
		if err != nil {
			return err
		}
		for _, f := range tree {
			child, err := f.Stat(ctx)
			if err != nil {
				return err
			}
			if !child.IsDir() {
				if err := fs.retain(ctx, child.Path, child, true); err != nil {
					return err
				}
			}
		}
	}
	return vfs.NewFile(fs.inner, p).DeleteTree(ctx)
}

// Rename implements vfs.FileSystem. Retained entries follow the node.
func (fs *FileSystem) Rename(ctx context.Context, p vfs.Path, newName string) error {
	if err := vfs.ValidateName(newName); err != nil {
		return err
	}
	parent, ok := p.Parent()
	if !ok {
		return vfs.NewError(vfs.ErrIllegalPath, "rename", p, "cannot rename the root")
	}
	if fs.reservedName(parent, newName) {
		return vfs.NewError(vfs.ErrIllegalPath, "rename", p, "reserved name "+newName)
	}
	if err := fs.guard("rename", p); err != nil {
		return err
	}
	if err := fs.inner.Rename(ctx, p, newName); err != nil {
		return err
	}
	dst, err := p.WithName(newName)
	if err != nil {
		return err
	}
	return fs.relocate(ctx, p, dst)
}

// Move implements vfs.Mover.
func (fs *FileSystem) Move(ctx context.Context, src, dst vfs.Path) error {
	if err := fs.guard("move", src); err != nil {
		return err
	}
	if err := fs.guard("move", dst); err != nil {
		return err
	}
	if err := vfs.NewFile(fs.inner, src).MoveTo(ctx, vfs.NewFile(fs.inner, dst)); err != nil {
		return err
	}
	return fs.relocate(ctx, src, dst)
}

func (fs *FileSystem) relocate(ctx context.Context, src, dst vfs.Path) error {
	if err := fs.versions.relocate(ctx, src, dst); err != nil {
		logger.Warn("history: moving versions of %s to %s: %v", src.Display(), dst.Display(), err)
		return err
	}
	if fs.cfg.History {
		if err := fs.history.relocate(ctx, src, dst); err != nil {
			logger.Warn("history: moving history of %s to %s: %v", src.Display(), dst.Display(), err)
			return err
		}
	}
	return nil
}

// SetModTime implements vfs.FileSystem.
func (fs *FileSystem) SetModTime(ctx context.Context, p vfs.Path, t time.Time) error {
	if err := fs.guard("set-modtime", p); err != nil {
		return err
	}
	return fs.inner.SetModTime(ctx, p, t)
}

// ============================================================================
// Content
// ============================================================================

// Open implements vfs.FileSystem.
func (fs *FileSystem) Open(ctx context.Context, p vfs.Path) (io.ReadCloser, error) {
	if err := fs.guard("open", p); err != nil {
		return nil, err
	}
	return fs.inner.Open(ctx, p)
}

// ReadVersioned implements vfs.FileSystem.
func (fs *FileSystem) ReadVersioned(ctx context.Context, p vfs.Path) (vfs.Versioned[[]byte], error) {
	if err := fs.guard("read", p); err != nil {
		return vfs.Versioned[[]byte]{}, err
	}
	return fs.inner.ReadVersioned(ctx, p)
}

// Create implements vfs.FileSystem. The previous content is retained when
// the writer is closed.
func (fs *FileSystem) Create(ctx context.Context, p vfs.Path) (io.WriteCloser, error) {
	if err := fs.guard("create", p); err != nil {
		return nil, err
	}
	info, ok, err := fs.stat(ctx, p)
	if err != nil {
		return nil, err
	}
	if ok && info.IsDir() {
		return nil, vfs.NewError(vfs.ErrIsDirectory, "create", p, "")
	}
	return vfs.NewBufferedWriter(func(data []byte) error {
		_, err := fs.write(ctx, "create", p, data, nil)
		return err
	}), nil
}

// WriteVersioned implements vfs.FileSystem. The asserted version is checked
// before anything is retained, so a mismatch leaves every store untouched.
func (fs *FileSystem) WriteVersioned(ctx context.Context, p vfs.Path, data []byte, expected int64) (int64, error) {
	if err := fs.guard("write", p); err != nil {
		return 0, err
	}
	return fs.write(ctx, "write", p, data, &expected)
}

func (fs *FileSystem) write(ctx context.Context, op string, p vfs.Path, data []byte, expected *int64) (int64, error) {
	info, exists, err := fs.stat(ctx, p)
	if err != nil {
		return 0, err
	}
	if exists && info.IsDir() {
		return 0, vfs.NewError(vfs.ErrIsDirectory, op, p, "")
	}

	if expected != nil {
		actual := vfs.InitialVersion
		if exists {
			actual = info.Version
		}
		if *expected != actual {
			return 0, vfs.VersionMismatch(op, p, *expected, actual)
		}
	}

	if exists {
		if err := fs.retain(ctx, p, info, false); err != nil {
			return 0, err
		}
	}

	if expected != nil {
		return fs.inner.WriteVersioned(ctx, p, data, *expected)
	}
	return 0, vfs.NewFile(fs.inner, p).WriteBytes(ctx, data)
}

// ============================================================================
// History access
// ============================================================================

// primary is the store served through vfs.Historian.
func (fs *FileSystem) primary(op string, p vfs.Path) (*store, error) {
	switch {
	case fs.cfg.History:
		return fs.history, nil
	case fs.cfg.Versioning:
		return fs.versions, nil
	}
	return nil, vfs.Unsupported(op, p)
}

// HistoryTimes implements vfs.Historian. In history mode the ids are
// Unix-millisecond timestamps; in versioning-only mode they are the
// retained version numbers.
func (fs *FileSystem) HistoryTimes(ctx context.Context, p vfs.Path) ([]int64, error) {
	if err := fs.guard("history-times", p); err != nil {
		return nil, err
	}
	s, err := fs.primary("history-times", p)
	if err != nil {
		return nil, err
	}
	return s.ids(ctx, p)
}

// OpenHistory implements vfs.Historian.
func (fs *FileSystem) OpenHistory(ctx context.Context, p vfs.Path, id int64) (io.ReadCloser, error) {
	if err := fs.guard("open-history", p); err != nil {
		return nil, err
	}
	s, err := fs.primary("open-history", p)
	if err != nil {
		return nil, err
	}
	return s.open(ctx, p, id)
}

// CopyHistoryTree implements vfs.Historian. Entries are written to
// dst/<relative path>/<id>; for a file, directly to dst/<id>.
func (fs *FileSystem) CopyHistoryTree(ctx context.Context, p vfs.Path, dst *vfs.File) error {
	if err := fs.guard("copy-history", p); err != nil {
		return err
	}
	s, err := fs.primary("copy-history", p)
	if err != nil {
		return err
	}
	return s.copyTree(ctx, p, dst)
}

// Versions returns the retained version numbers of p, oldest first.
func (fs *FileSystem) Versions(ctx context.Context, p vfs.Path) ([]int64, error) {
	if !fs.cfg.Versioning {
		return nil, vfs.Unsupported("versions", p)
	}
	if err := fs.guard("versions", p); err != nil {
		return nil, err
	}
	return fs.versions.ids(ctx, p)
}

// OpenVersion returns the content of p as it was at version.
func (fs *FileSystem) OpenVersion(ctx context.Context, p vfs.Path, version int64) (io.ReadCloser, error) {
	if !fs.cfg.Versioning {
		return nil, vfs.Unsupported("open-version", p)
	}
	if err := fs.guard("open-version", p); err != nil {
		return nil, err
	}
	return fs.versions.open(ctx, p, version)
}

func mustChild(p vfs.Path, name string) vfs.Path {
	child, err := p.Child(name)
	if err != nil {
		panic(err)
	}
	return child
}
