// Package sandbox confines a filesystem to one base directory of an inner
// filesystem.
//
// The sandbox root maps to the base directory. Every path resolved through
// the sandbox is appended to the base, and every delegated call re-checks
// that the inner path is still below the base, so no operation performed
// through the sandbox can observe or mutate a node outside of it.
package sandbox

import (
	"context"
	"io"
	"strings"
	"time"

	"github.com/pheyse/FileSystemFacade-sub001/internal/logger"
	"github.com/pheyse/FileSystemFacade-sub001/pkg/vfs"
)

// FileSystem is a vfs.FileSystem restricted to a subdirectory of Inner.
type FileSystem struct {
	inner vfs.FileSystem
	base  vfs.Path
}

var (
	_ vfs.FileSystem  = (*FileSystem)(nil)
	_ vfs.Mover       = (*FileSystem)(nil)
	_ vfs.TreeRemover = (*FileSystem)(nil)
	_ vfs.Historian   = (*FileSystem)(nil)
	_ vfs.Unwrapper   = (*FileSystem)(nil)
)

// New creates a sandbox over inner rooted at base.
//
// The base must already exist in inner, must be a directory and must not be
// the inner root.
func New(ctx context.Context, inner vfs.FileSystem, base string) (*FileSystem, error) {
	basePath, err := inner.Resolve(base)
	if err != nil {
		return nil, err
	}
	if _, ok := basePath.Parent(); !ok {
		return nil, vfs.NewError(vfs.ErrIllegalPath, "sandbox", basePath, "base must not be the root")
	}

	info, err := inner.Stat(ctx, basePath)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return nil, vfs.NewError(vfs.ErrNotDirectory, "sandbox", basePath, "base must be a directory")
	}

	logger.Debug("sandbox: confining %s to %s", inner.Name(), basePath.Display())
	return &FileSystem{inner: inner, base: basePath}, nil
}

// Base returns the base directory in the inner filesystem.
func (fs *FileSystem) Base() vfs.Path { return fs.base }

// Unwrap implements vfs.Unwrapper.
func (fs *FileSystem) Unwrap() vfs.FileSystem { return fs.inner }

// Name implements vfs.FileSystem.
func (fs *FileSystem) Name() string {
	return "sandbox(" + fs.inner.Name() + ":" + fs.base.Display() + ")"
}

// Separator implements vfs.FileSystem.
func (fs *FileSystem) Separator() string { return vfs.Separator }

// Roots implements vfs.FileSystem. The only root is the base directory.
func (fs *FileSystem) Roots(ctx context.Context) ([]vfs.Path, error) {
	return []vfs.Path{vfs.Root}, nil
}

// Resolve implements vfs.FileSystem. raw must be empty or start with the
// separator, and must not contain up-traversal segments.
func (fs *FileSystem) Resolve(raw string) (vfs.Path, error) {
	if raw != "" && !strings.HasPrefix(raw, vfs.Separator) {
		return vfs.Path{}, &vfs.Error{Code: vfs.ErrIllegalPath, Op: "resolve", Path: raw, Message: "path must start with " + vfs.Separator}
	}
	return vfs.ParsePath(raw)
}

// InnerPath maps p onto the inner filesystem.
func (fs *FileSystem) InnerPath(p vfs.Path) (vfs.Path, error) {
	return fs.in("resolve", p)
}

// in maps p onto the inner filesystem and verifies containment.
func (fs *FileSystem) in(op string, p vfs.Path) (vfs.Path, error) {
	inner := fs.base.Join(p)
	if !fs.isInnerPathInBase(inner) {
		logger.Warn("sandbox: rejected %s on %s outside of %s", op, inner.Display(), fs.base.Display())
		return vfs.Path{}, vfs.NewError(vfs.ErrIllegalPath, op, p, "path escapes the sandbox")
	}
	return inner, nil
}

func (fs *FileSystem) isInnerPathInBase(inner vfs.Path) bool {
	if !inner.HasPrefix(fs.base) {
		return false
	}
	// Re-derive from the rendered form as well, so a segment that the inner
	// filesystem would split differently cannot slip through.
	rendered := inner.String()
	prefix := fs.base.String()
	if rendered != prefix && !strings.HasPrefix(rendered, prefix+vfs.Separator) {
		return false
	}
	sep := fs.inner.Separator()
	for _, seg := range inner.Segments()[fs.base.Depth():] {
		if seg == ".." || (sep != vfs.Separator && strings.Contains(seg, sep)) {
			return false
		}
	}
	return true
}

// out maps an inner path back into the sandbox namespace.
func (fs *FileSystem) out(inner vfs.Path) vfs.Path {
	rel, _ := inner.TrimPrefix(fs.base)
	return rel
}

func (fs *FileSystem) outInfo(info vfs.Info) vfs.Info {
	info.Path = fs.out(info.Path)
	return info
}

// notRoot rejects structural operations on the sandbox root, which is the
// base directory itself.
func notRoot(op string, p vfs.Path) error {
	if p.IsRoot() {
		return vfs.NewError(vfs.ErrIllegalPath, op, p, "operation not permitted on the sandbox root")
	}
	return nil
}

// ============================================================================
// FileSystem
// ============================================================================

// Stat implements vfs.FileSystem.
func (fs *FileSystem) Stat(ctx context.Context, p vfs.Path) (vfs.Info, error) {
	ip, err := fs.in("stat", p)
	if err != nil {
		return vfs.Info{}, err
	}
	info, err := fs.inner.Stat(ctx, ip)
	if err != nil {
		return vfs.Info{}, fs.outErr(err)
	}
	return fs.outInfo(info), nil
}

// ReadDir implements vfs.FileSystem.
func (fs *FileSystem) ReadDir(ctx context.Context, p vfs.Path) ([]vfs.Info, error) {
	ip, err := fs.in("list", p)
	if err != nil {
		return nil, err
	}
	infos, err := fs.inner.ReadDir(ctx, ip)
	if err != nil {
		return nil, fs.outErr(err)
	}
	for i := range infos {
		infos[i] = fs.outInfo(infos[i])
	}
	return infos, nil
}

// Mkdir implements vfs.FileSystem.
func (fs *FileSystem) Mkdir(ctx context.Context, p vfs.Path) error {
	ip, err := fs.in("mkdir", p)
	if err != nil {
		return err
	}
	return fs.outErr(fs.inner.Mkdir(ctx, ip))
}

// Remove implements vfs.FileSystem.
func (fs *FileSystem) Remove(ctx context.Context, p vfs.Path) error {
	if err := notRoot("remove", p); err != nil {
		return err
	}
	ip, err := fs.in("remove", p)
	if err != nil {
		return err
	}
	return fs.outErr(fs.inner.Remove(ctx, ip))
}

// Rename implements vfs.FileSystem. Names carrying an up-traversal or either
// separator are rejected before the inner filesystem is reached.
func (fs *FileSystem) Rename(ctx context.Context, p vfs.Path, newName string) error {
	if strings.Contains(newName, "..") ||
		strings.Contains(newName, vfs.Separator) ||
		strings.Contains(newName, fs.inner.Separator()) {
		logger.Warn("sandbox: rejected rename of %s to %q", p.Display(), newName)
		return vfs.NewError(vfs.ErrIllegalPath, "rename", p, "illegal name "+newName)
	}
	if err := vfs.ValidateName(newName); err != nil {
		return err
	}
	if err := notRoot("rename", p); err != nil {
		return err
	}
	ip, err := fs.in("rename", p)
	if err != nil {
		return err
	}
	return fs.outErr(fs.inner.Rename(ctx, ip, newName))
}

// SetModTime implements vfs.FileSystem.
func (fs *FileSystem) SetModTime(ctx context.Context, p vfs.Path, t time.Time) error {
	ip, err := fs.in("set-modtime", p)
	if err != nil {
		return err
	}
	return fs.outErr(fs.inner.SetModTime(ctx, ip, t))
}

// Open implements vfs.FileSystem.
func (fs *FileSystem) Open(ctx context.Context, p vfs.Path) (io.ReadCloser, error) {
	ip, err := fs.in("open", p)
	if err != nil {
		return nil, err
	}
	r, err := fs.inner.Open(ctx, ip)
	if err != nil {
		return nil, fs.outErr(err)
	}
	return r, nil
}

// Create implements vfs.FileSystem.
func (fs *FileSystem) Create(ctx context.Context, p vfs.Path) (io.WriteCloser, error) {
	ip, err := fs.in("create", p)
	if err != nil {
		return nil, err
	}
	w, err := fs.inner.Create(ctx, ip)
	if err != nil {
		return nil, fs.outErr(err)
	}
	return w, nil
}

// ReadVersioned implements vfs.FileSystem.
func (fs *FileSystem) ReadVersioned(ctx context.Context, p vfs.Path) (vfs.Versioned[[]byte], error) {
	ip, err := fs.in("read", p)
	if err != nil {
		return vfs.Versioned[[]byte]{}, err
	}
	v, err := fs.inner.ReadVersioned(ctx, ip)
	if err != nil {
		return vfs.Versioned[[]byte]{}, fs.outErr(err)
	}
	return v, nil
}

// WriteVersioned implements vfs.FileSystem.
func (fs *FileSystem) WriteVersioned(ctx context.Context, p vfs.Path, data []byte, expected int64) (int64, error) {
	ip, err := fs.in("write", p)
	if err != nil {
		return 0, err
	}
	version, err := fs.inner.WriteVersioned(ctx, ip, data, expected)
	if err != nil {
		return 0, fs.outErr(err)
	}
	return version, nil
}

// ============================================================================
// Capabilities
// ============================================================================

// RemoveAll implements vfs.TreeRemover.
func (fs *FileSystem) RemoveAll(ctx context.Context, p vfs.Path) error {
	if err := notRoot("remove-all", p); err != nil {
		return err
	}
	ip, err := fs.in("remove-all", p)
	if err != nil {
		return err
	}
	return fs.outErr(vfs.NewFile(fs.inner, ip).DeleteTree(ctx))
}

// Move implements vfs.Mover. The move is native when the inner filesystem
// supports it, and a copy otherwise.
func (fs *FileSystem) Move(ctx context.Context, src, dst vfs.Path) error {
	if err := notRoot("move", src); err != nil {
		return err
	}
	isrc, err := fs.in("move", src)
	if err != nil {
		return err
	}
	idst, err := fs.in("move", dst)
	if err != nil {
		return err
	}
	return fs.outErr(vfs.NewFile(fs.inner, isrc).MoveTo(ctx, vfs.NewFile(fs.inner, idst)))
}

func (fs *FileSystem) historian(op string, p vfs.Path) (vfs.Historian, vfs.Path, error) {
	h, ok := fs.inner.(vfs.Historian)
	if !ok {
		return nil, vfs.Path{}, vfs.Unsupported(op, p)
	}
	ip, err := fs.in(op, p)
	if err != nil {
		return nil, vfs.Path{}, err
	}
	return h, ip, nil
}

// HistoryTimes implements vfs.Historian when the inner filesystem does.
func (fs *FileSystem) HistoryTimes(ctx context.Context, p vfs.Path) ([]int64, error) {
	h, ip, err := fs.historian("history-times", p)
	if err != nil {
		return nil, err
	}
	times, err := h.HistoryTimes(ctx, ip)
	return times, fs.outErr(err)
}

// OpenHistory implements vfs.Historian when the inner filesystem does.
func (fs *FileSystem) OpenHistory(ctx context.Context, p vfs.Path, id int64) (io.ReadCloser, error) {
	h, ip, err := fs.historian("open-history", p)
	if err != nil {
		return nil, err
	}
	r, err := h.OpenHistory(ctx, ip, id)
	if err != nil {
		return nil, fs.outErr(err)
	}
	return r, nil
}

// CopyHistoryTree implements vfs.Historian when the inner filesystem does.
func (fs *FileSystem) CopyHistoryTree(ctx context.Context, p vfs.Path, dst *vfs.File) error {
	h, ip, err := fs.historian("copy-history", p)
	if err != nil {
		return err
	}
	return fs.outErr(h.CopyHistoryTree(ctx, ip, dst))
}

// outErr rewrites the path of an inner error so that the base directory
// never leaks to callers.
func (fs *FileSystem) outErr(err error) error {
	fsErr, ok := err.(*vfs.Error)
	if !ok || fsErr.Path == "" {
		return err
	}
	p, perr := vfs.ParsePath(fsErr.Path)
	if perr != nil || !p.HasPrefix(fs.base) {
		return err
	}
	copied := *fsErr
	copied.Path = fs.out(p).String()
	return &copied
}
