// Package host adapts an afero.Fs (the operating system, a base-path view
// of it, or afero's in-memory filesystem) to vfs.FileSystem.
//
// Host filesystems have no content generations, so the version of a file is
// its modification time in Unix nanoseconds. Every write moves the
// modification time strictly forward, even when the clock has not advanced
// or the host truncates timestamps. When SetModTime moves a file's time back,
// its version keeps counting past the version it had before, so no version
// is ever issued twice for a path. Version checks and writes are serialized
// within one FileSystem value only; other processes writing the same files
// are not detected between the check and the write.
package host

import (
	"context"
	"errors"
	"io/fs"
	"path/filepath"
	"strings"
	"sync"
	"syscall"

	"github.com/spf13/afero"

	"github.com/pheyse/FileSystemFacade-sub001/pkg/clock"
	"github.com/pheyse/FileSystemFacade-sub001/pkg/vfs"
)

// Config configures the host backend.
type Config struct {
	// Fs is the filesystem to adapt. When nil, the operating system
	// filesystem below Root is used.
	Fs afero.Fs

	// Root confines the backend to a directory through afero.BasePathFs.
	// Required when Fs is nil.
	Root string

	// Clock supplies write timestamps. Defaults to the real clock.
	Clock clock.Clock
}

// FileSystem is a vfs.FileSystem over an afero.Fs.
type FileSystem struct {
	fs    afero.Fs
	name  string
	clock clock.Clock

	// mu serializes check-then-write sequences of versioned writes.
	mu sync.Mutex

	// retired maps a native name to the version its file had when
	// SetModTime last changed it.
	retired sync.Map
}

var (
	_ vfs.FileSystem  = (*FileSystem)(nil)
	_ vfs.Mover       = (*FileSystem)(nil)
	_ vfs.TreeRemover = (*FileSystem)(nil)
)

// New returns the backend. A Root must be an existing directory.
func New(cfg Config) (*FileSystem, error) {
	base := cfg.Fs
	name := "host(mem)"
	if base == nil {
		if cfg.Root == "" {
			return nil, errors.New("host: root is required for the OS filesystem")
		}
		base = afero.NewOsFs()
		name = "host(" + cfg.Root + ")"
	}
	if cfg.Root != "" {
		info, err := base.Stat(cfg.Root)
		if err != nil {
			return nil, err
		}
		if !info.IsDir() {
			return nil, errors.New("host: root " + cfg.Root + " is not a directory")
		}
		base = afero.NewBasePathFs(base, cfg.Root)
	}
	return &FileSystem{fs: base, name: name, clock: clock.Or(cfg.Clock)}, nil
}

// NewMemory returns a backend over a fresh afero.MemMapFs.
func NewMemory() *FileSystem {
	fsys, _ := New(Config{Fs: afero.NewMemMapFs()})
	return fsys
}

// Name implements vfs.FileSystem.
func (h *FileSystem) Name() string { return h.name }

// Separator implements vfs.FileSystem. It is the host's separator, which
// names passed to Rename must not contain.
func (h *FileSystem) Separator() string { return string(filepath.Separator) }

// Roots implements vfs.FileSystem.
func (h *FileSystem) Roots(ctx context.Context) ([]vfs.Path, error) {
	return []vfs.Path{vfs.Root}, nil
}

// Resolve implements vfs.FileSystem. Segments must not contain the host
// separator, which on Windows is not the path separator.
func (h *FileSystem) Resolve(raw string) (vfs.Path, error) {
	p, err := vfs.ParsePath(raw)
	if err != nil {
		return vfs.Path{}, err
	}
	for _, seg := range p.Segments() {
		if strings.Contains(seg, h.Separator()) {
			return vfs.Path{}, vfs.NewError(vfs.ErrIllegalPath, "resolve", p, "segment contains the host separator")
		}
	}
	return p, nil
}

// native maps p to a name inside the afero filesystem.
func native(p vfs.Path) string {
	return filepath.Join(string(filepath.Separator), filepath.Join(p.Segments()...))
}

func (h *FileSystem) info(p vfs.Path, fi fs.FileInfo) vfs.Info {
	out := vfs.Info{Path: p, ModTime: fi.ModTime(), Kind: vfs.KindFile}
	if fi.IsDir() {
		out.Kind = vfs.KindDirectory
		return out
	}
	out.Size = fi.Size()
	out.Version = h.versionOf(native(p), fi)
	return out
}

// versionOf derives the version of a file from its modification time,
// never falling back to a version retired by SetModTime.
func (h *FileSystem) versionOf(name string, fi fs.FileInfo) int64 {
	v := fi.ModTime().UnixNano()
	if r, ok := h.retired.Load(name); ok {
		if floor := r.(int64) + 1; v < floor {
			return floor
		}
	}
	return v
}

// hostErr maps host errors onto facade errors.
func hostErr(op string, p vfs.Path, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, fs.ErrNotExist):
		return vfs.NotFound(op, p)
	case errors.Is(err, fs.ErrExist):
		return vfs.NewError(vfs.ErrAlreadyExists, op, p, "")
	default:
		return vfs.BackendFailure(op, p, err)
	}
}

// stat returns the host node at p, with ok false when it does not exist.
func (h *FileSystem) stat(op string, p vfs.Path) (fs.FileInfo, bool, error) {
	fi, err := h.fs.Stat(native(p))
	if errors.Is(err, fs.ErrNotExist) || isNotDirErr(err) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, vfs.BackendFailure(op, p, err)
	}
	return fi, true, nil
}

// isNotDirErr matches ENOTDIR, returned when a path goes through a file.
func isNotDirErr(err error) bool {
	return errors.Is(err, syscall.ENOTDIR)
}

// parentDir checks that the parent of p is an existing directory.
func (h *FileSystem) parentDir(op string, p vfs.Path) error {
	parent, ok := p.Parent()
	if !ok {
		return vfs.NewError(vfs.ErrIllegalPath, op, p, "operation not permitted on the root")
	}
	fi, exists, err := h.stat(op, parent)
	if err != nil {
		return err
	}
	if !exists {
		return vfs.NewError(vfs.ErrNotFound, op, p, "parent directory does not exist")
	}
	if !fi.IsDir() {
		return vfs.NewError(vfs.ErrNotDirectory, op, parent, "")
	}
	return nil
}
