package host

import (
	"context"
	"errors"
	"io"
	"strings"
	"time"

	"github.com/spf13/afero"

	"github.com/pheyse/FileSystemFacade-sub001/internal/logger"
	"github.com/pheyse/FileSystemFacade-sub001/pkg/vfs"
)

// Stat implements vfs.FileSystem.
func (h *FileSystem) Stat(ctx context.Context, p vfs.Path) (vfs.Info, error) {
	if err := ctx.Err(); err != nil {
		return vfs.Info{}, err
	}
	fi, ok, err := h.stat("stat", p)
	if err != nil {
		return vfs.Info{}, err
	}
	if !ok {
		return vfs.Info{}, vfs.NotFound("stat", p)
	}
	return h.info(p, fi), nil
}

// ReadDir implements vfs.FileSystem.
func (h *FileSystem) ReadDir(ctx context.Context, p vfs.Path) ([]vfs.Info, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	fi, ok, err := h.stat("list", p)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, vfs.NotFound("list", p)
	}
	if !fi.IsDir() {
		return nil, vfs.NewError(vfs.ErrNotDirectory, "list", p, "")
	}

	entries, err := afero.ReadDir(h.fs, native(p))
	if err != nil {
		return nil, hostErr("list", p, err)
	}
	out := make([]vfs.Info, 0, len(entries))
	for _, entry := range entries {
		child, err := p.Child(entry.Name())
		if err != nil {
			logger.Warn("host: skipping entry with illegal name %q in %s", entry.Name(), p.Display())
			continue
		}
		out = append(out, h.info(child, entry))
	}
	return out, nil
}

// Mkdir implements vfs.FileSystem.
func (h *FileSystem) Mkdir(ctx context.Context, p vfs.Path) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, exists, err := h.stat("mkdir", p); err != nil {
		return err
	} else if exists {
		return vfs.NewError(vfs.ErrAlreadyExists, "mkdir", p, "")
	}
	if err := h.parentDir("mkdir", p); err != nil {
		return err
	}
	return hostErr("mkdir", p, h.fs.Mkdir(native(p), 0o755))
}

// Remove implements vfs.FileSystem.
func (h *FileSystem) Remove(ctx context.Context, p vfs.Path) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if p.IsRoot() {
		return vfs.NewError(vfs.ErrIllegalPath, "remove", p, "cannot remove the root")
	}
	fi, exists, err := h.stat("remove", p)
	if err != nil {
		return err
	}
	if !exists {
		return vfs.NotFound("remove", p)
	}
	if fi.IsDir() {
		empty, err := afero.IsEmpty(h.fs, native(p))
		if err != nil {
			return hostErr("remove", p, err)
		}
		if !empty {
			return vfs.NewError(vfs.ErrNotEmpty, "remove", p, "")
		}
	}
	return hostErr("remove", p, h.fs.Remove(native(p)))
}

// RemoveAll implements vfs.TreeRemover.
func (h *FileSystem) RemoveAll(ctx context.Context, p vfs.Path) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if p.IsRoot() {
		return vfs.NewError(vfs.ErrIllegalPath, "remove-all", p, "cannot remove the root")
	}
	if _, exists, err := h.stat("remove-all", p); err != nil {
		return err
	} else if !exists {
		return vfs.NotFound("remove-all", p)
	}
	return hostErr("remove-all", p, h.fs.RemoveAll(native(p)))
}

// Rename implements vfs.FileSystem.
func (h *FileSystem) Rename(ctx context.Context, p vfs.Path, newName string) error {
	if err := vfs.ValidateName(newName); err != nil {
		return err
	}
	if strings.Contains(newName, h.Separator()) {
		logger.Warn("host: rejected rename of %s to name containing the host separator", p.Display())
		return vfs.NewError(vfs.ErrIllegalPath, "rename", p, "name contains the host separator")
	}
	if p.IsRoot() {
		return vfs.NewError(vfs.ErrIllegalPath, "rename", p, "cannot rename the root")
	}
	dst, err := p.WithName(newName)
	if err != nil {
		return err
	}
	return h.move(ctx, "rename", p, dst)
}

// Move implements vfs.Mover with a host rename.
func (h *FileSystem) Move(ctx context.Context, src, dst vfs.Path) error {
	return h.move(ctx, "move", src, dst)
}

func (h *FileSystem) move(ctx context.Context, op string, src, dst vfs.Path) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if dst.HasPrefix(src) {
		return vfs.NewError(vfs.ErrIllegalPath, op, dst, "destination is inside the source")
	}
	if _, exists, err := h.stat(op, src); err != nil {
		return err
	} else if !exists {
		return vfs.NotFound(op, src)
	}
	if _, taken, err := h.stat(op, dst); err != nil {
		return err
	} else if taken {
		return vfs.NewError(vfs.ErrAlreadyExists, op, dst, "")
	}
	if err := h.parentDir(op, dst); err != nil {
		return err
	}
	return hostErr(op, src, h.fs.Rename(native(src), native(dst)))
}

// SetModTime implements vfs.FileSystem. On files this also changes the
// version, which still moves forward when t lies in the past.
func (h *FileSystem) SetModTime(ctx context.Context, p vfs.Path, t time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	name := native(p)
	fi, err := h.fs.Stat(name)
	if err != nil {
		return hostErr("set-modtime", p, err)
	}
	if !fi.IsDir() {
		h.retired.Store(name, h.versionOf(name, fi))
	}
	return hostErr("set-modtime", p, h.fs.Chtimes(name, t, t))
}

// Open implements vfs.FileSystem. The returned reader streams from the
// host file.
func (h *FileSystem) Open(ctx context.Context, p vfs.Path) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := h.checkFile("open", p); err != nil {
		return nil, err
	}
	f, err := h.fs.Open(native(p))
	if err != nil {
		return nil, hostErr("open", p, err)
	}
	return f, nil
}

func (h *FileSystem) checkFile(op string, p vfs.Path) error {
	fi, exists, err := h.stat(op, p)
	if err != nil {
		return err
	}
	if !exists {
		return vfs.NotFound(op, p)
	}
	if fi.IsDir() {
		return vfs.NewError(vfs.ErrIsDirectory, op, p, "")
	}
	return nil
}

// ReadVersioned implements vfs.FileSystem.
func (h *FileSystem) ReadVersioned(ctx context.Context, p vfs.Path) (vfs.Versioned[[]byte], error) {
	if err := ctx.Err(); err != nil {
		return vfs.Versioned[[]byte]{}, err
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if err := h.checkFile("read", p); err != nil {
		return vfs.Versioned[[]byte]{}, err
	}
	data, err := afero.ReadFile(h.fs, native(p))
	if err != nil {
		return vfs.Versioned[[]byte]{}, hostErr("read", p, err)
	}
	fi, err := h.fs.Stat(native(p))
	if err != nil {
		return vfs.Versioned[[]byte]{}, hostErr("read", p, err)
	}
	return vfs.Versioned[[]byte]{Value: data, Version: h.versionOf(native(p), fi)}, nil
}

// Create implements vfs.FileSystem.
func (h *FileSystem) Create(ctx context.Context, p vfs.Path) (io.WriteCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	fi, exists, err := h.stat("create", p)
	if err != nil {
		return nil, err
	}
	if exists && fi.IsDir() {
		return nil, vfs.NewError(vfs.ErrIsDirectory, "create", p, "")
	}
	if !exists {
		if err := h.parentDir("create", p); err != nil {
			return nil, err
		}
	}
	return vfs.NewBufferedWriter(func(data []byte) error {
		_, err := h.write(ctx, "create", p, data, nil)
		return err
	}), nil
}

// WriteVersioned implements vfs.FileSystem.
func (h *FileSystem) WriteVersioned(ctx context.Context, p vfs.Path, data []byte, expected int64) (int64, error) {
	return h.write(ctx, "write", p, data, &expected)
}

func (h *FileSystem) write(ctx context.Context, op string, p vfs.Path, data []byte, expected *int64) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if p.IsRoot() {
		return 0, vfs.NewError(vfs.ErrIsDirectory, op, p, "")
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	var previous time.Time
	fi, exists, err := h.stat(op, p)
	if err != nil {
		return 0, err
	}
	current := vfs.InitialVersion
	if exists {
		if fi.IsDir() {
			return 0, vfs.NewError(vfs.ErrIsDirectory, op, p, "")
		}
		current = h.versionOf(native(p), fi)
		previous = time.Unix(0, current)
	} else if err := h.parentDir(op, p); err != nil {
		return 0, err
	}
	if expected != nil && *expected != current {
		return 0, vfs.VersionMismatch(op, p, *expected, current)
	}

	name := native(p)
	if err := afero.WriteFile(h.fs, name, data, 0o644); err != nil {
		return 0, hostErr(op, p, err)
	}
	stamped, err := h.stamp(name, previous)
	if err != nil {
		return 0, vfs.BackendFailure(op, p, err)
	}
	logger.Debug("host: wrote %s (%d bytes)", p.Display(), len(data))
	return stamped.UnixNano(), nil
}

// stamp sets the modification time of name to the clock's time, or past
// previous when the clock is behind it. Hosts with coarse timestamps
// truncate small steps, so the step grows until the stored time advances.
func (h *FileSystem) stamp(name string, previous time.Time) (time.Time, error) {
	want := h.clock.Now()
	for step := time.Nanosecond; step <= 10*time.Second; step *= 10 {
		if !want.After(previous) {
			want = previous.Add(step)
		}
		if err := h.fs.Chtimes(name, want, want); err != nil {
			return time.Time{}, err
		}
		fi, err := h.fs.Stat(name)
		if err != nil {
			return time.Time{}, err
		}
		if fi.ModTime().After(previous) {
			return fi.ModTime(), nil
		}
		want = previous
	}
	return time.Time{}, errors.New("modification time does not advance")
}
