package memory

import (
	"context"
	"io"
	"time"

	"github.com/google/btree"
	"github.com/pheyse/FileSystemFacade-sub001/pkg/vfs"
)

// Stat implements vfs.FileSystem.
func (fs *FileSystem) Stat(ctx context.Context, p vfs.Path) (vfs.Info, error) {
	if err := ctx.Err(); err != nil {
		return vfs.Info{}, err
	}

	fs.mu.RLock()
	defer fs.mu.RUnlock()

	n, ok := fs.get(p)
	if !ok {
		return vfs.Info{}, vfs.NotFound("stat", p)
	}
	return n.info(), nil
}

// ReadDir implements vfs.FileSystem.
func (fs *FileSystem) ReadDir(ctx context.Context, p vfs.Path) ([]vfs.Info, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	fs.mu.RLock()
	defer fs.mu.RUnlock()

	dir, ok := fs.get(p)
	if !ok {
		return nil, vfs.NotFound("list", p)
	}
	if dir.kind != vfs.KindDirectory {
		return nil, vfs.NewError(vfs.ErrNotDirectory, "list", p, "")
	}

	out := make([]vfs.Info, 0, dir.children.Len())
	dir.children.Ascend(func(name string) bool {
		childPath, err := p.Child(name)
		if err != nil {
			return true
		}
		if child, ok := fs.get(childPath); ok {
			out = append(out, child.info())
		}
		return true
	})
	return out, nil
}

// Mkdir implements vfs.FileSystem.
func (fs *FileSystem) Mkdir(ctx context.Context, p vfs.Path) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	fs.mu.Lock()
	defer fs.mu.Unlock()

	if _, exists := fs.get(p); exists {
		return vfs.NewError(vfs.ErrAlreadyExists, "mkdir", p, "")
	}
	parent, err := fs.parentDir("mkdir", p)
	if err != nil {
		return err
	}

	now := fs.clock.Now()
	fs.nodes.ReplaceOrInsert(&node{
		path:     p,
		kind:     vfs.KindDirectory,
		modTime:  now,
		created:  now,
		children: btree.NewG[string](16, btree.Less[string]()),
	})
	parent.children.ReplaceOrInsert(p.Name())
	fs.touch(parent)
	return nil
}

// Remove implements vfs.FileSystem.
func (fs *FileSystem) Remove(ctx context.Context, p vfs.Path) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	fs.mu.Lock()
	defer fs.mu.Unlock()

	n, ok := fs.get(p)
	if !ok {
		return vfs.NotFound("remove", p)
	}
	parent, err := fs.parentDir("remove", p)
	if err != nil {
		return err
	}
	if n.kind == vfs.KindDirectory && n.children.Len() > 0 {
		return vfs.NewError(vfs.ErrNotEmpty, "remove", p, "")
	}

	fs.nodes.Delete(n)
	parent.children.Delete(p.Name())
	fs.touch(parent)
	return nil
}

// RemoveAll implements vfs.TreeRemover.
func (fs *FileSystem) RemoveAll(ctx context.Context, p vfs.Path) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	fs.mu.Lock()
	defer fs.mu.Unlock()

	if _, ok := fs.get(p); !ok {
		return vfs.NotFound("remove-all", p)
	}
	parent, err := fs.parentDir("remove-all", p)
	if err != nil {
		return err
	}

	for _, n := range fs.subtree(p) {
		fs.nodes.Delete(n)
	}
	parent.children.Delete(p.Name())
	fs.touch(parent)
	return nil
}

// Rename implements vfs.FileSystem.
func (fs *FileSystem) Rename(ctx context.Context, p vfs.Path, newName string) error {
	if err := vfs.ValidateName(newName); err != nil {
		return err
	}
	if p.IsRoot() {
		return vfs.NewError(vfs.ErrIllegalPath, "rename", p, "cannot rename the root")
	}
	dst, err := p.WithName(newName)
	if err != nil {
		return err
	}
	return fs.move(ctx, "rename", p, dst)
}

// Move implements vfs.Mover.
func (fs *FileSystem) Move(ctx context.Context, src, dst vfs.Path) error {
	return fs.move(ctx, "move", src, dst)
}

func (fs *FileSystem) move(ctx context.Context, op string, src, dst vfs.Path) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if dst.HasPrefix(src) {
		return vfs.NewError(vfs.ErrIllegalPath, op, dst, "destination is inside the source")
	}

	fs.mu.Lock()
	defer fs.mu.Unlock()

	if _, ok := fs.get(src); !ok {
		return vfs.NotFound(op, src)
	}
	srcParent, err := fs.parentDir(op, src)
	if err != nil {
		return err
	}
	if _, exists := fs.get(dst); exists {
		return vfs.NewError(vfs.ErrAlreadyExists, op, dst, "")
	}
	dstParent, err := fs.parentDir(op, dst)
	if err != nil {
		return err
	}

	moved := fs.subtree(src)
	for _, n := range moved {
		fs.nodes.Delete(n)
	}
	for _, n := range moved {
		rel, _ := n.path.TrimPrefix(src)
		n.path = dst.Join(rel)
		fs.nodes.ReplaceOrInsert(n)
	}

	srcParent.children.Delete(src.Name())
	dstParent.children.ReplaceOrInsert(dst.Name())
	fs.touch(srcParent)
	fs.touch(dstParent)
	return nil
}

// SetModTime implements vfs.FileSystem.
func (fs *FileSystem) SetModTime(ctx context.Context, p vfs.Path, t time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	fs.mu.Lock()
	defer fs.mu.Unlock()

	n, ok := fs.get(p)
	if !ok {
		return vfs.NotFound("set-modtime", p)
	}
	n.modTime = t
	return nil
}

// ============================================================================
// Content
// ============================================================================

// Open implements vfs.FileSystem.
func (fs *FileSystem) Open(ctx context.Context, p vfs.Path) (io.ReadCloser, error) {
	v, err := fs.read(ctx, "open", p)
	if err != nil {
		return nil, err
	}
	return vfs.NopReadCloser(v.Value), nil
}

// ReadVersioned implements vfs.FileSystem.
func (fs *FileSystem) ReadVersioned(ctx context.Context, p vfs.Path) (vfs.Versioned[[]byte], error) {
	return fs.read(ctx, "read", p)
}

func (fs *FileSystem) read(ctx context.Context, op string, p vfs.Path) (vfs.Versioned[[]byte], error) {
	if err := ctx.Err(); err != nil {
		return vfs.Versioned[[]byte]{}, err
	}

	fs.mu.RLock()
	defer fs.mu.RUnlock()

	n, ok := fs.get(p)
	if !ok {
		return vfs.Versioned[[]byte]{}, vfs.NotFound(op, p)
	}
	if n.kind == vfs.KindDirectory {
		return vfs.Versioned[[]byte]{}, vfs.NewError(vfs.ErrIsDirectory, op, p, "")
	}

	// Content slices are replaced, never mutated, so sharing is safe.
	return vfs.Versioned[[]byte]{Value: n.content, Version: n.version}, nil
}

// Create implements vfs.FileSystem. Parent and kind are checked up front so
// that errors surface before any data is written.
func (fs *FileSystem) Create(ctx context.Context, p vfs.Path) (io.WriteCloser, error) {
	if err := fs.checkWritable(ctx, "create", p); err != nil {
		return nil, err
	}
	return vfs.NewBufferedWriter(func(data []byte) error {
		_, err := fs.write(ctx, "create", p, data, nil)
		return err
	}), nil
}

// WriteVersioned implements vfs.FileSystem.
func (fs *FileSystem) WriteVersioned(ctx context.Context, p vfs.Path, data []byte, expected int64) (int64, error) {
	return fs.write(ctx, "write", p, data, &expected)
}

func (fs *FileSystem) checkWritable(ctx context.Context, op string, p vfs.Path) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	fs.mu.RLock()
	defer fs.mu.RUnlock()

	if n, ok := fs.get(p); ok {
		if n.kind == vfs.KindDirectory {
			return vfs.NewError(vfs.ErrIsDirectory, op, p, "")
		}
		return nil
	}
	_, err := fs.parentDir(op, p)
	return err
}

// write stores data at p. A nil expected writes unconditionally.
func (fs *FileSystem) write(ctx context.Context, op string, p vfs.Path, data []byte, expected *int64) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	content := make([]byte, len(data))
	copy(content, data)

	fs.mu.Lock()
	defer fs.mu.Unlock()

	now := fs.clock.Now()

	if n, ok := fs.get(p); ok {
		if n.kind == vfs.KindDirectory {
			return 0, vfs.NewError(vfs.ErrIsDirectory, op, p, "")
		}
		if expected != nil && *expected != n.version {
			return 0, vfs.VersionMismatch(op, p, *expected, n.version)
		}
		n.content = content
		n.version++
		n.modTime = now
		return n.version, nil
	}

	if expected != nil && *expected != vfs.InitialVersion {
		return 0, vfs.VersionMismatch(op, p, *expected, vfs.InitialVersion)
	}
	parent, err := fs.parentDir(op, p)
	if err != nil {
		return 0, err
	}

	n := &node{
		path:    p,
		kind:    vfs.KindFile,
		content: content,
		modTime: now,
		created: now,
		version: vfs.InitialVersion + 1,
	}
	fs.nodes.ReplaceOrInsert(n)
	parent.children.ReplaceOrInsert(p.Name())
	fs.touch(parent)
	return n.version, nil
}
