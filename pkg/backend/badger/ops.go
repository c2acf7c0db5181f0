package badger

import (
	"context"
	"errors"
	"io"
	"time"

	badger "github.com/dgraph-io/badger/v4"

	"github.com/pheyse/FileSystemFacade-sub001/internal/logger"
	"github.com/pheyse/FileSystemFacade-sub001/pkg/vfs"
)

// parentDir loads the directory that must contain p.
func parentDir(txn *badger.Txn, op string, p vfs.Path) (vfs.Path, record, error) {
	parent, ok := p.Parent()
	if !ok {
		return vfs.Path{}, record{}, vfs.NewError(vfs.ErrIllegalPath, op, p, "operation not permitted on the root")
	}
	r, ok, err := getRecord(txn, parent)
	if err != nil {
		return vfs.Path{}, record{}, err
	}
	if !ok {
		return vfs.Path{}, record{}, vfs.NewError(vfs.ErrNotFound, op, p, "parent directory does not exist")
	}
	if !r.isDir() {
		return vfs.Path{}, record{}, vfs.NewError(vfs.ErrNotDirectory, op, parent, "")
	}
	return parent, r, nil
}

// touch bumps the modification time of a directory whose children changed.
func touch(txn *badger.Txn, dir vfs.Path, r record, now int64) error {
	r.Modified = now
	return putRecord(txn, dir, r)
}

// subtree returns p and every path below it.
func subtree(txn *badger.Txn, p vfs.Path) ([]vfs.Path, error) {
	paths := []vfs.Path{p}

	opts := badger.DefaultIteratorOptions
	opts.PrefetchValues = false
	opts.Prefix = descendantPrefix(p)
	it := txn.NewIterator(opts)
	defer it.Close()

	for it.Rewind(); it.Valid(); it.Next() {
		raw := string(it.Item().Key()[len(prefixNode):])
		q, err := vfs.ParsePath(raw)
		if err != nil {
			logger.Warn("badger: skipping malformed key %q", raw)
			continue
		}
		paths = append(paths, q)
	}
	return paths, nil
}

// ============================================================================
// FileSystem
// ============================================================================

// Stat implements vfs.FileSystem.
func (fs *FileSystem) Stat(ctx context.Context, p vfs.Path) (vfs.Info, error) {
	var info vfs.Info
	err := fs.view(ctx, "stat", p, func(txn *badger.Txn) error {
		r, ok, err := getRecord(txn, p)
		if err != nil {
			return err
		}
		if !ok {
			return vfs.NotFound("stat", p)
		}
		info = r.info(p)
		return nil
	})
	return info, err
}

// ReadDir implements vfs.FileSystem.
func (fs *FileSystem) ReadDir(ctx context.Context, p vfs.Path) ([]vfs.Info, error) {
	var out []vfs.Info
	err := fs.view(ctx, "list", p, func(txn *badger.Txn) error {
		r, ok, err := getRecord(txn, p)
		if err != nil {
			return err
		}
		if !ok {
			return vfs.NotFound("list", p)
		}
		if !r.isDir() {
			return vfs.NewError(vfs.ErrNotDirectory, "list", p, "")
		}

		prefix := childPrefix(p)
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		out = []vfs.Info{}
		for it.Rewind(); it.Valid(); it.Next() {
			name := string(it.Item().Key()[len(prefix):])
			child, err := p.Child(name)
			if err != nil {
				logger.Warn("badger: skipping child with illegal name %q in %s", name, p.Display())
				continue
			}
			cr, ok, err := getRecord(txn, child)
			if err != nil {
				return err
			}
			if !ok {
				logger.Warn("badger: dangling child entry %s", child.Display())
				continue
			}
			out = append(out, cr.info(child))
		}
		return nil
	})
	return out, err
}

// Mkdir implements vfs.FileSystem.
func (fs *FileSystem) Mkdir(ctx context.Context, p vfs.Path) error {
	return fs.update(ctx, "mkdir", p, func(txn *badger.Txn) error {
		if _, ok, err := getRecord(txn, p); err != nil {
			return err
		} else if ok {
			return vfs.NewError(vfs.ErrAlreadyExists, "mkdir", p, "")
		}
		parent, pr, err := parentDir(txn, "mkdir", p)
		if err != nil {
			return err
		}

		now := fs.clock.Now().UnixNano()
		if err := putRecord(txn, p, record{Kind: vfs.KindDirectory, Modified: now, Created: now}); err != nil {
			return err
		}
		if err := txn.Set(keyChild(p), nil); err != nil {
			return err
		}
		return touch(txn, parent, pr, now)
	})
}

// Remove implements vfs.FileSystem.
func (fs *FileSystem) Remove(ctx context.Context, p vfs.Path) error {
	return fs.update(ctx, "remove", p, func(txn *badger.Txn) error {
		r, ok, err := getRecord(txn, p)
		if err != nil {
			return err
		}
		if !ok {
			return vfs.NotFound("remove", p)
		}
		parent, pr, err := parentDir(txn, "remove", p)
		if err != nil {
			return err
		}
		if r.isDir() {
			opts := badger.DefaultIteratorOptions
			opts.PrefetchValues = false
			opts.Prefix = childPrefix(p)
			it := txn.NewIterator(opts)
			it.Rewind()
			hasChildren := it.Valid()
			it.Close()
			if hasChildren {
				return vfs.NewError(vfs.ErrNotEmpty, "remove", p, "")
			}
		}

		for _, key := range [][]byte{keyNode(p), keyContent(p), keyChild(p)} {
			if err := txn.Delete(key); err != nil {
				return err
			}
		}
		return touch(txn, parent, pr, fs.clock.Now().UnixNano())
	})
}

// RemoveAll implements vfs.TreeRemover.
func (fs *FileSystem) RemoveAll(ctx context.Context, p vfs.Path) error {
	return fs.update(ctx, "remove-all", p, func(txn *badger.Txn) error {
		if _, ok, err := getRecord(txn, p); err != nil {
			return err
		} else if !ok {
			return vfs.NotFound("remove-all", p)
		}
		parent, pr, err := parentDir(txn, "remove-all", p)
		if err != nil {
			return err
		}
		paths, err := subtree(txn, p)
		if err != nil {
			return err
		}
		for _, q := range paths {
			for _, key := range [][]byte{keyNode(q), keyContent(q), keyChild(q)} {
				if err := txn.Delete(key); err != nil {
					return err
				}
			}
		}
		logger.Debug("badger: removed %s with %d nodes", p.Display(), len(paths))
		return touch(txn, parent, pr, fs.clock.Now().UnixNano())
	})
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

// move rewrites every key of the subtree under its new path. Large trees
// can exceed Badger's transaction size and fail with a backend error.
func (fs *FileSystem) move(ctx context.Context, op string, src, dst vfs.Path) error {
	if dst.HasPrefix(src) {
		return vfs.NewError(vfs.ErrIllegalPath, op, dst, "destination is inside the source")
	}
	return fs.update(ctx, op, src, func(txn *badger.Txn) error {
		if _, ok, err := getRecord(txn, src); err != nil {
			return err
		} else if !ok {
			return vfs.NotFound(op, src)
		}
		srcParent, spr, err := parentDir(txn, op, src)
		if err != nil {
			return err
		}
		if _, ok, err := getRecord(txn, dst); err != nil {
			return err
		} else if ok {
			return vfs.NewError(vfs.ErrAlreadyExists, op, dst, "")
		}
		dstParent, dpr, err := parentDir(txn, op, dst)
		if err != nil {
			return err
		}

		paths, err := subtree(txn, src)
		if err != nil {
			return err
		}
		for _, q := range paths {
			rel, _ := q.TrimPrefix(src)
			if err := moveKeys(txn, q, dst.Join(rel)); err != nil {
				return err
			}
		}

		now := fs.clock.Now().UnixNano()
		if srcParent.Equal(dstParent) {
			return touch(txn, srcParent, spr, now)
		}
		if err := touch(txn, srcParent, spr, now); err != nil {
			return err
		}
		return touch(txn, dstParent, dpr, now)
	})
}

// moveKeys relocates the record, content and child index entry of one node.
func moveKeys(txn *badger.Txn, from, to vfs.Path) error {
	r, _, err := getRecord(txn, from)
	if err != nil {
		return err
	}
	if err := putRecord(txn, to, r); err != nil {
		return err
	}
	if !r.isDir() {
		item, err := txn.Get(keyContent(from))
		switch {
		case err == nil:
			data, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			if err := txn.Set(keyContent(to), data); err != nil {
				return err
			}
		case !errors.Is(err, badger.ErrKeyNotFound):
			return err
		}
	}
	if err := txn.Set(keyChild(to), nil); err != nil {
		return err
	}
	for _, key := range [][]byte{keyNode(from), keyContent(from), keyChild(from)} {
		if err := txn.Delete(key); err != nil {
			return err
		}
	}
	return nil
}

// SetModTime implements vfs.FileSystem.
func (fs *FileSystem) SetModTime(ctx context.Context, p vfs.Path, t time.Time) error {
	return fs.update(ctx, "set-modtime", p, func(txn *badger.Txn) error {
		r, ok, err := getRecord(txn, p)
		if err != nil {
			return err
		}
		if !ok {
			return vfs.NotFound("set-modtime", p)
		}
		r.Modified = t.UnixNano()
		return putRecord(txn, p, r)
	})
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
	var out vfs.Versioned[[]byte]
	err := fs.view(ctx, op, p, func(txn *badger.Txn) error {
		r, ok, err := getRecord(txn, p)
		if err != nil {
			return err
		}
		if !ok {
			return vfs.NotFound(op, p)
		}
		if r.isDir() {
			return vfs.NewError(vfs.ErrIsDirectory, op, p, "")
		}
		out.Version = r.Version

		item, err := txn.Get(keyContent(p))
		if errors.Is(err, badger.ErrKeyNotFound) {
			out.Value = []byte{}
			return nil
		}
		if err != nil {
			return err
		}
		out.Value, err = item.ValueCopy(nil)
		return err
	})
	return out, err
}

// Create implements vfs.FileSystem.
func (fs *FileSystem) Create(ctx context.Context, p vfs.Path) (io.WriteCloser, error) {
	err := fs.view(ctx, "create", p, func(txn *badger.Txn) error {
		r, ok, err := getRecord(txn, p)
		if err != nil {
			return err
		}
		if ok {
			if r.isDir() {
				return vfs.NewError(vfs.ErrIsDirectory, "create", p, "")
			}
			return nil
		}
		_, _, err = parentDir(txn, "create", p)
		return err
	})
	if err != nil {
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

// write stores data at p. A nil expected writes unconditionally.
func (fs *FileSystem) write(ctx context.Context, op string, p vfs.Path, data []byte, expected *int64) (int64, error) {
	content := make([]byte, len(data))
	copy(content, data)

	var version int64
	err := fs.update(ctx, op, p, func(txn *badger.Txn) error {
		now := fs.clock.Now().UnixNano()
		r, exists, err := getRecord(txn, p)
		if err != nil {
			return err
		}

		if exists {
			if r.isDir() {
				return vfs.NewError(vfs.ErrIsDirectory, op, p, "")
			}
			if expected != nil && *expected != r.Version {
				return vfs.VersionMismatch(op, p, *expected, r.Version)
			}
			r.Version++
		} else {
			if expected != nil && *expected != vfs.InitialVersion {
				return vfs.VersionMismatch(op, p, *expected, vfs.InitialVersion)
			}
			parent, pr, err := parentDir(txn, op, p)
			if err != nil {
				return err
			}
			r = record{Kind: vfs.KindFile, Created: now, Version: vfs.InitialVersion + 1}
			if err := txn.Set(keyChild(p), nil); err != nil {
				return err
			}
			if err := touch(txn, parent, pr, now); err != nil {
				return err
			}
		}

		r.Size = int64(len(content))
		r.Modified = now
		if err := putRecord(txn, p, r); err != nil {
			return err
		}
		if err := txn.Set(keyContent(p), content); err != nil {
			return err
		}
		version = r.Version
		return nil
	})
	if err != nil {
		return 0, err
	}
	logger.Debug("badger: wrote %s (%d bytes, version %d)", p.Display(), len(content), version)
	return version, nil
}
