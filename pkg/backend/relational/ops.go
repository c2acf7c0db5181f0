package relational

import (
	"context"
	"database/sql"
	"errors"
	"io"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/pheyse/FileSystemFacade-sub001/internal/logger"
	"github.com/pheyse/FileSystemFacade-sub001/pkg/vfs"
)

// ============================================================================
// Resolution
// ============================================================================

// lookup walks from the namespace root to p, one query per segment.
// It returns ErrNotFound when any segment is missing and ErrNotDirectory
// when an intermediate segment is a file.
func (fs *FileSystem) lookup(ctx context.Context, db querier, op string, p vfs.Path) (*node, error) {
	r, err := fs.q.root(ctx, db, fs.cfg.Application, fs.cfg.Tenant)
	if err != nil {
		return nil, fs.dbErr(op, p, err)
	}
	current := &node{row: r, path: vfs.Root}

	for _, seg := range p.Segments() {
		if !current.isDir() {
			return nil, vfs.NewError(vfs.ErrNotFound, op, p, current.path.Display()+" is not a directory")
		}
		r, err := fs.q.child(ctx, db, current, seg)
		if err != nil {
			return nil, fs.dbErr(op, p, err)
		}
		childPath, _ := current.path.Child(seg)
		current = &node{row: r, path: childPath}
	}
	return current, nil
}

// lookupParent resolves the directory that must contain p.
func (fs *FileSystem) lookupParent(ctx context.Context, db querier, op string, p vfs.Path) (*node, error) {
	parentPath, ok := p.Parent()
	if !ok {
		return nil, vfs.NewError(vfs.ErrIllegalPath, op, p, "operation not permitted on the root")
	}
	parent, err := fs.lookup(ctx, db, op, parentPath)
	if errors.Is(err, vfs.ErrNotFound) {
		return nil, vfs.NewError(vfs.ErrNotFound, op, p, "parent directory does not exist")
	}
	if err != nil {
		return nil, err
	}
	if !parent.isDir() {
		return nil, vfs.NewError(vfs.ErrNotDirectory, op, parentPath, "")
	}
	return parent, nil
}

// exists reports whether parent has a child called name.
func (fs *FileSystem) exists(ctx context.Context, db querier, parent *node, name string) (bool, error) {
	_, err := fs.q.child(ctx, db, parent, name)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	return err == nil, err
}

// dbErr maps driver errors onto facade errors.
func (fs *FileSystem) dbErr(op string, p vfs.Path, err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return vfs.NotFound(op, p)
	}
	return vfs.BackendFailure(op, p, err)
}

// inTx runs fn in a transaction, committing on success.
func (fs *FileSystem) inTx(ctx context.Context, op string, p vfs.Path, fn func(tx *sqlx.Tx) error) error {
	tx, err := fs.db.BeginTxx(ctx, nil)
	if err != nil {
		return vfs.BackendFailure(op, p, err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return vfs.BackendFailure(op, p, err)
	}
	return nil
}

func (fs *FileSystem) now() int64 {
	return fs.clock.Now().UnixMilli()
}

// ============================================================================
// FileSystem
// ============================================================================

// Stat implements vfs.FileSystem.
func (fs *FileSystem) Stat(ctx context.Context, p vfs.Path) (vfs.Info, error) {
	n, err := fs.lookup(ctx, fs.db, "stat", p)
	if err != nil {
		return vfs.Info{}, err
	}
	return n.info(), nil
}

// ReadDir implements vfs.FileSystem. Rows are re-sorted by byte order so
// that the database collation cannot change the listing order.
func (fs *FileSystem) ReadDir(ctx context.Context, p vfs.Path) ([]vfs.Info, error) {
	dir, err := fs.lookup(ctx, fs.db, "list", p)
	if err != nil {
		return nil, err
	}
	if !dir.isDir() {
		return nil, vfs.NewError(vfs.ErrNotDirectory, "list", p, "")
	}

	rows, err := fs.q.children(ctx, fs.db, dir)
	if err != nil {
		return nil, fs.dbErr("list", p, err)
	}
	slices.SortFunc(rows, func(a, b row) int { return strings.Compare(a.Name, b.Name) })

	out := make([]vfs.Info, 0, len(rows))
	for _, r := range rows {
		childPath, err := p.Child(r.Name)
		if err != nil {
			logger.Warn("relational: skipping row %s with illegal name %q", r.ID, r.Name)
			continue
		}
		out = append(out, (&node{row: r, path: childPath}).info())
	}
	return out, nil
}

// Mkdir implements vfs.FileSystem.
func (fs *FileSystem) Mkdir(ctx context.Context, p vfs.Path) error {
	return fs.inTx(ctx, "mkdir", p, func(tx *sqlx.Tx) error {
		if p.IsRoot() {
			return vfs.NewError(vfs.ErrAlreadyExists, "mkdir", p, "")
		}
		parent, err := fs.lookupParent(ctx, tx, "mkdir", p)
		if err != nil {
			return err
		}
		taken, err := fs.exists(ctx, tx, parent, p.Name())
		if err != nil {
			return fs.dbErr("mkdir", p, err)
		}
		if taken {
			return vfs.NewError(vfs.ErrAlreadyExists, "mkdir", p, "")
		}

		now := fs.now()
		err = fs.q.insert(ctx, tx, row{
			ID:       uuid.NewString(),
			ParentID: sql.NullString{String: parent.ID, Valid: true},
			App:      parent.App,
			Tenant:   parent.Tenant,
			Name:     p.Name(),
			IsDir:    1,
			Modified: now,
			Created:  now,
		}, nil)
		if err != nil {
			return vfs.BackendFailure("mkdir", p, err)
		}
		logger.Debug("relational: mkdir %s", p.Display())
		return nil
	})
}

// Remove implements vfs.FileSystem.
func (fs *FileSystem) Remove(ctx context.Context, p vfs.Path) error {
	return fs.inTx(ctx, "remove", p, func(tx *sqlx.Tx) error {
		n, err := fs.lookup(ctx, tx, "remove", p)
		if err != nil {
			return err
		}
		if p.IsRoot() {
			return vfs.NewError(vfs.ErrIllegalPath, "remove", p, "cannot remove the root")
		}
		if n.isDir() {
			count, err := fs.q.countChildrenOf(ctx, tx, n)
			if err != nil {
				return fs.dbErr("remove", p, err)
			}
			if count > 0 {
				return vfs.NewError(vfs.ErrNotEmpty, "remove", p, "")
			}
		}
		if _, err := tx.ExecContext(ctx, fs.q.deleteRow, n.ID); err != nil {
			return vfs.BackendFailure("remove", p, err)
		}
		logger.Debug("relational: removed %s", p.Display())
		return nil
	})
}

// RemoveAll implements vfs.TreeRemover. The subtree is collected breadth
// first and deleted in one transaction.
func (fs *FileSystem) RemoveAll(ctx context.Context, p vfs.Path) error {
	return fs.inTx(ctx, "remove-all", p, func(tx *sqlx.Tx) error {
		n, err := fs.lookup(ctx, tx, "remove-all", p)
		if err != nil {
			return err
		}
		if p.IsRoot() {
			return vfs.NewError(vfs.ErrIllegalPath, "remove-all", p, "cannot remove the root")
		}
		ids, err := fs.q.descendantIDs(ctx, tx, n)
		if err != nil {
			return vfs.BackendFailure("remove-all", p, err)
		}
		ids = append(ids, n.ID)
		if err := fs.q.deleteIDs(ctx, tx, ids); err != nil {
			return vfs.BackendFailure("remove-all", p, err)
		}
		logger.Debug("relational: removed %s with %d nodes", p.Display(), len(ids))
		return nil
	})
}

// Rename implements vfs.FileSystem. Only the node's own row changes; its
// subtree follows through the parent references.
func (fs *FileSystem) Rename(ctx context.Context, p vfs.Path, newName string) error {
	if err := vfs.ValidateName(newName); err != nil {
		return err
	}
	if len(newName) > maxNameLength {
		return vfs.NewError(vfs.ErrIllegalPath, "rename", p, "name too long")
	}
	return fs.inTx(ctx, "rename", p, func(tx *sqlx.Tx) error {
		if p.IsRoot() {
			return vfs.NewError(vfs.ErrIllegalPath, "rename", p, "cannot rename the root")
		}
		n, err := fs.lookup(ctx, tx, "rename", p)
		if err != nil {
			return err
		}
		parent, err := fs.lookupParent(ctx, tx, "rename", p)
		if err != nil {
			return err
		}
		taken, err := fs.exists(ctx, tx, parent, newName)
		if err != nil {
			return fs.dbErr("rename", p, err)
		}
		if taken {
			return vfs.NewError(vfs.ErrAlreadyExists, "rename", p, "target "+newName+" exists")
		}
		if _, err := tx.ExecContext(ctx, fs.q.updateName, newName, fs.now(), n.ID); err != nil {
			return vfs.BackendFailure("rename", p, err)
		}
		return nil
	})
}

// Move implements vfs.Mover by re-parenting a single row.
func (fs *FileSystem) Move(ctx context.Context, src, dst vfs.Path) error {
	if dst.HasPrefix(src) {
		return vfs.NewError(vfs.ErrIllegalPath, "move", dst, "destination is inside the source")
	}
	return fs.inTx(ctx, "move", src, func(tx *sqlx.Tx) error {
		n, err := fs.lookup(ctx, tx, "move", src)
		if err != nil {
			return err
		}
		if src.IsRoot() {
			return vfs.NewError(vfs.ErrIllegalPath, "move", src, "cannot move the root")
		}
		parent, err := fs.lookupParent(ctx, tx, "move", dst)
		if err != nil {
			return err
		}
		taken, err := fs.exists(ctx, tx, parent, dst.Name())
		if err != nil {
			return fs.dbErr("move", dst, err)
		}
		if taken {
			return vfs.NewError(vfs.ErrAlreadyExists, "move", dst, "")
		}
		if _, err := tx.ExecContext(ctx, fs.q.updateParent, parent.ID, dst.Name(), fs.now(), n.ID); err != nil {
			return vfs.BackendFailure("move", src, err)
		}
		return nil
	})
}

// SetModTime implements vfs.FileSystem.
func (fs *FileSystem) SetModTime(ctx context.Context, p vfs.Path, t time.Time) error {
	n, err := fs.lookup(ctx, fs.db, "set-modtime", p)
	if err != nil {
		return err
	}
	if _, err := fs.db.ExecContext(ctx, fs.q.updateModified, t.UnixMilli(), n.ID); err != nil {
		return vfs.BackendFailure("set-modtime", p, err)
	}
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

// ReadVersioned implements vfs.FileSystem. Row and content are read in one
// transaction so the version matches the content.
func (fs *FileSystem) ReadVersioned(ctx context.Context, p vfs.Path) (vfs.Versioned[[]byte], error) {
	return fs.read(ctx, "read", p)
}

func (fs *FileSystem) read(ctx context.Context, op string, p vfs.Path) (vfs.Versioned[[]byte], error) {
	var out vfs.Versioned[[]byte]
	err := fs.inTx(ctx, op, p, func(tx *sqlx.Tx) error {
		n, err := fs.lookup(ctx, tx, op, p)
		if err != nil {
			return err
		}
		if n.isDir() {
			return vfs.NewError(vfs.ErrIsDirectory, op, p, "")
		}
		data, err := fs.q.content(ctx, tx, n.ID)
		if err != nil {
			return fs.dbErr(op, p, err)
		}
		out = vfs.Versioned[[]byte]{Value: data, Version: n.Version}
		return nil
	})
	return out, err
}

// Create implements vfs.FileSystem.
func (fs *FileSystem) Create(ctx context.Context, p vfs.Path) (io.WriteCloser, error) {
	if p.IsRoot() {
		return nil, vfs.NewError(vfs.ErrIsDirectory, "create", p, "")
	}
	n, err := fs.lookup(ctx, fs.db, "create", p)
	switch {
	case err == nil && n.isDir():
		return nil, vfs.NewError(vfs.ErrIsDirectory, "create", p, "")
	case errors.Is(err, vfs.ErrNotFound):
		if _, err := fs.lookupParent(ctx, fs.db, "create", p); err != nil {
			return nil, err
		}
	case err != nil:
		return nil, err
	}
	return vfs.NewBufferedWriter(func(data []byte) error {
		_, err := fs.write(ctx, "create", p, data, nil)
		return err
	}), nil
}

// WriteVersioned implements vfs.FileSystem. The precondition is part of the
// UPDATE statement, so it holds even against writers in other processes.
func (fs *FileSystem) WriteVersioned(ctx context.Context, p vfs.Path, data []byte, expected int64) (int64, error) {
	return fs.write(ctx, "write", p, data, &expected)
}

func (fs *FileSystem) write(ctx context.Context, op string, p vfs.Path, data []byte, expected *int64) (int64, error) {
	if p.IsRoot() {
		return 0, vfs.NewError(vfs.ErrIsDirectory, op, p, "")
	}

	var version int64
	err := fs.inTx(ctx, op, p, func(tx *sqlx.Tx) error {
		now := fs.now()
		n, err := fs.lookup(ctx, tx, op, p)
		if err != nil && !errors.Is(err, vfs.ErrNotFound) {
			return err
		}

		if err == nil {
			if n.isDir() {
				return vfs.NewError(vfs.ErrIsDirectory, op, p, "")
			}
			if expected == nil {
				if _, err := tx.ExecContext(ctx, fs.q.updateContent, data, len(data), now, n.ID); err != nil {
					return vfs.BackendFailure(op, p, err)
				}
				version = n.Version + 1
				return nil
			}

			res, err := tx.ExecContext(ctx, fs.q.updateContentIf, data, len(data), now, n.ID, *expected)
			if err != nil {
				return vfs.BackendFailure(op, p, err)
			}
			affected, err := res.RowsAffected()
			if err != nil {
				return vfs.BackendFailure(op, p, err)
			}
			if affected == 0 {
				return vfs.VersionMismatch(op, p, *expected, n.Version)
			}
			version = *expected + 1
			return nil
		}

		if expected != nil && *expected != vfs.InitialVersion {
			return vfs.VersionMismatch(op, p, *expected, vfs.InitialVersion)
		}
		parent, err := fs.lookupParent(ctx, tx, op, p)
		if err != nil {
			return err
		}
		err = fs.q.insert(ctx, tx, row{
			ID:       uuid.NewString(),
			ParentID: sql.NullString{String: parent.ID, Valid: true},
			App:      parent.App,
			Tenant:   parent.Tenant,
			Name:     p.Name(),
			Size:     int64(len(data)),
			Modified: now,
			Created:  now,
			Version:  vfs.InitialVersion + 1,
		}, data)
		if err != nil {
			// A concurrent writer created the node first.
			if taken, lerr := fs.exists(ctx, tx, parent, p.Name()); lerr == nil && taken && expected != nil {
				return vfs.VersionMismatch(op, p, *expected, vfs.InitialVersion+1)
			}
			return vfs.BackendFailure(op, p, err)
		}
		version = vfs.InitialVersion + 1
		return nil
	})
	if err != nil {
		return 0, err
	}
	logger.Debug("relational: wrote %s (%d bytes, version %d)", p.Display(), len(data), version)
	return version, nil
}
