package history

import (
	"context"
	"errors"
	"io"
	"slices"
	"strconv"

	"github.com/pheyse/FileSystemFacade-sub001/internal/logger"
	"github.com/pheyse/FileSystemFacade-sub001/pkg/vfs"
)

// VersionsDirName is the reserved directory that holds retained entries.
// For a file /dir/name, entries live in <root>/dir/.versions/name/<id>,
// where root is "/" for the version store and the history directory for
// the history store.
const VersionsDirName = ".versions"

// store is one retention area of the inner filesystem.
type store struct {
	inner vfs.FileSystem
	root  vfs.Path
	kind  string
	max   int
}

// dir returns the directory holding the entries of p.
func (s *store) dir(p vfs.Path) (vfs.Path, error) {
	parent, ok := p.Parent()
	if !ok {
		return vfs.Path{}, vfs.NewError(vfs.ErrIllegalPath, s.kind, p, "the root has no history")
	}
	versions, err := s.root.Join(parent).Child(VersionsDirName)
	if err != nil {
		return vfs.Path{}, err
	}
	return versions.Child(p.Name())
}

// subtree returns the area holding the entries of p's descendants.
func (s *store) subtree(p vfs.Path) vfs.Path {
	return s.root.Join(p)
}

func (s *store) exists(ctx context.Context, p vfs.Path) (bool, error) {
	return vfs.NewFile(s.inner, p).Exists(ctx)
}

// ids returns the retained identifiers of p, oldest first.
func (s *store) ids(ctx context.Context, p vfs.Path) ([]int64, error) {
	dir, err := s.dir(p)
	if err != nil {
		return nil, err
	}
	infos, err := s.inner.ReadDir(ctx, dir)
	if errors.Is(err, vfs.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	ids := make([]int64, 0, len(infos))
	for _, info := range infos {
		id, err := strconv.ParseInt(info.Name(), 10, 64)
		if err != nil {
			continue
		}
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids, nil
}

// retain stores the current content of p under id, copying it or, when
// move is set, moving it. Entries beyond the retention bound are evicted
// afterwards.
func (s *store) retain(ctx context.Context, p vfs.Path, id int64, move bool) error {
	dir, err := s.dir(p)
	if err != nil {
		return err
	}
	target := vfs.NewFile(s.inner, dir)
	if err := target.Mkdirs(ctx); err != nil {
		return err
	}
	entry, err := target.Child(strconv.FormatInt(id, 10))
	if err != nil {
		return err
	}

	src := vfs.NewFile(s.inner, p)
	if move {
		err = src.MoveTo(ctx, entry)
	} else {
		err = src.CopyTo(ctx, entry)
	}
	if err != nil {
		return err
	}
	logger.Debug("history: retained %s as %s entry %d", p.Display(), s.kind, id)
	return s.evict(ctx, p)
}

// evict removes the oldest entries of p beyond the retention bound.
func (s *store) evict(ctx context.Context, p vfs.Path) error {
	if s.max <= 0 {
		return nil
	}
	ids, err := s.ids(ctx, p)
	if err != nil || len(ids) <= s.max {
		return err
	}
	dir, err := s.dir(p)
	if err != nil {
		return err
	}
	for _, id := range ids[:len(ids)-s.max] {
		entry, err := dir.Child(strconv.FormatInt(id, 10))
		if err != nil {
			return err
		}
		if err := s.inner.Remove(ctx, entry); err != nil && !errors.Is(err, vfs.ErrNotFound) {
			return err
		}
		logger.Debug("history: evicted %s entry %d of %s", s.kind, id, p.Display())
	}
	return nil
}

// open returns the content retained for p under id.
func (s *store) open(ctx context.Context, p vfs.Path, id int64) (io.ReadCloser, error) {
	dir, err := s.dir(p)
	if err != nil {
		return nil, err
	}
	entry, err := dir.Child(strconv.FormatInt(id, 10))
	if err != nil {
		return nil, err
	}
	r, err := s.inner.Open(ctx, entry)
	if errors.Is(err, vfs.ErrNotFound) {
		return nil, vfs.NewError(vfs.ErrNotFound, "open-history", p, "no "+s.kind+" entry "+strconv.FormatInt(id, 10))
	}
	return r, err
}

// drop deletes every entry of p, and the enclosing .versions directory
// when it becomes empty.
func (s *store) drop(ctx context.Context, p vfs.Path) error {
	dir, err := s.dir(p)
	if err != nil {
		return err
	}
	if err := vfs.NewFile(s.inner, dir).DeleteTree(ctx); err != nil && !errors.Is(err, vfs.ErrNotFound) {
		return err
	}
	versions, _ := dir.Parent()
	return s.removeIfEmpty(ctx, versions)
}

func (s *store) removeIfEmpty(ctx context.Context, dir vfs.Path) error {
	infos, err := s.inner.ReadDir(ctx, dir)
	if errors.Is(err, vfs.ErrNotFound) {
		return nil
	}
	if err != nil || len(infos) > 0 {
		return err
	}
	return s.inner.Remove(ctx, dir)
}

// relocate moves the entries of src (and, for the history store, of its
// descendants) so that they belong to dst.
func (s *store) relocate(ctx context.Context, src, dst vfs.Path) error {
	from, err := s.dir(src)
	if err != nil {
		return err
	}
	to, err := s.dir(dst)
	if err != nil {
		return err
	}
	if err := s.moveArea(ctx, from, to); err != nil {
		return err
	}
	versions, _ := from.Parent()
	if err := s.removeIfEmpty(ctx, versions); err != nil {
		return err
	}

	// The live tree already carries the version areas of descendants.
	if s.root.IsRoot() {
		return nil
	}
	return s.moveArea(ctx, s.subtree(src), s.subtree(dst))
}

// moveArea moves from to to, merging into an existing destination.
func (s *store) moveArea(ctx context.Context, from, to vfs.Path) error {
	ok, err := s.exists(ctx, from)
	if err != nil || !ok {
		return err
	}
	src := vfs.NewFile(s.inner, from)
	dst := vfs.NewFile(s.inner, to)
	if parent, ok := dst.Parent(); ok {
		if err := parent.Mkdirs(ctx); err != nil {
			return err
		}
	}

	taken, err := dst.Exists(ctx)
	if err != nil {
		return err
	}
	if !taken {
		return src.MoveTo(ctx, dst)
	}
	if err := src.CopyTo(ctx, dst); err != nil {
		return err
	}
	return src.DeleteTree(ctx)
}

// copyTree copies the entries of p and of its descendants below dst.
func (s *store) copyTree(ctx context.Context, p vfs.Path, dst *vfs.File) error {
	if !p.IsRoot() {
		if err := s.copyEntries(ctx, p, dst); err != nil {
			return err
		}
	}
	return s.copyArea(ctx, s.subtree(p), dst)
}

// copyEntries copies the entries of the single node p to dst/<id>.
func (s *store) copyEntries(ctx context.Context, p vfs.Path, dst *vfs.File) error {
	ids, err := s.ids(ctx, p)
	if err != nil || len(ids) == 0 {
		return err
	}
	if err := dst.Mkdirs(ctx); err != nil {
		return err
	}
	for _, id := range ids {
		if err := s.copyEntry(ctx, p, id, dst); err != nil {
			return err
		}
	}
	return nil
}

func (s *store) copyEntry(ctx context.Context, p vfs.Path, id int64, dst *vfs.File) error {
	r, err := s.open(ctx, p, id)
	if err != nil {
		return err
	}
	defer func() { _ = r.Close() }()

	target, err := dst.Child(strconv.FormatInt(id, 10))
	if err != nil {
		return err
	}
	w, err := target.OpenWriter(ctx)
	if err != nil {
		return err
	}
	if _, err := io.Copy(w, r); err != nil {
		_ = w.Close()
		return vfs.BackendFailure("copy-history", p, err)
	}
	return w.Close()
}

// copyArea walks an area directory: every .versions child holds per-name
// entry directories, every other directory is descended into.
func (s *store) copyArea(ctx context.Context, area vfs.Path, dst *vfs.File) error {
	infos, err := s.inner.ReadDir(ctx, area)
	if errors.Is(err, vfs.ErrNotFound) || errors.Is(err, vfs.ErrNotDirectory) {
		return nil
	}
	if err != nil {
		return err
	}

	for _, info := range infos {
		if !info.IsDir() {
			continue
		}
		if info.Name() != VersionsDirName {
			child, err := dst.Child(info.Name())
			if err != nil {
				return err
			}
			if err := s.copyArea(ctx, info.Path, child); err != nil {
				return err
			}
			continue
		}

		entries, err := s.inner.ReadDir(ctx, info.Path)
		if err != nil {
			return err
		}
		for _, entry := range entries {
			rel, _ := area.TrimPrefix(s.root)
			node, err := rel.Child(entry.Name())
			if err != nil {
				return err
			}
			target, err := dst.Child(entry.Name())
			if err != nil {
				return err
			}
			if err := s.copyEntries(ctx, node, target); err != nil {
				return err
			}
		}
	}
	return nil
}
