// Package memory implements an in-memory vfs.FileSystem.
//
// It is the reference backend: fast, ephemeral and dependency-free, and the
// inner filesystem of choice for decorator tests.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/google/btree"
	"github.com/pheyse/FileSystemFacade-sub001/pkg/clock"
	"github.com/pheyse/FileSystemFacade-sub001/pkg/vfs"
)

// Config configures the memory backend.
type Config struct {
	// Name overrides the descriptive name reported by Name().
	Name string

	// Clock supplies modification timestamps. Defaults to the real clock.
	Clock clock.Clock
}

// node is one file or directory.
type node struct {
	path    vfs.Path
	kind    vfs.Kind
	content []byte
	modTime time.Time
	created time.Time
	version int64

	// children holds the names of a directory's entries in lexicographic
	// order. Nil for files.
	children *btree.BTreeG[string]
}

func nodeLess(a, b *node) bool {
	return a.path.Compare(b.path) < 0
}

func (n *node) info() vfs.Info {
	return vfs.Info{
		Path:    n.path,
		Kind:    n.kind,
		Size:    int64(len(n.content)),
		ModTime: n.modTime,
		Created: n.created,
		Version: n.version,
	}
}

// FileSystem is an in-memory vfs.FileSystem.
//
// Storage Model:
// All nodes live in one B-tree ordered segment-wise by path, so a directory
// is immediately followed by its whole subtree and tree operations are range
// scans. Each directory also keeps an ordered set of child names for
// listings.
//
// Thread Safety:
// A single read-write mutex keeps the maps consistent under concurrent use.
// It provides memory safety only: callers coordinate concurrent writers with
// versioned writes, not with locks.
type FileSystem struct {
	mu    sync.RWMutex
	nodes *btree.BTreeG[*node]
	clock clock.Clock
	name  string
}

var (
	_ vfs.FileSystem  = (*FileSystem)(nil)
	_ vfs.Mover       = (*FileSystem)(nil)
	_ vfs.TreeRemover = (*FileSystem)(nil)
)

// New creates an empty filesystem containing only the root directory.
func New(cfg Config) *FileSystem {
	fs := &FileSystem{
		nodes: btree.NewG[*node](32, nodeLess),
		clock: clock.Or(cfg.Clock),
		name:  cfg.Name,
	}
	if fs.name == "" {
		fs.name = "memory"
	}

	now := fs.clock.Now()
	fs.nodes.ReplaceOrInsert(&node{
		path:     vfs.Root,
		kind:     vfs.KindDirectory,
		modTime:  now,
		created:  now,
		children: btree.NewG[string](16, btree.Less[string]()),
	})
	return fs
}

// Name implements vfs.FileSystem.
func (fs *FileSystem) Name() string { return fs.name }

// Separator implements vfs.FileSystem.
func (fs *FileSystem) Separator() string { return vfs.Separator }

// Roots implements vfs.FileSystem.
func (fs *FileSystem) Roots(ctx context.Context) ([]vfs.Path, error) {
	return []vfs.Path{vfs.Root}, nil
}

// Resolve implements vfs.FileSystem.
func (fs *FileSystem) Resolve(raw string) (vfs.Path, error) {
	return vfs.ParsePath(raw)
}

// ============================================================================
// Internal helpers (caller must hold the lock)
// ============================================================================

func (fs *FileSystem) get(p vfs.Path) (*node, bool) {
	return fs.nodes.Get(&node{path: p})
}

// parentDir returns the directory that must contain p.
func (fs *FileSystem) parentDir(op string, p vfs.Path) (*node, error) {
	parentPath, ok := p.Parent()
	if !ok {
		return nil, vfs.NewError(vfs.ErrIllegalPath, op, p, "operation not permitted on the root")
	}
	parent, ok := fs.get(parentPath)
	if !ok {
		return nil, vfs.NewError(vfs.ErrNotFound, op, p, "parent directory does not exist")
	}
	if parent.kind != vfs.KindDirectory {
		return nil, vfs.NewError(vfs.ErrNotDirectory, op, parentPath, "")
	}
	return parent, nil
}

// subtree returns p and all of its descendants, in pre-order.
func (fs *FileSystem) subtree(p vfs.Path) []*node {
	var out []*node
	fs.nodes.AscendGreaterOrEqual(&node{path: p}, func(n *node) bool {
		if !n.path.HasPrefix(p) {
			return false
		}
		out = append(out, n)
		return true
	})
	return out
}

func (fs *FileSystem) touch(n *node) {
	n.modTime = fs.clock.Now()
}
