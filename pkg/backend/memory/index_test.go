package memory

import (
	"context"
	"fmt"
	"math/rand"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pheyse/FileSystemFacade-sub001/pkg/vfs"
)

// treeModel mirrors the expected namespace: canonical path -> is directory.
type treeModel map[string]bool

func (m treeModel) removeSubtree(p vfs.Path) {
	for key := range m {
		if vfs.MustParsePath(key).HasPrefix(p) {
			delete(m, key)
		}
	}
}

func (m treeModel) moveSubtree(src, dst vfs.Path) {
	moved := make(map[string]bool)
	for key, isDir := range m {
		rel, ok := vfs.MustParsePath(key).TrimPrefix(src)
		if !ok {
			continue
		}
		moved[dst.Join(rel).String()] = isDir
		delete(m, key)
	}
	for key, isDir := range moved {
		m[key] = isDir
	}
}

// checkTreeIndex asserts that every node's parent is a present directory,
// that each directory's child-name set equals the nodes directly beneath
// it, and that the node set equals the model.
func checkTreeIndex(t *testing.T, fs *FileSystem, model treeModel, step string) {
	t.Helper()
	fs.mu.RLock()
	defer fs.mu.RUnlock()

	got := make(treeModel)
	beneath := make(map[string][]string)
	fs.nodes.Ascend(func(n *node) bool {
		isDir := n.kind == vfs.KindDirectory
		got[n.path.String()] = isDir
		if isDir {
			require.NotNil(t, n.children, "%s: directory %s has no child set", step, n.path.Display())
		} else {
			assert.Nil(t, n.children, "%s: file %s has a child set", step, n.path.Display())
		}

		parentPath, ok := n.path.Parent()
		if !ok {
			return true
		}
		parent, found := fs.get(parentPath)
		require.True(t, found, "%s: orphan %s", step, n.path.Display())
		assert.Equal(t, vfs.KindDirectory, parent.kind, "%s: parent of %s", step, n.path.Display())
		beneath[parentPath.String()] = append(beneath[parentPath.String()], n.path.Name())
		return true
	})
	assert.Equal(t, model, got, "%s: node set", step)

	fs.nodes.Ascend(func(n *node) bool {
		if n.kind != vfs.KindDirectory {
			return true
		}
		var names []string
		n.children.Ascend(func(name string) bool {
			names = append(names, name)
			return true
		})
		want := beneath[n.path.String()]
		sort.Strings(want)
		assert.Equal(t, want, names, "%s: children of %s", step, n.path.Display())
		return true
	})
}

func TestTreeIndexStaysConsistent(t *testing.T) {
	const seed = 20240601
	rng := rand.New(rand.NewSource(seed))
	names := []string{"a", "b", "c", "d"}

	randomPath := func() vfs.Path {
		p := vfs.Root
		for depth := 1 + rng.Intn(3); depth > 0; depth-- {
			p, _ = p.Child(names[rng.Intn(len(names))])
		}
		return p
	}

	fs := New(Config{})
	ctx := context.Background()
	model := treeModel{vfs.Root.String(): true}

	for i := 0; i < 2000; i++ {
		p := randomPath()
		var op string
		switch rng.Intn(6) {
		case 0:
			op = "mkdir"
			if fs.Mkdir(ctx, p) == nil {
				model[p.String()] = true
			}
		case 1:
			op = "write"
			if _, err := fs.write(ctx, "write", p, []byte("x"), nil); err == nil {
				model[p.String()] = false
			}
		case 2:
			op = "remove"
			if fs.Remove(ctx, p) == nil {
				delete(model, p.String())
			}
		case 3:
			op = "remove-all"
			if fs.RemoveAll(ctx, p) == nil {
				model.removeSubtree(p)
			}
		case 4:
			dst := randomPath()
			op = "move to " + dst.Display()
			if fs.Move(ctx, p, dst) == nil {
				model.moveSubtree(p, dst)
			}
		case 5:
			name := names[rng.Intn(len(names))]
			op = "rename to " + name
			if fs.Rename(ctx, p, name) == nil {
				dst, err := p.WithName(name)
				require.NoError(t, err)
				model.moveSubtree(p, dst)
			}
		}
		checkTreeIndex(t, fs, model, fmt.Sprintf("seed %d step %d: %s %s", seed, i, op, p.Display()))
		if t.Failed() {
			return
		}
	}
}
