package vfs

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePath(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		want    string
		wantErr bool
	}{
		{"empty is root", "", "", false},
		{"slash is root", "/", "", false},
		{"simple", "/a", "/a", false},
		{"nested", "/a/b/c.txt", "/a/b/c.txt", false},
		{"trailing separator", "/a/b/", "/a/b", false},
		{"relative", "a/b", "", true},
		{"double separator", "/a//b", "", true},
		{"dot segment", "/a/./b", "", true},
		{"dotdot segment", "/a/../b", "", true},
		{"nul byte", "/a\x00b", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := ParsePath(tt.raw)
			if tt.wantErr {
				require.Error(t, err)
				assert.ErrorIs(t, err, ErrIllegalPath)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, p.String())
		})
	}
}

func TestPathNavigation(t *testing.T) {
	p := MustParsePath("/a/b/c")

	assert.Equal(t, "c", p.Name())
	assert.Equal(t, 3, p.Depth())
	assert.Equal(t, []string{"a", "b", "c"}, p.Segments())

	parent, ok := p.Parent()
	require.True(t, ok)
	assert.Equal(t, "/a/b", parent.String())

	_, ok = Root.Parent()
	assert.False(t, ok)
	assert.Equal(t, "/", Root.Display())

	child, err := parent.Child("d")
	require.NoError(t, err)
	assert.Equal(t, "/a/b/d", child.String())

	_, err = parent.Child("..")
	assert.ErrorIs(t, err, ErrIllegalPath)

	renamed, err := p.WithName("z")
	require.NoError(t, err)
	assert.Equal(t, "/a/b/z", renamed.String())
}

func TestPathPrefix(t *testing.T) {
	base := MustParsePath("/data/dir")

	assert.True(t, MustParsePath("/data/dir").HasPrefix(base))
	assert.True(t, MustParsePath("/data/dir/x").HasPrefix(base))
	assert.False(t, MustParsePath("/data/dirx").HasPrefix(base))
	assert.False(t, MustParsePath("/data").HasPrefix(base))
	assert.True(t, base.HasPrefix(Root))

	rel, ok := MustParsePath("/data/dir/x/y").TrimPrefix(base)
	require.True(t, ok)
	assert.Equal(t, "/x/y", rel.String())
	assert.Equal(t, "/other/x/y", MustParsePath("/other").Join(rel).String())
}

func TestPathCompare(t *testing.T) {
	assert.Equal(t, 0, MustParsePath("/a/b").Compare(MustParsePath("/a/b")))
	assert.Equal(t, -1, MustParsePath("/a").Compare(MustParsePath("/a/b")))
	// A directory's descendants sort before a sibling that shares its
	// name as a string prefix.
	assert.Equal(t, -1, MustParsePath("/a/z").Compare(MustParsePath("/a-b")))
	assert.True(t, MustParsePath("/a/b").Equal(MustParsePath("/a/b/")))
}

func TestPathText(t *testing.T) {
	var p Path
	require.NoError(t, p.UnmarshalText([]byte("/x/y")))
	text, err := p.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "/x/y", string(text))

	assert.Error(t, p.UnmarshalText([]byte("x/../y")))
}

func TestErrorFormatting(t *testing.T) {
	err := VersionMismatch("write", MustParsePath("/f"), 3, 5)
	assert.Equal(t, "write /f: version mismatch: expected version 3, current version 5", err.Error())
	assert.ErrorIs(t, err, ErrVersionMismatch)
	assert.NotErrorIs(t, err, ErrNotFound)

	assert.Equal(t, ErrVersionMismatch, CodeOf(err))
	assert.Equal(t, ErrBackend, CodeOf(assert.AnError))
	assert.Equal(t, ErrorCode(0), CodeOf(nil))

	assert.Equal(t, ErrNotEmpty, ParseErrorCode(ErrNotEmpty.String()))
	assert.Equal(t, ErrBackend, ParseErrorCode("no such code"))

	wrapped := BackendFailure("open", Root, assert.AnError)
	assert.ErrorIs(t, wrapped, assert.AnError)
	assert.Equal(t, ErrBackend, CodeOf(wrapped))
	assert.Same(t, err, BackendFailure("open", Root, err))
}
