package vfs

import (
	"bytes"
	"context"
	"errors"
	"io"
	"reflect"
	"strconv"
	"time"
)

// File is a lazily resolved handle on one node of a FileSystem.
//
// Creating a File never touches storage; only operations that require the
// node to exist can fail with ErrNotFound. A File is a plain value pair
// (filesystem, path) and holds no reference to its parent or children.
type File struct {
	fs   FileSystem
	path Path
}

// CreateByPath resolves raw against fsys and returns a handle. It fails only
// when raw is rejected by the filesystem's path rules.
func CreateByPath(fsys FileSystem, raw string) (*File, error) {
	p, err := fsys.Resolve(raw)
	if err != nil {
		return nil, err
	}
	return &File{fs: fsys, path: p}, nil
}

// NewFile returns a handle on an already validated path.
func NewFile(fsys FileSystem, p Path) *File {
	return &File{fs: fsys, path: p}
}

// FileSystem returns the filesystem the handle belongs to.
func (f *File) FileSystem() FileSystem { return f.fs }

// Path returns the handle's path.
func (f *File) Path() Path { return f.path }

// Name returns the last path segment ("" for the root).
func (f *File) Name() string { return f.path.Name() }

// AbsolutePath returns the canonical path string.
func (f *File) AbsolutePath() string { return f.path.String() }

func (f *File) String() string { return f.fs.Name() + ":" + f.path.Display() }

// Parent returns the handle of the parent directory. The root has none.
func (f *File) Parent() (*File, bool) {
	parent, ok := f.path.Parent()
	if !ok {
		return nil, false
	}
	return &File{fs: f.fs, path: parent}, true
}

// Child returns the handle of the child called name.
func (f *File) Child(name string) (*File, error) {
	p, err := f.path.Child(name)
	if err != nil {
		return nil, err
	}
	return &File{fs: f.fs, path: p}, nil
}

// ============================================================================
// Metadata
// ============================================================================

// Stat returns the node's attributes.
func (f *File) Stat(ctx context.Context) (Info, error) {
	return f.fs.Stat(ctx, f.path)
}

// Exists reports whether the node exists.
func (f *File) Exists(ctx context.Context) (bool, error) {
	_, err := f.fs.Stat(ctx, f.path)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	return false, err
}

// IsFile reports whether the node exists and is a regular file.
func (f *File) IsFile(ctx context.Context) (bool, error) {
	return f.isKind(ctx, KindFile)
}

// IsDirectory reports whether the node exists and is a directory.
func (f *File) IsDirectory(ctx context.Context) (bool, error) {
	return f.isKind(ctx, KindDirectory)
}

func (f *File) isKind(ctx context.Context, kind Kind) (bool, error) {
	info, err := f.fs.Stat(ctx, f.path)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	return info.Kind == kind, nil
}

// Length returns the stored content length of a file.
func (f *File) Length(ctx context.Context) (int64, error) {
	info, err := f.fs.Stat(ctx, f.path)
	if err != nil {
		return 0, err
	}
	return info.Size, nil
}

// LastModified returns the last-modified timestamp.
func (f *File) LastModified(ctx context.Context) (time.Time, error) {
	info, err := f.fs.Stat(ctx, f.path)
	if err != nil {
		return time.Time{}, err
	}
	return info.ModTime, nil
}

// SetLastModified sets the last-modified timestamp.
func (f *File) SetLastModified(ctx context.Context, t time.Time) error {
	return f.fs.SetModTime(ctx, f.path, t)
}

// Version returns the current version of the node.
func (f *File) Version(ctx context.Context) (int64, error) {
	info, err := f.fs.Stat(ctx, f.path)
	if err != nil {
		return 0, err
	}
	return info.Version, nil
}

// ============================================================================
// Directories
// ============================================================================

// ListFiles returns handles on the immediate children, ordered by name.
func (f *File) ListFiles(ctx context.Context) ([]*File, error) {
	infos, err := f.fs.ReadDir(ctx, f.path)
	if err != nil {
		return nil, err
	}
	out := make([]*File, 0, len(infos))
	for _, info := range infos {
		out = append(out, &File{fs: f.fs, path: info.Path})
	}
	return out, nil
}

// ListNames returns the names of the immediate children, ordered.
func (f *File) ListNames(ctx context.Context) ([]string, error) {
	if lister, ok := f.fs.(NameLister); ok {
		return lister.ListNames(ctx, f.path)
	}
	infos, err := f.fs.ReadDir(ctx, f.path)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(infos))
	for _, info := range infos {
		out = append(out, info.Name())
	}
	return out, nil
}

// ListTree returns every descendant in depth-first pre-order (a directory
// precedes its children). The handle itself is not included.
func (f *File) ListTree(ctx context.Context) ([]*File, error) {
	var out []*File
	err := f.walk(ctx, func(info Info) error {
		out = append(out, &File{fs: f.fs, path: info.Path})
		return nil
	})
	return out, err
}

func (f *File) walk(ctx context.Context, visit func(Info) error) error {
	infos, err := f.fs.ReadDir(ctx, f.path)
	if err != nil {
		return err
	}
	for _, info := range infos {
		if err := visit(info); err != nil {
			return err
		}
		if info.IsDir() {
			child := &File{fs: f.fs, path: info.Path}
			if err := child.walk(ctx, visit); err != nil {
				return err
			}
		}
	}
	return nil
}

// Mkdir creates this directory. The parent must exist.
func (f *File) Mkdir(ctx context.Context) error {
	return f.fs.Mkdir(ctx, f.path)
}

// Mkdirs creates this directory and every missing ancestor. Existing
// directories along the way are accepted; an existing file is not.
func (f *File) Mkdirs(ctx context.Context) error {
	current := Root
	for i := 0; i < f.path.Depth(); i++ {
		current = current.appendSegments(f.path.Segment(i))
		info, err := f.fs.Stat(ctx, current)
		switch {
		case err == nil:
			if !info.IsDir() {
				return NewError(ErrNotDirectory, "mkdirs", current, "")
			}
			continue
		case !errors.Is(err, ErrNotFound):
			return err
		}
		if err := f.fs.Mkdir(ctx, current); err != nil && !errors.Is(err, ErrAlreadyExists) {
			return err
		}
	}
	return nil
}

// ============================================================================
// Content
// ============================================================================

// OpenReader opens the content stream. The caller must Close it.
func (f *File) OpenReader(ctx context.Context) (io.ReadCloser, error) {
	return f.fs.Open(ctx, f.path)
}

// OpenWriter opens a stream replacing the content on Close.
func (f *File) OpenWriter(ctx context.Context) (io.WriteCloser, error) {
	return f.fs.Create(ctx, f.path)
}

// ReadBytes returns the whole content.
func (f *File) ReadBytes(ctx context.Context) ([]byte, error) {
	r, err := f.fs.Open(ctx, f.path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = r.Close() }()

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, BackendFailure("read", f.path, err)
	}
	return data, nil
}

// WriteBytes replaces the whole content unconditionally.
func (f *File) WriteBytes(ctx context.Context, data []byte) error {
	w, err := f.fs.Create(ctx, f.path)
	if err != nil {
		return err
	}
	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return BackendFailure("write", f.path, err)
	}
	return w.Close()
}

// ReadString returns the content as text.
func (f *File) ReadString(ctx context.Context) (string, error) {
	data, err := f.ReadBytes(ctx)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// WriteString replaces the content with text.
func (f *File) WriteString(ctx context.Context, s string) error {
	return f.WriteBytes(ctx, []byte(s))
}

// ReadObject decodes the content into v with the JSON codec.
func (f *File) ReadObject(ctx context.Context, v any) error {
	return f.ReadObjectWith(ctx, JSON, v)
}

// WriteObject encodes v with the JSON codec and replaces the content.
func (f *File) WriteObject(ctx context.Context, v any) error {
	return f.WriteObjectWith(ctx, JSON, v)
}

// ReadObjectWith decodes the content into v with codec.
func (f *File) ReadObjectWith(ctx context.Context, codec Codec, v any) error {
	data, err := f.ReadBytes(ctx)
	if err != nil {
		return err
	}
	if err := codec.Unmarshal(data, v); err != nil {
		return &Error{Code: ErrBackend, Op: "read-object", Path: f.path.String(), Err: err}
	}
	return nil
}

// WriteObjectWith encodes v with codec and replaces the content.
func (f *File) WriteObjectWith(ctx context.Context, codec Codec, v any) error {
	data, err := codec.Marshal(v)
	if err != nil {
		return &Error{Code: ErrBackend, Op: "write-object", Path: f.path.String(), Err: err}
	}
	return f.WriteBytes(ctx, data)
}

// ReadBytesVersioned returns the content with its current version.
func (f *File) ReadBytesVersioned(ctx context.Context) (Versioned[[]byte], error) {
	return f.fs.ReadVersioned(ctx, f.path)
}

// WriteBytesVersioned writes v.Value if the node is still at v.Version.
func (f *File) WriteBytesVersioned(ctx context.Context, v Versioned[[]byte]) (int64, error) {
	return f.fs.WriteVersioned(ctx, f.path, v.Value, v.Version)
}

// ReadStringVersioned returns the content as text with its version.
func (f *File) ReadStringVersioned(ctx context.Context) (Versioned[string], error) {
	v, err := f.fs.ReadVersioned(ctx, f.path)
	if err != nil {
		return Versioned[string]{}, err
	}
	return Versioned[string]{Value: string(v.Value), Version: v.Version}, nil
}

// WriteStringVersioned writes v.Value if the node is still at v.Version.
func (f *File) WriteStringVersioned(ctx context.Context, v Versioned[string]) (int64, error) {
	return f.fs.WriteVersioned(ctx, f.path, []byte(v.Value), v.Version)
}

// ReadObjectVersioned decodes the content into v and returns its version.
func (f *File) ReadObjectVersioned(ctx context.Context, v any) (int64, error) {
	raw, err := f.fs.ReadVersioned(ctx, f.path)
	if err != nil {
		return 0, err
	}
	if err := JSON.Unmarshal(raw.Value, v); err != nil {
		return 0, &Error{Code: ErrBackend, Op: "read-object", Path: f.path.String(), Err: err}
	}
	return raw.Version, nil
}

// WriteObjectVersioned encodes v and writes it if the node is still at
// expected.
func (f *File) WriteObjectVersioned(ctx context.Context, v any, expected int64) (int64, error) {
	data, err := JSON.Marshal(v)
	if err != nil {
		return 0, &Error{Code: ErrBackend, Op: "write-object", Path: f.path.String(), Err: err}
	}
	return f.fs.WriteVersioned(ctx, f.path, data, expected)
}

// ============================================================================
// Structure
// ============================================================================

// Rename changes the node's name within its parent and returns the new
// handle.
func (f *File) Rename(ctx context.Context, newName string) (*File, error) {
	if err := f.fs.Rename(ctx, f.path, newName); err != nil {
		return nil, err
	}
	p, err := f.path.WithName(newName)
	if err != nil {
		return nil, err
	}
	return &File{fs: f.fs, path: p}, nil
}

// Delete removes a file or an empty directory.
func (f *File) Delete(ctx context.Context) error {
	return f.fs.Remove(ctx, f.path)
}

// DeleteTree removes the node and, for a directory, its whole subtree.
func (f *File) DeleteTree(ctx context.Context) error {
	if remover, ok := f.fs.(TreeRemover); ok {
		return remover.RemoveAll(ctx, f.path)
	}

	info, err := f.fs.Stat(ctx, f.path)
	if err != nil {
		return err
	}
	if info.IsDir() {
		children, err := f.ListFiles(ctx)
		if err != nil {
			return err
		}
		for _, child := range children {
			if err := child.DeleteTree(ctx); err != nil {
				return err
			}
		}
	}
	return f.fs.Remove(ctx, f.path)
}

// CopyTo copies the node to dst, which may live on a different filesystem.
// Files are streamed; directories are copied recursively. An existing
// destination file is overwritten; existing destination directories are
// merged into.
func (f *File) CopyTo(ctx context.Context, dst *File) error {
	if sameFileSystem(f.fs, dst.fs) && dst.path.HasPrefix(f.path) {
		return NewError(ErrIllegalPath, "copy", dst.path, "destination is inside the source")
	}

	info, err := f.fs.Stat(ctx, f.path)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return f.copyContent(ctx, dst, info)
	}

	if err := dst.Mkdirs(ctx); err != nil {
		return err
	}
	children, err := f.fs.ReadDir(ctx, f.path)
	if err != nil {
		return err
	}
	for _, child := range children {
		target, err := dst.Child(child.Name())
		if err != nil {
			return err
		}
		if err := (&File{fs: f.fs, path: child.Path}).CopyTo(ctx, target); err != nil {
			return err
		}
	}
	return nil
}

func (f *File) copyContent(ctx context.Context, dst *File, info Info) error {
	r, err := f.fs.Open(ctx, f.path)
	if err != nil {
		return err
	}
	defer func() { _ = r.Close() }()

	w, err := dst.fs.Create(ctx, dst.path)
	if err != nil {
		return err
	}
	if _, err := io.Copy(w, r); err != nil {
		_ = w.Close()
		return BackendFailure("copy", f.path, err)
	}
	if err := w.Close(); err != nil {
		return err
	}

	// Best effort: not every backend keeps caller-supplied timestamps.
	if !info.ModTime.IsZero() {
		if err := dst.fs.SetModTime(ctx, dst.path, info.ModTime); err != nil && !errors.Is(err, ErrUnsupported) {
			return err
		}
	}
	return nil
}

// MoveTo moves the node (with its subtree) to dst. When both handles share
// a filesystem implementing Mover the move is native; otherwise content is
// copied and the source deleted.
func (f *File) MoveTo(ctx context.Context, dst *File) error {
	if sameFileSystem(f.fs, dst.fs) {
		if dst.path.HasPrefix(f.path) {
			return NewError(ErrIllegalPath, "move", dst.path, "destination is inside the source")
		}
		if mover, ok := f.fs.(Mover); ok {
			return mover.Move(ctx, f.path, dst.path)
		}
	}

	if err := f.CopyTo(ctx, dst); err != nil {
		return err
	}
	return f.DeleteTree(ctx)
}

// sameFileSystem reports whether a and b are the same instance. Values of
// non-comparable dynamic types never are.
func sameFileSystem(a, b FileSystem) bool {
	ta := reflect.TypeOf(a)
	if ta == nil || ta != reflect.TypeOf(b) || !ta.Comparable() {
		return false
	}
	return a == b
}

// ============================================================================
// History
// ============================================================================

func (f *File) historian(op string) (Historian, error) {
	h, ok := f.fs.(Historian)
	if !ok {
		return nil, Unsupported(op, f.path)
	}
	return h, nil
}

// HistoryTimes returns the retained history identifiers, oldest first.
func (f *File) HistoryTimes(ctx context.Context) ([]int64, error) {
	h, err := f.historian("history-times")
	if err != nil {
		return nil, err
	}
	return h.HistoryTimes(ctx, f.path)
}

// OpenHistory opens the content retained under id.
func (f *File) OpenHistory(ctx context.Context, id int64) (io.ReadCloser, error) {
	h, err := f.historian("open-history")
	if err != nil {
		return nil, err
	}
	return h.OpenHistory(ctx, f.path, id)
}

// ReadHistoryBytes returns the content retained under id.
func (f *File) ReadHistoryBytes(ctx context.Context, id int64) ([]byte, error) {
	r, err := f.OpenHistory(ctx, id)
	if err != nil {
		return nil, err
	}
	defer func() { _ = r.Close() }()

	var buf bytes.Buffer
	if _, err := buf.ReadFrom(r); err != nil {
		return nil, BackendFailure("read-history", f.path, err)
	}
	return buf.Bytes(), nil
}

// CopyHistoryTree copies every retained entry below dst.
func (f *File) CopyHistoryTree(ctx context.Context, dst *File) error {
	h, err := f.historian("copy-history")
	if err != nil {
		return err
	}
	return h.CopyHistoryTree(ctx, f.path, dst)
}

// CopyHistoryEntries is the generic CopyHistoryTree: for every file at or
// below p it copies each entry retained by h to dst/<relative path>/<id>.
// Decorators whose history is readable only through their own OpenHistory
// use it instead of delegating.
func CopyHistoryEntries(ctx context.Context, fsys FileSystem, h Historian, p Path, dst *File) error {
	info, err := fsys.Stat(ctx, p)
	if err != nil {
		return err
	}
	if info.IsDir() {
		children, err := fsys.ReadDir(ctx, p)
		if err != nil {
			return err
		}
		for _, child := range children {
			target, err := dst.Child(child.Name())
			if err != nil {
				return err
			}
			if err := CopyHistoryEntries(ctx, fsys, h, child.Path, target); err != nil {
				return err
			}
		}
		return nil
	}

	ids, err := h.HistoryTimes(ctx, p)
	if err != nil {
		return err
	}
	if len(ids) == 0 {
		return nil
	}
	if err := dst.Mkdirs(ctx); err != nil {
		return err
	}
	for _, id := range ids {
		if err := copyHistoryEntry(ctx, h, p, id, dst); err != nil {
			return err
		}
	}
	return nil
}

func copyHistoryEntry(ctx context.Context, h Historian, p Path, id int64, dst *File) error {
	r, err := h.OpenHistory(ctx, p, id)
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
		return BackendFailure("copy-history", p, err)
	}
	return w.Close()
}
