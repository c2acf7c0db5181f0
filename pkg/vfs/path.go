package vfs

import (
	"strings"
)

// Separator is the separator used by every Path rendered by this package.
const Separator = "/"

// Path is an absolute, normalized location inside one FileSystem.
//
// A Path is an immutable sequence of non-empty segments. The root is the
// empty sequence and renders as "" (its canonical form); every other path
// renders as "/seg/seg". No segment is ever "." or "..", so a Path can be
// concatenated onto a base without ever escaping it.
//
// Paths are values compared by content; String() is the canonical key form
// for maps and indexes. Relationships between nodes (parent, children) are
// always recomputed from the Path rather than stored as pointers.
type Path struct {
	segments []string
}

// Root is the root path of every FileSystem.
var Root = Path{}

// ParsePath validates and normalizes raw into a Path.
//
// Accepted forms:
//   - "" and "/" denote the root
//   - "/a/b" denotes an absolute path; a single trailing separator is
//     tolerated and dropped
//
// Rejected with ErrIllegalPath: relative paths, empty segments ("//"),
// "." and ".." segments, and segments containing a NUL byte.
func ParsePath(raw string) (Path, error) {
	if raw == "" || raw == Separator {
		return Root, nil
	}

	if !strings.HasPrefix(raw, Separator) {
		return Path{}, &Error{Code: ErrIllegalPath, Op: "parse", Path: raw, Message: "path must be absolute"}
	}

	trimmed := strings.TrimSuffix(raw[1:], Separator)
	parts := strings.Split(trimmed, Separator)
	for _, part := range parts {
		if err := validateName(part); err != nil {
			err.Op, err.Path = "parse", raw
			return Path{}, err
		}
	}

	return Path{segments: parts}, nil
}

// MustParsePath is like ParsePath but panics on error. Intended for
// constants and tests.
func MustParsePath(raw string) Path {
	p, err := ParsePath(raw)
	if err != nil {
		panic(err)
	}
	return p
}

// ValidateName checks that name can be used as a single path segment.
func ValidateName(name string) error {
	if err := validateName(name); err != nil {
		return err
	}
	return nil
}

func validateName(name string) *Error {
	switch {
	case name == "":
		return &Error{Code: ErrIllegalPath, Message: "empty path segment"}
	case name == "." || name == "..":
		return &Error{Code: ErrIllegalPath, Message: "relative path segment " + name}
	case strings.Contains(name, Separator):
		return &Error{Code: ErrIllegalPath, Message: "segment contains separator"}
	case strings.ContainsRune(name, 0):
		return &Error{Code: ErrIllegalPath, Message: "segment contains NUL byte"}
	}
	return nil
}

// String renders the path. The root renders as "".
func (p Path) String() string {
	if len(p.segments) == 0 {
		return ""
	}
	return Separator + strings.Join(p.segments, Separator)
}

// Display renders the path for humans: like String, but the root is "/".
func (p Path) Display() string {
	if len(p.segments) == 0 {
		return Separator
	}
	return p.String()
}

// IsRoot reports whether p is the root.
func (p Path) IsRoot() bool { return len(p.segments) == 0 }

// Depth returns the number of segments.
func (p Path) Depth() int { return len(p.segments) }

// Segments returns a copy of the segments.
func (p Path) Segments() []string {
	out := make([]string, len(p.segments))
	copy(out, p.segments)
	return out
}

// Segment returns the i-th segment.
func (p Path) Segment(i int) string { return p.segments[i] }

// Name returns the last segment, or "" for the root.
func (p Path) Name() string {
	if len(p.segments) == 0 {
		return ""
	}
	return p.segments[len(p.segments)-1]
}

// Parent returns the parent path. The root has no parent.
func (p Path) Parent() (Path, bool) {
	if len(p.segments) == 0 {
		return Path{}, false
	}
	return Path{segments: p.segments[:len(p.segments)-1:len(p.segments)-1]}, true
}

// Child returns p extended by one segment. The name is validated.
func (p Path) Child(name string) (Path, error) {
	if err := ValidateName(name); err != nil {
		return Path{}, err
	}
	return p.appendSegments(name), nil
}

// Join returns p followed by every segment of rel.
func (p Path) Join(rel Path) Path {
	return p.appendSegments(rel.segments...)
}

// WithName returns a sibling of p named name.
func (p Path) WithName(name string) (Path, error) {
	parent, ok := p.Parent()
	if !ok {
		return Path{}, &Error{Code: ErrIllegalPath, Message: "root cannot be renamed"}
	}
	return parent.Child(name)
}

// HasPrefix reports whether base is p itself or one of its ancestors.
func (p Path) HasPrefix(base Path) bool {
	if len(base.segments) > len(p.segments) {
		return false
	}
	for i, s := range base.segments {
		if p.segments[i] != s {
			return false
		}
	}
	return true
}

// TrimPrefix returns p relative to base. ok is false when base is not a
// prefix of p.
func (p Path) TrimPrefix(base Path) (Path, bool) {
	if !p.HasPrefix(base) {
		return Path{}, false
	}
	rest := p.segments[len(base.segments):]
	return Path{segments: rest[:len(rest):len(rest)]}, true
}

// Equal reports whether p and other denote the same path.
func (p Path) Equal(other Path) bool {
	if len(p.segments) != len(other.segments) {
		return false
	}
	for i := range p.segments {
		if p.segments[i] != other.segments[i] {
			return false
		}
	}
	return true
}

// Compare orders paths segment by segment, so that a directory sorts
// immediately before its own descendants.
func (p Path) Compare(other Path) int {
	n := min(len(p.segments), len(other.segments))
	for i := 0; i < n; i++ {
		if c := strings.Compare(p.segments[i], other.segments[i]); c != 0 {
			return c
		}
	}
	switch {
	case len(p.segments) < len(other.segments):
		return -1
	case len(p.segments) > len(other.segments):
		return 1
	}
	return 0
}

// MarshalText implements encoding.TextMarshaler.
func (p Path) MarshalText() ([]byte, error) { return []byte(p.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (p *Path) UnmarshalText(text []byte) error {
	parsed, err := ParsePath(string(text))
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}

func (p Path) appendSegments(names ...string) Path {
	out := make([]string, 0, len(p.segments)+len(names))
	out = append(out, p.segments...)
	out = append(out, names...)
	return Path{segments: out}
}
