// Package encrypt provides a decorator that transparently encrypts names and
// content below a base directory of an inner filesystem.
//
// Each path segment below the base is encrypted deterministically, so equal
// names map to equal ciphertext and lookups by name keep working on the
// inner filesystem. File content is encrypted with a fresh random nonce on
// every write. Timestamps, versions and the tree shape are not protected,
// and lengths reflect the ciphertext size.
package encrypt

import (
	"context"
	"errors"
	"io"
	"slices"
	"strings"
	"time"

	"github.com/zeebo/blake3"

	"github.com/pheyse/FileSystemFacade-sub001/internal/logger"
	"github.com/pheyse/FileSystemFacade-sub001/pkg/vfs"
)

// KDFParams are the Argon2id cost parameters.
type KDFParams struct {
	Time      uint32 `mapstructure:"time"`
	MemoryKiB uint32 `mapstructure:"memory_kib"`
	Threads   uint8  `mapstructure:"threads"`
}

// DefaultKDFParams follows the RFC 9106 second recommended option.
var DefaultKDFParams = KDFParams{Time: 3, MemoryKiB: 64 * 1024, Threads: 4}

// Config configures the decorator.
type Config struct {
	// Base is the directory below which names and content are encrypted.
	// Empty means the whole filesystem.
	Base string

	// Passphrase is the secret the keys are derived from.
	Passphrase string

	// Salt is mixed into the key derivation. Defaults to a value derived
	// from Base, so two stacks with the same passphrase but different bases
	// use different keys.
	Salt string

	// KDF overrides DefaultKDFParams. Zero fields take the default.
	KDF KDFParams
}

// FileSystem is an encrypting vfs.FileSystem decorator.
type FileSystem struct {
	inner vfs.FileSystem
	base  vfs.Path
	keys  *keySet
}

var (
	_ vfs.FileSystem  = (*FileSystem)(nil)
	_ vfs.Mover       = (*FileSystem)(nil)
	_ vfs.TreeRemover = (*FileSystem)(nil)
	_ vfs.Historian   = (*FileSystem)(nil)
	_ vfs.Unwrapper   = (*FileSystem)(nil)
)

// New wraps inner with encryption.
func New(inner vfs.FileSystem, cfg Config) (*FileSystem, error) {
	if cfg.Passphrase == "" {
		return nil, errors.New("encrypt: passphrase is required")
	}
	base, err := inner.Resolve(cfg.Base)
	if err != nil {
		return nil, err
	}

	params := cfg.KDF
	if params.Time == 0 {
		params.Time = DefaultKDFParams.Time
	}
	if params.MemoryKiB == 0 {
		params.MemoryKiB = DefaultKDFParams.MemoryKiB
	}
	if params.Threads == 0 {
		params.Threads = DefaultKDFParams.Threads
	}

	salt := []byte(cfg.Salt)
	if len(salt) == 0 {
		sum := blake3.Sum256([]byte("fsfacade.encrypt.salt.v1:" + base.String()))
		salt = sum[:16]
	}

	keys, err := deriveKeySet(deriveMasterKey(cfg.Passphrase, salt, params))
	if err != nil {
		return nil, err
	}

	return &FileSystem{inner: inner, base: base, keys: keys}, nil
}

// Unwrap implements vfs.Unwrapper.
func (fs *FileSystem) Unwrap() vfs.FileSystem { return fs.inner }

// Name implements vfs.FileSystem.
func (fs *FileSystem) Name() string { return "encrypt(" + fs.inner.Name() + ")" }

// Separator implements vfs.FileSystem.
func (fs *FileSystem) Separator() string { return vfs.Separator }

// Roots implements vfs.FileSystem.
func (fs *FileSystem) Roots(ctx context.Context) ([]vfs.Path, error) {
	return fs.inner.Roots(ctx)
}

// Resolve implements vfs.FileSystem.
func (fs *FileSystem) Resolve(raw string) (vfs.Path, error) {
	return vfs.ParsePath(raw)
}

// ============================================================================
// Path mapping
// ============================================================================

// encrypted reports whether the node at p has an encrypted name and content.
func (fs *FileSystem) encrypted(p vfs.Path) bool {
	return p.HasPrefix(fs.base) && !p.Equal(fs.base)
}

// in maps a plaintext path to its inner form.
func (fs *FileSystem) in(p vfs.Path) (vfs.Path, error) {
	if !fs.encrypted(p) {
		return p, nil
	}
	rel, _ := p.TrimPrefix(fs.base)
	out := fs.base
	for _, seg := range rel.Segments() {
		name, err := fs.keys.encryptName(seg)
		if err != nil {
			return vfs.Path{}, vfs.BackendFailure("encrypt-name", p, err)
		}
		if out, err = out.Child(name); err != nil {
			return vfs.Path{}, err
		}
	}
	return out, nil
}

// outErr rewrites the path of an inner error to the plaintext path p.
func outErr(err error, p vfs.Path) error {
	var fsErr *vfs.Error
	if !errors.As(err, &fsErr) {
		return err
	}
	copied := *fsErr
	copied.Path = p.String()
	return &copied
}

// ============================================================================
// FileSystem
// ============================================================================

// Stat implements vfs.FileSystem.
func (fs *FileSystem) Stat(ctx context.Context, p vfs.Path) (vfs.Info, error) {
	ip, err := fs.in(p)
	if err != nil {
		return vfs.Info{}, err
	}
	info, err := fs.inner.Stat(ctx, ip)
	if err != nil {
		return vfs.Info{}, outErr(err, p)
	}
	info.Path = p
	return info, nil
}

// ReadDir implements vfs.FileSystem. Children whose names do not decrypt
// with the current key are skipped.
func (fs *FileSystem) ReadDir(ctx context.Context, p vfs.Path) ([]vfs.Info, error) {
	ip, err := fs.in(p)
	if err != nil {
		return nil, err
	}
	infos, err := fs.inner.ReadDir(ctx, ip)
	if err != nil {
		return nil, outErr(err, p)
	}

	encryptedChildren := p.HasPrefix(fs.base)
	out := make([]vfs.Info, 0, len(infos))
	for _, info := range infos {
		name := info.Name()
		if encryptedChildren {
			plain, err := fs.keys.decryptName(name)
			if err != nil {
				logger.Warn("encrypt: skipping undecryptable entry %q in %s", name, p.Display())
				continue
			}
			name = plain
		}
		child, err := p.Child(name)
		if err != nil {
			logger.Warn("encrypt: skipping entry with illegal name %q in %s", name, p.Display())
			continue
		}
		info.Path = child
		out = append(out, info)
	}

	if encryptedChildren {
		slices.SortFunc(out, func(a, b vfs.Info) int { return strings.Compare(a.Name(), b.Name()) })
	}
	return out, nil
}

// Mkdir implements vfs.FileSystem.
func (fs *FileSystem) Mkdir(ctx context.Context, p vfs.Path) error {
	ip, err := fs.in(p)
	if err != nil {
		return err
	}
	return outErr(fs.inner.Mkdir(ctx, ip), p)
}

// Remove implements vfs.FileSystem.
func (fs *FileSystem) Remove(ctx context.Context, p vfs.Path) error {
	ip, err := fs.in(p)
	if err != nil {
		return err
	}
	return outErr(fs.inner.Remove(ctx, ip), p)
}

// Rename implements vfs.FileSystem.
func (fs *FileSystem) Rename(ctx context.Context, p vfs.Path, newName string) error {
	if err := vfs.ValidateName(newName); err != nil {
		return err
	}
	ip, err := fs.in(p)
	if err != nil {
		return err
	}
	innerName := newName
	if fs.encrypted(p) {
		if innerName, err = fs.keys.encryptName(newName); err != nil {
			return vfs.BackendFailure("rename", p, err)
		}
	}
	return outErr(fs.inner.Rename(ctx, ip, innerName), p)
}

// SetModTime implements vfs.FileSystem.
func (fs *FileSystem) SetModTime(ctx context.Context, p vfs.Path, t time.Time) error {
	ip, err := fs.in(p)
	if err != nil {
		return err
	}
	return outErr(fs.inner.SetModTime(ctx, ip, t), p)
}

// ============================================================================
// Content
// ============================================================================

func (fs *FileSystem) seal(op string, p vfs.Path, data []byte) ([]byte, error) {
	if !fs.encrypted(p) {
		return data, nil
	}
	sealed, err := fs.keys.sealContent(data)
	if err != nil {
		return nil, vfs.BackendFailure(op, p, err)
	}
	return sealed, nil
}

func (fs *FileSystem) open(op string, p vfs.Path, data []byte) ([]byte, error) {
	if !fs.encrypted(p) {
		return data, nil
	}
	plain, err := fs.keys.openContent(data)
	if err != nil {
		return nil, vfs.BackendFailure(op, p, err)
	}
	return plain, nil
}

// Open implements vfs.FileSystem. The whole ciphertext is read and
// authenticated before any plaintext is returned.
func (fs *FileSystem) Open(ctx context.Context, p vfs.Path) (io.ReadCloser, error) {
	ip, err := fs.in(p)
	if err != nil {
		return nil, err
	}
	r, err := fs.inner.Open(ctx, ip)
	if err != nil {
		return nil, outErr(err, p)
	}
	if !fs.encrypted(p) {
		return r, nil
	}
	defer func() { _ = r.Close() }()

	blob, err := io.ReadAll(r)
	if err != nil {
		return nil, vfs.BackendFailure("open", p, err)
	}
	plain, err := fs.open("open", p, blob)
	if err != nil {
		return nil, err
	}
	return vfs.NopReadCloser(plain), nil
}

// Create implements vfs.FileSystem.
func (fs *FileSystem) Create(ctx context.Context, p vfs.Path) (io.WriteCloser, error) {
	ip, err := fs.in(p)
	if err != nil {
		return nil, err
	}
	w, err := fs.inner.Create(ctx, ip)
	if err != nil {
		return nil, outErr(err, p)
	}
	if !fs.encrypted(p) {
		return w, nil
	}
	return vfs.NewBufferedWriter(func(data []byte) error {
		sealed, err := fs.seal("create", p, data)
		if err != nil {
			_ = w.Close()
			return err
		}
		if _, err := w.Write(sealed); err != nil {
			_ = w.Close()
			return vfs.BackendFailure("create", p, err)
		}
		return outErr(w.Close(), p)
	}), nil
}

// ReadVersioned implements vfs.FileSystem. The version passes through
// unchanged.
func (fs *FileSystem) ReadVersioned(ctx context.Context, p vfs.Path) (vfs.Versioned[[]byte], error) {
	ip, err := fs.in(p)
	if err != nil {
		return vfs.Versioned[[]byte]{}, err
	}
	v, err := fs.inner.ReadVersioned(ctx, ip)
	if err != nil {
		return vfs.Versioned[[]byte]{}, outErr(err, p)
	}
	if v.Value, err = fs.open("read", p, v.Value); err != nil {
		return vfs.Versioned[[]byte]{}, err
	}
	return v, nil
}

// WriteVersioned implements vfs.FileSystem.
func (fs *FileSystem) WriteVersioned(ctx context.Context, p vfs.Path, data []byte, expected int64) (int64, error) {
	ip, err := fs.in(p)
	if err != nil {
		return 0, err
	}
	sealed, err := fs.seal("write", p, data)
	if err != nil {
		return 0, err
	}
	version, err := fs.inner.WriteVersioned(ctx, ip, sealed, expected)
	if err != nil {
		return 0, outErr(err, p)
	}
	return version, nil
}

// ============================================================================
// Capabilities
// ============================================================================

// RemoveAll implements vfs.TreeRemover.
func (fs *FileSystem) RemoveAll(ctx context.Context, p vfs.Path) error {
	ip, err := fs.in(p)
	if err != nil {
		return err
	}
	return outErr(vfs.NewFile(fs.inner, ip).DeleteTree(ctx), p)
}

// Move implements vfs.Mover. Moves that stay on one side of the base
// boundary are delegated; moves across it re-encrypt by copying.
func (fs *FileSystem) Move(ctx context.Context, src, dst vfs.Path) error {
	if fs.encrypted(src) != fs.encrypted(dst) {
		if err := vfs.NewFile(fs, src).CopyTo(ctx, vfs.NewFile(fs, dst)); err != nil {
			return err
		}
		return fs.RemoveAll(ctx, src)
	}

	isrc, err := fs.in(src)
	if err != nil {
		return err
	}
	idst, err := fs.in(dst)
	if err != nil {
		return err
	}
	return outErr(vfs.NewFile(fs.inner, isrc).MoveTo(ctx, vfs.NewFile(fs.inner, idst)), src)
}

func (fs *FileSystem) historian(op string, p vfs.Path) (vfs.Historian, vfs.Path, error) {
	h, ok := fs.inner.(vfs.Historian)
	if !ok {
		return nil, vfs.Path{}, vfs.Unsupported(op, p)
	}
	ip, err := fs.in(p)
	if err != nil {
		return nil, vfs.Path{}, err
	}
	return h, ip, nil
}

// HistoryTimes implements vfs.Historian when the inner filesystem does.
func (fs *FileSystem) HistoryTimes(ctx context.Context, p vfs.Path) ([]int64, error) {
	h, ip, err := fs.historian("history-times", p)
	if err != nil {
		return nil, err
	}
	ids, err := h.HistoryTimes(ctx, ip)
	if err != nil {
		return nil, outErr(err, p)
	}
	return ids, nil
}

// OpenHistory implements vfs.Historian when the inner filesystem does.
// Retained content is decrypted like current content.
func (fs *FileSystem) OpenHistory(ctx context.Context, p vfs.Path, id int64) (io.ReadCloser, error) {
	h, ip, err := fs.historian("open-history", p)
	if err != nil {
		return nil, err
	}
	r, err := h.OpenHistory(ctx, ip, id)
	if err != nil {
		return nil, outErr(err, p)
	}
	defer func() { _ = r.Close() }()

	blob, err := io.ReadAll(r)
	if err != nil {
		return nil, vfs.BackendFailure("open-history", p, err)
	}
	plain, err := fs.open("open-history", p, blob)
	if err != nil {
		return nil, err
	}
	return vfs.NopReadCloser(plain), nil
}

// CopyHistoryTree implements vfs.Historian when the inner filesystem does.
func (fs *FileSystem) CopyHistoryTree(ctx context.Context, p vfs.Path, dst *vfs.File) error {
	if _, ok := fs.inner.(vfs.Historian); !ok {
		return vfs.Unsupported("copy-history", p)
	}
	return vfs.CopyHistoryEntries(ctx, fs, fs, p, dst)
}
