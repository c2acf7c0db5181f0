// Package badger is a persistent vfs.FileSystem on top of BadgerDB.
//
// Storage Model:
// Nodes are keyed by their full path, so a subtree is one contiguous key
// range and listings are range scans over a per-directory child index.
//
// Data Type        Prefix  Key Format               Value
// =========================================================================
// Node record      "n:"    n:<path>                 record (JSON)
// File content     "c:"    c:<path>                 raw bytes
// Child index      "d:"    d:<dir>\x00<name>        empty
//
// The root path renders as "", so the root record is the key "n:" and every
// other node key starts with "n:/". Because '\x00' sorts before any legal
// name byte, a prefix scan over d:<dir>\x00 yields children in byte order.
//
// Every operation runs in a single Badger transaction. Conflicting
// transactions are retried with exponential backoff; a versioned write that
// loses the race re-reads the version on retry and reports a mismatch.
package badger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	badger "github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"

	"github.com/pheyse/FileSystemFacade-sub001/internal/logger"
	"github.com/pheyse/FileSystemFacade-sub001/pkg/clock"
	"github.com/pheyse/FileSystemFacade-sub001/pkg/vfs"
)

// Config configures the Badger backend.
type Config struct {
	// Path is the directory holding the database files. Ignored when
	// InMemory is set.
	Path string `mapstructure:"path"`

	// InMemory keeps all data in RAM. Useful for tests.
	InMemory bool `mapstructure:"in_memory"`

	// BlockCacheSizeMB is BadgerDB's block cache size in MB (default: 64)
	BlockCacheSizeMB int64 `mapstructure:"block_cache_size_mb"`

	// IndexCacheSizeMB is BadgerDB's index cache size in MB (default: 32)
	IndexCacheSizeMB int64 `mapstructure:"index_cache_size_mb"`

	// MaxConflictRetries bounds the retries of a conflicting transaction
	// (default: 8)
	MaxConflictRetries uint64 `mapstructure:"max_conflict_retries"`

	// Clock supplies timestamps. Defaults to the real clock.
	Clock clock.Clock `mapstructure:"-"`
}

// FileSystem is a vfs.FileSystem persisted in BadgerDB.
type FileSystem struct {
	db      *badger.DB
	clock   clock.Clock
	retries uint64
	name    string
}

var (
	_ vfs.FileSystem  = (*FileSystem)(nil)
	_ vfs.Mover       = (*FileSystem)(nil)
	_ vfs.TreeRemover = (*FileSystem)(nil)
)

// New opens (or creates) the database and ensures the root record exists.
func New(ctx context.Context, cfg Config) (*FileSystem, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("badger: path is required unless in_memory is set")
	}

	opts := badger.DefaultOptions(cfg.Path)
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	}

	blockCacheMB := cfg.BlockCacheSizeMB
	if blockCacheMB == 0 {
		blockCacheMB = 64
	}
	indexCacheMB := cfg.IndexCacheSizeMB
	if indexCacheMB == 0 {
		indexCacheMB = 32
	}
	opts = opts.
		WithLogger(badgerLogger{}).
		WithCompression(options.None).
		WithBlockCacheSize(blockCacheMB << 20).
		WithIndexCacheSize(indexCacheMB << 20)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("badger: failed to open database at %q: %w", cfg.Path, err)
	}

	retries := cfg.MaxConflictRetries
	if retries == 0 {
		retries = 8
	}
	name := "badger(memory)"
	if !cfg.InMemory {
		name = "badger(" + cfg.Path + ")"
	}

	fs := &FileSystem{db: db, clock: clock.Or(cfg.Clock), retries: retries, name: name}
	if err := fs.ensureRoot(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return fs, nil
}

// Close flushes and closes the database.
func (fs *FileSystem) Close() error {
	return fs.db.Close()
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

func (fs *FileSystem) ensureRoot(ctx context.Context) error {
	return fs.update(ctx, "open", vfs.Root, func(txn *badger.Txn) error {
		if _, ok, err := getRecord(txn, vfs.Root); err != nil || ok {
			return err
		}
		now := fs.clock.Now().UnixNano()
		return putRecord(txn, vfs.Root, record{Kind: vfs.KindDirectory, Modified: now, Created: now})
	})
}

// ============================================================================
// Keys and Records
// ============================================================================

const (
	prefixNode    = "n:"
	prefixContent = "c:"
	prefixChild   = "d:"
)

func keyNode(p vfs.Path) []byte    { return []byte(prefixNode + p.String()) }
func keyContent(p vfs.Path) []byte { return []byte(prefixContent + p.String()) }

// keyChild is the child index entry for p inside its parent.
func keyChild(p vfs.Path) []byte {
	parent, _ := p.Parent()
	return []byte(prefixChild + parent.String() + "\x00" + p.Name())
}

// childPrefix selects the child index entries of dir.
func childPrefix(dir vfs.Path) []byte {
	return []byte(prefixChild + dir.String() + "\x00")
}

// descendantPrefix selects the node records strictly below p.
func descendantPrefix(p vfs.Path) []byte {
	return []byte(prefixNode + p.String() + vfs.Separator)
}

// record is the stored form of a node. Timestamps are Unix nanoseconds.
type record struct {
	Kind     vfs.Kind `json:"kind"`
	Size     int64    `json:"size"`
	Modified int64    `json:"modified"`
	Created  int64    `json:"created"`
	Version  int64    `json:"version"`
}

func (r record) isDir() bool { return r.Kind == vfs.KindDirectory }

func (r record) info(p vfs.Path) vfs.Info {
	return vfs.Info{
		Path:    p,
		Kind:    r.Kind,
		Size:    r.Size,
		ModTime: time.Unix(0, r.Modified),
		Created: time.Unix(0, r.Created),
		Version: r.Version,
	}
}

func getRecord(txn *badger.Txn, p vfs.Path) (record, bool, error) {
	item, err := txn.Get(keyNode(p))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return record{}, false, nil
	}
	if err != nil {
		return record{}, false, err
	}
	var r record
	err = item.Value(func(val []byte) error {
		return json.Unmarshal(val, &r)
	})
	return r, err == nil, err
}

func putRecord(txn *badger.Txn, p vfs.Path, r record) error {
	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("failed to encode record: %w", err)
	}
	return txn.Set(keyNode(p), data)
}

// ============================================================================
// Transactions
// ============================================================================

// update runs fn in a read-write transaction, retrying on conflicts.
// Errors returned by fn are never retried.
func (fs *FileSystem) update(ctx context.Context, op string, p vfs.Path, fn func(txn *badger.Txn) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 2 * time.Millisecond
	policy.MaxInterval = 100 * time.Millisecond

	attempt := 0
	err := backoff.Retry(func() error {
		attempt++
		err := fs.db.Update(fn)
		if errors.Is(err, badger.ErrConflict) {
			logger.Debug("badger: %s %s conflicted (attempt %d)", op, p.Display(), attempt)
			return err
		}
		if err != nil {
			return backoff.Permanent(err)
		}
		return nil
	}, backoff.WithContext(backoff.WithMaxRetries(policy, fs.retries), ctx))
	return vfs.BackendFailure(op, p, err)
}

// view runs fn in a read-only transaction.
func (fs *FileSystem) view(ctx context.Context, op string, p vfs.Path, fn func(txn *badger.Txn) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return vfs.BackendFailure(op, p, fs.db.View(fn))
}

// badgerLogger routes Badger's internal logging through the module logger,
// demoting its chatty informational output to debug.
type badgerLogger struct{}

func (badgerLogger) Errorf(format string, v ...any)   { logger.Error("badger: "+format, v...) }
func (badgerLogger) Warningf(format string, v ...any) { logger.Warn("badger: "+format, v...) }
func (badgerLogger) Infof(format string, v ...any)    { logger.Debug("badger: "+format, v...) }
func (badgerLogger) Debugf(format string, v ...any)   { logger.Debug("badger: "+format, v...) }
