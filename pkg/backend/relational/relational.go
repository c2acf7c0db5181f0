// Package relational stores a filesystem namespace in one table of a
// relational database.
//
// Every node is one row linked to its parent by id; full paths are never
// stored and are recomputed while resolving. One physical table can host
// many independent namespaces, each scoped by an application and a tenant
// name.
//
// Schema (dialect-specific types aside):
//
//	id        VARCHAR(36) PRIMARY KEY   -- UUID
//	parent_id VARCHAR(36) NULL          -- NULL for the root
//	app       VARCHAR(64)
//	tenant    VARCHAR(64)
//	name      VARCHAR(255)              -- "" for the root
//	is_dir    INTEGER
//	content   BLOB NULL
//	size      BIGINT
//	modified  BIGINT                    -- Unix milliseconds
//	created   BIGINT                    -- Unix milliseconds
//	version   BIGINT
//	UNIQUE (app, tenant, parent_id, name)
package relational

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/pheyse/FileSystemFacade-sub001/internal/logger"
	"github.com/pheyse/FileSystemFacade-sub001/pkg/clock"
	"github.com/pheyse/FileSystemFacade-sub001/pkg/vfs"
)

const (
	// DefaultTable is the table used when Config.Table is empty.
	DefaultTable = "fsf_nodes"

	// DefaultApplication and DefaultTenant scope the namespace when the
	// configuration leaves them empty.
	DefaultApplication = "default"
	DefaultTenant      = "default"
)

func init() {
	// modernc.org/sqlite registers itself as "sqlite", which older sqlx
	// releases do not know about.
	sqlx.BindDriver("sqlite", sqlx.QUESTION)
}

var tableNamePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]{0,62}$`)

// Config configures the relational backend.
type Config struct {
	// Driver is the database/sql driver name ("sqlite", "mysql",
	// "postgres"). Ignored when DB is set, except to pick the dialect.
	Driver string

	// DSN is the driver-specific data source name.
	DSN string

	// DB is an already open connection pool. It is shared, not owned:
	// Close leaves it open.
	DB *sqlx.DB

	// Table is the table name. Defaults to DefaultTable.
	Table string

	// AutoCreate creates the table when it does not exist. Without it a
	// missing table fails construction.
	AutoCreate bool

	// Application and Tenant scope the namespace within the table.
	Application string
	Tenant      string

	// Clock supplies modification timestamps. Defaults to the real clock.
	Clock clock.Clock
}

// FileSystem is a vfs.FileSystem backed by a relational table.
type FileSystem struct {
	cfg     Config
	db      *sqlx.DB
	ownsDB  bool
	dialect dialect
	clock   clock.Clock
	q       queries
}

var (
	_ vfs.FileSystem  = (*FileSystem)(nil)
	_ vfs.Mover       = (*FileSystem)(nil)
	_ vfs.TreeRemover = (*FileSystem)(nil)
)

// New opens the backend. cfg is copied, so later changes to the caller's
// value have no effect; only cfg.DB is shared.
//
// The table is verified (and created when AutoCreate is set) and the
// namespace root row is created if missing.
func New(ctx context.Context, cfg Config) (*FileSystem, error) {
	if cfg.Table == "" {
		cfg.Table = DefaultTable
	}
	if cfg.Application == "" {
		cfg.Application = DefaultApplication
	}
	if cfg.Tenant == "" {
		cfg.Tenant = DefaultTenant
	}
	if !tableNamePattern.MatchString(cfg.Table) {
		return nil, fmt.Errorf("relational: invalid table name %q", cfg.Table)
	}

	fs := &FileSystem{cfg: cfg, clock: clock.Or(cfg.Clock)}

	if cfg.DB != nil {
		fs.db = cfg.DB
		if cfg.Driver == "" {
			cfg.Driver = cfg.DB.DriverName()
			fs.cfg.Driver = cfg.Driver
		}
	} else {
		if cfg.Driver == "" || cfg.DSN == "" {
			return nil, errors.New("relational: driver and dsn are required without a shared connection")
		}
		db, err := sqlx.ConnectContext(ctx, cfg.Driver, cfg.DSN)
		if err != nil {
			return nil, fmt.Errorf("relational: connecting to %s: %w", cfg.Driver, err)
		}
		fs.db = db
		fs.ownsDB = true
	}
	fs.cfg.DB = nil

	d, err := dialectFor(cfg.Driver)
	if err != nil {
		fs.closeOwned()
		return nil, err
	}
	fs.dialect = d
	fs.q = newQueries(fs.db, cfg.Table)

	if err := fs.ensureTable(ctx); err != nil {
		fs.closeOwned()
		return nil, err
	}
	if err := fs.ensureRoot(ctx); err != nil {
		fs.closeOwned()
		return nil, err
	}

	logger.Debug("relational: opened table %s (app=%s tenant=%s)", cfg.Table, cfg.Application, cfg.Tenant)
	return fs, nil
}

// Close releases the connection pool if the backend opened it.
func (fs *FileSystem) Close() error {
	if fs.ownsDB {
		return fs.db.Close()
	}
	return nil
}

func (fs *FileSystem) closeOwned() {
	if fs.ownsDB {
		_ = fs.db.Close()
	}
}

// Config returns a copy of the effective configuration, without the shared
// connection handle.
func (fs *FileSystem) Config() Config { return fs.cfg }

// Name implements vfs.FileSystem.
func (fs *FileSystem) Name() string {
	return "relational(" + fs.cfg.Table + ":" + fs.cfg.Application + "/" + fs.cfg.Tenant + ")"
}

// Separator implements vfs.FileSystem.
func (fs *FileSystem) Separator() string { return vfs.Separator }

// Roots implements vfs.FileSystem.
func (fs *FileSystem) Roots(ctx context.Context) ([]vfs.Path, error) {
	return []vfs.Path{vfs.Root}, nil
}

// Resolve implements vfs.FileSystem.
func (fs *FileSystem) Resolve(raw string) (vfs.Path, error) {
	p, err := vfs.ParsePath(raw)
	if err != nil {
		return vfs.Path{}, err
	}
	for _, seg := range p.Segments() {
		if len(seg) > maxNameLength {
			return vfs.Path{}, vfs.NewError(vfs.ErrIllegalPath, "resolve", p, fmt.Sprintf("segment longer than %d bytes", maxNameLength))
		}
	}
	return p, nil
}

// ============================================================================
// Schema
// ============================================================================

const maxNameLength = 255

type dialect struct {
	blobType string
}

func dialectFor(driver string) (dialect, error) {
	switch driver {
	case "sqlite", "sqlite3":
		return dialect{blobType: "BLOB"}, nil
	case "mysql":
		return dialect{blobType: "LONGBLOB"}, nil
	case "postgres", "pgx":
		return dialect{blobType: "BYTEA"}, nil
	default:
		return dialect{}, fmt.Errorf("relational: unsupported driver %q", driver)
	}
}

func (fs *FileSystem) ensureTable(ctx context.Context) error {
	_, err := fs.db.ExecContext(ctx, "SELECT COUNT(*) FROM "+fs.cfg.Table+" WHERE 1=0")
	if err == nil {
		return nil
	}
	if !fs.cfg.AutoCreate {
		return fmt.Errorf("relational: table %s is not available and auto-create is disabled: %w", fs.cfg.Table, err)
	}

	t := fs.cfg.Table
	statements := []string{
		`CREATE TABLE IF NOT EXISTS ` + t + ` (
			id VARCHAR(36) NOT NULL PRIMARY KEY,
			parent_id VARCHAR(36) NULL,
			app VARCHAR(64) NOT NULL,
			tenant VARCHAR(64) NOT NULL,
			name VARCHAR(255) NOT NULL,
			is_dir INTEGER NOT NULL,
			content ` + fs.dialect.blobType + ` NULL,
			size BIGINT NOT NULL,
			modified BIGINT NOT NULL,
			created BIGINT NOT NULL,
			version BIGINT NOT NULL
		)`,
		`CREATE UNIQUE INDEX ` + t + `_scope_name ON ` + t + ` (app, tenant, parent_id, name)`,
	}
	for _, stmt := range statements {
		if _, err := fs.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("relational: creating table %s: %w", t, err)
		}
	}
	logger.Info("relational: created table %s", t)
	return nil
}

func (fs *FileSystem) ensureRoot(ctx context.Context) error {
	if _, err := fs.q.root(ctx, fs.db, fs.cfg.Application, fs.cfg.Tenant); err == nil {
		return nil
	} else if !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("relational: reading root: %w", err)
	}

	now := fs.clock.Now().UnixMilli()
	root := row{
		ID:       uuid.NewString(),
		App:      fs.cfg.Application,
		Tenant:   fs.cfg.Tenant,
		IsDir:    1,
		Modified: now,
		Created:  now,
	}
	if err := fs.q.insert(ctx, fs.db, root, nil); err != nil {
		return fmt.Errorf("relational: creating root: %w", err)
	}
	return nil
}
