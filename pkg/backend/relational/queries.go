package relational

import (
	"context"
	"database/sql"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/pheyse/FileSystemFacade-sub001/pkg/vfs"
)

// querier is satisfied by both *sqlx.DB and *sqlx.Tx, so every helper runs
// unchanged inside or outside a transaction.
type querier interface {
	sqlx.ExtContext
}

// row is one node without its content.
type row struct {
	ID       string         `db:"id"`
	ParentID sql.NullString `db:"parent_id"`
	App      string         `db:"app"`
	Tenant   string         `db:"tenant"`
	Name     string         `db:"name"`
	IsDir    int            `db:"is_dir"`
	Size     int64          `db:"size"`
	Modified int64          `db:"modified"`
	Created  int64          `db:"created"`
	Version  int64          `db:"version"`
}

// node is a resolved row with its path cached.
type node struct {
	row
	path vfs.Path
}

func (n *node) isDir() bool { return n.IsDir != 0 }

func (n *node) info() vfs.Info {
	kind := vfs.KindFile
	if n.isDir() {
		kind = vfs.KindDirectory
	}
	return vfs.Info{
		Path:    n.path,
		Kind:    kind,
		Size:    n.Size,
		ModTime: time.UnixMilli(n.Modified),
		Created: time.UnixMilli(n.Created),
		Version: n.Version,
	}
}

// queries holds the rebound SQL statements for one table.
type queries struct {
	selectRoot      string
	selectChild     string
	selectChildren  string
	countChildren   string
	selectChildIDs  string
	selectContent   string
	insertRow       string
	updateContent   string
	updateContentIf string
	updateName      string
	updateParent    string
	updateModified  string
	deleteRow       string
	deleteRows      string
}

const columns = "id, parent_id, app, tenant, name, is_dir, size, modified, created, version"

func newQueries(db *sqlx.DB, table string) queries {
	return queries{
		selectRoot:      db.Rebind("SELECT " + columns + " FROM " + table + " WHERE app = ? AND tenant = ? AND parent_id IS NULL"),
		selectChild:     db.Rebind("SELECT " + columns + " FROM " + table + " WHERE app = ? AND tenant = ? AND parent_id = ? AND name = ?"),
		selectChildren:  db.Rebind("SELECT " + columns + " FROM " + table + " WHERE app = ? AND tenant = ? AND parent_id = ? ORDER BY name"),
		countChildren:   db.Rebind("SELECT COUNT(*) FROM " + table + " WHERE app = ? AND tenant = ? AND parent_id = ?"),
		selectChildIDs:  "SELECT id FROM " + table + " WHERE app = ? AND tenant = ? AND parent_id IN (?)",
		selectContent:   db.Rebind("SELECT content FROM " + table + " WHERE id = ?"),
		insertRow:       db.Rebind("INSERT INTO " + table + " (" + columns + ", content) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)"),
		updateContent:   db.Rebind("UPDATE " + table + " SET content = ?, size = ?, modified = ?, version = version + 1 WHERE id = ?"),
		updateContentIf: db.Rebind("UPDATE " + table + " SET content = ?, size = ?, modified = ?, version = version + 1 WHERE id = ? AND version = ?"),
		updateName:      db.Rebind("UPDATE " + table + " SET name = ?, modified = ? WHERE id = ?"),
		updateParent:    db.Rebind("UPDATE " + table + " SET parent_id = ?, name = ?, modified = ? WHERE id = ?"),
		updateModified:  db.Rebind("UPDATE " + table + " SET modified = ? WHERE id = ?"),
		deleteRow:       db.Rebind("DELETE FROM " + table + " WHERE id = ?"),
		deleteRows:      "DELETE FROM " + table + " WHERE id IN (?)",
	}
}

func (q *queries) root(ctx context.Context, db querier, app, tenant string) (row, error) {
	var r row
	err := sqlx.GetContext(ctx, db, &r, q.selectRoot, app, tenant)
	return r, err
}

func (q *queries) child(ctx context.Context, db querier, parent *node, name string) (row, error) {
	var r row
	err := sqlx.GetContext(ctx, db, &r, q.selectChild, parent.App, parent.Tenant, parent.ID, name)
	return r, err
}

func (q *queries) children(ctx context.Context, db querier, parent *node) ([]row, error) {
	var rows []row
	err := sqlx.SelectContext(ctx, db, &rows, q.selectChildren, parent.App, parent.Tenant, parent.ID)
	return rows, err
}

func (q *queries) countChildrenOf(ctx context.Context, db querier, parent *node) (int, error) {
	var n int
	err := sqlx.GetContext(ctx, db, &n, q.countChildren, parent.App, parent.Tenant, parent.ID)
	return n, err
}

// descendantIDs collects the ids of every node below n, breadth first.
func (q *queries) descendantIDs(ctx context.Context, db querier, n *node) ([]string, error) {
	var all []string
	level := []string{n.ID}
	for len(level) > 0 {
		query, args, err := sqlx.In(q.selectChildIDs, n.App, n.Tenant, level)
		if err != nil {
			return nil, err
		}
		var next []string
		if err := sqlx.SelectContext(ctx, db, &next, db.Rebind(query), args...); err != nil {
			return nil, err
		}
		all = append(all, next...)
		level = next
	}
	return all, nil
}

func (q *queries) content(ctx context.Context, db querier, id string) ([]byte, error) {
	var data []byte
	err := sqlx.GetContext(ctx, db, &data, q.selectContent, id)
	return data, err
}

func (q *queries) insert(ctx context.Context, db querier, r row, content []byte) error {
	_, err := db.ExecContext(ctx, q.insertRow,
		r.ID, r.ParentID, r.App, r.Tenant, r.Name, r.IsDir, r.Size, r.Modified, r.Created, r.Version, content)
	return err
}

func (q *queries) deleteIDs(ctx context.Context, db querier, ids []string) error {
	const batch = 500
	for start := 0; start < len(ids); start += batch {
		end := min(start+batch, len(ids))
		query, args, err := sqlx.In(q.deleteRows, ids[start:end])
		if err != nil {
			return err
		}
		if _, err := db.ExecContext(ctx, db.Rebind(query), args...); err != nil {
			return err
		}
	}
	return nil
}
