// Package sqlite implements the migrator dialect for SQLite. SQLite has a
// single schema per database, so schema names are ignored.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Masterminds/squirrel"

	"go.hackfix.me/coop/db/migrator"
	"go.hackfix.me/coop/db/types"
)

// DefaultLockPollInterval is how often a blocked Lock retries.
const DefaultLockPollInterval = 100 * time.Millisecond

// Dialect renders and inspects SQLite schemas.
type Dialect struct {
	pollInterval time.Duration
}

var _ migrator.Dialect = (*Dialect)(nil)

// New returns a new SQLite dialect.
func New() *Dialect {
	return &Dialect{pollInterval: DefaultLockPollInterval}
}

// Name returns the dialect name.
func (d *Dialect) Name() string {
	return string(types.DriverSQLite)
}

// Placeholder returns the ? bind parameter format.
func (d *Dialect) Placeholder() squirrel.PlaceholderFormat {
	return squirrel.Question
}

// QuoteTable returns the quoted table name. The schema is ignored.
func (d *Dialect) QuoteTable(_, table string) string {
	return quote(table)
}

func quote(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

func quoteAll(names []string) string {
	quoted := make([]string, len(names))
	for i, n := range names {
		quoted[i] = quote(n)
	}
	return strings.Join(quoted, ", ")
}

// EnsureHistory creates the migration history table.
func (d *Dialect) EnsureHistory(ctx context.Context, q types.Querier, _, table string) error {
	_, err := q.ExecContext(ctx, fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	applied_at TIMESTAMP NOT NULL
)`, quote(table)))
	return err
}

func lockTable(table string) string {
	return quote(table + "_lock")
}

func (d *Dialect) ensureLockTable(ctx context.Context, db *sql.DB, table string) error {
	_, err := db.ExecContext(ctx, fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	id INTEGER PRIMARY KEY CHECK (id = 1),
	owner TEXT NOT NULL,
	acquired_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
)`, lockTable(table)))
	return err
}

// Lock claims the single row of the lock table for owner, polling until it's
// free or ctx is done.
func (d *Dialect) Lock(ctx context.Context, db *sql.DB, _, table, owner string) (func() error, error) {
	if err := d.ensureLockTable(ctx, db, table); err != nil {
		return nil, fmt.Errorf("failed creating lock table: %w", err)
	}

	insert := fmt.Sprintf("INSERT INTO %s (id, owner) VALUES (1, ?)", lockTable(table))
	for {
		_, err := db.ExecContext(ctx, insert, owner)
		if err == nil {
			break
		}
		err = types.Err("migration lock", "owner '"+owner+"'", err)
		var (
			dupErr  *types.DuplicateError
			lockErr *types.LockError
		)
		if !errors.As(err, &dupErr) && !errors.As(err, &lockErr) {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, err
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(d.pollInterval):
		}
	}

	release := func() error {
		res, err := db.ExecContext(context.Background(),
			fmt.Sprintf("DELETE FROM %s WHERE id = 1 AND owner = ?", lockTable(table)), owner)
		if err != nil {
			return err
		}
		if n, err := res.RowsAffected(); err != nil {
			return err
		} else if n == 0 {
			return errors.New("the lock was released by another process")
		}
		return nil
	}

	return release, nil
}

// ForceUnlock deletes the lock row, regardless of its owner.
func (d *Dialect) ForceUnlock(ctx context.Context, db *sql.DB, _, table string) error {
	if err := d.ensureLockTable(ctx, db, table); err != nil {
		return err
	}
	_, err := db.ExecContext(ctx, fmt.Sprintf("DELETE FROM %s", lockTable(table)))
	return err
}

// Statements renders the DDL for op.
func (d *Dialect) Statements(ctx context.Context, q types.Querier, op migrator.Operation) ([]string, error) {
	switch o := op.(type) {
	case migrator.AddColumn:
		return []string{fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s", quote(o.Table), columnSQL(o.Column))}, nil
	case migrator.DropColumn:
		return []string{fmt.Sprintf("ALTER TABLE %s DROP COLUMN %s", quote(o.Table), quote(o.Column))}, nil
	case migrator.RenameColumn:
		return []string{fmt.Sprintf("ALTER TABLE %s RENAME COLUMN %s TO %s",
			quote(o.Table), quote(o.Column), quote(o.NewName))}, nil
	case migrator.AlterColumn:
		return d.rebuildTable(ctx, q, o)
	case migrator.CreateIndex:
		return []string{createIndexSQL(o.Table, o.Index)}, nil
	case migrator.DropIndex:
		return []string{fmt.Sprintf("DROP INDEX %s", quote(o.Index))}, nil
	case migrator.CreateTable:
		return createTable(o.Table.Name, o.Table), nil
	case migrator.DropTable:
		return []string{fmt.Sprintf("DROP TABLE %s", quote(o.Table))}, nil
	}

	return nil, fmt.Errorf("unsupported operation %T", op)
}

// rebuildTable changes a column definition by copying the table, since
// SQLite can't alter columns in place. Indexes are recreated on the new
// table.
func (d *Dialect) rebuildTable(ctx context.Context, q types.Querier, o migrator.AlterColumn) ([]string, error) {
	cur, ok, err := d.Table(ctx, q, o.Schema, o.Table)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("table '%s' doesn't exist", o.Table)
	}

	def := cur
	def.Columns = make([]migrator.ColumnDef, len(cur.Columns))
	cols := make([]string, len(cur.Columns))
	found := false
	for i, c := range cur.Columns {
		if c.Name == o.Column.Name {
			c, found = o.Column, true
		}
		def.Columns[i] = c
		cols[i] = quote(c.Name)
	}
	if !found {
		return nil, fmt.Errorf("column %s doesn't exist", o.Target())
	}

	tmp := "_new_" + o.Table
	create := createTable(tmp, migrator.TableDef{Name: tmp, Columns: def.Columns, PrimaryKey: def.PrimaryKey})
	stmts := append(create,
		fmt.Sprintf("INSERT INTO %s (%s) SELECT %s FROM %s",
			quote(tmp), strings.Join(cols, ", "), strings.Join(cols, ", "), quote(o.Table)),
		fmt.Sprintf("DROP TABLE %s", quote(o.Table)),
		fmt.Sprintf("ALTER TABLE %s RENAME TO %s", quote(tmp), quote(o.Table)),
	)
	for _, idx := range cur.Indexes {
		stmts = append(stmts, createIndexSQL(o.Table, idx))
	}

	return stmts, nil
}

func createTable(name string, t migrator.TableDef) []string {
	defs := make([]string, 0, len(t.Columns)+1)
	for _, c := range t.Columns {
		defs = append(defs, columnSQL(c))
	}
	if len(t.PrimaryKey) > 0 {
		defs = append(defs, fmt.Sprintf("PRIMARY KEY (%s)", quoteAll(t.PrimaryKey)))
	}

	stmts := []string{fmt.Sprintf("CREATE TABLE %s (\n\t%s\n)", quote(name), strings.Join(defs, ",\n\t"))}
	for _, idx := range t.Indexes {
		stmts = append(stmts, createIndexSQL(name, idx))
	}

	return stmts
}

func columnSQL(c migrator.ColumnDef) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s %s", quote(c.Name), c.Type)
	if !c.Nullable {
		sb.WriteString(" NOT NULL")
	}
	if c.Default.Valid {
		fmt.Fprintf(&sb, " DEFAULT %s", c.Default.V)
	}
	return sb.String()
}

func createIndexSQL(table string, idx migrator.IndexDef) string {
	unique := ""
	if idx.Unique {
		unique = "UNIQUE "
	}
	return fmt.Sprintf("CREATE %sINDEX %s ON %s (%s)", unique, quote(idx.Name), quote(table), quoteAll(idx.Columns))
}
