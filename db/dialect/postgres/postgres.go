// Package postgres implements the migrator dialect for PostgreSQL.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"hash/fnv"
	"strings"

	"github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"

	"go.hackfix.me/coop/db/migrator"
	"go.hackfix.me/coop/db/types"
)

// Dialect renders and inspects PostgreSQL schemas.
type Dialect struct{}

var _ migrator.Dialect = (*Dialect)(nil)

// New returns a new PostgreSQL dialect.
func New() *Dialect {
	return &Dialect{}
}

// Name returns the dialect name.
func (d *Dialect) Name() string {
	return string(types.DriverPostgres)
}

// Placeholder returns the $N bind parameter format.
func (d *Dialect) Placeholder() squirrel.PlaceholderFormat {
	return squirrel.Dollar
}

// QuoteTable returns the quoted, schema-qualified table name.
func (d *Dialect) QuoteTable(schema, table string) string {
	if schema == "" {
		return pgx.Identifier{table}.Sanitize()
	}
	return pgx.Identifier{schema, table}.Sanitize()
}

func quote(name string) string {
	return pgx.Identifier{name}.Sanitize()
}

func quoteAll(names []string) string {
	quoted := make([]string, len(names))
	for i, n := range names {
		quoted[i] = quote(n)
	}
	return strings.Join(quoted, ", ")
}

// EnsureHistory creates the schema and the migration history table.
func (d *Dialect) EnsureHistory(ctx context.Context, q types.Querier, schema, table string) error {
	stmts := []string{
		fmt.Sprintf("CREATE SCHEMA IF NOT EXISTS %s", quote(schema)),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	id text PRIMARY KEY,
	name text NOT NULL,
	applied_at timestamp NOT NULL
)`, d.QuoteTable(schema, table)),
	}
	for _, stmt := range stmts {
		if _, err := q.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}

	return nil
}

// lockKey returns the advisory lock key for the history table.
func lockKey(schema, table string) int64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(schema + "." + table))
	return int64(h.Sum64() & 0x7FFFFFFFFFFFFFFF) //nolint:gosec // Truncation is intended.
}

// Lock acquires a session-level advisory lock on a dedicated connection. The
// connection is tagged with owner as its application name, so the holder can
// be identified in pg_stat_activity.
func (d *Dialect) Lock(ctx context.Context, db *sql.DB, schema, table, owner string) (func() error, error) {
	conn, err := db.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed getting lock connection: %w", err)
	}

	key := lockKey(schema, table)
	_, err = conn.ExecContext(ctx, "SELECT set_config('application_name', $1, false)", "coop-migrator-"+owner)
	if err == nil {
		_, err = conn.ExecContext(ctx, "SELECT pg_advisory_lock($1)", key)
	}
	if err != nil {
		_ = conn.Close()
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, types.Err("migration lock", fmt.Sprintf("key %d", key), err)
	}

	release := func() error {
		defer conn.Close()
		var unlocked bool
		err := conn.QueryRowContext(context.Background(), "SELECT pg_advisory_unlock($1)", key).Scan(&unlocked)
		if err != nil {
			return err
		}
		if !unlocked {
			return fmt.Errorf("advisory lock %d wasn't held", key)
		}
		return nil
	}

	return release, nil
}

// ForceUnlock terminates the sessions holding the advisory lock.
func (d *Dialect) ForceUnlock(ctx context.Context, db *sql.DB, schema, table string) error {
	_, err := db.ExecContext(ctx, `SELECT pg_terminate_backend(pid) FROM pg_locks
WHERE locktype = 'advisory' AND objsubid = 1
  AND ((classid::bigint << 32) | objid::bigint) = $1
  AND pid <> pg_backend_pid()`, lockKey(schema, table))
	return err
}

// Statements renders the DDL for op.
func (d *Dialect) Statements(ctx context.Context, q types.Querier, op migrator.Operation) ([]string, error) {
	switch o := op.(type) {
	case migrator.AddColumn:
		return []string{fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s",
			d.QuoteTable(o.Schema, o.Table), columnSQL(o.Column))}, nil
	case migrator.DropColumn:
		return []string{fmt.Sprintf("ALTER TABLE %s DROP COLUMN %s",
			d.QuoteTable(o.Schema, o.Table), quote(o.Column))}, nil
	case migrator.RenameColumn:
		return []string{fmt.Sprintf("ALTER TABLE %s RENAME COLUMN %s TO %s",
			d.QuoteTable(o.Schema, o.Table), quote(o.Column), quote(o.NewName))}, nil
	case migrator.AlterColumn:
		return d.alterColumn(ctx, q, o)
	case migrator.CreateIndex:
		return []string{createIndexSQL(d.QuoteTable(o.Schema, o.Table), o.Index)}, nil
	case migrator.DropIndex:
		return []string{fmt.Sprintf("DROP INDEX %s", d.QuoteTable(o.Schema, o.Index))}, nil
	case migrator.CreateTable:
		return d.createTable(o.Schema, o.Table), nil
	case migrator.DropTable:
		return []string{fmt.Sprintf("DROP TABLE %s", d.QuoteTable(o.Schema, o.Table))}, nil
	}

	return nil, fmt.Errorf("unsupported operation %T", op)
}

// alterColumn renders only the changes between the live column and the new
// definition. The default is dropped before a type change, since it may not
// be castable to the new type.
func (d *Dialect) alterColumn(ctx context.Context, q types.Querier, o migrator.AlterColumn) ([]string, error) {
	cur, ok, err := d.Column(ctx, q, o.Schema, o.Table, o.Column.Name)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("column %s doesn't exist", o.Target())
	}

	var (
		prefix = fmt.Sprintf("ALTER TABLE %s ALTER COLUMN %s", d.QuoteTable(o.Schema, o.Table), quote(o.Column.Name))
		col    = o.Column
		stmts  []string
	)

	hasDefault := cur.Default.Valid
	if d.NormalizeType(cur.Type) != d.NormalizeType(col.Type) {
		if hasDefault {
			stmts = append(stmts, prefix+" DROP DEFAULT")
			hasDefault = false
		}
		stmts = append(stmts, fmt.Sprintf("%s TYPE %s USING %s::%s",
			prefix, col.Type, quote(col.Name), col.Type))
	}

	if cur.Nullable != col.Nullable {
		if col.Nullable {
			stmts = append(stmts, prefix+" DROP NOT NULL")
		} else {
			stmts = append(stmts, prefix+" SET NOT NULL")
		}
	}

	switch {
	case col.Default.Valid && (!hasDefault ||
		d.NormalizeDefault(cur.Default.V) != d.NormalizeDefault(col.Default.V)):
		stmts = append(stmts, fmt.Sprintf("%s SET DEFAULT %s", prefix, col.Default.V))
	case !col.Default.Valid && hasDefault:
		stmts = append(stmts, prefix+" DROP DEFAULT")
	}

	return stmts, nil
}

func (d *Dialect) createTable(schema string, t migrator.TableDef) []string {
	defs := make([]string, 0, len(t.Columns)+1)
	for _, c := range t.Columns {
		defs = append(defs, columnSQL(c))
	}
	if len(t.PrimaryKey) > 0 {
		defs = append(defs, fmt.Sprintf("PRIMARY KEY (%s)", quoteAll(t.PrimaryKey)))
	}

	table := d.QuoteTable(schema, t.Name)
	stmts := []string{fmt.Sprintf("CREATE TABLE %s (\n\t%s\n)", table, strings.Join(defs, ",\n\t"))}
	for _, idx := range t.Indexes {
		stmts = append(stmts, createIndexSQL(table, idx))
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
	return fmt.Sprintf("CREATE %sINDEX %s ON %s (%s)", unique, quote(idx.Name), table, quoteAll(idx.Columns))
}
