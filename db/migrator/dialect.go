package migrator

import (
	"context"
	"database/sql"

	"github.com/Masterminds/squirrel"

	"go.hackfix.me/coop/db/types"
)

// Dialect adapts the migrator to a specific relational store.
type Dialect interface {
	Inspector

	// Name returns the dialect name, e.g. "postgres".
	Name() string
	// Placeholder returns the bind parameter format used by the store.
	Placeholder() squirrel.PlaceholderFormat
	// QuoteTable returns the quoted, schema-qualified name of a table.
	QuoteTable(schema, table string) string

	// Statements renders the DDL statements that apply op. The querier is
	// used by dialects that need to read the current table definition.
	Statements(ctx context.Context, q types.Querier, op Operation) ([]string, error)

	// EnsureHistory creates the schema and the migration history table if
	// they don't exist.
	EnsureHistory(ctx context.Context, q types.Querier, schema, table string) error

	// Lock acquires the exclusive migration lock, blocking until it's
	// available or ctx is done. The returned function releases it.
	Lock(ctx context.Context, db *sql.DB, schema, table, owner string) (release func() error, err error)
	// ForceUnlock releases a lock held by another, possibly dead, process.
	ForceUnlock(ctx context.Context, db *sql.DB, schema, table string) error
}

// Inspector reads the live schema.
type Inspector interface {
	// Table returns the definition of a table, and false if it doesn't exist.
	Table(ctx context.Context, q types.Querier, schema, table string) (TableDef, bool, error)
	// Column returns the definition of a column, and false if it or its table
	// doesn't exist.
	Column(ctx context.Context, q types.Querier, schema, table, column string) (ColumnDef, bool, error)
	// Index returns the definition of an index and the table it's on, and
	// false if it doesn't exist. Index names are unique per schema, so the
	// index is looked up on every table.
	Index(ctx context.Context, q types.Querier, schema, index string) (def IndexDef, table string, ok bool, err error)
	// Snapshot returns every table in the schema, except the excluded ones.
	Snapshot(ctx context.Context, q types.Querier, schema string, exclude ...string) (*Schema, error)

	// NormalizeType returns the canonical spelling of a column type, so that
	// e.g. "timestamptz" and "timestamp with time zone" compare equal.
	NormalizeType(typ string) string
	// NormalizeDefault returns the canonical form of a default expression.
	NormalizeDefault(expr string) string
}
