package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"slices"
	"strings"

	"go.hackfix.me/coop/db/migrator"
	"go.hackfix.me/coop/db/types"
)

// Table returns the definition of a table, including its primary key and
// explicitly created indexes.
func (d *Dialect) Table(ctx context.Context, q types.Querier, _, table string) (migrator.TableDef, bool, error) {
	def := migrator.TableDef{Name: table}

	var name string
	err := q.QueryRowContext(ctx,
		`SELECT name FROM sqlite_master WHERE type = 'table' AND name = ?`, table).Scan(&name)
	if errors.Is(err, sql.ErrNoRows) {
		return def, false, nil
	} else if err != nil {
		return def, false, types.LoadError{ModelName: "table", Err: err}
	}

	var pk []pkColumn
	def.Columns, pk, err = d.columns(ctx, q, table)
	if err != nil {
		return def, false, err
	}
	slices.SortFunc(pk, func(a, b pkColumn) int { return a.pos - b.pos })
	for _, c := range pk {
		def.PrimaryKey = append(def.PrimaryKey, c.name)
	}

	def.Indexes, err = d.indexes(ctx, q, table)
	if err != nil {
		return def, false, err
	}

	return def, true, nil
}

// Column returns the definition of a column.
func (d *Dialect) Column(ctx context.Context, q types.Querier, _, table, column string) (migrator.ColumnDef, bool, error) {
	cols, _, err := d.columns(ctx, q, table)
	if err != nil {
		return migrator.ColumnDef{}, false, err
	}
	for _, c := range cols {
		if c.Name == column {
			return c, true, nil
		}
	}
	return migrator.ColumnDef{}, false, nil
}

// Index returns the definition of an index and the table it's on. Index
// names are unique per database in SQLite.
func (d *Dialect) Index(ctx context.Context, q types.Querier, _, index string) (migrator.IndexDef, string, bool, error) {
	var table string
	err := q.QueryRowContext(ctx,
		`SELECT tbl_name FROM sqlite_master WHERE type = 'index' AND name = ?`, index).Scan(&table)
	if errors.Is(err, sql.ErrNoRows) {
		return migrator.IndexDef{}, "", false, nil
	} else if err != nil {
		return migrator.IndexDef{}, "", false, types.LoadError{ModelName: "index", Err: err}
	}

	idxs, err := d.indexes(ctx, q, table)
	if err != nil {
		return migrator.IndexDef{}, "", false, err
	}
	for _, idx := range idxs {
		if idx.Name == index {
			return idx, table, true, nil
		}
	}

	// An automatic index backing a constraint.
	return migrator.IndexDef{Name: index}, table, true, nil
}

// Snapshot returns every table in the database, except SQLite's internal
// tables and the excluded ones.
func (d *Dialect) Snapshot(ctx context.Context, q types.Querier, schema string, exclude ...string) (_ *migrator.Schema, rerr error) {
	rows, err := q.QueryContext(ctx,
		`SELECT name FROM sqlite_master WHERE type = 'table' AND name NOT LIKE 'sqlite_%' ORDER BY name`)
	if err != nil {
		return nil, types.LoadError{ModelName: "tables", Err: err}
	}
	names := make([]string, 0)
	for rows.Next() {
		var name string
		if err = rows.Scan(&name); err != nil {
			_ = rows.Close()
			return nil, types.ScanError{ModelName: "table name", Err: err}
		}
		names = append(names, name)
	}
	if err = errors.Join(rows.Err(), rows.Close()); err != nil {
		return nil, types.LoadError{ModelName: "tables", Err: err}
	}

	s := &migrator.Schema{Name: schema}
	for _, name := range names {
		if slices.Contains(exclude, name) {
			continue
		}
		def, ok, err := d.Table(ctx, q, schema, name)
		if err != nil {
			return nil, err
		}
		if ok {
			s.Tables = append(s.Tables, def)
		}
	}
	migrator.SortSchema(s)

	return s, nil
}

type pkColumn struct {
	name string
	pos  int
}

func (d *Dialect) columns(ctx context.Context, q types.Querier, table string) (cols []migrator.ColumnDef, pk []pkColumn, rerr error) {
	rows, err := q.QueryContext(ctx,
		`SELECT name, type, "notnull", dflt_value, pk FROM pragma_table_info(?) ORDER BY cid`, table)
	if err != nil {
		return nil, nil, types.LoadError{ModelName: "columns", Err: err}
	}
	defer func() {
		if err = rows.Close(); err != nil && rerr == nil {
			rerr = err
		}
	}()

	for rows.Next() {
		var (
			c       migrator.ColumnDef
			notNull bool
			pkPos   int
		)
		if err = rows.Scan(&c.Name, &c.Type, &notNull, &c.Default, &pkPos); err != nil {
			return nil, nil, types.ScanError{ModelName: "column", Err: err}
		}
		c.Nullable = !notNull
		cols = append(cols, c)
		if pkPos > 0 {
			pk = append(pk, pkColumn{name: c.Name, pos: pkPos})
		}
	}

	return cols, pk, rows.Err()
}

// indexes returns the explicitly created indexes of a table.
func (d *Dialect) indexes(ctx context.Context, q types.Querier, table string) (_ []migrator.IndexDef, rerr error) {
	rows, err := q.QueryContext(ctx,
		`SELECT name, "unique" FROM pragma_index_list(?) WHERE origin = 'c' ORDER BY name`, table)
	if err != nil {
		return nil, types.LoadError{ModelName: "indexes", Err: err}
	}

	idxs := make([]migrator.IndexDef, 0)
	for rows.Next() {
		var idx migrator.IndexDef
		if err = rows.Scan(&idx.Name, &idx.Unique); err != nil {
			_ = rows.Close()
			return nil, types.ScanError{ModelName: "index", Err: err}
		}
		idxs = append(idxs, idx)
	}
	if err = errors.Join(rows.Err(), rows.Close()); err != nil {
		return nil, types.LoadError{ModelName: "indexes", Err: err}
	}

	for i := range idxs {
		idxs[i].Columns, err = d.indexColumns(ctx, q, idxs[i].Name)
		if err != nil {
			return nil, err
		}
	}

	if len(idxs) == 0 {
		return nil, nil
	}

	return idxs, nil
}

func (d *Dialect) indexColumns(ctx context.Context, q types.Querier, index string) (cols []string, rerr error) {
	rows, err := q.QueryContext(ctx,
		`SELECT name FROM pragma_index_info(?) ORDER BY seqno`, index)
	if err != nil {
		return nil, types.LoadError{ModelName: "index columns", Err: err}
	}
	defer func() {
		if err = rows.Close(); err != nil && rerr == nil {
			rerr = err
		}
	}()

	for rows.Next() {
		var col string
		if err = rows.Scan(&col); err != nil {
			return nil, types.ScanError{ModelName: "index column", Err: err}
		}
		cols = append(cols, col)
	}

	return cols, rows.Err()
}

var spaceRx = regexp.MustCompile(`\s+`)

// NormalizeType lower-cases the declared type and collapses whitespace.
// SQLite stores declared types verbatim.
func (d *Dialect) NormalizeType(typ string) string {
	return spaceRx.ReplaceAllString(strings.ToLower(strings.TrimSpace(typ)), " ")
}

// NormalizeDefault strips enclosing parentheses, and lower-cases expressions
// that aren't string literals.
func (d *Dialect) NormalizeDefault(expr string) string {
	e := strings.TrimSpace(expr)
	for strings.HasPrefix(e, "(") && strings.HasSuffix(e, ")") {
		e = strings.TrimSpace(e[1 : len(e)-1])
	}
	if !strings.HasPrefix(e, "'") {
		e = strings.ToLower(e)
	}
	return e
}
