package postgres

import (
	"context"
	"fmt"
	"regexp"
	"slices"
	"strings"

	"github.com/Masterminds/squirrel"

	"go.hackfix.me/coop/db/migrator"
	"go.hackfix.me/coop/db/types"
)

var psql = squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar)

func columnsQuery(schema, table string) squirrel.SelectBuilder {
	return psql.Select(
		"a.attname",
		"format_type(a.atttypid, a.atttypmod)",
		"NOT a.attnotnull",
		"pg_get_expr(d.adbin, d.adrelid)",
	).
		From("pg_attribute a").
		Join("pg_class c ON c.oid = a.attrelid").
		Join("pg_namespace n ON n.oid = c.relnamespace").
		LeftJoin("pg_attrdef d ON d.adrelid = a.attrelid AND d.adnum = a.attnum").
		Where(squirrel.Eq{"n.nspname": schema, "c.relname": table, "c.relkind": "r"}).
		Where("a.attnum > 0 AND NOT a.attisdropped").
		OrderBy("a.attnum")
}

func indexesQuery(schema string) squirrel.SelectBuilder {
	return psql.Select("ic.relname", "c.relname", "i.indisunique", "a.attname").
		From("pg_index i").
		Join("pg_class c ON c.oid = i.indrelid").
		Join("pg_namespace n ON n.oid = c.relnamespace").
		Join("pg_class ic ON ic.oid = i.indexrelid").
		Join("LATERAL unnest(i.indkey) WITH ORDINALITY AS k(attnum, ord) ON true").
		Join("pg_attribute a ON a.attrelid = c.oid AND a.attnum = k.attnum").
		Where(squirrel.Eq{"n.nspname": schema}).
		Where("NOT i.indisprimary").
		OrderBy("ic.relname", "k.ord")
}

func primaryKeyQuery(schema, table string) squirrel.SelectBuilder {
	return psql.Select("a.attname").
		From("pg_index i").
		Join("pg_class c ON c.oid = i.indrelid").
		Join("pg_namespace n ON n.oid = c.relnamespace").
		Join("LATERAL unnest(i.indkey) WITH ORDINALITY AS k(attnum, ord) ON true").
		Join("pg_attribute a ON a.attrelid = c.oid AND a.attnum = k.attnum").
		Where(squirrel.Eq{"n.nspname": schema, "c.relname": table}).
		Where("i.indisprimary").
		OrderBy("k.ord")
}

func tablesQuery(schema string) squirrel.SelectBuilder {
	return psql.Select("c.relname").
		From("pg_class c").
		Join("pg_namespace n ON n.oid = c.relnamespace").
		Where(squirrel.Eq{"n.nspname": schema, "c.relkind": "r"}).
		OrderBy("c.relname")
}

// Table returns the definition of a table, including its primary key and
// secondary indexes.
func (d *Dialect) Table(ctx context.Context, q types.Querier, schema, table string) (migrator.TableDef, bool, error) {
	def := migrator.TableDef{Name: table}

	cols, err := d.columns(ctx, q, columnsQuery(schema, table))
	if err != nil {
		return def, false, err
	}
	if len(cols) == 0 {
		return def, false, nil
	}
	def.Columns = cols

	def.PrimaryKey, err = queryStrings(ctx, q, primaryKeyQuery(schema, table))
	if err != nil {
		return def, false, types.LoadError{ModelName: "primary key", Err: err}
	}

	idxs, err := d.indexes(ctx, q, indexesQuery(schema).Where(squirrel.Eq{"c.relname": table}))
	if err != nil {
		return def, false, err
	}
	for _, idx := range idxs {
		def.Indexes = append(def.Indexes, idx.IndexDef)
	}

	return def, true, nil
}

// Column returns the definition of a column.
func (d *Dialect) Column(ctx context.Context, q types.Querier, schema, table, column string) (migrator.ColumnDef, bool, error) {
	cols, err := d.columns(ctx, q, columnsQuery(schema, table).Where(squirrel.Eq{"a.attname": column}))
	if err != nil || len(cols) == 0 {
		return migrator.ColumnDef{}, false, err
	}
	return cols[0], true, nil
}

// Index returns the definition of an index and the table it's on. Index
// names are unique per schema in PostgreSQL.
func (d *Dialect) Index(ctx context.Context, q types.Querier, schema, index string) (migrator.IndexDef, string, bool, error) {
	idxs, err := d.indexes(ctx, q, indexesQuery(schema).Where(squirrel.Eq{"ic.relname": index}))
	if err != nil || len(idxs) == 0 {
		return migrator.IndexDef{}, "", false, err
	}
	return idxs[0].IndexDef, idxs[0].table, true, nil
}

// Snapshot returns every table in the schema, except the excluded ones.
func (d *Dialect) Snapshot(ctx context.Context, q types.Querier, schema string, exclude ...string) (*migrator.Schema, error) {
	names, err := queryStrings(ctx, q, tablesQuery(schema))
	if err != nil {
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

func (d *Dialect) columns(ctx context.Context, q types.Querier, sb squirrel.SelectBuilder) (cols []migrator.ColumnDef, rerr error) {
	query, args, err := sb.ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed building columns query: %w", err)
	}

	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, types.LoadError{ModelName: "columns", Err: err}
	}
	defer func() {
		if err = rows.Close(); err != nil && rerr == nil {
			rerr = err
		}
	}()

	for rows.Next() {
		var c migrator.ColumnDef
		if err = rows.Scan(&c.Name, &c.Type, &c.Nullable, &c.Default); err != nil {
			return nil, types.ScanError{ModelName: "column", Err: err}
		}
		cols = append(cols, c)
	}

	return cols, rows.Err()
}

type tableIndex struct {
	migrator.IndexDef
	table string
}

func (d *Dialect) indexes(ctx context.Context, q types.Querier, sb squirrel.SelectBuilder) (idxs []tableIndex, rerr error) {
	query, args, err := sb.ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed building indexes query: %w", err)
	}

	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, types.LoadError{ModelName: "indexes", Err: err}
	}
	defer func() {
		if err = rows.Close(); err != nil && rerr == nil {
			rerr = err
		}
	}()

	for rows.Next() {
		var (
			name, table, column string
			unique              bool
		)
		if err = rows.Scan(&name, &table, &unique, &column); err != nil {
			return nil, types.ScanError{ModelName: "index", Err: err}
		}
		if n := len(idxs); n > 0 && idxs[n-1].Name == name {
			idxs[n-1].Columns = append(idxs[n-1].Columns, column)
			continue
		}
		idxs = append(idxs, tableIndex{
			IndexDef: migrator.IndexDef{Name: name, Columns: []string{column}, Unique: unique},
			table:    table,
		})
	}

	return idxs, rows.Err()
}

func queryStrings(ctx context.Context, q types.Querier, sb squirrel.SelectBuilder) (out []string, rerr error) {
	query, args, err := sb.ToSql()
	if err != nil {
		return nil, err
	}

	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err = rows.Close(); err != nil && rerr == nil {
			rerr = err
		}
	}()

	for rows.Next() {
		var s string
		if err = rows.Scan(&s); err != nil {
			return nil, err
		}
		out = append(out, s)
	}

	return out, rows.Err()
}

var typeAliases = map[string]string{
	"timestamptz": "timestamp with time zone",
	"timestamp":   "timestamp without time zone",
	"timetz":      "time with time zone",
	"time":        "time without time zone",
	"int":         "integer",
	"int4":        "integer",
	"int8":        "bigint",
	"int2":        "smallint",
	"serial":      "integer",
	"bigserial":   "bigint",
	"bool":        "boolean",
	"float8":      "double precision",
	"float":       "double precision",
	"float4":      "real",
	"decimal":     "numeric",
	"varchar":     "character varying",
	"char":        "character",
	"bpchar":      "character",
	"varbit":      "bit varying",
	"double":      "double precision",
}

var (
	spaceRx    = regexp.MustCompile(`\s+`)
	modifierRx = regexp.MustCompile(`^([a-z0-9 ]+?)\s*(\(.*\))?(\[\])?$`)
	castRx     = regexp.MustCompile(`::[a-z][a-z0-9_ ]*(\([0-9, ]*\))?(\[\])?$`)
)

// NormalizeType returns the name format_type() reports for typ, e.g.
// "timestamp with time zone" for "timestamptz".
func (d *Dialect) NormalizeType(typ string) string {
	t := spaceRx.ReplaceAllString(strings.ToLower(strings.TrimSpace(typ)), " ")
	m := modifierRx.FindStringSubmatch(t)
	if m == nil {
		return t
	}
	base, mod, arr := m[1], strings.ReplaceAll(m[2], " ", ""), m[3]
	if alias, ok := typeAliases[base]; ok {
		base = alias
	}
	// Modifiers come before the time zone clause in format_type() output.
	for _, tz := range []string{" with time zone", " without time zone"} {
		if mod != "" && strings.HasSuffix(base, tz) {
			return strings.TrimSuffix(base, tz) + mod + tz + arr
		}
	}

	return base + mod + arr
}

// NormalizeDefault strips the type casts PostgreSQL adds to stored default
// expressions, and lower-cases expressions that aren't string literals.
func (d *Dialect) NormalizeDefault(expr string) string {
	e := strings.TrimSpace(expr)
	for {
		stripped := castRx.ReplaceAllString(strings.ToLower(e), "")
		if len(stripped) == len(e) {
			break
		}
		e = strings.TrimSpace(e[:len(stripped)])
	}
	for strings.HasPrefix(e, "(") && strings.HasSuffix(e, ")") && !strings.Contains(e[1:len(e)-1], "(") {
		e = strings.TrimSpace(e[1 : len(e)-1])
	}
	if !strings.HasPrefix(e, "'") {
		e = strings.ToLower(e)
	}
	return e
}
