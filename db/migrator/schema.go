package migrator

import (
	"database/sql"
	"fmt"
	"slices"
	"strings"
)

// ColumnDef is the complete definition of a table column.
type ColumnDef struct {
	Name     string
	Type     string
	Nullable bool
	// Default is a SQL literal or expression, e.g. `2025` or `'abc'`.
	Default sql.Null[string]
}

// String returns a compact SQL-like rendering of the column definition.
func (c ColumnDef) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s %s", c.Name, c.Type)
	if c.Nullable {
		sb.WriteString(" NULL")
	} else {
		sb.WriteString(" NOT NULL")
	}
	if c.Default.Valid {
		fmt.Fprintf(&sb, " DEFAULT %s", c.Default.V)
	}
	return sb.String()
}

// IndexDef is the definition of a table index.
type IndexDef struct {
	Name    string
	Columns []string
	Unique  bool
}

// TableDef is the definition of a table, including its secondary indexes.
type TableDef struct {
	Name       string
	Columns    []ColumnDef
	PrimaryKey []string
	Indexes    []IndexDef
}

// Column returns the definition of the named column.
func (t *TableDef) Column(name string) (ColumnDef, bool) {
	for _, c := range t.Columns {
		if c.Name == name {
			return c, true
		}
	}
	return ColumnDef{}, false
}

// Index returns the definition of the named index.
func (t *TableDef) Index(name string) (IndexDef, bool) {
	for _, idx := range t.Indexes {
		if idx.Name == name {
			return idx, true
		}
	}
	return IndexDef{}, false
}

// Schema is a snapshot of all user tables in a database schema.
type Schema struct {
	Name   string
	Tables []TableDef
}

// Table returns the definition of the named table.
func (s *Schema) Table(name string) (*TableDef, bool) {
	for i := range s.Tables {
		if s.Tables[i].Name == name {
			return &s.Tables[i], true
		}
	}
	return nil, false
}

// SortSchema orders tables and indexes in the snapshot by name, so that
// snapshots taken from different catalog queries compare equal.
func SortSchema(s *Schema) {
	slices.SortFunc(s.Tables, func(a, b TableDef) int {
		return strings.Compare(a.Name, b.Name)
	})
	for i := range s.Tables {
		slices.SortFunc(s.Tables[i].Indexes, func(a, b IndexDef) int {
			return strings.Compare(a.Name, b.Name)
		})
	}
}

// sameColumn reports whether two column definitions are equivalent according
// to the dialect's normalization rules. Column names are compared exactly.
func sameColumn(d Dialect, a, b ColumnDef) bool {
	if a.Name != b.Name || a.Nullable != b.Nullable {
		return false
	}
	if d.NormalizeType(a.Type) != d.NormalizeType(b.Type) {
		return false
	}
	if a.Default.Valid != b.Default.Valid {
		return false
	}
	if a.Default.Valid && d.NormalizeDefault(a.Default.V) != d.NormalizeDefault(b.Default.V) {
		return false
	}
	return true
}

func sameIndex(a, b IndexDef) bool {
	return a.Name == b.Name && a.Unique == b.Unique && slices.Equal(a.Columns, b.Columns)
}

func sameTable(d Dialect, a, b TableDef) bool {
	if a.Name != b.Name || len(a.Columns) != len(b.Columns) ||
		!slices.Equal(a.PrimaryKey, b.PrimaryKey) {
		return false
	}
	for i := range a.Columns {
		if !sameColumn(d, a.Columns[i], b.Columns[i]) {
			return false
		}
	}
	return true
}
