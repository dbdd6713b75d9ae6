package migrator

import (
	"errors"
	"fmt"
	"slices"
	"strings"
)

// OpKind identifies the kind of a schema operation.
type OpKind string

// All supported schema operations.
const (
	OpAddColumn    OpKind = "add_column"
	OpDropColumn   OpKind = "drop_column"
	OpRenameColumn OpKind = "rename_column"
	OpAlterColumn  OpKind = "alter_column"
	OpCreateIndex  OpKind = "create_index"
	OpDropIndex    OpKind = "drop_index"
	OpCreateTable  OpKind = "create_table"
	OpDropTable    OpKind = "drop_table"
)

// Target identifies the schema object an operation changes. Object is the
// column or index name, and empty for table operations.
type Target struct {
	Schema string
	Table  string
	Object string
}

func (t Target) String() string {
	parts := make([]string, 0, 3)
	for _, p := range []string{t.Schema, t.Table, t.Object} {
		if p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, ".")
}

// Operation is a single declarative schema change. The set of implementations
// is closed: AddColumn, DropColumn, RenameColumn, AlterColumn, CreateIndex,
// DropIndex, CreateTable and DropTable. Each carries the data needed to both
// apply and reverse it.
type Operation interface {
	Kind() OpKind
	Target() Target
	// Inverse returns the operation that exactly undoes this one. It fails with
	// ErrIrreversibleOperation if the metadata needed to restore the prior
	// state wasn't recorded.
	Inverse() (Operation, error)
	String() string

	validate() error
	withDefaultSchema(schema string) Operation
}

var (
	_ Operation = AddColumn{}
	_ Operation = DropColumn{}
	_ Operation = RenameColumn{}
	_ Operation = AlterColumn{}
	_ Operation = CreateIndex{}
	_ Operation = DropIndex{}
	_ Operation = CreateTable{}
	_ Operation = DropTable{}
)

// AddColumn adds a column to an existing table.
type AddColumn struct {
	Schema string
	Table  string
	Column ColumnDef
}

func (AddColumn) Kind() OpKind { return OpAddColumn }

func (o AddColumn) Target() Target {
	return Target{Schema: o.Schema, Table: o.Table, Object: o.Column.Name}
}

func (o AddColumn) Inverse() (Operation, error) {
	col := o.Column
	return DropColumn{Schema: o.Schema, Table: o.Table, Column: col.Name, Old: &col}, nil
}

func (o AddColumn) String() string {
	return fmt.Sprintf("add column %s (%s)", o.Target(), o.Column)
}

func (o AddColumn) validate() error {
	return errors.Join(requireTable(o.Table), validateColumn(o.Column))
}

func (o AddColumn) withDefaultSchema(schema string) Operation {
	if o.Schema == "" {
		o.Schema = schema
	}
	return o
}

// DropColumn removes a column. Old is the column's definition before it was
// dropped, and is required to reverse the operation.
type DropColumn struct {
	Schema string
	Table  string
	Column string
	Old    *ColumnDef
}

func (DropColumn) Kind() OpKind { return OpDropColumn }

func (o DropColumn) Target() Target {
	return Target{Schema: o.Schema, Table: o.Table, Object: o.Column}
}

func (o DropColumn) Inverse() (Operation, error) {
	if o.Old == nil {
		return nil, irreversible(o, "the dropped column's definition wasn't recorded")
	}
	col := *o.Old
	col.Name = o.Column
	return AddColumn{Schema: o.Schema, Table: o.Table, Column: col}, nil
}

func (o DropColumn) String() string {
	return fmt.Sprintf("drop column %s", o.Target())
}

func (o DropColumn) validate() error {
	var errs []error
	errs = append(errs, requireTable(o.Table))
	if o.Column == "" {
		errs = append(errs, errors.New("column name is required"))
	}
	if o.Old != nil {
		if o.Old.Name != "" && o.Old.Name != o.Column {
			errs = append(errs, fmt.Errorf("old column name '%s' doesn't match '%s'", o.Old.Name, o.Column))
		}
		if o.Old.Type == "" {
			errs = append(errs, errors.New("old column type is required"))
		}
	}
	return errors.Join(errs...)
}

func (o DropColumn) withDefaultSchema(schema string) Operation {
	if o.Schema == "" {
		o.Schema = schema
	}
	if o.Old != nil && o.Old.Name == "" {
		old := *o.Old
		old.Name = o.Column
		o.Old = &old
	}
	return o
}

// RenameColumn renames a column. Existing row data is kept.
type RenameColumn struct {
	Schema  string
	Table   string
	Column  string
	NewName string
}

func (RenameColumn) Kind() OpKind { return OpRenameColumn }

func (o RenameColumn) Target() Target {
	return Target{Schema: o.Schema, Table: o.Table, Object: o.Column}
}

func (o RenameColumn) Inverse() (Operation, error) {
	return RenameColumn{Schema: o.Schema, Table: o.Table, Column: o.NewName, NewName: o.Column}, nil
}

func (o RenameColumn) String() string {
	return fmt.Sprintf("rename column %s to %s", o.Target(), o.NewName)
}

func (o RenameColumn) validate() error {
	var errs []error
	errs = append(errs, requireTable(o.Table))
	if o.Column == "" || o.NewName == "" {
		errs = append(errs, errors.New("both the current and the new column name are required"))
	} else if o.Column == o.NewName {
		errs = append(errs, fmt.Errorf("column '%s' can't be renamed to itself", o.Column))
	}
	return errors.Join(errs...)
}

func (o RenameColumn) withDefaultSchema(schema string) Operation {
	if o.Schema == "" {
		o.Schema = schema
	}
	return o
}

// AlterColumn changes a column's type, nullability and default. Column is the
// new definition, and Old the definition it replaces, which is required to
// reverse the operation.
type AlterColumn struct {
	Schema string
	Table  string
	Column ColumnDef
	Old    *ColumnDef
}

func (AlterColumn) Kind() OpKind { return OpAlterColumn }

func (o AlterColumn) Target() Target {
	return Target{Schema: o.Schema, Table: o.Table, Object: o.Column.Name}
}

func (o AlterColumn) Inverse() (Operation, error) {
	if o.Old == nil {
		return nil, irreversible(o, "the column's previous definition wasn't recorded")
	}
	newCol, oldCol := o.Column, *o.Old
	return AlterColumn{Schema: o.Schema, Table: o.Table, Column: oldCol, Old: &newCol}, nil
}

func (o AlterColumn) String() string {
	return fmt.Sprintf("alter column %s (%s)", o.Target(), o.Column)
}

func (o AlterColumn) validate() error {
	var errs []error
	errs = append(errs, requireTable(o.Table), validateColumn(o.Column))
	if o.Old != nil {
		if o.Old.Name != o.Column.Name {
			errs = append(errs, fmt.Errorf("old column name '%s' doesn't match '%s'", o.Old.Name, o.Column.Name))
		}
		if o.Old.Type == "" {
			errs = append(errs, errors.New("old column type is required"))
		}
	}
	return errors.Join(errs...)
}

func (o AlterColumn) withDefaultSchema(schema string) Operation {
	if o.Schema == "" {
		o.Schema = schema
	}
	if o.Old != nil && o.Old.Name == "" {
		old := *o.Old
		old.Name = o.Column.Name
		o.Old = &old
	}
	return o
}

// CreateIndex creates an index on an existing table.
type CreateIndex struct {
	Schema string
	Table  string
	Index  IndexDef
}

func (CreateIndex) Kind() OpKind { return OpCreateIndex }

func (o CreateIndex) Target() Target {
	return Target{Schema: o.Schema, Table: o.Table, Object: o.Index.Name}
}

func (o CreateIndex) Inverse() (Operation, error) {
	idx := o.Index
	idx.Columns = slices.Clone(idx.Columns)
	return DropIndex{Schema: o.Schema, Table: o.Table, Index: idx.Name, Old: &idx}, nil
}

func (o CreateIndex) String() string {
	kind := "index"
	if o.Index.Unique {
		kind = "unique index"
	}
	return fmt.Sprintf("create %s %s (%s)", kind, o.Target(), strings.Join(o.Index.Columns, ", "))
}

func (o CreateIndex) validate() error {
	return errors.Join(requireTable(o.Table), validateIndex(o.Index))
}

func (o CreateIndex) withDefaultSchema(schema string) Operation {
	if o.Schema == "" {
		o.Schema = schema
	}
	return o
}

// DropIndex drops an index. Old is the index definition, required to reverse
// the operation.
type DropIndex struct {
	Schema string
	Table  string
	Index  string
	Old    *IndexDef
}

func (DropIndex) Kind() OpKind { return OpDropIndex }

func (o DropIndex) Target() Target {
	return Target{Schema: o.Schema, Table: o.Table, Object: o.Index}
}

func (o DropIndex) Inverse() (Operation, error) {
	if o.Old == nil {
		return nil, irreversible(o, "the dropped index's definition wasn't recorded")
	}
	idx := *o.Old
	idx.Name = o.Index
	idx.Columns = slices.Clone(idx.Columns)
	return CreateIndex{Schema: o.Schema, Table: o.Table, Index: idx}, nil
}

func (o DropIndex) String() string {
	return fmt.Sprintf("drop index %s", o.Target())
}

func (o DropIndex) validate() error {
	var errs []error
	errs = append(errs, requireTable(o.Table))
	if o.Index == "" {
		errs = append(errs, errors.New("index name is required"))
	}
	if o.Old != nil && len(o.Old.Columns) == 0 {
		errs = append(errs, errors.New("old index columns are required"))
	}
	return errors.Join(errs...)
}

func (o DropIndex) withDefaultSchema(schema string) Operation {
	if o.Schema == "" {
		o.Schema = schema
	}
	if o.Old != nil && o.Old.Name == "" {
		old := *o.Old
		old.Name = o.Index
		o.Old = &old
	}
	return o
}

// CreateTable creates a table with its columns, primary key and indexes.
type CreateTable struct {
	Schema string
	Table  TableDef
}

func (CreateTable) Kind() OpKind { return OpCreateTable }

func (o CreateTable) Target() Target {
	return Target{Schema: o.Schema, Table: o.Table.Name}
}

func (o CreateTable) Inverse() (Operation, error) {
	def := cloneTable(o.Table)
	return DropTable{Schema: o.Schema, Table: def.Name, Old: &def}, nil
}

func (o CreateTable) String() string {
	return fmt.Sprintf("create table %s", o.Target())
}

func (o CreateTable) validate() error {
	return validateTable(o.Table)
}

func (o CreateTable) withDefaultSchema(schema string) Operation {
	if o.Schema == "" {
		o.Schema = schema
	}
	return o
}

// DropTable drops a table. Old is the table definition, required to reverse
// the operation. Row data is never restored.
type DropTable struct {
	Schema string
	Table  string
	Old    *TableDef
}

func (DropTable) Kind() OpKind { return OpDropTable }

func (o DropTable) Target() Target {
	return Target{Schema: o.Schema, Table: o.Table}
}

func (o DropTable) Inverse() (Operation, error) {
	if o.Old == nil {
		return nil, irreversible(o, "the dropped table's definition wasn't recorded")
	}
	def := cloneTable(*o.Old)
	def.Name = o.Table
	return CreateTable{Schema: o.Schema, Table: def}, nil
}

func (o DropTable) String() string {
	return fmt.Sprintf("drop table %s", o.Target())
}

func (o DropTable) validate() error {
	var errs []error
	errs = append(errs, requireTable(o.Table))
	if o.Old != nil {
		old := *o.Old
		if old.Name == "" {
			old.Name = o.Table
		}
		errs = append(errs, validateTable(old))
	}
	return errors.Join(errs...)
}

func (o DropTable) withDefaultSchema(schema string) Operation {
	if o.Schema == "" {
		o.Schema = schema
	}
	if o.Old != nil && o.Old.Name == "" {
		old := cloneTable(*o.Old)
		old.Name = o.Table
		o.Old = &old
	}
	return o
}

func requireTable(name string) error {
	if name == "" {
		return errors.New("table name is required")
	}
	return nil
}

func validateColumn(c ColumnDef) error {
	var errs []error
	if c.Name == "" {
		errs = append(errs, errors.New("column name is required"))
	}
	if c.Type == "" {
		errs = append(errs, fmt.Errorf("column '%s' type is required", c.Name))
	}
	return errors.Join(errs...)
}

func validateIndex(idx IndexDef) error {
	var errs []error
	if idx.Name == "" {
		errs = append(errs, errors.New("index name is required"))
	}
	if len(idx.Columns) == 0 {
		errs = append(errs, fmt.Errorf("index '%s' must have at least one column", idx.Name))
	}
	return errors.Join(errs...)
}

func validateTable(t TableDef) error {
	var errs []error
	errs = append(errs, requireTable(t.Name))
	if len(t.Columns) == 0 {
		errs = append(errs, fmt.Errorf("table '%s' must have at least one column", t.Name))
	}
	seen := make(map[string]struct{}, len(t.Columns))
	for _, c := range t.Columns {
		if _, ok := seen[c.Name]; ok {
			errs = append(errs, fmt.Errorf("duplicate column '%s' in table '%s'", c.Name, t.Name))
		}
		seen[c.Name] = struct{}{}
		errs = append(errs, validateColumn(c))
	}
	for _, pk := range t.PrimaryKey {
		if _, ok := seen[pk]; !ok {
			errs = append(errs, fmt.Errorf("primary key column '%s' isn't defined in table '%s'", pk, t.Name))
		}
	}
	for _, idx := range t.Indexes {
		errs = append(errs, validateIndex(idx))
		for _, col := range idx.Columns {
			if _, ok := seen[col]; !ok {
				errs = append(errs, fmt.Errorf("index column '%s' isn't defined in table '%s'", col, t.Name))
			}
		}
	}
	return errors.Join(errs...)
}

func cloneTable(t TableDef) TableDef {
	t.Columns = slices.Clone(t.Columns)
	t.PrimaryKey = slices.Clone(t.PrimaryKey)
	indexes := make([]IndexDef, len(t.Indexes))
	for i, idx := range t.Indexes {
		idx.Columns = slices.Clone(idx.Columns)
		indexes[i] = idx
	}
	if t.Indexes == nil {
		indexes = nil
	}
	t.Indexes = indexes
	return t
}
