package migrator

import (
	"bytes"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"path"
	"regexp"
	"strings"

	"github.com/mandelsoft/vfs/pkg/vfs"
	"gopkg.in/yaml.v3"
)

var fileRx = regexp.MustCompile(`^([0-9A-Za-z]+)_([0-9A-Za-z_]+)\.ya?ml$`)

// ParseFileName returns the migration ID and name encoded in a migration
// file name of the form {id}_{name}.yaml.
func ParseFileName(name string) (id, migName string, err error) {
	m := fileRx.FindStringSubmatch(name)
	if m == nil {
		return "", "", fmt.Errorf("invalid migration file name '%s': expected {id}_{name}.yaml", name)
	}
	return m[1], m[2], nil
}

// LoadMigrations loads all migration files in the root of fsys, typically an
// embedded directory.
func LoadMigrations(fsys fs.FS) ([]*Migration, error) {
	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return nil, fmt.Errorf("failed reading migrations directory: %w", err)
	}

	migrations := make([]*Migration, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || !isMigrationFile(e.Name()) {
			continue
		}
		data, err := fs.ReadFile(fsys, e.Name())
		if err != nil {
			return nil, fmt.Errorf("failed reading migration file '%s': %w", e.Name(), err)
		}
		mig, err := ParseMigration(e.Name(), data)
		if err != nil {
			return nil, err
		}
		migrations = append(migrations, mig)
	}

	return checkLoaded(migrations)
}

// LoadMigrationsDir loads all migration files in dir.
func LoadMigrationsDir(fsys vfs.FileSystem, dir string) ([]*Migration, error) {
	entries, err := vfs.ReadDir(fsys, dir)
	if err != nil {
		return nil, fmt.Errorf("failed reading migrations directory '%s': %w", dir, err)
	}

	migrations := make([]*Migration, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || !isMigrationFile(e.Name()) {
			continue
		}
		fpath := path.Join(dir, e.Name())
		data, err := vfs.ReadFile(fsys, fpath)
		if err != nil {
			return nil, fmt.Errorf("failed reading migration file '%s': %w", fpath, err)
		}
		mig, err := ParseMigration(e.Name(), data)
		if err != nil {
			return nil, err
		}
		migrations = append(migrations, mig)
	}

	return checkLoaded(migrations)
}

func isMigrationFile(name string) bool {
	return strings.HasSuffix(name, ".yaml") || strings.HasSuffix(name, ".yml")
}

// checkLoaded rejects duplicate IDs and sorts the migrations.
func checkLoaded(migrations []*Migration) ([]*Migration, error) {
	seen := make(map[string]string, len(migrations))
	for _, mig := range migrations {
		if prev, ok := seen[mig.ID]; ok {
			return nil, fmt.Errorf("duplicate migration ID %s: %s and %s", mig.ID, prev, mig.Name)
		}
		seen[mig.ID] = mig.Name
	}
	SortMigrations(migrations)

	return migrations, nil
}

// ParseMigration decodes a migration document. The ID and name are taken from
// the file name. Operations are validated, but schema names are left as
// written.
func ParseMigration(fileName string, data []byte) (*Migration, error) {
	id, name, err := ParseFileName(fileName)
	if err != nil {
		return nil, err
	}

	var doc migrationDoc
	if err = decodeStrict(data, &doc); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed parsing migration file '%s': %w", fileName, err)
	}

	mig := &Migration{ID: id, Name: name, Up: doc.Up.operations(), Down: doc.Down.operations()}

	// Validate a copy, so that the default schema is still applied by the
	// Migrator that runs it.
	check := *mig
	if err = check.Prepare("_"); err != nil {
		return nil, fmt.Errorf("invalid migration file '%s': %w", fileName, err)
	}

	return mig, nil
}

type migrationDoc struct {
	Up   opDocs `yaml:"up"`
	Down opDocs `yaml:"down"`
}

type opDocs []opDoc

func (d opDocs) operations() []Operation {
	if len(d) == 0 {
		return nil
	}
	ops := make([]Operation, len(d))
	for i, od := range d {
		ops[i] = od.op
	}
	return ops
}

// opDoc is a single-key mapping naming the operation kind, e.g.
//
//	- add_column:
//	    table: user
//	    column: {name: irzplus_credentials, type: jsonb, nullable: true}
type opDoc struct {
	op Operation
}

func (d *opDoc) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.MappingNode || len(node.Content) != 2 {
		return fmt.Errorf("line %d: an operation must be a mapping with a single key naming its kind", node.Line)
	}

	var (
		kind = OpKind(node.Content[0].Value)
		body = node.Content[1]
		err  error
	)
	switch kind {
	case OpAddColumn:
		var v struct {
			target `yaml:",inline"`
			Column columnDoc `yaml:"column"`
		}
		err = decodeBody(body, &v)
		d.op = AddColumn{Schema: v.Schema, Table: v.Table, Column: v.Column.def()}
	case OpDropColumn:
		var v struct {
			target `yaml:",inline"`
			Column string     `yaml:"column"`
			Old    *columnDoc `yaml:"old"`
		}
		err = decodeBody(body, &v)
		d.op = DropColumn{Schema: v.Schema, Table: v.Table, Column: v.Column, Old: v.Old.defPtr()}
	case OpRenameColumn:
		var v struct {
			target `yaml:",inline"`
			Column string `yaml:"column"`
			To     string `yaml:"to"`
		}
		err = decodeBody(body, &v)
		d.op = RenameColumn{Schema: v.Schema, Table: v.Table, Column: v.Column, NewName: v.To}
	case OpAlterColumn:
		var v struct {
			target `yaml:",inline"`
			Column columnDoc  `yaml:"column"`
			Old    *columnDoc `yaml:"old"`
		}
		err = decodeBody(body, &v)
		d.op = AlterColumn{Schema: v.Schema, Table: v.Table, Column: v.Column.def(), Old: v.Old.defPtr()}
	case OpCreateIndex:
		var v struct {
			target `yaml:",inline"`
			Index  indexDoc `yaml:"index"`
		}
		err = decodeBody(body, &v)
		d.op = CreateIndex{Schema: v.Schema, Table: v.Table, Index: v.Index.def()}
	case OpDropIndex:
		var v struct {
			target `yaml:",inline"`
			Index  string    `yaml:"index"`
			Old    *indexDoc `yaml:"old"`
		}
		err = decodeBody(body, &v)
		d.op = DropIndex{Schema: v.Schema, Table: v.Table, Index: v.Index, Old: v.Old.defPtr()}
	case OpCreateTable:
		var v struct {
			Schema string   `yaml:"schema"`
			Table  tableDoc `yaml:"table"`
		}
		err = decodeBody(body, &v)
		d.op = CreateTable{Schema: v.Schema, Table: v.Table.def()}
	case OpDropTable:
		var v struct {
			target `yaml:",inline"`
			Old    *tableDoc `yaml:"old"`
		}
		err = decodeBody(body, &v)
		d.op = DropTable{Schema: v.Schema, Table: v.Table, Old: v.Old.defPtr()}
	default:
		return fmt.Errorf("line %d: unknown operation '%s'", node.Line, kind)
	}
	if err != nil {
		return fmt.Errorf("line %d: %s: %w", node.Line, kind, err)
	}

	return nil
}

// decodeStrict decodes a YAML document, rejecting keys that don't map to a
// field of v.
func decodeStrict(data []byte, v any) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	return dec.Decode(v)
}

// decodeBody strictly decodes the body of an operation. Node.Decode doesn't
// reject unknown keys, so the body is re-encoded first.
func decodeBody(body *yaml.Node, v any) error {
	data, err := yaml.Marshal(body)
	if err != nil {
		return err
	}
	return decodeStrict(data, v)
}

type target struct {
	Schema string `yaml:"schema"`
	Table  string `yaml:"table"`
}

type columnDoc struct {
	Name     string  `yaml:"name"`
	Type     string  `yaml:"type"`
	Nullable bool    `yaml:"nullable,omitempty"`
	Default  *string `yaml:"default,omitempty"`
}

func (c columnDoc) def() ColumnDef {
	col := ColumnDef{Name: c.Name, Type: c.Type, Nullable: c.Nullable}
	if c.Default != nil {
		col.Default = sql.Null[string]{V: *c.Default, Valid: true}
	}
	return col
}

func (c *columnDoc) defPtr() *ColumnDef {
	if c == nil {
		return nil
	}
	col := c.def()
	return &col
}

type indexDoc struct {
	Name    string   `yaml:"name"`
	Columns []string `yaml:"columns"`
	Unique  bool     `yaml:"unique,omitempty"`
}

func (i indexDoc) def() IndexDef {
	return IndexDef{Name: i.Name, Columns: i.Columns, Unique: i.Unique}
}

func (i *indexDoc) defPtr() *IndexDef {
	if i == nil {
		return nil
	}
	idx := i.def()
	return &idx
}

type tableDoc struct {
	Name       string      `yaml:"name"`
	Columns    []columnDoc `yaml:"columns"`
	PrimaryKey []string    `yaml:"primary_key,omitempty"`
	Indexes    []indexDoc  `yaml:"indexes,omitempty"`
}

func (t tableDoc) def() TableDef {
	def := TableDef{Name: t.Name, PrimaryKey: t.PrimaryKey}
	for _, c := range t.Columns {
		def.Columns = append(def.Columns, c.def())
	}
	for _, idx := range t.Indexes {
		def.Indexes = append(def.Indexes, idx.def())
	}
	return def
}

func (t *tableDoc) defPtr() *TableDef {
	if t == nil {
		return nil
	}
	def := t.def()
	return &def
}

// MarshalOperations renders operations in the migration document format.
func MarshalOperations(up, down []Operation) ([]byte, error) {
	doc := struct {
		Up   []map[OpKind]any `yaml:"up"`
		Down []map[OpKind]any `yaml:"down,omitempty"`
	}{}
	for _, op := range up {
		doc.Up = append(doc.Up, map[OpKind]any{op.Kind(): encodeOp(op)})
	}
	for _, op := range down {
		doc.Down = append(doc.Down, map[OpKind]any{op.Kind(): encodeOp(op)})
	}
	if len(doc.Up) == 0 {
		return nil, errors.New("at least one up operation is required")
	}

	return yaml.Marshal(doc)
}

func encodeColumn(c ColumnDef) columnDoc {
	doc := columnDoc{Name: c.Name, Type: c.Type, Nullable: c.Nullable}
	if c.Default.Valid {
		doc.Default = &c.Default.V
	}
	return doc
}

func encodeOp(op Operation) map[string]any {
	t := op.Target()
	out := map[string]any{}
	if t.Schema != "" {
		out["schema"] = t.Schema
	}
	switch o := op.(type) {
	case AddColumn:
		out["table"], out["column"] = o.Table, encodeColumn(o.Column)
	case DropColumn:
		out["table"], out["column"] = o.Table, o.Column
		if o.Old != nil {
			out["old"] = encodeColumn(*o.Old)
		}
	case RenameColumn:
		out["table"], out["column"], out["to"] = o.Table, o.Column, o.NewName
	case AlterColumn:
		out["table"], out["column"] = o.Table, encodeColumn(o.Column)
		if o.Old != nil {
			out["old"] = encodeColumn(*o.Old)
		}
	case CreateIndex:
		out["table"], out["index"] = o.Table, indexDoc(o.Index)
	case DropIndex:
		out["table"], out["index"] = o.Table, o.Index
		if o.Old != nil {
			out["old"] = indexDoc(*o.Old)
		}
	case CreateTable:
		out["table"] = encodeTable(o.Table)
	case DropTable:
		out["table"] = o.Table
		if o.Old != nil {
			out["old"] = encodeTable(*o.Old)
		}
	}
	return out
}

func encodeTable(t TableDef) tableDoc {
	doc := tableDoc{Name: t.Name, PrimaryKey: t.PrimaryKey}
	for _, c := range t.Columns {
		doc.Columns = append(doc.Columns, encodeColumn(c))
	}
	for _, idx := range t.Indexes {
		doc.Indexes = append(doc.Indexes, indexDoc(idx))
	}
	return doc
}
