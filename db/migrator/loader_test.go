package migrator

import (
	"database/sql"
	"testing"
	"testing/fstest"

	"github.com/mandelsoft/vfs/pkg/memoryfs"
	"github.com/mandelsoft/vfs/pkg/vfs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFileName(t *testing.T) {
	t.Parallel()

	tests := []struct {
		file    string
		expID   string
		expName string
		expErr  string
	}{
		{file: "20250310121500_AddIrzplusCredentials.yaml", expID: "20250310121500", expName: "AddIrzplusCredentials"},
		{file: "1_add_cycle_year.yml", expID: "1", expName: "add_cycle_year"},
		{file: "AddCycleYear.yaml", expErr: "invalid migration file name 'AddCycleYear.yaml'"},
		{file: "1_Add-Cycle.yaml", expErr: "expected {id}_{name}.yaml"},
		{file: "1_AddCycle.json", expErr: "invalid migration file name"},
	}

	for _, tt := range tests {
		t.Run(tt.file, func(t *testing.T) {
			t.Parallel()
			id, name, err := ParseFileName(tt.file)
			if tt.expErr != "" {
				assert.ErrorContains(t, err, tt.expErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expID, id)
			assert.Equal(t, tt.expName, name)
		})
	}
}

func TestParseMigration(t *testing.T) {
	t.Parallel()

	dflt := func(v string) sql.Null[string] { return sql.Null[string]{V: v, Valid: true} }

	tests := []struct {
		name   string
		file   string
		doc    string
		expMig *Migration
		expErr string
	}{
		{
			name: "ok/all_operations",
			file: "7_Everything.yaml",
			doc: `
up:
  - create_table:
      schema: reporting
      table:
        name: sale
        columns:
          - {name: id, type: uuid}
          - {name: amount, type: "numeric(12,2)", default: "0"}
        primary_key: [id]
        indexes:
          - {name: ix_sale_amount, columns: [amount]}
  - add_column:
      table: cycle
      column: {name: year, type: integer, default: "2025"}
  - rename_column: {table: fallen_stock, column: internal_irz_group_id, to: internal_group_id}
  - alter_column:
      table: ksef_invoice
      column: {name: invoice_date, type: date}
      old: {name: invoice_date, type: timestamp with time zone}
  - create_index:
      table: sale
      index: {name: ix_sale_farm_id, columns: [farm_id], unique: true}
  - drop_index:
      table: sale
      index: ix_sale_cycle_id
      old: {columns: [cycle_id]}
  - drop_column:
      table: user
      column: legacy
      old: {type: text, nullable: true}
  - drop_table: {table: obsolete}
`,
			expMig: &Migration{ID: "7", Name: "Everything", Up: []Operation{
				CreateTable{Schema: "reporting", Table: TableDef{
					Name: "sale",
					Columns: []ColumnDef{
						{Name: "id", Type: "uuid"},
						{Name: "amount", Type: "numeric(12,2)", Default: dflt("0")},
					},
					PrimaryKey: []string{"id"},
					Indexes:    []IndexDef{{Name: "ix_sale_amount", Columns: []string{"amount"}}},
				}},
				AddColumn{Table: "cycle", Column: ColumnDef{Name: "year", Type: "integer", Default: dflt("2025")}},
				RenameColumn{Table: "fallen_stock", Column: "internal_irz_group_id", NewName: "internal_group_id"},
				AlterColumn{
					Table:  "ksef_invoice",
					Column: ColumnDef{Name: "invoice_date", Type: "date"},
					Old:    &ColumnDef{Name: "invoice_date", Type: "timestamp with time zone"},
				},
				CreateIndex{Table: "sale", Index: IndexDef{Name: "ix_sale_farm_id", Columns: []string{"farm_id"}, Unique: true}},
				DropIndex{Table: "sale", Index: "ix_sale_cycle_id", Old: &IndexDef{Columns: []string{"cycle_id"}}},
				DropColumn{Table: "user", Column: "legacy", Old: &ColumnDef{Type: "text", Nullable: true}},
				DropTable{Table: "obsolete"},
			}},
		},
		{
			name: "ok/explicit_down",
			file: "20250515143000_RenameFallenStockGroup.yaml",
			doc: `
up:
  - rename_column: {table: fallen_stock, column: a, to: b}
down:
  - rename_column: {table: fallen_stock, column: b, to: a}
`,
			expMig: &Migration{
				ID: "20250515143000", Name: "RenameFallenStockGroup",
				Up:   []Operation{RenameColumn{Table: "fallen_stock", Column: "a", NewName: "b"}},
				Down: []Operation{RenameColumn{Table: "fallen_stock", Column: "b", NewName: "a"}},
			},
		},
		{
			name:   "err/file_name",
			file:   "migration.yaml",
			doc:    "up: []",
			expErr: "invalid migration file name",
		},
		{
			name:   "err/no_operations",
			file:   "1_Empty.yaml",
			doc:    "up: []",
			expErr: "migration 1_Empty has no up operations",
		},
		{
			name:   "err/unknown_operation",
			file:   "1_Truncate.yaml",
			doc:    "up:\n  - truncate_table: {table: sale}\n",
			expErr: "line 2: unknown operation 'truncate_table'",
		},
		{
			name:   "err/multiple_keys",
			file:   "1_Bad.yaml",
			doc:    "up:\n  - add_column: {table: a}\n    drop_column: {table: a}\n",
			expErr: "an operation must be a mapping with a single key naming its kind",
		},
		{
			name:   "err/invalid_operation",
			file:   "1_Bad.yaml",
			doc:    "up:\n  - add_column: {table: user, column: {name: email}}\n",
			expErr: "invalid migration file '1_Bad.yaml'",
		},
		{
			name:   "err/unknown_column_field",
			file:   "1_Typo.yaml",
			doc:    "up:\n  - add_column: {table: user, column: {name: email, type: text, nulable: true}}\n",
			expErr: "field nulable not found",
		},
		{
			name:   "err/unknown_operation_field",
			file:   "1_Typo.yaml",
			doc:    "up:\n  - rename_column: {table: user, column: a, new_name: b}\n",
			expErr: "line 2: rename_column:",
		},
		{
			name:   "err/unknown_document_field",
			file:   "1_Typo.yaml",
			doc:    "up:\n  - drop_table: {table: obsolete}\ndwon:\n  - create_table: {table: {name: obsolete}}\n",
			expErr: "field dwon not found",
		},
		{
			name:   "err/invalid_yaml",
			file:   "1_Bad.yaml",
			doc:    "up: [",
			expErr: "failed parsing migration file '1_Bad.yaml'",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			mig, err := ParseMigration(tt.file, []byte(tt.doc))
			if tt.expErr != "" {
				assert.ErrorContains(t, err, tt.expErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expMig, mig)
		})
	}
}

func TestLoadMigrations(t *testing.T) {
	t.Parallel()

	addCol := func(table string) []byte {
		return []byte("up:\n  - add_column: {table: " + table + ", column: {name: c, type: text, nullable: true}}\n")
	}

	t.Run("ok/fs", func(t *testing.T) {
		t.Parallel()
		fsys := fstest.MapFS{
			"10_Third.yaml": {Data: addCol("c")},
			"9_Second.yml":  {Data: addCol("b")},
			"1_First.yaml":  {Data: addCol("a")},
			"README.md":     {Data: []byte("ignored")},
		}
		migs, err := LoadMigrations(fsys)
		require.NoError(t, err)
		require.Len(t, migs, 3)
		assert.Equal(t, "1_First", migs[0].String())
		assert.Equal(t, "9_Second", migs[1].String())
		assert.Equal(t, "10_Third", migs[2].String())
	})

	t.Run("ok/dir", func(t *testing.T) {
		t.Parallel()
		fs := memoryfs.New()
		require.NoError(t, fs.MkdirAll("/migrations/archive", 0o755))
		require.NoError(t, vfs.WriteFile(fs, "/migrations/2_Second.yaml", addCol("b"), 0o644))
		require.NoError(t, vfs.WriteFile(fs, "/migrations/1_First.yaml", addCol("a"), 0o644))

		migs, err := LoadMigrationsDir(fs, "/migrations")
		require.NoError(t, err)
		require.Len(t, migs, 2)
		assert.Equal(t, "1", migs[0].ID)
		assert.Equal(t, "2", migs[1].ID)
		// The default schema is applied by the Migrator, not the loader.
		assert.Empty(t, migs[0].Up[0].Target().Schema)
	})

	t.Run("err/duplicate_id", func(t *testing.T) {
		t.Parallel()
		fsys := fstest.MapFS{
			"1_First.yaml":  {Data: addCol("a")},
			"1_Second.yaml": {Data: addCol("b")},
		}
		_, err := LoadMigrations(fsys)
		assert.ErrorContains(t, err, "duplicate migration ID 1: First and Second")
	})

	t.Run("err/missing_dir", func(t *testing.T) {
		t.Parallel()
		_, err := LoadMigrationsDir(memoryfs.New(), "/missing")
		assert.ErrorContains(t, err, "failed reading migrations directory '/missing'")
	})

	t.Run("err/invalid_file", func(t *testing.T) {
		t.Parallel()
		fsys := fstest.MapFS{"1_Bad.yaml": {Data: []byte("up: [")}}
		_, err := LoadMigrations(fsys)
		assert.ErrorContains(t, err, "failed parsing migration file '1_Bad.yaml'")
	})
}

func TestMarshalOperations(t *testing.T) {
	t.Parallel()

	up := []Operation{
		CreateTable{Table: TableDef{
			Name: "farm",
			Columns: []ColumnDef{
				{Name: "id", Type: "uuid"},
				{Name: "name", Type: "text", Nullable: true, Default: sql.Null[string]{V: "'x'", Valid: true}},
			},
			PrimaryKey: []string{"id"},
		}},
		AlterColumn{
			Schema: "farms_manager", Table: "ksef_invoice",
			Column: ColumnDef{Name: "invoice_date", Type: "date"},
			Old:    &ColumnDef{Name: "invoice_date", Type: "timestamp with time zone"},
		},
		DropIndex{Table: "sale", Index: "ix", Old: &IndexDef{Name: "ix", Columns: []string{"a", "b"}}},
	}
	down := []Operation{
		CreateIndex{Table: "sale", Index: IndexDef{Name: "ix", Columns: []string{"a", "b"}}},
		AlterColumn{
			Schema: "farms_manager", Table: "ksef_invoice",
			Column: ColumnDef{Name: "invoice_date", Type: "timestamp with time zone"},
		},
		DropTable{Table: "farm"},
	}

	doc, err := MarshalOperations(up, down)
	require.NoError(t, err)

	mig, err := ParseMigration("1_RoundTrip.yaml", doc)
	require.NoError(t, err)
	assert.Equal(t, up, mig.Up)
	assert.Equal(t, down, mig.Down)

	_, err = MarshalOperations(nil, down)
	assert.EqualError(t, err, "at least one up operation is required")
}
