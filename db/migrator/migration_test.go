package migrator

import (
	"database/sql"
	"slices"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestCompareIDs(t *testing.T) {
	t.Parallel()

	tests := []struct {
		a, b string
		exp  int
	}{
		{a: "1", b: "2", exp: -1},
		{a: "9", b: "10", exp: -1},
		{a: "010", b: "9", exp: 1},
		{a: "20250101000000", b: "20250101000000", exp: 0},
		{a: "20251001093000", b: "20250905110000", exp: 1},
		{a: "a1", b: "a10", exp: -1},
		{a: "b", b: "a", exp: 1},
		{a: "010", b: "10", exp: -1},
		{a: "10", b: "1a", exp: -1},
		{a: "1a", b: "9", exp: 1},
	}

	for _, tt := range tests {
		t.Run(tt.a+"_"+tt.b, func(t *testing.T) {
			t.Parallel()
			got := compareIDs(tt.a, tt.b)
			switch {
			case tt.exp < 0:
				assert.Negative(t, got)
			case tt.exp > 0:
				assert.Positive(t, got)
			default:
				assert.Zero(t, got)
			}
		})
	}
}

func TestSortMigrationsProperty(t *testing.T) {
	t.Parallel()

	rapid.Check(t, func(t *rapid.T) {
		ids := rapid.SliceOfNDistinct(rapid.Uint32(), 1, 50, rapid.ID[uint32]).Draw(t, "ids")

		migs := make([]*Migration, len(ids))
		for i, id := range ids {
			migs[i] = &Migration{ID: strconv.FormatUint(uint64(id), 10), Name: "M"}
		}
		SortMigrations(migs)

		slices.Sort(ids)
		for i, id := range ids {
			if migs[i].ID != strconv.FormatUint(uint64(id), 10) {
				t.Fatalf("migration %d has ID %s, expected %d", i, migs[i].ID, id)
			}
		}
	})
}

func TestCompareIDsProperty(t *testing.T) {
	t.Parallel()

	rapid.Check(t, func(t *rapid.T) {
		id := rapid.StringMatching(`[0-9a-b]{1,3}`)
		a, b, c := id.Draw(t, "a"), id.Draw(t, "b"), id.Draw(t, "c")

		if sign(compareIDs(a, b)) != -sign(compareIDs(b, a)) {
			t.Fatalf("comparing %q and %q isn't antisymmetric", a, b)
		}
		if (compareIDs(a, b) == 0) != (a == b) {
			t.Fatalf("distinct IDs %q and %q compare equal", a, b)
		}
		if compareIDs(a, b) <= 0 && compareIDs(b, c) <= 0 && compareIDs(a, c) > 0 {
			t.Fatalf("ordering of %q, %q and %q isn't transitive", a, b, c)
		}
	})
}

func sign(n int) int {
	switch {
	case n < 0:
		return -1
	case n > 0:
		return 1
	}
	return 0
}

func textCol(name string) ColumnDef {
	return ColumnDef{Name: name, Type: "text", Nullable: true}
}

func TestMigrationReverse(t *testing.T) {
	t.Parallel()

	year := ColumnDef{Name: "year", Type: "integer", Default: sql.Null[string]{V: "2025", Valid: true}}
	ix := IndexDef{Name: "ix_sale_farm_id", Columns: []string{"farm_id"}}
	farm := TableDef{Name: "farm", Columns: []ColumnDef{textCol("id")}, PrimaryKey: []string{"id"}}

	tests := []struct {
		name   string
		up     []Operation
		down   []Operation
		expOps []Operation
		expErr string
	}{
		{
			name: "ok/derived",
			up: []Operation{
				CreateTable{Schema: "s", Table: farm},
				AddColumn{Schema: "s", Table: "cycle", Column: year},
				CreateIndex{Schema: "s", Table: "sale", Index: ix},
			},
			expOps: []Operation{
				DropIndex{Schema: "s", Table: "sale", Index: ix.Name, Old: &ix},
				DropColumn{Schema: "s", Table: "cycle", Column: "year", Old: &year},
				DropTable{Schema: "s", Table: "farm", Old: &farm},
			},
		},
		{
			name: "ok/rename",
			up:   []Operation{RenameColumn{Schema: "s", Table: "t", Column: "a", NewName: "b"}},
			expOps: []Operation{
				RenameColumn{Schema: "s", Table: "t", Column: "b", NewName: "a"},
			},
		},
		{
			name: "ok/explicit_down",
			up:   []Operation{DropColumn{Schema: "s", Table: "t", Column: "a"}},
			down: []Operation{AddColumn{Schema: "s", Table: "t", Column: textCol("a")}},
			expOps: []Operation{
				AddColumn{Schema: "s", Table: "t", Column: textCol("a")},
			},
		},
		{
			name:   "err/drop_column",
			up:     []Operation{DropColumn{Schema: "s", Table: "t", Column: "a"}},
			expErr: "irreversible operation: drop column s.t.a: the dropped column's definition wasn't recorded",
		},
		{
			name: "err/alter_column",
			up: []Operation{
				AddColumn{Schema: "s", Table: "t", Column: textCol("a")},
				AlterColumn{Schema: "s", Table: "t", Column: textCol("b")},
			},
			expErr: "irreversible operation: alter column s.t.b",
		},
		{
			name:   "err/drop_index",
			up:     []Operation{DropIndex{Schema: "s", Table: "t", Index: "ix"}},
			expErr: "the dropped index's definition wasn't recorded",
		},
		{
			name:   "err/drop_table",
			up:     []Operation{DropTable{Schema: "s", Table: "t"}},
			expErr: "the dropped table's definition wasn't recorded",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			mig := &Migration{ID: "1", Name: "Test", Up: tt.up, Down: tt.down}
			ops, err := mig.Reverse()
			if tt.expErr != "" {
				assert.ErrorIs(t, err, ErrIrreversibleOperation)
				assert.ErrorContains(t, err, tt.expErr)
				assert.False(t, mig.Reversible())
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expOps, ops)
			assert.True(t, mig.Reversible())
		})
	}
}

func TestMigrationPrepare(t *testing.T) {
	t.Parallel()

	ix := IndexDef{Name: "ix", Columns: []string{"a"}}

	tests := []struct {
		name   string
		mig    Migration
		expErr string
		expUp  []Operation
	}{
		{
			name: "ok/default_schema",
			mig: Migration{ID: "1", Name: "T", Up: []Operation{
				AddColumn{Table: "t", Column: textCol("a")},
				DropColumn{Schema: "other", Table: "t", Column: "b", Old: &ColumnDef{Type: "text"}},
			}},
			expUp: []Operation{
				AddColumn{Schema: "farms_manager", Table: "t", Column: textCol("a")},
				DropColumn{Schema: "other", Table: "t", Column: "b", Old: &ColumnDef{Name: "b", Type: "text"}},
			},
		},
		{
			name: "ok/down_without_metadata",
			mig: Migration{ID: "1", Name: "T",
				Up:   []Operation{CreateIndex{Table: "t", Index: ix}},
				Down: []Operation{DropIndex{Table: "t", Index: "ix"}},
			},
			expUp: []Operation{CreateIndex{Schema: "farms_manager", Table: "t", Index: ix}},
		},
		{
			name:   "err/invalid_id",
			mig:    Migration{ID: "1-2", Name: "T", Up: []Operation{AddColumn{Table: "t", Column: textCol("a")}}},
			expErr: "invalid migration ID '1-2'",
		},
		{
			name:   "err/no_name",
			mig:    Migration{ID: "1", Up: []Operation{AddColumn{Table: "t", Column: textCol("a")}}},
			expErr: "migration 1 has no name",
		},
		{
			name: "err/invalid_operations",
			mig: Migration{ID: "1", Name: "T", Up: []Operation{
				AddColumn{Table: "t", Column: ColumnDef{Name: "a"}},
				RenameColumn{Table: "t", Column: "a", NewName: "a"},
			}},
			expErr: "up[0] add_column: column 'a' type is required\nup[1] rename_column: column 'a' can't be renamed to itself",
		},
		{
			name: "err/invalid_table",
			mig: Migration{ID: "1", Name: "T", Up: []Operation{
				CreateTable{Table: TableDef{
					Name:       "t",
					Columns:    []ColumnDef{textCol("a"), textCol("a")},
					PrimaryKey: []string{"id"},
				}},
			}},
			expErr: "duplicate column 'a' in table 't'\nprimary key column 'id' isn't defined in table 't'",
		},
		{
			name: "err/down_length",
			mig: Migration{ID: "1", Name: "T",
				Up: []Operation{AddColumn{Table: "t", Column: textCol("a")}},
				Down: []Operation{
					DropColumn{Table: "t", Column: "a"},
					DropColumn{Table: "t", Column: "b"},
				},
			},
			expErr: "down has 2 operations, but up has 1",
		},
		{
			name: "err/down_wrong_target",
			mig: Migration{ID: "1", Name: "T",
				Up:   []Operation{AddColumn{Table: "t", Column: textCol("a")}},
				Down: []Operation{DropColumn{Table: "t", Column: "b"}},
			},
			expErr: "down[0] (drop column farms_manager.t.b) doesn't reverse up[0]",
		},
		{
			name: "err/down_contradicts",
			mig: Migration{ID: "1", Name: "T",
				Up: []Operation{AddColumn{Table: "t", Column: textCol("a")}},
				Down: []Operation{DropColumn{Table: "t", Column: "a", Old: &ColumnDef{Type: "integer"}}},
			},
			expErr: "contradicts the inverse of up[0]",
		},
		{
			name: "err/down_rename",
			mig: Migration{ID: "1", Name: "T",
				Up:   []Operation{RenameColumn{Table: "t", Column: "a", NewName: "b"}},
				Down: []Operation{RenameColumn{Table: "t", Column: "b", NewName: "c"}},
			},
			expErr: "doesn't reverse up[0]",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			mig := tt.mig
			err := mig.Prepare(DefaultSchema)
			if tt.expErr != "" {
				assert.ErrorContains(t, err, tt.expErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expUp, mig.Up)
		})
	}
}

// Reversing the inverse of an operation must give back the operation.
func TestOperationInverseProperty(t *testing.T) {
	t.Parallel()

	name := rapid.StringMatching(`[a-z][a-z_]{0,11}`)
	column := rapid.Custom(func(t *rapid.T) ColumnDef {
		c := ColumnDef{
			Name:     name.Draw(t, "column"),
			Type:     rapid.SampledFrom([]string{"text", "uuid", "integer", "jsonb", "numeric(10,2)"}).Draw(t, "type"),
			Nullable: rapid.Bool().Draw(t, "nullable"),
		}
		if rapid.Bool().Draw(t, "has_default") {
			c.Default = sql.Null[string]{V: rapid.SampledFrom([]string{"0", "'x'", "true"}).Draw(t, "default"), Valid: true}
		}
		return c
	})
	index := rapid.Custom(func(t *rapid.T) IndexDef {
		return IndexDef{
			Name:    "ix_" + name.Draw(t, "index"),
			Columns: rapid.SliceOfN(name, 1, 3).Draw(t, "index_columns"),
			Unique:  rapid.Bool().Draw(t, "unique"),
		}
	})

	rapid.Check(t, func(t *rapid.T) {
		table := name.Draw(t, "table")
		c, old := column.Draw(t, "col"), column.Draw(t, "old")
		old.Name = c.Name
		idx := index.Draw(t, "idx")
		cols := rapid.SliceOfNDistinct(column, 1, 5, func(c ColumnDef) string { return c.Name }).Draw(t, "cols")

		ops := []Operation{
			AddColumn{Schema: "s", Table: table, Column: c},
			DropColumn{Schema: "s", Table: table, Column: c.Name, Old: &c},
			RenameColumn{Schema: "s", Table: table, Column: c.Name, NewName: c.Name + "_new"},
			AlterColumn{Schema: "s", Table: table, Column: c, Old: &old},
			CreateIndex{Schema: "s", Table: table, Index: idx},
			DropIndex{Schema: "s", Table: table, Index: idx.Name, Old: &idx},
			CreateTable{Schema: "s", Table: TableDef{Name: table, Columns: cols}},
		}

		for _, op := range ops {
			inv, err := op.Inverse()
			if err != nil {
				t.Fatalf("%s: %v", op, err)
			}
			if inv.Target().Table != op.Target().Table {
				t.Fatalf("%s: inverse %s targets another table", op, inv)
			}
			back, err := inv.Inverse()
			if err != nil {
				t.Fatalf("%s: %v", inv, err)
			}
			assert.Equal(t, op, back)
		}
	})
}
