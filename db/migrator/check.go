package migrator

import (
	"context"
	"fmt"
	"slices"

	"go.hackfix.me/coop/db/types"
)

// check verifies that op can be applied to the live schema. It returns an
// OperationError of kind ErrSchemaConflict if the schema already matches or
// contradicts the state op wants to produce.
//
//nolint:gocyclo // A flat switch over every operation is easier to follow.
func check(ctx context.Context, d Dialect, q types.Querier, op Operation) error {
	t := op.Target()

	switch o := op.(type) {
	case AddColumn:
		if err := requireTableExists(ctx, d, q, op); err != nil {
			return err
		}
		_, exists, err := d.Column(ctx, q, t.Schema, t.Table, o.Column.Name)
		if err != nil {
			return err
		}
		if exists {
			return conflict(op, "column already exists")
		}

	case DropColumn:
		cur, exists, err := d.Column(ctx, q, t.Schema, t.Table, o.Column)
		if err != nil {
			return err
		}
		if !exists {
			return conflict(op, "column doesn't exist")
		}
		if o.Old != nil && !sameColumn(d, cur, *o.Old) {
			return conflict(op, "current definition '%s' differs from the recorded '%s'", cur, *o.Old)
		}

	case RenameColumn:
		_, exists, err := d.Column(ctx, q, t.Schema, t.Table, o.Column)
		if err != nil {
			return err
		}
		if !exists {
			return conflict(op, "column doesn't exist")
		}
		_, exists, err = d.Column(ctx, q, t.Schema, t.Table, o.NewName)
		if err != nil {
			return err
		}
		if exists {
			return conflict(op, "column '%s' already exists", o.NewName)
		}

	case AlterColumn:
		cur, exists, err := d.Column(ctx, q, t.Schema, t.Table, o.Column.Name)
		if err != nil {
			return err
		}
		if !exists {
			return conflict(op, "column doesn't exist")
		}
		if o.Old != nil && !sameColumn(d, cur, *o.Old) {
			return conflict(op, "current definition '%s' differs from the recorded '%s'", cur, *o.Old)
		}
		if sameColumn(d, cur, o.Column) {
			return conflict(op, "column already has this definition")
		}

	case CreateIndex:
		if err := requireTableExists(ctx, d, q, op); err != nil {
			return err
		}
		_, table, exists, err := d.Index(ctx, q, t.Schema, o.Index.Name)
		if err != nil {
			return err
		}
		if exists && table != t.Table {
			return conflict(op, "index already exists on table '%s'", table)
		}
		if exists {
			return conflict(op, "index already exists")
		}

	case DropIndex:
		cur, table, exists, err := d.Index(ctx, q, t.Schema, o.Index)
		if err != nil {
			return err
		}
		if !exists {
			return conflict(op, "index doesn't exist")
		}
		if table != t.Table {
			return conflict(op, "index belongs to table '%s'", table)
		}
		if o.Old != nil && !sameIndex(cur, *o.Old) {
			return conflict(op, "current index definition differs from the recorded one")
		}

	case CreateTable:
		_, exists, err := d.Table(ctx, q, t.Schema, t.Table)
		if err != nil {
			return err
		}
		if exists {
			return conflict(op, "table already exists")
		}

	case DropTable:
		cur, exists, err := d.Table(ctx, q, t.Schema, t.Table)
		if err != nil {
			return err
		}
		if !exists {
			return conflict(op, "table doesn't exist")
		}
		if o.Old != nil {
			if !sameTable(d, cur, *o.Old) {
				return conflict(op, "current table definition differs from the recorded one")
			}
			if !sameIndexes(cur.Indexes, o.Old.Indexes) {
				return conflict(op, "current table indexes differ from the recorded ones")
			}
		}

	default:
		panic(fmt.Sprintf("unhandled operation type %T", op))
	}

	return nil
}

func requireTableExists(ctx context.Context, d Dialect, q types.Querier, op Operation) error {
	t := op.Target()
	_, exists, err := d.Table(ctx, q, t.Schema, t.Table)
	if err != nil {
		return err
	}
	if !exists {
		return conflict(op, "table '%s' doesn't exist", t.Table)
	}
	return nil
}

func sameIndexes(a, b []IndexDef) bool {
	if len(a) != len(b) {
		return false
	}
	byName := func(x, y IndexDef) int {
		switch {
		case x.Name < y.Name:
			return -1
		case x.Name > y.Name:
			return 1
		}
		return 0
	}
	a, b = slices.Clone(a), slices.Clone(b)
	slices.SortFunc(a, byName)
	slices.SortFunc(b, byName)
	for i := range a {
		if !sameIndex(a[i], b[i]) {
			return false
		}
	}
	return true
}
