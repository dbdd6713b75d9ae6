package migrator

import (
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"slices"
	"strings"
	"time"
)

// Direction is the direction in which migrations are run.
type Direction string

// Migration directions.
const (
	MigrationUp   Direction = "up"
	MigrationDown Direction = "down"
)

func (d Direction) verb() string {
	if d == MigrationDown {
		return "reversing"
	}
	return "applying"
}

// InitialID is the Downgrade target that reverses every applied migration.
const InitialID = "0"

var idRx = regexp.MustCompile(`^[0-9A-Za-z]+$`)

// Migration is a versioned, reversible schema change.
type Migration struct {
	ID   string
	Name string
	Up   []Operation
	// Down is the explicit rollback. If it's empty, the rollback is derived by
	// inverting Up in reverse order.
	Down []Operation
}

// String returns the migration's full name.
func (m *Migration) String() string {
	return fmt.Sprintf("%s_%s", m.ID, m.Name)
}

// Reverse returns the operations that undo the migration. It fails with
// ErrIrreversibleOperation if no explicit Down was given and at least one Up
// operation can't be inverted.
func (m *Migration) Reverse() ([]Operation, error) {
	if len(m.Down) > 0 {
		return m.Down, nil
	}

	return invertAll(m.Up)
}

// Reversible reports whether the migration can be rolled back.
func (m *Migration) Reversible() bool {
	_, err := m.Reverse()
	return err == nil
}

// MigrationRecord is a row in the migration history table.
type MigrationRecord struct {
	ID        string
	Name      string
	AppliedAt time.Time
}

// Prepare fills in the default schema of every operation and validates the
// migration. If Down is given, every step must pair with the inverse of the
// corresponding Up step: same kind, same target, and no contradicting
// metadata.
func (m *Migration) Prepare(defaultSchema string) error {
	if !idRx.MatchString(m.ID) {
		return fmt.Errorf("invalid migration ID '%s': only letters and digits are allowed", m.ID)
	}
	if m.ID == InitialID {
		return fmt.Errorf("migration ID '%s' is reserved", InitialID)
	}
	if m.Name == "" {
		return fmt.Errorf("migration %s has no name", m.ID)
	}
	if len(m.Up) == 0 {
		return fmt.Errorf("migration %s has no up operations", m)
	}

	var errs []error
	m.Up = qualifyAll(m.Up, defaultSchema)
	m.Down = qualifyAll(m.Down, defaultSchema)
	for i, op := range m.Up {
		if err := op.validate(); err != nil {
			errs = append(errs, fmt.Errorf("up[%d] %s: %w", i, op.Kind(), err))
		}
	}
	for i, op := range m.Down {
		if err := op.validate(); err != nil {
			errs = append(errs, fmt.Errorf("down[%d] %s: %w", i, op.Kind(), err))
		}
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("invalid migration %s: %w", m, err)
	}

	if len(m.Down) > 0 {
		if err := checkInverse(m.Up, m.Down); err != nil {
			return fmt.Errorf("invalid migration %s: %w", m, err)
		}
	}

	return nil
}

func qualifyAll(ops []Operation, schema string) []Operation {
	if ops == nil {
		return nil
	}
	out := make([]Operation, len(ops))
	for i, op := range ops {
		out[i] = op.withDefaultSchema(schema)
	}
	return out
}

// invertAll returns the inverse of each operation, in reverse order.
func invertAll(ops []Operation) ([]Operation, error) {
	inv := make([]Operation, 0, len(ops))
	for i := len(ops) - 1; i >= 0; i-- {
		op, err := ops[i].Inverse()
		if err != nil {
			return nil, err
		}
		inv = append(inv, op)
	}
	return inv, nil
}

// checkInverse verifies that down is the structural inverse of up.
func checkInverse(up, down []Operation) error {
	if len(up) != len(down) {
		return fmt.Errorf("down has %d operations, but up has %d", len(down), len(up))
	}

	for i, upOp := range up {
		downOp := down[len(down)-1-i]
		if !pairs(upOp, downOp) {
			return fmt.Errorf("down[%d] (%s) doesn't reverse up[%d] (%s)",
				len(down)-1-i, downOp, i, upOp)
		}

		inv, err := upOp.Inverse()
		if err != nil {
			// The explicit down step records what the up step didn't.
			continue
		}
		if !compatible(inv, downOp) {
			return fmt.Errorf("down[%d] (%s) contradicts the inverse of up[%d] (%s)",
				len(down)-1-i, downOp, i, inv)
		}
	}

	return nil
}

// pairs reports whether down has the kind and target that reverse up.
func pairs(up, down Operation) bool {
	ut, dt := up.Target(), down.Target()
	if ut.Schema != dt.Schema || ut.Table != dt.Table {
		return false
	}

	switch u := up.(type) {
	case AddColumn:
		return down.Kind() == OpDropColumn && dt.Object == ut.Object
	case DropColumn:
		return down.Kind() == OpAddColumn && dt.Object == ut.Object
	case RenameColumn:
		d, ok := down.(RenameColumn)
		return ok && d.Column == u.NewName && d.NewName == u.Column
	case AlterColumn:
		return down.Kind() == OpAlterColumn && dt.Object == ut.Object
	case CreateIndex:
		return down.Kind() == OpDropIndex && dt.Object == ut.Object
	case DropIndex:
		return down.Kind() == OpCreateIndex && dt.Object == ut.Object
	case CreateTable:
		return down.Kind() == OpDropTable
	case DropTable:
		return down.Kind() == OpCreateTable
	}

	panic(fmt.Sprintf("unhandled operation type %T", up))
}

// compatible reports whether the explicit down operation agrees with the
// derived inverse. Metadata omitted from down is accepted, since the derived
// inverse will supply it.
func compatible(inv, down Operation) bool {
	switch d := down.(type) {
	case DropColumn:
		return d.Old == nil || reflect.DeepEqual(inv.(DropColumn).Old, d.Old)
	case DropIndex:
		return d.Old == nil || reflect.DeepEqual(inv.(DropIndex).Old, d.Old)
	case DropTable:
		return d.Old == nil || reflect.DeepEqual(inv.(DropTable).Old, d.Old)
	case AlterColumn:
		i := inv.(AlterColumn)
		return reflect.DeepEqual(i.Column, d.Column) &&
			(d.Old == nil || reflect.DeepEqual(i.Old, d.Old))
	default:
		return reflect.DeepEqual(inv, down)
	}
}

// compareIDs orders migration IDs. IDs made only of digits are compared
// numerically, so that IDs of different lengths still sort correctly, and
// sort before all other IDs, which are compared lexically.
func compareIDs(a, b string) int {
	aDigits, bDigits := isDigits(a), isDigits(b)
	switch {
	case aDigits && bDigits:
		ta, tb := strings.TrimLeft(a, "0"), strings.TrimLeft(b, "0")
		if len(ta) != len(tb) {
			return len(ta) - len(tb)
		}
		if c := strings.Compare(ta, tb); c != 0 {
			return c
		}
	case aDigits:
		return -1
	case bDigits:
		return 1
	}
	return strings.Compare(a, b)
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// SortMigrations sorts migrations by ascending ID.
func SortMigrations(migrations []*Migration) {
	slices.SortStableFunc(migrations, func(a, b *Migration) int {
		return compareIDs(a.ID, b.ID)
	})
}
