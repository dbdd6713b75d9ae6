package migrator

import (
	"context"
	"database/sql"
	"slices"
	"time"
)

// MigrationState is the state of a migration relative to the database.
type MigrationState string

// Migration states.
const (
	// StateApplied means that the migration is recorded in the history table.
	StateApplied MigrationState = "applied"
	// StatePending means that Upgrade will apply the migration.
	StatePending MigrationState = "pending"
	// StateSkipped means that the migration isn't applied, but is older than
	// the latest applied one, so Upgrade won't apply it.
	StateSkipped MigrationState = "skipped"
	// StateUnknown means that the migration is recorded in the history table,
	// but isn't known to this version.
	StateUnknown MigrationState = "unknown"
)

// MigrationStatus describes a single known or applied migration.
type MigrationStatus struct {
	ID         string
	Name       string
	State      MigrationState
	AppliedAt  sql.Null[time.Time]
	Reversible bool
}

// Status returns the state of every known and every applied migration,
// ordered by ascending ID.
func (m *Migrator) Status(ctx context.Context) ([]MigrationStatus, error) {
	records, err := m.Applied(ctx)
	if err != nil {
		return nil, err
	}

	var highest string
	applied := make(map[string]MigrationRecord, len(records))
	for _, r := range records {
		applied[r.ID] = r
		highest = r.ID
	}

	status := make([]MigrationStatus, 0, len(m.migrations)+len(records))
	for _, mig := range m.migrations {
		st := MigrationStatus{ID: mig.ID, Name: mig.Name, Reversible: mig.Reversible()}
		switch r, ok := applied[mig.ID]; {
		case ok:
			st.State = StateApplied
			st.AppliedAt = sql.Null[time.Time]{V: r.AppliedAt, Valid: true}
		case highest != "" && compareIDs(mig.ID, highest) < 0:
			st.State = StateSkipped
		default:
			st.State = StatePending
		}
		status = append(status, st)
	}

	for _, r := range records {
		if _, ok := m.byID[r.ID]; ok {
			continue
		}
		status = append(status, MigrationStatus{
			ID: r.ID, Name: r.Name, State: StateUnknown,
			AppliedAt: sql.Null[time.Time]{V: r.AppliedAt, Valid: true},
		})
	}

	sortStatus(status)

	return status, nil
}

func sortStatus(status []MigrationStatus) {
	slices.SortStableFunc(status, func(a, b MigrationStatus) int {
		return compareIDs(a.ID, b.ID)
	})
}
