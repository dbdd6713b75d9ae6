package migrator

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/Masterminds/squirrel"

	"go.hackfix.me/coop/db/types"
)

// history reads and writes the migration history table.
type history struct {
	dialect Dialect
	schema  string
	table   string
}

func (h history) quoted() string {
	return h.dialect.QuoteTable(h.schema, h.table)
}

func (h history) ensure(ctx context.Context, q types.Querier) error {
	if err := h.dialect.EnsureHistory(ctx, q, h.schema, h.table); err != nil {
		return fmt.Errorf("failed creating migration history table %s: %w", h.quoted(), err)
	}
	return nil
}

func (h history) exists(ctx context.Context, q types.Querier) (bool, error) {
	_, ok, err := h.dialect.Table(ctx, q, h.schema, h.table)
	if err != nil {
		return false, fmt.Errorf("failed checking migration history table %s: %w", h.quoted(), err)
	}
	return ok, nil
}

// records returns all applied migrations, ordered by ascending ID.
func (h history) records(ctx context.Context, q types.Querier) (records []MigrationRecord, rerr error) {
	query, args, err := squirrel.Select("id", "name", "applied_at").
		From(h.quoted()).
		PlaceholderFormat(h.dialect.Placeholder()).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed building history query: %w", err)
	}

	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, types.LoadError{ModelName: "migration history", Err: err}
	}
	defer func() {
		if err = rows.Close(); err != nil && rerr == nil {
			rerr = fmt.Errorf("failed closing migration history rows: %w", err)
		}
	}()

	records = make([]MigrationRecord, 0)
	for rows.Next() {
		var r MigrationRecord
		if err = rows.Scan(&r.ID, &r.Name, &r.AppliedAt); err != nil {
			return nil, types.ScanError{ModelName: "migration record", Err: err}
		}
		records = append(records, r)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("failed iterating over migration history rows: %w", err)
	}

	sortRecords(records)

	return records, nil
}

func (h history) insert(ctx context.Context, q types.Querier, mig *Migration, appliedAt time.Time) error {
	query, args, err := squirrel.Insert(h.quoted()).
		Columns("id", "name", "applied_at").
		Values(mig.ID, mig.Name, appliedAt).
		PlaceholderFormat(h.dialect.Placeholder()).
		ToSql()
	if err != nil {
		return fmt.Errorf("failed building history insert: %w", err)
	}

	if _, err = q.ExecContext(ctx, query, args...); err != nil {
		err = types.Err("migration", fmt.Sprintf("ID '%s'", mig.ID), err)
		var dupErr *types.DuplicateError
		if errors.As(err, &dupErr) {
			return &OperationError{
				Kind: ErrSchemaConflict,
				Msg:  fmt.Sprintf("migration %s is already recorded as applied", mig.ID),
			}
		}
		return fmt.Errorf("failed recording migration %s: %w", mig.ID, err)
	}

	return nil
}

func (h history) delete(ctx context.Context, q types.Querier, mig *Migration) error {
	query, args, err := squirrel.Delete(h.quoted()).
		Where(squirrel.Eq{"id": mig.ID}).
		PlaceholderFormat(h.dialect.Placeholder()).
		ToSql()
	if err != nil {
		return fmt.Errorf("failed building history delete: %w", err)
	}

	res, err := q.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed removing migration %s from history: %w", mig.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed getting affected rows: %w", err)
	}
	if n == 0 {
		return &OperationError{
			Kind: ErrSchemaConflict,
			Msg:  fmt.Sprintf("migration %s isn't recorded as applied", mig.ID),
		}
	}

	return nil
}

func sortRecords(records []MigrationRecord) {
	slices.SortFunc(records, func(a, b MigrationRecord) int {
		return compareIDs(a.ID, b.ID)
	})
}
