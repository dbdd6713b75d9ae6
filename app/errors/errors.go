package errors

import (
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"go.hackfix.me/coop/db/migrator"
)

// Log logs an error using the default slog logger, extracting metadata if it's
// a StructuredError.
func Log(err error) {
	var serr *StructuredError
	if !errors.As(err, &serr) {
		slog.Error(err.Error())
		return
	}

	args := make([]any, 0, len(serr.metadata)*2+2)

	cause := serr.metadata["cause"]
	if serr.cause != nil {
		cause = serr.cause
	}
	if cause != nil {
		args = append(args, "cause", cause)
	}

	keys := make([]string, 0, len(serr.metadata))
	for k := range serr.metadata {
		if k != "cause" {
			keys = append(keys, k)
		}
	}
	slices.Sort(keys)

	for _, k := range keys {
		args = append(args, k, serr.metadata[k])
	}

	slog.Error(serr.Error(), args...)
}

// FromMigration turns a migration failure into a StructuredError that names
// the failed migration, the direction and the error kind, and keeps the
// original error as its cause. Other errors are returned unchanged.
func FromMigration(err error) error {
	var merr *migrator.MigrationError
	if !errors.As(err, &merr) {
		return err
	}

	fields := []any{
		"migration_id", merr.ID,
		"migration_name", merr.Name,
		"direction", string(merr.Direction),
		"kind", merr.Kind.Error(),
	}
	if merr.Op != nil {
		fields = append(fields, "operation", merr.Op.String())
	}

	return WithCause(fmt.Errorf("migration %s_%s failed", merr.ID, merr.Name), err, fields...)
}
