package migrator

import (
	"errors"
	"fmt"
)

// Error kinds. Every failure returned by a Migrator run wraps exactly one of
// these, so callers can classify it with errors.Is.
var (
	// ErrSchemaConflict means that the live schema already matches or
	// contradicts the state an operation wants to produce.
	ErrSchemaConflict = errors.New("schema conflict")
	// ErrIrreversibleOperation means that a rollback can't restore the prior
	// schema exactly, and requires manual intervention.
	ErrIrreversibleOperation = errors.New("irreversible operation")
	// ErrTransactionFailure means that the store rejected a statement or the
	// transaction itself.
	ErrTransactionFailure = errors.New("transaction failure")
)

// Other errors returned before any migration runs.
var (
	ErrUnknownMigration = errors.New("unknown migration")
	ErrInvalidTarget    = errors.New("invalid target")
	ErrLockTimeout      = errors.New("timed out waiting for the migration lock")
)

// OperationError describes why a single schema operation can't be applied or
// reversed.
type OperationError struct {
	Op   Operation
	Kind error
	Msg  string
	// Err is the error reported by the store, if any.
	Err error
}

// Error implements the error interface.
func (e *OperationError) Error() string {
	msg := e.Msg
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %s", msg, e.Err)
	}
	if e.Op == nil {
		return fmt.Sprintf("%s: %s", e.Kind, msg)
	}
	return fmt.Sprintf("%s: %s: %s", e.Kind, e.Op, msg)
}

// Unwrap returns the error kind and the store error.
func (e *OperationError) Unwrap() []error {
	errs := []error{e.Kind}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}

func conflict(op Operation, format string, args ...any) *OperationError {
	return &OperationError{Op: op, Kind: ErrSchemaConflict, Msg: fmt.Sprintf(format, args...)}
}

func irreversible(op Operation, format string, args ...any) *OperationError {
	return &OperationError{Op: op, Kind: ErrIrreversibleOperation, Msg: fmt.Sprintf(format, args...)}
}

// MigrationError is returned when applying or reversing a migration fails. It
// identifies the migration, and wraps both the error kind and the underlying
// error reported by the store.
type MigrationError struct {
	ID        string
	Name      string
	Direction Direction
	// Op is the operation that failed, if the failure is tied to one.
	Op   Operation
	Kind error
	Err  error
}

// Error implements the error interface.
func (e *MigrationError) Error() string {
	return fmt.Sprintf("failed %s migration %s_%s: %s", e.Direction.verb(), e.ID, e.Name, e.Err)
}

// Unwrap allows errors.Is and errors.As to work with both the error kind and
// the underlying error.
func (e *MigrationError) Unwrap() []error {
	errs := []error{e.Kind}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}

// newMigrationError classifies err and wraps it in a MigrationError. Errors
// that don't already carry a kind are treated as transaction failures.
func newMigrationError(mig *Migration, dir Direction, err error) *MigrationError {
	merr := &MigrationError{ID: mig.ID, Name: mig.Name, Direction: dir, Err: err}

	var opErr *OperationError
	if errors.As(err, &opErr) {
		merr.Op = opErr.Op
	}

	switch {
	case errors.Is(err, ErrSchemaConflict):
		merr.Kind = ErrSchemaConflict
	case errors.Is(err, ErrIrreversibleOperation):
		merr.Kind = ErrIrreversibleOperation
	default:
		merr.Kind = ErrTransactionFailure
	}

	return merr
}
