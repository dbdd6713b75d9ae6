package types

import (
	"errors"
	"fmt"

	"github.com/glebarez/go-sqlite"
	"github.com/jackc/pgx/v5/pgconn"
	sqlite3 "modernc.org/sqlite/lib"
)

// Postgres SQLSTATE codes this package recognizes.
const (
	pgUniqueViolation   = "23505"
	pgDuplicateColumn   = "42701"
	pgDuplicateTable    = "42P07"
	pgDuplicateObject   = "42710"
	pgUndefinedColumn   = "42703"
	pgUndefinedTable    = "42P01"
	pgUndefinedObject   = "42704"
	pgLockNotAvailable  = "55P03"
	pgQueryCanceled     = "57014"
	pgSerializationFail = "40001"
)

// DuplicateError represents an error when attempting to create a record or
// schema object that already exists.
type DuplicateError struct {
	ModelName string
	ID        string
	Err       error
}

func (e DuplicateError) Error() string {
	return fmt.Sprintf("%s with %s already exists", e.ModelName, e.ID)
}

// Unwrap returns the underlying error for error unwrapping.
func (e DuplicateError) Unwrap() error {
	return e.Err
}

// InvalidInputError represents an error due to invalid input data.
type InvalidInputError struct {
	Msg string
}

// Error returns a string representation of the error.
func (e InvalidInputError) Error() string {
	return e.Msg
}

// LoadError represents an error that occurred while loading data from the database.
type LoadError struct {
	ModelName string
	Msg       string
	Err       error
}

// Error returns a string representation of the error.
func (e LoadError) Error() string {
	msg := e.Msg
	if e.Err != nil {
		msg = e.Err.Error()
	}
	return fmt.Sprintf("failed loading %s: %s", e.ModelName, msg)
}

// Unwrap returns the underlying error for error unwrapping.
func (e LoadError) Unwrap() error {
	return e.Err
}

// NoResultError represents an error when a database object or record doesn't
// exist.
type NoResultError struct {
	ModelName string
	ID        string
	Err       error
}

// Error returns a string representation of the error.
func (e NoResultError) Error() string {
	return fmt.Sprintf("%s with %s doesn't exist", e.ModelName, e.ID)
}

// Unwrap returns the underlying error for error unwrapping.
func (e NoResultError) Unwrap() error {
	return e.Err
}

// LockError represents a failure caused by lock contention in the store, such
// as a lock or statement timeout.
type LockError struct {
	Err error
}

// Error returns a string representation of the error.
func (e LockError) Error() string {
	return fmt.Sprintf("lock not available: %s", e.Err)
}

// Unwrap returns the underlying error for error unwrapping.
func (e LockError) Unwrap() error {
	return e.Err
}

// ScanError represents an error that occurred while scanning database results
// into Go types.
type ScanError struct {
	ModelName string
	Err       error
}

// Error returns a string representation of the error.
func (e ScanError) Error() string {
	return fmt.Sprintf("failed scanning %s data: %s", e.ModelName, e.Err)
}

// Unwrap returns the underlying error for error unwrapping.
func (e ScanError) Unwrap() error {
	return e.Err
}

// Err converts an expected error returned by SQLite or Postgres into a
// friendly DB error of one of the types defined above. Errors it doesn't
// recognize are returned unchanged.
func Err(modelName, id string, err error) error {
	if err == nil {
		return nil
	}

	var sqlErr *sqlite.Error
	if errors.As(err, &sqlErr) {
		switch sqlErr.Code() {
		case sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
			return &DuplicateError{ModelName: modelName, ID: id, Err: err}
		case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED, sqlite3.SQLITE_LOCKED_SHAREDCACHE:
			return &LockError{Err: err}
		}
		return err
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgUniqueViolation, pgDuplicateColumn, pgDuplicateTable, pgDuplicateObject:
			return &DuplicateError{ModelName: modelName, ID: id, Err: err}
		case pgUndefinedColumn, pgUndefinedTable, pgUndefinedObject:
			return &NoResultError{ModelName: modelName, ID: id, Err: err}
		case pgLockNotAvailable, pgQueryCanceled, pgSerializationFail:
			return &LockError{Err: err}
		}
	}

	return err
}
