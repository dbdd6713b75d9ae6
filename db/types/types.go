package types

import (
	"context"
	"database/sql"
)

// Querier exposes only methods for running SQL queries. It is satisfied by
// *sql.DB, *sql.Conn and *sql.Tx, so schema changes can be issued inside or
// outside of a transaction.
type Querier interface {
	ExecContext(ctx context.Context, sql string, arguments ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Driver is a supported database driver.
type Driver string

// All supported database drivers.
const (
	DriverPostgres Driver = "postgres"
	DriverSQLite   Driver = "sqlite"
)

// DriverFromString returns a valid Driver for the given string, or an error if
// the value is invalid.
func DriverFromString(val string) (Driver, error) {
	switch Driver(val) {
	case DriverPostgres, "pgx", "postgresql":
		return DriverPostgres, nil
	case DriverSQLite, "sqlite3":
		return DriverSQLite, nil
	}
	return "", InvalidInputError{Msg: "unsupported database driver '" + val + "'"}
}
