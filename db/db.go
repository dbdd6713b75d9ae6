package db

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"math"
	"strings"
	"time"

	//nolint:revive,nolintlint // Idiomatic way of loading DB libraries.
	_ "github.com/glebarez/go-sqlite"
	//nolint:revive,nolintlint // Idiomatic way of loading DB libraries.
	_ "github.com/jackc/pgx/v5/stdlib"

	"go.hackfix.me/coop/db/dialect/postgres"
	"go.hackfix.me/coop/db/dialect/sqlite"
	"go.hackfix.me/coop/db/migrator"
	"go.hackfix.me/coop/db/types"
)

//go:embed migrations/*.yaml
var migrationsFS embed.FS

// DB wraps sql.DB with the dialect of the underlying store.
type DB struct {
	*sql.DB
	driver  types.Driver
	dialect migrator.Dialect
	timeNow func() time.Time
}

var _ types.Querier = (*DB)(nil)

// Open opens a connection to the database at dsn using the given driver, and
// verifies that it's reachable.
func Open(ctx context.Context, driver types.Driver, dsn string, timeNow func() time.Time) (*DB, error) {
	var (
		sqlDB   *sql.DB
		dialect migrator.Dialect
		err     error
	)
	switch driver {
	case types.DriverSQLite:
		sqlDB, err = sql.Open("sqlite", dsn)
		if err != nil {
			return nil, fmt.Errorf("failed opening SQLite database: %w", err)
		}
		if strings.Contains(dsn, "mode=memory") || strings.Contains(dsn, ":memory:") {
			// Keep the in-memory database alive between connections.
			sqlDB.SetMaxIdleConns(10)
			sqlDB.SetConnMaxLifetime(time.Duration(math.Inf(1)))
		}
		dialect = sqlite.New()
	case types.DriverPostgres:
		sqlDB, err = sql.Open("pgx", dsn)
		if err != nil {
			return nil, fmt.Errorf("failed opening PostgreSQL database: %w", err)
		}
		dialect = postgres.New()
	default:
		return nil, types.InvalidInputError{Msg: fmt.Sprintf("unsupported database driver '%s'", driver)}
	}

	if err = sqlDB.PingContext(ctx); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("failed connecting to %s database: %w", driver, err)
	}

	if driver == types.DriverSQLite {
		if _, err = sqlDB.ExecContext(ctx, `PRAGMA foreign_keys = ON;`); err != nil {
			_ = sqlDB.Close()
			return nil, fmt.Errorf("failed enabling foreign key enforcement: %w", err)
		}
	}

	return &DB{DB: sqlDB, driver: driver, dialect: dialect, timeNow: timeNow}, nil
}

// Driver returns the database driver.
func (d *DB) Driver() types.Driver {
	return d.driver
}

// Dialect returns the migrator dialect of the database.
func (d *DB) Dialect() migrator.Dialect {
	return d.dialect
}

// TimeNow returns the current system time.
func (d *DB) TimeNow() time.Time {
	return d.timeNow()
}

// Migrator returns a Migrator for this database.
func (d *DB) Migrator(migrations []*migrator.Migration, opts ...migrator.Option) (*migrator.Migrator, error) {
	opts = append([]migrator.Option{migrator.WithTimeNow(d.timeNow)}, opts...)
	return migrator.New(d.DB, d.dialect, migrations, opts...)
}

// Migrations returns the migrations shipped with the application.
func Migrations() ([]*migrator.Migration, error) {
	migrationsDir, err := fs.Sub(migrationsFS, "migrations")
	if err != nil {
		return nil, fmt.Errorf("failed getting migrations directory: %w", err)
	}
	return migrator.LoadMigrations(migrationsDir)
}
