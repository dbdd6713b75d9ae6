package migrator

import (
	"errors"
	"log/slog"
	"time"
)

// Option is a function that allows configuring the Migrator.
type Option func(*Migrator) error

// WithSchema sets the default schema of operations that don't name one, and
// the schema of the history table.
func WithSchema(schema string) Option {
	return func(m *Migrator) error {
		if schema == "" {
			return errors.New("schema name must not be empty")
		}
		m.schema = schema
		return nil
	}
}

// WithHistoryTable sets the name of the migration history table.
func WithHistoryTable(table string) Option {
	return func(m *Migrator) error {
		if table == "" {
			return errors.New("history table name must not be empty")
		}
		m.table = table
		return nil
	}
}

// WithLockTimeout sets the maximum time to wait for the migration lock.
func WithLockTimeout(timeout time.Duration) Option {
	return func(m *Migrator) error {
		if timeout <= 0 {
			return errors.New("lock timeout must be positive")
		}
		m.lockTimeout = timeout
		return nil
	}
}

// WithLogger sets the logger used by the Migrator.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Migrator) error {
		m.logger = logger.With("component", "migrator")
		return nil
	}
}

// WithTimeNow sets the function used to timestamp applied migrations.
func WithTimeNow(timeNow func() time.Time) Option {
	return func(m *Migrator) error {
		m.timeNow = timeNow
		return nil
	}
}

// DefaultOptions returns the default Migrator options.
func DefaultOptions() []Option {
	return []Option{
		WithSchema(DefaultSchema),
		WithHistoryTable(DefaultHistoryTable),
		WithLockTimeout(DefaultLockTimeout),
		WithLogger(slog.Default()),
		WithTimeNow(time.Now),
	}
}
