package config

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"path/filepath"
	"time"

	"github.com/mandelsoft/vfs/pkg/vfs"

	"go.hackfix.me/coop/db/migrator"
	"go.hackfix.me/coop/db/types"
	"go.hackfix.me/coop/xtime"
)

// Config represents the application configuration, backed by a filesystem for
// persistence.
type Config struct {
	Database   Database
	Migrations Migrations

	fs   vfs.FileSystem
	path string
}

// NewConfig creates a new Config instance with the specified filesystem
// and configuration file path.
func NewConfig(fs vfs.FileSystem, path string) *Config {
	return &Config{fs: fs, path: path}
}

// Exists reports whether the configuration file exists.
func (c *Config) Exists() (bool, error) {
	ok, err := vfs.Exists(c.fs, c.path)
	if err != nil {
		return false, fmt.Errorf("failed checking configuration file: %w", err)
	}
	return ok, nil
}

// Load reads and parses the configuration file from the filesystem.
// If the file doesn't exist, it initializes with an empty configuration.
func (c *Config) Load() error {
	configJSON, err := vfs.ReadFile(c.fs, c.path)
	if err != nil && !vfs.IsErrNotExist(err) {
		return fmt.Errorf("failed reading configuration file: %w", err)
	}

	if len(configJSON) == 0 {
		configJSON = []byte("{}")
	}

	if err = json.Unmarshal(configJSON, c); err != nil {
		return fmt.Errorf("failed parsing configuration file: %w", err)
	}

	return nil
}

// Path returns the filesystem path where the configuration is stored.
func (c *Config) Path() string {
	return c.path
}

// Save writes the current configuration to the filesystem as JSON.
func (c *Config) Save() error {
	if err := c.fs.MkdirAll(filepath.Dir(c.path), 0o755); err != nil {
		return fmt.Errorf("failed creating configuration directory: %w", err)
	}
	configJSON, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed serializing configuration data: %w", err)
	}
	if err = vfs.WriteFile(c.fs, c.path, configJSON, 0o644); err != nil {
		return fmt.Errorf("failed writing configuration file: %w", err)
	}

	return nil
}

// Database defines the connection to the migrated database.
type Database struct {
	// Driver is the database driver, either "postgres" or "sqlite".
	Driver sql.Null[types.Driver] `json:"driver"`
	// DSN is the driver-specific connection string.
	DSN sql.Null[string] `json:"dsn"`
	// Schema is the schema unqualified operations and the history table live in.
	// It's ignored by SQLite.
	Schema sql.Null[string] `json:"schema"`
	// HistoryTable is the name of the table that records applied migrations.
	HistoryTable sql.Null[string] `json:"history_table"`
}

// Migrations defines how migrations are loaded and run.
type Migrations struct {
	// Dir is a directory to load migration files from, instead of the ones
	// embedded in the binary.
	Dir sql.Null[string] `json:"dir"`
	// LockTimeout is the maximum time to wait for another run to finish.
	// It serializes from/to xtime.Duration string values.
	LockTimeout sql.Null[time.Duration] `json:"lock_timeout"`
}

type cfgWrapper struct {
	Database   dbCfgWrapper  `json:"database"`
	Migrations migCfgWrapper `json:"migrations"`
}
type dbCfgWrapper struct {
	Driver       string `json:"driver,omitempty"`
	DSN          string `json:"dsn,omitempty"`
	Schema       string `json:"schema,omitempty"`
	HistoryTable string `json:"history_table,omitempty"`
}
type migCfgWrapper struct {
	Dir         string `json:"dir,omitempty"`
	LockTimeout string `json:"lock_timeout,omitempty"`
}

// MarshalJSON implements custom JSON marshaling to convert sql.Null values
// to their underlying types, omitting invalid/null fields from the output.
func (c Config) MarshalJSON() ([]byte, error) {
	w := cfgWrapper{}

	if c.Database.Driver.Valid {
		w.Database.Driver = string(c.Database.Driver.V)
	}
	if c.Database.DSN.Valid {
		w.Database.DSN = c.Database.DSN.V
	}
	if c.Database.Schema.Valid {
		w.Database.Schema = c.Database.Schema.V
	}
	if c.Database.HistoryTable.Valid {
		w.Database.HistoryTable = c.Database.HistoryTable.V
	}

	if c.Migrations.Dir.Valid {
		w.Migrations.Dir = c.Migrations.Dir.V
	}
	if c.Migrations.LockTimeout.Valid {
		w.Migrations.LockTimeout = xtime.FormatDuration(c.Migrations.LockTimeout.V, time.Second)
	}

	//nolint:wrapcheck // This is fine.
	return json.Marshal(w)
}

// UnmarshalJSON implements custom JSON unmarshaling to convert plain values
// into sql.Null types and parse duration strings into time.Duration values.
func (c *Config) UnmarshalJSON(data []byte) error {
	var w cfgWrapper
	if err := json.Unmarshal(data, &w); err != nil {
		//nolint:wrapcheck // This is fine.
		return err
	}

	if w.Database.Driver != "" {
		drv, err := types.DriverFromString(w.Database.Driver)
		if err != nil {
			return err
		}
		c.Database.Driver = sql.Null[types.Driver]{V: drv, Valid: true}
	}
	if w.Database.DSN != "" {
		c.Database.DSN = sql.Null[string]{V: w.Database.DSN, Valid: true}
	}
	if w.Database.Schema != "" {
		c.Database.Schema = sql.Null[string]{V: w.Database.Schema, Valid: true}
	}
	if w.Database.HistoryTable != "" {
		c.Database.HistoryTable = sql.Null[string]{V: w.Database.HistoryTable, Valid: true}
	}

	if w.Migrations.Dir != "" {
		c.Migrations.Dir = sql.Null[string]{V: w.Migrations.Dir, Valid: true}
	}
	if w.Migrations.LockTimeout != "" {
		dur, err := xtime.ParsePositive(w.Migrations.LockTimeout)
		if err != nil {
			return fmt.Errorf("failed parsing migrations lock timeout: %w", err)
		}
		c.Migrations.LockTimeout = sql.Null[time.Duration]{V: dur, Valid: true}
	}

	return nil
}

// SetDefaults sets default configuration values if they weren't set already.
func (c *Config) SetDefaults() {
	if !c.Database.Driver.Valid {
		c.Database.Driver = sql.Null[types.Driver]{V: types.DriverSQLite, Valid: true}
	}
	if !c.Database.Schema.Valid {
		c.Database.Schema = sql.Null[string]{V: migrator.DefaultSchema, Valid: true}
	}
	if !c.Database.HistoryTable.Valid {
		c.Database.HistoryTable = sql.Null[string]{V: migrator.DefaultHistoryTable, Valid: true}
	}
	if !c.Migrations.LockTimeout.Valid {
		c.Migrations.LockTimeout = sql.Null[time.Duration]{V: migrator.DefaultLockTimeout, Valid: true}
	}
}

// MigratorOptions returns the migrator options for the configured values.
func (c *Config) MigratorOptions() []migrator.Option {
	var opts []migrator.Option
	if c.Database.Schema.Valid {
		opts = append(opts, migrator.WithSchema(c.Database.Schema.V))
	}
	if c.Database.HistoryTable.Valid {
		opts = append(opts, migrator.WithHistoryTable(c.Database.HistoryTable.V))
	}
	if c.Migrations.LockTimeout.Valid {
		opts = append(opts, migrator.WithLockTimeout(c.Migrations.LockTimeout.V))
	}
	return opts
}
