package app

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/mandelsoft/vfs/pkg/memoryfs"

	"go.hackfix.me/coop/app/config"
	actx "go.hackfix.me/coop/app/context"
	aerrors "go.hackfix.me/coop/app/errors"
	"go.hackfix.me/coop/cli"
	"go.hackfix.me/coop/db"
	"go.hackfix.me/coop/db/types"
)

// App is the application.
type App struct {
	name    string
	ctx     *actx.Context
	cli     *cli.CLI
	dataDir string
	// the logging level is set via the CLI, if the app was initialized with the
	// WithLogger option.
	logLevel *slog.LevelVar
}

// New initializes a new application. configFilePath is the default path of
// the configuration file, and dataDir the directory where the default SQLite
// database is created.
func New(name, configFilePath, dataDir string, opts ...Option) (*App, error) {
	version, err := actx.GetVersion()
	if err != nil {
		return nil, err
	}

	defaultCtx := &actx.Context{
		Ctx:     context.Background(),
		FS:      memoryfs.New(),
		Logger:  slog.Default(),
		TimeNow: time.Now,
		Version: version,
	}
	app := &App{name: name, ctx: defaultCtx, dataDir: dataDir}

	for _, opt := range opts {
		opt(app)
	}

	ver := fmt.Sprintf("%s %s", app.name, app.ctx.Version.String())
	app.cli, err = cli.New(app.name, configFilePath, ver)
	if err != nil {
		return nil, err
	}

	return app, nil
}

// Run initializes the application environment and starts execution of the
// application.
func (app *App) Run(args []string) error {
	if err := app.cli.Parse(args); err != nil {
		return err
	}

	if app.logLevel != nil {
		app.logLevel.Set(app.cli.Log.Level)
		slog.SetLogLoggerLevel(app.cli.Log.Level)
	}

	cfg := config.NewConfig(app.ctx.FS, app.cli.ConfigFile)
	if err := cfg.Load(); err != nil {
		return err
	}
	if err := app.cli.ApplyConfig(cfg); err != nil {
		return err
	}
	cfg.SetDefaults()
	app.ctx.Config = cfg

	if app.ctx.DB == nil && app.cli.NeedsDB() {
		d, err := app.openDB(cfg)
		if err != nil {
			return err
		}
		defer func() {
			if err := d.Close(); err != nil {
				app.ctx.Logger.Error("failed closing database", "error", err)
			}
			app.ctx.DB = nil
		}()
		app.ctx.DB = d
	}

	if err := app.cli.Execute(app.ctx); err != nil {
		return aerrors.FromMigration(err)
	}

	return nil
}

func (app *App) openDB(cfg *config.Config) (*db.DB, error) {
	driver := cfg.Database.Driver.V
	dsn := cfg.Database.DSN.V
	if !cfg.Database.DSN.Valid {
		if driver != types.DriverSQLite {
			return nil, aerrors.NewWith("no database DSN configured", "driver", driver)
		}
		if err := app.ctx.FS.MkdirAll(app.dataDir, 0o700); err != nil {
			return nil, fmt.Errorf("failed creating data directory: %w", err)
		}
		dsn = filepath.Join(app.dataDir, "coop.db")
	}

	d, err := db.Open(app.ctx.Ctx, driver, dsn, app.ctx.TimeNow)
	if err != nil {
		return nil, err
	}
	app.ctx.Logger.Debug("opened database", "driver", driver)

	return d, nil
}
