package cli

import (
	actx "go.hackfix.me/coop/app/context"
	aerrors "go.hackfix.me/coop/app/errors"
	"go.hackfix.me/coop/db/migrator"
)

// The Init command writes the configuration file with the values given via
// CLI flags, and creates the migration history table.
type Init struct {
	Force bool `kong:"help='Overwrite an existing configuration file.'"`
}

// Run the init command.
func (c *Init) Run(appCtx *actx.Context) error {
	cfg := appCtx.Config
	exists, err := cfg.Exists()
	if err != nil {
		return err
	}
	if exists && !c.Force {
		return aerrors.NewWith("configuration file already exists; use --force to overwrite it",
			"path", cfg.Path())
	}

	if err = cfg.Save(); err != nil {
		return err
	}

	m, err := newMigrator(appCtx)
	if err != nil {
		return err
	}
	err = m.Init(appCtx.Ctx)
	var applied []migrator.MigrationRecord
	if err == nil {
		applied, err = m.Applied(appCtx.Ctx)
	}
	if err != nil {
		return aerrors.WithCause(aerrors.NewWith("failed initializing database"), err,
			"driver", appCtx.DB.Driver())
	}

	appCtx.Logger.Info("initialized", "config_file", cfg.Path(),
		"driver", appCtx.DB.Driver(), "applied_migrations", len(applied))

	return nil
}
