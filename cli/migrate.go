package cli

import (
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"github.com/mandelsoft/vfs/pkg/vfs"

	actx "go.hackfix.me/coop/app/context"
	aerrors "go.hackfix.me/coop/app/errors"
	"go.hackfix.me/coop/db"
	"go.hackfix.me/coop/db/migrator"
)

// Migrate groups the migration commands.
type Migrate struct {
	Up     MigrateUp     `kong:"cmd,help='Apply pending migrations.'"`
	Down   MigrateDown   `kong:"cmd,help='Reverse applied migrations.'"`
	Status MigrateStatus `kong:"cmd,help='Show the state of every migration.'"`
	Unlock MigrateUnlock `kong:"cmd,help='Release a migration lock left behind by a failed run.'"`
	New    MigrateNew    `kong:"cmd,help='Create a new migration file.'"`
}

// MigrateUp applies pending migrations.
type MigrateUp struct {
	To     string `kong:"help='ID of the last migration to apply. Defaults to the latest one.'"`
	DryRun bool   `kong:"help='Print the SQL statements that would be executed, without committing them.'"`
}

// Run the migrate up command.
func (c *MigrateUp) Run(appCtx *actx.Context) error {
	m, err := newMigrator(appCtx)
	if err != nil {
		return err
	}

	if c.DryRun {
		steps, err := m.Script(appCtx.Ctx, migrator.MigrationUp, c.To)
		if err != nil {
			return err
		}
		return writeScript(appCtx.Stdout, steps)
	}

	applied, err := m.Upgrade(appCtx.Ctx, c.To)
	if err != nil {
		return err
	}
	if len(applied) > 0 {
		last := applied[len(applied)-1]
		appCtx.Logger.Info("schema upgraded", "applied", len(applied), "migration_id", last.ID)
	}

	return nil
}

// MigrateDown reverses applied migrations.
type MigrateDown struct {
	To     string `kong:"required,help='ID of the migration to return to. Use 0 to reverse all migrations.'"`
	DryRun bool   `kong:"help='Print the SQL statements that would be executed, without committing them.'"`
}

// Run the migrate down command.
func (c *MigrateDown) Run(appCtx *actx.Context) error {
	m, err := newMigrator(appCtx)
	if err != nil {
		return err
	}

	if c.DryRun {
		steps, err := m.Script(appCtx.Ctx, migrator.MigrationDown, c.To)
		if err != nil {
			return err
		}
		return writeScript(appCtx.Stdout, steps)
	}

	reversed, err := m.Downgrade(appCtx.Ctx, c.To)
	if err != nil {
		return err
	}
	if len(reversed) > 0 {
		appCtx.Logger.Info("schema downgraded", "reversed", len(reversed), "migration_id", c.To)
	}

	return nil
}

// MigrateStatus shows the state of every known and applied migration.
type MigrateStatus struct{}

// Run the migrate status command.
func (c *MigrateStatus) Run(appCtx *actx.Context) error {
	m, err := newMigrator(appCtx)
	if err != nil {
		return err
	}

	status, err := m.Status(appCtx.Ctx)
	if err != nil {
		return err
	}

	data := make([][]string, 0, len(status))
	for _, st := range status {
		appliedAt := ""
		if st.AppliedAt.Valid {
			appliedAt = st.AppliedAt.V.Format(time.DateTime)
		}
		reversible := "no"
		if st.Reversible {
			reversible = "yes"
		}
		if st.State == migrator.StateUnknown {
			reversible = "-"
		}
		data = append(data, []string{st.ID, st.Name, string(st.State), appliedAt, reversible})
	}

	header := []string{"ID", "Name", "State", "Applied At", "Reversible"}
	if err = renderTable(header, data, appCtx.Stdout); err != nil {
		return fmt.Errorf("failed rendering migration status: %w", err)
	}

	return nil
}

// MigrateUnlock forcibly releases the migration lock.
type MigrateUnlock struct{}

// Run the migrate unlock command.
func (c *MigrateUnlock) Run(appCtx *actx.Context) error {
	m, err := newMigrator(appCtx)
	if err != nil {
		return err
	}

	return m.Unlock(appCtx.Ctx)
}

// MigrateNew creates an empty migration file in the migrations directory.
type MigrateNew struct {
	Name string `arg:"" help:"Name of the migration, e.g. AddCycleYear."`
}

const newMigrationTmpl = `# Migration %s_%s
#
# List the schema operations to apply under "up". Operations that drop or
# alter objects need an "old" definition to be reversible. Add a "down" list
# only to override the derived rollback.
up:
  - add_column:
      table: table_name
      column: {name: column_name, type: text, nullable: true}
`

// Run the migrate new command.
func (c *MigrateNew) Run(appCtx *actx.Context) error {
	if !appCtx.Config.Migrations.Dir.Valid {
		return errors.New("no migrations directory configured; set it with --migrations-dir")
	}
	dir := appCtx.Config.Migrations.Dir.V

	id := appCtx.TimeNow().UTC().Format("20060102150405")
	fileName := fmt.Sprintf("%s_%s.yaml", id, c.Name)
	if _, _, err := migrator.ParseFileName(fileName); err != nil {
		return aerrors.WithCause(errors.New("invalid migration name"), err, "name", c.Name)
	}

	if err := appCtx.FS.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed creating migrations directory: %w", err)
	}
	fpath := path.Join(dir, fileName)
	if ok, err := vfs.Exists(appCtx.FS, fpath); err != nil {
		return fmt.Errorf("failed checking migration file: %w", err)
	} else if ok {
		return aerrors.NewWith("migration file already exists", "path", fpath)
	}

	content := fmt.Sprintf(newMigrationTmpl, id, c.Name)
	if err := vfs.WriteFile(appCtx.FS, fpath, []byte(content), 0o644); err != nil {
		return fmt.Errorf("failed writing migration file: %w", err)
	}

	appCtx.Logger.Info("created migration file", "path", fpath)
	fmt.Fprintln(appCtx.Stdout, fpath)

	return nil
}

// loadMigrations returns the migrations in the configured directory, or the
// built-in ones.
func loadMigrations(appCtx *actx.Context) ([]*migrator.Migration, error) {
	if appCtx.Config.Migrations.Dir.Valid {
		return migrator.LoadMigrationsDir(appCtx.FS, appCtx.Config.Migrations.Dir.V)
	}
	return db.Migrations()
}

func newMigrator(appCtx *actx.Context) (*migrator.Migrator, error) {
	migrations, err := loadMigrations(appCtx)
	if err != nil {
		return nil, err
	}

	opts := append(appCtx.Config.MigratorOptions(), migrator.WithLogger(appCtx.Logger))

	return appCtx.DB.Migrator(migrations, opts...)
}

func writeScript(w io.Writer, steps []migrator.ScriptStep) error {
	var sb strings.Builder
	for _, step := range steps {
		fmt.Fprintf(&sb, "-- %s (%s)\n", step.Migration, step.Direction)
		for _, stmt := range step.Statements {
			fmt.Fprintf(&sb, "%s;\n", stmt)
		}
		sb.WriteString("\n")
	}
	_, err := io.WriteString(w, sb.String())
	return err
}
