package cli

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/alecthomas/kong"

	"go.hackfix.me/coop/app/config"
	actx "go.hackfix.me/coop/app/context"
	"go.hackfix.me/coop/db/types"
)

// CLI is the command line interface of coop.
type CLI struct {
	Init    Init    `kong:"cmd,help='Create the configuration file and the migration history table.'"`
	Migrate Migrate `kong:"cmd,help='Apply, reverse and inspect schema migrations.'"`
	Schema  Schema  `kong:"cmd,help='Print the live database schema.'"`

	Log struct {
		Level slog.Level `enum:"DEBUG,INFO,WARN,ERROR" default:"INFO" help:"Set the app logging level."`
	} `embed:"" prefix:"log-"`
	// NOTE: kong.ConfigFlag isn't used, since the configuration is managed
	// independently from the CLI, and can be written by the init command.
	ConfigFile string `kong:"default='${configFile}',help='Path to the configuration file.'"`
	Database   struct {
		Driver string `kong:"help='Database driver. Valid values: postgres, sqlite.'"`
		DSN    string `kong:"name='dsn',help='Database connection string.'"`
	} `embed:"" prefix:"database-"`
	MigrationsDir string           `kong:"help='Load migrations from this directory instead of the built-in ones.'"`
	Version       kong.VersionFlag `kong:"help='Output version and exit.'"`

	kong *kong.Kong
	kctx *kong.Context
}

// New initializes the command-line interface.
func New(name, configFilePath, version string) (*CLI, error) {
	c := &CLI{}
	kparser, err := kong.New(c,
		kong.Name(name),
		kong.UsageOnError(),
		kong.DefaultEnvars(strings.ToUpper(name)),
		kong.ConfigureHelp(kong.HelpOptions{
			Compact:             true,
			Summary:             true,
			NoExpandSubcommands: true,
		}),
		kong.Vars{
			"configFile": configFilePath,
			"version":    version,
		},
	)
	if err != nil {
		return nil, fmt.Errorf("failed creating the Kong parser: %w", err)
	}

	c.kong = kparser

	return c, nil
}

// Execute starts the command execution. Parse must be called before this method.
func (c *CLI) Execute(appCtx *actx.Context) error {
	if c.kctx == nil {
		panic("the CLI wasn't initialized properly")
	}
	c.kong.Stdout = appCtx.Stdout
	c.kong.Stderr = appCtx.Stderr

	//nolint:wrapcheck // This is fine.
	return c.kctx.Run(appCtx)
}

// Parse the given command line arguments. This method must be called before
// Execute.
func (c *CLI) Parse(args []string) error {
	kctx, err := c.kong.Parse(args)
	if err != nil {
		return fmt.Errorf("failed parsing CLI arguments: %w", err)
	}
	c.kctx = kctx

	return nil
}

// Command returns the full path of the executed command.
func (c *CLI) Command() string {
	if c.kctx == nil {
		panic("the CLI wasn't initialized properly")
	}
	cmdPath := []string{}
	for _, p := range c.kctx.Path {
		if p.Command != nil {
			cmdPath = append(cmdPath, p.Command.Name)
		}
	}

	return strings.Join(cmdPath, " ")
}

// NeedsDB reports whether the executed command uses the database.
func (c *CLI) NeedsDB() bool {
	return c.Command() != "migrate new"
}

// ApplyConfig overrides configuration values with the ones set via CLI flags
// or environment variables.
func (c *CLI) ApplyConfig(cfg *config.Config) error {
	if c.Database.Driver != "" {
		drv, err := types.DriverFromString(c.Database.Driver)
		if err != nil {
			return err
		}
		cfg.Database.Driver.V, cfg.Database.Driver.Valid = drv, true
	}
	if c.Database.DSN != "" {
		cfg.Database.DSN.V, cfg.Database.DSN.Valid = c.Database.DSN, true
	}
	if c.MigrationsDir != "" {
		cfg.Migrations.Dir.V, cfg.Migrations.Dir.Valid = c.MigrationsDir, true
	}

	return nil
}
