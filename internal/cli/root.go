// Package cli implements the sealdb administration command.
package cli

import (
	"context"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/tuannm99/sealdb/internal/config"
	"github.com/tuannm99/sealdb/internal/engine"
	seallog "github.com/tuannm99/sealdb/internal/log"
)

const DefaultPasswordEnv = "SEALDB_PASSWORD"

type globalOptions struct {
	configPath  string
	passwordEnv string

	cfg    *config.Config
	logger *slog.Logger
	closer io.Closer
}

func NewRootCommand(out io.Writer) *cobra.Command {
	g := &globalOptions{}
	cmd := &cobra.Command{
		Use:           "sealdb",
		Short:         "Inspect and maintain encrypted sealdb databases",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return g.setup(cmd.ErrOrStderr())
		},
		PersistentPostRunE: func(*cobra.Command, []string) error {
			if g.closer != nil {
				return g.closer.Close()
			}
			return nil
		},
	}
	cmd.SetOut(out)
	cmd.SetErr(out)
	cmd.PersistentFlags().StringVar(&g.configPath, "config", "", "YAML config file")
	cmd.PersistentFlags().StringVar(&g.passwordEnv, "password-env", DefaultPasswordEnv, "environment variable holding the password")

	cmd.AddCommand(
		newInitCommand(g),
		newInfoCommand(g),
		newVerifyCommand(g),
		newCheckpointCommand(g),
		newSchemaVersionCommand(g),
		newTablesCommand(g),
		newDumpCommand(g),
		newPageCommand(g),
	)
	return cmd
}

// Execute runs the command line and maps failures to exit codes.
func Execute(ctx context.Context, out io.Writer, args []string) error {
	cmd := NewRootCommand(out)
	cmd.SetArgs(args)
	return mapCommandError(cmd.ExecuteContext(ctx))
}

func (g *globalOptions) setup(stderr io.Writer) error {
	cfg, err := config.Load(g.configPath)
	if err != nil {
		return err
	}
	logger, closer, err := seallog.New(seallog.Options{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Rotation: seallog.RotationConfig{
			File:      cfg.Logging.File,
			MaxSizeMB: cfg.Logging.MaxSizeMB,
			MaxFiles:  cfg.Logging.MaxFiles,
		},
		Stderr: stderr,
	})
	if err != nil {
		return usageErrorf("logging: %v", err)
	}
	g.cfg, g.logger, g.closer = cfg, logger, closer
	return nil
}

func (g *globalOptions) password() ([]byte, error) {
	pw := os.Getenv(g.passwordEnv)
	if pw == "" {
		return nil, usageErrorf("password not set: export %s", g.passwordEnv)
	}
	return []byte(pw), nil
}

func (g *globalOptions) open(path string, mode engine.Mode) (*engine.Database, error) {
	pw, err := g.password()
	if err != nil {
		return nil, err
	}
	opts := engine.OptionsFromConfig(g.cfg)
	opts.Logger = g.logger
	return engine.Open(path, pw, mode, opts)
}

// withDB opens an existing database for the duration of fn.
func (g *globalOptions) withDB(path string, fn func(db *engine.Database) error) (err error) {
	db, err := g.open(path, engine.OpenExisting)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := db.Close(); err == nil {
			err = cerr
		}
	}()
	return fn(db)
}
