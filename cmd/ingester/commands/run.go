// Package commands implements the ingester subcommands.
package commands

import (
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/file-ingester/internal/app"
	"github.com/file-ingester/internal/config"
	"github.com/file-ingester/internal/logging"
	"github.com/file-ingester/internal/runner"
)

type runOptions struct {
	dryRun    bool
	configDir string
}

// NewRunCommand returns the command that ingests the configured file.
func NewRunCommand() *cobra.Command {
	opts := &runOptions{}
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Ingest the input file into the configured database",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runIngest(cmd, opts)
		},
	}

	flags := cmd.Flags()
	addConfigFlags(flags)
	flags.String("interval", "2s", "progress redraw interval, e.g. 500ms or 2000 (milliseconds)")
	flags.Bool("server", true, "serve /health, /stats and /metrics while running")
	flags.Int("port", 3000, "HTTP port")
	flags.Bool("keep-alive", false, "keep the HTTP server up after the run until interrupted")
	flags.Bool("precount", false, "count input lines first so progress shows a percentage")
	flags.String("backend", config.BackendPostgres, "sink: postgres, clickhouse, sqlite or discard")
	flags.String("sqlite", "ingester.db", "database file used by the sqlite backend")
	flags.BoolVar(&opts.dryRun, "dry-run", false, "parse and batch everything but store nothing")
	flags.StringVar(&opts.configDir, "config-dir", ".", "directory holding .env and .env.local")
	return cmd
}

// addConfigFlags registers the flags shared by commands that load the configuration.
func addConfigFlags(flags *pflag.FlagSet) {
	flags.StringP("file", "f", "input/CLIENTES_IN_0425.dat", "input file")
	flags.Int("batch-size", 1000, "records per batch")
	flags.String("log-level", "info", "log level")
	flags.String("log-format", "text", "log format: text or json")
}

func loadConfig(cmd *cobra.Command, dir string) (*config.Config, error) {
	cfg, err := config.Load(dir, cmd.Flags())
	if err != nil {
		return nil, err
	}
	if err := logging.Configure(cfg.Log); err != nil {
		return nil, err
	}
	return cfg, nil
}

func runIngest(cmd *cobra.Command, opts *runOptions) error {
	cfg, err := loadConfig(cmd, opts.configDir)
	if err != nil {
		return err
	}
	if opts.dryRun {
		cfg.DB.Backend = config.BackendDiscard
	}

	ctx, stop := app.CreateContextWithShutdown()
	defer stop()

	_, err = runner.Run(ctx, cfg, runner.Options{Out: cmd.OutOrStdout()})
	return err
}
