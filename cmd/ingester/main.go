// Streams a pipe-delimited client file into a database in fixed-size batches.
package main

import (
	"fmt"
	"os"
	"runtime/debug"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/file-ingester/cmd/ingester/commands"
	"github.com/file-ingester/internal/ingesterrors"
)

// Set with -ldflags "-X main.version=..."
var version = "dev"

func main() {
	rootCmd := &cobra.Command{
		Use:   "ingester",
		Short: "Stream a pipe-delimited client file into a database",
		Long: `ingester reads a client file line by line, validates every record and stores the
valid ones in batches. Invalid lines are logged and counted; a storage failure stops the run.

Configuration comes from flags, environment variables, .env.local, .env and defaults.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(commands.NewRunCommand())
	rootCmd.AddCommand(commands.NewCountCommand())
	rootCmd.AddCommand(commands.NewGenerateCommand())
	rootCmd.AddCommand(versionCmd())

	err := rootCmd.Execute()
	if err != nil {
		log.WithField("kind", ingesterrors.KindOf(err).String()).Errorf("%v", err)
	}
	os.Exit(ingesterrors.ExitCode(err))
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, _ []string) {
			goVersion := "unknown"
			if info, ok := debug.ReadBuildInfo(); ok {
				goVersion = info.GoVersion
			}
			fmt.Fprintf(cmd.OutOrStdout(), "ingester %s (%s)\n", version, goVersion)
		},
	}
}
