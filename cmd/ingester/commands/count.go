package commands

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/file-ingester/internal/app"
	"github.com/file-ingester/internal/source"
)

// NewCountCommand returns the command that counts the records in a file without ingesting it.
func NewCountCommand() *cobra.Command {
	var configDir string
	cmd := &cobra.Command{
		Use:   "count",
		Short: "Count the non-blank lines of the input file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd, configDir)
			if err != nil {
				return err
			}
			ctx, stop := app.CreateContextWithShutdown()
			defer stop()

			total, err := source.CountRecords(ctx, cfg.File.Path)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %s records\n", cfg.File.Path, humanize.Comma(total))
			return nil
		},
	}
	addConfigFlags(cmd.Flags())
	cmd.Flags().StringVar(&configDir, "config-dir", ".", "directory holding .env and .env.local")
	return cmd
}
