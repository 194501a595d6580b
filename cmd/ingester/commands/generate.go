package commands

import (
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/file-ingester/internal/clientgen"
)

// NewGenerateCommand returns the command that writes a synthetic input file.
func NewGenerateCommand() *cobra.Command {
	var (
		output string
		opts   clientgen.Options
	)
	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Write a synthetic client file for load testing",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !cmd.Flags().Changed("seed") {
				opts.Seed = time.Now().UnixNano()
			}
			summary, err := clientgen.GenerateFile(output, opts)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s lines to %s (%s valid, %s invalid)\n",
				humanize.Comma(int64(summary.Valid+summary.Invalid)), output,
				humanize.Comma(int64(summary.Valid)), humanize.Comma(int64(summary.Invalid)))
			return nil
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&output, "output", "o", "input/CLIENTES_IN_0425.dat", "file to write")
	flags.IntVarP(&opts.Lines, "lines", "n", 100000, "number of records")
	flags.Float64Var(&opts.InvalidRatio, "invalid-ratio", 0.05, "share of lines that fail validation")
	flags.Int64Var(&opts.Seed, "seed", 0, "random seed; random when unset")
	flags.IntVar(&opts.BlankEvery, "blank-every", 0, "insert a blank line after every N records")
	flags.BoolVar(&opts.CRLF, "crlf", false, "terminate lines with \\r\\n")
	return cmd
}
