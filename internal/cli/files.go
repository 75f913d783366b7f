package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/dvloznov/finance-sync/internal/app"
	"github.com/dvloznov/finance-sync/internal/engine"
)

func newImportCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "import <file.csv|file.json>",
		Short: "Validate a CSV or JSON file and merge it into the user's data",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("read import file: %w", err)
			}
			return opts.withSession(cmd, func(ctx context.Context, a *app.App) error {
				sum, err := a.Engine.Import(ctx, filepath.Base(args[0]), data)
				if err != nil {
					return err
				}
				return opts.printer(cmd.OutOrStdout()).value(sum, func(w io.Writer) error {
					_, err := fmt.Fprintf(w, "imported %d transactions, %d tags, %d profiles\n", sum.Transactions, sum.Tags, sum.Profiles)
					return err
				})
			})
		},
	}
}

func newExportCommand(opts *RootOptions) *cobra.Command {
	var format, out string
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export the user's data as CSV or JSON",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := engine.ParseFormat(format)
			if err != nil {
				return err
			}
			return opts.withSession(cmd, func(ctx context.Context, a *app.App) error {
				data, err := a.Engine.Export(f)
				if err != nil {
					return err
				}
				if out == "" || out == "-" {
					_, err = cmd.OutOrStdout().Write(data)
					return err
				}
				return os.WriteFile(out, data, 0o644)
			})
		},
	}
	cmd.Flags().StringVarP(&format, "format", "f", "json", "export format (csv|json)")
	cmd.Flags().StringVarP(&out, "out", "o", "", "output file (default stdout)")
	return cmd
}

func newClearCommand(opts *RootOptions) *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Delete every transaction, tag and profile of the user",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes {
				return errors.New("refusing to clear without --yes")
			}
			return opts.withSession(cmd, func(ctx context.Context, a *app.App) error {
				return a.Engine.ClearAll(ctx)
			})
		},
	}
	cmd.Flags().BoolVar(&yes, "yes", false, "confirm deleting all data")
	return cmd
}
