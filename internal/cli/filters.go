package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/dvloznov/finance-sync/internal/app"
	"github.com/dvloznov/finance-sync/internal/domain"
)

func newFiltersCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "filters",
		Short: "Manage and run saved JSONPath filters",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List saved filters",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withSession(cmd, func(ctx context.Context, a *app.App) error {
				st := a.Engine.State()
				if st.FiltersError != "" {
					return fmt.Errorf("filters could not be loaded: %s", st.FiltersError)
				}
				return opts.printer(cmd.OutOrStdout()).value(st.Filters, func(w io.Writer) error {
					rows := make([][]string, 0, len(st.Filters))
					for _, p := range st.Filters {
						rows = append(rows, []string{p.Name, p.Code})
					}
					return table(w, []string{"NAME", "CODE"}, rows)
				})
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "save <name> <jsonpath>",
		Short: "Save a filter program",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withSession(cmd, func(ctx context.Context, a *app.App) error {
				return a.Engine.SaveFilter(ctx, domain.FilterProgram{Name: args[0], Code: args[1]})
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "rm <name>",
		Short: "Delete a filter program",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withSession(cmd, func(ctx context.Context, a *app.App) error {
				return a.Engine.DeleteFilter(ctx, args[0])
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "run <name>",
		Short: "Print the transactions a filter selects",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withSession(cmd, func(ctx context.Context, a *app.App) error {
				txs, err := a.Engine.RunFilter(args[0])
				if err != nil {
					return err
				}
				return opts.printer(cmd.OutOrStdout()).value(txs, func(w io.Writer) error {
					rows := make([][]string, 0, len(txs))
					for _, tx := range txs {
						rows = append(rows, []string{
							tx.DateTime.Format("2006-01-02"),
							tx.Amount.StringFixed(int32(tx.Currency.Fraction())),
							string(tx.Currency),
							string(tx.Type),
							tx.Note,
						})
					}
					return table(w, []string{"DATE", "AMOUNT", "CURRENCY", "TYPE", "NOTE"}, rows)
				})
			})
		},
	})
	return cmd
}
