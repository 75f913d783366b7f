package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
)

func newMigrateCommand(opts *RootOptions) *cobra.Command {
	var appliedBy string
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending BigQuery schema migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel, a, err := opts.open(cmd)
			if err != nil {
				return err
			}
			defer cancel()
			defer func() { _ = a.Close(context.WithoutCancel(ctx)) }()

			if a.BigQuery == nil {
				return errors.New("no BigQuery project configured (set BQ_PROJECT)")
			}
			n, err := a.BigQuery.Migrate(ctx, appliedBy)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "applied %d migration(s)\n", n)
			return err
		},
	}
	cmd.Flags().StringVar(&appliedBy, "applied-by", "finance-sync-cli", "name recorded with applied migrations")
	return cmd
}
