package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/dvloznov/finance-sync/internal/app"
	"github.com/dvloznov/finance-sync/internal/domain"
)

// Summary describes the replica after a sync.
type Summary struct {
	UID          string              `json:"uid"`
	Status       domain.SignInStatus `json:"status"`
	Online       bool                `json:"online"`
	Transactions int                 `json:"transactions"`
	Tags         int                 `json:"tags"`
	Filters      int                 `json:"filters"`
	FiltersError string              `json:"filtersError,omitempty"`
	LastError    string              `json:"lastError,omitempty"`
}

func summarize(s domain.State) Summary {
	return Summary{
		UID:          s.UID,
		Status:       s.Status,
		Online:       s.Online,
		Transactions: len(s.Transactions),
		Tags:         len(s.Tags),
		Filters:      len(s.Filters),
		FiltersError: s.FiltersError,
		LastError:    s.LastError,
	}
}

func (o *RootOptions) printSummary(cmd *cobra.Command, s domain.State) error {
	sum := summarize(s)
	return o.printer(cmd.OutOrStdout()).value(sum, func(w io.Writer) error {
		fmt.Fprintf(w, "user:          %s\n", sum.UID)
		fmt.Fprintf(w, "status:        %s\n", sum.Status)
		fmt.Fprintf(w, "online:        %t\n", sum.Online)
		fmt.Fprintf(w, "transactions:  %d\n", sum.Transactions)
		fmt.Fprintf(w, "tags:          %d\n", sum.Tags)
		fmt.Fprintf(w, "filters:       %d\n", sum.Filters)
		if sum.FiltersError != "" {
			fmt.Fprintf(w, "filters error: %s\n", sum.FiltersError)
		}
		if sum.LastError != "" {
			fmt.Fprintf(w, "last error:    %s\n", sum.LastError)
		}
		return nil
	})
}

func newStatusCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Sign in and show the replica status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withSession(cmd, func(ctx context.Context, a *app.App) error {
				return opts.printSummary(cmd, a.Engine.State())
			})
		},
	}
}

func newSyncCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Sign in, refresh from the server and materialize repeating transactions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withSession(cmd, func(ctx context.Context, a *app.App) error {
				if err := a.Engine.Resync(ctx); err != nil {
					return err
				}
				return opts.printSummary(cmd, a.Engine.State())
			})
		},
	}
}
