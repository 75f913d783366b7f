// Package cli implements the finance-sync command line.
package cli

import (
	"context"
	"fmt"
	"os"
	"slices"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/dvloznov/finance-sync/internal/app"
	"github.com/dvloznov/finance-sync/internal/config"
	"github.com/dvloznov/finance-sync/internal/logger"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	ConfigPath string
	UID        string
	Format     string // "json" | "text"
	Timeout    time.Duration

	build func(ctx context.Context, cfg config.Config, log zerolog.Logger) (*app.App, error)
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command.
func NewRootCommand() *cobra.Command {
	return newRootCommand(func(ctx context.Context, cfg config.Config, log zerolog.Logger) (*app.App, error) {
		return app.New(ctx, cfg, log, app.Options{})
	})
}

func newRootCommand(build func(context.Context, config.Config, zerolog.Logger) (*app.App, error)) *cobra.Command {
	opts := &RootOptions{build: build}

	cmd := &cobra.Command{
		Use:   "finance-sync",
		Short: "Offline-first personal finance replica",
		Long: `Signs in as one user, syncs the local replica with the remote store
and runs one operation against it. Writes are flushed before exiting.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !slices.Contains(ValidFormats, opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			return nil
		},
	}

	cmd.PersistentFlags().StringVarP(&opts.ConfigPath, "config", "c", "", "YAML config file")
	cmd.PersistentFlags().StringVarP(&opts.UID, "uid", "u", os.Getenv("FINANCE_UID"), "user id (or set FINANCE_UID)")
	cmd.PersistentFlags().StringVar(&opts.Format, "output", "text", "output format (json|text)")
	cmd.PersistentFlags().DurationVar(&opts.Timeout, "timeout", 2*time.Minute, "time allowed for the whole operation")

	cmd.AddCommand(newStatusCommand(opts))
	cmd.AddCommand(newSyncCommand(opts))
	cmd.AddCommand(newImportCommand(opts))
	cmd.AddCommand(newExportCommand(opts))
	cmd.AddCommand(newClearCommand(opts))
	cmd.AddCommand(newBackupCommand(opts))
	cmd.AddCommand(newFiltersCommand(opts))
	cmd.AddCommand(newMigrateCommand(opts))

	return cmd
}

// open loads configuration and builds the app without signing in.
func (o *RootOptions) open(cmd *cobra.Command) (context.Context, context.CancelFunc, *app.App, error) {
	cfg, err := config.Load(o.ConfigPath)
	if err != nil {
		return nil, nil, nil, err
	}
	log, err := logger.NewWithOptions(cmd.ErrOrStderr(), cfg.Log)
	if err != nil {
		return nil, nil, nil, err
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), o.Timeout)
	ctx = logger.WithContext(ctx, log)
	a, err := o.build(ctx, cfg, log)
	if err != nil {
		cancel()
		return nil, nil, nil, err
	}
	return ctx, cancel, a, nil
}

// withSession signs in, runs fn and waits for its writes before closing.
func (o *RootOptions) withSession(cmd *cobra.Command, fn func(ctx context.Context, a *app.App) error) error {
	if o.UID == "" {
		return fmt.Errorf("a user id is required: pass --uid or set FINANCE_UID")
	}
	ctx, cancel, a, err := o.open(cmd)
	if err != nil {
		return err
	}
	defer cancel()
	defer func() { _ = a.Close(context.WithoutCancel(ctx)) }()

	if err := a.Engine.SignIn(ctx, o.UID); err != nil {
		return fmt.Errorf("sign in: %w", err)
	}
	if err := fn(ctx, a); err != nil {
		return err
	}
	if err := a.Drain(ctx); err != nil {
		return fmt.Errorf("waiting for writes: %w", err)
	}
	return nil
}
