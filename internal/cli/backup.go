package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/dvloznov/finance-sync/internal/app"
	"github.com/dvloznov/finance-sync/internal/backup"
)

func newBackupCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "backup",
		Short: "Manage backups in the storage bucket",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "now",
		Short: "Upload a backup of the current data",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withSession(cmd, func(ctx context.Context, a *app.App) error {
				name, err := a.Engine.BackupNow(ctx)
				if err != nil {
					return err
				}
				return opts.printer(cmd.OutOrStdout()).value(map[string]string{"name": name}, func(w io.Writer) error {
					_, err := fmt.Fprintln(w, name)
					return err
				})
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List backups, oldest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withSession(cmd, func(ctx context.Context, a *app.App) error {
				names, err := a.Engine.Backups(ctx)
				if err != nil {
					return err
				}
				return opts.printer(cmd.OutOrStdout()).value(names, func(w io.Writer) error {
					rows := make([][]string, 0, len(names))
					for _, n := range names {
						created := "?"
						if t, err := backup.ParseFileName(n); err == nil {
							created = t.Format("2006-01-02 15:04:05")
						}
						rows = append(rows, []string{n, created})
					}
					return table(w, []string{"NAME", "CREATED (UTC)"}, rows)
				})
			})
		},
	})

	var out string
	download := &cobra.Command{
		Use:   "download <name>",
		Short: "Download a backup as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withSession(cmd, func(ctx context.Context, a *app.App) error {
				st, err := a.Engine.DownloadBackup(ctx, args[0])
				if err != nil {
					return err
				}
				data, err := json.MarshalIndent(st, "", "  ")
				if err != nil {
					return err
				}
				if out == "" || out == "-" {
					_, err = fmt.Fprintln(cmd.OutOrStdout(), string(data))
					return err
				}
				return os.WriteFile(out, data, 0o644)
			})
		},
	}
	download.Flags().StringVarP(&out, "out", "o", "", "output file (default stdout)")
	cmd.AddCommand(download)

	cmd.AddCommand(&cobra.Command{
		Use:   "rm <name>",
		Short: "Delete a backup",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withSession(cmd, func(ctx context.Context, a *app.App) error {
				return a.Engine.RemoveBackup(ctx, args[0])
			})
		},
	})
	return cmd
}
