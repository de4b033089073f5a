package main

import (
	"fmt"
	"log/slog"

	"github.com/Veraticus/buyornot/internal/cli"
	"github.com/Veraticus/buyornot/internal/storage"
	"github.com/spf13/cobra"
)

func migrateCmd() *cobra.Command {
	var status bool

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
		Long: `Initialize or update the database schema to the latest version.

Every command migrates on startup; run this explicitly after upgrading or to
check the schema version.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			cfg := appConfig

			slog.Info("Starting database migration", "driver", cfg.Database.Driver, "status_only", status)

			store, err := initStorage(ctx, cfg)
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}
			defer func() { _ = store.Close() }()

			out := cmd.OutOrStdout()
			if sqlite, ok := store.(*storage.SQLiteStorage); ok {
				v, err := sqlite.SchemaVersion(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintln(out, cli.FormatInfo(fmt.Sprintf("Schema version %d at %s", v, cfg.Database.Path)))
			}
			if !status {
				fmt.Fprintln(out, cli.FormatSuccess("Database migrations completed successfully"))
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&status, "status", false, "only report the schema version")
	return cmd
}
