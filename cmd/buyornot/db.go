package main

import (
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"time"

	"github.com/Veraticus/buyornot/internal/cli"
	"github.com/Veraticus/buyornot/internal/config"
	"github.com/Veraticus/buyornot/internal/storage"
	"github.com/spf13/cobra"
)

func dbCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "db",
		Short: "Database maintenance",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "backup [path]",
		Short: "Write a verified copy of the SQLite database",
		Example: `  # Back up next to the database with a timestamped name
  buyornot db backup

  # Back up to a specific file
  buyornot db backup ~/backups/buyornot-2026-01.db`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg := appConfig

			store, err := initStorage(ctx, cfg)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			sqlite, ok := store.(*storage.SQLiteStorage)
			if !ok {
				return errors.New("db backup only supports the sqlite driver; use pg_dump for postgres")
			}

			dest := filepath.Join(filepath.Dir(cfg.Database.Path), "backups",
				fmt.Sprintf("buyornot-%s.db", time.Now().Format("20060102-150405")))
			if len(args) == 1 {
				dest = config.ExpandPath(args[0])
			}

			info, err := sqlite.Backup(ctx, dest)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintln(out, cli.FormatSuccess(fmt.Sprintf("Backup written to %s (%d KB, schema v%d)",
				info.Path, info.FileSize/1024, info.SchemaVersion)))

			tables := make([]string, 0, len(info.RowCounts))
			for table := range info.RowCounts {
				tables = append(tables, table)
			}
			sort.Strings(tables)
			for _, table := range tables {
				fmt.Fprintf(out, "  %-24s %d rows\n", table, info.RowCounts[table])
			}
			return nil
		},
	})

	return cmd
}
