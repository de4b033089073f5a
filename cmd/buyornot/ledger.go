package main

import (
	"fmt"
	"sort"
	"time"

	"github.com/Veraticus/buyornot/internal/cli"
	"github.com/spf13/cobra"
)

func ledgerCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ledger",
		Short: "Show or repair the savings and expense ledger",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show totals and every expense",
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, err := initStorage(cmd.Context(), appConfig)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			l, err := newEngine(store).Ledger(cmd.Context(), currentUser())
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), cli.RenderLedger(l))
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "summary",
		Short: "Show totals and decision counts",
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, err := initStorage(cmd.Context(), appConfig)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			summary, err := newEngine(store).LedgerSummary(cmd.Context(), currentUser())
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), cli.RenderSummary(summary))
			return nil
		},
	})

	cmd.AddCommand(rebuildLedgerCmd())
	return cmd
}

func rebuildLedgerCmd() *cobra.Command {
	var all bool

	cmd := &cobra.Command{
		Use:   "rebuild",
		Short: "Recompute savings and restore missing expenses from decisions",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			store, err := initStorage(ctx, appConfig)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			eng := newEngine(store)
			out := cmd.OutOrStdout()
			start := time.Now()

			if !all {
				res, err := eng.RebuildLedger(ctx, currentUser())
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "%s saved %s → %s, %d expenses restored\n",
					currentUser(), cli.Money(res.SavedBefore), cli.Money(res.SavedAfter), len(res.Backfilled))
				return nil
			}

			results, err := eng.RebuildAll(ctx)
			users := make([]string, 0, len(results))
			for user := range results {
				users = append(users, user)
			}
			sort.Strings(users)
			for _, user := range users {
				res := results[user]
				fmt.Fprintf(out, "%s saved %s → %s, %d expenses restored\n",
					user, cli.Money(res.SavedBefore), cli.Money(res.SavedAfter), len(res.Backfilled))
			}
			fmt.Fprintln(out, cli.FormatInfo(fmt.Sprintf("Rebuilt %d ledgers in %s", len(results), time.Since(start).Round(time.Millisecond))))
			return err
		},
	}

	cmd.Flags().BoolVar(&all, "all", false, "rebuild every user's ledger")
	return cmd
}
