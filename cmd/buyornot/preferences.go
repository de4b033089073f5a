package main

import (
	"fmt"

	"github.com/Veraticus/buyornot/internal/cli"
	"github.com/spf13/cobra"
)

func preferencesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "preferences",
		Aliases: []string{"prefs"},
		Short:   "Show or rebuild what was learned from your decisions",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show learned preferences",
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, err := initStorage(cmd.Context(), appConfig)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			prefs, err := store.LoadPreferences(cmd.Context(), currentUser())
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), cli.RenderPreferences(prefs))
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "rebuild",
		Short: "Recompute preferences from the full decision history",
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, err := initStorage(cmd.Context(), appConfig)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			prefs, err := newEngine(store).RecomputePreferences(cmd.Context(), currentUser())
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), cli.RenderPreferences(&prefs))
			return nil
		},
	})

	return cmd
}
