package main

import (
	"fmt"
	"time"

	"github.com/Veraticus/buyornot/internal/cli"
	"github.com/spf13/cobra"
)

func expenseCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "expense",
		Short: "Track expenses that did not go through a decision",
	}

	var date string
	add := &cobra.Command{
		Use:   "add <name> <price>",
		Short: "Record a manual expense",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			price, err := parseAmount(args[1])
			if err != nil {
				return err
			}
			var when time.Time
			if date != "" {
				when, err = time.Parse("2006-01-02", date)
				if err != nil {
					return fmt.Errorf("invalid --date %q, expected YYYY-MM-DD", date)
				}
			}

			store, err := initStorage(cmd.Context(), appConfig)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			item, err := newEngine(store).AddManualExpense(cmd.Context(), currentUser(), args[0], price, when)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), cli.FormatSuccess(fmt.Sprintf("Added %s %s (%s)", item.Name, cli.Money(item.Price), item.ID)))
			return nil
		},
	}
	add.Flags().StringVar(&date, "date", "", "date of the expense (YYYY-MM-DD, default today)")

	rm := &cobra.Command{
		Use:     "rm <expense-id>",
		Aliases: []string{"delete"},
		Short:   "Delete an expense",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := initStorage(cmd.Context(), appConfig)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			item, err := newEngine(store).DeleteExpense(cmd.Context(), currentUser(), args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, cli.FormatSuccess(fmt.Sprintf("Deleted %s %s", item.Name, cli.Money(item.Price))))
			if item.DecisionID != nil {
				fmt.Fprintln(out, cli.FormatWarning("That expense belonged to decision "+*item.DecisionID+"; `buyornot ledger rebuild` restores it"))
			}
			return nil
		},
	}

	cmd.AddCommand(add, rm)
	return cmd
}
