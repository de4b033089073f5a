package main

import (
	"fmt"
	"strings"

	"github.com/Veraticus/buyornot/internal/cli"
	"github.com/Veraticus/buyornot/internal/engine"
	"github.com/Veraticus/buyornot/internal/model"
	"github.com/Veraticus/buyornot/internal/service"
	"github.com/spf13/cobra"
)

func decideCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "decide",
		Short: "Propose and resolve purchase decisions",
		Example: `  # Consider a purchase
  buyornot decide propose "Noise cancelling headphones" 349.99 --category Electronics

  # Resolve it
  buyornot decide skip 6f1c...
  buyornot decide buy 6f1c... --price 329.00

  # Review
  buyornot decide list --status pending`,
	}

	cmd.AddCommand(proposeCmd())
	cmd.AddCommand(resolveCmd("buy", model.StatusPurchased, "Record that you bought the item"))
	cmd.AddCommand(resolveCmd("skip", model.StatusSkipped, "Record that you skipped the item"))
	cmd.AddCommand(listDecisionsCmd())
	cmd.AddCommand(showDecisionCmd())

	return cmd
}

func proposeCmd() *cobra.Command {
	var category string

	cmd := &cobra.Command{
		Use:   "propose <title> <price>",
		Short: "Start a new pending decision",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			price, err := parseAmount(args[1])
			if err != nil {
				return err
			}

			store, err := initStorage(cmd.Context(), appConfig)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			d, err := newEngine(store).ProposeDecision(cmd.Context(), currentUser(), engine.Proposal{
				Title:    args[0],
				Category: category,
				Price:    price,
			})
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintln(out, cli.RenderDecision(d))
			fmt.Fprintln(out, cli.FormatInfo("Talk it through with: buyornot ask "+d.ID))
			return nil
		},
	}

	cmd.Flags().StringVarP(&category, "category", "c", "", "category of the item")
	return cmd
}

func resolveCmd(use string, status model.DecisionStatus, short string) *cobra.Command {
	var (
		price string
		title string
	)

	cmd := &cobra.Command{
		Use:   use + " <decision-id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var edits engine.Edits
			if price != "" {
				p, err := parseAmount(price)
				if err != nil {
					return err
				}
				edits.Price = &p
			}
			if title != "" {
				edits.Title = &title
			}

			store, err := initStorage(cmd.Context(), appConfig)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			res, err := newEngine(store).TransitionDecision(cmd.Context(), currentUser(), args[0], status, edits)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if !res.Changed {
				fmt.Fprintln(out, cli.FormatInfo(fmt.Sprintf("%s is already %s", res.Decision.Title, status)))
				return nil
			}
			fmt.Fprintln(out, cli.FormatSuccess(fmt.Sprintf("%s is now %s", res.Decision.Label(), status)))
			if res.Mutation.Clamped {
				fmt.Fprintln(out, cli.FormatWarning("Savings would have gone negative and were kept at $0.00"))
			}
			fmt.Fprintf(out, "Spent %s · Saved %s\n", cli.Money(res.Ledger.Spent()), cli.Money(res.Ledger.Saved))
			return nil
		},
	}

	cmd.Flags().StringVar(&price, "price", "", "correct the price while resolving")
	cmd.Flags().StringVar(&title, "title", "", "correct the title while resolving")
	return cmd
}

func listDecisionsCmd() *cobra.Command {
	var (
		status string
		limit  int
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List decisions, newest first",
		RunE: func(cmd *cobra.Command, _ []string) error {
			filter := service.DecisionFilter{Limit: limit}
			if strings.TrimSpace(status) != "" {
				s, err := model.ParseDecisionStatus(status)
				if err != nil {
					return err
				}
				filter.Status = s
			}

			store, err := initStorage(cmd.Context(), appConfig)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			decisions, err := newEngine(store).ListDecisions(cmd.Context(), currentUser(), filter)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), cli.RenderDecisions(decisions))
			return nil
		},
	}

	cmd.Flags().StringVarP(&status, "status", "s", "", "only show pending, purchased or skipped decisions")
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "maximum decisions to show (0 for all)")
	return cmd
}

func showDecisionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <decision-id>",
		Short: "Show one decision",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := initStorage(cmd.Context(), appConfig)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			d, err := newEngine(store).GetDecision(cmd.Context(), currentUser(), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), cli.RenderDecision(d))
			return nil
		},
	}
}
