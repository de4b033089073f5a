package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/Veraticus/buyornot/internal/assistant"
	"github.com/Veraticus/buyornot/internal/cli"
	"github.com/Veraticus/buyornot/internal/engine"
	"github.com/Veraticus/buyornot/internal/model"
	"github.com/Veraticus/buyornot/internal/tui"
	"github.com/spf13/cobra"
)

func askCmd() *cobra.Command {
	var plain bool

	cmd := &cobra.Command{
		Use:   "ask <decision-id>",
		Short: "Talk a pending purchase through with the assistant",
		Long: `Start an interactive conversation about a decision. The assistant sees your
past similar decisions and spending preferences.

End the conversation with /buy or /skip to record the outcome, or /quit to
decide later. Finished conversations are remembered for future questions.

In a terminal the chat runs full screen; use --plain for a line-based chat.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg := appConfig
			userID := currentUser()

			store, err := initStorage(ctx, cfg)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			eng := newEngine(store)
			decision, err := eng.GetDecision(ctx, userID, args[0])
			if err != nil {
				return err
			}

			client, err := createLLMClient(ctx, cfg)
			if err != nil {
				return err
			}
			defer func() { _ = client.Close() }()

			stack, err := newContextStack(ctx, cfg, store)
			if err != nil {
				return err
			}
			defer stack.Close()

			chat, err := newAssistant(stack, client, store, cfg)
			if err != nil {
				return err
			}

			turn := func(ctx context.Context, message string) (string, error) {
				reply, err := chat.Turn(ctx, assistant.TurnInput{UserID: userID, Decision: decision, Message: message})
				if err != nil {
					return "", err
				}
				return reply.Text, nil
			}

			in, out := cmd.InOrStdin(), cmd.OutOrStdout()
			var result cli.ChatResult
			if !plain && tui.IsTerminal(in, out) {
				result, err = tui.RunChat(ctx, decision, turn, in, out)
			} else {
				result, err = cli.NewChatSession(in, out, turn).Run(ctx, decision)
			}
			if err != nil {
				return err
			}

			if result.Outcome != model.StatusNone {
				res, err := eng.TransitionDecision(ctx, userID, decision.ID, result.Outcome, engine.Edits{})
				if err != nil {
					return err
				}
				decision = res.Decision
				fmt.Fprintln(out, cli.FormatSuccess(fmt.Sprintf("%s is now %s", decision.Label(), decision.Status)))
				fmt.Fprintf(out, "Spent %s · Saved %s\n", cli.Money(res.Ledger.Spent()), cli.Money(res.Ledger.Saved))
			}

			if result.Turns == 0 && result.Outcome == model.StatusNone {
				return nil
			}

			conv, err := store.LoadConversation(ctx, userID, decision.ID)
			if err != nil {
				return fmt.Errorf("failed to load conversation: %w", err)
			}
			var messages []model.ChatMessage
			if conv != nil {
				messages = conv.Messages
			}
			if len(messages) == 0 {
				return nil
			}
			if err := stack.Service.RecordFinalizedConversation(ctx, decision.ID, messages, decision, userID); err != nil {
				slog.Warn("failed to remember conversation", "decision_id", decision.ID, "error", err)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&plain, "plain", false, "Use the line-based chat even in a terminal")
	return cmd
}
