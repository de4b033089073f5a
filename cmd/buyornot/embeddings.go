package main

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/Veraticus/buyornot/internal/cli"
	"github.com/Veraticus/buyornot/internal/common"
	"github.com/Veraticus/buyornot/internal/model"
	"github.com/spf13/cobra"
)

func embeddingsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "embeddings",
		Short: "Manage conversation embeddings",
	}
	cmd.AddCommand(reindexCmd())
	return cmd
}

func reindexCmd() *cobra.Command {
	var all bool

	cmd := &cobra.Command{
		Use:   "reindex",
		Short: "Re-embed every stored conversation with the configured embedder",
		Long: `Re-embed stored conversations. Run this after switching embedding provider
or model: vectors from different embedders cannot be compared, and older ones
are ignored during retrieval once newer ones exist.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			store, err := initStorage(ctx, appConfig)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			stack, err := newContextStack(ctx, appConfig, store)
			if err != nil {
				return err
			}
			defer stack.Close()

			users := []string{currentUser()}
			if all {
				if users, err = store.ListUsers(ctx); err != nil {
					return err
				}
			}

			type job struct {
				user string
				conv model.Conversation
			}
			var jobs []job
			for _, user := range users {
				convs, err := store.ListConversations(ctx, user)
				if err != nil {
					return fmt.Errorf("failed to list conversations for %s: %w", user, err)
				}
				for _, c := range convs {
					if len(c.Messages) > 0 {
						jobs = append(jobs, job{user: user, conv: c})
					}
				}
			}

			out := cmd.OutOrStdout()
			if len(jobs) == 0 {
				fmt.Fprintln(out, cli.FormatInfo("No conversations to re-embed."))
				return nil
			}

			eng := newEngine(store)
			progress := cli.NewProgress(out, len(jobs), "Re-embedding conversations")
			var done, skipped int
			for _, j := range jobs {
				if err := ctx.Err(); err != nil {
					return err
				}

				d, err := eng.GetDecision(ctx, j.user, j.conv.DecisionID)
				if errors.Is(err, common.ErrNotFound) {
					slog.Warn("conversation has no decision, skipping", "user_id", j.user, "decision_id", j.conv.DecisionID)
					skipped++
					progress.Step()
					continue
				}
				if err != nil {
					return err
				}

				record, err := stack.Service.EmbedConversation(ctx, d, j.conv.Messages, j.user)
				if err != nil {
					return err
				}
				if err := store.SaveEmbedding(ctx, &record); err != nil {
					return fmt.Errorf("failed to save embedding: %w", err)
				}
				done++
				progress.Step()
			}
			progress.Finish()

			fmt.Fprintln(out, cli.FormatSuccess(fmt.Sprintf("Re-embedded %d conversations (%d skipped)", done, skipped)))
			return nil
		},
	}

	cmd.Flags().BoolVar(&all, "all", false, "re-embed conversations of every user")
	return cmd
}
