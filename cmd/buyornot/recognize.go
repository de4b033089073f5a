package main

import (
	"fmt"
	"os"

	"github.com/Veraticus/buyornot/internal/cli"
	"github.com/Veraticus/buyornot/internal/engine"
	"github.com/Veraticus/buyornot/internal/llm"
	"github.com/spf13/cobra"
)

func recognizeCmd() *cobra.Command {
	var propose bool

	cmd := &cobra.Command{
		Use:   "recognize <image>",
		Short: "Identify a product and its price from a photo",
		Example: `  buyornot recognize ~/Pictures/shelf.jpg
  buyornot recognize tag.png --propose`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			data, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("failed to read image: %w", err)
			}

			client, err := createLLMClient(ctx, appConfig)
			if err != nil {
				return err
			}
			defer func() { _ = client.Close() }()

			guess, err := llm.RecognizeProduct(ctx, client, llm.Image{Data: data})
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			priceText := "unknown"
			if guess.Price != nil {
				priceText = cli.Money(*guess.Price)
			}
			fmt.Fprintln(out, cli.FormatSuccess(fmt.Sprintf("%s (%s)", guess.Name, priceText)))

			if !propose {
				return nil
			}
			if guess.Price == nil {
				return fmt.Errorf("no price was recognized; propose it manually with: buyornot decide propose %q <price>", guess.Name)
			}

			store, err := initStorage(ctx, appConfig)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			d, err := newEngine(store).ProposeDecision(ctx, currentUser(), engine.Proposal{Title: guess.Name, Price: *guess.Price})
			if err != nil {
				return err
			}
			fmt.Fprintln(out, cli.RenderDecision(d))
			return nil
		},
	}

	cmd.Flags().BoolVar(&propose, "propose", false, "create a pending decision from the result")
	return cmd
}
