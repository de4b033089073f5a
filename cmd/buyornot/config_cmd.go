package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/Veraticus/buyornot/internal/cli"
	"github.com/Veraticus/buyornot/internal/config"
	"github.com/spf13/cobra"
)

func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage the configuration file",
	}

	var (
		path  string
		force bool
	)
	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Write a config file with the default settings",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if path == "" {
				p, err := config.DefaultPath()
				if err != nil {
					return err
				}
				path = p
			}
			path = config.ExpandPath(path)

			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", path)
			} else if err != nil && !errors.Is(err, fs.ErrNotExist) {
				return err
			}

			if err := config.Save(path, config.Defaults()); err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, cli.FormatSuccess("Wrote "+path))
			fmt.Fprintln(out, cli.FormatInfo("API keys are read from the environment, e.g. GEMINI_API_KEY or BUYORNOT_LLM_GEMINI_API_KEY"))
			return nil
		},
	}
	initCmd.Flags().StringVar(&path, "path", "", "where to write the file (default: $HOME/.config/buyornot/config.yaml)")
	initCmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")

	cmd.AddCommand(initCmd)
	return cmd
}
