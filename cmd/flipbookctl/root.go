package main

import (
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var (
	envFile string
	verbose bool
)

var rootCmd = &cobra.Command{
	Use:   "flipbookctl",
	Short: "Operate the flipbook conversion pipeline",
	Long: `flipbookctl renders PDFs into flipbook pages locally, replays uploads through
the deployed pipeline, follows document status and runs the stale sweep.

Settings come from the same environment variables as the cloud functions, and
from a .env file when one is present.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if envFile != "" {
			if err := godotenv.Load(envFile); err != nil {
				return err
			}
		} else {
			_ = godotenv.Load() // Ignore error if .env doesn't exist
		}

		level := slog.LevelInfo
		if verbose {
			level = slog.LevelDebug
		}
		slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", "", "load environment from this file instead of ./.env")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}
