package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/Lllllllleong/flipbookflow/internal/models"
	"github.com/Lllllllleong/flipbookflow/internal/services"
	"github.com/spf13/cobra"
)

var watchTimeout time.Duration

var watchCmd = &cobra.Command{
	Use:   "watch <documentId>",
	Short: "Follow a document record until it is ready or failed",
	Args:  cobra.ExactArgs(1),
	RunE:  runWatch,
}

func init() {
	watchCmd.Flags().DurationVar(&watchTimeout, "timeout", 15*time.Minute, "give up after this long")
	rootCmd.AddCommand(watchCmd)
}

func runWatch(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, watchTimeout)
	defer cancel()

	cfg, err := services.LoadPipelineConfig()
	if err != nil {
		return err
	}
	statuses, err := services.NewStatusStore(ctx, cfg)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	var last models.Status
	final, err := services.WaitForTerminal(ctx, statuses, args[0], func(doc *models.Document) {
		if doc.Status != last {
			fmt.Fprintf(out, "%s  %s\n", time.Now().Format(time.TimeOnly), doc.Status)
			last = doc.Status
		}
	})
	if err != nil {
		return err
	}

	if final.Status == models.StatusError {
		return fmt.Errorf("document %s failed to convert", args[0])
	}
	fmt.Fprintf(out, "%d pages\n", final.PageCount)
	for i, url := range final.PageURLs {
		fmt.Fprintf(out, "%3d  %s\n", i+1, url)
	}
	return nil
}
