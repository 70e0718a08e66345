package main

import (
	"context"
	"fmt"

	"github.com/Lllllllleong/flipbookflow/internal/services"
	"github.com/spf13/cobra"
)

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Run one stale-conversion sweep",
	Long:  "Re-enqueue conversions stuck in converting, or mark them error once they ran out of attempts.",
	RunE: func(cmd *cobra.Command, args []string) error {
		sweeper, err := services.NewSweeper(context.Background())
		if err != nil {
			return err
		}
		report, err := sweeper.Sweep(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "scanned %d, requeued %d, failed %d, skipped %d, errors %d\n",
			report.Scanned, report.Requeued, report.Failed, report.Skipped, report.Errors)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(sweepCmd)
}
