package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"tidbyt.dev/gtfskpi/report"
)

var headwaysCmd = &cobra.Command{
	Use:   "headways",
	Short: "Computes per route headway statistics",
	Args:  cobra.NoArgs,
	RunE:  headways,
}

var maxRows int

func init() {
	headwaysCmd.Flags().IntVarP(&maxRows, "max-rows", "n", -1, "Scheduled stop events to consider (0 for all)")
	rootCmd.AddCommand(headwaysCmd)
}

func headways(cmd *cobra.Command, args []string) error {
	if maxRows < 0 {
		maxRows = cfg.Headways.MaxRows
	}

	feed, closeStorage, err := loadFeed()
	if err != nil {
		return err
	}
	defer closeStorage()
	defer writeMetrics()

	result, err := feed.Headways(maxRows)
	if err != nil {
		return err
	}

	stats := result.Sorted()
	for _, s := range stats {
		fmt.Printf(
			"%s n=%d avg=%.2f median=%.2f min=%.2f max=%.2f\n",
			s.RouteID, s.Count, s.Mean, s.Median, s.Min, s.Max,
		)
	}

	return writeTable(report.HeadwaysFile, report.HeadwayRows(stats))
}
