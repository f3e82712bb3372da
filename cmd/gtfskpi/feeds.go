package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var ingestCmd = &cobra.Command{
	Use:   "ingest <path|url>",
	Short: "Ingests a GTFS archive",
	Args:  cobra.ExactArgs(1),
	RunE:  ingest,
}

var feedsCmd = &cobra.Command{
	Use:   "feeds",
	Short: "Lists ingested feeds",
	Args:  cobra.NoArgs,
	RunE:  feeds,
}

var summaryCmd = &cobra.Command{
	Use:   "summary",
	Short: "Prints route, trip and stop counts for a feed",
	Args:  cobra.NoArgs,
	RunE:  summary,
}

func init() {
	rootCmd.AddCommand(ingestCmd)
	rootCmd.AddCommand(feedsCmd)
	rootCmd.AddCommand(summaryCmd)
}

func ingest(cmd *cobra.Command, args []string) error {
	manager, closeStorage, err := newManager()
	if err != nil {
		return err
	}
	defer closeStorage()
	defer writeMetrics()

	metadata, err := manager.Ingest(context.Background(), args[0])
	if err != nil {
		return err
	}

	fmt.Printf("%s %s - %s\n", metadata.Hash, metadata.CalendarStartDate, metadata.CalendarEndDate)

	return nil
}

func feeds(cmd *cobra.Command, args []string) error {
	manager, closeStorage, err := newManager()
	if err != nil {
		return err
	}
	defer closeStorage()

	metadata, err := manager.ListFeeds()
	if err != nil {
		return err
	}

	for _, md := range metadata {
		fmt.Printf(
			"%.12s %s %s - %s %s\n",
			md.Hash,
			md.RetrievedAt.Format(time.RFC3339),
			md.CalendarStartDate,
			md.CalendarEndDate,
			md.URL,
		)
	}

	return nil
}

func summary(cmd *cobra.Command, args []string) error {
	feed, closeStorage, err := loadFeed()
	if err != nil {
		return err
	}
	defer closeStorage()

	counts, err := feed.Summary()
	if err != nil {
		return err
	}

	fmt.Printf("routes: %d\ntrips: %d\nstops: %d\n", counts.Routes, counts.Trips, counts.Stops)

	return nil
}
