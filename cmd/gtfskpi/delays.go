package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"tidbyt.dev/gtfskpi"
	"tidbyt.dev/gtfskpi/delay"
	"tidbyt.dev/gtfskpi/parse"
	"tidbyt.dev/gtfskpi/publish"
	"tidbyt.dev/gtfskpi/report"
)

var synthCmd = &cobra.Command{
	Use:   "synth",
	Short: "Synthesizes delay events for a sample of scheduled stop events",
	Args:  cobra.NoArgs,
	RunE:  synth,
}

var loadDelaysCmd = &cobra.Command{
	Use:   "load-delays <csv>",
	Short: "Loads delay events from a CSV file (optionally gzipped)",
	Args:  cobra.ExactArgs(1),
	RunE:  loadDelays,
}

var (
	samples     int
	seed        int64
	serviceDate string
	noPublish   bool
)

func init() {
	synthCmd.Flags().IntVarP(&samples, "samples", "n", 0, "Number of scheduled stop events to sample")
	synthCmd.Flags().Int64VarP(&seed, "seed", "s", 0, "Random seed")
	synthCmd.Flags().StringVarP(&serviceDate, "date", "d", "", "Service date (YYYY-MM-DD)")
	synthCmd.Flags().BoolVarP(&noPublish, "no-publish", "", false, "Don't publish events to NATS")
	rootCmd.AddCommand(synthCmd)
	rootCmd.AddCommand(loadDelaysCmd)
}

func synth(cmd *cobra.Command, args []string) error {
	opts := gtfskpi.SynthesizeOptions{
		Samples:     cfg.Delays.Samples,
		Seed:        cfg.Delays.Seed,
		ServiceDate: cfg.Delays.ServiceDate,
	}
	if cmd.Flags().Changed("samples") {
		opts.Samples = samples
	}
	if cmd.Flags().Changed("seed") {
		opts.Seed = seed
	}
	if cmd.Flags().Changed("date") {
		opts.ServiceDate = serviceDate
	}

	feed, closeStorage, err := loadFeed()
	if err != nil {
		return err
	}
	defer closeStorage()
	defer writeMetrics()

	run, events, err := feed.SynthesizeDelays(opts)
	if err != nil {
		return err
	}

	counts := delay.CountByCategory(events)
	for _, c := range delay.Categories() {
		fmt.Printf("%s: %d\n", c, counts[c])
	}
	fmt.Printf("run %s: %d events\n", run.ID, run.Events)

	if err := writeTable(report.DelaysFile, report.DelayRows(events)); err != nil {
		return err
	}

	if cfg.NATS.URL == "" || noPublish {
		return nil
	}

	publisher, err := publish.Connect(publish.Config{
		URL:     cfg.NATS.URL,
		Subject: cfg.NATS.Subject,
		Rate:    cfg.NATS.Rate,
		Burst:   cfg.NATS.Burst,
	}, logger, collector)
	if err != nil {
		return err
	}
	defer publisher.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	n, err := publisher.PublishDelays(ctx, events)
	if err != nil {
		return fmt.Errorf("published %d of %d events: %w", n, len(events), err)
	}
	fmt.Printf("published %d events\n", n)

	return nil
}

func loadDelays(cmd *cobra.Command, args []string) error {
	f, err := report.OpenFile(args[0])
	if err != nil {
		return err
	}
	defer f.Close()

	events, err := parse.ParseDelays(f)
	if err != nil {
		return fmt.Errorf("parsing %s: %w", args[0], err)
	}

	feed, closeStorage, err := loadFeed()
	if err != nil {
		return err
	}
	defer closeStorage()

	run, err := feed.LoadDelays(events)
	if err != nil {
		return err
	}

	fmt.Printf("run %s: %d events\n", run.ID, run.Events)

	return nil
}
