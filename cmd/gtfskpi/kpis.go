package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"tidbyt.dev/gtfskpi/report"
)

var kpisCmd = &cobra.Command{
	Use:   "kpis",
	Short: "Writes all KPI tables for a feed",
	Args:  cobra.NoArgs,
	RunE:  kpis,
}

var topN int

func init() {
	kpisCmd.Flags().IntVarP(&topN, "top", "t", -1, "Number of stops in the stop activity table (0 for all)")
	rootCmd.AddCommand(kpisCmd)
}

func kpis(cmd *cobra.Command, args []string) error {
	if topN < 0 {
		topN = cfg.Stops.TopN
	}

	feed, closeStorage, err := loadFeed()
	if err != nil {
		return err
	}
	defer closeStorage()
	defer writeMetrics()

	counts, err := feed.Summary()
	if err != nil {
		return err
	}
	if err := writeTable(report.FeedSummaryFile, report.FeedSummaryRows(counts)); err != nil {
		return err
	}

	result, err := feed.Headways(cfg.Headways.MaxRows)
	if err != nil {
		return err
	}
	if err := writeTable(report.HeadwaysFile, report.HeadwayRows(result.Sorted())); err != nil {
		return err
	}

	schedule, err := feed.ScheduleKPIsWith(result.Routes)
	if err != nil {
		return err
	}
	if err := writeTable(report.RouteScheduleFile, report.RouteScheduleRows(schedule)); err != nil {
		return err
	}

	activity, err := feed.StopActivity(topN)
	if err != nil {
		return err
	}
	if err := writeTable(report.StopActivityFile, report.StopActivityRows(activity)); err != nil {
		return err
	}

	summary, ok, err := feed.DelayKPIs()
	if err != nil {
		return err
	}
	if !ok {
		logger.Warn("no delays loaded, skipping delay KPIs", "feed", feed.ID())
		return nil
	}
	if err := writeTable(report.DelaySummaryFile, report.DelaySummaryRows(summary)); err != nil {
		return err
	}

	routes, err := feed.RouteDelayKPIs()
	if err != nil {
		return err
	}
	if err := writeTable(report.DelayRouteFile, report.DelayRouteRows(routes)); err != nil {
		return err
	}

	fmt.Printf(
		"%d delay events, avg %.2f min, %.1f%% over 5 min, %.1f%% on time or early\n",
		summary.NEvents,
		summary.AvgDelayMin,
		summary.ShareOver5Min*100,
		summary.ShareOnTimeOrEarly*100,
	)

	return nil
}
