// Package report renders result tables as CSV. Files with a .gz
// suffix are gzip compressed.
package report

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/gocarina/gocsv"
	"github.com/klauspost/compress/gzip"

	"tidbyt.dev/gtfskpi/headway"
	"tidbyt.dev/gtfskpi/kpi"
	"tidbyt.dev/gtfskpi/model"
	"tidbyt.dev/gtfskpi/storage"
)

// Default file names for each table.
const (
	DelaysFile        = "delays_sample.csv"
	HeadwaysFile      = "route_headways.csv"
	RouteScheduleFile = "route_schedule_kpis.csv"
	StopActivityFile  = "stop_activity_kpis.csv"
	DelayRouteFile    = "delay_kpis_route.csv"
	DelaySummaryFile  = "delay_kpis.csv"
	FeedSummaryFile   = "feed_summary.csv"
)

type DelayRow struct {
	ServiceDate    string `csv:"service_date"`
	TripID         string `csv:"trip_id"`
	StopID         string `csv:"stop_id"`
	RouteID        string `csv:"route_id"`
	PlannedArrival string `csv:"planned_arrival"`
	ActualArrival  string `csv:"actual_arrival"`
	DelayMin       int    `csv:"delay_min"`
	Reason         string `csv:"reason"`
}

type HeadwayRow struct {
	RouteID          string  `csv:"route_id"`
	NHeadways        int     `csv:"n_headways"`
	AvgHeadwayMin    float64 `csv:"avg_headway_min"`
	MedianHeadwayMin float64 `csv:"median_headway_min"`
	MinHeadwayMin    float64 `csv:"min_headway_min"`
	MaxHeadwayMin    float64 `csv:"max_headway_min"`
}

// Headway columns are blank for routes without headways.
type RouteScheduleRow struct {
	RouteID          string `csv:"route_id"`
	RouteShortName   string `csv:"route_short_name"`
	RouteLongName    string `csv:"route_long_name"`
	RouteType        int    `csv:"route_type"`
	NTrips           int    `csv:"n_trips"`
	NHeadways        string `csv:"n_headways"`
	AvgHeadwayMin    string `csv:"avg_headway_min"`
	MedianHeadwayMin string `csv:"median_headway_min"`
	MinHeadwayMin    string `csv:"min_headway_min"`
	MaxHeadwayMin    string `csv:"max_headway_min"`
}

type StopActivityRow struct {
	StopID    string  `csv:"stop_id"`
	StopName  string  `csv:"stop_name"`
	StopLat   float64 `csv:"stop_lat"`
	StopLon   float64 `csv:"stop_lon"`
	NArrivals int     `csv:"n_arrivals"`
}

type DelayRouteRow struct {
	RouteID            string  `csv:"route_id"`
	RouteShortName     string  `csv:"route_short_name"`
	RouteLongName      string  `csv:"route_long_name"`
	NDelayEvents       int     `csv:"n_delay_events"`
	AvgDelayMin        float64 `csv:"avg_delay_min"`
	ShareOver5Min      float64 `csv:"share_over_5min"`
	ShareOnTimeOrEarly float64 `csv:"share_on_time_or_early"`
}

type DelaySummaryRow struct {
	NEvents            int     `csv:"n_events"`
	AvgDelayMin        float64 `csv:"avg_delay_min"`
	ShareOver5Min      float64 `csv:"share_over_5min"`
	ShareOnTimeOrEarly float64 `csv:"share_on_time_or_early"`
}

type MetricRow struct {
	Metric string `csv:"metric"`
	Value  int    `csv:"value"`
}

func DelayRows(delays []model.DelayEvent) []DelayRow {
	rows := make([]DelayRow, 0, len(delays))
	for _, d := range delays {
		rows = append(rows, DelayRow{
			ServiceDate:    d.ServiceDate,
			TripID:         d.TripID,
			StopID:         d.StopID,
			RouteID:        d.RouteID,
			PlannedArrival: d.PlannedArrival,
			ActualArrival:  d.ActualArrival,
			DelayMin:       d.DelayMinutes,
			Reason:         d.Reason,
		})
	}
	return rows
}

func HeadwayRows(stats []headway.RouteStats) []HeadwayRow {
	rows := make([]HeadwayRow, 0, len(stats))
	for _, s := range stats {
		rows = append(rows, HeadwayRow{
			RouteID:          s.RouteID,
			NHeadways:        s.Count,
			AvgHeadwayMin:    s.Mean,
			MedianHeadwayMin: s.Median,
			MinHeadwayMin:    s.Min,
			MaxHeadwayMin:    s.Max,
		})
	}
	return rows
}

func formatMinutes(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func RouteScheduleRows(routes []kpi.RouteSchedule) []RouteScheduleRow {
	rows := make([]RouteScheduleRow, 0, len(routes))
	for _, r := range routes {
		row := RouteScheduleRow{
			RouteID:        r.RouteID,
			RouteShortName: r.RouteShortName,
			RouteLongName:  r.RouteLongName,
			RouteType:      int(r.RouteType),
			NTrips:         r.NTrips,
		}
		if r.Headway != nil {
			row.NHeadways = strconv.Itoa(r.Headway.Count)
			row.AvgHeadwayMin = formatMinutes(r.Headway.Mean)
			row.MedianHeadwayMin = formatMinutes(r.Headway.Median)
			row.MinHeadwayMin = formatMinutes(r.Headway.Min)
			row.MaxHeadwayMin = formatMinutes(r.Headway.Max)
		}
		rows = append(rows, row)
	}
	return rows
}

func StopActivityRows(activity []storage.StopActivity) []StopActivityRow {
	rows := make([]StopActivityRow, 0, len(activity))
	for _, a := range activity {
		rows = append(rows, StopActivityRow{
			StopID:    a.StopID,
			StopName:  a.StopName,
			StopLat:   a.StopLat,
			StopLon:   a.StopLon,
			NArrivals: a.NArrivals,
		})
	}
	return rows
}

func DelayRouteRows(routes []kpi.DelayRoute) []DelayRouteRow {
	rows := make([]DelayRouteRow, 0, len(routes))
	for _, r := range routes {
		rows = append(rows, DelayRouteRow{
			RouteID:            r.RouteID,
			RouteShortName:     r.RouteShortName,
			RouteLongName:      r.RouteLongName,
			NDelayEvents:       r.NEvents,
			AvgDelayMin:        r.AvgDelayMin,
			ShareOver5Min:      r.ShareOver5Min,
			ShareOnTimeOrEarly: r.ShareOnTimeOrEarly,
		})
	}
	return rows
}

func DelaySummaryRows(summary kpi.DelaySummary) []DelaySummaryRow {
	return []DelaySummaryRow{{
		NEvents:            summary.NEvents,
		AvgDelayMin:        summary.AvgDelayMin,
		ShareOver5Min:      summary.ShareOver5Min,
		ShareOnTimeOrEarly: summary.ShareOnTimeOrEarly,
	}}
}

func FeedSummaryRows(counts storage.FeedCounts) []MetricRow {
	return []MetricRow{
		{Metric: "routes", Value: counts.Routes},
		{Metric: "trips", Value: counts.Trips},
		{Metric: "stops", Value: counts.Stops},
	}
}

// Writes rows (a slice of one of the row types above) as CSV with
// a header line.
func WriteCSV(w io.Writer, rows interface{}) error {
	if err := gocsv.Marshal(rows, w); err != nil {
		return fmt.Errorf("marshaling csv: %w", err)
	}
	return nil
}

// Writes delay events in the column layout read by
// parse.ParseDelays.
func WriteDelays(w io.Writer, delays []model.DelayEvent) error {
	return WriteCSV(w, DelayRows(delays))
}

// Writes rows to path, creating parent directories as needed.
func WriteFile(path string, rows interface{}) (err error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("creating %s: %w", dir, err)
		}
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating %s: %w", path, err)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("closing %s: %w", path, cerr)
		}
	}()

	if !strings.HasSuffix(path, ".gz") {
		return WriteCSV(f, rows)
	}

	gz := gzip.NewWriter(f)
	if err := WriteCSV(gz, rows); err != nil {
		gz.Close()
		return err
	}
	if err := gz.Close(); err != nil {
		return fmt.Errorf("compressing %s: %w", path, err)
	}
	return nil
}

type gzipFile struct {
	*gzip.Reader
	f *os.File
}

func (g *gzipFile) Close() error {
	g.Reader.Close()
	return g.f.Close()
}

// Opens a CSV file for reading, decompressing it if path ends in
// .gz.
func OpenFile(path string) (io.ReadCloser, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}

	if !strings.HasSuffix(path, ".gz") {
		return f, nil
	}

	gz, err := gzip.NewReader(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("decompressing %s: %w", path, err)
	}
	return &gzipFile{Reader: gz, f: f}, nil
}
