package report_test

import (
	"bytes"
	"io"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tidbyt.dev/gtfskpi/headway"
	"tidbyt.dev/gtfskpi/kpi"
	"tidbyt.dev/gtfskpi/model"
	"tidbyt.dev/gtfskpi/parse"
	"tidbyt.dev/gtfskpi/report"
	"tidbyt.dev/gtfskpi/storage"
)

var testDelays = []model.DelayEvent{
	{
		ServiceDate:    "2025-11-01",
		TripID:         "t1",
		StopID:         "s1",
		RouteID:        "r1",
		PlannedArrival: "00:02:00",
		ActualArrival:  "00:00:00",
		DelayMinutes:   -10,
		Reason:         "early_departure",
	},
	{
		ServiceDate:    "2025-11-01",
		TripID:         "t2",
		StopID:         "s1",
		RouteID:        "r1",
		PlannedArrival: "25:10:00",
		ActualArrival:  "25:17:00",
		DelayMinutes:   7,
		Reason:         "congestion",
	},
}

func TestWriteDelays(t *testing.T) {
	buf := &bytes.Buffer{}
	require.NoError(t, report.WriteDelays(buf, testDelays))

	assert.Equal(t, `service_date,trip_id,stop_id,route_id,planned_arrival,actual_arrival,delay_min,reason
2025-11-01,t1,s1,r1,00:02:00,00:00:00,-10,early_departure
2025-11-01,t2,s1,r1,25:10:00,25:17:00,7,congestion
`, buf.String())

	// And back again
	delays, err := parse.ParseDelays(buf)
	require.NoError(t, err)
	assert.Equal(t, testDelays, delays)
}

func TestWriteFileGzip(t *testing.T) {
	for _, name := range []string{"delays.csv", "delays.csv.gz"} {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "nested", name)
			require.NoError(t, report.WriteFile(path, report.DelayRows(testDelays)))

			f, err := report.OpenFile(path)
			require.NoError(t, err)
			defer f.Close()

			delays, err := parse.ParseDelays(f)
			require.NoError(t, err)
			assert.Equal(t, testDelays, delays)
		})
	}
}

func TestOpenFileMissing(t *testing.T) {
	_, err := report.OpenFile(filepath.Join(t.TempDir(), "nope.csv"))
	assert.Error(t, err)
}

func TestRouteScheduleRows(t *testing.T) {
	rows := report.RouteScheduleRows([]kpi.RouteSchedule{
		{
			RouteID:        "r1",
			RouteShortName: "R1",
			RouteLongName:  "Route One",
			RouteType:      model.RouteTypeBus,
			NTrips:         4,
			Headway: &headway.RouteStats{
				RouteID: "r1",
				Count:   2,
				Mean:    12.5,
				Median:  12.5,
				Min:     10,
				Max:     15,
			},
		},
		{
			RouteID:        "r2",
			RouteShortName: "R2",
			RouteType:      model.RouteTypeRail,
			NTrips:         1,
		},
	})

	buf := &bytes.Buffer{}
	require.NoError(t, report.WriteCSV(buf, rows))
	assert.Equal(t, `route_id,route_short_name,route_long_name,route_type,n_trips,n_headways,avg_headway_min,median_headway_min,min_headway_min,max_headway_min
r1,R1,Route One,3,4,2,12.5,12.5,10,15
r2,R2,,2,1,,,,,
`, buf.String())
}

func TestHeadwayRows(t *testing.T) {
	rows := report.HeadwayRows([]headway.RouteStats{
		{RouteID: "r1", Count: 2, Mean: 12.5, Median: 12.5, Min: 10, Max: 15},
	})

	buf := &bytes.Buffer{}
	require.NoError(t, report.WriteCSV(buf, rows))
	assert.Equal(t, `route_id,n_headways,avg_headway_min,median_headway_min,min_headway_min,max_headway_min
r1,2,12.5,12.5,10,15
`, buf.String())
}

func TestDelayKPIRows(t *testing.T) {
	buf := &bytes.Buffer{}
	require.NoError(t, report.WriteCSV(buf, report.DelayRouteRows([]kpi.DelayRoute{{
		RouteID:        "r1",
		RouteShortName: "R1",
		RouteLongName:  "Route One",
		DelaySummary: kpi.DelaySummary{
			NEvents:            4,
			AvgDelayMin:        2.5,
			ShareOver5Min:      0.25,
			ShareOnTimeOrEarly: 0.5,
		},
	}})))
	assert.Equal(t, `route_id,route_short_name,route_long_name,n_delay_events,avg_delay_min,share_over_5min,share_on_time_or_early
r1,R1,Route One,4,2.5,0.25,0.5
`, buf.String())

	buf.Reset()
	require.NoError(t, report.WriteCSV(buf, report.DelaySummaryRows(kpi.DelaySummary{
		NEvents:            2,
		AvgDelayMin:        -1.5,
		ShareOver5Min:      0.5,
		ShareOnTimeOrEarly: 0.5,
	})))
	assert.Equal(t, `n_events,avg_delay_min,share_over_5min,share_on_time_or_early
2,-1.5,0.5,0.5
`, buf.String())
}

func TestStopAndFeedRows(t *testing.T) {
	buf := &bytes.Buffer{}
	require.NoError(t, report.WriteCSV(buf, report.StopActivityRows([]storage.StopActivity{
		{StopID: "s1", StopName: "Alexanderplatz", StopLat: 52.5219, StopLon: 13.4132, NArrivals: 12},
	})))
	assert.Equal(t, `stop_id,stop_name,stop_lat,stop_lon,n_arrivals
s1,Alexanderplatz,52.5219,13.4132,12
`, buf.String())

	buf.Reset()
	require.NoError(t, report.WriteCSV(buf, report.FeedSummaryRows(storage.FeedCounts{Routes: 1, Trips: 2, Stops: 3})))
	out, err := io.ReadAll(buf)
	require.NoError(t, err)
	assert.Equal(t, "metric,value\nroutes,1\ntrips,2\nstops,3\n", string(out))
}
