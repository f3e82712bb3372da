package headway

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tidbyt.dev/gtfskpi/model"
	"tidbyt.dev/gtfskpi/schedtime"
)

func ev(trip, route, stop, at string) model.ScheduledStopEvent {
	return model.ScheduledStopEvent{TripID: trip, RouteID: route, StopID: stop, Time: at}
}

func TestObserveSinglePartition(t *testing.T) {
	result, err := Compute([]model.ScheduledStopEvent{
		ev("t3", "r", "s", "00:25:00"),
		ev("t1", "r", "s", "00:00:00"),
		ev("t2", "r", "s", "00:10:00"),
	})
	require.NoError(t, err)

	assert.Equal(t, []Observation{
		{RouteID: "r", StopID: "s", GapSeconds: 600},
		{RouteID: "r", StopID: "s", GapSeconds: 900},
	}, result.Observations)

	require.Contains(t, result.Routes, "r")
	stats := result.Routes["r"]
	assert.Equal(t, 2, stats.Count)
	assert.InDelta(t, 12.5, stats.Mean, 1e-9)
	assert.InDelta(t, 12.5, stats.Median, 1e-9)
	assert.InDelta(t, 10.0, stats.Min, 1e-9)
	assert.InDelta(t, 15.0, stats.Max, 1e-9)
}

func TestObserveAbsence(t *testing.T) {
	result, err := Compute([]model.ScheduledStopEvent{
		// r1 has two stops, each visited once: no headways
		ev("t1", "r1", "a", "08:00:00"),
		ev("t1", "r1", "b", "08:05:00"),

		// r2 has one stop visited twice
		ev("t2", "r2", "a", "08:00:00"),
		ev("t3", "r2", "a", "08:20:00"),
		ev("t2", "r2", "c", "09:00:00"),
	})
	require.NoError(t, err)

	assert.NotContains(t, result.Routes, "r1")
	require.Contains(t, result.Routes, "r2")
	assert.Equal(t, 1, result.Routes["r2"].Count)
	assert.InDelta(t, 20.0, result.Routes["r2"].Mean, 1e-9)
	assert.Equal(t, []Observation{{"r2", "a", 1200}}, result.Observations)
}

func TestObservePartitionsByRouteAndStop(t *testing.T) {
	// Same stop, different routes: never compared with each other.
	observations, err := Observe([]model.ScheduledStopEvent{
		ev("t1", "r1", "s", "08:00:00"),
		ev("t2", "r2", "s", "08:01:00"),
		ev("t3", "r1", "s", "08:30:00"),
		ev("t4", "r2", "s", "08:11:00"),
	})
	require.NoError(t, err)

	assert.Equal(t, []Observation{
		{"r1", "s", 1800},
		{"r2", "s", 600},
	}, observations)
}

func TestObserveBunching(t *testing.T) {
	observations, err := Observe([]model.ScheduledStopEvent{
		ev("t1", "r", "s", "08:00:00"),
		ev("t2", "r", "s", "08:00:00"),
		ev("t3", "r", "s", "08:15:00"),
	})
	require.NoError(t, err)

	assert.Equal(t, []Observation{
		{"r", "s", 0},
		{"r", "s", 900},
	}, observations)
}

func TestObservePastMidnight(t *testing.T) {
	observations, err := Observe([]model.ScheduledStopEvent{
		ev("t2", "r", "s", "24:10:00"),
		ev("t1", "r", "s", "23:50:00"),
		ev("t3", "r", "s", "25:00:00"),
	})
	require.NoError(t, err)

	assert.Equal(t, []Observation{
		{"r", "s", 1200},
		{"r", "s", 3000},
	}, observations)

	for _, o := range observations {
		assert.GreaterOrEqual(t, o.GapSeconds, 0)
	}
}

func TestObserveEmpty(t *testing.T) {
	result, err := Compute(nil)
	require.NoError(t, err)
	assert.Empty(t, result.Observations)
	assert.Empty(t, result.Routes)
	assert.Empty(t, result.Sorted())
}

func TestObserveMalformedTimeFailsBatch(t *testing.T) {
	_, err := Compute([]model.ScheduledStopEvent{
		ev("t1", "r", "s", "08:00:00"),
		ev("t2", "r", "s", "08:xx:00"),
		ev("t3", "r", "s", "08:20:00"),
	})
	require.Error(t, err)

	var mte *schedtime.MalformedTimeError
	assert.True(t, errors.As(err, &mte))
	assert.Equal(t, "08:xx:00", mte.Value)
}

func TestSummarize(t *testing.T) {
	stats := Summarize([]Observation{
		{"a", "s1", 60},
		{"a", "s2", 180},
		{"a", "s1", 120},
		{"a", "s3", 600},
		{"b", "s1", 300},
	})

	require.Len(t, stats, 2)

	a := stats["a"]
	assert.Equal(t, "a", a.RouteID)
	assert.Equal(t, 4, a.Count)
	assert.InDelta(t, 4.0, a.Mean, 1e-9)
	assert.InDelta(t, 2.5, a.Median, 1e-9)
	assert.InDelta(t, 1.0, a.Min, 1e-9)
	assert.InDelta(t, 10.0, a.Max, 1e-9)

	b := stats["b"]
	assert.Equal(t, 1, b.Count)
	assert.InDelta(t, 5.0, b.Mean, 1e-9)
	assert.InDelta(t, 5.0, b.Median, 1e-9)
	assert.InDelta(t, 5.0, b.Min, 1e-9)
	assert.InDelta(t, 5.0, b.Max, 1e-9)
}

func TestSorted(t *testing.T) {
	result, err := Compute([]model.ScheduledStopEvent{
		ev("t1", "z", "s", "08:00:00"),
		ev("t2", "z", "s", "08:10:00"),
		ev("t1", "a", "s", "08:00:00"),
		ev("t2", "a", "s", "08:05:00"),
		ev("t1", "m", "s", "08:00:00"),
		ev("t2", "m", "s", "08:07:00"),
	})
	require.NoError(t, err)

	sorted := result.Sorted()
	require.Len(t, sorted, 3)
	assert.Equal(t, "a", sorted[0].RouteID)
	assert.Equal(t, "m", sorted[1].RouteID)
	assert.Equal(t, "z", sorted[2].RouteID)
}
