package delay

import (
	"errors"
	"fmt"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tidbyt.dev/gtfskpi/model"
	"tidbyt.dev/gtfskpi/schedtime"
)

// n events spread over a handful of routes, trips and stops, with
// times starting just after midnight.
func buildEvents(n int) []model.ScheduledStopEvent {
	events := make([]model.ScheduledStopEvent, n)
	for i := range events {
		events[i] = model.ScheduledStopEvent{
			TripID:  fmt.Sprintf("t%04d", i/10),
			RouteID: fmt.Sprintf("r%d", i%7),
			StopID:  fmt.Sprintf("s%02d", i%10),
			Time:    schedtime.FromSeconds((i * 97) % (26 * 3600)),
		}
	}
	return events
}

func TestSynthesizeCategoryShares(t *testing.T) {
	delays, err := NewSynthesizer(42).Synthesize(buildEvents(20000), "2025-11-01")
	require.NoError(t, err)
	require.Len(t, delays, 20000)

	counts := CountByCategory(delays)
	total := 0
	for _, c := range Categories() {
		total += counts[c]
	}
	require.Equal(t, 20000, total)

	for _, c := range Categories() {
		share := float64(counts[c]) / 20000
		assert.InDelta(t, c.Weight(), share, 0.02, "category %s", c)
	}
}

func TestSynthesizeDeterministic(t *testing.T) {
	events := buildEvents(5000)

	a, err := NewSynthesizer(42).Synthesize(events, "2025-11-01")
	require.NoError(t, err)
	b, err := NewSynthesizer(42).Synthesize(events, "2025-11-01")
	require.NoError(t, err)
	assert.Equal(t, a, b)

	c, err := NewSynthesizer(43).Synthesize(events, "2025-11-01")
	require.NoError(t, err)
	assert.NotEqual(t, a, c)
}

func TestSynthesizeDrawOrder(t *testing.T) {
	// Replays the documented per-event draw sequence by hand:
	// category, then magnitude, then reason.
	events := []model.ScheduledStopEvent{
		{TripID: "t1", RouteID: "r", StopID: "a", Time: "10:00:00"},
		{TripID: "t2", RouteID: "r", StopID: "a", Time: "10:10:00"},
		{TripID: "t3", RouteID: "r", StopID: "a", Time: "10:20:00"},
	}

	delays, err := NewSynthesizer(7).Synthesize(events, "2025-11-01")
	require.NoError(t, err)
	require.Len(t, delays, 3)

	r := NewRand(7)
	for i, e := range events {
		category := drawCategory(r)
		minutes := categories[category].magnitude(r)
		reasons := categories[category].reasons
		reason := reasons[r.IntN(len(reasons))]

		// Output is sorted by trip_id, which matches input here.
		assert.Equal(t, e.TripID, delays[i].TripID)
		assert.Equal(t, minutes, delays[i].DelayMinutes)
		assert.Equal(t, string(reason), delays[i].Reason)
	}
}

func TestSynthesizeMagnitudeBounds(t *testing.T) {
	delays, err := NewSynthesizer(42).Synthesize(buildEvents(20000), "2025-11-01")
	require.NoError(t, err)

	for _, d := range delays {
		c, ok := CategoryOf(d.Reason)
		require.True(t, ok, "unknown reason %q", d.Reason)

		lo, hi := c.Bounds()
		require.GreaterOrEqual(t, d.DelayMinutes, lo, "category %s", c)
		require.LessOrEqual(t, d.DelayMinutes, hi, "category %s", c)
	}

	assert.Equal(t, [2]int{-2, 3}, bounds(OnTime))
	assert.Equal(t, [2]int{1, 5}, bounds(SmallDelay))
	assert.Equal(t, [2]int{5, 20}, bounds(BigDelay))
	assert.Equal(t, [2]int{-5, -1}, bounds(Early))
}

func bounds(c Category) [2]int {
	lo, hi := c.Bounds()
	return [2]int{lo, hi}
}

func TestSynthesizeCoversMagnitudeRanges(t *testing.T) {
	delays, err := NewSynthesizer(1).Synthesize(buildEvents(20000), "2025-11-01")
	require.NoError(t, err)

	seen := map[Category]map[int]bool{}
	for _, d := range delays {
		c, _ := CategoryOf(d.Reason)
		if seen[c] == nil {
			seen[c] = map[int]bool{}
		}
		seen[c][d.DelayMinutes] = true
	}

	for _, c := range []Category{SmallDelay, BigDelay, Early} {
		lo, hi := c.Bounds()
		for m := lo; m <= hi; m++ {
			assert.True(t, seen[c][m], "category %s never produced %d", c, m)
		}
	}
}

func TestSynthesizeReasonConsistency(t *testing.T) {
	delays, err := NewSynthesizer(42).Synthesize(buildEvents(10000), "2025-11-01")
	require.NoError(t, err)

	for _, d := range delays {
		c, ok := CategoryOf(d.Reason)
		require.True(t, ok)
		assert.Contains(t, c.Reasons(), Reason(d.Reason))

		// The delay band implied by the sign is consistent with
		// the category.
		switch {
		case d.DelayMinutes < -2:
			assert.Equal(t, Early, c)
		case d.DelayMinutes > 5:
			assert.Equal(t, BigDelay, c)
		}
	}
}

func TestSynthesizeActualArrival(t *testing.T) {
	delays, err := NewSynthesizer(42).Synthesize(buildEvents(5000), "2025-11-01")
	require.NoError(t, err)

	for _, d := range delays {
		planned, err := schedtime.ToSeconds(d.PlannedArrival)
		require.NoError(t, err)
		actual, err := schedtime.ToSeconds(d.ActualArrival)
		require.NoError(t, err)

		assert.GreaterOrEqual(t, actual, 0)
		assert.Equal(t, int(math.Max(0, float64(planned+d.DelayMinutes*60))), actual)
	}
}

func TestActualArrivalClamp(t *testing.T) {
	assert.Equal(t, "00:00:00", ActualArrival(120, -10))
	assert.Equal(t, "00:00:00", ActualArrival(120, -2))
	assert.Equal(t, "00:01:00", ActualArrival(120, -1))
	assert.Equal(t, "00:22:00", ActualArrival(120, 20))
	assert.Equal(t, "24:04:00", ActualArrival(23*3600+59*60, 5))
}

func TestSynthesizeKeepsUnclampedDelay(t *testing.T) {
	// Early events at 00:01:00 clamp the actual arrival, but the
	// drawn delay survives intact.
	events := make([]model.ScheduledStopEvent, 2000)
	for i := range events {
		events[i] = model.ScheduledStopEvent{
			TripID: fmt.Sprintf("t%d", i), RouteID: "r", StopID: "s", Time: "00:01:00",
		}
	}

	delays, err := NewSynthesizer(42).Synthesize(events, "2025-11-01")
	require.NoError(t, err)

	sawClamped := false
	for _, d := range delays {
		if d.DelayMinutes <= -1 {
			assert.Equal(t, "00:00:00", d.ActualArrival)
			sawClamped = true
		}
		if d.DelayMinutes < -1 {
			c, _ := CategoryOf(d.Reason)
			lo, _ := c.Bounds()
			assert.GreaterOrEqual(t, d.DelayMinutes, lo)
		}
	}
	assert.True(t, sawClamped)
}

func TestSynthesizeOrdering(t *testing.T) {
	events := []model.ScheduledStopEvent{
		{TripID: "t2", RouteID: "b", StopID: "s1", Time: "10:00:00"},
		{TripID: "t1", RouteID: "b", StopID: "s2", Time: "10:00:00"},
		{TripID: "t1", RouteID: "b", StopID: "s1", Time: "10:00:00"},
		{TripID: "t9", RouteID: "a", StopID: "s1", Time: "10:00:00"},
	}

	delays, err := NewSynthesizer(42).Synthesize(events, "2025-11-01")
	require.NoError(t, err)

	keys := []string{}
	for _, d := range delays {
		assert.Equal(t, "2025-11-01", d.ServiceDate)
		keys = append(keys, d.RouteID+"/"+d.TripID+"/"+d.StopID)
	}
	assert.Equal(t, []string{"a/t9/s1", "b/t1/s1", "b/t1/s2", "b/t2/s1"}, keys)
}

func TestSynthesizeErrors(t *testing.T) {
	s := NewSynthesizer(42)

	_, err := s.Synthesize(nil, "2025-11-01")
	assert.True(t, errors.Is(err, ErrEmptyInput))

	_, err = s.Synthesize([]model.ScheduledStopEvent{}, "2025-11-01")
	assert.True(t, errors.Is(err, ErrEmptyInput))

	_, err = s.Synthesize(buildEvents(1), "20251101")
	assert.Error(t, err)

	_, err = s.Synthesize([]model.ScheduledStopEvent{
		{TripID: "t", RouteID: "r", StopID: "s", Time: "10:00:00"},
		{TripID: "t", RouteID: "r", StopID: "s2", Time: "10:00"},
	}, "2025-11-01")
	var mte *schedtime.MalformedTimeError
	assert.True(t, errors.As(err, &mte))
}

func TestCategoryOf(t *testing.T) {
	for _, c := range Categories() {
		for _, reason := range c.Reasons() {
			got, ok := CategoryOf(string(reason))
			assert.True(t, ok)
			assert.Equal(t, c, got)
		}
	}

	_, ok := CategoryOf("meteor_strike")
	assert.False(t, ok)

	assert.Equal(t, "on_time", OnTime.String())
	assert.Equal(t, "small_delay", SmallDelay.String())
	assert.Equal(t, "big_delay", BigDelay.String())
	assert.Equal(t, "early", Early.String())
	assert.Equal(t, "unknown", Category(17).String())

	total := 0.0
	for _, c := range Categories() {
		total += c.Weight()
	}
	assert.InDelta(t, 1.0, total, 1e-9)
}

func TestSample(t *testing.T) {
	events := buildEvents(1000)

	sample := Sample(events, 100, 42)
	require.Len(t, sample, 100)

	seen := map[model.ScheduledStopEvent]bool{}
	for _, e := range sample {
		assert.False(t, seen[e], "duplicate %v", e)
		seen[e] = true
	}

	assert.Equal(t, sample, Sample(events, 100, 42))
	assert.NotEqual(t, sample, Sample(events, 100, 43))

	assert.Len(t, Sample(events, 5000, 42), 1000)
	assert.Empty(t, Sample(events, 0, 42))
	assert.Empty(t, Sample(nil, 10, 42))
}
