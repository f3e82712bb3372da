// Package delay synthesizes plausible arrival delays for scheduled
// stop events, for use where no real-time feed is available.
//
// Every event draws, in order: a category, a delay magnitude from
// the category's distribution, and a reason from the category's
// vocabulary. Given the same seed and input order, output is
// identical across runs.
package delay

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"sort"
	"time"

	"tidbyt.dev/gtfskpi/model"
	"tidbyt.dev/gtfskpi/schedtime"
)

const ServiceDateLayout = "2006-01-02"

var ErrEmptyInput = errors.New("no events to synthesize delays for")

// Returns a generator for the given seed. Synthesis and sampling
// both draw from one of these.
func NewRand(seed int64) *rand.Rand {
	return rand.New(rand.NewPCG(uint64(seed), 0x9e3779b97f4a7c15))
}

type Synthesizer struct {
	rng *rand.Rand
}

func NewSynthesizer(seed int64) *Synthesizer {
	return &Synthesizer{rng: NewRand(seed)}
}

// Draws from r. The synthesizer takes ownership: r must not be
// shared with other consumers if reproducibility matters.
func NewSynthesizerWithRand(r *rand.Rand) *Synthesizer {
	return &Synthesizer{rng: r}
}

// Synthesizes one DelayEvent per input event, stamped with
// serviceDate (YYYY-MM-DD).
//
// DelayMinutes is kept as drawn. Only ActualArrival is clamped so
// it never precedes the start of the service day.
//
// Output is ordered by (service_date, route_id, trip_id, stop_id).
func (s *Synthesizer) Synthesize(events []model.ScheduledStopEvent, serviceDate string) ([]model.DelayEvent, error) {
	if len(events) == 0 {
		return nil, ErrEmptyInput
	}

	if _, err := time.Parse(ServiceDateLayout, serviceDate); err != nil {
		return nil, fmt.Errorf("invalid service date '%s': %w", serviceDate, err)
	}

	delays := make([]model.DelayEvent, 0, len(events))
	for i, e := range events {
		planned, err := schedtime.ToSeconds(e.Time)
		if err != nil {
			return nil, fmt.Errorf("event %d (trip '%s', stop '%s'): %w", i, e.TripID, e.StopID, err)
		}

		category := drawCategory(s.rng)
		spec := categories[category]
		minutes := spec.magnitude(s.rng)
		reason := spec.reasons[s.rng.IntN(len(spec.reasons))]

		delays = append(delays, model.DelayEvent{
			ServiceDate:    serviceDate,
			TripID:         e.TripID,
			StopID:         e.StopID,
			RouteID:        e.RouteID,
			PlannedArrival: e.Time,
			ActualArrival:  ActualArrival(planned, minutes),
			DelayMinutes:   minutes,
			Reason:         string(reason),
		})
	}

	SortEvents(delays)

	return delays, nil
}

// Shifts a planned arrival (seconds since service start) by a delay
// in minutes, clamping at the start of the service day.
func ActualArrival(plannedSeconds int, delayMinutes int) string {
	actual := plannedSeconds + delayMinutes*60
	if actual < 0 {
		actual = 0
	}
	return schedtime.FromSeconds(actual)
}

// Sorts by (service_date, route_id, trip_id, stop_id). Stable, so
// equal keys keep their relative order.
func SortEvents(delays []model.DelayEvent) {
	sort.SliceStable(delays, func(i, j int) bool {
		a, b := delays[i], delays[j]
		if a.ServiceDate != b.ServiceDate {
			return a.ServiceDate < b.ServiceDate
		}
		if a.RouteID != b.RouteID {
			return a.RouteID < b.RouteID
		}
		if a.TripID != b.TripID {
			return a.TripID < b.TripID
		}
		return a.StopID < b.StopID
	})
}

// Counts events per category, as implied by their reason codes.
// Events with unknown reasons are not counted.
func CountByCategory(delays []model.DelayEvent) map[Category]int {
	counts := map[Category]int{}
	for _, d := range delays {
		if c, ok := CategoryOf(d.Reason); ok {
			counts[c]++
		}
	}
	return counts
}

// Selects min(n, len(events)) events uniformly without replacement,
// returned in selection order. Selection is seeded independently of
// synthesis so that both stages are reproducible.
func Sample(events []model.ScheduledStopEvent, n int, seed int64) []model.ScheduledStopEvent {
	if n <= 0 || len(events) == 0 {
		return []model.ScheduledStopEvent{}
	}
	if n > len(events) {
		n = len(events)
	}

	r := NewRand(seed)

	idx := make([]int, len(events))
	for i := range idx {
		idx[i] = i
	}

	// Partial Fisher-Yates: the first n slots end up holding the
	// sample.
	sample := make([]model.ScheduledStopEvent, n)
	for i := 0; i < n; i++ {
		j := i + r.IntN(len(idx)-i)
		idx[i], idx[j] = idx[j], idx[i]
		sample[i] = events[idx[i]]
	}

	return sample
}
