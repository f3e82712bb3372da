// Package headway computes the time between consecutive scheduled
// arrivals at the same stop on the same route, and summarizes those
// gaps per route.
package headway

import (
	"fmt"
	"sort"

	"tidbyt.dev/gtfskpi/model"
	"tidbyt.dev/gtfskpi/schedtime"
)

// The gap between two time adjacent arrivals sharing route and stop.
type Observation struct {
	RouteID    string
	StopID     string
	GapSeconds int
}

// Distribution of headways on a route, in minutes.
type RouteStats struct {
	RouteID string
	Count   int
	Mean    float64
	Median  float64
	Min     float64
	Max     float64
}

type Result struct {
	Observations []Observation

	// Keyed by route_id. Routes without observations have no
	// entry: headway is undefined for them, not zero.
	Routes map[string]RouteStats
}

type partitionKey struct {
	routeID string
	stopID  string
}

type arrival struct {
	seconds int
	index   int
}

// Computes headway observations for a batch of events.
//
// Events are partitioned by (route_id, stop_id) and each partition
// sorted by scheduled time, keeping input order among equal times.
// A partition of n events yields n-1 observations; the first arrival
// has no predecessor and produces nothing.
//
// Observations are ordered by route_id, then stop_id, then time.
//
// A single malformed time fails the whole batch.
func Observe(events []model.ScheduledStopEvent) ([]Observation, error) {
	partitions := map[partitionKey][]arrival{}

	for i, e := range events {
		sec, err := schedtime.ToSeconds(e.Time)
		if err != nil {
			return nil, fmt.Errorf("event %d (trip '%s', stop '%s'): %w", i, e.TripID, e.StopID, err)
		}
		key := partitionKey{e.RouteID, e.StopID}
		partitions[key] = append(partitions[key], arrival{sec, i})
	}

	keys := make([]partitionKey, 0, len(partitions))
	for key := range partitions {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].routeID != keys[j].routeID {
			return keys[i].routeID < keys[j].routeID
		}
		return keys[i].stopID < keys[j].stopID
	})

	observations := []Observation{}
	for _, key := range keys {
		arrivals := partitions[key]
		if len(arrivals) < 2 {
			continue
		}

		// Appended in input order, so a stable sort breaks ties
		// by input position.
		sort.SliceStable(arrivals, func(i, j int) bool {
			return arrivals[i].seconds < arrivals[j].seconds
		})

		for i := 1; i < len(arrivals); i++ {
			observations = append(observations, Observation{
				RouteID:    key.routeID,
				StopID:     key.stopID,
				GapSeconds: arrivals[i].seconds - arrivals[i-1].seconds,
			})
		}
	}

	return observations, nil
}

// Aggregates observations per route. Only routes with at least one
// observation appear in the result.
func Summarize(observations []Observation) map[string]RouteStats {
	byRoute := map[string][]float64{}
	for _, o := range observations {
		byRoute[o.RouteID] = append(byRoute[o.RouteID], float64(o.GapSeconds)/60.0)
	}

	stats := make(map[string]RouteStats, len(byRoute))
	for routeID, gaps := range byRoute {
		sort.Float64s(gaps)

		sum := 0.0
		for _, g := range gaps {
			sum += g
		}

		n := len(gaps)
		median := gaps[n/2]
		if n%2 == 0 {
			median = (gaps[n/2-1] + gaps[n/2]) / 2
		}

		stats[routeID] = RouteStats{
			RouteID: routeID,
			Count:   n,
			Mean:    sum / float64(n),
			Median:  median,
			Min:     gaps[0],
			Max:     gaps[n-1],
		}
	}

	return stats
}

// Runs Observe and Summarize. Empty input gives an empty result,
// not an error.
func Compute(events []model.ScheduledStopEvent) (*Result, error) {
	observations, err := Observe(events)
	if err != nil {
		return nil, err
	}

	return &Result{
		Observations: observations,
		Routes:       Summarize(observations),
	}, nil
}

// Route stats ordered by route_id.
func (r *Result) Sorted() []RouteStats {
	stats := make([]RouteStats, 0, len(r.Routes))
	for _, s := range r.Routes {
		stats = append(stats, s)
	}
	sort.Slice(stats, func(i, j int) bool {
		return stats[i].RouteID < stats[j].RouteID
	})
	return stats
}
