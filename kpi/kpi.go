// Package kpi turns headway statistics and delay events into flat
// per-route reporting rows.
//
// Routes without data are omitted rather than reported as zero.
package kpi

import (
	"sort"

	"tidbyt.dev/gtfskpi/headway"
	"tidbyt.dev/gtfskpi/model"
)

// Delays strictly above this many minutes count as "over".
const OverThresholdMinutes = 5

type DelaySummary struct {
	NEvents            int
	AvgDelayMin        float64
	ShareOver5Min      float64
	ShareOnTimeOrEarly float64
}

type DelayRoute struct {
	RouteID        string
	RouteShortName string
	RouteLongName  string
	DelaySummary
}

// Route level schedule KPIs. Headway is nil when the route has no
// headway observations.
type RouteSchedule struct {
	RouteID        string
	RouteShortName string
	RouteLongName  string
	RouteType      model.RouteType
	NTrips         int
	Headway        *headway.RouteStats
}

type accumulator struct {
	n      int
	sum    int
	over   int
	onTime int
}

func (a *accumulator) add(minutes int) {
	a.n++
	a.sum += minutes
	if minutes > OverThresholdMinutes {
		a.over++
	}
	if minutes <= 0 {
		a.onTime++
	}
}

func (a *accumulator) summary() DelaySummary {
	n := float64(a.n)
	return DelaySummary{
		NEvents:            a.n,
		AvgDelayMin:        float64(a.sum) / n,
		ShareOver5Min:      float64(a.over) / n,
		ShareOnTimeOrEarly: float64(a.onTime) / n,
	}
}

// Summarizes all delays. Returns false if there are none.
func SummarizeDelays(delays []model.DelayEvent) (DelaySummary, bool) {
	if len(delays) == 0 {
		return DelaySummary{}, false
	}
	acc := &accumulator{}
	for _, d := range delays {
		acc.add(d.DelayMinutes)
	}
	return acc.summary(), true
}

// Per route delay KPIs, joined with route metadata on route_id and
// ordered by route_id.
//
// Delays on routes missing from routes are dropped, and routes with
// no delays are omitted.
func DelaysByRoute(delays []model.DelayEvent, routes []model.Route) []DelayRoute {
	routeByID := make(map[string]model.Route, len(routes))
	for _, r := range routes {
		routeByID[r.ID] = r
	}

	byRoute := map[string]*accumulator{}
	for _, d := range delays {
		if _, found := routeByID[d.RouteID]; !found {
			continue
		}
		acc, found := byRoute[d.RouteID]
		if !found {
			acc = &accumulator{}
			byRoute[d.RouteID] = acc
		}
		acc.add(d.DelayMinutes)
	}

	rows := make([]DelayRoute, 0, len(byRoute))
	for routeID, acc := range byRoute {
		r := routeByID[routeID]
		rows = append(rows, DelayRoute{
			RouteID:        r.ID,
			RouteShortName: r.ShortName,
			RouteLongName:  r.LongName,
			DelaySummary:   acc.summary(),
		})
	}

	sort.Slice(rows, func(i, j int) bool {
		return rows[i].RouteID < rows[j].RouteID
	})

	return rows
}

// Per route delay KPIs where each delay is attributed to the route of
// its trip, as listed in trips, rather than to its own route_id.
// Delays on unknown trips are dropped.
func DelaysByTripRoute(delays []model.DelayEvent, trips []model.Trip, routes []model.Route) []DelayRoute {
	routeByTrip := make(map[string]string, len(trips))
	for _, t := range trips {
		routeByTrip[t.ID] = t.RouteID
	}

	attributed := make([]model.DelayEvent, 0, len(delays))
	for _, d := range delays {
		routeID, found := routeByTrip[d.TripID]
		if !found {
			continue
		}
		d.RouteID = routeID
		attributed = append(attributed, d)
	}

	return DelaysByRoute(attributed, routes)
}

// Per route trip counts merged with headway statistics, ordered by
// route_id. Routes without trips are omitted.
func ScheduleByRoute(
	routes []model.Route,
	tripCounts map[string]int,
	headways map[string]headway.RouteStats,
) []RouteSchedule {

	rows := []RouteSchedule{}
	for _, r := range routes {
		n := tripCounts[r.ID]
		if n == 0 {
			continue
		}

		row := RouteSchedule{
			RouteID:        r.ID,
			RouteShortName: r.ShortName,
			RouteLongName:  r.LongName,
			RouteType:      r.Type,
			NTrips:         n,
		}
		if stats, found := headways[r.ID]; found {
			stats := stats
			row.Headway = &stats
		}
		rows = append(rows, row)
	}

	sort.Slice(rows, func(i, j int) bool {
		return rows[i].RouteID < rows[j].RouteID
	})

	return rows
}
