package storage

import (
	"fmt"
	"sort"

	"tidbyt.dev/gtfskpi/delay"
	"tidbyt.dev/gtfskpi/model"
)

// In memory implementation of Storage below

type memoryMetadataKey struct {
	URL  string
	Hash string
}

type MemoryStorage struct {
	Feeds     map[string]*MemoryStorageFeed
	Metadata  map[memoryMetadataKey]*FeedMetadata
	DelayRuns []*DelayRun
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		Feeds:    map[string]*MemoryStorageFeed{},
		Metadata: map[memoryMetadataKey]*FeedMetadata{},
	}
}

func (s *MemoryStorage) ListFeeds(filter ListFeedsFilter) ([]*FeedMetadata, error) {
	feeds := []*FeedMetadata{}
	for _, metadata := range s.Metadata {
		if filter.URL != "" && metadata.URL != filter.URL {
			continue
		}
		if filter.Hash != "" && metadata.Hash != filter.Hash {
			continue
		}
		feeds = append(feeds, metadata)
	}
	sort.Slice(feeds, func(i, j int) bool {
		return feeds[i].RetrievedAt.After(feeds[j].RetrievedAt)
	})
	return feeds, nil
}

func (s *MemoryStorage) WriteFeedMetadata(feed *FeedMetadata) error {
	s.Metadata[memoryMetadataKey{feed.URL, feed.Hash}] = feed
	return nil
}

func (s *MemoryStorage) GetReader(feedID string) (FeedReader, error) {
	f, ok := s.Feeds[feedID]
	if !ok {
		return nil, fmt.Errorf("feed %s does not exist", feedID)
	}
	return f, nil
}

func (s *MemoryStorage) GetWriter(feedID string) (FeedWriter, error) {
	f := &MemoryStorageFeed{
		routes: map[string]model.Route{},
		stops:  map[string]model.Stop{},
		trips:  map[string]model.Trip{},
	}

	s.Feeds[feedID] = f

	return f, nil
}

func (s *MemoryStorage) WriteDelays(feedID string, run *DelayRun, delays []model.DelayEvent) error {
	f, ok := s.Feeds[feedID]
	if !ok {
		return fmt.Errorf("feed %s does not exist", feedID)
	}

	f.delays = append([]model.DelayEvent{}, delays...)
	delay.SortEvents(f.delays)

	r := *run
	r.Feed = feedID
	s.DelayRuns = append(s.DelayRuns, &r)

	return nil
}

func (s *MemoryStorage) ListDelayRuns(feedID string) ([]*DelayRun, error) {
	runs := []*DelayRun{}
	for _, r := range s.DelayRuns {
		if feedID != "" && r.Feed != feedID {
			continue
		}
		runs = append(runs, r)
	}
	sort.SliceStable(runs, func(i, j int) bool {
		return runs[i].CreatedAt.After(runs[j].CreatedAt)
	})
	return runs, nil
}

type MemoryStorageFeed struct {
	calendars     []model.Calendar
	calendarDates []model.CalendarDate
	routes        map[string]model.Route
	stops         map[string]model.Stop
	trips         map[string]model.Trip
	stopTimes     []model.StopTime

	// nil until delays are written
	delays []model.DelayEvent
}

func (f *MemoryStorageFeed) WriteStop(stop model.Stop) error {
	f.stops[stop.ID] = stop
	return nil
}

func (f *MemoryStorageFeed) WriteRoute(route model.Route) error {
	f.routes[route.ID] = route
	return nil
}

func (f *MemoryStorageFeed) BeginTrips() error {
	return nil
}

func (f *MemoryStorageFeed) WriteTrip(trip model.Trip) error {
	f.trips[trip.ID] = trip
	return nil
}

func (f *MemoryStorageFeed) EndTrips() error {
	return nil
}

func (f *MemoryStorageFeed) BeginStopTimes() error {
	return nil
}

func (f *MemoryStorageFeed) WriteStopTime(stopTime model.StopTime) error {
	f.stopTimes = append(f.stopTimes, stopTime)
	return nil
}

func (f *MemoryStorageFeed) EndStopTimes() error {
	return nil
}

func (f *MemoryStorageFeed) WriteCalendar(cal model.Calendar) error {
	f.calendars = append(f.calendars, cal)
	return nil
}

func (f *MemoryStorageFeed) WriteCalendarDate(cd model.CalendarDate) error {
	f.calendarDates = append(f.calendarDates, cd)
	return nil
}

func (f *MemoryStorageFeed) Close() error {
	return nil
}

func (f *MemoryStorageFeed) Stops() ([]model.Stop, error) {
	stops := make([]model.Stop, 0, len(f.stops))
	for _, s := range f.stops {
		stops = append(stops, s)
	}
	sort.Slice(stops, func(i, j int) bool { return stops[i].ID < stops[j].ID })
	return stops, nil
}

func (f *MemoryStorageFeed) Routes() ([]model.Route, error) {
	routes := make([]model.Route, 0, len(f.routes))
	for _, r := range f.routes {
		routes = append(routes, r)
	}
	sort.Slice(routes, func(i, j int) bool { return routes[i].ID < routes[j].ID })
	return routes, nil
}

func (f *MemoryStorageFeed) Trips() ([]model.Trip, error) {
	trips := make([]model.Trip, 0, len(f.trips))
	for _, t := range f.trips {
		trips = append(trips, t)
	}
	sort.Slice(trips, func(i, j int) bool { return trips[i].ID < trips[j].ID })
	return trips, nil
}

func (f *MemoryStorageFeed) StopTimes() ([]model.StopTime, error) {
	return append([]model.StopTime{}, f.stopTimes...), nil
}

func (f *MemoryStorageFeed) Calendars() ([]model.Calendar, error) {
	return append([]model.Calendar{}, f.calendars...), nil
}

func (f *MemoryStorageFeed) CalendarDates() ([]model.CalendarDate, error) {
	return append([]model.CalendarDate{}, f.calendarDates...), nil
}

func (f *MemoryStorageFeed) Counts() (FeedCounts, error) {
	return FeedCounts{
		Routes: len(f.routes),
		Trips:  len(f.trips),
		Stops:  len(f.stops),
	}, nil
}

func (f *MemoryStorageFeed) ScheduledStopEvents(limit int) ([]model.ScheduledStopEvent, error) {
	events := []model.ScheduledStopEvent{}
	for _, st := range f.stopTimes {
		if limit > 0 && len(events) >= limit {
			break
		}
		trip, found := f.trips[st.TripID]
		if !found {
			continue
		}
		events = append(events, model.ScheduledStopEvent{
			TripID:  st.TripID,
			RouteID: trip.RouteID,
			StopID:  st.StopID,
			Time:    st.Arrival,
		})
	}
	return events, nil
}

func (f *MemoryStorageFeed) TripCountsByRoute() (map[string]int, error) {
	counts := map[string]int{}
	for _, t := range f.trips {
		if _, found := f.routes[t.RouteID]; !found {
			continue
		}
		counts[t.RouteID]++
	}
	return counts, nil
}

func (f *MemoryStorageFeed) StopActivity(topN int) ([]StopActivity, error) {
	arrivals := map[string]int{}
	for _, st := range f.stopTimes {
		if _, found := f.stops[st.StopID]; !found {
			continue
		}
		arrivals[st.StopID]++
	}

	activity := make([]StopActivity, 0, len(arrivals))
	for stopID, n := range arrivals {
		stop := f.stops[stopID]
		activity = append(activity, StopActivity{
			StopID:    stop.ID,
			StopName:  stop.Name,
			StopLat:   stop.Lat,
			StopLon:   stop.Lon,
			NArrivals: n,
		})
	}

	sort.Slice(activity, func(i, j int) bool {
		if activity[i].NArrivals != activity[j].NArrivals {
			return activity[i].NArrivals > activity[j].NArrivals
		}
		return activity[i].StopID < activity[j].StopID
	})

	if topN > 0 && len(activity) > topN {
		activity = activity[:topN]
	}

	return activity, nil
}

func (f *MemoryStorageFeed) Delays() ([]model.DelayEvent, error) {
	if f.delays == nil {
		return nil, ErrNoDelays
	}
	return append([]model.DelayEvent{}, f.delays...), nil
}
