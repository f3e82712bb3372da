package storage

import (
	"errors"
	"time"

	"tidbyt.dev/gtfskpi/model"
)

// Returned by FeedReader.Delays() if no delay events have been
// written for the feed.
var ErrNoDelays = errors.New("no delays loaded for feed")

type Storage interface {
	// Retrieves all feed metadata records matching the given
	// filter, most recently retrieved first.
	ListFeeds(filter ListFeedsFilter) ([]*FeedMetadata, error)

	// Writes a FeedMetadata record. If a record with the same URL
	// and hash exists, it is updated.
	WriteFeedMetadata(metadata *FeedMetadata) error

	// Gets a reader for the feed with the given hash.
	GetReader(feed string) (FeedReader, error)

	// Gets a writer for the feed with the given hash. Any
	// existing schedule data for the feed is discarded.
	GetWriter(feed string) (FeedWriter, error)

	// Replaces the feed's delay events, and records the run that
	// produced them.
	WriteDelays(feed string, run *DelayRun, delays []model.DelayEvent) error

	// Lists delay runs for a feed, most recent first. If feed is
	// blank, runs for all feeds are returned.
	ListDelayRuns(feed string) ([]*DelayRun, error)
}

type ListFeedsFilter struct {
	// If set, only include feeds with the given URL.
	URL string

	// If set, only include feeds with the given hash.
	Hash string
}

// Metadata for an ingested static GTFS feed. The parsed data can be
// accessed via FeedReader.
type FeedMetadata struct {
	URL               string
	Hash              string
	RetrievedAt       time.Time
	CalendarStartDate string
	CalendarEndDate   string
	MaxArrival        string
	MaxDeparture      string
}

// A batch of delay events written for a feed, either synthesized or
// loaded from CSV.
type DelayRun struct {
	ID          string
	Feed        string
	Source      string
	ServiceDate string
	Seed        int64
	Events      int
	CreatedAt   time.Time
}

const (
	DelaySourceSynthesized = "synthesized"
	DelaySourceCSV         = "csv"
)

// Writes GTFS records for a single feed.
//
// As stop_times.txt tends to be very large, BeginStopTimes() and
// EndStopTimes() are called before and after all calls to
// WriteStopTime(), allowing transactions/batching/whathaveyou.
type FeedWriter interface {
	WriteStop(stop model.Stop) error
	WriteRoute(route model.Route) error
	WriteTrip(trip model.Trip) error
	BeginTrips() error
	EndTrips() error
	WriteCalendar(cal model.Calendar) error
	WriteCalendarDate(caldate model.CalendarDate) error
	WriteStopTime(stopTime model.StopTime) error
	BeginStopTimes() error
	EndStopTimes() error
	Close() error
}

type FeedReader interface {
	Stops() ([]model.Stop, error)
	Routes() ([]model.Route, error)
	Trips() ([]model.Trip, error)
	StopTimes() ([]model.StopTime, error)
	Calendars() ([]model.Calendar, error)
	CalendarDates() ([]model.CalendarDate, error)

	// Number of routes, trips and stops in the feed.
	Counts() (FeedCounts, error)

	// stop_times joined with trips, in the order they were
	// written. At most limit records (pass 0 for no limit.)
	ScheduledStopEvents(limit int) ([]model.ScheduledStopEvent, error)

	// Number of distinct trips per route_id. Routes without trips
	// are absent.
	TripCountsByRoute() (map[string]int, error)

	// Stops ordered by number of scheduled arrivals, descending,
	// ties broken by stop_id. At most topN results (pass 0 for no
	// limit.) Stops without arrivals are not included.
	StopActivity(topN int) ([]StopActivity, error)

	// All delay events for the feed, ordered by (service_date,
	// route_id, trip_id, stop_id). Returns ErrNoDelays if none
	// have been written.
	Delays() ([]model.DelayEvent, error)
}

type FeedCounts struct {
	Routes int
	Trips  int
	Stops  int
}

type StopActivity struct {
	StopID    string
	StopName  string
	StopLat   float64
	StopLon   float64
	NArrivals int
}
