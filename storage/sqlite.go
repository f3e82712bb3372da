package storage

import (
	"database/sql"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"tidbyt.dev/gtfskpi/model"
)

type SQLiteConfig struct {
	OnDisk    bool
	Directory string
}

// Feed metadata and delay runs live in gtfskpi.db. Each feed gets a
// database of its own, named after the feed hash.
type SQLiteStorage struct {
	SQLiteConfig

	db *sql.DB

	// Guards feeds. Readers may be opened from concurrent requests.
	mutex sync.Mutex
	feeds map[string]*sql.DB
}

type SQLiteFeedWriter struct {
	db                  *sql.DB
	stopTimeInsertQuery *sql.Stmt
	stopTimeInsertTx    *sql.Tx
}

type SQLiteFeedReader struct {
	db *sql.DB
}

func openSQLite(sourceName string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", sourceName)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if sourceName == ":memory:" {
		// Every connection to :memory: is a separate database.
		db.SetMaxOpenConns(1)
	}
	return db, nil
}

func NewSQLiteStorage(cfg ...SQLiteConfig) (*SQLiteStorage, error) {
	onDisk := false
	directory := ""
	if len(cfg) > 0 {
		onDisk = cfg[0].OnDisk
		directory = cfg[0].Directory
	}

	sourceName := ":memory:"
	if onDisk {
		sourceName = directory + "/gtfskpi.db"
	}

	db, err := openSQLite(sourceName)
	if err != nil {
		return nil, err
	}

	_, err = db.Exec(`
CREATE TABLE IF NOT EXISTS feed (
    hash TEXT,
    url TEXT NOT NULL,
    retrieved_at TIMESTAMP NOT NULL,
    calendar_start TEXT NOT NULL,
    calendar_end TEXT NOT NULL,
    max_arrival TEXT NOT NULL,
    max_departure TEXT NOT NULL,
PRIMARY KEY (hash, url)
);

CREATE TABLE IF NOT EXISTS delay_run (
    id TEXT NOT NULL,
    feed TEXT NOT NULL,
    source TEXT NOT NULL,
    service_date TEXT NOT NULL,
    seed INTEGER NOT NULL,
    events INTEGER NOT NULL,
    created_at TIMESTAMP NOT NULL,
PRIMARY KEY (id)
);`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating feed table: %w", err)
	}

	return &SQLiteStorage{
		SQLiteConfig: SQLiteConfig{
			OnDisk:    onDisk,
			Directory: directory,
		},
		db:    db,
		feeds: map[string]*sql.DB{},
	}, nil
}

func (s *SQLiteStorage) Close() error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	for feedID, db := range s.feeds {
		db.Close()
		delete(s.feeds, feedID)
	}
	return s.db.Close()
}

func (s *SQLiteStorage) ListFeeds(filter ListFeedsFilter) ([]*FeedMetadata, error) {
	query := `
SELECT
    hash,
    url,
    retrieved_at,
    calendar_start,
    calendar_end,
    max_arrival,
    max_departure
FROM feed`

	conditions := []string{}
	params := []interface{}{}
	if filter.URL != "" {
		conditions = append(conditions, "url = ?")
		params = append(params, filter.URL)
	}
	if filter.Hash != "" {
		conditions = append(conditions, "hash = ?")
		params = append(params, filter.Hash)
	}
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}

	query += " ORDER BY retrieved_at DESC"

	rows, err := s.db.Query(query, params...)
	if err != nil {
		return nil, fmt.Errorf("listing feeds: %w", err)
	}
	defer rows.Close()

	feeds := []*FeedMetadata{}
	for rows.Next() {
		var feed FeedMetadata
		err := rows.Scan(
			&feed.Hash,
			&feed.URL,
			&feed.RetrievedAt,
			&feed.CalendarStartDate,
			&feed.CalendarEndDate,
			&feed.MaxArrival,
			&feed.MaxDeparture,
		)
		if err != nil {
			return nil, fmt.Errorf("scanning feed: %w", err)
		}
		feeds = append(feeds, &feed)
	}

	return feeds, rows.Err()
}

func (s *SQLiteStorage) WriteFeedMetadata(feed *FeedMetadata) error {
	_, err := s.db.Exec(`
INSERT INTO feed (
    hash,
    url,
    retrieved_at,
    calendar_start,
    calendar_end,
    max_arrival,
    max_departure
)
VALUES (?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (hash, url) DO UPDATE SET
    retrieved_at = excluded.retrieved_at,
    calendar_start = excluded.calendar_start,
    calendar_end = excluded.calendar_end,
    max_arrival = excluded.max_arrival,
    max_departure = excluded.max_departure
`,
		feed.Hash,
		feed.URL,
		feed.RetrievedAt,
		feed.CalendarStartDate,
		feed.CalendarEndDate,
		feed.MaxArrival,
		feed.MaxDeparture,
	)
	if err != nil {
		return fmt.Errorf("writing feed metadata: %w", err)
	}
	return nil
}

func (s *SQLiteStorage) feedPath(feedID string) string {
	return s.Directory + "/" + feedID + ".db"
}

// Returns the database for an existing feed.
func (s *SQLiteStorage) openFeed(feedID string) (*sql.DB, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	db, found := s.feeds[feedID]
	if found {
		return db, nil
	}
	if !s.OnDisk {
		return nil, fmt.Errorf("feed %s does not exist", feedID)
	}

	sourceName := s.feedPath(feedID)
	if _, err := os.Stat(sourceName); os.IsNotExist(err) {
		return nil, fmt.Errorf("feed %s does not exist at %s", feedID, sourceName)
	}

	db, err := openSQLite(sourceName)
	if err != nil {
		return nil, err
	}

	s.feeds[feedID] = db

	return db, nil
}

func (s *SQLiteStorage) GetReader(feedID string) (FeedReader, error) {
	db, err := s.openFeed(feedID)
	if err != nil {
		return nil, err
	}
	return &SQLiteFeedReader{db: db}, nil
}

func (s *SQLiteStorage) GetWriter(feedID string) (FeedWriter, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if existing, found := s.feeds[feedID]; found {
		existing.Close()
		delete(s.feeds, feedID)
	}

	sourceName := ":memory:"
	if s.OnDisk {
		sourceName = s.feedPath(feedID)
		// delete file if it exists
		if _, err := os.Stat(sourceName); err == nil {
			err := os.Remove(sourceName)
			if err != nil {
				return nil, fmt.Errorf("removing existing database: %w", err)
			}
		}
	}

	db, err := openSQLite(sourceName)
	if err != nil {
		return nil, err
	}

	for name, query := range map[string]string{
		"stops": `
CREATE TABLE stops (
    id TEXT PRIMARY KEY,
    code TEXT,
    name TEXT NOT NULL,
    desc TEXT,
    lat REAL NOT NULL,
    lon REAL NOT NULL,
    location_type INTEGER NOT NULL,
    parent_station TEXT
);
CREATE INDEX stops_parent_station ON stops (parent_station);
`,
		"routes": `
CREATE TABLE routes (
    id TEXT PRIMARY KEY,
    agency_id TEXT,
    short_name TEXT,
    long_name TEXT NOT NULL,
    type INTEGER NOT NULL,
    color TEXT,
    text_color TEXT
);`,
		"trips": `
CREATE TABLE trips (
    id TEXT PRIMARY KEY,
    route_id TEXT NOT NULL,
    service_id TEXT NOT NULL,
    headsign TEXT,
    direction_id INTEGER
);
CREATE INDEX trips_route_id ON trips (route_id);
CREATE INDEX trips_service_id ON trips (service_id);
`,
		"stop_times": `
CREATE TABLE stop_times (
    trip_id TEXT NOT NULL,
    stop_id TEXT NOT NULL,
    stop_sequence INTEGER NOT NULL,
    arrival_time TEXT NOT NULL,
    departure_time TEXT NOT NULL
);
CREATE INDEX stop_times_trip_id ON stop_times (trip_id);
CREATE INDEX stop_times_stop_id ON stop_times (stop_id);
`,
		"calendar": `
CREATE TABLE calendar (
    service_id TEXT PRIMARY KEY,
    start_date TEXT NOT NULL,
    end_date TEXT NOT NULL,
    monday integer NOT NULL,
    tuesday integer NOT NULL,
    wednesday integer NOT NULL,
    thursday integer NOT NULL,
    friday integer NOT NULL,
    saturday integer NOT NULL,
    sunday integer NOT NULL
);`,
		"calendar_dates": `
CREATE TABLE calendar_dates (
    service_id TEXT NOT NULL,
    date TEXT NOT NULL,
    exception_type INTEGER NOT NULL
);`,
	} {
		_, err = db.Exec(query)
		if err != nil {
			db.Close()
			return nil, fmt.Errorf("creating %s table: %s", name, err)
		}
	}

	s.feeds[feedID] = db

	return &SQLiteFeedWriter{
		db: db,
	}, nil
}

func (s *SQLiteStorage) WriteDelays(feedID string, run *DelayRun, delays []model.DelayEvent) error {
	db, err := s.openFeed(feedID)
	if err != nil {
		return err
	}

	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.Exec(`
DROP TABLE IF EXISTS delays;
CREATE TABLE delays (
    service_date TEXT NOT NULL,
    trip_id TEXT NOT NULL,
    stop_id TEXT NOT NULL,
    route_id TEXT NOT NULL,
    planned_arrival TEXT NOT NULL,
    actual_arrival TEXT NOT NULL,
    delay_min INTEGER NOT NULL,
    reason TEXT NOT NULL
);
CREATE INDEX delays_route_id ON delays (route_id);
`)
	if err != nil {
		return fmt.Errorf("creating delays table: %w", err)
	}

	stmt, err := tx.Prepare(`
INSERT INTO delays (service_date, trip_id, stop_id, route_id, planned_arrival, actual_arrival, delay_min, reason)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("preparing delay insert: %w", err)
	}
	defer stmt.Close()

	for _, d := range delays {
		_, err = stmt.Exec(
			d.ServiceDate,
			d.TripID,
			d.StopID,
			d.RouteID,
			d.PlannedArrival,
			d.ActualArrival,
			d.DelayMinutes,
			d.Reason,
		)
		if err != nil {
			return fmt.Errorf("inserting delay: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing delays: %w", err)
	}

	_, err = s.db.Exec(`
INSERT INTO delay_run (id, feed, source, service_date, seed, events, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?)`,
		run.ID,
		feedID,
		run.Source,
		run.ServiceDate,
		run.Seed,
		run.Events,
		run.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("writing delay run: %w", err)
	}

	return nil
}

func (s *SQLiteStorage) ListDelayRuns(feedID string) ([]*DelayRun, error) {
	query := `
SELECT id, feed, source, service_date, seed, events, created_at
FROM delay_run`

	params := []interface{}{}
	if feedID != "" {
		query += " WHERE feed = ?"
		params = append(params, feedID)
	}
	query += " ORDER BY created_at DESC"

	rows, err := s.db.Query(query, params...)
	if err != nil {
		return nil, fmt.Errorf("listing delay runs: %w", err)
	}
	defer rows.Close()

	runs := []*DelayRun{}
	for rows.Next() {
		r := &DelayRun{}
		err := rows.Scan(&r.ID, &r.Feed, &r.Source, &r.ServiceDate, &r.Seed, &r.Events, &r.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("scanning delay run: %w", err)
		}
		runs = append(runs, r)
	}

	return runs, rows.Err()
}

func (f *SQLiteFeedWriter) WriteStop(stop model.Stop) error {
	_, err := f.db.Exec(`
INSERT INTO stops (id, code, name, desc, lat, lon, location_type, parent_station)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		stop.ID,
		stop.Code,
		stop.Name,
		stop.Desc,
		stop.Lat,
		stop.Lon,
		stop.LocationType,
		stop.ParentStation,
	)
	if err != nil {
		return fmt.Errorf("inserting stop: %w", err)
	}
	return nil
}

func (f *SQLiteFeedWriter) WriteRoute(route model.Route) error {
	_, err := f.db.Exec(`
INSERT INTO routes (id, agency_id, short_name, long_name, type, color, text_color)
VALUES (?, ?, ?, ?, ?, ?, ?)`,
		route.ID,
		route.AgencyID,
		route.ShortName,
		route.LongName,
		route.Type,
		route.Color,
		route.TextColor,
	)
	if err != nil {
		return fmt.Errorf("inserting route: %w", err)
	}
	return nil
}

func (f *SQLiteFeedWriter) BeginTrips() error {
	return nil
}

func (f *SQLiteFeedWriter) WriteTrip(trip model.Trip) error {
	_, err := f.db.Exec(`
INSERT INTO trips (id, route_id, service_id, headsign, direction_id)
VALUES (?, ?, ?, ?, ?)`,
		trip.ID,
		trip.RouteID,
		trip.ServiceID,
		trip.Headsign,
		trip.DirectionID,
	)
	if err != nil {
		return fmt.Errorf("inserting trip: %w", err)
	}
	return nil
}

func (f *SQLiteFeedWriter) EndTrips() error {
	return nil
}

func (f *SQLiteFeedWriter) BeginStopTimes() error {
	// transaction with prepared statement.
	var err error
	f.stopTimeInsertTx, err = f.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning stop_time insert transaction: %w", err)
	}

	f.stopTimeInsertQuery, err = f.stopTimeInsertTx.Prepare(`
INSERT INTO stop_times (trip_id, stop_id, stop_sequence, arrival_time, departure_time)
VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		f.stopTimeInsertTx.Rollback()
		f.stopTimeInsertTx = nil
		return fmt.Errorf("preparing stop_time insert: %w", err)
	}

	return nil
}

func (f *SQLiteFeedWriter) WriteStopTime(stopTime model.StopTime) error {
	if f.stopTimeInsertQuery == nil {
		return fmt.Errorf("WriteStopTime called outside BeginStopTimes/EndStopTimes")
	}

	_, err := f.stopTimeInsertQuery.Exec(
		stopTime.TripID,
		stopTime.StopID,
		stopTime.StopSequence,
		stopTime.Arrival,
		stopTime.Departure,
	)
	if err != nil {
		f.stopTimeInsertQuery.Close()
		f.stopTimeInsertTx.Rollback()
		f.stopTimeInsertTx = nil
		f.stopTimeInsertQuery = nil
		return fmt.Errorf("inserting stop_time: %w", err)
	}

	return nil
}

func (f *SQLiteFeedWriter) EndStopTimes() error {
	if f.stopTimeInsertTx == nil {
		return fmt.Errorf("EndStopTimes called without open transaction")
	}

	// commit transaction and clean up
	f.stopTimeInsertQuery.Close()
	err := f.stopTimeInsertTx.Commit()
	f.stopTimeInsertTx = nil
	f.stopTimeInsertQuery = nil
	if err != nil {
		return fmt.Errorf("committing stop_time insert transaction: %w", err)
	}

	return nil
}

func weekdayFlags(weekday int8) [7]int {
	flags := [7]int{}
	for i, day := range []time.Weekday{
		time.Monday, time.Tuesday, time.Wednesday, time.Thursday,
		time.Friday, time.Saturday, time.Sunday,
	} {
		if weekday&(1<<day) != 0 {
			flags[i] = 1
		}
	}
	return flags
}

func weekdayFromFlags(flags [7]int) int8 {
	var weekday int8
	for i, day := range []time.Weekday{
		time.Monday, time.Tuesday, time.Wednesday, time.Thursday,
		time.Friday, time.Saturday, time.Sunday,
	} {
		if flags[i] == 1 {
			weekday |= 1 << day
		}
	}
	return weekday
}

func (f *SQLiteFeedWriter) WriteCalendar(cal model.Calendar) error {
	d := weekdayFlags(cal.Weekday)

	_, err := f.db.Exec(`
INSERT INTO calendar (service_id, start_date, end_date, monday, tuesday, wednesday, thursday, friday, saturday, sunday)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		cal.ServiceID,
		cal.StartDate,
		cal.EndDate,
		d[0], d[1], d[2], d[3], d[4], d[5], d[6],
	)
	if err != nil {
		return fmt.Errorf("inserting calendar: %w", err)
	}

	return nil
}

func (f *SQLiteFeedWriter) WriteCalendarDate(cd model.CalendarDate) error {
	_, err := f.db.Exec(`
INSERT INTO calendar_dates (service_id, date, exception_type)
VALUES (?, ?, ?)`,
		cd.ServiceID,
		cd.Date,
		cd.ExceptionType,
	)
	if err != nil {
		return fmt.Errorf("inserting calendar date: %w", err)
	}

	return nil
}

func (f *SQLiteFeedWriter) Close() error {
	_, err := f.db.Exec(`ANALYZE;`)
	if err != nil {
		return fmt.Errorf("analyzing database: %s", err)
	}

	return nil
}

func (f *SQLiteFeedReader) Stops() ([]model.Stop, error) {
	rows, err := f.db.Query(`
SELECT id, code, name, desc, lat, lon, location_type, parent_station
FROM stops
ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("querying stops: %w", err)
	}
	defer rows.Close()

	stops := []model.Stop{}
	for rows.Next() {
		s := model.Stop{}
		err := rows.Scan(
			&s.ID,
			&s.Code,
			&s.Name,
			&s.Desc,
			&s.Lat,
			&s.Lon,
			&s.LocationType,
			&s.ParentStation,
		)
		if err != nil {
			return nil, fmt.Errorf("scanning stop: %w", err)
		}
		stops = append(stops, s)
	}

	return stops, rows.Err()
}

func (f *SQLiteFeedReader) Routes() ([]model.Route, error) {
	rows, err := f.db.Query(`
SELECT id, agency_id, short_name, long_name, type, color, text_color
FROM routes
ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("querying routes: %w", err)
	}
	defer rows.Close()

	routes := []model.Route{}
	for rows.Next() {
		r := model.Route{}
		err := rows.Scan(
			&r.ID,
			&r.AgencyID,
			&r.ShortName,
			&r.LongName,
			&r.Type,
			&r.Color,
			&r.TextColor,
		)
		if err != nil {
			return nil, fmt.Errorf("scanning route: %w", err)
		}
		routes = append(routes, r)
	}

	return routes, rows.Err()
}

func (f *SQLiteFeedReader) Trips() ([]model.Trip, error) {
	rows, err := f.db.Query(`
SELECT id, route_id, service_id, headsign, direction_id
FROM trips
ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("querying trips: %w", err)
	}
	defer rows.Close()

	trips := []model.Trip{}
	for rows.Next() {
		t := model.Trip{}
		err := rows.Scan(
			&t.ID,
			&t.RouteID,
			&t.ServiceID,
			&t.Headsign,
			&t.DirectionID,
		)
		if err != nil {
			return nil, fmt.Errorf("scanning trip: %w", err)
		}
		trips = append(trips, t)
	}

	return trips, rows.Err()
}

func (f *SQLiteFeedReader) StopTimes() ([]model.StopTime, error) {
	rows, err := f.db.Query(`
SELECT trip_id, stop_id, stop_sequence, arrival_time, departure_time
FROM stop_times
ORDER BY rowid`)
	if err != nil {
		return nil, fmt.Errorf("querying stop times: %w", err)
	}
	defer rows.Close()

	stopTimes := []model.StopTime{}
	for rows.Next() {
		st := model.StopTime{}
		err := rows.Scan(
			&st.TripID,
			&st.StopID,
			&st.StopSequence,
			&st.Arrival,
			&st.Departure,
		)
		if err != nil {
			return nil, fmt.Errorf("scanning stop time: %w", err)
		}
		stopTimes = append(stopTimes, st)
	}

	return stopTimes, rows.Err()
}

func (f *SQLiteFeedReader) Calendars() ([]model.Calendar, error) {
	rows, err := f.db.Query(`
SELECT service_id, start_date, end_date, monday, tuesday, wednesday, thursday, friday, saturday, sunday
FROM calendar
ORDER BY rowid`)
	if err != nil {
		return nil, fmt.Errorf("querying calendar: %w", err)
	}
	defer rows.Close()

	calendars := []model.Calendar{}
	for rows.Next() {
		c := model.Calendar{}
		d := [7]int{}
		err := rows.Scan(
			&c.ServiceID,
			&c.StartDate,
			&c.EndDate,
			&d[0], &d[1], &d[2], &d[3], &d[4], &d[5], &d[6],
		)
		if err != nil {
			return nil, fmt.Errorf("scanning calendar: %w", err)
		}
		c.Weekday = weekdayFromFlags(d)
		calendars = append(calendars, c)
	}

	return calendars, rows.Err()
}

func (f *SQLiteFeedReader) CalendarDates() ([]model.CalendarDate, error) {
	rows, err := f.db.Query(`
SELECT service_id, date, exception_type
FROM calendar_dates
ORDER BY rowid`)
	if err != nil {
		return nil, fmt.Errorf("querying calendar dates: %w", err)
	}
	defer rows.Close()

	calendarDates := []model.CalendarDate{}
	for rows.Next() {
		cd := model.CalendarDate{}
		err := rows.Scan(&cd.ServiceID, &cd.Date, &cd.ExceptionType)
		if err != nil {
			return nil, fmt.Errorf("scanning calendar date: %w", err)
		}
		calendarDates = append(calendarDates, cd)
	}

	return calendarDates, rows.Err()
}

func (f *SQLiteFeedReader) Counts() (FeedCounts, error) {
	counts := FeedCounts{}
	err := f.db.QueryRow(`
SELECT
    (SELECT COUNT(*) FROM routes),
    (SELECT COUNT(*) FROM trips),
    (SELECT COUNT(*) FROM stops)`,
	).Scan(&counts.Routes, &counts.Trips, &counts.Stops)
	if err != nil {
		return FeedCounts{}, fmt.Errorf("counting: %w", err)
	}
	return counts, nil
}

func (f *SQLiteFeedReader) ScheduledStopEvents(limit int) ([]model.ScheduledStopEvent, error) {
	query := `
SELECT st.trip_id, t.route_id, st.stop_id, st.arrival_time
FROM stop_times st
JOIN trips t ON st.trip_id = t.id
ORDER BY st.rowid`

	params := []interface{}{}
	if limit > 0 {
		query += " LIMIT ?"
		params = append(params, limit)
	}

	rows, err := f.db.Query(query, params...)
	if err != nil {
		return nil, fmt.Errorf("querying stop time events: %w", err)
	}
	defer rows.Close()

	events := []model.ScheduledStopEvent{}
	for rows.Next() {
		e := model.ScheduledStopEvent{}
		err := rows.Scan(&e.TripID, &e.RouteID, &e.StopID, &e.Time)
		if err != nil {
			return nil, fmt.Errorf("scanning stop time event: %w", err)
		}
		events = append(events, e)
	}

	return events, rows.Err()
}

func (f *SQLiteFeedReader) TripCountsByRoute() (map[string]int, error) {
	rows, err := f.db.Query(`
SELECT r.id, COUNT(DISTINCT t.id)
FROM routes r
JOIN trips t ON r.id = t.route_id
GROUP BY r.id`)
	if err != nil {
		return nil, fmt.Errorf("querying trip counts: %w", err)
	}
	defer rows.Close()

	counts := map[string]int{}
	for rows.Next() {
		var routeID string
		var n int
		if err := rows.Scan(&routeID, &n); err != nil {
			return nil, fmt.Errorf("scanning trip count: %w", err)
		}
		counts[routeID] = n
	}

	return counts, rows.Err()
}

func (f *SQLiteFeedReader) StopActivity(topN int) ([]StopActivity, error) {
	query := `
SELECT s.id, s.name, s.lat, s.lon, COUNT(*) AS n_arrivals
FROM stop_times st
JOIN stops s ON st.stop_id = s.id
GROUP BY s.id, s.name, s.lat, s.lon
ORDER BY n_arrivals DESC, s.id`

	params := []interface{}{}
	if topN > 0 {
		query += " LIMIT ?"
		params = append(params, topN)
	}

	rows, err := f.db.Query(query, params...)
	if err != nil {
		return nil, fmt.Errorf("querying stop activity: %w", err)
	}
	defer rows.Close()

	activity := []StopActivity{}
	for rows.Next() {
		a := StopActivity{}
		err := rows.Scan(&a.StopID, &a.StopName, &a.StopLat, &a.StopLon, &a.NArrivals)
		if err != nil {
			return nil, fmt.Errorf("scanning stop activity: %w", err)
		}
		activity = append(activity, a)
	}

	return activity, rows.Err()
}

func (f *SQLiteFeedReader) Delays() ([]model.DelayEvent, error) {
	var n int
	err := f.db.QueryRow(`
SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = 'delays'`,
	).Scan(&n)
	if err != nil {
		return nil, fmt.Errorf("checking for delays table: %w", err)
	}
	if n == 0 {
		return nil, ErrNoDelays
	}

	rows, err := f.db.Query(`
SELECT service_date, trip_id, stop_id, route_id, planned_arrival, actual_arrival, delay_min, reason
FROM delays
ORDER BY service_date, route_id, trip_id, stop_id, rowid`)
	if err != nil {
		return nil, fmt.Errorf("querying delays: %w", err)
	}
	defer rows.Close()

	delays := []model.DelayEvent{}
	for rows.Next() {
		d := model.DelayEvent{}
		err := rows.Scan(
			&d.ServiceDate,
			&d.TripID,
			&d.StopID,
			&d.RouteID,
			&d.PlannedArrival,
			&d.ActualArrival,
			&d.DelayMinutes,
			&d.Reason,
		)
		if err != nil {
			return nil, fmt.Errorf("scanning delay: %w", err)
		}
		delays = append(delays, d)
	}

	return delays, rows.Err()
}
