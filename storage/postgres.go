package storage

import (
	"database/sql"
	"fmt"
	"strings"

	"github.com/lib/pq"

	"tidbyt.dev/gtfskpi/model"
)

const (
	PSQLTripBatchSize     = 10000
	PSQLStopTimeBatchSize = 5000
	PSQLDelayBatchSize    = 5000
)

// All feeds share one set of tables, keyed by feed hash.
type PSQLStorage struct {
	db *sql.DB
}

type PSQLFeedWriter struct {
	id          string
	db          *sql.DB
	tripBuf     []model.Trip
	stopTimeBuf []model.StopTime
}

type PSQLFeedReader struct {
	id string
	db *sql.DB
}

var psqlFeedTables = map[string]string{
	"stops": `
CREATE TABLE IF NOT EXISTS stops (
    hash TEXT NOT NULL,
    id TEXT NOT NULL,
    code TEXT,
    name TEXT NOT NULL,
    description TEXT,
    lat DOUBLE PRECISION NOT NULL,
    lon DOUBLE PRECISION NOT NULL,
    location_type INTEGER NOT NULL,
    parent_station TEXT,
    PRIMARY KEY(hash, id)
);
CREATE INDEX IF NOT EXISTS stops_parent_station ON stops (parent_station);
`,
	"routes": `
CREATE TABLE IF NOT EXISTS routes (
    hash TEXT NOT NULL,
    id TEXT NOT NULL,
    agency_id TEXT,
    short_name TEXT,
    long_name TEXT NOT NULL,
    type INTEGER NOT NULL,
    color TEXT,
    text_color TEXT,
    PRIMARY KEY(hash, id)
);`,
	"trips": `
CREATE TABLE IF NOT EXISTS trips (
    hash TEXT NOT NULL,
    id TEXT NOT NULL,
    route_id TEXT NOT NULL,
    service_id TEXT NOT NULL,
    headsign TEXT,
    direction_id INTEGER,
    PRIMARY KEY(hash, id)
);
CREATE INDEX IF NOT EXISTS trips_route_id ON trips (route_id);
CREATE INDEX IF NOT EXISTS trips_service_id ON trips (service_id);
`,
	"stop_times": `
CREATE TABLE IF NOT EXISTS stop_times (
    hash TEXT NOT NULL,
    seq BIGSERIAL,
    trip_id TEXT NOT NULL,
    stop_id TEXT NOT NULL,
    stop_sequence INTEGER NOT NULL,
    arrival_time TEXT NOT NULL,
    departure_time TEXT NOT NULL,
    PRIMARY KEY(hash, trip_id, stop_id, stop_sequence)
);
CREATE INDEX IF NOT EXISTS stop_times_trip_id ON stop_times (trip_id);
CREATE INDEX IF NOT EXISTS stop_times_stop_id ON stop_times (stop_id);
CREATE INDEX IF NOT EXISTS stop_times_seq ON stop_times (hash, seq);
`,
	"calendar": `
CREATE TABLE IF NOT EXISTS calendar (
    hash TEXT NOT NULL,
    seq BIGSERIAL,
    service_id TEXT NOT NULL,
    start_date TEXT NOT NULL,
    end_date TEXT NOT NULL,
    monday INTEGER NOT NULL,
    tuesday INTEGER NOT NULL,
    wednesday INTEGER NOT NULL,
    thursday INTEGER NOT NULL,
    friday INTEGER NOT NULL,
    saturday INTEGER NOT NULL,
    sunday INTEGER NOT NULL,
    PRIMARY KEY(hash, service_id)
);`,
	"calendar_dates": `
CREATE TABLE IF NOT EXISTS calendar_dates (
    hash TEXT NOT NULL,
    seq BIGSERIAL,
    service_id TEXT NOT NULL,
    date TEXT NOT NULL,
    exception_type INTEGER NOT NULL,
    PRIMARY KEY(hash, service_id, date)
);`,
	"delays": `
CREATE TABLE IF NOT EXISTS delays (
    hash TEXT NOT NULL,
    seq BIGSERIAL,
    service_date TEXT NOT NULL,
    trip_id TEXT NOT NULL,
    stop_id TEXT NOT NULL,
    route_id TEXT NOT NULL,
    planned_arrival TEXT NOT NULL,
    actual_arrival TEXT NOT NULL,
    delay_min INTEGER NOT NULL,
    reason TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS delays_hash ON delays (hash, route_id);
`,
	// Marks feeds with a delay set, which may be empty.
	"delays_written": `
CREATE TABLE IF NOT EXISTS delays_written (
    hash TEXT NOT NULL,
    PRIMARY KEY(hash)
);`,
}

// Creates a new Postgres Storage using the provided connection string.
//
// If clearDB is true, the database will be cleared on startup. You
// probably only want this for testing.
func NewPSQLStorage(connStr string, clearDB bool) (*PSQLStorage, error) {

	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open db: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping db: %w", err)
	}

	if clearDB {
		_, err = db.Exec(`
DROP TABLE IF EXISTS feed;
DROP TABLE IF EXISTS delay_run;
DROP TABLE IF EXISTS delays;
DROP TABLE IF EXISTS delays_written;
DROP TABLE IF EXISTS calendar;
DROP TABLE IF EXISTS calendar_dates;
DROP TABLE IF EXISTS stops;
DROP TABLE IF EXISTS stop_times;
DROP TABLE IF EXISTS routes;
DROP TABLE IF EXISTS trips;
`)
		if err != nil {
			db.Close()
			return nil, fmt.Errorf("clearing db: %w", err)
		}
	}

	_, err = db.Exec(`
CREATE TABLE IF NOT EXISTS feed (
    hash TEXT,
    url TEXT NOT NULL,
    retrieved_at TIMESTAMPTZ NOT NULL,
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
    seed BIGINT NOT NULL,
    events INTEGER NOT NULL,
    created_at TIMESTAMPTZ NOT NULL,
    PRIMARY KEY (id)
);`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating feed table: %w", err)
	}

	for name, query := range psqlFeedTables {
		_, err := db.Exec(query)
		if err != nil {
			db.Close()
			return nil, fmt.Errorf("creating %s table: %w", name, err)
		}
	}

	return &PSQLStorage{
		db: db,
	}, nil
}

func (s *PSQLStorage) Close() error {
	err := s.db.Close()
	if err != nil {
		return fmt.Errorf("failed to close db: %w", err)
	}
	return nil
}

func (s *PSQLStorage) ListFeeds(filter ListFeedsFilter) ([]*FeedMetadata, error) {
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
	paramCount := 1

	if filter.URL != "" {
		conditions = append(conditions, fmt.Sprintf("url = $%d", paramCount))
		params = append(params, filter.URL)
		paramCount++
	}
	if filter.Hash != "" {
		conditions = append(conditions, fmt.Sprintf("hash = $%d", paramCount))
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
		feed.RetrievedAt = feed.RetrievedAt.UTC()
		feeds = append(feeds, &feed)
	}

	return feeds, rows.Err()
}

func (s *PSQLStorage) WriteFeedMetadata(feed *FeedMetadata) error {
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
VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (hash, url) DO UPDATE SET
    retrieved_at = excluded.retrieved_at,
    calendar_start = excluded.calendar_start,
    calendar_end = excluded.calendar_end,
    max_arrival = excluded.max_arrival,
    max_departure = excluded.max_departure
`,
		feed.Hash,
		feed.URL,
		feed.RetrievedAt.UTC(),
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

func (s *PSQLStorage) GetReader(hash string) (FeedReader, error) {
	return &PSQLFeedReader{
		id: hash,
		db: s.db,
	}, nil
}

func (s *PSQLStorage) GetWriter(hash string) (FeedWriter, error) {
	// In case feed already exists, delete all records
	for name := range psqlFeedTables {
		_, err := s.db.Exec(`DELETE FROM `+name+` WHERE hash = $1`, hash)
		if err != nil {
			return nil, fmt.Errorf("deleting %s records: %w", name, err)
		}
	}

	return &PSQLFeedWriter{
		id: hash,
		db: s.db,
	}, nil
}

func (s *PSQLStorage) WriteDelays(hash string, run *DelayRun, delays []model.DelayEvent) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.Exec(`DELETE FROM delays WHERE hash = $1`, hash)
	if err != nil {
		return fmt.Errorf("deleting delays: %w", err)
	}

	for start := 0; start < len(delays); start += PSQLDelayBatchSize {
		end := start + PSQLDelayBatchSize
		if end > len(delays) {
			end = len(delays)
		}
		err = copyDelays(tx, hash, delays[start:end])
		if err != nil {
			return err
		}
	}

	_, err = tx.Exec(`
INSERT INTO delays_written (hash) VALUES ($1)
ON CONFLICT (hash) DO NOTHING`, hash)
	if err != nil {
		return fmt.Errorf("marking delays: %w", err)
	}

	_, err = tx.Exec(`
INSERT INTO delay_run (id, feed, source, service_date, seed, events, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		run.ID,
		hash,
		run.Source,
		run.ServiceDate,
		run.Seed,
		run.Events,
		run.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("writing delay run: %w", err)
	}

	err = tx.Commit()
	if err != nil {
		return fmt.Errorf("committing: %w", err)
	}

	return nil
}

func copyDelays(tx *sql.Tx, hash string, delays []model.DelayEvent) error {
	stmt, err := tx.Prepare(pq.CopyIn(
		"delays", "hash", "service_date", "trip_id", "stop_id", "route_id",
		"planned_arrival", "actual_arrival", "delay_min", "reason",
	))
	if err != nil {
		return fmt.Errorf("preparing statement: %w", err)
	}
	defer stmt.Close()

	for _, d := range delays {
		_, err = stmt.Exec(
			hash,
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
			return fmt.Errorf("COPY delay: %w", err)
		}
	}

	_, err = stmt.Exec()
	if err != nil {
		return fmt.Errorf("executing statement: %w", err)
	}

	return nil
}

func (s *PSQLStorage) ListDelayRuns(hash string) ([]*DelayRun, error) {
	query := `
SELECT id, feed, source, service_date, seed, events, created_at
FROM delay_run`

	params := []interface{}{}
	if hash != "" {
		query += " WHERE feed = $1"
		params = append(params, hash)
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
		r.CreatedAt = r.CreatedAt.UTC()
		runs = append(runs, r)
	}

	return runs, rows.Err()
}

func (w *PSQLFeedWriter) WriteStop(stop model.Stop) error {
	var parentStation sql.NullString
	if stop.ParentStation != "" {
		parentStation = sql.NullString{
			String: stop.ParentStation,
			Valid:  true,
		}
	}
	_, err := w.db.Exec(`
INSERT INTO stops (hash, id, code, name, description, lat, lon, location_type, parent_station)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		w.id,
		stop.ID,
		stop.Code,
		stop.Name,
		stop.Desc,
		stop.Lat,
		stop.Lon,
		stop.LocationType,
		parentStation,
	)
	if err != nil {
		return fmt.Errorf("inserting stop: %w", err)
	}
	return nil
}

func (w *PSQLFeedWriter) WriteRoute(route model.Route) error {
	_, err := w.db.Exec(`
INSERT INTO routes (hash, id, agency_id, short_name, long_name, type, color, text_color)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		w.id,
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

func (w *PSQLFeedWriter) BeginTrips() error {
	return nil
}

func (w *PSQLFeedWriter) WriteTrip(trip model.Trip) error {
	w.tripBuf = append(w.tripBuf, trip)

	if len(w.tripBuf) >= PSQLTripBatchSize {
		err := w.flushTrips()
		if err != nil {
			return fmt.Errorf("flushing trips: %w", err)
		}
	}

	return nil
}

func (w *PSQLFeedWriter) EndTrips() error {
	if len(w.tripBuf) > 0 {
		err := w.flushTrips()
		if err != nil {
			return fmt.Errorf("flushing trips: %w", err)
		}
	}
	return nil
}

func (w *PSQLFeedWriter) flushTrips() error {
	tx, err := w.db.Begin()
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(pq.CopyIn(
		"trips", "hash", "id", "route_id", "service_id", "headsign", "direction_id",
	))
	if err != nil {
		return fmt.Errorf("preparing statement: %w", err)
	}
	defer stmt.Close()

	for _, trip := range w.tripBuf {
		_, err = stmt.Exec(
			w.id, trip.ID, trip.RouteID, trip.ServiceID, trip.Headsign, trip.DirectionID,
		)
		if err != nil {
			return fmt.Errorf("COPY trip: %w", err)
		}
	}

	_, err = stmt.Exec()
	if err != nil {
		return fmt.Errorf("executing statement: %w", err)
	}

	err = tx.Commit()
	if err != nil {
		return fmt.Errorf("committing: %w", err)
	}

	w.tripBuf = nil

	return nil
}

func (w *PSQLFeedWriter) WriteCalendar(cal model.Calendar) error {
	d := weekdayFlags(cal.Weekday)

	_, err := w.db.Exec(`
INSERT INTO calendar (hash, service_id, start_date, end_date, monday, tuesday, wednesday, thursday, friday, saturday, sunday)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		w.id,
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

func (w *PSQLFeedWriter) WriteCalendarDate(cd model.CalendarDate) error {
	_, err := w.db.Exec(`
INSERT INTO calendar_dates (hash, service_id, date, exception_type)
VALUES ($1, $2, $3, $4)`,
		w.id,
		cd.ServiceID,
		cd.Date,
		cd.ExceptionType,
	)
	if err != nil {
		return fmt.Errorf("inserting calendar date: %w", err)
	}

	return nil
}

func (w *PSQLFeedWriter) BeginStopTimes() error {
	return nil
}

func (w *PSQLFeedWriter) WriteStopTime(stopTime model.StopTime) error {
	w.stopTimeBuf = append(w.stopTimeBuf, stopTime)

	if len(w.stopTimeBuf) >= PSQLStopTimeBatchSize {
		err := w.flushStopTimes()
		if err != nil {
			return fmt.Errorf("flushing stop_times: %w", err)
		}
	}

	return nil
}

func (w *PSQLFeedWriter) EndStopTimes() error {
	if len(w.stopTimeBuf) > 0 {
		err := w.flushStopTimes()
		if err != nil {
			return fmt.Errorf("flushing stop_times: %w", err)
		}
	}
	return nil
}

func (w *PSQLFeedWriter) flushStopTimes() error {
	tx, err := w.db.Begin()
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(pq.CopyIn(
		"stop_times", "hash", "trip_id", "stop_id", "stop_sequence", "arrival_time", "departure_time",
	))
	if err != nil {
		return fmt.Errorf("preparing statement: %w", err)
	}
	defer stmt.Close()

	for _, stopTime := range w.stopTimeBuf {
		_, err = stmt.Exec(
			w.id,
			stopTime.TripID,
			stopTime.StopID,
			stopTime.StopSequence,
			stopTime.Arrival,
			stopTime.Departure,
		)
		if err != nil {
			return fmt.Errorf("COPY stop_time: %w", err)
		}
	}

	_, err = stmt.Exec()
	if err != nil {
		return fmt.Errorf("executing statement: %w", err)
	}

	err = tx.Commit()
	if err != nil {
		return fmt.Errorf("committing: %w", err)
	}

	w.stopTimeBuf = nil

	return nil
}

func (w *PSQLFeedWriter) Close() error {
	_, err := w.db.Exec(`ANALYZE`)
	if err != nil {
		return fmt.Errorf("analyzing: %w", err)
	}
	return nil
}

func (r *PSQLFeedReader) Stops() ([]model.Stop, error) {
	rows, err := r.db.Query(`
SELECT id, code, name, description, lat, lon, location_type, parent_station
FROM stops
WHERE hash = $1
ORDER BY id`, r.id)
	if err != nil {
		return nil, fmt.Errorf("querying stops: %w", err)
	}
	defer rows.Close()

	stops := []model.Stop{}
	for rows.Next() {
		s := model.Stop{}
		parentStation := sql.NullString{}
		err := rows.Scan(
			&s.ID,
			&s.Code,
			&s.Name,
			&s.Desc,
			&s.Lat,
			&s.Lon,
			&s.LocationType,
			&parentStation,
		)
		if err != nil {
			return nil, fmt.Errorf("scanning stop: %w", err)
		}

		if parentStation.Valid {
			s.ParentStation = parentStation.String
		}

		stops = append(stops, s)
	}

	return stops, rows.Err()
}

func (r *PSQLFeedReader) Routes() ([]model.Route, error) {
	rows, err := r.db.Query(`
SELECT id, agency_id, short_name, long_name, type, color, text_color
FROM routes
WHERE hash = $1
ORDER BY id`, r.id)
	if err != nil {
		return nil, fmt.Errorf("querying routes: %w", err)
	}
	defer rows.Close()

	routes := []model.Route{}
	for rows.Next() {
		route := model.Route{}
		err := rows.Scan(
			&route.ID,
			&route.AgencyID,
			&route.ShortName,
			&route.LongName,
			&route.Type,
			&route.Color,
			&route.TextColor,
		)
		if err != nil {
			return nil, fmt.Errorf("scanning route: %w", err)
		}
		routes = append(routes, route)
	}

	return routes, rows.Err()
}

func (r *PSQLFeedReader) Trips() ([]model.Trip, error) {
	rows, err := r.db.Query(`
SELECT id, route_id, service_id, headsign, direction_id
FROM trips
WHERE hash = $1
ORDER BY id`, r.id)
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

func (r *PSQLFeedReader) StopTimes() ([]model.StopTime, error) {
	rows, err := r.db.Query(`
SELECT trip_id, stop_id, stop_sequence, arrival_time, departure_time
FROM stop_times
WHERE hash = $1
ORDER BY seq`, r.id)
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

func (r *PSQLFeedReader) Calendars() ([]model.Calendar, error) {
	rows, err := r.db.Query(`
SELECT service_id, start_date, end_date, monday, tuesday, wednesday, thursday, friday, saturday, sunday
FROM calendar
WHERE hash = $1
ORDER BY seq`, r.id)
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

func (r *PSQLFeedReader) CalendarDates() ([]model.CalendarDate, error) {
	rows, err := r.db.Query(`
SELECT service_id, date, exception_type
FROM calendar_dates
WHERE hash = $1
ORDER BY seq`, r.id)
	if err != nil {
		return nil, fmt.Errorf("querying calendar dates: %w", err)
	}
	defer rows.Close()

	calendarDates := []model.CalendarDate{}
	for rows.Next() {
		cd := model.CalendarDate{}
		err := rows.Scan(
			&cd.ServiceID,
			&cd.Date,
			&cd.ExceptionType,
		)
		if err != nil {
			return nil, fmt.Errorf("scanning calendar date: %w", err)
		}
		calendarDates = append(calendarDates, cd)
	}

	return calendarDates, rows.Err()
}

func (r *PSQLFeedReader) Counts() (FeedCounts, error) {
	counts := FeedCounts{}
	err := r.db.QueryRow(`
SELECT
    (SELECT COUNT(*) FROM routes WHERE hash = $1),
    (SELECT COUNT(*) FROM trips WHERE hash = $1),
    (SELECT COUNT(*) FROM stops WHERE hash = $1)`, r.id,
	).Scan(&counts.Routes, &counts.Trips, &counts.Stops)
	if err != nil {
		return FeedCounts{}, fmt.Errorf("counting: %w", err)
	}
	return counts, nil
}

func (r *PSQLFeedReader) ScheduledStopEvents(limit int) ([]model.ScheduledStopEvent, error) {
	query := `
SELECT stop_times.trip_id, trips.route_id, stop_times.stop_id, stop_times.arrival_time
FROM stop_times
INNER JOIN trips ON stop_times.trip_id = trips.id
WHERE stop_times.hash = $1 AND
      trips.hash = $1
ORDER BY stop_times.seq`

	params := []interface{}{r.id}
	if limit > 0 {
		query += " LIMIT $2"
		params = append(params, limit)
	}

	rows, err := r.db.Query(query, params...)
	if err != nil {
		return nil, fmt.Errorf("querying for stop time events: %w", err)
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

func (r *PSQLFeedReader) TripCountsByRoute() (map[string]int, error) {
	rows, err := r.db.Query(`
SELECT routes.id, COUNT(DISTINCT trips.id)
FROM routes
INNER JOIN trips ON routes.id = trips.route_id
WHERE routes.hash = $1 AND
      trips.hash = $1
GROUP BY routes.id`, r.id)
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

func (r *PSQLFeedReader) StopActivity(topN int) ([]StopActivity, error) {
	query := `
SELECT stops.id, stops.name, stops.lat, stops.lon, COUNT(*) AS n_arrivals
FROM stop_times
INNER JOIN stops ON stop_times.stop_id = stops.id
WHERE stop_times.hash = $1 AND
      stops.hash = $1
GROUP BY stops.id, stops.name, stops.lat, stops.lon
ORDER BY n_arrivals DESC, stops.id`

	params := []interface{}{r.id}
	if topN > 0 {
		query += " LIMIT $2"
		params = append(params, topN)
	}

	rows, err := r.db.Query(query, params...)
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

func (r *PSQLFeedReader) Delays() ([]model.DelayEvent, error) {
	var written bool
	err := r.db.QueryRow(
		`SELECT EXISTS (SELECT 1 FROM delays_written WHERE hash = $1)`, r.id,
	).Scan(&written)
	if err != nil {
		return nil, fmt.Errorf("checking for delays: %w", err)
	}
	if !written {
		return nil, ErrNoDelays
	}

	rows, err := r.db.Query(`
SELECT service_date, trip_id, stop_id, route_id, planned_arrival, actual_arrival, delay_min, reason
FROM delays
WHERE hash = $1
ORDER BY service_date, route_id, trip_id, stop_id, seq`, r.id)
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
