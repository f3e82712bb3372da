package parse

import (
	"bytes"
	"fmt"
	"io"
	"strings"

	"github.com/gocarina/gocsv"
	"github.com/klauspost/compress/zip"
	"github.com/spkg/bom"

	"tidbyt.dev/gtfskpi/model"
	"tidbyt.dev/gtfskpi/storage"
)

func init() {
	// LazyCSVReader required (at least) to survive sloppy use of
	// quotes. The BOM reader strips unicode BOMs if present.
	gocsv.SetCSVReader(func(in io.Reader) gocsv.CSVReader {
		return gocsv.LazyCSVReader(bom.NewReader(in))
	})
}

// Number of records written per GTFS file.
type RowCounts map[string]int

// Counts records as they pass through to the underlying writer.
type countingWriter struct {
	storage.FeedWriter
	rows RowCounts
}

func (w *countingWriter) WriteStop(stop model.Stop) error {
	w.rows["stops.txt"]++
	return w.FeedWriter.WriteStop(stop)
}

func (w *countingWriter) WriteRoute(route model.Route) error {
	w.rows["routes.txt"]++
	return w.FeedWriter.WriteRoute(route)
}

func (w *countingWriter) WriteTrip(trip model.Trip) error {
	w.rows["trips.txt"]++
	return w.FeedWriter.WriteTrip(trip)
}

func (w *countingWriter) WriteCalendar(cal model.Calendar) error {
	w.rows["calendar.txt"]++
	return w.FeedWriter.WriteCalendar(cal)
}

func (w *countingWriter) WriteCalendarDate(cd model.CalendarDate) error {
	w.rows["calendar_dates.txt"]++
	return w.FeedWriter.WriteCalendarDate(cd)
}

func (w *countingWriter) WriteStopTime(stopTime model.StopTime) error {
	w.rows["stop_times.txt"]++
	return w.FeedWriter.WriteStopTime(stopTime)
}

// Parses a zipped static GTFS feed into writer. The returned
// metadata has calendar range and max arrival/departure filled in,
// but not URL, hash or retrieval time.
func ParseStatic(writer storage.FeedWriter, buf []byte) (*storage.FeedMetadata, RowCounts, error) {
	// These are the files we load for static dumps.
	file := map[string]io.ReadCloser{
		"routes.txt":         nil,
		"stops.txt":          nil,
		"trips.txt":          nil,
		"stop_times.txt":     nil,
		"calendar.txt":       nil,
		"calendar_dates.txt": nil,
	}

	defer func() {
		for _, rc := range file {
			if rc != nil {
				rc.Close()
			}
		}
	}()

	r, err := zip.NewReader(bytes.NewReader(buf), int64(len(buf)))
	if err != nil {
		return nil, nil, fmt.Errorf("unzipping: %w", err)
	}

	for _, f := range r.File {
		// There should not be any subdirectories. But, some
		// agencies don't care.
		if f.FileInfo().IsDir() {
			continue
		}
		path := strings.Split(f.Name, "/")
		fName := path[len(path)-1]

		if existing, found := file[fName]; !found || existing != nil {
			continue
		}

		rc, err := f.Open()
		if err != nil {
			return nil, nil, fmt.Errorf("opening %s: %w", f.Name, err)
		}

		file[fName] = rc
	}

	if file["calendar.txt"] == nil && file["calendar_dates.txt"] == nil {
		return nil, nil, fmt.Errorf("missing calendar.txt and calendar_dates.txt")
	}

	for _, required := range []string{"routes.txt", "stops.txt", "trips.txt", "stop_times.txt"} {
		if file[required] == nil {
			return nil, nil, fmt.Errorf("missing %s", required)
		}
	}

	counter := &countingWriter{FeedWriter: writer, rows: RowCounts{}}

	// Parse routes.txt. Extract route IDs in the process.
	routes, err := ParseRoutes(counter, file["routes.txt"])
	if err != nil {
		return nil, nil, fmt.Errorf("parsing routes.txt: %w", err)
	}

	// Parse calendar.txt and calendar_dates.txt. Extract set of
	// all service IDs, and min/max date of services seen.
	var calendarStart, calendarEnd string
	services := map[string]bool{}
	if file["calendar.txt"] != nil {
		services, calendarStart, calendarEnd, err = ParseCalendar(counter, file["calendar.txt"])
		if err != nil {
			return nil, nil, fmt.Errorf("parsing calendar.txt: %w", err)
		}
	}
	if file["calendar_dates.txt"] != nil {
		cdServices, minDate, maxDate, err := ParseCalendarDates(counter, file["calendar_dates.txt"])
		if err != nil {
			return nil, nil, fmt.Errorf("parsing calendar_dates.txt: %w", err)
		}
		for serviceID := range cdServices {
			services[serviceID] = true
		}
		if minDate != "" && (calendarStart == "" || minDate < calendarStart) {
			calendarStart = minDate
		}
		if maxDate != "" && (calendarEnd == "" || maxDate > calendarEnd) {
			calendarEnd = maxDate
		}
	}

	// Parse trips.txt. Extract trip IDs in the process.
	err = counter.BeginTrips()
	if err != nil {
		return nil, nil, fmt.Errorf("beginning trips: %w", err)
	}
	trips, err := ParseTrips(counter, file["trips.txt"], routes, services)
	if err != nil {
		return nil, nil, fmt.Errorf("parsing trips.txt: %w", err)
	}
	err = counter.EndTrips()
	if err != nil {
		return nil, nil, fmt.Errorf("ending trips: %w", err)
	}

	stops, err := ParseStops(counter, file["stops.txt"])
	if err != nil {
		return nil, nil, fmt.Errorf("parsing stops.txt: %w", err)
	}

	err = counter.BeginStopTimes()
	if err != nil {
		return nil, nil, fmt.Errorf("beginning stop_times: %w", err)
	}
	maxArrival, maxDeparture, err := ParseStopTimes(counter, file["stop_times.txt"], trips, stops)
	if err != nil {
		return nil, nil, fmt.Errorf("parsing stop_times.txt: %w", err)
	}
	err = counter.EndStopTimes()
	if err != nil {
		return nil, nil, fmt.Errorf("ending stop_times: %w", err)
	}

	// All files parsed: close the writer.
	err = counter.Close()
	if err != nil {
		return nil, nil, fmt.Errorf("closing feed writer: %w", err)
	}

	return &storage.FeedMetadata{
		CalendarStartDate: calendarStart,
		CalendarEndDate:   calendarEnd,
		MaxArrival:        maxArrival,
		MaxDeparture:      maxDeparture,
	}, counter.rows, nil
}
