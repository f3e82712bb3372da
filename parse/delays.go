package parse

import (
	"io"
	"time"

	"github.com/gocarina/gocsv"
	"github.com/pkg/errors"

	"tidbyt.dev/gtfskpi/delay"
	"tidbyt.dev/gtfskpi/model"
	"tidbyt.dev/gtfskpi/schedtime"
)

type DelayCSV struct {
	ServiceDate    string `csv:"service_date"`
	TripID         string `csv:"trip_id"`
	StopID         string `csv:"stop_id"`
	RouteID        string `csv:"route_id"`
	PlannedArrival string `csv:"planned_arrival"`
	ActualArrival  string `csv:"actual_arrival"`
	DelayMin       int    `csv:"delay_min"`
	Reason         string `csv:"reason"`
}

// Reads a delays CSV, as written by report.WriteDelays. Events are
// returned in file order.
func ParseDelays(data io.Reader) ([]model.DelayEvent, error) {
	events := []model.DelayEvent{}

	i := -1
	err := gocsv.UnmarshalToCallbackWithError(data, func(d *DelayCSV) error {
		i += 1

		if _, err := time.Parse(delay.ServiceDateLayout, d.ServiceDate); err != nil {
			return errors.Wrapf(err, "parsing service_date (row %d)", i+1)
		}
		if d.TripID == "" || d.StopID == "" || d.RouteID == "" {
			return errors.Errorf("missing trip_id, stop_id or route_id (row %d)", i+1)
		}
		if d.Reason == "" {
			return errors.Errorf("missing reason (row %d)", i+1)
		}

		planned, err := schedtime.Normalize(d.PlannedArrival)
		if err != nil {
			return errors.Wrapf(err, "parsing planned_arrival (row %d)", i+1)
		}
		actual, err := schedtime.Normalize(d.ActualArrival)
		if err != nil {
			return errors.Wrapf(err, "parsing actual_arrival (row %d)", i+1)
		}

		events = append(events, model.DelayEvent{
			ServiceDate:    d.ServiceDate,
			TripID:         d.TripID,
			StopID:         d.StopID,
			RouteID:        d.RouteID,
			PlannedArrival: planned,
			ActualArrival:  actual,
			DelayMinutes:   d.DelayMin,
			Reason:         d.Reason,
		})

		return nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "unmarshaling delays csv")
	}

	return events, nil
}
