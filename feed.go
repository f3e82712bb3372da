package gtfskpi

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"tidbyt.dev/gtfskpi/delay"
	"tidbyt.dev/gtfskpi/headway"
	"tidbyt.dev/gtfskpi/kpi"
	"tidbyt.dev/gtfskpi/metrics"
	"tidbyt.dev/gtfskpi/model"
	"tidbyt.dev/gtfskpi/storage"
)

// Analytics over a single ingested feed.
type Feed struct {
	Metadata *storage.FeedMetadata
	Reader   storage.FeedReader

	storage storage.Storage
	logger  *slog.Logger
	metrics *metrics.Collector
	timeNow func() time.Time
}

type SynthesizeOptions struct {
	// Number of scheduled stop events to sample.
	Samples int

	// Seeds the sample selection. Synthesis over the sample is
	// seeded with Seed+1.
	Seed int64

	// YYYY-MM-DD
	ServiceDate string
}

func (f *Feed) ID() string {
	return f.Metadata.Hash
}

// Computes headways over the first maxRows scheduled stop events
// (all of them if maxRows is 0).
func (f *Feed) Headways(maxRows int) (*headway.Result, error) {
	defer f.metrics.Time("headways")()

	events, err := f.Reader.ScheduledStopEvents(maxRows)
	if err != nil {
		return nil, fmt.Errorf("getting scheduled stop events: %w", err)
	}

	result, err := headway.Compute(events)
	if err != nil {
		return nil, fmt.Errorf("computing headways: %w", err)
	}

	f.metrics.ObserveHeadways(len(result.Observations), len(result.Routes))
	f.logger.Info(
		"computed headways",
		"rows", len(events),
		"observations", len(result.Observations),
		"routes", len(result.Routes),
	)

	return result, nil
}

// Samples scheduled stop events, synthesizes a delay for each and
// stores them as the feed's delays, replacing any loaded
// previously. The same options on the same feed always produce the
// same events.
func (f *Feed) SynthesizeDelays(opts SynthesizeOptions) (*storage.DelayRun, []model.DelayEvent, error) {
	defer f.metrics.Time("synthesize")()

	events, err := f.Reader.ScheduledStopEvents(0)
	if err != nil {
		return nil, nil, fmt.Errorf("getting scheduled stop events: %w", err)
	}

	sample := delay.Sample(events, opts.Samples, opts.Seed)

	delays, err := delay.NewSynthesizer(opts.Seed+1).Synthesize(sample, opts.ServiceDate)
	if err != nil {
		return nil, nil, fmt.Errorf("synthesizing delays: %w", err)
	}

	run := &storage.DelayRun{
		ID:          uuid.NewString(),
		Feed:        f.ID(),
		Source:      storage.DelaySourceSynthesized,
		ServiceDate: opts.ServiceDate,
		Seed:        opts.Seed,
		Events:      len(delays),
		CreatedAt:   f.timeNow().UTC(),
	}

	err = f.storage.WriteDelays(f.ID(), run, delays)
	if err != nil {
		return nil, nil, fmt.Errorf("writing delays: %w", err)
	}

	f.metrics.ObserveDelays(delay.CountByCategory(delays))
	f.logger.Info(
		"synthesized delays",
		"run_id", run.ID,
		"rows", len(delays),
		"seed", opts.Seed,
		"service_date", opts.ServiceDate,
	)

	return run, delays, nil
}

// Stores externally produced delay events as the feed's delays,
// replacing any loaded previously.
func (f *Feed) LoadDelays(delays []model.DelayEvent) (*storage.DelayRun, error) {
	sorted := append([]model.DelayEvent{}, delays...)
	delay.SortEvents(sorted)

	// Service date is only recorded if all events agree on it.
	serviceDate := ""
	for i, d := range sorted {
		if i == 0 {
			serviceDate = d.ServiceDate
		} else if d.ServiceDate != serviceDate {
			serviceDate = ""
			break
		}
	}

	run := &storage.DelayRun{
		ID:          uuid.NewString(),
		Feed:        f.ID(),
		Source:      storage.DelaySourceCSV,
		ServiceDate: serviceDate,
		Events:      len(sorted),
		CreatedAt:   f.timeNow().UTC(),
	}

	err := f.storage.WriteDelays(f.ID(), run, sorted)
	if err != nil {
		return nil, fmt.Errorf("writing delays: %w", err)
	}

	f.logger.Info("loaded delays", "run_id", run.ID, "rows", len(sorted))

	return run, nil
}

// The feed's delay events. Returns storage.ErrNoDelays if none have
// been synthesized or loaded.
func (f *Feed) Delays() ([]model.DelayEvent, error) {
	return f.Reader.Delays()
}

func (f *Feed) DelayRuns() ([]*storage.DelayRun, error) {
	return f.storage.ListDelayRuns(f.ID())
}

// Feed wide delay KPIs. Returns false if the feed has no delays.
func (f *Feed) DelayKPIs() (kpi.DelaySummary, bool, error) {
	delays, err := f.Reader.Delays()
	if errors.Is(err, storage.ErrNoDelays) {
		return kpi.DelaySummary{}, false, nil
	}
	if err != nil {
		return kpi.DelaySummary{}, false, fmt.Errorf("getting delays: %w", err)
	}

	summary, ok := kpi.SummarizeDelays(delays)
	return summary, ok, nil
}

// Per route delay KPIs, attributing each delay to the route of its
// trip. Empty if the feed has no delays.
func (f *Feed) RouteDelayKPIs() ([]kpi.DelayRoute, error) {
	delays, err := f.Reader.Delays()
	if errors.Is(err, storage.ErrNoDelays) {
		f.logger.Debug("no delays loaded")
		return []kpi.DelayRoute{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting delays: %w", err)
	}

	trips, err := f.Reader.Trips()
	if err != nil {
		return nil, fmt.Errorf("getting trips: %w", err)
	}

	routes, err := f.Reader.Routes()
	if err != nil {
		return nil, fmt.Errorf("getting routes: %w", err)
	}

	return kpi.DelaysByTripRoute(delays, trips, routes), nil
}

// Per route trip counts, with headway statistics computed over the
// first maxRows scheduled stop events.
func (f *Feed) ScheduleKPIs(maxRows int) ([]kpi.RouteSchedule, error) {
	headways, err := f.Headways(maxRows)
	if err != nil {
		return nil, err
	}

	return f.ScheduleKPIsWith(headways.Routes)
}

// Per route trip counts merged with already computed headway
// statistics.
func (f *Feed) ScheduleKPIsWith(headways map[string]headway.RouteStats) ([]kpi.RouteSchedule, error) {
	routes, err := f.Reader.Routes()
	if err != nil {
		return nil, fmt.Errorf("getting routes: %w", err)
	}

	tripCounts, err := f.Reader.TripCountsByRoute()
	if err != nil {
		return nil, fmt.Errorf("getting trip counts: %w", err)
	}

	return kpi.ScheduleByRoute(routes, tripCounts, headways), nil
}

// The topN stops by scheduled arrivals (all if topN is 0).
func (f *Feed) StopActivity(topN int) ([]storage.StopActivity, error) {
	activity, err := f.Reader.StopActivity(topN)
	if err != nil {
		return nil, fmt.Errorf("getting stop activity: %w", err)
	}
	return activity, nil
}

// Number of routes, trips and stops.
func (f *Feed) Summary() (storage.FeedCounts, error) {
	counts, err := f.Reader.Counts()
	if err != nil {
		return storage.FeedCounts{}, fmt.Errorf("counting: %w", err)
	}
	return counts, nil
}
