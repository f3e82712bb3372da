// Package metrics exposes counters for ingestion, headway and delay
// runs, either over HTTP or as a node exporter textfile.
//
// All methods are safe to call on a nil *Collector.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"tidbyt.dev/gtfskpi/delay"
)

type Collector struct {
	reg *prometheus.Registry

	RowsIngested *prometheus.CounterVec // table label: stops|routes|trips|...

	HeadwayObservations prometheus.Counter
	HeadwayRoutes       prometheus.Gauge

	DelayEvents *prometheus.CounterVec // category label

	DelaysPublished     prometheus.Counter
	DelaysPublishErrors prometheus.Counter

	StageDuration *prometheus.HistogramVec // stage label
}

func NewCollector() *Collector {
	reg := prometheus.NewRegistry()

	c := &Collector{
		reg: reg,
		RowsIngested: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gtfskpi_schedule_rows_ingested_total",
			Help: "Schedule records written during ingestion, by GTFS table.",
		}, []string{"table"}),
		HeadwayObservations: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gtfskpi_headway_observations_total",
			Help: "Headway observations computed.",
		}),
		HeadwayRoutes: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "gtfskpi_headway_routes",
			Help: "Routes with headway statistics in the last run.",
		}),
		DelayEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gtfskpi_delay_events_total",
			Help: "Synthesized delay events, by category.",
		}, []string{"category"}),
		DelaysPublished: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gtfskpi_delays_published_total",
			Help: "Delay events published to NATS.",
		}),
		DelaysPublishErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gtfskpi_delays_publish_errors_total",
			Help: "Delay event publish failures.",
		}),
		StageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "gtfskpi_stage_duration_seconds",
			Help:    "Duration of pipeline stages.",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 16),
		}, []string{"stage"}),
	}

	reg.MustRegister(
		c.RowsIngested,
		c.HeadwayObservations, c.HeadwayRoutes,
		c.DelayEvents,
		c.DelaysPublished, c.DelaysPublishErrors,
		c.StageDuration,
	)

	return c
}

func (c *Collector) Registry() *prometheus.Registry {
	if c == nil {
		return nil
	}
	return c.reg
}

// Adds per table row counts from an ingestion.
func (c *Collector) ObserveIngest(rows map[string]int) {
	if c == nil {
		return
	}
	for table, n := range rows {
		c.RowsIngested.WithLabelValues(table).Add(float64(n))
	}
}

func (c *Collector) ObserveHeadways(observations int, routes int) {
	if c == nil {
		return
	}
	c.HeadwayObservations.Add(float64(observations))
	c.HeadwayRoutes.Set(float64(routes))
}

func (c *Collector) ObserveDelays(counts map[delay.Category]int) {
	if c == nil {
		return
	}
	for category, n := range counts {
		c.DelayEvents.WithLabelValues(category.String()).Add(float64(n))
	}
}

func (c *Collector) ObservePublish(err error) {
	if c == nil {
		return
	}
	if err != nil {
		c.DelaysPublishErrors.Inc()
		return
	}
	c.DelaysPublished.Inc()
}

// Starts timing a stage. Call the returned func when it's done.
func (c *Collector) Time(stage string) func() {
	if c == nil {
		return func() {}
	}
	start := time.Now()
	return func() {
		c.StageDuration.WithLabelValues(stage).Observe(time.Since(start).Seconds())
	}
}

func (c *Collector) Handler() http.Handler {
	if c == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(c.reg, promhttp.HandlerOpts{})
}

// Writes all metrics to path in the text exposition format, for
// pickup by node_exporter's textfile collector.
func (c *Collector) WriteTextfile(path string) error {
	if c == nil {
		return nil
	}
	return prometheus.WriteToTextfile(path, c.reg)
}
