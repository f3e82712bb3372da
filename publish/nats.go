// Package publish streams delay events to NATS, one message per
// event on a subject derived from its route and trip.
package publish

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/nats-io/nats.go"
	"golang.org/x/time/rate"

	"tidbyt.dev/gtfskpi/model"
)

// The subset of *nats.Conn used for publishing.
type Conn interface {
	Publish(subject string, data []byte) error
	Drain() error
	Close()
}

type Metrics interface {
	ObservePublish(err error)
}

type Config struct {
	URL string

	// Messages go to <Subject>.<route_id>.<trip_id>
	Subject string

	// Messages per second. Zero means no limit.
	Rate  float64
	Burst int
}

type NATSPublisher struct {
	conn    Conn
	subject string
	limiter *rate.Limiter
	logger  *slog.Logger
	metrics Metrics
}

type DelayMessage struct {
	ServiceDate    string `json:"serviceDate"`
	TripID         string `json:"tripId"`
	StopID         string `json:"stopId"`
	RouteID        string `json:"routeId"`
	PlannedArrival string `json:"plannedArrival"`
	ActualArrival  string `json:"actualArrival"`
	DelayMinutes   int    `json:"delayMin"`
	Reason         string `json:"reason"`
}

// Connects to the NATS server at cfg.URL.
func Connect(cfg Config, logger *slog.Logger, m Metrics) (*NATSPublisher, error) {
	if logger == nil {
		logger = slog.Default()
	}

	nc, err := nats.Connect(cfg.URL,
		nats.Name("gtfskpi"),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn("nats disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			logger.Info("nats reconnected")
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			logger.Debug("nats closed")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connecting to %s: %w", cfg.URL, err)
	}

	return NewNATSPublisher(nc, cfg, logger, m), nil
}

func NewNATSPublisher(conn Conn, cfg Config, logger *slog.Logger, m Metrics) *NATSPublisher {
	if logger == nil {
		logger = slog.Default()
	}

	var limiter *rate.Limiter
	if cfg.Rate > 0 {
		burst := cfg.Burst
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.Rate), burst)
	}

	return &NATSPublisher{
		conn:    conn,
		subject: cfg.Subject,
		limiter: limiter,
		logger:  logger,
		metrics: m,
	}
}

func (p *NATSPublisher) Close() {
	if p.conn != nil {
		p.conn.Drain()
		p.conn.Close()
	}
}

func (p *NATSPublisher) Subject(routeID, tripID string) string {
	return fmt.Sprintf("%s.%s.%s", p.subject, subjectToken(routeID), subjectToken(tripID))
}

// Publishes events in order, stopping at the first failure. Returns
// the number of events published.
func (p *NATSPublisher) PublishDelays(ctx context.Context, events []model.DelayEvent) (int, error) {
	for i, e := range events {
		if p.limiter != nil {
			if err := p.limiter.Wait(ctx); err != nil {
				return i, err
			}
		} else if err := ctx.Err(); err != nil {
			return i, err
		}

		b, err := json.Marshal(DelayMessage{
			ServiceDate:    e.ServiceDate,
			TripID:         e.TripID,
			StopID:         e.StopID,
			RouteID:        e.RouteID,
			PlannedArrival: e.PlannedArrival,
			ActualArrival:  e.ActualArrival,
			DelayMinutes:   e.DelayMinutes,
			Reason:         e.Reason,
		})
		if err != nil {
			return i, fmt.Errorf("marshaling event %d: %w", i, err)
		}

		subject := p.Subject(e.RouteID, e.TripID)
		err = p.conn.Publish(subject, b)
		if p.metrics != nil {
			p.metrics.ObservePublish(err)
		}
		if err != nil {
			return i, fmt.Errorf("publishing to %s: %w", subject, err)
		}
		p.logger.Debug("published delay", "subject", subject, "delay_min", e.DelayMinutes)
	}

	return len(events), nil
}

func subjectToken(s string) string {
	s = strings.TrimSpace(s)
	// NATS tokens cannot contain whitespace, '>', '*' or '.'
	repl := strings.NewReplacer(" ", "_", ".", "_", ">", "_", "*", "_", "/", "_", "\t", "_")
	s = repl.Replace(s)
	if s == "" {
		s = "_"
	}
	return s
}
