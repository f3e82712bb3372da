// Package server exposes stored feeds and their KPIs as a read-only
// JSON API.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"

	"tidbyt.dev/gtfskpi"
	"tidbyt.dev/gtfskpi/headway"
	"tidbyt.dev/gtfskpi/kpi"
	"tidbyt.dev/gtfskpi/metrics"
	"tidbyt.dev/gtfskpi/storage"
)

type Options struct {
	// Scheduled stop events considered for headways. 0 means all.
	HeadwayMaxRows int

	// Default number of stops returned by the stop activity
	// endpoint.
	StopsTopN int

	AllowedOrigins []string
}

type Server struct {
	manager *gtfskpi.Manager
	metrics *metrics.Collector
	logger  *slog.Logger
	opts    Options
	router  chi.Router
}

type ErrorResponse struct {
	Error string `json:"error"`
}

type FeedResponse struct {
	ID                string    `json:"id"`
	URL               string    `json:"url"`
	RetrievedAt       time.Time `json:"retrievedAt"`
	CalendarStartDate string    `json:"calendarStartDate"`
	CalendarEndDate   string    `json:"calendarEndDate"`
	MaxArrival        string    `json:"maxArrival"`
	MaxDeparture      string    `json:"maxDeparture"`
}

type HeadwayResponse struct {
	RouteID          string  `json:"routeId"`
	NHeadways        int     `json:"nHeadways"`
	AvgHeadwayMin    float64 `json:"avgHeadwayMin"`
	MedianHeadwayMin float64 `json:"medianHeadwayMin"`
	MinHeadwayMin    float64 `json:"minHeadwayMin"`
	MaxHeadwayMin    float64 `json:"maxHeadwayMin"`
}

type RouteKPIResponse struct {
	RouteID        string           `json:"routeId"`
	RouteShortName string           `json:"routeShortName"`
	RouteLongName  string           `json:"routeLongName"`
	RouteType      int              `json:"routeType"`
	NTrips         int              `json:"nTrips"`
	Headway        *HeadwayResponse `json:"headway,omitempty"`
}

type DelaySummaryResponse struct {
	NEvents            int     `json:"nEvents"`
	AvgDelayMin        float64 `json:"avgDelayMin"`
	ShareOver5Min      float64 `json:"shareOver5Min"`
	ShareOnTimeOrEarly float64 `json:"shareOnTimeOrEarly"`
}

type RouteDelayResponse struct {
	RouteID        string `json:"routeId"`
	RouteShortName string `json:"routeShortName"`
	RouteLongName  string `json:"routeLongName"`
	DelaySummaryResponse
}

// Summary is nil when the feed has no delays.
type DelayKPIResponse struct {
	Summary *DelaySummaryResponse `json:"summary"`
	Routes  []RouteDelayResponse  `json:"routes"`
}

type StopActivityResponse struct {
	StopID    string  `json:"stopId"`
	StopName  string  `json:"stopName"`
	StopLat   float64 `json:"stopLat"`
	StopLon   float64 `json:"stopLon"`
	NArrivals int     `json:"nArrivals"`
}

func New(manager *gtfskpi.Manager, m *metrics.Collector, logger *slog.Logger, opts Options) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if len(opts.AllowedOrigins) == 0 {
		opts.AllowedOrigins = []string{"*"}
	}

	s := &Server{
		manager: manager,
		metrics: m,
		logger:  logger,
		opts:    opts,
	}

	r := chi.NewRouter()
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: opts.AllowedOrigins,
		AllowedMethods: []string{"GET", "OPTIONS"},
		AllowedHeaders: []string{"*"},
	}))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	r.Handle("/metrics", m.Handler())

	r.Get("/feeds", s.getFeeds)
	r.Route("/feeds/{feed}", func(r chi.Router) {
		r.Get("/headways", s.getHeadways)
		r.Get("/kpis/routes", s.getRouteKPIs)
		r.Get("/kpis/delays", s.getDelayKPIs)
		r.Get("/kpis/stops", s.getStopKPIs)
	})

	s.router = r

	return s
}

func (s *Server) Handler() http.Handler {
	return s.router
}

// Serves on addr until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("api listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, gtfskpi.ErrNoFeed) {
		writeJSON(w, http.StatusNotFound, ErrorResponse{Error: "feed not found"})
		return
	}
	if errors.Is(err, gtfskpi.ErrAmbiguousFeed) {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "ambiguous feed id"})
		return
	}
	s.logger.Error("request failed", "path", r.URL.Path, "error", err)
	writeJSON(w, http.StatusInternalServerError, ErrorResponse{Error: "internal error"})
}

func (s *Server) feed(r *http.Request) (*gtfskpi.Feed, error) {
	return s.manager.Feed(chi.URLParam(r, "feed"))
}

func (s *Server) getFeeds(w http.ResponseWriter, r *http.Request) {
	feeds, err := s.manager.ListFeeds()
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	resp := make([]FeedResponse, 0, len(feeds))
	for _, f := range feeds {
		resp = append(resp, feedResponse(f))
	}

	writeJSON(w, http.StatusOK, resp)
}

func feedResponse(f *storage.FeedMetadata) FeedResponse {
	return FeedResponse{
		ID:                f.Hash,
		URL:               f.URL,
		RetrievedAt:       f.RetrievedAt,
		CalendarStartDate: f.CalendarStartDate,
		CalendarEndDate:   f.CalendarEndDate,
		MaxArrival:        f.MaxArrival,
		MaxDeparture:      f.MaxDeparture,
	}
}

func headwayResponse(stats headway.RouteStats) HeadwayResponse {
	return HeadwayResponse{
		RouteID:          stats.RouteID,
		NHeadways:        stats.Count,
		AvgHeadwayMin:    stats.Mean,
		MedianHeadwayMin: stats.Median,
		MinHeadwayMin:    stats.Min,
		MaxHeadwayMin:    stats.Max,
	}
}

func delaySummaryResponse(summary kpi.DelaySummary) DelaySummaryResponse {
	return DelaySummaryResponse{
		NEvents:            summary.NEvents,
		AvgDelayMin:        summary.AvgDelayMin,
		ShareOver5Min:      summary.ShareOver5Min,
		ShareOnTimeOrEarly: summary.ShareOnTimeOrEarly,
	}
}

func (s *Server) getHeadways(w http.ResponseWriter, r *http.Request) {
	feed, err := s.feed(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	result, err := feed.Headways(s.opts.HeadwayMaxRows)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	resp := []HeadwayResponse{}
	for _, stats := range result.Sorted() {
		resp = append(resp, headwayResponse(stats))
	}

	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) getRouteKPIs(w http.ResponseWriter, r *http.Request) {
	feed, err := s.feed(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	rows, err := feed.ScheduleKPIs(s.opts.HeadwayMaxRows)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	resp := make([]RouteKPIResponse, 0, len(rows))
	for _, row := range rows {
		rk := RouteKPIResponse{
			RouteID:        row.RouteID,
			RouteShortName: row.RouteShortName,
			RouteLongName:  row.RouteLongName,
			RouteType:      int(row.RouteType),
			NTrips:         row.NTrips,
		}
		if row.Headway != nil {
			h := headwayResponse(*row.Headway)
			rk.Headway = &h
		}
		resp = append(resp, rk)
	}

	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) getDelayKPIs(w http.ResponseWriter, r *http.Request) {
	feed, err := s.feed(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	resp := DelayKPIResponse{Routes: []RouteDelayResponse{}}

	summary, ok, err := feed.DelayKPIs()
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if ok {
		sr := delaySummaryResponse(summary)
		resp.Summary = &sr
	}

	routes, err := feed.RouteDelayKPIs()
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	for _, route := range routes {
		resp.Routes = append(resp.Routes, RouteDelayResponse{
			RouteID:              route.RouteID,
			RouteShortName:       route.RouteShortName,
			RouteLongName:        route.RouteLongName,
			DelaySummaryResponse: delaySummaryResponse(route.DelaySummary),
		})
	}

	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) getStopKPIs(w http.ResponseWriter, r *http.Request) {
	topN := s.opts.StopsTopN
	if v := r.URL.Query().Get("top"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "top must be a non-negative integer"})
			return
		}
		topN = n
	}

	feed, err := s.feed(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	activity, err := feed.StopActivity(topN)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	resp := make([]StopActivityResponse, 0, len(activity))
	for _, a := range activity {
		resp = append(resp, StopActivityResponse{
			StopID:    a.StopID,
			StopName:  a.StopName,
			StopLat:   a.StopLat,
			StopLon:   a.StopLon,
			NArrivals: a.NArrivals,
		})
	}

	writeJSON(w, http.StatusOK, resp)
}
