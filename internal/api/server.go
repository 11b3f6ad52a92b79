// Package api provides the HTTP API server.
package api //nolint:revive // api is a common, well-understood package name

import (
	"context"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"

	"github.com/downsort/downsort/apitypes"
	"github.com/downsort/downsort/internal/journal"
	"github.com/downsort/downsort/internal/markers"
	"github.com/downsort/downsort/internal/sorter"
	"github.com/downsort/downsort/internal/timeline"
)

// maxListLimit caps the limit query parameter on list endpoints.
const maxListLimit = 1000

// Server is the HTTP API server.
type Server struct {
	echo     *echo.Echo
	sorter   *sorter.Sorter
	store    *markers.Store
	timeline *timeline.Recorder
	journal  *journal.Journal // nil when the journal is disabled
	logger   zerolog.Logger
}

// Option is a functional option for configuring the server.
type Option func(*Server)

// WithLogger sets the logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithJournal exposes the move history endpoints.
func WithJournal(j *journal.Journal) Option {
	return func(s *Server) {
		s.journal = j
	}
}

// New creates a new API server.
func New(
	srt *sorter.Sorter,
	store *markers.Store,
	tl *timeline.Recorder,
	opts ...Option,
) *Server {
	s := &Server{
		echo:     echo.New(),
		sorter:   srt,
		store:    store,
		timeline: tl,
		logger:   zerolog.Nop(),
	}

	for _, opt := range opts {
		opt(s)
	}

	s.setupMiddleware()
	s.setupRoutes()

	return s
}

func (s *Server) setupMiddleware() {
	s.echo.HideBanner = true
	s.echo.HidePort = true

	// Request logging
	s.echo.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogURI:    true,
		LogStatus: true,
		LogMethod: true,
		LogError:  true,
		LogValuesFunc: func(_ echo.Context, v middleware.RequestLoggerValues) error {
			if v.Error != nil {
				s.logger.Error().
					Err(v.Error).
					Str("method", v.Method).
					Str("uri", v.URI).
					Int("status", v.Status).
					Msg("request error")
			} else {
				s.logger.Debug().
					Str("method", v.Method).
					Str("uri", v.URI).
					Int("status", v.Status).
					Msg("request")
			}
			return nil
		},
	}))

	// Recovery
	s.echo.Use(middleware.Recover())

	// CORS
	s.echo.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet},
	}))
}

func (s *Server) setupRoutes() {
	api := s.echo.Group("/api")

	api.GET("/health", s.healthHandler)
	api.GET("/stats", s.statsHandler)
	api.GET("/events", s.eventsHandler)
	api.GET("/markers", s.markersHandler)
	api.GET("/history", s.historyHandler)
}

// Start starts the server.
func (s *Server) Start(addr string) error {
	s.logger.Info().Str("addr", addr).Msg("starting http server")
	return s.echo.Start(addr)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

// ServeHTTP implements http.Handler for testing.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.echo.ServeHTTP(w, r)
}

// Handlers

func (s *Server) healthHandler(c echo.Context) error {
	return c.JSON(http.StatusOK, apitypes.HealthResponse{Status: "ok"})
}

func (s *Server) statsHandler(c echo.Context) error {
	st := s.sorter.Stats()

	resp := apitypes.Stats{
		Moved:       st.Moved,
		Skipped:     st.Skipped,
		Failed:      st.Failed,
		LiveMarkers: s.store.Len(),
	}

	if s.journal != nil {
		count, err := s.journal.Count(c.Request().Context())
		if err != nil {
			s.logger.Warn().Err(err).Msg("failed to count journaled moves")
		} else {
			resp.JournaledMoves = count
		}
	}

	return c.JSON(http.StatusOK, resp)
}

func (s *Server) eventsHandler(c echo.Context) error {
	entries := s.timeline.Recent(limitParam(c))
	if entries == nil {
		entries = []timeline.Entry{}
	}
	return c.JSON(http.StatusOK, entries)
}

func (s *Server) markersHandler(c echo.Context) error {
	snapshot := s.store.Snapshot()
	if snapshot == nil {
		snapshot = []markers.Marker{}
	}
	return c.JSON(http.StatusOK, snapshot)
}

func (s *Server) historyHandler(c echo.Context) error {
	if s.journal == nil {
		return c.JSON(http.StatusNotFound, apitypes.ErrorResponse{Error: "move journal is disabled"})
	}

	records, err := s.journal.Recent(c.Request().Context(), limitParam(c))
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to query move history")
		return c.JSON(http.StatusInternalServerError, apitypes.ErrorResponse{Error: "failed to query move history"})
	}
	if records == nil {
		records = []journal.Record{}
	}

	return c.JSON(http.StatusOK, records)
}

// limitParam parses the limit query parameter, clamped to maxListLimit.
// Zero means "use the endpoint default".
func limitParam(c echo.Context) int {
	raw := c.QueryParam("limit")
	if raw == "" {
		return 0
	}

	limit, err := strconv.Atoi(raw)
	if err != nil || limit < 0 {
		return 0
	}
	if limit > maxListLimit {
		return maxListLimit
	}
	return limit
}
