// Package server provides the main application server.
package server

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/downsort/downsort/internal/api"
	"github.com/downsort/downsort/internal/config"
	"github.com/downsort/downsort/internal/events"
	"github.com/downsort/downsort/internal/journal"
	"github.com/downsort/downsort/internal/markers"
	"github.com/downsort/downsort/internal/routing"
	"github.com/downsort/downsort/internal/sorter"
	"github.com/downsort/downsort/internal/stability"
	"github.com/downsort/downsort/internal/timeline"
	"github.com/downsort/downsort/internal/watcher"
)

// Options holds additional server options not in config.
type Options struct {
	Logger zerolog.Logger
}

// Server is the main application server: the directory watcher, the
// sorting pipeline around it, and the HTTP API.
type Server struct {
	cfg       config.Config
	apiServer *api.Server
	watcher   *watcher.Watcher
	eventBus  *events.Bus
	timeline  *timeline.Recorder
	journal   *journal.Journal // nil when disabled
	logger    zerolog.Logger
}

// New creates a new server with the given configuration.
func New(cfg config.Config, opts Options) (*Server, error) {
	logger := opts.Logger
	if logger.GetLevel() == zerolog.Disabled {
		logger = zerolog.Nop()
	}

	eventBus := events.New(
		events.WithLogger(logger.With().Str("component", "events").Logger()),
	)

	timelineRecorder := timeline.NewRecorder(
		eventBus,
		timeline.WithLogger(logger.With().Str("component", "timeline").Logger()),
	)

	var moveJournal *journal.Journal
	if cfg.Journal.Path != "" {
		var err error
		moveJournal, err = journal.Open(
			cfg.Journal.Path,
			eventBus,
			journal.WithLogger(logger.With().Str("component", "journal").Logger()),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to open move journal: %w", err)
		}
	}

	table := routing.NewTable(cfg.Extensions, cfg.Destinations, cfg.Watch.TempExtensions)
	store := markers.NewStore(cfg.Watch.MarkerTTL)

	waiter := stability.NewWaiter(
		cfg.Watch.PollInterval,
		cfg.Watch.StablePeriod,
		cfg.Watch.MaxWait,
		stability.WithLogger(logger.With().Str("component", "stability").Logger()),
	)

	srt := sorter.New(
		table,
		store,
		waiter,
		eventBus,
		sorter.WithLogger(logger.With().Str("component", "sorter").Logger()),
	)

	router := watcher.NewRouter(table, store, srt, eventBus,
		logger.With().Str("component", "router").Logger())

	w := watcher.New(
		cfg.Watch.Path,
		router,
		table,
		eventBus,
		watcher.WithLogger(logger.With().Str("component", "watcher").Logger()),
	)

	apiOpts := []api.Option{
		api.WithLogger(logger.With().Str("component", "api").Logger()),
	}
	if moveJournal != nil {
		apiOpts = append(apiOpts, api.WithJournal(moveJournal))
	}

	apiServer := api.New(srt, store, timelineRecorder, apiOpts...)

	logger.Info().
		Str("watch_path", cfg.Watch.Path).
		Int("destinations", len(table.Destinations())).
		Bool("journal", moveJournal != nil).
		Msg("configuration loaded")

	return &Server{
		cfg:       cfg,
		apiServer: apiServer,
		watcher:   w,
		eventBus:  eventBus,
		timeline:  timelineRecorder,
		journal:   moveJournal,
		logger:    logger,
	}, nil
}

// Run starts the server and blocks until the context is cancelled.
func (s *Server) Run(ctx context.Context) error {
	s.logger.Info().
		Str("listen", s.cfg.Server.Listen).
		Str("watch_path", s.cfg.Watch.Path).
		Msg("starting downsort")

	if err := s.timeline.Start(ctx); err != nil {
		return fmt.Errorf("failed to start timeline: %w", err)
	}

	if s.journal != nil {
		if err := s.journal.Start(ctx); err != nil {
			return fmt.Errorf("failed to start journal: %w", err)
		}
	}

	if err := s.watcher.Start(ctx); err != nil {
		return fmt.Errorf("failed to start watcher: %w", err)
	}

	// Start server in goroutine
	errCh := make(chan error, 1)
	go func() {
		if err := s.apiServer.Start(s.cfg.Server.Listen); err != nil {
			errCh <- err
		}
	}()

	// Wait for context cancellation or error
	select {
	case <-ctx.Done():
		s.logger.Info().Msg("received shutdown signal")
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	}

	return nil
}

// Shutdown gracefully shuts down the server, letting in-flight move
// evaluations observe cancellation and drain.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info().Msg("shutting down...")

	if err := s.apiServer.Shutdown(ctx); err != nil {
		s.logger.Error().Err(err).Msg("server shutdown error")
	}

	s.watcher.Stop()
	s.timeline.Stop()

	if s.journal != nil {
		s.journal.Stop()
		if err := s.journal.Close(); err != nil {
			s.logger.Error().Err(err).Msg("journal close error")
		}
	}

	s.eventBus.Close()

	s.logger.Info().Msg("shutdown complete")
	return nil
}
