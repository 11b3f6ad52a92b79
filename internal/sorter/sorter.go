// Package sorter decides whether a file in the watched directory is a
// completed download and, if so, moves it to its category destination.
package sorter

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog"

	"github.com/downsort/downsort/internal/events"
	"github.com/downsort/downsort/internal/fileutil"
	"github.com/downsort/downsort/internal/markers"
	"github.com/downsort/downsort/internal/routing"
	"github.com/downsort/downsort/internal/stability"
)

// Skip reasons surfaced on move.skipped events.
const (
	SkipUntracked = "not a tracked download"
	SkipUnstable  = "not stable"
)

// Stats are counters over this sorter's lifetime.
type Stats struct {
	Moved   int64 `json:"moved"`
	Skipped int64 `json:"skipped"`
	Failed  int64 `json:"failed"`
}

// Sorter orchestrates the move decision for one file at a time:
// marker gate, stability gate, routing, collision-free naming, move.
type Sorter struct {
	table    *routing.Table
	store    *markers.Store
	waiter   *stability.Waiter
	eventBus *events.Bus
	logger   zerolog.Logger

	// moveMu serializes unique-name selection and the move itself, so
	// two workers finishing at once cannot claim the same "(1)" suffix.
	moveMu sync.Mutex

	statsMu sync.Mutex
	stats   Stats
}

// Option is a functional option for configuring the sorter.
type Option func(*Sorter)

// WithLogger sets the logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(s *Sorter) {
		s.logger = logger
	}
}

// New creates a sorter.
func New(table *routing.Table, store *markers.Store, waiter *stability.Waiter, eventBus *events.Bus, opts ...Option) *Sorter {
	s := &Sorter{
		table:    table,
		store:    store,
		waiter:   waiter,
		eventBus: eventBus,
		logger:   zerolog.Nop(),
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// MaybeMove evaluates path and moves it to its routed destination when it
// is a tracked, size-stable download of a managed type. Every other case
// leaves the file in place. Errors are logged and absorbed; a failed
// invocation never takes the watcher down, and the file stays where it
// is for a later event to re-trigger.
func (s *Sorter) MaybeMove(ctx context.Context, path string) {
	// The file may have vanished, or the event may be about a directory.
	if !fileutil.IsRegularFile(path) {
		s.logger.Debug().Str("path", path).Msg("not a regular file, ignoring")
		return
	}

	ext := routing.Ext(path)

	// Never move temp download artifacts, even if their extension were
	// also routed somewhere.
	if s.table.IsTemp(ext) {
		return
	}

	route, ok := s.table.Route(ext)
	if !ok {
		s.logger.Debug().Str("path", path).Str("ext", ext).Msg("unmanaged type, leaving in place")
		return
	}

	// The anti-false-positive gate: only files whose final name was
	// produced by an observed temp-artifact rename carry a marker.
	// Anything else is a manual placement and stays put.
	s.store.PurgeExpired()
	key := routing.Key(path)
	if !s.store.Has(key) {
		s.skip(path, SkipUntracked)
		return
	}

	s.eventBus.Publish(events.Event{Type: events.MoveStarted, Path: path, Data: map[string]any{
		"category": string(route.Category),
	}})

	if !s.waiter.Wait(ctx, path) {
		s.skip(path, SkipUnstable)
		return
	}

	size := s.statSize(path)

	dest, err := s.move(path, route)
	if err != nil {
		s.fail(path, err)
		return
	}

	// Marker consumed.
	s.store.Remove(key)

	s.statsMu.Lock()
	s.stats.Moved++
	s.statsMu.Unlock()

	s.logger.Info().
		Str("path", path).
		Str("destination", dest).
		Str("category", string(route.Category)).
		Msg("moved")

	s.eventBus.Publish(events.Event{Type: events.MoveComplete, Path: path, Data: map[string]any{
		"destination": dest,
		"category":    string(route.Category),
		"size":        size,
	}})
}

// move performs mkdir, collision-free naming, and the move under the
// move lock. The destination is probed inside the lock so the name
// chosen is still free when the rename happens.
func (s *Sorter) move(path string, route routing.Route) (string, error) {
	s.moveMu.Lock()
	defer s.moveMu.Unlock()

	if err := os.MkdirAll(route.Dir, 0750); err != nil {
		return "", fmt.Errorf("create destination directory: %w", err)
	}

	dest, err := fileutil.UniqueDest(route.Dir, filepath.Base(path))
	if err != nil {
		return "", err
	}

	if err := fileutil.MoveFile(path, dest); err != nil {
		return "", fmt.Errorf("move to %s: %w", dest, err)
	}

	return dest, nil
}

// Stats returns a copy of the lifetime counters.
func (s *Sorter) Stats() Stats {
	s.statsMu.Lock()
	defer s.statsMu.Unlock()
	return s.stats
}

func (s *Sorter) skip(path, reason string) {
	s.statsMu.Lock()
	s.stats.Skipped++
	s.statsMu.Unlock()

	s.logger.Info().
		Str("path", path).
		Str("reason", reason).
		Msg("skipped")

	s.eventBus.Publish(events.Event{Type: events.MoveSkipped, Path: path, Data: map[string]any{
		"reason": reason,
	}})
}

func (s *Sorter) fail(path string, err error) {
	s.statsMu.Lock()
	s.stats.Failed++
	s.statsMu.Unlock()

	s.logger.Error().Err(err).
		Str("path", path).
		Msg("move failed")

	s.eventBus.Publish(events.Event{Type: events.MoveFailed, Path: path, Data: map[string]any{
		"error": err.Error(),
	}})
}

// statSize returns the file size for the move.complete event, or zero
// when the stat fails.
func (s *Sorter) statSize(path string) int64 {
	info, err := os.Stat(path)
	if err != nil {
		s.logger.Debug().Err(err).Str("path", path).Msg("stat before move failed, recording size 0")
		return 0
	}
	return info.Size()
}
