// Package watcher consumes filesystem notifications for the downloads
// directory and drives the download-detection state machine.
package watcher

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"

	"github.com/downsort/downsort/internal/events"
	"github.com/downsort/downsort/internal/routing"
)

// defaultPairWindow is how long a temp-artifact rename stays eligible
// for pairing with a subsequent create.
const defaultPairWindow = 2 * time.Second

// pendingRename is a temp-artifact name that disappeared via rename and
// is waiting for the create of its new name.
type pendingRename struct {
	name string
	at   time.Time
}

// Watcher watches a single directory (non-recursive) and translates raw
// fsnotify events into router transitions.
//
// fsnotify reports a rename as two events: Rename for the old path and
// Create for the new one, with no pairing between them. The watcher
// keeps recent temp-artifact renames in a short-lived pending set and
// pairs a final-name create against it only when a pending name minus
// its temp suffix equals the created name (the browser pattern:
// report.pdf.crdownload becomes report.pdf). Unmatched pending entries
// simply expire, so a create that cannot be tied to its own temp
// artifact is treated as a manual placement and never moved.
type Watcher struct {
	dir        string
	table      *routing.Table
	router     *Router
	eventBus   *events.Bus
	logger     zerolog.Logger
	pairWindow time.Duration
	now        func() time.Time

	pending []pendingRename

	fsw    *fsnotify.Watcher
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Option is a functional option for configuring the watcher.
type Option func(*Watcher)

// WithLogger sets the logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(w *Watcher) {
		w.logger = logger
	}
}

// WithPairWindow sets how long a rename waits for its matching create.
func WithPairWindow(d time.Duration) Option {
	return func(w *Watcher) {
		w.pairWindow = d
	}
}

// WithClock sets the time source. Used by tests.
func WithClock(now func() time.Time) Option {
	return func(w *Watcher) {
		w.now = now
	}
}

// New creates a watcher for dir.
func New(dir string, router *Router, table *routing.Table, eventBus *events.Bus, opts ...Option) *Watcher {
	w := &Watcher{
		dir:        dir,
		table:      table,
		router:     router,
		eventBus:   eventBus,
		logger:     zerolog.Nop(),
		pairWindow: defaultPairWindow,
		now:        time.Now,
	}

	for _, opt := range opts {
		opt(w)
	}

	return w
}

// Start begins watching. It fails if the directory cannot be watched;
// after that, event and notification errors are logged and watching
// continues.
func (w *Watcher) Start(ctx context.Context) error {
	info, err := os.Stat(w.dir)
	if err != nil {
		return fmt.Errorf("watch directory: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("watch path %s is not a directory", w.dir)
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create fsnotify watcher: %w", err)
	}

	if err := fsw.Add(w.dir); err != nil {
		_ = fsw.Close()
		return fmt.Errorf("watch %s: %w", w.dir, err)
	}

	w.fsw = fsw
	ctx, w.cancel = context.WithCancel(ctx)

	w.wg.Add(1)
	go w.run(ctx)

	w.logger.Info().Str("dir", w.dir).Msg("watcher started")
	w.eventBus.Publish(events.Event{Type: events.WatcherStarted, Path: w.dir})
	return nil
}

// Stop stops notification delivery and waits for in-flight move
// evaluations to finish or observe cancellation.
func (w *Watcher) Stop() {
	if w.cancel != nil {
		w.cancel()
	}
	if w.fsw != nil {
		_ = w.fsw.Close()
	}
	w.wg.Wait()

	w.logger.Info().Msg("watcher stopped")
	w.eventBus.Publish(events.Event{Type: events.WatcherStopped})
}

func (w *Watcher) run(ctx context.Context) {
	defer w.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.handle(ctx, ev)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.logger.Error().Err(err).Msg("watch error")
		}
	}
}

func (w *Watcher) handle(ctx context.Context, ev fsnotify.Event) {
	// Only events for direct children of the watched directory matter.
	if filepath.Dir(ev.Name) != filepath.Clean(w.dir) {
		return
	}

	switch {
	case ev.Op.Has(fsnotify.Create):
		w.handleCreate(ctx, ev.Name)
	case ev.Op.Has(fsnotify.Rename):
		w.handleRenameAway(ev.Name)
	}
}

// handleCreate routes a create notification: directory entries are
// ignored, and a final-name create that pairs with a pending temp
// rename becomes a moved transition evaluated on its own worker, so one
// file's stability wait never blocks event delivery.
func (w *Watcher) handleCreate(ctx context.Context, path string) {
	if info, err := os.Stat(path); err != nil || info.IsDir() {
		return
	}

	if src, ok := w.takePending(path); ok {
		w.wg.Add(1)
		go func() {
			defer w.wg.Done()
			w.router.OnMoved(ctx, src, path)
		}()
		return
	}

	w.router.OnCreated(path)
}

// handleRenameAway records that a temp artifact disappeared via rename.
// The create of its new name arrives as a separate event.
func (w *Watcher) handleRenameAway(path string) {
	if !w.table.IsTemp(routing.Ext(path)) {
		return
	}

	w.prunePending()
	w.pending = append(w.pending, pendingRename{name: filepath.Base(path), at: w.now()})
	w.logger.Debug().Str("path", path).Msg("temp artifact renamed away, awaiting new name")
}

// takePending pairs a created path with the pending temp rename whose
// name minus its temp suffix equals the created name, removing the
// matched entry. Creates of temp-artifact names never pair, and an
// unmatched create pairs with nothing: a temp artifact renamed to an
// unrelated name, or dragged out of the directory, must not make the
// next manual copy look like a completed download. Downloads whose temp
// name shares no stem with the final name go undetected; that false
// negative is the safe side of the trade.
func (w *Watcher) takePending(created string) (string, bool) {
	if w.table.IsTemp(routing.Ext(created)) {
		return "", false
	}

	w.prunePending()

	createdKey := strings.ToLower(filepath.Base(created))
	for i, p := range w.pending {
		stem := strings.TrimSuffix(p.name, filepath.Ext(p.name))
		if strings.ToLower(stem) == createdKey {
			w.pending = append(w.pending[:i], w.pending[i+1:]...)
			return filepath.Join(w.dir, p.name), true
		}
	}

	return "", false
}

func (w *Watcher) prunePending() {
	cutoff := w.now().Add(-w.pairWindow)
	kept := w.pending[:0]
	for _, p := range w.pending {
		if p.at.After(cutoff) {
			kept = append(kept, p)
		}
	}
	w.pending = kept
}
