// Package timeline keeps a bounded in-memory history of pipeline events
// for the HTTP API.
package timeline

import (
	"context"
	"fmt"
	"math/rand"
	"path/filepath"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"

	"github.com/downsort/downsort/internal/events"
)

// Entry is a single recorded timeline entry.
type Entry struct {
	ID        string         `json:"id"`
	Type      events.Type    `json:"type"`
	Timestamp time.Time      `json:"timestamp"`
	Message   string         `json:"message"`
	Path      string         `json:"path,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
}

// Recorder subscribes to the event bus and retains the most recent
// entries, newest first.
type Recorder struct {
	eventBus   *events.Bus
	logger     zerolog.Logger
	maxEntries int

	mu      sync.RWMutex
	entries []Entry
	entropy *rand.Rand

	subscription events.Subscription
	cancel       context.CancelFunc
	wg           sync.WaitGroup
}

// Option is a functional option for configuring the recorder.
type Option func(*Recorder)

// WithLogger sets the logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(r *Recorder) {
		r.logger = logger
	}
}

// WithMaxEntries sets the maximum number of entries to retain.
func WithMaxEntries(maxEntries int) Option {
	return func(r *Recorder) {
		r.maxEntries = maxEntries
	}
}

// Default configuration values.
const defaultMaxEntries = 10000

// NewRecorder creates a timeline recorder fed by the event bus.
func NewRecorder(eventBus *events.Bus, opts ...Option) *Recorder {
	r := &Recorder{
		eventBus:   eventBus,
		logger:     zerolog.Nop(),
		maxEntries: defaultMaxEntries,
		entropy:    rand.New(rand.NewSource(time.Now().UnixNano())), //nolint:gosec // ULID entropy, not crypto
	}

	for _, opt := range opts {
		opt(r)
	}

	return r
}

// Start begins consuming events from the bus.
func (r *Recorder) Start(ctx context.Context) error {
	ctx, r.cancel = context.WithCancel(ctx)

	// Subscribe to all events (no filter)
	r.subscription = r.eventBus.Subscribe()

	r.wg.Add(1)
	go r.run(ctx)

	r.logger.Info().Msg("timeline recorder started")
	return nil
}

// Stop stops the recorder and waits for it to finish.
func (r *Recorder) Stop() {
	if r.cancel != nil {
		r.cancel()
	}

	r.eventBus.Unsubscribe(r.subscription)
	r.wg.Wait()

	r.logger.Info().Msg("timeline recorder stopped")
}

func (r *Recorder) run(ctx context.Context) {
	defer r.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-r.subscription:
			if !ok {
				return
			}
			r.Record(ev)
		}
	}
}

// Record adds an event to the timeline directly. Normally events arrive
// via the bus subscription; tests call this to seed entries.
func (r *Recorder) Record(ev events.Event) {
	timestamp := ev.Timestamp
	if timestamp.IsZero() {
		timestamp = time.Now()
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	entry := Entry{
		ID:        ulid.MustNew(ulid.Timestamp(timestamp), r.entropy).String(),
		Type:      ev.Type,
		Timestamp: timestamp,
		Message:   generateMessage(ev),
		Path:      ev.Path,
		Details:   ev.Data,
	}

	// Prepend entry (newest first)
	r.entries = append([]Entry{entry}, r.entries...)

	if len(r.entries) > r.maxEntries {
		r.entries = r.entries[:r.maxEntries]
	}

	r.logger.Debug().
		Str("id", entry.ID).
		Str("type", string(entry.Type)).
		Str("message", entry.Message).
		Msg("timeline entry recorded")
}

// Recent returns up to limit entries, newest first. A non-positive limit
// returns all entries.
func (r *Recorder) Recent(limit int) []Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n := len(r.entries)
	if limit > 0 && limit < n {
		n = limit
	}

	result := make([]Entry, n)
	copy(result, r.entries[:n])
	return result
}

// CountByType returns the number of recorded entries per event type.
func (r *Recorder) CountByType() map[events.Type]int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	counts := make(map[events.Type]int)
	for _, e := range r.entries {
		counts[e.Type]++
	}
	return counts
}

func generateMessage(ev events.Event) string {
	name := filepath.Base(ev.Path)

	switch ev.Type {
	case events.WatcherStarted:
		return fmt.Sprintf("Watching: %s", ev.Path)
	case events.WatcherStopped:
		return "Watcher stopped"
	case events.FileCreated:
		return fmt.Sprintf("Created: %s", name)
	case events.TempFileCreated:
		return fmt.Sprintf("Download started: %s", name)
	case events.DownloadCompleted:
		return fmt.Sprintf("Download completed: %s", name)
	case events.MoveStarted:
		return fmt.Sprintf("Move started: %s", name)
	case events.MoveComplete:
		dest, _ := ev.Data["destination"].(string)
		return fmt.Sprintf("Moved: %s -> %s", name, dest)
	case events.MoveSkipped:
		reason, _ := ev.Data["reason"].(string)
		return fmt.Sprintf("Skipped (%s): %s", reason, name)
	case events.MoveFailed:
		errMsg, _ := ev.Data["error"].(string)
		return fmt.Sprintf("Move failed: %s: %s", name, errMsg)
	default:
		return fmt.Sprintf("Event: %s", ev.Type)
	}
}
