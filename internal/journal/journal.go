// Package journal persists the move history to SQLite so completed moves
// survive restarts and are queryable via the API.
package journal

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	_ "modernc.org/sqlite" // sqlite driver

	"github.com/downsort/downsort/internal/events"
)

// Record is a single completed move.
type Record struct {
	ID          int64     `json:"id"`
	Source      string    `json:"source"`
	Destination string    `json:"destination"`
	Category    string    `json:"category"`
	Size        int64     `json:"size"`
	MovedAt     time.Time `json:"moved_at"`
}

const schema = `
CREATE TABLE IF NOT EXISTS moves (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	source TEXT NOT NULL,
	destination TEXT NOT NULL,
	category TEXT NOT NULL,
	size INTEGER NOT NULL DEFAULT 0,
	moved_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_moves_moved_at ON moves(moved_at);
`

// Journal subscribes to move.complete events and appends them to the
// moves table.
type Journal struct {
	db       *sql.DB
	eventBus *events.Bus
	logger   zerolog.Logger

	subscription events.Subscription
	cancel       context.CancelFunc
	wg           sync.WaitGroup
}

// Option is a functional option for configuring the journal.
type Option func(*Journal)

// WithLogger sets the logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(j *Journal) {
		j.logger = logger
	}
}

// Open opens (creating if necessary) the journal database at path.
func Open(path string, eventBus *events.Bus, opts ...Option) (*Journal, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open journal database: %w", err)
	}

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout = 5000",
	} {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply %s: %w", pragma, err)
		}
	}

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create journal schema: %w", err)
	}

	j := &Journal{
		db:       db,
		eventBus: eventBus,
		logger:   zerolog.Nop(),
	}

	for _, opt := range opts {
		opt(j)
	}

	return j, nil
}

// Start begins recording move.complete events.
func (j *Journal) Start(ctx context.Context) error {
	ctx, j.cancel = context.WithCancel(ctx)

	j.subscription = j.eventBus.Subscribe(events.MoveComplete)

	j.wg.Add(1)
	go j.run(ctx)

	j.logger.Info().Msg("move journal started")
	return nil
}

// Stop stops recording and waits for the subscriber to finish. The
// database stays open for queries until Close.
func (j *Journal) Stop() {
	if j.cancel != nil {
		j.cancel()
	}

	j.eventBus.Unsubscribe(j.subscription)
	j.wg.Wait()

	j.logger.Info().Msg("move journal stopped")
}

// Close closes the underlying database.
func (j *Journal) Close() error {
	return j.db.Close()
}

func (j *Journal) run(ctx context.Context) {
	defer j.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-j.subscription:
			if !ok {
				return
			}
			j.record(ctx, ev)
		}
	}
}

func (j *Journal) record(ctx context.Context, ev events.Event) {
	dest, _ := ev.Data["destination"].(string)
	category, _ := ev.Data["category"].(string)
	size, _ := ev.Data["size"].(int64)

	if err := j.Append(ctx, Record{
		Source:      ev.Path,
		Destination: dest,
		Category:    category,
		Size:        size,
		MovedAt:     ev.Timestamp,
	}); err != nil {
		j.logger.Error().Err(err).
			Str("path", ev.Path).
			Msg("failed to journal move")
	}
}

// Append inserts a move record.
func (j *Journal) Append(ctx context.Context, rec Record) error {
	movedAt := rec.MovedAt
	if movedAt.IsZero() {
		movedAt = time.Now()
	}

	_, err := j.db.ExecContext(ctx,
		`INSERT INTO moves (source, destination, category, size, moved_at) VALUES (?, ?, ?, ?, ?)`,
		rec.Source, rec.Destination, rec.Category, rec.Size, movedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("insert move record: %w", err)
	}
	return nil
}

// Recent returns up to limit move records, newest first. A non-positive
// limit returns the most recent 100.
func (j *Journal) Recent(ctx context.Context, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 100
	}

	rows, err := j.db.QueryContext(ctx,
		`SELECT id, source, destination, category, size, moved_at FROM moves ORDER BY moved_at DESC, id DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query move records: %w", err)
	}
	defer rows.Close() //nolint:errcheck // read-only cursor

	var records []Record
	for rows.Next() {
		var rec Record
		if err := rows.Scan(&rec.ID, &rec.Source, &rec.Destination, &rec.Category, &rec.Size, &rec.MovedAt); err != nil {
			return nil, fmt.Errorf("scan move record: %w", err)
		}
		records = append(records, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate move records: %w", err)
	}

	return records, nil
}

// Count returns the total number of journaled moves.
func (j *Journal) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := j.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM moves`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count move records: %w", err)
	}
	return n, nil
}
