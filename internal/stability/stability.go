// Package stability decides when a file has finished being written, by
// watching its size until it stops changing for a quiet period.
package stability

import (
	"context"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Waiter polls a file's size until it is stable, the file vanishes, or a
// deadline passes. Size stability is the proxy for "write complete": a
// browser still streaming a download keeps growing the file.
type Waiter struct {
	pollInterval time.Duration
	stablePeriod time.Duration
	maxWait      time.Duration
	now          func() time.Time
	sleep        func(ctx context.Context, d time.Duration) error
	statSize     func(path string) (int64, error)
	logger       zerolog.Logger
}

// Option is a functional option for configuring the waiter.
type Option func(*Waiter)

// WithLogger sets the logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(w *Waiter) {
		w.logger = logger
	}
}

// WithClock sets the time source and sleeper. Tests use this to simulate
// elapsed time without real delay.
func WithClock(now func() time.Time, sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(w *Waiter) {
		w.now = now
		w.sleep = sleep
	}
}

// WithStatSize sets the size probe. Tests use this to simulate files that
// grow, vanish, or error without touching the filesystem.
func WithStatSize(statSize func(path string) (int64, error)) Option {
	return func(w *Waiter) {
		w.statSize = statSize
	}
}

// NewWaiter creates a stability waiter.
func NewWaiter(pollInterval, stablePeriod, maxWait time.Duration, opts ...Option) *Waiter {
	w := &Waiter{
		pollInterval: pollInterval,
		stablePeriod: stablePeriod,
		maxWait:      maxWait,
		now:          time.Now,
		sleep:        sleepCtx,
		statSize:     statSize,
		logger:       zerolog.Nop(),
	}

	for _, opt := range opts {
		opt(w)
	}

	return w
}

// Wait blocks until path's size has been unchanged for the stable period
// and returns true. It returns false if the path stops existing, a size
// read fails, the max wait elapses without stability, or ctx is
// cancelled. Cancellation is cooperative, checked at each poll tick.
func (w *Waiter) Wait(ctx context.Context, path string) bool {
	start := w.now()
	lastSize := int64(-1)
	lastChange := start

	for {
		size, err := w.statSize(path)
		if err != nil {
			// Vanished or unreadable mid-wait. Not stable, not fatal.
			w.logger.Debug().Err(err).Str("path", path).Msg("stat failed during stability wait")
			return false
		}

		t := w.now()

		if size != lastSize {
			lastSize = size
			lastChange = t
		}

		if t.Sub(lastChange) >= w.stablePeriod {
			w.logger.Debug().
				Str("path", path).
				Int64("size", size).
				Dur("waited", t.Sub(start)).
				Msg("file size stable")
			return true
		}

		if t.Sub(start) >= w.maxWait {
			w.logger.Warn().
				Str("path", path).
				Dur("max_wait", w.maxWait).
				Msg("gave up waiting for file to stabilize")
			return false
		}

		if err := w.sleep(ctx, w.pollInterval); err != nil {
			return false
		}
	}
}

func statSize(path string) (int64, error) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
