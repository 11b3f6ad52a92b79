package stability_test

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/downsort/downsort/internal/stability"
)

// simClock simulates time: Now returns the simulated instant and Sleep
// advances it, so waits complete without real delay.
type simClock struct {
	start time.Time
	now   time.Time
}

func newSimClock() *simClock {
	start := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	return &simClock{start: start, now: start}
}

func (c *simClock) Now() time.Time {
	return c.now
}

func (c *simClock) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.now = c.now.Add(d)
	return nil
}

func (c *simClock) Elapsed() time.Duration {
	return c.now.Sub(c.start)
}

func newWaiter(clock *simClock, statSize func(string) (int64, error)) *stability.Waiter {
	return stability.NewWaiter(
		500*time.Millisecond,
		2*time.Second,
		180*time.Second,
		stability.WithClock(clock.Now, clock.Sleep),
		stability.WithStatSize(statSize),
	)
}

func TestWait(t *testing.T) {
	t.Run("constant size is stable after the quiet period", func(t *testing.T) {
		clock := newSimClock()
		w := newWaiter(clock, func(string) (int64, error) {
			return 1024, nil
		})

		ok := w.Wait(context.Background(), "/downloads/report.pdf")

		require.True(t, ok)
		assert.Equal(t, 2*time.Second, clock.Elapsed())
	})

	t.Run("growing file stabilizes once writes stop", func(t *testing.T) {
		clock := newSimClock()
		// Grows for the first three seconds, then holds.
		w := newWaiter(clock, func(string) (int64, error) {
			if clock.Elapsed() < 3*time.Second {
				return int64(clock.Elapsed() / time.Millisecond), nil
			}
			return 3000, nil
		})

		ok := w.Wait(context.Background(), "/downloads/movie.mp4")

		require.True(t, ok)
		// Stable period starts counting at the last size change.
		assert.Equal(t, 5*time.Second, clock.Elapsed())
	})

	t.Run("file that never stabilizes times out at max wait", func(t *testing.T) {
		clock := newSimClock()
		w := newWaiter(clock, func(string) (int64, error) {
			// A new size on every poll.
			return int64(clock.Elapsed()), nil
		})

		ok := w.Wait(context.Background(), "/downloads/movie.mp4")

		require.False(t, ok)
		assert.Equal(t, 180*time.Second, clock.Elapsed())
	})

	t.Run("vanished file is not stable", func(t *testing.T) {
		clock := newSimClock()
		w := newWaiter(clock, func(string) (int64, error) {
			if clock.Elapsed() >= time.Second {
				return 0, os.ErrNotExist
			}
			return 100, nil
		})

		ok := w.Wait(context.Background(), "/downloads/gone.pdf")
		require.False(t, ok)
	})

	t.Run("stat error aborts the wait", func(t *testing.T) {
		clock := newSimClock()
		w := newWaiter(clock, func(string) (int64, error) {
			return 0, errors.New("permission denied")
		})

		require.False(t, w.Wait(context.Background(), "/downloads/locked.pdf"))
	})

	t.Run("cancellation stops the wait at the next tick", func(t *testing.T) {
		clock := newSimClock()
		w := newWaiter(clock, func(string) (int64, error) {
			return 42, nil
		})

		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		require.False(t, w.Wait(ctx, "/downloads/report.pdf"))
		assert.Equal(t, time.Duration(0), clock.Elapsed())
	})

	t.Run("real filesystem stat", func(t *testing.T) {
		clock := newSimClock()
		// No injected stat: uses os.Stat against a real file.
		w := stability.NewWaiter(
			500*time.Millisecond,
			2*time.Second,
			180*time.Second,
			stability.WithClock(clock.Now, clock.Sleep),
		)

		tmp, err := os.CreateTemp(t.TempDir(), "stable-*.pdf")
		require.NoError(t, err)
		_, err = tmp.WriteString("content")
		require.NoError(t, err)
		require.NoError(t, tmp.Close())

		assert.True(t, w.Wait(context.Background(), tmp.Name()))
	})
}
