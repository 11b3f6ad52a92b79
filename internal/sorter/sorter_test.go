package sorter_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/downsort/downsort/internal/config"
	"github.com/downsort/downsort/internal/events"
	"github.com/downsort/downsort/internal/markers"
	"github.com/downsort/downsort/internal/routing"
	"github.com/downsort/downsort/internal/sorter"
	"github.com/downsort/downsort/internal/stability"
)

// fixture wires a sorter against real temp directories with fast timings.
type fixture struct {
	watchDir string
	docsDir  string
	vidsDir  string
	store    *markers.Store
	bus      *events.Bus
	sorter   *sorter.Sorter
}

func newFixture(t *testing.T, opts ...stability.Option) *fixture {
	t.Helper()

	root := t.TempDir()
	f := &fixture{
		watchDir: filepath.Join(root, "downloads"),
		docsDir:  filepath.Join(root, "documents"),
		vidsDir:  filepath.Join(root, "videos"),
	}
	require.NoError(t, os.MkdirAll(f.watchDir, 0750))

	table := routing.NewTable(
		config.ExtensionsConfig{
			Video:    []string{".mp4"},
			Document: []string{".pdf"},
		},
		config.DestinationsConfig{
			Videos:    f.vidsDir,
			Documents: f.docsDir,
			Pictures:  filepath.Join(root, "pictures"),
			Music:     filepath.Join(root, "music"),
			Archives:  filepath.Join(root, "archives"),
		},
		[]string{".crdownload", ".part", ".tmp"},
	)

	f.store = markers.NewStore(10 * time.Minute)
	f.bus = events.New()

	waiter := stability.NewWaiter(time.Millisecond, 5*time.Millisecond, time.Second, opts...)

	f.sorter = sorter.New(table, f.store, waiter, f.bus)
	return f
}

func (f *fixture) writeFile(t *testing.T, name string) string {
	t.Helper()
	path := filepath.Join(f.watchDir, name)
	require.NoError(t, os.WriteFile(path, []byte("content of "+name), 0600))
	return path
}

// waitEvent receives one event from sub or fails the test.
func waitEvent(t *testing.T, sub events.Subscription) events.Event {
	t.Helper()
	select {
	case ev := <-sub:
		return ev
	case <-time.After(time.Second):
		t.Fatal("expected an event")
		return events.Event{}
	}
}

func TestMaybeMove(t *testing.T) {
	t.Run("moves a tracked stable file to its destination", func(t *testing.T) {
		f := newFixture(t)
		sub := f.bus.Subscribe(events.MoveComplete)

		path := f.writeFile(t, "report.pdf")
		f.store.Put("report.pdf")

		f.sorter.MaybeMove(context.Background(), path)

		assert.FileExists(t, filepath.Join(f.docsDir, "report.pdf"))
		assert.NoFileExists(t, path)

		// Marker is consumed by the move
		assert.False(t, f.store.Has("report.pdf"))

		ev := waitEvent(t, sub)
		assert.Equal(t, filepath.Join(f.docsDir, "report.pdf"), ev.Data["destination"])
		assert.Equal(t, "document", ev.Data["category"])
		assert.Equal(t, int64(len("content of report.pdf")), ev.Data["size"])

		assert.Equal(t, int64(1), f.sorter.Stats().Moved)
	})

	t.Run("marker matching is case-insensitive", func(t *testing.T) {
		f := newFixture(t)

		path := f.writeFile(t, "Report.PDF")
		f.store.Put("report.pdf")

		f.sorter.MaybeMove(context.Background(), path)

		assert.FileExists(t, filepath.Join(f.docsDir, "Report.PDF"))
	})

	t.Run("never moves temp artifacts", func(t *testing.T) {
		f := newFixture(t)

		path := f.writeFile(t, "report.pdf.crdownload")
		// Even a live marker must not make a temp artifact move.
		f.store.Put("report.pdf.crdownload")

		f.sorter.MaybeMove(context.Background(), path)

		assert.FileExists(t, path)
		assert.Equal(t, sorter.Stats{}, f.sorter.Stats())
	})

	t.Run("leaves unmanaged types in place", func(t *testing.T) {
		f := newFixture(t)

		path := f.writeFile(t, "setup.exe")
		f.store.Put("setup.exe")

		f.sorter.MaybeMove(context.Background(), path)

		assert.FileExists(t, path)
		assert.Equal(t, sorter.Stats{}, f.sorter.Stats())
	})

	t.Run("skips files without a download marker", func(t *testing.T) {
		f := newFixture(t)
		sub := f.bus.Subscribe(events.MoveSkipped)

		path := f.writeFile(t, "manual-copy.pdf")

		f.sorter.MaybeMove(context.Background(), path)

		assert.FileExists(t, path)

		ev := waitEvent(t, sub)
		assert.Equal(t, sorter.SkipUntracked, ev.Data["reason"])
		assert.Equal(t, int64(1), f.sorter.Stats().Skipped)
	})

	t.Run("skips files that do not stabilize in time", func(t *testing.T) {
		// A waiter whose max wait is shorter than its stable period can
		// never succeed, standing in for a file that keeps growing.
		f := newFixture(t)
		waiter := stability.NewWaiter(time.Millisecond, time.Hour, 10*time.Millisecond)
		unstable := sorterWithWaiter(f, waiter)

		sub := f.bus.Subscribe(events.MoveSkipped)

		path := f.writeFile(t, "movie.mp4")
		f.store.Put("movie.mp4")

		unstable.MaybeMove(context.Background(), path)

		assert.FileExists(t, path)
		ev := waitEvent(t, sub)
		assert.Equal(t, sorter.SkipUnstable, ev.Data["reason"])
	})

	t.Run("resolves name collisions with the lowest free suffix", func(t *testing.T) {
		f := newFixture(t)

		require.NoError(t, os.MkdirAll(f.docsDir, 0750))
		require.NoError(t, os.WriteFile(filepath.Join(f.docsDir, "report.pdf"), []byte("old"), 0600))
		require.NoError(t, os.WriteFile(filepath.Join(f.docsDir, "report (1).pdf"), []byte("older"), 0600))

		path := f.writeFile(t, "report.pdf")
		f.store.Put("report.pdf")

		f.sorter.MaybeMove(context.Background(), path)

		assert.FileExists(t, filepath.Join(f.docsDir, "report (2).pdf"))
		// Existing files are untouched
		content, err := os.ReadFile(filepath.Join(f.docsDir, "report.pdf"))
		require.NoError(t, err)
		assert.Equal(t, []byte("old"), content)
	})

	t.Run("second invocation on a moved file is a no-op", func(t *testing.T) {
		f := newFixture(t)

		path := f.writeFile(t, "report.pdf")
		f.store.Put("report.pdf")

		f.sorter.MaybeMove(context.Background(), path)
		require.NoFileExists(t, path)

		f.sorter.MaybeMove(context.Background(), path)

		assert.FileExists(t, filepath.Join(f.docsDir, "report.pdf"))
		assert.NoFileExists(t, filepath.Join(f.docsDir, "report (1).pdf"))
		assert.Equal(t, int64(1), f.sorter.Stats().Moved)
	})

	t.Run("creates the destination directory on demand", func(t *testing.T) {
		f := newFixture(t)

		path := f.writeFile(t, "clip.mp4")
		f.store.Put("clip.mp4")

		require.NoDirExists(t, f.vidsDir)
		f.sorter.MaybeMove(context.Background(), path)

		assert.FileExists(t, filepath.Join(f.vidsDir, "clip.mp4"))
	})
}

// sorterWithWaiter rebuilds the fixture's sorter around a different waiter.
func sorterWithWaiter(f *fixture, waiter *stability.Waiter) *sorter.Sorter {
	table := routing.NewTable(
		config.ExtensionsConfig{
			Video:    []string{".mp4"},
			Document: []string{".pdf"},
		},
		config.DestinationsConfig{
			Videos:    f.vidsDir,
			Documents: f.docsDir,
			Pictures:  f.docsDir,
			Music:     f.docsDir,
			Archives:  f.docsDir,
		},
		[]string{".crdownload", ".part", ".tmp"},
	)
	return sorter.New(table, f.store, waiter, f.bus)
}
