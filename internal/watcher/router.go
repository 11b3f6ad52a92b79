package watcher

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/downsort/downsort/internal/events"
	"github.com/downsort/downsort/internal/markers"
	"github.com/downsort/downsort/internal/routing"
)

// Mover evaluates a candidate file and moves it if it qualifies.
type Mover interface {
	MaybeMove(ctx context.Context, path string)
}

// Router is the download-detection state machine. Its state is implicit
// in the marker store: a temp-artifact create records a candidate, and a
// temp-to-final rename is the terminal transition that makes the final
// name eligible for moving.
type Router struct {
	table    *routing.Table
	store    *markers.Store
	mover    Mover
	eventBus *events.Bus
	logger   zerolog.Logger
}

// NewRouter creates a router.
func NewRouter(table *routing.Table, store *markers.Store, mover Mover, eventBus *events.Bus, logger zerolog.Logger) *Router {
	return &Router{
		table:    table,
		store:    store,
		mover:    mover,
		eventBus: eventBus,
		logger:   logger,
	}
}

// OnCreated handles a file creation in the watched directory.
//
// A temp-artifact create records a marker: a download has started. A
// final-name create with no preceding observed temp rename is a manual
// copy or create and deliberately triggers no move — even when a live
// marker for the same name exists from an earlier download. That is the
// crux of the download-only policy.
func (r *Router) OnCreated(path string) {
	ext := routing.Ext(path)

	if r.table.IsTemp(ext) {
		r.store.Put(routing.Key(path))
		r.logger.Debug().Str("path", path).Msg("temp artifact created, marker recorded")
		r.eventBus.Publish(events.Event{Type: events.TempFileCreated, Path: path})
		return
	}

	r.logger.Debug().Str("path", path).Msg("file created")
	r.eventBus.Publish(events.Event{Type: events.FileCreated, Path: path})
}

// OnMoved handles a rename within the watched directory.
//
// A temp-to-final rename is a completed download: the final name is
// marked, the temp marker is dropped, and the mover is invoked for the
// final path. Every other rename (temp to temp, final to final, final to
// temp) is ignored.
func (r *Router) OnMoved(ctx context.Context, src, dst string) {
	srcExt := routing.Ext(src)
	dstExt := routing.Ext(dst)

	if !r.table.IsTemp(srcExt) || r.table.IsTemp(dstExt) {
		return
	}

	r.store.PurgeExpired()
	r.store.Put(routing.Key(dst))
	r.store.Remove(routing.Key(src))

	r.logger.Info().
		Str("from", src).
		Str("to", dst).
		Msg("download completed")

	r.eventBus.Publish(events.Event{Type: events.DownloadCompleted, Path: dst, Data: map[string]any{
		"temp_path": src,
	}})

	r.mover.MaybeMove(ctx, dst)
}
