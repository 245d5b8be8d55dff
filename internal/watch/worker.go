package watch

import (
	"context"
	"log/slog"

	"replaykeeper/internal/index"
	"replaykeeper/internal/logging"
	"replaykeeper/internal/notify"
)

// Worker owns the index: it performs the initial reconcile, opens the
// ready latch so the Watcher and Reclaimer may proceed, then drains Queue
// one event at a time for the lifetime of the process. All index mutation
// happens on this single goroutine, so the index itself needs no lock.
type Worker struct {
	DB     *index.DB
	Queue  <-chan Event
	Ready  *notify.Latch
	Logger *slog.Logger
}

// Run performs the initial reconcile, opens the ready latch, then consumes
// events from Queue until ctx is canceled or Queue is closed.
func (w *Worker) Run(ctx context.Context) error {
	logger := logging.Default(w.Logger).With("component", "watch")

	if err := w.DB.Reconcile(); err != nil {
		return err
	}
	w.Ready.Open()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case event, ok := <-w.Queue:
			if !ok {
				return nil
			}
			if _, err := w.DB.Ingest(event.Filename); err != nil {
				logger.Warn("failed to ingest replay", "filename", event.Filename, "error", err)
				continue
			}
			if err := w.DB.Save(); err != nil {
				logger.Warn("failed to save index", "filename", event.Filename, "error", err)
			}
		}
	}
}
