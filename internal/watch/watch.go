// Package watch runs the two tasks that keep a ReplayDB in sync with a
// replay folder in real time: a filesystem watcher that turns fsnotify
// events into filename notifications, and a worker that drains those
// notifications one at a time and drives the index.
package watch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/google/uuid"

	"replaykeeper/internal/logging"
	"replaykeeper/internal/notify"
)

// ErrWatcherLost indicates the underlying filesystem watch was removed out
// from under us (directory deleted, filesystem unmounted, etc). This is
// unrecoverable: the caller should terminate the process.
var ErrWatcherLost = errors.New("watch: filesystem watch was lost")

// Event is a single filename observation to be handed to ReplayDB.Ingest.
type Event struct {
	Filename string
}

// Watcher watches ReplayFolder for replay arrivals and departures and
// enqueues an Event for each one. It blocks on the ready latch before
// producing, so the worker's initial reconcile always runs first.
type Watcher struct {
	ReplayFolder string
	Queue        chan<- Event
	Ready        *notify.Latch
	Logger       *slog.Logger
}

// Run blocks until ctx is canceled or a fatal watcher condition occurs.
func (w *Watcher) Run(ctx context.Context) error {
	logger := logging.Default(w.Logger).With("component", "watch")

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("watch: create fsnotify watcher: %w", err)
	}
	defer fsw.Close()

	if err := fsw.Add(w.ReplayFolder); err != nil {
		return fmt.Errorf("watch: watch %q: %w", w.ReplayFolder, err)
	}

	select {
	case <-w.Ready.C():
	case <-ctx.Done():
		return ctx.Err()
	}

	logger.Info("watching replay folder", "path", w.ReplayFolder)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case event, ok := <-fsw.Events:
			if !ok {
				return fmt.Errorf("%w: event channel closed", ErrWatcherLost)
			}
			w.handle(ctx, logger, event)

		case err, ok := <-fsw.Errors:
			if !ok {
				return fmt.Errorf("%w: error channel closed", ErrWatcherLost)
			}
			logger.Warn("fsnotify reported an error", "error", err, "correlation_id", uuid.NewString())
		}
	}
}

func (w *Watcher) handle(ctx context.Context, logger *slog.Logger, event fsnotify.Event) {
	name := baseName(event.Name)
	if name == "" {
		return
	}

	present := event.Has(fsnotify.Write) || event.Has(fsnotify.Create)
	absent := event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename)
	if !present && !absent {
		return
	}

	if present && !hasReplaySuffix(name) {
		return
	}
	if absent && !strings.HasSuffix(name, ".rep.zip") {
		return
	}

	select {
	case w.Queue <- Event{Filename: name}:
	case <-ctx.Done():
	}
}

func hasReplaySuffix(name string) bool {
	return strings.HasSuffix(name, ".rep") || strings.HasSuffix(name, ".rep.zip")
}

func baseName(path string) string {
	i := strings.LastIndexByte(path, '/')
	if i < 0 {
		return path
	}
	return path[i+1:]
}
