// Package index implements the persistent, chunked, time-ordered replay
// index: the in-memory dual index (memIndex, ordered.go), its on-disk
// chunked representation (store.go, schema.go), and the reconciler that
// keeps the two in sync with the replay folder (DB, this file).
package index

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"replaykeeper/internal/canon"
	"replaykeeper/internal/logging"
	"replaykeeper/internal/replay"
)

// DB is the ReplayDB façade: it owns the in-memory index and its chunked
// persistence, and drives both from filesystem observations.
type DB struct {
	replayFolder string
	store        *store
	mem          *memIndex
	logger       *slog.Logger
}

// Open loads (or initializes) the index at dbPath, backed by the replays in
// replayFolder. chunkMaxSize is fixed for the lifetime of the index
// directory; changing it requires dropping and rebuilding the index.
func Open(dbPath, replayFolder string, chunkMaxSize int, logger *slog.Logger) (*DB, error) {
	logger = logging.Default(logger).With("component", "index")

	db := &DB{
		replayFolder: replayFolder,
		store:        newStore(dbPath, chunkMaxSize),
		mem:          newMemIndex(),
		logger:       logger,
	}

	if err := db.store.LoadOrInit(db.mem); err != nil {
		return nil, fmt.Errorf("index: open: %w", err)
	}
	if err := canon.SweepTemp(replayFolder); err != nil {
		return nil, fmt.Errorf("index: open: %w", err)
	}
	logger.Info("index initialized", "replay_count", db.mem.Len())
	return db, nil
}

// Len reports the number of replays currently tracked.
func (db *DB) Len() int { return db.mem.Len() }

// Ingest handles a single filename observation (typically from a watcher
// event). If the filename is already known, its Downloadable flag is
// synced to current presence on disk and the tracked record is returned.
// Otherwise, if the file exists, it is decoded, canonicalized, and added
// as a new record under its canonical filename. Ingest returns (nil, nil)
// when there is nothing to track (unknown filename, file absent).
func (db *DB) Ingest(filename string) (*replay.Replay, error) {
	path := filepath.Join(db.replayFolder, filename)

	if existing, ok := db.mem.Get(filename); ok {
		present, err := fileExists(path)
		if err != nil {
			return existing, err
		}
		if present {
			db.mem.MarkPresent(existing)
		} else {
			db.mem.MarkMissing(existing)
		}
		return existing, nil
	}

	present, err := fileExists(path)
	if err != nil {
		return nil, err
	}
	if !present {
		return nil, nil
	}

	finishedAt, err := replay.ParseFinishedAt(filename)
	if err != nil {
		db.logger.Warn("refusing replay with malformed filename", "filename", filename)
		return nil, nil
	}

	db.logger.Info("ingesting replay", "filename", filename)

	meta, err := replay.DecodeFile(path)
	if err != nil {
		db.logger.Warn("replay header failed to decode, tracking without metadata",
			"filename", filename, "error", err)
		meta = nil
	}

	canonicalPath, err := canon.Ensure(path)
	if err != nil {
		return nil, fmt.Errorf("index: canonicalize %q: %w", filename, err)
	}

	r := &replay.Replay{
		Filename:     filepath.Base(canonicalPath),
		FinishedAt:   finishedAt,
		Downloadable: true,
		Metadata:     meta,
	}

	return db.mem.AddIfMissing(r), nil
}

// Reconcile walks the replay folder, ingesting anything not yet known and
// syncing Downloadable for everything else, then clears Downloadable on any
// tracked record whose file is no longer present, and saves.
func (db *DB) Reconcile() error {
	db.logger.Info("reconciling index with replay folder")

	// os.ReadDir returns entries sorted by name, so a ".rep" always sorts
	// before its ".rep.zip" sibling; a transient pair from a crash mid-
	// canonicalization is collapsed to the single .zip record below before
	// the .zip entry itself is visited.
	entries, err := os.ReadDir(db.replayFolder)
	if err != nil {
		return fmt.Errorf("index: reconcile: read replay folder: %w", err)
	}

	present := make(map[*replay.Replay]struct{})
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if !strings.HasSuffix(name, ".rep") && !strings.HasSuffix(name, ".rep.zip") {
			continue
		}

		r, err := db.Ingest(name)
		if err != nil {
			return err
		}
		if r != nil {
			present[r] = struct{}{}
		}
	}

	for _, r := range db.mem.InOrder() {
		if _, ok := present[r]; !ok {
			db.mem.MarkMissing(r)
		}
	}

	if err := db.Save(); err != nil {
		return err
	}
	db.logger.Info("reconciliation complete", "replay_count", db.mem.Len())
	return nil
}

// Save persists any pending changes. A no-op if nothing is dirty. Also
// sweeps any dangling canonicalization tmp file out of the replay folder,
// per the canonicalizer's documented crash-window cleanup.
func (db *DB) Save() error {
	if err := db.store.Save(db.mem); err != nil {
		return err
	}
	return canon.SweepTemp(db.replayFolder)
}

func fileExists(path string) (bool, error) {
	_, err := os.Stat(path)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	return false, err
}
