package watch

import (
	"context"
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"
	"time"

	"replaykeeper/internal/index"
	"replaykeeper/internal/notify"
)

// minimalHeader builds a syntactically valid (if contentless) binary replay
// header with zero players, matching the index package's own test helper.
func minimalHeader(startedAtSec uint64) []byte {
	buf := make([]byte, 0, 616)
	var u32 [4]byte
	u64b := make([]byte, 8)

	buf = append(buf, "repl"...)

	put32 := func(v uint32) {
		binary.LittleEndian.PutUint32(u32[:], v)
		buf = append(buf, u32[:]...)
	}
	put64 := func(v uint64) {
		binary.LittleEndian.PutUint64(u64b, v)
		buf = append(buf, u64b...)
	}

	put32(89)
	put32(0)
	put32(0)
	put64(0)
	put64(0)
	put64(startedAtSec)
	buf = append(buf, make([]byte, 64)...)
	buf = append(buf, make([]byte, 256)...)
	buf = append(buf, make([]byte, 256)...)
	return buf
}

func TestWorkerOpensReadyLatchAfterInitialReconcile(t *testing.T) {
	replayDir := t.TempDir()
	dbDir := t.TempDir()

	name := "Seed_p1_p2_01Jan2024_000000_0markers.rep"
	if err := os.WriteFile(filepath.Join(replayDir, name), minimalHeader(1700000000), 0o644); err != nil {
		t.Fatal(err)
	}

	db, err := index.Open(dbDir, replayDir, 250, nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	queue := make(chan Event)
	ready := notify.NewLatch()
	w := &Worker{DB: db, Queue: queue, Ready: ready}

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- w.Run(ctx) }()

	select {
	case <-ready.C():
	case <-time.After(2 * time.Second):
		t.Fatal("ready latch never opened")
	}

	if db.Len() != 1 {
		t.Fatalf("expected initial reconcile to track the seeded replay, got len=%d", db.Len())
	}

	cancel()
	if err := <-errCh; err != context.Canceled {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestWorkerIngestsQueuedEvents(t *testing.T) {
	replayDir := t.TempDir()
	dbDir := t.TempDir()

	db, err := index.Open(dbDir, replayDir, 250, nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	queue := make(chan Event, 1)
	ready := notify.NewLatch()
	w := &Worker{DB: db, Queue: queue, Ready: ready}

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- w.Run(ctx) }()

	select {
	case <-ready.C():
	case <-time.After(2 * time.Second):
		t.Fatal("ready latch never opened")
	}

	name := "Live_p1_p2_02Jan2024_000000_0markers.rep"
	if err := os.WriteFile(filepath.Join(replayDir, name), minimalHeader(1700000100), 0o644); err != nil {
		t.Fatal(err)
	}
	queue <- Event{Filename: name}

	deadline := time.After(2 * time.Second)
	for {
		if db.Len() == 1 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("worker never ingested the queued event")
		case <-time.After(10 * time.Millisecond):
		}
	}

	zipName := name + ".zip"
	if _, err := os.Stat(filepath.Join(replayDir, zipName)); err != nil {
		t.Fatalf("expected canonical zip to exist: %v", err)
	}

	cancel()
	<-errCh
}

func TestWorkerStopsOnClosedQueue(t *testing.T) {
	replayDir := t.TempDir()
	dbDir := t.TempDir()

	db, err := index.Open(dbDir, replayDir, 250, nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	queue := make(chan Event)
	ready := notify.NewLatch()
	w := &Worker{DB: db, Queue: queue, Ready: ready}

	errCh := make(chan error, 1)
	go func() { errCh <- w.Run(context.Background()) }()

	select {
	case <-ready.C():
	case <-time.After(2 * time.Second):
		t.Fatal("ready latch never opened")
	}

	close(queue)

	select {
	case err := <-errCh:
		if err != nil {
			t.Fatalf("expected nil error on closed queue, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not return after queue closed")
	}
}
