package index

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/crypto/blake2s"
)

const manifestFilename = "replays_header.json"

// DefaultChunkMaxSize is the number of records held per chunk file when
// none is explicitly configured. Changing it for an existing index
// directory requires rebuilding the index from the replay folder.
const DefaultChunkMaxSize = 250

// ErrManifestVersionMismatch is fatal: the on-disk manifest was written by
// an incompatible version of this store.
var ErrManifestVersionMismatch = errors.New("index: manifest version mismatch")

// ErrManifestConsistencyError is fatal: the manifest's bookkeeping
// (per-chunk counts or the grand total) disagrees with what was actually
// read off disk.
var ErrManifestConsistencyError = errors.New("index: manifest consistency error")

// store is the chunked, content-addressed persistence layer: one manifest
// (replays_header.json) plus zero or more chunk_<i>_<hash>.json files, each
// holding a contiguous slice of the by-time order.
type store struct {
	dir          string
	maxChunkSize int
}

func newStore(dir string, maxChunkSize int) *store {
	return &store{dir: dir, maxChunkSize: maxChunkSize}
}

func (s *store) manifestPath() string {
	return filepath.Join(s.dir, manifestFilename)
}

// writeAtomic writes data to a temp file in the same directory as path,
// then renames it into place. A crash between the write and the rename
// leaves only a harmless ".tmp" file, swept up on the next Save or Load.
func writeAtomic(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("index: write temp file %q: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("index: rename %q to %q: %w", tmp, path, err)
	}
	return nil
}

// sweepTemp removes any stray "*.tmp" file left in the index directory by
// an interrupted save.
func (s *store) sweepTemp() error {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if filepath.Ext(e.Name()) == ".tmp" {
			if err := os.Remove(filepath.Join(s.dir, e.Name())); err != nil && !os.IsNotExist(err) {
				return err
			}
		}
	}
	return nil
}

// LoadOrInit loads an existing index directory into m, or initializes an
// empty one if no manifest exists yet.
func (s *store) LoadOrInit(m *memIndex) error {
	if _, err := os.Stat(s.manifestPath()); err != nil {
		if os.IsNotExist(err) {
			return s.initEmpty()
		}
		return err
	}
	if err := s.sweepTemp(); err != nil {
		return fmt.Errorf("index: sweep temp files: %w", err)
	}
	return s.load(m)
}

func (s *store) initEmpty() error {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("index: create index directory %q: %w", s.dir, err)
	}
	man := manifest{
		Version:      supportedManifestVersion,
		UpdatedAt:    formatTime(time.Now().UTC()),
		TotalCount:   0,
		MaxChunkSize: s.maxChunkSize,
		ChunkHeaders: []chunkHeader{},
	}
	data, err := json.Marshal(man)
	if err != nil {
		return err
	}
	return writeAtomic(s.manifestPath(), data)
}

func (s *store) load(m *memIndex) error {
	raw, err := os.ReadFile(s.manifestPath())
	if err != nil {
		return err
	}
	var man manifest
	if err := json.Unmarshal(raw, &man); err != nil {
		return fmt.Errorf("index: parse manifest: %w", err)
	}

	if man.Version != supportedManifestVersion {
		return fmt.Errorf("%w: found %d, want %d", ErrManifestVersionMismatch, man.Version, supportedManifestVersion)
	}
	if man.MaxChunkSize != s.maxChunkSize {
		return fmt.Errorf("%w: manifest max_chunk_size %d, configured %d", ErrManifestConsistencyError, man.MaxChunkSize, s.maxChunkSize)
	}

	total := 0
	for _, ch := range man.ChunkHeaders {
		raw, err := os.ReadFile(filepath.Join(s.dir, ch.Filename))
		if err != nil {
			return fmt.Errorf("index: read chunk %q: %w", ch.Filename, err)
		}
		var chunk map[string]jsonReplay
		if err := json.Unmarshal(raw, &chunk); err != nil {
			return fmt.Errorf("index: parse chunk %q: %w", ch.Filename, err)
		}
		if len(chunk) != ch.Count {
			return fmt.Errorf("%w: chunk %q has %d entries, manifest says %d", ErrManifestConsistencyError, ch.Filename, len(chunk), ch.Count)
		}
		for filename, jr := range chunk {
			r, err := fromJSONReplay(filename, jr)
			if err != nil {
				return err
			}
			m.AddIfMissing(r)
		}
		total += len(chunk)
	}

	if total != man.TotalCount {
		return fmt.Errorf("%w: read %d replays, manifest total_count is %d", ErrManifestConsistencyError, total, man.TotalCount)
	}

	// A load is never dirty: every record just came straight off disk.
	m.ClearDirty()
	return nil
}

// Save persists m's pending changes. A no-op when nothing is dirty.
//
// Orphan chunk files left over from before this process started are never
// scanned for or removed on load or save; only chunks this store itself
// superseded are unlinked.
func (s *store) Save(m *memIndex) error {
	if !m.Dirty() {
		return nil
	}

	raw, err := os.ReadFile(s.manifestPath())
	if err != nil {
		return fmt.Errorf("index: read manifest before save: %w", err)
	}
	var man manifest
	if err := json.Unmarshal(raw, &man); err != nil {
		return fmt.Errorf("index: parse manifest before save: %w", err)
	}

	byTime := m.InOrder()
	maxChunkSize := s.maxChunkSize

	affected := make(map[int]struct{})
	if len(m.dirtyAdded) > 0 {
		earliest := len(byTime)
		for r := range m.dirtyAdded {
			idx, ok := m.IndexOf(r)
			if ok && idx < earliest {
				earliest = idx
			}
		}
		lastChunk := (len(byTime) - 1) / maxChunkSize
		for c := earliest / maxChunkSize; c <= lastChunk; c++ {
			affected[c] = struct{}{}
		}
	}
	for r := range m.dirtyMutated {
		if idx, ok := m.IndexOf(r); ok {
			affected[idx/maxChunkSize] = struct{}{}
		}
	}

	oldChunkNames := make(map[string]struct{})
	for idx := range affected {
		if idx < len(man.ChunkHeaders) {
			oldChunkNames[man.ChunkHeaders[idx].Filename] = struct{}{}
		}
	}

	// Clear dirty sets before writing. A crash mid-save leaves the old
	// manifest in place; the affected chunks get rewritten again on retry.
	m.ClearDirty()

	newChunkNames := make(map[string]struct{})
	numChunks := 0
	if len(byTime) > 0 {
		numChunks = (len(byTime)-1)/maxChunkSize + 1
	}

	for idx := 0; idx < numChunks; idx++ {
		if _, ok := affected[idx]; !ok {
			continue
		}

		start := idx * maxChunkSize
		end := start + maxChunkSize
		if end > len(byTime) {
			end = len(byTime)
		}
		batch := byTime[start:end]

		chunkObj := make(map[string]jsonReplay, len(batch))
		for _, r := range batch {
			chunkObj[r.Filename] = toJSONReplay(r)
		}
		chunkJSON, err := json.Marshal(chunkObj)
		if err != nil {
			return err
		}

		hash := blake2s6(chunkJSON)
		chunkName := fmt.Sprintf("chunk_%d_%s.json", idx, hash)
		if err := writeAtomic(filepath.Join(s.dir, chunkName), chunkJSON); err != nil {
			return err
		}
		newChunkNames[chunkName] = struct{}{}

		meta := chunkHeader{
			Filename:       chunkName,
			OldestReplayTS: formatTime(batch[0].FinishedAt),
			LatestReplayTS: formatTime(batch[len(batch)-1].FinishedAt),
			Count:          len(batch),
		}
		if idx < len(man.ChunkHeaders) {
			man.ChunkHeaders[idx] = meta
		} else {
			man.ChunkHeaders = append(man.ChunkHeaders, meta)
		}
	}

	total := 0
	for _, ch := range man.ChunkHeaders {
		total += ch.Count
	}
	man.TotalCount = total
	man.UpdatedAt = formatTime(time.Now().UTC())

	manData, err := json.Marshal(man)
	if err != nil {
		return err
	}
	if err := writeAtomic(s.manifestPath(), manData); err != nil {
		return err
	}

	for name := range oldChunkNames {
		if _, stillUsed := newChunkNames[name]; stillUsed {
			continue
		}
		if err := os.Remove(filepath.Join(s.dir, name)); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("index: remove stale chunk %q: %w", name, err)
		}
	}

	return s.sweepTemp()
}

func blake2s6(data []byte) string {
	h, err := blake2s.New(6, nil)
	if err != nil {
		// Only possible if the requested key/size combination is invalid;
		// 6 bytes with no key is always valid.
		panic(err)
	}
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}
