package index

import "replaykeeper/internal/replay"

// memIndex is the in-memory dual index over the known replay set: a unique
// by-filename lookup and a by-finished-at ordered view, plus the dirty sets
// accumulated since the last save. There is exactly one *replay.Replay
// pointer alive per filename at any time, so the dirty sets can key
// directly on pointer identity.
type memIndex struct {
	byFilename map[string]*replay.Replay
	byTime     orderedSet

	dirtyAdded   map[*replay.Replay]struct{}
	dirtyMutated map[*replay.Replay]struct{}
}

func newMemIndex() *memIndex {
	return &memIndex{
		byFilename:   make(map[string]*replay.Replay),
		dirtyAdded:   make(map[*replay.Replay]struct{}),
		dirtyMutated: make(map[*replay.Replay]struct{}),
	}
}

// Get looks up a replay by its canonical filename.
func (m *memIndex) Get(filename string) (*replay.Replay, bool) {
	r, ok := m.byFilename[filename]
	return r, ok
}

// Len returns the number of tracked replays.
func (m *memIndex) Len() int { return m.byTime.Len() }

// InOrder returns every tracked replay in ascending finished-at order.
func (m *memIndex) InOrder() []*replay.Replay { return m.byTime.InOrder() }

// IndexOf returns r's ordinal position in finished-at order.
func (m *memIndex) IndexOf(r *replay.Replay) (int, bool) { return m.byTime.IndexOf(r) }

// AddIfMissing inserts r if its filename is not already known, and returns
// the tracked record (either the newly inserted r, or the existing one).
// Adding an existing filename is a no-op: it neither mutates the existing
// record nor dirties anything.
func (m *memIndex) AddIfMissing(r *replay.Replay) *replay.Replay {
	if existing, ok := m.byFilename[r.Filename]; ok {
		return existing
	}

	m.byFilename[r.Filename] = r
	m.byTime.Insert(r)
	m.dirtyAdded[r] = struct{}{}
	return r
}

// MarkPresent sets Downloadable on r, dirtying it only if it actually
// changed from false to true.
func (m *memIndex) MarkPresent(r *replay.Replay) {
	if r.Downloadable {
		return
	}
	r.Downloadable = true
	m.dirtyMutated[r] = struct{}{}
}

// MarkMissing clears Downloadable on r, dirtying it only if it actually
// changed from true to false.
func (m *memIndex) MarkMissing(r *replay.Replay) {
	if !r.Downloadable {
		return
	}
	r.Downloadable = false
	m.dirtyMutated[r] = struct{}{}
}

// Dirty reports whether any record has been added or mutated since the
// last ClearDirty.
func (m *memIndex) Dirty() bool {
	return len(m.dirtyAdded) > 0 || len(m.dirtyMutated) > 0
}

// ClearDirty empties both dirty sets.
func (m *memIndex) ClearDirty() {
	m.dirtyAdded = make(map[*replay.Replay]struct{})
	m.dirtyMutated = make(map[*replay.Replay]struct{})
}
