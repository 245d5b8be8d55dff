// Package replay defines the data model for a single recorded game session
// and the two leaf components that read it: the filename time parser and
// the fixed-layout binary header decoder.
package replay

import "time"

// Player is one participant recorded in a replay header.
type Player struct {
	Name    string
	Score   int32
	Team    int32
	SteamID uint64
}

// Metadata is the fixed-layout binary header, decoded. A nil *Metadata on a
// Replay means the header failed to decode; the replay is still tracked.
type Metadata struct {
	ProtocolVersion uint32
	HostName        string
	GameMode        string
	MapSteamID      uint64
	MapTitle        string
	Players         []Player
	MarkerCount     uint32
	StartedAt       time.Time
}

// Copy returns a deep copy, safe to hand to a caller that might mutate it.
func (m *Metadata) Copy() *Metadata {
	if m == nil {
		return nil
	}
	cp := *m
	cp.Players = append([]Player(nil), m.Players...)
	return &cp
}

// Replay is one tracked replay file. Identity and equality derive solely
// from Filename: two Replay values with the same Filename refer to the same
// logical record, regardless of any other field.
//
// Filename and FinishedAt are immutable once a Replay is created. Downloadable
// is the only field ever mutated after creation.
type Replay struct {
	// Filename is the canonical on-disk name, always ending in ".rep.zip".
	// Never changes after creation.
	Filename string

	// FinishedAt is the UTC instant parsed from Filename. Never changes.
	FinishedAt time.Time

	// Downloadable is true iff the canonical file currently exists in the
	// replay folder. The only field mutated after creation.
	Downloadable bool

	// Metadata is the decoded header, or nil if decoding failed.
	Metadata *Metadata
}

// Key returns the identity of r, for use as a map key.
func (r *Replay) Key() string { return r.Filename }

// Same reports whether a and b refer to the same logical replay.
func Same(a, b *Replay) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Filename == b.Filename
}
