package index

import (
	"fmt"
	"time"

	"replaykeeper/internal/replay"
)

// supportedManifestVersion is the only manifest version this store can
// read or write. A mismatch on load is fatal (spec.md's "schema migration
// across index versions" is explicitly out of scope).
const supportedManifestVersion = 1

// manifest is the on-disk representation of replays_header.json.
type manifest struct {
	Version      int           `json:"version"`
	UpdatedAt    string        `json:"updated_at"`
	TotalCount   int           `json:"total_count"`
	MaxChunkSize int           `json:"max_chunk_size"`
	ChunkHeaders []chunkHeader `json:"chunk_headers"`
}

// chunkHeader describes one chunk file in manifest order.
type chunkHeader struct {
	Filename       string `json:"filename"`
	OldestReplayTS string `json:"oldest_replay_ts"`
	LatestReplayTS string `json:"latest_replay_ts"`
	Count          int    `json:"count"`
}

// jsonPlayer mirrors replay.Player for JSON round-tripping.
type jsonPlayer struct {
	Name    string `json:"name"`
	Score   int32  `json:"score"`
	Team    int32  `json:"team"`
	SteamID uint64 `json:"steam_id"`
}

// jsonMetadata mirrors replay.Metadata for JSON round-tripping.
type jsonMetadata struct {
	ProtocolVersion uint32       `json:"protocol_version"`
	HostName        string       `json:"host_name"`
	GameMode        string       `json:"game_mode"`
	MapSteamID      uint64       `json:"map_steam_id"`
	MapTitle        string       `json:"map_title"`
	Players         []jsonPlayer `json:"players"`
	MarkerCount     uint32       `json:"marker_count"`
	StartedAt       string       `json:"started_at"`
}

// jsonReplay is one value in a chunk file's filename-keyed object.
type jsonReplay struct {
	FinishedAt   string        `json:"finished_at"`
	Downloadable bool          `json:"downloadable"`
	Metadata     *jsonMetadata `json:"metadata"`
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC(), nil
}

func toJSONReplay(r *replay.Replay) jsonReplay {
	jr := jsonReplay{
		FinishedAt:   formatTime(r.FinishedAt),
		Downloadable: r.Downloadable,
	}
	if r.Metadata != nil {
		players := make([]jsonPlayer, len(r.Metadata.Players))
		for i, p := range r.Metadata.Players {
			players[i] = jsonPlayer{Name: p.Name, Score: p.Score, Team: p.Team, SteamID: p.SteamID}
		}
		jr.Metadata = &jsonMetadata{
			ProtocolVersion: r.Metadata.ProtocolVersion,
			HostName:        r.Metadata.HostName,
			GameMode:        r.Metadata.GameMode,
			MapSteamID:      r.Metadata.MapSteamID,
			MapTitle:        r.Metadata.MapTitle,
			Players:         players,
			MarkerCount:     r.Metadata.MarkerCount,
			StartedAt:       formatTime(r.Metadata.StartedAt),
		}
	}
	return jr
}

func fromJSONReplay(filename string, jr jsonReplay) (*replay.Replay, error) {
	finishedAt, err := parseTime(jr.FinishedAt)
	if err != nil {
		return nil, fmt.Errorf("index: parse finished_at for %q: %w", filename, err)
	}

	r := &replay.Replay{
		Filename:     filename,
		FinishedAt:   finishedAt,
		Downloadable: jr.Downloadable,
	}

	if jr.Metadata != nil {
		startedAt, err := parseTime(jr.Metadata.StartedAt)
		if err != nil {
			return nil, fmt.Errorf("index: parse started_at for %q: %w", filename, err)
		}
		players := make([]replay.Player, len(jr.Metadata.Players))
		for i, p := range jr.Metadata.Players {
			players[i] = replay.Player{Name: p.Name, Score: p.Score, Team: p.Team, SteamID: p.SteamID}
		}
		r.Metadata = &replay.Metadata{
			ProtocolVersion: jr.Metadata.ProtocolVersion,
			HostName:        jr.Metadata.HostName,
			GameMode:        jr.Metadata.GameMode,
			MapSteamID:      jr.Metadata.MapSteamID,
			MapTitle:        jr.Metadata.MapTitle,
			Players:         players,
			MarkerCount:     jr.Metadata.MarkerCount,
			StartedAt:       startedAt,
		}
	}

	return r, nil
}
