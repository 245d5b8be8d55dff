package replay

import (
	"archive/zip"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"
	"unicode/utf8"
)

// ErrBinaryFormat indicates the fixed-layout binary header could not be
// decoded: truncated input, an oversized player_count, or invalid UTF-8 in
// one of the padded string fields.
var ErrBinaryFormat = errors.New("replay: malformed binary header")

// ErrUnsupportedSuffix indicates a path is neither ".rep" nor ".rep.zip".
var ErrUnsupportedSuffix = errors.New("replay: unsupported file suffix")

const (
	tagSize        = 4
	gameModeSize   = 64
	mapTitleSize   = 256
	hostNameSize   = 256
	playerNameSize = 32
	playerRecSize  = playerNameSize + 4 + 4 + 8 // name + score + team + steam_id
)

// byteCursor reads a fixed little-endian layout out of an in-memory buffer,
// returning ErrBinaryFormat (wrapped) the moment it runs past the end.
type byteCursor struct {
	b   []byte
	pos int
}

func (c *byteCursor) take(n int) ([]byte, error) {
	if n < 0 || c.pos+n > len(c.b) {
		return nil, fmt.Errorf("%w: truncated at offset %d wanting %d bytes", ErrBinaryFormat, c.pos, n)
	}
	s := c.b[c.pos : c.pos+n]
	c.pos += n
	return s, nil
}

func (c *byteCursor) u32() (uint32, error) {
	b, err := c.take(4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}

func (c *byteCursor) u64() (uint64, error) {
	b, err := c.take(8)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b), nil
}

// paddedString reads a fixed-size NUL-padded UTF-8 field: trailing NULs are
// stripped, interior NULs are preserved, and invalid UTF-8 is a format error.
func (c *byteCursor) paddedString(size int) (string, error) {
	b, err := c.take(size)
	if err != nil {
		return "", err
	}
	trimmed := strings.TrimRight(string(b), "\x00")
	if !utf8.ValidString(trimmed) {
		return "", fmt.Errorf("%w: invalid UTF-8 at offset %d", ErrBinaryFormat, c.pos-size)
	}
	return trimmed, nil
}

// DecodeHeader parses the fixed binary header from raw bytes (the full
// contents of a ".rep" file, or of the single entry inside a ".rep.zip").
// tag and protocol_version are read but never validated, per the format.
func DecodeHeader(data []byte) (*Metadata, error) {
	c := &byteCursor{b: data}

	if _, err := c.take(tagSize); err != nil {
		return nil, err
	}
	protocolVersion, err := c.u32()
	if err != nil {
		return nil, err
	}
	playerCount, err := c.u32()
	if err != nil {
		return nil, err
	}
	markerCount, err := c.u32()
	if err != nil {
		return nil, err
	}
	if _, err := c.u64(); err != nil { // unknown, opaque
		return nil, err
	}
	mapSteamID, err := c.u64()
	if err != nil {
		return nil, err
	}
	startedAtSec, err := c.u64()
	if err != nil {
		return nil, err
	}
	gameMode, err := c.paddedString(gameModeSize)
	if err != nil {
		return nil, err
	}
	mapTitle, err := c.paddedString(mapTitleSize)
	if err != nil {
		return nil, err
	}
	hostName, err := c.paddedString(hostNameSize)
	if err != nil {
		return nil, err
	}

	remaining := uint64(len(c.b) - c.pos)
	if uint64(playerCount)*playerRecSize > remaining {
		return nil, fmt.Errorf("%w: player_count %d implies more data than available", ErrBinaryFormat, playerCount)
	}

	players := make([]Player, playerCount)
	for i := range players {
		name, err := c.paddedString(playerNameSize)
		if err != nil {
			return nil, err
		}
		rawScore, err := c.u32()
		if err != nil {
			return nil, err
		}
		rawTeam, err := c.u32()
		if err != nil {
			return nil, err
		}
		steamID, err := c.u64()
		if err != nil {
			return nil, err
		}
		players[i] = Player{
			Name:    name,
			Score:   int32(rawScore),
			Team:    int32(rawTeam),
			SteamID: steamID,
		}
	}

	return &Metadata{
		ProtocolVersion: protocolVersion,
		HostName:        hostName,
		GameMode:        gameMode,
		MapSteamID:      mapSteamID,
		MapTitle:        mapTitle,
		Players:         players,
		MarkerCount:     markerCount,
		StartedAt:       time.Unix(int64(startedAtSec), 0).UTC(),
	}, nil
}

// DecodeFile decodes the header of a replay at path, which must end in
// ".rep" (decoded directly) or ".rep.zip" (decoded from its single entry).
func DecodeFile(path string) (*Metadata, error) {
	switch {
	case strings.HasSuffix(path, ".rep.zip"):
		return decodeZipFile(path)
	case strings.HasSuffix(path, ".rep"):
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		return DecodeHeader(data)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedSuffix, path)
	}
}

// decodeZipFile opens the zip at path, expects exactly one entry, and
// decodes its contents as a binary header.
func decodeZipFile(path string) (*Metadata, error) {
	zr, err := zip.OpenReader(path)
	if err != nil {
		return nil, err
	}
	defer zr.Close()

	if len(zr.File) != 1 {
		return nil, fmt.Errorf("%w: %q has %d entries, want exactly one", ErrBinaryFormat, path, len(zr.File))
	}

	rc, err := zr.File[0].Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, err
	}
	return DecodeHeader(data)
}
