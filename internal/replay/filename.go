package replay

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"
)

// ErrNameFormat indicates a filename does not match the expected replay
// naming pattern and its finished-at timestamp cannot be extracted.
var ErrNameFormat = errors.New("replay: filename does not match expected pattern")

// namePattern is the authoritative shape of a replay filename:
// <map>_<player_a>_<player_b>_<DDMonYYYY>_<HHMMSS>_<markers>markers.rep[.zip]
var namePattern = regexp.MustCompile(`^.+_\d{2}[A-Za-z]{3}\d{4}_\d{6}_\d+markers\.rep(\.zip)?$`)

// timestampLayout parses the joined date/time tokens, e.g. "24Nov2025_183934".
// Go's reference time spells the day-month-year-underscore-time shape as
// "02Jan2006_150405"; Parse is locale-independent for the month abbreviation.
const timestampLayout = "02Jan2006_150405"

// ParseFinishedAt extracts the UTC "finished-at" instant encoded in a replay
// filename. The two tokens third and second from the end (split on "_")
// are joined and parsed as day-month-year_hour-minute-second.
func ParseFinishedAt(filename string) (time.Time, error) {
	if !namePattern.MatchString(filename) {
		return time.Time{}, fmt.Errorf("%w: %q", ErrNameFormat, filename)
	}

	parts := strings.Split(filename, "_")
	if len(parts) < 4 {
		return time.Time{}, fmt.Errorf("%w: %q", ErrNameFormat, filename)
	}

	joined := parts[len(parts)-3] + "_" + parts[len(parts)-2]
	t, err := time.Parse(timestampLayout, joined)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %q: %v", ErrNameFormat, filename, err)
	}
	return t.UTC(), nil
}

// ParseFinishedAtWithFallback is ParseFinishedAt, substituting fallback for
// any filename that fails to parse instead of returning an error. Used by
// the space reclaimer, where an unparseable name should sort as "newest"
// rather than abort the eviction pass.
func ParseFinishedAtWithFallback(filename string, fallback time.Time) time.Time {
	t, err := ParseFinishedAt(filename)
	if err != nil {
		return fallback
	}
	return t
}
