// Package localtime converts between tenant-local wall-clock strings and UTC
// instants. The UTC instant is the single authoritative representation; wall
// clock appears only at the calendar-provider and HTTP boundaries, always
// paired with an IANA zone name.
package localtime

import (
	"errors"
	"fmt"
	"time"
)

// Layout is the wall-clock exchange format: no offset suffix, meaningful only
// together with a zone name.
const Layout = "2006-01-02T15:04:05"

var (
	// ErrInvalidFormat reports input that does not parse as Layout, or a
	// zone name the tz database does not know.
	ErrInvalidFormat = errors.New("invalid local time format")

	// ErrAmbiguousOrInvalid reports a wall-clock value inside a DST
	// spring-forward gap: no instant in the zone ever shows that clock.
	ErrAmbiguousOrInvalid = errors.New("ambiguous or invalid local time")
)

// ToUTC parses a wall-clock string in the given IANA zone and returns the
// UTC instant.
func ToUTC(wallClock, zone string) (time.Time, error) {
	loc, err := time.LoadLocation(zone)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: unknown zone %q", ErrInvalidFormat, zone)
	}
	t, err := time.ParseInLocation(Layout, wallClock, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidFormat, wallClock)
	}
	// ParseInLocation normalizes a nonexistent wall clock (spring-forward
	// gap) to a different instant; round-tripping exposes that.
	if t.Format(Layout) != wallClock {
		return time.Time{}, fmt.Errorf("%w: %q does not exist in %s", ErrAmbiguousOrInvalid, wallClock, zone)
	}
	return t.UTC(), nil
}

// FromUTC formats a UTC instant as tenant-local wall clock, no offset suffix.
func FromUTC(t time.Time, zone string) (string, error) {
	loc, err := time.LoadLocation(zone)
	if err != nil {
		return "", fmt.Errorf("load zone %q: %w", zone, err)
	}
	return t.In(loc).Format(Layout), nil
}
