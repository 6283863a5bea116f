// Package timeutil centralizes timezone handling for race times.
//
// Race start times are persisted exactly as sourced. Depending on the feed
// they arrive either with an explicit UTC offset (RFC 3339) or as a naive
// venue-local wall time. Every component that needs an instant for
// comparison or scheduling must go through ResolveUTC so naive and aware
// values are never mixed.
package timeutil

import (
	"fmt"
	"strings"
	"time"
)

// SourcedLayout is the storage format for race times that carry an offset.
const SourcedLayout = time.RFC3339

// naiveLayout matches feed values without any offset information.
const naiveLayout = "2006-01-02T15:04:05"

// ResolveUTC converts a stored race time to UTC.
//
// raw is accepted in two forms:
//   - RFC 3339 with explicit offset ("2026-03-29T14:30:00+02:00")
//   - naive wall time ("2026-03-29T14:30:00"), interpreted in venue
//
// A naive value with a nil venue location is unresolvable and returns an
// error; the caller is expected to skip that single event, not abort.
func ResolveUTC(raw string, venue *time.Location) (time.Time, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return time.Time{}, fmt.Errorf("empty race time")
	}
	if t, err := time.Parse(SourcedLayout, s); err == nil {
		return t.UTC(), nil
	}
	if venue == nil {
		return time.Time{}, fmt.Errorf("race time %q has no offset and no venue timezone is configured", raw)
	}
	t, err := time.ParseInLocation(naiveLayout, s, venue)
	if err != nil {
		return time.Time{}, fmt.Errorf("unparseable race time %q: %w", raw, err)
	}
	return t.UTC(), nil
}

// FormatVenue renders a UTC instant back as venue-local wall time with
// offset. Round-tripping through ResolveUTC yields the identical instant,
// including across DST transitions in the venue zone.
func FormatVenue(utc time.Time, venue *time.Location) string {
	if venue == nil {
		venue = time.UTC
	}
	return utc.In(venue).Format(SourcedLayout)
}

// LoadVenue parses an IANA zone name, defaulting to Europe/Paris when empty
// (the source venue for the daily programme).
func LoadVenue(name string) (*time.Location, error) {
	n := strings.TrimSpace(name)
	if n == "" {
		n = "Europe/Paris"
	}
	loc, err := time.LoadLocation(n)
	if err != nil {
		return nil, fmt.Errorf("venue timezone %q: %w", name, err)
	}
	return loc, nil
}
