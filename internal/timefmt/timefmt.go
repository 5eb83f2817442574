// Package timefmt renders and parses the timestamps of the persisted
// document: ISO-8601 with the Europe/Amsterdam offset. When the zone
// database is unavailable (scratch containers) a fixed +02:00 offset is
// used so output stays parseable.
package timefmt

import (
	"strings"
	"time"
)

// amsterdam is resolved once. Nil means the zone database is missing and
// the CEST fallback applies.
var amsterdam *time.Location

func init() {
	loc, err := time.LoadLocation("Europe/Amsterdam")
	if err == nil {
		amsterdam = loc
	}
}

// cest is the fixed fallback offset.
var cest = time.FixedZone("CEST", 2*60*60)

// Location returns the zone used for rendering: Europe/Amsterdam when
// available, otherwise a fixed +02:00.
func Location() *time.Location {
	if amsterdam != nil {
		return amsterdam
	}
	return cest
}

// Format renders t as ISO-8601 with the Amsterdam offset.
func Format(t time.Time) string {
	return t.In(Location()).Format("2006-01-02T15:04:05-07:00")
}

// Parse reads a timestamp written by Format. It also accepts plain
// RFC 3339 and the naive "2006-01-02T15:04:05" form found in documents
// written before the offset was recorded; naive values are interpreted
// in the Amsterdam zone.
func Parse(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	return time.ParseInLocation("2006-01-02T15:04:05", s, Location())
}
