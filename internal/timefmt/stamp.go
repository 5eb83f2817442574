package timefmt

import (
	"encoding/json"
	"fmt"
	"time"
)

// Stamp is a time.Time that marshals as the document timestamp format.
// The zero Stamp marshals as JSON null.
type Stamp struct {
	time.Time
}

// New wraps a time.Time.
func New(t time.Time) Stamp {
	return Stamp{Time: t}
}

// Now is the current time as a Stamp.
func Now() Stamp {
	return Stamp{Time: time.Now()}
}

// MarshalJSON renders the stamp via Format, or null when zero.
func (s Stamp) MarshalJSON() ([]byte, error) {
	if s.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(Format(s.Time))
}

// UnmarshalJSON accepts null, the Format output, RFC 3339, and naive
// local timestamps from older documents.
func (s *Stamp) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		s.Time = time.Time{}
		return nil
	}
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("timefmt: stamp must be a string: %w", err)
	}
	if raw == "" {
		s.Time = time.Time{}
		return nil
	}
	t, err := Parse(raw)
	if err != nil {
		return fmt.Errorf("timefmt: parse stamp %q: %w", raw, err)
	}
	s.Time = t
	return nil
}
