// Package timestamp converts raw post creation times into the calendar
// fields the histograms are keyed on.
package timestamp

import (
	"fmt"
	"time"

	"github.com/postpulse/postpulse/pkg/types"
)

// Layout is the creation-time format served by the timeline API,
// e.g. "Wed Oct 10 20:19:24 +0000 2018".
const Layout = time.RubyDate

// ParseError reports a creation time that does not match Layout.
type ParseError struct {
	Raw string
	Err error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("timestamp: parse %q: %v", e.Raw, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// Normalizer derives Timestamps in a fixed location. It holds no mutable
// state and is safe for concurrent use.
type Normalizer struct {
	loc *time.Location
}

// NewNormalizer returns a Normalizer that reports weekday and hour in loc.
// A nil loc means UTC.
func NewNormalizer(loc *time.Location) *Normalizer {
	if loc == nil {
		loc = time.UTC
	}
	return &Normalizer{loc: loc}
}

// Normalize parses raw and returns its calendar representation.
// A malformed raw value yields a *ParseError.
func (n *Normalizer) Normalize(raw string) (types.Timestamp, error) {
	t, err := time.Parse(Layout, raw)
	if err != nil {
		return types.Timestamp{}, &ParseError{Raw: raw, Err: err}
	}
	return FromTime(t.In(n.loc)), nil
}

// FromTime maps t, in its own location, to a Timestamp. Year and Week come
// from ISOWeek so that the days of a week spanning New Year share one key.
func FromTime(t time.Time) types.Timestamp {
	year, week := t.ISOWeek()
	return types.Timestamp{
		Year:    year,
		Week:    week,
		Weekday: int(t.Weekday()),
		Hour:    t.Hour(),
	}
}
