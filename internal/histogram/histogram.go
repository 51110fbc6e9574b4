// Package histogram folds post timestamps into the weekday and
// time-of-day histograms.
//
// Counts are kept per period rather than per slot: the weekday histogram
// counts posts per (year, week) and the window histogram counts posts per
// (year, week, weekday). Each week or day therefore contributes a single
// observation to its slot's distribution, so Mondays from different weeks
// are never collapsed into one count.
package histogram

import (
	"fmt"
	"log/slog"

	"github.com/postpulse/postpulse/pkg/types"
)

// WeekKey identifies one calendar week.
type WeekKey struct {
	Year int
	Week int
}

func (k WeekKey) String() string {
	return fmt.Sprintf("%d-%d", k.Year, k.Week)
}

// DayKey identifies one calendar day.
type DayKey struct {
	Year    int
	Week    int
	Weekday int
}

func (k DayKey) String() string {
	return fmt.Sprintf("%d-%d-%d", k.Year, k.Week, k.Weekday)
}

// Set holds both histograms.
//
// Weekly[d][w] is the number of posts made on weekday d during week w.
// Daily[h][d] is the number of posts made in two-hour window h on day d.
type Set struct {
	Weekly [types.DaysPerWeek]map[WeekKey]int
	Daily  [types.WindowsPerDay]map[DayKey]int
}

// New returns an empty Set with every bucket allocated.
func New() *Set {
	s := &Set{}
	for i := range s.Weekly {
		s.Weekly[i] = make(map[WeekKey]int)
	}
	for i := range s.Daily {
		s.Daily[i] = make(map[DayKey]int)
	}
	return s
}

// Add counts t in both histograms. It reports false, and counts nothing,
// when t's weekday or hour is out of range.
func (s *Set) Add(t types.Timestamp) bool {
	if t.Weekday < 0 || t.Weekday >= types.DaysPerWeek || t.Hour < 0 || t.Hour > 23 {
		return false
	}
	s.Weekly[t.Weekday][WeekKey{Year: t.Year, Week: t.Week}]++
	s.Daily[t.Window()][DayKey{Year: t.Year, Week: t.Week, Weekday: t.Weekday}]++
	return true
}

// Total returns the number of timestamps counted, taken from the weekly
// histogram (the daily histogram always agrees).
func (s *Set) Total() int {
	var n int
	for _, bucket := range s.Weekly {
		for _, c := range bucket {
			n += c
		}
	}
	return n
}

// Aggregate builds a fresh Set from ts. The result depends only on the
// multiset of timestamps, not their order. Timestamps Add rejects are
// logged and left out.
func Aggregate(ts []types.Timestamp) *Set {
	s := New()
	rejected := 0
	for _, t := range ts {
		if !s.Add(t) {
			rejected++
		}
	}
	if rejected > 0 {
		slog.Warn("histogram: out-of-range timestamps dropped", "count", rejected, "total", len(ts))
	}
	return s
}
