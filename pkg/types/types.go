package types

import (
	"bytes"
	"encoding/json"
	"time"
)

// Histogram sizes.
const (
	DaysPerWeek   = 7
	WindowsPerDay = 12

	// WindowHours is the width of one time-of-day window.
	WindowHours = 24 / WindowsPerDay
)

// Timestamp is the calendar representation of one post's creation time.
// Year and Week are the ISO-8601 week-year and week number, Weekday is
// 0 = Sunday … 6 = Saturday, Hour is 0–23.
type Timestamp struct {
	Year    int `json:"year"`
	Week    int `json:"week"`
	Weekday int `json:"weekday"`
	Hour    int `json:"hour"`
}

// Window returns the two-hour window index (0–11) the timestamp falls in.
func (t Timestamp) Window() int {
	return t.Hour / WindowHours
}

// Optional is a float64 that may be absent. The zero value is Empty.
// It marshals to JSON null when empty.
type Optional struct {
	value float64
	valid bool
}

// Empty is the absent Optional.
var Empty = Optional{}

// Some wraps v as a present Optional.
func Some(v float64) Optional {
	return Optional{value: v, valid: true}
}

// Get returns the value and whether it is present.
func (o Optional) Get() (float64, bool) {
	return o.value, o.valid
}

// IsEmpty reports whether o holds no value.
func (o Optional) IsEmpty() bool {
	return !o.valid
}

// ValueOr returns the value, or def when o is empty.
func (o Optional) ValueOr(def float64) float64 {
	if !o.valid {
		return def
	}
	return o.value
}

func (o Optional) MarshalJSON() ([]byte, error) {
	if !o.valid {
		return []byte("null"), nil
	}
	return json.Marshal(o.value)
}

func (o *Optional) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		*o = Empty
		return nil
	}
	var v float64
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*o = Some(v)
	return nil
}

// BucketStats summarises one histogram bucket over its per-period counts.
// Mean and Std are Empty when the bucket has no observations.
type BucketStats struct {
	Sum  float64  `json:"sum"`
	Mean Optional `json:"mean"`
	Std  Optional `json:"std"`

	// Observations is the number of distinct periods (weeks or days)
	// that contributed a count to the bucket.
	Observations int `json:"observations"`
}

// DistributionResult is the activity profile of one account.
type DistributionResult struct {
	Account string                     `json:"account"`
	Day     [DaysPerWeek]BucketStats   `json:"day"`
	Hour    [WindowsPerDay]BucketStats `json:"hour"`
	Report  FetchReport                `json:"report"`
}

// PageResult is the outcome of one page request in the history fetch.
type PageResult struct {
	Index int `json:"index"`

	// Cursor is the inclusive max-id the page was requested with; nil for
	// the first page.
	Cursor *int64 `json:"cursor,omitempty"`

	// Received is the number of records the upstream returned.
	Received int `json:"received"`

	// Records is the number of timestamps accepted from this page.
	Records int `json:"records"`

	Duplicates  int `json:"duplicates"`
	ParseErrors int `json:"parse_errors"`

	// MinID is the smallest post id seen on the page (the next cursor).
	MinID int64 `json:"min_id,omitempty"`

	Attempts int    `json:"attempts"`
	Error    string `json:"error,omitempty"`
}

// Failed reports whether the page could not be loaded.
func (p PageResult) Failed() bool {
	return p.Error != ""
}

// FetchReport describes how a profile's history was gathered, so callers can
// tell "the account has fewer posts than the ceiling" (Complete) apart from
// "some pages failed to load" (Failed).
type FetchReport struct {
	RunID     string        `json:"run_id"`
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration_ns"`

	Pages []PageResult `json:"pages"`

	// Posts is the number of timestamps that went into the histograms.
	Posts       int `json:"posts"`
	Duplicates  int `json:"duplicates"`
	ParseErrors int `json:"parse_errors"`

	// Complete is true when the end of history was reached.
	Complete bool `json:"complete"`
	// Truncated is true when the page ceiling stopped the fetch.
	Truncated bool `json:"truncated"`
	// Failed is true when a page could not be loaded after retries.
	Failed bool `json:"failed"`
}

// FailedPages returns the pages that could not be loaded.
func (r FetchReport) FailedPages() []PageResult {
	var out []PageResult
	for _, p := range r.Pages {
		if p.Failed() {
			out = append(out, p)
		}
	}
	return out
}

// Unavailable reports whether the first page failed, leaving the profile
// with no data at all.
func (r FetchReport) Unavailable() bool {
	return len(r.Pages) > 0 && r.Pages[0].Failed()
}
