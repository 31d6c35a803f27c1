package types

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// DateLayout is the layout of the start and end dates in the settings document
const DateLayout = "2006-01-02"

// EntityID is the stable external identifier of a tracked permit
type EntityID string

// Entity is a permit being tracked for availability
type Entity struct {
	ID EntityID `json:"id" yaml:"id" mapstructure:"id"`
	// Subdivisions lists the division names to check. Empty means the
	// permit is checked as a whole.
	Subdivisions []string `json:"segments,omitempty" yaml:"segments,omitempty" mapstructure:"segments"`
	PartySize    int      `json:"party-size,omitempty" yaml:"party-size,omitempty" mapstructure:"party-size"`
}

// Divided reports whether the entity is checked per subdivision
func (e Entity) Divided() bool {
	return len(e.Subdivisions) > 0
}

// Validate checks if the Entity has all required fields
func (e Entity) Validate() error {
	if strings.TrimSpace(string(e.ID)) == "" {
		return errors.New("permit id is required")
	}
	if e.PartySize < 0 {
		return fmt.Errorf("permit %s: party size cannot be negative", e.ID)
	}
	seen := make(map[string]bool, len(e.Subdivisions))
	for _, name := range e.Subdivisions {
		if strings.TrimSpace(name) == "" {
			return fmt.Errorf("permit %s: segment names cannot be empty", e.ID)
		}
		if seen[name] {
			return fmt.Errorf("permit %s: duplicate segment %q", e.ID, name)
		}
		seen[name] = true
	}
	return nil
}

// DateRange is the inclusive window of dates checked for availability
type DateRange struct {
	Start time.Time
	End   time.Time
}

// ParseDateRange parses start and end dates in DateLayout
func ParseDateRange(start, end string) (DateRange, error) {
	s, err := time.Parse(DateLayout, strings.TrimSpace(start))
	if err != nil {
		return DateRange{}, fmt.Errorf("invalid start date %q: expected YYYY-MM-DD", start)
	}
	e, err := time.Parse(DateLayout, strings.TrimSpace(end))
	if err != nil {
		return DateRange{}, fmt.Errorf("invalid end date %q: expected YYYY-MM-DD", end)
	}
	r := DateRange{Start: s, End: e}
	if err := r.Validate(); err != nil {
		return DateRange{}, err
	}
	return r, nil
}

// Validate checks the range is non-empty and ordered
func (r DateRange) Validate() error {
	if r.Start.IsZero() || r.End.IsZero() {
		return errors.New("date range requires both start and end")
	}
	if r.End.Before(r.Start) {
		return fmt.Errorf("end date %s is before start date %s",
			r.End.Format(DateLayout), r.Start.Format(DateLayout))
	}
	return nil
}

// Buckets returns every month touched by the range, in order
func (r DateRange) Buckets() []TimeBucket {
	if r.Start.IsZero() || r.End.IsZero() || r.End.Before(r.Start) {
		return nil
	}
	var buckets []TimeBucket
	cur := time.Date(r.Start.Year(), r.Start.Month(), 1, 0, 0, 0, 0, time.UTC)
	last := time.Date(r.End.Year(), r.End.Month(), 1, 0, 0, 0, 0, time.UTC)
	for !cur.After(last) {
		buckets = append(buckets, BucketOf(cur))
		cur = cur.AddDate(0, 1, 0)
	}
	return buckets
}

// Contains reports whether t falls on a day inside the range
func (r DateRange) Contains(t time.Time) bool {
	day := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	start := time.Date(r.Start.Year(), r.Start.Month(), r.Start.Day(), 0, 0, 0, 0, time.UTC)
	end := time.Date(r.End.Year(), r.End.Month(), r.End.Day(), 0, 0, 0, 0, time.UTC)
	return !day.Before(start) && !day.After(end)
}

func (r DateRange) String() string {
	return r.Start.Format(DateLayout) + ".." + r.End.Format(DateLayout)
}
