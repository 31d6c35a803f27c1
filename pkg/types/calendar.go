package types

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"
)

// BucketLayout is the month label layout, e.g. "March 2025"
const BucketLayout = "January 2006"

// TimeBucket is a calendar month label such as "March 2025"
type TimeBucket string

// BucketOf returns the month bucket containing t
func BucketOf(t time.Time) TimeBucket {
	return TimeBucket(t.Format(BucketLayout))
}

// Time returns the first day of the bucket's month. Unparsable labels
// return the zero time.
func (b TimeBucket) Time() time.Time {
	t, err := time.Parse(BucketLayout, string(b))
	if err != nil {
		return time.Time{}
	}
	return t
}

// Before orders buckets chronologically. Labels that do not parse sort
// after valid ones, lexicographically among themselves.
func (b TimeBucket) Before(other TimeBucket) bool {
	bt, ot := b.Time(), other.Time()
	switch {
	case bt.IsZero() && ot.IsZero():
		return b < other
	case bt.IsZero():
		return false
	case ot.IsZero():
		return true
	}
	return bt.Before(ot)
}

// DaySet is the set of available days of the month (1-31)
type DaySet map[int]struct{}

// NewDaySet builds a set from the given days
func NewDaySet(days ...int) DaySet {
	s := make(DaySet, len(days))
	for _, d := range days {
		s.Add(d)
	}
	return s
}

// Add inserts a day into the set
func (s DaySet) Add(day int) {
	s[day] = struct{}{}
}

// Contains reports whether day is in the set
func (s DaySet) Contains(day int) bool {
	_, ok := s[day]
	return ok
}

// Difference returns the days in s that are not in other
func (s DaySet) Difference(other DaySet) DaySet {
	out := make(DaySet)
	for d := range s {
		if !other.Contains(d) {
			out.Add(d)
		}
	}
	return out
}

// Equal reports whether both sets hold the same days
func (s DaySet) Equal(other DaySet) bool {
	if len(s) != len(other) {
		return false
	}
	for d := range s {
		if !other.Contains(d) {
			return false
		}
	}
	return true
}

// Sorted returns the days in ascending order
func (s DaySet) Sorted() []int {
	days := make([]int, 0, len(s))
	for d := range s {
		days = append(days, d)
	}
	sort.Ints(days)
	return days
}

// MarshalJSON encodes the set as a sorted array
func (s DaySet) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Sorted())
}

// UnmarshalJSON decodes an array of days, collapsing duplicates
func (s *DaySet) UnmarshalJSON(data []byte) error {
	var days []int
	if err := json.Unmarshal(data, &days); err != nil {
		return err
	}
	set := make(DaySet, len(days))
	for _, d := range days {
		if d < 1 || d > 31 {
			return fmt.Errorf("day %d out of range 1-31", d)
		}
		set.Add(d)
	}
	*s = set
	return nil
}

// MarshalYAML renders the set as a sorted sequence
func (s DaySet) MarshalYAML() (interface{}, error) {
	return s.Sorted(), nil
}

// Calendar maps months to their available days
type Calendar map[TimeBucket]DaySet

// Add records day as available in bucket
func (c Calendar) Add(bucket TimeBucket, day int) {
	days, ok := c[bucket]
	if !ok {
		days = make(DaySet)
		c[bucket] = days
	}
	days.Add(day)
}

// SortedBuckets returns the calendar months in chronological order
func (c Calendar) SortedBuckets() []TimeBucket {
	buckets := make([]TimeBucket, 0, len(c))
	for b := range c {
		buckets = append(buckets, b)
	}
	sort.Slice(buckets, func(i, j int) bool {
		return buckets[i].Before(buckets[j])
	})
	return buckets
}

// DayCount returns the total number of days across all months
func (c Calendar) DayCount() int {
	n := 0
	for _, days := range c {
		n += len(days)
	}
	return n
}
