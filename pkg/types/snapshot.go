package types

import (
	"encoding/json"
	"fmt"
	"sort"
)

// Shape is the availability layout of a snapshot. It is either Undivided
// or Divided, never both.
type Shape interface {
	isShape()
	// DayCount returns the number of available days in the shape
	DayCount() int
}

// Undivided holds availability for a permit checked as a whole
type Undivided struct {
	Availability Calendar
}

// Divided holds availability per named subdivision (segment)
type Divided struct {
	Segments map[string]Calendar
}

func (Undivided) isShape() {}
func (Divided) isShape()   {}

// DayCount returns the number of available days
func (u Undivided) DayCount() int {
	return u.Availability.DayCount()
}

// DayCount returns the number of available days across segments
func (d Divided) DayCount() int {
	n := 0
	for _, cal := range d.Segments {
		n += cal.DayCount()
	}
	return n
}

// SortedSegments returns the segment names in lexical order
func (d Divided) SortedSegments() []string {
	names := make([]string, 0, len(d.Segments))
	for name := range d.Segments {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Snapshot is the availability picture of one permit as of one check
type Snapshot struct {
	Name  string
	URL   string
	Shape Shape
}

// NewUndivided creates a snapshot for a permit without segments
func NewUndivided(name, url string, availability Calendar) Snapshot {
	if availability == nil {
		availability = Calendar{}
	}
	return Snapshot{Name: name, URL: url, Shape: Undivided{Availability: availability}}
}

// NewDivided creates a snapshot for a permit checked per segment
func NewDivided(name, url string, segments map[string]Calendar) Snapshot {
	if segments == nil {
		segments = map[string]Calendar{}
	}
	return Snapshot{Name: name, URL: url, Shape: Divided{Segments: segments}}
}

// DayCount returns the number of available days in the snapshot
func (s Snapshot) DayCount() int {
	if s.Shape == nil {
		return 0
	}
	return s.Shape.DayCount()
}

// snapshotDocument is the persisted layout of a snapshot
type snapshotDocument struct {
	Name         string               `json:"name" yaml:"name"`
	URL          string               `json:"url" yaml:"url"`
	Availability *Calendar            `json:"availability,omitempty" yaml:"availability,omitempty"`
	Segments     *map[string]Calendar `json:"segments,omitempty" yaml:"segments,omitempty"`
}

func (s Snapshot) document() snapshotDocument {
	doc := snapshotDocument{Name: s.Name, URL: s.URL}
	switch shape := s.Shape.(type) {
	case Undivided:
		cal := shape.Availability
		if cal == nil {
			cal = Calendar{}
		}
		doc.Availability = &cal
	case Divided:
		segs := shape.Segments
		if segs == nil {
			segs = map[string]Calendar{}
		}
		doc.Segments = &segs
	default:
		cal := Calendar{}
		doc.Availability = &cal
	}
	return doc
}

// MarshalJSON writes either the availability or the segments key
func (s Snapshot) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.document())
}

// UnmarshalJSON reads a persisted snapshot. A document carrying both
// availability and segments is rejected. A document carrying neither is
// read as an undivided snapshot with no availability.
func (s *Snapshot) UnmarshalJSON(data []byte) error {
	var doc snapshotDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return err
	}
	if doc.Availability != nil && doc.Segments != nil {
		return fmt.Errorf("snapshot %q has both availability and segments", doc.Name)
	}
	switch {
	case doc.Segments != nil:
		*s = NewDivided(doc.Name, doc.URL, *doc.Segments)
	case doc.Availability != nil:
		*s = NewUndivided(doc.Name, doc.URL, *doc.Availability)
	default:
		*s = NewUndivided(doc.Name, doc.URL, nil)
	}
	return nil
}

// MarshalYAML renders the snapshot in the persisted layout
func (s Snapshot) MarshalYAML() (interface{}, error) {
	return s.document(), nil
}

// Store maps permits to their last known snapshot
type Store map[EntityID]Snapshot

// IDs returns the store keys sorted
func (s Store) IDs() []EntityID {
	ids := make([]EntityID, 0, len(s))
	for id := range s {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Clone returns a shallow copy of the store map. Snapshots are never
// mutated in place, so sharing them is safe.
func (s Store) Clone() Store {
	out := make(Store, len(s))
	for id, snap := range s {
		out[id] = snap
	}
	return out
}

// DiffReport holds only newly available days, keyed by permit. Each entry
// reuses the snapshot layout restricted to the new days.
type DiffReport map[EntityID]Snapshot

// Empty reports whether the report contains no new availability
func (r DiffReport) Empty() bool {
	return len(r) == 0
}

// IDs returns the report keys sorted
func (r DiffReport) IDs() []EntityID {
	return Store(r).IDs()
}

// DayCount returns the number of new days across the report
func (r DiffReport) DayCount() int {
	n := 0
	for _, snap := range r {
		n += snap.DayCount()
	}
	return n
}
