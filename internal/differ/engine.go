package differ

import (
	"github.com/yairfalse/permitwatch/pkg/types"
)

// Engine compares freshly fetched snapshots against the stored ones and
// reports availability that appeared since the last check.
//
// Only months that were already being tracked can produce new days. A
// permit, segment or month seen for the first time establishes a baseline
// silently, and days that disappeared are never reported.
type Engine struct{}

// NewEngine creates a new diff engine
func NewEngine() *Engine {
	return &Engine{}
}

// Compare returns the newly available days in fresh relative to old. It
// does not modify either argument.
func (e *Engine) Compare(old, fresh types.Store) types.DiffReport {
	report := types.DiffReport{}

	for id, snap := range fresh {
		prev, seen := old[id]
		if !seen {
			continue
		}

		var shape types.Shape
		switch cur := snap.Shape.(type) {
		case types.Undivided:
			before, ok := prev.Shape.(types.Undivided)
			if !ok {
				// shape switched: nothing comparable yet
				continue
			}
			if added := compareCalendars(before.Availability, cur.Availability); len(added) > 0 {
				shape = types.Undivided{Availability: added}
			}
		case types.Divided:
			before, ok := prev.Shape.(types.Divided)
			if !ok {
				continue
			}
			if added := compareSegments(before.Segments, cur.Segments); len(added) > 0 {
				shape = types.Divided{Segments: added}
			}
		}

		if shape != nil {
			report[id] = types.Snapshot{Name: snap.Name, URL: snap.URL, Shape: shape}
		}
	}

	return report
}

// compareSegments applies compareCalendars to every segment present in
// both maps
func compareSegments(old, fresh map[string]types.Calendar) map[string]types.Calendar {
	added := make(map[string]types.Calendar)
	for name, cal := range fresh {
		prev, seen := old[name]
		if !seen {
			continue
		}
		if days := compareCalendars(prev, cal); len(days) > 0 {
			added[name] = days
		}
	}
	return added
}

// compareCalendars returns, per month tracked in both calendars, the days
// in fresh that are missing from old
func compareCalendars(old, fresh types.Calendar) types.Calendar {
	added := make(types.Calendar)
	for bucket, days := range fresh {
		prev, seen := old[bucket]
		if !seen {
			continue
		}
		if diff := days.Difference(prev); len(diff) > 0 {
			added[bucket] = diff
		}
	}
	return added
}
