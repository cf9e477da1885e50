// Package schedule implements the schedule algebra: enumerating a job's
// firings, testing occupancy sets for overlap, and admitting a candidate
// job against the overhead jobs already committed on its target node(s).
package schedule

import (
	"sort"
	"time"

	"github.com/leoscope/leoscope/internal/models"
)

// SortByStart returns occ sorted by start time, stable, without mutating
// the input slice.
func SortByStart(occ []models.Occupancy) []models.Occupancy {
	out := make([]models.Occupancy, len(occ))
	copy(out, occ)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Start.Before(out[j].Start) })
	return out
}

// FirstOverlap performs a pairwise sweep of two occupancy sets (each
// already free of internal overlaps) and returns the first colliding pair
// in chronological order of the candidate's own occupancies. A sweep is
// adequate at the scale named in the design notes (hundreds of jobs per
// node); a candidate with thousands of firings should use an interval
// tree instead.
func FirstOverlap(candidate, existing []models.Occupancy) (conflict models.Occupancy, offender models.Occupancy, found bool) {
	sortedExisting := SortByStart(existing)
	for _, c := range SortByStart(candidate) {
		// existing is sorted; only intervals starting before c.End can
		// possibly overlap c, and we can stop once existing starts at or
		// after c.End.
		for _, e := range sortedExisting {
			if !e.Start.Before(c.End) {
				break
			}
			if c.Overlaps(e) {
				return c, e, true
			}
		}
	}
	return models.Occupancy{}, models.Occupancy{}, false
}

// WithinValidity reports whether occ falls entirely within [start, end).
func WithinValidity(occ models.Occupancy, v models.Validity) bool {
	return !occ.Start.Before(v.Start) && !occ.End.After(v.End)
}

func clip(t, lo, hi time.Time) time.Time {
	if t.Before(lo) {
		return lo
	}
	if t.After(hi) {
		return hi
	}
	return t
}
