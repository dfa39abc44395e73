package matcher

import (
	"face-attendance-go/internal/core/embedding"
	"face-attendance-go/internal/core/gallery"
)

// DefaultTolerance is the maximum Euclidean distance at which a probe is
// considered a match. Lower is stricter. 0.6 is the usual operating point
// for 128-dimensional dlib descriptors; it is exposed via config
// (match.tolerance) and must not be hard-coded elsewhere.
const DefaultTolerance = 0.6

// Result describes a successful match.
type Result struct {
	Name     string
	Distance float64
}

// Match compares a probe embedding against every gallery entry and returns
// the nearest neighbor among the candidates within tolerance. Ties are
// broken by snapshot order. The second return value is false when no entry
// lies within tolerance; the globally closest entry is irrelevant in that
// case. Tolerance 0 is valid and admits only exact-distance matches; a
// negative value selects the default.
func Match(probe embedding.Vector, snap *gallery.Snapshot, tolerance float64) (Result, bool) {
	if tolerance < 0 {
		tolerance = DefaultTolerance
	}

	best := Result{Distance: -1}
	for _, entry := range snap.Entries() {
		d := embedding.Distance(probe, entry.Embedding)
		if d > tolerance {
			continue
		}
		// Strict < keeps the first occurrence on exact ties.
		if best.Distance < 0 || d < best.Distance {
			best = Result{Name: entry.Name, Distance: d}
		}
	}

	if best.Distance < 0 {
		return Result{}, false
	}
	return best, true
}
