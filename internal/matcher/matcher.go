// Package matcher selects the courier closest to an origin.
package matcher

import (
	"service-dispatch/internal/domain"
	"service-dispatch/internal/geo"
)

// Finder resolves the nearest live, available courier. Callers depend on this
// interface so the linear scan can be replaced by a spatial index.
type Finder interface {
	FindNearest(originLat, originLon float64) (string, bool)
}

// Snapshotter provides an immutable view of candidate positions.
type Snapshotter interface {
	Snapshot() []domain.CourierPosition
}

// Matcher is a Finder doing an O(n) scan over a snapshot.
type Matcher struct {
	source Snapshotter
}

// New creates a Matcher reading candidates from source.
func New(source Snapshotter) *Matcher {
	return &Matcher{source: source}
}

// FindNearest returns the identity of the closest candidate, or false when the
// snapshot is empty.
func (m *Matcher) FindNearest(originLat, originLon float64) (string, bool) {
	best, ok := Nearest(originLat, originLon, m.source.Snapshot())
	if !ok {
		return "", false
	}
	return best.CourierID, true
}

// Nearest picks the candidate with the smallest haversine distance. Ties prefer
// the most recent RecordedAt, then the lexicographically lowest courier id.
func Nearest(originLat, originLon float64, candidates []domain.CourierPosition) (domain.CourierPosition, bool) {
	var (
		best     domain.CourierPosition
		bestDist float64
		found    bool
	)
	for _, c := range candidates {
		d := geo.Haversine(originLat, originLon, c.Lat, c.Lon)
		if !found || better(c, d, best, bestDist) {
			best, bestDist, found = c, d, true
		}
	}
	return best, found
}

func better(c domain.CourierPosition, d float64, best domain.CourierPosition, bestDist float64) bool {
	switch {
	case d != bestDist:
		return d < bestDist
	case !c.RecordedAt.Equal(best.RecordedAt):
		return c.RecordedAt.After(best.RecordedAt)
	default:
		return c.CourierID < best.CourierID
	}
}

var _ Finder = (*Matcher)(nil)
