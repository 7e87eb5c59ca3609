// Package spatial provides a nearest-node index over graph coordinates.
//
// The index is a 2-D KD-tree stored implicitly in a single slice: the node
// for a range [lo, hi) is the median element at (lo+hi)/2, its left subtree
// is [lo, mid) and its right subtree is (mid, hi). Split axes alternate
// between longitude (even depth) and latitude (odd depth). Coordinates are
// treated as planar degrees with no projection correction.
package spatial

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/azybler/safepath/pkg/geo"
)

// ErrIndexUnavailable is returned by queries against an index that was never
// built or was built from an empty point set.
var ErrIndexUnavailable = errors.New("spatial index unavailable")

// ErrInvalidPoint is returned when a query coordinate is not finite.
var ErrInvalidPoint = errors.New("invalid query point")

// Point is an indexed node coordinate.
type Point struct {
	ID  int64
	Lng float64
	Lat float64
}

func (p Point) axis(a int) float64 {
	if a == 0 {
		return p.Lng
	}
	return p.Lat
}

// Match is the result of a nearest-node query.
type Match struct {
	NodeID          int64
	Lng             float64
	Lat             float64
	DistanceDegrees float64
	DistanceMeters  float64
}

// Index is an immutable KD-tree. The zero value and a nil *Index are valid
// and answer every query with ErrIndexUnavailable.
type Index struct {
	pts []Point
}

// NewIndex builds a balanced KD-tree in O(n log n) expected time.
//
// Points with non-finite coordinates are dropped. When the same id appears
// more than once, the first occurrence is kept. Building from an empty set
// returns ErrIndexUnavailable.
func NewIndex(points []Point) (*Index, error) {
	pts := make([]Point, 0, len(points))
	for _, p := range points {
		if math.IsNaN(p.Lng) || math.IsNaN(p.Lat) || math.IsInf(p.Lng, 0) || math.IsInf(p.Lat, 0) {
			continue
		}
		pts = append(pts, p)
	}
	if len(pts) == 0 {
		return nil, fmt.Errorf("%w: no points to index", ErrIndexUnavailable)
	}

	// Order by id so the build is independent of input order.
	sort.SliceStable(pts, func(i, j int) bool { return pts[i].ID < pts[j].ID })
	uniq := pts[:1]
	for _, p := range pts[1:] {
		if p.ID != uniq[len(uniq)-1].ID {
			uniq = append(uniq, p)
		}
	}
	pts = uniq

	build(pts, 0)
	return &Index{pts: pts}, nil
}

// Len returns the number of indexed points.
func (ix *Index) Len() int {
	if ix == nil {
		return 0
	}
	return len(ix.pts)
}

// build arranges pts so that every range's median splits it on the axis for
// its depth.
func build(pts []Point, depth int) {
	if len(pts) <= 1 {
		return
	}
	axis := depth & 1
	mid := len(pts) / 2
	selectNth(pts, mid, axis)
	build(pts[:mid], depth+1)
	build(pts[mid+1:], depth+1)
}

// less orders points on an axis, breaking coordinate ties by id.
func less(a, b Point, axis int) bool {
	va, vb := a.axis(axis), b.axis(axis)
	if va != vb {
		return va < vb
	}
	return a.ID < b.ID
}

// selectNth partially sorts pts so that pts[n] is the element that would be
// there after a full sort, with smaller elements before it and larger after.
// Hoare-style quickselect with a median-of-three pivot.
func selectNth(pts []Point, n, axis int) {
	lo, hi := 0, len(pts)-1
	for lo < hi {
		mid := lo + (hi-lo)/2
		// Median of three into pts[mid].
		if less(pts[mid], pts[lo], axis) {
			pts[mid], pts[lo] = pts[lo], pts[mid]
		}
		if less(pts[hi], pts[lo], axis) {
			pts[hi], pts[lo] = pts[lo], pts[hi]
		}
		if less(pts[hi], pts[mid], axis) {
			pts[hi], pts[mid] = pts[mid], pts[hi]
		}
		pivot := pts[mid]

		i, j := lo, hi
		for i <= j {
			for less(pts[i], pivot, axis) {
				i++
			}
			for less(pivot, pts[j], axis) {
				j--
			}
			if i <= j {
				pts[i], pts[j] = pts[j], pts[i]
				i++
				j--
			}
		}

		switch {
		case n <= j:
			hi = j
		case n >= i:
			lo = i
		default:
			return
		}
	}
}

// Nearest returns the indexed node closest to (lng, lat) by planar Euclidean
// distance. Equal distances resolve to the lowest node id.
func (ix *Index) Nearest(lng, lat float64) (Match, error) {
	if ix == nil || len(ix.pts) == 0 {
		return Match{}, ErrIndexUnavailable
	}
	if math.IsNaN(lng) || math.IsNaN(lat) || math.IsInf(lng, 0) || math.IsInf(lat, 0) {
		return Match{}, fmt.Errorf("%w: (%v, %v)", ErrInvalidPoint, lng, lat)
	}

	s := search{pts: ix.pts, q: Point{Lng: lng, Lat: lat}, best: -1, bestSq: math.Inf(1)}
	s.visit(0, len(ix.pts), 0)

	p := ix.pts[s.best]
	d := math.Sqrt(s.bestSq)
	return Match{
		NodeID:          p.ID,
		Lng:             p.Lng,
		Lat:             p.Lat,
		DistanceDegrees: d,
		DistanceMeters:  geo.DegreesToMeters(d),
	}, nil
}

// search holds the state of one nearest-neighbour descent.
type search struct {
	pts    []Point
	q      Point
	best   int
	bestSq float64
}

func (s *search) visit(lo, hi, depth int) {
	if lo >= hi {
		return
	}
	mid := lo + (hi-lo)/2
	p := s.pts[mid]

	dx := p.Lng - s.q.Lng
	dy := p.Lat - s.q.Lat
	d := dx*dx + dy*dy
	if d < s.bestSq || (d == s.bestSq && p.ID < s.pts[s.best].ID) {
		s.best = mid
		s.bestSq = d
	}

	axis := depth & 1
	diff := s.q.axis(axis) - p.axis(axis)
	if diff < 0 {
		s.visit(lo, mid, depth+1)
		if diff*diff <= s.bestSq {
			s.visit(mid+1, hi, depth+1)
		}
	} else {
		s.visit(mid+1, hi, depth+1)
		if diff*diff <= s.bestSq {
			s.visit(lo, mid, depth+1)
		}
	}
}
