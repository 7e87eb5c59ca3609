// Package geometry maps edge ids to displayable GeoJSON features.
//
// Routing works on ids only. This package owns the edge geometries loaded
// from a GeoJSON FeatureCollection and turns routing results and the edge
// risk table into FeatureCollections for clients.
package geometry

import (
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/azybler/safepath/pkg/graph"
)

// ErrFeatures is returned when the edge GeoJSON cannot be parsed.
var ErrFeatures = errors.New("invalid edge features")

// EdgeIDProperty is the feature property holding the edge id.
const EdgeIDProperty = "edge_id"

// Features is an immutable set of edge features keyed by edge id.
type Features struct {
	byID  map[int64]*geojson.Feature
	order []int64 // first-appearance order of ids
}

// LoadFeatures parses an edge FeatureCollection. Features whose edge_id is
// missing or unparsable are skipped. When an id repeats, the later feature
// replaces the earlier one.
func LoadFeatures(r io.Reader) (*Features, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("%w: read: %v", ErrFeatures, err)
	}
	fc, err := geojson.UnmarshalFeatureCollection(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFeatures, err)
	}

	f := &Features{byID: make(map[int64]*geojson.Feature, len(fc.Features))}
	for _, feat := range fc.Features {
		id, ok := edgeID(feat.Properties)
		if !ok {
			continue
		}
		if _, dup := f.byID[id]; !dup {
			f.order = append(f.order, id)
		}
		f.byID[id] = feat
	}
	return f, nil
}

// LoadFeaturesFile is LoadFeatures over a file path.
func LoadFeaturesFile(path string) (*Features, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFeatures, err)
	}
	defer file.Close()
	return LoadFeatures(file)
}

// Len returns the number of distinct edge features.
func (f *Features) Len() int {
	if f == nil {
		return 0
	}
	return len(f.order)
}

// Get returns the feature for an edge id.
func (f *Features) Get(id int64) (*geojson.Feature, bool) {
	if f == nil {
		return nil, false
	}
	feat, ok := f.byID[id]
	return feat, ok
}

// NodeCoords derives node coordinates from edge geometries. For every row
// whose edge has a LineString, u takes the first vertex and v the last.
// The first coordinate assigned to a node is kept.
func (f *Features) NodeCoords(rows []graph.EdgeRow) map[int64]graph.Coord {
	coords := make(map[int64]graph.Coord)
	for _, r := range rows {
		feat, ok := f.Get(r.EdgeID)
		if !ok {
			continue
		}
		ls, ok := feat.Geometry.(orb.LineString)
		if !ok || len(ls) == 0 {
			continue
		}
		if _, seen := coords[r.U]; !seen {
			coords[r.U] = graph.Coord{Lng: ls[0][0], Lat: ls[0][1]}
		}
		if _, seen := coords[r.V]; !seen {
			last := ls[len(ls)-1]
			coords[r.V] = graph.Coord{Lng: last[0], Lat: last[1]}
		}
	}
	return coords
}

// edgeID reads the edge id property. Numbers and numeric strings are
// accepted and truncated toward zero.
func edgeID(props geojson.Properties) (int64, bool) {
	var v float64
	switch raw := props[EdgeIDProperty].(type) {
	case float64:
		v = raw
	case int:
		v = float64(raw)
	case int64:
		v = float64(raw)
	case string:
		p, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return 0, false
		}
		v = p
	default:
		return 0, false
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	return int64(v), true
}
