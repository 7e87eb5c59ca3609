package geometry

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/tidwall/rtree"

	"github.com/azybler/safepath/pkg/graph"
	"github.com/azybler/safepath/pkg/routing"
)

// RiskClass is the heatmap bucket of an edge risk score.
type RiskClass struct {
	Level string
	Color string
}

// Heatmap bucket upper bounds (exclusive).
const (
	lowRiskMax    = 0.2055
	mediumRiskMax = 0.3349
	highRiskMax   = 0.4282
)

// ClassifyRisk buckets a risk score for the heatmap.
func ClassifyRisk(r float64) RiskClass {
	switch {
	case r < lowRiskMax:
		return RiskClass{Level: "low", Color: "#FFF9C4"}
	case r < mediumRiskMax:
		return RiskClass{Level: "medium", Color: "#FFC107"}
	case r < highRiskMax:
		return RiskClass{Level: "high", Color: "#FF9800"}
	default:
		return RiskClass{Level: "very_high", Color: "#F44336"}
	}
}

// Renderer turns routing results and edge risks into FeatureCollections.
// It is immutable after NewRenderer and safe for concurrent use.
type Renderer struct {
	features *Features
	heat     []*geojson.Feature // heatmap features in edge feature order
	tree     rtree.RTreeG[int]  // bounds of heat[i] -> i
}

// NewRenderer precomputes heatmap features for every edge feature that has a
// geometry. Risk scores come from rows; an edge id repeated in rows takes its
// last score and an edge missing from rows scores 0.
func NewRenderer(f *Features, rows []graph.EdgeRow) *Renderer {
	risk := make(map[int64]float64, len(rows))
	for _, r := range rows {
		risk[r.EdgeID] = r.Risk
	}

	rd := &Renderer{features: f}
	if f == nil {
		return rd
	}
	rd.heat = make([]*geojson.Feature, 0, len(f.order))
	for _, id := range f.order {
		src := f.byID[id]
		if src.Geometry == nil {
			continue
		}
		score := risk[id]
		class := ClassifyRisk(score)

		hf := geojson.NewFeature(src.Geometry)
		hf.Properties[EdgeIDProperty] = id
		hf.Properties["risk_score"] = score
		hf.Properties["risk_level"] = class.Level
		hf.Properties["color"] = class.Color

		b := src.Geometry.Bound()
		rd.tree.Insert([2]float64{b.Min[0], b.Min[1]}, [2]float64{b.Max[0], b.Max[1]}, len(rd.heat))
		rd.heat = append(rd.heat, hf)
	}
	return rd
}

// Features returns the underlying edge features.
func (rd *Renderer) Features() *Features { return rd.features }

// RouteCollection returns the route's edge features with the route summary
// attached as a top-level "properties" member. Edges without a feature are
// left out.
func (rd *Renderer) RouteCollection(res routing.PathResult) *geojson.FeatureCollection {
	fc := geojson.NewFeatureCollection()
	for _, id := range res.EdgeIDs {
		if feat, ok := rd.features.Get(id); ok {
			fc.Append(feat)
		}
	}

	var start, end int64
	if len(res.Nodes) > 0 {
		start, end = res.Nodes[0], res.Nodes[len(res.Nodes)-1]
	}
	fc.ExtraMembers = geojson.Properties{
		"properties": map[string]any{
			"start":      start,
			"end":        end,
			"node_count": res.NodeCount,
			"edge_count": res.EdgeCount,
			"total_risk": res.TotalRisk,
			"avg_risk":   res.AvgRisk,
			"rank":       res.Rank,
		},
	}
	return fc
}

// RiskFeatures returns heatmap features. With a nil bbox every edge is
// returned; otherwise only edges whose bounds intersect it, in feature order.
func (rd *Renderer) RiskFeatures(bbox *orb.Bound) *geojson.FeatureCollection {
	fc := geojson.NewFeatureCollection()
	if bbox == nil {
		fc.Features = append(fc.Features, rd.heat...)
		return fc
	}

	var hits []int
	rd.tree.Search(
		[2]float64{bbox.Min[0], bbox.Min[1]},
		[2]float64{bbox.Max[0], bbox.Max[1]},
		func(_, _ [2]float64, i int) bool {
			hits = append(hits, i)
			return true
		},
	)
	sort.Ints(hits)
	for _, i := range hits {
		fc.Append(rd.heat[i])
	}
	return fc
}

// ParseBBox parses "minLng,minLat,maxLng,maxLat".
func ParseBBox(s string) (orb.Bound, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return orb.Bound{}, fmt.Errorf("bbox needs 4 comma-separated numbers, got %d", len(parts))
	}
	var v [4]float64
	for i, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return orb.Bound{}, fmt.Errorf("bbox value %d: %w", i, err)
		}
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return orb.Bound{}, fmt.Errorf("bbox value %d is not finite", i)
		}
		v[i] = f
	}
	if v[0] > v[2] || v[1] > v[3] {
		return orb.Bound{}, errors.New("bbox min exceeds max")
	}
	return orb.Bound{Min: orb.Point{v[0], v[1]}, Max: orb.Point{v[2], v[3]}}, nil
}
