package routing

import (
	"fmt"

	"github.com/azybler/safepath/pkg/geo"
	"github.com/azybler/safepath/pkg/graph"
)

// PathResult is one assembled route.
type PathResult struct {
	Nodes        []int64 `json:"nodes"`
	EdgeIDs      []int64 `json:"edge_ids"`
	NodeCount    int     `json:"node_count"`
	EdgeCount    int     `json:"edge_count"`
	TotalRisk    float64 `json:"total_risk"`
	AvgRisk      float64 `json:"avg_risk"`
	Rank         int     `json:"rank"`
	LengthMeters float64 `json:"length_meters"`
}

// Assemble resolves the edges connecting consecutive node ids and computes
// the risk aggregates. It returns ErrNodeNotFound for an unknown id and
// ErrNoPath when two consecutive nodes are not adjacent.
func Assemble(g *graph.Graph, ids []int64) (PathResult, error) {
	if len(ids) == 0 {
		return PathResult{}, fmt.Errorf("%w: empty node sequence", ErrInvalidParameter)
	}
	idx := make([]uint32, len(ids))
	for i, id := range ids {
		n, ok := g.NodeIndex(id)
		if !ok {
			return PathResult{}, fmt.Errorf("%w: %d", ErrNodeNotFound, id)
		}
		idx[i] = n
	}
	return assemble(g, idx)
}

// assemble builds a PathResult from dense node indices.
func assemble(g *graph.Graph, nodes []uint32) (PathResult, error) {
	res := PathResult{
		Nodes:     make([]int64, len(nodes)),
		EdgeIDs:   make([]int64, 0, len(nodes)),
		NodeCount: len(nodes),
	}
	allCoords := true
	for i, n := range nodes {
		res.Nodes[i] = g.NodeIDs[n]
		if !g.HasCoord[n] {
			allCoords = false
		}
		if i == 0 {
			continue
		}
		prev := nodes[i-1]
		e, ok := g.EdgeBetween(prev, n)
		if !ok {
			return PathResult{}, fmt.Errorf("%w: nodes %d and %d are not adjacent",
				ErrNoPath, g.NodeIDs[prev], g.NodeIDs[n])
		}
		res.EdgeIDs = append(res.EdgeIDs, g.Edges[e].ID)
		res.TotalRisk += g.Edges[e].Risk
		if allCoords {
			res.LengthMeters += geo.Haversine(g.NodeLat[prev], g.NodeLng[prev], g.NodeLat[n], g.NodeLng[n])
		}
	}
	res.EdgeCount = len(res.EdgeIDs)
	if res.EdgeCount > 0 {
		res.AvgRisk = res.TotalRisk / float64(res.EdgeCount)
	}
	if !allCoords {
		res.LengthMeters = 0
	}
	return res, nil
}

// pathRisk sums edge risks in path order.
func pathRisk(g *graph.Graph, edges []uint32) float64 {
	var total float64
	for _, e := range edges {
		total += g.Edges[e].Risk
	}
	return total
}
