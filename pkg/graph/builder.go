package graph

import (
	"fmt"
	"math"
	"slices"
)

// Build creates an undirected CSR Graph from edge table rows.
//
// coords may be nil. Coordinates for ids that do not appear in the table are
// ignored; nodes without a coordinate keep HasCoord == false.
//
// When the same unordered node pair appears in more than one row, the later
// row's edge id and risk replace the earlier one. The edge keeps the slot of
// the first row, so adjacency order follows first appearance. The input rows
// are kept in Table.
func Build(rows []EdgeRow, coords map[int64]Coord) (*Graph, error) {
	if len(rows) == 0 {
		return nil, fmt.Errorf("%w: table has no rows", ErrConfig)
	}

	// Step 1: Validate weights before allocating anything sizeable.
	for i, r := range rows {
		if math.IsNaN(r.Risk) || math.IsInf(r.Risk, 0) {
			return nil, fmt.Errorf("%w: row %d (edge %d): risk_score is not finite", ErrConfig, i+1, r.EdgeID)
		}
		if r.Risk < 0 {
			return nil, fmt.Errorf("%w: row %d (edge %d): risk_score %g is negative", ErrConfig, i+1, r.EdgeID, r.Risk)
		}
	}

	// Step 2: Collect unique node ids in order of first appearance.
	index := make(map[int64]uint32)
	var nodeIDs []int64

	addNode := func(id int64) uint32 {
		if idx, ok := index[id]; ok {
			return idx
		}
		idx := uint32(len(nodeIDs))
		index[id] = idx
		nodeIDs = append(nodeIDs, id)
		return idx
	}

	// Step 3: Collapse rows into edges, last write wins per unordered pair.
	pairs := make(map[uint64]uint32, len(rows))
	edges := make([]Edge, 0, len(rows))
	for _, r := range rows {
		u := addNode(r.U)
		v := addNode(r.V)
		key := pairKey(u, v)
		if e, ok := pairs[key]; ok {
			edges[e].ID = r.EdgeID
			edges[e].Risk = r.Risk
			continue
		}
		pairs[key] = uint32(len(edges))
		edges = append(edges, Edge{ID: r.EdgeID, U: u, V: v, Risk: r.Risk})
	}

	numNodes := uint32(len(nodeIDs))
	numEdges := uint32(len(edges))

	// Step 4: Build CSR adjacency via counting. Self loops get a single arc.
	firstOut := make([]uint32, numNodes+1)
	for _, e := range edges {
		firstOut[e.U+1]++
		if e.U != e.V {
			firstOut[e.V+1]++
		}
	}
	for i := uint32(1); i <= numNodes; i++ {
		firstOut[i] += firstOut[i-1]
	}

	arcs := make([]Arc, firstOut[numNodes])
	pos := make([]uint32, numNodes)
	copy(pos, firstOut[:numNodes])
	for i, e := range edges {
		arcs[pos[e.U]] = Arc{Head: e.V, Edge: uint32(i)}
		pos[e.U]++
		if e.U != e.V {
			arcs[pos[e.V]] = Arc{Head: e.U, Edge: uint32(i)}
			pos[e.V]++
		}
	}

	// Step 5: Populate node coordinates.
	nodeLng := make([]float64, numNodes)
	nodeLat := make([]float64, numNodes)
	hasCoord := make([]bool, numNodes)
	for i, id := range nodeIDs {
		c, ok := coords[id]
		if !ok || !c.Valid() {
			continue
		}
		nodeLng[i] = c.Lng
		nodeLat[i] = c.Lat
		hasCoord[i] = true
	}

	g := &Graph{
		NumNodes: numNodes,
		NumEdges: numEdges,
		NodeIDs:  nodeIDs,
		NodeLng:  nodeLng,
		NodeLat:  nodeLat,
		HasCoord: hasCoord,
		Edges:    edges,
		Table:    slices.Clone(rows),
		FirstOut: firstOut,
		Arcs:     arcs,
		index:    index,
		pairs:    pairs,
	}
	g.labelComponents()

	return g, nil
}

// Rows returns the collapsed edge set as table rows, in edge order.
// Building a graph from Rows() reproduces the same adjacency.
func (g *Graph) Rows() []EdgeRow {
	rows := make([]EdgeRow, len(g.Edges))
	for i, e := range g.Edges {
		rows[i] = EdgeRow{EdgeID: e.ID, U: g.NodeIDs[e.U], V: g.NodeIDs[e.V], Risk: e.Risk}
	}
	return rows
}

// Coords returns the known node coordinates keyed by table node id.
func (g *Graph) Coords() map[int64]Coord {
	out := make(map[int64]Coord, len(g.NodeIDs))
	for i, id := range g.NodeIDs {
		if g.HasCoord[i] {
			out[id] = Coord{Lng: g.NodeLng[i], Lat: g.NodeLat[i]}
		}
	}
	return out
}

// NumWithCoord returns how many nodes carry a coordinate.
func (g *Graph) NumWithCoord() int {
	n := 0
	for _, ok := range g.HasCoord {
		if ok {
			n++
		}
	}
	return n
}
