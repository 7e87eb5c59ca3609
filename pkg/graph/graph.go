// Package graph holds the immutable risk-weighted street network.
//
// The graph is undirected. Each input edge is stored once in Edges and
// appears as one arc in the adjacency of each endpoint. Node ids from the
// edge table are remapped to dense uint32 indices; all routing code works on
// indices and converts back to ids only when assembling results.
//
// A Graph is never mutated after Build returns and may be shared across
// goroutines without synchronization.
package graph

import "math"

// NoIndex is the sentinel for "no node" or "no edge".
const NoIndex = ^uint32(0)

// Coord is a planar coordinate in degrees.
type Coord struct {
	Lng float64
	Lat float64
}

// Valid reports whether both components are finite.
func (c Coord) Valid() bool {
	return !math.IsNaN(c.Lng) && !math.IsNaN(c.Lat) && !math.IsInf(c.Lng, 0) && !math.IsInf(c.Lat, 0)
}

// EdgeRow is one row of the edge table.
type EdgeRow struct {
	EdgeID int64
	U      int64
	V      int64
	Risk   float64
}

// Edge is an undirected edge between two dense node indices.
type Edge struct {
	ID   int64
	U    uint32
	V    uint32
	Risk float64
}

// Other returns the endpoint of e opposite to n.
func (e Edge) Other(n uint32) uint32 {
	if e.U == n {
		return e.V
	}
	return e.U
}

// Arc is one direction of an edge in the adjacency arrays.
type Arc struct {
	Head uint32 // neighbouring node index
	Edge uint32 // index into Graph.Edges
}

// Graph is an undirected graph in CSR (Compressed Sparse Row) layout.
type Graph struct {
	NumNodes uint32
	NumEdges uint32

	NodeIDs  []int64   // len: NumNodes; dense index -> table node id
	NodeLng  []float64 // len: NumNodes
	NodeLat  []float64 // len: NumNodes
	HasCoord []bool    // len: NumNodes

	Edges    []Edge    // len: NumEdges
	Table    []EdgeRow // input rows in table order, superseded duplicates included
	FirstOut []uint32  // len: NumNodes + 1; FirstOut[i]..FirstOut[i+1] are arcs of node i
	Arcs     []Arc

	index map[int64]uint32  // table node id -> dense index
	pairs map[uint64]uint32 // unordered node pair -> edge index

	component     []uint32 // component label per node
	numComponents uint32
	largestComp   uint32
}

// EdgesFrom returns the range of arc indices incident to node u.
func (g *Graph) EdgesFrom(u uint32) (start, end uint32) {
	return g.FirstOut[u], g.FirstOut[u+1]
}

// NodeIndex returns the dense index of a table node id.
func (g *Graph) NodeIndex(id int64) (uint32, bool) {
	idx, ok := g.index[id]
	return idx, ok
}

// NodeID returns the table node id of a dense index.
func (g *Graph) NodeID(idx uint32) int64 {
	return g.NodeIDs[idx]
}

// Coord returns the coordinate of node idx and whether one is known.
func (g *Graph) Coord(idx uint32) (Coord, bool) {
	if !g.HasCoord[idx] {
		return Coord{}, false
	}
	return Coord{Lng: g.NodeLng[idx], Lat: g.NodeLat[idx]}, true
}

// EdgeBetween returns the index of the edge connecting u and v.
// Because duplicate pairs collapse at build time there is at most one.
func (g *Graph) EdgeBetween(u, v uint32) (uint32, bool) {
	e, ok := g.pairs[pairKey(u, v)]
	return e, ok
}

// pairKey packs an unordered node pair into a single map key.
func pairKey(a, b uint32) uint64 {
	if a > b {
		a, b = b, a
	}
	return uint64(a)<<32 | uint64(b)
}

// Neighbors returns the node indices adjacent to idx in adjacency order.
func (g *Graph) Neighbors(idx uint32) []uint32 {
	start, end := g.EdgesFrom(idx)
	out := make([]uint32, 0, end-start)
	for a := start; a < end; a++ {
		out = append(out, g.Arcs[a].Head)
	}
	return out
}

// NodeCoord returns the coordinate of a table node id.
func (g *Graph) NodeCoord(id int64) (Coord, bool) {
	idx, ok := g.index[id]
	if !ok {
		return Coord{}, false
	}
	return g.Coord(idx)
}
