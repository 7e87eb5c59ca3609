package routing

import (
	"context"
	"math"

	"github.com/azybler/safepath/pkg/graph"
)

const noNode = graph.NoIndex

// ctxCheckInterval is how many settled nodes pass between context checks.
const ctxCheckInterval = 100

// QueryState holds per-query state for a single-target Dijkstra search.
// It is reused across the spur searches of one k-path query and must not be
// shared between goroutines.
//
// Labels compare by (risk, hops). Among labels that are equal on both, the
// predecessor whose path from the source has the lexicographically smaller
// node-id sequence wins, so every search result is reproducible.
type QueryState struct {
	g *graph.Graph

	Risk     []float64
	Hops     []uint32
	Pred     []uint32 // predecessor node (noNode = none)
	PredEdge []uint32 // edge used to reach the node from Pred
	Settled  []bool
	Touched  []uint32 // nodes touched during this search (for fast reset)
	PQ       MinHeap

	blockedNode []bool
	blockedEdge []bool
	blockedList []uint32 // nodes blocked, for fast unblocking
	blockedEdgs []uint32 // edges blocked, for fast unblocking

	bufA, bufB []int64 // scratch for lexicographic tie-breaks
}

// NewQueryState creates a QueryState sized for g.
func NewQueryState(g *graph.Graph) *QueryState {
	n := g.NumNodes
	risk := make([]float64, n)
	pred := make([]uint32, n)
	predEdge := make([]uint32, n)
	for i := range risk {
		risk[i] = math.Inf(1)
		pred[i] = noNode
		predEdge[i] = noNode
	}
	return &QueryState{
		g:           g,
		Risk:        risk,
		Hops:        make([]uint32, n),
		Pred:        pred,
		PredEdge:    predEdge,
		Settled:     make([]bool, n),
		Touched:     make([]uint32, 0, 1024),
		PQ:          MinHeap{items: make([]PQItem, 0, 256)},
		blockedNode: make([]bool, n),
		blockedEdge: make([]bool, g.NumEdges),
	}
}

// Reset clears only the touched entries for fast reuse. Blocks are kept.
func (qs *QueryState) Reset() {
	for _, node := range qs.Touched {
		qs.Risk[node] = math.Inf(1)
		qs.Hops[node] = 0
		qs.Pred[node] = noNode
		qs.PredEdge[node] = noNode
		qs.Settled[node] = false
	}
	qs.Touched = qs.Touched[:0]
	qs.PQ.Reset()
}

// BlockNode excludes node n from subsequent searches until ClearBlocks.
func (qs *QueryState) BlockNode(n uint32) {
	if !qs.blockedNode[n] {
		qs.blockedNode[n] = true
		qs.blockedList = append(qs.blockedList, n)
	}
}

// BlockEdge excludes edge e from subsequent searches until ClearBlocks.
func (qs *QueryState) BlockEdge(e uint32) {
	if !qs.blockedEdge[e] {
		qs.blockedEdge[e] = true
		qs.blockedEdgs = append(qs.blockedEdgs, e)
	}
}

// ClearBlocks removes every node and edge block.
func (qs *QueryState) ClearBlocks() {
	for _, n := range qs.blockedList {
		qs.blockedNode[n] = false
	}
	for _, e := range qs.blockedEdgs {
		qs.blockedEdge[e] = false
	}
	qs.blockedList = qs.blockedList[:0]
	qs.blockedEdgs = qs.blockedEdgs[:0]
}

func (qs *QueryState) touch(node uint32, risk float64, hops uint32) {
	if math.IsInf(qs.Risk[node], 1) {
		qs.Touched = append(qs.Touched, node)
	}
	qs.Risk[node] = risk
	qs.Hops[node] = hops
}

// Run searches from source until target is settled. It returns false when
// target is unreachable under the current blocks. The context is checked
// every ctxCheckInterval settled nodes.
func (qs *QueryState) Run(ctx context.Context, source, target uint32) (bool, error) {
	g := qs.g

	qs.touch(source, 0, 0)
	qs.PQ.Push(source, 0, 0)

	settled := 0
	for qs.PQ.Len() > 0 {
		item := qs.PQ.Pop()
		u := item.Node
		if qs.Settled[u] {
			continue // stale entry
		}
		qs.Settled[u] = true
		if u == target {
			return true, nil
		}

		settled++
		if settled%ctxCheckInterval == 0 {
			if err := ctx.Err(); err != nil {
				return false, err
			}
		}

		du, hu := qs.Risk[u], qs.Hops[u]
		start, end := g.EdgesFrom(u)
		for a := start; a < end; a++ {
			arc := g.Arcs[a]
			v := arc.Head
			if qs.Settled[v] || qs.blockedNode[v] || qs.blockedEdge[arc.Edge] {
				continue
			}

			newRisk := du + g.Edges[arc.Edge].Risk
			newHops := hu + 1
			switch {
			case newRisk < qs.Risk[v] || (newRisk == qs.Risk[v] && newHops < qs.Hops[v]):
				qs.touch(v, newRisk, newHops)
				qs.Pred[v] = u
				qs.PredEdge[v] = arc.Edge
				qs.PQ.Push(v, newRisk, newHops)
			case newRisk == qs.Risk[v] && newHops == qs.Hops[v] && qs.Pred[v] != u:
				// Equal label: keep the lexicographically smaller prefix.
				// Both u and Pred[v] are settled, so their paths are final.
				if qs.comparePrefix(u, qs.Pred[v]) < 0 {
					qs.Pred[v] = u
					qs.PredEdge[v] = arc.Edge
				}
			}
		}
	}

	return false, nil
}

// Path reconstructs the node and edge sequence from the source to target.
// Target must have been settled by the last Run.
func (qs *QueryState) Path(target uint32) (nodes, edges []uint32) {
	for n := target; n != noNode; n = qs.Pred[n] {
		nodes = append(nodes, n)
		if qs.Pred[n] != noNode {
			edges = append(edges, qs.PredEdge[n])
		}
	}
	reverse(nodes)
	reverse(edges)
	return nodes, edges
}

// comparePrefix compares the source paths of two settled nodes as node-id
// sequences. Both paths have the same hop count when called from Run.
func (qs *QueryState) comparePrefix(a, b uint32) int {
	qs.bufA = qs.idPath(qs.bufA[:0], a)
	qs.bufB = qs.idPath(qs.bufB[:0], b)
	return compareIDs(qs.bufA, qs.bufB)
}

// idPath appends the node ids from the source to n into buf.
func (qs *QueryState) idPath(buf []int64, n uint32) []int64 {
	for ; n != noNode; n = qs.Pred[n] {
		buf = append(buf, qs.g.NodeIDs[n])
	}
	reverse(buf)
	return buf
}

// compareIDs orders id sequences lexicographically; a proper prefix sorts first.
func compareIDs(a, b []int64) int {
	for i := 0; i < len(a) && i < len(b); i++ {
		if a[i] != b[i] {
			if a[i] < b[i] {
				return -1
			}
			return 1
		}
	}
	switch {
	case len(a) < len(b):
		return -1
	case len(a) > len(b):
		return 1
	}
	return 0
}

func reverse[T any](s []T) {
	for i, j := 0, len(s)-1; i < j; i, j = i+1, j-1 {
		s[i], s[j] = s[j], s[i]
	}
}
