package routing

import (
	"context"
	"encoding/binary"
	"sort"

	"github.com/azybler/safepath/pkg/graph"
)

// candidate is a loopless path found during Yen's search.
type candidate struct {
	nodes []uint32
	edges []uint32
	risk  float64
	ids   []int64
}

func newCandidate(g *graph.Graph, nodes, edges []uint32) candidate {
	ids := make([]int64, len(nodes))
	for i, n := range nodes {
		ids[i] = g.NodeIDs[n]
	}
	return candidate{nodes: nodes, edges: edges, risk: pathRisk(g, edges), ids: ids}
}

// before orders candidates by total risk, then edge count, then node ids.
func (c *candidate) before(o *candidate) bool {
	if c.risk != o.risk {
		return c.risk < o.risk
	}
	if len(c.edges) != len(o.edges) {
		return len(c.edges) < len(o.edges)
	}
	return compareIDs(c.ids, o.ids) < 0
}

// pathKey encodes a node index sequence as a map key.
func pathKey(nodes []uint32) string {
	b := make([]byte, 4*len(nodes))
	for i, n := range nodes {
		binary.LittleEndian.PutUint32(b[4*i:], n)
	}
	return string(b)
}

// yen returns up to k loopless source-target paths in non-decreasing order
// of total risk. It returns ErrNoPath when target is unreachable. The context
// is checked before every iteration and inside each spur search.
func yen(ctx context.Context, g *graph.Graph, qs *QueryState, source, target uint32, k int) ([]candidate, error) {
	defer func() {
		qs.Reset()
		qs.ClearBlocks()
	}()

	qs.Reset()
	qs.ClearBlocks()
	found, err := qs.Run(ctx, source, target)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, ErrNoPath
	}
	nodes, edges := qs.Path(target)

	accepted := []candidate{newCandidate(g, nodes, edges)}
	seen := map[string]struct{}{pathKey(nodes): {}}
	var pool []candidate

	for len(accepted) < k {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		last := accepted[len(accepted)-1]
		for i := 0; i < len(last.nodes)-1; i++ {
			spur := last.nodes[i]
			root := last.nodes[:i+1]

			qs.Reset()
			qs.ClearBlocks()
			for _, p := range accepted {
				if len(p.edges) > i && equalPrefix(p.nodes, root) {
					qs.BlockEdge(p.edges[i])
				}
			}
			for _, n := range root[:i] {
				qs.BlockNode(n)
			}

			found, err := qs.Run(ctx, spur, target)
			if err != nil {
				return nil, err
			}
			if !found {
				continue
			}
			spurNodes, spurEdges := qs.Path(target)

			nodes := make([]uint32, 0, i+len(spurNodes))
			nodes = append(nodes, root[:i]...)
			nodes = append(nodes, spurNodes...)
			key := pathKey(nodes)
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}

			edges := make([]uint32, 0, i+len(spurEdges))
			edges = append(edges, last.edges[:i]...)
			edges = append(edges, spurEdges...)
			pool = append(pool, newCandidate(g, nodes, edges))
		}

		if len(pool) == 0 {
			break
		}
		best := 0
		for j := 1; j < len(pool); j++ {
			if pool[j].before(&pool[best]) {
				best = j
			}
		}
		accepted = append(accepted, pool[best])
		pool[best] = pool[len(pool)-1]
		pool = pool[:len(pool)-1]
	}

	return accepted, nil
}

func equalPrefix(nodes, prefix []uint32) bool {
	if len(nodes) < len(prefix) {
		return false
	}
	for i, n := range prefix {
		if nodes[i] != n {
			return false
		}
	}
	return true
}

// rankByAverage sorts results by average risk, keeping discovery order on
// ties, and assigns zero-based ranks. Averages compare as exact float64
// values with no epsilon.
func rankByAverage(results []PathResult) {
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].AvgRisk < results[j].AvgRisk
	})
	for i := range results {
		results[i].Rank = i
	}
}
