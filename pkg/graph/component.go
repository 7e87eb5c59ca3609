package graph

// UnionFind implements a disjoint-set data structure with path compression
// and union by rank.
type UnionFind struct {
	parent []uint32
	rank   []byte // max rank ~30 for realistic graphs
	size   []uint32
}

// NewUnionFind creates a UnionFind for n elements.
func NewUnionFind(n uint32) *UnionFind {
	parent := make([]uint32, n)
	size := make([]uint32, n)
	for i := range n {
		parent[i] = i
		size[i] = 1
	}
	return &UnionFind{
		parent: parent,
		rank:   make([]byte, n),
		size:   size,
	}
}

// Find returns the representative of the set containing x, with path halving.
func (uf *UnionFind) Find(x uint32) uint32 {
	for uf.parent[x] != x {
		uf.parent[x] = uf.parent[uf.parent[x]] // path halving
		x = uf.parent[x]
	}
	return x
}

// Union merges the sets containing x and y. Returns false if already same set.
func (uf *UnionFind) Union(x, y uint32) bool {
	rx := uf.Find(x)
	ry := uf.Find(y)
	if rx == ry {
		return false
	}

	if uf.rank[rx] < uf.rank[ry] {
		rx, ry = ry, rx
	}
	uf.parent[ry] = rx
	uf.size[rx] += uf.size[ry]
	if uf.rank[rx] == uf.rank[ry] {
		uf.rank[rx]++
	}
	return true
}

// Size returns the size of the set containing x.
func (uf *UnionFind) Size(x uint32) uint32 {
	return uf.size[uf.Find(x)]
}

// labelComponents assigns a dense component label to every node.
// Labels are numbered in order of the lowest node index in each component.
func (g *Graph) labelComponents() {
	uf := NewUnionFind(g.NumNodes)
	for _, e := range g.Edges {
		uf.Union(e.U, e.V)
	}

	label := make(map[uint32]uint32)
	comp := make([]uint32, g.NumNodes)
	var largest uint32
	for i := uint32(0); i < g.NumNodes; i++ {
		root := uf.Find(i)
		l, ok := label[root]
		if !ok {
			l = uint32(len(label))
			label[root] = l
			if s := uf.Size(root); s > largest {
				largest = s
			}
		}
		comp[i] = l
	}

	g.component = comp
	g.numComponents = uint32(len(label))
	g.largestComp = largest
}

// SameComponent reports whether nodes a and b are connected.
func (g *Graph) SameComponent(a, b uint32) bool {
	return g.component[a] == g.component[b]
}

// Component returns the component label of node idx.
func (g *Graph) Component(idx uint32) uint32 {
	return g.component[idx]
}

// NumComponents returns the number of connected components.
func (g *Graph) NumComponents() uint32 {
	return g.numComponents
}

// LargestComponentSize returns the node count of the largest component.
func (g *Graph) LargestComponentSize() uint32 {
	return g.largestComp
}
