package routing

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/azybler/safepath/pkg/graph"
	"github.com/azybler/safepath/pkg/spatial"
)

// Router is the interface for routing queries.
type Router interface {
	Nearest(ctx context.Context, lng, lat float64) (spatial.Match, error)
	SafestPath(ctx context.Context, source, target int64) (PathResult, error)
	SafestKPaths(ctx context.Context, source, target int64, k int) ([]PathResult, error)
}

// Options bounds the work a single query may do.
type Options struct {
	MaxK         int           // largest accepted k for SafestKPaths
	QueryTimeout time.Duration // 0 disables the per-query deadline
}

// DefaultOptions returns the options used when none are configured.
func DefaultOptions() Options {
	return Options{MaxK: 10, QueryTimeout: 5 * time.Second}
}

// Stats summarizes the loaded network.
type Stats struct {
	Nodes         uint32 `json:"nodes"`
	Edges         uint32 `json:"edges"`
	NodesWithGeo  int    `json:"nodes_with_coords"`
	Components    uint32 `json:"components"`
	LargestComp   uint32 `json:"largest_component"`
	IndexedPoints int    `json:"indexed_points"`
	MaxK          int    `json:"max_k"`
}

// Engine implements Router over an immutable graph and spatial index.
// It holds no mutable state besides a pool of scratch buffers and is safe
// for concurrent use.
type Engine struct {
	g    *graph.Graph
	idx  *spatial.Index
	opts Options

	states sync.Pool
}

// NewEngine creates a routing engine. idx may be nil, in which case Nearest
// reports ErrIndexUnavailable.
func NewEngine(g *graph.Graph, idx *spatial.Index, opts Options) *Engine {
	if opts.MaxK <= 0 {
		opts.MaxK = DefaultOptions().MaxK
	}
	e := &Engine{g: g, idx: idx, opts: opts}
	e.states.New = func() any { return NewQueryState(g) }
	return e
}

// Graph returns the underlying graph.
func (e *Engine) Graph() *graph.Graph { return e.g }

// Index returns the spatial index, possibly nil.
func (e *Engine) Index() *spatial.Index { return e.idx }

// Options returns the effective query bounds.
func (e *Engine) Options() Options { return e.opts }

// Stats returns counts describing the loaded network.
func (e *Engine) Stats() Stats {
	return Stats{
		Nodes:         e.g.NumNodes,
		Edges:         e.g.NumEdges,
		NodesWithGeo:  e.g.NumWithCoord(),
		Components:    e.g.NumComponents(),
		LargestComp:   e.g.LargestComponentSize(),
		IndexedPoints: e.idx.Len(),
		MaxK:          e.opts.MaxK,
	}
}

// Nearest returns the graph node closest to (lng, lat).
func (e *Engine) Nearest(ctx context.Context, lng, lat float64) (m spatial.Match, err error) {
	start := time.Now()
	defer func() { observe("nearest", start, err) }()

	if err = ctx.Err(); err != nil {
		return spatial.Match{}, err
	}
	m, err = e.idx.Nearest(lng, lat)
	if errors.Is(err, spatial.ErrInvalidPoint) {
		err = fmt.Errorf("%w: %v", ErrInvalidParameter, err)
	}
	return m, err
}

// SafestPath returns the minimum-risk path from source to target.
func (e *Engine) SafestPath(ctx context.Context, source, target int64) (res PathResult, err error) {
	start := time.Now()
	defer func() { observe("safest_path", start, err) }()

	s, t, err := e.endpoints(source, target)
	if err != nil {
		return PathResult{}, err
	}
	if s == t {
		return assemble(e.g, []uint32{s})
	}
	if !e.g.SameComponent(s, t) {
		return PathResult{}, fmt.Errorf("%w: %d and %d are not connected", ErrNoPath, source, target)
	}

	ctx, cancel := e.withTimeout(ctx)
	defer cancel()

	qs := e.states.Get().(*QueryState)
	defer func() {
		qs.Reset()
		e.states.Put(qs)
	}()

	found, err := qs.Run(ctx, s, t)
	if err != nil {
		return PathResult{}, err
	}
	if !found {
		return PathResult{}, fmt.Errorf("%w: %d -> %d", ErrNoPath, source, target)
	}
	nodes, _ := qs.Path(t)
	return assemble(e.g, nodes)
}

// SafestKPaths returns up to k loopless paths from source to target, sorted
// by average risk with Rank set to the position in that order. Fewer than k
// results means no further simple path exists.
func (e *Engine) SafestKPaths(ctx context.Context, source, target int64, k int) (results []PathResult, err error) {
	start := time.Now()
	defer func() {
		observe("safest_k_paths", start, err)
		if err == nil {
			kPathsReturned.Observe(float64(len(results)))
		}
	}()

	if k <= 0 || k > e.opts.MaxK {
		return nil, fmt.Errorf("%w: k must be in [1, %d], got %d", ErrInvalidParameter, e.opts.MaxK, k)
	}
	s, t, err := e.endpoints(source, target)
	if err != nil {
		return nil, err
	}
	if s == t {
		res, err := assemble(e.g, []uint32{s})
		if err != nil {
			return nil, err
		}
		return []PathResult{res}, nil
	}
	if !e.g.SameComponent(s, t) {
		return nil, fmt.Errorf("%w: %d and %d are not connected", ErrNoPath, source, target)
	}

	ctx, cancel := e.withTimeout(ctx)
	defer cancel()

	qs := e.states.Get().(*QueryState)
	defer e.states.Put(qs)

	paths, err := yen(ctx, e.g, qs, s, t, k)
	if err != nil {
		return nil, err
	}

	results = make([]PathResult, 0, len(paths))
	for _, p := range paths {
		res, err := assemble(e.g, p.nodes)
		if err != nil {
			return nil, err
		}
		results = append(results, res)
	}
	rankByAverage(results)
	return results, nil
}

func (e *Engine) endpoints(source, target int64) (uint32, uint32, error) {
	s, ok := e.g.NodeIndex(source)
	if !ok {
		return 0, 0, fmt.Errorf("%w: source %d", ErrNodeNotFound, source)
	}
	t, ok := e.g.NodeIndex(target)
	if !ok {
		return 0, 0, fmt.Errorf("%w: target %d", ErrNodeNotFound, target)
	}
	return s, t, nil
}

func (e *Engine) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if e.opts.QueryTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, e.opts.QueryTimeout)
}

// IndexPoints returns the spatial index input for every node with a
// coordinate.
func IndexPoints(g *graph.Graph) []spatial.Point {
	pts := make([]spatial.Point, 0, g.NumWithCoord())
	for i, id := range g.NodeIDs {
		if g.HasCoord[i] {
			pts = append(pts, spatial.Point{ID: id, Lng: g.NodeLng[i], Lat: g.NodeLat[i]})
		}
	}
	return pts
}
