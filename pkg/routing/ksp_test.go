package routing

import (
	"context"
	"fmt"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/azybler/safepath/pkg/graph"
)

func TestSafestKPathsExample(t *testing.T) {
	e := newTestEngine(t, triangleRows())

	results, err := e.SafestKPaths(context.Background(), 10, 30, 2)
	require.NoError(t, err)
	require.Len(t, results, 2)

	assert.Equal(t, []int64{10, 20, 30}, results[0].Nodes)
	assert.InDelta(t, 0.15, results[0].AvgRisk, 1e-12)
	assert.InDelta(t, 0.3, results[0].TotalRisk, 1e-12)
	assert.Equal(t, 0, results[0].Rank)

	assert.Equal(t, []int64{10, 30}, results[1].Nodes)
	assert.Equal(t, []int64{3}, results[1].EdgeIDs)
	assert.InDelta(t, 0.9, results[1].AvgRisk, 1e-12)
	assert.Equal(t, 1, results[1].Rank)
}

func TestSafestKPathsFewerThanRequested(t *testing.T) {
	e := newTestEngine(t, triangleRows())

	results, err := e.SafestKPaths(context.Background(), 10, 30, 5)
	require.NoError(t, err)
	assert.Len(t, results, 2)

	results, err = e.SafestKPaths(context.Background(), 10, 10, 3)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, []int64{10}, results[0].Nodes)
}

func TestSafestKPathsReranksByAverage(t *testing.T) {
	// Direct edge has the lower total, the detour the lower average.
	e := newTestEngine(t, []graph.EdgeRow{
		{EdgeID: 1, U: 1, V: 2, Risk: 0.25},
		{EdgeID: 2, U: 2, V: 3, Risk: 0.25},
		{EdgeID: 3, U: 3, V: 4, Risk: 0.25},
		{EdgeID: 4, U: 1, V: 4, Risk: 0.5},
	})

	results, err := e.SafestKPaths(context.Background(), 1, 4, 2)
	require.NoError(t, err)
	require.Len(t, results, 2)

	assert.Equal(t, []int64{1, 2, 3, 4}, results[0].Nodes)
	assert.Equal(t, 0.75, results[0].TotalRisk)
	assert.Equal(t, 0.25, results[0].AvgRisk)
	assert.Equal(t, []int64{1, 4}, results[1].Nodes)
	assert.Equal(t, 0.5, results[1].AvgRisk)
	assert.Equal(t, []int{0, 1}, []int{results[0].Rank, results[1].Rank})
}

func TestRankByAverageExactComparison(t *testing.T) {
	a, b, c := 0.1, 0.2, 0.3
	results := []PathResult{
		{Nodes: []int64{1}, AvgRisk: (a + b) / 2}, // 0.15000000000000002
		{Nodes: []int64{2}, AvgRisk: c / 2},       // 0.15
		{Nodes: []int64{3}, AvgRisk: c / 2},
	}
	rankByAverage(results)

	assert.Equal(t, []int64{2}, results[0].Nodes, "rounding noise still orders")
	assert.Equal(t, []int64{3}, results[1].Nodes, "equal averages keep discovery order")
	assert.Equal(t, []int64{1}, results[2].Nodes)
	for i, r := range results {
		assert.Equal(t, i, r.Rank)
	}
}

func TestSafestKPathsInvalidParameters(t *testing.T) {
	e := newTestEngine(t, triangleRows())
	ctx := context.Background()

	for _, k := range []int{0, -1, 11} {
		_, err := e.SafestKPaths(ctx, 10, 30, k)
		assert.ErrorIs(t, err, ErrInvalidParameter, "k=%d", k)
	}

	_, err := e.SafestKPaths(ctx, 10, 12345, 2)
	assert.ErrorIs(t, err, ErrNodeNotFound)
}

func TestSafestKPathsNoPath(t *testing.T) {
	rows := append(triangleRows(), graph.EdgeRow{EdgeID: 9, U: 70, V: 80, Risk: 0.1})
	e := newTestEngine(t, rows)

	_, err := e.SafestKPaths(context.Background(), 10, 70, 3)
	assert.ErrorIs(t, err, ErrNoPath)
}

func TestYenMatchesEnumeration(t *testing.T) {
	rng := rand.New(rand.NewSource(11))

	for trial := 0; trial < 25; trial++ {
		n := 4 + rng.Intn(4)
		g := mustBuild(t, randomRows(rng, n, 0.5), nil)
		qs := NewQueryState(g)

		for _, s := range g.NodeIDs {
			for _, d := range g.NodeIDs {
				if s == d {
					continue
				}
				si, _ := g.NodeIndex(s)
				di, _ := g.NodeIndex(d)
				all := allSimplePaths(g, s, d)
				const k = 6

				paths, err := yen(context.Background(), g, qs, si, di, k)
				if len(all) == 0 {
					assert.ErrorIs(t, err, ErrNoPath)
					continue
				}
				require.NoError(t, err)

				want := min(k, len(all))
				require.Len(t, paths, want, "trial %d: %d -> %d", trial, s, d)
				for i, p := range paths {
					assert.InDelta(t, all[i].risk, p.risk, 1e-12, "trial %d: %d -> %d path %d", trial, s, d, i)
					if i > 0 {
						assert.GreaterOrEqual(t, p.risk, paths[i-1].risk)
					}
				}
			}
		}
	}
}

func TestSafestKPathsProperties(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	g := mustBuild(t, randomRows(rng, 9, 0.5), nil)
	e := NewEngine(g, nil, Options{MaxK: 20})

	for _, s := range g.NodeIDs {
		for _, d := range g.NodeIDs {
			if s == d || !connected(g, s, d) {
				continue
			}
			results, err := e.SafestKPaths(context.Background(), s, d, 8)
			require.NoError(t, err)
			require.NotEmpty(t, results)
			require.LessOrEqual(t, len(results), 8)

			seen := make(map[string]bool)
			for i, r := range results {
				assert.Equal(t, i, r.Rank)
				assert.Equal(t, s, r.Nodes[0])
				assert.Equal(t, d, r.Nodes[len(r.Nodes)-1])
				assert.Equal(t, len(r.Nodes)-1, r.EdgeCount)

				visited := make(map[int64]bool)
				for _, n := range r.Nodes {
					assert.False(t, visited[n], "path %v has a loop", r.Nodes)
					visited[n] = true
				}

				key := fmt.Sprint(r.Nodes)
				assert.False(t, seen[key], "duplicate path %v", r.Nodes)
				seen[key] = true

				if i > 0 {
					assert.LessOrEqual(t, results[i-1].AvgRisk, r.AvgRisk)
				}
			}
		}
	}
}

func TestSafestKPathsDeterministic(t *testing.T) {
	e := NewEngine(mustBuild(t, gridRows(), nil), nil, DefaultOptions())

	first, err := e.SafestKPaths(context.Background(), 10, 60, 3)
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		again, err := e.SafestKPaths(context.Background(), 10, 60, 3)
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}

func TestSafestKPathsCancelled(t *testing.T) {
	e := newTestEngine(t, gridRows())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := e.SafestKPaths(ctx, 10, 60, 3)
	assert.ErrorIs(t, err, context.Canceled)
}

func connected(g *graph.Graph, a, b int64) bool {
	ai, _ := g.NodeIndex(a)
	bi, _ := g.NodeIndex(b)
	return g.SameComponent(ai, bi)
}
