package services

import (
	"fmt"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Fortemi/fortemi-sub000/internal/core/domain"
)

// pairEdges returns both directions of a semantic pair.
func pairEdges(a, b string, score float64, retained bool) []domain.Edge {
	mk := func(src, dst string) domain.Edge {
		e := domain.Edge{
			ID:       src + "->" + dst,
			Source:   src,
			Target:   dst,
			Kind:     domain.EdgeSemantic,
			Score:    score,
			Retained: retained,
			Version:  1,
		}
		if !retained {
			e.PrunedBy = domain.PrunedBySNN
		}
		return e
	}
	return []domain.Edge{mk(a, b), mk(b, a)}
}

type scoredPair struct {
	a, b  string
	score float64
}

func graphOf(pairs ...scoredPair) *edgeGraph {
	var edges []domain.Edge
	for _, p := range pairs {
		edges = append(edges, pairEdges(p.a, p.b, p.score, true)...)
	}
	return buildEdgeGraph(edges)
}

func TestBuildEdgeGraph_Asymmetric(t *testing.T) {
	edges := pairEdges("a", "b", 0.8, true)
	edges = append(edges, domain.Edge{ID: "x", Source: "a", Target: "c", Kind: domain.EdgeSemantic, Score: 0.7, Retained: true})
	mismatched := pairEdges("c", "d", 0.6, true)
	mismatched[1].Score = 0.9
	edges = append(edges, mismatched...)
	edges = append(edges, domain.Edge{ID: "e", Source: "b", Target: "d", Kind: domain.EdgeExplicit, Score: 1})

	g := buildEdgeGraph(edges)

	assert.Equal(t, []domain.PairKey{{A: "a", B: "b"}}, g.keys)
	assert.Equal(t, []domain.PairKey{{A: "a", B: "c"}, {A: "c", B: "d"}}, g.asymmetric)
	err := g.invariantError()
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrGraphInvariant)
}

func TestBuildEdgeGraph_Symmetric(t *testing.T) {
	g := graphOf(scoredPair{"a", "b", 0.8}, scoredPair{"b", "c", 0.7})
	assert.NoError(t, g.invariantError())
	assert.Equal(t, []string{"a", "c"}, g.neighbours["b"])
	assert.Len(t, g.retainedPairs(), 2)
}

func TestScoreRangeOf(t *testing.T) {
	lo, hi, ok := scoreRangeOf(pairEdges("a", "b", 0.4, true))
	assert.True(t, ok)
	assert.Equal(t, 0.4, lo)
	assert.Equal(t, 0.4, hi)

	_, _, ok = scoreRangeOf(nil)
	assert.False(t, ok)
}

func TestSNNK(t *testing.T) {
	assert.Equal(t, 5, snnK(10, 5, 30))
	assert.Equal(t, 3, snnK(10, 2, 30))
	assert.Equal(t, 10, snnK(1<<20, 5, 10))
	assert.Equal(t, 5, snnK(1, 5, 30))
}

// twoTriangles is two strong triangles joined by a weaker bridge c-d.
func twoTriangles() *edgeGraph {
	return graphOf(
		scoredPair{"a", "b", 0.9}, scoredPair{"a", "c", 0.9}, scoredPair{"b", "c", 0.9},
		scoredPair{"d", "e", 0.9}, scoredPair{"d", "f", 0.9}, scoredPair{"e", "f", 0.9},
		scoredPair{"c", "d", 0.75},
	)
}

func TestScoreSNN_PrunesBridge(t *testing.T) {
	settings := domain.DefaultAppSettings().Graph
	settings.KMin, settings.KMax = 2, 2

	out := scoreSNN(twoTriangles(), 6, settings)

	require.Empty(t, out.skipReason)
	assert.Equal(t, 2, out.k)
	assert.Equal(t, []domain.PairKey{{A: "c", B: "d"}}, out.prune)
	assert.Equal(t, 0.0, out.scores[domain.NewPairKey("c", "d")])
	assert.Equal(t, 0.5, out.scores[domain.NewPairKey("a", "b")])
	for key, s := range out.scores {
		assert.GreaterOrEqual(t, s, 0.0, key)
		assert.LessOrEqual(t, s, 1.0, key)
	}
}

func TestScoreSNN_Skips(t *testing.T) {
	settings := domain.DefaultAppSettings().Graph

	small := scoreSNN(graphOf(scoredPair{"a", "b", 0.9}), 2, settings)
	assert.Contains(t, small.skipReason, "too small")
	assert.Nil(t, small.prune)

	sparse := scoreSNN(twoTriangles(), 6, settings)
	assert.Contains(t, sparse.skipReason, "too sparse")
}

func TestSNNUpdates(t *testing.T) {
	settings := domain.DefaultAppSettings().Graph
	settings.KMin, settings.KMax = 2, 2
	g := twoTriangles()
	out := scoreSNN(g, 6, settings)

	updates := snnUpdates(g, out)
	assert.Len(t, updates, 14)

	pruned := 0
	for _, u := range updates {
		require.NotNil(t, u.SNN)
		assert.Equal(t, 1, u.Version)
		if u.Prune {
			pruned++
			assert.Equal(t, domain.PrunedBySNN, u.PrunedBy)
		}
	}
	assert.Equal(t, 2, pruned)
}

func TestSNNUpdates_SkipsUnchanged(t *testing.T) {
	edges := pairEdges("a", "b", 0.9, true)
	for i := range edges {
		edges[i].SNN, edges[i].HasSNN = 0.5, true
	}
	g := buildEdgeGraph(edges)
	out := snnOutcome{scores: map[domain.PairKey]float64{domain.NewPairKey("a", "b"): 0.5}}

	assert.Empty(t, snnUpdates(g, out))
}

func TestRNGPrune_Triangle(t *testing.T) {
	g := graphOf(scoredPair{"a", "b", 0.9}, scoredPair{"b", "c", 0.9}, scoredPair{"a", "c", 0.5})
	assert.Equal(t, []domain.PairKey{{A: "a", B: "c"}}, rngPrune(g))
}

func TestRNGPrune_EqualCostsKept(t *testing.T) {
	g := graphOf(scoredPair{"a", "b", 0.8}, scoredPair{"b", "c", 0.8}, scoredPair{"a", "c", 0.8})
	assert.Empty(t, rngPrune(g))
}

func TestRNGPrune_IgnoresPrunedWitnesses(t *testing.T) {
	var edges []domain.Edge
	edges = append(edges, pairEdges("a", "b", 0.9, false)...)
	edges = append(edges, pairEdges("b", "c", 0.9, true)...)
	edges = append(edges, pairEdges("a", "c", 0.5, true)...)

	assert.Empty(t, rngPrune(buildEdgeGraph(edges)))
}

// bruteForceRNG checks every retained pair against every third node using
// a dense cost matrix.
func bruteForceRNG(nodes []string, edges []domain.Edge) map[domain.PairKey]bool {
	index := make(map[string]int, len(nodes))
	for i, n := range nodes {
		index[n] = i
	}
	n := len(nodes)
	cost := make([][]float64, n)
	for i := range cost {
		cost[i] = make([]float64, n)
		for j := range cost[i] {
			cost[i][j] = -1
		}
	}
	for _, e := range edges {
		if e.Retained {
			cost[index[e.Source]][index[e.Target]] = 1 - e.Score
		}
	}

	prune := make(map[domain.PairKey]bool)
	for i := range n {
		for j := i + 1; j < n; j++ {
			if cost[i][j] < 0 {
				continue
			}
			for k := range n {
				if k == i || k == j || cost[i][k] < 0 || cost[k][j] < 0 {
					continue
				}
				if max(cost[i][k], cost[k][j]) < cost[i][j] {
					prune[domain.NewPairKey(nodes[i], nodes[j])] = true
					break
				}
			}
		}
	}
	return prune
}

func TestRNGPrune_MatchesBruteForce(t *testing.T) {
	for seed := range uint64(25) {
		t.Run(fmt.Sprintf("seed-%d", seed), func(t *testing.T) {
			r := rand.New(rand.NewPCG(seed, 99))
			n := 5 + r.IntN(6)
			nodes := make([]string, n)
			for i := range nodes {
				nodes[i] = fmt.Sprintf("n%02d", i)
			}
			var edges []domain.Edge
			for i := range n {
				for j := i + 1; j < n; j++ {
					if r.Float64() < 0.6 {
						score := float64(1+r.IntN(99)) / 100
						edges = append(edges, pairEdges(nodes[i], nodes[j], score, r.Float64() < 0.9)...)
					}
				}
			}
			g := buildEdgeGraph(edges)
			want := bruteForceRNG(nodes, edges)

			got := rngPrune(g)
			assert.Len(t, got, len(want))
			retained := make(map[domain.PairKey]bool)
			for _, p := range g.retainedPairs() {
				retained[p.key] = true
			}
			for _, key := range got {
				assert.True(t, want[key], "pruned %v which brute force keeps", key)
				assert.True(t, retained[key], "pruned %v which was not retained", key)
			}
		})
	}
}

func TestPruneUpdates(t *testing.T) {
	var edges []domain.Edge
	edges = append(edges, pairEdges("a", "b", 0.9, true)...)
	edges = append(edges, pairEdges("b", "c", 0.9, true)...)
	g := buildEdgeGraph(edges)

	updates := pruneUpdates(g, []domain.PairKey{{A: "a", B: "b"}}, domain.PrunedBySparsify)
	require.Len(t, updates, 2)
	for _, u := range updates {
		assert.True(t, u.Prune)
		assert.Nil(t, u.SNN)
		assert.Equal(t, domain.PrunedBySparsify, u.PrunedBy)
	}
}

func TestLouvain_TwoCliques(t *testing.T) {
	g := newWGraph(8)
	for _, group := range [][]int{{0, 1, 2, 3}, {4, 5, 6, 7}} {
		for i := range group {
			for j := i + 1; j < len(group); j++ {
				g.addEdge(group[i], group[j], 1)
			}
		}
	}
	g.addEdge(3, 4, 0.1)

	res := louvain(g, 1.0)

	require.Len(t, res.community, 8)
	for i := 1; i < 4; i++ {
		assert.Equal(t, res.community[0], res.community[i])
		assert.Equal(t, res.community[4], res.community[4+i])
	}
	assert.NotEqual(t, res.community[0], res.community[4])
	assert.Greater(t, res.modularity, 0.4)
	assert.InDelta(t, res.modularity, modularity(g, res.community, 1.0), 1e-9)
}

func TestLouvain_Deterministic(t *testing.T) {
	build := func() *wgraph {
		g := newWGraph(6)
		g.addEdge(0, 1, 0.9)
		g.addEdge(1, 2, 0.8)
		g.addEdge(2, 0, 0.7)
		g.addEdge(3, 4, 0.9)
		g.addEdge(4, 5, 0.6)
		g.addEdge(2, 3, 0.2)
		return g
	}
	assert.Equal(t, louvain(build(), 1.0), louvain(build(), 1.0))
}

func TestLouvain_NoEdges(t *testing.T) {
	res := louvain(newWGraph(3), 1.0)
	assert.Equal(t, []int{0, 1, 2}, res.community)
	assert.Zero(t, res.modularity)
}

func TestCommunityLayout(t *testing.T) {
	// Label 7 has three members, label 2 has one; the larger group gets ID 0.
	assert.Equal(t, []int{1, 0, 0, 0}, communityLayout([]int{2, 7, 7, 7}))
	assert.Equal(t, []int{0, 1}, communityLayout([]int{5, 3}))
}

func TestCommunityLabel(t *testing.T) {
	members := []*domain.Document{
		{Tags: []string{"topic:graphs", "project:x"}},
		{Tags: []string{"topic:graphs"}},
		{Tags: []string{"project:x"}},
	}
	assert.Equal(t, "graphs", communityLabel(0, members))
	assert.Equal(t, "community-3", communityLabel(3, []*domain.Document{{}}))
}

func TestMemberConfidence(t *testing.T) {
	g := newWGraph(3)
	g.addEdge(0, 1, 3)
	g.addEdge(0, 2, 1)
	community := []int{0, 0, 1}

	assert.InDelta(t, 0.75, memberConfidence(g, community, 0), 1e-9)
	assert.Equal(t, 1.0, memberConfidence(newWGraph(1), []int{0}, 0))
}

func TestCountGraphAndSnapshot(t *testing.T) {
	var before []domain.Edge
	before = append(before, pairEdges("a", "b", 0.9, true)...)
	before = append(before, pairEdges("b", "c", 0.8, true)...)
	after := append([]domain.Edge{}, before[:2]...)
	after = append(after, pairEdges("b", "c", 0.8, false)...)
	after[0].HasSNN, after[1].HasSNN = true, true

	docs := []string{"a", "b", "c", "d"}
	b := countGraph(docs, before)
	a := countGraph(docs, after)

	assert.Equal(t, 4, b.retained)
	assert.Equal(t, 1, b.isolated)
	assert.Equal(t, 2, a.retained)
	assert.Equal(t, 2, a.isolated)
	assert.Equal(t, 1, a.retainedPairs)

	snap := buildSnapshot("run-1", "test", b, a, 2, 0.3)
	assert.Equal(t, 4, snap.EdgesBefore)
	assert.Equal(t, 2, snap.EdgesAfter)
	assert.InDelta(t, 0.5, snap.RetentionRatio, 1e-9)
	assert.InDelta(t, 0.5, snap.SNNCoverage, 1e-9)
	assert.InDelta(t, 0.5, snap.MeanDegree, 1e-9)
	assert.Equal(t, 2, snap.CommunityCount)
	assert.NotEmpty(t, snap.ID)
}

func TestDistinctCommunities(t *testing.T) {
	assert.Equal(t, 2, distinctCommunities([]domain.CommunityAssignment{
		{CommunityID: 0}, {CommunityID: 1}, {CommunityID: 0},
	}))
}
