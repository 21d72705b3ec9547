package services

import (
	"fmt"
	"sort"

	"github.com/Fortemi/fortemi-sub000/internal/core/domain"
)

// Louvain limits.
const (
	// louvainMaxPasses caps local-move passes per level.
	louvainMaxPasses = 20

	// louvainMaxLevels caps aggregation levels.
	louvainMaxLevels = 20

	// louvainMinGain is the smallest modularity gain that justifies a move.
	louvainMinGain = 1e-12
)

// wedge is a weighted edge in the in-memory adjacency list.
type wedge struct {
	to     int
	weight float64
}

// wgraph is an undirected weighted graph over dense node indices.
// selfLoop[i] holds A_ii; strength[i] is the weighted degree including it.
type wgraph struct {
	adj      [][]wedge
	selfLoop []float64
	strength []float64
	m2       float64
}

func newWGraph(n int) *wgraph {
	return &wgraph{
		adj:      make([][]wedge, n),
		selfLoop: make([]float64, n),
		strength: make([]float64, n),
	}
}

func (g *wgraph) addEdge(a, b int, w float64) {
	if a == b {
		g.selfLoop[a] += w
		g.strength[a] += w
		g.m2 += w
		return
	}
	g.adj[a] = append(g.adj[a], wedge{to: b, weight: w})
	g.adj[b] = append(g.adj[b], wedge{to: a, weight: w})
	g.strength[a] += w
	g.strength[b] += w
	g.m2 += 2 * w
}

// louvainResult is a community partition over the input nodes.
type louvainResult struct {
	community  []int
	levels     int
	modularity float64
}

// louvain partitions g by modularity optimisation with the given resolution.
// Nodes are visited in index order and candidate communities in ascending
// order, so identical input yields identical output.
func louvain(g *wgraph, resolution float64) louvainResult {
	n := len(g.adj)
	membership := make([]int, n)
	for i := range membership {
		membership[i] = i
	}
	if n == 0 || g.m2 == 0 {
		return louvainResult{community: membership}
	}

	level := g
	levels := 0
	for levels < louvainMaxLevels {
		community, moved := localMoves(level, resolution)
		if !moved {
			break
		}
		levels++
		dense, count := renumber(community)
		for i := range membership {
			membership[i] = dense[membership[i]]
		}
		if count == len(level.adj) {
			break
		}
		level = aggregate(level, dense, count)
	}

	return louvainResult{
		community:  membership,
		levels:     levels,
		modularity: modularity(g, membership, resolution),
	}
}

// localMoves repeatedly moves nodes to the neighbouring community with the
// best modularity gain until no move improves it.
func localMoves(g *wgraph, resolution float64) ([]int, bool) {
	n := len(g.adj)
	community := make([]int, n)
	commStrength := make([]float64, n)
	for i := range community {
		community[i] = i
		commStrength[i] = g.strength[i]
	}

	anyMove := false
	for pass := 0; pass < louvainMaxPasses; pass++ {
		moved := false
		for i := 0; i < n; i++ {
			ki := g.strength[i]
			if ki == 0 {
				continue
			}

			commWeights := make(map[int]float64)
			for _, e := range g.adj[i] {
				commWeights[community[e.to]] += e.weight
			}

			current := community[i]
			commStrength[current] -= ki

			best := current
			bestGain := commWeights[current] - resolution*commStrength[current]*ki/g.m2

			candidates := make([]int, 0, len(commWeights))
			for c := range commWeights {
				candidates = append(candidates, c)
			}
			sort.Ints(candidates)
			for _, c := range candidates {
				if c == current {
					continue
				}
				gain := commWeights[c] - resolution*commStrength[c]*ki/g.m2
				if gain > bestGain+louvainMinGain {
					best = c
					bestGain = gain
				}
			}

			commStrength[best] += ki
			if best != current {
				community[i] = best
				moved = true
			}
		}
		if !moved {
			break
		}
		anyMove = true
	}
	return community, anyMove
}

// renumber maps community labels to 0..count-1 in order of first appearance.
func renumber(community []int) ([]int, int) {
	index := make(map[int]int)
	dense := make([]int, len(community))
	for i, c := range community {
		id, ok := index[c]
		if !ok {
			id = len(index)
			index[c] = id
		}
		dense[i] = id
	}
	return dense, len(index)
}

// aggregate collapses each community into a single node.
func aggregate(g *wgraph, community []int, count int) *wgraph {
	weights := make([]map[int]float64, count)
	for i := range weights {
		weights[i] = make(map[int]float64)
	}
	for i := range g.adj {
		ci := community[i]
		weights[ci][ci] += g.selfLoop[i]
		for _, e := range g.adj[i] {
			// Each undirected edge is seen from both ends; keep one.
			if e.to < i {
				continue
			}
			cj := community[e.to]
			if ci == cj {
				weights[ci][ci] += 2 * e.weight
			} else {
				weights[ci][cj] += e.weight
			}
		}
	}

	out := newWGraph(count)
	for c := 0; c < count; c++ {
		targets := make([]int, 0, len(weights[c]))
		for t := range weights[c] {
			targets = append(targets, t)
		}
		sort.Ints(targets)
		for _, t := range targets {
			out.addEdge(c, t, weights[c][t])
		}
	}
	return out
}

// modularity computes Q = Σ_c [in_c/2m - γ(tot_c/2m)²] over the original graph.
func modularity(g *wgraph, community []int, resolution float64) float64 {
	if g.m2 == 0 {
		return 0
	}
	in := make(map[int]float64)
	tot := make(map[int]float64)
	for i := range g.adj {
		c := community[i]
		tot[c] += g.strength[i]
		in[c] += g.selfLoop[i]
		for _, e := range g.adj[i] {
			if community[e.to] == c {
				in[c] += e.weight
			}
		}
	}
	q := 0.0
	for c, t := range tot {
		q += in[c]/g.m2 - resolution*(t/g.m2)*(t/g.m2)
	}
	return q
}

// communityLayout assigns dense community IDs ordered by descending size,
// then by smallest member index.
func communityLayout(membership []int) []int {
	type group struct {
		label, size, first int
	}
	groups := make(map[int]*group)
	for i, c := range membership {
		g, ok := groups[c]
		if !ok {
			g = &group{label: c, first: i}
			groups[c] = g
		}
		g.size++
	}
	ordered := make([]*group, 0, len(groups))
	for _, g := range groups {
		ordered = append(ordered, g)
	}
	sort.Slice(ordered, func(i, j int) bool {
		if ordered[i].size != ordered[j].size {
			return ordered[i].size > ordered[j].size
		}
		return ordered[i].first < ordered[j].first
	})
	id := make(map[int]int, len(ordered))
	for i, g := range ordered {
		id[g.label] = i
	}
	out := make([]int, len(membership))
	for i, c := range membership {
		out[i] = id[c]
	}
	return out
}

// communityLabel returns the most frequent tag notation among members,
// ties broken lexicographically, or "community-<id>" when none are tagged.
func communityLabel(id int, members []*domain.Document) string {
	counts := make(map[string]int)
	for _, d := range members {
		for _, t := range domain.ParseTags(d.Tags) {
			counts[t.Notation]++
		}
	}
	best, bestCount := "", 0
	for notation, c := range counts {
		if c > bestCount || (c == bestCount && notation < best) {
			best, bestCount = notation, c
		}
	}
	if best == "" {
		return fmt.Sprintf("community-%d", id)
	}
	return best
}

// memberConfidence is the share of a node's weight that stays inside its
// community. Isolated nodes are fully confident.
func memberConfidence(g *wgraph, community []int, i int) float64 {
	if g.strength[i] == 0 {
		return 1.0
	}
	inside := g.selfLoop[i]
	for _, e := range g.adj[i] {
		if community[e.to] == community[i] {
			inside += e.weight
		}
	}
	return inside / g.strength[i]
}
