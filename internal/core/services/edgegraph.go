package services

import (
	"fmt"
	"math"
	"sort"

	"github.com/Fortemi/fortemi-sub000/internal/core/domain"
)

// reciprocityTolerance is the largest score difference accepted between
// the two directions of a semantic pair.
const reciprocityTolerance = 1e-9

// edgePair is a reciprocal semantic edge pair.
type edgePair struct {
	key      domain.PairKey
	forward  domain.Edge // A -> B
	backward domain.Edge // B -> A
}

func (p *edgePair) score() float64 { return p.forward.Score }

func (p *edgePair) cost() float64 { return 1 - p.forward.Score }

func (p *edgePair) retained() bool { return p.forward.Retained && p.backward.Retained }

func (p *edgePair) edges() [2]domain.Edge { return [2]domain.Edge{p.forward, p.backward} }

// edgeGraph indexes reciprocal semantic pairs by endpoint.
type edgeGraph struct {
	pairs      map[domain.PairKey]*edgePair
	keys       []domain.PairKey
	neighbours map[string][]string
	asymmetric []domain.PairKey
}

// buildEdgeGraph groups semantic edges into reciprocal pairs.
// Pairs missing a direction or whose directions disagree on score are
// reported in asymmetric and left out of the graph.
func buildEdgeGraph(edges []domain.Edge) *edgeGraph {
	type halves struct {
		fwd, bwd *domain.Edge
		extra    bool
	}
	byKey := make(map[domain.PairKey]*halves)
	for i := range edges {
		e := &edges[i]
		if e.Kind != domain.EdgeSemantic || e.Source == e.Target {
			continue
		}
		key := e.PairKey()
		h, ok := byKey[key]
		if !ok {
			h = &halves{}
			byKey[key] = h
		}
		if e.Source == key.A {
			if h.fwd != nil {
				h.extra = true
			}
			h.fwd = e
		} else {
			if h.bwd != nil {
				h.extra = true
			}
			h.bwd = e
		}
	}

	g := &edgeGraph{
		pairs:      make(map[domain.PairKey]*edgePair, len(byKey)),
		neighbours: make(map[string][]string),
	}
	for key, h := range byKey {
		if h.fwd == nil || h.bwd == nil || h.extra ||
			math.Abs(h.fwd.Score-h.bwd.Score) > reciprocityTolerance {
			g.asymmetric = append(g.asymmetric, key)
			continue
		}
		g.pairs[key] = &edgePair{key: key, forward: *h.fwd, backward: *h.bwd}
		g.keys = append(g.keys, key)
		g.neighbours[key.A] = append(g.neighbours[key.A], key.B)
		g.neighbours[key.B] = append(g.neighbours[key.B], key.A)
	}
	sortPairKeys(g.keys)
	sortPairKeys(g.asymmetric)
	for id := range g.neighbours {
		sort.Strings(g.neighbours[id])
	}
	return g
}

// invariantError describes asymmetric pairs, or nil when there are none.
func (g *edgeGraph) invariantError() error {
	if len(g.asymmetric) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %d asymmetric semantic pairs, first %s<->%s",
		domain.ErrGraphInvariant, len(g.asymmetric), g.asymmetric[0].A, g.asymmetric[0].B)
}

func (g *edgeGraph) pair(a, b string) *edgePair {
	return g.pairs[domain.NewPairKey(a, b)]
}

// retainedPairs returns the pairs still retained, in key order.
func (g *edgeGraph) retainedPairs() []*edgePair {
	out := make([]*edgePair, 0, len(g.keys))
	for _, k := range g.keys {
		if p := g.pairs[k]; p.retained() {
			out = append(out, p)
		}
	}
	return out
}

// retainedNeighbours returns the set of retained neighbours of each node.
func (g *edgeGraph) retainedNeighbours() map[string]map[string]bool {
	out := make(map[string]map[string]bool)
	for _, p := range g.retainedPairs() {
		if out[p.key.A] == nil {
			out[p.key.A] = make(map[string]bool)
		}
		if out[p.key.B] == nil {
			out[p.key.B] = make(map[string]bool)
		}
		out[p.key.A][p.key.B] = true
		out[p.key.B][p.key.A] = true
	}
	return out
}

func sortPairKeys(keys []domain.PairKey) {
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].A != keys[j].A {
			return keys[i].A < keys[j].A
		}
		return keys[i].B < keys[j].B
	})
}

// scoreRangeOf returns the min and max score over edges.
// ok is false when there are no edges.
func scoreRangeOf(edges []domain.Edge) (lo, hi float64, ok bool) {
	for i, e := range edges {
		if i == 0 {
			lo, hi = e.Score, e.Score
			continue
		}
		lo = math.Min(lo, e.Score)
		hi = math.Max(hi, e.Score)
	}
	return lo, hi, len(edges) > 0
}
