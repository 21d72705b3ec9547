package services

import "github.com/Fortemi/fortemi-sub000/internal/core/domain"

// rngPrune returns the retained pairs that are redundant under the relative
// neighbourhood rule (pathfinder q=2): (A,C) is dropped when some B is a
// retained neighbour of both with max(cost(A,B), cost(B,C)) < cost(A,C),
// where cost = 1 - score. Every decision is taken against the retained set
// as it was before the stage, so the result does not depend on visiting order.
func rngPrune(g *edgeGraph) []domain.PairKey {
	adj := g.retainedNeighbours()
	var prune []domain.PairKey
	for _, p := range g.retainedPairs() {
		a, c := p.key.A, p.key.B
		direct := p.cost()
		// Iterate the smaller neighbourhood.
		from, other := adj[a], adj[c]
		if len(other) < len(from) {
			from, other = other, from
		}
		for b := range from {
			if b == a || b == c || !other[b] {
				continue
			}
			if max(g.pair(a, b).cost(), g.pair(b, c).cost()) < direct {
				prune = append(prune, p.key)
				break
			}
		}
	}
	sortPairKeys(prune)
	return prune
}

// pruneUpdates marks both directions of every listed pair as pruned.
func pruneUpdates(g *edgeGraph, keys []domain.PairKey, stage string) []domain.EdgeUpdate {
	updates := make([]domain.EdgeUpdate, 0, 2*len(keys))
	for _, key := range keys {
		for _, e := range g.pairs[key].edges() {
			if !e.Retained {
				continue
			}
			updates = append(updates, domain.EdgeUpdate{
				ID:       e.ID,
				Version:  e.Version,
				Prune:    true,
				PrunedBy: stage,
			})
		}
	}
	return updates
}
