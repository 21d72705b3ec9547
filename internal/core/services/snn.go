package services

import (
	"fmt"
	"math"
	"sort"

	"github.com/Fortemi/fortemi-sub000/internal/core/domain"
)

// snnOutcome is the result of shared-nearest-neighbour scoring.
type snnOutcome struct {
	k          int
	meanDegree float64
	scores     map[domain.PairKey]float64
	prune      []domain.PairKey
	skipReason string
}

// snnK returns clamp(round(log2(n)), kMin, kMax).
func snnK(n, kMin, kMax int) int {
	if n < 2 {
		return kMin
	}
	k := int(math.Round(math.Log2(float64(n))))
	return max(kMin, min(kMax, k))
}

// scoreSNN computes SNN = |kNN(A) ∩ kNN(B)| / k for every pair.
// Neighbourhoods are drawn from all semantic pairs, retained or not, so
// repeated runs see the same neighbourhoods. Retained pairs scoring below
// threshold are returned for pruning. Scoring is skipped on corpora with
// fewer than three documents or a mean retained degree below k.
func scoreSNN(g *edgeGraph, docCount int, settings domain.GraphSettings) snnOutcome {
	out := snnOutcome{k: snnK(docCount, settings.KMin, settings.KMax)}
	if docCount < 3 {
		out.skipReason = fmt.Sprintf("corpus too small for SNN (%d documents)", docCount)
		return out
	}

	retained := g.retainedPairs()
	out.meanDegree = 2 * float64(len(retained)) / float64(docCount)
	if out.meanDegree < float64(out.k) {
		out.skipReason = fmt.Sprintf("graph too sparse for SNN (mean degree %.2f < k=%d)", out.meanDegree, out.k)
		return out
	}

	knn := topNeighbours(g, out.k)
	out.scores = make(map[domain.PairKey]float64, len(g.keys))
	for _, key := range g.keys {
		shared := 0
		for n := range knn[key.A] {
			if knn[key.B][n] {
				shared++
			}
		}
		score := float64(shared) / float64(out.k)
		out.scores[key] = score
		if g.pairs[key].retained() && score < settings.SNNThreshold {
			out.prune = append(out.prune, key)
		}
	}
	return out
}

// topNeighbours returns each node's k strongest neighbours by raw score,
// ties broken by ID.
func topNeighbours(g *edgeGraph, k int) map[string]map[string]bool {
	out := make(map[string]map[string]bool, len(g.neighbours))
	for id, nbrs := range g.neighbours {
		ranked := make([]string, len(nbrs))
		copy(ranked, nbrs)
		sort.SliceStable(ranked, func(i, j int) bool {
			si, sj := g.pair(id, ranked[i]).score(), g.pair(id, ranked[j]).score()
			if si != sj {
				return si > sj
			}
			return ranked[i] < ranked[j]
		})
		if len(ranked) > k {
			ranked = ranked[:k]
		}
		set := make(map[string]bool, len(ranked))
		for _, n := range ranked {
			set[n] = true
		}
		out[id] = set
	}
	return out
}

// snnUpdates turns an SNN outcome into edge updates for both directions.
// Edges whose stored score already matches and that are not pruned are left alone.
func snnUpdates(g *edgeGraph, out snnOutcome) []domain.EdgeUpdate {
	prune := make(map[domain.PairKey]bool, len(out.prune))
	for _, k := range out.prune {
		prune[k] = true
	}
	var updates []domain.EdgeUpdate
	for _, key := range g.keys {
		score, ok := out.scores[key]
		if !ok {
			continue
		}
		for _, e := range g.pairs[key].edges() {
			changed := !e.HasSNN || e.SNN != score
			if !changed && !prune[key] {
				continue
			}
			u := domain.EdgeUpdate{ID: e.ID, Version: e.Version}
			if changed {
				v := score
				u.SNN = &v
			}
			if prune[key] {
				u.Prune = true
				u.PrunedBy = domain.PrunedBySNN
			}
			updates = append(updates, u)
		}
	}
	return updates
}
