package services

import (
	"time"

	"github.com/google/uuid"

	"github.com/Fortemi/fortemi-sub000/internal/core/domain"
)

// graphCounts summarises the edge set at a point in time.
type graphCounts struct {
	documents     int
	semantic      int
	retained      int
	withSNN       int
	isolated      int
	retainedPairs int
}

// countGraph tallies semantic edges and documents with no retained edge.
func countGraph(docIDs []string, edges []domain.Edge) graphCounts {
	c := graphCounts{documents: len(docIDs)}
	connected := make(map[string]bool)
	for _, e := range edges {
		if e.Retained {
			connected[e.Source] = true
			connected[e.Target] = true
		}
		if e.Kind != domain.EdgeSemantic {
			continue
		}
		c.semantic++
		if e.HasSNN {
			c.withSNN++
		}
		if e.Retained {
			c.retained++
		}
	}
	c.retainedPairs = c.retained / 2
	for _, id := range docIDs {
		if !connected[id] {
			c.isolated++
		}
	}
	return c
}

// buildSnapshot assembles a diagnostics snapshot from before and after counts.
func buildSnapshot(runID, label string, before, after graphCounts, communities int, modularity float64) domain.DiagnosticsSnapshot {
	snap := domain.DiagnosticsSnapshot{
		ID:             uuid.New().String(),
		RunID:          runID,
		Label:          label,
		CapturedAt:     time.Now(),
		DocumentCount:  after.documents,
		EdgesBefore:    before.retained,
		EdgesAfter:     after.retained,
		CommunityCount: communities,
		IsolatedCount:  after.isolated,
		Modularity:     modularity,
		RetentionRatio: 1.0,
	}
	if after.documents > 0 {
		snap.MeanDegree = float64(after.retained) / float64(after.documents)
	}
	if after.semantic > 0 {
		snap.SNNCoverage = float64(after.withSNN) / float64(after.semantic)
	}
	if before.retained > 0 {
		snap.RetentionRatio = float64(after.retained) / float64(before.retained)
	}
	return snap
}

// distinctCommunities counts community IDs in an assignment set.
func distinctCommunities(assignments []domain.CommunityAssignment) int {
	seen := make(map[int]bool)
	for _, a := range assignments {
		seen[a.CommunityID] = true
	}
	return len(seen)
}
