package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/Fortemi/fortemi-sub000/internal/core/domain"
	"github.com/Fortemi/fortemi-sub000/internal/core/ports/driven"
	"github.com/Fortemi/fortemi-sub000/internal/core/ports/driving"
	"github.com/Fortemi/fortemi-sub000/internal/logger"
)

// Ensure GraphService implements the interface.
var _ driving.GraphService = (*GraphService)(nil)

// GraphService serves bounded views of the similarity graph.
type GraphService struct {
	docStore         driven.DocumentStore
	edgeStore        driven.EdgeStore
	communityStore   driven.CommunityStore
	diagnosticsStore driven.DiagnosticsStore

	mu    sync.RWMutex
	gamma float64
}

// NewGraphService creates a new graph service.
func NewGraphService(
	docStore driven.DocumentStore,
	edgeStore driven.EdgeStore,
	communityStore driven.CommunityStore,
	diagnosticsStore driven.DiagnosticsStore,
	settings domain.GraphSettings,
) *GraphService {
	return &GraphService{
		docStore:         docStore,
		edgeStore:        edgeStore,
		communityStore:   communityStore,
		diagnosticsStore: diagnosticsStore,
		gamma:            settings.Gamma,
	}
}

// UpdateSettings swaps the normalization contrast used by later views.
func (s *GraphService) UpdateSettings(settings domain.GraphSettings) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gamma = settings.Gamma
}

// clampLimits resolves requested limits into the supported ranges.
func clampLimits(opts domain.GraphViewOptions) (requested, effective domain.GraphLimits) {
	requested = domain.GraphLimits{
		Depth:           opts.Depth,
		MaxNodes:        opts.MaxNodes,
		MinScore:        opts.MinScore,
		MaxEdgesPerNode: opts.MaxEdgesPerNode,
	}
	effective = domain.GraphLimits{
		Depth:           clampInt(opts.Depth, domain.GraphDefaultDepth, domain.GraphMinDepth, domain.GraphMaxDepth),
		MaxNodes:        clampInt(opts.MaxNodes, domain.GraphDefaultMaxNodes, 1, domain.GraphMaxNodes),
		MinScore:        clamp01(opts.MinScore),
		MaxEdgesPerNode: clampInt(opts.MaxEdgesPerNode, domain.GraphDefaultEdgesPerNode, 1, domain.GraphMaxEdgesPerNode),
	}
	return requested, effective
}

// clampInt substitutes def for non-positive values, then clamps to [lo, hi].
func clampInt(v, def, lo, hi int) int {
	if v <= 0 {
		v = def
	}
	return max(lo, min(hi, v))
}

// View expands breadth-first from a document over retained edges.
func (s *GraphService) View(
	ctx context.Context, documentID string, opts domain.GraphViewOptions,
) (*domain.GraphView, error) {
	requested, limits := clampLimits(opts)
	logger.Debug("Graph view %s: requested=%+v effective=%+v", documentID, requested, limits)

	if _, err := s.docStore.GetDocument(ctx, documentID); err != nil {
		return nil, fmt.Errorf("get document: %w", err)
	}

	rng, err := s.scoreRange(ctx)
	if err != nil {
		return nil, err
	}

	depthOf := map[string]int{documentID: 0}
	order := []string{documentID}
	reasons := make(map[string]bool)
	seenPairs := make(map[domain.PairKey]bool)
	seenEdges := make(map[string]bool)
	var edges []domain.GraphEdge

	for queue := []string{documentID}; len(queue) > 0; queue = queue[1:] {
		id := queue[0]
		depth := depthOf[id]

		out, err := s.edgeStore.EdgesFor(ctx, id, domain.EdgeQuery{RetainedOnly: true})
		if err != nil {
			return nil, fmt.Errorf("edges for %s: %w", id, err)
		}

		kept := make([]domain.Edge, 0, len(out))
		for _, e := range out {
			if normalizedScore(e, rng) >= limits.MinScore {
				kept = append(kept, e)
			}
		}
		if depth == limits.Depth {
			// Frontier: only close edges between nodes already in view.
			for _, e := range kept {
				if _, in := depthOf[e.Target]; !in {
					reasons[domain.TruncatedDepth] = true
				}
			}
		}
		if len(kept) > limits.MaxEdgesPerNode {
			kept = kept[:limits.MaxEdgesPerNode]
			reasons[domain.TruncatedMaxEdgesPerNode] = true
		}

		for _, e := range kept {
			if _, in := depthOf[e.Target]; !in {
				if depth == limits.Depth {
					continue
				}
				if len(order) >= limits.MaxNodes {
					reasons[domain.TruncatedMaxNodes] = true
					continue
				}
				depthOf[e.Target] = depth + 1
				order = append(order, e.Target)
				queue = append(queue, e.Target)
			}

			if e.Kind == domain.EdgeSemantic {
				if seenPairs[e.PairKey()] {
					continue
				}
				seenPairs[e.PairKey()] = true
			} else {
				if seenEdges[e.ID] {
					continue
				}
				seenEdges[e.ID] = true
			}
			edges = append(edges, toGraphEdge(e, rng))
		}
	}

	nodes, err := s.hydrateNodes(ctx, order, depthOf)
	if err != nil {
		return nil, err
	}
	if edges == nil {
		edges = []domain.GraphEdge{}
	}

	truncation := make([]string, 0, len(reasons))
	for r := range reasons {
		truncation = append(truncation, r)
	}
	sort.Strings(truncation)

	return &domain.GraphView{
		Nodes: nodes,
		Edges: edges,
		Meta: domain.GraphMeta{
			SchemaVersion:     domain.GraphViewSchemaVersion,
			Root:              documentID,
			Effective:         limits,
			Requested:         requested,
			Truncated:         len(truncation) > 0,
			TruncationReasons: truncation,
			NodeCount:         len(nodes),
			EdgeCount:         len(edges),
			Gamma:             rng.Gamma,
		},
	}, nil
}

// scoreRange derives the normalization range from retained semantic edges.
func (s *GraphService) scoreRange(ctx context.Context) (ScoreRange, error) {
	s.mu.RLock()
	gamma := s.gamma
	s.mu.RUnlock()

	edges, err := s.edgeStore.ListEdges(ctx, domain.EdgeQuery{Kind: domain.EdgeSemantic, RetainedOnly: true})
	if err != nil {
		return ScoreRange{}, fmt.Errorf("list edges: %w", err)
	}
	lo, hi, _ := scoreRangeOf(edges)
	return ScoreRange{Min: lo, Max: hi, Gamma: gamma}, nil
}

// normalizedScore normalizes semantic scores; explicit links keep their own.
func normalizedScore(e domain.Edge, rng ScoreRange) float64 {
	if e.Kind != domain.EdgeSemantic {
		return clamp01(e.Score)
	}
	return rng.Normalize(e.Score)
}

func toGraphEdge(e domain.Edge, rng ScoreRange) domain.GraphEdge {
	ge := domain.GraphEdge{
		Source:     e.Source,
		Target:     e.Target,
		Kind:       e.Kind,
		Score:      e.Score,
		Normalized: normalizedScore(e, rng),
	}
	if e.HasSNN {
		v := e.SNN
		ge.SNN = &v
	}
	return ge
}

func (s *GraphService) hydrateNodes(
	ctx context.Context, order []string, depthOf map[string]int,
) ([]domain.GraphNode, error) {
	docs, err := s.docStore.GetDocuments(ctx, order)
	if err != nil {
		return nil, fmt.Errorf("load documents: %w", err)
	}
	byID := make(map[string]*domain.Document, len(docs))
	for i := range docs {
		byID[docs[i].ID] = &docs[i]
	}

	nodes := make([]domain.GraphNode, 0, len(order))
	for _, id := range order {
		node := domain.GraphNode{ID: id, Depth: depthOf[id]}
		if doc, ok := byID[id]; ok {
			node.Title = doc.Title
			node.Tags = doc.Tags
		}
		if s.communityStore != nil {
			a, err := s.communityStore.CommunityFor(ctx, id)
			switch {
			case err == nil:
				cid := a.CommunityID
				node.CommunityID = &cid
				node.CommunityLabel = a.Label
			case !errors.Is(err, domain.ErrNotFound):
				return nil, fmt.Errorf("community for %s: %w", id, err)
			}
		}
		nodes = append(nodes, node)
	}
	return nodes, nil
}

// Communities returns the current community assignments.
func (s *GraphService) Communities(ctx context.Context) ([]domain.CommunityAssignment, error) {
	return s.communityStore.ListCommunities(ctx)
}

// Snapshots returns recent diagnostics snapshots, newest first.
func (s *GraphService) Snapshots(ctx context.Context, limit int) ([]domain.DiagnosticsSnapshot, error) {
	if limit <= 0 {
		limit = defaultRunListLimit
	}
	return s.diagnosticsStore.ListSnapshots(ctx, limit)
}
