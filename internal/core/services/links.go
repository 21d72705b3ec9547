package services

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/Fortemi/fortemi-sub000/internal/core/domain"
	"github.com/Fortemi/fortemi-sub000/internal/core/ports/driven"
	"github.com/Fortemi/fortemi-sub000/internal/core/ports/driving"
	"github.com/Fortemi/fortemi-sub000/internal/logger"
)

// Ensure LinkService implements the interface.
var _ driving.LinkService = (*LinkService)(nil)

// minCandidatePool is the smallest ANN candidate set requested per document.
const minCandidatePool = 32

// LinkService builds diverse reciprocal similarity links.
type LinkService struct {
	docStore    driven.DocumentStore
	vectorIndex driven.VectorIndex
	edgeStore   driven.EdgeStore
	locks       *keyedMutex

	mu       sync.RWMutex
	settings domain.LinkSettings
}

// NewLinkService creates a new link service.
func NewLinkService(
	docStore driven.DocumentStore,
	vectorIndex driven.VectorIndex,
	edgeStore driven.EdgeStore,
	settings domain.LinkSettings,
) *LinkService {
	return &LinkService{
		docStore:    docStore,
		vectorIndex: vectorIndex,
		edgeStore:   edgeStore,
		locks:       newKeyedMutex(),
		settings:    settings,
	}
}

// UpdateSettings swaps the linking parameters used by later calls.
func (s *LinkService) UpdateSettings(settings domain.LinkSettings) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.settings = settings
}

func (s *LinkService) current() domain.LinkSettings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.settings
}

// linkCandidate is a potential neighbour with its scores.
type linkCandidate struct {
	doc        *domain.Document
	similarity float64
	blended    float64
}

// CreateLinks selects up to K diverse neighbours and stores reciprocal edges.
func (s *LinkService) CreateLinks(ctx context.Context, documentID string) ([]domain.Edge, error) {
	if documentID == "" {
		return nil, fmt.Errorf("%w: document id required", domain.ErrInvalidInput)
	}
	if s.vectorIndex == nil {
		return nil, fmt.Errorf("create links: %w", domain.ErrVectorIndexUnavailable)
	}

	unlock := s.locks.Lock(documentID)
	defer unlock()

	settings := s.current()
	doc, err := s.docStore.GetDocument(ctx, documentID)
	if err != nil {
		return nil, fmt.Errorf("get document: %w", err)
	}
	if !doc.HasEmbedding() {
		return nil, fmt.Errorf("create links for %s: %w", documentID, domain.ErrEmbeddingUnavailable)
	}

	candidates, err := s.candidates(ctx, doc, settings)
	if err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		logger.Debug("No link candidates for %s", documentID)
		return []domain.Edge{}, nil
	}

	accepted := selectDiverse(candidates, settings.SimilarityFloor, settings.K)
	strategy := domain.LinkStrategyDiverse
	if len(accepted) == 0 && settings.IsolationFallback {
		accepted = candidates[:1]
		strategy = domain.LinkStrategyFallback
		logger.Info("No candidate above floor %.2f for %s, linking best match %s (%.3f)",
			settings.SimilarityFloor, documentID, candidates[0].doc.ID, candidates[0].blended)
	}
	if len(accepted) == 0 {
		return []domain.Edge{}, nil
	}

	edges := make([]domain.Edge, len(accepted))
	for i, c := range accepted {
		edges[i] = domain.Edge{
			Source:   documentID,
			Target:   c.doc.ID,
			Kind:     domain.EdgeSemantic,
			Score:    c.blended,
			Rank:     i + 1,
			Retained: true,
			Metadata: domain.EdgeMetadata{
				Strategy:  strategy,
				K:         settings.K,
				TagWeight: effectiveTagWeight(doc, c.doc, settings.TagWeight),
			},
		}
	}

	stored, err := s.edgeStore.InsertReciprocal(ctx, documentID, edges)
	if err != nil {
		return nil, fmt.Errorf("store edges: %w", err)
	}
	logger.Debug("Linked %s to %d neighbours (%s)", documentID, len(stored), strategy)
	return stored, nil
}

// candidates fetches ANN neighbours and scores them, best first.
func (s *LinkService) candidates(
	ctx context.Context, doc *domain.Document, settings domain.LinkSettings,
) ([]linkCandidate, error) {
	pool := settings.CandidatePool
	if pool <= 0 {
		pool = max(settings.K*4, minCandidatePool)
	}

	hits, err := s.vectorIndex.Neighbors(ctx, doc.ID, pool)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrVectorIndexUnavailable, err)
	}

	ids := make([]string, 0, len(hits))
	similarity := make(map[string]float64, len(hits))
	for _, h := range hits {
		if h.DocumentID == doc.ID {
			continue
		}
		if _, dup := similarity[h.DocumentID]; dup {
			continue
		}
		similarity[h.DocumentID] = h.Similarity
		ids = append(ids, h.DocumentID)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	docs, err := s.docStore.GetDocuments(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("load candidates: %w", err)
	}

	out := make([]linkCandidate, 0, len(docs))
	for i := range docs {
		c := &docs[i]
		sim := similarity[c.ID]
		tw := effectiveTagWeight(doc, c, settings.TagWeight)
		out = append(out, linkCandidate{
			doc:        c,
			similarity: sim,
			blended:    sim*(1-tw) + domain.TagJaccard(doc.Tags, c.Tags)*tw,
		})
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].blended != out[j].blended {
			return out[i].blended > out[j].blended
		}
		return out[i].doc.ID < out[j].doc.ID
	})
	return out, nil
}

// effectiveTagWeight is zero when either side is untagged so untagged pairs
// keep their pure embedding similarity.
func effectiveTagWeight(a, b *domain.Document, tagWeight float64) float64 {
	if len(a.Tags) == 0 || len(b.Tags) == 0 {
		return 0
	}
	return tagWeight
}

// selectDiverse walks candidates in score order and accepts one only if it
// is strictly closer to the source than to every neighbour already accepted.
// Candidates below the floor are never accepted.
func selectDiverse(candidates []linkCandidate, floor float64, k int) []linkCandidate {
	if k <= 0 {
		return nil
	}
	var accepted []linkCandidate
	for _, c := range candidates {
		if c.blended < floor {
			continue
		}
		diverse := true
		for _, a := range accepted {
			if cosineSimilarity(c.doc.Embedding, a.doc.Embedding) >= c.similarity {
				diverse = false
				break
			}
		}
		if !diverse {
			continue
		}
		accepted = append(accepted, c)
		if len(accepted) == k {
			break
		}
	}
	return accepted
}

// CreateLinksBatch links documents concurrently up to the configured cap.
// Documents without embeddings are skipped.
func (s *LinkService) CreateLinksBatch(ctx context.Context, documentIDs []string) (int, error) {
	if len(documentIDs) == 0 {
		return 0, nil
	}
	settings := s.current()

	var created atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(1, settings.Concurrency))
	for _, id := range documentIDs {
		g.Go(func() error {
			edges, err := s.CreateLinks(gctx, id)
			if errors.Is(err, domain.ErrEmbeddingUnavailable) {
				logger.Warn("Skipping links for %s: %v", id, err)
				return nil
			}
			if err != nil {
				return fmt.Errorf("link %s: %w", id, err)
			}
			created.Add(int64(len(edges)))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return int(created.Load()), err
	}
	return int(created.Load()), nil
}

// AddExplicitLink records a directional user link.
func (s *LinkService) AddExplicitLink(ctx context.Context, source, target string) (*domain.Edge, error) {
	if source == "" || target == "" || source == target {
		return nil, fmt.Errorf("%w: explicit link needs two distinct documents", domain.ErrInvalidInput)
	}
	for _, id := range []string{source, target} {
		if _, err := s.docStore.GetDocument(ctx, id); err != nil {
			return nil, fmt.Errorf("get document %s: %w", id, err)
		}
	}

	edge := &domain.Edge{
		Source:   source,
		Target:   target,
		Kind:     domain.EdgeExplicit,
		Score:    1.0,
		Retained: true,
		Metadata: domain.EdgeMetadata{Strategy: domain.LinkStrategyExplicit},
	}
	if err := s.edgeStore.InsertExplicit(ctx, edge); err != nil {
		return nil, fmt.Errorf("store explicit link: %w", err)
	}
	return edge, nil
}

// cosineSimilarity returns the cosine of the angle between two vectors.
// Mismatched or zero vectors yield 0.
func cosineSimilarity(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
