package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Fortemi/fortemi-sub000/internal/core/domain"
	"github.com/Fortemi/fortemi-sub000/internal/core/ports/driven"
)

// Ensure EdgeStore implements the interface.
var _ driven.EdgeStore = (*EdgeStore)(nil)

// edgeKey identifies a directed edge of one kind.
type edgeKey struct {
	source, target string
	kind           domain.EdgeKind
}

// EdgeStore is an in-memory implementation of driven.EdgeStore.
// Every mutation holds the write lock, which makes batches atomic.
type EdgeStore struct {
	mu    sync.RWMutex
	edges map[string]*domain.Edge
	keys  map[edgeKey]string
}

// NewEdgeStore creates a new in-memory edge store.
func NewEdgeStore() *EdgeStore {
	return &EdgeStore{
		edges: make(map[string]*domain.Edge),
		keys:  make(map[edgeKey]string),
	}
}

// InsertReciprocal writes each semantic edge together with its reverse.
func (s *EdgeStore) InsertReciprocal(_ context.Context, source string, edges []domain.Edge) ([]domain.Edge, error) {
	for i := range edges {
		if edges[i].Target == "" || edges[i].Target == source {
			return nil, fmt.Errorf("%w: invalid edge target %q", domain.ErrInvalidInput, edges[i].Target)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	touched := map[string]bool{source: true}
	forward := make([]*domain.Edge, 0, len(edges))
	for _, e := range edges {
		forward = append(forward, s.upsertSemantic(source, e.Target, e.ID, e.Score, e.Metadata, now))
		s.upsertSemantic(e.Target, source, "", e.Score, e.Metadata, now)
		touched[e.Target] = true
	}

	// Ranks always follow score order within a source's outgoing list.
	for id := range touched {
		s.rerank(id)
	}

	stored := make([]domain.Edge, len(forward))
	for i, e := range forward {
		stored[i] = *e
	}
	return stored, nil
}

// upsertSemantic creates or refreshes one direction. Existing edges keep
// their pruning state and SNN score.
func (s *EdgeStore) upsertSemantic(
	source, target, id string,
	score float64,
	meta domain.EdgeMetadata,
	now time.Time,
) *domain.Edge {
	key := edgeKey{source, target, domain.EdgeSemantic}
	if existingID, ok := s.keys[key]; ok {
		e := s.edges[existingID]
		e.Score = score
		e.Metadata = meta
		e.Version++
		e.UpdatedAt = now
		return e
	}

	if id == "" {
		id = uuid.New().String()
	}
	e := &domain.Edge{
		ID:        id,
		Source:    source,
		Target:    target,
		Kind:      domain.EdgeSemantic,
		Score:     score,
		Retained:  true,
		Metadata:  meta,
		Version:   1,
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.edges[id] = e
	s.keys[key] = id
	return e
}

// rerank numbers a document's outgoing semantic edges by score.
func (s *EdgeStore) rerank(source string) {
	var out []*domain.Edge
	for _, e := range s.edges {
		if e.Source == source && e.Kind == domain.EdgeSemantic {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].Target < out[j].Target
	})
	for i, e := range out {
		e.Rank = i + 1
	}
}

// InsertExplicit writes a single directional explicit edge.
func (s *EdgeStore) InsertExplicit(_ context.Context, edge *domain.Edge) error {
	if edge == nil || edge.Source == "" || edge.Target == "" || edge.Source == edge.Target {
		return fmt.Errorf("%w: invalid explicit edge", domain.ErrInvalidInput)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	key := edgeKey{edge.Source, edge.Target, domain.EdgeExplicit}
	if existingID, ok := s.keys[key]; ok {
		e := s.edges[existingID]
		e.Score = edge.Score
		e.Metadata = edge.Metadata
		e.Version++
		e.UpdatedAt = now
		*edge = *e
		return nil
	}

	e := *edge
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	e.Kind = domain.EdgeExplicit
	e.Retained = true
	e.Version = 1
	e.CreatedAt = now
	e.UpdatedAt = now
	s.edges[e.ID] = &e
	s.keys[key] = e.ID
	*edge = e
	return nil
}

func matches(e *domain.Edge, q domain.EdgeQuery) bool {
	if q.Kind != "" && e.Kind != q.Kind {
		return false
	}
	if q.RetainedOnly && !e.Retained {
		return false
	}
	return true
}

// ListEdges returns matching edges ordered by source then rank.
func (s *EdgeStore) ListEdges(_ context.Context, q domain.EdgeQuery) ([]domain.Edge, error) {
	s.mu.RLock()
	result := make([]domain.Edge, 0, len(s.edges))
	for _, e := range s.edges {
		if matches(e, q) {
			result = append(result, *e)
		}
	}
	s.mu.RUnlock()

	sort.Slice(result, func(i, j int) bool {
		a, b := result[i], result[j]
		if a.Source != b.Source {
			return a.Source < b.Source
		}
		if a.Rank != b.Rank {
			return a.Rank < b.Rank
		}
		if a.Target != b.Target {
			return a.Target < b.Target
		}
		return a.Kind < b.Kind
	})
	return result, nil
}

// EdgesFor returns a document's outgoing edges ordered by score descending.
func (s *EdgeStore) EdgesFor(_ context.Context, documentID string, q domain.EdgeQuery) ([]domain.Edge, error) {
	s.mu.RLock()
	var result []domain.Edge
	for _, e := range s.edges {
		if e.Source == documentID && matches(e, q) {
			result = append(result, *e)
		}
	}
	s.mu.RUnlock()

	sort.Slice(result, func(i, j int) bool {
		if result[i].Score != result[j].Score {
			return result[i].Score > result[j].Score
		}
		return result[i].Target < result[j].Target
	})
	return result, nil
}

// ApplyEdgeUpdates applies a version-checked batch atomically.
func (s *EdgeStore) ApplyEdgeUpdates(_ context.Context, updates []domain.EdgeUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, u := range updates {
		e, ok := s.edges[u.ID]
		if !ok {
			return fmt.Errorf("%w: edge %s no longer exists", domain.ErrConflict, u.ID)
		}
		if e.Version != u.Version {
			return fmt.Errorf("%w: edge %s at version %d, expected %d", domain.ErrConflict, u.ID, e.Version, u.Version)
		}
	}

	now := time.Now()
	for _, u := range updates {
		e := s.edges[u.ID]
		if u.SNN != nil {
			e.SNN = *u.SNN
			e.HasSNN = true
		}
		if u.Prune {
			e.Retained = false
			e.PrunedBy = u.PrunedBy
		}
		e.Version++
		e.UpdatedAt = now
	}
	return nil
}

// DeleteForDocument removes every edge touching the document.
func (s *EdgeStore) DeleteForDocument(_ context.Context, documentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var touched []string
	for id, e := range s.edges {
		if e.Source == documentID || e.Target == documentID {
			if e.Kind == domain.EdgeSemantic && e.Source != documentID {
				touched = append(touched, e.Source)
			}
			delete(s.keys, edgeKey{e.Source, e.Target, e.Kind})
			delete(s.edges, id)
		}
	}
	for _, source := range touched {
		s.rerank(source)
	}
	return nil
}

// CountEdges returns the number of matching edges.
func (s *EdgeStore) CountEdges(_ context.Context, q domain.EdgeQuery) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, e := range s.edges {
		if matches(e, q) {
			n++
		}
	}
	return n, nil
}
