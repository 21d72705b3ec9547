// Package hnsw provides a pure Go HNSW (Hierarchical Navigable Small World)
// vector index keyed by document ID, following Malkov & Yashunin (2018).
//
// Search is filter-aware: documents rejected by a strict filter are skipped
// while collecting results, so they never take a rank.
package hnsw

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"sort"
	"sync"

	"github.com/Fortemi/fortemi-sub000/internal/core/domain"
	"github.com/Fortemi/fortemi-sub000/internal/core/ports/driven"
)

// Ensure Index implements the interface.
var _ driven.VectorIndex = (*Index)(nil)

// Default tuning parameters.
const (
	DefaultM              = 16
	DefaultEfConstruction = 200
	DefaultEfSearch       = 50

	// DefaultExactThreshold is the live-vector count at or below which
	// search is exact.
	DefaultExactThreshold = 1000
)

// Recall-driven beam width bounds. The base width of a recall target holds
// up to recallBaseSize vectors and grows with log2 of the size beyond it.
const (
	minRecallEf    = 10
	maxRecallEf    = 500
	recallBaseSize = 10000
)

// Index is an in-memory HNSW index.
type Index struct {
	mu         sync.RWMutex
	nodes      []node
	idToIdx    map[string]int
	entryPoint int
	maxLevel   int
	dims       int
	live       int

	m              int
	mMax0          int
	efConstruction int
	efSearch       int
	recallTarget   domain.RecallTarget
	levelMult      float64
	exactThreshold int

	rng *rand.Rand
}

// Option configures the index.
type Option func(*Index)

// WithParams sets the HNSW connectivity and beam widths.
func WithParams(m, efConstruction, efSearch int) Option {
	return func(x *Index) {
		if m >= 2 {
			x.m = m
		}
		if efConstruction > 0 {
			x.efConstruction = efConstruction
		}
		if efSearch > 0 {
			x.efSearch = efSearch
		}
	}
}

// WithRecallTarget derives the query beam width from the target and the
// live index size. An empty or unknown target keeps the fixed efSearch.
func WithRecallTarget(target domain.RecallTarget) Option {
	return func(x *Index) {
		if target.IsValid() {
			x.recallTarget = target
		}
	}
}

// WithExactThreshold sets the size at or below which search is brute force.
func WithExactThreshold(n int) Option {
	return func(x *Index) {
		if n >= 0 {
			x.exactThreshold = n
		}
	}
}

// New creates an index for vectors of the given dimensionality.
// A dims of zero adopts the size of the first vector added.
func New(dims int, opts ...Option) *Index {
	x := &Index{
		dims:           dims,
		m:              DefaultM,
		efConstruction: DefaultEfConstruction,
		efSearch:       DefaultEfSearch,
		exactThreshold: DefaultExactThreshold,
		entryPoint:     -1,
		maxLevel:       -1,
		idToIdx:        make(map[string]int),
		rng:            rand.New(rand.NewSource(42)),
	}
	for _, opt := range opts {
		opt(x)
	}
	x.mMax0 = 2 * x.m
	x.levelMult = 1.0 / math.Log(float64(x.m))
	return x
}

// Add inserts or replaces the vector for a document.
func (x *Index) Add(_ context.Context, documentID string, embedding []float32, tags []string) error {
	if documentID == "" || len(embedding) == 0 {
		return fmt.Errorf("%w: document id and embedding are required", domain.ErrInvalidInput)
	}

	x.mu.Lock()
	defer x.mu.Unlock()

	if x.dims == 0 {
		x.dims = len(embedding)
	}
	if len(embedding) != x.dims {
		return fmt.Errorf("%w: embedding has %d dimensions, index expects %d",
			domain.ErrInvalidInput, len(embedding), x.dims)
	}

	if old, ok := x.idToIdx[documentID]; ok {
		x.nodes[old].deleted = true
		x.live--
	}
	idx := x.insert(node{
		id:     documentID,
		vector: append([]float32(nil), embedding...),
		tags:   domain.NormalizeTags(tags),
	})
	x.idToIdx[documentID] = idx
	x.live++
	return nil
}

// Delete removes a document. Unknown IDs are ignored.
func (x *Index) Delete(_ context.Context, documentID string) error {
	x.mu.Lock()
	defer x.mu.Unlock()
	if idx, ok := x.idToIdx[documentID]; ok {
		x.nodes[idx].deleted = true
		delete(x.idToIdx, documentID)
		x.live--
	}
	return nil
}

// Search returns the k nearest admitted documents, most similar first.
func (x *Index) Search(_ context.Context, query []float32, filter *domain.StrictFilter, k int) ([]driven.VectorHit, error) {
	if k <= 0 || len(query) == 0 {
		return []driven.VectorHit{}, nil
	}
	x.mu.RLock()
	defer x.mu.RUnlock()
	if x.dims != 0 && len(query) != x.dims {
		return nil, fmt.Errorf("%w: query has %d dimensions, index expects %d",
			domain.ErrInvalidInput, len(query), x.dims)
	}
	return x.nearest(query, k, func(n *node) bool { return filter.Admit(n.tags) }), nil
}

// Neighbors returns the k nearest documents to an indexed document.
func (x *Index) Neighbors(_ context.Context, documentID string, k int) ([]driven.VectorHit, error) {
	x.mu.RLock()
	defer x.mu.RUnlock()
	idx, ok := x.idToIdx[documentID]
	if !ok {
		return nil, fmt.Errorf("%w: no vector for document %s", domain.ErrNotFound, documentID)
	}
	if k <= 0 {
		return []driven.VectorHit{}, nil
	}
	return x.nearest(x.nodes[idx].vector, k, func(n *node) bool { return n.id != documentID }), nil
}

// nearest collects the k closest live nodes that pass keep. Small indexes
// are scanned exactly; otherwise the beam widens until k nodes pass or the
// whole graph has been considered. The caller holds the read lock.
func (x *Index) nearest(query []float32, k int, keep func(*node) bool) []driven.VectorHit {
	if x.live <= x.exactThreshold {
		return x.exact(query, k, keep)
	}

	ef := max(x.searchEf(), k)
	for {
		var hits []driven.VectorHit
		for _, c := range x.knn(query, ef) {
			n := &x.nodes[c.idx]
			if n.deleted || !keep(n) {
				continue
			}
			hits = append(hits, driven.VectorHit{DocumentID: n.id, Similarity: float64(1 - c.dist)})
			if len(hits) == k {
				return hits
			}
		}
		if ef >= len(x.nodes) {
			return x.exact(query, k, keep)
		}
		ef *= 4
	}
}

// searchEf is the starting beam width for a query. The caller holds the lock.
func (x *Index) searchEf() int {
	if x.recallTarget == "" {
		return x.efSearch
	}
	return recallEf(x.recallTarget, x.live)
}

// recallEf returns base * max(1, 1 + log2(size / recallBaseSize)), clamped
// to [minRecallEf, maxRecallEf].
func recallEf(target domain.RecallTarget, size int) int {
	scale := 1.0
	if ratio := float64(size) / recallBaseSize; ratio > 1 {
		scale += math.Log2(ratio)
	}
	ef := int(math.Round(float64(target.BaseEf()) * scale))
	return max(minRecallEf, min(maxRecallEf, ef))
}

// exact scans every live node.
func (x *Index) exact(query []float32, k int, keep func(*node) bool) []driven.VectorHit {
	scored := make([]candidate, 0, x.live)
	for i := range x.nodes {
		n := &x.nodes[i]
		if n.deleted || !keep(n) {
			continue
		}
		scored = append(scored, candidate{idx: i, dist: cosineDistance(query, n.vector)})
	}
	sort.Slice(scored, func(i, j int) bool {
		if scored[i].dist != scored[j].dist {
			return scored[i].dist < scored[j].dist
		}
		return x.nodes[scored[i].idx].id < x.nodes[scored[j].idx].id
	})
	if len(scored) > k {
		scored = scored[:k]
	}
	hits := make([]driven.VectorHit, len(scored))
	for i, c := range scored {
		hits[i] = driven.VectorHit{DocumentID: x.nodes[c.idx].id, Similarity: float64(1 - c.dist)}
	}
	return hits
}

// Len returns the number of live vectors.
func (x *Index) Len() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return x.live
}

// Dimensions returns the vector size, zero until the first vector is added.
func (x *Index) Dimensions() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return x.dims
}

// Close releases resources.
func (x *Index) Close() error {
	return nil
}
