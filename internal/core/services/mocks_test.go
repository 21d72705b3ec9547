package services

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Fortemi/fortemi-sub000/internal/adapters/driven/storage/memory"
	"github.com/Fortemi/fortemi-sub000/internal/adapters/driven/vector/hnsw"
	"github.com/Fortemi/fortemi-sub000/internal/core/domain"
	"github.com/Fortemi/fortemi-sub000/internal/core/ports/driven"
)

// --- Mock implementations ---

var errBackendDown = errors.New("backend down")

// failingSearchEngine implements driven.SearchEngine and always fails.
type failingSearchEngine struct{}

func (failingSearchEngine) Index(_ context.Context, _ *domain.Document) error { return errBackendDown }

func (failingSearchEngine) Delete(_ context.Context, _ string) error { return errBackendDown }

func (failingSearchEngine) Search(_ context.Context, _ string, _ *domain.StrictFilter, _ int) ([]domain.SearchHit, error) {
	return nil, errBackendDown
}

func (failingSearchEngine) Close() error { return nil }

// leakySearchEngine ignores the filter, returning every hit it was given.
type leakySearchEngine struct {
	hits []domain.SearchHit
}

func (m *leakySearchEngine) Index(_ context.Context, _ *domain.Document) error { return nil }

func (m *leakySearchEngine) Delete(_ context.Context, _ string) error { return nil }

func (m *leakySearchEngine) Search(_ context.Context, _ string, _ *domain.StrictFilter, _ int) ([]domain.SearchHit, error) {
	return m.hits, nil
}

func (m *leakySearchEngine) Close() error { return nil }

// mockEmbeddingService implements driven.EmbeddingService for testing.
type mockEmbeddingService struct {
	mu      sync.Mutex
	vectors map[string][]float32
	dims    int
	err     error
	calls   int
}

func (m *mockEmbeddingService) Embed(_ context.Context, text string) ([]float32, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.err != nil {
		return nil, m.err
	}
	if v, ok := m.vectors[text]; ok {
		return v, nil
	}
	return unitVector(m.dims, 0), nil
}

func (m *mockEmbeddingService) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, err := m.Embed(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func (m *mockEmbeddingService) Dimensions() int { return m.dims }

func (m *mockEmbeddingService) ModelName() string { return "mock-embed" }

func (m *mockEmbeddingService) Ping(_ context.Context) error { return m.err }

func (m *mockEmbeddingService) Close() error { return nil }

// mockVocabulary implements driven.Vocabulary for testing.
type mockVocabulary struct {
	schemes []string
	err     error
}

func (m *mockVocabulary) Schemes(_ context.Context) ([]string, error) {
	return m.schemes, m.err
}

// failingVectorIndex implements driven.VectorIndex and always fails.
type failingVectorIndex struct{}

func (failingVectorIndex) Add(_ context.Context, _ string, _ []float32, _ []string) error {
	return errBackendDown
}

func (failingVectorIndex) Delete(_ context.Context, _ string) error { return errBackendDown }

func (failingVectorIndex) Search(_ context.Context, _ []float32, _ *domain.StrictFilter, _ int) ([]driven.VectorHit, error) {
	return nil, errBackendDown
}

func (failingVectorIndex) Neighbors(_ context.Context, _ string, _ int) ([]driven.VectorHit, error) {
	return nil, errBackendDown
}

func (failingVectorIndex) Len() int { return 0 }

func (failingVectorIndex) Close() error { return nil }

// --- Fixtures ---

// unitVector returns a vector of the given size with a 1 at position i.
func unitVector(dims, i int) []float32 {
	v := make([]float32, dims)
	v[i%dims] = 1
	return v
}

// angledVector returns a 2D unit vector at the given angle in radians.
func angledVector(theta float64) []float32 {
	return []float32{float32(math.Cos(theta)), float32(math.Sin(theta))}
}

// corpus wires memory stores and an exact HNSW index together.
type corpus struct {
	docs    *memory.DocumentStore
	edges   *memory.EdgeStore
	lexical *memory.SearchEngine
	vectors *hnsw.Index
}

func newCorpus() *corpus {
	return &corpus{
		docs:    memory.NewDocumentStore(),
		edges:   memory.NewEdgeStore(),
		lexical: memory.NewSearchEngine(),
		vectors: hnsw.New(0),
	}
}

// add stores and indexes a document in every backend.
func (c *corpus) add(t *testing.T, doc domain.Document) {
	t.Helper()
	ctx := context.Background()
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = time.Now()
	}
	doc.Tags = domain.NormalizeTags(doc.Tags)
	require.NoError(t, c.docs.SaveDocument(ctx, &doc))
	require.NoError(t, c.lexical.Index(ctx, &doc))
	if doc.HasEmbedding() {
		require.NoError(t, c.vectors.Add(ctx, doc.ID, doc.Embedding, doc.Tags))
	}
}

// linkSettings returns permissive link settings for small fixtures.
func linkSettings() domain.LinkSettings {
	s := domain.DefaultAppSettings().Linking
	s.TagWeight = 0
	return s
}

// insertPair stores a reciprocal semantic pair with the given score.
func insertPair(t *testing.T, store *memory.EdgeStore, a, b string, score float64) {
	t.Helper()
	_, err := store.InsertReciprocal(context.Background(), a, []domain.Edge{{
		Source:   a,
		Target:   b,
		Kind:     domain.EdgeSemantic,
		Score:    score,
		Retained: true,
	}})
	require.NoError(t, err)
}
