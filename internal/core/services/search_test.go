package services

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Fortemi/fortemi-sub000/internal/core/domain"
)

var isolationFilter = &domain.StrictFilter{RequiredTags: []string{"project:x"}}

// isolationCorpus holds three project:x documents and two untagged
// documents that match every query better than the tagged ones.
func isolationCorpus(t *testing.T) *corpus {
	t.Helper()
	c := newCorpus()
	c.add(t, domain.Document{ID: "t1", Title: "Graph notes", Content: "graph search basics",
		Tags: []string{"project:x"}, Embedding: angledVector(0.3)})
	c.add(t, domain.Document{ID: "t2", Title: "Fusion", Content: "rank fusion for graph search",
		Tags: []string{"project:x"}, Embedding: angledVector(0.5)})
	c.add(t, domain.Document{ID: "t3", Title: "Kitchen", Content: "unrelated cooking",
		Tags: []string{"project:x"}, Embedding: angledVector(1.2)})
	c.add(t, domain.Document{ID: "u1", Title: "Graph search graph", Content: "graph search graph search graph search",
		Embedding: angledVector(0)})
	c.add(t, domain.Document{ID: "u2", Title: "Search", Content: "graph search",
		Embedding: angledVector(0.01)})
	return c
}

func newTestSearchService(c *corpus) *SearchService {
	return NewSearchService(c.docs, c.lexical, c.vectors, nil, NewFilterService(c.lexical), domain.DefaultAppSettings())
}

func resultIDs(results []domain.FusedResult) []string {
	ids := make([]string, len(results))
	for i, r := range results {
		ids[i] = r.DocumentID
	}
	return ids
}

func TestSearchService_Search_StrictIsolation(t *testing.T) {
	c := isolationCorpus(t)
	svc := newTestSearchService(c)

	for _, mode := range []domain.SearchMode{domain.SearchModeHybrid, domain.SearchModeLexical, domain.SearchModeVector} {
		t.Run(string(mode), func(t *testing.T) {
			resp, err := svc.Search(context.Background(), "graph search", domain.SearchOptions{
				Mode:           mode,
				Filter:         isolationFilter,
				QueryEmbedding: angledVector(0),
			})
			require.NoError(t, err)
			require.NotEmpty(t, resp.Results)
			assert.False(t, resp.Degraded())
			for _, id := range resultIDs(resp.Results) {
				assert.Contains(t, []string{"t1", "t2", "t3"}, id)
			}
		})
	}
}

func TestSearchService_Search_HybridDrawsOnlyFromFilteredSet(t *testing.T) {
	c := isolationCorpus(t)
	svc := newTestSearchService(c)

	resp, err := svc.Search(context.Background(), "graph search", domain.SearchOptions{
		Filter:         isolationFilter,
		QueryEmbedding: angledVector(0),
	})
	require.NoError(t, err)
	assert.Equal(t, domain.SearchModeHybrid, resp.Mode)
	assert.ElementsMatch(t, []string{"t1", "t2", "t3"}, resultIDs(resp.Results))
	assert.Equal(t, "t1", resp.Results[0].DocumentID)
	assert.Equal(t, 3, resp.Total)
}

func TestSearchService_Search_UnfilteredRanksUntaggedFirst(t *testing.T) {
	c := isolationCorpus(t)
	svc := newTestSearchService(c)

	resp, err := svc.Search(context.Background(), "graph search", domain.SearchOptions{QueryEmbedding: angledVector(0)})
	require.NoError(t, err)
	assert.Equal(t, "u1", resp.Results[0].DocumentID)
	assert.Equal(t, "Graph search graph", resp.Results[0].Title)
	assert.NotEmpty(t, resp.Results[0].Snippet)
}

func TestSearchService_Search_DropsLeakedProviderHits(t *testing.T) {
	c := isolationCorpus(t)
	leaky := &leakySearchEngine{hits: []domain.SearchHit{
		{DocumentID: "u1", Score: 9, Rank: 1},
		{DocumentID: "t1", Score: 3, Rank: 2},
	}}
	svc := NewSearchService(c.docs, leaky, nil, nil,
		NewFilterService(&mockVocabulary{schemes: []string{"project"}}), domain.DefaultAppSettings())

	resp, err := svc.Search(context.Background(), "graph", domain.SearchOptions{
		Mode:   domain.SearchModeLexical,
		Filter: isolationFilter,
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"t1"}, resultIDs(resp.Results))
}

func TestSearchService_Search_FailsClosedWhenFilterUnavailable(t *testing.T) {
	c := isolationCorpus(t)
	svc := NewSearchService(c.docs, c.lexical, c.vectors, nil,
		NewFilterService(&mockVocabulary{err: errBackendDown}), domain.DefaultAppSettings())

	resp, err := svc.Search(context.Background(), "graph", domain.SearchOptions{Filter: isolationFilter})
	assert.Nil(t, resp)
	assert.ErrorIs(t, err, domain.ErrFilterUnavailable)
}

func TestSearchService_Search_UnknownSchemeRejected(t *testing.T) {
	c := isolationCorpus(t)
	svc := newTestSearchService(c)

	_, err := svc.Search(context.Background(), "graph", domain.SearchOptions{
		Filter: &domain.StrictFilter{RequiredTags: []string{"colour:red"}},
	})
	assert.ErrorIs(t, err, domain.ErrUnknownScheme)
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestSearchService_Search_MatchNone(t *testing.T) {
	c := isolationCorpus(t)
	svc := newTestSearchService(c)

	resp, err := svc.Search(context.Background(), "graph", domain.SearchOptions{
		Filter: &domain.StrictFilter{MatchNone: true},
	})
	require.NoError(t, err)
	assert.NotNil(t, resp.Results)
	assert.Empty(t, resp.Results)
}

func TestSearchService_Search_NoMatchesIsNotAnError(t *testing.T) {
	c := isolationCorpus(t)
	svc := newTestSearchService(c)

	resp, err := svc.Search(context.Background(), "zeppelin", domain.SearchOptions{Mode: domain.SearchModeLexical})
	require.NoError(t, err)
	assert.NotNil(t, resp.Results)
	assert.Empty(t, resp.Results)
	assert.False(t, resp.Degraded())
}

func TestSearchService_Search_InvalidInput(t *testing.T) {
	c := isolationCorpus(t)
	svc := newTestSearchService(c)
	ctx := context.Background()

	tests := []struct {
		name  string
		query string
		opts  domain.SearchOptions
	}{
		{"empty query", "   ", domain.SearchOptions{}},
		{"negative limit", "graph", domain.SearchOptions{Limit: -1}},
		{"negative offset", "graph", domain.SearchOptions{Offset: -1}},
		{"limit above maximum", "graph", domain.SearchOptions{Limit: 150, Offset: 100}},
		{"unknown mode", "graph", domain.SearchOptions{Mode: "fuzzy"}},
		{"unknown fusion", "graph", domain.SearchOptions{Fusion: &domain.FusionConfig{Strategy: "borda"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Search(ctx, tt.query, tt.opts)
			assert.ErrorIs(t, err, domain.ErrInvalidInput)
		})
	}
}

func TestSearchService_Search_HybridDegradesWhenVectorFails(t *testing.T) {
	c := isolationCorpus(t)
	svc := NewSearchService(c.docs, c.lexical, failingVectorIndex{}, nil, NewFilterService(c.lexical), domain.DefaultAppSettings())

	resp, err := svc.Search(context.Background(), "graph search", domain.SearchOptions{QueryEmbedding: angledVector(0)})
	require.NoError(t, err)
	assert.Equal(t, domain.SearchModeLexical, resp.Mode)
	assert.Equal(t, []string{domain.SourceVector}, resp.Unavailable)
	assert.NotEmpty(t, resp.Results)
}

func TestSearchService_Search_HybridDegradesWithoutEmbedder(t *testing.T) {
	c := isolationCorpus(t)
	svc := newTestSearchService(c)

	resp, err := svc.Search(context.Background(), "graph search", domain.SearchOptions{})
	require.NoError(t, err)
	assert.True(t, resp.Degraded())
	assert.Equal(t, domain.SearchModeLexical, resp.Mode)
}

func TestSearchService_Search_HybridUsesEmbedder(t *testing.T) {
	c := isolationCorpus(t)
	embedder := &mockEmbeddingService{dims: 2, vectors: map[string][]float32{"graph search": angledVector(1.2)}}
	svc := NewSearchService(c.docs, c.lexical, c.vectors, embedder, NewFilterService(c.lexical), domain.DefaultAppSettings())

	resp, err := svc.Search(context.Background(), "graph search", domain.SearchOptions{Mode: domain.SearchModeVector})
	require.NoError(t, err)
	assert.Equal(t, 1, embedder.calls)
	assert.Equal(t, "t3", resp.Results[0].DocumentID)
}

func TestSearchService_Search_HybridDegradesWhenLexicalFails(t *testing.T) {
	c := isolationCorpus(t)
	svc := NewSearchService(c.docs, failingSearchEngine{}, c.vectors, nil, NewFilterService(c.lexical), domain.DefaultAppSettings())

	resp, err := svc.Search(context.Background(), "graph search", domain.SearchOptions{QueryEmbedding: angledVector(0)})
	require.NoError(t, err)
	assert.Equal(t, domain.SearchModeVector, resp.Mode)
	assert.Equal(t, []string{domain.SourceLexical}, resp.Unavailable)
	assert.Equal(t, "u1", resp.Results[0].DocumentID)
}

func TestSearchService_Search_BothSourcesFail(t *testing.T) {
	c := isolationCorpus(t)
	svc := NewSearchService(c.docs, failingSearchEngine{}, failingVectorIndex{}, nil, NewFilterService(c.lexical), domain.DefaultAppSettings())

	resp, err := svc.Search(context.Background(), "graph search", domain.SearchOptions{QueryEmbedding: angledVector(0)})
	assert.Nil(t, resp)
	assert.ErrorIs(t, err, domain.ErrSearchUnavailable)
	assert.ErrorIs(t, err, domain.ErrVectorIndexUnavailable)
}

func TestSearchService_Search_LexicalModeFailureIsError(t *testing.T) {
	c := isolationCorpus(t)
	svc := NewSearchService(c.docs, failingSearchEngine{}, c.vectors, nil, NewFilterService(c.lexical), domain.DefaultAppSettings())

	_, err := svc.Search(context.Background(), "graph", domain.SearchOptions{Mode: domain.SearchModeLexical})
	assert.ErrorIs(t, err, domain.ErrSearchUnavailable)
}

func TestSearchService_Search_VectorModeDegradesToLexical(t *testing.T) {
	c := isolationCorpus(t)
	svc := NewSearchService(c.docs, c.lexical, failingVectorIndex{}, nil, NewFilterService(c.lexical), domain.DefaultAppSettings())

	resp, err := svc.Search(context.Background(), "graph", domain.SearchOptions{
		Mode:           domain.SearchModeVector,
		QueryEmbedding: angledVector(0),
	})
	require.NoError(t, err)
	assert.Equal(t, domain.SearchModeLexical, resp.Mode)
	assert.Equal(t, []string{domain.SourceVector}, resp.Unavailable)
}

func TestSearchService_Search_Pagination(t *testing.T) {
	c := newCorpus()
	for i := range 5 {
		c.add(t, domain.Document{
			ID:      fmt.Sprintf("doc-%d", i),
			Title:   "Alpha",
			Content: fmt.Sprintf("alpha %s", repeatWord("beta", i+1)),
		})
	}
	svc := newTestSearchService(c)
	ctx := context.Background()

	all, err := svc.Search(ctx, "alpha", domain.SearchOptions{Mode: domain.SearchModeLexical})
	require.NoError(t, err)
	require.Len(t, all.Results, 5)

	page, err := svc.Search(ctx, "alpha", domain.SearchOptions{Mode: domain.SearchModeLexical, Limit: 2, Offset: 2})
	require.NoError(t, err)
	assert.Equal(t, 5, page.Total)
	assert.Equal(t, resultIDs(all.Results[2:4]), resultIDs(page.Results))

	past, err := svc.Search(ctx, "alpha", domain.SearchOptions{Mode: domain.SearchModeLexical, Limit: 5, Offset: 10})
	require.NoError(t, err)
	assert.Empty(t, past.Results)
	assert.Equal(t, 5, past.Total)
}

func repeatWord(w string, n int) string {
	out := w
	for range n - 1 {
		out += " " + w
	}
	return out
}

func TestSearchService_Search_Dedup(t *testing.T) {
	c := newCorpus()
	for seq := 1; seq <= 3; seq++ {
		c.add(t, domain.Document{
			ID:      fmt.Sprintf("chunk-%d", seq),
			Title:   fmt.Sprintf("Manual (Part %d/3)", seq),
			Content: "install the widget " + repeatWord("widget", seq),
			Chain:   &domain.ChainMembership{ChainID: "manual", Sequence: seq, Total: 3},
		})
	}
	c.add(t, domain.Document{ID: "other", Title: "Other", Content: "a widget"})
	svc := newTestSearchService(c)
	ctx := context.Background()

	resp, err := svc.Search(ctx, "widget", domain.SearchOptions{Mode: domain.SearchModeLexical})
	require.NoError(t, err)
	require.Len(t, resp.Results, 2)
	var chain *domain.ChainInfo
	for _, r := range resp.Results {
		if r.Chain != nil {
			chain = r.Chain
		}
	}
	require.NotNil(t, chain)
	assert.Equal(t, 3, chain.ChunksMatched)
	assert.Equal(t, "Manual", chain.OriginalTitle)

	raw, err := svc.Search(ctx, "widget", domain.SearchOptions{Mode: domain.SearchModeLexical, Dedup: domain.DedupOff})
	require.NoError(t, err)
	assert.Len(t, raw.Results, 4)
}

func TestSearchService_UpdateSettings(t *testing.T) {
	c := isolationCorpus(t)
	svc := newTestSearchService(c)

	settings := domain.DefaultAppSettings()
	settings.Search.Mode = domain.SearchModeLexical
	settings.Fusion.Strategy = domain.FusionRSF
	svc.UpdateSettings(settings)

	resp, err := svc.Search(context.Background(), "graph", domain.SearchOptions{})
	require.NoError(t, err)
	assert.Equal(t, domain.SearchModeLexical, resp.Mode)
	assert.Equal(t, domain.FusionRSF, resp.Strategy)
}

func TestGenerateSnippet(t *testing.T) {
	content := "First sentence here. The graph is sparse. Last one."
	assert.Equal(t, "The graph is sparse.", generateSnippet(content, "graph"))
	assert.Equal(t, content, generateSnippet(content, "missing"))
}

func TestApplyPagination(t *testing.T) {
	results := []domain.FusedResult{{DocumentID: "a"}, {DocumentID: "b"}, {DocumentID: "c"}}
	assert.Len(t, applyPagination(results, 0, 2), 2)
	assert.Len(t, applyPagination(results, 2, 5), 1)
	assert.Empty(t, applyPagination(results, 3, 5))
}
