package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Fortemi/fortemi-sub000/internal/core/domain"
)

func indexAll(t *testing.T, e *SearchEngine, docs ...domain.Document) {
	t.Helper()
	for i := range docs {
		require.NoError(t, e.Index(context.Background(), &docs[i]))
	}
}

func TestSearchEngine_Search_RanksByRelevance(t *testing.T) {
	e := NewSearchEngine()
	indexAll(t, e,
		domain.Document{ID: "a", Title: "Go concurrency", Content: "goroutines and channels in go"},
		domain.Document{ID: "b", Title: "Rust", Content: "ownership and borrowing"},
		domain.Document{ID: "c", Title: "Notes", Content: "a passing mention of go"},
	)

	hits, err := e.Search(context.Background(), "go channels", nil, 10)
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, "a", hits[0].DocumentID)
	assert.Equal(t, 1, hits[0].Rank)
	assert.Equal(t, "c", hits[1].DocumentID)
	assert.Equal(t, 2, hits[1].Rank)
	assert.Greater(t, hits[0].Score, hits[1].Score)
}

func TestSearchEngine_Search_FilterRejectsBeforeRanking(t *testing.T) {
	e := NewSearchEngine()
	indexAll(t, e,
		domain.Document{ID: "secret", Content: "alpha alpha alpha", Tags: []string{"tenant:b"}},
		domain.Document{ID: "mine", Content: "alpha", Tags: []string{"tenant:a"}},
	)

	filter := &domain.StrictFilter{RequiredTags: []string{"tenant:a"}}
	hits, err := e.Search(context.Background(), "alpha", filter, 10)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "mine", hits[0].DocumentID)
	assert.Equal(t, 1, hits[0].Rank)
}

func TestSearchEngine_Search_EmptyAndLimit(t *testing.T) {
	e := NewSearchEngine()
	indexAll(t, e,
		domain.Document{ID: "a", Content: "word"},
		domain.Document{ID: "b", Content: "word"},
	)

	hits, err := e.Search(context.Background(), "  ", nil, 10)
	require.NoError(t, err)
	assert.Empty(t, hits)

	hits, err = e.Search(context.Background(), "word", nil, 1)
	require.NoError(t, err)
	assert.Len(t, hits, 1)
}

func TestSearchEngine_ReindexAndDelete(t *testing.T) {
	e := NewSearchEngine()
	ctx := context.Background()
	indexAll(t, e, domain.Document{ID: "a", Content: "before"})
	indexAll(t, e, domain.Document{ID: "a", Content: "after"})

	hits, err := e.Search(ctx, "before", nil, 10)
	require.NoError(t, err)
	assert.Empty(t, hits)

	require.NoError(t, e.Delete(ctx, "a"))
	hits, err = e.Search(ctx, "after", nil, 10)
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestSearchEngine_Schemes(t *testing.T) {
	e := NewSearchEngine()
	indexAll(t, e,
		domain.Document{ID: "a", Content: "x", Tags: []string{"Topic:Go", "plain"}},
		domain.Document{ID: "b", Content: "y", Tags: []string{"tenant:a"}},
	)

	schemes, err := e.Schemes(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"tag", "tenant", "topic"}, schemes)
}
