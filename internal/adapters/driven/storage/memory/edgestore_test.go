package memory

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Fortemi/fortemi-sub000/internal/core/domain"
)

func semantic(target string, score float64) domain.Edge {
	return domain.Edge{Target: target, Score: score, Metadata: domain.EdgeMetadata{Strategy: domain.LinkStrategyDiverse}}
}

func TestEdgeStore_InsertReciprocal_WritesBothDirections(t *testing.T) {
	store := NewEdgeStore()
	ctx := context.Background()

	stored, err := store.InsertReciprocal(ctx, "a", []domain.Edge{semantic("b", 0.9), semantic("c", 0.8)})
	require.NoError(t, err)
	require.Len(t, stored, 2)
	assert.NotEmpty(t, stored[0].ID)
	assert.Equal(t, 1, stored[0].Rank)
	assert.Equal(t, 2, stored[1].Rank)
	assert.True(t, stored[0].Retained)
	assert.Equal(t, 1, stored[0].Version)

	back, err := store.EdgesFor(ctx, "b", domain.EdgeQuery{})
	require.NoError(t, err)
	require.Len(t, back, 1)
	assert.Equal(t, "a", back[0].Target)
	assert.InDelta(t, 0.9, back[0].Score, 1e-12)

	n, err := store.CountEdges(ctx, domain.EdgeQuery{Kind: domain.EdgeSemantic})
	require.NoError(t, err)
	assert.Equal(t, 4, n)
}

func TestEdgeStore_InsertReciprocal_RejectsSelfLoop(t *testing.T) {
	_, err := NewEdgeStore().InsertReciprocal(context.Background(), "a", []domain.Edge{semantic("a", 1)})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestEdgeStore_InsertReciprocal_UpsertKeepsPruning(t *testing.T) {
	store := NewEdgeStore()
	ctx := context.Background()

	stored, err := store.InsertReciprocal(ctx, "a", []domain.Edge{semantic("b", 0.9)})
	require.NoError(t, err)
	require.NoError(t, store.ApplyEdgeUpdates(ctx, []domain.EdgeUpdate{
		{ID: stored[0].ID, Version: stored[0].Version, Prune: true, PrunedBy: domain.PrunedBySNN},
	}))

	again, err := store.InsertReciprocal(ctx, "a", []domain.Edge{semantic("b", 0.95)})
	require.NoError(t, err)
	require.Len(t, again, 1)
	assert.Equal(t, stored[0].ID, again[0].ID)
	assert.False(t, again[0].Retained)
	assert.Equal(t, domain.PrunedBySNN, again[0].PrunedBy)
	assert.InDelta(t, 0.95, again[0].Score, 1e-12)
	assert.Equal(t, 3, again[0].Version)
}

func TestEdgeStore_RanksFollowScore(t *testing.T) {
	store := NewEdgeStore()
	ctx := context.Background()

	_, err := store.InsertReciprocal(ctx, "b", []domain.Edge{semantic("c", 0.7)})
	require.NoError(t, err)
	_, err = store.InsertReciprocal(ctx, "a", []domain.Edge{semantic("b", 0.9)})
	require.NoError(t, err)

	out, err := store.EdgesFor(ctx, "b", domain.EdgeQuery{})
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, "a", out[0].Target)
	assert.Equal(t, 1, out[0].Rank)
	assert.Equal(t, "c", out[1].Target)
	assert.Equal(t, 2, out[1].Rank)
}

func TestEdgeStore_ApplyEdgeUpdates_ConflictAppliesNothing(t *testing.T) {
	store := NewEdgeStore()
	ctx := context.Background()

	stored, err := store.InsertReciprocal(ctx, "a", []domain.Edge{semantic("b", 0.9), semantic("c", 0.8)})
	require.NoError(t, err)

	snn := 0.5
	err = store.ApplyEdgeUpdates(ctx, []domain.EdgeUpdate{
		{ID: stored[0].ID, Version: stored[0].Version, SNN: &snn},
		{ID: stored[1].ID, Version: stored[1].Version + 7, Prune: true},
	})
	require.ErrorIs(t, err, domain.ErrConflict)

	edges, err := store.EdgesFor(ctx, "a", domain.EdgeQuery{})
	require.NoError(t, err)
	for _, e := range edges {
		assert.False(t, e.HasSNN)
		assert.True(t, e.Retained)
		assert.Equal(t, 1, e.Version)
	}

	err = store.ApplyEdgeUpdates(ctx, []domain.EdgeUpdate{{ID: "missing", Version: 1}})
	assert.ErrorIs(t, err, domain.ErrConflict)
}

func TestEdgeStore_ApplyEdgeUpdates_SetsSNNAndPrunes(t *testing.T) {
	store := NewEdgeStore()
	ctx := context.Background()

	stored, err := store.InsertReciprocal(ctx, "a", []domain.Edge{semantic("b", 0.9)})
	require.NoError(t, err)

	snn := 0.25
	require.NoError(t, store.ApplyEdgeUpdates(ctx, []domain.EdgeUpdate{
		{ID: stored[0].ID, Version: 1, SNN: &snn, Prune: true, PrunedBy: domain.PrunedBySparsify},
	}))

	retained, err := store.ListEdges(ctx, domain.EdgeQuery{RetainedOnly: true})
	require.NoError(t, err)
	require.Len(t, retained, 1)
	assert.Equal(t, "b", retained[0].Source)

	all, err := store.EdgesFor(ctx, "a", domain.EdgeQuery{})
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.True(t, all[0].HasSNN)
	assert.InDelta(t, 0.25, all[0].SNN, 1e-12)
	assert.Equal(t, domain.PrunedBySparsify, all[0].PrunedBy)
	assert.Equal(t, 2, all[0].Version)
}

func TestEdgeStore_InsertExplicit(t *testing.T) {
	store := NewEdgeStore()
	ctx := context.Background()

	edge := &domain.Edge{Source: "a", Target: "b", Score: 1}
	require.NoError(t, store.InsertExplicit(ctx, edge))
	assert.NotEmpty(t, edge.ID)
	assert.Equal(t, domain.EdgeExplicit, edge.Kind)

	// Explicit edges are directional.
	back, err := store.EdgesFor(ctx, "b", domain.EdgeQuery{})
	require.NoError(t, err)
	assert.Empty(t, back)

	dup := &domain.Edge{Source: "a", Target: "b", Score: 1}
	require.NoError(t, store.InsertExplicit(ctx, dup))
	assert.Equal(t, edge.ID, dup.ID)
	assert.Equal(t, 2, dup.Version)

	assert.ErrorIs(t, store.InsertExplicit(ctx, &domain.Edge{Source: "a", Target: "a"}), domain.ErrInvalidInput)
}

func TestEdgeStore_DeleteForDocument(t *testing.T) {
	store := NewEdgeStore()
	ctx := context.Background()

	_, err := store.InsertReciprocal(ctx, "a", []domain.Edge{semantic("b", 0.9), semantic("c", 0.8)})
	require.NoError(t, err)
	require.NoError(t, store.InsertExplicit(ctx, &domain.Edge{Source: "c", Target: "a", Score: 1}))

	require.NoError(t, store.DeleteForDocument(ctx, "a"))

	n, err := store.CountEdges(ctx, domain.EdgeQuery{})
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestEdgeStore_ConcurrentInserts(t *testing.T) {
	store := NewEdgeStore()
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			source := string(rune('a' + i))
			_, _ = store.InsertReciprocal(ctx, source, []domain.Edge{semantic("hub", float64(i)/20)})
		}(i)
	}
	wg.Wait()

	n, err := store.CountEdges(ctx, domain.EdgeQuery{})
	require.NoError(t, err)
	assert.Equal(t, 40, n)

	hub, err := store.EdgesFor(ctx, "hub", domain.EdgeQuery{})
	require.NoError(t, err)
	for i, e := range hub {
		assert.Equal(t, i+1, e.Rank)
	}
}
