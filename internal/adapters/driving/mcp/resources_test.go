package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Fortemi/fortemi-sub000/internal/core/domain"
)

func TestExtractDocumentID(t *testing.T) {
	tests := []struct {
		name     string
		uri      string
		expected string
	}{
		{
			name:     "valid document URI",
			uri:      "fortemi://documents/doc-456",
			expected: "doc-456",
		},
		{
			name:     "invalid prefix",
			uri:      "file://documents/doc-456",
			expected: "",
		},
		{
			name:     "empty URI",
			uri:      "",
			expected: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := extractDocumentID(tt.uri)
			assert.Equal(t, tt.expected, result)
		})
	}
}

// Helper to create a ReadResourceRequest with the given URI.
func makeReadResourceRequest(uri string) *mcp.ReadResourceRequest {
	return &mcp.ReadResourceRequest{
		Params: &mcp.ReadResourceParams{
			URI: uri,
		},
	}
}

func TestServer_handleDiagnosticsResource(t *testing.T) {
	ctx := context.Background()

	t.Run("nil graph service returns empty list", func(t *testing.T) {
		server := newTestServer(t, &Ports{})

		result, err := server.handleDiagnosticsResource(ctx, makeReadResourceRequest("fortemi://diagnostics"))

		require.NoError(t, err)
		require.Len(t, result.Contents, 1)
		assert.Equal(t, "[]", result.Contents[0].Text)
	})

	t.Run("returns snapshots", func(t *testing.T) {
		graph := &mockGraphService{snapshots: []domain.DiagnosticsSnapshot{
			{ID: "s1", Label: "after run-1", DocumentCount: 40, CommunityCount: 3, Modularity: 0.42},
		}}
		server := newTestServer(t, &Ports{Graph: graph})

		result, err := server.handleDiagnosticsResource(ctx, makeReadResourceRequest("fortemi://diagnostics"))

		require.NoError(t, err)
		require.Len(t, result.Contents, 1)
		assert.Equal(t, "application/json", result.Contents[0].MIMEType)

		var got []domain.DiagnosticsSnapshot
		require.NoError(t, json.Unmarshal([]byte(result.Contents[0].Text), &got))
		require.Len(t, got, 1)
		assert.Equal(t, 3, got[0].CommunityCount)
		assert.InDelta(t, 0.42, got[0].Modularity, 1e-9)
	})

	t.Run("empty store returns empty array", func(t *testing.T) {
		server := newTestServer(t, &Ports{Graph: &mockGraphService{}})

		result, err := server.handleDiagnosticsResource(ctx, makeReadResourceRequest("fortemi://diagnostics"))

		require.NoError(t, err)
		assert.Equal(t, "[]", result.Contents[0].Text)
	})

	t.Run("error propagates", func(t *testing.T) {
		server := newTestServer(t, &Ports{Graph: &mockGraphService{err: errors.New("db closed")}})

		_, err := server.handleDiagnosticsResource(ctx, makeReadResourceRequest("fortemi://diagnostics"))

		require.Error(t, err)
		assert.Contains(t, err.Error(), "db closed")
	})
}

func TestServer_handleCommunitiesResource(t *testing.T) {
	ctx := context.Background()

	t.Run("groups members by community", func(t *testing.T) {
		graph := &mockGraphService{communities: []domain.CommunityAssignment{
			{DocumentID: "a", CommunityID: 0, Label: "graphs"},
			{DocumentID: "b", CommunityID: 0, Label: "graphs"},
			{DocumentID: "c", CommunityID: 1, Label: "cooking"},
		}}
		server := newTestServer(t, &Ports{Graph: graph})

		result, err := server.handleCommunitiesResource(ctx, makeReadResourceRequest("fortemi://communities"))

		require.NoError(t, err)
		var got []communityInfo
		require.NoError(t, json.Unmarshal([]byte(result.Contents[0].Text), &got))
		require.Len(t, got, 2)
		assert.Equal(t, "graphs", got[0].Label)
		assert.Equal(t, []string{"a", "b"}, got[0].Members)
		assert.Equal(t, []string{"c"}, got[1].Members)
	})

	t.Run("nil graph service returns empty list", func(t *testing.T) {
		server := newTestServer(t, &Ports{})

		result, err := server.handleCommunitiesResource(ctx, makeReadResourceRequest("fortemi://communities"))

		require.NoError(t, err)
		assert.Equal(t, "[]", result.Contents[0].Text)
	})
}

func TestServer_handleDocumentContentResource(t *testing.T) {
	ctx := context.Background()

	t.Run("nil document service returns not found", func(t *testing.T) {
		server := newTestServer(t, &Ports{})

		_, err := server.handleDocumentContentResource(ctx, makeReadResourceRequest("fortemi://documents/doc-1"))

		assert.Error(t, err)
	})

	t.Run("invalid URI returns not found", func(t *testing.T) {
		server := newTestServer(t, &Ports{Document: &mockDocumentService{}})

		_, err := server.handleDocumentContentResource(ctx, makeReadResourceRequest("fortemi://documents/"))

		assert.Error(t, err)
	})

	t.Run("returns content", func(t *testing.T) {
		docs := &mockDocumentService{document: &domain.Document{ID: "doc-1", Content: "hello graph"}}
		server := newTestServer(t, &Ports{Document: docs})

		result, err := server.handleDocumentContentResource(ctx, makeReadResourceRequest("fortemi://documents/doc-1"))

		require.NoError(t, err)
		require.Len(t, result.Contents, 1)
		assert.Equal(t, "text/plain", result.Contents[0].MIMEType)
		assert.Equal(t, "hello graph", result.Contents[0].Text)
	})

	t.Run("service error propagates", func(t *testing.T) {
		server := newTestServer(t, &Ports{Document: &mockDocumentService{err: domain.ErrNotFound}})

		_, err := server.handleDocumentContentResource(ctx, makeReadResourceRequest("fortemi://documents/doc-1"))

		assert.ErrorIs(t, err, domain.ErrNotFound)
	})
}

func TestGroupCommunities_Empty(t *testing.T) {
	assert.Empty(t, groupCommunities(nil))
	assert.NotNil(t, groupCommunities(nil))
}
