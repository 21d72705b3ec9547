package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/Fortemi/fortemi-sub000/internal/core/domain"
)

const (
	// uriScheme is the custom URI scheme for fortemi resources.
	uriScheme = "fortemi://"

	diagnosticsSnapshotLimit = 10
)

// registerResources registers all resource handlers with the MCP server.
func (s *Server) registerResources() {
	s.server.AddResource(&mcp.Resource{
		URI:         uriScheme + "diagnostics",
		Name:        "diagnostics",
		Description: "Recent graph health snapshots, newest first",
		MIMEType:    "application/json",
	}, s.handleDiagnosticsResource)

	s.server.AddResource(&mcp.Resource{
		URI:         uriScheme + "communities",
		Name:        "communities",
		Description: "Detected document communities with their members",
		MIMEType:    "application/json",
	}, s.handleCommunitiesResource)

	s.server.AddResourceTemplate(&mcp.ResourceTemplate{
		URITemplate: uriScheme + "documents/{documentId}",
		Name:        "document-content",
		Description: "Content of a specific document",
		MIMEType:    "text/plain",
	}, s.handleDocumentContentResource)
}

// handleDiagnosticsResource returns recent diagnostics snapshots.
func (s *Server) handleDiagnosticsResource(
	ctx context.Context,
	req *mcp.ReadResourceRequest,
) (*mcp.ReadResourceResult, error) {
	if s.ports.Graph == nil {
		return jsonResult(req.Params.URI, []domain.DiagnosticsSnapshot{})
	}

	snapshots, err := s.ports.Graph.Snapshots(ctx, diagnosticsSnapshotLimit)
	if err != nil {
		return nil, fmt.Errorf("listing snapshots: %w", err)
	}
	if snapshots == nil {
		snapshots = []domain.DiagnosticsSnapshot{}
	}
	return jsonResult(req.Params.URI, snapshots)
}

// communityInfo groups the members of one community.
type communityInfo struct {
	ID      int      `json:"id"`
	Label   string   `json:"label"`
	Members []string `json:"members"`
}

// handleCommunitiesResource returns communities grouped by ID.
func (s *Server) handleCommunitiesResource(
	ctx context.Context,
	req *mcp.ReadResourceRequest,
) (*mcp.ReadResourceResult, error) {
	if s.ports.Graph == nil {
		return jsonResult(req.Params.URI, []communityInfo{})
	}

	assignments, err := s.ports.Graph.Communities(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing communities: %w", err)
	}
	return jsonResult(req.Params.URI, groupCommunities(assignments))
}

// groupCommunities folds assignments into communities, preserving the
// order in which community IDs first appear.
func groupCommunities(assignments []domain.CommunityAssignment) []communityInfo {
	infos := []communityInfo{}
	index := make(map[int]int)
	for i := range assignments {
		a := &assignments[i]
		pos, ok := index[a.CommunityID]
		if !ok {
			pos = len(infos)
			index[a.CommunityID] = pos
			infos = append(infos, communityInfo{ID: a.CommunityID, Label: a.Label})
		}
		infos[pos].Members = append(infos[pos].Members, a.DocumentID)
	}
	return infos
}

// handleDocumentContentResource returns the content of a specific document.
func (s *Server) handleDocumentContentResource(
	ctx context.Context,
	req *mcp.ReadResourceRequest,
) (*mcp.ReadResourceResult, error) {
	if s.ports.Document == nil {
		return nil, mcp.ResourceNotFoundError(req.Params.URI)
	}

	// Extract documentId from URI: fortemi://documents/{documentId}
	docID := extractDocumentID(req.Params.URI)
	if docID == "" {
		return nil, mcp.ResourceNotFoundError(req.Params.URI)
	}

	doc, err := s.ports.Document.Get(ctx, docID)
	if err != nil {
		return nil, fmt.Errorf("getting document: %w", err)
	}

	return &mcp.ReadResourceResult{
		Contents: []*mcp.ResourceContents{{
			URI:      req.Params.URI,
			MIMEType: "text/plain",
			Text:     doc.Content,
		}},
	}, nil
}

func jsonResult(uri string, v any) (*mcp.ReadResourceResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshalling %s: %w", uri, err)
	}

	return &mcp.ReadResourceResult{
		Contents: []*mcp.ResourceContents{{
			URI:      uri,
			MIMEType: "application/json",
			Text:     string(data),
		}},
	}, nil
}

// extractDocumentID extracts the document ID from a URI like fortemi://documents/{documentId}.
func extractDocumentID(uri string) string {
	const prefix = uriScheme + "documents/"

	if !strings.HasPrefix(uri, prefix) {
		return ""
	}

	return strings.TrimPrefix(uri, prefix)
}
