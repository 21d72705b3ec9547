package mcp

import (
	"context"

	"github.com/Fortemi/fortemi-sub000/internal/core/domain"
	"github.com/Fortemi/fortemi-sub000/internal/core/ports/driving"
)

// mockSearchService is a mock implementation of driving.SearchService.
type mockSearchService struct {
	response *domain.SearchResponse
	err      error

	lastQuery string
	lastOpts  domain.SearchOptions
}

func (m *mockSearchService) Search(
	_ context.Context,
	query string,
	opts domain.SearchOptions,
) (*domain.SearchResponse, error) {
	m.lastQuery = query
	m.lastOpts = opts
	if m.err != nil {
		return nil, m.err
	}
	if m.response == nil {
		return &domain.SearchResponse{Mode: domain.SearchModeLexical}, nil
	}
	return m.response, nil
}

// mockDocumentService is a mock implementation of driving.DocumentService.
type mockDocumentService struct {
	document *domain.Document
	err      error
}

func (m *mockDocumentService) Add(_ context.Context, _ driving.DocumentInput) ([]domain.Document, error) {
	return nil, m.err
}

func (m *mockDocumentService) Get(_ context.Context, _ string) (*domain.Document, error) {
	return m.document, m.err
}

func (m *mockDocumentService) List(_ context.Context, _, _ int) ([]domain.Document, error) {
	return nil, m.err
}

func (m *mockDocumentService) Delete(_ context.Context, _ string) error {
	return m.err
}

// mockLinkService is a mock implementation of driving.LinkService.
type mockLinkService struct {
	edges   []domain.Edge
	created int
	err     error

	batchIDs []string
}

func (m *mockLinkService) CreateLinks(_ context.Context, _ string) ([]domain.Edge, error) {
	return m.edges, m.err
}

func (m *mockLinkService) CreateLinksBatch(_ context.Context, ids []string) (int, error) {
	m.batchIDs = ids
	return m.created, m.err
}

func (m *mockLinkService) AddExplicitLink(_ context.Context, source, target string) (*domain.Edge, error) {
	if m.err != nil {
		return nil, m.err
	}
	return &domain.Edge{Source: source, Target: target, Kind: domain.EdgeExplicit}, nil
}

// mockPipelineService is a mock implementation of driving.PipelineService.
type mockPipelineService struct {
	runID  string
	runErr error
	run    *domain.PipelineRun
	runs   []domain.PipelineRun
	err    error

	lastOpts domain.RunOptions
	waited   string
}

func (m *mockPipelineService) Run(_ context.Context, opts domain.RunOptions) (string, error) {
	m.lastOpts = opts
	return m.runID, m.runErr
}

func (m *mockPipelineService) Wait(_ context.Context, runID string) (*domain.PipelineRun, error) {
	m.waited = runID
	return m.run, m.err
}

func (m *mockPipelineService) Cancel(_ string) error {
	return m.err
}

func (m *mockPipelineService) Status(_ context.Context, _ string) (*domain.PipelineRun, error) {
	return m.run, m.err
}

func (m *mockPipelineService) ListRuns(_ context.Context, _ int) ([]domain.PipelineRun, error) {
	return m.runs, m.err
}

func (m *mockPipelineService) Retry(_ context.Context, _ string, _ bool) (string, error) {
	return m.runID, m.err
}

// mockGraphService is a mock implementation of driving.GraphService.
type mockGraphService struct {
	view        *domain.GraphView
	communities []domain.CommunityAssignment
	snapshots   []domain.DiagnosticsSnapshot
	err         error

	lastOpts domain.GraphViewOptions
}

func (m *mockGraphService) View(_ context.Context, _ string, opts domain.GraphViewOptions) (*domain.GraphView, error) {
	m.lastOpts = opts
	return m.view, m.err
}

func (m *mockGraphService) Communities(_ context.Context) ([]domain.CommunityAssignment, error) {
	return m.communities, m.err
}

func (m *mockGraphService) Snapshots(_ context.Context, _ int) ([]domain.DiagnosticsSnapshot, error) {
	return m.snapshots, m.err
}
