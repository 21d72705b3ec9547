package cli

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Fortemi/fortemi-sub000/internal/core/domain"
	"github.com/Fortemi/fortemi-sub000/internal/core/ports/driving"
)

var errMock = errors.New("mock failure")

// setupTestServices installs mock services and returns a cleanup function
// that restores the previous ones.
func setupTestServices() func() {
	old := Services{
		Search:           searchService,
		Documents:        documentService,
		Links:            linkService,
		Pipeline:         pipelineService,
		Graph:            graphService,
		Settings:         settingsService,
		Scheduler:        scheduler,
		WatchConfig:      watchConfig,
		OnSettingsChange: onSettingsChange,
	}

	SetServices(Services{
		Search:    &mockSearchService{},
		Documents: &mockDocumentService{},
		Links:     &mockLinkService{},
		Pipeline:  &mockPipelineService{},
		Graph:     &mockGraphService{},
		Settings:  &mockSettingsService{settings: domain.DefaultAppSettings()},
	})

	return func() {
		SetServices(old)
	}
}

// runCommand executes the root command with args and returns its output.
// Flags are reset afterwards so package-level flag variables do not leak
// between tests.
func runCommand(t *testing.T, args ...string) (string, error) {
	t.Helper()
	buf := new(bytes.Buffer)
	rootCmd.SetOut(buf)
	rootCmd.SetErr(buf)
	rootCmd.SetArgs(args)
	defer func() {
		rootCmd.SetArgs(nil)
		resetFlags(rootCmd)
	}()

	err := rootCmd.Execute()
	return buf.String(), err
}

func resetFlags(cmd *cobra.Command) {
	reset := func(f *pflag.Flag) {
		if sv, ok := f.Value.(pflag.SliceValue); ok {
			_ = sv.Replace(nil)
		} else {
			_ = f.Value.Set(f.DefValue)
		}
		f.Changed = false
	}
	cmd.Flags().VisitAll(reset)
	cmd.PersistentFlags().VisitAll(reset)
	for _, c := range cmd.Commands() {
		resetFlags(c)
	}
}

// ==================== Mocks ====================

type mockSearchService struct {
	response  *domain.SearchResponse
	err       error
	lastQuery string
	lastOpts  domain.SearchOptions
}

func (m *mockSearchService) Search(_ context.Context, query string, opts domain.SearchOptions) (*domain.SearchResponse, error) {
	m.lastQuery = query
	m.lastOpts = opts
	if m.err != nil {
		return nil, m.err
	}
	if m.response != nil {
		return m.response, nil
	}
	return &domain.SearchResponse{
		Results: []domain.FusedResult{{
			DocumentID: "doc-1",
			Title:      "Graph notes",
			Score:      0.91,
			Snippet:    "a short excerpt",
			Tags:       []string{"topic:graphs"},
		}},
		Mode:       domain.SearchModeHybrid,
		Strategy:   domain.FusionRRF,
		EffectiveK: 20,
		Total:      1,
	}, nil
}

type mockDocumentService struct {
	added     driving.DocumentInput
	docs      []domain.Document
	err       error
	deletedID string
}

func (m *mockDocumentService) Add(_ context.Context, input driving.DocumentInput) ([]domain.Document, error) {
	m.added = input
	if m.err != nil {
		return nil, m.err
	}
	if m.docs != nil {
		return m.docs, nil
	}
	return []domain.Document{{ID: "doc-new", Title: input.Title}}, nil
}

func (m *mockDocumentService) Get(_ context.Context, id string) (*domain.Document, error) {
	if m.err != nil {
		return nil, m.err
	}
	return &domain.Document{
		ID:        id,
		Title:     "Graph notes",
		Content:   "full body text",
		Tags:      []string{"topic:graphs", "tag:draft"},
		Metadata:  map[string]any{"origin": "import"},
		CreatedAt: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
		UpdatedAt: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	}, nil
}

func (m *mockDocumentService) List(_ context.Context, _, _ int) ([]domain.Document, error) {
	if m.err != nil {
		return nil, m.err
	}
	return m.docs, nil
}

func (m *mockDocumentService) Delete(_ context.Context, id string) error {
	m.deletedID = id
	return m.err
}

type mockLinkService struct {
	edges    []domain.Edge
	created  int
	err      error
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

type mockPipelineService struct {
	runID    string
	runErr   error
	run      *domain.PipelineRun
	runs     []domain.PipelineRun
	err      error
	lastOpts domain.RunOptions
	retried  string
}

func (m *mockPipelineService) Run(_ context.Context, opts domain.RunOptions) (string, error) {
	m.lastOpts = opts
	if m.runID == "" && m.runErr == nil {
		return "run-1", nil
	}
	return m.runID, m.runErr
}

func (m *mockPipelineService) Wait(_ context.Context, runID string) (*domain.PipelineRun, error) {
	if m.err != nil {
		return nil, m.err
	}
	if m.run != nil {
		return m.run, nil
	}
	return &domain.PipelineRun{ID: runID, State: domain.StateDone, Trigger: domain.TriggerManual}, nil
}

func (m *mockPipelineService) Cancel(_ string) error { return m.err }

func (m *mockPipelineService) Status(ctx context.Context, runID string) (*domain.PipelineRun, error) {
	return m.Wait(ctx, runID)
}

func (m *mockPipelineService) ListRuns(_ context.Context, _ int) ([]domain.PipelineRun, error) {
	return m.runs, m.err
}

func (m *mockPipelineService) Retry(_ context.Context, runID string, _ bool) (string, error) {
	m.retried = runID
	if m.err != nil {
		return "", m.err
	}
	return "run-retry", nil
}

type mockGraphService struct {
	view        *domain.GraphView
	communities []domain.CommunityAssignment
	snapshots   []domain.DiagnosticsSnapshot
	err         error
	lastOpts    domain.GraphViewOptions
}

func (m *mockGraphService) View(_ context.Context, id string, opts domain.GraphViewOptions) (*domain.GraphView, error) {
	m.lastOpts = opts
	if m.err != nil {
		return nil, m.err
	}
	if m.view != nil {
		return m.view, nil
	}
	return &domain.GraphView{
		Nodes: []domain.GraphNode{{ID: id, Title: "root"}},
		Meta:  domain.GraphMeta{SchemaVersion: domain.GraphViewSchemaVersion, Root: id, NodeCount: 1},
	}, nil
}

func (m *mockGraphService) Communities(_ context.Context) ([]domain.CommunityAssignment, error) {
	return m.communities, m.err
}

func (m *mockGraphService) Snapshots(_ context.Context, _ int) ([]domain.DiagnosticsSnapshot, error) {
	return m.snapshots, m.err
}

type mockSettingsService struct {
	settings domain.AppSettings
	err      error
}

func (m *mockSettingsService) Get() (*domain.AppSettings, error) {
	if m.err != nil {
		return nil, m.err
	}
	s := m.settings
	return &s, nil
}

func (m *mockSettingsService) Save(settings *domain.AppSettings) error {
	if m.err != nil {
		return m.err
	}
	m.settings = *settings
	return nil
}

func (m *mockSettingsService) SetSearchMode(mode domain.SearchMode) error {
	if !mode.IsValid() {
		return fmt.Errorf("%w: search mode %q", domain.ErrInvalidInput, mode)
	}
	m.settings.Search.Mode = mode
	return m.err
}

func (m *mockSettingsService) SetFusionStrategy(strategy domain.FusionStrategy) error {
	if !strategy.IsValid() {
		return fmt.Errorf("%w: fusion strategy %q", domain.ErrInvalidInput, strategy)
	}
	m.settings.Fusion.Strategy = strategy
	return m.err
}

func (m *mockSettingsService) SetEmbedding(baseURL, model string) error {
	m.settings.Embedding = domain.EmbeddingSettings{BaseURL: baseURL, Model: model}
	return m.err
}

func (m *mockSettingsService) Validate() error {
	if m.err != nil {
		return m.err
	}
	return m.settings.Validate()
}

func (m *mockSettingsService) GetDefaults() domain.AppSettings {
	return domain.DefaultAppSettings()
}

// ==================== Root Tests ====================

func TestRootCmd_Use(t *testing.T) {
	assert.Equal(t, "fortemi", rootCmd.Use)
}

func TestRootCmd_HasVerboseFlag(t *testing.T) {
	flag := rootCmd.PersistentFlags().Lookup("verbose")
	require.NotNil(t, flag)
	assert.Equal(t, "v", flag.Shorthand)
	assert.Equal(t, "false", flag.DefValue)
}

func TestRootCmd_RegistersCommands(t *testing.T) {
	names := make(map[string]bool)
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}
	for _, want := range []string{"search", "doc", "links", "graph", "settings", "mcp", "version"} {
		assert.True(t, names[want], "missing command %s", want)
	}
}

func TestSetVersion(t *testing.T) {
	original := version
	defer func() { version = original }()

	SetVersion("1.2.3")
	assert.Equal(t, "1.2.3", version)
}

func TestReloadSettings_PushesValidSettings(t *testing.T) {
	cleanup := setupTestServices()
	defer cleanup()

	var got *domain.AppSettings
	onSettingsChange = func(s *domain.AppSettings) { got = s }

	reloadSettings()

	require.NotNil(t, got)
	assert.Equal(t, domain.SearchModeHybrid, got.Search.Mode)
}

func TestReloadSettings_SkipsInvalidSettings(t *testing.T) {
	cleanup := setupTestServices()
	defer cleanup()

	bad := domain.DefaultAppSettings()
	bad.Graph.Gamma = 0
	settingsService = &mockSettingsService{settings: bad}

	called := false
	onSettingsChange = func(*domain.AppSettings) { called = true }

	reloadSettings()
	assert.False(t, called)

	settingsService = &mockSettingsService{err: errMock}
	reloadSettings()
	assert.False(t, called)
}

func TestReloadSettings_NoHook(t *testing.T) {
	cleanup := setupTestServices()
	defer cleanup()

	onSettingsChange = nil
	assert.NotPanics(t, reloadSettings)
}
