package mcp

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/Fortemi/fortemi-sub000/internal/core/domain"
)

const defaultSearchLimit = 10

// SearchInput is the input schema for the search tool.
type SearchInput struct {
	Query          string   `json:"query" jsonschema:"the search query to find documents"`
	Limit          int      `json:"limit,omitempty" jsonschema:"maximum number of results to return (default 10)"`
	Offset         int      `json:"offset,omitempty" jsonschema:"number of results to skip"`
	Mode           string   `json:"mode,omitempty" jsonschema:"lexical, vector or hybrid (default from settings)"`
	Tags           []string `json:"tags,omitempty" jsonschema:"tags that must all be present, as scheme:notation"`
	AnyTags        []string `json:"any_tags,omitempty" jsonschema:"at least one of these tags must be present"`
	ExcludeTags    []string `json:"exclude_tags,omitempty" jsonschema:"documents with any of these tags are rejected"`
	Schemes        []string `json:"schemes,omitempty" jsonschema:"only tags from these schemes are counted"`
	ExcludeSchemes []string `json:"exclude_schemes,omitempty" jsonschema:"documents with tags from these schemes are rejected"`
	NoDedup        bool     `json:"no_dedup,omitempty" jsonschema:"return every matching chunk instead of one per note"`
	Fusion         string   `json:"fusion,omitempty" jsonschema:"fusion strategy override: rrf or rsf"`
}

// SearchOutput is the output schema for the search tool.
type SearchOutput struct {
	Results     []SearchResultOutput `json:"results"`
	Count       int                  `json:"count"`
	Total       int                  `json:"total"`
	Mode        string               `json:"mode"`
	Strategy    string               `json:"strategy"`
	EffectiveK  int                  `json:"effective_k,omitempty"`
	Unavailable []string             `json:"unavailable,omitempty"`
}

// SearchResultOutput represents a single search result.
type SearchResultOutput struct {
	DocumentID   string             `json:"document_id"`
	Title        string             `json:"title"`
	Score        float64            `json:"score"`
	Ranks        map[string]int     `json:"ranks,omitempty"`
	SourceScores map[string]float64 `json:"source_scores,omitempty"`
	Snippet      string             `json:"snippet,omitempty"`
	Tags         []string           `json:"tags,omitempty"`
	Chain        *domain.ChainInfo  `json:"chain_info,omitempty"`
}

// CreateLinksInput is the input schema for the create_links tool.
type CreateLinksInput struct {
	DocumentIDs []string `json:"document_ids" jsonschema:"documents whose semantic links should be rebuilt"`
}

// CreateLinksOutput is the output schema for the create_links tool.
type CreateLinksOutput struct {
	Created int          `json:"created"`
	Links   []LinkOutput `json:"links,omitempty"`
}

// LinkOutput is one created edge.
type LinkOutput struct {
	Source   string  `json:"source"`
	Target   string  `json:"target"`
	Score    float64 `json:"score"`
	Strategy string  `json:"strategy"`
}

// RunMaintenanceInput is the input schema for the run_graph_maintenance tool.
type RunMaintenanceInput struct {
	Steps []string `json:"steps,omitempty" jsonschema:"subset of normalize, snn, sparsify, community, snapshot (default all)"`
	Wait  bool     `json:"wait,omitempty" jsonschema:"block until the run finishes"`
}

// RunMaintenanceOutput is the output schema for the run_graph_maintenance tool.
type RunMaintenanceOutput struct {
	RunID         string     `json:"run_id"`
	AlreadyActive bool       `json:"already_active"`
	Run           *RunOutput `json:"run,omitempty"`
}

// PipelineStatusInput is the input schema for the pipeline_status tool.
type PipelineStatusInput struct {
	RunID string `json:"run_id,omitempty" jsonschema:"run to inspect (default the most recent)"`
}

// PipelineStatusOutput is the output schema for the pipeline_status tool.
type PipelineStatusOutput struct {
	Found bool       `json:"found"`
	Run   *RunOutput `json:"run,omitempty"`
}

// RunOutput is a pipeline run in wire form.
type RunOutput struct {
	ID         string             `json:"id"`
	State      string             `json:"state"`
	Trigger    string             `json:"trigger"`
	Steps      []string           `json:"steps"`
	Completed  []string           `json:"completed"`
	FailedStep string             `json:"failed_step,omitempty"`
	Error      string             `json:"error,omitempty"`
	RetryOf    string             `json:"retry_of,omitempty"`
	StartedAt  string             `json:"started_at"`
	EndedAt    string             `json:"ended_at,omitempty"`
	Results    []StepResultOutput `json:"results"`
}

// StepResultOutput is one step outcome.
type StepResultOutput struct {
	Step       string             `json:"step"`
	Status     string             `json:"status"`
	Detail     string             `json:"detail,omitempty"`
	Affected   int                `json:"affected"`
	DurationMS int64              `json:"duration_ms"`
	Metrics    map[string]float64 `json:"metrics,omitempty"`
}

// GraphViewInput is the input schema for the graph_view tool.
type GraphViewInput struct {
	DocumentID      string  `json:"document_id" jsonschema:"root document of the view"`
	Depth           int     `json:"depth,omitempty" jsonschema:"traversal depth, 1 to 3 (default 1)"`
	MaxNodes        int     `json:"max_nodes,omitempty" jsonschema:"node cap, at most 500 (default 50)"`
	MinScore        float64 `json:"min_score,omitempty" jsonschema:"minimum normalized edge score"`
	MaxEdgesPerNode int     `json:"max_edges_per_node,omitempty" jsonschema:"edge cap per node, at most 100 (default 20)"`
}

// registerTools registers all tool handlers with the MCP server.
func (s *Server) registerTools() {
	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "search",
		Description: "Search the knowledge base with lexical, semantic or hybrid retrieval and strict tag filters",
	}, s.handleSearch)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "create_links",
		Description: "Rebuild semantic links for one or more documents",
	}, s.handleCreateLinks)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "run_graph_maintenance",
		Description: "Start the graph quality pipeline; returns the active run when one is already in progress",
	}, s.handleRunMaintenance)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "pipeline_status",
		Description: "Show the state and per-step results of a graph maintenance run",
	}, s.handlePipelineStatus)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "graph_view",
		Description: "Return the bounded link neighbourhood of a document",
	}, s.handleGraphView)
}

// handleSearch handles the search tool invocation.
func (s *Server) handleSearch(
	ctx context.Context,
	_ *mcp.CallToolRequest,
	input SearchInput,
) (*mcp.CallToolResult, SearchOutput, error) {
	opts, err := searchOptions(input)
	if err != nil {
		return nil, SearchOutput{}, err
	}

	resp, err := s.ports.Search.Search(ctx, input.Query, opts)
	if err != nil {
		return nil, SearchOutput{}, err
	}

	output := SearchOutput{
		Results:     make([]SearchResultOutput, len(resp.Results)),
		Count:       len(resp.Results),
		Total:       resp.Total,
		Mode:        string(resp.Mode),
		Strategy:    string(resp.Strategy),
		EffectiveK:  resp.EffectiveK,
		Unavailable: resp.Unavailable,
	}

	for i := range resp.Results {
		r := &resp.Results[i]
		output.Results[i] = SearchResultOutput{
			DocumentID:   r.DocumentID,
			Title:        r.Title,
			Score:        r.Score,
			Ranks:        r.Ranks,
			SourceScores: r.SourceScores,
			Snippet:      r.Snippet,
			Tags:         r.Tags,
			Chain:        r.Chain,
		}
	}

	return nil, output, nil
}

func searchOptions(input SearchInput) (domain.SearchOptions, error) {
	limit := input.Limit
	if limit <= 0 {
		limit = defaultSearchLimit
	}

	opts := domain.SearchOptions{Limit: limit, Offset: input.Offset}

	if input.Mode != "" {
		mode := domain.SearchMode(strings.ToLower(input.Mode))
		if !mode.IsValid() {
			return opts, fmt.Errorf("%w: mode %q", domain.ErrInvalidInput, input.Mode)
		}
		opts.Mode = mode
	}

	if input.NoDedup {
		opts.Dedup = domain.DedupOff
	}

	if input.Fusion != "" {
		strategy := domain.FusionStrategy(strings.ToLower(input.Fusion))
		if !strategy.IsValid() {
			return opts, fmt.Errorf("%w: fusion %q", domain.ErrInvalidInput, input.Fusion)
		}
		fusion := domain.DefaultFusionConfig()
		fusion.Strategy = strategy
		opts.Fusion = &fusion
	}

	filter := &domain.StrictFilter{
		RequiredTags:    input.Tags,
		AnyTags:         input.AnyTags,
		ExcludedTags:    input.ExcludeTags,
		AllowedSchemes:  input.Schemes,
		ExcludedSchemes: input.ExcludeSchemes,
	}
	if !filter.IsEmpty() {
		opts.Filter = filter
	}

	return opts, nil
}

// handleCreateLinks handles the create_links tool invocation.
func (s *Server) handleCreateLinks(
	ctx context.Context,
	_ *mcp.CallToolRequest,
	input CreateLinksInput,
) (*mcp.CallToolResult, CreateLinksOutput, error) {
	if s.ports.Links == nil {
		return nil, CreateLinksOutput{}, fmt.Errorf("create_links: %w", ErrServiceNotConfigured)
	}
	if len(input.DocumentIDs) == 0 {
		return nil, CreateLinksOutput{}, fmt.Errorf("%w: document_ids is required", domain.ErrInvalidInput)
	}

	if len(input.DocumentIDs) > 1 {
		created, err := s.ports.Links.CreateLinksBatch(ctx, input.DocumentIDs)
		if err != nil {
			return nil, CreateLinksOutput{}, err
		}
		return nil, CreateLinksOutput{Created: created}, nil
	}

	edges, err := s.ports.Links.CreateLinks(ctx, input.DocumentIDs[0])
	if err != nil {
		return nil, CreateLinksOutput{}, err
	}

	output := CreateLinksOutput{Created: len(edges), Links: make([]LinkOutput, len(edges))}
	for i := range edges {
		output.Links[i] = LinkOutput{
			Source:   edges[i].Source,
			Target:   edges[i].Target,
			Score:    edges[i].Score,
			Strategy: edges[i].Metadata.Strategy,
		}
	}
	return nil, output, nil
}

// handleRunMaintenance handles the run_graph_maintenance tool invocation.
func (s *Server) handleRunMaintenance(
	ctx context.Context,
	_ *mcp.CallToolRequest,
	input RunMaintenanceInput,
) (*mcp.CallToolResult, RunMaintenanceOutput, error) {
	if s.ports.Pipeline == nil {
		return nil, RunMaintenanceOutput{}, fmt.Errorf("run_graph_maintenance: %w", ErrServiceNotConfigured)
	}

	steps := make([]domain.PipelineStep, len(input.Steps))
	for i, step := range input.Steps {
		steps[i] = domain.PipelineStep(strings.ToLower(step))
	}

	runID, err := s.ports.Pipeline.Run(ctx, domain.RunOptions{Steps: steps, Trigger: domain.TriggerManual})
	output := RunMaintenanceOutput{RunID: runID}
	switch {
	case errors.Is(err, domain.ErrPipelineRunning) && runID != "":
		output.AlreadyActive = true
	case err != nil:
		return nil, RunMaintenanceOutput{}, err
	}

	if input.Wait {
		run, err := s.ports.Pipeline.Wait(ctx, runID)
		if err != nil {
			return nil, RunMaintenanceOutput{}, err
		}
		output.Run = runOutput(run)
	}

	return nil, output, nil
}

// handlePipelineStatus handles the pipeline_status tool invocation.
func (s *Server) handlePipelineStatus(
	ctx context.Context,
	_ *mcp.CallToolRequest,
	input PipelineStatusInput,
) (*mcp.CallToolResult, PipelineStatusOutput, error) {
	if s.ports.Pipeline == nil {
		return nil, PipelineStatusOutput{}, fmt.Errorf("pipeline_status: %w", ErrServiceNotConfigured)
	}

	if input.RunID != "" {
		run, err := s.ports.Pipeline.Status(ctx, input.RunID)
		if err != nil {
			return nil, PipelineStatusOutput{}, err
		}
		return nil, PipelineStatusOutput{Found: true, Run: runOutput(run)}, nil
	}

	runs, err := s.ports.Pipeline.ListRuns(ctx, 1)
	if err != nil {
		return nil, PipelineStatusOutput{}, err
	}
	if len(runs) == 0 {
		return nil, PipelineStatusOutput{}, nil
	}
	return nil, PipelineStatusOutput{Found: true, Run: runOutput(&runs[0])}, nil
}

// handleGraphView handles the graph_view tool invocation.
func (s *Server) handleGraphView(
	ctx context.Context,
	_ *mcp.CallToolRequest,
	input GraphViewInput,
) (*mcp.CallToolResult, domain.GraphView, error) {
	if s.ports.Graph == nil {
		return nil, domain.GraphView{}, fmt.Errorf("graph_view: %w", ErrServiceNotConfigured)
	}

	view, err := s.ports.Graph.View(ctx, input.DocumentID, domain.GraphViewOptions{
		Depth:           input.Depth,
		MaxNodes:        input.MaxNodes,
		MinScore:        input.MinScore,
		MaxEdgesPerNode: input.MaxEdgesPerNode,
	})
	if err != nil {
		return nil, domain.GraphView{}, err
	}
	return nil, *view, nil
}

func runOutput(run *domain.PipelineRun) *RunOutput {
	out := &RunOutput{
		ID:         run.ID,
		State:      string(run.State),
		Trigger:    run.Trigger,
		Steps:      stepNames(run.Steps),
		Completed:  stepNames(run.Completed),
		FailedStep: string(run.FailedStep),
		Error:      run.Error,
		RetryOf:    run.RetryOf,
		StartedAt:  formatTime(run.StartedAt),
		EndedAt:    formatTime(run.EndedAt),
		Results:    make([]StepResultOutput, 0, len(run.Results)),
	}
	for _, step := range run.Steps {
		res, ok := run.Results[step]
		if !ok {
			continue
		}
		out.Results = append(out.Results, StepResultOutput{
			Step:       string(res.Step),
			Status:     string(res.Status),
			Detail:     res.Detail,
			Affected:   res.Affected,
			DurationMS: res.Duration.Milliseconds(),
			Metrics:    res.Metrics,
		})
	}
	return out
}

func stepNames(steps []domain.PipelineStep) []string {
	names := make([]string, len(steps))
	for i, step := range steps {
		names[i] = string(step)
	}
	return names
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}
