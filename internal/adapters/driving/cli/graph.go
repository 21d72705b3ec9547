package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/Fortemi/fortemi-sub000/internal/core/domain"
)

var graphCmd = &cobra.Command{
	Use:   "graph",
	Short: "Inspect and maintain the knowledge graph",
}

var graphMaintainCmd = &cobra.Command{
	Use:   "maintain",
	Short: "Run the graph quality pipeline",
	Long: `Runs the graph maintenance pipeline and waits for it to finish.

Steps, in order:
  normalize  - rescale edge scores with gamma
  snn        - score shared nearest neighbours, prune weak pairs
  sparsify   - relative neighbourhood pruning
  community  - Louvain community detection
  snapshot   - record diagnostics

Only one run can be active at a time.`,
	Args: cobra.NoArgs,
	RunE: runGraphMaintain,
}

var graphStatusCmd = &cobra.Command{
	Use:   "status [run-id]",
	Short: "Show a pipeline run (latest when omitted)",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runGraphStatus,
}

var graphRunsCmd = &cobra.Command{
	Use:   "runs",
	Short: "List recent pipeline runs",
	Args:  cobra.NoArgs,
	RunE:  runGraphRuns,
}

var graphRetryCmd = &cobra.Command{
	Use:   "retry [run-id]",
	Short: "Retry a failed pipeline run",
	Args:  cobra.ExactArgs(1),
	RunE:  runGraphRetry,
}

var graphViewCmd = &cobra.Command{
	Use:   "view [doc-id]",
	Short: "Show the neighbourhood of a document",
	Args:  cobra.ExactArgs(1),
	RunE:  runGraphView,
}

var graphCommunitiesCmd = &cobra.Command{
	Use:   "communities",
	Short: "List detected communities",
	Args:  cobra.NoArgs,
	RunE:  runGraphCommunities,
}

var graphSnapshotsCmd = &cobra.Command{
	Use:   "snapshots",
	Short: "List graph diagnostics snapshots",
	Args:  cobra.NoArgs,
	RunE:  runGraphSnapshots,
}

var (
	maintainSteps   []string
	retryFromFailed bool
	runsLimit       int
	viewDepth       int
	viewMaxNodes    int
	viewMinScore    float64
	viewMaxEdges    int
	viewJSON        bool
	snapshotsLimit  int
)

func init() {
	graphMaintainCmd.Flags().StringSliceVar(&maintainSteps, "steps", nil, "run only these steps (default all)")
	graphRetryCmd.Flags().BoolVar(&retryFromFailed, "from-failed", true, "skip steps that already completed")
	graphRunsCmd.Flags().IntVarP(&runsLimit, "limit", "n", 10, "maximum number of runs")
	graphViewCmd.Flags().IntVar(&viewDepth, "depth", domain.GraphDefaultDepth, "traversal depth (1-3)")
	graphViewCmd.Flags().IntVar(&viewMaxNodes, "max-nodes", domain.GraphDefaultMaxNodes, "maximum number of nodes")
	graphViewCmd.Flags().Float64Var(&viewMinScore, "min-score", 0, "minimum normalized edge score")
	graphViewCmd.Flags().IntVar(&viewMaxEdges, "max-edges", domain.GraphDefaultEdgesPerNode, "maximum edges per node")
	graphViewCmd.Flags().BoolVar(&viewJSON, "json", false, "output the view as JSON")
	graphSnapshotsCmd.Flags().IntVarP(&snapshotsLimit, "limit", "n", 10, "maximum number of snapshots")

	graphCmd.AddCommand(graphMaintainCmd)
	graphCmd.AddCommand(graphStatusCmd)
	graphCmd.AddCommand(graphRunsCmd)
	graphCmd.AddCommand(graphRetryCmd)
	graphCmd.AddCommand(graphViewCmd)
	graphCmd.AddCommand(graphCommunitiesCmd)
	graphCmd.AddCommand(graphSnapshotsCmd)
	rootCmd.AddCommand(graphCmd)
}

func runGraphMaintain(cmd *cobra.Command, _ []string) error {
	if pipelineService == nil {
		return errors.New("pipeline service not configured")
	}

	steps := make([]domain.PipelineStep, 0, len(maintainSteps))
	for _, s := range maintainSteps {
		steps = append(steps, domain.PipelineStep(strings.ToLower(strings.TrimSpace(s))))
	}

	ctx := commandContext(cmd)
	runID, err := pipelineService.Run(ctx, domain.RunOptions{Steps: steps, Trigger: domain.TriggerManual})
	switch {
	case errors.Is(err, domain.ErrPipelineRunning) && runID != "":
		cmd.Printf("Run %s already active, waiting for it\n", runID)
	case err != nil:
		return fmt.Errorf("failed to start pipeline: %w", err)
	default:
		cmd.Printf("Started run %s\n", runID)
	}

	return waitAndPrintRun(cmd, runID)
}

func runGraphRetry(cmd *cobra.Command, args []string) error {
	if pipelineService == nil {
		return errors.New("pipeline service not configured")
	}

	runID, err := pipelineService.Retry(commandContext(cmd), args[0], retryFromFailed)
	if err != nil {
		return fmt.Errorf("failed to retry run: %w", err)
	}
	cmd.Printf("Started run %s (retry of %s)\n", runID, args[0])

	return waitAndPrintRun(cmd, runID)
}

func waitAndPrintRun(cmd *cobra.Command, runID string) error {
	run, err := pipelineService.Wait(commandContext(cmd), runID)
	if err != nil {
		return fmt.Errorf("failed waiting for run: %w", err)
	}
	printRun(cmd, run)
	if run.State == domain.StateFailed {
		return fmt.Errorf("run %s failed at %s: %s", run.ID, run.FailedStep, run.Error)
	}
	return nil
}

func runGraphStatus(cmd *cobra.Command, args []string) error {
	if pipelineService == nil {
		return errors.New("pipeline service not configured")
	}

	ctx := commandContext(cmd)
	if len(args) == 1 {
		run, err := pipelineService.Status(ctx, args[0])
		if err != nil {
			return fmt.Errorf("failed to get run: %w", err)
		}
		printRun(cmd, run)
		return nil
	}

	runs, err := pipelineService.ListRuns(ctx, 1)
	if err != nil {
		return fmt.Errorf("failed to list runs: %w", err)
	}
	if len(runs) == 0 {
		cmd.Println("No pipeline runs yet.")
		return nil
	}
	printRun(cmd, &runs[0])
	return nil
}

func runGraphRuns(cmd *cobra.Command, _ []string) error {
	if pipelineService == nil {
		return errors.New("pipeline service not configured")
	}

	runs, err := pipelineService.ListRuns(commandContext(cmd), runsLimit)
	if err != nil {
		return fmt.Errorf("failed to list runs: %w", err)
	}
	if len(runs) == 0 {
		cmd.Println("No pipeline runs yet.")
		return nil
	}

	for i := range runs {
		r := &runs[i]
		cmd.Printf("  %s  %-9s %-7s %s\n", r.ID, r.State, r.Trigger, r.StartedAt.Format("2006-01-02 15:04:05"))
	}
	return nil
}

func printRun(cmd *cobra.Command, run *domain.PipelineRun) {
	cmd.Printf("Run %s\n", run.ID)
	cmd.Printf("  State:    %s\n", run.State)
	cmd.Printf("  Trigger:  %s\n", run.Trigger)
	if run.RetryOf != "" {
		cmd.Printf("  Retry of: %s\n", run.RetryOf)
	}
	cmd.Printf("  Started:  %s\n", run.StartedAt.Format("2006-01-02 15:04:05"))
	if !run.EndedAt.IsZero() {
		cmd.Printf("  Duration: %s\n", run.EndedAt.Sub(run.StartedAt).Round(time.Millisecond))
	}
	if run.Error != "" {
		cmd.Printf("  Error:    %s (step %s)\n", run.Error, run.FailedStep)
	}

	for _, step := range run.Steps {
		res, ok := run.Results[step]
		if !ok {
			cmd.Printf("    %-10s pending\n", step)
			continue
		}
		line := fmt.Sprintf("    %-10s %-7s affected=%d", step, res.Status, res.Affected)
		if res.Detail != "" {
			line += " " + res.Detail
		}
		cmd.Println(line)
	}
}

func runGraphView(cmd *cobra.Command, args []string) error {
	if graphService == nil {
		return errors.New("graph service not configured")
	}

	view, err := graphService.View(commandContext(cmd), args[0], domain.GraphViewOptions{
		Depth:           viewDepth,
		MaxNodes:        viewMaxNodes,
		MinScore:        viewMinScore,
		MaxEdgesPerNode: viewMaxEdges,
	})
	if err != nil {
		return fmt.Errorf("failed to build graph view: %w", err)
	}

	if viewJSON {
		data, err := json.MarshalIndent(view, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal view: %w", err)
		}
		cmd.Println(string(data))
		return nil
	}

	cmd.Printf("Graph around %s: %d nodes, %d edges\n", view.Meta.Root, view.Meta.NodeCount, view.Meta.EdgeCount)
	if view.Meta.Truncated {
		cmd.Printf("Truncated: %s\n", strings.Join(view.Meta.TruncationReasons, ", "))
	}
	cmd.Println()
	for i := range view.Nodes {
		n := &view.Nodes[i]
		community := ""
		if n.CommunityID != nil {
			community = fmt.Sprintf(" [community %d]", *n.CommunityID)
		}
		cmd.Printf("  %s%s %s%s\n", strings.Repeat("  ", n.Depth), n.ID, n.Title, community)
	}
	if len(view.Edges) > 0 {
		cmd.Println()
		for i := range view.Edges {
			e := &view.Edges[i]
			cmd.Printf("  %s -> %s  %s %.3f\n", e.Source, e.Target, e.Kind, e.Normalized)
		}
	}
	return nil
}

func runGraphCommunities(cmd *cobra.Command, _ []string) error {
	if graphService == nil {
		return errors.New("graph service not configured")
	}

	assignments, err := graphService.Communities(commandContext(cmd))
	if err != nil {
		return fmt.Errorf("failed to list communities: %w", err)
	}
	if len(assignments) == 0 {
		cmd.Println("No communities detected. Run 'fortemi graph maintain' first.")
		return nil
	}

	current := -1
	for i := range assignments {
		a := &assignments[i]
		if a.CommunityID != current {
			current = a.CommunityID
			cmd.Printf("Community %d: %s\n", a.CommunityID, a.Label)
		}
		cmd.Printf("  %s (%.2f)\n", a.DocumentID, a.Confidence)
	}
	return nil
}

func runGraphSnapshots(cmd *cobra.Command, _ []string) error {
	if graphService == nil {
		return errors.New("graph service not configured")
	}

	snapshots, err := graphService.Snapshots(commandContext(cmd), snapshotsLimit)
	if err != nil {
		return fmt.Errorf("failed to list snapshots: %w", err)
	}
	if len(snapshots) == 0 {
		cmd.Println("No snapshots yet.")
		return nil
	}

	for i := range snapshots {
		s := &snapshots[i]
		cmd.Printf("%s  %s\n", s.CapturedAt.Format("2006-01-02 15:04:05"), s.Label)
		cmd.Printf("  documents=%d edges=%d->%d communities=%d isolated=%d\n",
			s.DocumentCount, s.EdgesBefore, s.EdgesAfter, s.CommunityCount, s.IsolatedCount)
		cmd.Printf("  mean_degree=%.2f snn_coverage=%.2f retention=%.2f modularity=%.3f\n",
			s.MeanDegree, s.SNNCoverage, s.RetentionRatio, s.Modularity)
	}
	return nil
}
