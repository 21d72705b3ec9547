package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Fortemi/fortemi-sub000/internal/core/domain"
)

var (
	searchLimit           int
	searchOffset          int
	searchMode            string
	searchTags            []string
	searchAnyTags         []string
	searchExcludeTags     []string
	searchSchemes         []string
	searchRequireSchemes  []string
	searchExcludeSchemes  []string
	searchMinTags         int
	searchExcludeUntagged bool
	searchNoDedup         bool
	searchFusion          string
	searchJSON            bool
)

var searchCmd = &cobra.Command{
	Use:   "search [query]",
	Short: "Search indexed documents",
	Long: `Searches the knowledge base.

Modes:
  lexical  - BM25 keyword search only
  vector   - semantic search over embeddings
  hybrid   - both lists fused with RRF or RSF (default)

Tag filters are strict: documents that fail them are removed before ranking.
Tags are written as scheme:notation, bare tags use the "tag" scheme.`,
	Args: cobra.ExactArgs(1),
	RunE: runSearch,
}

func init() {
	searchCmd.Flags().IntVarP(&searchLimit, "limit", "n", 10, "maximum number of results")
	searchCmd.Flags().IntVar(&searchOffset, "offset", 0, "number of results to skip")
	searchCmd.Flags().StringVarP(&searchMode, "mode", "m", "", "search mode: lexical, vector or hybrid")
	searchCmd.Flags().StringSliceVarP(&searchTags, "tag", "t", nil, "require tag (repeatable, all must match)")
	searchCmd.Flags().StringSliceVar(&searchAnyTags, "any-tag", nil, "require at least one of these tags")
	searchCmd.Flags().StringSliceVar(&searchExcludeTags, "exclude-tag", nil, "reject documents with this tag")
	searchCmd.Flags().StringSliceVar(&searchSchemes, "scheme", nil, "only count tags from these schemes")
	searchCmd.Flags().StringSliceVar(&searchRequireSchemes, "require-scheme", nil, "only admit documents whose tags all belong to these schemes")
	searchCmd.Flags().StringSliceVar(&searchExcludeSchemes, "exclude-scheme", nil, "reject documents with tags from this scheme")
	searchCmd.Flags().IntVar(&searchMinTags, "min-tags", 0, "minimum number of counted tags")
	searchCmd.Flags().BoolVar(&searchExcludeUntagged, "exclude-untagged", false, "reject documents without counted tags")
	searchCmd.Flags().BoolVar(&searchNoDedup, "no-dedup", false, "show every matching chunk instead of one per note")
	searchCmd.Flags().StringVar(&searchFusion, "fusion", "", "fusion strategy override: rrf or rsf")
	searchCmd.Flags().BoolVar(&searchJSON, "json", false, "output results as JSON")
	rootCmd.AddCommand(searchCmd)
}

func runSearch(cmd *cobra.Command, args []string) error {
	query := args[0]

	if searchService == nil {
		return errors.New("search service not configured")
	}

	opts, err := buildSearchOptions()
	if err != nil {
		return err
	}

	resp, err := searchService.Search(commandContext(cmd), query, opts)
	if err != nil {
		return fmt.Errorf("search failed: %w", err)
	}

	if searchJSON {
		return outputSearchJSON(cmd, resp)
	}

	return outputSearchTable(cmd, resp)
}

func buildSearchOptions() (domain.SearchOptions, error) {
	opts := domain.SearchOptions{
		Limit:  searchLimit,
		Offset: searchOffset,
		Filter: buildFilter(),
	}

	if searchMode != "" {
		mode := domain.SearchMode(strings.ToLower(searchMode))
		if !mode.IsValid() {
			return opts, fmt.Errorf("invalid mode %q: use lexical, vector or hybrid", searchMode)
		}
		opts.Mode = mode
	}

	if searchNoDedup {
		opts.Dedup = domain.DedupOff
	}

	if searchFusion != "" {
		strategy := domain.FusionStrategy(strings.ToLower(searchFusion))
		if !strategy.IsValid() {
			return opts, fmt.Errorf("invalid fusion strategy %q: use rrf or rsf", searchFusion)
		}
		fusion := domain.DefaultFusionConfig()
		if settingsService != nil {
			if settings, err := settingsService.Get(); err == nil {
				fusion = settings.Fusion
			}
		}
		fusion.Strategy = strategy
		opts.Fusion = &fusion
	}

	return opts, nil
}

func buildFilter() *domain.StrictFilter {
	f := &domain.StrictFilter{
		RequiredTags:    searchTags,
		AnyTags:         searchAnyTags,
		ExcludedTags:    searchExcludeTags,
		AllowedSchemes:  searchSchemes,
		RequiredSchemes: searchRequireSchemes,
		ExcludedSchemes: searchExcludeSchemes,
		MinTagCount:     searchMinTags,
		ExcludeUntagged: searchExcludeUntagged,
	}
	if f.IsEmpty() {
		return nil
	}
	return f
}

func outputSearchJSON(cmd *cobra.Command, resp *domain.SearchResponse) error {
	data, err := json.MarshalIndent(resp, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal results: %w", err)
	}
	cmd.Println(string(data))
	return nil
}

func outputSearchTable(cmd *cobra.Command, resp *domain.SearchResponse) error {
	if resp.Degraded() {
		cmd.Printf("Note: %s unavailable, showing %s results\n\n",
			strings.Join(resp.Unavailable, ", "), resp.Mode)
	}

	if len(resp.Results) == 0 {
		cmd.Println("No results found.")
		return nil
	}

	cmd.Printf("Results (%d of %d, %s):\n", len(resp.Results), resp.Total, describeFusion(resp))
	cmd.Println()
	for i := range resp.Results {
		r := &resp.Results[i]
		title := r.Title
		if title == "" {
			title = r.DocumentID
		}

		cmd.Printf("  [%d] %s (%.3f)\n", i+1, title, r.Score)
		if r.Chain != nil && r.Chain.ChunksMatched > 1 {
			cmd.Printf("      %d of %d chunks matched, best is #%d\n",
				r.Chain.ChunksMatched, r.Chain.TotalChunks, r.Chain.BestChunkSequence)
		}
		if len(r.Tags) > 0 {
			cmd.Printf("      Tags: %s\n", strings.Join(r.Tags, ", "))
		}
		if r.Snippet != "" {
			cmd.Printf("      %s\n", r.Snippet)
		}
		cmd.Println()
	}

	return nil
}

func describeFusion(resp *domain.SearchResponse) string {
	if resp.Mode != domain.SearchModeHybrid {
		return string(resp.Mode)
	}
	if resp.Strategy == domain.FusionRSF {
		return fmt.Sprintf("hybrid rsf %.2f/%.2f", resp.Weights.Lexical, resp.Weights.Semantic)
	}
	return fmt.Sprintf("hybrid rrf k=%d", resp.EffectiveK)
}
