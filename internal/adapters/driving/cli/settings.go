package cli

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Fortemi/fortemi-sub000/internal/core/domain"
)

var settingsCmd = &cobra.Command{
	Use:   "settings",
	Short: "Manage application settings",
	Long: `View and configure search, fusion, linking and graph settings.

Settings are stored in ~/.fortemi/config.toml. A running 'mcp serve'
picks up edits to the file without a restart.`,
	RunE: runSettingsShow,
}

var settingsShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current settings",
	RunE:  runSettingsShow,
}

var settingsModeCmd = &cobra.Command{
	Use:   "mode [mode]",
	Short: "Set the default search mode",
	Long: `Set the default search mode.

Available modes:
  lexical  - keyword search only (no setup required)
  vector   - semantic search only (requires an embedding backend)
  hybrid   - lexical and semantic fused (falls back to lexical without embeddings)`,
	Args: cobra.ExactArgs(1),
	RunE: runSettingsMode,
}

var settingsFusionCmd = &cobra.Command{
	Use:   "fusion [strategy]",
	Short: "Set the hybrid fusion strategy",
	Long: `Set the rank fusion strategy used by hybrid search.

  rrf  - reciprocal rank fusion with an adaptive k constant
  rsf  - relative score fusion with adaptive lexical/semantic weights`,
	Args: cobra.ExactArgs(1),
	RunE: runSettingsFusion,
}

var settingsEmbeddingCmd = &cobra.Command{
	Use:   "embedding [base-url] [model]",
	Short: "Configure the Ollama embedding backend",
	Long: `Configure the embedding backend used for vector search and linking.
Pass no arguments to disable it.`,
	Args: cobra.RangeArgs(0, 2),
	RunE: runSettingsEmbedding,
}

var settingsValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check that settings are within supported ranges",
	Args:  cobra.NoArgs,
	RunE:  runSettingsValidate,
}

func init() {
	settingsCmd.AddCommand(settingsShowCmd)
	settingsCmd.AddCommand(settingsModeCmd)
	settingsCmd.AddCommand(settingsFusionCmd)
	settingsCmd.AddCommand(settingsEmbeddingCmd)
	settingsCmd.AddCommand(settingsValidateCmd)
	rootCmd.AddCommand(settingsCmd)
}

func runSettingsShow(cmd *cobra.Command, _ []string) error {
	if settingsService == nil {
		return errors.New("settings service not configured")
	}

	settings, err := settingsService.Get()
	if err != nil {
		return fmt.Errorf("failed to load settings: %w", err)
	}

	cmd.Println("Search")
	cmd.Printf("  Mode:          %s\n", settings.Search.Mode.Description())
	cmd.Printf("  Dedup:         %v\n", settings.Search.Dedup)
	cmd.Printf("  Limit:         %d (max %d)\n", settings.Search.DefaultLimit, settings.Search.MaxLimit)
	cmd.Println()

	cmd.Println("Fusion")
	cmd.Printf("  Strategy:      %s\n", strings.ToUpper(settings.Fusion.Strategy.String()))
	cmd.Printf("  RRF k:         %d (adaptive %v, range %d-%d)\n",
		settings.Fusion.RRF.K, settings.Fusion.RRF.Adaptive, settings.Fusion.RRF.MinK, settings.Fusion.RRF.MaxK)
	cmd.Printf("  RSF weights:   %.2f/%.2f (adaptive %v)\n",
		settings.Fusion.RSF.Weights.Lexical, settings.Fusion.RSF.Weights.Semantic, settings.Fusion.RSF.Adaptive)
	cmd.Println()

	cmd.Println("Linking")
	cmd.Printf("  k:             %d\n", settings.Linking.K)
	cmd.Printf("  Floor:         %.2f\n", settings.Linking.SimilarityFloor)
	cmd.Printf("  Tag weight:    %.2f\n", settings.Linking.TagWeight)
	cmd.Println()

	cmd.Println("Graph")
	cmd.Printf("  Gamma:         %.2f\n", settings.Graph.Gamma)
	cmd.Printf("  SNN threshold: %.2f (k %d-%d)\n", settings.Graph.SNNThreshold, settings.Graph.KMin, settings.Graph.KMax)
	cmd.Printf("  Resolution:    %.2f\n", settings.Graph.Resolution)
	cmd.Printf("  Scheduler:     %v (every %s, spacing %s)\n",
		settings.Scheduler.Enabled, settings.Scheduler.PollInterval, settings.Scheduler.MinSpacing)
	cmd.Println()

	cmd.Println("Embedding")
	if settings.Embedding.IsConfigured() {
		cmd.Printf("  Backend:       %s (%s)\n", settings.Embedding.BaseURL, settings.Embedding.Model)
	} else {
		cmd.Println("  Backend:       not configured")
	}
	cmd.Printf("  Dimensions:    %d\n", settings.VectorIndex.Dimensions)

	return nil
}

func runSettingsMode(cmd *cobra.Command, args []string) error {
	if settingsService == nil {
		return errors.New("settings service not configured")
	}

	mode := domain.SearchMode(strings.ToLower(args[0]))
	if err := settingsService.SetSearchMode(mode); err != nil {
		return fmt.Errorf("failed to set search mode: %w", err)
	}

	cmd.Printf("Search mode set to: %s\n", mode.Description())
	return nil
}

func runSettingsFusion(cmd *cobra.Command, args []string) error {
	if settingsService == nil {
		return errors.New("settings service not configured")
	}

	strategy := domain.FusionStrategy(strings.ToLower(args[0]))
	if err := settingsService.SetFusionStrategy(strategy); err != nil {
		return fmt.Errorf("failed to set fusion strategy: %w", err)
	}

	cmd.Printf("Fusion strategy set to: %s\n", strings.ToUpper(strategy.String()))
	return nil
}

func runSettingsEmbedding(cmd *cobra.Command, args []string) error {
	if settingsService == nil {
		return errors.New("settings service not configured")
	}

	var baseURL, model string
	if len(args) > 0 {
		baseURL = args[0]
		model = "nomic-embed-text"
	}
	if len(args) > 1 {
		model = args[1]
	}

	if err := settingsService.SetEmbedding(baseURL, model); err != nil {
		return fmt.Errorf("failed to configure embedding: %w", err)
	}

	if baseURL == "" {
		cmd.Println("Embedding backend disabled.")
		return nil
	}
	cmd.Printf("Embedding backend set to %s (%s)\n", baseURL, model)
	return nil
}

func runSettingsValidate(cmd *cobra.Command, _ []string) error {
	if settingsService == nil {
		return errors.New("settings service not configured")
	}

	if err := settingsService.Validate(); err != nil {
		return fmt.Errorf("invalid settings: %w", err)
	}

	cmd.Println("Settings are valid.")
	return nil
}
