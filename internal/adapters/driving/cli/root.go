// Package cli provides the command-line interface for fortemi.
package cli

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/Fortemi/fortemi-sub000/internal/core/domain"
	"github.com/Fortemi/fortemi-sub000/internal/core/ports/driving"
	"github.com/Fortemi/fortemi-sub000/internal/logger"
)

var (
	version = "dev"
	verbose bool
)

// Services injected by main. Commands check for nil before use so the
// CLI can start even when a backend failed to initialise.
var (
	searchService   driving.SearchService
	documentService driving.DocumentService
	linkService     driving.LinkService
	pipelineService driving.PipelineService
	graphService    driving.GraphService
	settingsService driving.SettingsService
	scheduler       driving.Scheduler

	watchConfig      func(ctx context.Context, onChange func()) error
	onSettingsChange func(settings *domain.AppSettings)
)

// Services bundles the driving ports the CLI dispatches to.
type Services struct {
	Search    driving.SearchService
	Documents driving.DocumentService
	Links     driving.LinkService
	Pipeline  driving.PipelineService
	Graph     driving.GraphService
	Settings  driving.SettingsService
	Scheduler driving.Scheduler

	// WatchConfig blocks watching the configuration source and calls
	// onChange after each reload. Optional.
	WatchConfig func(ctx context.Context, onChange func()) error

	// OnSettingsChange receives freshly loaded settings after a reload.
	OnSettingsChange func(settings *domain.AppSettings)
}

var rootCmd = &cobra.Command{
	Use:   "fortemi",
	Short: "Knowledge base search and graph maintenance",
	Long: `fortemi indexes notes, links related documents into a knowledge graph,
and serves hybrid lexical and semantic search over them.

Run 'fortemi mcp serve' to expose the same operations to AI assistants.`,
	SilenceUsage: true,
	PersistentPreRun: func(_ *cobra.Command, _ []string) {
		logger.SetVerbose(verbose)
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
}

// SetServices wires the application services into the CLI.
func SetServices(s Services) {
	searchService = s.Search
	documentService = s.Documents
	linkService = s.Links
	pipelineService = s.Pipeline
	graphService = s.Graph
	settingsService = s.Settings
	scheduler = s.Scheduler
	watchConfig = s.WatchConfig
	onSettingsChange = s.OnSettingsChange
}

// SetVersion sets the version reported by the version command.
func SetVersion(v string) {
	version = v
}

// Execute runs the root command.
func Execute(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}

// commandContext returns the command's context, falling back to Background
// for commands executed without one (tests call rootCmd.Execute directly).
func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

// reloadSettings pushes the current settings to the live services.
func reloadSettings() {
	if settingsService == nil || onSettingsChange == nil {
		return
	}
	settings, err := settingsService.Get()
	if err != nil {
		logger.Warn("Failed to reload settings: %v", err)
		return
	}
	if err := settings.Validate(); err != nil {
		logger.Warn("Ignoring invalid settings: %v", err)
		return
	}
	onSettingsChange(settings)
	logger.Info("Settings reloaded")
}
