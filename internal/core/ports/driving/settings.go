package driving

import "github.com/Fortemi/fortemi-sub000/internal/core/domain"

// SettingsService manages application settings.
type SettingsService interface {
	// Get retrieves current application settings.
	Get() (*domain.AppSettings, error)

	// Save persists application settings.
	Save(settings *domain.AppSettings) error

	// SetSearchMode updates the default search mode.
	SetSearchMode(mode domain.SearchMode) error

	// SetFusionStrategy updates the default fusion strategy.
	SetFusionStrategy(strategy domain.FusionStrategy) error

	// SetEmbedding configures the embedding backend.
	SetEmbedding(baseURL, model string) error

	// Validate checks that current settings are within supported ranges.
	Validate() error

	// GetDefaults returns default settings.
	GetDefaults() domain.AppSettings
}
