package services

import (
	"fmt"
	"time"

	"github.com/Fortemi/fortemi-sub000/internal/core/domain"
	"github.com/Fortemi/fortemi-sub000/internal/core/ports/driven"
	"github.com/Fortemi/fortemi-sub000/internal/core/ports/driving"
)

// Ensure SettingsService implements the interface.
var _ driving.SettingsService = (*SettingsService)(nil)

// Config keys for settings storage.
const (
	keySearchMode      = "search.mode"
	keySearchDedup     = "search.dedup"
	keySearchLimit     = "search.default_limit"
	keySearchMaxLimit  = "search.max_limit"
	keySearchOverfetch = "search.overfetch"

	keyFusionStrategy   = "fusion.strategy"
	keyFusionK          = "fusion.rrf_k"
	keyFusionAdaptive   = "fusion.adaptive"
	keyFusionMinK       = "fusion.rrf_min_k"
	keyFusionMaxK       = "fusion.rrf_max_k"
	keyFusionLexWeight  = "fusion.lexical_weight"
	keyFusionSemWeight  = "fusion.semantic_weight"
	keyFusionRSFAdaptiv = "fusion.rsf_adaptive"

	keyLinkK           = "linking.k"
	keyLinkFloor       = "linking.similarity_floor"
	keyLinkTagWeight   = "linking.tag_weight"
	keyLinkPool        = "linking.candidate_pool"
	keyLinkConcurrency = "linking.concurrency"
	keyLinkFallback    = "linking.isolation_fallback"

	keyGraphGamma      = "graph.gamma"
	keyGraphSNN        = "graph.snn_threshold"
	keyGraphKMin       = "graph.k_min"
	keyGraphKMax       = "graph.k_max"
	keyGraphQ          = "graph.sparsify_q"
	keyGraphResolution = "graph.resolution"
	keyGraphRetries    = "graph.apply_retries"

	keySchedEnabled = "scheduler.enabled"
	keySchedPoll    = "scheduler.poll_interval"
	keySchedSpacing = "scheduler.min_spacing"
	keySchedHistory = "scheduler.history_limit"

	keyVectorDims   = "vector_index.dimensions"
	keyVectorM      = "vector_index.m"
	keyVectorEfCons = "vector_index.ef_construction"
	keyVectorEfSrch = "vector_index.ef_search"
	keyVectorRecall = "vector_index.recall_target"

	keyEmbedBaseURL = "embedding.base_url"
	keyEmbedModel   = "embedding.model"

	keyChunkSize    = "chunking.size"
	keyChunkOverlap = "chunking.overlap"
)

// SettingsService manages application settings.
type SettingsService struct {
	configStore driven.ConfigStore
}

// NewSettingsService creates a new settings service.
func NewSettingsService(configStore driven.ConfigStore) *SettingsService {
	return &SettingsService{configStore: configStore}
}

// Get retrieves current application settings. Missing or malformed keys
// fall back to defaults.
func (s *SettingsService) Get() (*domain.AppSettings, error) {
	d := domain.DefaultAppSettings()

	settings := &domain.AppSettings{
		Search: domain.SearchSettings{
			Mode:         s.getSearchMode(d.Search.Mode),
			Dedup:        s.getBool(keySearchDedup, d.Search.Dedup),
			DefaultLimit: s.getInt(keySearchLimit, d.Search.DefaultLimit),
			MaxLimit:     s.getInt(keySearchMaxLimit, d.Search.MaxLimit),
			Overfetch:    s.getInt(keySearchOverfetch, d.Search.Overfetch),
		},
		Fusion: domain.FusionConfig{
			Strategy: s.getFusionStrategy(d.Fusion.Strategy),
			RRF: domain.RRFParams{
				K:                s.getInt(keyFusionK, d.Fusion.RRF.K),
				Adaptive:         s.getBool(keyFusionAdaptive, d.Fusion.RRF.Adaptive),
				MinK:             s.getInt(keyFusionMinK, d.Fusion.RRF.MinK),
				MaxK:             s.getInt(keyFusionMaxK, d.Fusion.RRF.MaxK),
				ShortMultiplier:  d.Fusion.RRF.ShortMultiplier,
				LongMultiplier:   d.Fusion.RRF.LongMultiplier,
				QuotedMultiplier: d.Fusion.RRF.QuotedMultiplier,
			},
			RSF: domain.RSFParams{
				Weights: domain.FusionWeights{
					Lexical:  s.getFloat(keyFusionLexWeight, d.Fusion.RSF.Weights.Lexical),
					Semantic: s.getFloat(keyFusionSemWeight, d.Fusion.RSF.Weights.Semantic),
				},
				Adaptive: s.getBool(keyFusionRSFAdaptiv, d.Fusion.RSF.Adaptive),
			},
		},
		Linking: domain.LinkSettings{
			K:                 s.getInt(keyLinkK, d.Linking.K),
			SimilarityFloor:   s.getFloat(keyLinkFloor, d.Linking.SimilarityFloor),
			TagWeight:         s.getFloat(keyLinkTagWeight, d.Linking.TagWeight),
			CandidatePool:     s.getInt(keyLinkPool, d.Linking.CandidatePool),
			Concurrency:       s.getInt(keyLinkConcurrency, d.Linking.Concurrency),
			IsolationFallback: s.getBool(keyLinkFallback, d.Linking.IsolationFallback),
		},
		Graph: domain.GraphSettings{
			Gamma:        s.getFloat(keyGraphGamma, d.Graph.Gamma),
			SNNThreshold: s.getFloat(keyGraphSNN, d.Graph.SNNThreshold),
			KMin:         s.getInt(keyGraphKMin, d.Graph.KMin),
			KMax:         s.getInt(keyGraphKMax, d.Graph.KMax),
			SparsifyQ:    s.getInt(keyGraphQ, d.Graph.SparsifyQ),
			Resolution:   s.getFloat(keyGraphResolution, d.Graph.Resolution),
			ApplyRetries: s.getInt(keyGraphRetries, d.Graph.ApplyRetries),
		},
		Scheduler: domain.SchedulerConfig{
			Enabled:      s.getBool(keySchedEnabled, d.Scheduler.Enabled),
			PollInterval: s.getDuration(keySchedPoll, d.Scheduler.PollInterval),
			MinSpacing:   s.getDuration(keySchedSpacing, d.Scheduler.MinSpacing),
			HistoryLimit: s.getInt(keySchedHistory, d.Scheduler.HistoryLimit),
		},
		VectorIndex: domain.VectorIndexSettings{
			Dimensions:     s.getInt(keyVectorDims, d.VectorIndex.Dimensions),
			M:              s.getInt(keyVectorM, d.VectorIndex.M),
			EfConstruction: s.getInt(keyVectorEfCons, d.VectorIndex.EfConstruction),
			EfSearch:       s.getInt(keyVectorEfSrch, d.VectorIndex.EfSearch),
			RecallTarget:   s.getRecallTarget(d.VectorIndex.RecallTarget),
		},
		Embedding: domain.EmbeddingSettings{
			BaseURL: s.configStore.GetString(keyEmbedBaseURL), // No default, empty disables embedding
			Model:   s.configStore.GetString(keyEmbedModel),
		},
		Chunking: domain.ChunkingSettings{
			Size:    s.getInt(keyChunkSize, d.Chunking.Size),
			Overlap: s.getInt(keyChunkOverlap, d.Chunking.Overlap),
		},
	}

	return settings, nil
}

// Save validates and persists application settings.
func (s *SettingsService) Save(settings *domain.AppSettings) error {
	if err := settings.Validate(); err != nil {
		return err
	}

	values := []struct {
		key   string
		value any
	}{
		{keySearchMode, settings.Search.Mode.String()},
		{keySearchDedup, settings.Search.Dedup},
		{keySearchLimit, settings.Search.DefaultLimit},
		{keySearchMaxLimit, settings.Search.MaxLimit},
		{keySearchOverfetch, settings.Search.Overfetch},

		{keyFusionStrategy, settings.Fusion.Strategy.String()},
		{keyFusionK, settings.Fusion.RRF.K},
		{keyFusionAdaptive, settings.Fusion.RRF.Adaptive},
		{keyFusionMinK, settings.Fusion.RRF.MinK},
		{keyFusionMaxK, settings.Fusion.RRF.MaxK},
		{keyFusionLexWeight, settings.Fusion.RSF.Weights.Lexical},
		{keyFusionSemWeight, settings.Fusion.RSF.Weights.Semantic},
		{keyFusionRSFAdaptiv, settings.Fusion.RSF.Adaptive},

		{keyLinkK, settings.Linking.K},
		{keyLinkFloor, settings.Linking.SimilarityFloor},
		{keyLinkTagWeight, settings.Linking.TagWeight},
		{keyLinkPool, settings.Linking.CandidatePool},
		{keyLinkConcurrency, settings.Linking.Concurrency},
		{keyLinkFallback, settings.Linking.IsolationFallback},

		{keyGraphGamma, settings.Graph.Gamma},
		{keyGraphSNN, settings.Graph.SNNThreshold},
		{keyGraphKMin, settings.Graph.KMin},
		{keyGraphKMax, settings.Graph.KMax},
		{keyGraphQ, settings.Graph.SparsifyQ},
		{keyGraphResolution, settings.Graph.Resolution},
		{keyGraphRetries, settings.Graph.ApplyRetries},

		{keySchedEnabled, settings.Scheduler.Enabled},
		{keySchedPoll, settings.Scheduler.PollInterval.String()},
		{keySchedSpacing, settings.Scheduler.MinSpacing.String()},
		{keySchedHistory, settings.Scheduler.HistoryLimit},

		{keyVectorDims, settings.VectorIndex.Dimensions},
		{keyVectorM, settings.VectorIndex.M},
		{keyVectorEfCons, settings.VectorIndex.EfConstruction},
		{keyVectorEfSrch, settings.VectorIndex.EfSearch},
		{keyVectorRecall, string(settings.VectorIndex.RecallTarget)},

		{keyEmbedBaseURL, settings.Embedding.BaseURL},
		{keyEmbedModel, settings.Embedding.Model},

		{keyChunkSize, settings.Chunking.Size},
		{keyChunkOverlap, settings.Chunking.Overlap},
	}

	for _, v := range values {
		if err := s.configStore.Set(v.key, v.value); err != nil {
			return fmt.Errorf("save %s: %w", v.key, err)
		}
	}
	return nil
}

// SetSearchMode updates the default search mode.
func (s *SettingsService) SetSearchMode(mode domain.SearchMode) error {
	if !mode.IsValid() {
		return fmt.Errorf("%w: search mode %q", domain.ErrInvalidInput, mode)
	}

	settings, err := s.Get()
	if err != nil {
		return err
	}
	settings.Search.Mode = mode
	return s.Save(settings)
}

// SetFusionStrategy updates the default fusion strategy.
func (s *SettingsService) SetFusionStrategy(strategy domain.FusionStrategy) error {
	if !strategy.IsValid() {
		return fmt.Errorf("%w: fusion strategy %q", domain.ErrInvalidInput, strategy)
	}

	settings, err := s.Get()
	if err != nil {
		return err
	}
	settings.Fusion.Strategy = strategy
	return s.Save(settings)
}

// SetEmbedding configures the embedding backend. An empty baseURL
// disables query embedding.
func (s *SettingsService) SetEmbedding(baseURL, model string) error {
	if baseURL != "" && model == "" {
		return fmt.Errorf("%w: embedding model required", domain.ErrInvalidInput)
	}

	settings, err := s.Get()
	if err != nil {
		return err
	}
	settings.Embedding.BaseURL = baseURL
	settings.Embedding.Model = model
	return s.Save(settings)
}

// Validate checks that current settings are within supported ranges.
func (s *SettingsService) Validate() error {
	settings, err := s.Get()
	if err != nil {
		return err
	}
	return settings.Validate()
}

// GetDefaults returns default settings.
func (s *SettingsService) GetDefaults() domain.AppSettings {
	return domain.DefaultAppSettings()
}

// Helper methods for reading config with defaults.

func (s *SettingsService) getString(key, defaultVal string) string {
	val := s.configStore.GetString(key)
	if val == "" {
		return defaultVal
	}
	return val
}

func (s *SettingsService) getInt(key string, defaultVal int) int {
	val := s.configStore.GetInt(key)
	if val == 0 {
		return defaultVal
	}
	return val
}

func (s *SettingsService) getBool(key string, defaultVal bool) bool {
	if _, exists := s.configStore.Get(key); !exists {
		return defaultVal
	}
	return s.configStore.GetBool(key)
}

// getFloat keeps an explicit zero, which is a meaningful weight.
func (s *SettingsService) getFloat(key string, defaultVal float64) float64 {
	if _, exists := s.configStore.Get(key); !exists {
		return defaultVal
	}
	return s.configStore.GetFloat(key)
}

func (s *SettingsService) getDuration(key string, defaultVal time.Duration) time.Duration {
	val := s.getString(key, "")
	if val == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return defaultVal
	}
	return d
}

func (s *SettingsService) getSearchMode(defaultVal domain.SearchMode) domain.SearchMode {
	mode := domain.SearchMode(s.configStore.GetString(keySearchMode))
	if !mode.IsValid() {
		return defaultVal
	}
	return mode
}

func (s *SettingsService) getRecallTarget(defaultVal domain.RecallTarget) domain.RecallTarget {
	target := domain.RecallTarget(s.configStore.GetString(keyVectorRecall))
	if !target.IsValid() {
		return defaultVal
	}
	return target
}

func (s *SettingsService) getFusionStrategy(defaultVal domain.FusionStrategy) domain.FusionStrategy {
	strategy := domain.FusionStrategy(s.configStore.GetString(keyFusionStrategy))
	if !strategy.IsValid() {
		return defaultVal
	}
	return strategy
}
