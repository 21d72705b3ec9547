package domain

import (
	"fmt"
	"time"
)

// SearchSettings holds search behaviour configuration.
type SearchSettings struct {
	// Mode is the default retrieval mode.
	Mode SearchMode

	// Dedup collapses chunk chains unless a request disables it.
	Dedup bool

	// DefaultLimit applies when a request has no limit.
	DefaultLimit int

	// MaxLimit caps limit plus offset.
	MaxLimit int

	// Overfetch multiplies the per-source candidate count so dedup and
	// pagination still fill a page.
	Overfetch int
}

// LinkSettings configures the link constructor.
type LinkSettings struct {
	// K is the maximum number of neighbours accepted per document.
	K int

	// SimilarityFloor is the minimum blended score for an edge.
	SimilarityFloor float64

	// TagWeight blends tag overlap into the similarity score.
	TagWeight float64

	// CandidatePool is the ANN candidate count; zero derives it from K.
	CandidatePool int

	// Concurrency caps parallel link construction in batches.
	Concurrency int

	// IsolationFallback links the best candidate even below the floor
	// when nothing else qualifies.
	IsolationFallback bool
}

// GraphSettings configures the graph quality pipeline.
type GraphSettings struct {
	// Gamma is the normalization contrast exponent.
	Gamma float64

	// SNNThreshold prunes edges with a lower SNN score.
	SNNThreshold float64

	// KMin and KMax clamp the SNN neighbourhood size.
	KMin int
	KMax int

	// SparsifyQ is the pathfinder q parameter. Only 2 (RNG) is supported.
	SparsifyQ int

	// Resolution is the Louvain resolution; higher yields smaller communities.
	Resolution float64

	// ApplyRetries bounds retries after an edge version conflict.
	ApplyRetries int
}

// VectorIndexSettings holds ANN index configuration.
type VectorIndexSettings struct {
	// Dimensions is the embedding vector size.
	Dimensions int

	// M is the HNSW connectivity.
	M int

	// EfConstruction is the build-time beam width.
	EfConstruction int

	// EfSearch is the query-time beam width.
	EfSearch int

	// RecallTarget, when set, derives the query beam width from the target
	// and the index size instead of using EfSearch.
	RecallTarget RecallTarget
}

// RecallTarget trades ANN recall against query latency.
type RecallTarget string

// Available recall targets.
const (
	RecallFast       RecallTarget = "fast"
	RecallBalanced   RecallTarget = "balanced"
	RecallHigh       RecallTarget = "high"
	RecallExhaustive RecallTarget = "exhaustive"
)

// IsValid returns true if the target is recognised.
func (r RecallTarget) IsValid() bool {
	return r.BaseEf() > 0
}

// BaseEf is the beam width for the target on indexes of up to 10k vectors.
func (r RecallTarget) BaseEf() int {
	switch r {
	case RecallFast:
		return 20
	case RecallBalanced:
		return 40
	case RecallHigh:
		return 100
	case RecallExhaustive:
		return 200
	default:
		return 0
	}
}

// EmbeddingSettings configures the external embedding backend.
type EmbeddingSettings struct {
	// BaseURL is the Ollama endpoint. Empty disables query embedding.
	BaseURL string

	// Model is the embedding model name.
	Model string
}

// IsConfigured returns true if an embedding backend is set.
func (e EmbeddingSettings) IsConfigured() bool {
	return e.BaseURL != "" && e.Model != ""
}

// ChunkingSettings controls how long notes are split into chains.
type ChunkingSettings struct {
	// Size is the maximum characters per chunk.
	Size int

	// Overlap is the characters shared between adjacent chunks.
	Overlap int
}

// AppSettings holds all application settings.
type AppSettings struct {
	Search      SearchSettings
	Fusion      FusionConfig
	Linking     LinkSettings
	Graph       GraphSettings
	Scheduler   SchedulerConfig
	VectorIndex VectorIndexSettings
	Embedding   EmbeddingSettings
	Chunking    ChunkingSettings
}

// DefaultAppSettings returns settings with sensible defaults.
// The embedding backend is left unconfigured.
func DefaultAppSettings() AppSettings {
	return AppSettings{
		Search: SearchSettings{
			Mode:         SearchModeHybrid,
			Dedup:        true,
			DefaultLimit: 20,
			MaxLimit:     200,
			Overfetch:    3,
		},
		Fusion: DefaultFusionConfig(),
		Linking: LinkSettings{
			K:                 8,
			SimilarityFloor:   0.70,
			TagWeight:         0.3,
			Concurrency:       4,
			IsolationFallback: true,
		},
		Graph: GraphSettings{
			Gamma:        1.0,
			SNNThreshold: 0.10,
			KMin:         5,
			KMax:         30,
			SparsifyQ:    2,
			Resolution:   1.0,
			ApplyRetries: 3,
		},
		Scheduler: DefaultSchedulerConfig(),
		VectorIndex: VectorIndexSettings{
			Dimensions:     768,
			M:              16,
			EfConstruction: 200,
			EfSearch:       50,
		},
		Embedding: EmbeddingSettings{},
		Chunking: ChunkingSettings{
			Size:    4000,
			Overlap: 200,
		},
	}
}

// Validate checks that settings are within supported ranges.
func (s AppSettings) Validate() error {
	if !s.Search.Mode.IsValid() {
		return fmt.Errorf("%w: search mode %q", ErrInvalidInput, s.Search.Mode)
	}
	if !s.Fusion.Strategy.IsValid() {
		return fmt.Errorf("%w: fusion strategy %q", ErrInvalidInput, s.Fusion.Strategy)
	}
	if s.Fusion.RRF.K <= 0 || s.Fusion.RRF.MinK <= 0 || s.Fusion.RRF.MinK > s.Fusion.RRF.MaxK {
		return fmt.Errorf("%w: rrf k=%d range [%d,%d]",
			ErrInvalidInput, s.Fusion.RRF.K, s.Fusion.RRF.MinK, s.Fusion.RRF.MaxK)
	}
	if s.Linking.K <= 0 {
		return fmt.Errorf("%w: linking k must be positive", ErrInvalidInput)
	}
	if s.Linking.SimilarityFloor < 0 || s.Linking.SimilarityFloor > 1 {
		return fmt.Errorf("%w: similarity floor %.2f outside [0,1]", ErrInvalidInput, s.Linking.SimilarityFloor)
	}
	if s.Linking.TagWeight < 0 || s.Linking.TagWeight > 1 {
		return fmt.Errorf("%w: tag weight %.2f outside [0,1]", ErrInvalidInput, s.Linking.TagWeight)
	}
	if s.Graph.Gamma <= 0 {
		return fmt.Errorf("%w: gamma must be positive", ErrInvalidInput)
	}
	if s.Graph.KMin <= 0 || s.Graph.KMin > s.Graph.KMax {
		return fmt.Errorf("%w: snn k range [%d,%d]", ErrInvalidInput, s.Graph.KMin, s.Graph.KMax)
	}
	if s.Graph.SparsifyQ != 2 {
		return fmt.Errorf("%w: sparsify q=%d, only q=2 is supported", ErrInvalidInput, s.Graph.SparsifyQ)
	}
	if s.Graph.Resolution <= 0 {
		return fmt.Errorf("%w: resolution must be positive", ErrInvalidInput)
	}
	if s.VectorIndex.RecallTarget != "" && !s.VectorIndex.RecallTarget.IsValid() {
		return fmt.Errorf("%w: recall target %q", ErrInvalidInput, s.VectorIndex.RecallTarget)
	}
	if s.Scheduler.PollInterval < time.Second {
		return fmt.Errorf("%w: scheduler poll interval below 1s", ErrInvalidInput)
	}
	return nil
}
