// Package ollama provides an embedding service adapter using Ollama.
package ollama

import (
	"context"
	"fmt"
	"time"

	"github.com/cloudwego/eino/components/embedding"
	einoollama "github.com/cloudwego/eino-ext/components/embedding/ollama"

	"github.com/Fortemi/fortemi-sub000/internal/core/domain"
	"github.com/Fortemi/fortemi-sub000/internal/core/ports/driven"
)

// Ensure EmbeddingService implements the interface.
var _ driven.EmbeddingService = (*EmbeddingService)(nil)

// Default configuration values.
const (
	DefaultBaseURL    = "http://localhost:11434"
	DefaultModel      = "nomic-embed-text"
	DefaultTimeout    = 30 * time.Second
	DefaultDimensions = 768 // nomic-embed-text default
)

// pingText is embedded by Ping to check the model answers.
const pingText = "ping"

// Config holds configuration for the Ollama embedding service.
type Config struct {
	// BaseURL is the Ollama API base URL (default: http://localhost:11434).
	BaseURL string

	// Model is the embedding model to use (default: nomic-embed-text).
	Model string

	// Timeout bounds each embedding call (default: 30s).
	Timeout time.Duration

	// Dimensions is the expected vector size. Responses of another size
	// are rejected so they never reach the vector index.
	Dimensions int
}

// EmbeddingService generates embeddings using Ollama through the eino
// embedder, adding batch validation and domain error mapping.
type EmbeddingService struct {
	embedder   embedding.Embedder
	baseURL    string
	model      string
	timeout    time.Duration
	dimensions int
}

// NewEmbeddingService creates a new Ollama embedding service.
func NewEmbeddingService(ctx context.Context, cfg Config) (*EmbeddingService, error) {
	cfg = withDefaults(cfg)
	embedder, err := einoollama.NewEmbedder(ctx, &einoollama.EmbeddingConfig{
		BaseURL: cfg.BaseURL,
		Model:   cfg.Model,
	})
	if err != nil {
		return nil, fmt.Errorf("create ollama embedder: %w", err)
	}
	return newWithEmbedder(cfg, embedder), nil
}

func newWithEmbedder(cfg Config, embedder embedding.Embedder) *EmbeddingService {
	cfg = withDefaults(cfg)
	return &EmbeddingService{
		embedder:   embedder,
		baseURL:    cfg.BaseURL,
		model:      cfg.Model,
		timeout:    cfg.Timeout,
		dimensions: cfg.Dimensions,
	}
}

func withDefaults(cfg Config) Config {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Dimensions == 0 {
		cfg.Dimensions = DefaultDimensions
	}
	return cfg
}

// Embed generates a vector embedding for the given text.
func (s *EmbeddingService) Embed(ctx context.Context, text string) ([]float32, error) {
	vectors, err := s.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// EmbedBatch generates embeddings for multiple texts in one request.
// Transport and server failures wrap domain.ErrEmbeddingUnavailable so
// callers can degrade instead of failing.
func (s *EmbeddingService) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	vectors, err := s.embedStrings(ctx, texts)
	if err != nil {
		return nil, err
	}
	if len(vectors) != len(texts) {
		return nil, fmt.Errorf("%w: ollama returned %d embeddings for %d inputs",
			domain.ErrEmbeddingUnavailable, len(vectors), len(texts))
	}

	result := make([][]float32, len(texts))
	for i, vec := range vectors {
		if len(vec) != s.dimensions {
			return nil, fmt.Errorf("%w: embedding has %d dimensions, expected %d",
				domain.ErrInvalidInput, len(vec), s.dimensions)
		}
		out := make([]float32, len(vec))
		for j, v := range vec {
			out[j] = float32(v)
		}
		result[i] = out
	}
	return result, nil
}

func (s *EmbeddingService) embedStrings(ctx context.Context, texts []string) ([][]float64, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	vectors, err := s.embedder.EmbedStrings(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("%w: ollama: %v", domain.ErrEmbeddingUnavailable, err)
	}
	return vectors, nil
}

// Dimensions returns the embedding vector size.
func (s *EmbeddingService) Dimensions() int {
	return s.dimensions
}

// ModelName returns the name of the embedding model being used.
func (s *EmbeddingService) ModelName() string {
	return s.model
}

// Ping checks the model answers a one-word embedding request.
func (s *EmbeddingService) Ping(ctx context.Context) error {
	_, err := s.embedStrings(ctx, []string{pingText})
	return err
}

// Close releases resources.
func (s *EmbeddingService) Close() error {
	return nil
}
