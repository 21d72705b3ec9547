package domain

import (
	"errors"
	"fmt"
)

// Domain errors represent business logic failures.
// These are distinct from infrastructure errors.
var (
	// ErrNotFound indicates a requested entity does not exist.
	ErrNotFound = errors.New("not found")

	// ErrAlreadyExists indicates an entity already exists.
	ErrAlreadyExists = errors.New("already exists")

	// ErrInvalidInput indicates malformed or invalid input.
	ErrInvalidInput = errors.New("invalid input")

	// ErrUnknownScheme indicates a filter references a vocabulary scheme
	// that does not exist. It always wraps ErrInvalidInput.
	ErrUnknownScheme = fmt.Errorf("unknown vocabulary scheme: %w", ErrInvalidInput)

	// ErrEmbeddingUnavailable indicates the embedding service is not configured
	// or a document has no embedding. Vector search and linking are disabled.
	ErrEmbeddingUnavailable = errors.New("embedding service unavailable")

	// ErrSearchUnavailable indicates the lexical search engine failed or is not configured.
	ErrSearchUnavailable = errors.New("search engine unavailable")

	// ErrVectorIndexUnavailable indicates the vector index failed or is not configured.
	ErrVectorIndexUnavailable = errors.New("vector index unavailable")

	// ErrFilterUnavailable indicates a strict filter could not be evaluated.
	// Queries carrying the filter are rejected rather than run unfiltered.
	ErrFilterUnavailable = errors.New("strict filter unavailable")

	// Graph pipeline errors.

	// ErrPipelineRunning indicates a graph maintenance run is already active.
	ErrPipelineRunning = errors.New("graph maintenance already running")

	// ErrPipelineStep indicates a graph maintenance stage failed.
	ErrPipelineStep = errors.New("pipeline step failed")

	// ErrPipelineCancelled indicates a run was cancelled between stages.
	ErrPipelineCancelled = errors.New("pipeline cancelled")

	// ErrPipelineInterrupted marks a run whose owning process stopped
	// reporting before it finished.
	ErrPipelineInterrupted = errors.New("pipeline interrupted")

	// ErrGraphInvariant indicates the edge set violates a structural invariant,
	// such as a semantic edge without its reciprocal.
	ErrGraphInvariant = errors.New("graph invariant violation")

	// ErrConflict indicates an optimistic concurrency check failed.
	ErrConflict = errors.New("concurrent modification")
)
