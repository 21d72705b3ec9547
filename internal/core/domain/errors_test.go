package domain

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

// TestErrors_Existence tests that all error variables exist and are not nil
func TestErrors_Existence(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{"ErrNotFound", ErrNotFound},
		{"ErrAlreadyExists", ErrAlreadyExists},
		{"ErrInvalidInput", ErrInvalidInput},
		{"ErrUnknownScheme", ErrUnknownScheme},
		{"ErrEmbeddingUnavailable", ErrEmbeddingUnavailable},
		{"ErrSearchUnavailable", ErrSearchUnavailable},
		{"ErrVectorIndexUnavailable", ErrVectorIndexUnavailable},
		{"ErrFilterUnavailable", ErrFilterUnavailable},
		{"ErrPipelineRunning", ErrPipelineRunning},
		{"ErrPipelineStep", ErrPipelineStep},
		{"ErrPipelineCancelled", ErrPipelineCancelled},
		{"ErrPipelineInterrupted", ErrPipelineInterrupted},
		{"ErrGraphInvariant", ErrGraphInvariant},
		{"ErrConflict", ErrConflict},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.NotNil(t, tt.err)
			assert.NotEmpty(t, tt.err.Error())
		})
	}
}

func TestErrUnknownScheme_WrapsInvalidInput(t *testing.T) {
	assert.True(t, errors.Is(ErrUnknownScheme, ErrInvalidInput))

	wrapped := fmt.Errorf("prepare filter: %w", ErrUnknownScheme)
	assert.True(t, errors.Is(wrapped, ErrUnknownScheme))
	assert.True(t, errors.Is(wrapped, ErrInvalidInput))
	assert.False(t, errors.Is(wrapped, ErrFilterUnavailable))
}

func TestErrFilterUnavailable_IsNotInputError(t *testing.T) {
	assert.False(t, errors.Is(ErrFilterUnavailable, ErrInvalidInput))
}

func TestErrNotFound(t *testing.T) {
	assert.Equal(t, "not found", ErrNotFound.Error())
	assert.True(t, errors.Is(ErrNotFound, ErrNotFound))
	assert.False(t, errors.Is(ErrNotFound, ErrAlreadyExists))
}
