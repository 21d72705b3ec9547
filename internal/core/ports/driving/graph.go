package driving

import (
	"context"

	"github.com/Fortemi/fortemi-sub000/internal/core/domain"
)

// GraphService exposes read access to the similarity graph.
type GraphService interface {
	// View returns the bounded neighbourhood of a document.
	// Returns domain.ErrNotFound if the document does not exist.
	View(ctx context.Context, documentID string, opts domain.GraphViewOptions) (*domain.GraphView, error)

	// Communities returns the current community assignments.
	Communities(ctx context.Context) ([]domain.CommunityAssignment, error)

	// Snapshots returns recent diagnostics snapshots, newest first.
	Snapshots(ctx context.Context, limit int) ([]domain.DiagnosticsSnapshot, error)
}
