package domain

import "time"

// EdgeKind distinguishes generated similarity links from user links.
type EdgeKind string

// Edge kinds.
const (
	// EdgeSemantic is a similarity link. Always stored as a reciprocal pair.
	EdgeSemantic EdgeKind = "semantic"

	// EdgeExplicit is a directional link created by a user or import.
	EdgeExplicit EdgeKind = "explicit"
)

// IsValid returns true if the kind is recognised.
func (k EdgeKind) IsValid() bool {
	return k == EdgeSemantic || k == EdgeExplicit
}

// Pruning stages recorded in Edge.PrunedBy.
const (
	PrunedBySNN      = "snn"
	PrunedBySparsify = "sparsify"
)

// Link strategies recorded in EdgeMetadata.Strategy.
const (
	LinkStrategyDiverse  = "diverse"
	LinkStrategyFallback = "fallback"
	LinkStrategyExplicit = "explicit"
)

// EdgeMetadata records how an edge was created.
type EdgeMetadata struct {
	Strategy  string  `json:"strategy"`
	K         int     `json:"k"`
	TagWeight float64 `json:"tag_weight"`
}

// Edge is a directed link between two documents.
type Edge struct {
	// ID is the unique identifier for the edge.
	ID string

	// Source is the originating document.
	Source string

	// Target is the linked document.
	Target string

	// Kind is semantic or explicit.
	Kind EdgeKind

	// Score is the raw blended similarity at creation time.
	Score float64

	// Rank is the 1-indexed position among the source's outgoing edges.
	Rank int

	// SNN is the shared-nearest-neighbour score; valid when HasSNN is set.
	SNN    float64
	HasSNN bool

	// Retained is false once a pipeline stage has pruned the edge.
	Retained bool

	// PrunedBy names the stage that pruned the edge.
	PrunedBy string

	// Metadata records strategy, k and tag weight.
	Metadata EdgeMetadata

	// Version increments on every update and guards concurrent writers.
	Version int

	CreatedAt time.Time
	UpdatedAt time.Time
}

// PairKey returns an order-independent key for the edge's endpoints.
func (e *Edge) PairKey() PairKey {
	return NewPairKey(e.Source, e.Target)
}

// PairKey identifies an unordered document pair.
type PairKey struct {
	A, B string
}

// NewPairKey builds a PairKey with A <= B.
func NewPairKey(x, y string) PairKey {
	if x <= y {
		return PairKey{A: x, B: y}
	}
	return PairKey{A: y, B: x}
}

// EdgeUpdate is a pipeline mutation of a single stored edge.
// Version must match the stored version for the update to apply.
type EdgeUpdate struct {
	ID      string
	Version int

	// SNN, when non-nil, sets the SNN score.
	SNN *float64

	// Prune, when true, marks the edge not retained.
	Prune    bool
	PrunedBy string
}

// EdgeQuery selects edges from the store.
type EdgeQuery struct {
	// Kind restricts the edge kind. Empty matches all kinds.
	Kind EdgeKind

	// RetainedOnly skips pruned edges.
	RetainedOnly bool
}
