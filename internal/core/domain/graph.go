package domain

// GraphViewSchemaVersion tags graph payloads so consumers can detect shape changes.
const GraphViewSchemaVersion = "graph_view/v1"

// Graph view limits. Requests are clamped into these ranges.
const (
	GraphMinDepth            = 1
	GraphMaxDepth            = 3
	GraphDefaultDepth        = 1
	GraphMaxNodes            = 500
	GraphDefaultMaxNodes     = 50
	GraphMaxEdgesPerNode     = 100
	GraphDefaultEdgesPerNode = 20
)

// Truncation reasons reported in GraphMeta.
const (
	TruncatedMaxNodes        = "max_nodes"
	TruncatedMaxEdgesPerNode = "max_edges_per_node"
	TruncatedDepth           = "depth"
)

// GraphViewOptions are the caller's requested limits.
// Zero values select defaults.
type GraphViewOptions struct {
	Depth           int
	MaxNodes        int
	MinScore        float64
	MaxEdgesPerNode int
}

// GraphNode is a document in a graph view.
type GraphNode struct {
	ID             string   `json:"id"`
	Title          string   `json:"title"`
	Depth          int      `json:"depth"`
	Tags           []string `json:"tags,omitempty"`
	CommunityID    *int     `json:"community_id,omitempty"`
	CommunityLabel string   `json:"community_label,omitempty"`
}

// GraphEdge is an edge in a graph view.
type GraphEdge struct {
	Source     string   `json:"source"`
	Target     string   `json:"target"`
	Kind       EdgeKind `json:"kind"`
	Score      float64  `json:"score"`
	Normalized float64  `json:"normalized_score"`
	SNN        *float64 `json:"snn_score,omitempty"`
}

// GraphLimits reports limit values.
type GraphLimits struct {
	Depth           int     `json:"depth"`
	MaxNodes        int     `json:"max_nodes"`
	MinScore        float64 `json:"min_score"`
	MaxEdgesPerNode int     `json:"max_edges_per_node"`
}

// GraphMeta describes how a graph view was produced.
type GraphMeta struct {
	SchemaVersion     string      `json:"schema_version"`
	Root              string      `json:"root"`
	Effective         GraphLimits `json:"effective"`
	Requested         GraphLimits `json:"requested"`
	Truncated         bool        `json:"truncated"`
	TruncationReasons []string    `json:"truncation_reasons"`
	NodeCount         int         `json:"node_count"`
	EdgeCount         int         `json:"edge_count"`
	Gamma             float64     `json:"gamma"`
}

// GraphView is a bounded neighbourhood of a document.
type GraphView struct {
	Nodes []GraphNode `json:"nodes"`
	Edges []GraphEdge `json:"edges"`
	Meta  GraphMeta   `json:"meta"`
}
