package domain

// SearchMode selects which retrieval signals a query uses.
type SearchMode string

// Available search modes.
const (
	// SearchModeLexical uses only keyword/full-text search.
	SearchModeLexical SearchMode = "lexical"

	// SearchModeVector uses only embedding similarity.
	SearchModeVector SearchMode = "vector"

	// SearchModeHybrid fuses lexical and vector rankings.
	SearchModeHybrid SearchMode = "hybrid"
)

// IsValid returns true if the search mode is recognised.
func (m SearchMode) IsValid() bool {
	switch m {
	case SearchModeLexical, SearchModeVector, SearchModeHybrid:
		return true
	default:
		return false
	}
}

// String returns the string representation.
func (m SearchMode) String() string {
	return string(m)
}

// Description returns a human-readable description of the mode.
func (m SearchMode) Description() string {
	switch m {
	case SearchModeLexical:
		return "Lexical (keyword search)"
	case SearchModeVector:
		return "Vector (semantic search)"
	case SearchModeHybrid:
		return "Hybrid (lexical + semantic fusion)"
	default:
		return "Unknown"
	}
}

// Retrieval source names used in FusedResult.Ranks and SearchResponse.Unavailable.
const (
	SourceLexical = "lexical"
	SourceVector  = "vector"
)

// DedupMode controls chunk-chain deduplication for a query.
type DedupMode int

// Dedup modes. The zero value follows the configured default.
const (
	DedupDefault DedupMode = iota
	DedupOn
	DedupOff
)

// SearchOptions configures a search query.
type SearchOptions struct {
	// Mode is the retrieval mode. Empty uses the configured default.
	Mode SearchMode

	// Limit is the maximum number of results.
	Limit int

	// Offset is the number of results to skip.
	Offset int

	// Filter is the strict admission predicate. Nil admits everything.
	Filter *StrictFilter

	// Dedup controls chunk-chain collapsing.
	Dedup DedupMode

	// Fusion overrides the configured fusion strategy when set.
	Fusion *FusionConfig

	// QueryEmbedding skips the embedding service when supplied.
	QueryEmbedding []float32
}

// SearchHit is one entry of a single-source ranked list.
type SearchHit struct {
	// DocumentID is the matched document.
	DocumentID string

	// Score is the provider score. Lexical scores are provider-specific
	// and unbounded; vector scores are cosine similarity.
	Score float64

	// Rank is the 1-indexed position within the source list.
	Rank int
}

// ChainInfo describes how many chunks of a chain matched a query.
type ChainInfo struct {
	ChainID           string `json:"chain_id"`
	OriginalTitle     string `json:"original_title"`
	ChunksMatched     int    `json:"chunks_matched"`
	BestChunkSequence int    `json:"best_chunk_sequence"`
	TotalChunks       int    `json:"total_chunks"`
}

// FusedResult is one entry of the final ranked list.
type FusedResult struct {
	// DocumentID is the matched document (the best chunk when deduplicated).
	DocumentID string `json:"document_id"`

	// Score is the fused score in [0,1].
	Score float64 `json:"score"`

	// Ranks holds the 1-indexed rank within each contributing source list.
	Ranks map[string]int `json:"ranks"`

	// RankSum is the sum of raw ranks used as the first tie-breaker.
	RankSum int `json:"rank_sum"`

	// SourceScores holds each contributing source's score in [0,1]. Lexical
	// scores are saturated; vector similarities are clamped.
	SourceScores map[string]float64 `json:"source_scores,omitempty"`

	// Title is the document title.
	Title string `json:"title,omitempty"`

	// Snippet is a short excerpt of the best chunk.
	Snippet string `json:"snippet,omitempty"`

	// Tags are the document's tags.
	Tags []string `json:"tags,omitempty"`

	// Chain is set when the result represents a deduplicated chunk chain.
	Chain *ChainInfo `json:"chain_info,omitempty"`
}

// SearchResponse is the outcome of a query.
type SearchResponse struct {
	// Results is the ranked, paginated result list. Empty means no matches.
	Results []FusedResult `json:"results"`

	// Mode is the mode actually executed after degradation.
	Mode SearchMode `json:"mode"`

	// Unavailable lists retrieval sources that failed and were skipped.
	Unavailable []string `json:"unavailable,omitempty"`

	// Strategy is the fusion strategy used.
	Strategy FusionStrategy `json:"strategy"`

	// EffectiveK is the RRF constant used, zero for RSF.
	EffectiveK int `json:"effective_k,omitempty"`

	// Weights is the RSF weight pair used, zero for RRF.
	Weights FusionWeights `json:"weights"`

	// Total is the number of results before pagination.
	Total int `json:"total"`
}

// Degraded reports whether any retrieval source was unavailable.
func (r *SearchResponse) Degraded() bool {
	return len(r.Unavailable) > 0
}
