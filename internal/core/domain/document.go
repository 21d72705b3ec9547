package domain

import (
	"strings"
	"time"
)

// DefaultTagScheme is the scheme assigned to tags written without a prefix.
const DefaultTagScheme = "tag"

// Document represents an indexed note.
// Long notes are split into a chain of documents that share a ChainID.
type Document struct {
	// ID is the unique identifier for the document.
	ID string

	// Title is the human-readable title.
	Title string

	// Content is the text fed to the lexical index.
	Content string

	// Embedding is the dense vector for semantic search and linking.
	Embedding []float32

	// Tags are controlled-vocabulary terms in "scheme:notation" form.
	Tags []string

	// Chain is set when the document is one chunk of a longer note.
	Chain *ChainMembership

	// Metadata contains arbitrary key-value pairs.
	Metadata map[string]any

	// CreatedAt is when the document was first indexed.
	CreatedAt time.Time

	// UpdatedAt is when the document was last updated.
	UpdatedAt time.Time
}

// ChainMembership places a document within a chunk chain.
type ChainMembership struct {
	// ChainID identifies the source note shared by all chunks.
	ChainID string

	// Sequence is the 1-indexed position of this chunk.
	Sequence int

	// Total is the number of chunks in the chain.
	Total int
}

// DedupKey returns the identity used to collapse chunk hits.
func (d *Document) DedupKey() string {
	if d.Chain != nil && d.Chain.ChainID != "" {
		return d.Chain.ChainID
	}
	return d.ID
}

// HasEmbedding reports whether the document can take part in vector operations.
func (d *Document) HasEmbedding() bool {
	return len(d.Embedding) > 0
}

// Tag is a parsed controlled-vocabulary term.
type Tag struct {
	Scheme   string
	Notation string
}

// String returns the canonical "scheme:notation" form.
func (t Tag) String() string {
	return t.Scheme + ":" + t.Notation
}

// ParseTag splits a raw tag into scheme and notation.
// Tags without a scheme prefix belong to DefaultTagScheme.
// Both parts are lower-cased and trimmed.
func ParseTag(raw string) Tag {
	raw = strings.ToLower(strings.TrimSpace(raw))
	scheme, notation, ok := strings.Cut(raw, ":")
	if !ok {
		return Tag{Scheme: DefaultTagScheme, Notation: raw}
	}
	return Tag{Scheme: NormalizeScheme(scheme), Notation: strings.TrimSpace(notation)}
}

// NormalizeScheme lower-cases and trims a scheme name.
// An empty scheme maps to DefaultTagScheme.
func NormalizeScheme(scheme string) string {
	scheme = strings.ToLower(strings.TrimSpace(scheme))
	if scheme == "" {
		return DefaultTagScheme
	}
	return scheme
}

// ParseTags parses and de-duplicates a tag list, dropping empty entries.
func ParseTags(raw []string) []Tag {
	seen := make(map[Tag]bool, len(raw))
	tags := make([]Tag, 0, len(raw))
	for _, r := range raw {
		t := ParseTag(r)
		if t.Notation == "" || seen[t] {
			continue
		}
		seen[t] = true
		tags = append(tags, t)
	}
	return tags
}

// NormalizeTags returns the canonical string form of each tag, de-duplicated.
func NormalizeTags(raw []string) []string {
	tags := ParseTags(raw)
	out := make([]string, len(tags))
	for i, t := range tags {
		out[i] = t.String()
	}
	return out
}

// TagJaccard returns |A ∩ B| / |A ∪ B| over canonical tags.
// Returns 0 when either side is untagged.
func TagJaccard(a, b []string) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	setA := make(map[Tag]bool, len(a))
	for _, t := range ParseTags(a) {
		setA[t] = true
	}
	inter := 0
	union := len(setA)
	for _, t := range ParseTags(b) {
		if setA[t] {
			inter++
		} else {
			union++
		}
	}
	if union == 0 {
		return 0
	}
	return float64(inter) / float64(union)
}
