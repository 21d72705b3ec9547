package memory

import (
	"context"
	"math"
	"sort"
	"strings"
	"sync"
	"unicode"

	"github.com/Fortemi/fortemi-sub000/internal/core/domain"
	"github.com/Fortemi/fortemi-sub000/internal/core/ports/driven"
)

// Ensure the lexical engine and vocabulary implement their interfaces.
var (
	_ driven.SearchEngine = (*SearchEngine)(nil)
	_ driven.Vocabulary   = (*SearchEngine)(nil)
)

// BM25 parameters.
const (
	bm25K1 = 1.2
	bm25B  = 0.75
)

type indexedDoc struct {
	tags   []string
	terms  map[string]int
	length int
}

// SearchEngine is an in-memory BM25 implementation of driven.SearchEngine.
// It also serves the vocabulary of schemes seen in indexed tags.
type SearchEngine struct {
	mu       sync.RWMutex
	docs     map[string]*indexedDoc
	postings map[string]map[string]bool
	totalLen int
}

// NewSearchEngine creates a new in-memory lexical engine.
func NewSearchEngine() *SearchEngine {
	return &SearchEngine{
		docs:     make(map[string]*indexedDoc),
		postings: make(map[string]map[string]bool),
	}
}

// tokenize lower-cases text and splits it on anything that is not a
// letter or digit.
func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// Index adds or replaces a document.
func (e *SearchEngine) Index(_ context.Context, doc *domain.Document) error {
	if doc == nil || doc.ID == "" {
		return domain.ErrInvalidInput
	}
	tokens := tokenize(doc.Title + " " + doc.Content)
	terms := make(map[string]int, len(tokens))
	for _, t := range tokens {
		terms[t]++
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.remove(doc.ID)
	e.docs[doc.ID] = &indexedDoc{
		tags:   domain.NormalizeTags(doc.Tags),
		terms:  terms,
		length: len(tokens),
	}
	e.totalLen += len(tokens)
	for term := range terms {
		if e.postings[term] == nil {
			e.postings[term] = make(map[string]bool)
		}
		e.postings[term][doc.ID] = true
	}
	return nil
}

func (e *SearchEngine) remove(id string) {
	old, ok := e.docs[id]
	if !ok {
		return
	}
	for term := range old.terms {
		delete(e.postings[term], id)
		if len(e.postings[term]) == 0 {
			delete(e.postings, term)
		}
	}
	e.totalLen -= old.length
	delete(e.docs, id)
}

// Delete removes a document from the index.
func (e *SearchEngine) Delete(_ context.Context, documentID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.remove(documentID)
	return nil
}

// Search ranks admitted documents by BM25. Rejected documents are skipped
// before scoring.
func (e *SearchEngine) Search(_ context.Context, query string, filter *domain.StrictFilter, limit int) ([]domain.SearchHit, error) {
	terms := tokenize(query)
	if len(terms) == 0 || limit <= 0 {
		return []domain.SearchHit{}, nil
	}

	e.mu.RLock()
	defer e.mu.RUnlock()

	n := float64(len(e.docs))
	avgLen := 1.0
	if len(e.docs) > 0 && e.totalLen > 0 {
		avgLen = float64(e.totalLen) / n
	}

	scores := make(map[string]float64)
	for _, term := range terms {
		posting := e.postings[term]
		if len(posting) == 0 {
			continue
		}
		df := float64(len(posting))
		idf := math.Log(1 + (n-df+0.5)/(df+0.5))
		for id := range posting {
			doc := e.docs[id]
			if !filter.Admit(doc.tags) {
				continue
			}
			tf := float64(doc.terms[term])
			norm := tf * (bm25K1 + 1) / (tf + bm25K1*(1-bm25B+bm25B*float64(doc.length)/avgLen))
			scores[id] += idf * norm
		}
	}

	hits := make([]domain.SearchHit, 0, len(scores))
	for id, score := range scores {
		hits = append(hits, domain.SearchHit{DocumentID: id, Score: score})
	}
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].DocumentID < hits[j].DocumentID
	})
	if len(hits) > limit {
		hits = hits[:limit]
	}
	for i := range hits {
		hits[i].Rank = i + 1
	}
	return hits, nil
}

// Schemes returns the schemes of all indexed tags plus the default scheme.
func (e *SearchEngine) Schemes(_ context.Context) ([]string, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	set := map[string]bool{domain.DefaultTagScheme: true}
	for _, doc := range e.docs {
		for _, t := range domain.ParseTags(doc.tags) {
			set[t.Scheme] = true
		}
	}
	schemes := make([]string, 0, len(set))
	for s := range set {
		schemes = append(schemes, s)
	}
	sort.Strings(schemes)
	return schemes, nil
}

// Close releases resources.
func (e *SearchEngine) Close() error {
	return nil
}
