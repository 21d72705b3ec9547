package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/Fortemi/fortemi-sub000/internal/core/domain"
	"github.com/Fortemi/fortemi-sub000/internal/core/ports/driven"
	"github.com/Fortemi/fortemi-sub000/internal/core/ports/driving"
	"github.com/Fortemi/fortemi-sub000/internal/logger"
)

// Ensure SearchService implements the interface.
var _ driving.SearchService = (*SearchService)(nil)

// snippetLength caps the excerpt attached to each result.
const snippetLength = 200

// SearchService coordinates filtered hybrid retrieval.
type SearchService struct {
	docStore         driven.DocumentStore
	searchIndex      driven.SearchEngine
	vectorIndex      driven.VectorIndex
	embeddingService driven.EmbeddingService
	filters          *FilterService

	mu       sync.RWMutex
	settings domain.SearchSettings
	fusion   domain.FusionConfig
}

// NewSearchService creates a new search service.
// The vectorIndex and embeddingService parameters are optional (can be nil).
func NewSearchService(
	docStore driven.DocumentStore,
	searchIndex driven.SearchEngine,
	vectorIndex driven.VectorIndex,
	embeddingService driven.EmbeddingService,
	filters *FilterService,
	settings domain.AppSettings,
) *SearchService {
	if filters == nil {
		filters = NewFilterService(nil)
	}
	return &SearchService{
		docStore:         docStore,
		searchIndex:      searchIndex,
		vectorIndex:      vectorIndex,
		embeddingService: embeddingService,
		filters:          filters,
		settings:         settings.Search,
		fusion:           settings.Fusion,
	}
}

// UpdateSettings swaps the search and fusion defaults used by later queries.
func (s *SearchService) UpdateSettings(settings domain.AppSettings) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.settings = settings.Search
	s.fusion = settings.Fusion
}

func (s *SearchService) current() (domain.SearchSettings, domain.FusionConfig) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.settings, s.fusion
}

// sourceResult is the outcome of one retrieval source.
type sourceResult struct {
	hits []domain.SearchHit
	err  error
}

// Search runs filter, retrieve, fuse, dedupe and paginate for one query.
func (s *SearchService) Search(
	ctx context.Context, query string, opts domain.SearchOptions,
) (*domain.SearchResponse, error) {
	logger.Section("Search Execution")
	logger.Debug("Query: %q", query)

	settings, fusionCfg := s.current()

	query = strings.TrimSpace(query)
	if query == "" && len(opts.QueryEmbedding) == 0 {
		return nil, fmt.Errorf("%w: empty query", domain.ErrInvalidInput)
	}

	limit, offset, err := s.pagination(settings, opts)
	if err != nil {
		return nil, err
	}

	mode := opts.Mode
	if mode == "" {
		mode = settings.Mode
	}
	if !mode.IsValid() {
		return nil, fmt.Errorf("%w: search mode %q", domain.ErrInvalidInput, mode)
	}
	if opts.Fusion != nil {
		fusionCfg = *opts.Fusion
	}
	if fusionCfg.Strategy != "" && !fusionCfg.Strategy.IsValid() {
		return nil, fmt.Errorf("%w: fusion strategy %q", domain.ErrInvalidInput, fusionCfg.Strategy)
	}

	filter, err := s.filters.Prepare(ctx, opts.Filter)
	if err != nil {
		return nil, fmt.Errorf("search: %w", err)
	}

	resp := &domain.SearchResponse{Results: []domain.FusedResult{}, Mode: mode}
	if filter != nil && filter.MatchNone {
		logger.Debug("Filter matches nothing, returning no results")
		resp.Strategy = fusionCfg.Strategy
		return resp, nil
	}

	fetch := (offset + limit) * max(1, settings.Overfetch)
	logger.Debug("Limit: %d, Offset: %d, fetch per source: %d", limit, offset, fetch)

	lexical, vector, err := s.retrieve(ctx, query, mode, filter, fetch, opts.QueryEmbedding, resp)
	if err != nil {
		logger.Warn("Search failed: %v", err)
		return nil, fmt.Errorf("search: %w", err)
	}

	docs, err := s.loadDocuments(ctx, lexical, vector)
	if err != nil {
		return nil, fmt.Errorf("load documents: %w", err)
	}
	lexical = admitted(domain.SourceLexical, lexical, filter, docs)
	vector = admitted(domain.SourceVector, vector, filter, docs)

	outcome := Fuse(fusionCfg, query, lexical, vector)
	resp.Strategy = outcome.Strategy
	resp.EffectiveK = outcome.EffectiveK
	resp.Weights = outcome.Weights
	logger.Info("Fused %d lexical + %d vector hits into %d results (strategy=%s, k=%d)",
		len(lexical), len(vector), len(outcome.Results), outcome.Strategy, outcome.EffectiveK)

	results := s.hydrate(outcome.Results, docs, query)
	if dedupEnabled(settings, opts.Dedup) {
		results = Deduplicate(results, docs)
		logger.Debug("After dedup: %d results", len(results))
	}

	resp.Total = len(results)
	resp.Results = applyPagination(results, offset, limit)
	logger.Info("Final results: %d", len(resp.Results))
	return resp, nil
}

// pagination resolves and validates limit and offset.
func (s *SearchService) pagination(settings domain.SearchSettings, opts domain.SearchOptions) (int, int, error) {
	if opts.Limit < 0 || opts.Offset < 0 {
		return 0, 0, fmt.Errorf("%w: negative limit or offset", domain.ErrInvalidInput)
	}
	limit := opts.Limit
	if limit == 0 {
		limit = settings.DefaultLimit
	}
	if limit <= 0 {
		limit = 20
	}
	if settings.MaxLimit > 0 && limit+opts.Offset > settings.MaxLimit {
		return 0, 0, fmt.Errorf("%w: limit+offset %d exceeds maximum %d",
			domain.ErrInvalidInput, limit+opts.Offset, settings.MaxLimit)
	}
	return limit, opts.Offset, nil
}

func dedupEnabled(settings domain.SearchSettings, mode domain.DedupMode) bool {
	switch mode {
	case domain.DedupOn:
		return true
	case domain.DedupOff:
		return false
	default:
		return settings.Dedup
	}
}

// retrieve runs the sources required by the mode, degrading when one fails.
// Returned lists are nil for sources that did not contribute.
func (s *SearchService) retrieve(
	ctx context.Context,
	query string,
	mode domain.SearchMode,
	filter *domain.StrictFilter,
	limit int,
	embedding []float32,
	resp *domain.SearchResponse,
) ([]domain.SearchHit, []domain.SearchHit, error) {
	switch mode {
	case domain.SearchModeLexical:
		hits, err := s.lexicalSearch(ctx, query, filter, limit)
		if err != nil {
			resp.Unavailable = append(resp.Unavailable, domain.SourceLexical)
			return nil, nil, err
		}
		return hits, nil, nil

	case domain.SearchModeVector:
		hits, err := s.vectorSearch(ctx, query, filter, limit, embedding)
		if err == nil {
			return nil, hits, nil
		}
		logger.Warn("Vector search failed, degrading to lexical: %v", err)
		resp.Unavailable = append(resp.Unavailable, domain.SourceVector)
		if query == "" {
			return nil, nil, err
		}
		lex, lexErr := s.lexicalSearch(ctx, query, filter, limit)
		if lexErr != nil {
			resp.Unavailable = append(resp.Unavailable, domain.SourceLexical)
			return nil, nil, errors.Join(err, lexErr)
		}
		resp.Mode = domain.SearchModeLexical
		return lex, nil, nil
	}

	logger.Debug("Hybrid search: running lexical and vector searches in parallel")
	var lex, vec sourceResult
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		if query == "" {
			lex.err = fmt.Errorf("%w: no query text", domain.ErrSearchUnavailable)
			return
		}
		lex.hits, lex.err = s.lexicalSearch(ctx, query, filter, limit)
	}()
	go func() {
		defer wg.Done()
		vec.hits, vec.err = s.vectorSearch(ctx, query, filter, limit, embedding)
	}()
	wg.Wait()

	switch {
	case lex.err != nil && vec.err != nil:
		resp.Unavailable = append(resp.Unavailable, domain.SourceLexical, domain.SourceVector)
		return nil, nil, errors.Join(lex.err, vec.err)
	case lex.err != nil:
		logger.Warn("Hybrid search: lexical search failed, using vector results only: %v", lex.err)
		resp.Unavailable = append(resp.Unavailable, domain.SourceLexical)
		resp.Mode = domain.SearchModeVector
		return nil, vec.hits, nil
	case vec.err != nil:
		logger.Warn("Hybrid search: vector search failed, using lexical results only: %v", vec.err)
		resp.Unavailable = append(resp.Unavailable, domain.SourceVector)
		resp.Mode = domain.SearchModeLexical
		return lex.hits, nil, nil
	}
	return lex.hits, vec.hits, nil
}

func (s *SearchService) lexicalSearch(
	ctx context.Context, query string, filter *domain.StrictFilter, limit int,
) ([]domain.SearchHit, error) {
	if s.searchIndex == nil {
		return nil, fmt.Errorf("%w: search engine not configured", domain.ErrSearchUnavailable)
	}
	hits, err := s.searchIndex.Search(ctx, query, filter, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrSearchUnavailable, err)
	}
	logger.Debug("Lexical search: %d hits", len(hits))
	if hits == nil {
		hits = []domain.SearchHit{}
	}
	return hits, nil
}

func (s *SearchService) vectorSearch(
	ctx context.Context, query string, filter *domain.StrictFilter, limit int, embedding []float32,
) ([]domain.SearchHit, error) {
	if s.vectorIndex == nil {
		return nil, fmt.Errorf("%w: vector index not configured", domain.ErrVectorIndexUnavailable)
	}
	if len(embedding) == 0 {
		if s.embeddingService == nil {
			return nil, fmt.Errorf("%w: embedding service not configured", domain.ErrEmbeddingUnavailable)
		}
		logger.Debug("Generating query embedding...")
		var err error
		embedding, err = s.embeddingService.Embed(ctx, query)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", domain.ErrEmbeddingUnavailable, err)
		}
	}

	vhits, err := s.vectorIndex.Search(ctx, embedding, filter, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrVectorIndexUnavailable, err)
	}
	logger.Debug("Vector search: %d hits", len(vhits))

	hits := make([]domain.SearchHit, len(vhits))
	for i, h := range vhits {
		hits[i] = domain.SearchHit{DocumentID: h.DocumentID, Score: h.Similarity, Rank: i + 1}
	}
	return hits, nil
}

// loadDocuments fetches every document referenced by either list.
func (s *SearchService) loadDocuments(
	ctx context.Context, lists ...[]domain.SearchHit,
) (map[string]*domain.Document, error) {
	seen := make(map[string]bool)
	var ids []string
	for _, list := range lists {
		for _, h := range list {
			if !seen[h.DocumentID] {
				seen[h.DocumentID] = true
				ids = append(ids, h.DocumentID)
			}
		}
	}
	docs := make(map[string]*domain.Document, len(ids))
	if len(ids) == 0 {
		return docs, nil
	}
	if s.docStore == nil {
		return nil, errors.New("document store unavailable")
	}
	loaded, err := s.docStore.GetDocuments(ctx, ids)
	if err != nil {
		return nil, err
	}
	for i := range loaded {
		docs[loaded[i].ID] = &loaded[i]
	}
	return docs, nil
}

// admitted drops hits for deleted documents and any hit the filter rejects.
// Providers apply the filter before ranking, so a rejected hit here is an
// isolation breach in the provider and is logged as such.
func admitted(
	source string, hits []domain.SearchHit, filter *domain.StrictFilter, docs map[string]*domain.Document,
) []domain.SearchHit {
	if hits == nil {
		return nil
	}
	out := make([]domain.SearchHit, 0, len(hits))
	for _, h := range hits {
		doc, ok := docs[h.DocumentID]
		if !ok {
			continue
		}
		if !filter.Admit(doc.Tags) {
			logger.Warn("Isolation breach: %s provider returned filtered document %s", source, h.DocumentID)
			continue
		}
		out = append(out, h)
	}
	return out
}

// hydrate attaches title, snippet and tags from the loaded documents.
func (s *SearchService) hydrate(
	results []domain.FusedResult, docs map[string]*domain.Document, query string,
) []domain.FusedResult {
	for i := range results {
		doc, ok := docs[results[i].DocumentID]
		if !ok {
			continue
		}
		results[i].Title = doc.Title
		results[i].Tags = doc.Tags
		results[i].Snippet = generateSnippet(doc.Content, query)
	}
	return results
}

// generateSnippet returns the first sentence mentioning a query term,
// or the start of the content when none does.
func generateSnippet(content, query string) string {
	queryTerms := strings.Fields(strings.ToLower(query))
	for _, sentence := range splitSentences(content) {
		sentenceLower := strings.ToLower(sentence)
		for _, term := range queryTerms {
			if strings.Contains(sentenceLower, strings.Trim(term, "\"'")) {
				return truncate(sentence, snippetLength)
			}
		}
	}
	return truncate(strings.TrimSpace(content), snippetLength)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}

// splitSentences splits content into sentences.
func splitSentences(content string) []string {
	var sentences []string
	var current strings.Builder

	for _, r := range content {
		current.WriteRune(r)
		if r == '.' || r == '!' || r == '?' || r == '\n' {
			s := strings.TrimSpace(current.String())
			if s != "" {
				sentences = append(sentences, s)
			}
			current.Reset()
		}
	}

	if s := strings.TrimSpace(current.String()); s != "" {
		sentences = append(sentences, s)
	}

	return sentences
}

// applyPagination applies offset and limit to results.
func applyPagination(results []domain.FusedResult, offset, limit int) []domain.FusedResult {
	if offset >= len(results) {
		return []domain.FusedResult{}
	}

	end := offset + limit
	if end > len(results) {
		end = len(results)
	}

	return results[offset:end]
}
