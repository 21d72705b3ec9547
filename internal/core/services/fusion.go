package services

import (
	"math"
	"sort"
	"strings"

	"github.com/Fortemi/fortemi-sub000/internal/core/domain"
	"github.com/Fortemi/fortemi-sub000/internal/logger"
)

// scoreEpsilon is the tolerance under which two fused scores count as tied.
const scoreEpsilon = 1e-12

// lexicalScoreScale is the raw lexical score reported as 0.5.
const lexicalScoreScale = 1.0

// QueryShape summarises the features of a query that drive adaptive fusion.
type QueryShape struct {
	Tokens      int
	AvgTokenLen float64
	Quoted      bool
}

// IsKeyword reports whether the query looks like a short keyword lookup.
func (q QueryShape) IsKeyword() bool {
	return q.Tokens <= 3 && q.AvgTokenLen < 6
}

// AnalyzeQuery tokenises the query on whitespace.
func AnalyzeQuery(query string) QueryShape {
	tokens := strings.Fields(query)
	shape := QueryShape{
		Tokens: len(tokens),
		Quoted: strings.ContainsAny(query, "\"'"),
	}
	if len(tokens) > 0 {
		total := 0
		for _, t := range tokens {
			total += len([]rune(t))
		}
		shape.AvgTokenLen = float64(total) / float64(len(tokens))
	}
	return shape
}

// AdaptiveK returns the RRF constant for a query shape.
// With adaptation disabled the base K is returned unchanged.
func AdaptiveK(params domain.RRFParams, shape QueryShape) int {
	base := params.K
	if base <= 0 {
		base = domain.DefaultRRFK
	}
	if !params.Adaptive {
		return base
	}

	k := float64(base)
	switch {
	case shape.Tokens <= 2:
		k *= orOne(params.ShortMultiplier)
	case shape.Tokens >= 6:
		k *= orOne(params.LongMultiplier)
	}
	if shape.Quoted {
		k *= orOne(params.QuotedMultiplier)
	}

	minK, maxK := params.MinK, params.MaxK
	if minK <= 0 {
		minK = domain.DefaultRRFMinK
	}
	if maxK < minK {
		maxK = domain.DefaultRRFMaxK
	}
	selected := max(minK, min(maxK, int(math.Round(k))))
	logger.Debug("Adaptive RRF k=%d (tokens=%d, quoted=%t, keyword=%t)",
		selected, shape.Tokens, shape.Quoted, shape.IsKeyword())
	return selected
}

// AdaptiveWeights returns the RSF weight pair for a query shape.
func AdaptiveWeights(params domain.RSFParams, shape QueryShape) domain.FusionWeights {
	if !params.Adaptive {
		w := params.Weights
		if w.Lexical == 0 && w.Semantic == 0 {
			return domain.FusionWeights{Lexical: 0.5, Semantic: 0.5}
		}
		return w
	}
	switch {
	case shape.Quoted:
		return domain.FusionWeights{Lexical: 0.7, Semantic: 0.3}
	case shape.Tokens == 0:
		return domain.FusionWeights{Lexical: 0.5, Semantic: 0.5}
	case shape.Tokens <= 2:
		return domain.FusionWeights{Lexical: 0.6, Semantic: 0.4}
	case shape.Tokens <= 5:
		return domain.FusionWeights{Lexical: 0.5, Semantic: 0.5}
	default:
		return domain.FusionWeights{Lexical: 0.35, Semantic: 0.65}
	}
}

func orOne(m float64) float64 {
	if m <= 0 {
		return 1
	}
	return m
}

// FusionOutcome is the result of fusing ranked lists.
type FusionOutcome struct {
	Results    []domain.FusedResult
	Strategy   domain.FusionStrategy
	EffectiveK int
	Weights    domain.FusionWeights
}

// Fuse combines the lexical and vector lists with the configured strategy.
// Either list may be nil, in which case fusion runs over the other alone.
// The output is strictly ordered and identical for identical inputs.
func Fuse(cfg domain.FusionConfig, query string, lexical, vector []domain.SearchHit) FusionOutcome {
	shape := AnalyzeQuery(query)
	lists := make([]rankedList, 0, 2)
	if lexical != nil {
		lists = append(lists, newRankedList(domain.SourceLexical, lexical))
	}
	if vector != nil {
		lists = append(lists, newRankedList(domain.SourceVector, vector))
	}

	switch cfg.Strategy {
	case domain.FusionRSF:
		weights := AdaptiveWeights(cfg.RSF, shape)
		return FusionOutcome{
			Results:  fuseRSF(lists, weights),
			Strategy: domain.FusionRSF,
			Weights:  weights,
		}
	default:
		k := AdaptiveK(cfg.RRF, shape)
		return FusionOutcome{
			Results:    fuseRRF(lists, k),
			Strategy:   domain.FusionRRF,
			EffectiveK: k,
		}
	}
}

// rankedList is a single source list with ranks resolved and duplicates removed.
type rankedList struct {
	source string
	hits   []domain.SearchHit
	rankOf map[string]int
}

func newRankedList(source string, hits []domain.SearchHit) rankedList {
	l := rankedList{source: source, rankOf: make(map[string]int, len(hits))}
	for _, h := range hits {
		if _, dup := l.rankOf[h.DocumentID]; dup {
			continue
		}
		h.Rank = len(l.hits) + 1
		l.rankOf[h.DocumentID] = h.Rank
		l.hits = append(l.hits, h)
	}
	return l
}

// missingRank is the rank charged to a document absent from the list.
func (l rankedList) missingRank() int {
	return len(l.hits) + 1
}

// collect gathers every document across lists with its per-list ranks and rank sum.
func collect(lists []rankedList) (map[string]*domain.FusedResult, []string) {
	byID := make(map[string]*domain.FusedResult)
	var order []string
	for _, l := range lists {
		for _, h := range l.hits {
			if _, ok := byID[h.DocumentID]; !ok {
				byID[h.DocumentID] = &domain.FusedResult{
					DocumentID:   h.DocumentID,
					Ranks:        make(map[string]int, len(lists)),
					SourceScores: make(map[string]float64, len(lists)),
				}
				order = append(order, h.DocumentID)
			}
			byID[h.DocumentID].Ranks[l.source] = h.Rank
			byID[h.DocumentID].SourceScores[l.source] = sourceScore(l.source, h.Score)
		}
	}
	for _, id := range order {
		r := byID[id]
		for _, l := range lists {
			if rank, ok := r.Ranks[l.source]; ok {
				r.RankSum += rank
			} else {
				r.RankSum += l.missingRank()
			}
		}
	}
	return byID, order
}

// sourceScore reports a provider score on a [0,1] scale.
func sourceScore(source string, raw float64) float64 {
	if source == domain.SourceLexical {
		return Saturate(raw, lexicalScoreScale)
	}
	return clamp01(raw)
}

func fuseRRF(lists []rankedList, k int) []domain.FusedResult {
	if len(lists) == 0 {
		return []domain.FusedResult{}
	}
	byID, order := collect(lists)
	maxScore := float64(len(lists)) / float64(k+1)
	out := make([]domain.FusedResult, 0, len(order))
	for _, id := range order {
		r := byID[id]
		var score float64
		for _, l := range lists {
			if rank, ok := r.Ranks[l.source]; ok {
				score += 1.0 / float64(k+rank)
			}
		}
		r.Score = math.Min(1.0, score/maxScore)
		out = append(out, *r)
	}
	sortFused(out)
	return out
}

func fuseRSF(lists []rankedList, weights domain.FusionWeights) []domain.FusedResult {
	if len(lists) == 0 {
		return []domain.FusedResult{}
	}
	byID, order := collect(lists)

	// A single list is scored on its own scale so the output stays in [0,1].
	weightOf := func(source string) float64 {
		if len(lists) == 1 {
			return 1
		}
		if source == domain.SourceLexical {
			return weights.Lexical
		}
		return weights.Semantic
	}

	scores := make(map[string]float64, len(order))
	for _, l := range lists {
		raw := make([]float64, len(l.hits))
		for i, h := range l.hits {
			raw[i] = h.Score
		}
		w := weightOf(l.source)
		for i, norm := range MinMax(raw) {
			scores[l.hits[i].DocumentID] += w * norm
		}
	}

	out := make([]domain.FusedResult, 0, len(order))
	for _, id := range order {
		r := byID[id]
		r.Score = clamp01(scores[id])
		out = append(out, *r)
	}
	sortFused(out)
	return out
}

// sortFused orders by score descending, then rank sum ascending, then ID.
func sortFused(results []domain.FusedResult) {
	sort.SliceStable(results, func(i, j int) bool {
		a, b := results[i], results[j]
		if math.Abs(a.Score-b.Score) > scoreEpsilon {
			return a.Score > b.Score
		}
		if a.RankSum != b.RankSum {
			return a.RankSum < b.RankSum
		}
		return a.DocumentID < b.DocumentID
	})
}
