package services

import (
	"regexp"
	"sort"
	"strings"

	"github.com/Fortemi/fortemi-sub000/internal/core/domain"
)

// chunkTitleSuffixes match the part markers appended to chunk titles.
var chunkTitleSuffixes = []*regexp.Regexp{
	regexp.MustCompile(`\s*\(Part \d+/\d+\)$`),
	regexp.MustCompile(`\s*-\s*Part \d+ of \d+$`),
	regexp.MustCompile(`\s*\[\d+/\d+\]$`),
}

// OriginalTitle strips chunk part markers from a chunk title.
func OriginalTitle(title string) string {
	for _, re := range chunkTitleSuffixes {
		if loc := re.FindStringIndex(title); loc != nil {
			return strings.TrimSpace(title[:loc[0]])
		}
	}
	return title
}

// Deduplicate collapses chunk hits of the same chain into one result.
// docs supplies chain membership; results without a document entry are
// treated as standalone. The best-scoring chunk is kept (earlier position
// on ties) and the output is ordered by score descending, then ID.
func Deduplicate(results []domain.FusedResult, docs map[string]*domain.Document) []domain.FusedResult {
	type group struct {
		best    domain.FusedResult
		seqBest int
		matched int
		maxSeq  int
		total   int
		title   string
		chainID string
	}

	groups := make(map[string]*group)
	order := make([]string, 0, len(results))

	for _, r := range results {
		key := r.DocumentID
		var chain *domain.ChainMembership
		title := r.Title
		if doc, ok := docs[r.DocumentID]; ok && doc != nil {
			key = doc.DedupKey()
			chain = doc.Chain
			if title == "" {
				title = doc.Title
			}
		}

		g, ok := groups[key]
		if !ok {
			g = &group{best: r, title: title}
			if chain != nil {
				g.chainID = chain.ChainID
				g.seqBest = chain.Sequence
				g.total = chain.Total
			}
			groups[key] = g
			order = append(order, key)
		} else if r.Score > g.best.Score {
			g.best = r
			g.title = title
			if chain != nil {
				g.seqBest = chain.Sequence
			}
		}
		g.matched++
		if chain != nil {
			g.maxSeq = max(g.maxSeq, chain.Sequence)
			g.total = max(g.total, chain.Total)
		}
	}

	out := make([]domain.FusedResult, 0, len(groups))
	for _, key := range order {
		g := groups[key]
		r := g.best
		if g.chainID != "" {
			total := g.total
			if total == 0 {
				total = g.maxSeq
			}
			r.Chain = &domain.ChainInfo{
				ChainID:           g.chainID,
				OriginalTitle:     OriginalTitle(g.title),
				ChunksMatched:     g.matched,
				BestChunkSequence: g.seqBest,
				TotalChunks:       total,
			}
		}
		out = append(out, r)
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].DocumentID < out[j].DocumentID
	})
	return out
}
