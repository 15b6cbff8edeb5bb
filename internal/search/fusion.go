package search

import (
	"sort"

	"github.com/quaero/quaero/internal/dense"
	"github.com/quaero/quaero/internal/store"
)

// Weights holds the fusion weights for the two retrieval sources.
// They should sum to 1.0; this is documented contract, not enforced.
type Weights struct {
	Keyword float64
	Dense   float64
}

// DefaultWeights favors the dense path slightly, which benchmarks
// better on natural-language queries while keyword still anchors
// exact-term lookups.
func DefaultWeights() Weights {
	return Weights{Keyword: 0.4, Dense: 0.6}
}

// WeightedFusion combines keyword and dense results by min-max
// normalizing each source's scores independently to [0,1], then taking
// a weighted sum over the union of chunk IDs. A chunk missing from one
// source contributes 0 for that component.
type WeightedFusion struct {
	Weights Weights
}

// NewWeightedFusion creates a fusion stage with the given weights.
func NewWeightedFusion(w Weights) *WeightedFusion {
	if w.Keyword == 0 && w.Dense == 0 {
		w = DefaultWeights()
	}
	return &WeightedFusion{Weights: w}
}

// Fuse merges the two result lists into at most topK candidates sorted
// descending by fused score. Ties break on keyword score, then chunk ID,
// so identical inputs always produce identical output order. A source
// that returned nothing cedes its weight to the other, so single-source
// results keep the full [0,1] score scale.
func (f *WeightedFusion) Fuse(
	keyword []*store.KeywordResult,
	denseHits []*dense.Result,
	topK int,
) []*ScoredCandidate {
	if len(keyword) == 0 && len(denseHits) == 0 {
		return []*ScoredCandidate{}
	}

	wKeyword, wDense := f.Weights.Keyword, f.Weights.Dense
	switch {
	case len(denseHits) == 0:
		wKeyword, wDense = 1.0, 0.0
	case len(keyword) == 0:
		wKeyword, wDense = 0.0, 1.0
	}

	kwScores := make([]float64, len(keyword))
	for i, r := range keyword {
		kwScores[i] = r.Score
	}
	dnScores := make([]float64, len(denseHits))
	for i, r := range denseHits {
		dnScores[i] = r.Score
	}
	kwNorm := minMaxNormalize(kwScores)
	dnNorm := minMaxNormalize(dnScores)

	candidates := make(map[string]*ScoredCandidate, len(keyword)+len(denseHits))

	for i, r := range keyword {
		c := getOrCreate(candidates, r.ChunkID)
		c.KeywordScore = kwNorm[i]
		c.MatchedTerms = r.MatchedTerms
	}
	for i, r := range denseHits {
		c := getOrCreate(candidates, r.ChunkID)
		c.DenseScore = dnNorm[i]
		if c.Content == "" {
			c.Content = r.Content
		}
		if c.Metadata == nil {
			c.Metadata = r.Metadata
		}
	}

	results := make([]*ScoredCandidate, 0, len(candidates))
	for _, c := range candidates {
		c.FusedScore = wKeyword*c.KeywordScore + wDense*c.DenseScore
		results = append(results, c)
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].FusedScore != results[j].FusedScore {
			return results[i].FusedScore > results[j].FusedScore
		}
		if results[i].KeywordScore != results[j].KeywordScore {
			return results[i].KeywordScore > results[j].KeywordScore
		}
		return results[i].ChunkID < results[j].ChunkID
	})

	if topK > 0 && len(results) > topK {
		results = results[:topK]
	}
	return results
}

func getOrCreate(m map[string]*ScoredCandidate, id string) *ScoredCandidate {
	if c, ok := m[id]; ok {
		return c
	}
	c := &ScoredCandidate{ChunkID: id}
	m[id] = c
	return c
}

// minMaxNormalize scales scores to [0,1] within the set. A set with
// zero variance (including a single element) normalizes to all 1.0,
// which also sidesteps the divide-by-zero.
func minMaxNormalize(scores []float64) []float64 {
	if len(scores) == 0 {
		return nil
	}

	lo, hi := scores[0], scores[0]
	for _, s := range scores[1:] {
		if s < lo {
			lo = s
		}
		if s > hi {
			hi = s
		}
	}

	norm := make([]float64, len(scores))
	if hi == lo {
		for i := range norm {
			norm[i] = 1.0
		}
		return norm
	}

	span := hi - lo
	for i, s := range scores {
		norm[i] = (s - lo) / span
	}
	return norm
}
