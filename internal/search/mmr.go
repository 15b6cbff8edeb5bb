package search

import (
	"github.com/quaero/quaero/internal/store"
)

// DefaultMMRLambda favors relevance over novelty.
const DefaultMMRLambda = 0.7

// Diversify applies Maximal Marginal Relevance to a ranked candidate
// list: greedily pick the candidate maximizing
//
//	lambda*relevance - (1-lambda)*maxSimilarity(candidate, selected)
//
// where relevance is the candidate's fused (or rerank) score and
// similarity is token-set Jaccard overlap. The top-ranked candidate is
// always selected first. When len(candidates) <= topK the input is
// returned unchanged.
func Diversify(candidates []*ScoredCandidate, topK int, lambda float64) []*ScoredCandidate {
	if len(candidates) <= topK || topK <= 0 {
		return candidates
	}
	if lambda < 0 {
		lambda = 0
	}
	if lambda > 1 {
		lambda = 1
	}

	tokenSets := make([]map[string]struct{}, len(candidates))
	for i, c := range candidates {
		tokenSets[i] = store.TokenSet(c.Content)
	}

	selected := make([]*ScoredCandidate, 0, topK)
	selectedSets := make([]map[string]struct{}, 0, topK)
	remaining := make([]int, 0, len(candidates)-1)

	selected = append(selected, candidates[0])
	selectedSets = append(selectedSets, tokenSets[0])
	for i := 1; i < len(candidates); i++ {
		remaining = append(remaining, i)
	}

	for len(selected) < topK && len(remaining) > 0 {
		bestPos := -1
		bestScore := 0.0

		for pos, idx := range remaining {
			maxSim := 0.0
			for _, sel := range selectedSets {
				if sim := store.Jaccard(tokenSets[idx], sel); sim > maxSim {
					maxSim = sim
				}
			}
			mmr := lambda*candidates[idx].FusedScore - (1-lambda)*maxSim
			if bestPos == -1 || mmr > bestScore {
				bestPos = pos
				bestScore = mmr
			}
		}

		idx := remaining[bestPos]
		selected = append(selected, candidates[idx])
		selectedSets = append(selectedSets, tokenSets[idx])
		remaining = append(remaining[:bestPos], remaining[bestPos+1:]...)
	}

	return selected
}
