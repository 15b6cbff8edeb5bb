package search

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func candidate(id, content string, score float64) *ScoredCandidate {
	return &ScoredCandidate{ChunkID: id, Content: content, FusedScore: score}
}

// Input at or below topK is returned unchanged, same slice order.
func TestDiversify_NoOpWhenInputFits(t *testing.T) {
	candidates := []*ScoredCandidate{
		candidate("a", "first passage", 0.9),
		candidate("b", "second passage", 0.8),
	}

	out := Diversify(candidates, 2, 0.7)
	require.Len(t, out, 2)
	assert.Equal(t, "a", out[0].ChunkID)
	assert.Equal(t, "b", out[1].ChunkID)

	out = Diversify(candidates, 5, 0.7)
	assert.Equal(t, candidates, out)
}

func TestDiversify_AlwaysKeepsTopCandidate(t *testing.T) {
	candidates := []*ScoredCandidate{
		candidate("top", "alpha beta gamma", 0.95),
		candidate("b", "delta epsilon", 0.5),
		candidate("c", "zeta eta", 0.4),
	}

	out := Diversify(candidates, 2, 0.7)
	require.NotEmpty(t, out)
	assert.Equal(t, "top", out[0].ChunkID)
}

// Near-duplicate high scorers collapse; the distinct lower scorer wins
// the second slot.
func TestDiversify_DiversityBeatsMarginalScore(t *testing.T) {
	dupContent := "the office closes at five pm on weekdays please plan accordingly"
	candidates := []*ScoredCandidate{
		candidate("dup1", dupContent, 0.95),
		candidate("dup2", dupContent+" thanks", 0.94),
		candidate("dup3", dupContent+" regards", 0.93),
		candidate("distinct", "parking permits are issued by the facility desk", 0.60),
	}

	out := Diversify(candidates, 2, 0.7)
	require.Len(t, out, 2)
	assert.Equal(t, "dup1", out[0].ChunkID)
	assert.Equal(t, "distinct", out[1].ChunkID)
}

func TestDiversify_StopsWhenCandidatesExhausted(t *testing.T) {
	candidates := []*ScoredCandidate{
		candidate("a", "one", 0.9),
		candidate("b", "two", 0.8),
		candidate("c", "three", 0.7),
	}

	out := Diversify(candidates, 2, 0.5)
	assert.Len(t, out, 2)
}

func TestDiversify_LambdaOneIsPureRelevance(t *testing.T) {
	dup := "identical content repeated verbatim"
	candidates := []*ScoredCandidate{
		candidate("a", dup, 0.9),
		candidate("b", dup, 0.8),
		candidate("c", "completely different words here", 0.1),
	}

	out := Diversify(candidates, 2, 1.0)
	require.Len(t, out, 2)
	assert.Equal(t, "a", out[0].ChunkID)
	assert.Equal(t, "b", out[1].ChunkID)
}
