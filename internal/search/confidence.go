package search

import (
	"fmt"
	"strings"

	"github.com/quaero/quaero/internal/config"
	"github.com/quaero/quaero/internal/store"
)

// minMeaningfulTermLen filters short query terms out of coverage:
// articles and particles match everywhere and say nothing.
const minMeaningfulTermLen = 3

// ConfidenceGate assesses whether retrieved evidence suffices to answer
// a query. It is advisory: it annotates the result set, never mutates
// or filters it.
type ConfidenceGate struct {
	thresholds config.ConfidenceConfig
}

// NewConfidenceGate creates a gate with the given thresholds.
func NewConfidenceGate(thresholds config.ConfidenceConfig) *ConfidenceGate {
	return &ConfidenceGate{thresholds: thresholds}
}

// Assess scores the evidence in results against the query.
func (g *ConfidenceGate) Assess(query string, results []*ScoredCandidate) *ConfidenceAssessment {
	if len(results) == 0 {
		return &ConfidenceAssessment{
			Recommendation: RecommendRefuseNoResults,
			Reason:         "no results retrieved",
		}
	}

	relevance := g.relevance(results)
	coverage := g.coverage(query, results)
	quality := g.quality(results)
	overall := 0.5*relevance + 0.3*coverage + 0.2*quality

	var failures []string
	if relevance < g.thresholds.MinRelevance {
		failures = append(failures, fmt.Sprintf("relevance %.2f below %.2f", relevance, g.thresholds.MinRelevance))
	}
	if coverage < g.thresholds.MinCoverage {
		failures = append(failures, fmt.Sprintf("coverage %.2f below %.2f", coverage, g.thresholds.MinCoverage))
	}
	if quality < g.thresholds.MinQuality {
		failures = append(failures, fmt.Sprintf("quality %.2f below %.2f", quality, g.thresholds.MinQuality))
	}
	if overall < g.thresholds.MinOverall {
		failures = append(failures, fmt.Sprintf("overall %.2f below %.2f", overall, g.thresholds.MinOverall))
	}

	sufficient := len(failures) == 0

	var recommendation Recommendation
	switch {
	case sufficient:
		recommendation = RecommendAnswer
	case relevance < 0.3:
		recommendation = RecommendRefuseIrrelevant
	case coverage < 0.3:
		recommendation = RecommendClarifyQuestion
	default:
		recommendation = RecommendPartialAnswer
	}

	return &ConfidenceAssessment{
		Overall:        overall,
		Relevance:      relevance,
		Coverage:       coverage,
		Quality:        quality,
		IsSufficient:   sufficient,
		Reason:         strings.Join(failures, ", "),
		Recommendation: recommendation,
	}
}

// relevance is the mean of the top 3 (or fewer) retrieval scores,
// capped at 1.0. Results arrive already sorted by final score.
func (g *ConfidenceGate) relevance(results []*ScoredCandidate) float64 {
	n := len(results)
	if n > 3 {
		n = 3
	}
	var sum float64
	for _, r := range results[:n] {
		sum += r.FusedScore
	}
	mean := sum / float64(n)
	if mean > 1.0 {
		mean = 1.0
	}
	return mean
}

// coverage is the fraction of meaningful query terms (longer than 3
// characters) literally present in the concatenated chunk text. A query
// with no meaningful terms scores a neutral 0.5 rather than failing.
func (g *ConfidenceGate) coverage(query string, results []*ScoredCandidate) float64 {
	var meaningful []string
	for _, term := range store.Tokenize(query) {
		if len(term) > minMeaningfulTermLen {
			meaningful = append(meaningful, term)
		}
	}
	if len(meaningful) == 0 {
		return 0.5
	}

	var combined strings.Builder
	for _, r := range results {
		combined.WriteString(strings.ToLower(r.Content))
		combined.WriteByte(' ')
	}
	haystack := combined.String()

	found := 0
	for _, term := range meaningful {
		if strings.Contains(haystack, term) {
			found++
		}
	}
	return float64(found) / float64(len(meaningful))
}

// Per-chunk quality bounds: content in this length band reads as a
// complete, focused passage.
const (
	qualityLenLow  = 100
	qualityLenHigh = 2000
)

// quality is the mean per-chunk score built from content length (peak
// reward between 100 and 2000 characters), structural metadata, and
// presence of any metadata at all.
func (g *ConfidenceGate) quality(results []*ScoredCandidate) float64 {
	var sum float64
	for _, r := range results {
		sum += chunkQuality(r)
	}
	return sum / float64(len(results))
}

func chunkQuality(c *ScoredCandidate) float64 {
	length := len(c.Content)

	var lengthScore float64
	switch {
	case length >= qualityLenLow && length <= qualityLenHigh:
		lengthScore = 1.0
	case length < qualityLenLow:
		lengthScore = float64(length) / float64(qualityLenLow)
	default:
		lengthScore = float64(qualityLenHigh) / float64(length)
	}

	score := 0.6 * lengthScore
	if c.Metadata != nil {
		if _, ok := c.Metadata["heading"]; ok {
			score += 0.2
		} else if _, ok := c.Metadata["section"]; ok {
			score += 0.2
		}
		if len(c.Metadata) > 0 {
			score += 0.2
		}
	}
	return score
}
