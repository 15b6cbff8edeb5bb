// Package search implements the hybrid retrieval pipeline: concurrent
// keyword and dense retrieval, weighted score fusion, MMR diversity,
// optional reranking, and a confidence gate over the final set.
package search

import (
	"time"

	"github.com/quaero/quaero/internal/corpus"
)

// Mode selects which retrieval paths a query exercises.
type Mode string

const (
	// ModeHybrid runs keyword and dense retrieval concurrently and fuses.
	ModeHybrid Mode = "hybrid"

	// ModeKeyword runs only the keyword path.
	ModeKeyword Mode = "keyword"

	// ModeDense runs only the dense path.
	ModeDense Mode = "dense"
)

// Valid reports whether m names a known search mode.
func (m Mode) Valid() bool {
	return m == ModeHybrid || m == ModeKeyword || m == ModeDense
}

// ScoredCandidate is a per-query transient carrying each stage's scores.
// KeywordScore and DenseScore are the normalized per-source components;
// FusedScore is the weighted combination and the final ranking signal
// unless a reranker overwrites it.
type ScoredCandidate struct {
	ChunkID      string            `json:"chunk_id"`
	DocID        string            `json:"doc_id,omitempty"`
	Content      string            `json:"content"`
	Metadata     map[string]string `json:"metadata,omitempty"`
	KeywordScore float64           `json:"keyword_score"`
	DenseScore   float64           `json:"dense_score"`
	FusedScore   float64           `json:"fused_score"`
	MatchedTerms []string          `json:"matched_terms,omitempty"`
}

// Recommendation tells the caller how to act on the retrieved evidence.
type Recommendation string

const (
	RecommendAnswer           Recommendation = "answer"
	RecommendPartialAnswer    Recommendation = "partial_answer"
	RecommendClarifyQuestion  Recommendation = "clarify_question"
	RecommendRefuseIrrelevant Recommendation = "refuse_irrelevant"
	RecommendRefuseNoResults  Recommendation = "refuse_no_results"
)

// ConfidenceAssessment scores the retrieved evidence for a query.
// All component scores are in [0,1]. It annotates, never filters.
type ConfidenceAssessment struct {
	Overall        float64        `json:"overall"`
	Relevance      float64        `json:"relevance"`
	Coverage       float64        `json:"coverage"`
	Quality        float64        `json:"quality"`
	IsSufficient   bool           `json:"is_sufficient"`
	Reason         string         `json:"reason,omitempty"`
	Recommendation Recommendation `json:"recommendation"`
}

// Options holds per-query parameters. Zero values fall back to
// configured defaults inside the engine.
type Options struct {
	// TopK is the number of results to return.
	TopK int

	// Mode selects the retrieval paths (default hybrid).
	Mode Mode

	// View selects the corpus view; empty resolves via SuggestView.
	View corpus.View

	// Intent hints at the caller's need and can force the full view.
	Intent string

	// Filter is an opaque caller tag that partitions the result cache.
	Filter string

	// WithConfidence requests a ConfidenceAssessment in the response.
	WithConfidence bool
}

// Response is the outcome of one pipeline execution.
type Response struct {
	Query        string                `json:"query"`
	Results      []*ScoredCandidate    `json:"results"`
	TotalResults int                   `json:"total_results"`
	SearchTime   time.Duration         `json:"-"`
	SearchTimeMs float64               `json:"search_time_ms"`
	View         corpus.View           `json:"view"`
	FromCache    bool                  `json:"from_cache"`
	Degraded     bool                  `json:"degraded,omitempty"`
	Confidence   *ConfidenceAssessment `json:"confidence,omitempty"`
}
