package search

import (
	"context"
	"log/slog"

	"github.com/quaero/quaero/internal/config"
)

// Reranker reorders a candidate list with a second-pass relevance model.
// Implementations must degrade, not fail: any model-call error returns
// the input ordering with a nil error so reranking is never fatal.
type Reranker interface {
	// Rerank returns candidates reordered by second-pass relevance,
	// truncated to topK.
	Rerank(ctx context.Context, query string, candidates []*ScoredCandidate, topK int) []*ScoredCandidate

	// Name identifies the strategy for logging and stats.
	Name() string
}

// NoOpReranker passes candidates through unchanged.
type NoOpReranker struct{}

var _ Reranker = (*NoOpReranker)(nil)

func (NoOpReranker) Name() string { return "none" }

func (NoOpReranker) Rerank(_ context.Context, _ string, candidates []*ScoredCandidate, topK int) []*ScoredCandidate {
	return capTopK(candidates, topK)
}

// NewReranker builds the reranker for the configured mode. An empty
// mode disables reranking.
func NewReranker(cfg config.RerankerConfig, logger *slog.Logger) Reranker {
	switch cfg.Mode {
	case "cross_encoder":
		return NewCrossEncoderReranker(cfg, logger)
	case "llm":
		return NewLLMReranker(cfg, logger)
	case "hybrid":
		return NewHybridReranker(cfg, logger)
	default:
		return NoOpReranker{}
	}
}

// capTopK truncates without copying.
func capTopK(candidates []*ScoredCandidate, topK int) []*ScoredCandidate {
	if topK > 0 && len(candidates) > topK {
		return candidates[:topK]
	}
	return candidates
}

// truncateContent bounds the text fed to external models.
func truncateContent(content string, maxChars int) string {
	if maxChars <= 0 || len(content) <= maxChars {
		return content
	}
	return content[:maxChars]
}
