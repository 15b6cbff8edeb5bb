package search

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/quaero/quaero/internal/config"
	"github.com/quaero/quaero/internal/qerrors"
)

// maxLLMCandidates bounds the permutation the model is asked to emit.
// Longer lists degrade ordering quality faster than they add recall.
const maxLLMCandidates = 10

// omittedRerankScore is assigned to candidates the model left out of
// its ranking; they sort after everything it did rank.
const omittedRerankScore = 0.1

// Score blend for the final LLM ordering: the model's opinion dominates
// but the original fused score still breaks near-ties.
const (
	blendOriginalWeight = 0.2
	blendRerankWeight   = 0.8
)

// LLMReranker asks a completion model to emit a relevance ordering of
// a bounded candidate subset and parses a comma-separated index
// permutation out of the free-text reply. A malformed reply degrades
// to the input ordering; it never fails the request.
type LLMReranker struct {
	client *http.Client
	cfg    config.RerankerConfig
	logger *slog.Logger
}

var _ Reranker = (*LLMReranker)(nil)

// NewLLMReranker creates an LLM-driven reranker.
func NewLLMReranker(cfg config.RerankerConfig, logger *slog.Logger) *LLMReranker {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}

	client := &http.Client{
		Transport: &http.Transport{
			MaxIdleConns:        10,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     30 * time.Second,
		},
	}

	return &LLMReranker{client: client, cfg: cfg, logger: logger}
}

func (r *LLMReranker) Name() string { return "llm" }

// Rerank reorders up to maxLLMCandidates candidates by the model's
// permutation; any overflow keeps its original order behind them.
func (r *LLMReranker) Rerank(ctx context.Context, query string, candidates []*ScoredCandidate, topK int) []*ScoredCandidate {
	if len(candidates) == 0 {
		return candidates
	}

	pool := candidates
	var overflow []*ScoredCandidate
	if len(pool) > maxLLMCandidates {
		overflow = pool[maxLLMCandidates:]
		pool = pool[:maxLLMCandidates]
	}

	order, ranked, ok := r.rankPermutation(ctx, query, pool)
	if !ok {
		return capTopK(candidates, topK)
	}

	reordered := applyPermutation(pool, order, ranked)
	reordered = append(reordered, overflow...)
	return capTopK(reordered, topK)
}

// rankPermutation asks the model for an ordering of pool and returns
// candidate indices best-first plus how many the model actually ranked
// (the rest were appended in original order). ok is false when the
// call or the parse failed and the caller should keep original order.
func (r *LLMReranker) rankPermutation(ctx context.Context, query string, pool []*ScoredCandidate) (order []int, ranked int, ok bool) {
	reply, err := r.complete(ctx, r.buildPrompt(query, pool))
	if err != nil {
		r.logger.Warn("rerank_degraded",
			slog.String("mode", r.Name()),
			slog.String("error", err.Error()))
		return nil, 0, false
	}

	order, ranked = parsePermutation(reply, len(pool))
	if order == nil {
		r.logger.Warn("rerank_parse_failed",
			slog.String("mode", r.Name()),
			slog.String("code", qerrors.ErrCodeRerankerParse),
			slog.String("reply", truncateContent(reply, 120)))
		return nil, 0, false
	}
	return order, ranked, true
}

// buildPrompt renders the numbered candidate list and the ranking ask.
func (r *LLMReranker) buildPrompt(query string, pool []*ScoredCandidate) string {
	var b strings.Builder
	b.WriteString("Rank the following passages by relevance to the query.\n")
	b.WriteString("Query: ")
	b.WriteString(query)
	b.WriteString("\n\nPassages:\n")
	for i, c := range pool {
		fmt.Fprintf(&b, "[%d] %s\n", i+1, truncateContent(c.Content, r.cfg.MaxContentChars))
	}
	b.WriteString("\nReply with only the passage numbers, most relevant first, ")
	b.WriteString("comma-separated. Example: 2,1,3\n")
	return b.String()
}

// generateRequest is the JSON request to Ollama's /api/generate.
type generateRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
	Stream bool   `json:"stream"`
}

// generateResponse is the JSON response from /api/generate.
type generateResponse struct {
	Response string `json:"response"`
}

// complete runs one non-streaming completion call.
func (r *LLMReranker) complete(ctx context.Context, prompt string) (string, error) {
	body, err := json.Marshal(generateRequest{Model: r.cfg.LLMModel, Prompt: prompt})
	if err != nil {
		return "", fmt.Errorf("marshal completion request: %w", err)
	}

	callCtx, cancel := context.WithTimeout(ctx, r.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(callCtx, http.MethodPost,
		r.cfg.LLMHost+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create completion request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return "", qerrors.Wrap(qerrors.ErrCodeRerankerTimeout, err)
		}
		return "", fmt.Errorf("completion call failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("completion returned status %d: %s", resp.StatusCode, string(msg))
	}

	var parsed generateResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", fmt.Errorf("decode completion response: %w", err)
	}
	return parsed.Response, nil
}

// parsePermutation extracts a comma-separated 1-indexed ranking from
// free text. Returns 0-indexed candidate positions best-first plus the
// count the model genuinely ranked; candidates it omitted are appended
// at the end in their original order. A reply with no parseable number
// returns (nil, 0). Out-of-range and duplicate entries are skipped.
func parsePermutation(reply string, poolSize int) ([]int, int) {
	// Models often wrap the answer in prose; take the first line that
	// yields at least one valid number.
	for _, line := range strings.Split(reply, "\n") {
		order := parseRankingLine(line, poolSize)
		if order != nil {
			ranked := len(order)
			seen := make(map[int]bool, len(order))
			for _, idx := range order {
				seen[idx] = true
			}
			for i := 0; i < poolSize; i++ {
				if !seen[i] {
					order = append(order, i)
				}
			}
			return order, ranked
		}
	}
	return nil, 0
}

func parseRankingLine(line string, poolSize int) []int {
	var order []int
	seen := make(map[int]bool, poolSize)

	for _, field := range strings.Split(line, ",") {
		n, err := strconv.Atoi(strings.TrimSpace(field))
		if err != nil {
			continue
		}
		idx := n - 1
		if idx < 0 || idx >= poolSize || seen[idx] {
			continue
		}
		seen[idx] = true
		order = append(order, idx)
	}
	return order
}

// applyPermutation reorders pool by order and rescores: the first
// ranked entries get a positional score blended with their original
// fused score, omitted ones (appended by parsePermutation) get a low
// fixed score so they sort last.
func applyPermutation(pool []*ScoredCandidate, order []int, ranked int) []*ScoredCandidate {
	reordered := make([]*ScoredCandidate, 0, len(pool))
	for pos, idx := range order {
		c := pool[idx]
		rerankScore := omittedRerankScore
		if pos < ranked {
			rerankScore = 1.0 - float64(pos)/float64(ranked)
			if rerankScore < omittedRerankScore {
				rerankScore = omittedRerankScore
			}
		}
		c.FusedScore = blendOriginalWeight*c.FusedScore + blendRerankWeight*rerankScore
		reordered = append(reordered, c)
	}
	return reordered
}

// HybridReranker runs the cross-encoder first to shrink the candidate
// pool, then the LLM pass for final ordering of the survivors.
type HybridReranker struct {
	crossEncoder *CrossEncoderReranker
	llm          *LLMReranker
	width        int
}

var _ Reranker = (*HybridReranker)(nil)

// NewHybridReranker creates the two-stage reranker.
func NewHybridReranker(cfg config.RerankerConfig, logger *slog.Logger) *HybridReranker {
	width := cfg.HybridWidth
	if width <= 0 {
		width = maxLLMCandidates
	}
	return &HybridReranker{
		crossEncoder: NewCrossEncoderReranker(cfg, logger),
		llm:          NewLLMReranker(cfg, logger),
		width:        width,
	}
}

func (r *HybridReranker) Name() string { return "hybrid" }

// Rerank shrinks to the hybrid width with the cross-encoder, then lets
// the LLM order the survivors. Each stage degrades independently.
func (r *HybridReranker) Rerank(ctx context.Context, query string, candidates []*ScoredCandidate, topK int) []*ScoredCandidate {
	shrunk := r.crossEncoder.Rerank(ctx, query, candidates, r.width)
	return r.llm.Rerank(ctx, query, shrunk, topK)
}
