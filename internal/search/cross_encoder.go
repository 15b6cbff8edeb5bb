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
	"sort"
	"time"

	"github.com/sony/gobreaker/v2"

	"github.com/quaero/quaero/internal/config"
	"github.com/quaero/quaero/internal/qerrors"
)

// CrossEncoderReranker scores (query, content) pairs against an
// external cross-encoder service. Calls go through a circuit breaker
// so a dead scoring service stops costing a timeout per query; any
// failure, including an open breaker, falls back to the input ordering.
type CrossEncoderReranker struct {
	client  *http.Client
	breaker *gobreaker.CircuitBreaker[[]float64]
	cfg     config.RerankerConfig
	logger  *slog.Logger
}

var _ Reranker = (*CrossEncoderReranker)(nil)

// NewCrossEncoderReranker creates a cross-encoder reranker client.
func NewCrossEncoderReranker(cfg config.RerankerConfig, logger *slog.Logger) *CrossEncoderReranker {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}

	breaker := gobreaker.NewCircuitBreaker[[]float64](gobreaker.Settings{
		Name:        "cross_encoder",
		MaxRequests: 1,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.Requests >= 3 &&
				float64(counts.TotalFailures)/float64(counts.Requests) >= 0.6
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("reranker_breaker_state_change",
				slog.String("breaker", name),
				slog.String("from", from.String()),
				slog.String("to", to.String()))
		},
	})

	client := &http.Client{
		Transport: &http.Transport{
			MaxIdleConns:        10,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     30 * time.Second,
		},
	}

	return &CrossEncoderReranker{client: client, breaker: breaker, cfg: cfg, logger: logger}
}

func (r *CrossEncoderReranker) Name() string { return "cross_encoder" }

// Rerank scores each candidate against the query and reorders by the
// model score alone, replacing the fused score. Degrades to the input
// ordering on any failure.
func (r *CrossEncoderReranker) Rerank(ctx context.Context, query string, candidates []*ScoredCandidate, topK int) []*ScoredCandidate {
	if len(candidates) == 0 {
		return candidates
	}

	scores, err := r.breaker.Execute(func() ([]float64, error) {
		return r.scorePairs(ctx, query, candidates)
	})
	if err != nil {
		r.logger.Warn("rerank_degraded",
			slog.String("mode", r.Name()),
			slog.String("error", err.Error()))
		return capTopK(candidates, topK)
	}

	for i, c := range candidates {
		c.FusedScore = scores[i]
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].FusedScore > candidates[j].FusedScore
	})
	return capTopK(candidates, topK)
}

// rerankRequest is the JSON request to the /rerank endpoint.
type rerankRequest struct {
	Query     string   `json:"query"`
	Documents []string `json:"documents"`
	Model     string   `json:"model,omitempty"`
}

// rerankResponse is the JSON response from the /rerank endpoint.
type rerankResponse struct {
	Results []struct {
		Index int     `json:"index"`
		Score float64 `json:"score"`
	} `json:"results"`
}

// scorePairs calls the scoring service and returns one score per
// candidate, aligned with the input order.
func (r *CrossEncoderReranker) scorePairs(ctx context.Context, query string, candidates []*ScoredCandidate) ([]float64, error) {
	docs := make([]string, len(candidates))
	for i, c := range candidates {
		docs[i] = truncateContent(c.Content, r.cfg.MaxContentChars)
	}

	body, err := json.Marshal(rerankRequest{Query: query, Documents: docs, Model: r.cfg.Model})
	if err != nil {
		return nil, fmt.Errorf("marshal rerank request: %w", err)
	}

	callCtx, cancel := context.WithTimeout(ctx, r.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(callCtx, http.MethodPost,
		r.cfg.Endpoint+"/rerank", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create rerank request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, qerrors.Wrap(qerrors.ErrCodeRerankerTimeout, err)
		}
		return nil, fmt.Errorf("rerank call failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("rerank returned status %d: %s", resp.StatusCode, string(msg))
	}

	var parsed rerankResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decode rerank response: %w", err)
	}

	scores := make([]float64, len(candidates))
	seen := 0
	for _, res := range parsed.Results {
		if res.Index < 0 || res.Index >= len(scores) {
			return nil, fmt.Errorf("rerank result index %d out of range", res.Index)
		}
		scores[res.Index] = res.Score
		seen++
	}
	if seen != len(candidates) {
		return nil, fmt.Errorf("rerank scored %d of %d candidates", seen, len(candidates))
	}
	return scores, nil
}
