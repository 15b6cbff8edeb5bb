package search

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quaero/quaero/internal/config"
)

func rerankCandidates() []*ScoredCandidate {
	return []*ScoredCandidate{
		candidate("a", "first passage about handover", 0.9),
		candidate("b", "second passage about schedules", 0.7),
		candidate("c", "third passage about parking", 0.5),
	}
}

func rerankerConfig(endpoint string) config.RerankerConfig {
	return config.RerankerConfig{
		Endpoint:        endpoint,
		LLMHost:         endpoint,
		Model:           "reranker-small",
		LLMModel:        "test-model",
		Timeout:         2 * time.Second,
		HybridWidth:     10,
		MaxContentChars: 1200,
	}
}

func TestNoOpReranker(t *testing.T) {
	candidates := rerankCandidates()
	out := NoOpReranker{}.Rerank(context.Background(), "query", candidates, 2)
	require.Len(t, out, 2)
	assert.Equal(t, "a", out[0].ChunkID)
	assert.Equal(t, "b", out[1].ChunkID)
}

func TestNewReranker_ModeSelection(t *testing.T) {
	cfg := rerankerConfig("http://localhost:9659")

	cfg.Mode = ""
	assert.Equal(t, "none", NewReranker(cfg, nil).Name())
	cfg.Mode = "cross_encoder"
	assert.Equal(t, "cross_encoder", NewReranker(cfg, nil).Name())
	cfg.Mode = "llm"
	assert.Equal(t, "llm", NewReranker(cfg, nil).Name())
	cfg.Mode = "hybrid"
	assert.Equal(t, "hybrid", NewReranker(cfg, nil).Name())
}

func TestParsePermutation(t *testing.T) {
	tests := []struct {
		name       string
		reply      string
		poolSize   int
		wantOrder  []int
		wantRanked int
	}{
		{"clean permutation", "2,1,3", 3, []int{1, 0, 2}, 3},
		{"with spaces", " 3 , 1 , 2 ", 3, []int{2, 0, 1}, 3},
		{"omitted appended in order", "2", 3, []int{1, 0, 2}, 1},
		{"duplicates skipped", "1,1,2", 3, []int{0, 1, 2}, 2},
		{"out of range skipped", "9,2,1", 3, []int{1, 0, 2}, 2},
		{"prose then ranking line", "Here is my ranking:\n3,2,1", 3, []int{2, 1, 0}, 3},
		{"malformed", "these are all great", 3, nil, 0},
		{"empty", "", 3, nil, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			order, ranked := parsePermutation(tt.reply, tt.poolSize)
			assert.Equal(t, tt.wantOrder, order)
			assert.Equal(t, tt.wantRanked, ranked)
		})
	}
}

func TestLLMReranker_AppliesPermutation(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/generate", r.URL.Path)
		json.NewEncoder(w).Encode(generateResponse{Response: "3,1,2"})
	}))
	defer server.Close()

	r := NewLLMReranker(rerankerConfig(server.URL), nil)
	out := r.Rerank(context.Background(), "query", rerankCandidates(), 3)

	require.Len(t, out, 3)
	assert.Equal(t, "c", out[0].ChunkID)
	assert.Equal(t, "a", out[1].ChunkID)
	assert.Equal(t, "b", out[2].ChunkID)
}

// A non-numeric model reply keeps the fused order and returns no error.
func TestLLMReranker_MalformedReplyKeepsOriginalOrder(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(generateResponse{Response: "they all look relevant to me"})
	}))
	defer server.Close()

	r := NewLLMReranker(rerankerConfig(server.URL), nil)
	out := r.Rerank(context.Background(), "query", rerankCandidates(), 3)

	require.Len(t, out, 3)
	assert.Equal(t, "a", out[0].ChunkID)
	assert.Equal(t, "b", out[1].ChunkID)
	assert.Equal(t, "c", out[2].ChunkID)
}

func TestLLMReranker_ServerDownKeepsOriginalOrder(t *testing.T) {
	r := NewLLMReranker(rerankerConfig("http://127.0.0.1:1"), nil)
	out := r.Rerank(context.Background(), "query", rerankCandidates(), 3)

	require.Len(t, out, 3)
	assert.Equal(t, "a", out[0].ChunkID)
}

func TestLLMReranker_OmittedCandidatesSortLast(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(generateResponse{Response: "2"})
	}))
	defer server.Close()

	r := NewLLMReranker(rerankerConfig(server.URL), nil)
	out := r.Rerank(context.Background(), "query", rerankCandidates(), 3)

	require.Len(t, out, 3)
	assert.Equal(t, "b", out[0].ChunkID)
	// Omitted candidates keep their relative order behind the ranked one.
	assert.Equal(t, "a", out[1].ChunkID)
	assert.Equal(t, "c", out[2].ChunkID)
	assert.Greater(t, out[0].FusedScore, out[1].FusedScore)
}

func TestCrossEncoderReranker_ReordersByScore(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/rerank", r.URL.Path)

		var req rerankRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Len(t, req.Documents, 3)

		// Score the last document highest.
		resp := rerankResponse{}
		scores := []float64{0.1, 0.5, 0.95}
		for i, s := range scores {
			resp.Results = append(resp.Results, struct {
				Index int     `json:"index"`
				Score float64 `json:"score"`
			}{Index: i, Score: s})
		}
		json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	r := NewCrossEncoderReranker(rerankerConfig(server.URL), nil)
	out := r.Rerank(context.Background(), "query", rerankCandidates(), 3)

	require.Len(t, out, 3)
	assert.Equal(t, "c", out[0].ChunkID)
}

// Cross-encoder mode ranks by the model score alone; a high first-pass
// fused score must not drag a weakly scored candidate back up.
func TestCrossEncoderReranker_ModelScoreReplacesFusedScore(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		resp := rerankResponse{}
		scores := []float64{0.38, 0.42, 0.1}
		for i, s := range scores {
			resp.Results = append(resp.Results, struct {
				Index int     `json:"index"`
				Score float64 `json:"score"`
			}{Index: i, Score: s})
		}
		json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	r := NewCrossEncoderReranker(rerankerConfig(server.URL), nil)
	out := r.Rerank(context.Background(), "query", rerankCandidates(), 3)

	require.Len(t, out, 3)
	assert.Equal(t, "b", out[0].ChunkID)
	assert.Equal(t, "a", out[1].ChunkID)
	assert.Equal(t, "c", out[2].ChunkID)
	assert.InDelta(t, 0.42, out[0].FusedScore, 1e-9)
	assert.InDelta(t, 0.38, out[1].FusedScore, 1e-9)
}

func TestCrossEncoderReranker_ServerErrorKeepsOriginalOrder(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not loaded", http.StatusInternalServerError)
	}))
	defer server.Close()

	r := NewCrossEncoderReranker(rerankerConfig(server.URL), nil)
	out := r.Rerank(context.Background(), "query", rerankCandidates(), 3)

	require.Len(t, out, 3)
	assert.Equal(t, "a", out[0].ChunkID)
	assert.Equal(t, "b", out[1].ChunkID)
	assert.Equal(t, "c", out[2].ChunkID)
}

// Repeated failures open the breaker; degraded ordering still comes back.
func TestCrossEncoderReranker_BreakerOpensAfterFailures(t *testing.T) {
	calls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		http.Error(w, "down", http.StatusServiceUnavailable)
	}))
	defer server.Close()

	r := NewCrossEncoderReranker(rerankerConfig(server.URL), nil)
	for i := 0; i < 10; i++ {
		out := r.Rerank(context.Background(), "query", rerankCandidates(), 3)
		require.Len(t, out, 3)
	}
	assert.Less(t, calls, 10, "open breaker should stop hitting the server")
}

func TestHybridReranker_CrossEncoderShrinksThenLLMOrders(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/rerank":
			var req rerankRequest
			require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			resp := rerankResponse{}
			for i := range req.Documents {
				resp.Results = append(resp.Results, struct {
					Index int     `json:"index"`
					Score float64 `json:"score"`
				}{Index: i, Score: 1.0 - float64(i)*0.1})
			}
			json.NewEncoder(w).Encode(resp)
		case "/api/generate":
			json.NewEncoder(w).Encode(generateResponse{Response: "2,1"})
		default:
			http.NotFound(w, r)
		}
	}))
	defer server.Close()

	cfg := rerankerConfig(server.URL)
	cfg.HybridWidth = 2

	r := NewHybridReranker(cfg, nil)
	out := r.Rerank(context.Background(), "query", rerankCandidates(), 2)

	require.Len(t, out, 2)
	// Cross-encoder keeps a and b; the LLM swaps them.
	assert.Equal(t, "b", out[0].ChunkID)
	assert.Equal(t, "a", out[1].ChunkID)
}
