package dense

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// OllamaEmbedder generates embeddings using Ollama's HTTP API.
type OllamaEmbedder struct {
	client *http.Client
	config OllamaConfig
}

var _ Embedder = (*OllamaEmbedder)(nil)

// NewOllamaEmbedder creates an Ollama embedding client.
func NewOllamaEmbedder(cfg OllamaConfig) *OllamaEmbedder {
	if cfg.Host == "" {
		cfg.Host = DefaultOllamaHost
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.Dimensions <= 0 {
		cfg.Dimensions = DefaultDimensions
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Retry.MaxRetries == 0 && cfg.Retry.InitialDelay == 0 {
		cfg.Retry = DefaultRetryConfig()
	}

	// No client-level timeout: per-request contexts carry the deadline.
	client := &http.Client{
		Transport: &http.Transport{
			MaxIdleConns:        10,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     30 * time.Second,
		},
	}

	return &OllamaEmbedder{client: client, config: cfg}
}

// embedRequest is the JSON request to /api/embed.
type embedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

// embedResponse is the JSON response from /api/embed.
type embedResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
}

// Embed generates an embedding for a single text.
func (e *OllamaEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch generates embeddings for multiple texts. Transient
// failures (network errors, 5xx) are retried with backoff.
func (e *OllamaEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	body, err := json.Marshal(embedRequest{Model: e.config.Model, Input: texts})
	if err != nil {
		return nil, fmt.Errorf("marshal embed request: %w", err)
	}

	var parsed embedResponse
	err = withRetry(ctx, e.config.Retry, func() (bool, error) {
		return e.doEmbed(ctx, body, &parsed)
	})
	if err != nil {
		return nil, err
	}

	if len(parsed.Embeddings) != len(texts) {
		return nil, fmt.Errorf("embed count mismatch: sent %d texts, got %d embeddings",
			len(texts), len(parsed.Embeddings))
	}

	for i, v := range parsed.Embeddings {
		if len(v) != e.config.Dimensions {
			return nil, fmt.Errorf("embedding %d has %d dimensions, expected %d",
				i, len(v), e.config.Dimensions)
		}
	}

	return parsed.Embeddings, nil
}

// doEmbed performs one HTTP call. The bool return marks whether a
// failure is worth retrying.
func (e *OllamaEmbedder) doEmbed(ctx context.Context, body []byte, out *embedResponse) (bool, error) {
	callCtx, cancel := context.WithTimeout(ctx, e.config.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(callCtx, http.MethodPost,
		e.config.Host+"/api/embed", bytes.NewReader(body))
	if err != nil {
		return false, fmt.Errorf("create embed request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return true, fmt.Errorf("embed call failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return resp.StatusCode >= 500, fmt.Errorf("embed call returned status %d: %s",
			resp.StatusCode, string(msg))
	}

	*out = embedResponse{}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return false, fmt.Errorf("decode embed response: %w", err)
	}
	return false, nil
}

// Dimensions returns the embedding dimensionality.
func (e *OllamaEmbedder) Dimensions() int {
	return e.config.Dimensions
}

// ModelName returns the model identifier.
func (e *OllamaEmbedder) ModelName() string {
	return e.config.Model
}
