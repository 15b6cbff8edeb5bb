// Package dense provides the dense (semantic) retrieval path.
//
// The pipeline consumes only the narrow Retriever contract; the bundled
// implementation composes an HTTP embedder with an in-process HNSW graph
// so the service runs without an external vector database.
package dense

import (
	"context"
	"time"
)

// Result is a single dense retrieval hit. Score is a normalized
// similarity comparable within one returned set, not across calls.
type Result struct {
	ChunkID  string
	Content  string
	Metadata map[string]string
	Score    float64
}

// Retriever is the contract the search pipeline consumes.
type Retriever interface {
	// Search returns the topK most semantically similar chunks.
	Search(ctx context.Context, query string, topK int) ([]*Result, error)
}

// Embedder generates vector embeddings for text.
type Embedder interface {
	// Embed generates an embedding for a single text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch generates embeddings for multiple texts in input order.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions returns the embedding dimensionality.
	Dimensions() int

	// ModelName returns the model identifier.
	ModelName() string
}

// OllamaConfig configures the Ollama embedding client.
type OllamaConfig struct {
	// Host is the Ollama endpoint (default: http://localhost:11434).
	Host string

	// Model is the embedding model name.
	Model string

	// Dimensions is the expected embedding dimensionality.
	Dimensions int

	// Timeout bounds each HTTP call.
	Timeout time.Duration

	// Retry controls backoff for transient failures. Zero-valued means
	// DefaultRetryConfig.
	Retry RetryConfig
}

// Defaults for the Ollama embedding client.
const (
	DefaultOllamaHost = "http://localhost:11434"
	DefaultModel      = "nomic-embed-text"
	DefaultDimensions = 768
	DefaultTimeout    = 30 * time.Second
)
