// Package config loads and validates Quaero configuration.
//
// Precedence, lowest to highest:
//  1. Built-in defaults (NewConfig)
//  2. Config file (quaero.yaml in the data directory or an explicit path)
//  3. QUAERO_* environment variables
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/quaero/quaero/internal/qerrors"
)

// Config is the complete Quaero configuration.
type Config struct {
	Version    int              `yaml:"version" json:"version"`
	DataDir    string           `yaml:"data_dir" json:"data_dir"`
	Search     SearchConfig     `yaml:"search" json:"search"`
	Corpus     CorpusConfig     `yaml:"corpus" json:"corpus"`
	Confidence ConfidenceConfig `yaml:"confidence" json:"confidence"`
	Cache      CacheConfig      `yaml:"cache" json:"cache"`
	Dense      DenseConfig      `yaml:"dense" json:"dense"`
	Reranker   RerankerConfig   `yaml:"reranker" json:"reranker"`
	Server     ServerConfig     `yaml:"server" json:"server"`
	Logging    LoggingConfig    `yaml:"logging" json:"logging"`
}

// SearchConfig configures the hybrid retrieval pipeline.
type SearchConfig struct {
	// KeywordWeight is the fusion weight for keyword scores (0.0-1.0).
	// Should sum to 1.0 with DenseWeight; this is documented contract,
	// not enforced.
	KeywordWeight float64 `yaml:"keyword_weight" json:"keyword_weight"`

	// DenseWeight is the fusion weight for dense similarity (0.0-1.0).
	DenseWeight float64 `yaml:"dense_weight" json:"dense_weight"`

	// MMRLambda trades relevance (1.0) against novelty (0.0).
	MMRLambda float64 `yaml:"mmr_lambda" json:"mmr_lambda"`

	// DefaultTopK is the default number of results per query.
	DefaultTopK int `yaml:"default_top_k" json:"default_top_k"`

	// MaxTopK is the maximum allowed top_k per query.
	MaxTopK int `yaml:"max_top_k" json:"max_top_k"`

	// CandidateMultiplier widens the per-retriever candidate pool
	// relative to top_k before fusion.
	CandidateMultiplier int `yaml:"candidate_multiplier" json:"candidate_multiplier"`
}

// CorpusConfig holds the canonical-view admission thresholds.
// Comparisons are inclusive: a document at the exact threshold passes.
type CorpusConfig struct {
	MinQuality    float64 `yaml:"min_quality" json:"min_quality"`
	MinSignalness float64 `yaml:"min_signalness" json:"min_signalness"`

	// CollectionPrefix namespaces the physical collection names.
	CollectionPrefix string `yaml:"collection_prefix" json:"collection_prefix"`
}

// ConfidenceConfig holds the evidence-sufficiency thresholds.
type ConfidenceConfig struct {
	MinRelevance float64 `yaml:"min_relevance" json:"min_relevance"`
	MinCoverage  float64 `yaml:"min_coverage" json:"min_coverage"`
	MinQuality   float64 `yaml:"min_quality" json:"min_quality"`
	MinOverall   float64 `yaml:"min_overall" json:"min_overall"`
}

// CacheConfig configures the search result cache.
type CacheConfig struct {
	// Capacity is the maximum number of cached result sets.
	Capacity int `yaml:"capacity" json:"capacity"`

	// TTL is the entry time-to-live; entries older than this are never
	// returned even if still resident.
	TTL time.Duration `yaml:"ttl" json:"ttl"`

	// EmbeddingCacheSize is the LRU size for cached query embeddings.
	EmbeddingCacheSize int `yaml:"embedding_cache_size" json:"embedding_cache_size"`
}

// DenseConfig configures the dense retriever.
type DenseConfig struct {
	// OllamaHost is the embedding server endpoint.
	OllamaHost string `yaml:"ollama_host" json:"ollama_host"`

	// Model is the embedding model name.
	Model string `yaml:"model" json:"model"`

	// Dimensions is the embedding dimensionality.
	Dimensions int `yaml:"dimensions" json:"dimensions"`

	// Timeout bounds each embedding or search call.
	Timeout time.Duration `yaml:"timeout" json:"timeout"`
}

// RerankerConfig configures the optional second-pass reranker.
type RerankerConfig struct {
	// Mode selects the rerank strategy: "", "cross_encoder", "llm", "hybrid".
	// Empty disables reranking.
	Mode string `yaml:"mode" json:"mode"`

	// Endpoint is the cross-encoder scoring service URL.
	Endpoint string `yaml:"endpoint" json:"endpoint"`

	// Model is the cross-encoder model alias.
	Model string `yaml:"model" json:"model"`

	// LLMHost is the completion endpoint for LLM-driven ranking.
	LLMHost string `yaml:"llm_host" json:"llm_host"`

	// LLMModel is the completion model for LLM-driven ranking.
	LLMModel string `yaml:"llm_model" json:"llm_model"`

	// Timeout bounds each rerank call; exceeding it falls back to the
	// pre-rerank ordering.
	Timeout time.Duration `yaml:"timeout" json:"timeout"`

	// HybridWidth is the candidate pool the cross-encoder shrinks to
	// before the LLM pass in hybrid mode.
	HybridWidth int `yaml:"hybrid_width" json:"hybrid_width"`

	// MaxContentChars truncates candidate content fed to the model.
	MaxContentChars int `yaml:"max_content_chars" json:"max_content_chars"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Addr            string        `yaml:"addr" json:"addr"`
	ReadTimeout     time.Duration `yaml:"read_timeout" json:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout" json:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" json:"shutdown_timeout"`
}

// LoggingConfig configures structured logging.
type LoggingConfig struct {
	Level    string `yaml:"level" json:"level"`
	FilePath string `yaml:"file_path" json:"file_path"`
}

// NewConfig returns the built-in defaults.
func NewConfig() *Config {
	return &Config{
		Version: 1,
		DataDir: defaultDataDir(),
		Search: SearchConfig{
			KeywordWeight:       0.4,
			DenseWeight:         0.6,
			MMRLambda:           0.7,
			DefaultTopK:         10,
			MaxTopK:             100,
			CandidateMultiplier: 3,
		},
		Corpus: CorpusConfig{
			MinQuality:       0.5,
			MinSignalness:    0.3,
			CollectionPrefix: "quaero",
		},
		Confidence: ConfidenceConfig{
			MinRelevance: 0.35,
			MinCoverage:  0.3,
			MinQuality:   0.25,
			MinOverall:   0.4,
		},
		Cache: CacheConfig{
			Capacity:           512,
			TTL:                5 * time.Minute,
			EmbeddingCacheSize: 1000,
		},
		Dense: DenseConfig{
			OllamaHost: "http://localhost:11434",
			Model:      "nomic-embed-text",
			Dimensions: 768,
			Timeout:    30 * time.Second,
		},
		Reranker: RerankerConfig{
			Mode:            "",
			Endpoint:        "http://localhost:9659",
			Model:           "reranker-small",
			LLMHost:         "http://localhost:11434",
			LLMModel:        "qwen3:0.6b",
			Timeout:         30 * time.Second,
			HybridWidth:     10,
			MaxContentChars: 1200,
		},
		Server: ServerConfig{
			Addr:            ":8765",
			ReadTimeout:     10 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// defaultDataDir returns ~/.quaero, falling back to ./quaero-data.
func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "quaero-data"
	}
	return filepath.Join(home, ".quaero")
}

// Load builds the effective configuration: defaults, then the config file
// at path (optional, "" skips), then environment overrides.
func Load(path string) (*Config, error) {
	cfg := NewConfig()

	if path != "" {
		if err := cfg.loadYAML(path); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return nil, qerrors.Wrap(qerrors.ErrCodeConfigNotFound, err)
			}
			return nil, qerrors.Wrap(qerrors.ErrCodeConfigInvalid, err)
		}
	} else if _, err := os.Stat(defaultConfigPath()); err == nil {
		if err := cfg.loadYAML(defaultConfigPath()); err != nil {
			return nil, qerrors.Wrap(qerrors.ErrCodeConfigInvalid, err)
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, qerrors.Wrap(qerrors.ErrCodeConfigInvalid, err)
	}

	return cfg, nil
}

// defaultConfigPath returns the conventional config file location.
func defaultConfigPath() string {
	return filepath.Join(defaultDataDir(), "quaero.yaml")
}

// loadYAML merges the file at path into the config.
func (c *Config) loadYAML(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}

	var file Config
	if err := yaml.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}

	c.mergeWith(&file)
	return nil
}

// mergeWith overlays non-zero values from other onto c.
func (c *Config) mergeWith(other *Config) {
	if other.Version != 0 {
		c.Version = other.Version
	}
	if other.DataDir != "" {
		c.DataDir = other.DataDir
	}

	if other.Search.KeywordWeight != 0 {
		c.Search.KeywordWeight = other.Search.KeywordWeight
	}
	if other.Search.DenseWeight != 0 {
		c.Search.DenseWeight = other.Search.DenseWeight
	}
	if other.Search.MMRLambda != 0 {
		c.Search.MMRLambda = other.Search.MMRLambda
	}
	if other.Search.DefaultTopK != 0 {
		c.Search.DefaultTopK = other.Search.DefaultTopK
	}
	if other.Search.MaxTopK != 0 {
		c.Search.MaxTopK = other.Search.MaxTopK
	}
	if other.Search.CandidateMultiplier != 0 {
		c.Search.CandidateMultiplier = other.Search.CandidateMultiplier
	}

	if other.Corpus.MinQuality != 0 {
		c.Corpus.MinQuality = other.Corpus.MinQuality
	}
	if other.Corpus.MinSignalness != 0 {
		c.Corpus.MinSignalness = other.Corpus.MinSignalness
	}
	if other.Corpus.CollectionPrefix != "" {
		c.Corpus.CollectionPrefix = other.Corpus.CollectionPrefix
	}

	if other.Confidence.MinRelevance != 0 {
		c.Confidence.MinRelevance = other.Confidence.MinRelevance
	}
	if other.Confidence.MinCoverage != 0 {
		c.Confidence.MinCoverage = other.Confidence.MinCoverage
	}
	if other.Confidence.MinQuality != 0 {
		c.Confidence.MinQuality = other.Confidence.MinQuality
	}
	if other.Confidence.MinOverall != 0 {
		c.Confidence.MinOverall = other.Confidence.MinOverall
	}

	if other.Cache.Capacity != 0 {
		c.Cache.Capacity = other.Cache.Capacity
	}
	if other.Cache.TTL != 0 {
		c.Cache.TTL = other.Cache.TTL
	}
	if other.Cache.EmbeddingCacheSize != 0 {
		c.Cache.EmbeddingCacheSize = other.Cache.EmbeddingCacheSize
	}

	if other.Dense.OllamaHost != "" {
		c.Dense.OllamaHost = other.Dense.OllamaHost
	}
	if other.Dense.Model != "" {
		c.Dense.Model = other.Dense.Model
	}
	if other.Dense.Dimensions != 0 {
		c.Dense.Dimensions = other.Dense.Dimensions
	}
	if other.Dense.Timeout != 0 {
		c.Dense.Timeout = other.Dense.Timeout
	}

	if other.Reranker.Mode != "" {
		c.Reranker.Mode = other.Reranker.Mode
	}
	if other.Reranker.Endpoint != "" {
		c.Reranker.Endpoint = other.Reranker.Endpoint
	}
	if other.Reranker.Model != "" {
		c.Reranker.Model = other.Reranker.Model
	}
	if other.Reranker.LLMHost != "" {
		c.Reranker.LLMHost = other.Reranker.LLMHost
	}
	if other.Reranker.LLMModel != "" {
		c.Reranker.LLMModel = other.Reranker.LLMModel
	}
	if other.Reranker.Timeout != 0 {
		c.Reranker.Timeout = other.Reranker.Timeout
	}
	if other.Reranker.HybridWidth != 0 {
		c.Reranker.HybridWidth = other.Reranker.HybridWidth
	}
	if other.Reranker.MaxContentChars != 0 {
		c.Reranker.MaxContentChars = other.Reranker.MaxContentChars
	}

	if other.Server.Addr != "" {
		c.Server.Addr = other.Server.Addr
	}
	if other.Server.ReadTimeout != 0 {
		c.Server.ReadTimeout = other.Server.ReadTimeout
	}
	if other.Server.WriteTimeout != 0 {
		c.Server.WriteTimeout = other.Server.WriteTimeout
	}
	if other.Server.ShutdownTimeout != 0 {
		c.Server.ShutdownTimeout = other.Server.ShutdownTimeout
	}

	if other.Logging.Level != "" {
		c.Logging.Level = other.Logging.Level
	}
	if other.Logging.FilePath != "" {
		c.Logging.FilePath = other.Logging.FilePath
	}
}

// applyEnv overlays QUAERO_* environment variables.
func (c *Config) applyEnv() {
	if v := os.Getenv("QUAERO_DATA_DIR"); v != "" {
		c.DataDir = v
	}
	if v := os.Getenv("QUAERO_KEYWORD_WEIGHT"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			c.Search.KeywordWeight = f
		}
	}
	if v := os.Getenv("QUAERO_DENSE_WEIGHT"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			c.Search.DenseWeight = f
		}
	}
	if v := os.Getenv("QUAERO_MMR_LAMBDA"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			c.Search.MMRLambda = f
		}
	}
	if v := os.Getenv("QUAERO_CACHE_TTL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.Cache.TTL = d
		}
	}
	if v := os.Getenv("QUAERO_OLLAMA_HOST"); v != "" {
		c.Dense.OllamaHost = v
	}
	if v := os.Getenv("QUAERO_RERANK_MODE"); v != "" {
		c.Reranker.Mode = v
	}
	if v := os.Getenv("QUAERO_ADDR"); v != "" {
		c.Server.Addr = v
	}
	if v := os.Getenv("QUAERO_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
}

// Validate checks configuration invariants.
func (c *Config) Validate() error {
	if c.Search.KeywordWeight < 0 || c.Search.KeywordWeight > 1 {
		return fmt.Errorf("search.keyword_weight must be in [0,1], got %v", c.Search.KeywordWeight)
	}
	if c.Search.DenseWeight < 0 || c.Search.DenseWeight > 1 {
		return fmt.Errorf("search.dense_weight must be in [0,1], got %v", c.Search.DenseWeight)
	}
	if c.Search.MMRLambda < 0 || c.Search.MMRLambda > 1 {
		return fmt.Errorf("search.mmr_lambda must be in [0,1], got %v", c.Search.MMRLambda)
	}
	if c.Search.DefaultTopK <= 0 || c.Search.MaxTopK <= 0 {
		return fmt.Errorf("search top_k limits must be positive")
	}
	if c.Search.DefaultTopK > c.Search.MaxTopK {
		return fmt.Errorf("search.default_top_k (%d) exceeds max_top_k (%d)",
			c.Search.DefaultTopK, c.Search.MaxTopK)
	}
	for name, v := range map[string]float64{
		"corpus.min_quality":       c.Corpus.MinQuality,
		"corpus.min_signalness":    c.Corpus.MinSignalness,
		"confidence.min_relevance": c.Confidence.MinRelevance,
		"confidence.min_coverage":  c.Confidence.MinCoverage,
		"confidence.min_quality":   c.Confidence.MinQuality,
		"confidence.min_overall":   c.Confidence.MinOverall,
	} {
		if v < 0 || v > 1 {
			return fmt.Errorf("%s must be in [0,1], got %v", name, v)
		}
	}
	if c.Cache.Capacity <= 0 {
		return fmt.Errorf("cache.capacity must be positive, got %d", c.Cache.Capacity)
	}
	if c.Cache.TTL <= 0 {
		return fmt.Errorf("cache.ttl must be positive, got %v", c.Cache.TTL)
	}
	switch c.Reranker.Mode {
	case "", "cross_encoder", "llm", "hybrid":
	default:
		return fmt.Errorf("reranker.mode must be one of cross_encoder, llm, hybrid; got %q", c.Reranker.Mode)
	}
	return nil
}

// Save writes the configuration to path as YAML.
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}
