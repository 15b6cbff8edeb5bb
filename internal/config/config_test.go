package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quaero/quaero/internal/qerrors"
)

func TestNewConfig_Defaults(t *testing.T) {
	cfg := NewConfig()

	assert.Equal(t, 1, cfg.Version)
	assert.InDelta(t, 1.0, cfg.Search.KeywordWeight+cfg.Search.DenseWeight, 1e-9,
		"default fusion weights should sum to 1.0")
	assert.Equal(t, 0.7, cfg.Search.MMRLambda)
	assert.Equal(t, 10, cfg.Search.DefaultTopK)
	assert.Equal(t, 512, cfg.Cache.Capacity)
	assert.Equal(t, 5*time.Minute, cfg.Cache.TTL)
	assert.Empty(t, cfg.Reranker.Mode, "reranking is opt-in")
	require.NoError(t, cfg.Validate())
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "quaero.yaml")
	yaml := `
search:
  keyword_weight: 0.55
  dense_weight: 0.45
  default_top_k: 20
corpus:
  min_quality: 0.8
cache:
  ttl: 90s
reranker:
  mode: hybrid
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 0.55, cfg.Search.KeywordWeight)
	assert.Equal(t, 0.45, cfg.Search.DenseWeight)
	assert.Equal(t, 20, cfg.Search.DefaultTopK)
	assert.Equal(t, 0.8, cfg.Corpus.MinQuality)
	assert.Equal(t, 90*time.Second, cfg.Cache.TTL)
	assert.Equal(t, "hybrid", cfg.Reranker.Mode)

	// Untouched sections keep defaults.
	assert.Equal(t, 0.3, cfg.Corpus.MinSignalness)
	assert.Equal(t, 100, cfg.Search.MaxTopK)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "quaero.yaml")
	require.NoError(t, os.WriteFile(path, []byte("search:\n  mmr_lambda: 0.5\n"), 0o644))

	t.Setenv("QUAERO_MMR_LAMBDA", "0.9")
	t.Setenv("QUAERO_RERANK_MODE", "llm")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 0.9, cfg.Search.MMRLambda)
	assert.Equal(t, "llm", cfg.Reranker.Mode)
}

func TestLoad_MissingFileFails(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)

	var qerr *qerrors.QuaeroError
	require.ErrorAs(t, err, &qerr)
	assert.Equal(t, qerrors.ErrCodeConfigNotFound, qerr.Code)
}

func TestLoad_MalformedYAMLFails(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "quaero.yaml")
	require.NoError(t, os.WriteFile(path, []byte("search: ["), 0o644))

	_, err := Load(path)
	require.Error(t, err)

	var qerr *qerrors.QuaeroError
	require.ErrorAs(t, err, &qerr)
	assert.Equal(t, qerrors.ErrCodeConfigInvalid, qerr.Code)
}

func TestValidate_Rejections(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"keyword weight above 1", func(c *Config) { c.Search.KeywordWeight = 1.5 }},
		{"negative dense weight", func(c *Config) { c.Search.DenseWeight = -0.1 }},
		{"lambda out of range", func(c *Config) { c.Search.MMRLambda = 2 }},
		{"default above max", func(c *Config) { c.Search.DefaultTopK = 500 }},
		{"zero cache capacity", func(c *Config) { c.Cache.Capacity = 0 }},
		{"negative ttl", func(c *Config) { c.Cache.TTL = -time.Second }},
		{"bad corpus threshold", func(c *Config) { c.Corpus.MinQuality = 1.2 }},
		{"bad confidence threshold", func(c *Config) { c.Confidence.MinOverall = -0.5 }},
		{"unknown rerank mode", func(c *Config) { c.Reranker.Mode = "psychic" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewConfig()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestSave_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sub", "quaero.yaml")

	cfg := NewConfig()
	cfg.Search.KeywordWeight = 0.25
	cfg.Search.DenseWeight = 0.75
	require.NoError(t, cfg.Save(path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 0.25, loaded.Search.KeywordWeight)
	assert.Equal(t, 0.75, loaded.Search.DenseWeight)
}
