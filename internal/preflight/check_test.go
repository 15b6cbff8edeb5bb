package preflight

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quaero/quaero/internal/config"
)

func TestCheckDataDirWritable(t *testing.T) {
	cfg := config.NewConfig()
	cfg.DataDir = t.TempDir()

	result := New(cfg).CheckDataDir()
	assert.Equal(t, StatusPass, result.Status)
	assert.True(t, result.Required)
}

func TestCheckDataDirCreatesMissing(t *testing.T) {
	cfg := config.NewConfig()
	cfg.DataDir = t.TempDir() + "/nested/data"

	result := New(cfg).CheckDataDir()
	assert.Equal(t, StatusPass, result.Status)
}

func TestCheckOllamaReachable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	cfg := config.NewConfig()
	cfg.Dense.OllamaHost = srv.URL

	result := New(cfg).CheckOllama(context.Background())
	assert.Equal(t, StatusPass, result.Status)
}

func TestCheckOllamaUnreachableWarns(t *testing.T) {
	cfg := config.NewConfig()
	cfg.Dense.OllamaHost = "http://127.0.0.1:1"

	result := New(cfg).CheckOllama(context.Background())
	assert.Equal(t, StatusWarn, result.Status)
	assert.False(t, result.IsCritical())
}

func TestRunAllSkipsDisabledFeatures(t *testing.T) {
	cfg := config.NewConfig()
	cfg.DataDir = t.TempDir()
	cfg.Reranker.Mode = ""

	results := New(cfg).RunAll(context.Background(), false)
	require.Len(t, results, 1)
	assert.Equal(t, "data_dir", results[0].Name)
}

func TestRunAllIncludesRerankCheck(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	cfg := config.NewConfig()
	cfg.DataDir = t.TempDir()
	cfg.Dense.OllamaHost = srv.URL
	cfg.Reranker.Mode = "cross_encoder"
	cfg.Reranker.Endpoint = srv.URL

	results := New(cfg).RunAll(context.Background(), true)
	require.Len(t, results, 3)
	assert.False(t, HasCriticalFailures(results))
}

func TestHasCriticalFailures(t *testing.T) {
	assert.False(t, HasCriticalFailures([]CheckResult{
		{Status: StatusWarn, Required: false},
		{Status: StatusPass, Required: true},
	}))
	assert.True(t, HasCriticalFailures([]CheckResult{
		{Status: StatusFail, Required: true},
	}))
}
