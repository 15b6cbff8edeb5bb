package dense

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastRetry(maxRetries int) RetryConfig {
	return RetryConfig{
		MaxRetries:   maxRetries,
		InitialDelay: time.Millisecond,
		MaxDelay:     5 * time.Millisecond,
		Multiplier:   2.0,
	}
}

func TestWithRetrySucceedsAfterTransientFailures(t *testing.T) {
	calls := 0
	err := withRetry(context.Background(), fastRetry(3), func() (bool, error) {
		calls++
		if calls < 3 {
			return true, errors.New("transient")
		}
		return false, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestWithRetryStopsOnNonRetryable(t *testing.T) {
	calls := 0
	err := withRetry(context.Background(), fastRetry(3), func() (bool, error) {
		calls++
		return false, errors.New("bad request")
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestWithRetryExhaustsAttempts(t *testing.T) {
	calls := 0
	err := withRetry(context.Background(), fastRetry(2), func() (bool, error) {
		calls++
		return true, errors.New("still down")
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed after 2 retries")
	assert.Equal(t, 3, calls)
}

func TestWithRetryRespectsContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := withRetry(ctx, fastRetry(3), func() (bool, error) {
		return true, errors.New("transient")
	})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestOllamaEmbedderRetriesServerErrors(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		_ = json.NewEncoder(w).Encode(embedResponse{
			Embeddings: [][]float32{{0.1, 0.2, 0.3}},
		})
	}))
	defer srv.Close()

	e := NewOllamaEmbedder(OllamaConfig{
		Host:       srv.URL,
		Dimensions: 3,
		Retry:      fastRetry(3),
	})

	vec, err := e.Embed(context.Background(), "hello")
	require.NoError(t, err)
	assert.Len(t, vec, 3)
	assert.Equal(t, 3, calls)
}

func TestOllamaEmbedderDoesNotRetryClientErrors(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		http.Error(w, "unknown model", http.StatusNotFound)
	}))
	defer srv.Close()

	e := NewOllamaEmbedder(OllamaConfig{
		Host:       srv.URL,
		Dimensions: 3,
		Retry:      fastRetry(3),
	})

	_, err := e.Embed(context.Background(), "hello")
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}
