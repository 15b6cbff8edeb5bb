package qerrors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_DerivesMetadataFromCode(t *testing.T) {
	tests := []struct {
		name      string
		code      string
		category  Category
		severity  Severity
		retryable bool
	}{
		{"config", ErrCodeConfigInvalid, CategoryConfig, SeverityFatal, false},
		{"storage", ErrCodeMetadataFailed, CategoryStorage, SeverityError, false},
		{"lock held", ErrCodeLockHeld, CategoryStorage, SeverityError, true},
		{"retriever", ErrCodeRetrieverUnavailable, CategoryRetrieval, SeverityWarning, true},
		{"reranker timeout", ErrCodeRerankerTimeout, CategoryRetrieval, SeverityWarning, true},
		{"reranker parse", ErrCodeRerankerParse, CategoryRetrieval, SeverityWarning, false},
		{"validation", ErrCodeQueryEmpty, CategoryValidation, SeverityError, false},
		{"internal", ErrCodeSearchFailed, CategoryInternal, SeverityError, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := New(tt.code, "boom", nil)
			assert.Equal(t, tt.category, err.Category)
			assert.Equal(t, tt.severity, err.Severity)
			assert.Equal(t, tt.retryable, err.Retryable)
		})
	}
}

func TestError_Format(t *testing.T) {
	err := New(ErrCodeQueryEmpty, "query must not be empty", nil)
	assert.Equal(t, "[ERR_401_QUERY_EMPTY] query must not be empty", err.Error())
}

func TestWrap_PreservesCause(t *testing.T) {
	cause := errors.New("connection refused")
	err := Wrap(ErrCodeRetrieverUnavailable, cause)
	require.NotNil(t, err)
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "connection refused", err.Message)
}

func TestWrap_NilReturnsNil(t *testing.T) {
	assert.Nil(t, Wrap(ErrCodeInternal, nil))
}

func TestIs_MatchesByCode(t *testing.T) {
	a := New(ErrCodeRerankerTimeout, "rerank timed out", nil)
	b := New(ErrCodeRerankerTimeout, "different message", nil)
	c := New(ErrCodeRerankerParse, "bad permutation", nil)

	assert.True(t, errors.Is(a, b))
	assert.False(t, errors.Is(a, c))
}

func TestIs_MatchesThroughWrapping(t *testing.T) {
	inner := New(ErrCodeQueryEmpty, "query must not be empty", nil)
	wrapped := fmt.Errorf("handling request: %w", inner)
	assert.True(t, errors.Is(wrapped, New(ErrCodeQueryEmpty, "", nil)))
}

func TestWithDetail_Chains(t *testing.T) {
	err := New(ErrCodeInvalidTopK, "bad top_k", nil).
		WithDetail("top_k", "-1").
		WithDetail("caller", "search handler")
	assert.Equal(t, "-1", err.Details["top_k"])
	assert.Equal(t, "search handler", err.Details["caller"])
}

func TestIsCallerError(t *testing.T) {
	assert.True(t, IsCallerError(EmptyQuery()))
	assert.True(t, IsCallerError(InvalidTopK(0)))
	assert.True(t, IsCallerError(fmt.Errorf("wrapped: %w", EmptyQuery())))
	assert.False(t, IsCallerError(RetrieverUnavailable(errors.New("down"))))
	assert.False(t, IsCallerError(errors.New("plain")))
}
