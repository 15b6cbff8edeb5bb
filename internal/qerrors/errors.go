package qerrors

import (
	"errors"
	"fmt"
)

// QuaeroError is the structured error type for Quaero.
// It provides rich context for error handling, logging, and user presentation.
type QuaeroError struct {
	// Code is the unique error code (e.g., "ERR_401_QUERY_EMPTY").
	Code string

	// Message is the human-readable error message.
	Message string

	// Category is the error category (Config, Storage, Retrieval, etc.).
	Category Category

	// Severity is the error severity level.
	Severity Severity

	// Details contains additional context as key-value pairs.
	Details map[string]string

	// Cause is the underlying error that caused this error.
	Cause error

	// Retryable indicates if the operation can be retried.
	Retryable bool

	// Suggestion is an actionable suggestion for the user.
	Suggestion string
}

// Error implements the error interface.
func (e *QuaeroError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause for error chain support.
func (e *QuaeroError) Unwrap() error {
	return e.Cause
}

// Is checks if this error matches the target error by code.
// This enables errors.Is() to work with QuaeroError.
func (e *QuaeroError) Is(target error) bool {
	if t, ok := target.(*QuaeroError); ok {
		return e.Code == t.Code
	}
	return false
}

// WithDetail adds a key-value detail to the error.
// Returns the error for method chaining.
func (e *QuaeroError) WithDetail(key, value string) *QuaeroError {
	if e.Details == nil {
		e.Details = make(map[string]string)
	}
	e.Details[key] = value
	return e
}

// WithSuggestion adds an actionable suggestion for the user.
// Returns the error for method chaining.
func (e *QuaeroError) WithSuggestion(suggestion string) *QuaeroError {
	e.Suggestion = suggestion
	return e
}

// New creates a new QuaeroError with the given code and message.
// Category, severity, and retryable flag are derived from the code.
func New(code string, message string, cause error) *QuaeroError {
	return &QuaeroError{
		Code:      code,
		Message:   message,
		Category:  categoryFromCode(code),
		Severity:  severityFromCode(code),
		Cause:     cause,
		Retryable: isRetryableCode(code),
	}
}

// Wrap creates a QuaeroError from an existing error.
// The error's message becomes the QuaeroError message.
func Wrap(code string, err error) *QuaeroError {
	if err == nil {
		return nil
	}
	return New(code, err.Error(), err)
}

// EmptyQuery creates the caller error for an empty or blank query.
func EmptyQuery() *QuaeroError {
	return New(ErrCodeQueryEmpty, "query must not be empty", nil).
		WithSuggestion("provide a non-empty query string")
}

// InvalidTopK creates the caller error for an out-of-range top_k.
func InvalidTopK(topK int) *QuaeroError {
	return New(ErrCodeInvalidTopK, fmt.Sprintf("top_k must be positive, got %d", topK), nil)
}

// QueryTooLong creates the caller error for a query above the length
// bound.
func QueryTooLong(length, max int) *QuaeroError {
	return New(ErrCodeQueryTooLong, fmt.Sprintf("query is %d characters, maximum is %d", length, max), nil).
		WithSuggestion("shorten the query to its essential terms")
}

// RetrieverUnavailable creates the error returned when both retrieval
// paths failed. A single-path failure never surfaces this error; the
// pipeline degrades to the surviving path instead.
func RetrieverUnavailable(cause error) *QuaeroError {
	return New(ErrCodeRetrieverUnavailable, "all retrieval paths failed", cause).
		WithSuggestion("check the dense retriever endpoint and index health")
}

// IsCallerError reports whether err should surface as a request failure
// (HTTP 4xx) rather than a degraded internal stage.
func IsCallerError(err error) bool {
	var qe *QuaeroError
	if !errors.As(err, &qe) {
		return false
	}
	return qe.Category == CategoryValidation
}
