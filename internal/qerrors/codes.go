// Package qerrors provides structured error handling for Quaero.
//
// Error codes follow the pattern ERR_XXX_DESCRIPTION where:
//   - 1XX: Configuration errors
//   - 2XX: Storage errors (index, metadata, locking)
//   - 3XX: Retrieval and reranking errors
//   - 4XX: Validation errors
//   - 5XX: Internal errors
package qerrors

// Category defines error categories for classification.
type Category string

const (
	// CategoryConfig indicates configuration-related errors.
	CategoryConfig Category = "CONFIG"
	// CategoryStorage indicates index, metadata, and locking errors.
	CategoryStorage Category = "STORAGE"
	// CategoryRetrieval indicates retriever and reranker errors.
	CategoryRetrieval Category = "RETRIEVAL"
	// CategoryValidation indicates caller input validation errors.
	CategoryValidation Category = "VALIDATION"
	// CategoryInternal indicates unexpected internal errors.
	CategoryInternal Category = "INTERNAL"
)

// Severity defines error severity levels.
type Severity string

const (
	// SeverityFatal indicates unrecoverable error, must abort.
	SeverityFatal Severity = "FATAL"
	// SeverityError indicates the operation failed but the process can continue.
	SeverityError Severity = "ERROR"
	// SeverityWarning indicates degraded operation, continuing.
	SeverityWarning Severity = "WARNING"
)

// Error codes organized by category.
const (
	// Config errors (100-199)
	ErrCodeConfigNotFound = "ERR_101_CONFIG_NOT_FOUND"
	ErrCodeConfigInvalid  = "ERR_102_CONFIG_INVALID"

	// Storage errors (200-299)
	ErrCodeIndexCorrupt   = "ERR_201_INDEX_CORRUPT"
	ErrCodeMetadataFailed = "ERR_203_METADATA_FAILED"
	ErrCodeLockHeld       = "ERR_204_LOCK_HELD"

	// Retrieval errors (300-399)
	ErrCodeRetrieverUnavailable = "ERR_301_RETRIEVER_UNAVAILABLE"
	ErrCodeRerankerTimeout      = "ERR_302_RERANKER_TIMEOUT"
	ErrCodeRerankerParse        = "ERR_303_RERANKER_PARSE"
	ErrCodeEmbeddingFailed      = "ERR_304_EMBEDDING_FAILED"

	// Validation errors (400-499)
	ErrCodeQueryEmpty   = "ERR_401_QUERY_EMPTY"
	ErrCodeInvalidTopK  = "ERR_402_INVALID_TOP_K"
	ErrCodeInvalidInput = "ERR_403_INVALID_INPUT"
	ErrCodeQueryTooLong = "ERR_404_QUERY_TOO_LONG"

	// Internal errors (500-599)
	ErrCodeInternal     = "ERR_501_INTERNAL"
	ErrCodeSearchFailed = "ERR_502_SEARCH_FAILED"
	ErrCodeIngestFailed = "ERR_503_INGEST_FAILED"
)

// categoryFromCode extracts category from error code.
func categoryFromCode(code string) Category {
	if len(code) < 7 {
		return CategoryInternal
	}
	switch code[4] {
	case '1':
		return CategoryConfig
	case '2':
		return CategoryStorage
	case '3':
		return CategoryRetrieval
	case '4':
		return CategoryValidation
	default:
		return CategoryInternal
	}
}

// severityFromCode derives severity from error code.
// Retrieval errors are warnings: the pipeline degrades rather than aborts.
func severityFromCode(code string) Severity {
	switch categoryFromCode(code) {
	case CategoryConfig:
		return SeverityFatal
	case CategoryRetrieval:
		return SeverityWarning
	default:
		return SeverityError
	}
}

// retryableCodes lists codes where retrying the operation may succeed.
var retryableCodes = map[string]struct{}{
	ErrCodeRetrieverUnavailable: {},
	ErrCodeRerankerTimeout:      {},
	ErrCodeEmbeddingFailed:      {},
	ErrCodeLockHeld:             {},
}

// isRetryableCode reports whether the code represents a transient failure.
func isRetryableCode(code string) bool {
	_, ok := retryableCodes[code]
	return ok
}
