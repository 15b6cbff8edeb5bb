// Package store provides the keyword index (bleve BM25) and document
// metadata persistence (SQLite) for Quaero.
package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested document does not exist.
var ErrNotFound = errors.New("document not found")

// Chunk is an indexed unit of text.
type Chunk struct {
	ID       string            // Unique within a document
	DocID    string            // Parent document ID
	Content  string            // Passage text
	Metadata map[string]string // Open extension map for provider extras
}

// DocumentMeta holds the typed document-level fields every pipeline stage
// relies on, plus an open extension map for provider-specific extras.
type DocumentMeta struct {
	// QualityScore rates extraction/content quality in [0,1].
	QualityScore float64 `json:"quality_score"`

	// Signalness rates how information-dense the document is in [0,1].
	Signalness float64 `json:"signalness"`

	// DoIndex is false for documents excluded from retrieval entirely.
	DoIndex bool `json:"do_index"`

	// IsDuplicate marks near-duplicates of an already-indexed document.
	IsDuplicate bool `json:"is_duplicate"`

	// HasStructure indicates the source carried structural markup
	// (headings, tables) that survived into chunk metadata.
	HasStructure bool `json:"has_structure"`

	// Extra carries provider-specific fields that no pipeline stage
	// depends on.
	Extra map[string]string `json:"extra,omitempty"`
}

// IndexedDocument is the set of chunks belonging to one source document
// plus its document-level metadata.
type IndexedDocument struct {
	DocID     string
	Chunks    []*Chunk
	Meta      DocumentMeta
	IndexedAt time.Time
}

// KeywordResult is a single keyword-index hit. Scores are unbounded
// positive BM25 values, not yet normalized.
type KeywordResult struct {
	ChunkID      string
	Score        float64
	MatchedTerms []string
}

// IndexStats provides statistics about the keyword index.
type IndexStats struct {
	ChunkCount int
}

// KeywordIndex answers keyword-relevance queries independent of semantic
// vectors. Implementations must allow concurrent readers while writes
// take exclusive ownership.
type KeywordIndex interface {
	// AddDocument indexes a document's chunks and returns the number indexed.
	AddDocument(ctx context.Context, docID string, chunks []*Chunk) (int, error)

	// Search returns chunks matching query ordered by keyword relevance.
	// An empty corpus or a query sharing no terms with any document
	// returns an empty slice, not an error.
	Search(ctx context.Context, query string, topK int) ([]*KeywordResult, error)

	// DeleteDocument removes all chunks of a document from the index.
	DeleteDocument(ctx context.Context, docID string, chunkIDs []string) error

	// Stats returns index statistics.
	Stats() *IndexStats

	// Close releases all resources.
	Close() error
}

// MetadataStore persists document metadata, chunk content, and corpus-view
// membership so they survive process restarts.
type MetadataStore interface {
	// SaveDocument stores a document, its chunks, and its view membership.
	SaveDocument(ctx context.Context, doc *IndexedDocument, views []string) error

	// GetDocument returns a document with its chunks.
	GetDocument(ctx context.Context, docID string) (*IndexedDocument, error)

	// GetChunks batch-fetches chunks by ID, preserving input order for
	// the IDs that exist.
	GetChunks(ctx context.Context, ids []string) ([]*Chunk, error)

	// ViewsFor returns the persisted view membership of a document.
	ViewsFor(ctx context.Context, docID string) ([]string, error)

	// ListDocuments returns all stored documents (for index replay).
	ListDocuments(ctx context.Context) ([]*IndexedDocument, error)

	// DeleteDocument removes a document, its chunks, and its membership.
	DeleteDocument(ctx context.Context, docID string) error

	// CountDocuments returns document and chunk counts, and how many
	// documents belong to the named view.
	CountDocuments(ctx context.Context, view string) (docs, chunks, inView int, err error)

	// State is a small key-value store for runtime bookkeeping.
	GetState(ctx context.Context, key string) (string, error)
	SetState(ctx context.Context, key, value string) error

	// Close releases the underlying database.
	Close() error
}
