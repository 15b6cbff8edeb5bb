// Package ingest coordinates document indexing across the keyword
// index, the dense retriever, and corpus view bookkeeping.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/quaero/quaero/internal/corpus"
	"github.com/quaero/quaero/internal/store"
)

// VectorIndex is the slice of the dense retriever the coordinator
// drives. Implemented by dense.LocalRetriever.
type VectorIndex interface {
	IndexChunks(ctx context.Context, chunks []*store.Chunk) error
	RemoveChunks(ids []string)
}

// CacheInvalidator drops cached search results after the corpus
// changed underneath them. Implemented by search.Engine.
type CacheInvalidator interface {
	InvalidateCache()
}

// Coordinator applies one document's ingestion across every index and
// keeps them consistent with the persisted metadata.
type Coordinator struct {
	keyword store.KeywordIndex
	vectors VectorIndex
	meta    store.MetadataStore
	views   *corpus.Manager
	cache   CacheInvalidator
	logger  *slog.Logger
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithVectorIndex attaches the dense index; without it ingestion is
// keyword-only.
func WithVectorIndex(v VectorIndex) Option {
	return func(c *Coordinator) { c.vectors = v }
}

// WithCacheInvalidator attaches the search cache to purge on changes.
func WithCacheInvalidator(inv CacheInvalidator) Option {
	return func(c *Coordinator) { c.cache = inv }
}

// WithLogger sets the coordinator logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Coordinator) {
		if l != nil {
			c.logger = l
		}
	}
}

// NewCoordinator creates an ingestion coordinator.
func NewCoordinator(keyword store.KeywordIndex, meta store.MetadataStore, views *corpus.Manager, opts ...Option) *Coordinator {
	c := &Coordinator{
		keyword: keyword,
		meta:    meta,
		views:   views,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// OnDocumentIndexed ingests one document: classify its corpus views,
// persist document and membership, index chunks into the keyword and
// dense paths, and drop stale cached results. Re-ingesting an existing
// doc ID replaces it everywhere. Documents with do_index false are
// persisted for bookkeeping but never enter a retrieval index.
func (c *Coordinator) OnDocumentIndexed(ctx context.Context, doc *store.IndexedDocument) error {
	if doc == nil || doc.DocID == "" {
		return fmt.Errorf("ingest: document with empty ID")
	}
	if doc.IndexedAt.IsZero() {
		doc.IndexedAt = time.Now().UTC()
	}

	// Replacing a document drops its old chunks from both indexes
	// first. This also covers a re-ingest that flips do_index off:
	// the old postings must not outlive the exclusion.
	if existing, err := c.meta.GetDocument(ctx, doc.DocID); err == nil && existing != nil {
		old := make([]string, len(existing.Chunks))
		for i, ch := range existing.Chunks {
			old[i] = ch.ID
		}
		if err := c.keyword.DeleteDocument(ctx, doc.DocID, old); err != nil {
			return fmt.Errorf("keyword replace %s: %w", doc.DocID, err)
		}
		if c.vectors != nil {
			c.vectors.RemoveChunks(old)
		}
	}

	views := c.views.ViewNames(doc.Meta)
	if err := c.meta.SaveDocument(ctx, doc, views); err != nil {
		return fmt.Errorf("persist document %s: %w", doc.DocID, err)
	}

	indexed := 0
	if doc.Meta.DoIndex {
		n, err := c.keyword.AddDocument(ctx, doc.DocID, doc.Chunks)
		if err != nil {
			return fmt.Errorf("keyword index document %s: %w", doc.DocID, err)
		}
		indexed = n

		if c.vectors != nil {
			if err := c.vectors.IndexChunks(ctx, doc.Chunks); err != nil {
				// Keyword retrieval still works; log and continue degraded.
				c.logger.Warn("dense_index_failed",
					slog.String("doc_id", doc.DocID),
					slog.String("error", err.Error()))
			}
		}
	}

	if c.cache != nil {
		c.cache.InvalidateCache()
	}

	c.logger.Info("document_indexed",
		slog.String("doc_id", doc.DocID),
		slog.Int("chunks", indexed),
		slog.Any("views", views))

	return nil
}

// DeleteDocument removes a document from every index and the metadata
// store.
func (c *Coordinator) DeleteDocument(ctx context.Context, docID string) error {
	doc, err := c.meta.GetDocument(ctx, docID)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("load document %s: %w", docID, err)
	}

	chunkIDs := make([]string, len(doc.Chunks))
	for i, ch := range doc.Chunks {
		chunkIDs[i] = ch.ID
	}

	if err := c.keyword.DeleteDocument(ctx, docID, chunkIDs); err != nil {
		return fmt.Errorf("keyword delete %s: %w", docID, err)
	}
	if c.vectors != nil {
		c.vectors.RemoveChunks(chunkIDs)
	}
	if err := c.meta.DeleteDocument(ctx, docID); err != nil {
		return fmt.Errorf("metadata delete %s: %w", docID, err)
	}
	if c.cache != nil {
		c.cache.InvalidateCache()
	}

	c.logger.Info("document_deleted",
		slog.String("doc_id", docID),
		slog.Int("chunks", len(chunkIDs)))

	return nil
}

// Replay rebuilds the in-memory indexes from persisted documents after
// a restart. Excluded documents stay out of the indexes, mirroring
// first ingestion. Returns the number of documents replayed.
func (c *Coordinator) Replay(ctx context.Context) (int, error) {
	docs, err := c.meta.ListDocuments(ctx)
	if err != nil {
		return 0, fmt.Errorf("list documents for replay: %w", err)
	}

	replayed := 0
	for _, doc := range docs {
		if !doc.Meta.DoIndex {
			continue
		}
		if _, err := c.keyword.AddDocument(ctx, doc.DocID, doc.Chunks); err != nil {
			return 0, fmt.Errorf("replay keyword index %s: %w", doc.DocID, err)
		}
		if c.vectors != nil {
			if err := c.vectors.IndexChunks(ctx, doc.Chunks); err != nil {
				c.logger.Warn("replay_dense_index_failed",
					slog.String("doc_id", doc.DocID),
					slog.String("error", err.Error()))
			}
		}
		replayed++
	}

	if replayed > 0 {
		c.logger.Info("replay_complete", slog.Int("documents", replayed))
	}
	return replayed, nil
}
