package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"

	"github.com/quaero/quaero/internal/config"
	"github.com/quaero/quaero/internal/corpus"
	"github.com/quaero/quaero/internal/dense"
	"github.com/quaero/quaero/internal/ingest"
	"github.com/quaero/quaero/internal/qerrors"
	"github.com/quaero/quaero/internal/search"
	"github.com/quaero/quaero/internal/store"
)

// app bundles the wired service stack shared by the serve, ingest,
// search, and stats commands.
type app struct {
	cfg         *config.Config
	logger      *slog.Logger
	keyword     *store.BleveKeywordIndex
	meta        *store.SQLiteMetadataStore
	views       *corpus.Manager
	retriever   *dense.LocalRetriever
	engine      *search.Engine
	coordinator *ingest.Coordinator

	lock    *flock.Flock
	cleanup []func()
}

// indexPath and metadataPath fix the on-disk layout under the data dir.
func indexPath(cfg *config.Config) string {
	return filepath.Join(cfg.DataDir, "index.bleve")
}

func metadataPath(cfg *config.Config) string {
	return filepath.Join(cfg.DataDir, "quaero.db")
}

// openApp builds the full stack. withDense controls whether the dense
// retriever (and its Ollama dependency) is wired; commands that only
// read metadata skip it. The caller must invoke close.
func openApp(cfg *config.Config, logger *slog.Logger, withDense bool) (*app, error) {
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}

	a := &app{cfg: cfg, logger: logger}

	// One process owns the data dir at a time; a second instance would
	// corrupt the bleve index.
	a.lock = flock.New(filepath.Join(cfg.DataDir, ".quaero.lock"))
	locked, err := a.lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquire data dir lock: %w", err)
	}
	if !locked {
		return nil, qerrors.New(qerrors.ErrCodeLockHeld,
			fmt.Sprintf("data directory %s is locked by another quaero process", cfg.DataDir), nil).
			WithSuggestion("stop the other instance or set QUAERO_DATA_DIR to a different directory")
	}

	keyword, err := store.NewBleveKeywordIndex(indexPath(cfg))
	if err != nil {
		a.close()
		return nil, qerrors.Wrap(qerrors.ErrCodeIndexCorrupt, fmt.Errorf("open keyword index: %w", err))
	}
	a.keyword = keyword
	a.cleanup = append(a.cleanup, func() { _ = keyword.Close() })

	meta, err := store.NewSQLiteMetadataStore(metadataPath(cfg))
	if err != nil {
		a.close()
		return nil, qerrors.Wrap(qerrors.ErrCodeMetadataFailed, fmt.Errorf("open metadata store: %w", err))
	}
	a.meta = meta
	a.cleanup = append(a.cleanup, func() { _ = meta.Close() })

	a.views = corpus.NewManager(cfg.Corpus)

	var retriever dense.Retriever
	if withDense {
		embedder := dense.NewCachedEmbedder(
			dense.NewOllamaEmbedder(dense.OllamaConfig{
				Host:       cfg.Dense.OllamaHost,
				Model:      cfg.Dense.Model,
				Dimensions: cfg.Dense.Dimensions,
				Timeout:    cfg.Dense.Timeout,
			}),
			cfg.Cache.EmbeddingCacheSize,
		)
		a.retriever = dense.NewLocalRetriever(embedder, meta)
		retriever = a.retriever
	}

	a.engine = search.NewEngine(keyword, retriever, a.views, meta, cfg.Search,
		search.WithCache(search.NewResultCache(cfg.Cache.Capacity, cfg.Cache.TTL)),
		search.WithConfidenceGate(search.NewConfidenceGate(cfg.Confidence)),
		search.WithReranker(search.NewReranker(cfg.Reranker, logger)),
		search.WithLogger(logger),
	)

	coordinatorOpts := []ingest.Option{
		ingest.WithCacheInvalidator(a.engine),
		ingest.WithLogger(logger),
	}
	if a.retriever != nil {
		coordinatorOpts = append(coordinatorOpts, ingest.WithVectorIndex(a.retriever))
	}
	a.coordinator = ingest.NewCoordinator(keyword, meta, a.views, coordinatorOpts...)

	return a, nil
}

// replay rebuilds the in-memory dense index from persisted documents.
// The keyword index is disk-backed and does not need replaying; the
// coordinator tolerates re-adding.
func (a *app) replay(ctx context.Context) error {
	if a.retriever == nil {
		return nil
	}
	docs, err := a.meta.ListDocuments(ctx)
	if err != nil {
		return fmt.Errorf("list documents for replay: %w", err)
	}
	for _, doc := range docs {
		if !doc.Meta.DoIndex {
			continue
		}
		if err := a.retriever.IndexChunks(ctx, doc.Chunks); err != nil {
			a.logger.Warn("replay_dense_index_failed",
				slog.String("doc_id", doc.DocID),
				slog.String("error", err.Error()))
		}
	}
	if len(docs) > 0 {
		a.logger.Info("replay_complete", slog.Int("documents", len(docs)))
	}
	return nil
}

func (a *app) close() {
	for i := len(a.cleanup) - 1; i >= 0; i-- {
		a.cleanup[i]()
	}
	if a.lock != nil {
		_ = a.lock.Unlock()
	}
}
