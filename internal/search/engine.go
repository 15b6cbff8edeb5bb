package search

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/quaero/quaero/internal/config"
	"github.com/quaero/quaero/internal/corpus"
	"github.com/quaero/quaero/internal/dense"
	"github.com/quaero/quaero/internal/qerrors"
	"github.com/quaero/quaero/internal/store"
)

// MaxQueryChars bounds query length. Longer input is almost always a
// pasted document, and it would blow up the keyword analyzer and the
// embedding call alike.
const MaxQueryChars = 2000

// Engine runs the full retrieval pipeline for one query: view
// resolution, cache lookup, concurrent keyword and dense retrieval,
// weighted fusion, candidate hydration and view filtering, MMR
// diversity, optional reranking, and the confidence gate. Engines are
// safe for concurrent use; per-request state never escapes the call.
type Engine struct {
	keyword  store.KeywordIndex
	dense    dense.Retriever
	views    *corpus.Manager
	meta     store.MetadataStore
	fusion   *WeightedFusion
	reranker Reranker
	gate     *ConfidenceGate
	cache    *ResultCache
	cfg      config.SearchConfig
	logger   *slog.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithReranker installs a second-pass reranker.
func WithReranker(r Reranker) Option {
	return func(e *Engine) {
		if r != nil {
			e.reranker = r
		}
	}
}

// WithCache installs a result cache.
func WithCache(c *ResultCache) Option {
	return func(e *Engine) { e.cache = c }
}

// WithConfidenceGate installs the evidence gate.
func WithConfidenceGate(g *ConfidenceGate) Option {
	return func(e *Engine) { e.gate = g }
}

// WithLogger sets the engine logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// NewEngine creates a search engine over the two retrieval paths.
// denseRetriever may be nil; the engine then runs keyword-only. The
// metadata store resolves chunk content for keyword-only hits and the
// view membership of every candidate's document.
func NewEngine(
	keyword store.KeywordIndex,
	denseRetriever dense.Retriever,
	views *corpus.Manager,
	meta store.MetadataStore,
	cfg config.SearchConfig,
	opts ...Option,
) *Engine {
	e := &Engine{
		keyword:  keyword,
		dense:    denseRetriever,
		views:    views,
		meta:     meta,
		fusion:   NewWeightedFusion(Weights{Keyword: cfg.KeywordWeight, Dense: cfg.DenseWeight}),
		reranker: NoOpReranker{},
		cfg:      cfg,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Search executes the pipeline. Only caller-input errors (empty query,
// out-of-range topK) and a double-retriever failure surface as errors;
// every other stage degrades to the best available result.
func (e *Engine) Search(ctx context.Context, query string, opts Options) (*Response, error) {
	start := time.Now()

	query = strings.TrimSpace(query)
	if query == "" {
		return nil, qerrors.EmptyQuery()
	}
	if len(query) > MaxQueryChars {
		return nil, qerrors.QueryTooLong(len(query), MaxQueryChars)
	}
	opts = e.applyDefaults(opts)
	if opts.TopK < 1 || opts.TopK > e.cfg.MaxTopK {
		return nil, qerrors.InvalidTopK(opts.TopK)
	}

	view := e.views.SuggestView(opts.Intent, opts.View)

	if e.cache != nil {
		if cached, ok := e.cache.Get(query, opts.TopK, cacheFilter(opts.Filter, view), opts.Mode); ok {
			return e.respond(query, cached, view, start, true, false, opts), nil
		}
	}

	results, degraded, err := e.retrieveAndRank(ctx, query, view, opts)
	if err != nil {
		return nil, err
	}

	if e.cache != nil {
		e.cache.Set(query, opts.TopK, cacheFilter(opts.Filter, view), opts.Mode, results)
	}

	resp := e.respond(query, results, view, start, false, degraded, opts)

	e.logger.Debug("search_complete",
		slog.String("query", truncateContent(query, 80)),
		slog.String("view", string(view)),
		slog.String("mode", string(opts.Mode)),
		slog.Int("results", len(results)),
		slog.Bool("degraded", degraded),
		slog.Duration("elapsed", resp.SearchTime))

	return resp, nil
}

// applyDefaults fills zero-valued options from configuration.
func (e *Engine) applyDefaults(opts Options) Options {
	if opts.TopK == 0 {
		opts.TopK = e.cfg.DefaultTopK
	}
	if !opts.Mode.Valid() {
		opts.Mode = ModeHybrid
	}
	if opts.Mode == ModeDense && e.dense == nil {
		opts.Mode = ModeKeyword
	}
	return opts
}

// retrieveAndRank runs fan-out retrieval, fusion, hydration, diversity,
// and the reranker. It errors only when every requested path failed or
// the metadata store is unreachable.
func (e *Engine) retrieveAndRank(ctx context.Context, query string, view corpus.View, opts Options) ([]*ScoredCandidate, bool, error) {
	candidateK := opts.TopK * e.cfg.CandidateMultiplier
	if candidateK < opts.TopK {
		candidateK = opts.TopK
	}

	keywordResults, denseResults, degraded, err := e.fanOut(ctx, query, candidateK, opts.Mode)
	if err != nil {
		return nil, false, err
	}

	fused := e.fusion.Fuse(keywordResults, denseResults, candidateK)
	hydrated, err := e.hydrate(ctx, fused, view)
	if err != nil {
		return nil, false, err
	}
	diversified := Diversify(hydrated, opts.TopK, e.cfg.MMRLambda)
	final := e.reranker.Rerank(ctx, query, diversified, opts.TopK)

	return final, degraded, nil
}

// hydrate resolves candidates against the metadata store and drops
// those outside the requested view. Keyword hits arrive with only an ID
// and a score, and dense hits carry no document identity, so every
// candidate is resolved before the content-dependent stages run on it.
// Index entries whose chunk no longer exists in metadata are dropped.
func (e *Engine) hydrate(ctx context.Context, candidates []*ScoredCandidate, view corpus.View) ([]*ScoredCandidate, error) {
	if len(candidates) == 0 {
		return candidates, nil
	}

	ids := make([]string, len(candidates))
	for i, c := range candidates {
		ids[i] = c.ChunkID
	}
	chunks, err := e.meta.GetChunks(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("hydrate candidates: %w", err)
	}
	byID := make(map[string]*store.Chunk, len(chunks))
	for _, ch := range chunks {
		byID[ch.ID] = ch
	}

	inView := make(map[string]bool)
	kept := make([]*ScoredCandidate, 0, len(candidates))
	for _, c := range candidates {
		ch, ok := byID[c.ChunkID]
		if !ok {
			continue
		}
		if c.Content == "" {
			c.Content = ch.Content
		}
		if c.Metadata == nil {
			c.Metadata = ch.Metadata
		}
		c.DocID = ch.DocID

		member, seen := inView[ch.DocID]
		if !seen {
			member, err = e.docInView(ctx, ch.DocID, view)
			if err != nil {
				return nil, err
			}
			inView[ch.DocID] = member
		}
		if member {
			kept = append(kept, c)
		}
	}
	return kept, nil
}

// docInView reports whether the document belongs to the requested
// corpus view. A document missing from the store counts as outside
// every view.
func (e *Engine) docInView(ctx context.Context, docID string, view corpus.View) (bool, error) {
	names, err := e.meta.ViewsFor(ctx, docID)
	if errors.Is(err, store.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("resolve views for %s: %w", docID, err)
	}
	for _, name := range names {
		if name == string(view) {
			return true, nil
		}
	}
	return false, nil
}

// fanOut runs the keyword and dense lookups concurrently. A single
// failed path degrades to the other; only both failing is an error.
func (e *Engine) fanOut(ctx context.Context, query string, candidateK int, mode Mode) ([]*store.KeywordResult, []*dense.Result, bool, error) {
	runKeyword := mode == ModeHybrid || mode == ModeKeyword
	runDense := (mode == ModeHybrid || mode == ModeDense) && e.dense != nil

	var (
		keywordResults []*store.KeywordResult
		denseResults   []*dense.Result
		keywordErr     error
		denseErr       error
	)

	g, gctx := errgroup.WithContext(ctx)

	if runKeyword {
		g.Go(func() error {
			keywordResults, keywordErr = e.keyword.Search(gctx, query, candidateK)
			return nil
		})
	}
	if runDense {
		g.Go(func() error {
			denseResults, denseErr = e.dense.Search(gctx, query, candidateK)
			return nil
		})
	}

	// Goroutines report through captured error slots, never through the
	// group, so one failed path cannot cancel the other.
	_ = g.Wait()

	if keywordErr != nil {
		e.logger.Warn("keyword_path_failed", slog.String("error", keywordErr.Error()))
	}
	if denseErr != nil {
		e.logger.Warn("dense_path_failed", slog.String("error", denseErr.Error()))
	}

	keywordFailed := runKeyword && keywordErr != nil
	denseFailed := runDense && denseErr != nil

	switch {
	case keywordFailed && denseFailed:
		return nil, nil, false, qerrors.RetrieverUnavailable(keywordErr)
	case keywordFailed && !runDense:
		return nil, nil, false, qerrors.RetrieverUnavailable(keywordErr)
	case denseFailed && !runKeyword:
		return nil, nil, false, qerrors.RetrieverUnavailable(denseErr)
	}

	if keywordFailed {
		keywordResults = nil
	}
	if denseFailed {
		denseResults = nil
	}

	return keywordResults, denseResults, keywordFailed || denseFailed, nil
}

// respond assembles the response, running the confidence gate when the
// caller asked for it. Confidence is computed fresh even on cache hits
// because the assessment is cheap and never persisted.
func (e *Engine) respond(query string, results []*ScoredCandidate, view corpus.View, start time.Time, fromCache, degraded bool, opts Options) *Response {
	elapsed := time.Since(start)
	resp := &Response{
		Query:        query,
		Results:      results,
		TotalResults: len(results),
		SearchTime:   elapsed,
		SearchTimeMs: float64(elapsed.Microseconds()) / 1000.0,
		View:         view,
		FromCache:    fromCache,
		Degraded:     degraded,
	}
	if opts.WithConfidence && e.gate != nil {
		resp.Confidence = e.gate.Assess(query, results)
	}
	return resp
}

// cacheFilter folds the resolved view into the caller's filter tag so
// the same query against different views never shares a cache entry.
func cacheFilter(filter string, view corpus.View) string {
	return filter + "|" + string(view)
}

// CacheStats exposes the result cache counters, or a zero snapshot
// when caching is disabled.
func (e *Engine) CacheStats() CacheStats {
	if e.cache == nil {
		return CacheStats{}
	}
	return e.cache.Stats()
}

// InvalidateCache drops cached results after the corpus changed.
func (e *Engine) InvalidateCache() {
	if e.cache != nil {
		e.cache.InvalidateAll()
	}
}
