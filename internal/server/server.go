// Package server exposes the search pipeline over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/quaero/quaero/internal/config"
	"github.com/quaero/quaero/internal/corpus"
	"github.com/quaero/quaero/internal/ingest"
	"github.com/quaero/quaero/internal/qerrors"
	"github.com/quaero/quaero/internal/search"
	"github.com/quaero/quaero/internal/store"
	"github.com/quaero/quaero/internal/telemetry"
)

// Server wires the engine, the ingestion coordinator, and the stores
// behind the HTTP API.
type Server struct {
	engine      *search.Engine
	coordinator *ingest.Coordinator
	meta        store.MetadataStore
	keyword     store.KeywordIndex
	metrics     *telemetry.Metrics
	cfg         config.ServerConfig
	logger      *slog.Logger

	httpServer *http.Server
}

// New creates the HTTP server. metrics may be nil to disable the
// /metrics endpoint and instrumentation.
func New(
	engine *search.Engine,
	coordinator *ingest.Coordinator,
	meta store.MetadataStore,
	keyword store.KeywordIndex,
	metrics *telemetry.Metrics,
	cfg config.ServerConfig,
	logger *slog.Logger,
) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		engine:      engine,
		coordinator: coordinator,
		meta:        meta,
		keyword:     keyword,
		metrics:     metrics,
		cfg:         cfg,
		logger:      logger,
	}
}

// Handler builds the route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealthz)
	mux.HandleFunc("/v1/search", s.handleSearch)
	mux.HandleFunc("/v1/documents", s.handleDocuments)
	mux.HandleFunc("/v1/documents/", s.handleDocumentByID)
	mux.HandleFunc("/v1/stats", s.handleStats)
	if s.metrics != nil {
		mux.Handle("/metrics", s.metrics.Handler())
		return s.metrics.Middleware(mux)
	}
	return mux
}

// Run serves until ctx is canceled, then drains within the configured
// shutdown timeout.
func (s *Server) Run(ctx context.Context) error {
	s.httpServer = &http.Server{
		Addr:         s.cfg.Addr,
		Handler:      s.Handler(),
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("server_listening", slog.String("addr", s.cfg.Addr))
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()
	return s.httpServer.Shutdown(shutdownCtx)
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// searchRequest is the POST /v1/search body.
type searchRequest struct {
	Text           string `json:"text"`
	TopK           int    `json:"top_k"`
	Filter         string `json:"filter,omitempty"`
	SearchMode     string `json:"search_mode,omitempty"`
	View           string `json:"view,omitempty"`
	Intent         string `json:"intent,omitempty"`
	WithConfidence bool   `json:"with_confidence,omitempty"`
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req searchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}

	resp, err := s.engine.Search(r.Context(), req.Text, search.Options{
		TopK:           req.TopK,
		Mode:           search.Mode(req.SearchMode),
		View:           corpus.View(req.View),
		Intent:         req.Intent,
		Filter:         req.Filter,
		WithConfidence: req.WithConfidence,
	})
	if err != nil {
		s.writeSearchError(w, err)
		return
	}

	if s.metrics != nil {
		s.metrics.RecordSearch(string(req.SearchMode), string(resp.View),
			resp.TotalResults, resp.Degraded, resp.FromCache, resp.SearchTime)
		if resp.Confidence != nil {
			s.metrics.RecordRecommendation(string(resp.Confidence.Recommendation))
		}
	}

	writeJSON(w, http.StatusOK, resp)
}

// writeSearchError maps pipeline errors onto status codes: caller
// mistakes are 400s, a double-retriever failure is the only 502.
func (s *Server) writeSearchError(w http.ResponseWriter, err error) {
	var qe *qerrors.QuaeroError
	if errors.As(err, &qe) {
		if qerrors.IsCallerError(err) {
			writeCodedError(w, http.StatusBadRequest, qe.Code, qe.Message)
			return
		}
		writeCodedError(w, http.StatusBadGateway, qe.Code, qe.Message)
		return
	}
	writeCodedError(w, http.StatusInternalServerError, qerrors.ErrCodeSearchFailed, err.Error())
}

// documentRequest is the POST /v1/documents body.
type documentRequest struct {
	DocID  string `json:"doc_id"`
	Chunks []struct {
		ChunkID  string            `json:"chunk_id"`
		Content  string            `json:"content"`
		Metadata map[string]string `json:"metadata,omitempty"`
	} `json:"chunks"`
	Metadata struct {
		QualityScore float64           `json:"quality_score"`
		Signalness   float64           `json:"signalness"`
		DoIndex      bool              `json:"do_index"`
		IsDuplicate  bool              `json:"is_duplicate"`
		HasStructure bool              `json:"has_structure"`
		Extra        map[string]string `json:"extra,omitempty"`
	} `json:"metadata"`
}

func (s *Server) handleDocuments(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req documentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if req.DocID == "" {
		writeCodedError(w, http.StatusBadRequest, qerrors.ErrCodeInvalidInput, "doc_id is required")
		return
	}
	if len(req.Chunks) == 0 {
		writeCodedError(w, http.StatusBadRequest, qerrors.ErrCodeInvalidInput, "at least one chunk is required")
		return
	}

	chunks := make([]*store.Chunk, len(req.Chunks))
	for i, c := range req.Chunks {
		if c.ChunkID == "" {
			writeCodedError(w, http.StatusBadRequest, qerrors.ErrCodeInvalidInput, "chunk_id is required on every chunk")
			return
		}
		chunks[i] = &store.Chunk{
			ID:       c.ChunkID,
			DocID:    req.DocID,
			Content:  c.Content,
			Metadata: c.Metadata,
		}
	}

	doc := &store.IndexedDocument{
		DocID:  req.DocID,
		Chunks: chunks,
		Meta: store.DocumentMeta{
			QualityScore: req.Metadata.QualityScore,
			Signalness:   req.Metadata.Signalness,
			DoIndex:      req.Metadata.DoIndex,
			IsDuplicate:  req.Metadata.IsDuplicate,
			HasStructure: req.Metadata.HasStructure,
			Extra:        req.Metadata.Extra,
		},
		IndexedAt: time.Now().UTC(),
	}

	if err := s.coordinator.OnDocumentIndexed(r.Context(), doc); err != nil {
		s.logger.Error("ingest_failed",
			slog.String("doc_id", req.DocID),
			slog.String("code", qerrors.ErrCodeIngestFailed),
			slog.String("error", err.Error()))
		writeCodedError(w, http.StatusInternalServerError, qerrors.ErrCodeIngestFailed, "ingestion failed")
		return
	}

	if s.metrics != nil {
		s.metrics.RecordIngest(len(chunks))
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"doc_id":         req.DocID,
		"chunks_indexed": len(chunks),
	})
}

func (s *Server) handleDocumentByID(w http.ResponseWriter, r *http.Request) {
	docID := strings.TrimPrefix(r.URL.Path, "/v1/documents/")
	if docID == "" {
		writeError(w, http.StatusBadRequest, "document id is required")
		return
	}

	switch r.Method {
	case http.MethodGet:
		doc, err := s.meta.GetDocument(r.Context(), docID)
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "document not found")
			return
		}
		if err != nil {
			writeCodedError(w, http.StatusInternalServerError, qerrors.ErrCodeInternal, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, doc)
	case http.MethodDelete:
		if err := s.coordinator.DeleteDocument(r.Context(), docID); err != nil {
			writeCodedError(w, http.StatusInternalServerError, qerrors.ErrCodeInternal, err.Error())
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

// statsResponse is the GET /v1/stats body.
type statsResponse struct {
	Documents     int               `json:"documents"`
	Chunks        int               `json:"chunks"`
	CanonicalDocs int               `json:"canonical_documents"`
	IndexedChunks int               `json:"indexed_chunks"`
	Cache         search.CacheStats `json:"cache"`
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	docs, chunks, canonical, err := s.meta.CountDocuments(r.Context(), string(corpus.ViewCanonical))
	if err != nil {
		writeCodedError(w, http.StatusInternalServerError, qerrors.ErrCodeInternal, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, statsResponse{
		Documents:     docs,
		Chunks:        chunks,
		CanonicalDocs: canonical,
		IndexedChunks: s.keyword.Stats().ChunkCount,
		Cache:         s.engine.CacheStats(),
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

func writeCodedError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]string{"error": message, "code": code})
}
