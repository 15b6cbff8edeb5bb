package dense

import (
	"context"
	"fmt"
	"math"
	"sync"

	"github.com/coder/hnsw"

	"github.com/quaero/quaero/internal/qerrors"
	"github.com/quaero/quaero/internal/store"
)

// LocalRetriever implements Retriever over an in-process HNSW graph.
// Chunk content and metadata are resolved through the metadata store;
// the graph holds only IDs and vectors.
type LocalRetriever struct {
	mu       sync.RWMutex
	graph    *hnsw.Graph[uint64]
	embedder Embedder
	meta     store.MetadataStore

	idMap   map[string]uint64 // chunk ID -> internal key
	keyMap  map[uint64]string // internal key -> chunk ID
	nextKey uint64
}

var _ Retriever = (*LocalRetriever)(nil)

// NewLocalRetriever creates a dense retriever backed by coder/hnsw.
func NewLocalRetriever(embedder Embedder, meta store.MetadataStore) *LocalRetriever {
	graph := hnsw.NewGraph[uint64]()
	graph.Distance = hnsw.CosineDistance
	graph.M = 16
	graph.EfSearch = 32
	graph.Ml = 0.25

	return &LocalRetriever{
		graph:    graph,
		embedder: embedder,
		meta:     meta,
		idMap:    make(map[string]uint64),
		keyMap:   make(map[uint64]string),
	}
}

// IndexChunks embeds and adds chunks to the graph. Re-adding an existing
// chunk ID replaces its vector via lazy deletion: the old node stays in
// the graph but is dropped from the ID maps and filtered from results.
func (r *LocalRetriever) IndexChunks(ctx context.Context, chunks []*store.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Content
	}

	vectors, err := r.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return fmt.Errorf("embed chunks: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for i, c := range chunks {
		if existingKey, exists := r.idMap[c.ID]; exists {
			delete(r.keyMap, existingKey)
			delete(r.idMap, c.ID)
		}

		key := r.nextKey
		r.nextKey++

		vec := make([]float32, len(vectors[i]))
		copy(vec, vectors[i])
		normalizeVectorInPlace(vec)

		r.graph.Add(hnsw.MakeNode(key, vec))
		r.idMap[c.ID] = key
		r.keyMap[key] = c.ID
	}

	return nil
}

// RemoveChunks drops chunk IDs from the retriever (lazy deletion).
func (r *LocalRetriever) RemoveChunks(ids []string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, id := range ids {
		if key, exists := r.idMap[id]; exists {
			delete(r.keyMap, key)
			delete(r.idMap, id)
		}
	}
}

// Count returns the number of live vectors.
func (r *LocalRetriever) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.idMap)
}

// Search embeds the query and returns the topK nearest chunks with
// content and metadata resolved from the metadata store.
func (r *LocalRetriever) Search(ctx context.Context, query string, topK int) ([]*Result, error) {
	vec, err := r.embedder.Embed(ctx, query)
	if err != nil {
		return nil, qerrors.Wrap(qerrors.ErrCodeEmbeddingFailed, fmt.Errorf("embed query: %w", err))
	}
	normalizeVectorInPlace(vec)

	r.mu.RLock()
	if r.graph.Len() == 0 {
		r.mu.RUnlock()
		return []*Result{}, nil
	}

	// Over-fetch to compensate for lazily deleted nodes still in the graph.
	nodes := r.graph.Search(vec, topK+len(r.keyMap)/8+1)

	type hit struct {
		chunkID string
		score   float64
	}
	hits := make([]hit, 0, topK)
	for _, node := range nodes {
		id, exists := r.keyMap[node.Key]
		if !exists {
			continue
		}
		distance := r.graph.Distance(vec, node.Value)
		hits = append(hits, hit{chunkID: id, score: float64(1.0 - distance/2.0)})
		if len(hits) >= topK {
			break
		}
	}
	r.mu.RUnlock()

	ids := make([]string, len(hits))
	for i, h := range hits {
		ids[i] = h.chunkID
	}

	chunks, err := r.meta.GetChunks(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("resolve chunk content: %w", err)
	}

	byID := make(map[string]*store.Chunk, len(chunks))
	for _, c := range chunks {
		byID[c.ID] = c
	}

	results := make([]*Result, 0, len(hits))
	for _, h := range hits {
		c, ok := byID[h.chunkID]
		if !ok {
			// Vector without metadata: orphan from a partial delete.
			continue
		}
		results = append(results, &Result{
			ChunkID:  c.ID,
			Content:  c.Content,
			Metadata: c.Metadata,
			Score:    h.score,
		})
	}

	return results, nil
}

// normalizeVectorInPlace scales v to unit length for cosine similarity.
func normalizeVectorInPlace(v []float32) {
	var sumSquares float64
	for _, val := range v {
		sumSquares += float64(val) * float64(val)
	}
	if sumSquares == 0 {
		return
	}
	invMagnitude := float32(1.0 / math.Sqrt(sumSquares))
	for i := range v {
		v[i] *= invMagnitude
	}
}
