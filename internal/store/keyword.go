package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"unicode"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/custom"
	"github.com/blevesearch/bleve/v2/analysis/token/lowercase"
	"github.com/blevesearch/bleve/v2/mapping"
	"github.com/blevesearch/bleve/v2/registry"
	"github.com/blevesearch/bleve/v2/search"
)

const (
	// TermTokenizerName is the name of the alphanumeric tokenizer.
	TermTokenizerName = "term_tokenizer"

	// TermAnalyzerName is the name of the passage analyzer: alphanumeric
	// tokens, lowercased, no stemming.
	TermAnalyzerName = "term_analyzer"
)

func init() {
	_ = registry.RegisterTokenizer(TermTokenizerName, termTokenizerConstructor)
}

// BleveKeywordIndex wraps bleve v2 for BM25 keyword search over chunks.
// Writes run in batches under an exclusive lock; reads share an RLock so
// searches never observe a partially applied update.
type BleveKeywordIndex struct {
	mu     sync.RWMutex
	index  bleve.Index
	path   string
	closed bool
	count  int
}

// bleveChunk is the document shape stored in bleve. Only content is
// analyzed; doc_id is kept for per-document deletes.
type bleveChunk struct {
	DocID   string `json:"doc_id"`
	Content string `json:"content"`
}

// NewBleveKeywordIndex creates a keyword index.
// If path is empty, an in-memory index is created (used in tests).
func NewBleveKeywordIndex(path string) (*BleveKeywordIndex, error) {
	indexMapping, err := createIndexMapping()
	if err != nil {
		return nil, fmt.Errorf("create index mapping: %w", err)
	}

	var idx bleve.Index
	if path == "" {
		idx, err = bleve.NewMemOnly(indexMapping)
	} else {
		if mkErr := os.MkdirAll(filepath.Dir(path), 0o755); mkErr != nil {
			return nil, fmt.Errorf("create index directory: %w", mkErr)
		}
		idx, err = bleve.Open(path)
		if err == bleve.ErrorIndexPathDoesNotExist {
			idx, err = bleve.New(path, indexMapping)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("open keyword index: %w", err)
	}

	ki := &BleveKeywordIndex{index: idx, path: path}
	if docCount, cErr := idx.DocCount(); cErr == nil {
		ki.count = int(docCount)
	}
	return ki, nil
}

// createIndexMapping builds the bleve mapping with the term analyzer.
func createIndexMapping() (*mapping.IndexMappingImpl, error) {
	indexMapping := bleve.NewIndexMapping()

	err := indexMapping.AddCustomAnalyzer(TermAnalyzerName, map[string]interface{}{
		"type":      custom.Name,
		"tokenizer": TermTokenizerName,
		"token_filters": []string{
			lowercase.Name,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("add custom analyzer: %w", err)
	}

	chunkMapping := bleve.NewDocumentMapping()

	contentField := bleve.NewTextFieldMapping()
	contentField.Analyzer = TermAnalyzerName
	chunkMapping.AddFieldMappingsAt("content", contentField)

	docIDField := bleve.NewKeywordFieldMapping()
	docIDField.Store = true
	chunkMapping.AddFieldMappingsAt("doc_id", docIDField)

	indexMapping.DefaultMapping = chunkMapping
	indexMapping.DefaultAnalyzer = TermAnalyzerName

	return indexMapping, nil
}

// AddDocument indexes a document's chunks and returns the number indexed.
func (b *BleveKeywordIndex) AddDocument(ctx context.Context, docID string, chunks []*Chunk) (int, error) {
	if len(chunks) == 0 {
		return 0, nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return 0, fmt.Errorf("keyword index is closed")
	}

	batch := b.index.NewBatch()
	indexed := 0
	for _, c := range chunks {
		if strings.TrimSpace(c.Content) == "" {
			continue
		}
		doc := bleveChunk{DocID: docID, Content: c.Content}
		if err := batch.Index(c.ID, doc); err != nil {
			return 0, fmt.Errorf("index chunk %s: %w", c.ID, err)
		}
		indexed++
	}

	if err := b.index.Batch(batch); err != nil {
		return 0, fmt.Errorf("execute index batch: %w", err)
	}

	b.count += indexed
	return indexed, nil
}

// Search returns chunks matching the query, scored by BM25.
// Empty corpus or no shared terms yields an empty slice.
func (b *BleveKeywordIndex) Search(ctx context.Context, queryStr string, topK int) ([]*KeywordResult, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return nil, fmt.Errorf("keyword index is closed")
	}

	if strings.TrimSpace(queryStr) == "" {
		return []*KeywordResult{}, nil
	}

	matchQuery := bleve.NewMatchQuery(queryStr)
	matchQuery.SetField("content")

	searchRequest := bleve.NewSearchRequest(matchQuery)
	searchRequest.Size = topK
	searchRequest.IncludeLocations = true

	result, err := b.index.SearchInContext(ctx, searchRequest)
	if err != nil {
		return nil, fmt.Errorf("keyword search: %w", err)
	}

	results := make([]*KeywordResult, 0, len(result.Hits))
	for _, hit := range result.Hits {
		results = append(results, &KeywordResult{
			ChunkID:      hit.ID,
			Score:        hit.Score,
			MatchedTerms: extractMatchedTerms(hit),
		})
	}

	return results, nil
}

// DeleteDocument removes a document's chunks from the index.
func (b *BleveKeywordIndex) DeleteDocument(ctx context.Context, docID string, chunkIDs []string) error {
	if len(chunkIDs) == 0 {
		return nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return fmt.Errorf("keyword index is closed")
	}

	batch := b.index.NewBatch()
	for _, id := range chunkIDs {
		batch.Delete(id)
	}

	if err := b.index.Batch(batch); err != nil {
		return fmt.Errorf("delete chunks: %w", err)
	}

	b.count -= len(chunkIDs)
	if b.count < 0 {
		b.count = 0
	}
	return nil
}

// Stats returns index statistics.
func (b *BleveKeywordIndex) Stats() *IndexStats {
	b.mu.RLock()
	defer b.mu.RUnlock()

	count := b.count
	if docCount, err := b.index.DocCount(); err == nil {
		count = int(docCount)
	}
	return &IndexStats{ChunkCount: count}
}

// Close releases the underlying index.
func (b *BleveKeywordIndex) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}
	b.closed = true
	return b.index.Close()
}

// extractMatchedTerms collects the query terms that matched a hit.
func extractMatchedTerms(hit *search.DocumentMatch) []string {
	if len(hit.Locations) == 0 {
		return nil
	}

	seen := make(map[string]struct{})
	var terms []string
	for _, fieldLocations := range hit.Locations {
		for term := range fieldLocations {
			if _, ok := seen[term]; !ok {
				seen[term] = struct{}{}
				terms = append(terms, term)
			}
		}
	}
	return terms
}

// termTokenizerConstructor creates the alphanumeric tokenizer for bleve.
func termTokenizerConstructor(config map[string]interface{}, cache *registry.Cache) (analysis.Tokenizer, error) {
	return &termTokenizer{}, nil
}

// termTokenizer emits maximal alphanumeric runs as tokens.
type termTokenizer struct{}

// Tokenize implements analysis.Tokenizer.
func (t *termTokenizer) Tokenize(input []byte) analysis.TokenStream {
	text := string(input)

	result := make(analysis.TokenStream, 0, 16)
	pos := 1
	start := -1

	emit := func(end int) {
		if start < 0 {
			return
		}
		result = append(result, &analysis.Token{
			Term:     []byte(text[start:end]),
			Start:    start,
			End:      end,
			Position: pos,
			Type:     analysis.AlphaNumeric,
		})
		pos++
		start = -1
	}

	for i, r := range text {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			if start < 0 {
				start = i
			}
			continue
		}
		emit(i)
	}
	emit(len(text))

	return result
}
