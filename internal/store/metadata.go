package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver (no CGO)
)

// SQLiteMetadataStore persists documents, chunks, and corpus-view
// membership in SQLite. WAL mode allows a reader (search) alongside the
// single writer (ingestion).
type SQLiteMetadataStore struct {
	db   *sql.DB
	path string
}

var _ MetadataStore = (*SQLiteMetadataStore)(nil)

// NewSQLiteMetadataStore opens (or creates) the metadata database at path.
// If path is empty, an in-memory database is used (tests).
func NewSQLiteMetadataStore(path string) (*SQLiteMetadataStore, error) {
	dsn := ":memory:"
	if path != "" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create metadata directory: %w", err)
		}
		dsn = path
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open metadata database: %w", err)
	}

	// Single writer prevents lock contention with modernc.org/sqlite.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA foreign_keys = ON",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("set pragma: %w", err)
		}
	}

	s := &SQLiteMetadataStore{db: db, path: path}
	if err := s.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return s, nil
}

func (s *SQLiteMetadataStore) initSchema() error {
	schema := `
CREATE TABLE IF NOT EXISTS documents (
	doc_id        TEXT PRIMARY KEY,
	quality_score REAL NOT NULL,
	signalness    REAL NOT NULL,
	do_index      INTEGER NOT NULL,
	is_duplicate  INTEGER NOT NULL,
	has_structure INTEGER NOT NULL,
	extra         TEXT,
	views         TEXT NOT NULL,
	indexed_at    TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS chunks (
	chunk_id TEXT PRIMARY KEY,
	doc_id   TEXT NOT NULL REFERENCES documents(doc_id) ON DELETE CASCADE,
	content  TEXT NOT NULL,
	metadata TEXT,
	seq      INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_chunks_doc ON chunks(doc_id);

CREATE TABLE IF NOT EXISTS state (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL
);
`
	_, err := s.db.Exec(schema)
	return err
}

// SaveDocument stores a document, its chunks, and its view membership.
// An existing document with the same ID is replaced.
func (s *SQLiteMetadataStore) SaveDocument(ctx context.Context, doc *IndexedDocument, views []string) error {
	if doc == nil || doc.DocID == "" {
		return fmt.Errorf("document with non-empty doc_id required")
	}

	extra, err := json.Marshal(doc.Meta.Extra)
	if err != nil {
		return fmt.Errorf("marshal extra metadata: %w", err)
	}

	indexedAt := doc.IndexedAt
	if indexedAt.IsZero() {
		indexedAt = time.Now().UTC()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO documents (doc_id, quality_score, signalness, do_index, is_duplicate, has_structure, extra, views, indexed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(doc_id) DO UPDATE SET
			quality_score = excluded.quality_score,
			signalness    = excluded.signalness,
			do_index      = excluded.do_index,
			is_duplicate  = excluded.is_duplicate,
			has_structure = excluded.has_structure,
			extra         = excluded.extra,
			views         = excluded.views,
			indexed_at    = excluded.indexed_at`,
		doc.DocID, doc.Meta.QualityScore, doc.Meta.Signalness,
		boolToInt(doc.Meta.DoIndex), boolToInt(doc.Meta.IsDuplicate), boolToInt(doc.Meta.HasStructure),
		string(extra), strings.Join(views, ","), indexedAt)
	if err != nil {
		return fmt.Errorf("save document %s: %w", doc.DocID, err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM chunks WHERE doc_id = ?`, doc.DocID); err != nil {
		return fmt.Errorf("clear old chunks: %w", err)
	}

	for i, c := range doc.Chunks {
		meta, err := json.Marshal(c.Metadata)
		if err != nil {
			return fmt.Errorf("marshal chunk metadata: %w", err)
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO chunks (chunk_id, doc_id, content, metadata, seq)
			VALUES (?, ?, ?, ?, ?)`,
			c.ID, doc.DocID, c.Content, string(meta), i)
		if err != nil {
			return fmt.Errorf("save chunk %s: %w", c.ID, err)
		}
	}

	return tx.Commit()
}

// GetDocument returns a document with its chunks.
func (s *SQLiteMetadataStore) GetDocument(ctx context.Context, docID string) (*IndexedDocument, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT doc_id, quality_score, signalness, do_index, is_duplicate, has_structure, extra, indexed_at
		FROM documents WHERE doc_id = ?`, docID)

	doc, err := scanDocument(row)
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT chunk_id, doc_id, content, metadata FROM chunks
		WHERE doc_id = ? ORDER BY seq`, docID)
	if err != nil {
		return nil, fmt.Errorf("load chunks: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		c, err := scanChunk(rows)
		if err != nil {
			return nil, err
		}
		doc.Chunks = append(doc.Chunks, c)
	}
	return doc, rows.Err()
}

// GetChunks batch-fetches chunks by ID. Missing IDs are skipped; the
// returned order follows the input order.
func (s *SQLiteMetadataStore) GetChunks(ctx context.Context, ids []string) ([]*Chunk, error) {
	if len(ids) == 0 {
		return []*Chunk{}, nil
	}

	placeholders := strings.Repeat("?,", len(ids))
	placeholders = placeholders[:len(placeholders)-1]
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT chunk_id, doc_id, content, metadata FROM chunks WHERE chunk_id IN (`+placeholders+`)`,
		args...)
	if err != nil {
		return nil, fmt.Errorf("batch load chunks: %w", err)
	}
	defer rows.Close()

	byID := make(map[string]*Chunk, len(ids))
	for rows.Next() {
		c, err := scanChunk(rows)
		if err != nil {
			return nil, err
		}
		byID[c.ID] = c
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	result := make([]*Chunk, 0, len(byID))
	for _, id := range ids {
		if c, ok := byID[id]; ok {
			result = append(result, c)
		}
	}
	return result, nil
}

// ViewsFor returns the persisted view membership of a document.
func (s *SQLiteMetadataStore) ViewsFor(ctx context.Context, docID string) ([]string, error) {
	var views string
	err := s.db.QueryRowContext(ctx,
		`SELECT views FROM documents WHERE doc_id = ?`, docID).Scan(&views)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("views for %s: %w", docID, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	if views == "" {
		return []string{}, nil
	}
	return strings.Split(views, ","), nil
}

// ListDocuments returns all stored documents with their chunks.
func (s *SQLiteMetadataStore) ListDocuments(ctx context.Context) ([]*IndexedDocument, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT doc_id, quality_score, signalness, do_index, is_duplicate, has_structure, extra, indexed_at
		FROM documents ORDER BY doc_id`)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	defer rows.Close()

	var docs []*IndexedDocument
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for _, doc := range docs {
		chunkRows, err := s.db.QueryContext(ctx, `
			SELECT chunk_id, doc_id, content, metadata FROM chunks
			WHERE doc_id = ? ORDER BY seq`, doc.DocID)
		if err != nil {
			return nil, fmt.Errorf("load chunks for %s: %w", doc.DocID, err)
		}
		for chunkRows.Next() {
			c, err := scanChunk(chunkRows)
			if err != nil {
				chunkRows.Close()
				return nil, err
			}
			doc.Chunks = append(doc.Chunks, c)
		}
		if err := chunkRows.Err(); err != nil {
			chunkRows.Close()
			return nil, err
		}
		chunkRows.Close()
	}

	return docs, nil
}

// DeleteDocument removes a document, its chunks (cascade), and membership.
func (s *SQLiteMetadataStore) DeleteDocument(ctx context.Context, docID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM documents WHERE doc_id = ?`, docID)
	return err
}

// CountDocuments returns document/chunk totals and view membership count.
func (s *SQLiteMetadataStore) CountDocuments(ctx context.Context, view string) (docs, chunks, inView int, err error) {
	if err = s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM documents`).Scan(&docs); err != nil {
		return 0, 0, 0, err
	}
	if err = s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM chunks`).Scan(&chunks); err != nil {
		return 0, 0, 0, err
	}
	if err = s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM documents WHERE ',' || views || ',' LIKE '%,' || ? || ',%'`,
		view).Scan(&inView); err != nil {
		return 0, 0, 0, err
	}
	return docs, chunks, inView, nil
}

// GetState reads a runtime state value; missing keys return "".
func (s *SQLiteMetadataStore) GetState(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM state WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return value, err
}

// SetState writes a runtime state value.
func (s *SQLiteMetadataStore) SetState(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO state (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value`, key, value)
	return err
}

// Close releases the underlying database.
func (s *SQLiteMetadataStore) Close() error {
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDocument(row rowScanner) (*IndexedDocument, error) {
	var (
		doc       IndexedDocument
		doIndex   int
		isDup     int
		hasStruct int
		extraJSON sql.NullString
		indexedAt time.Time
	)
	err := row.Scan(&doc.DocID, &doc.Meta.QualityScore, &doc.Meta.Signalness,
		&doIndex, &isDup, &hasStruct, &extraJSON, &indexedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan document: %w", err)
	}

	doc.Meta.DoIndex = doIndex != 0
	doc.Meta.IsDuplicate = isDup != 0
	doc.Meta.HasStructure = hasStruct != 0
	doc.IndexedAt = indexedAt

	if extraJSON.Valid && extraJSON.String != "" && extraJSON.String != "null" {
		if err := json.Unmarshal([]byte(extraJSON.String), &doc.Meta.Extra); err != nil {
			return nil, fmt.Errorf("decode extra metadata: %w", err)
		}
	}
	return &doc, nil
}

func scanChunk(row rowScanner) (*Chunk, error) {
	var (
		c        Chunk
		metaJSON sql.NullString
	)
	if err := row.Scan(&c.ID, &c.DocID, &c.Content, &metaJSON); err != nil {
		return nil, fmt.Errorf("scan chunk: %w", err)
	}
	if metaJSON.Valid && metaJSON.String != "" && metaJSON.String != "null" {
		if err := json.Unmarshal([]byte(metaJSON.String), &c.Metadata); err != nil {
			return nil, fmt.Errorf("decode chunk metadata: %w", err)
		}
	}
	return &c, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
