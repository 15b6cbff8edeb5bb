package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/quaero/quaero/internal/store"
)

// ingestDocument is the JSON document shape the ingest command reads,
// one JSON object per file (or a JSON array of them).
type ingestDocument struct {
	DocID  string `json:"doc_id"`
	Chunks []struct {
		ChunkID  string            `json:"chunk_id"`
		Content  string            `json:"content"`
		Metadata map[string]string `json:"metadata,omitempty"`
	} `json:"chunks"`
	Metadata struct {
		QualityScore float64           `json:"quality_score"`
		Signalness   float64           `json:"signalness"`
		DoIndex      *bool             `json:"do_index,omitempty"`
		IsDuplicate  bool              `json:"is_duplicate"`
		HasStructure bool              `json:"has_structure"`
		Extra        map[string]string `json:"extra,omitempty"`
	} `json:"metadata"`
}

// newIngestCmd creates the ingest command.
func newIngestCmd() *cobra.Command {
	var noDense bool

	cmd := &cobra.Command{
		Use:   "ingest [files...]",
		Short: "Ingest JSON documents into the local index",
		Long: `Read pre-chunked documents from JSON files (or stdin when no file
is given) and index them. Each input holds one document object or an
array of document objects with doc_id, chunks, and metadata.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			logger, logCleanup, err := setupLogging(cfg)
			if err != nil {
				return err
			}
			defer logCleanup()

			a, err := openApp(cfg, logger, !noDense)
			if err != nil {
				return err
			}
			defer a.close()

			docs, err := readDocuments(args, cmd.InOrStdin())
			if err != nil {
				return err
			}
			if len(docs) == 0 {
				return fmt.Errorf("no documents to ingest")
			}

			ctx := cmd.Context()
			total := 0
			for _, doc := range docs {
				if err := a.coordinator.OnDocumentIndexed(ctx, doc); err != nil {
					return err
				}
				total += len(doc.Chunks)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Indexed %d documents (%d chunks)\n",
				len(docs), total)
			return nil
		},
	}

	cmd.Flags().BoolVar(&noDense, "no-dense", false, "Skip dense embedding (keyword only)")

	return cmd
}

// readDocuments loads documents from the named files, or stdin when
// none are given.
func readDocuments(paths []string, stdin io.Reader) ([]*store.IndexedDocument, error) {
	var docs []*store.IndexedDocument

	decode := func(r io.Reader, name string) error {
		data, err := io.ReadAll(r)
		if err != nil {
			return fmt.Errorf("read %s: %w", name, err)
		}
		parsed, err := parseDocuments(data)
		if err != nil {
			return fmt.Errorf("parse %s: %w", name, err)
		}
		docs = append(docs, parsed...)
		return nil
	}

	if len(paths) == 0 {
		if err := decode(stdin, "stdin"); err != nil {
			return nil, err
		}
		return docs, nil
	}

	for _, path := range paths {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("open %s: %w", path, err)
		}
		err = decode(f, path)
		f.Close()
		if err != nil {
			return nil, err
		}
	}
	return docs, nil
}

// parseDocuments accepts a single document object or an array.
func parseDocuments(data []byte) ([]*store.IndexedDocument, error) {
	var raw []ingestDocument
	if err := json.Unmarshal(data, &raw); err != nil {
		var single ingestDocument
		if err := json.Unmarshal(data, &single); err != nil {
			return nil, fmt.Errorf("expected a document object or array: %w", err)
		}
		raw = []ingestDocument{single}
	}

	docs := make([]*store.IndexedDocument, 0, len(raw))
	for _, d := range raw {
		if d.DocID == "" {
			d.DocID = uuid.NewString()
		}
		if len(d.Chunks) == 0 {
			return nil, fmt.Errorf("document %s has no chunks", d.DocID)
		}

		chunks := make([]*store.Chunk, len(d.Chunks))
		for i, c := range d.Chunks {
			id := c.ChunkID
			if id == "" {
				id = fmt.Sprintf("%s-%d", d.DocID, i)
			}
			chunks[i] = &store.Chunk{
				ID:       id,
				DocID:    d.DocID,
				Content:  c.Content,
				Metadata: c.Metadata,
			}
		}

		// Documents default to indexable unless explicitly excluded.
		doIndex := true
		if d.Metadata.DoIndex != nil {
			doIndex = *d.Metadata.DoIndex
		}

		docs = append(docs, &store.IndexedDocument{
			DocID:  d.DocID,
			Chunks: chunks,
			Meta: store.DocumentMeta{
				QualityScore: d.Metadata.QualityScore,
				Signalness:   d.Metadata.Signalness,
				DoIndex:      doIndex,
				IsDuplicate:  d.Metadata.IsDuplicate,
				HasStructure: d.Metadata.HasStructure,
				Extra:        d.Metadata.Extra,
			},
			IndexedAt: time.Now().UTC(),
		})
	}
	return docs, nil
}
