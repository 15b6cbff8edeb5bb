package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/quaero/quaero/internal/corpus"
)

// newStatsCmd creates the stats command.
func newStatsCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show index statistics",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			logger, logCleanup, err := setupLogging(cfg)
			if err != nil {
				return err
			}
			defer logCleanup()

			a, err := openApp(cfg, logger, false)
			if err != nil {
				return err
			}
			defer a.close()

			ctx := cmd.Context()
			docs, chunks, canonical, err := a.meta.CountDocuments(ctx, string(corpus.ViewCanonical))
			if err != nil {
				return err
			}
			indexed := a.keyword.Stats().ChunkCount

			out := cmd.OutOrStdout()
			if jsonOutput {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(map[string]int{
					"documents":           docs,
					"chunks":              chunks,
					"canonical_documents": canonical,
					"indexed_chunks":      indexed,
				})
			}

			fmt.Fprintf(out, "Documents:           %d\n", docs)
			fmt.Fprintf(out, "Chunks:              %d\n", chunks)
			fmt.Fprintf(out, "Canonical documents: %d\n", canonical)
			fmt.Fprintf(out, "Indexed chunks:      %d\n", indexed)
			fmt.Fprintf(out, "Data directory:      %s\n", cfg.DataDir)
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	return cmd
}
