package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/quaero/quaero/internal/corpus"
	"github.com/quaero/quaero/internal/search"
)

// newSearchCmd creates the search command.
func newSearchCmd() *cobra.Command {
	var (
		topK           int
		mode           string
		view           string
		intent         string
		withConfidence bool
		jsonOutput     bool
		noDense        bool
	)

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Run a one-shot search against the local index",
		Args:  cobra.ExactArgs(1),
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

			ctx := cmd.Context()
			if err := a.replay(ctx); err != nil {
				return err
			}

			resp, err := a.engine.Search(ctx, args[0], search.Options{
				TopK:           topK,
				Mode:           search.Mode(mode),
				View:           corpus.View(view),
				Intent:         intent,
				WithConfidence: withConfidence,
			})
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if jsonOutput {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(resp)
			}

			fmt.Fprintf(out, "%d results (%.1fms, view=%s)\n\n",
				resp.TotalResults, resp.SearchTimeMs, resp.View)
			for i, r := range resp.Results {
				fmt.Fprintf(out, "%2d. [%.3f] %s\n    %s\n",
					i+1, r.FusedScore, r.ChunkID, snippet(r.Content, 120))
			}
			if resp.Confidence != nil {
				c := resp.Confidence
				fmt.Fprintf(out, "\nconfidence: overall=%.2f relevance=%.2f coverage=%.2f quality=%.2f -> %s\n",
					c.Overall, c.Relevance, c.Coverage, c.Quality, c.Recommendation)
				if c.Reason != "" {
					fmt.Fprintf(out, "reason: %s\n", c.Reason)
				}
			}
			return nil
		},
	}

	cmd.Flags().IntVarP(&topK, "top-k", "k", 0, "Number of results (0 = config default)")
	cmd.Flags().StringVar(&mode, "mode", "", "Search mode: hybrid, keyword, dense")
	cmd.Flags().StringVar(&view, "view", "", "Corpus view: canonical, full")
	cmd.Flags().StringVar(&intent, "intent", "", "Query intent hint (audit forces the full view)")
	cmd.Flags().BoolVar(&withConfidence, "confidence", false, "Include the confidence assessment")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	cmd.Flags().BoolVar(&noDense, "no-dense", false, "Keyword-only search (skip embedding)")

	return cmd
}

// snippet truncates content for terminal display.
func snippet(content string, maxLen int) string {
	if len(content) <= maxLen {
		return content
	}
	return content[:maxLen] + "..."
}
