package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/quaero/quaero/internal/preflight"
)

// newCheckCmd creates the check command.
func newCheckCmd() *cobra.Command {
	var noDense bool

	cmd := &cobra.Command{
		Use:   "check",
		Short: "Verify the runtime environment",
		Long: `Check that the data directory is writable and that the configured
embedding and reranking endpoints answer. Warnings indicate features
that will degrade at query time; failures prevent serving.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			results := preflight.New(cfg).RunAll(cmd.Context(), !noDense)

			out := cmd.OutOrStdout()
			for _, r := range results {
				fmt.Fprintf(out, "[%s] %s: %s\n", r.Status, r.Name, r.Message)
			}

			if preflight.HasCriticalFailures(results) {
				return fmt.Errorf("environment check failed")
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&noDense, "no-dense", false, "Skip the embedding endpoint check")

	return cmd
}
