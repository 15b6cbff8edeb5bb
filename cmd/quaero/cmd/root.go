// Package cmd provides the CLI commands for Quaero.
package cmd

import (
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/quaero/quaero/internal/config"
	"github.com/quaero/quaero/internal/logging"
	"github.com/quaero/quaero/pkg/version"
)

var (
	configPath string
	debugMode  bool
)

// NewRootCmd creates the root command for the quaero CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "quaero",
		Short: "Hybrid retrieval service with quality-gated search",
		Long: `Quaero serves hybrid search (keyword + dense vectors) over ingested
documents, with score fusion, diversity selection, optional reranking,
and a confidence gate that tells callers whether the evidence suffices.`,
		Version:       version.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.SetVersionTemplate("quaero version {{.Version}}\n")

	cmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to config file (default: $QUAERO_DATA_DIR/quaero.yaml)")
	cmd.PersistentFlags().BoolVar(&debugMode, "debug", false, "Enable debug logging")

	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newIngestCmd())
	cmd.AddCommand(newSearchCmd())
	cmd.AddCommand(newStatsCmd())
	cmd.AddCommand(newCheckCmd())
	cmd.AddCommand(newVersionCmd())

	return cmd
}

// Execute runs the CLI.
func Execute() error {
	return NewRootCmd().Execute()
}

// loadConfig builds the effective configuration for a command run.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if debugMode {
		cfg.Logging.Level = "debug"
	}
	return cfg, nil
}

// setupLogging wires slog from configuration. The returned cleanup
// closes the log file and must run on command exit.
func setupLogging(cfg *config.Config) (*slog.Logger, func(), error) {
	logCfg := logging.Config{
		Level:         cfg.Logging.Level,
		FilePath:      cfg.Logging.FilePath,
		MaxSizeMB:     10,
		MaxFiles:      5,
		WriteToStderr: true,
	}
	return logging.Setup(logCfg)
}
