package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/quaero/quaero/internal/preflight"
	"github.com/quaero/quaero/internal/server"
	"github.com/quaero/quaero/internal/telemetry"
)

// newServeCmd creates the serve command.
func newServeCmd() *cobra.Command {
	var addr string
	var noDense bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the search HTTP server",
		Long: `Start the HTTP server exposing search, ingestion, and stats
endpoints. The server holds an exclusive lock on the data directory and
replays persisted documents into the dense index on startup.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if addr != "" {
				cfg.Server.Addr = addr
			}

			logger, logCleanup, err := setupLogging(cfg)
			if err != nil {
				return err
			}
			defer logCleanup()
			slog.SetDefault(logger)

			ctx, stop := signal.NotifyContext(context.Background(),
				syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			checks := preflight.New(cfg).RunAll(ctx, !noDense)
			for _, c := range checks {
				if c.Status != preflight.StatusPass {
					logger.Warn("preflight_check",
						slog.String("name", c.Name),
						slog.String("status", c.Status.String()),
						slog.String("message", c.Message))
				}
			}
			if preflight.HasCriticalFailures(checks) {
				return fmt.Errorf("environment check failed, run 'quaero check' for details")
			}

			a, err := openApp(cfg, logger, !noDense)
			if err != nil {
				return err
			}
			defer a.close()

			if err := a.replay(ctx); err != nil {
				return err
			}

			srv := server.New(a.engine, a.coordinator, a.meta, a.keyword,
				telemetry.New(), cfg.Server, logger)

			logger.Info("quaero_starting",
				slog.String("data_dir", cfg.DataDir),
				slog.Bool("dense_enabled", !noDense),
				slog.String("rerank_mode", cfg.Reranker.Mode))

			return srv.Run(ctx)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "Listen address (overrides config)")
	cmd.Flags().BoolVar(&noDense, "no-dense", false, "Disable the dense retrieval path (keyword only)")

	return cmd
}
