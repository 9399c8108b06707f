package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/telhawk-systems/homehawk/internal/logging"
	"github.com/telhawk-systems/homehawk/internal/registry"
	"github.com/telhawk-systems/homehawk/internal/storage"
	"github.com/telhawk-systems/homehawk/internal/tail"
	"github.com/telhawk-systems/homehawk/internal/transform"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Follow today's event file",
	Long: `Follow the current day's event file and upsert each appended line.

If the file does not exist yet, watch waits for it. When a later day's file
appears, or the date changes, watch drains the current file and moves on.
SIGINT or SIGTERM stop the watcher after queued upserts finish.`,
	Args: cobra.NoArgs,
	RunE: runWatch,
}

func init() {
	rootCmd.AddCommand(watchCmd)
}

func runWatch(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log := logger.WithContext(ctx)
	p := printer(cmd)

	store, err := storage.Connect(ctx, cfg.OpenSearch)
	if err != nil {
		return fmt.Errorf("connect to opensearch: %w", err)
	}

	q, err := openDLQ()
	if err != nil {
		return err
	}

	if cfg.Metrics.Addr != "" {
		srv := startMetricsServer(cfg.Metrics.Addr, log)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				logger.WarnContext(ctx, "metrics server forced to shutdown", logging.Error(err))
			}
		}()
	}

	reg := registry.LoadOrEmpty(cfg.Data.RegistryPath(), log)
	orch := tail.New(tail.Config{
		Dir:          cfg.Data.Dir,
		FilePrefix:   cfg.Data.FilePrefix,
		IndexPrefix:  cfg.OpenSearch.IndexPrefix,
		Workers:      cfg.Tail.Workers,
		QueueSize:    cfg.Tail.QueueSize,
		PollInterval: cfg.Tail.PollInterval,
		DrainTimeout: cfg.Tail.DrainTimeout,
		MaxLineBytes: cfg.Importer.MaxLineBytes,
	}, store, transform.New(reg, log),
		tail.WithLogger(log),
		tail.WithDLQ(q))

	p.Info("Watching %s for %s-YYYY-MM-DD.ndjson (Ctrl+C to stop)", cfg.Data.Dir, cfg.Data.FilePrefix)
	if err := orch.Run(ctx); err != nil {
		logger.ErrorContext(ctx, "watcher failed", logging.Error(err))
		return fmt.Errorf("watch: %w", err)
	}
	logger.InfoContext(ctx, "watcher stopped", slog.String("last_file", orch.Target()))

	p.Success("Watcher stopped")
	return nil
}

func startMetricsServer(addr string, log *slog.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		log.Info("metrics listening", slog.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("metrics server error", logging.Error(err))
		}
	}()
	return srv
}
