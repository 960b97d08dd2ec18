package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/hyperjump/setsumei/internal/config"
	"github.com/hyperjump/setsumei/internal/server"
	"github.com/hyperjump/setsumei/internal/watcher"
)

func newServerCmd(opts *rootOptions) *cobra.Command {
	var skipLoad bool
	cmd := &cobra.Command{
		Use:   "server",
		Short: "Run the HTTP API",
		Long: `Run the HTTP API. The persisted cache and index are restored first so
searches are served immediately; the corpus directory is then reloaded and
the index refreshed in the background. With corpus.watch enabled, changed
files are picked up after a debounce.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := opts.setup()
			if err != nil {
				return err
			}
			defer logger.Sync()
			return runServer(cmd.Context(), cfg, logger, !skipLoad)
		},
	}
	cmd.Flags().BoolVar(&skipLoad, "skip-load", false, "do not reload the corpus directory at startup")
	return cmd
}

func runServer(parent context.Context, cfg *config.Config, logger *zap.Logger, loadOnStart bool) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	c, err := openWarm(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer c.Close()

	var wg sync.WaitGroup
	defer wg.Wait()
	if loadOnStart && cfg.Corpus.Directory != "" {
		wg.Add(1)
		go func() {
			defer wg.Done()
			syncCorpus(ctx, c, logger)
		}()
	}

	if cfg.Corpus.Watch && cfg.Corpus.Directory != "" {
		w := watcher.NewWatcher(
			cfg.Corpus.Directory,
			cfg.Corpus.Extensions,
			cfg.Corpus.RecursiveOrDefault(),
			func(ctx context.Context, changes []watcher.Change) {
				applyChanges(ctx, c, logger, changes)
			},
			watcher.WithLogger(logger),
			watcher.WithDebounce(cfg.Corpus.Debounce),
		)
		if err := w.Start(ctx); err != nil {
			return fmt.Errorf("failed to start watcher: %w", err)
		}
		defer w.Stop()
	}

	srv := server.NewServer(c.Engine, c.Loader, c.Corpus, c.Indexer, cfg, logger, server.WithMetrics(c.Metrics))
	errCh := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
	case <-ctx.Done():
	}

	logger.Info("Shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Stop(shutdownCtx)
}

// syncCorpus reloads the corpus directory and refreshes the index.
func syncCorpus(ctx context.Context, c *Components, logger *zap.Logger) {
	stats, err := c.Loader.Load(ctx)
	if err != nil {
		logger.Error("corpus load failed", zap.Error(err))
		return
	}
	refresh, err := c.Indexer.Sync(ctx)
	if err != nil {
		logger.Error("index refresh failed", zap.Error(err))
		return
	}
	logger.Info("corpus synced",
		zap.Int("documents", stats.Total),
		zap.Int("embedded", refresh.Embedded),
		zap.Int("reused", refresh.Reused))
}

// applyChanges reloads (or removes) each changed file, then refreshes the
// index once for the whole batch.
func applyChanges(ctx context.Context, c *Components, logger *zap.Logger, changes []watcher.Change) {
	for _, ch := range changes {
		if err := c.Loader.LoadFile(ctx, ch.Path); err != nil {
			logger.Warn("watch reload failed", zap.String("path", ch.Path), zap.Error(err))
		}
	}
	stats, err := c.Indexer.Sync(ctx)
	if err != nil {
		logger.Error("index refresh after change failed", zap.Error(err))
		return
	}
	logger.Info("index refreshed after change",
		zap.Int("changes", len(changes)),
		zap.Int("embedded", stats.Embedded),
		zap.Int("removed", stats.Removed))
}
