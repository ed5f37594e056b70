package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofrs/flock"
	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/MimeLyc/subtitle-batch-translator/internal/config"
	"github.com/MimeLyc/subtitle-batch-translator/internal/httpapi"
	"github.com/MimeLyc/subtitle-batch-translator/internal/jobs"
	"github.com/MimeLyc/subtitle-batch-translator/internal/persistence"
	"github.com/MimeLyc/subtitle-batch-translator/internal/service"
	"github.com/MimeLyc/subtitle-batch-translator/pkg/log"
)

const shutdownTimeout = 10 * time.Second

type cronEngine interface {
	Start()
	Stop() context.Context
}

type httpServer interface {
	ListenAndServe(addr string) error
	Shutdown(ctx context.Context) error
}

func newServeCommand(opts *rootOptions) *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, job workers and scheduled maintenance",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.config()
			if err != nil {
				return err
			}
			if addr != "" {
				config.WithHTTPAddr(addr)(cfg)
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, cfg, opts.settingsPath())
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "Listen address (overrides HTTP_ADDR)")
	return cmd
}

func runServe(ctx context.Context, cfg *config.Config, settingsPath string) error {
	if err := os.MkdirAll(cfg.System.DataDir, 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	lock := flock.New(cfg.LockPath())
	ok, err := lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return fmt.Errorf("another instance is already serving %s", cfg.System.DataDir)
	}
	defer func() { _ = lock.Unlock() }()

	store, err := persistence.NewSQLiteStore(cfg.DBPath())
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	settings, err := config.OpenRuntimeSettingsStore(settingsPath, cfg.RuntimeSettings())
	if err != nil {
		return fmt.Errorf("open runtime settings: %w", err)
	}

	queue := jobs.NewQueue(cfg.Jobs.Workers, store)
	manager := service.NewManager(*cfg, queue,
		service.WithStore(store),
		service.WithSettings(settings),
		service.WithTranslatorFactory(newTranslator),
	)
	defer manager.Close()

	if err := manager.Restore(ctx); err != nil {
		return err
	}
	queue.Start(manager.Execute)
	defer queue.Stop()

	srv := httpapi.NewServer(manager,
		httpapi.WithCORSOrigins(cfg.HTTP.CORSOrigins),
		httpapi.WithMaxUploadBytes(cfg.HTTP.MaxUploadBytes),
		httpapi.WithUI(cfg.HTTP.StaticDir, cfg.HTTP.StaticDir != ""),
	)
	c := cron.New()

	log.Info("Serving %s on %s with %d workers", cfg.System.DataDir, cfg.HTTP.Addr, cfg.Jobs.Workers)
	return runWithComponents(ctx, cfg.HTTP.Addr,
		func(ctx context.Context) error { return manager.Schedule(ctx, c) },
		c, srv)
}

// runWithComponents runs the HTTP server and the cron engine until ctx is
// done, then shuts both down.
func runWithComponents(ctx context.Context, addr string, schedule func(context.Context) error, c cronEngine, srv httpServer) error {
	if err := schedule(ctx); err != nil {
		return err
	}
	c.Start()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := srv.ListenAndServe(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		err := srv.Shutdown(shutdownCtx)

		select {
		case <-c.Stop().Done():
		case <-shutdownCtx.Done():
			log.Warn("Scheduled jobs did not stop in time")
		}
		return err
	})

	err := g.Wait()
	log.Info("Server stopped")
	return err
}
