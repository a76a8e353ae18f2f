package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	cachepkg "github.com/folio-site/folio/pkg/cache/sqlite"
	"github.com/folio-site/folio/pkg/config"
	"github.com/folio-site/folio/pkg/offline"
	"github.com/folio-site/folio/pkg/site"
)

const (
	installAttempts = 5
	installBackoff  = 500 * time.Millisecond
)

func newServeCmd() *cobra.Command {
	var offlineFlag bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the portfolio site and, when enabled, the offline cache worker",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("offline") {
				cfg.Offline.Enabled = offlineFlag
			}

			srv, err := site.New(cfg)
			if err != nil {
				return fmt.Errorf("init site: %w", err)
			}

			var worker *offline.Worker
			if cfg.Offline.Enabled {
				cache, err := cachepkg.New(cfg.Offline.DBPath)
				if err != nil {
					return fmt.Errorf("init offline cache: %w", err)
				}
				defer func() { _ = cache.Close() }()

				if worker, err = newWorker(cfg, cache); err != nil {
					return err
				}
			}

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			g, gctx := errgroup.WithContext(ctx)
			g.Go(func() error { return srv.ListenAndServe(gctx) })

			if worker != nil {
				hup := make(chan os.Signal, 1)
				signal.Notify(hup, syscall.SIGHUP)
				defer signal.Stop(hup)

				g.Go(func() error { return worker.ListenAndServe(gctx, cfg.Offline.Listen) })
				g.Go(func() error { return startWorker(gctx, worker, hup) })
			}

			log.Info().Str("config", configPath).Bool("offline", cfg.Offline.Enabled).Msg("starting folio")
			return g.Wait()
		},
	}

	cmd.Flags().BoolVar(&offlineFlag, "offline", false, "run the offline cache worker (overrides offline.enabled)")
	return cmd
}

func newWorker(cfg *config.Config, cache *cachepkg.Cache) (*offline.Worker, error) {
	w, err := offline.New(cache, cfg.OfflineUpstream(), offline.Options{
		Version:     cfg.Offline.Version,
		APIPrefix:   cfg.Offline.APIPrefix,
		Manifest:    cfg.Offline.Manifest,
		SkipWaiting: cfg.Offline.SkipWaiting,
		Client:      &http.Client{Timeout: cfg.Offline.FetchTimeout},
	})
	if err != nil {
		return nil, fmt.Errorf("init offline worker: %w", err)
	}
	return w, nil
}

// startWorker installs the worker once the origin answers. Until then the
// worker passes every request through. A worker that installs without
// skip_waiting is activated by the first value on activate (SIGHUP).
func startWorker(ctx context.Context, w *offline.Worker, activate <-chan os.Signal) error {
	var err error
	for attempt := 1; attempt <= installAttempts; attempt++ {
		if err = w.Start(ctx); err == nil {
			return awaitActivation(ctx, w, activate)
		}
		log.Warn().Err(err).Int("attempt", attempt).Msg("offline install failed")

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(installBackoff * time.Duration(attempt)):
		}
	}
	log.Error().Err(err).Msg("offline worker left in passthrough mode")
	return nil
}

func awaitActivation(ctx context.Context, w *offline.Worker, activate <-chan os.Signal) error {
	if w.Active() {
		return nil
	}
	log.Info().Str("bucket", w.Version()).Int("pid", os.Getpid()).Msg("offline worker installed, send SIGHUP to activate")

	select {
	case <-ctx.Done():
		return nil
	case <-activate:
	}
	if err := w.Activate(ctx); err != nil {
		log.Error().Err(err).Msg("offline activation failed")
	}
	return nil
}
