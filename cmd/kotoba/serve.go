package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/pario-ai/kotoba/pkg/analyzer"
	"github.com/pario-ai/kotoba/pkg/apierror"
	"github.com/pario-ai/kotoba/pkg/cache/lru"
	"github.com/pario-ai/kotoba/pkg/config"
	"github.com/pario-ai/kotoba/pkg/lazy"
	"github.com/pario-ai/kotoba/pkg/metrics"
	"github.com/pario-ai/kotoba/pkg/router"
	"github.com/pario-ai/kotoba/pkg/server"
	"github.com/pario-ai/kotoba/pkg/tracker"
	"github.com/pario-ai/kotoba/pkg/upstream"
)

func newServeCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the Kotoba API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}

			logger, err := newLogger(cfg)
			if err != nil {
				return fmt.Errorf("init logger: %w", err)
			}
			defer func() { _ = logger.Sync() }()

			opts := analyzer.Options{
				Client:     newLazyClient(cfg),
				Router:     router.New(cfg),
				Logger:     logger,
				Classifier: apierror.Classifier{ExposeDetails: cfg.IsDevelopment()},
				Coalesce:   cfg.Cache.Coalesce,
			}

			if cfg.Ledger.Enabled {
				tr, err := tracker.New(cfg.DBPath)
				if err != nil {
					return fmt.Errorf("init ledger: %w", err)
				}
				defer func() { _ = tr.Close() }()
				opts.Ledger = tr
			}

			if cfg.Cache.Enabled {
				opts.Cache = lru.New(lru.Config{
					MaxEntries:         cfg.Cache.MaxEntries,
					TTL:                cfg.Cache.TTL,
					UpdateRecencyOnGet: cfg.Cache.UpdateRecencyOnGet,
				},
					lru.WithEvictHook[json.RawMessage](func(string) { metrics.RecordCacheEviction() }),
					lru.WithSizeHook[json.RawMessage](metrics.UpdateCacheEntries),
				)
			}

			if cfg.APIKey() == "" {
				logger.Warn("no upstream API key configured; upstream calls will fail as AUTH_UNAVAILABLE")
			}

			srv := server.New(cfg, analyzer.New(opts), logger)

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			logger.Info("starting kotoba",
				zap.String("config", configPath),
				zap.String("environment", cfg.Environment),
				zap.Bool("cache", cfg.Cache.Enabled),
				zap.Bool("coalesce", cfg.Cache.Coalesce),
				zap.Bool("ledger", cfg.Ledger.Enabled),
			)
			return srv.ListenAndServe(ctx)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "kotoba.yaml", "path to config file")
	return cmd
}

func newLogger(cfg *config.Config) (*zap.Logger, error) {
	if cfg.IsDevelopment() {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

// newLazyClient defers building the upstream client until the first call,
// after env files have been loaded.
func newLazyClient(cfg *config.Config) func() upstream.Client {
	return lazy.New(func() upstream.Client {
		return upstream.NewGeminiClient(upstream.GeminiConfig{
			BaseURL: cfg.Upstream.BaseURL,
			APIKey:  cfg.APIKey(),
			Timeout: cfg.Upstream.Timeout,
		})
	})
}
