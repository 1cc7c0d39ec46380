// Package main provides the test generation API server entrypoint.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spherical/prd-testgen/internal/app"
	"github.com/spherical/prd-testgen/internal/config"
	"github.com/spherical/prd-testgen/internal/domain"
)

func main() {
	cfgPath := os.Getenv("CONFIG_PATH")
	if len(os.Args) > 2 && os.Args[1] == "--config" {
		cfgPath = os.Args[2]
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)
	logger.Info().
		Str("host", cfg.Server.Host).
		Int("port", cfg.Server.Port).
		Str("database", cfg.Database.Driver).
		Str("cache", cfg.Cache.Driver).
		Str("model_provider", cfg.Model.Provider).
		Msg("Starting test generation API")

	sources, err := app.NewSources(cfg, logger)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to build document sources")
		os.Exit(1)
	}
	defer sources.Close()

	runner, err := app.NewPipeline(cfg, logger)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to build generation pipeline")
		os.Exit(1)
	}

	store, err := app.OpenResultStore(context.Background(), cfg, logger)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to open result store")
		os.Exit(1)
	}
	defer store.Close()

	router := NewRouter(logger, Deps{
		Runner:  runner,
		Remote:  func(locator string) domain.DocumentSource { return sources.Feishu.NewSource(locator) },
		Files:   sources.Files,
		Results: store,
	}, RouterConfig{
		AllowedOrigins: cfg.Server.AllowedOrigins,
		RequestTimeout: cfg.Server.ReadTimeout,
		MaxResultBytes: cfg.Upload.MaxBytes,
	})

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	serverErrors := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", addr).Msg("HTTP server listening")
		serverErrors <- srv.ListenAndServe()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		logger.Error().Err(err).Msg("Server error")
	case sig := <-shutdown:
		logger.Info().Str("signal", sig.String()).Msg("Shutdown signal received")
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.GracefulShutdown)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Error().Err(err).Msg("Graceful shutdown failed")
		if err := srv.Close(); err != nil {
			logger.Error().Err(err).Msg("Forced shutdown failed")
		}
	}

	logger.Info().Msg("Server stopped")
}
