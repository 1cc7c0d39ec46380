// Package app wires configuration into the document sources, the generation
// pipeline and the result store shared by the service and the CLI.
package app

import (
	"context"

	"github.com/spherical/prd-testgen/internal/assemble"
	"github.com/spherical/prd-testgen/internal/cache"
	"github.com/spherical/prd-testgen/internal/config"
	"github.com/spherical/prd-testgen/internal/feishu"
	"github.com/spherical/prd-testgen/internal/fileparse"
	"github.com/spherical/prd-testgen/internal/generate"
	"github.com/spherical/prd-testgen/internal/imageproc"
	"github.com/spherical/prd-testgen/internal/llm"
	"github.com/spherical/prd-testgen/internal/observability"
	"github.com/spherical/prd-testgen/internal/pipeline"
	"github.com/spherical/prd-testgen/internal/storage"
)

// Sources builds document sources for each input kind.
type Sources struct {
	Feishu *feishu.Adapter
	Files  *fileparse.Parser
	cache  cache.Client
}

// NewSources creates the remote document adapter, its image pipeline and the
// file parser.
func NewSources(cfg *config.Config, log *observability.Logger) (*Sources, error) {
	store, err := cache.New(cache.Options{
		Driver:     cfg.Cache.Driver,
		MaxEntries: cfg.Cache.MaxEntries,
		MaxBytes:   cfg.Cache.MaxBytes,
		Redis: cache.RedisConfig{
			Addr:     cfg.Cache.Redis.Addr,
			Password: cfg.Cache.Redis.Password,
			DB:       cfg.Cache.Redis.DB,
			PoolSize: cfg.Cache.Redis.PoolSize,
		},
	})
	if err != nil {
		return nil, err
	}

	client := feishu.NewClient(feishu.Options{
		BaseURL:   cfg.Feishu.BaseURL,
		AppID:     cfg.Feishu.AppID,
		AppSecret: cfg.Feishu.AppSecret,
		Timeout:   cfg.Feishu.RequestTimeout,
		Logger:    log,
	})

	images := imageproc.New(client, store, imageproc.Config{
		MaxPixels: cfg.Image.MaxPixels,
		Quality:   cfg.Image.JPEGQuality,
		CacheTTL:  cfg.Image.CacheTTL,
	}, log)

	return &Sources{
		Feishu: feishu.NewAdapter(client, images, feishu.AdapterConfig{
			PageSize:         cfg.Feishu.PageSize,
			ImageConcurrency: cfg.Feishu.ImageConcurrency,
		}, log),
		Files: fileparse.NewParser(cfg.Upload.MaxBytes, log),
		cache: store,
	}, nil
}

// Close releases the image cache.
func (s *Sources) Close() error {
	return s.cache.Close()
}

// NewPipeline builds the model provider, the orchestrator and the pipeline.
func NewPipeline(cfg *config.Config, log *observability.Logger) (*pipeline.Service, error) {
	model, err := llm.New(cfg.Model, log)
	if err != nil {
		return nil, err
	}

	orch, err := generate.New(model, generate.Config{
		PlanDirective:       cfg.Generation.PlanDirective,
		GenerateDirective:   cfg.Generation.GenerateDirective,
		RepairAttempts:      cfg.Generation.RepairAttempts,
		MinPrimaryScenarios: cfg.Generation.MinPrimaryScenarios,
	}, log)
	if err != nil {
		return nil, err
	}

	return pipeline.NewService(assemble.New(cfg.Generation.Preamble), orch, log), nil
}

// OpenResultStore connects to the configured database.
func OpenResultStore(ctx context.Context, cfg *config.Config, log *observability.Logger) (*storage.ResultStore, error) {
	return storage.Open(ctx, storage.Options{
		Driver:       cfg.Database.Driver,
		DSN:          cfg.DatabaseDSN(),
		MaxOpenConns: cfg.Database.Postgres.MaxOpenConns,
		Logger:       log,
	})
}

// NewLogger builds the process logger from configuration.
func NewLogger(cfg *config.Config) *observability.Logger {
	return observability.NewLogger(observability.LogConfig{
		Level:       cfg.Observability.LogLevel,
		Format:      cfg.Observability.LogFormat,
		ServiceName: cfg.Observability.ServiceName,
	})
}
