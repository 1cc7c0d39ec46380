// Package config provides unified configuration loading for the test generation service.
// Supports YAML files, a .env file, and environment variable overrides.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the service.
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Feishu        FeishuConfig        `yaml:"feishu"`
	Image         ImageConfig         `yaml:"image"`
	Model         ModelConfig         `yaml:"model"`
	Generation    GenerationConfig    `yaml:"generation"`
	Database      DatabaseConfig      `yaml:"database"`
	Cache         CacheConfig         `yaml:"cache"`
	Upload        UploadConfig        `yaml:"upload"`
	Client        ClientConfig        `yaml:"client"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// ServerConfig holds HTTP server settings. WriteTimeout stays zero by default
// because streaming responses outlive any fixed write deadline.
type ServerConfig struct {
	Host             string        `yaml:"host" env:"SERVER_HOST"`
	Port             int           `yaml:"port" env:"SERVER_PORT"`
	ReadTimeout      time.Duration `yaml:"read_timeout" env:"SERVER_READ_TIMEOUT"`
	WriteTimeout     time.Duration `yaml:"write_timeout" env:"SERVER_WRITE_TIMEOUT"`
	IdleTimeout      time.Duration `yaml:"idle_timeout"`
	GracefulShutdown time.Duration `yaml:"graceful_shutdown"`
	AllowedOrigins   []string      `yaml:"allowed_origins" env:"CORS_ALLOWED_ORIGINS" envSeparator:","`
}

// FeishuConfig holds remote document API settings.
type FeishuConfig struct {
	BaseURL          string        `yaml:"base_url" env:"FEISHU_BASE_URL"`
	AppID            string        `yaml:"app_id" env:"FEISHU_APP_ID"`
	AppSecret        string        `yaml:"app_secret" env:"FEISHU_APP_SECRET"`
	PageSize         int           `yaml:"page_size"`
	ImageConcurrency int           `yaml:"image_concurrency" env:"FEISHU_IMAGE_CONCURRENCY"`
	RequestTimeout   time.Duration `yaml:"request_timeout"`
}

// ImageConfig holds image pipeline settings.
type ImageConfig struct {
	MaxPixels   int           `yaml:"max_pixels" env:"IMAGE_MAX_PIXELS"`
	JPEGQuality int           `yaml:"jpeg_quality"`
	CacheTTL    time.Duration `yaml:"cache_ttl"`
}

// ModelConfig holds the model endpoint settings. All values are passed
// through to the provider uninterpreted.
type ModelConfig struct {
	Provider    string         `yaml:"provider" env:"MODEL_PROVIDER"`
	Endpoint    string         `yaml:"endpoint" env:"MODEL_ENDPOINT"`
	APIKey      string         `yaml:"api_key" env:"MODEL_API_KEY"`
	BaseURL     string         `yaml:"base_url" env:"MODEL_BASE_URL"`
	Temperature float64        `yaml:"temperature"`
	MaxTokens   int            `yaml:"max_tokens" env:"MODEL_MAX_TOKENS"`
	Timeout     time.Duration  `yaml:"timeout" env:"MODEL_TIMEOUT"`
	MaxRetries  int            `yaml:"max_retries"`
	Fallback    *ProviderEntry `yaml:"fallback"`
}

// ProviderEntry describes a secondary model provider.
type ProviderEntry struct {
	Provider string `yaml:"provider"`
	Endpoint string `yaml:"endpoint"`
	APIKey   string `yaml:"api_key"`
	BaseURL  string `yaml:"base_url"`
}

// GenerationConfig holds the orchestrator directives and contract knobs.
type GenerationConfig struct {
	Preamble            string `yaml:"preamble"`
	PlanDirective       string `yaml:"plan_directive"`
	GenerateDirective   string `yaml:"generate_directive"`
	RepairAttempts      int    `yaml:"repair_attempts" env:"GENERATION_REPAIR_ATTEMPTS"`
	MinPrimaryScenarios int    `yaml:"min_primary_scenarios" env:"GENERATION_MIN_PRIMARY_SCENARIOS"`
}

// DatabaseConfig holds result store settings.
type DatabaseConfig struct {
	Driver   string         `yaml:"driver" env:"DATABASE_DRIVER"` // sqlite or postgres
	SQLite   SQLiteConfig   `yaml:"sqlite"`
	Postgres PostgresConfig `yaml:"postgres"`
}

// SQLiteConfig holds SQLite-specific settings.
type SQLiteConfig struct {
	Path string `yaml:"path" env:"SQLITE_PATH"`
}

// PostgresConfig holds Postgres-specific settings.
type PostgresConfig struct {
	DSN          string `yaml:"dsn" env:"POSTGRES_DSN"`
	MaxOpenConns int    `yaml:"max_open_conns"`
}

// CacheConfig holds image cache settings.
type CacheConfig struct {
	Driver     string      `yaml:"driver" env:"CACHE_DRIVER"` // memory or redis
	MaxEntries int         `yaml:"max_entries"`
	MaxBytes   int64       `yaml:"max_bytes" env:"CACHE_MAX_BYTES"`
	Redis      RedisConfig `yaml:"redis"`
}

// RedisConfig holds Redis-specific settings.
type RedisConfig struct {
	Addr     string `yaml:"addr" env:"REDIS_ADDR"`
	Password string `yaml:"password" env:"REDIS_PASSWORD"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"pool_size"`
}

// UploadConfig bounds uploaded files.
type UploadConfig struct {
	MaxBytes int64 `yaml:"max_bytes" env:"UPLOAD_MAX_BYTES"`
}

// ClientConfig holds settings for the CLI talking to a remote server.
// MaxEventBytes bounds one stream line; an images event carries every
// processed image inline, so it must cover the largest expected document.
type ClientConfig struct {
	MaxEventBytes int `yaml:"max_event_bytes" env:"CLIENT_MAX_EVENT_BYTES"`
}

// ObservabilityConfig holds logging settings.
type ObservabilityConfig struct {
	LogLevel    string `yaml:"log_level" env:"LOG_LEVEL"`
	LogFormat   string `yaml:"log_format" env:"LOG_FORMAT"`
	ServiceName string `yaml:"service_name"`
}

// Load reads configuration from a YAML file and applies environment overrides.
func Load(path string) (*Config, error) {
	_ = godotenv.Load() // a missing .env is fine

	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}

		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, fmt.Errorf("apply env overrides: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return cfg, nil
}

// DefaultConfig returns a configuration with sensible defaults for development.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:             "0.0.0.0",
			Port:             8000,
			ReadTimeout:      60 * time.Second,
			IdleTimeout:      120 * time.Second,
			GracefulShutdown: 10 * time.Second,
			AllowedOrigins:   []string{"*"},
		},
		Feishu: FeishuConfig{
			BaseURL:          "https://open.feishu.cn",
			PageSize:         500,
			ImageConcurrency: 4,
			RequestTimeout:   60 * time.Second,
		},
		Image: ImageConfig{
			MaxPixels:   30_000_000,
			JPEGQuality: 85,
			CacheTTL:    30 * time.Minute,
		},
		Model: ModelConfig{
			Provider:    "openai",
			BaseURL:     "https://ark.cn-beijing.volces.com/api/v3",
			Temperature: 0.1,
			MaxTokens:   16384,
			Timeout:     5 * time.Minute,
			MaxRetries:  1,
		},
		Generation: GenerationConfig{
			Preamble:            DefaultPreamble,
			PlanDirective:       DefaultPlanDirective,
			GenerateDirective:   DefaultGenerateDirective,
			RepairAttempts:      1,
			MinPrimaryScenarios: 6,
		},
		Database: DatabaseConfig{
			Driver: "sqlite",
			SQLite: SQLiteConfig{
				Path: "cases_db.sqlite",
			},
			Postgres: PostgresConfig{
				MaxOpenConns: 10,
			},
		},
		Cache: CacheConfig{
			Driver:     "memory",
			MaxEntries: 512,
			MaxBytes:   256 << 20,
			Redis: RedisConfig{
				Addr:     "localhost:6379",
				PoolSize: 10,
			},
		},
		Upload: UploadConfig{
			MaxBytes: 32 << 20,
		},
		Client: ClientConfig{
			MaxEventBytes: 64 << 20,
		},
		Observability: ObservabilityConfig{
			LogLevel:    "info",
			LogFormat:   "json",
			ServiceName: "prd-testgen",
		},
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	if c.Database.Driver != "sqlite" && c.Database.Driver != "postgres" {
		return fmt.Errorf("invalid database driver: %s", c.Database.Driver)
	}

	if c.Cache.Driver != "memory" && c.Cache.Driver != "redis" {
		return fmt.Errorf("invalid cache driver: %s", c.Cache.Driver)
	}

	if c.Model.Provider != "openai" && c.Model.Provider != "anthropic" {
		return fmt.Errorf("invalid model provider: %s", c.Model.Provider)
	}

	if c.Feishu.PageSize < 1 || c.Feishu.PageSize > 500 {
		return fmt.Errorf("feishu page_size must be between 1 and 500")
	}

	if c.Feishu.ImageConcurrency < 1 {
		return fmt.Errorf("feishu image_concurrency must be positive")
	}

	if c.Image.MaxPixels < 1 {
		return fmt.Errorf("image max_pixels must be positive")
	}

	if c.Image.JPEGQuality < 1 || c.Image.JPEGQuality > 100 {
		return fmt.Errorf("jpeg_quality must be between 1 and 100, got %d", c.Image.JPEGQuality)
	}

	if c.Generation.RepairAttempts < 0 {
		return fmt.Errorf("repair_attempts cannot be negative")
	}

	if c.Client.MaxEventBytes < 64<<10 {
		return fmt.Errorf("client max_event_bytes must be at least 64KiB, got %d", c.Client.MaxEventBytes)
	}

	return nil
}

// DatabaseDSN returns the appropriate database connection string.
func (c *Config) DatabaseDSN() string {
	if c.Database.Driver == "sqlite" {
		return c.Database.SQLite.Path
	}
	return c.Database.Postgres.DSN
}

// applyEnvOverrides applies environment variable overrides to config.
func applyEnvOverrides(cfg *Config) error {
	if err := env.Parse(cfg); err != nil {
		return err
	}

	// ARK_API_KEY is the historical name for the model key.
	if cfg.Model.APIKey == "" {
		cfg.Model.APIKey = os.Getenv("ARK_API_KEY")
	}

	return nil
}
