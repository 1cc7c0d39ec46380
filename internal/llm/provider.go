// Package llm adapts hosted chat models to the provider-neutral completion
// request used by the generation stages.
package llm

import (
	"context"
	"fmt"
	"time"

	"github.com/spherical/prd-testgen/internal/config"
	"github.com/spherical/prd-testgen/internal/domain"
	"github.com/spherical/prd-testgen/internal/observability"
)

// Provider runs a single chat completion and returns the raw text reply.
type Provider interface {
	Complete(ctx context.Context, req domain.CompletionRequest) (string, error)
	Name() string
}

// Settings are the call parameters shared by every provider.
type Settings struct {
	Endpoint    string
	APIKey      string
	BaseURL     string
	Temperature float64
	MaxTokens   int
	Timeout     time.Duration
	MaxRetries  int
}

// New builds the configured provider, wrapped with a fallback when one is set.
func New(cfg config.ModelConfig, log *observability.Logger) (Provider, error) {
	if log == nil {
		log = observability.Nop()
	}

	base := Settings{
		Endpoint:    cfg.Endpoint,
		APIKey:      cfg.APIKey,
		BaseURL:     cfg.BaseURL,
		Temperature: cfg.Temperature,
		MaxTokens:   cfg.MaxTokens,
		Timeout:     cfg.Timeout,
		MaxRetries:  cfg.MaxRetries,
	}

	primary, err := build(cfg.Provider, base)
	if err != nil {
		return nil, err
	}
	if cfg.Fallback == nil {
		return primary, nil
	}

	fb := base
	fb.Endpoint = cfg.Fallback.Endpoint
	fb.APIKey = cfg.Fallback.APIKey
	fb.BaseURL = cfg.Fallback.BaseURL
	fallback, err := build(cfg.Fallback.Provider, fb)
	if err != nil {
		return nil, fmt.Errorf("fallback: %w", err)
	}

	return NewFallbackProvider(primary, fallback, log), nil
}

func build(kind string, s Settings) (Provider, error) {
	if s.Endpoint == "" {
		return nil, domain.ConfigError("model endpoint is required", nil)
	}

	switch kind {
	case "", "openai":
		return NewOpenAIProvider(s), nil
	case "anthropic":
		return NewAnthropicProvider(s), nil
	default:
		return nil, domain.ConfigError(fmt.Sprintf("unknown model provider %q", kind), nil)
	}
}
