package llm

import (
	"context"
	"errors"
	"fmt"

	"github.com/spherical/prd-testgen/internal/domain"
	"github.com/spherical/prd-testgen/internal/observability"
)

// FallbackProvider tries the primary provider first and the fallback on error.
type FallbackProvider struct {
	primary  Provider
	fallback Provider
	log      *observability.Logger
}

// NewFallbackProvider creates a provider chain of two.
func NewFallbackProvider(primary, fallback Provider, log *observability.Logger) *FallbackProvider {
	if log == nil {
		log = observability.Nop()
	}
	return &FallbackProvider{primary: primary, fallback: fallback, log: log}
}

func (p *FallbackProvider) Name() string {
	return p.primary.Name() + "," + p.fallback.Name()
}

// Complete does not fall back once ctx is done.
func (p *FallbackProvider) Complete(ctx context.Context, req domain.CompletionRequest) (string, error) {
	out, err := p.primary.Complete(ctx, req)
	if err == nil {
		return out, nil
	}
	if ctx.Err() != nil || errors.Is(err, context.Canceled) {
		return "", err
	}

	p.log.WithContext(ctx).Warn().
		Str("primary", p.primary.Name()).
		Str("fallback", p.fallback.Name()).
		Err(err).
		Msg("primary model failed, trying fallback")

	out, fbErr := p.fallback.Complete(ctx, req)
	if fbErr != nil {
		return "", fmt.Errorf("primary failed: %w; fallback also failed: %v", err, fbErr)
	}
	return out, nil
}
