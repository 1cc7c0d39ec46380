// Package imageproc turns fetched image assets into size-bounded inline JPEG
// data URIs.
package imageproc

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	"image/color"
	"math"
	"strings"
	"time"

	"github.com/disintegration/imaging"
	_ "golang.org/x/image/webp"

	"github.com/spherical/prd-testgen/internal/cache"
	"github.com/spherical/prd-testgen/internal/domain"
	"github.com/spherical/prd-testgen/internal/observability"
)

const (
	DefaultMaxPixels = 30_000_000
	DefaultQuality   = 85
	DefaultCacheTTL  = 30 * time.Minute

	dataURIPrefix = "data:image/jpeg;base64,"
)

// Config holds pipeline settings.
type Config struct {
	MaxPixels int
	Quality   int
	CacheTTL  time.Duration
}

// Pipeline fetches, bounds and re-encodes image assets.
type Pipeline struct {
	fetcher   domain.AssetFetcher
	cache     cache.Client
	maxPixels int
	quality   int
	cacheTTL  time.Duration
	log       *observability.Logger
}

// New creates a pipeline. store may be nil to disable caching.
func New(fetcher domain.AssetFetcher, store cache.Client, cfg Config, log *observability.Logger) *Pipeline {
	if cfg.MaxPixels <= 0 {
		cfg.MaxPixels = DefaultMaxPixels
	}
	if cfg.Quality <= 0 || cfg.Quality > 100 {
		cfg.Quality = DefaultQuality
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = DefaultCacheTTL
	}
	if log == nil {
		log = observability.Nop()
	}
	return &Pipeline{
		fetcher:   fetcher,
		cache:     store,
		maxPixels: cfg.MaxPixels,
		quality:   cfg.Quality,
		cacheTTL:  cfg.CacheTTL,
		log:       log.WithOperation("image_pipeline"),
	}
}

// Process returns the inline data URI for the asset token.
func (p *Pipeline) Process(ctx context.Context, token string) (string, error) {
	key := cache.Key("img", token)
	if p.cache != nil {
		if hit, err := p.cache.Get(ctx, key); err == nil {
			return string(hit), nil
		} else if !errors.Is(err, cache.ErrCacheMiss) {
			p.log.Warn().Err(err).Str("token", token).Msg("image cache read failed")
		}
	}

	raw, err := p.fetcher.FetchAsset(ctx, token)
	if err != nil {
		return "", fmt.Errorf("fetch: %w", err)
	}

	uri, err := p.Transform(raw)
	if err != nil {
		return "", err
	}

	if p.cache != nil {
		if err := p.cache.Set(ctx, key, []byte(uri), p.cacheTTL); err != nil {
			p.log.Warn().Err(err).Str("token", token).Msg("image cache write failed")
		}
	}
	return uri, nil
}

// Transform decodes raw, downscales it to the pixel budget, flattens it onto
// white in RGB and re-encodes it as a JPEG data URI.
func (p *Pipeline) Transform(raw []byte) (string, error) {
	img, err := imaging.Decode(bytes.NewReader(raw), imaging.AutoOrientation(true))
	if err != nil {
		return "", fmt.Errorf("decode: %w", err)
	}

	b := img.Bounds()
	if w, h, scaled := fitWithinBudget(b.Dx(), b.Dy(), p.maxPixels); scaled {
		p.log.Info().
			Int("width", b.Dx()).Int("height", b.Dy()).
			Int("new_width", w).Int("new_height", h).
			Msg("downscaling oversized image")
		img = imaging.Resize(img, w, h, imaging.Lanczos)
	}

	flat := flatten(img)

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, flat, imaging.JPEG, imaging.JPEGQuality(p.quality)); err != nil {
		return "", fmt.Errorf("encode: %w", err)
	}

	return DataURI(buf.Bytes()), nil
}

// fitWithinBudget scales w×h by sqrt(budget/(w*h)) when it exceeds budget.
// Truncation keeps the result within budget.
func fitWithinBudget(w, h, budget int) (int, int, bool) {
	total := int64(w) * int64(h)
	if total <= int64(budget) {
		return w, h, false
	}

	scale := math.Sqrt(float64(budget) / float64(total))
	nw := max(int(float64(w)*scale), 1)
	nh := max(int(float64(h)*scale), 1)
	return nw, nh, true
}

// flatten composites img onto a white canvas. The result is always NRGBA, so
// grayscale, paletted and CMYK sources encode as three-channel JPEGs.
func flatten(img image.Image) *image.NRGBA {
	b := img.Bounds()
	canvas := imaging.New(b.Dx(), b.Dy(), color.White)
	return imaging.Overlay(canvas, img, image.Pt(0, 0), 1.0)
}

// DataURI wraps JPEG bytes as a data URI.
func DataURI(jpeg []byte) string {
	return dataURIPrefix + base64.StdEncoding.EncodeToString(jpeg)
}

// DecodeDataURI splits a base64 data URI into its media type and payload.
func DecodeDataURI(uri string) (mediaType string, data string, err error) {
	rest, ok := strings.CutPrefix(uri, "data:")
	if !ok {
		return "", "", errors.New("not a data URI")
	}
	mediaType, data, ok = strings.Cut(rest, ";base64,")
	if !ok {
		return "", "", errors.New("data URI is not base64 encoded")
	}
	return mediaType, data, nil
}
