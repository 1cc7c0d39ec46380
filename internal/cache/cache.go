// Package cache holds processed image assets between parses so a document
// that is parsed twice does not download and re-encode its images again.
package cache

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrCacheMiss is returned by Get when the key is absent or expired.
var ErrCacheMiss = errors.New("cache miss")

// Client defines the cache interface.
type Client interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Close() error
}

// Options selects and configures a cache driver.
type Options struct {
	Driver     string // memory or redis
	MaxEntries int
	MaxBytes   int64 // memory driver only; 0 means entry-bounded only
	Redis      RedisConfig
}

// New builds the client named by opts.Driver.
func New(opts Options) (Client, error) {
	switch opts.Driver {
	case "", "memory":
		return NewMemoryClient(opts.MaxEntries, WithMaxBytes(opts.MaxBytes)), nil
	case "redis":
		return NewRedisClient(opts.Redis)
	default:
		return nil, fmt.Errorf("unknown cache driver %q", opts.Driver)
	}
}

// Key joins key components with ':'.
func Key(parts ...string) string {
	return strings.Join(parts, ":")
}
