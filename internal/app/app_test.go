package app

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spherical/prd-testgen/internal/config"
	"github.com/spherical/prd-testgen/internal/domain"
	"github.com/spherical/prd-testgen/internal/fileparse"
	"github.com/spherical/prd-testgen/internal/observability"
)

func TestNewSources(t *testing.T) {
	cfg := config.DefaultConfig()

	sources, err := NewSources(cfg, observability.Nop())
	require.NoError(t, err)
	defer sources.Close()

	assert.Equal(t, "feishu document DocX", sources.Feishu.NewSource("DocX").Describe())
	assert.Equal(t, cfg.Upload.MaxBytes, sources.Files.MaxBytes())

	doc, err := sources.Files.NewSource(fileparse.Upload{Filename: "a.txt", Data: []byte("spec text")}).Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []domain.ContentNode{domain.TextNode("spec text")}, doc.Nodes)
}

func TestNewSources_BadCacheDriver(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Cache.Driver = "memcached"

	_, err := NewSources(cfg, nil)
	assert.Error(t, err)
}

func TestNewPipeline(t *testing.T) {
	cfg := config.DefaultConfig()

	_, err := NewPipeline(cfg, nil)
	require.Error(t, err, "endpoint is required")

	cfg.Model.Endpoint = "ep-20250101"
	cfg.Model.APIKey = "k"
	p, err := NewPipeline(cfg, nil)
	require.NoError(t, err)
	assert.NotNil(t, p)
}

func TestOpenResultStore(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Database.SQLite.Path = ":memory:"

	store, err := OpenResultStore(context.Background(), cfg, nil)
	require.NoError(t, err)
	defer store.Close()

	key, err := store.Save(context.Background(), json.RawMessage(`{"ok":true}`))
	require.NoError(t, err)
	got, err := store.Load(context.Background(), key)
	require.NoError(t, err)
	assert.JSONEq(t, `{"ok":true}`, string(got.Payload))
}
