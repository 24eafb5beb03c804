package app

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/timmy/mmrag/internal/config"
	"github.com/timmy/mmrag/internal/repository"
	"github.com/timmy/mmrag/internal/source/directory"
	"github.com/timmy/mmrag/internal/source/manifest"
)

func TestNewSources(t *testing.T) {
	sources := NewSources([]config.SourceConfig{
		{Name: "catalog", Type: "manifest", Path: "/data/catalog.jsonl"},
		{Name: "photos", Type: "directory", Path: "/data/photos"},
	})
	require.Len(t, sources, 2)
	assert.IsType(t, &manifest.Adapter{}, sources["catalog"])
	assert.IsType(t, &directory.Adapter{}, sources["photos"])
}

func TestNewWithMemoryStore(t *testing.T) {
	t.Setenv("JINA_API_KEY", "test-key")
	cfg := &config.Config{
		Database: config.DatabaseConfig{Driver: "memory", Path: ":memory:", MaxOpenConns: 1},
		Storage:  config.StorageConfig{Type: "local", LocalDir: t.TempDir()},
		Embedding: config.EmbeddingSettings{
			Text:  config.EmbeddingConfig{Name: "text", Provider: "jina", Model: "jina-embeddings-v3", Dimensions: 1024, APIKeyEnv: "JINA_API_KEY"},
			Joint: config.EmbeddingConfig{Name: "joint", Provider: "jina", Model: "jina-clip-v2", Dimensions: 1024, APIKeyEnv: "JINA_API_KEY"},
		},
	}
	a, err := New(context.Background(), cfg)
	require.NoError(t, err)
	defer a.Close()

	assert.IsType(t, &repository.MemoryContentStore{}, a.Store)
	assert.Equal(t, "jina-embeddings-v3", a.Backends.Text().Name())
	assert.NotNil(t, a.Search)
	assert.Empty(t, a.Sources)
}
