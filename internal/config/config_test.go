package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, ProviderJina, cfg.Embedding.Text.Provider)
	assert.Equal(t, "jina-clip-v2", cfg.Embedding.Joint.Model)
	assert.Equal(t, 30*time.Second, cfg.Embedding.Timeout)
	assert.Equal(t, 10*time.Second, cfg.Store.Timeout)
	assert.Equal(t, 10, cfg.Search.DefaultTopK)
	assert.InDelta(t, 0.4, cfg.Conversation.ScoreThreshold, 1e-9)
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	path := filepath.Join(dir, "config.yaml")
	body := `
database:
  driver: memory
embedding:
  timeout: 5s
  text:
    provider: fastembed
    model: BAAI/bge-small-en-v1.5
search:
  max_top_k: 50
sources:
  - name: catalog
    type: manifest
    path: ./data/catalog.jsonl
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "memory", cfg.Database.Driver)
	assert.Equal(t, ProviderFastEmbed, cfg.Embedding.Text.Provider)
	assert.Equal(t, 5*time.Second, cfg.Embedding.Timeout)
	assert.Equal(t, 50, cfg.Search.MaxTopK)
	require.Len(t, cfg.Sources, 1)
	assert.Equal(t, SourceConfig{Name: "catalog", Type: "manifest", Path: "./data/catalog.jsonl"}, cfg.Sources[0])
}

func TestLoadRejectsBadSources(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"unknown type", "sources:\n  - {name: a, type: s3, path: x}\n"},
		{"missing path", "sources:\n  - {name: a, type: manifest}\n"},
		{"duplicate", "sources:\n  - {name: a, type: manifest, path: x}\n  - {name: a, type: directory, path: y}\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			t.Chdir(dir)
			path := filepath.Join(dir, "config.yaml")
			require.NoError(t, os.WriteFile(path, []byte(tt.body), 0o644))

			_, err := Load(path)
			assert.Error(t, err)
		})
	}
}

func TestLoadRejectsUnknownDriver(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("database:\n  driver: mongo\n"), 0o644))

	_, err := Load(path)
	require.Error(t, err)
}

func TestEmbeddingConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     EmbeddingConfig
		wantErr bool
	}{
		{"jina ok", EmbeddingConfig{Name: "t", Provider: ProviderJina, Model: "m", Dimensions: 8}, false},
		{"fastembed without dims", EmbeddingConfig{Name: "t", Provider: ProviderFastEmbed, Model: "m"}, false},
		{"missing name", EmbeddingConfig{Provider: ProviderJina, Model: "m", Dimensions: 8}, true},
		{"missing model", EmbeddingConfig{Name: "t", Provider: ProviderJina, Dimensions: 8}, true},
		{"unknown provider", EmbeddingConfig{Name: "t", Provider: "openai", Model: "m", Dimensions: 8}, true},
		{"jina without dims", EmbeddingConfig{Name: "t", Provider: ProviderJina, Model: "m"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestValidateWithAPIKey(t *testing.T) {
	t.Setenv("MY_JINA_KEY", "secret")

	cfg := EmbeddingConfig{Name: "t", Provider: ProviderJina, Model: "m", Dimensions: 8, APIKeyEnv: "MY_JINA_KEY"}
	require.Error(t, (&EmbeddingConfig{Name: "t", Provider: ProviderJina, Model: "m", Dimensions: 8}).ValidateWithAPIKey())

	cfg.ResolveEnvVars()
	assert.Equal(t, "secret", cfg.APIKey)
	assert.NoError(t, cfg.ValidateWithAPIKey())
}
