//go:build cgo

package service

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"

	fastembed "github.com/anush008/fastembed-go"
	"github.com/timmy/mmrag/internal/config"
)

var fastEmbedModels = map[string]fastembed.EmbeddingModel{
	"BAAI/bge-small-en-v1.5":                 fastembed.BGESmallENV15,
	"BAAI/bge-small-en":                      fastembed.BGESmallEN,
	"BAAI/bge-base-en-v1.5":                  fastembed.BGEBaseENV15,
	"BAAI/bge-base-en":                       fastembed.BGEBaseEN,
	"BAAI/bge-small-zh-v1.5":                 fastembed.BGESmallZH,
	"sentence-transformers/all-MiniLM-L6-v2": fastembed.AllMiniLML6V2,
}

var fastEmbedDimensions = map[fastembed.EmbeddingModel]int{
	fastembed.BGESmallENV15: 384,
	fastembed.BGESmallEN:    384,
	fastembed.BGEBaseENV15:  768,
	fastembed.BGEBaseEN:     768,
	fastembed.BGESmallZH:    512,
	fastembed.AllMiniLML6V2: 384,
}

// FastEmbedBackend runs a local ONNX text model. The ONNX session is not
// safe for concurrent use, so every call takes the lock.
type FastEmbedBackend struct {
	model     *fastembed.FlagEmbedding
	name      string
	dimension int
	mu        sync.Mutex
}

// NewFastEmbedBackend loads the model, downloading it into CacheDir on first use.
func NewFastEmbedBackend(cfg *config.EmbeddingConfig) (*FastEmbedBackend, error) {
	model, ok := fastEmbedModels[cfg.Model]
	if !ok {
		model = fastembed.EmbeddingModel(cfg.Model)
		if _, known := fastEmbedDimensions[model]; !known {
			return nil, fmt.Errorf("fastembed: unsupported model %q", cfg.Model)
		}
	}

	cacheDir := cfg.CacheDir
	if cacheDir == "" {
		cacheDir = filepath.Join(".", "local_cache")
	}
	maxLength := cfg.MaxLength
	if maxLength == 0 {
		maxLength = 512
	}
	showProgress := false

	flagEmbed, err := fastembed.NewFlagEmbedding(&fastembed.InitOptions{
		Model:                model,
		CacheDir:             cacheDir,
		MaxLength:            maxLength,
		ShowDownloadProgress: &showProgress,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize fastembed: %w", err)
	}

	return &FastEmbedBackend{
		model:     flagEmbed,
		name:      cfg.Model,
		dimension: fastEmbedDimensions[model],
	}, nil
}

// Name returns the model name.
func (b *FastEmbedBackend) Name() string { return b.name }

// Dimensions returns the model's vector size.
func (b *FastEmbedBackend) Dimensions() int { return b.dimension }

// EmbedTexts embeds documents with the passage prefix.
func (b *FastEmbedBackend) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.model.PassageEmbed(texts, 64)
}

// EmbedQuery embeds a search query with the query prefix.
func (b *FastEmbedBackend) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.model.QueryEmbed(text)
}

// Close releases the ONNX session.
func (b *FastEmbedBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.model.Destroy()
}
