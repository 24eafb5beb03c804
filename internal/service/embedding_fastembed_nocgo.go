//go:build !cgo

package service

import (
	"context"
	"fmt"

	"github.com/timmy/mmrag/internal/config"
)

// FastEmbedBackend is unavailable in binaries built without cgo.
type FastEmbedBackend struct{}

// NewFastEmbedBackend always fails without cgo.
func NewFastEmbedBackend(cfg *config.EmbeddingConfig) (*FastEmbedBackend, error) {
	return nil, fmt.Errorf("fastembed %q: %w (built without cgo)", cfg.Model, ErrBackendUnavailable)
}

func (b *FastEmbedBackend) Name() string { return "" }

func (b *FastEmbedBackend) Dimensions() int { return 0 }

func (b *FastEmbedBackend) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	return nil, ErrBackendUnavailable
}

func (b *FastEmbedBackend) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	return nil, ErrBackendUnavailable
}

func (b *FastEmbedBackend) Close() error { return nil }
