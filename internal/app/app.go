// Package app wires configuration into stores, backends and services.
package app

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"github.com/timmy/mmrag/internal/config"
	"github.com/timmy/mmrag/internal/logger"
	"github.com/timmy/mmrag/internal/repository"
	"github.com/timmy/mmrag/internal/service"
	"github.com/timmy/mmrag/internal/source"
	"github.com/timmy/mmrag/internal/source/directory"
	"github.com/timmy/mmrag/internal/source/manifest"
	"github.com/timmy/mmrag/internal/storage"
)

// App holds every long-lived component of a running process.
type App struct {
	DB       *gorm.DB
	Store    repository.ContentStore
	Storage  storage.ObjectStorage
	Backends *service.BackendRegistry
	Embedder *service.Embedder

	Ingest       *service.IngestService
	Search       *service.SearchService
	Conversation *service.ConversationService
	ChatRoom     *service.ChatRoomService
	User         *service.UserService
	Sources      map[string]source.Source

	closers []func() error
}

// New builds the application from cfg. On error everything opened so far is closed.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	a := &App{}
	if err := a.init(ctx, cfg); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) init(ctx context.Context, cfg *config.Config) error {
	var err error

	a.DB, err = repository.InitDB(&cfg.Database)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	a.closers = append(a.closers, func() error {
		sqlDB, err := a.DB.DB()
		if err != nil {
			return err
		}
		return sqlDB.Close()
	})

	a.Backends, err = service.NewBackendRegistry(&cfg.Embedding)
	if err != nil {
		return fmt.Errorf("failed to initialize embedding backends: %w", err)
	}
	a.closers = append(a.closers, func() error {
		a.Backends.Close()
		return nil
	})

	if a.Store, err = a.openContentStore(ctx, cfg); err != nil {
		return err
	}

	a.Storage, err = storage.NewStorage(&cfg.Storage)
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	if s3, ok := a.Storage.(*storage.S3Storage); ok {
		if err := s3.EnsureBucket(ctx); err != nil {
			return fmt.Errorf("failed to ensure storage bucket: %w", err)
		}
	}

	a.Embedder = service.NewEmbedder(a.Backends.Text(), a.Backends.Joint(), service.NewImageLoader(a.Storage), &service.EmbedderConfig{
		Timeout:            cfg.Embedding.Timeout,
		SerializeInference: cfg.Embedding.SerializeInference,
	})

	convRepo := repository.NewConversationRepository(a.DB)
	a.Ingest = service.NewIngestService(a.Store, a.Embedder, a.Storage, repository.NewJobRepository(a.DB), &service.IngestConfig{
		Workers:      cfg.Ingest.Workers,
		BatchSize:    cfg.Ingest.BatchSize,
		StoreTimeout: cfg.Store.Timeout,
	})
	a.Search = service.NewSearchService(a.Store, a.Embedder, &service.SearchConfig{
		DefaultTopK:  cfg.Search.DefaultTopK,
		MaxTopK:      cfg.Search.MaxTopK,
		StoreTimeout: cfg.Store.Timeout,
	})
	a.Conversation = service.NewConversationService(convRepo, a.Embedder, a.Storage, &service.ConversationConfig{
		ScoreThreshold: cfg.Conversation.ScoreThreshold,
		MaxTopK:        cfg.Conversation.MaxTopK,
	})
	a.ChatRoom = service.NewChatRoomService(repository.NewChatRoomRepository(a.DB), convRepo, a.Storage)
	a.User = service.NewUserService(repository.NewUserRepository(a.DB))
	a.Sources = NewSources(cfg.Sources)
	return nil
}

func (a *App) openContentStore(ctx context.Context, cfg *config.Config) (repository.ContentStore, error) {
	switch cfg.Database.Driver {
	case "memory":
		return repository.NewMemoryContentStore(), nil
	case "qdrant":
		store, err := repository.NewQdrantContentStore(&repository.QdrantConnectionConfig{
			Host:           cfg.Qdrant.Host,
			Port:           cfg.Qdrant.Port,
			Collection:     cfg.Qdrant.Collection,
			APIKey:         cfg.Qdrant.APIKey,
			UseTLS:         cfg.Qdrant.UseTLS,
			TextDimension:  a.Backends.Text().Dimensions(),
			JointDimension: a.Backends.Joint().Dimensions(),
		})
		if err != nil {
			return nil, fmt.Errorf("failed to initialize Qdrant store: %w", err)
		}
		a.closers = append(a.closers, store.Close)
		if err := store.EnsureCollection(ctx); err != nil {
			return nil, fmt.Errorf("failed to ensure Qdrant collection: %w", err)
		}
		return store, nil
	default:
		return repository.NewGormContentStore(a.DB), nil
	}
}

// NewSources builds source adapters keyed by configured name.
func NewSources(cfgs []config.SourceConfig) map[string]source.Source {
	sources := make(map[string]source.Source, len(cfgs))
	for _, sc := range cfgs {
		switch sc.Type {
		case "manifest":
			sources[sc.Name] = manifest.NewAdapter(sc.Path)
		case "directory":
			sources[sc.Name] = directory.NewAdapter(sc.Path)
		}
	}
	return sources
}

// Close releases resources in reverse order of acquisition.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			logger.Warn("Failed to close resource: %v", err)
		}
	}
	a.closers = nil
}
