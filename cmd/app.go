package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/chrischoy/MediaWhisperer/config"
	"github.com/chrischoy/MediaWhisperer/service"
)

// newEngine builds the conversion engine selected by conversion.engine.
func newEngine(ctx context.Context, cfg *config.Config) (service.Engine, error) {
	switch cfg.Conversion.Engine {
	case "local":
		return service.NewLocalEngine(), nil
	case "mineru":
		store, err := service.NewMinioStore(&cfg.Minio)
		if err != nil {
			return nil, fmt.Errorf("initialize minio: %w", err)
		}
		if err := store.EnsureBucket(ctx); err != nil {
			return nil, fmt.Errorf("ensure minio bucket: %w", err)
		}
		return service.NewMineruEngine(service.NewMineruClient(&cfg.Mineru), store), nil
	default:
		return nil, fmt.Errorf("unknown conversion engine %q", cfg.Conversion.Engine)
	}
}

// newPipeline opens the registry and wires the ingestion pipeline.
func newPipeline(ctx context.Context, cfg *config.Config) (*service.Pipeline, error) {
	store, err := service.NewArtifactStore(cfg.Storage.UploadDir)
	if err != nil {
		return nil, err
	}

	registryPath := cfg.Storage.RegistryFile
	if !filepath.IsAbs(registryPath) {
		registryPath = filepath.Join(store.Root(), registryPath)
	}
	registry, err := service.OpenRegistry(registryPath)
	if err != nil {
		return nil, fmt.Errorf("open registry: %w", err)
	}

	engine, err := newEngine(ctx, cfg)
	if err != nil {
		return nil, err
	}
	slog.Info("conversion engine ready", "engine", engine.Name())

	return service.NewPipeline(
		registry,
		store,
		service.NewConverter(engine, &cfg.Conversion),
		service.NewFetcher(&cfg.Fetch, &cfg.Storage),
		service.WithWorkers(cfg.Conversion.Workers),
		service.WithLogger(slog.Default()),
	)
}

// newConversationStore returns the store selected by conversations.backend.
func newConversationStore(ctx context.Context, cfg *config.Config) (service.ConversationStore, func(), error) {
	switch cfg.Conversations.Backend {
	case "memory":
		return service.NewMemoryConversationStore(), func() {}, nil
	case "redis":
		client, err := service.NewRedisClient(ctx, &cfg.Redis)
		if err != nil {
			return nil, nil, err
		}
		return service.NewRedisConversationStore(client), func() { client.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("unknown conversations backend %q", cfg.Conversations.Backend)
	}
}
