package main

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/lexrag/internal/answer"
	"github.com/fyrsmithlabs/lexrag/internal/assistant"
	"github.com/fyrsmithlabs/lexrag/internal/chat"
	"github.com/fyrsmithlabs/lexrag/internal/chunker"
	"github.com/fyrsmithlabs/lexrag/internal/config"
	"github.com/fyrsmithlabs/lexrag/internal/embeddings"
	"github.com/fyrsmithlabs/lexrag/internal/extraction"
	"github.com/fyrsmithlabs/lexrag/internal/ingest"
	"github.com/fyrsmithlabs/lexrag/internal/logging"
	"github.com/fyrsmithlabs/lexrag/internal/retrieve"
	"github.com/fyrsmithlabs/lexrag/internal/retry"
	"github.com/fyrsmithlabs/lexrag/internal/secrets"
	"github.com/fyrsmithlabs/lexrag/internal/storage"
	"github.com/fyrsmithlabs/lexrag/internal/telemetry"
	"github.com/fyrsmithlabs/lexrag/internal/vectorindex"
)

// app holds the process-wide components built from the configuration.
type app struct {
	cfg       *config.Config
	logger    *logging.Logger
	telemetry *telemetry.Telemetry
	svc       *assistant.Service

	closers []func() error // closed in reverse order
}

// buildApp wires telemetry, logging and every pipeline component. stream
// selects the log output ("stdout" or "stderr"). On error everything
// already opened is closed.
func buildApp(ctx context.Context, cfg *config.Config, stream string) (a *app, err error) {
	a = &app{cfg: cfg}
	defer func() {
		if err != nil {
			_ = a.close(context.Background())
			a = nil
		}
	}()

	telCfg, err := telemetry.FromSettings(cfg.Telemetry, version)
	if err != nil {
		return nil, err
	}
	a.telemetry, err = telemetry.New(ctx, telCfg)
	if err != nil {
		return nil, fmt.Errorf("initializing telemetry: %w", err)
	}

	logCfg, err := logging.FromSettings(cfg.Logging)
	if err != nil {
		return nil, err
	}
	logCfg.Output.Stream = stream
	a.logger, err = logging.NewLogger(logCfg, a.telemetry.LoggerProvider())
	if err != nil {
		return nil, fmt.Errorf("initializing logger: %w", err)
	}
	z := a.logger.Underlying()

	store, err := openStore(ctx, cfg.Storage)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, store.Close)

	backend, err := openBackend(ctx, cfg.VectorIndex, z.Named("vectorindex"))
	if err != nil {
		return nil, err
	}
	indexes, err := vectorindex.NewProvider(backend, vectorindex.Config{
		DefaultTopK: cfg.VectorIndex.DefaultTopK,
		MaxTopK:     cfg.VectorIndex.MaxTopK,
	}, z.Named("vectorindex"))
	if err != nil {
		_ = backend.Close()
		return nil, err
	}
	a.closers = append(a.closers, indexes.Close)

	embedder, err := a.openEmbedder(ctx, cfg.Embeddings, z.Named("embeddings"))
	if err != nil {
		return nil, err
	}

	completer, err := openCompleter(cfg.Chat, z.Named("chat"))
	if err != nil {
		return nil, err
	}

	chunks, err := chunker.New(chunkerConfig(cfg))
	if err != nil {
		return nil, fmt.Errorf("creating chunker: %w", err)
	}

	scrubber, err := secrets.New(secrets.Config{
		Enabled:   cfg.Secrets.Enabled,
		Redaction: cfg.Secrets.Redaction,
	})
	if err != nil {
		return nil, fmt.Errorf("creating secret scrubber: %w", err)
	}

	a.svc, err = assistant.Assemble(assistant.Components{
		Store:     store,
		Indexes:   indexes,
		Chunker:   chunks,
		Embedder:  embedder,
		Chat:      completer,
		Scrubber:  scrubber,
		Extractor: extraction.New(extraction.Config{MaxBytes: cfg.Extraction.MaxBytes}),
	}, pipelineConfig(cfg), z)
	if err != nil {
		return nil, err
	}

	z.Info("lexrag components ready",
		zap.String("storage", cfg.Storage.Driver),
		zap.String("vectorindex", indexes.Backend()),
		zap.String("embeddings", cfg.Embeddings.Provider),
		zap.Int("dimension", embedder.Dimension()),
		zap.String("chat", cfg.Chat.Provider))
	return a, nil
}

// pipelineConfig maps the ingest, retrieval and answer sections.
func chunkerConfig(cfg *config.Config) chunker.Config {
	return chunker.Config{
		ChunkSize:         cfg.Chunker.ChunkSize,
		Overlap:           cfg.Chunker.Overlap,
		MinChunkSize:      cfg.Chunker.MinChunkSize,
		BoundaryTolerance: cfg.Chunker.BoundaryTolerance,
	}
}

func pipelineConfig(cfg *config.Config) assistant.Config {
	return assistant.Config{
		Ingest: ingest.Config{MaxParallelEmbeds: cfg.Ingest.MaxParallelEmbeds},
		Retrieve: retrieve.Config{
			TopK:         cfg.Retrieval.TopK,
			MinScore:     cfg.Retrieval.MinScore,
			Rerank:       cfg.Retrieval.Rerank,
			RerankWeight: cfg.Retrieval.RerankWeight,
		},
		Answer: answer.Config{
			TopK:            cfg.Answer.TopK,
			MaxHistoryTurns: cfg.Answer.MaxHistoryTurns,
			Temperature:     cfg.Answer.Temperature,
			MaxTokens:       cfg.Answer.MaxTokens,
			TopP:            cfg.Answer.TopP,
			SystemPrompt:    cfg.Answer.SystemPrompt,
		},
	}
}

func openStore(ctx context.Context, cfg config.StorageConfig) (storage.Store, error) {
	switch cfg.Driver {
	case "sqlite":
		s, err := storage.OpenSQLite(ctx, cfg.Path)
		if err != nil {
			return nil, fmt.Errorf("opening sqlite store: %w", err)
		}
		return s, nil
	case "memory", "":
		return storage.NewMemory(), nil
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Driver)
	}
}

func openBackend(ctx context.Context, cfg config.VectorIndexConfig, logger *zap.Logger) (vectorindex.Backend, error) {
	switch cfg.Backend {
	case "qdrant":
		b, err := vectorindex.NewQdrantBackend(ctx, vectorindex.QdrantConfig{
			Host:             cfg.QdrantHost,
			Port:             cfg.QdrantPort,
			APIKey:           cfg.QdrantAPIKey.Value(),
			UseTLS:           cfg.QdrantTLS,
			CollectionPrefix: cfg.CollectionPrefix,
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("connecting to qdrant: %w", err)
		}
		return b, nil
	case "chromem", "":
		b, err := vectorindex.NewChromemBackend(vectorindex.ChromemConfig{
			Path:     cfg.Path,
			Compress: cfg.Compress,
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("opening chromem index: %w", err)
		}
		return b, nil
	default:
		return nil, fmt.Errorf("unknown vector index backend %q", cfg.Backend)
	}
}

// openEmbedder builds provider, optional Redis cache and the resilient client.
func (a *app) openEmbedder(ctx context.Context, cfg config.EmbeddingsConfig, logger *zap.Logger) (*embeddings.Client, error) {
	provider, err := embeddings.NewProvider(embeddings.ProviderConfig{
		Provider:  cfg.Provider,
		Model:     cfg.Model,
		BaseURL:   cfg.BaseURL,
		APIKey:    cfg.APIKey.Value(),
		Dimension: cfg.Dimension,
		BatchSize: cfg.BatchSize,
		CacheDir:  cfg.CacheDir,
	})
	if err != nil {
		return nil, fmt.Errorf("creating embedding provider: %w", err)
	}

	var p embeddings.Provider = provider
	if cfg.RedisAddr != "" {
		cache, err := embeddings.NewRedisCache(ctx, embeddings.RedisConfig{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword.Value(),
			DB:       cfg.RedisDB,
			TTL:      cfg.CacheTTL.Duration(),
		})
		if err != nil {
			_ = provider.Close()
			return nil, fmt.Errorf("connecting embedding cache: %w", err)
		}
		a.closers = append(a.closers, cache.Close)
		p = embeddings.NewCachedProvider(provider, cache, cfg.Model, logger)
	}

	policy := retry.EmbeddingDefault()
	policy.MaxAttempts = cfg.MaxAttempts
	client, err := embeddings.NewClient(p, embeddings.ClientConfig{
		Model:         cfg.Model,
		Timeout:       cfg.Timeout.Duration(),
		BatchSize:     cfg.BatchSize,
		RatePerSecond: cfg.RatePerSecond,
		Burst:         cfg.Burst,
		Retry:         policy,
	}, logger)
	if err != nil {
		_ = p.Close()
		return nil, fmt.Errorf("creating embedding client: %w", err)
	}
	a.closers = append(a.closers, client.Close)
	return client, nil
}

func openCompleter(cfg config.ChatConfig, logger *zap.Logger) (chat.Completer, error) {
	var completer chat.Completer
	switch cfg.Provider {
	case "openai", "":
		llm, err := chat.NewOpenAICompleter(cfg.BaseURL, cfg.Model, cfg.APIKey.Value())
		if err != nil {
			return nil, fmt.Errorf("creating chat model: %w", err)
		}
		completer = llm
	case "extractive":
		completer = chat.NewExtractiveCompleter()
	default:
		return nil, fmt.Errorf("unknown chat provider %q", cfg.Provider)
	}

	policy := retry.ChatDefault()
	policy.MaxAttempts = cfg.MaxAttempts
	client, err := chat.NewClient(completer, chat.Config{
		Timeout:       cfg.Timeout.Duration(),
		RatePerSecond: cfg.RatePerSecond,
		Burst:         cfg.Burst,
		Retry:         policy,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("creating chat client: %w", err)
	}
	return client, nil
}

// close releases components in reverse order, then flushes logs and telemetry.
func (a *app) close(ctx context.Context) error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	if a.logger != nil {
		_ = a.logger.Sync()
	}
	if a.telemetry != nil {
		if err := a.telemetry.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
