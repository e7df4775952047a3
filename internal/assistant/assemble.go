package assistant

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/lexrag/internal/answer"
	"github.com/fyrsmithlabs/lexrag/internal/chat"
	"github.com/fyrsmithlabs/lexrag/internal/chunker"
	"github.com/fyrsmithlabs/lexrag/internal/extraction"
	"github.com/fyrsmithlabs/lexrag/internal/ingest"
	"github.com/fyrsmithlabs/lexrag/internal/retrieve"
	"github.com/fyrsmithlabs/lexrag/internal/secrets"
	"github.com/fyrsmithlabs/lexrag/internal/storage"
)

// Embedder embeds documents and queries.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// Config gathers the settings of the pipeline components.
type Config struct {
	Ingest   ingest.Config   `koanf:"ingest"`
	Retrieve retrieve.Config `koanf:"retrieval"`
	Answer   answer.Config   `koanf:"answer"`
}

// Components are the shared, process-wide building blocks. Scrubber and
// Extractor may be nil.
type Components struct {
	Store     storage.Store
	Indexes   Indexes
	Chunker   *chunker.Chunker
	Embedder  Embedder
	Chat      chat.Completer
	Scrubber  *secrets.Scrubber
	Extractor extraction.Extractor
}

// Assemble builds the pipeline, retriever and composer from c and returns
// the Service over them.
func Assemble(c Components, cfg Config, logger *zap.Logger) (*Service, error) {
	if c.Store == nil || c.Indexes == nil || c.Chunker == nil || c.Embedder == nil || c.Chat == nil {
		return nil, errors.New("assistant: store, indexes, chunker, embedder and chat are required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	pipeline, err := ingest.New(ingest.Deps{
		Chunker:  c.Chunker,
		Embedder: c.Embedder,
		Indexes:  c.Indexes,
		Sources:  c.Store,
		Scrubber: c.Scrubber,
	}, cfg.Ingest, logger.Named("ingest"))
	if err != nil {
		return nil, fmt.Errorf("creating ingestion pipeline: %w", err)
	}

	retriever, err := retrieve.New(c.Embedder, c.Indexes, cfg.Retrieve, logger.Named("retrieve"))
	if err != nil {
		return nil, fmt.Errorf("creating retriever: %w", err)
	}

	composer, err := answer.New(retriever, c.Chat, c.Store, cfg.Answer, logger.Named("answer"))
	if err != nil {
		return nil, fmt.Errorf("creating answer composer: %w", err)
	}

	return New(Deps{
		Store:     c.Store,
		Indexes:   c.Indexes,
		Pipeline:  pipeline,
		Retriever: retriever,
		Composer:  composer,
		Extractor: c.Extractor,
	}, logger)
}
