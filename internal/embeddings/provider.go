package embeddings

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrEmptyInput is returned when there is nothing to embed.
	ErrEmptyInput = errors.New("empty or nil input texts")

	// ErrInvalidConfig is returned for unusable provider settings.
	ErrInvalidConfig = errors.New("invalid embeddings configuration")
)

// Provider is an embedding backend.
type Provider interface {
	// EmbedDocuments returns one vector per text, in order.
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)
	// EmbedQuery embeds a search query.
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
	// Dimension returns the vector length, or 0 when only known after the first call.
	Dimension() int
	// Close releases resources held by the provider.
	Close() error
}

// ProviderConfig selects and configures a Provider.
type ProviderConfig struct {
	// Provider is one of "openai", "tei", "fastembed" or "hashing".
	Provider string
	// Model is the embedding model name.
	Model string
	// BaseURL overrides the API endpoint (OpenAI-compatible or TEI).
	BaseURL string
	// APIKey authenticates against OpenAI-compatible APIs.
	APIKey string
	// Dimension overrides the dimension derived from Model.
	Dimension int
	// BatchSize is the provider-side batch limit.
	BatchSize int
	// CacheDir holds downloaded models (fastembed only).
	CacheDir string
}

// NewProvider creates the configured Provider.
func NewProvider(cfg ProviderConfig) (Provider, error) {
	dim := cfg.Dimension
	if dim == 0 {
		dim = DimensionForModel(cfg.Model)
	}

	switch cfg.Provider {
	case "openai", "":
		return NewOpenAIProvider(cfg.BaseURL, cfg.Model, cfg.APIKey, dim, cfg.BatchSize)
	case "tei":
		return NewTEIProvider(cfg.BaseURL, cfg.Model, dim)
	case "fastembed":
		p, err := NewFastEmbedProvider(FastEmbedConfig{
			Model:    cfg.Model,
			CacheDir: cfg.CacheDir,
		})
		if err != nil {
			return nil, err
		}
		return p, nil
	case "hashing":
		if cfg.Dimension == 0 {
			dim = DefaultHashingDimension
		}
		return NewHashingProvider(dim), nil
	default:
		return nil, fmt.Errorf("%w: unknown provider %q", ErrInvalidConfig, cfg.Provider)
	}
}

// DimensionForModel returns the vector dimension of well-known models, or 0.
func DimensionForModel(model string) int {
	if dim, ok := fastEmbedModelDimension(model); ok {
		return dim
	}
	switch model {
	case "text-embedding-3-small", "text-embedding-ada-002":
		return 1536
	case "text-embedding-3-large":
		return 3072
	case "BAAI/bge-small-en-v1.5":
		return 384
	case "BAAI/bge-base-en-v1.5":
		return 768
	case "BAAI/bge-large-en-v1.5":
		return 1024
	}
	switch {
	case strings.Contains(model, "large"):
		return 1024
	case strings.Contains(model, "base"):
		return 768
	case strings.Contains(model, "small"), strings.Contains(model, "mini"):
		return 384
	}
	return 0
}
