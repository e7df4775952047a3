package embeddings

import (
	"context"
	"fmt"
	"strings"

	lcembeddings "github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/openai"

	"github.com/fyrsmithlabs/lexrag/internal/model"
)

// DefaultOpenAIModel is the embedding model used when none is configured.
const DefaultOpenAIModel = "text-embedding-3-small"

// openAIProvider embeds through any OpenAI-compatible endpoint via langchaingo.
type openAIProvider struct {
	embedder  *lcembeddings.EmbedderImpl
	model     string
	dimension int
}

// NewOpenAIProvider creates a langchaingo-backed provider.
// An empty baseURL targets api.openai.com.
func NewOpenAIProvider(baseURL, modelName, apiKey string, dimension, batchSize int) (Provider, error) {
	if modelName == "" {
		modelName = DefaultOpenAIModel
		if dimension == 0 {
			dimension = DimensionForModel(modelName)
		}
	}
	if apiKey == "" {
		if baseURL == "" {
			return nil, fmt.Errorf("%w: api key required for the OpenAI API", ErrInvalidConfig)
		}
		// Self-hosted OpenAI-compatible servers ignore the token, langchaingo still requires one.
		apiKey = "placeholder"
	}

	opts := []openai.Option{
		openai.WithEmbeddingModel(modelName),
		openai.WithToken(apiKey),
	}
	if baseURL != "" {
		opts = append(opts, openai.WithBaseURL(baseURL))
	}

	llm, err := openai.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("creating OpenAI client: %w", err)
	}

	embedOpts := []lcembeddings.Option{lcembeddings.WithStripNewLines(false)}
	if batchSize > 0 {
		embedOpts = append(embedOpts, lcembeddings.WithBatchSize(batchSize))
	}
	embedder, err := lcembeddings.NewEmbedder(llm, embedOpts...)
	if err != nil {
		return nil, fmt.Errorf("creating embedder: %w", err)
	}

	return &openAIProvider{
		embedder:  embedder,
		model:     modelName,
		dimension: dimension,
	}, nil
}

func (p *openAIProvider) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, fmt.Errorf("%w: texts cannot be empty", ErrEmptyInput)
	}
	vectors, err := p.embedder.EmbedDocuments(ctx, texts)
	if err != nil {
		return nil, classifyAPIError(err)
	}
	return vectors, nil
}

func (p *openAIProvider) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	if text == "" {
		return nil, fmt.Errorf("%w: text cannot be empty", ErrEmptyInput)
	}
	vector, err := p.embedder.EmbedQuery(ctx, text)
	if err != nil {
		return nil, classifyAPIError(err)
	}
	return vector, nil
}

func (p *openAIProvider) Dimension() int { return p.dimension }

func (p *openAIProvider) Close() error { return nil }

// classifyAPIError wraps an API failure as EmbeddingUnavailable. Authentication
// and request errors cannot succeed on retry and are marked permanent.
func classifyAPIError(err error) error {
	wrapped := fmt.Errorf("%w: %w", model.ErrEmbeddingUnavailable, err)
	msg := strings.ToLower(err.Error())
	for _, marker := range []string{"401", "403", "404", "invalid_api_key", "invalid_request_error"} {
		if strings.Contains(msg, marker) {
			return model.Permanent(wrapped)
		}
	}
	return wrapped
}
