package embeddings

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/fyrsmithlabs/lexrag/internal/model"
)

// teiProvider calls a HuggingFace text-embeddings-inference server.
type teiProvider struct {
	baseURL   string
	model     string
	dimension int
	client    *http.Client
}

// NewTEIProvider creates a provider for a TEI server at baseURL.
func NewTEIProvider(baseURL, modelName string, dimension int) (Provider, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("%w: base URL required for tei", ErrInvalidConfig)
	}
	return &teiProvider{
		baseURL:   baseURL,
		model:     modelName,
		dimension: dimension,
		client:    &http.Client{},
	}, nil
}

type teiRequest struct {
	Inputs   interface{} `json:"inputs"`
	Truncate bool        `json:"truncate"`
}

func (p *teiProvider) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, fmt.Errorf("%w: texts cannot be empty", ErrEmptyInput)
	}
	return p.embed(ctx, texts)
}

func (p *teiProvider) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	if text == "" {
		return nil, fmt.Errorf("%w: text cannot be empty", ErrEmptyInput)
	}
	vectors, err := p.embed(ctx, text)
	if err != nil {
		return nil, err
	}
	if len(vectors) == 0 {
		return nil, fmt.Errorf("%w: empty response", model.ErrEmbeddingUnavailable)
	}
	return vectors[0], nil
}

func (p *teiProvider) embed(ctx context.Context, inputs interface{}) ([][]float32, error) {
	body, err := json.Marshal(teiRequest{Inputs: inputs, Truncate: true})
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/embed", bytes.NewReader(body))
	if err != nil {
		return nil, model.Permanent(fmt.Errorf("%w: creating request: %w", model.ErrEmbeddingUnavailable, err))
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", model.ErrEmbeddingUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		statusErr := fmt.Errorf("%w: status %d: %s", model.ErrEmbeddingUnavailable, resp.StatusCode, respBody)
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			return nil, statusErr
		}
		return nil, model.Permanent(statusErr)
	}

	var vectors [][]float32
	if err := json.NewDecoder(resp.Body).Decode(&vectors); err != nil {
		return nil, fmt.Errorf("%w: decoding response: %w", model.ErrEmbeddingUnavailable, err)
	}
	return vectors, nil
}

func (p *teiProvider) Dimension() int { return p.dimension }

func (p *teiProvider) Close() error {
	p.client.CloseIdleConnections()
	return nil
}
