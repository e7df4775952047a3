// Package retrieve finds the chunks of a client's corpus most relevant to a
// query.
package retrieve

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/lexrag/internal/model"
	"github.com/fyrsmithlabs/lexrag/internal/reranker"
	"github.com/fyrsmithlabs/lexrag/internal/vectorindex"
)

const instrumentationName = "github.com/fyrsmithlabs/lexrag/internal/retrieve"

// Defaults for Config.
const (
	DefaultTopK             = 5
	DefaultRerankCandidates = 3
)

// QueryEmbedder embeds search queries.
type QueryEmbedder interface {
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// Indexes hands out client index handles.
type Indexes interface {
	Open(ctx context.Context, clientID string) (vectorindex.Handle, error)
}

// Config configures a Retriever.
type Config struct {
	// TopK is used when a caller asks for topK <= 0. Default 5.
	TopK int `koanf:"top_k"`

	// MinScore excludes hits with a lower vector similarity. Zero keeps
	// every hit with a non-negative score.
	MinScore float32 `koanf:"min_score"`

	// Rerank enables the lexical reranker.
	Rerank bool `koanf:"rerank"`

	// RerankWeight is the lexical share of the blended score. Default 0.5.
	RerankWeight float32 `koanf:"rerank_weight"`

	// RerankCandidates multiplies topK to size the candidate pool handed to
	// the reranker. Default 3.
	RerankCandidates int `koanf:"rerank_candidates"`
}

func (c *Config) applyDefaults() {
	if c.TopK <= 0 {
		c.TopK = DefaultTopK
	}
	if c.RerankWeight <= 0 {
		c.RerankWeight = reranker.DefaultLexicalWeight
	}
	if c.RerankCandidates <= 0 {
		c.RerankCandidates = DefaultRerankCandidates
	}
}

// Result is one retrieved chunk.
type Result struct {
	Chunk       model.Chunk      `json:"chunk"`
	Score       float32          `json:"score"`
	VectorScore float32          `json:"vector_score"`
	SourceType  model.SourceType `json:"source_type"`
	Title       string           `json:"title"`
	Sender      string           `json:"sender,omitempty"`
	Timestamp   time.Time        `json:"timestamp"`
}

// Retriever embeds queries and searches client indexes. It is safe for
// concurrent use.
type Retriever struct {
	embedder QueryEmbedder
	indexes  Indexes
	reranker reranker.Reranker
	cfg      Config
	logger   *zap.Logger
}

// New creates a Retriever.
func New(embedder QueryEmbedder, indexes Indexes, cfg Config, logger *zap.Logger) (*Retriever, error) {
	if embedder == nil || indexes == nil {
		return nil, errors.New("retrieve: embedder and indexes are required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg.applyDefaults()
	r := &Retriever{embedder: embedder, indexes: indexes, cfg: cfg, logger: logger}
	if cfg.Rerank {
		r.reranker = reranker.NewLexicalReranker(cfg.RerankWeight)
	}
	return r, nil
}

// MinScore returns the effective score threshold.
func (r *Retriever) MinScore() float32 {
	return r.cfg.MinScore
}

// Retrieve returns up to topK chunks of clientID ranked by relevance to
// query. An empty index yields an empty slice without embedding the query.
func (r *Retriever) Retrieve(ctx context.Context, clientID, query string, topK int, filter *vectorindex.Filter) ([]Result, error) {
	ctx, span := otel.Tracer(instrumentationName).Start(ctx, "retrieve.Retrieve")
	defer span.End()
	span.SetAttributes(attribute.String("client.id", clientID), attribute.Int("top_k", topK))

	results, err := r.retrieve(ctx, clientID, query, topK, filter)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(attribute.Int("results", len(results)))
	return results, nil
}

func (r *Retriever) retrieve(ctx context.Context, clientID, query string, topK int, filter *vectorindex.Filter) ([]Result, error) {
	if strings.TrimSpace(query) == "" {
		return nil, model.ErrEmptyQuestion
	}
	if topK <= 0 {
		topK = r.cfg.TopK
	}

	idx, err := r.indexes.Open(ctx, clientID)
	if err != nil {
		return nil, fmt.Errorf("opening index: %w", err)
	}
	if err := idx.Health(); err != nil {
		return nil, err
	}
	count, err := idx.Count(ctx)
	if err != nil {
		return nil, fmt.Errorf("counting index: %w", err)
	}
	if count == 0 {
		return []Result{}, nil
	}

	vector, err := r.embedder.EmbedQuery(ctx, query)
	if err != nil {
		return nil, err
	}

	fetch := topK
	if r.reranker != nil {
		fetch = topK * r.cfg.RerankCandidates
	}
	hits, err := idx.Search(ctx, vector, fetch, filter)
	if err != nil {
		return nil, err
	}

	results := make([]Result, 0, len(hits))
	for _, h := range hits {
		if h.Score < r.cfg.MinScore {
			continue
		}
		results = append(results, fromHit(clientID, h))
	}

	if r.reranker != nil && len(results) > 0 {
		results, err = r.rerank(ctx, query, results, topK)
		if err != nil {
			return nil, err
		}
	}
	if len(results) > topK {
		results = results[:topK]
	}

	r.logger.Debug("retrieved chunks",
		zap.String("client.id", clientID),
		zap.Int("hits", len(hits)),
		zap.Int("results", len(results)),
		zap.Bool("reranked", r.reranker != nil))
	return results, nil
}

func (r *Retriever) rerank(ctx context.Context, query string, results []Result, topK int) ([]Result, error) {
	docs := make([]reranker.Document, len(results))
	for i, res := range results {
		docs[i] = reranker.Document{ID: res.Chunk.ID, Content: res.Chunk.Text, Score: res.VectorScore}
	}
	scored, err := r.reranker.Rerank(ctx, query, docs, topK)
	if err != nil {
		return nil, fmt.Errorf("reranking: %w", err)
	}
	out := make([]Result, len(scored))
	for i, s := range scored {
		out[i] = results[s.OriginalRank]
		out[i].Score = s.Combined
	}
	return out, nil
}

func fromHit(clientID string, h vectorindex.Hit) Result {
	md := h.Metadata
	return Result{
		Chunk: model.Chunk{
			ID:       h.ChunkID,
			ClientID: clientID,
			SourceID: md.SourceID,
			Index:    md.ChunkIndex,
			Start:    md.Start,
			End:      md.End,
			Text:     md.Text,
		},
		Score:       h.Score,
		VectorScore: h.Score,
		SourceType:  md.SourceType,
		Title:       md.Title,
		Sender:      md.Sender,
		Timestamp:   md.Timestamp,
	}
}
