// Package ingest turns source items into indexed chunks.
//
// Each item flows through: validate, scrub, shape, normalize, chunk, embed,
// index, record. Embedding happens before the client's index is locked, and
// every item of a batch is reported on its own.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/fyrsmithlabs/lexrag/internal/chunker"
	"github.com/fyrsmithlabs/lexrag/internal/model"
	"github.com/fyrsmithlabs/lexrag/internal/secrets"
	"github.com/fyrsmithlabs/lexrag/internal/storage"
	"github.com/fyrsmithlabs/lexrag/internal/vectorindex"
)

const instrumentationName = "github.com/fyrsmithlabs/lexrag/internal/ingest"

// DefaultMaxParallelEmbeds bounds concurrent items in a batch.
const DefaultMaxParallelEmbeds = 4

// Status is the outcome of one item.
type Status string

const (
	StatusSucceeded Status = "succeeded"
	StatusSkipped   Status = "skipped"
	StatusFailed    Status = "failed"
	StatusCanceled  Status = "canceled"
)

// Options control re-ingestion.
type Options struct {
	// Reindex replaces the chunks of an already ingested source.
	Reindex bool `json:"reindex"`
}

// Result reports one item.
type Result struct {
	SourceID   string   `json:"source_id"`
	Status     Status   `json:"status"`
	ChunkIDs   []string `json:"chunk_ids,omitempty"`
	Redactions int      `json:"redactions,omitempty"`
	Error      string   `json:"error,omitempty"`
	Err        error    `json:"-"`
}

// Report aggregates a batch.
type Report struct {
	Results   []Result `json:"results"`
	Succeeded int      `json:"succeeded"`
	Failed    int      `json:"failed"`
	Skipped   int      `json:"skipped"`
	Canceled  int      `json:"canceled"`
}

// Embedder embeds document text.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// Indexes hands out client index handles.
type Indexes interface {
	Open(ctx context.Context, clientID string) (vectorindex.Handle, error)
}

// Config configures the Pipeline.
type Config struct {
	MaxParallelEmbeds int `koanf:"max_parallel_embeds"`
}

// Deps are the collaborators of a Pipeline. Scrubber may be nil.
type Deps struct {
	Chunker  *chunker.Chunker
	Embedder Embedder
	Indexes  Indexes
	Sources  storage.SourceStore
	Scrubber *secrets.Scrubber
}

// Pipeline ingests source items. It is safe for concurrent use.
type Pipeline struct {
	Deps
	cfg    Config
	logger *zap.Logger
	items  metric.Int64Counter
	now    func() time.Time
}

// New creates a Pipeline.
func New(deps Deps, cfg Config, logger *zap.Logger) (*Pipeline, error) {
	if deps.Chunker == nil || deps.Embedder == nil || deps.Indexes == nil || deps.Sources == nil {
		return nil, errors.New("ingest: chunker, embedder, indexes and sources are required")
	}
	if cfg.MaxParallelEmbeds <= 0 {
		cfg.MaxParallelEmbeds = DefaultMaxParallelEmbeds
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	items, err := otel.Meter(instrumentationName).Int64Counter("lexrag.ingest.items_total",
		metric.WithDescription("Ingested source items by outcome"))
	if err != nil {
		logger.Warn("failed to create ingest counter", zap.Error(err))
	}
	return &Pipeline{Deps: deps, cfg: cfg, logger: logger, items: items, now: time.Now}, nil
}

// Ingest processes one item for clientID. The returned error is non-nil
// only when the result status is failed.
func (p *Pipeline) Ingest(ctx context.Context, clientID string, item model.SourceItem, opts Options) (Result, error) {
	ctx, span := otel.Tracer(instrumentationName).Start(ctx, "ingest.Item")
	defer span.End()
	span.SetAttributes(
		attribute.String("client.id", clientID),
		attribute.String("source.id", item.SourceID),
		attribute.String("source.type", string(item.Type)),
		attribute.Bool("reindex", opts.Reindex))

	start := time.Now()
	res, err := p.ingest(ctx, clientID, item, opts)
	if err != nil {
		res.Status = StatusFailed
		res.Err = err
		res.Error = err.Error()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		p.logger.Warn("ingestion failed",
			zap.String("client.id", clientID),
			zap.String("source.id", item.SourceID),
			zap.Error(err))
	} else {
		p.logger.Info("ingested source",
			zap.String("client.id", clientID),
			zap.String("source.id", res.SourceID),
			zap.String("status", string(res.Status)),
			zap.Int("chunks", len(res.ChunkIDs)),
			zap.Duration("duration", time.Since(start)))
	}
	p.count(ctx, res.Status)
	return res, err
}

func (p *Pipeline) ingest(ctx context.Context, clientID string, item model.SourceItem, opts Options) (Result, error) {
	res := Result{SourceID: item.SourceID}

	if strings.TrimSpace(item.SourceID) == "" {
		return res, fmt.Errorf("%w: %w", model.ErrExtractionFailed, model.ErrEmptySourceID)
	}
	if item.Type == "" {
		item.Type = model.SourceDocument
	}
	if !item.Type.Valid() {
		return res, fmt.Errorf("%w: unknown source type %q", model.ErrExtractionFailed, item.Type)
	}

	_, err := p.Sources.GetSource(ctx, clientID, item.SourceID)
	switch {
	case err == nil && !opts.Reindex:
		res.Status = StatusSkipped
		return res, nil
	case err != nil && !errors.Is(err, model.ErrSourceNotFound):
		return res, fmt.Errorf("looking up source record: %w", err)
	}

	text := item.Text
	if p.Scrubber.Enabled() {
		scrubbed := p.Scrubber.Scrub(text)
		text = scrubbed.Text
		res.Redactions = len(scrubbed.Findings)
	}
	body := Normalize(text)
	if body == "" {
		return res, fmt.Errorf("%w: source %s has no text", model.ErrExtractionFailed, item.SourceID)
	}
	if item.Type == model.SourceEmail {
		date := ""
		if !item.Timestamp.IsZero() {
			date = item.Timestamp.UTC().Format(time.RFC1123Z)
		}
		text = shapeEmail(item.DisplayTitle(), item.Sender, item.Participants, date, text)
	}
	text = Normalize(text)

	chunks := p.Chunker.Chunk(text)
	texts := make([]string, len(chunks))
	for i := range chunks {
		chunks[i].ID = model.ChunkID(clientID, item.SourceID, chunks[i].Index)
		chunks[i].ClientID = clientID
		chunks[i].SourceID = item.SourceID
		texts[i] = chunks[i].Text
	}

	idx, err := p.Indexes.Open(ctx, clientID)
	if err != nil {
		return res, fmt.Errorf("opening index: %w", err)
	}
	if err := idx.Health(); err != nil {
		return res, err
	}

	// No index lock is held while embedding.
	vectors, err := p.Embedder.Embed(ctx, texts)
	if err != nil {
		return res, err
	}
	if len(vectors) != len(chunks) {
		return res, fmt.Errorf("%w: got %d vectors for %d chunks", model.ErrEmbeddingUnavailable, len(vectors), len(chunks))
	}

	entries := make([]vectorindex.Entry, len(chunks))
	for i, c := range chunks {
		entries[i] = vectorindex.Entry{
			ChunkID: c.ID,
			Vector:  vectors[i],
			Metadata: vectorindex.Metadata{
				ClientID:   clientID,
				SourceID:   item.SourceID,
				SourceType: item.Type,
				Title:      item.DisplayTitle(),
				Sender:     item.Sender,
				ChunkIndex: c.Index,
				Start:      c.Start,
				End:        c.End,
				Timestamp:  item.Timestamp,
				Text:       c.Text,
			},
		}
	}

	if opts.Reindex {
		err = idx.Replace(ctx, item.SourceID, entries)
	} else {
		err = idx.Upsert(ctx, entries)
	}
	if err != nil {
		p.discard(ctx, idx, clientID, item.SourceID)
		return res, err
	}

	record := model.SourceRecord{
		ClientID:     clientID,
		SourceID:     item.SourceID,
		Type:         item.Type,
		Title:        item.DisplayTitle(),
		Sender:       item.Sender,
		Participants: item.Participants,
		ThreadID:     item.ThreadID,
		Timestamp:    item.Timestamp,
		ChunkCount:   len(chunks),
		WordCount:    len(strings.Fields(text)),
		IngestedAt:   p.now().UTC(),
		Text:         body,
	}
	if err := p.Sources.PutSource(ctx, record); err != nil {
		p.discard(ctx, idx, clientID, item.SourceID)
		return res, fmt.Errorf("saving source record: %w", err)
	}

	res.Status = StatusSucceeded
	res.ChunkIDs = make([]string, len(chunks))
	for i, c := range chunks {
		res.ChunkIDs[i] = c.ID
	}
	return res, nil
}

// discard removes whatever a failed write left of sourceID: its chunks and,
// after a partial replace, its stale record. A failed item is never
// searchable and is never skipped on the next plain ingest.
func (p *Pipeline) discard(ctx context.Context, idx vectorindex.Handle, clientID, sourceID string) {
	ctx = context.WithoutCancel(ctx)
	if _, err := idx.DeleteSource(ctx, sourceID); err != nil {
		p.logger.Warn("failed to remove chunks of failed source",
			zap.String("client.id", clientID),
			zap.String("source.id", sourceID),
			zap.Error(err))
	}
	if err := p.Sources.DeleteSource(ctx, clientID, sourceID); err != nil && !errors.Is(err, model.ErrSourceNotFound) {
		p.logger.Warn("failed to remove record of failed source",
			zap.String("client.id", clientID),
			zap.String("source.id", sourceID),
			zap.Error(err))
	}
}

// IngestBatch ingests items independently with at most MaxParallelEmbeds in
// flight. Canceling ctx stops items that have not started; started items
// finish on a context detached from the cancellation.
func (p *Pipeline) IngestBatch(ctx context.Context, clientID string, items []model.SourceItem, opts Options) Report {
	ctx, span := otel.Tracer(instrumentationName).Start(ctx, "ingest.Batch")
	defer span.End()
	span.SetAttributes(attribute.String("client.id", clientID), attribute.Int("items", len(items)))

	results := make([]Result, len(items))
	detached := context.WithoutCancel(ctx)

	var g errgroup.Group
	g.SetLimit(p.cfg.MaxParallelEmbeds)
	for i, item := range items {
		if ctx.Err() != nil {
			results[i] = p.canceled(ctx, item)
			continue
		}
		g.Go(func() error {
			if ctx.Err() != nil {
				results[i] = p.canceled(ctx, item)
				return nil
			}
			results[i], _ = p.Ingest(detached, clientID, item, opts)
			return nil
		})
	}
	_ = g.Wait()

	report := Report{Results: results}
	for _, r := range results {
		switch r.Status {
		case StatusSucceeded:
			report.Succeeded++
		case StatusFailed:
			report.Failed++
		case StatusSkipped:
			report.Skipped++
		case StatusCanceled:
			report.Canceled++
		}
	}
	span.SetAttributes(
		attribute.Int("succeeded", report.Succeeded),
		attribute.Int("failed", report.Failed),
		attribute.Int("skipped", report.Skipped),
		attribute.Int("canceled", report.Canceled))
	return report
}

func (p *Pipeline) canceled(ctx context.Context, item model.SourceItem) Result {
	err := context.Cause(ctx)
	p.count(ctx, StatusCanceled)
	return Result{SourceID: item.SourceID, Status: StatusCanceled, Err: err, Error: err.Error()}
}

func (p *Pipeline) count(ctx context.Context, status Status) {
	if p.items == nil {
		return
	}
	p.items.Add(context.WithoutCancel(ctx), 1, metric.WithAttributes(attribute.String("status", string(status))))
}
