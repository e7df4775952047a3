package ingest

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/fyrsmithlabs/lexrag/internal/chunker"
	"github.com/fyrsmithlabs/lexrag/internal/embeddings"
	"github.com/fyrsmithlabs/lexrag/internal/model"
	"github.com/fyrsmithlabs/lexrag/internal/secrets"
	"github.com/fyrsmithlabs/lexrag/internal/telemetry"
	"github.com/fyrsmithlabs/lexrag/internal/testkit"
	"github.com/fyrsmithlabs/lexrag/internal/vectorindex"
)

func newPipeline(t *testing.T, env *testkit.Env, cfg Config) *Pipeline {
	t.Helper()
	p, err := New(Deps{
		Chunker:  env.Chunker,
		Embedder: env.Embeddings,
		Indexes:  env.Indexes,
		Sources:  env.Store,
	}, cfg, nil)
	require.NoError(t, err)
	return p
}

func thread() []model.SourceItem {
	base := time.Date(2025, 7, 14, 9, 0, 0, 0, time.UTC)
	bodies := []string{
		"We'd like to bring on John Smith as an advisor. We're proposing 15,000 restricted stock awards vesting over 24 months.",
		"Thanks Alex. Please confirm the vesting schedule and whether there is a cliff.",
		"Monthly vesting over 24 months, no cliff. The Equity Incentive Plan pool has 1,000,000 shares reserved.",
		"Understood. I'll prepare the board consent and the advisor agreement.",
		"Reminder: John must file an 83(b) election within 30 days of the grant.",
	}
	items := make([]model.SourceItem, len(bodies))
	for i, body := range bodies {
		sender := "alex@founderco.com"
		if i%2 == 1 {
			sender = "legal@lexsy.com"
		}
		items[i] = model.SourceItem{
			SourceID:     fmt.Sprintf("T%d", i+1),
			Type:         model.SourceEmail,
			Title:        "Advisor Equity Grant for Lexsy, Inc.",
			Sender:       sender,
			Participants: []string{"alex@founderco.com", "legal@lexsy.com"},
			Timestamp:    base.Add(time.Duration(i) * time.Hour),
			Text:         body,
		}
	}
	return items
}

func TestNormalize(t *testing.T) {
	tests := []struct {
		name, in, want string
	}{
		{"empty", "", ""},
		{"collapses spaces and tabs", "a  \t b", "a b"},
		{"keeps single newlines", "line one\nline two", "line one\nline two"},
		{"paragraph breaks", "para one\r\n\r\n\r\n\n  para two  ", "para one\n\npara two"},
		{"strips control characters", "a\x00b\x07c\u200bd", "abcd"},
		{"trims", "  \n\n hello \n\n ", "hello"},
		{"non-breaking space", "15,000\u00a0shares", "15,000 shares"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Normalize(tt.in))
			assert.Equal(t, Normalize(tt.want), Normalize(Normalize(tt.in)), "idempotent")
		})
	}
}

func TestShapeEmail(t *testing.T) {
	got := shapeEmail("Grant", "alex@founderco.com", []string{"alex@founderco.com", "legal@lexsy.com"}, "", "body")
	assert.Equal(t, "Subject: Grant\nFrom: alex@founderco.com\nTo: legal@lexsy.com\n\nbody", got)
	assert.Equal(t, "body", shapeEmail("", "", nil, "", "body"))
}

func TestPipeline_IngestThread(t *testing.T) {
	ctx := context.Background()
	env := testkit.New(t)
	env.CreateClient(t, "lexsy")
	p := newPipeline(t, env, Config{})

	report := p.IngestBatch(ctx, "lexsy", thread(), Options{})
	assert.Equal(t, 5, report.Succeeded)
	assert.Zero(t, report.Failed)
	require.Len(t, report.Results, 5)
	for i, r := range report.Results {
		assert.Equal(t, fmt.Sprintf("T%d", i+1), r.SourceID)
		assert.Equal(t, StatusSucceeded, r.Status)
		assert.NotEmpty(t, r.ChunkIDs)
	}

	records, err := env.Store.ListSources(ctx, "lexsy")
	require.NoError(t, err)
	assert.Len(t, records, 5)
	rec, err := env.Store.GetSource(ctx, "lexsy", "T2")
	require.NoError(t, err)
	assert.Equal(t, "legal@lexsy.com", rec.Sender)
	assert.Equal(t, model.SourceEmail, rec.Type)

	h, err := env.Indexes.Open(ctx, "lexsy")
	require.NoError(t, err)
	n, err := h.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 5, n)

	q, err := env.Embeddings.EmbedQuery(ctx, "83(b) election")
	require.NoError(t, err)
	hits, err := h.Search(ctx, q, 1, nil)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "T5", hits[0].Metadata.SourceID)
	assert.Equal(t, model.SourceEmail, hits[0].Metadata.SourceType)
	assert.True(t, strings.HasPrefix(hits[0].Metadata.Text, "Subject: Advisor Equity Grant"))
}

func TestPipeline_SkipAndReindex(t *testing.T) {
	ctx := context.Background()
	env := testkit.New(t, testkit.WithChunker(chunker.Config{ChunkSize: 100, Overlap: 20, MinChunkSize: 10}))
	env.CreateClient(t, "lexsy")
	p := newPipeline(t, env, Config{})

	long := strings.Repeat("The original advisor agreement grants options. ", 8)
	doc := model.SourceItem{SourceID: "agreement", Type: model.SourceDocument, Filename: "agreement.txt", Text: long}

	first, err := p.Ingest(ctx, "lexsy", doc, Options{})
	require.NoError(t, err)
	require.Greater(t, len(first.ChunkIDs), 1)

	again, err := p.Ingest(ctx, "lexsy", doc, Options{})
	require.NoError(t, err)
	assert.Equal(t, StatusSkipped, again.Status)
	assert.Empty(t, again.ChunkIDs)

	doc.Text = "Amended: the advisor receives restricted stock instead."
	re, err := p.Ingest(ctx, "lexsy", doc, Options{Reindex: true})
	require.NoError(t, err)
	assert.Equal(t, StatusSucceeded, re.Status)
	require.Len(t, re.ChunkIDs, 1)
	assert.Equal(t, first.ChunkIDs[0], re.ChunkIDs[0], "chunk IDs are stable per index")

	h, err := env.Indexes.Open(ctx, "lexsy")
	require.NoError(t, err)
	n, _ := h.Count(ctx)
	assert.Equal(t, 1, n, "stale chunks removed")

	q, err := env.Embeddings.EmbedQuery(ctx, "original advisor agreement options")
	require.NoError(t, err)
	hits, err := h.Search(ctx, q, 10, nil)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Contains(t, hits[0].Metadata.Text, "Amended")

	rec, err := env.Store.GetSource(ctx, "lexsy", "agreement")
	require.NoError(t, err)
	assert.Equal(t, 1, rec.ChunkCount)
	assert.Equal(t, "agreement.txt", rec.Title)
}

func TestPipeline_ExactChunkSizeDocument(t *testing.T) {
	ctx := context.Background()
	env := testkit.New(t)
	env.CreateClient(t, "lexsy")
	p := newPipeline(t, env, Config{})

	text := strings.Repeat("x", chunker.DefaultChunkSize)
	res, err := p.Ingest(ctx, "lexsy", model.SourceItem{SourceID: "exact", Text: text}, Options{})
	require.NoError(t, err)
	require.Len(t, res.ChunkIDs, 1)

	h, err := env.Indexes.Open(ctx, "lexsy")
	require.NoError(t, err)
	q, err := env.Embeddings.EmbedQuery(ctx, text)
	require.NoError(t, err)
	hits, err := h.Search(ctx, q, 1, nil)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, 0, hits[0].Metadata.Start)
	assert.Equal(t, chunker.DefaultChunkSize, hits[0].Metadata.End)
	assert.Equal(t, model.SourceDocument, hits[0].Metadata.SourceType, "type defaults to document")
}

func TestPipeline_EmbeddingFailsTwiceThenSucceeds(t *testing.T) {
	ctx := context.Background()
	flaky := testkit.NewFlakyProvider(2)
	env := testkit.New(t, testkit.WithProvider(flaky))
	env.CreateClient(t, "lexsy")
	p := newPipeline(t, env, Config{})

	report := p.IngestBatch(ctx, "lexsy", thread()[:1], Options{})
	require.Len(t, report.Results, 1)
	assert.Equal(t, StatusSucceeded, report.Results[0].Status)
	assert.Equal(t, 1, report.Succeeded)
	assert.Equal(t, 3, flaky.Calls())
}

func TestPipeline_PartialFailure(t *testing.T) {
	ctx := context.Background()
	env := testkit.New(t)
	env.CreateClient(t, "lexsy")
	p := newPipeline(t, env, Config{MaxParallelEmbeds: 2})

	items := thread()
	items[2].Text = " \n\t "
	items[3].SourceID = ""
	items = append(items, model.SourceItem{SourceID: "bad-type", Type: "fax", Text: "x"})

	report := p.IngestBatch(ctx, "lexsy", items, Options{})
	assert.Equal(t, 3, report.Succeeded)
	assert.Equal(t, 3, report.Failed)
	for _, i := range []int{2, 3, 5} {
		r := report.Results[i]
		assert.Equal(t, StatusFailed, r.Status, "item %d", i)
		assert.ErrorIs(t, r.Err, model.ErrExtractionFailed)
		assert.NotEmpty(t, r.Error)
	}
	_, err := env.Store.GetSource(ctx, "lexsy", "T3")
	assert.ErrorIs(t, err, model.ErrSourceNotFound, "failed items leave no record")
}

func TestPipeline_CorruptIndexFailsBeforeEmbedding(t *testing.T) {
	ctx := context.Background()
	counting := testkit.NewCountingProvider()
	env := testkit.New(t, testkit.WithProvider(counting))
	env.CreateClient(t, "lexsy")
	p := newPipeline(t, env, Config{})

	h, err := env.Indexes.Open(ctx, "lexsy")
	require.NoError(t, err)
	require.NoError(t, h.Upsert(ctx, []vectorindex.Entry{{ChunkID: "seed", Vector: []float32{1, 0}, Metadata: vectorindex.Metadata{SourceID: "seed"}}}))
	// A 3-d write against a 2-d index marks it corrupt.
	require.Error(t, h.Upsert(ctx, []vectorindex.Entry{{ChunkID: "bad", Vector: []float32{1, 0, 0}, Metadata: vectorindex.Metadata{SourceID: "bad"}}}))

	_, err = p.Ingest(ctx, "lexsy", thread()[0], Options{})
	assert.ErrorIs(t, err, model.ErrIndexCorrupt)
	docs, _ := counting.Counts()
	assert.Zero(t, docs)
}

// gateProvider blocks its first call until released.
type gateProvider struct {
	*embeddings.HashingProvider
	once    sync.Once
	started chan struct{}
	release chan struct{}
}

func (g *gateProvider) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	first := false
	g.once.Do(func() { first = true })
	if first {
		close(g.started)
		<-g.release
	}
	return g.HashingProvider.EmbedDocuments(ctx, texts)
}

func TestPipeline_CancelBetweenItems(t *testing.T) {
	gate := &gateProvider{
		HashingProvider: embeddings.NewHashingProvider(0),
		started:         make(chan struct{}),
		release:         make(chan struct{}),
	}
	env := testkit.New(t, testkit.WithProvider(gate))
	env.CreateClient(t, "lexsy")
	p := newPipeline(t, env, Config{MaxParallelEmbeds: 1})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan Report)
	go func() { done <- p.IngestBatch(ctx, "lexsy", thread()[:3], Options{}) }()

	<-gate.started
	cancel()
	close(gate.release)
	report := <-done

	assert.Equal(t, StatusSucceeded, report.Results[0].Status, "the started item finishes")
	assert.Equal(t, StatusCanceled, report.Results[1].Status)
	assert.Equal(t, StatusCanceled, report.Results[2].Status)
	assert.ErrorIs(t, report.Results[1].Err, context.Canceled)
	assert.Equal(t, 1, report.Succeeded)
	assert.Equal(t, 2, report.Canceled)
}

func TestPipeline_ScrubsSecrets(t *testing.T) {
	ctx := context.Background()
	env := testkit.New(t)
	env.CreateClient(t, "lexsy")
	scrubber, err := secrets.New(secrets.Config{Enabled: true})
	require.NoError(t, err)

	p, err := New(Deps{
		Chunker:  env.Chunker,
		Embedder: env.Embeddings,
		Indexes:  env.Indexes,
		Sources:  env.Store,
		Scrubber: scrubber,
	}, Config{}, nil)
	require.NoError(t, err)

	res, err := p.Ingest(ctx, "lexsy", model.SourceItem{
		SourceID: "w9",
		Text:     "Advisor John Smith, SSN 123-45-6789, accepts the grant.",
	}, Options{})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Redactions)

	h, err := env.Indexes.Open(ctx, "lexsy")
	require.NoError(t, err)
	q, err := env.Embeddings.EmbedQuery(ctx, "advisor grant")
	require.NoError(t, err)
	hits, err := h.Search(ctx, q, 1, nil)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.NotContains(t, hits[0].Metadata.Text, "123-45-6789")
	assert.Contains(t, hits[0].Metadata.Text, secrets.DefaultRedaction)
}

func TestNew_RequiresDeps(t *testing.T) {
	_, err := New(Deps{}, Config{}, nil)
	assert.Error(t, err)
}

func TestPipeline_Telemetry(t *testing.T) {
	tel := telemetry.NewTestTelemetry()
	tel.Install(t)

	ctx := context.Background()
	env := testkit.New(t)
	env.CreateClient(t, "lexsy")
	p := newPipeline(t, env, Config{})

	report := p.IngestBatch(ctx, "lexsy", thread()[:2], Options{})
	require.Equal(t, 2, report.Succeeded)

	tel.AssertSpanAttribute(t, "ingest.Batch", "succeeded", int64(2))
	tel.AssertSpanAttribute(t, "ingest.Item", "client.id", "lexsy")

	m, ok := tel.Metric(ctx, "lexrag.ingest.items_total")
	require.True(t, ok)
	sum, ok := m.Data.(metricdata.Sum[int64])
	require.True(t, ok)
	var total int64
	for _, dp := range sum.DataPoints {
		total += dp.Value
	}
	assert.Equal(t, int64(2), total)
}

func TestPipeline_DeletedClientLeavesNoChunks(t *testing.T) {
	ctx := context.Background()
	env := testkit.New(t)
	env.CreateClient(t, "acme")
	require.NoError(t, env.Store.DeleteClient(ctx, "acme"))
	p := newPipeline(t, env, Config{})

	doc := model.SourceItem{SourceID: "secret", Type: model.SourceDocument, Text: "The settlement amount is confidential."}
	res, err := p.Ingest(ctx, "acme", doc, Options{})
	require.ErrorIs(t, err, model.ErrClientNotFound)
	assert.Equal(t, StatusFailed, res.Status)

	env.CreateClient(t, "acme")
	h, err := env.Indexes.Open(ctx, "acme")
	require.NoError(t, err)
	n, err := h.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, n, "chunks of the unrecorded source are removed")

	q, err := env.Embeddings.EmbedQuery(ctx, "settlement amount")
	require.NoError(t, err)
	hits, err := h.Search(ctx, q, 5, nil)
	require.NoError(t, err)
	assert.Empty(t, hits)
}

// failingReplace deletes the old chunks and then fails the write.
type failingReplace struct {
	vectorindex.Handle
}

func (f failingReplace) Replace(ctx context.Context, sourceID string, _ []vectorindex.Entry) error {
	if _, err := f.Handle.DeleteSource(ctx, sourceID); err != nil {
		return err
	}
	return fmt.Errorf("index write rejected")
}

type failingIndexes struct {
	Indexes
}

func (f failingIndexes) Open(ctx context.Context, clientID string) (vectorindex.Handle, error) {
	h, err := f.Indexes.Open(ctx, clientID)
	if err != nil {
		return nil, err
	}
	return failingReplace{h}, nil
}

func TestPipeline_FailedReplaceDropsRecord(t *testing.T) {
	ctx := context.Background()
	env := testkit.New(t)
	env.CreateClient(t, "lexsy")
	doc := model.SourceItem{SourceID: "agreement", Type: model.SourceDocument, Text: "The advisor receives 15,000 shares."}

	_, err := newPipeline(t, env, Config{}).Ingest(ctx, "lexsy", doc, Options{})
	require.NoError(t, err)

	broken, err := New(Deps{
		Chunker:  env.Chunker,
		Embedder: env.Embeddings,
		Indexes:  failingIndexes{env.Indexes},
		Sources:  env.Store,
	}, Config{}, nil)
	require.NoError(t, err)
	doc.Text = "Amended: the advisor receives 20,000 shares."
	res, err := broken.Ingest(ctx, "lexsy", doc, Options{Reindex: true})
	require.Error(t, err)
	assert.Equal(t, StatusFailed, res.Status)

	_, err = env.Store.GetSource(ctx, "lexsy", "agreement")
	require.ErrorIs(t, err, model.ErrSourceNotFound, "a half-replaced source is not recorded")

	again, err := newPipeline(t, env, Config{}).Ingest(ctx, "lexsy", doc, Options{})
	require.NoError(t, err)
	assert.Equal(t, StatusSucceeded, again.Status, "the next plain ingest writes the source again")
}
