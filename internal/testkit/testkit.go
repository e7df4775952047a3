// Package testkit wires the leaf components of the pipeline for tests:
// a deterministic hashing embedder, in-memory chromem indexes and the
// in-memory store.
package testkit

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/lexrag/internal/chunker"
	"github.com/fyrsmithlabs/lexrag/internal/embeddings"
	"github.com/fyrsmithlabs/lexrag/internal/model"
	"github.com/fyrsmithlabs/lexrag/internal/retry"
	"github.com/fyrsmithlabs/lexrag/internal/storage"
	"github.com/fyrsmithlabs/lexrag/internal/vectorindex"
)

// Env is a set of wired components backed by memory.
type Env struct {
	Provider   embeddings.Provider
	Embeddings *embeddings.Client
	Indexes    *vectorindex.Provider
	Store      *storage.Memory
	Chunker    *chunker.Chunker
}

type options struct {
	provider embeddings.Provider
	chunk    chunker.Config
	index    vectorindex.Config
}

// Option customizes New.
type Option func(*options)

// WithProvider replaces the hashing embedder.
func WithProvider(p embeddings.Provider) Option {
	return func(o *options) { o.provider = p }
}

// WithChunker sets the chunker config.
func WithChunker(cfg chunker.Config) Option {
	return func(o *options) { o.chunk = cfg }
}

// WithIndex sets the vector index config.
func WithIndex(cfg vectorindex.Config) Option {
	return func(o *options) { o.index = cfg }
}

// New builds an Env and closes it when the test ends.
func New(t testing.TB, opts ...Option) *Env {
	t.Helper()
	o := options{provider: embeddings.NewHashingProvider(0)}
	for _, opt := range opts {
		opt(&o)
	}

	client, err := embeddings.NewClient(o.provider, embeddings.ClientConfig{
		Model: "hashing",
		Retry: NoWait(retry.EmbeddingDefault()),
	}, nil)
	require.NoError(t, err)

	backend, err := vectorindex.NewChromemBackend(vectorindex.ChromemConfig{}, nil)
	require.NoError(t, err)
	indexes, err := vectorindex.NewProvider(backend, o.index, nil)
	require.NoError(t, err)

	ch, err := chunker.New(o.chunk)
	require.NoError(t, err)

	env := &Env{
		Provider:   o.provider,
		Embeddings: client,
		Indexes:    indexes,
		Store:      storage.NewMemory(),
		Chunker:    ch,
	}
	t.Cleanup(func() {
		_ = indexes.Close()
		_ = client.Close()
	})
	return env
}

// CreateClient registers a client in the store.
func (e *Env) CreateClient(t testing.TB, id string) {
	t.Helper()
	require.NoError(t, e.Store.CreateClient(context.Background(), model.Client{ID: id, Name: id, CreatedAt: time.Now().UTC()}))
}

// NoWait returns p with instant backoff.
func NoWait(p retry.Policy) retry.Policy {
	return p.WithSleep(func(ctx context.Context, _ time.Duration) error { return ctx.Err() })
}

// FlakyProvider fails the first Failures document calls with a retryable
// error, then delegates to the hashing embedder.
type FlakyProvider struct {
	*embeddings.HashingProvider
	Failures int

	mu    sync.Mutex
	calls int
}

// NewFlakyProvider returns a provider failing n times.
func NewFlakyProvider(n int) *FlakyProvider {
	return &FlakyProvider{HashingProvider: embeddings.NewHashingProvider(0), Failures: n}
}

func (p *FlakyProvider) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	p.mu.Lock()
	p.calls++
	fail := p.calls <= p.Failures
	p.mu.Unlock()
	if fail {
		return nil, fmt.Errorf("%w: upstream returned 503", model.ErrEmbeddingUnavailable)
	}
	return p.HashingProvider.EmbedDocuments(ctx, texts)
}

// Calls returns the number of document calls so far.
func (p *FlakyProvider) Calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

// CountingProvider counts calls of the hashing embedder.
type CountingProvider struct {
	*embeddings.HashingProvider

	mu      sync.Mutex
	docs    int
	queries int
}

// NewCountingProvider returns a counting hashing provider.
func NewCountingProvider() *CountingProvider {
	return &CountingProvider{HashingProvider: embeddings.NewHashingProvider(0)}
}

func (p *CountingProvider) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	p.mu.Lock()
	p.docs++
	p.mu.Unlock()
	return p.HashingProvider.EmbedDocuments(ctx, texts)
}

func (p *CountingProvider) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	p.mu.Lock()
	p.queries++
	p.mu.Unlock()
	return p.HashingProvider.EmbedQuery(ctx, text)
}

// Counts returns the document and query call counts.
func (p *CountingProvider) Counts() (docs, queries int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.docs, p.queries
}
