package vectorindex

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/lexrag/internal/model"
)

var tracer = otel.Tracer("lexrag.vectorindex")

// handle enforces the index invariants on top of a Namespace.
type handle struct {
	clientID string
	name     string
	backend  Backend
	logger   *zap.Logger
	topK     int
	maxTopK  int

	mu        sync.RWMutex // guards ns, dimension
	ns        Namespace
	dimension int

	stateMu sync.Mutex
	corrupt error
	closed  bool
}

// openHandle loads or initializes the manifest of the namespace.
func openHandle(ctx context.Context, backend Backend, clientID, name string, topK, maxTopK int, logger *zap.Logger) (*handle, error) {
	h := &handle{
		clientID: clientID,
		name:     name,
		backend:  backend,
		logger:   logger,
		topK:     topK,
		maxTopK:  maxTopK,
	}
	if err := h.load(ctx); err != nil {
		return nil, err
	}
	return h, nil
}

func (h *handle) load(ctx context.Context) error {
	ns, err := h.backend.Open(ctx, h.name)
	if err != nil {
		return fmt.Errorf("opening namespace %s: %w", h.name, err)
	}
	m, found, err := ns.Manifest(ctx)
	if err != nil {
		_ = ns.Close()
		return fmt.Errorf("reading manifest of %s: %w", h.name, err)
	}

	h.ns = ns
	h.dimension = 0
	if !found {
		return nil
	}
	h.dimension = m.Dimension
	if m.ClientID != "" && m.ClientID != h.clientID {
		h.markCorrupt(fmt.Errorf("%w: namespace %s belongs to client %q", model.ErrIndexCorrupt, h.name, m.ClientID))
	}
	return nil
}

func (h *handle) ClientID() string { return h.clientID }

func (h *handle) Dimension() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.dimension
}

func (h *handle) Health() error {
	h.stateMu.Lock()
	defer h.stateMu.Unlock()
	if h.closed {
		return ErrClosed
	}
	return h.corrupt
}

func (h *handle) markCorrupt(err error) {
	h.stateMu.Lock()
	first := h.corrupt == nil
	if first {
		h.corrupt = err
	}
	h.stateMu.Unlock()
	if first {
		corruptDetected.WithLabelValues(h.backend.Name()).Inc()
		h.logger.Error("vector index marked corrupt",
			zap.String("client.id", h.clientID),
			zap.String("namespace", h.name),
			zap.Error(err))
	}
}

func (h *handle) Upsert(ctx context.Context, entries []Entry) error {
	ctx, span := h.start(ctx, "Upsert", attribute.Int("entries", len(entries)))
	defer span.End()
	defer observe("upsert", h.backend.Name(), time.Now())

	if len(entries) == 0 {
		return nil
	}
	h.mu.Lock()
	defer h.mu.Unlock()

	if err := h.prepareWrite(ctx, entries); err != nil {
		return record(span, err)
	}
	if err := h.ns.Upsert(ctx, entries); err != nil {
		return record(span, fmt.Errorf("upserting into %s: %w", h.name, err))
	}
	return nil
}

func (h *handle) Replace(ctx context.Context, sourceID string, entries []Entry) error {
	ctx, span := h.start(ctx, "Replace",
		attribute.String("source.id", sourceID),
		attribute.Int("entries", len(entries)))
	defer span.End()
	defer observe("replace", h.backend.Name(), time.Now())

	for _, e := range entries {
		if e.Metadata.SourceID != sourceID {
			return record(span, fmt.Errorf("replace %s: entry %s belongs to source %q", sourceID, e.ChunkID, e.Metadata.SourceID))
		}
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if err := h.prepareWrite(ctx, entries); err != nil {
		return record(span, err)
	}
	if _, err := h.ns.DeleteSource(ctx, sourceID); err != nil {
		return record(span, fmt.Errorf("removing source %s from %s: %w", sourceID, h.name, err))
	}
	if len(entries) == 0 {
		return nil
	}
	if err := h.ns.Upsert(ctx, entries); err != nil {
		return record(span, fmt.Errorf("upserting into %s: %w", h.name, err))
	}
	return nil
}

// prepareWrite validates entries and fixes the dimension on first write.
// Callers hold the write lock.
func (h *handle) prepareWrite(ctx context.Context, entries []Entry) error {
	if err := h.Health(); err != nil {
		return err
	}
	if len(entries) == 0 {
		return nil
	}
	for i := range entries {
		e := &entries[i]
		if e.ChunkID == "" {
			return fmt.Errorf("entry %d: empty chunk ID", i)
		}
		if e.Metadata.ClientID == "" {
			e.Metadata.ClientID = h.clientID
		}
		if e.Metadata.ClientID != h.clientID {
			return fmt.Errorf("%w: entry %s belongs to client %q, index to %q",
				model.ErrIndexCorrupt, e.ChunkID, e.Metadata.ClientID, h.clientID)
		}
	}

	dim := h.dimension
	if dim == 0 {
		dim = len(entries[0].Vector)
	}
	for _, e := range entries {
		if len(e.Vector) != dim || dim == 0 {
			err := fmt.Errorf("%w: entry %s has dimension %d, index %s has %d",
				model.ErrIndexCorrupt, e.ChunkID, len(e.Vector), h.name, dim)
			if h.dimension != 0 {
				h.markCorrupt(err)
			}
			return err
		}
	}

	if h.dimension == 0 {
		if err := h.ns.WriteManifest(ctx, Manifest{ClientID: h.clientID, Dimension: dim, CreatedAt: time.Now().UTC()}); err != nil {
			return fmt.Errorf("writing manifest of %s: %w", h.name, err)
		}
		h.dimension = dim
	}
	return nil
}

func (h *handle) DeleteSource(ctx context.Context, sourceID string) (int, error) {
	ctx, span := h.start(ctx, "DeleteSource", attribute.String("source.id", sourceID))
	defer span.End()
	defer observe("delete_source", h.backend.Name(), time.Now())

	if err := h.Health(); err != nil {
		return 0, record(span, err)
	}
	h.mu.Lock()
	defer h.mu.Unlock()

	n, err := h.ns.DeleteSource(ctx, sourceID)
	if err != nil {
		return 0, record(span, fmt.Errorf("removing source %s from %s: %w", sourceID, h.name, err))
	}
	return n, nil
}

func (h *handle) Search(ctx context.Context, vector []float32, topK int, filter *Filter) ([]Hit, error) {
	ctx, span := h.start(ctx, "Search", attribute.Int("top_k", topK))
	defer span.End()
	defer observe("search", h.backend.Name(), time.Now())

	if err := h.Health(); err != nil {
		return nil, record(span, err)
	}
	n := h.clamp(topK)

	h.mu.RLock()
	defer h.mu.RUnlock()

	count, err := h.ns.Count(ctx)
	if err != nil {
		return nil, record(span, fmt.Errorf("counting %s: %w", h.name, err))
	}
	if count == 0 || h.dimension == 0 {
		return []Hit{}, nil
	}
	if len(vector) != h.dimension {
		err := fmt.Errorf("%w: query has dimension %d, index %s has %d",
			model.ErrIndexCorrupt, len(vector), h.name, h.dimension)
		h.markCorrupt(err)
		return nil, record(span, err)
	}

	hits, err := h.ns.Search(ctx, vector, min(n, count), filter)
	if err != nil {
		return nil, record(span, fmt.Errorf("searching %s: %w", h.name, err))
	}

	out := hits[:0]
	for _, hit := range hits {
		if hit.Metadata.ClientID != h.clientID {
			err := fmt.Errorf("%w: hit %s in namespace %s belongs to client %q",
				model.ErrIndexCorrupt, hit.ChunkID, h.name, hit.Metadata.ClientID)
			h.markCorrupt(err)
			return nil, record(span, err)
		}
		if filter.Matches(hit.Metadata) {
			out = append(out, hit)
		}
	}
	SortHits(out)
	if len(out) > n {
		out = out[:n]
	}
	span.SetAttributes(attribute.Int("hits", len(out)))
	return out, nil
}

func (h *handle) Count(ctx context.Context) (int, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.ns.Count(ctx)
}

func (h *handle) Repair(ctx context.Context) error {
	ctx, span := h.start(ctx, "Repair")
	defer span.End()

	h.mu.Lock()
	defer h.mu.Unlock()

	_ = h.ns.Close()
	if err := h.backend.Drop(ctx, h.name); err != nil {
		return record(span, fmt.Errorf("dropping %s: %w", h.name, err))
	}
	if err := h.load(ctx); err != nil {
		return record(span, err)
	}

	h.stateMu.Lock()
	h.corrupt = nil
	h.stateMu.Unlock()
	h.logger.Info("vector index repaired", zap.String("client.id", h.clientID), zap.String("namespace", h.name))
	return nil
}

func (h *handle) close() error {
	h.stateMu.Lock()
	h.closed = true
	h.stateMu.Unlock()

	h.mu.Lock()
	defer h.mu.Unlock()
	return h.ns.Close()
}

func (h *handle) clamp(topK int) int {
	if topK <= 0 {
		topK = h.topK
	}
	if topK > h.maxTopK {
		topK = h.maxTopK
	}
	return topK
}

func (h *handle) start(ctx context.Context, op string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	ctx, span := tracer.Start(ctx, "vectorindex."+op)
	span.SetAttributes(append(attrs,
		attribute.String("client.id", h.clientID),
		attribute.String("backend", h.backend.Name()))...)
	return ctx, span
}

func record(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}

// SortHits orders hits by score descending, then chunk index, source
// timestamp and chunk ID ascending.
func SortHits(hits []Hit) {
	sort.SliceStable(hits, func(i, j int) bool {
		a, b := hits[i], hits[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if a.Metadata.ChunkIndex != b.Metadata.ChunkIndex {
			return a.Metadata.ChunkIndex < b.Metadata.ChunkIndex
		}
		if !a.Metadata.Timestamp.Equal(b.Metadata.Timestamp) {
			return a.Metadata.Timestamp.Before(b.Metadata.Timestamp)
		}
		return a.ChunkID < b.ChunkID
	})
}
