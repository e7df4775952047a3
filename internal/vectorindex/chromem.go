package vectorindex

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	chromem "github.com/philippgille/chromem-go"
	"go.uber.org/zap"
)

const (
	chromemCollection = "chunks"
	manifestFile      = "manifest.json"
)

// ChromemConfig configures the chromem-go backend.
type ChromemConfig struct {
	// Path is the root directory; every client gets <Path>/<namespace>/.
	// Empty keeps all indexes in memory.
	Path string

	// Compress enables gzip compression of persisted documents.
	Compress bool
}

// ChromemBackend keeps one chromem.DB per client namespace.
type ChromemBackend struct {
	cfg    ChromemConfig
	logger *zap.Logger

	mu     sync.Mutex
	memory map[string]*chromemNamespace // in-memory mode only
}

// NewChromemBackend creates the backend, creating Path if needed.
func NewChromemBackend(cfg ChromemConfig, logger *zap.Logger) (*ChromemBackend, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Path != "" {
		path, err := expandPath(cfg.Path)
		if err != nil {
			return nil, err
		}
		if err := os.MkdirAll(path, 0o700); err != nil {
			return nil, fmt.Errorf("creating directory %s: %w", path, err)
		}
		cfg.Path = path
	}
	logger.Info("chromem vector index initialized",
		zap.String("path", cfg.Path),
		zap.Bool("persistent", cfg.Path != ""),
		zap.Bool("compress", cfg.Compress))

	return &ChromemBackend{
		cfg:    cfg,
		logger: logger,
		memory: make(map[string]*chromemNamespace),
	}, nil
}

func expandPath(path string) (string, error) {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("getting home directory: %w", err)
		}
		path = filepath.Join(home, path[2:])
	}
	return filepath.Clean(path), nil
}

func (b *ChromemBackend) Name() string { return "chromem" }

func (b *ChromemBackend) Open(ctx context.Context, name string) (Namespace, error) {
	if b.cfg.Path == "" {
		b.mu.Lock()
		defer b.mu.Unlock()
		if ns, ok := b.memory[name]; ok {
			return ns, nil
		}
		ns, err := newChromemNamespace(chromem.NewDB(), "")
		if err != nil {
			return nil, err
		}
		b.memory[name] = ns
		return ns, nil
	}

	dir := filepath.Join(b.cfg.Path, name)
	if err := os.MkdirAll(filepath.Join(dir, "db"), 0o700); err != nil {
		return nil, fmt.Errorf("creating directory %s: %w", dir, err)
	}
	db, err := chromem.NewPersistentDB(filepath.Join(dir, "db"), b.cfg.Compress)
	if err != nil {
		return nil, fmt.Errorf("opening chromem DB at %s: %w", dir, err)
	}
	return newChromemNamespace(db, dir)
}

func (b *ChromemBackend) Drop(ctx context.Context, name string) error {
	if b.cfg.Path == "" {
		b.mu.Lock()
		delete(b.memory, name)
		b.mu.Unlock()
		return nil
	}
	if err := os.RemoveAll(filepath.Join(b.cfg.Path, name)); err != nil {
		return fmt.Errorf("removing %s: %w", name, err)
	}
	return nil
}

func (b *ChromemBackend) Close() error {
	b.logger.Info("chromem vector index closed")
	return nil
}

// chromemNamespace is one client's chromem database.
type chromemNamespace struct {
	db         *chromem.DB
	collection *chromem.Collection
	dir        string // empty in memory mode

	manifest *Manifest // in-memory mode, or cache of the manifest file
}

// Vectors are always supplied by the embedding client; chromem must never
// call its default embedding function.
func noEmbedding(context.Context, string) ([]float32, error) {
	return nil, errors.New("vectorindex: documents must carry precomputed embeddings")
}

func newChromemNamespace(db *chromem.DB, dir string) (*chromemNamespace, error) {
	col, err := db.GetOrCreateCollection(chromemCollection, nil, noEmbedding)
	if err != nil {
		return nil, fmt.Errorf("getting collection: %w", err)
	}
	return &chromemNamespace{db: db, collection: col, dir: dir}, nil
}

func (n *chromemNamespace) Manifest(ctx context.Context) (Manifest, bool, error) {
	if n.manifest != nil {
		return *n.manifest, true, nil
	}
	if n.dir == "" {
		return Manifest{}, false, nil
	}
	data, err := os.ReadFile(filepath.Join(n.dir, manifestFile))
	if errors.Is(err, os.ErrNotExist) {
		return Manifest{}, false, nil
	}
	if err != nil {
		return Manifest{}, false, fmt.Errorf("reading manifest: %w", err)
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return Manifest{}, false, fmt.Errorf("parsing manifest: %w", err)
	}
	n.manifest = &m
	return m, true, nil
}

func (n *chromemNamespace) WriteManifest(ctx context.Context, m Manifest) error {
	if n.dir != "" {
		data, err := json.MarshalIndent(m, "", "  ")
		if err != nil {
			return err
		}
		tmp := filepath.Join(n.dir, manifestFile+".tmp")
		if err := os.WriteFile(tmp, data, 0o600); err != nil {
			return fmt.Errorf("writing manifest: %w", err)
		}
		if err := os.Rename(tmp, filepath.Join(n.dir, manifestFile)); err != nil {
			return fmt.Errorf("writing manifest: %w", err)
		}
	}
	n.manifest = &m
	return nil
}

func (n *chromemNamespace) Upsert(ctx context.Context, entries []Entry) error {
	docs := make([]chromem.Document, len(entries))
	for i, e := range entries {
		md := e.Metadata.strings()
		md[keyChunkID] = e.ChunkID
		docs[i] = chromem.Document{
			ID:        e.ChunkID,
			Metadata:  md,
			Embedding: e.Vector,
			Content:   e.Metadata.Text,
		}
	}
	// Embeddings are precomputed, so concurrency 1 avoids needless goroutines.
	return n.collection.AddDocuments(ctx, docs, 1)
}

func (n *chromemNamespace) DeleteSource(ctx context.Context, sourceID string) (int, error) {
	before := n.collection.Count()
	if before == 0 {
		return 0, nil
	}
	if err := n.collection.Delete(ctx, map[string]string{keySourceID: sourceID}, nil); err != nil {
		return 0, err
	}
	return before - n.collection.Count(), nil
}

func (n *chromemNamespace) Search(ctx context.Context, vector []float32, limit int, filter *Filter) ([]Hit, error) {
	count := n.collection.Count()
	if count == 0 {
		return nil, nil
	}
	// Exhaustive in memory: return every candidate so ties at the cut are ranked by the handle.
	results, err := n.collection.QueryEmbedding(ctx, vector, count, filter.where(), nil)
	if err != nil {
		return nil, err
	}

	hits := make([]Hit, 0, len(results))
	for _, r := range results {
		md, err := metadataFromStrings(r.Metadata, r.Content)
		if err != nil {
			return nil, fmt.Errorf("document %s: %w", r.ID, err)
		}
		hits = append(hits, Hit{ChunkID: r.ID, Score: r.Similarity, Metadata: md})
	}
	return hits, nil
}

func (n *chromemNamespace) Count(ctx context.Context) (int, error) {
	return n.collection.Count(), nil
}

// Close is a no-op: chromem persists every write immediately.
func (n *chromemNamespace) Close() error { return nil }
