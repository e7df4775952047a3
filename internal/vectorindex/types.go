package vectorindex

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/fyrsmithlabs/lexrag/internal/model"
)

const (
	// DefaultTopK is used when a search asks for topK <= 0.
	DefaultTopK = 5
	// DefaultMaxTopK caps topK.
	DefaultMaxTopK = 50
)

var (
	// ErrInvalidConfig is returned for unusable index settings.
	ErrInvalidConfig = errors.New("invalid vector index configuration")

	// ErrClosed is returned by handles of a closed provider.
	ErrClosed = errors.New("vector index closed")
)

// Metadata is stored with every vector.
type Metadata struct {
	ClientID   string
	SourceID   string
	SourceType model.SourceType
	Title      string
	Sender     string
	ChunkIndex int
	Start      int
	End        int
	Timestamp  time.Time
	Text       string
}

// Entry is one chunk vector with its metadata.
type Entry struct {
	ChunkID  string
	Vector   []float32
	Metadata Metadata
}

// Hit is a search result.
type Hit struct {
	ChunkID  string
	Score    float32
	Metadata Metadata
}

// Filter restricts a search. Zero fields match everything.
type Filter struct {
	SourceType model.SourceType
	SourceID   string
}

// Matches reports whether md passes the filter.
func (f *Filter) Matches(md Metadata) bool {
	if f == nil {
		return true
	}
	if f.SourceType != "" && md.SourceType != f.SourceType {
		return false
	}
	if f.SourceID != "" && md.SourceID != f.SourceID {
		return false
	}
	return true
}

func (f *Filter) where() map[string]string {
	if f == nil {
		return nil
	}
	w := map[string]string{}
	if f.SourceType != "" {
		w[keySourceType] = string(f.SourceType)
	}
	if f.SourceID != "" {
		w[keySourceID] = f.SourceID
	}
	if len(w) == 0 {
		return nil
	}
	return w
}

// Handle is one client's index.
type Handle interface {
	// ClientID returns the owning client.
	ClientID() string
	// Dimension returns the index dimension, or 0 while empty.
	Dimension() int
	// Upsert adds or replaces entries by chunk ID.
	Upsert(ctx context.Context, entries []Entry) error
	// Replace atomically swaps all entries of sourceID for entries.
	Replace(ctx context.Context, sourceID string, entries []Entry) error
	// DeleteSource removes all entries of sourceID and returns how many were removed.
	DeleteSource(ctx context.Context, sourceID string) (int, error)
	// Search returns up to topK hits ranked by cosine similarity.
	Search(ctx context.Context, vector []float32, topK int, filter *Filter) ([]Hit, error)
	// Count returns the number of entries.
	Count(ctx context.Context) (int, error)
	// Health returns model.ErrIndexCorrupt while the index is corrupt.
	Health() error
	// Repair drops and recreates the index, clearing a corrupt state.
	Repair(ctx context.Context) error
}

// Manifest records the identity of a physical index.
type Manifest struct {
	ClientID  string    `json:"client_id"`
	Dimension int       `json:"dimension"`
	CreatedAt time.Time `json:"created_at"`
}

// Namespace is the physical index of one client, as implemented by a backend.
// Namespaces are not safe for concurrent writes; the Handle serializes them.
type Namespace interface {
	// Manifest returns the recorded manifest, found=false for a fresh namespace.
	Manifest(ctx context.Context) (m Manifest, found bool, err error)
	// WriteManifest records m.
	WriteManifest(ctx context.Context, m Manifest) error
	Upsert(ctx context.Context, entries []Entry) error
	DeleteSource(ctx context.Context, sourceID string) (int, error)
	// Search returns candidate hits for the best n, in any order. Backends may
	// return more than n so ties at the cut are ranked deterministically.
	Search(ctx context.Context, vector []float32, n int, filter *Filter) ([]Hit, error)
	Count(ctx context.Context) (int, error)
	Close() error
}

// Backend creates and drops namespaces.
type Backend interface {
	// Name identifies the backend in logs and metrics.
	Name() string
	// Open opens or creates the namespace named name.
	Open(ctx context.Context, name string) (Namespace, error)
	// Drop removes the namespace named name. Dropping a missing namespace is not an error.
	Drop(ctx context.Context, name string) error
	Close() error
}

// Metadata keys shared by the backends.
const (
	keyClientID   = "client_id"
	keySourceID   = "source_id"
	keySourceType = "source_type"
	keyTitle      = "title"
	keySender     = "sender"
	keyChunkIndex = "chunk_index"
	keyStart      = "start"
	keyEnd        = "end"
	keyTimestamp  = "timestamp"
	keyChunkID    = "chunk_id"
	keyText       = "text"
)

func (md Metadata) strings() map[string]string {
	m := map[string]string{
		keyClientID:   md.ClientID,
		keySourceID:   md.SourceID,
		keySourceType: string(md.SourceType),
		keyTitle:      md.Title,
		keySender:     md.Sender,
		keyChunkIndex: strconv.Itoa(md.ChunkIndex),
		keyStart:      strconv.Itoa(md.Start),
		keyEnd:        strconv.Itoa(md.End),
	}
	if !md.Timestamp.IsZero() {
		m[keyTimestamp] = md.Timestamp.UTC().Format(time.RFC3339Nano)
	}
	return m
}

func metadataFromStrings(m map[string]string, text string) (Metadata, error) {
	md := Metadata{
		ClientID:   m[keyClientID],
		SourceID:   m[keySourceID],
		SourceType: model.SourceType(m[keySourceType]),
		Title:      m[keyTitle],
		Sender:     m[keySender],
		Text:       text,
	}
	var err error
	if md.ChunkIndex, err = atoi(m, keyChunkIndex); err != nil {
		return md, err
	}
	if md.Start, err = atoi(m, keyStart); err != nil {
		return md, err
	}
	if md.End, err = atoi(m, keyEnd); err != nil {
		return md, err
	}
	if ts := m[keyTimestamp]; ts != "" {
		if md.Timestamp, err = time.Parse(time.RFC3339Nano, ts); err != nil {
			return md, fmt.Errorf("metadata %s: %w", keyTimestamp, err)
		}
	}
	return md, nil
}

func atoi(m map[string]string, key string) (int, error) {
	v, ok := m[key]
	if !ok || v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("metadata %s: %w", key, err)
	}
	return n, nil
}
