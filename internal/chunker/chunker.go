// Package chunker splits normalized source text into overlapping passages.
//
// Splitting is a pure function of (text, Config): the same input always yields
// the same boundaries. Offsets are rune offsets into the input text.
package chunker

import (
	"errors"
	"fmt"
	"unicode"

	"github.com/fyrsmithlabs/lexrag/internal/model"
)

// Defaults for Config.
const (
	DefaultChunkSize         = 1000
	DefaultOverlap           = 200
	DefaultMinChunkSize      = 100
	DefaultBoundaryTolerance = 100
)

// ErrInvalidConfig is returned when a Config cannot produce a valid split.
var ErrInvalidConfig = errors.New("invalid chunker config")

// Config controls chunk boundaries.
type Config struct {
	// ChunkSize is the target chunk length in characters.
	ChunkSize int

	// Overlap is the number of characters shared by consecutive chunks.
	Overlap int

	// MinChunkSize is the smallest trailing fragment emitted on its own.
	// Shorter trailing content is merged into the previous chunk.
	MinChunkSize int

	// BoundaryTolerance is how far back from the hard cut the chunker looks
	// for a paragraph, sentence or word boundary.
	BoundaryTolerance int
}

// DefaultConfig returns the default split: 1000-character chunks sharing
// 200 characters, tails under 100 merged, boundaries searched 100 back.
func DefaultConfig() Config {
	return Config{
		ChunkSize:         DefaultChunkSize,
		Overlap:           DefaultOverlap,
		MinChunkSize:      DefaultMinChunkSize,
		BoundaryTolerance: DefaultBoundaryTolerance,
	}
}

// Validate checks the config for consistency.
func (c Config) Validate() error {
	if c.ChunkSize <= 0 {
		return fmt.Errorf("%w: chunk_size must be positive, got %d", ErrInvalidConfig, c.ChunkSize)
	}
	if c.Overlap < 0 || c.Overlap >= c.ChunkSize {
		return fmt.Errorf("%w: overlap must be in [0, chunk_size), got %d", ErrInvalidConfig, c.Overlap)
	}
	if c.MinChunkSize < 0 || c.MinChunkSize > c.ChunkSize {
		return fmt.Errorf("%w: min_chunk_size must be in [0, chunk_size], got %d", ErrInvalidConfig, c.MinChunkSize)
	}
	if c.BoundaryTolerance < 0 || c.BoundaryTolerance >= c.ChunkSize-c.Overlap {
		return fmt.Errorf("%w: boundary_tolerance must be in [0, chunk_size-overlap), got %d", ErrInvalidConfig, c.BoundaryTolerance)
	}
	return nil
}

// Chunker splits text with a fixed Config.
type Chunker struct {
	cfg Config
}

// New creates a Chunker. The zero Config selects DefaultConfig; any other
// Config is used as given, so a zero Overlap, MinChunkSize or
// BoundaryTolerance disables that behavior.
func New(cfg Config) (*Chunker, error) {
	if cfg == (Config{}) {
		cfg = DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Chunker{cfg: cfg}, nil
}

// Config returns the effective configuration.
func (c *Chunker) Config() Config {
	return c.cfg
}

// Chunk splits text into ordered chunks. Only Index, Start, End and Text are
// populated; callers attach identity. Empty text yields no chunks.
func (c *Chunker) Chunk(text string) []model.Chunk {
	runes := []rune(text)
	n := len(runes)
	if n == 0 {
		return nil
	}

	size, overlap := c.cfg.ChunkSize, c.cfg.Overlap
	chunks := make([]model.Chunk, 0, n/(size-overlap)+1)

	emit := func(start, end int) {
		chunks = append(chunks, model.Chunk{
			Index: len(chunks),
			Start: start,
			End:   end,
			Text:  string(runes[start:end]),
		})
	}

	start := 0
	for start < n {
		end := start + size
		if end >= n {
			emit(start, n)
			break
		}

		end = c.boundary(runes, start, end)

		// Trailing fragment too small to stand alone: fold it in.
		if n-end < c.cfg.MinChunkSize {
			emit(start, n)
			break
		}

		emit(start, end)
		start = end - overlap
	}

	return chunks
}

// boundary picks the cut position for a window [start, hard).
// Preference: paragraph break, sentence end, whitespace, hard cut.
func (c *Chunker) boundary(runes []rune, start, hard int) int {
	lo := hard - c.cfg.BoundaryTolerance
	// Keep enough room so the next window still advances.
	if floor := start + c.cfg.Overlap + 1; lo < floor {
		lo = floor
	}
	if lo >= hard {
		return hard
	}

	for p := hard; p >= lo; p-- {
		if p >= 2 && runes[p-1] == '\n' && runes[p-2] == '\n' {
			return p
		}
	}
	for p := hard; p >= lo; p-- {
		if isSentenceEnd(runes[p-1]) && unicode.IsSpace(runes[p]) {
			return p
		}
	}
	for p := hard; p >= lo; p-- {
		if unicode.IsSpace(runes[p-1]) {
			return p
		}
	}
	return hard
}

func isSentenceEnd(r rune) bool {
	switch r {
	case '.', '!', '?', ';':
		return true
	}
	return false
}
