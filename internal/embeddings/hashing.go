package embeddings

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"
	"strings"
	"unicode"
)

// DefaultHashingDimension is the vector length of the hashing provider when unset.
const DefaultHashingDimension = 256

// HashingProvider is a deterministic bag-of-words embedder using the hashing
// trick. It needs no network or model files and is used for offline
// deployments and tests. Similar texts score close; synonyms do not.
type HashingProvider struct {
	dimension int
}

// NewHashingProvider creates a hashing provider. dim <= 0 selects DefaultHashingDimension.
func NewHashingProvider(dim int) *HashingProvider {
	if dim <= 0 {
		dim = DefaultHashingDimension
	}
	return &HashingProvider{dimension: dim}
}

func (p *HashingProvider) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, fmt.Errorf("%w: texts cannot be empty", ErrEmptyInput)
	}
	out := make([][]float32, len(texts))
	for i, text := range texts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		out[i] = p.vector(text)
	}
	return out, nil
}

func (p *HashingProvider) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("%w: text cannot be empty", ErrEmptyInput)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return p.vector(text), nil
}

func (p *HashingProvider) Dimension() int { return p.dimension }

func (p *HashingProvider) Close() error { return nil }

func (p *HashingProvider) vector(text string) []float32 {
	v := make([]float32, p.dimension)
	tokens := tokenize(text)
	if len(tokens) == 0 {
		tokens = []string{text}
	}
	for i, tok := range tokens {
		p.add(v, tok, 1)
		if i > 0 {
			p.add(v, tokens[i-1]+" "+tok, 0.5)
		}
	}
	normalize(v)
	return v
}

func (p *HashingProvider) add(v []float32, feature string, weight float32) {
	h := fnv.New64a()
	_, _ = h.Write([]byte(feature))
	sum := h.Sum64()
	idx := int(sum % uint64(p.dimension))
	if sum&(1<<63) != 0 {
		weight = -weight
	}
	v[idx] += weight
}

func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// normalize scales v to unit length in place. A zero vector is left unchanged.
func normalize(v []float32) {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return
	}
	inv := float32(1 / math.Sqrt(sum))
	for i := range v {
		v[i] *= inv
	}
}

func isZero(v []float32) bool {
	for _, x := range v {
		if x != 0 {
			return false
		}
	}
	return true
}
