package embeddings

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func cosine(a, b []float32) float64 {
	var dot float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
	}
	return dot
}

func TestHashingProvider(t *testing.T) {
	ctx := context.Background()
	p := NewHashingProvider(0)
	assert.Equal(t, DefaultHashingDimension, p.Dimension())

	vs, err := p.EmbedDocuments(ctx, []string{
		"Advisor equity grant of 15,000 restricted shares",
		"advisor EQUITY grant, 15,000 restricted shares!",
		"Office lease for the Palo Alto building",
	})
	require.NoError(t, err)

	for _, v := range vs {
		var norm float64
		for _, x := range v {
			norm += float64(x) * float64(x)
		}
		assert.InDelta(t, 1.0, math.Sqrt(norm), 1e-5)
	}
	assert.InDelta(t, 1.0, cosine(vs[0], vs[1]), 1e-5, "case and punctuation are ignored")
	assert.Greater(t, cosine(vs[0], vs[1]), cosine(vs[0], vs[2]))

	q, err := p.EmbedQuery(ctx, "Advisor equity grant of 15,000 restricted shares")
	require.NoError(t, err)
	assert.Equal(t, vs[0], q)
}

func TestHashingProvider_Errors(t *testing.T) {
	p := NewHashingProvider(8)
	_, err := p.EmbedDocuments(context.Background(), nil)
	assert.ErrorIs(t, err, ErrEmptyInput)
	_, err = p.EmbedQuery(context.Background(), "   ")
	assert.ErrorIs(t, err, ErrEmptyInput)

	v, err := p.EmbedQuery(context.Background(), "!!!")
	require.NoError(t, err)
	assert.False(t, isZero(v), "punctuation-only text still embeds")
}

func TestNewProvider(t *testing.T) {
	p, err := NewProvider(ProviderConfig{Provider: "hashing"})
	require.NoError(t, err)
	assert.Equal(t, DefaultHashingDimension, p.Dimension())

	p, err = NewProvider(ProviderConfig{Provider: "hashing", Dimension: 64})
	require.NoError(t, err)
	assert.Equal(t, 64, p.Dimension())

	_, err = NewProvider(ProviderConfig{Provider: "tei"})
	assert.ErrorIs(t, err, ErrInvalidConfig)

	_, err = NewProvider(ProviderConfig{Provider: "bogus"})
	assert.ErrorIs(t, err, ErrInvalidConfig)

	_, err = NewProvider(ProviderConfig{Provider: "openai"})
	assert.ErrorIs(t, err, ErrInvalidConfig, "api key required without a base URL")
}

func TestDimensionForModel(t *testing.T) {
	tests := []struct {
		model string
		want  int
	}{
		{"text-embedding-3-small", 1536},
		{"text-embedding-3-large", 3072},
		{"BAAI/bge-small-en-v1.5", 384},
		{"BAAI/bge-base-en-v1.5", 768},
		{"unknown", 0},
	}
	for _, tt := range tests {
		t.Run(tt.model, func(t *testing.T) {
			assert.Equal(t, tt.want, DimensionForModel(tt.model))
		})
	}
}
