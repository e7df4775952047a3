package embeddings

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/lexrag/internal/model"
)

func TestTEIProvider(t *testing.T) {
	status := http.StatusOK
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/embed", r.URL.Path)
		if status != http.StatusOK {
			w.WriteHeader(status)
			return
		}
		var req struct {
			Inputs interface{} `json:"inputs"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		n := 1
		if list, ok := req.Inputs.([]interface{}); ok {
			n = len(list)
		}
		out := make([][]float32, n)
		for i := range out {
			out[i] = []float32{1, float32(i)}
		}
		_ = json.NewEncoder(w).Encode(out)
	}))
	defer srv.Close()

	p, err := NewTEIProvider(srv.URL, "bge", 2)
	require.NoError(t, err)
	defer p.Close()

	vs, err := p.EmbedDocuments(context.Background(), []string{"a", "b", "c"})
	require.NoError(t, err)
	assert.Len(t, vs, 3)

	v, err := p.EmbedQuery(context.Background(), "q")
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 0}, v)

	status = http.StatusServiceUnavailable
	_, err = p.EmbedQuery(context.Background(), "q")
	assert.ErrorIs(t, err, model.ErrEmbeddingUnavailable)
	assert.False(t, model.IsPermanent(err))

	status = http.StatusBadRequest
	_, err = p.EmbedQuery(context.Background(), "q")
	assert.ErrorIs(t, err, model.ErrEmbeddingUnavailable)
	assert.True(t, model.IsPermanent(err))
}
