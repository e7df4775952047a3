package reranker

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ids(docs []ScoredDocument) []string {
	out := make([]string, len(docs))
	for i, d := range docs {
		out[i] = d.ID
	}
	return out
}

func TestLexicalReranker_Rerank(t *testing.T) {
	tests := []struct {
		name    string
		query   string
		docs    []Document
		topK    int
		wantIDs []string
	}{
		{
			name:    "empty documents",
			query:   "vesting schedule",
			docs:    nil,
			topK:    5,
			wantIDs: []string{},
		},
		{
			name:  "term overlap lifts lower vector score",
			query: "advisor vesting schedule",
			docs: []Document{
				{ID: "board", Content: "board meeting minutes", Score: 0.9},
				{ID: "grant", Content: "The advisor vesting schedule is 24 months.", Score: 0.8},
				{ID: "pool", Content: "vesting under the pool", Score: 0.85},
			},
			wantIDs: []string{"grant", "pool", "board"},
		},
		{
			name:  "topK truncates",
			query: "83(b) election",
			docs: []Document{
				{ID: "a", Content: "file the 83(b) election", Score: 0.5},
				{ID: "b", Content: "unrelated", Score: 0.5},
				{ID: "c", Content: "election deadline", Score: 0.5},
			},
			topK:    2,
			wantIDs: []string{"a", "c"},
		},
		{
			name:  "stopword-only query keeps vector order",
			query: "what is the",
			docs: []Document{
				{ID: "low", Content: "x", Score: 0.2},
				{ID: "high", Content: "y", Score: 0.7},
			},
			wantIDs: []string{"high", "low"},
		},
		{
			name:  "ties keep incoming order",
			query: "shares",
			docs: []Document{
				{ID: "first", Content: "shares", Score: 0.6},
				{ID: "second", Content: "SHARES!", Score: 0.6},
			},
			wantIDs: []string{"first", "second"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NewLexicalReranker(0).Rerank(context.Background(), tt.query, tt.docs, tt.topK)
			require.NoError(t, err)
			assert.Equal(t, tt.wantIDs, ids(got))
		})
	}
}

func TestLexicalReranker_Scores(t *testing.T) {
	r := NewLexicalReranker(0.25)
	got, err := r.Rerank(context.Background(), "restricted stock award", []Document{
		{ID: "d", Content: "restricted stock", Score: 0.8},
	}, 0)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.InDelta(t, 2.0/3.0, got[0].RerankerScore, 1e-6)
	assert.InDelta(t, 0.75*0.8+0.25*(2.0/3.0), got[0].Combined, 1e-6)
	assert.Equal(t, 0, got[0].OriginalRank)
	assert.NoError(t, r.Close())
}

func TestLexicalReranker_Canceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewLexicalReranker(0).Rerank(ctx, "q", []Document{{ID: "a"}}, 0)
	assert.ErrorIs(t, err, context.Canceled)
}
