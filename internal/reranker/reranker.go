// Package reranker reorders retrieved passages by query relevance.
package reranker

import "context"

// Document is a retrieved passage to rerank.
type Document struct {
	ID      string
	Content string
	Score   float32 // vector similarity
}

// ScoredDocument is a Document after reranking.
type ScoredDocument struct {
	Document
	RerankerScore float32 // lexical relevance in [0, 1]
	Combined      float32 // blended score the results are ordered by
	OriginalRank  int     // 0-based position before reranking
}

// Reranker reorders documents for a query.
type Reranker interface {
	// Rerank returns docs ordered by relevance, at most topK of them
	// (all when topK <= 0).
	Rerank(ctx context.Context, query string, docs []Document, topK int) ([]ScoredDocument, error)
	Close() error
}
