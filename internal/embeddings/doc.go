// Package embeddings maps text to fixed-dimension vectors.
//
// A Provider talks to one embedding backend (OpenAI-compatible APIs through
// langchaingo, HuggingFace TEI, local FastEmbed, or the dependency-free hashing
// provider). Client wraps a Provider with the cross-cutting behavior every
// caller gets: batching, rate limiting, a circuit breaker, per-call timeouts,
// the retry policy, and result validation. Every failure surfaces as
// model.ErrEmbeddingUnavailable; a zero vector is never returned.
package embeddings
