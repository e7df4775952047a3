package embeddings

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Cache stores vectors by key.
type Cache interface {
	// GetMany returns the cached vectors for keys; missing keys are absent from the map.
	GetMany(ctx context.Context, keys []string) (map[string][]float32, error)
	// SetMany stores vectors under their keys.
	SetMany(ctx context.Context, entries map[string][]float32) error
}

// RedisCache is a Cache backed by Redis.
type RedisCache struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
}

// RedisConfig configures a RedisCache.
type RedisConfig struct {
	// Addr is host:port, or a redis:// / rediss:// URL.
	Addr     string
	Password string
	DB       int
	// Prefix namespaces keys. Default "lexrag:emb:".
	Prefix string
	// TTL is the key lifetime. Zero keeps keys forever.
	TTL time.Duration
}

// NewRedisCache connects to Redis and verifies the connection.
func NewRedisCache(ctx context.Context, cfg RedisConfig) (*RedisCache, error) {
	if cfg.Addr == "" {
		return nil, fmt.Errorf("%w: redis address required", ErrInvalidConfig)
	}

	var opts *redis.Options
	if len(cfg.Addr) > 8 && (cfg.Addr[:8] == "redis://" || cfg.Addr[:9] == "rediss://") {
		parsed, err := redis.ParseURL(cfg.Addr)
		if err != nil {
			return nil, fmt.Errorf("parsing redis URL: %w", err)
		}
		opts = parsed
	} else {
		opts = &redis.Options{Addr: cfg.Addr, Password: cfg.Password, DB: cfg.DB}
	}

	client := redis.NewClient(opts)
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connecting to redis: %w", err)
	}
	return NewRedisCacheFromClient(client, cfg.Prefix, cfg.TTL), nil
}

// NewRedisCacheFromClient wraps an existing client.
func NewRedisCacheFromClient(client redis.UniversalClient, prefix string, ttl time.Duration) *RedisCache {
	if prefix == "" {
		prefix = "lexrag:emb:"
	}
	return &RedisCache{client: client, prefix: prefix, ttl: ttl}
}

func (r *RedisCache) GetMany(ctx context.Context, keys []string) (map[string][]float32, error) {
	if len(keys) == 0 {
		return map[string][]float32{}, nil
	}
	full := make([]string, len(keys))
	for i, k := range keys {
		full[i] = r.prefix + k
	}
	values, err := r.client.MGet(ctx, full...).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("redis mget: %w", err)
	}

	out := make(map[string][]float32, len(keys))
	for i, v := range values {
		s, ok := v.(string)
		if !ok {
			continue
		}
		if vec, ok := decodeVector([]byte(s)); ok {
			out[keys[i]] = vec
		}
	}
	return out, nil
}

func (r *RedisCache) SetMany(ctx context.Context, entries map[string][]float32) error {
	if len(entries) == 0 {
		return nil
	}
	pipe := r.client.Pipeline()
	for k, v := range entries {
		pipe.Set(ctx, r.prefix+k, encodeVector(v), r.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis pipeline: %w", err)
	}
	return nil
}

// Close closes the Redis connection.
func (r *RedisCache) Close() error {
	return r.client.Close()
}

// CachedProvider serves vectors from a Cache and embeds only the misses.
// Cache failures degrade to uncached operation.
type CachedProvider struct {
	Provider
	cache  Cache
	model  string
	logger *zap.Logger
}

// NewCachedProvider decorates p. modelName is part of every key so switching
// models never serves stale vectors.
func NewCachedProvider(p Provider, cache Cache, modelName string, logger *zap.Logger) *CachedProvider {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CachedProvider{Provider: p, cache: cache, model: modelName, logger: logger}
}

func (p *CachedProvider) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	keys := make([]string, len(texts))
	for i, t := range texts {
		keys[i] = CacheKey(p.model, "doc", t)
	}

	hits, err := p.cache.GetMany(ctx, keys)
	if err != nil {
		p.logger.Warn("embedding cache read failed", zap.Error(err))
		hits = nil
	}

	out := make([][]float32, len(texts))
	var missIdx []int
	var missTexts []string
	for i := range texts {
		if v, ok := hits[keys[i]]; ok {
			out[i] = v
			continue
		}
		missIdx = append(missIdx, i)
		missTexts = append(missTexts, texts[i])
	}
	if len(missTexts) == 0 {
		return out, nil
	}

	vectors, err := p.Provider.EmbedDocuments(ctx, missTexts)
	if err != nil {
		return nil, err
	}
	if len(vectors) != len(missTexts) {
		// Let the client's validation report the mismatch.
		return vectors, nil
	}

	fresh := make(map[string][]float32, len(vectors))
	for j, i := range missIdx {
		out[i] = vectors[j]
		if !isZero(vectors[j]) {
			fresh[keys[i]] = vectors[j]
		}
	}
	if err := p.cache.SetMany(ctx, fresh); err != nil {
		p.logger.Warn("embedding cache write failed", zap.Error(err))
	}
	return out, nil
}

func (p *CachedProvider) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	key := CacheKey(p.model, "query", text)
	hits, err := p.cache.GetMany(ctx, []string{key})
	if err != nil {
		p.logger.Warn("embedding cache read failed", zap.Error(err))
	} else if v, ok := hits[key]; ok {
		return v, nil
	}

	v, err := p.Provider.EmbedQuery(ctx, text)
	if err != nil {
		return nil, err
	}
	if !isZero(v) {
		if err := p.cache.SetMany(ctx, map[string][]float32{key: v}); err != nil {
			p.logger.Warn("embedding cache write failed", zap.Error(err))
		}
	}
	return v, nil
}

// CacheKey derives the cache key for text embedded by modelName in the given
// role ("doc" or "query"; some models embed the two differently).
func CacheKey(modelName, role, text string) string {
	h := sha256.New()
	h.Write([]byte(modelName))
	h.Write([]byte{0})
	h.Write([]byte(role))
	h.Write([]byte{0})
	h.Write([]byte(text))
	return hex.EncodeToString(h.Sum(nil))
}

func encodeVector(v []float32) []byte {
	buf := make([]byte, 4*len(v))
	for i, x := range v {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(x))
	}
	return buf
}

func decodeVector(b []byte) ([]float32, bool) {
	if len(b) == 0 || len(b)%4 != 0 {
		return nil, false
	}
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[4*i:]))
	}
	return v, true
}
