// Package config provides configuration loading for lexrag.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Config is the lexragd configuration. Every section is flat so that each
// field can be set from one environment variable, e.g.
// LEXRAG_EMBEDDINGS_BASE_URL sets embeddings.base_url.
type Config struct {
	Server      ServerConfig      `koanf:"server"`
	Storage     StorageConfig     `koanf:"storage"`
	VectorIndex VectorIndexConfig `koanf:"vectorindex"`
	Embeddings  EmbeddingsConfig  `koanf:"embeddings"`
	Chat        ChatConfig        `koanf:"chat"`
	Chunker     ChunkerConfig     `koanf:"chunker"`
	Ingest      IngestConfig      `koanf:"ingest"`
	Retrieval   RetrievalConfig   `koanf:"retrieval"`
	Answer      AnswerConfig      `koanf:"answer"`
	Secrets     SecretsConfig     `koanf:"secrets"`
	Extraction  ExtractionConfig  `koanf:"extraction"`
	Watch       WatchConfig       `koanf:"watch"`
	Logging     LoggingConfig     `koanf:"logging"`
	Telemetry   TelemetryConfig   `koanf:"telemetry"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host            string   `koanf:"host"`
	Port            int      `koanf:"port"`
	ShutdownTimeout Duration `koanf:"shutdown_timeout"`
	MaxBodyBytes    string   `koanf:"max_body_bytes"` // echo size notation, e.g. "20M"
}

// Addr returns host:port.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// StorageConfig selects the client, source and conversation store.
type StorageConfig struct {
	Driver string `koanf:"driver"` // memory or sqlite
	Path   string `koanf:"path"`
}

// VectorIndexConfig selects and configures the vector index backend.
type VectorIndexConfig struct {
	Backend          string `koanf:"backend"` // chromem or qdrant
	Path             string `koanf:"path"`    // chromem persistence root; empty keeps indexes in memory
	Compress         bool   `koanf:"compress"`
	QdrantHost       string `koanf:"qdrant_host"`
	QdrantPort       int    `koanf:"qdrant_port"`
	QdrantAPIKey     Secret `koanf:"qdrant_api_key"`
	QdrantTLS        bool   `koanf:"qdrant_tls"`
	CollectionPrefix string `koanf:"collection_prefix"`
	DefaultTopK      int    `koanf:"default_top_k"`
	MaxTopK          int    `koanf:"max_top_k"`
}

// EmbeddingsConfig configures the embedding provider and client.
type EmbeddingsConfig struct {
	Provider      string   `koanf:"provider"` // openai, tei, fastembed or hashing
	Model         string   `koanf:"model"`
	BaseURL       string   `koanf:"base_url"`
	APIKey        Secret   `koanf:"api_key"`
	Dimension     int      `koanf:"dimension"`
	BatchSize     int      `koanf:"batch_size"`
	CacheDir      string   `koanf:"cache_dir"`
	Timeout       Duration `koanf:"timeout"`
	RatePerSecond float64  `koanf:"rate_per_second"`
	Burst         int      `koanf:"burst"`
	MaxAttempts   int      `koanf:"max_attempts"`
	RedisAddr     string   `koanf:"redis_addr"` // enables the embedding cache
	RedisPassword Secret   `koanf:"redis_password"`
	RedisDB       int      `koanf:"redis_db"`
	CacheTTL      Duration `koanf:"cache_ttl"`
}

// ChatConfig configures the chat-completion model.
type ChatConfig struct {
	Provider      string   `koanf:"provider"` // openai or extractive
	Model         string   `koanf:"model"`
	BaseURL       string   `koanf:"base_url"`
	APIKey        Secret   `koanf:"api_key"`
	Timeout       Duration `koanf:"timeout"`
	RatePerSecond float64  `koanf:"rate_per_second"`
	Burst         int      `koanf:"burst"`
	MaxAttempts   int      `koanf:"max_attempts"`
}

// ChunkerConfig configures text chunking.
type ChunkerConfig struct {
	ChunkSize         int `koanf:"chunk_size"`
	Overlap           int `koanf:"overlap"`
	MinChunkSize      int `koanf:"min_chunk_size"`
	BoundaryTolerance int `koanf:"boundary_tolerance"`
}

// IngestConfig configures the ingestion pipeline.
type IngestConfig struct {
	MaxParallelEmbeds int `koanf:"max_parallel_embeds"`
}

// RetrievalConfig configures the retriever.
type RetrievalConfig struct {
	TopK         int     `koanf:"top_k"`
	MinScore     float32 `koanf:"min_score"`
	Rerank       bool    `koanf:"rerank"`
	RerankWeight float32 `koanf:"rerank_weight"`
}

// AnswerConfig configures prompt assembly and generation.
type AnswerConfig struct {
	TopK            int     `koanf:"top_k"`
	MaxHistoryTurns int     `koanf:"max_history_turns"`
	Temperature     float64 `koanf:"temperature"`
	MaxTokens       int     `koanf:"max_tokens"`
	TopP            float64 `koanf:"top_p"`
	SystemPrompt    string  `koanf:"system_prompt"`
}

// SecretsConfig configures secret scrubbing of ingested text.
type SecretsConfig struct {
	Enabled   bool   `koanf:"enabled"`
	Redaction string `koanf:"redaction"`
}

// ExtractionConfig configures file extraction.
type ExtractionConfig struct {
	MaxBytes int64 `koanf:"max_bytes"`
}

// WatchConfig configures the inbox watcher. An empty Dir disables it.
type WatchConfig struct {
	Dir      string   `koanf:"dir"`
	Debounce Duration `koanf:"debounce"`
}

// LoggingConfig overrides the logging defaults.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
	OTEL   bool   `koanf:"otel"`
}

// TelemetryConfig overrides the telemetry defaults.
type TelemetryConfig struct {
	Enabled      bool    `koanf:"enabled"`
	Endpoint     string  `koanf:"endpoint"`
	Protocol     string  `koanf:"protocol"` // grpc or http
	ServiceName  string  `koanf:"service_name"`
	Insecure     bool    `koanf:"insecure"`
	SamplingRate float64 `koanf:"sampling_rate"`
}

// Default returns the configuration used when nothing is set: in-memory
// storage, an in-memory chromem index and the OpenAI embedding API.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "127.0.0.1",
			Port:            8080,
			ShutdownTimeout: Duration(10 * time.Second),
			MaxBodyBytes:    "20M",
		},
		Storage: StorageConfig{Driver: "memory"},
		VectorIndex: VectorIndexConfig{
			Backend:          "chromem",
			QdrantHost:       "localhost",
			QdrantPort:       6334,
			CollectionPrefix: "lexrag_",
			DefaultTopK:      5,
			MaxTopK:          50,
		},
		Embeddings: EmbeddingsConfig{
			Provider:    "openai",
			Model:       "text-embedding-3-small",
			BatchSize:   64,
			Timeout:     Duration(30 * time.Second),
			MaxAttempts: 3,
		},
		Chat: ChatConfig{
			Provider:    "openai",
			Model:       "gpt-4o-mini",
			Timeout:     Duration(60 * time.Second),
			MaxAttempts: 2,
		},
		Chunker: ChunkerConfig{ChunkSize: 1000, Overlap: 200, MinChunkSize: 100, BoundaryTolerance: 100},
		Ingest:  IngestConfig{MaxParallelEmbeds: 4},
		Retrieval: RetrievalConfig{
			TopK:         5,
			RerankWeight: 0.5,
		},
		Answer: AnswerConfig{
			TopK:            5,
			MaxHistoryTurns: 6,
			Temperature:     0.3,
			MaxTokens:       1000,
			TopP:            0.9,
		},
		Secrets:    SecretsConfig{Enabled: true},
		Extraction: ExtractionConfig{MaxBytes: 10 * 1024 * 1024},
		Watch:      WatchConfig{Debounce: Duration(500 * time.Millisecond)},
		Logging:    LoggingConfig{Level: "info", Format: "json"},
		Telemetry: TelemetryConfig{
			Endpoint:     "localhost:4317",
			Protocol:     "grpc",
			ServiceName:  "lexrag",
			Insecure:     true,
			SamplingRate: 1.0,
		},
	}
}

// Validate checks the configuration for errors, reporting all of them.
func (c *Config) Validate() error {
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		add("server.port must be between 1 and 65535, got %d", c.Server.Port)
	}

	switch c.Storage.Driver {
	case "memory":
	case "sqlite":
		if c.Storage.Path == "" {
			add("storage.path is required for the sqlite driver")
		}
	default:
		add("storage.driver must be memory or sqlite, got %q", c.Storage.Driver)
	}

	switch c.VectorIndex.Backend {
	case "chromem":
	case "qdrant":
		if c.VectorIndex.QdrantHost == "" {
			add("vectorindex.qdrant_host is required for the qdrant backend")
		}
	default:
		add("vectorindex.backend must be chromem or qdrant, got %q", c.VectorIndex.Backend)
	}

	switch c.Embeddings.Provider {
	case "openai":
		if !c.Embeddings.APIKey.IsSet() && c.Embeddings.BaseURL == "" {
			add("embeddings.api_key is required for the openai provider without a base_url")
		}
	case "tei":
		if c.Embeddings.BaseURL == "" {
			add("embeddings.base_url is required for the tei provider")
		}
	case "fastembed", "hashing":
	default:
		add("embeddings.provider must be openai, tei, fastembed or hashing, got %q", c.Embeddings.Provider)
	}
	if c.Embeddings.Dimension < 0 {
		add("embeddings.dimension must not be negative")
	}
	if c.Embeddings.MaxAttempts < 1 {
		add("embeddings.max_attempts must be at least 1")
	}

	switch c.Chat.Provider {
	case "openai":
		if !c.Chat.APIKey.IsSet() && c.Chat.BaseURL == "" {
			add("chat.api_key is required for the openai provider without a base_url")
		}
	case "extractive":
	default:
		add("chat.provider must be openai or extractive, got %q", c.Chat.Provider)
	}
	if c.Chat.MaxAttempts < 1 {
		add("chat.max_attempts must be at least 1")
	}

	if c.Chunker.ChunkSize <= 0 {
		add("chunker.chunk_size must be positive")
	}
	if c.Chunker.Overlap < 0 || c.Chunker.Overlap >= c.Chunker.ChunkSize {
		add("chunker.overlap must be in [0, chunk_size), got %d", c.Chunker.Overlap)
	}
	if c.Chunker.MinChunkSize < 0 || c.Chunker.MinChunkSize > c.Chunker.ChunkSize {
		add("chunker.min_chunk_size must be in [0, chunk_size], got %d", c.Chunker.MinChunkSize)
	}
	if c.Chunker.BoundaryTolerance < 0 || c.Chunker.BoundaryTolerance >= c.Chunker.ChunkSize-c.Chunker.Overlap {
		add("chunker.boundary_tolerance must be in [0, chunk_size-overlap), got %d", c.Chunker.BoundaryTolerance)
	}
	if c.Ingest.MaxParallelEmbeds < 1 {
		add("ingest.max_parallel_embeds must be at least 1")
	}
	if c.Retrieval.RerankWeight < 0 || c.Retrieval.RerankWeight > 1 {
		add("retrieval.rerank_weight must be between 0 and 1")
	}
	if c.Answer.MaxHistoryTurns < 0 {
		add("answer.max_history_turns must not be negative")
	}
	if c.Answer.TopP < 0 || c.Answer.TopP > 1 {
		add("answer.top_p must be between 0 and 1")
	}

	switch strings.ToLower(c.Logging.Format) {
	case "json", "console":
	default:
		add("logging.format must be json or console, got %q", c.Logging.Format)
	}
	switch c.Telemetry.Protocol {
	case "grpc", "http":
	default:
		add("telemetry.protocol must be grpc or http, got %q", c.Telemetry.Protocol)
	}

	return errors.Join(errs...)
}
