package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupTestHome points HOME at a temp dir and returns the lexrag config dir in it.
func setupTestHome(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)
	dir := filepath.Join(home, ".config", "lexrag")
	require.NoError(t, os.MkdirAll(dir, 0700))
	return dir
}

func writeConfig(t *testing.T, dir, content string, perm os.FileMode) string {
	t.Helper()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), perm))
	require.NoError(t, os.Chmod(path, perm))
	return path
}

// offline is a valid base for tests that do not exercise model credentials.
const offline = `
embeddings:
  provider: hashing
chat:
  provider: extractive
`

func TestDefault(t *testing.T) {
	cfg := Default()
	assert.Equal(t, "127.0.0.1:8080", cfg.Server.Addr())
	assert.Equal(t, "chromem", cfg.VectorIndex.Backend)
	assert.Equal(t, 1000, cfg.Chunker.ChunkSize)
	assert.Equal(t, 200, cfg.Chunker.Overlap)
	assert.Equal(t, 3, cfg.Embeddings.MaxAttempts)
	assert.Equal(t, 2, cfg.Chat.MaxAttempts)
	assert.Equal(t, 6, cfg.Answer.MaxHistoryTurns)

	// The OpenAI defaults need a key.
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "embeddings.api_key")
	assert.Contains(t, err.Error(), "chat.api_key")
}

func TestLoad_YAMLThenEnv(t *testing.T) {
	dir := setupTestHome(t)
	path := writeConfig(t, dir, offline+`
server:
  port: 9191
storage:
  driver: sqlite
  path: /var/lib/lexrag/lexrag.db
chunker:
  chunk_size: 800
  overlap: 100
retrieval:
  rerank: true
watch:
  dir: /srv/inbox
  debounce: 2s
`, 0600)

	t.Setenv("LEXRAG_SERVER_PORT", "7070")
	t.Setenv("LEXRAG_EMBEDDINGS_BATCH_SIZE", "16")
	t.Setenv("LEXRAG_RETRIEVAL_MIN_SCORE", "0.25")

	cfg, err := load(path, "")
	require.NoError(t, err)
	assert.Equal(t, 7070, cfg.Server.Port)
	assert.Equal(t, "sqlite", cfg.Storage.Driver)
	assert.Equal(t, 800, cfg.Chunker.ChunkSize)
	assert.Equal(t, 100, cfg.Chunker.Overlap)
	assert.Equal(t, 100, cfg.Chunker.MinChunkSize, "unset keys keep their defaults")
	assert.Equal(t, 100, cfg.Chunker.BoundaryTolerance)
	assert.True(t, cfg.Retrieval.Rerank)
	assert.InDelta(t, 0.25, cfg.Retrieval.MinScore, 1e-6)
	assert.Equal(t, 16, cfg.Embeddings.BatchSize)
	assert.Equal(t, 2*time.Second, cfg.Watch.Debounce.Duration())
	assert.Equal(t, "/srv/inbox", cfg.Watch.Dir)
}

func TestLoad_ExplicitZerosOverrideDefaults(t *testing.T) {
	dir := setupTestHome(t)
	path := writeConfig(t, dir, offline+`
chunker:
  overlap: 0
  min_chunk_size: 0
  boundary_tolerance: 0
answer:
  max_history_turns: 0
  temperature: 0
`, 0600)

	cfg, err := load(path, "")
	require.NoError(t, err)
	assert.Equal(t, 1000, cfg.Chunker.ChunkSize)
	assert.Zero(t, cfg.Chunker.Overlap)
	assert.Zero(t, cfg.Chunker.MinChunkSize)
	assert.Zero(t, cfg.Chunker.BoundaryTolerance)
	assert.Zero(t, cfg.Answer.MaxHistoryTurns)
	assert.Zero(t, cfg.Answer.Temperature)
	require.NoError(t, cfg.Validate())
}

func TestLoad_MissingFileUsesDefaultsAndEnv(t *testing.T) {
	dir := setupTestHome(t)
	t.Setenv("LEXRAG_EMBEDDINGS_PROVIDER", "hashing")
	t.Setenv("LEXRAG_CHAT_PROVIDER", "openai")
	t.Setenv("LEXRAG_CHAT_API_KEY", "sk-test-123")

	cfg, err := load(filepath.Join(dir, "missing.yaml"), "")
	require.NoError(t, err)
	assert.Equal(t, "hashing", cfg.Embeddings.Provider)
	assert.Equal(t, "sk-test-123", cfg.Chat.APIKey.Value())
	assert.Equal(t, "[REDACTED]", cfg.Chat.APIKey.String())
}

func TestLoad_DotEnv(t *testing.T) {
	dir := setupTestHome(t)
	dotenv := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(dotenv, []byte(
		"LEXRAG_EMBEDDINGS_PROVIDER=hashing\nLEXRAG_CHAT_PROVIDER=extractive\nLEXRAG_SERVER_PORT=6060\n"), 0600))

	// Variables already set win over the .env file.
	t.Setenv("LEXRAG_SERVER_PORT", "5050")
	t.Cleanup(func() {
		os.Unsetenv("LEXRAG_EMBEDDINGS_PROVIDER")
		os.Unsetenv("LEXRAG_CHAT_PROVIDER")
	})

	cfg, err := load(filepath.Join(dir, "config.yaml"), dotenv)
	require.NoError(t, err)
	assert.Equal(t, "hashing", cfg.Embeddings.Provider)
	assert.Equal(t, 5050, cfg.Server.Port)
}

func TestLoad_FileChecks(t *testing.T) {
	t.Run("insecure permissions", func(t *testing.T) {
		dir := setupTestHome(t)
		path := writeConfig(t, dir, offline, 0644)
		_, err := load(path, "")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "insecure config file permissions")
	})

	t.Run("read only is accepted", func(t *testing.T) {
		dir := setupTestHome(t)
		path := writeConfig(t, dir, offline, 0400)
		_, err := load(path, "")
		require.NoError(t, err)
	})

	t.Run("too large", func(t *testing.T) {
		dir := setupTestHome(t)
		big := offline + "# " + strings.Repeat("x", maxConfigFileSize) + "\n"
		path := writeConfig(t, dir, big, 0600)
		_, err := load(path, "")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "too large")
	})

	t.Run("outside allowed dirs", func(t *testing.T) {
		setupTestHome(t)
		path := filepath.Join(t.TempDir(), "config.yaml")
		require.NoError(t, os.WriteFile(path, []byte(offline), 0600))
		_, err := load(path, "")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "must be in")
	})

	t.Run("sibling prefix is rejected", func(t *testing.T) {
		dir := setupTestHome(t)
		_, err := load(dir+"-evil/config.yaml", "")
		require.Error(t, err)
	})

	t.Run("invalid yaml", func(t *testing.T) {
		dir := setupTestHome(t)
		path := writeConfig(t, dir, "server: [unclosed", 0600)
		_, err := load(path, "")
		require.Error(t, err)
	})
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		cfg := Default()
		cfg.Embeddings.Provider = "hashing"
		cfg.Chat.Provider = "extractive"
		return cfg
	}
	require.NoError(t, valid().Validate())

	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"port", func(c *Config) { c.Server.Port = 0 }, "server.port"},
		{"storage driver", func(c *Config) { c.Storage.Driver = "postgres" }, "storage.driver"},
		{"sqlite path", func(c *Config) { c.Storage.Driver = "sqlite" }, "storage.path"},
		{"backend", func(c *Config) { c.VectorIndex.Backend = "faiss" }, "vectorindex.backend"},
		{"qdrant host", func(c *Config) { c.VectorIndex.Backend = "qdrant"; c.VectorIndex.QdrantHost = "" }, "qdrant_host"},
		{"tei url", func(c *Config) { c.Embeddings.Provider = "tei" }, "embeddings.base_url"},
		{"embed provider", func(c *Config) { c.Embeddings.Provider = "cohere" }, "embeddings.provider"},
		{"chat provider", func(c *Config) { c.Chat.Provider = "claude" }, "chat.provider"},
		{"attempts", func(c *Config) { c.Chat.MaxAttempts = 0 }, "chat.max_attempts"},
		{"overlap", func(c *Config) { c.Chunker.Overlap = c.Chunker.ChunkSize }, "chunker.overlap"},
		{"min chunk", func(c *Config) { c.Chunker.MinChunkSize = -1 }, "chunker.min_chunk_size"},
		{"tolerance", func(c *Config) { c.Chunker.BoundaryTolerance = c.Chunker.ChunkSize }, "chunker.boundary_tolerance"},
		{"parallel", func(c *Config) { c.Ingest.MaxParallelEmbeds = 0 }, "max_parallel_embeds"},
		{"rerank weight", func(c *Config) { c.Retrieval.RerankWeight = 2 }, "rerank_weight"},
		{"log format", func(c *Config) { c.Logging.Format = "xml" }, "logging.format"},
		{"protocol", func(c *Config) { c.Telemetry.Protocol = "udp" }, "telemetry.protocol"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestSecret(t *testing.T) {
	s := Secret("sk-live-abc")
	assert.Equal(t, "[REDACTED]", s.String())
	assert.Equal(t, "[REDACTED]", fmt.Sprintf("%v", s))
	assert.Equal(t, "Secret([REDACTED])", fmt.Sprintf("%#v", s))
	assert.Equal(t, "sk-live-abc", s.Value())

	out, err := json.Marshal(struct{ Key Secret }{s})
	require.NoError(t, err)
	assert.JSONEq(t, `{"Key":"[REDACTED]"}`, string(out))

	assert.False(t, Secret("").IsSet())
	assert.Equal(t, "", Secret("").String())
}

func TestDuration(t *testing.T) {
	var d Duration
	require.NoError(t, d.UnmarshalText([]byte("1m30s")))
	assert.Equal(t, 90*time.Second, d.Duration())
	assert.Error(t, d.UnmarshalText([]byte("-5s")))
	assert.Error(t, d.UnmarshalText([]byte("soon")))

	out, err := json.Marshal(Duration(2 * time.Second))
	require.NoError(t, err)
	assert.Equal(t, `"2s"`, string(out))
}

func TestEnvKey(t *testing.T) {
	assert.Equal(t, "server.port", envKey("LEXRAG_SERVER_PORT"))
	assert.Equal(t, "embeddings.base_url", envKey("LEXRAG_EMBEDDINGS_BASE_URL"))
	assert.Equal(t, "vectorindex.qdrant_api_key", envKey("LEXRAG_VECTORINDEX_QDRANT_API_KEY"))
}
