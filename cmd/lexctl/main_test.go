package main

import (
	"bytes"
	"encoding/json"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/lexrag/internal/assistant"
	"github.com/fyrsmithlabs/lexrag/internal/chat"
	"github.com/fyrsmithlabs/lexrag/internal/extraction"
	lexhttp "github.com/fyrsmithlabs/lexrag/internal/http"
	"github.com/fyrsmithlabs/lexrag/internal/model"
	"github.com/fyrsmithlabs/lexrag/internal/samples"
	"github.com/fyrsmithlabs/lexrag/internal/testkit"
)

// serve starts lexragd's HTTP API over in-memory components.
func serve(t *testing.T) string {
	t.Helper()
	env := testkit.New(t)
	svc, err := assistant.Assemble(assistant.Components{
		Store:     env.Store,
		Indexes:   env.Indexes,
		Chunker:   env.Chunker,
		Embedder:  env.Embeddings,
		Chat:      chat.NewExtractiveCompleter(),
		Extractor: extraction.New(extraction.Config{}),
	}, assistant.Config{}, nil)
	require.NoError(t, err)
	srv, err := lexhttp.NewServer(svc, zap.NewNop(), &lexhttp.Config{Version: "test"})
	require.NoError(t, err)

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts.URL
}

// run executes lexctl against url and returns stdout.
func run(t *testing.T, url string, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(append([]string{"--server", url}, args...))
	err := cmd.Execute()
	return out.String(), err
}

func TestHealth(t *testing.T) {
	url := serve(t)
	out, err := run(t, url, "health")
	require.NoError(t, err)
	assert.Contains(t, out, "Server status: ok")
	assert.Contains(t, out, "version test")
}

func TestClientLifecycle(t *testing.T) {
	url := serve(t)

	out, err := run(t, url, "client", "create", "acme", "Acme Corp")
	require.NoError(t, err)
	assert.Contains(t, out, "Created client acme (Acme Corp)")

	_, err = run(t, url, "client", "create", "acme", "Acme Corp")
	assert.ErrorContains(t, err, "server returned status 409")

	out, err = run(t, url, "--json", "client", "list")
	require.NoError(t, err)
	var clients []model.Client
	require.NoError(t, json.Unmarshal([]byte(out), &clients))
	require.Len(t, clients, 1)
	assert.Equal(t, "acme", clients[0].ID)

	out, err = run(t, url, "client", "delete", "acme")
	require.NoError(t, err)
	assert.Contains(t, out, "Deleted client acme")

	_, err = run(t, url, "stats", "acme")
	assert.ErrorContains(t, err, "server returned status 404")
}

func TestSeedAskSearchHistory(t *testing.T) {
	url := serve(t)
	_, err := run(t, url, "client", "create", samples.ClientID, samples.ClientName)
	require.NoError(t, err)

	out, err := run(t, url, "seed", samples.ClientID)
	require.NoError(t, err)
	assert.Contains(t, out, "0 failed")

	out, err = run(t, url, "ask", samples.ClientID, "What equity grant was proposed for John Smith?")
	require.NoError(t, err)
	assert.Contains(t, out, "Sources:")

	out, err = run(t, url, "--json", "search", samples.ClientID, "--type", "email", "-k", "2", "equity", "grant")
	require.NoError(t, err)
	var resp lexhttp.SearchResponse
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	require.NotEmpty(t, resp.Results)
	assert.LessOrEqual(t, len(resp.Results), 2)
	for _, hit := range resp.Results {
		assert.Equal(t, model.SourceEmail, hit.SourceType)
	}

	out, err = run(t, url, "history", samples.ClientID)
	require.NoError(t, err)
	assert.Contains(t, out, "Q: What equity grant was proposed for John Smith?")

	out, err = run(t, url, "history", "--clear", samples.ClientID)
	require.NoError(t, err)
	assert.Contains(t, out, "Deleted 1 turns")

	out, err = run(t, url, "stats", samples.ClientID)
	require.NoError(t, err)
	assert.Contains(t, out, "Client:    "+samples.ClientID)
}

func TestIngestFiles(t *testing.T) {
	url := serve(t)
	_, err := run(t, url, "client", "create", "acme", "Acme Corp")
	require.NoError(t, err)

	dir := t.TempDir()
	memo := filepath.Join(dir, "memo.txt")
	require.NoError(t, os.WriteFile(memo, []byte("The board approved the Series A financing at a $20M pre-money valuation."), 0o600))
	bogus := filepath.Join(dir, "scan.tiff")
	require.NoError(t, os.WriteFile(bogus, []byte("II*"), 0o600))

	out, err := run(t, url, "ingest", "acme", memo, bogus)
	assert.ErrorContains(t, err, "1 of 2 files failed")
	assert.Contains(t, out, "succeeded")
	assert.Contains(t, out, "failed")

	out, err = run(t, url, "ingest", "acme", memo)
	require.NoError(t, err)
	assert.Contains(t, out, "skipped")

	out, err = run(t, url, "sources", "acme")
	require.NoError(t, err)
	assert.Contains(t, out, "memo")
}

func TestPreview(t *testing.T) {
	assert.Equal(t, "a b c", preview("a\n b\t\tc", 10))
	assert.Equal(t, "abc...", preview("abcdef", 3))
}

func TestClientUpdate(t *testing.T) {
	url := serve(t)
	_, err := run(t, url, "client", "create", "acme", "Acme")
	require.NoError(t, err)

	out, err := run(t, url, "client", "update", "acme", "--name", "Acme Corp", "--description", "Series A")
	require.NoError(t, err)
	assert.Contains(t, out, "Updated client acme (Acme Corp)")

	_, err = run(t, url, "client", "update", "acme")
	assert.ErrorContains(t, err, "nothing to update")

	_, err = run(t, url, "client", "update", "acme", "--name", "")
	assert.ErrorContains(t, err, "server returned status 400")
}

func TestContentCommands(t *testing.T) {
	url := serve(t)
	_, err := run(t, url, "client", "create", samples.ClientID, samples.ClientName)
	require.NoError(t, err)
	_, err = run(t, url, "seed", samples.ClientID)
	require.NoError(t, err)

	out, err := run(t, url, "threads", samples.ClientID)
	require.NoError(t, err)
	assert.Contains(t, out, samples.ThreadID)

	out, err = run(t, url, "text", samples.ClientID, "equity-incentive-plan")
	require.NoError(t, err)
	assert.Contains(t, out, "words)")

	out, err = run(t, url, "--json", "summarize", samples.ClientID, "--thread", samples.ThreadID)
	require.NoError(t, err)
	var ts assistant.ThreadSummary
	require.NoError(t, json.Unmarshal([]byte(out), &ts))
	assert.Equal(t, samples.ThreadID, ts.Thread.ThreadID)
	assert.NotEmpty(t, ts.Text)

	out, err = run(t, url, "summarize", samples.ClientID, "--source", "equity-incentive-plan")
	require.NoError(t, err)
	assert.NotEmpty(t, out)

	out, err = run(t, url, "summarize", samples.ClientID)
	require.NoError(t, err)
	assert.Contains(t, out, "Documents: 3")

	_, err = run(t, url, "summarize", samples.ClientID, "--source", "a", "--thread", "b")
	assert.ErrorContains(t, err, "at most one")

	out, err = run(t, url, "suggest", samples.ClientID)
	require.NoError(t, err)
	assert.Contains(t, out, "What are the key terms in our agreements?")
}
