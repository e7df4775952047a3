package watch

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/lexrag/internal/ingest"
	"github.com/fyrsmithlabs/lexrag/internal/model"
)

type call struct {
	clientID string
	name     string
	body     string
	reindex  bool
}

type fakeIngester struct {
	mu    sync.Mutex
	calls []call
	fail  map[string]error
}

func (f *fakeIngester) IngestFile(_ context.Context, clientID, name string, src io.Reader, opts ingest.Options) (ingest.Result, error) {
	b, err := io.ReadAll(src)
	if err != nil {
		return ingest.Result{}, err
	}
	f.mu.Lock()
	f.calls = append(f.calls, call{clientID: clientID, name: name, body: string(b), reindex: opts.Reindex})
	err = f.fail[name]
	f.mu.Unlock()
	if err != nil {
		return ingest.Result{SourceID: name, Status: ingest.StatusFailed}, err
	}
	return ingest.Result{SourceID: name, Status: ingest.StatusSucceeded, ChunkIDs: []string{"c1"}}, nil
}

func (f *fakeIngester) snapshot() []call {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]call(nil), f.calls...)
}

func start(t *testing.T, dir string, svc Ingester) *Watcher {
	t.Helper()
	w, err := New(Config{Dir: dir, Debounce: 50 * time.Millisecond}, svc, nil)
	require.NoError(t, err)
	require.NoError(t, w.Start(context.Background()))
	t.Cleanup(w.Stop)
	return w
}

func next(t *testing.T, w *Watcher) Event {
	t.Helper()
	select {
	case ev := <-w.Events():
		return ev
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for an ingestion event")
		return Event{}
	}
}

func write(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
}

func TestNew(t *testing.T) {
	_, err := New(Config{}, &fakeIngester{}, nil)
	assert.Error(t, err)
	_, err = New(Config{Dir: t.TempDir()}, nil, nil)
	assert.Error(t, err)

	dir := filepath.Join(t.TempDir(), "inbox")
	w, err := New(Config{Dir: dir}, &fakeIngester{}, nil)
	require.NoError(t, err)
	defer w.Stop()
	assert.DirExists(t, dir)
	assert.Equal(t, defaultDebounce, w.debounce)
}

func TestWatcher_ExistingFilesIngestedOnce(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(dir, "lexsy"), 0o700))
	write(t, filepath.Join(dir, "lexsy", "board-consent.txt"), "The board consents.")
	write(t, filepath.Join(dir, "lexsy", ".hidden.txt"), "skip me")

	svc := &fakeIngester{}
	w := start(t, dir, svc)

	ev := next(t, w)
	require.NoError(t, ev.Err)
	assert.Equal(t, "lexsy", ev.ClientID)
	assert.Equal(t, ingest.StatusSucceeded, ev.Result.Status)

	calls := svc.snapshot()
	require.Len(t, calls, 1)
	assert.Equal(t, call{clientID: "lexsy", name: "board-consent.txt", body: "The board consents.", reindex: false}, calls[0])
}

func TestWatcher_NewAndRewrittenFiles(t *testing.T) {
	dir := t.TempDir()
	svc := &fakeIngester{}
	w := start(t, dir, svc)

	client := filepath.Join(dir, "techcorp")
	require.NoError(t, os.Mkdir(client, 0o700))
	path := filepath.Join(client, "offer.txt")
	write(t, path, "Offer v1")

	ev := next(t, w)
	require.NoError(t, ev.Err)
	assert.Equal(t, "techcorp", ev.ClientID)

	write(t, path, "Offer v2, revised")
	require.Eventually(t, func() bool {
		calls := svc.snapshot()
		last := calls[len(calls)-1]
		return last.body == "Offer v2, revised" && last.reindex
	}, 5*time.Second, 20*time.Millisecond, "rewrites are re-ingested with reindex")
}

func TestWatcher_DebouncesBurstOfWrites(t *testing.T) {
	dir := t.TempDir()
	client := filepath.Join(dir, "acme")
	require.NoError(t, os.Mkdir(client, 0o700))
	svc := &fakeIngester{}
	w, err := New(Config{Dir: dir, Debounce: 300 * time.Millisecond}, svc, nil)
	require.NoError(t, err)
	require.NoError(t, w.Start(context.Background()))
	t.Cleanup(w.Stop)

	path := filepath.Join(client, "minutes.txt")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY, 0o600)
	require.NoError(t, err)
	for _, part := range []string{"Minutes ", "of the ", "annual meeting."} {
		_, err := f.WriteString(part)
		require.NoError(t, err)
	}
	require.NoError(t, f.Close())

	ev := next(t, w)
	require.NoError(t, ev.Err)
	select {
	case extra := <-w.Events():
		t.Fatalf("unexpected second ingestion of %s", extra.Path)
	case <-time.After(600 * time.Millisecond):
	}
	calls := svc.snapshot()
	require.Len(t, calls, 1)
	assert.Equal(t, "Minutes of the annual meeting.", calls[0].body)
}

func TestWatcher_FailuresAreReported(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(dir, "ghost"), 0o700))
	write(t, filepath.Join(dir, "ghost", "note.txt"), "hello")

	svc := &fakeIngester{fail: map[string]error{"note.txt": model.ErrClientNotFound}}
	w := start(t, dir, svc)

	ev := next(t, w)
	assert.True(t, errors.Is(ev.Err, model.ErrClientNotFound))

	write(t, filepath.Join(dir, "ghost", "second.txt"), "still watching")
	ev = next(t, w)
	assert.NoError(t, ev.Err)
}

func TestWatcher_IgnoresFilesOutsideClientDirs(t *testing.T) {
	dir := t.TempDir()
	svc := &fakeIngester{}
	w := start(t, dir, svc)

	write(t, filepath.Join(dir, "stray.txt"), "no client")
	select {
	case ev := <-w.Events():
		t.Fatalf("unexpected ingestion of %s", ev.Path)
	case <-time.After(300 * time.Millisecond):
	}
	assert.Empty(t, svc.snapshot())
}

func TestWatcher_StopIsIdempotent(t *testing.T) {
	w, err := New(Config{Dir: t.TempDir()}, &fakeIngester{}, nil)
	require.NoError(t, err)
	require.NoError(t, w.Start(context.Background()))
	w.Stop()
	w.Stop()
}

func TestIgnored(t *testing.T) {
	for path, want := range map[string]bool{
		"/in/lexsy/.DS_Store":     true,
		"/in/lexsy/draft.txt~":    true,
		"/in/lexsy/.draft.swp":    true,
		"/in/lexsy/upload.tmp":    true,
		"/in/lexsy/agreement.pdf": false,
	} {
		assert.Equal(t, want, ignored(path), path)
	}
}
