// Package watch ingests files dropped into a per-client inbox directory.
//
// The layout is <dir>/<client_id>/<file>. Files present at start are
// ingested once; files created or rewritten later are re-ingested with
// Reindex set, after a debounce so a file written in several chunks is read
// once. Failures are logged and reported on Events, never fatal.
package watch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/lexrag/internal/ingest"
	"github.com/fyrsmithlabs/lexrag/internal/sanitize"
)

// ErrWatcherFailed indicates the filesystem watcher failed to initialize.
var ErrWatcherFailed = errors.New("failed to initialize filesystem watcher")

const defaultDebounce = 500 * time.Millisecond

// Ingester extracts and ingests one file. It is implemented by *assistant.Service.
type Ingester interface {
	IngestFile(ctx context.Context, clientID, name string, src io.Reader, opts ingest.Options) (ingest.Result, error)
}

// Config configures a Watcher.
type Config struct {
	// Dir is the inbox root. It is created if missing.
	Dir string

	// Debounce is the quiet period after the last event on a file before it
	// is ingested (default: 500ms).
	Debounce time.Duration
}

// Event reports the outcome of one file ingestion.
type Event struct {
	Path     string
	ClientID string
	Result   ingest.Result
	Err      error
	Time     time.Time
}

// Watcher watches an inbox tree and ingests files into their client.
type Watcher struct {
	root     string
	debounce time.Duration
	svc      Ingester
	logger   *zap.Logger
	watcher  *fsnotify.Watcher
	events   chan Event

	mu      sync.Mutex
	pending map[string]*time.Timer
	stopped bool

	stop chan struct{}
	wg   sync.WaitGroup
}

// New creates a Watcher over cfg.Dir.
func New(cfg Config, svc Ingester, logger *zap.Logger) (*Watcher, error) {
	if cfg.Dir == "" {
		return nil, fmt.Errorf("watch dir is required")
	}
	if svc == nil {
		return nil, fmt.Errorf("ingester is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Debounce <= 0 {
		cfg.Debounce = defaultDebounce
	}

	root, err := filepath.Abs(cfg.Dir)
	if err != nil {
		return nil, fmt.Errorf("resolving watch dir: %w", err)
	}
	if err := os.MkdirAll(root, 0o700); err != nil {
		return nil, fmt.Errorf("creating watch dir: %w", err)
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrWatcherFailed, err)
	}

	return &Watcher{
		root:     root,
		debounce: cfg.Debounce,
		svc:      svc,
		logger:   logger,
		watcher:  fw,
		events:   make(chan Event, 64),
		pending:  make(map[string]*time.Timer),
		stop:     make(chan struct{}),
	}, nil
}

// Events returns the channel of ingestion outcomes. Events are dropped
// when nobody reads it.
func (w *Watcher) Events() <-chan Event {
	return w.events
}

// Start watches the root and every client directory under it, schedules
// the files already present, and processes events until ctx is done or
// Stop is called.
func (w *Watcher) Start(ctx context.Context) error {
	if err := w.watcher.Add(w.root); err != nil {
		return fmt.Errorf("watching %s: %w", w.root, err)
	}
	entries, err := os.ReadDir(w.root)
	if err != nil {
		return fmt.Errorf("reading watch dir: %w", err)
	}
	for _, e := range entries {
		if e.IsDir() {
			w.addClientDir(ctx, filepath.Join(w.root, e.Name()))
		}
	}

	w.wg.Add(1)
	go w.loop(ctx)
	w.logger.Info("watching inbox", zap.String("dir", w.root))
	return nil
}

// Stop stops watching, cancels pending ingestions and waits for running
// ones to finish.
func (w *Watcher) Stop() {
	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		return
	}
	w.stopped = true
	for path, t := range w.pending {
		if t.Stop() {
			w.wg.Done()
		}
		delete(w.pending, path)
	}
	w.mu.Unlock()

	close(w.stop)
	_ = w.watcher.Close()
	w.wg.Wait()
}

func (w *Watcher) loop(ctx context.Context) {
	defer w.wg.Done()
	for {
		select {
		case <-w.stop:
			return
		case <-ctx.Done():
			return
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handle(ctx, ev)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("inbox watcher error", zap.Error(err))
		}
	}
}

func (w *Watcher) handle(ctx context.Context, ev fsnotify.Event) {
	if ev.Op&(fsnotify.Remove|fsnotify.Rename) != 0 {
		w.cancel(ev.Name)
		return
	}
	if ev.Op&(fsnotify.Create|fsnotify.Write) == 0 || ignored(ev.Name) {
		return
	}

	clientID, ok := w.clientFor(ev.Name)
	info, err := os.Stat(ev.Name)
	if err != nil {
		return
	}
	switch {
	case info.IsDir() && filepath.Dir(ev.Name) == w.root:
		w.addClientDir(ctx, ev.Name)
	case info.Mode().IsRegular() && ok:
		w.schedule(ctx, ev.Name, clientID, true)
	}
}

// addClientDir watches a client directory and schedules its files. Files
// written before the watch was added are picked up by the scan.
func (w *Watcher) addClientDir(ctx context.Context, dir string) {
	clientID := filepath.Base(dir)
	if err := sanitize.ValidateClientID(clientID); err != nil || ignored(dir) {
		w.logger.Warn("ignoring inbox directory", zap.String("dir", dir), zap.Error(err))
		return
	}
	if err := w.watcher.Add(dir); err != nil {
		w.logger.Warn("watching client inbox failed", zap.String("dir", dir), zap.Error(err))
		return
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		w.logger.Warn("reading client inbox failed", zap.String("dir", dir), zap.Error(err))
		return
	}
	for _, e := range entries {
		path := filepath.Join(dir, e.Name())
		if e.Type().IsRegular() && !ignored(path) {
			w.schedule(ctx, path, clientID, false)
		}
	}
}

// clientFor returns the client ID of a file directly inside a client directory.
func (w *Watcher) clientFor(path string) (string, bool) {
	abs, err := sanitize.ValidatePath(path, w.root)
	if err != nil {
		return "", false
	}
	rel, err := filepath.Rel(w.root, abs)
	if err != nil {
		return "", false
	}
	parts := strings.Split(rel, string(filepath.Separator))
	if len(parts) != 2 {
		return "", false
	}
	return parts[0], true
}

// schedule (re)starts the debounce timer of path.
func (w *Watcher) schedule(ctx context.Context, path, clientID string, reindex bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stopped {
		return
	}
	if t, ok := w.pending[path]; ok {
		if t.Stop() {
			w.wg.Done()
		}
	}
	w.wg.Add(1)
	var t *time.Timer
	t = time.AfterFunc(w.debounce, func() {
		defer w.wg.Done()
		w.mu.Lock()
		if w.pending[path] == t {
			delete(w.pending, path)
		}
		w.mu.Unlock()
		w.ingest(ctx, path, clientID, reindex)
	})
	w.pending[path] = t
}

func (w *Watcher) cancel(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if t, ok := w.pending[path]; ok {
		if t.Stop() {
			w.wg.Done()
		}
		delete(w.pending, path)
	}
}

func (w *Watcher) ingest(ctx context.Context, path, clientID string, reindex bool) {
	if ctx.Err() != nil {
		return
	}
	ev := Event{Path: path, ClientID: clientID, Time: time.Now()}
	f, err := os.Open(path)
	if err != nil {
		ev.Err = fmt.Errorf("opening %s: %w", filepath.Base(path), err)
	} else {
		ev.Result, ev.Err = w.svc.IngestFile(ctx, clientID, filepath.Base(path), f, ingest.Options{Reindex: reindex})
		_ = f.Close()
	}

	if ev.Err != nil {
		w.logger.Warn("inbox ingestion failed",
			zap.String("client.id", clientID),
			zap.String("file", filepath.Base(path)),
			zap.Error(ev.Err))
	} else {
		w.logger.Info("inbox file ingested",
			zap.String("client.id", clientID),
			zap.String("file", filepath.Base(path)),
			zap.String("status", string(ev.Result.Status)),
			zap.Int("chunks", len(ev.Result.ChunkIDs)))
	}

	select {
	case w.events <- ev:
	default:
	}
}

// ignored skips hidden files and editor temporaries.
func ignored(path string) bool {
	base := filepath.Base(path)
	return strings.HasPrefix(base, ".") || strings.HasSuffix(base, "~") || strings.HasSuffix(base, ".swp") || strings.HasSuffix(base, ".tmp")
}
