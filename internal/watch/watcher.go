// Package watch rebuilds feature graphs when requirements documents change.
package watch

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"golang.org/x/time/rate"

	"github.com/scrypster/featuregraph/internal/builder"
)

// DefaultDebounce is used when no debounce interval is configured.
const DefaultDebounce = 500 * time.Millisecond

// Handler is called once a changed document has been quiet for the debounce
// interval. slug is derived from the document's file name.
type Handler func(ctx context.Context, path, slug string) error

// Watcher watches a search directory for requirements documents.
type Watcher struct {
	dir      string
	debounce time.Duration
	handler  Handler
	logger   *slog.Logger
	limiter  *rate.Limiter

	watcher *fsnotify.Watcher
	done    chan struct{}
	ctx     context.Context
	cancel  context.CancelFunc

	mu       sync.Mutex
	pending  map[string]*time.Timer
	inflight sync.WaitGroup
	stopOnce sync.Once
}

// New creates a Watcher for dir. A zero debounce means DefaultDebounce and a
// nil logger means slog.Default().
func New(dir string, debounce time.Duration, handler Handler, logger *slog.Logger) *Watcher {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Watcher{
		dir:      dir,
		debounce: debounce,
		handler:  handler,
		logger:   logger.With("component", "watch"),
		done:     make(chan struct{}),
		ctx:      ctx,
		cancel:   cancel,
		pending:  make(map[string]*time.Timer),
	}
}

// SetRateLimit caps rebuilds across all documents at perSecond.
// Zero or negative removes the cap. Call before Start.
func (w *Watcher) SetRateLimit(perSecond float64) {
	if perSecond <= 0 {
		w.limiter = nil
		return
	}
	w.limiter = rate.NewLimiter(rate.Limit(perSecond), 1)
}

// Start begins watching. Call Stop to clean up.
func (w *Watcher) Start() error {
	if w.handler == nil {
		return fmt.Errorf("watch: handler is required")
	}
	info, err := os.Stat(w.dir)
	if err != nil {
		return fmt.Errorf("watch: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("watch: %s is not a directory", w.dir)
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("watch: %w", err)
	}
	if err := fw.Add(w.dir); err != nil {
		_ = fw.Close()
		return fmt.Errorf("watch: add %s: %w", w.dir, err)
	}
	w.watcher = fw

	go w.loop()
	w.logger.Info("watching for requirements changes", "dir", w.dir, "debounce", w.debounce)
	return nil
}

// Stop shuts down the watcher, drops pending rebuilds, and waits for
// running handlers to return.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		if w.watcher == nil {
			w.cancel()
			return
		}
		_ = w.watcher.Close()
		<-w.done

		// fire checks ctx under mu, so no handler starts once this section ends.
		w.mu.Lock()
		for path, t := range w.pending {
			t.Stop()
			delete(w.pending, path)
		}
		w.cancel()
		w.mu.Unlock()

		w.inflight.Wait()
	})
}

func (w *Watcher) loop() {
	defer close(w.done)
	for {
		select {
		case evt, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if evt.Op&(fsnotify.Create|fsnotify.Write) != 0 {
				w.schedule(evt.Name)
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Error("watcher error", "error", err)
		}
	}
}

// schedule (re)starts the debounce timer for path when it names a synced document.
func (w *Watcher) schedule(path string) {
	slug, ok := builder.SlugFromFilename(filepath.Base(path))
	if !ok {
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if t, ok := w.pending[path]; ok {
		t.Reset(w.debounce)
		return
	}
	w.pending[path] = time.AfterFunc(w.debounce, func() {
		w.fire(path, slug)
	})
}

func (w *Watcher) fire(path, slug string) {
	w.mu.Lock()
	delete(w.pending, path)
	if w.ctx.Err() != nil {
		w.mu.Unlock()
		return
	}
	w.inflight.Add(1)
	w.mu.Unlock()
	defer w.inflight.Done()

	if w.limiter != nil {
		if err := w.limiter.Wait(w.ctx); err != nil {
			return // stopped while waiting
		}
	}

	if err := w.handler(w.ctx, path, slug); err != nil {
		w.logger.Error("rebuild failed", "path", path, "slug", slug, "error", err)
		return
	}
	w.logger.Debug("rebuild complete", "path", path, "slug", slug)
}
