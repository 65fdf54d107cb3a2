package watch_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scrypster/featuregraph/internal/watch"
)

type call struct {
	path string
	slug string
}

type recorder struct {
	mu    sync.Mutex
	calls []call
	times []time.Time
	err   error
}

func (r *recorder) handle(_ context.Context, path, slug string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, call{path, slug})
	r.times = append(r.times, time.Now())
	return r.err
}

func (r *recorder) snapshot() []call {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]call(nil), r.calls...)
}

func startWatcher(t *testing.T, dir string, rec *recorder) *watch.Watcher {
	t.Helper()
	w := watch.New(dir, 50*time.Millisecond, rec.handle, nil)
	require.NoError(t, w.Start())
	t.Cleanup(w.Stop)
	return w
}

func TestWatcher_RebuildsOnWrite(t *testing.T) {
	dir := t.TempDir()
	rec := &recorder{}
	startWatcher(t, dir, rec)

	path := filepath.Join(dir, "requirements-auth.md")
	require.NoError(t, os.WriteFile(path, []byte("# Auth\n"), 0o644))

	require.Eventually(t, func() bool { return len(rec.snapshot()) > 0 }, 5*time.Second, 20*time.Millisecond)
	got := rec.snapshot()[0]
	assert.Equal(t, path, got.path)
	assert.Equal(t, "auth", got.slug)
}

func TestWatcher_DebouncesBursts(t *testing.T) {
	dir := t.TempDir()
	rec := &recorder{}
	startWatcher(t, dir, rec)

	path := filepath.Join(dir, "requirements-auth.md")
	for i := 0; i < 5; i++ {
		require.NoError(t, os.WriteFile(path, []byte("# Auth\n"), 0o644))
	}

	require.Eventually(t, func() bool { return len(rec.snapshot()) > 0 }, 5*time.Second, 20*time.Millisecond)
	time.Sleep(200 * time.Millisecond)
	assert.Len(t, rec.snapshot(), 1)
}

func TestWatcher_IgnoresOtherFiles(t *testing.T) {
	dir := t.TempDir()
	rec := &recorder{}
	startWatcher(t, dir, rec)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "EXAMPLE-requirements-demo.md"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.md"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "requirements-real.md"), []byte("x"), 0o644))

	require.Eventually(t, func() bool { return len(rec.snapshot()) > 0 }, 5*time.Second, 20*time.Millisecond)
	time.Sleep(200 * time.Millisecond)

	calls := rec.snapshot()
	require.Len(t, calls, 1)
	assert.Equal(t, "real", calls[0].slug)
}

func TestWatcher_HandlerErrorKeepsWatching(t *testing.T) {
	dir := t.TempDir()
	rec := &recorder{err: errors.New("parse failed")}
	startWatcher(t, dir, rec)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "requirements-a.md"), []byte("x"), 0o644))
	require.Eventually(t, func() bool { return len(rec.snapshot()) == 1 }, 5*time.Second, 20*time.Millisecond)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "requirements-b.md"), []byte("x"), 0o644))
	require.Eventually(t, func() bool { return len(rec.snapshot()) == 2 }, 5*time.Second, 20*time.Millisecond)
}

func TestWatcher_StartErrors(t *testing.T) {
	rec := &recorder{}

	w := watch.New(filepath.Join(t.TempDir(), "missing"), 0, rec.handle, nil)
	assert.Error(t, w.Start())
	w.Stop()

	w = watch.New(t.TempDir(), 0, nil, nil)
	assert.Error(t, w.Start())
	w.Stop()
}

func TestWatcher_RateLimitSpacesRebuilds(t *testing.T) {
	dir := t.TempDir()
	rec := &recorder{}
	w := watch.New(dir, 20*time.Millisecond, rec.handle, nil)
	w.SetRateLimit(4)
	require.NoError(t, w.Start())
	t.Cleanup(w.Stop)

	for _, slug := range []string{"a", "b", "c"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, "requirements-"+slug+".md"), []byte("# x\n"), 0o644))
	}

	require.Eventually(t, func() bool { return len(rec.snapshot()) == 3 }, 5*time.Second, 20*time.Millisecond)

	rec.mu.Lock()
	defer rec.mu.Unlock()
	// Burst of one at 4/s: the third rebuild waits for two further tokens.
	assert.GreaterOrEqual(t, rec.times[2].Sub(rec.times[0]), 400*time.Millisecond)
}

func TestWatcher_StopAbandonsQueuedRebuilds(t *testing.T) {
	dir := t.TempDir()
	rec := &recorder{}
	w := watch.New(dir, 20*time.Millisecond, rec.handle, nil)
	w.SetRateLimit(0.5)
	require.NoError(t, w.Start())

	for _, slug := range []string{"a", "b", "c"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, "requirements-"+slug+".md"), []byte("# x\n"), 0o644))
	}
	require.Eventually(t, func() bool { return len(rec.snapshot()) == 1 }, 5*time.Second, 10*time.Millisecond)

	stopped := make(chan struct{})
	go func() {
		w.Stop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("Stop blocked on rebuilds waiting for the rate limiter")
	}

	time.Sleep(100 * time.Millisecond)
	assert.Len(t, rec.snapshot(), 1, "no rebuild runs after Stop returns")
}
