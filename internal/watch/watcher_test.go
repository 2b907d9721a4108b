package watch

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rohankatakam/entitystore/internal/logging"
	"github.com/rohankatakam/entitystore/internal/models"
	"github.com/rohankatakam/entitystore/internal/registry"
	"github.com/rohankatakam/entitystore/internal/treesitter"
)

type recorder struct {
	mu    sync.Mutex
	calls []string
}

func (r *recorder) HandleFileChange(_ context.Context, path string) (*registry.FileResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, path)
	return &registry.FileResult{Path: path}, nil
}

func (r *recorder) snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string{}, r.calls...)
}

func (r *recorder) count(path string) int {
	n := 0
	for _, c := range r.snapshot() {
		if c == path {
			n++
		}
	}
	return n
}

func start(t *testing.T, root string, h Handler, cfg Config) *Watcher {
	t.Helper()
	if cfg.Debounce == 0 {
		cfg.Debounce = 50 * time.Millisecond
	}
	w, err := New(root, h, cfg, logging.Discard())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Error("watcher did not stop")
		}
	})

	select {
	case <-w.Ready():
	case err := <-done:
		t.Fatalf("watcher exited early: %v", err)
	case <-time.After(5 * time.Second):
		t.Fatal("watcher not ready")
	}
	return w
}

func write(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
}

func TestDebouncedChange(t *testing.T) {
	root := t.TempDir()
	rec := &recorder{}
	start(t, root, rec, Config{Debounce: 150 * time.Millisecond})

	path := filepath.Join(root, "mod.py")
	for i := 0; i < 5; i++ {
		write(t, path, "x = 1\n")
	}

	require.Eventually(t, func() bool { return rec.count(path) >= 1 }, 3*time.Second, 20*time.Millisecond)
	time.Sleep(400 * time.Millisecond)
	assert.Equal(t, 1, rec.count(path))
}

func TestIgnoresUnsupportedAndIgnored(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(root, "gen"), 0755))
	require.NoError(t, os.Mkdir(filepath.Join(root, "node_modules"), 0755))
	rec := &recorder{}
	start(t, root, rec, Config{Ignore: []string{"gen/**"}})

	write(t, filepath.Join(root, "notes.txt"), "hi")
	write(t, filepath.Join(root, "gen", "out.py"), "x = 1\n")
	write(t, filepath.Join(root, "node_modules", "dep.js"), "x\n")
	marker := filepath.Join(root, "real.py")
	write(t, marker, "x = 1\n")

	require.Eventually(t, func() bool { return rec.count(marker) == 1 }, 3*time.Second, 20*time.Millisecond)
	time.Sleep(200 * time.Millisecond)
	assert.Equal(t, []string{marker}, rec.snapshot())
}

func TestNewDirectoryIsWatched(t *testing.T) {
	root := t.TempDir()
	rec := &recorder{}
	start(t, root, rec, Config{})

	dir := filepath.Join(root, "pkg", "sub")
	require.NoError(t, os.MkdirAll(dir, 0755))
	first := filepath.Join(dir, "a.py")
	write(t, first, "x = 1\n")
	require.Eventually(t, func() bool { return rec.count(first) >= 1 }, 3*time.Second, 20*time.Millisecond)

	second := filepath.Join(dir, "b.py")
	write(t, second, "y = 2\n")
	require.Eventually(t, func() bool { return rec.count(second) >= 1 }, 3*time.Second, 20*time.Millisecond)
}

func TestRemovalIsReported(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "gone.py")
	write(t, path, "x = 1\n")
	rec := &recorder{}
	start(t, root, rec, Config{})

	require.NoError(t, os.Remove(path))
	require.Eventually(t, func() bool { return rec.count(path) == 1 }, 3*time.Second, 20*time.Millisecond)
}

func TestReindexesRegistry(t *testing.T) {
	root := t.TempDir()
	reg := registry.New(registry.Options{Root: root, Parser: treesitter.New(), Logger: logging.Discard()})

	events := make(chan Event, 10)
	start(t, root, reg, Config{OnEvent: func(e Event) { events <- e }})

	write(t, filepath.Join(root, "svc.py"), "def handler():\n    pass\n")

	select {
	case e := <-events:
		require.NoError(t, e.Err)
		assert.Equal(t, "svc.py", e.Path)
		assert.Len(t, e.Result.Added, 1)
	case <-time.After(5 * time.Second):
		t.Fatal("no reindex event")
	}

	fns := reg.Filter(registry.FilterOptions{Type: models.TypeFunction})
	require.Len(t, fns, 1)
	assert.Equal(t, "handler", fns[0].Name)
}

func TestReadyClosesWhenStartFails(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "gone")
	w, err := New(missing, &recorder{}, Config{}, logging.Discard())
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- w.Run(context.Background()) }()

	select {
	case <-w.Ready():
	case <-time.After(5 * time.Second):
		t.Fatal("Ready blocked after a failed start")
	}
	assert.Error(t, w.StartErr())

	select {
	case err := <-done:
		assert.Error(t, err)
		assert.Equal(t, w.StartErr(), err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return")
	}
}
