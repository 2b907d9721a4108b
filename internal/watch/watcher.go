// Package watch keeps the registry in step with the working tree by
// reindexing files as they change on disk.
package watch

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/rohankatakam/entitystore/internal/config"
	"github.com/rohankatakam/entitystore/internal/ingestion"
	"github.com/rohankatakam/entitystore/internal/registry"
)

// Handler reacts to one settled file change. *registry.Registry implements it.
type Handler interface {
	HandleFileChange(ctx context.Context, path string) (*registry.FileResult, error)
}

// Event reports the outcome of one handled change
type Event struct {
	// Path is relative to the watched root
	Path   string
	Result *registry.FileResult
	Err    error
}

// Config holds watcher settings
type Config struct {
	// Debounce is the quiet period a path needs before it is handled
	Debounce time.Duration
	// RateLimit caps handled changes per second; zero disables the cap
	RateLimit float64
	Burst     int
	Ignore    []string
	// OnEvent is called after every handled change
	OnEvent func(Event)
}

// ConfigFromWatch adapts the watch and index sections of the config file
func ConfigFromWatch(cfg config.WatchConfig, index config.IndexConfig) Config {
	return Config{
		Debounce:  cfg.Debounce,
		RateLimit: cfg.RateLimit,
		Burst:     cfg.Burst,
		Ignore:    index.Ignore,
	}
}

// Watcher watches a tree recursively and hands settled changes to a Handler
type Watcher struct {
	root    string
	handler Handler
	cfg     Config
	ignore  *ingestion.Ignorer
	limiter *rate.Limiter
	logger  *logrus.Logger

	fsw     *fsnotify.Watcher
	pending chan string
	ready   chan struct{}
	done    chan struct{}

	// startErr is set before ready closes when the initial watches fail
	startErr error

	mu     sync.Mutex
	timers map[string]*time.Timer
}

// New creates a watcher for root. Nothing is watched until Run.
func New(root string, handler Handler, cfg Config, logger *logrus.Logger) (*Watcher, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	ignore, err := ingestion.NewIgnorer(cfg.Ignore)
	if err != nil {
		return nil, err
	}
	if cfg.Debounce <= 0 {
		cfg.Debounce = 300 * time.Millisecond
	}
	limit := rate.Inf
	if cfg.RateLimit > 0 {
		limit = rate.Limit(cfg.RateLimit)
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 1
	}
	if logger == nil {
		logger = logrus.New()
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}

	return &Watcher{
		root:    abs,
		handler: handler,
		cfg:     cfg,
		ignore:  ignore,
		limiter: rate.NewLimiter(limit, cfg.Burst),
		logger:  logger,
		fsw:     fsw,
		pending: make(chan string, 256),
		ready:   make(chan struct{}),
		done:    make(chan struct{}),
		timers:  make(map[string]*time.Timer),
	}, nil
}

// Ready is closed once the initial directory watches are in place, or
// once Run has failed to place them. StartErr tells the two apart.
func (w *Watcher) Ready() <-chan struct{} {
	return w.ready
}

// StartErr returns the error that stopped Run before it was ready. It is
// only meaningful after Ready is closed.
func (w *Watcher) StartErr() error {
	return w.startErr
}

// Run watches until ctx is cancelled. It returns nil on cancellation.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.fsw.Close()
	defer close(w.done)
	defer w.stopTimers()

	dirs, err := w.addTree(w.root, false)
	if err != nil {
		w.startErr = err
		close(w.ready)
		return err
	}
	w.logger.WithFields(logrus.Fields{"root": w.root, "dirs": dirs}).Info("watching for changes")
	close(w.ready)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		w.dispatch(ctx)
	}()
	defer wg.Wait()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-w.fsw.Events:
			if !ok {
				return nil
			}
			w.handleEvent(event)

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return nil
			}
			w.logger.WithError(err).Warn("watch error")
		}
	}
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	if event.Op == fsnotify.Chmod {
		return
	}
	rel, ok := w.rel(event.Name)
	if !ok {
		return
	}

	if event.Has(fsnotify.Create) {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			if ingestion.SkipDir(info.Name()) || w.ignore.Ignored(rel) {
				return
			}
			// files written before the watch was added are picked up by the scan
			if _, err := w.addTree(event.Name, true); err != nil {
				w.logger.WithError(err).WithField("dir", rel).Warn("failed to watch new directory")
			}
			return
		}
	}

	if !ingestion.Supported(rel) || w.ignore.Ignored(rel) {
		return
	}
	w.schedule(event.Name)
}

// addTree watches dir and every non-excluded directory below it. With
// schedule set, supported files found on the way are queued too.
func (w *Watcher) addTree(dir string, schedule bool) (int, error) {
	count := 0
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == dir {
				return err
			}
			return nil
		}
		rel, _ := w.rel(path)
		if !d.IsDir() {
			if schedule && d.Type().IsRegular() && ingestion.Supported(rel) && !w.ignore.Ignored(rel) {
				w.schedule(path)
			}
			return nil
		}
		if path != w.root && (ingestion.SkipDir(d.Name()) || w.ignore.Ignored(rel)) {
			return filepath.SkipDir
		}
		if err := w.fsw.Add(path); err != nil {
			return fmt.Errorf("failed to watch directory %s: %w", path, err)
		}
		count++
		return nil
	})
	return count, err
}

// schedule (re)starts the quiet-period timer for path
func (w *Watcher) schedule(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if t, ok := w.timers[path]; ok {
		t.Stop()
	}
	w.timers[path] = time.AfterFunc(w.cfg.Debounce, func() {
		w.mu.Lock()
		delete(w.timers, path)
		w.mu.Unlock()

		select {
		case w.pending <- path:
		case <-w.done:
		}
	})
}

func (w *Watcher) stopTimers() {
	w.mu.Lock()
	defer w.mu.Unlock()
	for path, t := range w.timers {
		t.Stop()
		delete(w.timers, path)
	}
}

// dispatch hands settled paths to the handler one at a time, throttled by
// the limiter
func (w *Watcher) dispatch(ctx context.Context) {
	for {
		var path string
		select {
		case <-ctx.Done():
			return
		case path = <-w.pending:
		}

		if err := w.limiter.Wait(ctx); err != nil {
			return
		}

		rel, _ := w.rel(path)
		res, err := w.handler.HandleFileChange(ctx, path)
		entry := w.logger.WithField("path", rel)
		if err != nil {
			entry.WithError(err).Warn("reindex failed")
		} else if res != nil && res.Changed() {
			entry.WithFields(logrus.Fields{
				"added":    len(res.Added),
				"updated":  len(res.Updated),
				"archived": len(res.Archived),
			}).Info("reindexed")
		} else {
			entry.Debug("no entity changes")
		}

		if w.cfg.OnEvent != nil {
			w.cfg.OnEvent(Event{Path: rel, Result: res, Err: err})
		}
	}
}

func (w *Watcher) rel(path string) (string, bool) {
	rel, err := filepath.Rel(w.root, path)
	if err != nil {
		return "", false
	}
	return filepath.ToSlash(rel), true
}
