// Package ingestion walks a source tree and reindexes every parseable
// file into the registry with a bounded worker pool.
package ingestion

import (
	"context"
	stderrors "errors"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/rohankatakam/entitystore/internal/config"
	"github.com/rohankatakam/entitystore/internal/registry"
	"github.com/rohankatakam/entitystore/internal/storage"
)

// Target receives parsed files. *registry.Registry implements it.
type Target interface {
	IndexSource(ctx context.Context, rel string, source []byte, mtime time.Time) (*registry.FileResult, error)
	RemoveFile(ctx context.Context, path string) []string
	Files() []string
}

// IndexClock records when a root was last indexed
type IndexClock interface {
	GetLastIndexTime(ctx context.Context, root string) (time.Time, error)
	SetLastIndexTime(ctx context.Context, root string, t time.Time) error
}

// Config holds indexer settings
type Config struct {
	Workers     int
	Ignore      []string
	MaxFileSize int64
	// Incremental skips files not modified since the last run
	Incremental bool
}

// ConfigFromIndex adapts the index section of the config file
func ConfigFromIndex(cfg config.IndexConfig) Config {
	return Config{
		Workers:     cfg.Workers,
		Ignore:      cfg.Ignore,
		MaxFileSize: cfg.MaxFileSize,
	}
}

// Failure is one file that could not be indexed
type Failure struct {
	Path  string `json:"path"`
	Error string `json:"error"`
}

// Result summarizes a run. Failures never abort the run.
type Result struct {
	Root             string        `json:"root"`
	FilesSeen        int           `json:"files_seen"`
	FilesIndexed     int           `json:"files_indexed"`
	FilesSkipped     int           `json:"files_skipped"`
	FilesUnsupported int           `json:"files_unsupported"`
	FilesRemoved     int           `json:"files_removed"`
	Added            int           `json:"added"`
	Updated          int           `json:"updated"`
	Archived         int           `json:"archived"`
	Unchanged        int           `json:"unchanged"`
	Failures         []Failure     `json:"failures,omitempty"`
	Duration         time.Duration `json:"duration"`
}

// Indexer reindexes a whole tree
type Indexer struct {
	cfg    Config
	target Target
	clock  IndexClock
	ignore *Ignorer
	logger *logrus.Logger
}

// NewIndexer creates an indexer. clock may be nil.
func NewIndexer(target Target, clock IndexClock, cfg Config, logger *logrus.Logger) (*Indexer, error) {
	if cfg.Workers <= 0 {
		cfg.Workers = 8
	}
	ignore, err := NewIgnorer(cfg.Ignore)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = logrus.New()
	}
	return &Indexer{cfg: cfg, target: target, clock: clock, ignore: ignore, logger: logger}, nil
}

// Run indexes every supported file under root. root must be the root the
// target resolves relative paths against. Cancelling ctx stops scheduling
// new files; the partial result is returned with ctx's error.
func (ix *Indexer) Run(ctx context.Context, root string) (*Result, error) {
	start := time.Now()
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	res := &Result{Root: abs}

	var since time.Time
	if ix.cfg.Incremental && ix.clock != nil {
		if t, err := ix.clock.GetLastIndexTime(ctx, abs); err == nil {
			since = t
		} else if !stderrors.Is(err, storage.ErrNotFound) {
			ix.logger.WithError(err).Warn("last index time unavailable, running full index")
		}
	}

	ix.logger.WithFields(logrus.Fields{
		"root":        abs,
		"workers":     ix.cfg.Workers,
		"incremental": !since.IsZero(),
	}).Info("starting index")

	var (
		mu   sync.Mutex
		seen = make(map[string]bool)
	)
	record := func(fn func()) {
		mu.Lock()
		defer mu.Unlock()
		fn()
	}

	files, walkErr := WalkSourceFiles(ctx, abs, ix.ignore)

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < ix.cfg.Workers; i++ {
		g.Go(func() error {
			for f := range files {
				record(func() {
					res.FilesSeen++
					seen[f.Rel] = true
				})
				if gctx.Err() != nil {
					continue
				}
				ix.indexFile(gctx, f, since, res, record)
			}
			return nil
		})
	}
	_ = g.Wait()

	if err := <-walkErr; err != nil && !stderrors.Is(err, context.Canceled) {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		res.Duration = time.Since(start)
		return res, err
	}

	for _, rel := range ix.target.Files() {
		if seen[rel] {
			continue
		}
		if _, err := os.Stat(filepath.Join(abs, filepath.FromSlash(rel))); err == nil && !ix.ignore.Ignored(rel) {
			continue
		}
		archived := ix.target.RemoveFile(ctx, rel)
		res.FilesRemoved++
		res.Archived += len(archived)
	}

	sort.Slice(res.Failures, func(i, j int) bool { return res.Failures[i].Path < res.Failures[j].Path })
	res.Duration = time.Since(start)

	if ix.clock != nil {
		if err := ix.clock.SetLastIndexTime(ctx, abs, start); err != nil {
			ix.logger.WithError(err).Warn("failed to record index time")
		}
	}

	ix.logger.WithFields(logrus.Fields{
		"files":    res.FilesIndexed,
		"failed":   len(res.Failures),
		"added":    res.Added,
		"updated":  res.Updated,
		"archived": res.Archived,
		"duration": res.Duration,
	}).Info("index complete")
	return res, nil
}

func (ix *Indexer) indexFile(ctx context.Context, f SourceFile, since time.Time, res *Result, record func(func())) {
	if ix.cfg.MaxFileSize > 0 && f.Info.Size() > ix.cfg.MaxFileSize {
		ix.logger.WithFields(logrus.Fields{"path": f.Rel, "size": f.Info.Size()}).Debug("skipping large file")
		record(func() { res.FilesSkipped++ })
		return
	}
	if !since.IsZero() && !f.Info.ModTime().After(since) {
		record(func() { res.FilesSkipped++ })
		return
	}

	source, err := os.ReadFile(f.Path)
	if err != nil {
		record(func() { res.Failures = append(res.Failures, Failure{Path: f.Rel, Error: err.Error()}) })
		return
	}

	fr, err := ix.target.IndexSource(ctx, f.Rel, source, f.Info.ModTime())
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		ix.logger.WithError(err).WithField("path", f.Rel).Warn("failed to index file")
		record(func() { res.Failures = append(res.Failures, Failure{Path: f.Rel, Error: err.Error()}) })
		return
	}

	record(func() {
		if fr.Unsupported {
			res.FilesUnsupported++
			return
		}
		res.FilesIndexed++
		res.Added += len(fr.Added)
		res.Updated += len(fr.Updated)
		res.Archived += len(fr.Archived)
		res.Unchanged += fr.Unchanged
	})
}
