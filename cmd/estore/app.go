package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/rohankatakam/entitystore/internal/cache"
	"github.com/rohankatakam/entitystore/internal/config"
	"github.com/rohankatakam/entitystore/internal/errors"
	"github.com/rohankatakam/entitystore/internal/ingestion"
	"github.com/rohankatakam/entitystore/internal/logging"
	"github.com/rohankatakam/entitystore/internal/output"
	"github.com/rohankatakam/entitystore/internal/query"
	"github.com/rohankatakam/entitystore/internal/registry"
	"github.com/rohankatakam/entitystore/internal/risk"
	"github.com/rohankatakam/entitystore/internal/storage"
	"github.com/rohankatakam/entitystore/internal/treesitter"
)

// app holds the components one command runs against
type app struct {
	cfg      *config.Config
	root     string
	log      *logging.Logger
	logger   *logrus.Logger
	printer  *output.Printer
	store    storage.Store
	cache    *cache.Manager
	registry *registry.Registry
	engine   *query.Engine
	analyzer *risk.Analyzer
}

// loadConfig reads the config file and applies the global flags
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		if cfgFile != "" {
			return nil, err
		}
		fmt.Fprintf(os.Stderr, "Warning: failed to load config, using defaults: %v\n", err)
		cfg = config.Default()
	}
	if rootDir != "" {
		cfg.Root = rootDir
	}
	if verbose {
		cfg.Logging.Level = "debug"
	}
	return cfg, nil
}

// openApp wires the store, cache, registry and query side. Without a
// durable store the registry is rebuilt by indexing the tree.
func openApp(cmd *cobra.Command) (*app, error) {
	ctx := cmd.Context()
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	if err := cfg.Require(config.ValidationContextIndex); err != nil {
		return nil, err
	}
	f, err := output.ParseFormat(format)
	if err != nil {
		return nil, err
	}

	log, err := logging.New(logging.FromConfig(cfg.Logging), os.Stderr)
	if err != nil {
		return nil, err
	}
	a := &app{
		cfg:     cfg,
		root:    cfg.Root,
		log:     log,
		logger:  log.Logger,
		printer: output.NewPrinter(cmd.OutOrStdout(), f),
	}

	if a.store, err = storage.Open(cfg.Storage.Type, a.storePath(cfg.Storage.LocalPath), cfg.Storage.PostgresDSN, a.logger); err != nil {
		a.Close()
		return nil, errors.DatabaseError(err, "failed to open store")
	}
	if a.cache, err = cache.NewFromConfig(ctx, a.cacheConfig(), a.logger); err != nil {
		a.Close()
		return nil, err
	}

	a.registry = registry.New(registry.Options{
		Root:            a.root,
		CallerThreshold: cfg.Registry.CallerThreshold,
		LockTTL:         cfg.Registry.LockTTL,
		WriteBack:       cfg.Registry.WriteBack,
		Store:           a.store,
		Cache:           a.cache,
		Parser:          treesitter.New(),
		Logger:          a.logger,
		ParseCache:      a.cache,
		ParseTTL:        cfg.Cache.TTL,
	})

	queryCfg := query.Config{Cache: a.cache, TTL: cfg.Cache.QueryTTL, Logger: a.logger}
	if a.store != nil {
		queryCfg.Search = a.store
	}
	a.engine = query.New(a.registry, queryCfg)
	a.analyzer = risk.NewAnalyzer(a.registry, cfg.Registry.CallerThreshold, a.logger)

	if err := a.load(ctx); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *app) load(ctx context.Context) error {
	if a.store != nil {
		n, err := a.registry.Load(ctx)
		if err != nil {
			return err
		}
		a.logger.WithField("entities", n).Debug("registry loaded")
		return nil
	}
	ix, err := a.indexer(false)
	if err != nil {
		return err
	}
	_, err = ix.Run(ctx, a.root)
	return err
}

// storePath resolves a relative database path against the workspace root
func (a *app) storePath(path string) string {
	return resolveUnder(a.root, path)
}

func (a *app) cacheConfig() config.CacheConfig {
	c := a.cfg.Cache
	c.Directory = resolveUnder(a.root, c.Directory)
	return c
}

func (a *app) indexer(incremental bool) (*ingestion.Indexer, error) {
	cfg := ingestion.ConfigFromIndex(a.cfg.Index)
	cfg.Incremental = incremental
	var clock ingestion.IndexClock
	if a.store != nil {
		clock = a.store
	}
	return ingestion.NewIndexer(a.registry, clock, cfg, a.logger)
}

// Close releases everything openApp acquired
func (a *app) Close() {
	if a.cache != nil {
		if err := a.cache.Close(); err != nil {
			a.logger.WithError(err).Warn("failed to close cache")
		}
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.logger.WithError(err).Warn("failed to close store")
		}
	}
	if a.log != nil {
		a.log.Close()
	}
}

// resolveUnder joins relative paths onto root
func resolveUnder(root, path string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(root, path)
}
