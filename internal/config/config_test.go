package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	assert.Equal(t, "sqlite", cfg.Storage.Type)
	assert.Equal(t, 3, cfg.Registry.CallerThreshold)
	assert.Equal(t, 30*time.Minute, cfg.Registry.LockTTL)
	assert.Equal(t, "badger", cfg.Cache.L2)
	assert.Contains(t, cfg.Index.Ignore, "**/.git/**")

	result := cfg.Validate(ValidationContextAll)
	assert.False(t, result.HasErrors(), result.Error())
}

func TestLoadFileAndEnv(t *testing.T) {
	t.Setenv("CI", "true")
	t.Setenv("ESTORE_CACHE_MEMORY_ENTRIES", "42")
	t.Setenv("ESTORE_REGISTRY_CALLER_THRESHOLD", "5")
	t.Setenv("NEO4J_URI", "bolt://graph.internal:7687")

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
storage:
  type: postgres
  postgres_dsn: postgres://estore@db/estore
cache:
  l2: redis
  redis_addr: cache:6379
registry:
  lock_ttl: 10m
index:
  workers: 2
`), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Storage.Type)
	assert.Equal(t, "postgres://estore@db/estore", cfg.Storage.PostgresDSN)
	assert.Equal(t, "redis", cfg.Cache.L2)
	assert.Equal(t, "cache:6379", cfg.Cache.RedisAddr)
	assert.Equal(t, 10*time.Minute, cfg.Registry.LockTTL)
	assert.Equal(t, 2, cfg.Index.Workers)
	assert.Equal(t, 42, cfg.Cache.MemoryEntries)
	assert.Equal(t, 5, cfg.Registry.CallerThreshold)
	assert.Equal(t, "bolt://graph.internal:7687", cfg.Neo4j.URI)

	// Untouched keys keep their defaults
	assert.Equal(t, 300*time.Millisecond, cfg.Watch.Debounce)
	assert.Equal(t, "info", cfg.Logging.Level)
}

func TestLoadRejectsMalformedFile(t *testing.T) {
	t.Setenv("CI", "true")
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("storage: [unclosed"), 0644))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		ctx     ValidationContext
		wantErr bool
	}{
		{"defaults index", func(*Config) {}, ValidationContextIndex, false},
		{"unknown storage", func(c *Config) { c.Storage.Type = "mongo" }, ValidationContextIndex, true},
		{"postgres without dsn", func(c *Config) { c.Storage.Type = "postgres" }, ValidationContextIndex, true},
		{"redis without addr", func(c *Config) { c.Cache.L2 = "redis"; c.Cache.RedisAddr = "" }, ValidationContextIndex, true},
		{"negative lock ttl", func(c *Config) { c.Registry.LockTTL = -time.Second }, ValidationContextIndex, true},
		{"graph needs uri", func(*Config) {}, ValidationContextGraph, true},
		{"graph ok", func(c *Config) {
			c.Neo4j.URI = "neo4j://localhost:7687"
			c.Neo4j.Password = "graph-secret"
		}, ValidationContextGraph, false},
		{"graph bad scheme", func(c *Config) {
			c.Neo4j.URI = "http://localhost:7474"
			c.Neo4j.Password = "graph-secret"
		}, ValidationContextGraph, true},
		{"bad fail_on", func(c *Config) { c.Risk.FailOn = "huge" }, ValidationContextAll, true},
		{"bad log format", func(c *Config) { c.Logging.Format = "xml" }, ValidationContextAll, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			result := cfg.Validate(tt.ctx)
			assert.Equal(t, tt.wantErr, result.HasErrors(), result.Error())
			if tt.wantErr {
				assert.Error(t, cfg.Require(tt.ctx))
			}
		})
	}
}

func TestSaveAndReload(t *testing.T) {
	t.Setenv("CI", "true")
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")

	cfg := Default()
	cfg.Registry.CallerThreshold = 7
	cfg.Risk.FailOn = "minor"
	require.NoError(t, cfg.Save(path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 7, loaded.Registry.CallerThreshold)
	assert.Equal(t, "minor", loaded.Risk.FailOn)
}
