package config

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/rohankatakam/entitystore/internal/errors"
)

// ValidationContext specifies what configuration is required
type ValidationContext string

const (
	// ValidationContextIndex - index and watch need storage and cache
	ValidationContextIndex ValidationContext = "index"
	// ValidationContextGraph - graph sync requires Neo4j
	ValidationContextGraph ValidationContext = "graph"
	// ValidationContextAll - validate all configuration
	ValidationContextAll ValidationContext = "all"
)

// ValidationResult holds validation results
type ValidationResult struct {
	Valid    bool
	Errors   []string
	Warnings []string
}

// AddError adds an error to the validation result
func (vr *ValidationResult) AddError(format string, args ...interface{}) {
	vr.Valid = false
	vr.Errors = append(vr.Errors, fmt.Sprintf(format, args...))
}

// AddWarning adds a warning to the validation result
func (vr *ValidationResult) AddWarning(format string, args ...interface{}) {
	vr.Warnings = append(vr.Warnings, fmt.Sprintf(format, args...))
}

// HasErrors returns true if there are any errors
func (vr *ValidationResult) HasErrors() bool {
	return !vr.Valid || len(vr.Errors) > 0
}

// Error returns a formatted error message
func (vr *ValidationResult) Error() string {
	if !vr.HasErrors() {
		return ""
	}

	var sb strings.Builder
	sb.WriteString("Configuration validation failed:\n")
	for _, err := range vr.Errors {
		sb.WriteString(fmt.Sprintf("  - %s\n", err))
	}

	if len(vr.Warnings) > 0 {
		sb.WriteString("\nWarnings:\n")
		for _, warn := range vr.Warnings {
			sb.WriteString(fmt.Sprintf("  - %s\n", warn))
		}
	}

	return sb.String()
}

// Validate validates configuration for the given context
func (c *Config) Validate(ctx ValidationContext) *ValidationResult {
	result := &ValidationResult{Valid: true}

	switch ctx {
	case ValidationContextIndex:
		c.validateStorage(result)
		c.validateCache(result)
		c.validateRegistry(result)
		c.validateIndex(result)
	case ValidationContextGraph:
		c.validateNeo4j(result, true)
	case ValidationContextAll:
		c.validateStorage(result)
		c.validateCache(result)
		c.validateRegistry(result)
		c.validateIndex(result)
		c.validateRisk(result)
		c.validateLogging(result)
		c.validateNeo4j(result, false)
	}

	return result
}

// Require returns a Config error when ctx does not validate
func (c *Config) Require(ctx ValidationContext) error {
	result := c.Validate(ctx)
	if result.HasErrors() {
		return errors.ConfigError(result.Error())
	}
	return nil
}

func (c *Config) validateStorage(result *ValidationResult) {
	switch c.Storage.Type {
	case "sqlite", "":
		if c.Storage.LocalPath == "" {
			result.AddError("storage.local_path is required for the sqlite backend")
		}
	case "postgres":
		if c.Storage.PostgresDSN == "" {
			result.AddError("storage.postgres_dsn (or DATABASE_URL) is required for the postgres backend")
		} else if !strings.HasPrefix(c.Storage.PostgresDSN, "postgres://") && !strings.HasPrefix(c.Storage.PostgresDSN, "postgresql://") {
			result.AddError("storage.postgres_dsn must start with postgres:// or postgresql://")
		} else if strings.Contains(c.Storage.PostgresDSN, "sslmode=disable") && IsCI() {
			result.AddWarning("storage.postgres_dsn has sslmode=disable")
		}
	case "none":
		result.AddWarning("storage.type is none; the index will not survive restarts")
	default:
		result.AddError("storage.type must be sqlite, postgres or none, got %q", c.Storage.Type)
	}
}

func (c *Config) validateCache(result *ValidationResult) {
	if c.Cache.MemoryEntries <= 0 {
		result.AddWarning("cache.memory_entries is invalid or not set, will use default (10000)")
	}

	switch c.Cache.L2 {
	case "badger", "redis", "none", "":
	default:
		result.AddError("cache.l2 must be badger, redis or none, got %q", c.Cache.L2)
	}

	if c.Cache.L2 == "redis" && c.Cache.RedisAddr == "" {
		result.AddError("cache.redis_addr is required when cache.l2 is redis")
	}
	if (c.Cache.L2 == "badger" || c.Cache.L3) && c.Cache.Directory == "" {
		result.AddError("cache.directory is required for the on-disk cache tiers")
	}
	if c.Cache.TTL < 0 || c.Cache.QueryTTL < 0 {
		result.AddError("cache TTLs cannot be negative")
	}
}

func (c *Config) validateRegistry(result *ValidationResult) {
	if c.Registry.CallerThreshold < 0 {
		result.AddError("registry.caller_threshold cannot be negative, got %d", c.Registry.CallerThreshold)
	}
	if c.Registry.LockTTL < 0 {
		result.AddError("registry.lock_ttl cannot be negative")
	}
}

func (c *Config) validateIndex(result *ValidationResult) {
	if c.Index.Workers <= 0 {
		result.AddWarning("index.workers is invalid, will use default (8)")
	}
	if c.Index.MaxFileSize <= 0 {
		result.AddWarning("index.max_file_size is invalid, files will not be size-limited")
	}
	if c.Watch.RateLimit < 0 {
		result.AddError("watch.rate_limit cannot be negative")
	}
}

func (c *Config) validateRisk(result *ValidationResult) {
	switch c.Risk.FailOn {
	case "major", "minor", "patch", "":
	default:
		result.AddError("risk.fail_on must be major, minor or patch, got %q", c.Risk.FailOn)
	}
}

func (c *Config) validateLogging(result *ValidationResult) {
	switch strings.ToLower(c.Logging.Level) {
	case "trace", "debug", "info", "warn", "warning", "error", "":
	default:
		result.AddError("logging.level %q is not a known level", c.Logging.Level)
	}
	if c.Logging.Format != "" && c.Logging.Format != "text" && c.Logging.Format != "json" {
		result.AddError("logging.format must be text or json, got %q", c.Logging.Format)
	}
}

func (c *Config) validateNeo4j(result *ValidationResult, required bool) {
	if c.Neo4j.URI == "" {
		if required {
			result.AddError("NEO4J_URI is required but not set")
		}
		return
	}

	// Validate URI format
	u, err := url.Parse(c.Neo4j.URI)
	if err != nil {
		result.AddError("NEO4J_URI is invalid: %v", err)
		return
	}
	switch u.Scheme {
	case "bolt", "bolt+s", "bolt+ssc", "neo4j", "neo4j+s", "neo4j+ssc":
	default:
		result.AddError("NEO4J_URI scheme %q is not a bolt or neo4j scheme", u.Scheme)
	}

	if c.Neo4j.User == "" {
		result.AddError("NEO4J_USER is required but not set")
	}
	if c.Neo4j.Password == "" {
		result.AddError("NEO4J_PASSWORD is required but not set. Set it via environment variable, .env file or keychain.")
	} else if c.Neo4j.Password == "neo4j" || c.Neo4j.Password == "password" {
		result.AddWarning("NEO4J_PASSWORD is set to a very common password")
	}
	if c.Neo4j.Database == "" {
		result.AddWarning("NEO4J_DATABASE is not set, will use 'neo4j' as default")
	}
	if c.Neo4j.BatchSize <= 0 {
		result.AddWarning("neo4j.batch_size is invalid, will use default (500)")
	}
}
