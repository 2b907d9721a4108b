package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override (ESTORE_CACHE_L2, ...)
const EnvPrefix = "ESTORE"

var envKeyReplacer = strings.NewReplacer(".", "_")

// Config holds all configuration settings
type Config struct {
	// Workspace root indexed by default
	Root string `yaml:"root" mapstructure:"root"`

	Storage  StorageConfig  `yaml:"storage" mapstructure:"storage"`
	Cache    CacheConfig    `yaml:"cache" mapstructure:"cache"`
	Registry RegistryConfig `yaml:"registry" mapstructure:"registry"`
	Index    IndexConfig    `yaml:"index" mapstructure:"index"`
	Watch    WatchConfig    `yaml:"watch" mapstructure:"watch"`
	Risk     RiskConfig     `yaml:"risk" mapstructure:"risk"`
	Neo4j    Neo4jConfig    `yaml:"neo4j" mapstructure:"neo4j"`
	Logging  LoggingConfig  `yaml:"logging" mapstructure:"logging"`
}

type StorageConfig struct {
	Type        string `yaml:"type" mapstructure:"type"` // "sqlite", "postgres", "none"
	PostgresDSN string `yaml:"postgres_dsn" mapstructure:"postgres_dsn"`
	LocalPath   string `yaml:"local_path" mapstructure:"local_path"`
}

type CacheConfig struct {
	Directory     string        `yaml:"directory" mapstructure:"directory"`
	MemoryEntries int           `yaml:"memory_entries" mapstructure:"memory_entries"`
	L2            string        `yaml:"l2" mapstructure:"l2"` // "badger", "redis", "none"
	L3            bool          `yaml:"l3" mapstructure:"l3"` // bolt tier
	RedisAddr     string        `yaml:"redis_addr" mapstructure:"redis_addr"`
	RedisPassword string        `yaml:"redis_password" mapstructure:"redis_password"`
	RedisDB       int           `yaml:"redis_db" mapstructure:"redis_db"`
	TTL           time.Duration `yaml:"ttl" mapstructure:"ttl"`
	QueryTTL      time.Duration `yaml:"query_ttl" mapstructure:"query_ttl"`
}

type RegistryConfig struct {
	CallerThreshold int           `yaml:"caller_threshold" mapstructure:"caller_threshold"`
	LockTTL         time.Duration `yaml:"lock_ttl" mapstructure:"lock_ttl"` // 0 = locks never go stale
	WriteBack       bool          `yaml:"write_back" mapstructure:"write_back"`
}

type IndexConfig struct {
	Workers     int      `yaml:"workers" mapstructure:"workers"`
	Ignore      []string `yaml:"ignore" mapstructure:"ignore"`
	MaxFileSize int64    `yaml:"max_file_size" mapstructure:"max_file_size"` // In bytes
}

type WatchConfig struct {
	Debounce  time.Duration `yaml:"debounce" mapstructure:"debounce"`
	RateLimit float64       `yaml:"rate_limit" mapstructure:"rate_limit"` // Reindexes per second
	Burst     int           `yaml:"burst" mapstructure:"burst"`
}

type RiskConfig struct {
	// Bump at or above which a breaking report fails the check
	FailOn string `yaml:"fail_on" mapstructure:"fail_on"`
	// Report breaking entries without failing
	WarnOnly bool `yaml:"warn_only" mapstructure:"warn_only"`
}

type Neo4jConfig struct {
	URI       string `yaml:"uri" mapstructure:"uri"`
	User      string `yaml:"user" mapstructure:"user"`
	Password  string `yaml:"password" mapstructure:"password"`
	Database  string `yaml:"database" mapstructure:"database"`
	BatchSize int    `yaml:"batch_size" mapstructure:"batch_size"`
}

type LoggingConfig struct {
	Level      string `yaml:"level" mapstructure:"level"`
	Format     string `yaml:"format" mapstructure:"format"` // "text", "json"
	File       string `yaml:"file" mapstructure:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb" mapstructure:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups" mapstructure:"max_backups"`
}

// DefaultIgnore is skipped by the indexer and the watcher
var DefaultIgnore = []string{
	"**/.git/**",
	"**/node_modules/**",
	"**/__pycache__/**",
	"**/.venv/**",
	"**/venv/**",
	"**/dist/**",
	"**/build/**",
	"**/.estore/**",
}

// Default returns default configuration
func Default() *Config {
	return &Config{
		Root: ".",
		Storage: StorageConfig{
			Type:      "sqlite",
			LocalPath: filepath.Join(".estore", "index.db"),
		},
		Cache: CacheConfig{
			Directory:     filepath.Join(".estore", "cache"),
			MemoryEntries: 10000,
			L2:            "badger",
			L3:            true,
			RedisAddr:     "localhost:6379",
			TTL:           24 * time.Hour,
			QueryTTL:      5 * time.Minute,
		},
		Registry: RegistryConfig{
			CallerThreshold: 3,
			LockTTL:         30 * time.Minute,
			WriteBack:       true,
		},
		Index: IndexConfig{
			Workers:     8,
			Ignore:      append([]string(nil), DefaultIgnore...),
			MaxFileSize: 1024 * 1024, // 1MB
		},
		Watch: WatchConfig{
			Debounce:  300 * time.Millisecond,
			RateLimit: 20,
			Burst:     10,
		},
		Risk: RiskConfig{
			FailOn: "major",
		},
		Neo4j: Neo4jConfig{
			User:      "neo4j",
			Database:  "neo4j",
			BatchSize: 500,
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "text",
			MaxSizeMB:  10,
			MaxBackups: 3,
		},
	}
}

// Load loads configuration from file
func Load(path string) (*Config, error) {
	// Load .env files first (in order of precedence)
	loadEnvFiles()

	v := viper.New()
	v.SetConfigType("yaml")

	// Set defaults
	cfg := Default()
	setDefaults(v, cfg)

	// Load from environment variables
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(envKeyReplacer)
	v.AutomaticEnv()

	// Try to find config file
	if path != "" {
		v.SetConfigFile(path)
	} else {
		// Search for config in standard locations
		v.SetConfigName("config")
		v.AddConfigPath(".estore")
		v.AddConfigPath(".")
		homeDir, _ := os.UserHomeDir()
		v.AddConfigPath(filepath.Join(homeDir, ".estore"))
	}

	// Read config file if it exists
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		// Config file not found is OK, use defaults
	}

	// Unmarshal into struct
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Apply environment variable overrides
	applyEnvOverrides(cfg)

	cfg.Storage.LocalPath = expandPath(cfg.Storage.LocalPath)
	cfg.Cache.Directory = expandPath(cfg.Cache.Directory)
	cfg.Logging.File = expandPath(cfg.Logging.File)

	return cfg, nil
}

// setDefaults registers every leaf key so AutomaticEnv can override
// nested values
func setDefaults(v *viper.Viper, cfg *Config) {
	v.SetDefault("root", cfg.Root)

	v.SetDefault("storage.type", cfg.Storage.Type)
	v.SetDefault("storage.postgres_dsn", cfg.Storage.PostgresDSN)
	v.SetDefault("storage.local_path", cfg.Storage.LocalPath)

	v.SetDefault("cache.directory", cfg.Cache.Directory)
	v.SetDefault("cache.memory_entries", cfg.Cache.MemoryEntries)
	v.SetDefault("cache.l2", cfg.Cache.L2)
	v.SetDefault("cache.l3", cfg.Cache.L3)
	v.SetDefault("cache.redis_addr", cfg.Cache.RedisAddr)
	v.SetDefault("cache.redis_password", cfg.Cache.RedisPassword)
	v.SetDefault("cache.redis_db", cfg.Cache.RedisDB)
	v.SetDefault("cache.ttl", cfg.Cache.TTL)
	v.SetDefault("cache.query_ttl", cfg.Cache.QueryTTL)

	v.SetDefault("registry.caller_threshold", cfg.Registry.CallerThreshold)
	v.SetDefault("registry.lock_ttl", cfg.Registry.LockTTL)
	v.SetDefault("registry.write_back", cfg.Registry.WriteBack)

	v.SetDefault("index.workers", cfg.Index.Workers)
	v.SetDefault("index.ignore", cfg.Index.Ignore)
	v.SetDefault("index.max_file_size", cfg.Index.MaxFileSize)

	v.SetDefault("watch.debounce", cfg.Watch.Debounce)
	v.SetDefault("watch.rate_limit", cfg.Watch.RateLimit)
	v.SetDefault("watch.burst", cfg.Watch.Burst)

	v.SetDefault("risk.fail_on", cfg.Risk.FailOn)
	v.SetDefault("risk.warn_only", cfg.Risk.WarnOnly)

	v.SetDefault("neo4j.uri", cfg.Neo4j.URI)
	v.SetDefault("neo4j.user", cfg.Neo4j.User)
	v.SetDefault("neo4j.password", cfg.Neo4j.Password)
	v.SetDefault("neo4j.database", cfg.Neo4j.Database)
	v.SetDefault("neo4j.batch_size", cfg.Neo4j.BatchSize)

	v.SetDefault("logging.level", cfg.Logging.Level)
	v.SetDefault("logging.format", cfg.Logging.Format)
	v.SetDefault("logging.file", cfg.Logging.File)
	v.SetDefault("logging.max_size_mb", cfg.Logging.MaxSizeMB)
	v.SetDefault("logging.max_backups", cfg.Logging.MaxBackups)
}

// loadEnvFiles loads .env files in order of precedence
func loadEnvFiles() {
	// godotenv.Load never overrides variables that are already set, so the
	// first file to define a key wins
	envFiles := []string{
		".env.local", // Local overrides (highest precedence)
		".env",       // Main environment file
	}

	for _, file := range envFiles {
		if _, err := os.Stat(file); err == nil {
			godotenv.Load(file)
		}
	}

	// Also try loading from home directory
	homeDir, _ := os.UserHomeDir()
	homeEnvFile := filepath.Join(homeDir, ".estore", ".env")
	if _, err := os.Stat(homeEnvFile); err == nil {
		godotenv.Load(homeEnvFile)
	}
}

// applyEnvOverrides applies the conventional unprefixed variables shared
// with other tools
func applyEnvOverrides(cfg *Config) {
	// Storage configuration
	if dsn := os.Getenv("DATABASE_URL"); dsn != "" && cfg.Storage.PostgresDSN == "" {
		cfg.Storage.PostgresDSN = dsn
	}

	// Neo4j configuration
	// Precedence: 1. Env var (highest) 2. Config file 3. Keychain
	if uri := os.Getenv("NEO4J_URI"); uri != "" {
		cfg.Neo4j.URI = uri
	}
	if user := os.Getenv("NEO4J_USER"); user != "" {
		cfg.Neo4j.User = user
	}
	if password := os.Getenv("NEO4J_PASSWORD"); password != "" {
		cfg.Neo4j.Password = password
	}
	if db := os.Getenv("NEO4J_DATABASE"); db != "" {
		cfg.Neo4j.Database = db
	}

	// Redis configuration
	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		cfg.Cache.RedisAddr = addr
	}
	if db := os.Getenv("REDIS_DB"); db != "" {
		if n, err := strconv.Atoi(db); err == nil {
			cfg.Cache.RedisDB = n
		}
	}

	// Secrets not set anywhere else come from the OS keychain
	if !IsCI() && (cfg.Neo4j.Password == "" || cfg.Cache.RedisPassword == "") {
		km := NewKeyringManager()
		if km.IsAvailable() {
			if cfg.Neo4j.Password == "" {
				if secret, err := km.Get(KeyringNeo4jPasswordItem); err == nil {
					cfg.Neo4j.Password = secret
				}
			}
			if cfg.Cache.RedisPassword == "" {
				if secret, err := km.Get(KeyringRedisPasswordItem); err == nil {
					cfg.Cache.RedisPassword = secret
				}
			}
		}
	}
}

// expandPath expands ~ to home directory
func expandPath(path string) string {
	if path == "" {
		return path
	}
	if path[0] == '~' {
		homeDir, _ := os.UserHomeDir()
		return filepath.Join(homeDir, path[1:])
	}
	return path
}

// Save saves configuration to file
func (c *Config) Save(path string) error {
	v := viper.New()
	v.SetConfigType("yaml")

	// Convert struct to map for Viper
	v.Set("root", c.Root)
	v.Set("storage", c.Storage)
	v.Set("cache", c.Cache)
	v.Set("registry", c.Registry)
	v.Set("index", c.Index)
	v.Set("watch", c.Watch)
	v.Set("risk", c.Risk)
	v.Set("neo4j", c.Neo4j)
	v.Set("logging", c.Logging)

	// Ensure directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	// Write config file
	if err := v.WriteConfigAs(path); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	return nil
}
