// Package config loads and merges Ixchel's layered configuration:
// built-in defaults, the user config at $IXCHEL_HOME/config/config.toml,
// the project config at {repo}/.ixchel/config.toml, and finally
// IXCHEL_*-prefixed environment variable overrides.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

// Config is the complete Ixchel configuration.
type Config struct {
	Version   int             `toml:"version"`
	Daemon    DaemonConfig    `toml:"daemon"`
	Cache     CacheConfig     `toml:"cache"`
	Embedding EmbeddingConfig `toml:"embedding"`
	Search    SearchConfig    `toml:"search"`
	Logging   LoggingConfig   `toml:"logging"`
}

// DaemonConfig configures the background daemon (spec §4.6, §5).
type DaemonConfig struct {
	// AutoStart spawns ixcheld on demand when the client cannot connect.
	AutoStart bool `toml:"auto_start"`
	// IdleTimeoutMS is how long the daemon waits with no active queues
	// before exiting.
	IdleTimeoutMS int `toml:"idle_timeout_ms"`
	// WorkerPoolSize bounds concurrent per-repo sync workers.
	WorkerPoolSize int `toml:"worker_pool_size"`
	// ConnectRetries is the number of exponential-backoff reconnect
	// retries a client makes, after its first attempt, once it has
	// spawned the daemon.
	ConnectRetries int `toml:"connect_retries"`
	// AllowShutdown honors the `shutdown` command; disabled in production.
	AllowShutdown bool `toml:"allow_shutdown"`
}

// CacheConfig configures the Indexed Cache's embedded store (spec §4.4).
type CacheConfig struct {
	// MapSizeMB is loaded and validated as a size in MB, but store.Open
	// does not receive it; no reopen at a larger size takes place.
	MapSizeMB int `toml:"map_size_mb"`
	// MaxReaders is loaded but not applied; the number of concurrent
	// read transactions is not bounded.
	MaxReaders int `toml:"max_readers"`
	// HNSW tuning, per spec §9's Open Question (left to the implementation).
	HNSWM              int `toml:"hnsw_m"`
	HNSWEfConstruction int `toml:"hnsw_ef_construction"`
	HNSWEfSearch       int `toml:"hnsw_ef_search"`
}

// EmbeddingConfig configures the pluggable Embedding Provider contract
// (spec §2, §6).
type EmbeddingConfig struct {
	Provider  string `toml:"provider"`
	Model     string `toml:"model"`
	Dimension int    `toml:"dimension"`
	BatchSize int    `toml:"batch_size"`
}

// SearchConfig configures the Query Surface's search defaults (spec §4.7).
type SearchConfig struct {
	DefaultTopK         int `toml:"default_top_k"`
	OverfetchMultiplier int `toml:"overfetch_multiplier"`
	OverfetchMin        int `toml:"overfetch_min"`
}

// LoggingConfig configures the ambient slog setup.
type LoggingConfig struct {
	Level         string `toml:"level"`
	MaxSizeMB     int    `toml:"max_size_mb"`
	MaxFiles      int    `toml:"max_files"`
	WriteToStderr bool   `toml:"write_to_stderr"`
}

// NewConfig returns built-in defaults.
func NewConfig() *Config {
	return &Config{
		Version: 1,
		Daemon: DaemonConfig{
			AutoStart:      true,
			IdleTimeoutMS:  5 * 60 * 1000,
			WorkerPoolSize: 4,
			ConnectRetries: 5,
			AllowShutdown:  true,
		},
		Cache: CacheConfig{
			MapSizeMB:          256,
			MaxReaders:         126,
			HNSWM:              16,
			HNSWEfConstruction: 128,
			HNSWEfSearch:       20,
		},
		Embedding: EmbeddingConfig{
			Provider:  "static",
			Model:     "static-768",
			Dimension: 768,
			BatchSize: 32,
		},
		Search: SearchConfig{
			DefaultTopK:         10,
			OverfetchMultiplier: 2,
			OverfetchMin:        10,
		},
		Logging: LoggingConfig{
			Level:         "info",
			MaxSizeMB:     10,
			MaxFiles:      5,
			WriteToStderr: true,
		},
	}
}

// UserConfigPath returns $IXCHEL_HOME/config/config.toml.
func UserConfigPath() string {
	return filepath.Join(homeDir(), "config", "config.toml")
}

// homeDir mirrors internal/logging.HomeDir without importing it, to keep
// config dependency-free of the logging package.
func homeDir() string {
	if home := os.Getenv("IXCHEL_HOME"); home != "" {
		return home
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".ixchel")
	}
	return filepath.Join(home, ".ixchel")
}

// ProjectConfigPath returns {repoRoot}/.ixchel/config.toml.
func ProjectConfigPath(repoRoot string) string {
	return filepath.Join(repoRoot, ".ixchel", "config.toml")
}

// Load builds the final configuration for repoRoot: defaults, merged with
// the user config (if present), merged with the project config (if
// present), then environment overrides, then validated.
func Load(repoRoot string) (*Config, error) {
	cfg := NewConfig()

	if userCfg, err := loadFile(UserConfigPath()); err == nil {
		cfg.mergeWith(userCfg)
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("loading user config: %w", err)
	}

	if repoRoot != "" {
		if projCfg, err := loadFile(ProjectConfigPath(repoRoot)); err == nil {
			cfg.mergeWith(projCfg)
		} else if !os.IsNotExist(err) {
			return nil, fmt.Errorf("loading project config: %w", err)
		}
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func loadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return &cfg, nil
}

// mergeWith overlays non-zero fields from other onto c. Zero values in
// other never clobber c's existing (more-default) values, matching the
// layered defaults → user → project precedence.
func (c *Config) mergeWith(other *Config) {
	if other.Version != 0 {
		c.Version = other.Version
	}

	if other.Daemon.IdleTimeoutMS != 0 {
		c.Daemon.IdleTimeoutMS = other.Daemon.IdleTimeoutMS
	}
	if other.Daemon.WorkerPoolSize != 0 {
		c.Daemon.WorkerPoolSize = other.Daemon.WorkerPoolSize
	}
	if other.Daemon.ConnectRetries != 0 {
		c.Daemon.ConnectRetries = other.Daemon.ConnectRetries
	}

	if other.Cache.MapSizeMB != 0 {
		c.Cache.MapSizeMB = other.Cache.MapSizeMB
	}
	if other.Cache.MaxReaders != 0 {
		c.Cache.MaxReaders = other.Cache.MaxReaders
	}
	if other.Cache.HNSWM != 0 {
		c.Cache.HNSWM = other.Cache.HNSWM
	}
	if other.Cache.HNSWEfConstruction != 0 {
		c.Cache.HNSWEfConstruction = other.Cache.HNSWEfConstruction
	}
	if other.Cache.HNSWEfSearch != 0 {
		c.Cache.HNSWEfSearch = other.Cache.HNSWEfSearch
	}

	if other.Embedding.Provider != "" {
		c.Embedding.Provider = other.Embedding.Provider
	}
	if other.Embedding.Model != "" {
		c.Embedding.Model = other.Embedding.Model
	}
	if other.Embedding.Dimension != 0 {
		c.Embedding.Dimension = other.Embedding.Dimension
	}
	if other.Embedding.BatchSize != 0 {
		c.Embedding.BatchSize = other.Embedding.BatchSize
	}

	if other.Search.DefaultTopK != 0 {
		c.Search.DefaultTopK = other.Search.DefaultTopK
	}
	if other.Search.OverfetchMultiplier != 0 {
		c.Search.OverfetchMultiplier = other.Search.OverfetchMultiplier
	}
	if other.Search.OverfetchMin != 0 {
		c.Search.OverfetchMin = other.Search.OverfetchMin
	}

	if other.Logging.Level != "" {
		c.Logging.Level = other.Logging.Level
	}
	if other.Logging.MaxSizeMB != 0 {
		c.Logging.MaxSizeMB = other.Logging.MaxSizeMB
	}
	if other.Logging.MaxFiles != 0 {
		c.Logging.MaxFiles = other.Logging.MaxFiles
	}
}

// applyEnvOverrides applies IXCHEL_*-prefixed environment variable
// overrides, the highest-precedence layer.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("IXCHEL_EMBEDDING_PROVIDER"); v != "" {
		c.Embedding.Provider = v
	}
	if v := os.Getenv("IXCHEL_EMBEDDING_MODEL"); v != "" {
		c.Embedding.Model = v
	}
	if v := os.Getenv("IXCHEL_EMBEDDING_DIMENSION"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Embedding.Dimension = n
		}
	}
	if v := os.Getenv("IXCHEL_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("IXCHEL_DAEMON_IDLE_TIMEOUT_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Daemon.IdleTimeoutMS = n
		}
	}
	if v := os.Getenv("IXCHEL_DAEMON_WORKER_POOL_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Daemon.WorkerPoolSize = n
		}
	}
	if v := os.Getenv("IXCHEL_DAEMON_ALLOW_SHUTDOWN"); v != "" {
		c.Daemon.AllowShutdown = strings.EqualFold(v, "true") || v == "1"
	}
	if v := os.Getenv("IXCHEL_CACHE_MAP_SIZE_MB"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Cache.MapSizeMB = n
		}
	}
}

// Validate checks internal consistency of the merged configuration.
func (c *Config) Validate() error {
	if c.Embedding.Dimension <= 0 {
		return fmt.Errorf("config: embedding.dimension must be positive, got %d", c.Embedding.Dimension)
	}
	if c.Embedding.BatchSize <= 0 {
		return fmt.Errorf("config: embedding.batch_size must be positive, got %d", c.Embedding.BatchSize)
	}
	if c.Daemon.WorkerPoolSize <= 0 {
		return fmt.Errorf("config: daemon.worker_pool_size must be positive, got %d", c.Daemon.WorkerPoolSize)
	}
	if c.Daemon.IdleTimeoutMS < 0 {
		return fmt.Errorf("config: daemon.idle_timeout_ms must not be negative, got %d", c.Daemon.IdleTimeoutMS)
	}
	if c.Cache.MapSizeMB <= 0 {
		return fmt.Errorf("config: cache.map_size_mb must be positive, got %d", c.Cache.MapSizeMB)
	}
	if c.Search.DefaultTopK <= 0 {
		return fmt.Errorf("config: search.default_top_k must be positive, got %d", c.Search.DefaultTopK)
	}
	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("config: logging.level %q is not one of debug|info|warn|error", c.Logging.Level)
	}
	return nil
}

// WriteTOML serializes the config to path, used by `ixchel init`.
func (c *Config) WriteTOML(path string) error {
	data, err := toml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating config dir: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}

// OverfetchK computes k' = max(2k, k+min) for the Query Surface's
// over-fetch-then-filter search pattern (spec §4.7).
func (s SearchConfig) OverfetchK(k int) int {
	mult := s.OverfetchMultiplier
	if mult <= 0 {
		mult = 2
	}
	min := s.OverfetchMin
	if min <= 0 {
		min = 10
	}
	a := mult * k
	b := k + min
	if a > b {
		return a
	}
	return b
}
