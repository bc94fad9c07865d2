package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"sort"
	"strings"

	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"
)

// Config holds the listingsearch configuration.
type Config struct {
	HTTP     HTTPConfig     `yaml:"http"`
	Redis    RedisConfig    `yaml:"redis"`
	Postgres PostgresConfig `yaml:"postgres"`
	Search   SearchConfig   `yaml:"search"`
	Sync     SyncConfig     `yaml:"sync"`
	Auth     AuthConfig     `yaml:"auth"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level string `yaml:"level"` // debug, info, warn, error (default: determined by env)
}

// AuthConfig holds API keys for the operational endpoints.
type AuthConfig struct {
	AdminAPIKeys []string `yaml:"admin_api_keys"`
}

// HTTPConfig holds HTTP server settings.
type HTTPConfig struct {
	Port            int `yaml:"port"`
	ReadTimeoutSec  int `yaml:"read_timeout_sec"`
	WriteTimeoutSec int `yaml:"write_timeout_sec"`
	ShutdownSec     int `yaml:"shutdown_timeout_sec"`
}

// RedisConfig holds search index connection and layout settings.
type RedisConfig struct {
	Addrs            []string `yaml:"addrs"`
	Username         string   `yaml:"username"`
	Password         string   `yaml:"password"`
	ReadinessTimeout int      `yaml:"readiness_timeout_sec"`
	IndexName        string   `yaml:"index_name"`
	KeyPrefix        string   `yaml:"key_prefix"`
	Languages        []string `yaml:"languages"` // analyzers for title/description, e.g. english, russian
}

// PostgresConfig holds transactional store settings.
type PostgresConfig struct {
	DSN               string `yaml:"dsn"`
	MaxOpenConns      int    `yaml:"max_open_conns"`
	MaxIdleConns      int    `yaml:"max_idle_conns"`
	ConnectTimeoutSec int    `yaml:"connect_timeout_sec"`
	ConnMaxLifetimeM  int    `yaml:"conn_max_lifetime_min"`
}

// SearchConfig holds query-side settings.
type SearchConfig struct {
	DefaultPageSize     int       `yaml:"default_page_size"`
	MaxPageSize         int       `yaml:"max_page_size"`
	FacetTopN           int       `yaml:"facet_top_n"`
	PriceBuckets        []float64 `yaml:"price_buckets"` // three ascending boundaries -> four buckets
	BackendTimeoutMs    int       `yaml:"backend_timeout_ms"`
	HealthCheckTTLMs    int       `yaml:"health_check_ttl_ms"`
	CacheTTLSec         int       `yaml:"cache_ttl_sec"`
	CacheCapacity       int       `yaml:"cache_capacity"`
	CacheSweepSec       int       `yaml:"cache_sweep_interval_sec"`
	SuggestLimit        int       `yaml:"suggest_limit"`
	SuggestMinPrefixLen int       `yaml:"suggest_min_prefix_len"`
}

// SyncConfig holds change synchronization settings.
type SyncConfig struct {
	Enabled              bool   `yaml:"enabled"`
	Consumer             string `yaml:"consumer"`
	Workers              int    `yaml:"workers"`
	QueueDepth           int    `yaml:"queue_depth"`
	PollIntervalMs       int    `yaml:"poll_interval_ms"`
	PollBatchSize        int    `yaml:"poll_batch_size"`
	CommitIntervalMs     int    `yaml:"commit_interval_ms"`
	MaxAttempts          int    `yaml:"max_attempts"`
	InitialBackoffMs     int    `yaml:"initial_backoff_ms"`
	MaxBackoffMs         int    `yaml:"max_backoff_ms"`
	ReindexBatchSize     int    `yaml:"reindex_batch_size"`
	ReindexConcurrency   int    `yaml:"reindex_concurrency"`
	ReindexLeaseSec      int    `yaml:"reindex_lease_sec"`
	DriftSchedule        string `yaml:"drift_schedule"`       // cron spec, empty disables
	ReplaySchedule       string `yaml:"dead_letter_schedule"` // cron spec, empty disables
	ReplayBatchSize      int    `yaml:"dead_letter_batch_size"`
	PruneSchedule        string `yaml:"prune_schedule"` // cron spec, empty disables
	OutboxRetentionHours int    `yaml:"outbox_retention_hours"`
	ReindexOnStart       bool   `yaml:"reindex_on_start"`
}

// Load reads configuration from a YAML file by environment name (local, dev, prod).
func Load(env string) (Config, error) {
	return LoadFile(findConfigPath(env))
}

// LoadFile reads configuration from an explicit path.
func LoadFile(configPath string) (Config, error) {
	data, err := os.ReadFile(filepath.Clean(configPath))
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config %s: %w", configPath, err)
	}
	return Parse(data)
}

// Parse decodes YAML bytes, expands ${VAR} references, applies defaults and validates.
func Parse(data []byte) (Config, error) {
	data = expandEnvVars(data)

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.ApplyDefaults()

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// GetEnv returns the current environment from the ENV variable, defaulting to "local".
func GetEnv() string {
	if env := os.Getenv("ENV"); env != "" {
		return env
	}
	return "local"
}

// ApplyDefaults fills empty fields with default values.
func (c *Config) ApplyDefaults() {
	if c.HTTP.ReadTimeoutSec <= 0 {
		c.HTTP.ReadTimeoutSec = 10
	}
	if c.HTTP.WriteTimeoutSec <= 0 {
		c.HTTP.WriteTimeoutSec = 30
	}
	if c.HTTP.ShutdownSec <= 0 {
		c.HTTP.ShutdownSec = 10
	}

	if c.Redis.ReadinessTimeout <= 0 {
		c.Redis.ReadinessTimeout = 10
	}
	if c.Redis.IndexName == "" {
		c.Redis.IndexName = "listings:idx"
	}
	if c.Redis.KeyPrefix == "" {
		c.Redis.KeyPrefix = "listing:"
	}
	if len(c.Redis.Languages) == 0 {
		c.Redis.Languages = []string{"english", "russian"}
	}

	if c.Postgres.MaxOpenConns <= 0 {
		c.Postgres.MaxOpenConns = 20
	}
	if c.Postgres.MaxIdleConns <= 0 {
		c.Postgres.MaxIdleConns = 5
	}
	if c.Postgres.ConnectTimeoutSec <= 0 {
		c.Postgres.ConnectTimeoutSec = 5
	}
	if c.Postgres.ConnMaxLifetimeM <= 0 {
		c.Postgres.ConnMaxLifetimeM = 60
	}

	if c.Search.DefaultPageSize <= 0 {
		c.Search.DefaultPageSize = 20
	}
	if c.Search.MaxPageSize <= 0 {
		c.Search.MaxPageSize = 100
	}
	if c.Search.FacetTopN <= 0 {
		c.Search.FacetTopN = 20
	}
	if len(c.Search.PriceBuckets) == 0 {
		c.Search.PriceBuckets = []float64{100_000, 1_000_000, 10_000_000}
	}
	if c.Search.BackendTimeoutMs <= 0 {
		c.Search.BackendTimeoutMs = 2000
	}
	if c.Search.HealthCheckTTLMs <= 0 {
		c.Search.HealthCheckTTLMs = 1000
	}
	if c.Search.CacheTTLSec <= 0 {
		c.Search.CacheTTLSec = 60
	}
	if c.Search.CacheCapacity <= 0 {
		c.Search.CacheCapacity = 10_000
	}
	if c.Search.CacheSweepSec <= 0 {
		c.Search.CacheSweepSec = 30
	}
	if c.Search.SuggestLimit <= 0 {
		c.Search.SuggestLimit = 10
	}
	if c.Search.SuggestMinPrefixLen <= 0 {
		c.Search.SuggestMinPrefixLen = 2
	}

	if c.Sync.Workers <= 0 {
		c.Sync.Workers = 8
	}
	if c.Sync.QueueDepth <= 0 {
		c.Sync.QueueDepth = 256
	}
	if c.Sync.PollIntervalMs <= 0 {
		c.Sync.PollIntervalMs = 1000
	}
	if c.Sync.PollBatchSize <= 0 {
		c.Sync.PollBatchSize = 500
	}
	if c.Sync.Consumer == "" {
		c.Sync.Consumer = "search_index"
	}
	if c.Sync.CommitIntervalMs <= 0 {
		c.Sync.CommitIntervalMs = 1000
	}
	if c.Sync.MaxAttempts <= 0 {
		c.Sync.MaxAttempts = 5
	}
	if c.Sync.InitialBackoffMs <= 0 {
		c.Sync.InitialBackoffMs = 200
	}
	if c.Sync.MaxBackoffMs <= 0 {
		c.Sync.MaxBackoffMs = 10_000
	}
	if c.Sync.ReindexBatchSize <= 0 {
		c.Sync.ReindexBatchSize = 500
	}
	if c.Sync.ReindexConcurrency <= 0 {
		c.Sync.ReindexConcurrency = 4
	}
	if c.Sync.ReindexLeaseSec <= 0 {
		c.Sync.ReindexLeaseSec = 60
	}
	if c.Sync.ReplayBatchSize <= 0 {
		c.Sync.ReplayBatchSize = 100
	}
	if c.Sync.OutboxRetentionHours <= 0 {
		c.Sync.OutboxRetentionHours = 7 * 24
	}
}

// Validate checks the configuration for correctness.
func (c *Config) Validate() error {
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("http.port must be between 1 and 65535, got %d", c.HTTP.Port)
	}
	if len(c.Redis.Addrs) == 0 {
		return fmt.Errorf("redis.addrs is required")
	}
	if c.Postgres.DSN == "" {
		return fmt.Errorf("postgres.dsn is required")
	}
	if c.Search.MaxPageSize > 100 {
		return fmt.Errorf("search.max_page_size must be at most 100, got %d", c.Search.MaxPageSize)
	}
	if c.Search.DefaultPageSize > c.Search.MaxPageSize {
		return fmt.Errorf("search.default_page_size (%d) exceeds search.max_page_size (%d)",
			c.Search.DefaultPageSize, c.Search.MaxPageSize)
	}
	if len(c.Search.PriceBuckets) != 3 {
		return fmt.Errorf("search.price_buckets must have exactly 3 boundaries, got %d", len(c.Search.PriceBuckets))
	}
	if !sort.Float64sAreSorted(c.Search.PriceBuckets) || c.Search.PriceBuckets[0] == c.Search.PriceBuckets[1] ||
		c.Search.PriceBuckets[1] == c.Search.PriceBuckets[2] {
		return fmt.Errorf("search.price_buckets must be strictly ascending, got %v", c.Search.PriceBuckets)
	}
	if c.Sync.MaxBackoffMs < c.Sync.InitialBackoffMs {
		return fmt.Errorf("sync.max_backoff_ms (%d) is below sync.initial_backoff_ms (%d)",
			c.Sync.MaxBackoffMs, c.Sync.InitialBackoffMs)
	}
	for name, spec := range map[string]string{
		"sync.drift_schedule":       c.Sync.DriftSchedule,
		"sync.dead_letter_schedule": c.Sync.ReplaySchedule,
		"sync.prune_schedule":       c.Sync.PruneSchedule,
	} {
		if spec == "" {
			continue
		}
		if _, err := cron.ParseStandard(spec); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}
	return nil
}

// findConfigPath locates the config file.
func findConfigPath(env string) string {
	filename := fmt.Sprintf("%s.yaml", env)

	// 1. Check ./config/
	if path := filepath.Join("config", filename); fileExists(path) {
		return path
	}

	// 2. Check relative to the source file
	_, b, _, _ := runtime.Caller(0)
	projectRoot := filepath.Dir(filepath.Dir(filepath.Dir(b))) // internal/config -> project root
	if path := filepath.Join(projectRoot, "config", filename); fileExists(path) {
		return path
	}

	// 3. Fallback to ./config/
	return filepath.Join("config", filename)
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// expandEnvVars replaces ${VAR} and ${VAR:-default} with environment variable values.
var envVarRegex = regexp.MustCompile(`\$\{([^}]+)\}`)

func expandEnvVars(data []byte) []byte {
	return envVarRegex.ReplaceAllFunc(data, func(match []byte) []byte {
		expr := string(match[2 : len(match)-1]) // strip ${ and }
		varName, defaultVal, hasDefault := strings.Cut(expr, ":-")
		val := os.Getenv(varName)
		if val == "" && hasDefault {
			val = defaultVal
		}
		return []byte(val)
	})
}
