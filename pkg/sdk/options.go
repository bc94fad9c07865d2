package listingsearch

import (
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Option configures the Client.
type Option interface {
	apply(*clientConfig)
}

// optionFunc adapts a function to the Option interface.
type optionFunc func(*clientConfig)

func (f optionFunc) apply(c *clientConfig) { f(c) }

type clientConfig struct {
	addrs    []string
	password string
	dsn      string

	indexName string
	keyPrefix string
	languages []string

	backendTimeout time.Duration
	facetTopN      int
	priceBounds    []float64

	logger     *slog.Logger
	metricsReg prometheus.Registerer
}

func defaultConfig() *clientConfig {
	return &clientConfig{
		indexName:      "listings:idx",
		keyPrefix:      "listing:",
		languages:      []string{"english", "russian"},
		backendTimeout: 2 * time.Second,
		facetTopN:      20,
		priceBounds:    []float64{100_000, 1_000_000, 10_000_000},
	}
}

// WithRedis configures the search index connection.
func WithRedis(addr, password string) Option {
	return optionFunc(func(c *clientConfig) {
		c.addrs = []string{addr}
		c.password = password
	})
}

// WithPostgres configures the canonical store connection.
func WithPostgres(dsn string) Option {
	return optionFunc(func(c *clientConfig) {
		c.dsn = dsn
	})
}

// WithIndex overrides the index name and document key prefix.
// Defaults: "listings:idx" and "listing:".
func WithIndex(name, keyPrefix string) Option {
	return optionFunc(func(c *clientConfig) {
		c.indexName = name
		c.keyPrefix = keyPrefix
	})
}

// WithLanguages sets the analyzers of the title and description fields.
// Must match the languages the index was created with.
func WithLanguages(langs ...string) Option {
	return optionFunc(func(c *clientConfig) {
		c.languages = langs
	})
}

// WithBackendTimeout bounds every index or Postgres call. Default: 2s.
func WithBackendTimeout(d time.Duration) Option {
	return optionFunc(func(c *clientConfig) {
		c.backendTimeout = d
	})
}

// WithPriceBuckets sets the three ascending boundaries of the price facet.
func WithPriceBuckets(a, b, c float64) Option {
	return optionFunc(func(cfg *clientConfig) {
		cfg.priceBounds = []float64{a, b, c}
	})
}

// WithLogger enables structured logging for SDK operations.
// Pass nil to disable (default). Uses standard library slog.
func WithLogger(l *slog.Logger) Option {
	return optionFunc(func(c *clientConfig) {
		c.logger = l
	})
}

// WithPrometheus registers SDK metrics (operation counts and durations)
// on the given registerer. Pass nil to disable (default).
func WithPrometheus(reg prometheus.Registerer) Option {
	return optionFunc(func(c *clientConfig) {
		c.metricsReg = reg
	})
}
