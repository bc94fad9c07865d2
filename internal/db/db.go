package db

import (
	"context"
	"time"
)

// Store is the main index store facade combining all sub-interfaces.
//
//nolint:interfacebloat // facade by design -- consumers use narrow sub-interfaces (ISP)
type Store interface {
	Pinger
	HashStore
	KVStore
	IndexManager
	Searcher
	Suggester
	Close()
	WaitForReady(ctx context.Context, timeout time.Duration) error
}

// Pinger checks database connectivity.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HashSetItem holds a single key+fields pair for pipelined HSET.
type HashSetItem struct {
	Key    string
	Fields map[string]string
}

// HashStore provides hash-based key-value operations.
type HashStore interface {
	HSetMulti(ctx context.Context, items []HashSetItem) error
	HGetAllMulti(ctx context.Context, keys []string) ([]map[string]string, error)
	Del(ctx context.Context, keys ...string) error
	Scan(ctx context.Context, pattern string) ([]string, error)
}

// KVStore provides simple key-value operations used for leases.
type KVStore interface {
	Get(ctx context.Context, key string) ([]byte, error)
	// SetNX stores value only if key is absent; it reports whether the value was written.
	SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error)
	Expire(ctx context.Context, key string, ttl time.Duration) error
}

// IndexManager creates and inspects FT indexes. Indexes are never dropped.
type IndexManager interface {
	CreateIndex(ctx context.Context, def *IndexDefinition) error
	IndexInfo(ctx context.Context, name string) (*IndexInfo, error)
}

// Searcher runs FT.SEARCH, alone or batched with FT.AGGREGATE.
type Searcher interface {
	Search(ctx context.Context, q *SearchQuery) (*SearchResult, error)
	// Batch executes every query of b in a single round trip.
	Batch(ctx context.Context, b *QueryBatch) (*BatchResult, error)
}

// Suggestion is a single autocomplete dictionary entry.
type Suggestion struct {
	Key   string
	Text  string
	Score float64
}

// Suggester maintains and queries autocomplete dictionaries.
type Suggester interface {
	SugAddMulti(ctx context.Context, items []Suggestion) error
	SugDelMulti(ctx context.Context, items []Suggestion) error
	SugGet(ctx context.Context, key, prefix string, limit int, fuzzy bool) ([]string, error)
}
