package search

import (
	"context"
	"time"

	"github.com/kailas-cloud/listingsearch/internal/domain/listing"
	"github.com/kailas-cloud/listingsearch/internal/domain/search/filter"
	"github.com/kailas-cloud/listingsearch/internal/domain/search/result"
)

// Backend executes searches along one execution path.
type Backend interface {
	Search(ctx context.Context, f filter.Filters) (result.SearchResult, error)
	Suggest(ctx context.Context, prefix string, sc listing.Scope, limit int) ([]string, error)
}

// Prober reports whether the primary backend can serve requests.
type Prober interface {
	Ready(ctx context.Context) error
}

// Cache memoizes search results by key. Set drops a value when key or one of
// tags was invalidated after Generation returned since.
type Cache interface {
	Get(key string) (result.SearchResult, bool)
	Set(key string, value result.SearchResult, ttl time.Duration, since uint64, tags ...string)
	Generation() uint64
}
