// Package index owns the listing search index: its schema, the documents
// written to it, the queries compiled against it and its autocomplete dictionaries.
package index

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/listingsearch/internal/db"
	"github.com/kailas-cloud/listingsearch/internal/domain"
	"github.com/kailas-cloud/listingsearch/internal/text"
)

// store is the consumer interface for the search index (ISP).
//
//nolint:interfacebloat // the index repo covers schema, documents, queries and suggestions
type store interface {
	Ping(ctx context.Context) error
	HSetMulti(ctx context.Context, items []db.HashSetItem) error
	HGetAllMulti(ctx context.Context, keys []string) ([]map[string]string, error)
	Del(ctx context.Context, keys ...string) error
	Scan(ctx context.Context, pattern string) ([]string, error)
	Get(ctx context.Context, key string) ([]byte, error)
	SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error)
	Expire(ctx context.Context, key string, ttl time.Duration) error
	CreateIndex(ctx context.Context, def *db.IndexDefinition) error
	IndexInfo(ctx context.Context, name string) (*db.IndexInfo, error)
	Search(ctx context.Context, q *db.SearchQuery) (*db.SearchResult, error)
	Batch(ctx context.Context, b *db.QueryBatch) (*db.BatchResult, error)
	SugAddMulti(ctx context.Context, items []db.Suggestion) error
	SugDelMulti(ctx context.Context, items []db.Suggestion) error
	SugGet(ctx context.Context, key, prefix string, limit int, fuzzy bool) ([]string, error)
}

// Config holds the index layout.
type Config struct {
	IndexName   string
	KeyPrefix   string
	Analyzers   text.Analyzers
	FacetTopN   int
	PriceBounds []float64
}

// Repo implements the index side of search and synchronization.
type Repo struct {
	store  store
	cfg    Config
	schema *db.IndexDefinition
	logger *zap.Logger
	now    func() time.Time
}

// New creates an index repository. The schema is derived from the configured analyzers.
func New(s store, cfg Config, logger *zap.Logger) (*Repo, error) {
	if cfg.IndexName == "" || cfg.KeyPrefix == "" {
		return nil, errors.New("index name and key prefix are required")
	}
	if len(cfg.Analyzers) == 0 {
		return nil, errors.New("at least one analyzer is required")
	}
	schema, err := buildSchema(cfg.IndexName, cfg.KeyPrefix, cfg.Analyzers)
	if err != nil {
		return nil, fmt.Errorf("build schema: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Repo{store: s, cfg: cfg, schema: schema, logger: logger, now: time.Now}, nil
}

// Schema returns the expected index definition.
func (r *Repo) Schema() *db.IndexDefinition { return r.schema }

// Ping checks index store connectivity.
func (r *Repo) Ping(ctx context.Context) error {
	if err := r.store.Ping(ctx); err != nil {
		return domain.NewTransient("index", err)
	}
	return nil
}

// Info returns the live index statistics.
func (r *Repo) Info(ctx context.Context) (*db.IndexInfo, error) {
	info, err := r.store.IndexInfo(ctx, r.cfg.IndexName)
	if err != nil {
		return nil, mapErr(err)
	}
	return info, nil
}

// Ready reports whether the index is reachable and provisioned.
func (r *Repo) Ready(ctx context.Context) error {
	_, err := r.Info(ctx)
	return err
}

// Count returns the number of documents matching every listing in the index.
func (r *Repo) Count(ctx context.Context) (int64, error) {
	res, err := r.store.Search(ctx, &db.SearchQuery{
		IndexName: r.cfg.IndexName,
		Query:     "*",
		NoContent: true,
	})
	if err != nil {
		return 0, mapErr(err)
	}
	return int64(res.Total), nil
}

// IDs lists the ids of every indexed listing by scanning document keys.
func (r *Repo) IDs(ctx context.Context) ([]string, error) {
	keys, err := r.store.Scan(ctx, r.cfg.KeyPrefix+"*")
	if err != nil {
		return nil, mapErr(err)
	}
	ids := make([]string, 0, len(keys))
	for _, k := range keys {
		ids = append(ids, strings.TrimPrefix(k, r.cfg.KeyPrefix))
	}
	return ids, nil
}

func (r *Repo) docKey(id string) string {
	return r.cfg.KeyPrefix + id
}

// mapErr translates store errors into domain errors. Anything that is not a
// missing index is a backend failure worth retrying or degrading around.
func mapErr(err error) error {
	if errors.Is(err, db.ErrIndexNotFound) {
		return domain.ErrIndexNotProvisioned
	}
	return domain.NewTransient("index", err)
}
