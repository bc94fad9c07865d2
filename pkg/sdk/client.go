package listingsearch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/listingsearch/internal/db"
	"github.com/kailas-cloud/listingsearch/internal/db/postgres"
	dbRedis "github.com/kailas-cloud/listingsearch/internal/db/redis"
	"github.com/kailas-cloud/listingsearch/internal/domain/change"
	"github.com/kailas-cloud/listingsearch/internal/domain/listing"
	"github.com/kailas-cloud/listingsearch/internal/domain/search/filter"
	"github.com/kailas-cloud/listingsearch/internal/domain/search/result"
	indexrepo "github.com/kailas-cloud/listingsearch/internal/repository/index"
	listingrepo "github.com/kailas-cloud/listingsearch/internal/repository/listing"
	"github.com/kailas-cloud/listingsearch/internal/text"
	healthuc "github.com/kailas-cloud/listingsearch/internal/usecase/health"
	syncuc "github.com/kailas-cloud/listingsearch/internal/usecase/indexsync"
	searchuc "github.com/kailas-cloud/listingsearch/internal/usecase/search"
)

const (
	defaultReadinessTimeout = 10 * time.Second
	defaultConnectTimeout   = 5 * time.Second
)

// Internal interfaces, replaced by mocks in tests.
type searchUseCase interface {
	Search(ctx context.Context, f filter.Filters) (result.SearchResult, error)
	Suggest(ctx context.Context, prefix string, sc listing.Scope) ([]string, error)
}

type syncUseCase interface {
	ReindexAll(ctx context.Context) (syncuc.ReindexReport, error)
	ReindexIDs(ctx context.Context, ids []string) (syncuc.ReindexReport, error)
	VerifyDrift(ctx context.Context, full bool) (change.DriftReport, error)
}

type healthUseCase interface {
	Check(ctx context.Context) healthuc.Report
}

// Client is the listingsearch SDK entry point.
type Client struct {
	store     db.Store
	pg        *postgres.DB
	searchSvc searchUseCase
	syncSvc   syncUseCase
	healthSvc healthUseCase
	obs       *observer
}

// New connects to the index and the canonical store and provisions the index
// if it does not exist yet. The provided context is used for the initial
// readiness checks.
func New(ctx context.Context, opts ...Option) (*Client, error) {
	cfg := defaultConfig()
	for _, o := range opts {
		o.apply(cfg)
	}

	if len(cfg.addrs) == 0 {
		return nil, errors.New("listingsearch: index address required (use WithRedis)")
	}
	if cfg.dsn == "" {
		return nil, errors.New("listingsearch: postgres dsn required (use WithPostgres)")
	}

	obs, err := newObserver(cfg.logger, cfg.metricsReg)
	if err != nil {
		return nil, err
	}

	store, err := dbRedis.NewStore(dbRedis.Config{Addrs: cfg.addrs, Password: cfg.password})
	if err != nil {
		return nil, fmt.Errorf("listingsearch: create index store: %w", err)
	}
	if err := store.WaitForReady(ctx, defaultReadinessTimeout); err != nil {
		store.Close()
		return nil, fmt.Errorf("listingsearch: index not ready: %w", err)
	}

	pg, err := postgres.Open(ctx, postgres.Config{
		DSN:            cfg.dsn,
		MaxOpenConns:   10,
		MaxIdleConns:   2,
		ConnectTimeout: defaultConnectTimeout,
		MaxLifetime:    time.Hour,
	}, zap.NewNop())
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("listingsearch: %w", err)
	}

	c, index, err := wireClient(store, pg, cfg, obs)
	if err != nil {
		c.Close()
		return nil, err
	}
	if _, err := index.EnsureIndex(ctx); err != nil {
		c.Close()
		return nil, fmt.Errorf("listingsearch: ensure index: %w", err)
	}
	return c, nil
}

func wireClient(store db.Store, pg *postgres.DB, cfg *clientConfig, obs *observer) (*Client, *indexrepo.Repo, error) {
	c := &Client{store: store, pg: pg, obs: obs}

	analyzers, err := text.NewAnalyzers(cfg.languages)
	if err != nil {
		return c, nil, fmt.Errorf("listingsearch: %w", err)
	}
	index, err := indexrepo.New(store, indexrepo.Config{
		IndexName:   cfg.indexName,
		KeyPrefix:   cfg.keyPrefix,
		Analyzers:   analyzers,
		FacetTopN:   cfg.facetTopN,
		PriceBounds: cfg.priceBounds,
	}, nil)
	if err != nil {
		return c, nil, fmt.Errorf("listingsearch: create index repository: %w", err)
	}
	listings, err := listingrepo.New(pg, listingrepo.Config{
		FacetTopN:   cfg.facetTopN,
		PriceBounds: cfg.priceBounds,
	}, nil)
	if err != nil {
		return c, nil, fmt.Errorf("listingsearch: create listing repository: %w", err)
	}

	c.searchSvc = searchuc.New(index, index, listings, nil, searchuc.Config{
		BackendTimeout: cfg.backendTimeout,
		HealthTTL:      time.Second,
	}, nil)
	// The embedded client never consumes the change feed.
	c.syncSvc = syncuc.New(listings, index, nil, nil, syncuc.Config{}, nil)
	c.healthSvc = healthuc.New(index, listings, nil)
	return c, index, nil
}

// Close releases all resources.
func (c *Client) Close() {
	if c.store != nil {
		c.store.Close()
	}
	if c.pg != nil {
		_ = c.pg.Close()
	}
}

// Reindex rebuilds the whole index from Postgres.
func (c *Client) Reindex(ctx context.Context) (rep ReindexReport, err error) {
	start := time.Now()
	defer func() { c.obs.observe("reindex", start, err) }()

	r, err := c.syncSvc.ReindexAll(ctx)
	if err != nil {
		return ReindexReport{}, fmt.Errorf("reindex: %w", err)
	}
	return toReindexReport(r), nil
}

// ReindexIDs refreshes the given listings, removing those that are gone or
// no longer searchable.
func (c *Client) ReindexIDs(ctx context.Context, ids ...string) (rep ReindexReport, err error) {
	start := time.Now()
	defer func() { c.obs.observe("reindex_ids", start, err) }()

	r, err := c.syncSvc.ReindexIDs(ctx, ids)
	if err != nil {
		return ReindexReport{}, fmt.Errorf("reindex ids: %w", err)
	}
	return toReindexReport(r), nil
}

// VerifyDrift compares Postgres with the index. With full set, id sets are
// compared even when the counts agree.
func (c *Client) VerifyDrift(ctx context.Context, full bool) (rep DriftReport, err error) {
	start := time.Now()
	defer func() { c.obs.observe("verify_drift", start, err) }()

	r, err := c.syncSvc.VerifyDrift(ctx, full)
	if err != nil {
		return DriftReport{}, fmt.Errorf("verify drift: %w", err)
	}
	return DriftReport{
		InSync:         r.InSync(),
		StoreCount:     r.StoreCount,
		IndexCount:     r.IndexCount,
		MissingInIndex: r.MissingInIndex,
		MissingInStore: r.MissingInStore,
	}, nil
}

func toReindexReport(r syncuc.ReindexReport) ReindexReport {
	return ReindexReport{
		Indexed:   r.Indexed,
		Skipped:   r.Skipped,
		Failed:    r.Failed,
		FailedIDs: r.FailedIDs,
		Removed:   r.Removed,
		Duration:  r.FinishedAt.Sub(r.StartedAt),
	}
}
