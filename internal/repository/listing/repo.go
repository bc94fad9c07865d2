// Package listing reads canonical listings from Postgres. Besides the
// synchronization reads (fetch by id, keyset enumeration, id sets) it serves
// the fallback search path used while the index is unavailable.
package listing

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/kailas-cloud/listingsearch/internal/domain"
	domlisting "github.com/kailas-cloud/listingsearch/internal/domain/listing"
	"github.com/kailas-cloud/listingsearch/internal/domain/search/result"
)

// store is the consumer interface over the Postgres pool.
type store interface {
	PingContext(ctx context.Context) error
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Config tunes fallback search.
type Config struct {
	FacetTopN   int
	PriceBounds []float64
}

// Repo reads the listings table.
type Repo struct {
	store  store
	cfg    Config
	logger *zap.Logger
	now    func() time.Time
}

// New creates a listing repository.
func New(s store, cfg Config, logger *zap.Logger) (*Repo, error) {
	if cfg.FacetTopN < 1 {
		return nil, fmt.Errorf("facet top-n must be positive")
	}
	if _, err := result.PriceRanges(cfg.PriceBounds); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Repo{store: s, cfg: cfg, logger: logger, now: time.Now}, nil
}

// Ping checks store connectivity.
func (r *Repo) Ping(ctx context.Context) error {
	if err := r.store.PingContext(ctx); err != nil {
		return domain.NewTransient(backendName, err)
	}
	return nil
}

// Fetch returns the current state of one listing regardless of status.
func (r *Repo) Fetch(ctx context.Context, id string) (*domlisting.Listing, error) {
	row := r.store.QueryRowContext(ctx, `SELECT `+listingColumns+` FROM listings WHERE id = $1`, id)
	l, err := scanListing(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("fetch listing %s: %w", id, mapErr(err))
	}
	return l, nil
}

// FetchMany returns the listings that exist among ids, in no particular order.
func (r *Repo) FetchMany(ctx context.Context, ids []string) ([]*domlisting.Listing, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := r.store.QueryContext(ctx,
		`SELECT `+listingColumns+` FROM listings WHERE id = ANY($1)`, pq.Array(ids))
	if err != nil {
		return nil, fmt.Errorf("fetch listings: %w", mapErr(err))
	}
	out, err := scanListings(rows)
	if err != nil {
		return nil, fmt.Errorf("fetch listings: %w", mapErr(err))
	}
	return out, nil
}

// Enumerate returns up to limit searchable listings with ids greater than
// afterID, ordered by id. An empty afterID starts from the beginning.
func (r *Repo) Enumerate(ctx context.Context, afterID string, limit int) ([]*domlisting.Listing, error) {
	rows, err := r.store.QueryContext(ctx,
		`SELECT `+listingColumns+` FROM listings
		WHERE status = ANY($1) AND id > $2
		ORDER BY id ASC
		LIMIT $3`,
		pq.Array(searchableStatuses()), afterID, limit)
	if err != nil {
		return nil, fmt.Errorf("enumerate listings: %w", mapErr(err))
	}
	out, err := scanListings(rows)
	if err != nil {
		return nil, fmt.Errorf("enumerate listings: %w", mapErr(err))
	}
	return out, nil
}

// Count returns the number of searchable listings.
func (r *Repo) Count(ctx context.Context) (int64, error) {
	var n int64
	err := r.store.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM listings WHERE status = ANY($1)`,
		pq.Array(searchableStatuses())).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count listings: %w", mapErr(err))
	}
	return n, nil
}

// IDs returns the ids of every searchable listing in ascending order.
func (r *Repo) IDs(ctx context.Context) ([]string, error) {
	rows, err := r.store.QueryContext(ctx,
		`SELECT id FROM listings WHERE status = ANY($1) ORDER BY id ASC`,
		pq.Array(searchableStatuses()))
	if err != nil {
		return nil, fmt.Errorf("list listing ids: %w", mapErr(err))
	}
	defer func() { _ = rows.Close() }()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan listing id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list listing ids: %w", mapErr(err))
	}
	return ids, nil
}

const backendName = "postgres"

// mapErr marks connectivity failures as transient so callers can retry or degrade.
func mapErr(err error) error {
	if domain.IsTransient(err) {
		return domain.NewTransient(backendName, err)
	}
	return err
}

func searchableStatuses() []string {
	return statusStrings(domlisting.SearchableStatuses())
}

func statusStrings(statuses []domlisting.Status) []string {
	out := make([]string, len(statuses))
	for i, s := range statuses {
		out[i] = string(s)
	}
	return out
}
