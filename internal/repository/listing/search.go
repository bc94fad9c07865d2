package listing

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/kailas-cloud/listingsearch/internal/domain/document"
	domlisting "github.com/kailas-cloud/listingsearch/internal/domain/listing"
	"github.com/kailas-cloud/listingsearch/internal/domain/search/filter"
	"github.com/kailas-cloud/listingsearch/internal/domain/search/result"
)

// Search runs filters directly against the listings table.
func (r *Repo) Search(ctx context.Context, f filter.Filters) (result.SearchResult, error) {
	q, err := CompileFallback(f, Options{FacetTopN: r.cfg.FacetTopN, PriceBounds: r.cfg.PriceBounds})
	if err != nil {
		return result.SearchResult{}, fmt.Errorf("compile fallback query: %w", err)
	}
	facets := result.Facets{
		Kind:    []result.Bucket{},
		Mineral: []result.Bucket{},
		Region:  []result.Bucket{},
		Price:   q.PriceBuckets,
	}
	if q.Empty {
		return result.New(nil, 0, f.Page(), f.PageSize(), facets), nil
	}

	hits, err := r.page(ctx, q.Page)
	if err != nil {
		return result.SearchResult{}, err
	}

	var total int64
	if err := r.store.QueryRowContext(ctx, q.Count.SQL, q.Count.Args...).Scan(&total); err != nil {
		return result.SearchResult{}, fmt.Errorf("count matches: %w", mapErr(err))
	}

	groups := make([][]result.Bucket, len(q.Facets))
	for i, fs := range q.Facets {
		if groups[i], err = r.facet(ctx, fs); err != nil {
			return result.SearchResult{}, err
		}
	}
	facets.Kind, facets.Mineral, facets.Region = groups[0], groups[1], groups[2]

	if err := r.priceCounts(ctx, q.PriceCounts, facets.Price); err != nil {
		return result.SearchResult{}, err
	}
	return result.New(hits, total, f.Page(), f.PageSize(), facets), nil
}

func (r *Repo) page(ctx context.Context, st Statement) ([]result.Hit, error) {
	rows, err := r.store.QueryContext(ctx, st.SQL, st.Args...)
	if err != nil {
		return nil, fmt.Errorf("query page: %w", mapErr(err))
	}
	listings, err := scanListings(rows)
	if err != nil {
		return nil, fmt.Errorf("query page: %w", mapErr(err))
	}

	now := r.now()
	hits := make([]result.Hit, 0, len(listings))
	for _, l := range listings {
		doc, err := document.ToDocument(l, now)
		if err != nil {
			r.logger.Warn("Skipping malformed listing", zap.String("listing_id", l.ID), zap.Error(err))
			continue
		}
		hits = append(hits, result.NewHit(doc, 0))
	}
	return hits, nil
}

func (r *Repo) facet(ctx context.Context, fs FacetStatement) ([]result.Bucket, error) {
	rows, err := r.store.QueryContext(ctx, fs.SQL, fs.Args...)
	if err != nil {
		return nil, fmt.Errorf("facet %s: %w", fs.Field, mapErr(err))
	}
	defer func() { _ = rows.Close() }()

	out := []result.Bucket{}
	for rows.Next() {
		var b result.Bucket
		if err := rows.Scan(&b.Value, &b.Count); err != nil {
			return nil, fmt.Errorf("scan facet %s: %w", fs.Field, err)
		}
		out = append(out, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("facet %s: %w", fs.Field, mapErr(err))
	}
	return out, nil
}

// priceCounts fills the counts of buckets in place; absent buckets stay zero.
func (r *Repo) priceCounts(ctx context.Context, st Statement, buckets []result.PriceBucket) error {
	rows, err := r.store.QueryContext(ctx, st.SQL, st.Args...)
	if err != nil {
		return fmt.Errorf("price buckets: %w", mapErr(err))
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var idx int
		var n int64
		if err := rows.Scan(&idx, &n); err != nil {
			return fmt.Errorf("scan price bucket: %w", err)
		}
		if idx >= 0 && idx < len(buckets) {
			buckets[idx].Count = n
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("price buckets: %w", mapErr(err))
	}
	return nil
}

// Suggest returns up to limit distinct titles containing prefix within the
// optional region and kind scope.
func (r *Repo) Suggest(ctx context.Context, prefix string, sc domlisting.Scope, limit int) ([]string, error) {
	prefix = strings.TrimSpace(prefix)
	st := compileSuggest(prefix, sc.Region, sc.Kind, 2*limit)
	rows, err := r.store.QueryContext(ctx, st.SQL, st.Args...)
	if err != nil {
		return nil, fmt.Errorf("suggest titles: %w", mapErr(err))
	}
	defer func() { _ = rows.Close() }()

	seen := make(map[string]bool)
	out := make([]string, 0, limit)
	for rows.Next() {
		var title string
		if err := rows.Scan(&title); err != nil {
			return nil, fmt.Errorf("scan title: %w", err)
		}
		key := document.NormalizeTitle(title)
		if key == "" || seen[key] || len(out) == limit {
			continue
		}
		seen[key] = true
		out = append(out, title)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("suggest titles: %w", mapErr(err))
	}
	return out, nil
}
