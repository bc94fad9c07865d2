package index

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/kailas-cloud/listingsearch/internal/domain/document"
	"github.com/kailas-cloud/listingsearch/internal/domain/search/filter"
	"github.com/kailas-cloud/listingsearch/internal/domain/search/result"
)

// Search compiles filters and executes the plan in one round trip.
func (r *Repo) Search(ctx context.Context, f filter.Filters) (result.SearchResult, error) {
	plan, err := CompileQuery(f, r.options())
	if err != nil {
		return result.SearchResult{}, fmt.Errorf("compile query: %w", err)
	}
	if plan.Empty {
		return result.New(nil, 0, f.Page(), f.PageSize(), emptyFacets(plan.PriceBuckets)), nil
	}

	res, err := r.store.Batch(ctx, plan.Batch())
	if err != nil {
		return result.SearchResult{}, mapErr(err)
	}

	total := int64(res.Searches[0].Total)

	hits := make([]result.Hit, 0, len(res.Aggregates[0].Rows))
	for _, row := range res.Aggregates[0].Rows {
		doc, err := document.FromFields(row)
		if err != nil {
			// A half-written or foreign hash must not fail the whole page.
			r.logger.Warn("Skipping unreadable index document", zap.Error(err))
			continue
		}
		hits = append(hits, result.NewHit(doc, rowScore(row)))
	}

	facets := result.Facets{
		Kind:    parseBuckets(res.Aggregates[1].Rows, document.FieldKind),
		Mineral: parseBuckets(res.Aggregates[2].Rows, document.FieldMineral),
		Region:  parseBuckets(res.Aggregates[3].Rows, document.FieldRegion),
		Price:   plan.PriceBuckets,
	}
	for i := range facets.Price {
		facets.Price[i].Count = int64(res.Searches[1+i].Total)
	}

	return result.New(hits, total, f.Page(), f.PageSize(), facets), nil
}

func (r *Repo) options() Options {
	return Options{
		IndexName:   r.cfg.IndexName,
		Analyzers:   r.cfg.Analyzers,
		FacetTopN:   r.cfg.FacetTopN,
		PriceBounds: r.cfg.PriceBounds,
	}
}

// rowScore prefers the boosted rank, then the raw text score.
func rowScore(row map[string]string) float64 {
	for _, f := range []string{fieldRank, fieldScore} {
		if v, ok := row[f]; ok {
			if s, err := strconv.ParseFloat(v, 64); err == nil {
				return s
			}
		}
	}
	return 0
}

// parseBuckets reads GROUPBY rows. Documents lacking the field form an empty group, which is dropped.
func parseBuckets(rows []map[string]string, field string) []result.Bucket {
	out := make([]result.Bucket, 0, len(rows))
	for _, row := range rows {
		v := strings.TrimSpace(row[field])
		if v == "" {
			continue
		}
		n, err := strconv.ParseInt(row[fieldCount], 10, 64)
		if err != nil {
			continue
		}
		out = append(out, result.Bucket{Value: v, Count: n})
	}
	return out
}

func emptyFacets(buckets []result.PriceBucket) result.Facets {
	return result.Facets{
		Kind:    []result.Bucket{},
		Mineral: []result.Bucket{},
		Region:  []result.Bucket{},
		Price:   buckets,
	}
}
