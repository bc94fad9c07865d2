// Package result holds the uniform search response shape produced by both execution paths.
package result

import (
	"fmt"
	"slices"
	"strconv"

	"github.com/kailas-cloud/listingsearch/internal/domain/document"
)

// Hit is a single matched listing.
type Hit struct {
	doc   document.Document
	score float64
}

// NewHit creates a search hit. score is zero when no text relevance was computed.
func NewHit(doc document.Document, score float64) Hit {
	return Hit{doc: doc, score: score}
}

// Document returns the matched listing document.
func (h *Hit) Document() document.Document { return h.doc }

// Score returns the ranking score.
func (h *Hit) Score() float64 { return h.score }

// Bucket is one facet value with its count.
type Bucket struct {
	Value string
	Count int64
}

// PriceBucket is one price range with its count. From is inclusive, To exclusive;
// nil marks an open end.
type PriceBucket struct {
	Key   string
	From  *float64
	To    *float64
	Count int64
}

// Facets are counts over the filtered, unpaginated set.
type Facets struct {
	Kind    []Bucket
	Mineral []Bucket
	Region  []Bucket
	Price   []PriceBucket
}

// PriceRanges splits the price axis at three ascending boundaries into four buckets
// with zero counts.
func PriceRanges(bounds []float64) ([]PriceBucket, error) {
	if len(bounds) != 3 {
		return nil, fmt.Errorf("price buckets need 3 boundaries, got %d", len(bounds))
	}
	if !(bounds[0] < bounds[1] && bounds[1] < bounds[2]) {
		return nil, fmt.Errorf("price bucket boundaries must be strictly ascending: %v", bounds)
	}
	b := append([]float64(nil), bounds...)
	out := make([]PriceBucket, 0, 4)
	var from *float64
	for i := 0; i <= len(b); i++ {
		var to *float64
		if i < len(b) {
			to = &b[i]
		}
		out = append(out, PriceBucket{Key: bucketKey(from, to), From: from, To: to})
		from = to
	}
	return out, nil
}

func bucketKey(from, to *float64) string {
	f := "*"
	if from != nil {
		f = strconv.FormatFloat(*from, 'f', -1, 64)
	}
	t := "*"
	if to != nil {
		t = strconv.FormatFloat(*to, 'f', -1, 64)
	}
	return f + "-" + t
}

// SearchResult is a page of hits plus totals and facets.
type SearchResult struct {
	hits       []Hit
	total      int64
	page       int
	pageSize   int
	totalPages int
	facets     Facets
}

// New assembles a result and derives the page count.
func New(hits []Hit, total int64, page, pageSize int, facets Facets) SearchResult {
	totalPages := 0
	if pageSize > 0 && total > 0 {
		totalPages = int((total + int64(pageSize) - 1) / int64(pageSize))
	}
	return SearchResult{
		hits:       hits,
		total:      total,
		page:       page,
		pageSize:   pageSize,
		totalPages: totalPages,
		facets:     facets,
	}
}

// Hits returns the ordered page of hits.
func (r *SearchResult) Hits() []Hit { return r.hits }

// Total returns the number of listings matching the filters.
func (r *SearchResult) Total() int64 { return r.total }

// Page returns the 1-based page number.
func (r *SearchResult) Page() int { return r.page }

// PageSize returns the requested page size.
func (r *SearchResult) PageSize() int { return r.pageSize }

// TotalPages returns ceil(total / pageSize).
func (r *SearchResult) TotalPages() int { return r.totalPages }

// Facets returns the facet counts.
func (r *SearchResult) Facets() Facets { return r.facets }

// Clone returns a copy that shares no slice or bound with r. Documents are
// immutable and shared.
func (r *SearchResult) Clone() SearchResult {
	out := *r
	out.hits = slices.Clone(r.hits)
	out.facets = Facets{
		Kind:    slices.Clone(r.facets.Kind),
		Mineral: slices.Clone(r.facets.Mineral),
		Region:  slices.Clone(r.facets.Region),
	}
	if r.facets.Price != nil {
		out.facets.Price = make([]PriceBucket, len(r.facets.Price))
		for i, b := range r.facets.Price {
			b.From, b.To = cloneBound(b.From), cloneBound(b.To)
			out.facets.Price[i] = b
		}
	}
	return out
}

func cloneBound(v *float64) *float64 {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}
