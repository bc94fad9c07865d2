package listingsearch

import (
	"context"
	"fmt"
	"time"

	"github.com/kailas-cloud/listingsearch/internal/domain/listing"
	"github.com/kailas-cloud/listingsearch/internal/domain/search/filter"
	"github.com/kailas-cloud/listingsearch/internal/domain/search/result"
)

// Search returns one page of matching listings. Invalid queries fail with
// ErrInvalidQuery; when neither the index nor Postgres can answer, the error
// is ErrSearchUnavailable.
func (c *Client) Search(ctx context.Context, q Query) (page Page, err error) {
	start := time.Now()
	defer func() { c.obs.observe("search", start, err) }()

	f, err := filter.New(toParams(q))
	if err != nil {
		return Page{}, fmt.Errorf("search: %w", err)
	}
	res, err := c.searchSvc.Search(ctx, f)
	if err != nil {
		return Page{}, fmt.Errorf("search: %w", err)
	}
	return toPage(&res), nil
}

// Suggest returns title completions for prefix, optionally scoped to a region
// and kind. Prefixes shorter than two characters return no suggestions.
func (c *Client) Suggest(ctx context.Context, prefix, region string, kind Kind) (out []string, err error) {
	start := time.Now()
	defer func() { c.obs.observe("suggest", start, err) }()

	sc := listing.Scope{Region: region, Kind: listing.Kind(kind)}
	if kind != "" && !sc.Kind.IsValid() {
		return nil, fmt.Errorf("suggest: %w: unknown kind %q", ErrInvalidQuery, kind)
	}
	out, err = c.searchSvc.Suggest(ctx, prefix, sc)
	if err != nil {
		return nil, fmt.Errorf("suggest: %w", err)
	}
	return out, nil
}

func toParams(q Query) filter.Params {
	p := filter.Params{
		Query:    q.Text,
		Minerals: q.Minerals,
		Regions:  q.Regions,
		Statuses: q.Statuses,
		PriceMin: q.PriceMin,
		PriceMax: q.PriceMax,
		AreaMin:  q.AreaMin,
		AreaMax:  q.AreaMax,
		Verified: q.Verified,
		Featured: q.Featured,
		Sort:     string(q.Sort),
		Page:     q.Page,
		PageSize: q.PageSize,
	}
	for _, k := range q.Kinds {
		p.Kinds = append(p.Kinds, string(k))
	}
	if q.Near != nil {
		p.Lat, p.Lon, p.RadiusKm = &q.Near.Lat, &q.Near.Lon, &q.Near.RadiusKm
	}
	if q.Ascending != nil {
		p.Direction = "desc"
		if *q.Ascending {
			p.Direction = "asc"
		}
	}
	return p
}

func toPage(res *result.SearchResult) Page {
	hits := res.Hits()
	out := Page{
		Listings:   make([]Listing, 0, len(hits)),
		Total:      res.Total(),
		Page:       res.Page(),
		PageSize:   res.PageSize(),
		TotalPages: res.TotalPages(),
	}
	for i := range hits {
		out.Listings = append(out.Listings, toListing(&hits[i]))
	}

	f := res.Facets()
	out.Facets = Facets{
		Kinds:    toCounts(f.Kind),
		Minerals: toCounts(f.Mineral),
		Regions:  toCounts(f.Region),
	}
	for _, b := range f.Price {
		out.Facets.Prices = append(out.Facets.Prices, PriceRange{From: b.From, To: b.To, Count: b.Count})
	}
	return out
}

func toListing(h *result.Hit) Listing {
	d := h.Document()
	l := Listing{
		ID:            d.ID(),
		Kind:          Kind(d.Kind()),
		Title:         d.Title(),
		Description:   d.Description(),
		Mineral:       d.Mineral(),
		Region:        d.Region(),
		Status:        string(d.Status()),
		Price:         d.Price(),
		Area:          d.Area(),
		Verified:      d.Verified(),
		Featured:      d.Featured(),
		ViewCount:     d.ViewCount(),
		FavoriteCount: d.FavoriteCount(),
		LicenseNumber: d.LicenseNumber(),
		CreatedAt:     d.CreatedAt(),
		UpdatedAt:     d.UpdatedAt(),
		Score:         h.Score(),
	}
	if loc := d.Location(); loc != nil {
		lat, lon := loc.Lat, loc.Lon
		l.Lat, l.Lon = &lat, &lon
	}
	return l
}

func toCounts(in []result.Bucket) []FacetCount {
	out := make([]FacetCount, len(in))
	for i, b := range in {
		out[i] = FacetCount{Value: b.Value, Count: b.Count}
	}
	return out
}
