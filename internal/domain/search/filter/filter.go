// Package filter holds SearchFilters, the immutable query value shared by the
// index and fallback compilers.
package filter

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/kailas-cloud/listingsearch/internal/domain"
	"github.com/kailas-cloud/listingsearch/internal/domain/geo"
	"github.com/kailas-cloud/listingsearch/internal/domain/listing"
)

// Pagination bounds.
const (
	MaxPageSize     = 100
	DefaultPageSize = 20
	MaxQueryLength  = 256
	MaxListValues   = 32
)

// Range is an inclusive numeric range; either bound may be open.
type Range struct {
	min *float64
	max *float64
}

// NewRange validates and creates a Range. At least one bound is required.
func NewRange(minV, maxV *float64) (Range, error) {
	if minV == nil && maxV == nil {
		return Range{}, fmt.Errorf("at least one range bound is required")
	}
	for _, v := range []*float64{minV, maxV} {
		if v != nil && (math.IsNaN(*v) || math.IsInf(*v, 0)) {
			return Range{}, fmt.Errorf("range bound must be finite")
		}
	}
	if minV != nil && maxV != nil && *minV > *maxV {
		return Range{}, fmt.Errorf("range min %g exceeds max %g", *minV, *maxV)
	}
	return Range{min: minV, max: maxV}, nil
}

// Min returns the inclusive lower bound.
func (r Range) Min() *float64 { return r.min }

// Max returns the inclusive upper bound.
func (r Range) Max() *float64 { return r.max }

// Contains reports whether v lies inside the range.
func (r Range) Contains(v float64) bool {
	if r.min != nil && v < *r.min {
		return false
	}
	if r.max != nil && v > *r.max {
		return false
	}
	return true
}

func (r Range) String() string {
	return boundString(r.min) + ".." + boundString(r.max)
}

func boundString(v *float64) string {
	if v == nil {
		return ""
	}
	return strconv.FormatFloat(*v, 'g', -1, 64)
}

// Params is the raw, unvalidated input of a search request.
type Params struct {
	Query     string
	Kinds     []string
	Minerals  []string
	Regions   []string
	Statuses  []string
	PriceMin  *float64
	PriceMax  *float64
	AreaMin   *float64
	AreaMax   *float64
	Verified  *bool
	Featured  *bool
	Lat       *float64
	Lon       *float64
	RadiusKm  *float64
	Sort      string
	Direction string
	Page      int
	PageSize  int
}

// Filters is the normalized search request (immutable value object).
type Filters struct {
	query    string
	kinds    []listing.Kind
	minerals []string
	regions  []string
	statuses []listing.Status
	price    *Range
	area     *Range
	verified *bool
	featured *bool
	radius   *geo.Radius
	sort     Sort
	page     int
	pageSize int
}

// New validates p and returns normalized Filters. List filters are sorted and
// deduplicated, the query is whitespace-collapsed and zero pagination values
// take their defaults. Every violation is a *domain.ValidationError.
func New(p Params) (Filters, error) {
	f := Filters{
		query:    strings.Join(strings.Fields(p.Query), " "),
		verified: p.Verified,
		featured: p.Featured,
		page:     p.Page,
		pageSize: p.PageSize,
	}
	if len(f.query) > MaxQueryLength {
		return Filters{}, domain.NewValidationError("query", fmt.Sprintf("longer than %d bytes", MaxQueryLength))
	}

	if f.page == 0 {
		f.page = 1
	}
	if f.page < 1 {
		return Filters{}, domain.NewValidationError("page", "must be >= 1")
	}
	if f.pageSize == 0 {
		f.pageSize = DefaultPageSize
	}
	if f.pageSize < 1 || f.pageSize > MaxPageSize {
		return Filters{}, domain.NewValidationError("page_size", fmt.Sprintf("must be between 1 and %d", MaxPageSize))
	}

	kinds, err := normalizeList("kind", p.Kinds)
	if err != nil {
		return Filters{}, err
	}
	for _, k := range kinds {
		if !listing.Kind(k).IsValid() {
			return Filters{}, domain.NewValidationError("kind", fmt.Sprintf("unknown kind %q", k))
		}
		f.kinds = append(f.kinds, listing.Kind(k))
	}
	statuses, err := normalizeList("status", p.Statuses)
	if err != nil {
		return Filters{}, err
	}
	for _, s := range statuses {
		if !listing.Status(s).IsValid() {
			return Filters{}, domain.NewValidationError("status", fmt.Sprintf("unknown status %q", s))
		}
		f.statuses = append(f.statuses, listing.Status(s))
	}
	if f.minerals, err = normalizeList("mineral", p.Minerals); err != nil {
		return Filters{}, err
	}
	if f.regions, err = normalizeList("region", p.Regions); err != nil {
		return Filters{}, err
	}

	if p.PriceMin != nil || p.PriceMax != nil {
		r, err := NewRange(p.PriceMin, p.PriceMax)
		if err != nil {
			return Filters{}, domain.NewValidationError("price", err.Error())
		}
		f.price = &r
	}
	if p.AreaMin != nil || p.AreaMax != nil {
		r, err := NewRange(p.AreaMin, p.AreaMax)
		if err != nil {
			return Filters{}, domain.NewValidationError("area", err.Error())
		}
		f.area = &r
	}

	switch {
	case p.Lat == nil && p.Lon == nil && p.RadiusKm == nil:
	case p.Lat == nil || p.Lon == nil || p.RadiusKm == nil:
		return Filters{}, domain.NewValidationError("geo", "lat, lon and radius_km must be given together")
	default:
		r, err := geo.NewRadius(*p.Lat, *p.Lon, *p.RadiusKm)
		if err != nil {
			return Filters{}, domain.NewValidationError("geo", err.Error())
		}
		f.radius = &r
	}

	if f.sort, err = resolveSort(p.Sort, p.Direction, f.query != "", f.radius != nil); err != nil {
		return Filters{}, err
	}
	return f, nil
}

func normalizeList(field string, values []string) ([]string, error) {
	if len(values) == 0 {
		return nil, nil
	}
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	if len(out) > MaxListValues {
		return nil, domain.NewValidationError(field, fmt.Sprintf("at most %d values", MaxListValues))
	}
	if len(out) == 0 {
		return nil, nil
	}
	sort.Strings(out)
	return out, nil
}

// Query returns the free-text query, empty for match-all.
func (f Filters) Query() string { return f.query }

// HasQuery reports whether a text query is present.
func (f Filters) HasQuery() bool { return f.query != "" }

// Kinds returns the sorted kind filter.
func (f Filters) Kinds() []listing.Kind { return f.kinds }

// Minerals returns the sorted mineral filter.
func (f Filters) Minerals() []string { return f.minerals }

// Regions returns the sorted region filter.
func (f Filters) Regions() []string { return f.regions }

// Statuses returns the sorted status filter.
func (f Filters) Statuses() []listing.Status { return f.statuses }

// Price returns the price range, nil when unbounded.
func (f Filters) Price() *Range { return f.price }

// Area returns the area range, nil when unbounded.
func (f Filters) Area() *Range { return f.area }

// Verified returns the verified flag filter.
func (f Filters) Verified() *bool { return f.verified }

// Featured returns the featured flag filter.
func (f Filters) Featured() *bool { return f.featured }

// Radius returns the geo filter.
func (f Filters) Radius() *geo.Radius { return f.radius }

// Sort returns the resolved sort.
func (f Filters) Sort() Sort { return f.sort }

// Page returns the 1-based page number.
func (f Filters) Page() int { return f.page }

// PageSize returns the page size.
func (f Filters) PageSize() int { return f.pageSize }

// Offset returns the number of rows skipped before the page.
func (f Filters) Offset() int { return (f.page - 1) * f.pageSize }

// EffectiveStatuses returns the statuses a result may carry: the requested
// statuses that are searchable, or every searchable status when none were requested.
func (f Filters) EffectiveStatuses() []listing.Status {
	if len(f.statuses) == 0 {
		return listing.SearchableStatuses()
	}
	out := make([]listing.Status, 0, len(f.statuses))
	for _, s := range f.statuses {
		if s.IsSearchable() {
			out = append(out, s)
		}
	}
	return out
}

// Canonical returns a stable encoding of the normalized filters. Two Filters
// that select and order the same results encode identically.
func (f Filters) Canonical() string {
	var b strings.Builder
	b.WriteString("q=")
	b.WriteString(strconv.Quote(f.query))
	writeList(&b, "kind", kindStrings(f.kinds))
	writeList(&b, "mineral", f.minerals)
	writeList(&b, "region", f.regions)
	writeList(&b, "status", statusStrings(f.statuses))
	if f.price != nil {
		b.WriteString(";price=" + f.price.String())
	}
	if f.area != nil {
		b.WriteString(";area=" + f.area.String())
	}
	if f.verified != nil {
		b.WriteString(";verified=" + strconv.FormatBool(*f.verified))
	}
	if f.featured != nil {
		b.WriteString(";featured=" + strconv.FormatBool(*f.featured))
	}
	if f.radius != nil {
		fmt.Fprintf(&b, ";geo=%g,%g,%g", f.radius.Center.Lat, f.radius.Center.Lon, f.radius.Km)
	}
	b.WriteString(";sort=" + f.sort.String())
	fmt.Fprintf(&b, ";page=%d;size=%d", f.page, f.pageSize)
	return b.String()
}

func writeList(b *strings.Builder, name string, values []string) {
	if len(values) == 0 {
		return
	}
	b.WriteString(";" + name + "=")
	for i, v := range values {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.Quote(v))
	}
}

func kindStrings(kinds []listing.Kind) []string {
	out := make([]string, len(kinds))
	for i, k := range kinds {
		out[i] = string(k)
	}
	return out
}

func statusStrings(statuses []listing.Status) []string {
	out := make([]string, len(statuses))
	for i, s := range statuses {
		out[i] = string(s)
	}
	return out
}
