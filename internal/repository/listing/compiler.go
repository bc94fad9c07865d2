package listing

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/lib/pq"

	"github.com/kailas-cloud/listingsearch/internal/domain/geo"
	domlisting "github.com/kailas-cloud/listingsearch/internal/domain/listing"
	"github.com/kailas-cloud/listingsearch/internal/domain/search/filter"
	"github.com/kailas-cloud/listingsearch/internal/domain/search/result"
	"github.com/kailas-cloud/listingsearch/internal/text"
)

// Options configures CompileFallback.
type Options struct {
	FacetTopN   int
	PriceBounds []float64
}

// Statement is a parameterized SQL statement with $n placeholders.
type Statement struct {
	SQL  string
	Args []any
}

// FacetStatement counts rows per distinct value of one column.
type FacetStatement struct {
	Field string
	Statement
}

// RelationalQuery is the fallback rendition of a search. The page, count,
// facet and price statements share one WHERE clause, so facets cover the
// unpaginated set the page is cut from.
type RelationalQuery struct {
	// Empty is set when no row can match; nothing needs to run.
	Empty        bool
	Page         Statement
	Count        Statement
	Facets       []FacetStatement
	PriceCounts  Statement
	PriceBuckets []result.PriceBucket
}

// facetColumns are grouped in the order of result.Facets.
var facetColumns = []string{"kind", "mineral", "region"}

// textColumns are searched by substring when a text query is present.
var textColumns = []string{"title", "description", "region", "mineral", "kind", "license_number"}

// CompileFallback renders filters as SQL against the listings table. It
// matches the same rows as the index query for every structural filter; text
// matching degrades to a case-insensitive substring match per token.
func CompileFallback(f filter.Filters, opts Options) (RelationalQuery, error) {
	if opts.FacetTopN < 1 {
		return RelationalQuery{}, fmt.Errorf("facet top-n must be positive")
	}
	buckets, err := result.PriceRanges(opts.PriceBounds)
	if err != nil {
		return RelationalQuery{}, err
	}

	p, ok := compileWhere(f)
	if !ok {
		return RelationalQuery{Empty: true, PriceBuckets: buckets}, nil
	}

	q := RelationalQuery{PriceBuckets: buckets}

	page := p.clone()
	limit := page.bind(f.PageSize())
	offset := page.bind(f.Offset())
	q.Page = Statement{
		SQL: `SELECT ` + listingColumns + ` FROM listings` + page.where() +
			` ORDER BY ` + orderBy(f.Sort(), p.distance) +
			` LIMIT ` + limit + ` OFFSET ` + offset,
		Args: page.args,
	}

	q.Count = Statement{SQL: `SELECT COUNT(*) FROM listings` + p.where(), Args: p.args}

	for _, col := range facetColumns {
		fp := p.clone()
		fp.add(col + ` IS NOT NULL AND ` + col + ` <> ''`)
		top := fp.bind(opts.FacetTopN)
		q.Facets = append(q.Facets, FacetStatement{
			Field: col,
			Statement: Statement{
				SQL: `SELECT ` + col + `, COUNT(*) AS n FROM listings` + fp.where() +
					` GROUP BY ` + col + ` ORDER BY n DESC, ` + col + ` ASC LIMIT ` + top,
				Args: fp.args,
			},
		})
	}

	pp := p.clone()
	pp.add(`price IS NOT NULL`)
	var cases strings.Builder
	cases.WriteString(`CASE`)
	for i, bound := range opts.PriceBounds {
		fmt.Fprintf(&cases, ` WHEN price < %s THEN %d`, pp.bind(bound), i)
	}
	fmt.Fprintf(&cases, ` ELSE %d END`, len(opts.PriceBounds))
	q.PriceCounts = Statement{
		SQL: `SELECT ` + cases.String() + ` AS bucket, COUNT(*) FROM listings` + pp.where() +
			` GROUP BY bucket`,
		Args: pp.args,
	}
	return q, nil
}

// compileSuggest renders a bounded title lookup. Titles that start with the
// prefix rank ahead of titles that merely contain it.
func compileSuggest(prefix, region string, kind domlisting.Kind, limit int) Statement {
	p := &predicate{}
	p.add(`status = ANY(` + p.bind(pq.Array(searchableStatuses())) + `)`)
	p.add(`title ILIKE ` + p.bind("%"+escapeLike(prefix)+"%"))
	if region != "" {
		p.add(`region = ` + p.bind(region))
	}
	if kind != "" {
		p.add(`kind = ` + p.bind(string(kind)))
	}
	starts := p.bind(escapeLike(prefix) + "%")
	lim := p.bind(limit)
	return Statement{
		SQL: `SELECT title FROM listings` + p.where() +
			` GROUP BY title ORDER BY bool_or(title ILIKE ` + starts + `) DESC, MAX(view_count) DESC, title ASC` +
			` LIMIT ` + lim,
		Args: p.args,
	}
}

// predicate accumulates AND-ed conditions and their positional arguments.
type predicate struct {
	conds []string
	args  []any
	// distance is the haversine expression of the geo filter, if any.
	distance string
}

// bind appends v and returns its placeholder.
func (p *predicate) bind(v any) string {
	p.args = append(p.args, v)
	return "$" + strconv.Itoa(len(p.args))
}

func (p *predicate) add(cond string) { p.conds = append(p.conds, cond) }

func (p *predicate) where() string {
	if len(p.conds) == 0 {
		return ""
	}
	return ` WHERE ` + strings.Join(p.conds, ` AND `)
}

func (p *predicate) clone() *predicate {
	return &predicate{
		conds:    append([]string(nil), p.conds...),
		args:     append([]any(nil), p.args...),
		distance: p.distance,
	}
}

// compileWhere returns false when the filters cannot match any searchable row.
func compileWhere(f filter.Filters) (*predicate, bool) {
	statuses := f.EffectiveStatuses()
	if len(statuses) == 0 {
		return nil, false
	}
	p := &predicate{}
	p.add(`status = ANY(` + p.bind(pq.Array(statusStrings(statuses))) + `)`)

	if f.HasQuery() {
		tokens := text.Tokenize(f.Query())
		if len(tokens) == 0 {
			return nil, false
		}
		for _, tok := range tokens {
			pattern := p.bind("%" + escapeLike(tok) + "%")
			alts := make([]string, len(textColumns))
			for i, col := range textColumns {
				alts[i] = col + ` ILIKE ` + pattern
			}
			p.add(`(` + strings.Join(alts, ` OR `) + `)`)
		}
	}

	if kinds := f.Kinds(); len(kinds) > 0 {
		vals := make([]string, len(kinds))
		for i, k := range kinds {
			vals[i] = string(k)
		}
		p.add(`kind = ANY(` + p.bind(pq.Array(vals)) + `)`)
	}
	if m := f.Minerals(); len(m) > 0 {
		p.add(`mineral = ANY(` + p.bind(pq.Array(m)) + `)`)
	}
	if r := f.Regions(); len(r) > 0 {
		p.add(`region = ANY(` + p.bind(pq.Array(r)) + `)`)
	}
	if v := f.Verified(); v != nil {
		p.add(`verified = ` + p.bind(*v))
	}
	if v := f.Featured(); v != nil {
		p.add(`featured = ` + p.bind(*v))
	}
	rangeConds(p, "price", f.Price())
	rangeConds(p, "area", f.Area())

	if r := f.Radius(); r != nil {
		p.distance = haversine(p.bind(r.Center.Lat), p.bind(r.Center.Lon))
		p.add(`latitude IS NOT NULL AND longitude IS NOT NULL`)
		p.add(p.distance + ` <= ` + p.bind(r.Km))
	}
	return p, true
}

func rangeConds(p *predicate, col string, r *filter.Range) {
	if r == nil {
		return
	}
	if r.Min() != nil {
		p.add(col + ` >= ` + p.bind(*r.Min()))
	}
	if r.Max() != nil {
		p.add(col + ` <= ` + p.bind(*r.Max()))
	}
}

// haversine renders the great-circle distance in km from the row to (lat, lon),
// on the same sphere as the index.
func haversine(lat, lon string) string {
	return `(` + earthRadius + ` * 2 * asin(sqrt(power(sin(radians(latitude - ` + lat + `) / 2), 2) + ` +
		`cos(radians(` + lat + `)) * cos(radians(latitude)) * ` +
		`power(sin(radians(longitude - ` + lon + `) / 2), 2))))`
}

var earthRadius = strconv.FormatFloat(geo.EarthRadiusKm, 'f', -1, 64)

// orderBy renders the total order of s. Relevance has no scorer here and
// falls back to the boost signals.
func orderBy(s filter.Sort, distance string) string {
	keys := s.Keys()
	parts := make([]string, 0, len(keys)+2)
	for _, k := range keys {
		dir := ` ASC`
		if k.Desc {
			dir = ` DESC`
		}
		switch k.Field {
		case filter.SortRelevance:
			parts = append(parts, `featured DESC`, `verified DESC`, `view_count DESC`)
		case filter.SortDistance:
			parts = append(parts, distance+dir)
		case filter.SortPrice, filter.SortArea:
			parts = append(parts, string(k.Field)+dir+` NULLS LAST`)
		default:
			parts = append(parts, string(k.Field)+dir)
		}
	}
	return strings.Join(parts, `, `)
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// escapeLike neutralizes LIKE wildcards using the default backslash escape.
func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}
