package index

import (
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/kailas-cloud/listingsearch/internal/db"
	"github.com/kailas-cloud/listingsearch/internal/domain/document"
	"github.com/kailas-cloud/listingsearch/internal/domain/listing"
	"github.com/kailas-cloud/listingsearch/internal/domain/search/filter"
	"github.com/kailas-cloud/listingsearch/internal/domain/search/result"
	"github.com/kailas-cloud/listingsearch/internal/text"
)

// Terms at least this long are matched with edit distance 1.
const fuzzyMinTermLen = 4

// Derived aggregation fields.
const (
	fieldRank     = "rank"
	fieldDistance = "distance"
	fieldScore    = "__score"
	fieldCount    = "count"
)

// facetFields are the dimensions counted for every search, in result order.
var facetFields = []string{document.FieldKind, document.FieldMineral, document.FieldRegion}

// Options parameterize query compilation.
type Options struct {
	IndexName   string
	Analyzers   text.Analyzers
	FacetTopN   int
	PriceBounds []float64
}

// Plan is a compiled search: one page request, one count, one grouped count per
// facet dimension and one count per price bucket, executed as a single batch.
type Plan struct {
	// Query is the FT query string shared by every request of the plan.
	Query string
	// Empty is set when the filters can match nothing; no request needs to run.
	Empty        bool
	Page         *db.AggregateQuery
	Count        *db.SearchQuery
	Facets       []*db.AggregateQuery
	PriceBuckets []result.PriceBucket
	PriceCounts  []*db.SearchQuery
}

// Batch returns the plan as a single round trip: the count followed by the
// price bucket counts, then the page followed by the facet aggregations.
func (p *Plan) Batch() *db.QueryBatch {
	b := &db.QueryBatch{
		Searches:   make([]*db.SearchQuery, 0, 1+len(p.PriceCounts)),
		Aggregates: make([]*db.AggregateQuery, 0, 1+len(p.Facets)),
	}
	b.Searches = append(b.Searches, p.Count)
	b.Searches = append(b.Searches, p.PriceCounts...)
	b.Aggregates = append(b.Aggregates, p.Page)
	b.Aggregates = append(b.Aggregates, p.Facets...)
	return b
}

// CompileQuery turns normalized filters into an index plan. It is a pure function of its inputs.
func CompileQuery(f filter.Filters, opts Options) (Plan, error) {
	if opts.IndexName == "" {
		return Plan{}, fmt.Errorf("index name is required")
	}
	if opts.FacetTopN <= 0 {
		return Plan{}, fmt.Errorf("facet top-N must be positive")
	}
	buckets, err := result.PriceRanges(opts.PriceBounds)
	if err != nil {
		return Plan{}, err
	}

	statuses := f.EffectiveStatuses()
	if len(statuses) == 0 {
		return Plan{Empty: true, PriceBuckets: buckets}, nil
	}

	clauses := make([]string, 0, 12)
	if f.HasQuery() {
		textClause := compileText(f.Query(), opts.Analyzers)
		if textClause == "" {
			// The query has no searchable tokens (punctuation only).
			return Plan{Empty: true, PriceBuckets: buckets}, nil
		}
		clauses = append(clauses, textClause)
	}
	clauses = append(clauses, compileFilters(f, statuses)...)

	q := strings.Join(clauses, " ")
	if q == "" {
		q = "*"
	}

	plan := Plan{
		Query: q,
		Page:  compilePage(f, q, opts.IndexName),
		Count: &db.SearchQuery{
			IndexName: opts.IndexName,
			Query:     q,
			Verbatim:  true,
			NoContent: true,
		},
		PriceBuckets: buckets,
	}
	for _, field := range facetFields {
		plan.Facets = append(plan.Facets, &db.AggregateQuery{
			IndexName: opts.IndexName,
			Query:     q,
			Verbatim:  true,
			GroupBy:   &db.GroupBy{Fields: []string{field}, CountAs: fieldCount},
			SortBy:    []db.SortKey{{Field: fieldCount, Desc: true}, {Field: field}},
			SortMax:   opts.FacetTopN,
		})
	}
	for _, b := range buckets {
		plan.PriceCounts = append(plan.PriceCounts, &db.SearchQuery{
			IndexName: opts.IndexName,
			Query:     withClause(q, priceBucketClause(b)),
			Verbatim:  true,
			NoContent: true,
		})
	}
	return plan, nil
}

// compileText builds one group per query token. Groups are intersected; inside a
// group the token matches any language's stemmed title or description, or the raw blob.
func compileText(query string, analyzers text.Analyzers) string {
	tokens := text.Tokenize(query)
	groups := make([]string, 0, len(tokens))
	for _, tok := range tokens {
		alts := make([]string, 0, len(analyzers)+1)
		for _, a := range analyzers {
			alts = append(alts, fmt.Sprintf("@%s|%s:(%s)",
				document.TitleField(a), document.DescriptionField(a), matchTerm(a.Analyze(tok))))
		}
		alts = append(alts, fmt.Sprintf("@%s:(%s)", document.FieldSearchText, matchTerm(tok)))
		groups = append(groups, "("+strings.Join(alts, " | ")+")")
	}
	return strings.Join(groups, " ")
}

func matchTerm(term string) string {
	escaped := escapeQuery(term)
	if utf8.RuneCountInString(term) >= fuzzyMinTermLen {
		return "%" + escaped + "%"
	}
	return escaped
}

// compileFilters renders the structural filters. They narrow the candidate set
// without contributing to the text score.
func compileFilters(f filter.Filters, statuses []listing.Status) []string {
	var out []string
	if kinds := f.Kinds(); len(kinds) > 0 {
		vals := make([]string, len(kinds))
		for i, k := range kinds {
			vals[i] = string(k)
		}
		out = append(out, tagClause(document.FieldKind, vals))
	}
	if len(f.Minerals()) > 0 {
		out = append(out, tagClause(document.FieldMineral, f.Minerals()))
	}
	if len(f.Regions()) > 0 {
		out = append(out, tagClause(document.FieldRegion, f.Regions()))
	}
	vals := make([]string, len(statuses))
	for i, s := range statuses {
		vals[i] = string(s)
	}
	out = append(out, tagClause(document.FieldStatus, vals))

	if v := f.Verified(); v != nil {
		out = append(out, tagClause(document.FieldVerified, []string{strconv.FormatBool(*v)}))
	}
	if v := f.Featured(); v != nil {
		out = append(out, tagClause(document.FieldFeatured, []string{strconv.FormatBool(*v)}))
	}
	if r := f.Price(); r != nil {
		out = append(out, numericClause(document.FieldPrice, r.Min(), r.Max(), false))
	}
	if r := f.Area(); r != nil {
		out = append(out, numericClause(document.FieldArea, r.Min(), r.Max(), false))
	}
	if g := f.Radius(); g != nil {
		out = append(out, fmt.Sprintf("@%s:[%s %s %s km]", document.FieldLocation,
			formatNum(g.Center.Lon), formatNum(g.Center.Lat), formatNum(g.Km)))
	}
	return out
}

func compilePage(f filter.Filters, q, indexName string) *db.AggregateQuery {
	page := &db.AggregateQuery{
		IndexName: indexName,
		Query:     q,
		Verbatim:  true,
		Load:      []string{"*"},
		Offset:    f.Offset(),
		Limit:     f.PageSize(),
	}
	for _, k := range f.Sort().Keys() {
		field := string(k.Field)
		switch k.Field {
		case filter.SortRelevance:
			page.AddScores = true
			page.Apply = append(page.Apply, db.Apply{
				Expr: fmt.Sprintf("@%s * @%s", fieldScore, document.FieldBoostScore),
				As:   fieldRank,
			})
			field = fieldRank
		case filter.SortDistance:
			g := f.Radius()
			page.Apply = append(page.Apply, db.Apply{
				Expr: fmt.Sprintf("geodistance(@%s, %s, %s)", document.FieldLocation,
					formatNum(g.Center.Lon), formatNum(g.Center.Lat)),
				As: fieldDistance,
			})
			field = fieldDistance
		}
		page.SortBy = append(page.SortBy, db.SortKey{Field: field, Desc: k.Desc})
	}
	return page
}

func priceBucketClause(b result.PriceBucket) string {
	return numericClause(document.FieldPrice, b.From, b.To, true)
}

// numericClause renders an inclusive range; exclusiveMax makes the upper bound exclusive.
func numericClause(field string, minV, maxV *float64, exclusiveMax bool) string {
	lo, hi := "-inf", "+inf"
	if minV != nil {
		lo = formatNum(*minV)
	}
	if maxV != nil {
		hi = formatNum(*maxV)
		if exclusiveMax {
			hi = "(" + hi
		}
	}
	return fmt.Sprintf("@%s:[%s %s]", field, lo, hi)
}

func tagClause(field string, values []string) string {
	escaped := make([]string, len(values))
	for i, v := range values {
		escaped[i] = escapeTag(v)
	}
	return fmt.Sprintf("@%s:{%s}", field, strings.Join(escaped, " | "))
}

func withClause(q, clause string) string {
	if q == "*" {
		return clause
	}
	return q + " " + clause
}

func formatNum(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// --- Query helpers ---

func escapeTag(s string) string {
	return tagEscaper.Replace(s)
}

var tagEscaper = strings.NewReplacer(
	",", "\\,",
	".", "\\.",
	"<", "\\<",
	">", "\\>",
	"{", "\\{",
	"}", "\\}",
	"[", "\\[",
	"]", "\\]",
	"\"", "\\\"",
	"'", "\\'",
	":", "\\:",
	";", "\\;",
	"!", "\\!",
	"@", "\\@",
	"#", "\\#",
	"$", "\\$",
	"%", "\\%",
	"^", "\\^",
	"&", "\\&",
	"*", "\\*",
	"(", "\\(",
	")", "\\)",
	"-", "\\-",
	"+", "\\+",
	"=", "\\=",
	"~", "\\~",
	"|", "\\|",
	"/", "\\/",
	" ", "\\ ",
)

func escapeQuery(s string) string {
	return queryEscaper.Replace(s)
}

var queryEscaper = strings.NewReplacer(
	`\`, `\\`,
	`'`, `\'`,
	`"`, `\"`,
	`@`, `\@`,
	`{`, `\{`,
	`}`, `\}`,
	`(`, `\(`,
	`)`, `\)`,
	`|`, `\|`,
	`-`, `\-`,
	`~`, `\~`,
	`*`, `\*`,
	`[`, `\[`,
	`]`, `\]`,
	`!`, `\!`,
	`%`, `\%`,
	`^`, `\^`,
	`$`, `\$`,
	`<`, `\<`,
	`>`, `\>`,
	`=`, `\=`,
	`;`, `\;`,
	`+`, `\+`,
	`:`, `\:`,
	`,`, `\,`,
	`.`, `\.`,
)
