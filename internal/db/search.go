package db

// SearchQuery is the input for FT.SEARCH.
type SearchQuery struct {
	IndexName string
	Query     string
	// Verbatim disables query-side stemming; terms are already analyzed.
	Verbatim     bool
	NoContent    bool
	WithScores   bool
	ReturnFields []string
	SortBy       string
	SortDesc     bool
	Offset       int
	Limit        int
}

// SearchResult is the output of FT.SEARCH.
type SearchResult struct {
	Total   int
	Entries []SearchEntry
}

// SearchEntry is a single document hit from a search.
type SearchEntry struct {
	Key    string
	Score  float64
	Fields map[string]string
}

// Apply computes a derived field in an aggregation pipeline.
type Apply struct {
	Expr string
	As   string
}

// SortKey is one SORTBY criterion. Field is given without the @ prefix.
type SortKey struct {
	Field string
	Desc  bool
}

// GroupBy groups rows by fields and counts each group into CountAs.
type GroupBy struct {
	Fields  []string
	CountAs string
}

// AggregateQuery is the input for FT.AGGREGATE. Steps run in the order
// LOAD, APPLY, GROUPBY, SORTBY, LIMIT.
type AggregateQuery struct {
	IndexName string
	Query     string
	Verbatim  bool
	// AddScores exposes the text relevance score as @__score.
	AddScores bool
	// Load lists fields to load; "*" loads the whole document.
	Load    []string
	Apply   []Apply
	GroupBy *GroupBy
	SortBy  []SortKey
	// SortMax caps the sorted rows kept by SORTBY (top-N), zero for no cap.
	SortMax int
	Offset  int
	Limit   int
}

// AggregateResult is the output of FT.AGGREGATE.
type AggregateResult struct {
	Rows []map[string]string
}

// QueryBatch is a set of reads executed in one round trip.
type QueryBatch struct {
	Searches   []*SearchQuery
	Aggregates []*AggregateQuery
}

// BatchResult holds results in the order of the corresponding QueryBatch slices.
type BatchResult struct {
	Searches   []*SearchResult
	Aggregates []*AggregateResult
}
