package redis

import (
	"context"
	"fmt"
	"strconv"

	"github.com/redis/rueidis"

	"github.com/kailas-cloud/listingsearch/internal/db"
)

// Search runs FT.SEARCH.
func (s *Store) Search(ctx context.Context, q *db.SearchQuery) (*db.SearchResult, error) {
	args, err := buildSearchArgs(q)
	if err != nil {
		return nil, err
	}
	cmd := s.b().Arbitrary("FT.SEARCH").Args(args...).Build()
	raw, err := s.do(ctx, cmd).ToArray()
	if err != nil {
		return nil, searchErr(db.OpSearch, err)
	}
	return parseSearchResult(raw, q)
}

// Batch runs every search and aggregation of b in a single DoMulti round-trip.
// The first failing command fails the whole batch.
func (s *Store) Batch(ctx context.Context, b *db.QueryBatch) (*db.BatchResult, error) {
	n := len(b.Searches) + len(b.Aggregates)
	if n == 0 {
		return &db.BatchResult{}, nil
	}

	cmds := make([]rueidis.Completed, 0, n)
	for _, q := range b.Searches {
		args, err := buildSearchArgs(q)
		if err != nil {
			return nil, err
		}
		cmds = append(cmds, s.b().Arbitrary("FT.SEARCH").Args(args...).Build())
	}
	for _, q := range b.Aggregates {
		args, err := buildAggregateArgs(q)
		if err != nil {
			return nil, err
		}
		cmds = append(cmds, s.b().Arbitrary("FT.AGGREGATE").Args(args...).Build())
	}

	results := s.client.DoMulti(ctx, cmds...)
	out := &db.BatchResult{
		Searches:   make([]*db.SearchResult, 0, len(b.Searches)),
		Aggregates: make([]*db.AggregateResult, 0, len(b.Aggregates)),
	}
	for i, q := range b.Searches {
		raw, err := results[i].ToArray()
		if err != nil {
			return nil, searchErr(db.OpSearch, err)
		}
		res, err := parseSearchResult(raw, q)
		if err != nil {
			return nil, err
		}
		out.Searches = append(out.Searches, res)
	}
	for i := range b.Aggregates {
		raw, err := results[len(b.Searches)+i].ToArray()
		if err != nil {
			return nil, searchErr(db.OpAggregate, err)
		}
		res, err := parseAggregateResult(raw)
		if err != nil {
			return nil, err
		}
		out.Aggregates = append(out.Aggregates, res)
	}
	return out, nil
}

func searchErr(op string, err error) error {
	if isRedisErr(err, "unknown index name") || isRedisErr(err, "no such index") {
		return db.ErrIndexNotFound
	}
	return &db.Error{Op: op, Err: err}
}

func buildSearchArgs(q *db.SearchQuery) ([]string, error) {
	if q.IndexName == "" {
		return nil, fmt.Errorf("index name is required")
	}
	if q.Query == "" {
		return nil, fmt.Errorf("query is required")
	}
	if q.Limit < 0 || q.Offset < 0 {
		return nil, fmt.Errorf("offset and limit must not be negative")
	}

	args := []string{q.IndexName, q.Query}
	if q.NoContent {
		args = append(args, "NOCONTENT")
	}
	if q.Verbatim {
		args = append(args, "VERBATIM")
	}
	if q.WithScores {
		args = append(args, "WITHSCORES")
	}
	if len(q.ReturnFields) > 0 && !q.NoContent {
		args = append(args, "RETURN", strconv.Itoa(len(q.ReturnFields)))
		args = append(args, q.ReturnFields...)
	}
	if q.SortBy != "" {
		dir := "ASC"
		if q.SortDesc {
			dir = "DESC"
		}
		args = append(args, "SORTBY", q.SortBy, dir)
	}
	args = append(args,
		"LIMIT", strconv.Itoa(q.Offset), strconv.Itoa(q.Limit),
		"DIALECT", "2",
	)
	return args, nil
}

func buildAggregateArgs(q *db.AggregateQuery) ([]string, error) {
	if q.IndexName == "" {
		return nil, fmt.Errorf("index name is required")
	}
	if q.Query == "" {
		return nil, fmt.Errorf("query is required")
	}

	args := []string{q.IndexName, q.Query}
	if q.Verbatim {
		args = append(args, "VERBATIM")
	}
	if len(q.Load) == 1 && q.Load[0] == "*" {
		args = append(args, "LOAD", "*")
	} else if len(q.Load) > 0 {
		args = append(args, "LOAD", strconv.Itoa(len(q.Load)))
		for _, f := range q.Load {
			args = append(args, "@"+f)
		}
	}
	if q.AddScores {
		args = append(args, "ADDSCORES")
	}
	for _, a := range q.Apply {
		args = append(args, "APPLY", a.Expr, "AS", a.As)
	}
	if g := q.GroupBy; g != nil {
		if len(g.Fields) == 0 {
			return nil, fmt.Errorf("group by requires at least one field")
		}
		args = append(args, "GROUPBY", strconv.Itoa(len(g.Fields)))
		for _, f := range g.Fields {
			args = append(args, "@"+f)
		}
		countAs := g.CountAs
		if countAs == "" {
			countAs = "count"
		}
		args = append(args, "REDUCE", "COUNT", "0", "AS", countAs)
	}
	if len(q.SortBy) > 0 {
		args = append(args, "SORTBY", strconv.Itoa(2*len(q.SortBy)))
		for _, k := range q.SortBy {
			dir := "ASC"
			if k.Desc {
				dir = "DESC"
			}
			args = append(args, "@"+k.Field, dir)
		}
		if q.SortMax > 0 {
			args = append(args, "MAX", strconv.Itoa(q.SortMax))
		}
	}
	if q.Limit > 0 {
		args = append(args, "LIMIT", strconv.Itoa(q.Offset), strconv.Itoa(q.Limit))
	}
	args = append(args, "DIALECT", "2")
	return args, nil
}

// --- Result parsing ---

// parseSearchResult reads [total, key, (score), (fields), ...]; the stride
// depends on WITHSCORES and NOCONTENT.
func parseSearchResult(raw []rueidis.RedisMessage, q *db.SearchQuery) (*db.SearchResult, error) {
	if len(raw) == 0 {
		return &db.SearchResult{}, nil
	}

	total, err := raw[0].AsInt64()
	if err != nil {
		return nil, fmt.Errorf("parse total: %w", err)
	}
	if total == 0 {
		return &db.SearchResult{Total: 0}, nil
	}

	stride := 1
	if q.WithScores {
		stride++
	}
	if !q.NoContent {
		stride++
	}

	entries := make([]db.SearchEntry, 0, (len(raw)-1)/stride)
	for i := 1; i+stride-1 < len(raw); i += stride {
		key, err := raw[i].ToString()
		if err != nil {
			continue
		}
		entry := db.SearchEntry{Key: key}
		next := i + 1
		if q.WithScores {
			if score, err := raw[next].AsFloat64(); err == nil {
				entry.Score = score
			}
			next++
		}
		if !q.NoContent {
			fields, err := raw[next].ToArray()
			if err != nil {
				continue
			}
			entry.Fields = parseFieldPairs(fields)
		}
		entries = append(entries, entry)
	}

	return &db.SearchResult{Total: int(total), Entries: entries}, nil
}

// parseAggregateResult reads [n, row1, row2, ...] where each row is a flat
// field/value array. The leading count is not reliable across engines and is ignored.
func parseAggregateResult(raw []rueidis.RedisMessage) (*db.AggregateResult, error) {
	if len(raw) <= 1 {
		return &db.AggregateResult{}, nil
	}
	rows := make([]map[string]string, 0, len(raw)-1)
	for _, m := range raw[1:] {
		fields, err := m.ToArray()
		if err != nil {
			return nil, fmt.Errorf("parse aggregate row: %w", err)
		}
		rows = append(rows, parseFieldPairs(fields))
	}
	return &db.AggregateResult{Rows: rows}, nil
}

func parseFieldPairs(fields []rueidis.RedisMessage) map[string]string {
	m := make(map[string]string, len(fields)/2)
	for j := 0; j+1 < len(fields); j += 2 {
		name, err := fields[j].ToString()
		if err != nil {
			continue
		}
		value, err := fields[j+1].ToString()
		if err != nil {
			continue
		}
		m[name] = value
	}
	return m
}
