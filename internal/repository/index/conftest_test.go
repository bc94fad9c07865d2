package index

import (
	"context"
	"testing"
	"time"

	"github.com/kailas-cloud/listingsearch/internal/db"
	"github.com/kailas-cloud/listingsearch/internal/domain/document"
	"github.com/kailas-cloud/listingsearch/internal/domain/listing"
	"github.com/kailas-cloud/listingsearch/internal/text"
)

// mockStore implements the consumer interface for tests.
type mockStore struct {
	pingFn         func(ctx context.Context) error
	hsetMultiFn    func(ctx context.Context, items []db.HashSetItem) error
	hgetAllMultiFn func(ctx context.Context, keys []string) ([]map[string]string, error)
	delFn          func(ctx context.Context, keys ...string) error
	scanFn         func(ctx context.Context, pattern string) ([]string, error)
	getFn          func(ctx context.Context, key string) ([]byte, error)
	setNXFn        func(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error)
	expireFn       func(ctx context.Context, key string, ttl time.Duration) error
	createIndexFn  func(ctx context.Context, def *db.IndexDefinition) error
	indexInfoFn    func(ctx context.Context, name string) (*db.IndexInfo, error)
	searchFn       func(ctx context.Context, q *db.SearchQuery) (*db.SearchResult, error)
	batchFn        func(ctx context.Context, b *db.QueryBatch) (*db.BatchResult, error)
	sugAddFn       func(ctx context.Context, items []db.Suggestion) error
	sugDelFn       func(ctx context.Context, items []db.Suggestion) error
	sugGetFn       func(ctx context.Context, key, prefix string, limit int, fuzzy bool) ([]string, error)
}

func (m *mockStore) Ping(ctx context.Context) error {
	if m.pingFn != nil {
		return m.pingFn(ctx)
	}
	return nil
}

func (m *mockStore) HSetMulti(ctx context.Context, items []db.HashSetItem) error {
	if m.hsetMultiFn != nil {
		return m.hsetMultiFn(ctx, items)
	}
	return nil
}

func (m *mockStore) HGetAllMulti(ctx context.Context, keys []string) ([]map[string]string, error) {
	if m.hgetAllMultiFn != nil {
		return m.hgetAllMultiFn(ctx, keys)
	}
	return make([]map[string]string, len(keys)), nil
}

func (m *mockStore) Del(ctx context.Context, keys ...string) error {
	if m.delFn != nil {
		return m.delFn(ctx, keys...)
	}
	return nil
}

func (m *mockStore) Scan(ctx context.Context, pattern string) ([]string, error) {
	if m.scanFn != nil {
		return m.scanFn(ctx, pattern)
	}
	return nil, nil
}

func (m *mockStore) Get(ctx context.Context, key string) ([]byte, error) {
	if m.getFn != nil {
		return m.getFn(ctx, key)
	}
	return nil, db.ErrKeyNotFound
}

func (m *mockStore) SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	if m.setNXFn != nil {
		return m.setNXFn(ctx, key, value, ttl)
	}
	return true, nil
}

func (m *mockStore) Expire(ctx context.Context, key string, ttl time.Duration) error {
	if m.expireFn != nil {
		return m.expireFn(ctx, key, ttl)
	}
	return nil
}

func (m *mockStore) CreateIndex(ctx context.Context, def *db.IndexDefinition) error {
	if m.createIndexFn != nil {
		return m.createIndexFn(ctx, def)
	}
	return nil
}

func (m *mockStore) IndexInfo(ctx context.Context, name string) (*db.IndexInfo, error) {
	if m.indexInfoFn != nil {
		return m.indexInfoFn(ctx, name)
	}
	return nil, db.ErrIndexNotFound
}

func (m *mockStore) Search(ctx context.Context, q *db.SearchQuery) (*db.SearchResult, error) {
	if m.searchFn != nil {
		return m.searchFn(ctx, q)
	}
	return &db.SearchResult{}, nil
}

func (m *mockStore) Batch(ctx context.Context, b *db.QueryBatch) (*db.BatchResult, error) {
	if m.batchFn != nil {
		return m.batchFn(ctx, b)
	}
	out := &db.BatchResult{}
	for range b.Searches {
		out.Searches = append(out.Searches, &db.SearchResult{})
	}
	for range b.Aggregates {
		out.Aggregates = append(out.Aggregates, &db.AggregateResult{})
	}
	return out, nil
}

func (m *mockStore) SugAddMulti(ctx context.Context, items []db.Suggestion) error {
	if m.sugAddFn != nil {
		return m.sugAddFn(ctx, items)
	}
	return nil
}

func (m *mockStore) SugDelMulti(ctx context.Context, items []db.Suggestion) error {
	if m.sugDelFn != nil {
		return m.sugDelFn(ctx, items)
	}
	return nil
}

func (m *mockStore) SugGet(ctx context.Context, key, prefix string, limit int, fuzzy bool) ([]string, error) {
	if m.sugGetFn != nil {
		return m.sugGetFn(ctx, key, prefix, limit, fuzzy)
	}
	return nil, nil
}

func testConfig() Config {
	return Config{
		IndexName:   "listings:idx",
		KeyPrefix:   "listing:",
		Analyzers:   text.MustAnalyzers("english", "russian"),
		FacetTopN:   10,
		PriceBounds: []float64{100, 1000, 10000},
	}
}

func newTestRepo(t *testing.T) (*Repo, *mockStore) {
	t.Helper()
	ms := &mockStore{}
	repo, err := New(ms, testConfig(), nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return repo, ms
}

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func testDoc(t *testing.T, id, title, region string, kind listing.Kind) document.Document {
	t.Helper()
	d, err := document.ToDocument(&listing.Listing{
		ID:        id,
		Kind:      kind,
		Title:     title,
		Region:    region,
		Mineral:   "gold",
		Status:    listing.StatusActive,
		CreatedAt: testNow.Add(-time.Hour),
		UpdatedAt: testNow,
	}, testNow)
	if err != nil {
		t.Fatalf("ToDocument: %v", err)
	}
	return d
}
