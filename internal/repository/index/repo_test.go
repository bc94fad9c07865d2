package index

import (
	"context"
	"errors"
	"reflect"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/kailas-cloud/listingsearch/internal/db"
	"github.com/kailas-cloud/listingsearch/internal/domain"
	"github.com/kailas-cloud/listingsearch/internal/domain/document"
	"github.com/kailas-cloud/listingsearch/internal/domain/listing"
	"github.com/kailas-cloud/listingsearch/internal/domain/search/filter"
)

// --- schema ---

func TestBuildSchema_Fields(t *testing.T) {
	repo, _ := newTestRepo(t)
	def := repo.Schema()

	byName := make(map[string]db.IndexField)
	for _, f := range def.Fields {
		byName[f.Name] = f
	}
	for _, name := range []string{"title_en", "title_ru", "description_en", "description_ru", "search_text"} {
		f, ok := byName[name]
		if !ok || f.Type != db.IndexFieldText || !f.TextNoStem {
			t.Errorf("field %s = %+v", name, f)
		}
	}
	if byName["title_en"].TextWeight <= byName["description_en"].TextWeight {
		t.Error("title must weigh more than description")
	}
	for _, name := range []string{"kind", "region", "mineral", "status", "license_number"} {
		if f := byName[name]; f.Type != db.IndexFieldTag || !f.TagCaseSensitive || f.TagSeparator != "|" {
			t.Errorf("field %s = %+v", name, f)
		}
	}
	if f := byName["price"]; f.Type != db.IndexFieldNumeric || !f.Sortable {
		t.Errorf("price = %+v", f)
	}
	if f := byName["location"]; f.Type != db.IndexFieldGeo {
		t.Errorf("location = %+v", f)
	}
	if f := byName["title_exact"]; f.Type != db.IndexFieldTag || !f.Sortable || f.TagSeparator != "|" {
		t.Errorf("title_exact = %+v", f)
	}
	if !def.NoStopwords || !reflect.DeepEqual(def.Prefixes, []string{"listing:"}) {
		t.Errorf("definition = %s", def)
	}
}

func TestSchemaDiff(t *testing.T) {
	missing, unexpected := schemaDiff([]string{"a", "b", "c"}, []string{"c", "a", "z"})
	if !reflect.DeepEqual(missing, []string{"b"}) || !reflect.DeepEqual(unexpected, []string{"z"}) {
		t.Errorf("diff = %v / %v", missing, unexpected)
	}
}

// --- EnsureIndex ---

func TestEnsureIndex_CreatesWhenMissing(t *testing.T) {
	repo, ms := newTestRepo(t)
	var created *db.IndexDefinition
	ms.createIndexFn = func(_ context.Context, def *db.IndexDefinition) error {
		created = def
		return nil
	}

	res, err := repo.EnsureIndex(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.Created || created == nil || created.Name != "listings:idx" {
		t.Errorf("result = %+v, created = %v", res, created)
	}
}

func TestEnsureIndex_ExistingIsNoOp(t *testing.T) {
	repo, ms := newTestRepo(t)
	ms.indexInfoFn = func(context.Context, string) (*db.IndexInfo, error) {
		return &db.IndexInfo{Attributes: repo.Schema().FieldNames()}, nil
	}
	ms.createIndexFn = func(context.Context, *db.IndexDefinition) error {
		t.Fatal("must not create an existing index")
		return nil
	}

	res, err := repo.EnsureIndex(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Created || res.SchemaMismatch() {
		t.Errorf("result = %+v", res)
	}
}

func TestEnsureIndex_ReportsMismatch(t *testing.T) {
	repo, ms := newTestRepo(t)
	ms.indexInfoFn = func(context.Context, string) (*db.IndexInfo, error) {
		return &db.IndexInfo{Attributes: []string{"id", "legacy_field"}}, nil
	}

	res, err := repo.EnsureIndex(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.SchemaMismatch() || !reflect.DeepEqual(res.Unexpected, []string{"legacy_field"}) {
		t.Errorf("result = %+v", res)
	}
}

func TestEnsureIndex_LostCreationRaceIsSuccess(t *testing.T) {
	repo, ms := newTestRepo(t)
	ms.createIndexFn = func(context.Context, *db.IndexDefinition) error { return db.ErrIndexExists }

	if _, err := repo.EnsureIndex(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestEnsureIndex_WaitsForOtherProvisioner(t *testing.T) {
	repo, ms := newTestRepo(t)
	ms.setNXFn = func(context.Context, string, []byte, time.Duration) (bool, error) { return false, nil }
	probes := 0
	ms.indexInfoFn = func(context.Context, string) (*db.IndexInfo, error) {
		probes++
		if probes < 3 {
			return nil, db.ErrIndexNotFound
		}
		return &db.IndexInfo{Attributes: repo.Schema().FieldNames()}, nil
	}
	ms.createIndexFn = func(context.Context, *db.IndexDefinition) error {
		t.Fatal("must not create while another process holds the lease")
		return nil
	}

	if _, err := repo.EnsureIndex(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if probes != 3 {
		t.Errorf("probes = %d", probes)
	}
}

func TestEnsureIndex_BackendError(t *testing.T) {
	repo, ms := newTestRepo(t)
	ms.indexInfoFn = func(context.Context, string) (*db.IndexInfo, error) {
		return nil, &db.Error{Op: db.OpIndexInfo, Err: context.DeadlineExceeded}
	}
	_, err := repo.EnsureIndex(context.Background())
	if !errors.Is(err, domain.ErrTransient) {
		t.Errorf("expected transient error, got %v", err)
	}
}

// --- Search ---

func TestSearch_AssemblesResult(t *testing.T) {
	repo, ms := newTestRepo(t)
	ms.batchFn = func(_ context.Context, b *db.QueryBatch) (*db.BatchResult, error) {
		if len(b.Searches) != 5 || len(b.Aggregates) != 4 {
			t.Fatalf("batch shape %d/%d", len(b.Searches), len(b.Aggregates))
		}
		return &db.BatchResult{
			Searches: []*db.SearchResult{{Total: 42}, {Total: 1}, {Total: 2}, {Total: 3}, {Total: 4}},
			Aggregates: []*db.AggregateResult{
				{Rows: []map[string]string{
					{"id": "a", "title": "Gold A", "kind": "mining_license", "status": "active",
						"created_at": "1700000000", "updated_at": "1700000000", "rank": "2.5"},
					{"title": "no id"},
				}},
				{Rows: []map[string]string{{"kind": "mining_license", "count": "30"}, {"kind": "", "count": "2"}}},
				{Rows: []map[string]string{{"mineral": "gold", "count": "40"}}},
				{Rows: []map[string]string{{"region": "Atyrau", "count": "12"}}},
			},
		}, nil
	}

	f, err := filter.New(filter.Params{Query: "gold", PageSize: 10})
	if err != nil {
		t.Fatal(err)
	}
	res, err := repo.Search(context.Background(), f)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Total() != 42 || res.TotalPages() != 5 {
		t.Errorf("total = %d pages = %d", res.Total(), res.TotalPages())
	}
	if len(res.Hits()) != 1 {
		t.Fatalf("hits = %d", len(res.Hits()))
	}
	hit := res.Hits()[0]
	if doc := hit.Document(); doc.ID() != "a" || hit.Score() != 2.5 {
		t.Errorf("hit = %s / %v", doc.ID(), hit.Score())
	}
	facets := res.Facets()
	if len(facets.Kind) != 1 || facets.Kind[0].Count != 30 {
		t.Errorf("kind facet = %+v", facets.Kind)
	}
	if facets.Region[0].Value != "Atyrau" || facets.Mineral[0].Count != 40 {
		t.Errorf("facets = %+v", facets)
	}
	if len(facets.Price) != 4 || facets.Price[0].Count != 1 || facets.Price[3].Count != 4 {
		t.Errorf("price facets = %+v", facets.Price)
	}
}

func TestSearch_EmptyPlanSkipsBackend(t *testing.T) {
	repo, ms := newTestRepo(t)
	ms.batchFn = func(context.Context, *db.QueryBatch) (*db.BatchResult, error) {
		t.Fatal("backend must not be queried")
		return nil, nil
	}
	f, _ := filter.New(filter.Params{Statuses: []string{"draft"}})
	res, err := repo.Search(context.Background(), f)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Total() != 0 || len(res.Facets().Price) != 4 {
		t.Errorf("result = %+v", res)
	}
}

func TestSearch_MapsErrors(t *testing.T) {
	repo, ms := newTestRepo(t)
	f, _ := filter.New(filter.Params{})

	ms.batchFn = func(context.Context, *db.QueryBatch) (*db.BatchResult, error) { return nil, db.ErrIndexNotFound }
	if _, err := repo.Search(context.Background(), f); !errors.Is(err, domain.ErrIndexNotProvisioned) {
		t.Errorf("expected ErrIndexNotProvisioned, got %v", err)
	}

	ms.batchFn = func(context.Context, *db.QueryBatch) (*db.BatchResult, error) {
		return nil, &db.Error{Op: db.OpSearch, Err: errors.New("connection refused")}
	}
	if _, err := repo.Search(context.Background(), f); !domain.IsTransient(err) {
		t.Errorf("expected transient error, got %v", err)
	}
}

// --- Upsert / Delete ---

func TestUpsert_WritesDocumentsAndSuggestions(t *testing.T) {
	repo, ms := newTestRepo(t)
	var written []db.HashSetItem
	ms.hsetMultiFn = func(_ context.Context, items []db.HashSetItem) error {
		written = items
		return nil
	}
	var added []db.Suggestion
	ms.sugAddFn = func(_ context.Context, items []db.Suggestion) error {
		added = items
		return nil
	}
	ms.sugDelFn = func(_ context.Context, items []db.Suggestion) error {
		if len(items) > 0 {
			t.Errorf("nothing to delete for new documents, got %+v", items)
		}
		return nil
	}

	doc := testDoc(t, "a", "Tengiz oil field", "Atyrau", listing.KindMiningLicense)
	touched, err := repo.Upsert(context.Background(), []document.Document{doc})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if want := []listing.Scope{{Region: "Atyrau", Kind: listing.KindMiningLicense}}; !reflect.DeepEqual(touched, want) {
		t.Errorf("touched = %+v", touched)
	}
	if len(written) != 1 || written[0].Key != "listing:a" || written[0].Fields["title_en"] == "" {
		t.Errorf("written = %+v", written)
	}
	keys := suggestionKeys(added)
	want := []string{
		"sug:listing:all",
		"sug:listing:kind:mining_license",
		"sug:listing:region:Atyrau",
		"sug:listing:region:Atyrau:kind:mining_license",
	}
	if !reflect.DeepEqual(keys, want) {
		t.Errorf("suggestion keys = %v", keys)
	}
}

func TestUpsert_RegionChangePrunesOnlyUncoveredContexts(t *testing.T) {
	repo, ms := newTestRepo(t)
	ms.hgetAllMultiFn = func(context.Context, []string) ([]map[string]string, error) {
		return []map[string]string{{
			"id": "a", "title": "Gold Hill", "region": "Atyrau", "kind": "mining_license", "boost_score": "1",
		}}, nil
	}
	// Another listing with the same title remains in Atyrau as an exploration license.
	ms.searchFn = func(_ context.Context, q *db.SearchQuery) (*db.SearchResult, error) {
		if !strings.Contains(q.Query, `@title_exact:{gold\ hill}`) || !strings.Contains(q.Query, "-@id:{a}") {
			t.Errorf("coverage query = %q", q.Query)
		}
		return &db.SearchResult{Total: 1, Entries: []db.SearchEntry{{
			Key:    "listing:b",
			Fields: map[string]string{"id": "b", "title": "Gold Hill", "region": "Atyrau", "kind": "exploration_license"},
		}}}, nil
	}
	var deleted []db.Suggestion
	ms.sugDelFn = func(_ context.Context, items []db.Suggestion) error {
		deleted = items
		return nil
	}

	doc := testDoc(t, "a", "Gold Hill", "Mangistauskaya", listing.KindMiningLicense)
	touched, err := repo.Upsert(context.Background(), []document.Document{doc})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(touched) != 2 || touched[1].Region != "Atyrau" {
		t.Errorf("touched must include the previous region, got %+v", touched)
	}
	// "all" and the kind context are still occupied by the new version itself;
	// region:Atyrau is occupied by listing b.
	if got := suggestionKeys(deleted); !reflect.DeepEqual(got, []string{"sug:listing:region:Atyrau:kind:mining_license"}) {
		t.Errorf("deleted = %v", got)
	}
}

func TestDelete_RemovesDocumentsAndSuggestions(t *testing.T) {
	repo, ms := newTestRepo(t)
	ms.hgetAllMultiFn = func(_ context.Context, keys []string) ([]map[string]string, error) {
		return []map[string]string{
			{"id": "a", "title": "Gold Hill", "region": "Atyrau", "kind": "mining_license"},
			{},
		}, nil
	}
	var delKeys []string
	ms.delFn = func(_ context.Context, keys ...string) error {
		delKeys = keys
		return nil
	}
	var deleted []db.Suggestion
	ms.sugDelFn = func(_ context.Context, items []db.Suggestion) error {
		deleted = items
		return nil
	}

	touched, err := repo.Delete(context.Background(), []string{"a", "missing"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(touched) != 1 || touched[0].Region != "Atyrau" {
		t.Errorf("touched = %+v", touched)
	}
	if !reflect.DeepEqual(delKeys, []string{"listing:a", "listing:missing"}) {
		t.Errorf("deleted keys = %v", delKeys)
	}
	if len(deleted) != 4 {
		t.Errorf("deleted suggestions = %+v", deleted)
	}
}

func TestUpsert_WriteErrorIsTransient(t *testing.T) {
	repo, ms := newTestRepo(t)
	ms.hsetMultiFn = func(context.Context, []db.HashSetItem) error {
		return &db.Error{Op: db.OpHSet, Err: errors.New("broken pipe")}
	}
	_, err := repo.Upsert(context.Background(), []document.Document{testDoc(t, "a", "x", "", listing.KindOccurrence)})
	if !domain.IsTransient(err) {
		t.Errorf("expected transient error, got %v", err)
	}
}

// --- Suggest ---

func TestSuggestionKey(t *testing.T) {
	tests := []struct {
		c    listing.Scope
		want string
	}{
		{listing.Scope{}, "sug:listing:all"},
		{listing.Scope{Region: "Atyrau"}, "sug:listing:region:Atyrau"},
		{listing.Scope{Kind: listing.KindOccurrence}, "sug:listing:kind:mineral_occurrence"},
		{listing.Scope{Region: "Atyrau", Kind: listing.KindOccurrence}, "sug:listing:region:Atyrau:kind:mineral_occurrence"},
	}
	for _, tc := range tests {
		if got := SuggestionKey(tc.c); got != tc.want {
			t.Errorf("SuggestionKey(%+v) = %q, want %q", tc.c, got, tc.want)
		}
	}
}

func TestSuggest_DedupesAndLimits(t *testing.T) {
	repo, ms := newTestRepo(t)
	ms.sugGetFn = func(_ context.Context, key, prefix string, limit int, fuzzy bool) ([]string, error) {
		if key != "sug:listing:region:Atyrau" || prefix != "Ten" || fuzzy || limit != 4 {
			t.Errorf("SugGet(%q, %q, %d, %v)", key, prefix, limit, fuzzy)
		}
		return []string{"Tengiz oil field", "tengiz  OIL field", "Tenge", "Tentek"}, nil
	}

	out, err := repo.Suggest(context.Background(), "Ten", listing.Scope{Region: "Atyrau"}, 2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !reflect.DeepEqual(out, []string{"Tengiz oil field", "Tenge"}) {
		t.Errorf("out = %v", out)
	}
}

// --- Lease ---

func TestLease_AcquireRenewRelease(t *testing.T) {
	repo, ms := newTestRepo(t)
	var stored []byte
	ms.setNXFn = func(_ context.Context, key string, value []byte, _ time.Duration) (bool, error) {
		if !strings.HasPrefix(key, "lease:listingsearch:") {
			t.Errorf("key = %q", key)
		}
		stored = value
		return true, nil
	}
	ms.getFn = func(context.Context, string) ([]byte, error) { return stored, nil }
	renewed, released := false, false
	ms.expireFn = func(context.Context, string, time.Duration) error {
		renewed = true
		return nil
	}
	ms.delFn = func(context.Context, ...string) error {
		released = true
		return nil
	}

	l, ok, err := repo.AcquireLease(context.Background(), "reindex", time.Minute)
	if err != nil || !ok {
		t.Fatalf("AcquireLease = %v, %v", ok, err)
	}
	if err := l.Renew(context.Background()); err != nil || !renewed {
		t.Errorf("Renew: %v", err)
	}
	if err := l.Release(context.Background()); err != nil || !released {
		t.Errorf("Release: %v", err)
	}
}

func TestLease_ReleaseSkipsForeignOwner(t *testing.T) {
	repo, ms := newTestRepo(t)
	ms.getFn = func(context.Context, string) ([]byte, error) { return []byte("someone-else"), nil }
	ms.delFn = func(context.Context, ...string) error {
		t.Fatal("must not delete a lease held by another owner")
		return nil
	}
	l, _, _ := repo.AcquireLease(context.Background(), "reindex", time.Minute)
	if err := l.Release(context.Background()); err != nil {
		t.Errorf("Release: %v", err)
	}
	if err := l.Renew(context.Background()); err == nil {
		t.Error("Renew of a lost lease must fail")
	}
}

// --- Count / IDs ---

func TestIDs_StripsPrefix(t *testing.T) {
	repo, ms := newTestRepo(t)
	ms.scanFn = func(_ context.Context, pattern string) ([]string, error) {
		if pattern != "listing:*" {
			t.Errorf("pattern = %q", pattern)
		}
		return []string{"listing:b", "listing:a"}, nil
	}
	ids, err := repo.IDs(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	sort.Strings(ids)
	if !reflect.DeepEqual(ids, []string{"a", "b"}) {
		t.Errorf("ids = %v", ids)
	}
}

func TestCount(t *testing.T) {
	repo, ms := newTestRepo(t)
	ms.searchFn = func(_ context.Context, q *db.SearchQuery) (*db.SearchResult, error) {
		if q.Query != "*" || !q.NoContent || q.Limit != 0 {
			t.Errorf("query = %+v", q)
		}
		return &db.SearchResult{Total: 17}, nil
	}
	n, err := repo.Count(context.Background())
	if err != nil || n != 17 {
		t.Errorf("Count = %d, %v", n, err)
	}
}

func TestReady(t *testing.T) {
	repo, ms := newTestRepo(t)
	ms.indexInfoFn = func(context.Context, string) (*db.IndexInfo, error) {
		return nil, db.ErrIndexNotFound
	}
	if err := repo.Ready(context.Background()); !errors.Is(err, domain.ErrIndexNotProvisioned) {
		t.Errorf("Ready = %v", err)
	}

	ms.indexInfoFn = func(context.Context, string) (*db.IndexInfo, error) {
		return &db.IndexInfo{Name: "listings"}, nil
	}
	if err := repo.Ready(context.Background()); err != nil {
		t.Errorf("Ready = %v", err)
	}
}

func suggestionKeys(items []db.Suggestion) []string {
	keys := make([]string, len(items))
	for i, s := range items {
		keys[i] = s.Key
	}
	sort.Strings(keys)
	return keys
}
