package search

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kailas-cloud/listingsearch/internal/domain"
	"github.com/kailas-cloud/listingsearch/internal/domain/listing"
	"github.com/kailas-cloud/listingsearch/internal/domain/search/filter"
	"github.com/kailas-cloud/listingsearch/internal/domain/search/result"
)

// --- Mocks ---

type mockBackend struct {
	mu          sync.Mutex
	searchFn    func(ctx context.Context, f filter.Filters) (result.SearchResult, error)
	suggestFn   func(ctx context.Context, prefix string, sc listing.Scope, limit int) ([]string, error)
	searchCalls int
	suggestCall int
}

func (m *mockBackend) Search(ctx context.Context, f filter.Filters) (result.SearchResult, error) {
	m.mu.Lock()
	m.searchCalls++
	fn := m.searchFn
	m.mu.Unlock()
	if fn == nil {
		return result.SearchResult{}, nil
	}
	return fn(ctx, f)
}

func (m *mockBackend) Suggest(ctx context.Context, prefix string, sc listing.Scope, limit int) ([]string, error) {
	m.mu.Lock()
	m.suggestCall++
	fn := m.suggestFn
	m.mu.Unlock()
	if fn == nil {
		return nil, nil
	}
	return fn(ctx, prefix, sc, limit)
}

func (m *mockBackend) calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.searchCalls
}

type mockProber struct {
	mu    sync.Mutex
	err   error
	calls int
}

func (m *mockProber) Ready(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	return m.err
}

type cacheEntry struct {
	value result.SearchResult
	tags  []string
}

type mockCache struct {
	mu      sync.Mutex
	entries map[string]cacheEntry
	gen     uint64
}

func newMockCache() *mockCache { return &mockCache{entries: make(map[string]cacheEntry)} }

func (m *mockCache) Get(key string) (result.SearchResult, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[key]
	return e.value, ok
}

func (m *mockCache) Set(key string, value result.SearchResult, _ time.Duration, since uint64, tags ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if since < m.gen {
		return
	}
	m.entries[key] = cacheEntry{value: value, tags: tags}
}

func (m *mockCache) Generation() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.gen
}

func (m *mockCache) invalidate() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.gen++
	clear(m.entries)
}

func (m *mockCache) len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

// --- Helpers ---

var errBackend = domain.NewTransient("index", errors.New("connection refused"))

func totalResult(n int64) result.SearchResult {
	return result.New(nil, n, 1, 20, result.Facets{})
}

func returning(res result.SearchResult, err error) func(context.Context, filter.Filters) (result.SearchResult, error) {
	return func(context.Context, filter.Filters) (result.SearchResult, error) { return res, err }
}

func testFilters(t *testing.T, regions ...string) filter.Filters {
	t.Helper()
	f, err := filter.New(filter.Params{Regions: regions})
	if err != nil {
		t.Fatal(err)
	}
	return f
}

func testConfig() Config {
	return Config{
		BackendTimeout:      time.Second,
		HealthTTL:           time.Minute,
		SuggestLimit:        10,
		SuggestMinPrefixLen: 2,
	}
}

// --- Search ---

func TestSearch_HealthyIndexServesAndCaches(t *testing.T) {
	primary := &mockBackend{searchFn: returning(totalResult(3), nil)}
	fallback := &mockBackend{}
	cache := newMockCache()
	svc := New(primary, &mockProber{}, fallback, cache, testConfig(), nil)
	f := testFilters(t, "Atyrau")

	for range 2 {
		res, err := svc.Search(context.Background(), f)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if res.Total() != 3 {
			t.Errorf("expected total 3, got %d", res.Total())
		}
	}
	if primary.calls() != 1 {
		t.Errorf("expected one index call, got %d", primary.calls())
	}
	if fallback.calls() != 0 {
		t.Error("fallback must not be called")
	}
	e, ok := cache.entries[cacheKey(PathIndex, f)]
	if !ok {
		t.Fatal("result not cached under the index key")
	}
	if len(e.tags) != 1 || e.tags[0] != "region:Atyrau" {
		t.Errorf("unexpected tags %v", e.tags)
	}
}

func TestSearch_UnhealthyIndexRoutesToFallback(t *testing.T) {
	primary := &mockBackend{searchFn: returning(totalResult(3), nil)}
	fallback := &mockBackend{searchFn: returning(totalResult(2), nil)}
	svc := New(primary, &mockProber{err: domain.ErrIndexNotProvisioned}, fallback, newMockCache(), testConfig(), nil)

	res, err := svc.Search(context.Background(), testFilters(t))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Total() != 2 {
		t.Errorf("expected fallback total 2, got %d", res.Total())
	}
	if primary.calls() != 0 {
		t.Error("index must not be called while unhealthy")
	}
}

func TestSearch_IndexErrorDegradesAndMarksDown(t *testing.T) {
	primary := &mockBackend{searchFn: returning(result.SearchResult{}, errBackend)}
	fallback := &mockBackend{searchFn: returning(totalResult(2), nil)}
	prober := &mockProber{}
	cache := newMockCache()
	svc := New(primary, prober, fallback, cache, testConfig(), nil)

	res, err := svc.Search(context.Background(), testFilters(t, "Atyrau"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Total() != 2 {
		t.Errorf("expected fallback total 2, got %d", res.Total())
	}
	if _, ok := cache.Get(cacheKey(PathFallback, testFilters(t, "Atyrau"))); !ok {
		t.Error("fallback result must be cached under the fallback key")
	}

	// The failure holds until the next probe, so further requests skip the index.
	if _, err := svc.Search(context.Background(), testFilters(t, "Kostanay")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if primary.calls() != 1 {
		t.Errorf("expected one index call, got %d", primary.calls())
	}
	if prober.calls != 1 {
		t.Errorf("expected one probe, got %d", prober.calls)
	}
}

func TestSearch_BothPathsFailing(t *testing.T) {
	primary := &mockBackend{searchFn: returning(result.SearchResult{}, errBackend)}
	fallback := &mockBackend{searchFn: returning(result.SearchResult{}, domain.NewTransient("postgres", errors.New("down")))}
	svc := New(primary, &mockProber{}, fallback, nil, testConfig(), nil)

	_, err := svc.Search(context.Background(), testFilters(t))
	if !errors.Is(err, domain.ErrSearchUnavailable) {
		t.Errorf("expected ErrSearchUnavailable, got %v", err)
	}
}

func TestSearch_BackendTimeoutDegrades(t *testing.T) {
	primary := &mockBackend{searchFn: func(ctx context.Context, _ filter.Filters) (result.SearchResult, error) {
		<-ctx.Done()
		return result.SearchResult{}, domain.NewTransient("index", ctx.Err())
	}}
	fallback := &mockBackend{searchFn: returning(totalResult(1), nil)}
	cfg := testConfig()
	cfg.BackendTimeout = 20 * time.Millisecond
	svc := New(primary, &mockProber{}, fallback, nil, cfg, nil)

	res, err := svc.Search(context.Background(), testFilters(t))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Total() != 1 {
		t.Errorf("expected fallback result, got total %d", res.Total())
	}
}

func TestSearch_AbandonedRequestStillCaches(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	primary := &mockBackend{searchFn: func(ctx context.Context, _ filter.Filters) (result.SearchResult, error) {
		close(entered)
		<-release
		if ctx.Err() != nil {
			return result.SearchResult{}, ctx.Err()
		}
		return totalResult(5), nil
	}}
	cache := newMockCache()
	svc := New(primary, &mockProber{}, &mockBackend{}, cache, testConfig(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		_, err := svc.Search(ctx, testFilters(t))
		errCh <- err
	}()

	<-entered
	cancel()
	if err := <-errCh; !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	close(release)

	deadline := time.Now().Add(time.Second)
	for cache.len() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	res, ok := cache.Get(cacheKey(PathIndex, testFilters(t)))
	if !ok || res.Total() != 5 {
		t.Errorf("expected the completed result to be cached, got %v %v", res.Total(), ok)
	}
}

func TestSearch_DoesNotCacheResultReadBeforeInvalidation(t *testing.T) {
	cache := newMockCache()
	primary := &mockBackend{}
	primary.searchFn = func(context.Context, filter.Filters) (result.SearchResult, error) {
		// A sync write lands while the index is being read.
		cache.invalidate()
		return totalResult(5), nil
	}
	svc := New(primary, &mockProber{}, &mockBackend{}, cache, testConfig(), nil)

	res, err := svc.Search(context.Background(), testFilters(t))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Total() != 5 {
		t.Errorf("expected the fresh result to be returned, got %d", res.Total())
	}
	if cache.len() != 0 {
		t.Error("expected the result to be dropped instead of cached")
	}
}

func TestHealthProbe_CachesForTTL(t *testing.T) {
	prober := &mockProber{}
	h := newHealthProbe(prober, time.Minute, time.Second)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	h.now = func() time.Time { return now }

	h.healthy(context.Background())
	h.healthy(context.Background())
	if prober.calls != 1 {
		t.Errorf("expected one probe within TTL, got %d", prober.calls)
	}

	now = now.Add(time.Minute)
	prober.err = errBackend
	if h.healthy(context.Background()) {
		t.Error("expected unhealthy after failed probe")
	}
	if prober.calls != 2 {
		t.Errorf("expected a new probe after TTL, got %d", prober.calls)
	}
}

type blockingProber struct {
	release chan struct{}
	calls   atomic.Int32
}

func (b *blockingProber) Ready(ctx context.Context) error {
	b.calls.Add(1)
	select {
	case <-b.release:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func TestHealthProbe_SlowCheckDoesNotSerializeCallers(t *testing.T) {
	prober := &blockingProber{release: make(chan struct{})}
	h := newHealthProbe(prober, time.Minute, 5*time.Second)

	const callers = 8
	results := make(chan bool, callers)
	for range callers {
		go func() { results <- h.healthy(context.Background()) }()
	}
	deadline := time.Now().Add(time.Second)
	for prober.calls.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}

	// A request with a short deadline gives up on the shared check instead of queueing behind it.
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	start := time.Now()
	if h.healthy(ctx) {
		t.Error("expected unknown health to read as unhealthy")
	}
	if waited := time.Since(start); waited > time.Second {
		t.Errorf("caller waited %v for a stalled check", waited)
	}

	close(prober.release)
	for range callers {
		if !<-results {
			t.Error("expected healthy once the check completes")
		}
	}
	if n := prober.calls.Load(); n != 1 {
		t.Errorf("expected one shared check, got %d", n)
	}
}

func TestHealthProbe_MarkDownWinsOverRunningCheck(t *testing.T) {
	prober := &blockingProber{release: make(chan struct{})}
	h := newHealthProbe(prober, time.Minute, 5*time.Second)

	done := make(chan bool)
	go func() { done <- h.healthy(context.Background()) }()
	deadline := time.Now().Add(time.Second)
	for prober.calls.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	time.Sleep(2 * time.Millisecond)
	h.markDown()
	close(prober.release)

	if <-done {
		t.Error("expected the request failure to override the check result")
	}
	if h.healthy(context.Background()) {
		t.Error("expected unhealthy until the TTL expires")
	}
}

func TestCacheKey_SeparatesPaths(t *testing.T) {
	f := testFilters(t, "Atyrau")
	if cacheKey(PathIndex, f) == cacheKey(PathFallback, f) {
		t.Error("paths must not share cache keys")
	}
	if cacheKey(PathIndex, f) != cacheKey(PathIndex, testFilters(t, "Atyrau", "Atyrau")) {
		t.Error("equivalent filters must share a key")
	}
}

// --- Suggest ---

func TestSuggest_ShortPrefixSkipsBackends(t *testing.T) {
	primary := &mockBackend{}
	svc := New(primary, &mockProber{}, &mockBackend{}, nil, testConfig(), nil)

	for _, prefix := range []string{"", " ", "T", " Т "} {
		out, err := svc.Suggest(context.Background(), prefix, listing.Scope{})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if out == nil || len(out) != 0 {
			t.Errorf("prefix %q: expected empty non-nil result, got %v", prefix, out)
		}
	}
	if primary.suggestCall != 0 {
		t.Error("short prefixes must not reach a backend")
	}
}

func TestSuggest_UsesIndexWithScopeAndLimit(t *testing.T) {
	var gotPrefix string
	var gotScope listing.Scope
	var gotLimit int
	primary := &mockBackend{suggestFn: func(_ context.Context, prefix string, sc listing.Scope, limit int) ([]string, error) {
		gotPrefix, gotScope, gotLimit = prefix, sc, limit
		return []string{"Tengiz"}, nil
	}}
	svc := New(primary, &mockProber{}, &mockBackend{}, nil, testConfig(), nil)

	sc := listing.Scope{Region: "Atyrau", Kind: listing.KindMiningLicense}
	out, err := svc.Suggest(context.Background(), " Ten ", sc)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(out) != 1 || out[0] != "Tengiz" {
		t.Errorf("unexpected suggestions %v", out)
	}
	if gotPrefix != "Ten" || gotScope != sc || gotLimit != 10 {
		t.Errorf("backend called with %q %+v %d", gotPrefix, gotScope, gotLimit)
	}
}

func TestSuggest_DegradesToFallback(t *testing.T) {
	primary := &mockBackend{suggestFn: func(context.Context, string, listing.Scope, int) ([]string, error) {
		return nil, errBackend
	}}
	fallback := &mockBackend{suggestFn: func(context.Context, string, listing.Scope, int) ([]string, error) {
		return []string{"Tengiz North"}, nil
	}}
	svc := New(primary, &mockProber{}, fallback, nil, testConfig(), nil)

	out, err := svc.Suggest(context.Background(), "Ten", listing.Scope{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(out) != 1 || out[0] != "Tengiz North" {
		t.Errorf("unexpected suggestions %v", out)
	}
}

func TestSuggest_BothPathsFailing(t *testing.T) {
	failing := func(context.Context, string, listing.Scope, int) ([]string, error) { return nil, errBackend }
	svc := New(&mockBackend{suggestFn: failing}, &mockProber{}, &mockBackend{suggestFn: failing}, nil, testConfig(), nil)

	_, err := svc.Suggest(context.Background(), "Ten", listing.Scope{})
	if !errors.Is(err, domain.ErrSearchUnavailable) {
		t.Errorf("expected ErrSearchUnavailable, got %v", err)
	}
}
