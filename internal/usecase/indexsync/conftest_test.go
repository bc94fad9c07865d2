package indexsync

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/kailas-cloud/listingsearch/internal/domain"
	"github.com/kailas-cloud/listingsearch/internal/domain/change"
	"github.com/kailas-cloud/listingsearch/internal/domain/document"
	"github.com/kailas-cloud/listingsearch/internal/domain/listing"
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

var errConnRefused = domain.NewTransient("index", errors.New("connection refused"))

func newListing(id, region string, status listing.Status) *listing.Listing {
	return &listing.Listing{
		ID:        id,
		Kind:      listing.KindMiningLicense,
		Title:     "Field " + id,
		Region:    region,
		Status:    status,
		CreatedAt: testNow.Add(-time.Hour),
		UpdatedAt: testNow.Add(-time.Hour),
	}
}

// --- fakeListings ---

type fakeListings struct {
	mu       sync.Mutex
	rows     map[string]*listing.Listing
	fetchErr error
	enumErr  error
}

func newFakeListings(ls ...*listing.Listing) *fakeListings {
	f := &fakeListings{rows: make(map[string]*listing.Listing)}
	for _, l := range ls {
		f.rows[l.ID] = l
	}
	return f
}

func (f *fakeListings) put(l *listing.Listing) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rows[l.ID] = l
}

func (f *fakeListings) Fetch(_ context.Context, id string) (*listing.Listing, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fetchErr != nil {
		return nil, f.fetchErr
	}
	l, ok := f.rows[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *l
	return &cp, nil
}

func (f *fakeListings) FetchMany(_ context.Context, ids []string) ([]*listing.Listing, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*listing.Listing
	for _, id := range ids {
		if l, ok := f.rows[id]; ok {
			cp := *l
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (f *fakeListings) Enumerate(_ context.Context, afterID string, limit int) ([]*listing.Listing, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.enumErr != nil {
		return nil, f.enumErr
	}
	var out []*listing.Listing
	for _, id := range f.searchableIDs() {
		if id > afterID && len(out) < limit {
			cp := *f.rows[id]
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (f *fakeListings) Count(_ context.Context) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return int64(len(f.searchableIDs())), nil
}

func (f *fakeListings) IDs(_ context.Context) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.searchableIDs(), nil
}

func (f *fakeListings) searchableIDs() []string {
	var ids []string
	for id, l := range f.rows {
		if l.IsSearchable() {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

// --- fakeIndex ---

type fakeIndex struct {
	mu   sync.Mutex
	docs map[string]document.Document
	// upsertErrs are returned by successive Upsert calls before succeeding.
	upsertErrs []error
	upserts    int
	// beforeUpsert runs once, ahead of the next Upsert, without the lock held.
	beforeUpsert func()
}

func newFakeIndex() *fakeIndex {
	return &fakeIndex{docs: make(map[string]document.Document)}
}

func (f *fakeIndex) Upsert(_ context.Context, docs []document.Document) ([]listing.Scope, error) {
	f.mu.Lock()
	hook := f.beforeUpsert
	f.beforeUpsert = nil
	f.mu.Unlock()
	if hook != nil {
		hook()
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.upserts++
	if len(f.upsertErrs) > 0 {
		err := f.upsertErrs[0]
		f.upsertErrs = f.upsertErrs[1:]
		return nil, err
	}
	var scopes []listing.Scope
	for _, d := range docs {
		if old, ok := f.docs[d.ID()]; ok {
			scopes = append(scopes, listing.Scope{Region: old.Region(), Kind: old.Kind()})
		}
		f.docs[d.ID()] = d
		scopes = append(scopes, listing.Scope{Region: d.Region(), Kind: d.Kind()})
	}
	return scopes, nil
}

func (f *fakeIndex) Delete(_ context.Context, ids []string) ([]listing.Scope, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var scopes []listing.Scope
	for _, id := range ids {
		if old, ok := f.docs[id]; ok {
			scopes = append(scopes, listing.Scope{Region: old.Region(), Kind: old.Kind()})
			delete(f.docs, id)
		}
	}
	return scopes, nil
}

func (f *fakeIndex) Count(_ context.Context) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return int64(len(f.docs)), nil
}

func (f *fakeIndex) IDs(_ context.Context) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ids := make([]string, 0, len(f.docs))
	for id := range f.docs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

func (f *fakeIndex) doc(id string) (document.Document, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.docs[id]
	return d, ok
}

func (f *fakeIndex) seed(t *testing.T, ls ...*listing.Listing) {
	t.Helper()
	for _, l := range ls {
		d, err := document.ToDocument(l, testNow)
		if err != nil {
			t.Fatal(err)
		}
		f.docs[l.ID] = d
	}
}

// --- fakeFeed ---

type fakeFeed struct {
	mu      sync.Mutex
	changes []change.Notification
	cursor  int64
	saved   []int64
	pruned  []int64
}

func (f *fakeFeed) Cursor(_ context.Context) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cursor, nil
}

func (f *fakeFeed) SaveCursor(_ context.Context, seq int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cursor = seq
	f.saved = append(f.saved, seq)
	return nil
}

// Run delivers every change after from, then waits for cancellation.
func (f *fakeFeed) Run(ctx context.Context, from int64, deliver func(context.Context, change.Notification) error) error {
	f.mu.Lock()
	changes := append([]change.Notification(nil), f.changes...)
	f.mu.Unlock()
	for _, n := range changes {
		if n.Seq <= from {
			continue
		}
		if err := deliver(ctx, n); err != nil {
			return err
		}
	}
	<-ctx.Done()
	return ctx.Err()
}

func (f *fakeFeed) Prune(_ context.Context, upTo int64, _ time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pruned = append(f.pruned, upTo)
	return 3, nil
}

func (f *fakeFeed) committed() int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cursor
}

// --- fakeDeadLetters ---

type fakeDeadLetters struct {
	mu       sync.Mutex
	letters  []change.DeadLetter
	replayed map[string]bool
	attempts map[string]int
}

func newFakeDeadLetters() *fakeDeadLetters {
	return &fakeDeadLetters{replayed: make(map[string]bool), attempts: make(map[string]int)}
}

func (f *fakeDeadLetters) Add(_ context.Context, dl change.DeadLetter) (change.DeadLetter, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	dl.ID = "dl-" + dl.Notification.ListingID
	dl.FailedAt = testNow
	f.letters = append(f.letters, dl)
	return dl, nil
}

func (f *fakeDeadLetters) Pending(_ context.Context, limit int) ([]change.DeadLetter, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []change.DeadLetter
	for _, dl := range f.letters {
		if !f.replayed[dl.ID] && len(out) < limit {
			out = append(out, dl)
		}
	}
	return out, nil
}

func (f *fakeDeadLetters) MarkReplayed(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.replayed[id] = true
	return nil
}

func (f *fakeDeadLetters) RecordAttempt(_ context.Context, id string, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.attempts[id]++
	return nil
}

func (f *fakeDeadLetters) all() []change.DeadLetter {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]change.DeadLetter(nil), f.letters...)
}

// --- fakeCache ---

type fakeCache struct {
	mu   sync.Mutex
	tags []string
}

func (f *fakeCache) Invalidate(tagsOrKeys ...string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tags = append(f.tags, tagsOrKeys...)
	return len(tagsOrKeys)
}

func (f *fakeCache) invalidated() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.tags...)
}

// --- fakeLocker ---

type fakeLease struct {
	mu       sync.Mutex
	released bool
}

func (l *fakeLease) Renew(context.Context) error { return nil }

func (l *fakeLease) Release(context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.released = true
	return nil
}

type fakeLocker struct {
	held  bool
	lease *fakeLease
}

func (f *fakeLocker) Lock(context.Context, string, time.Duration) (Lease, bool, error) {
	if f.held {
		return nil, false, nil
	}
	f.lease = &fakeLease{}
	return f.lease, true, nil
}

// --- harness ---

type harness struct {
	svc      *Service
	listings *fakeListings
	index    *fakeIndex
	feed     *fakeFeed
	dead     *fakeDeadLetters
	cache    *fakeCache
	sleeps   []time.Duration
	mu       sync.Mutex
}

func newHarness(t *testing.T, cfg Config, ls ...*listing.Listing) *harness {
	t.Helper()
	h := &harness{
		listings: newFakeListings(ls...),
		index:    newFakeIndex(),
		feed:     &fakeFeed{},
		dead:     newFakeDeadLetters(),
		cache:    &fakeCache{},
	}
	h.svc = New(h.listings, h.index, h.feed, h.dead, cfg, nil, WithInvalidator(h.cache))
	h.svc.now = func() time.Time { return testNow }
	h.svc.sleep = func(ctx context.Context, d time.Duration) error {
		h.mu.Lock()
		h.sleeps = append(h.sleeps, d)
		h.mu.Unlock()
		return ctx.Err()
	}
	return h
}

func (h *harness) backoffs() []time.Duration {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]time.Duration(nil), h.sleeps...)
}
