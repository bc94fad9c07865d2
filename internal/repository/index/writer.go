package index

import (
	"context"
	"fmt"

	"github.com/kailas-cloud/listingsearch/internal/db"
	"github.com/kailas-cloud/listingsearch/internal/domain/document"
	"github.com/kailas-cloud/listingsearch/internal/domain/listing"
)

// Upsert replaces the given documents and keeps the autocomplete dictionaries
// in step: the new titles are added to every context they belong to, and an
// old title is removed from a context once no other document still carries it there.
// It returns the region/kind contexts of both the previous and the new versions.
func (r *Repo) Upsert(ctx context.Context, docs []document.Document) ([]listing.Scope, error) {
	if len(docs) == 0 {
		return nil, nil
	}

	keys := make([]string, len(docs))
	items := make([]db.HashSetItem, len(docs))
	for i := range docs {
		keys[i] = r.docKey(docs[i].ID())
		items[i] = db.HashSetItem{Key: keys[i], Fields: docs[i].Fields(r.cfg.Analyzers)}
	}

	previous, err := r.store.HGetAllMulti(ctx, keys)
	if err != nil {
		return nil, fmt.Errorf("read previous documents: %w", mapErr(err))
	}
	if err := r.store.HSetMulti(ctx, items); err != nil {
		return nil, fmt.Errorf("write documents: %w", mapErr(err))
	}

	var add []db.Suggestion
	var stale []staleEntries
	var touched contextSet
	for i := range docs {
		cur := ownerOf(&docs[i])
		touched.add(cur)
		add = append(add, cur.suggestions()...)
		old, ok := ownerFromHash(previous[i])
		if !ok {
			continue
		}
		touched.add(old)
		if !old.sameEntries(cur) {
			stale = append(stale, staleEntries{owner: old, entries: subtract(old.suggestions(), cur.suggestions())})
		}
	}
	if err := r.store.SugAddMulti(ctx, add); err != nil {
		return nil, fmt.Errorf("add suggestions: %w", mapErr(err))
	}
	if err := r.dropSuggestions(ctx, stale); err != nil {
		return nil, err
	}
	return touched.list, nil
}

// Delete removes documents by id and returns the region/kind contexts they
// occupied. Missing documents are not an error.
func (r *Repo) Delete(ctx context.Context, ids []string) ([]listing.Scope, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = r.docKey(id)
	}

	previous, err := r.store.HGetAllMulti(ctx, keys)
	if err != nil {
		return nil, fmt.Errorf("read previous documents: %w", mapErr(err))
	}
	if err := r.store.Del(ctx, keys...); err != nil {
		return nil, fmt.Errorf("delete documents: %w", mapErr(err))
	}

	var stale []staleEntries
	var touched contextSet
	for _, fields := range previous {
		if old, ok := ownerFromHash(fields); ok {
			touched.add(old)
			stale = append(stale, staleEntries{owner: old, entries: old.suggestions()})
		}
	}
	if err := r.dropSuggestions(ctx, stale); err != nil {
		return nil, err
	}
	return touched.list, nil
}

// contextSet collects distinct owner contexts in first-seen order.
type contextSet struct {
	seen map[listing.Scope]bool
	list []listing.Scope
}

func (s *contextSet) add(o suggestionOwner) {
	c := listing.Scope{Region: o.region, Kind: o.kind}
	if s.seen == nil {
		s.seen = make(map[listing.Scope]bool)
	}
	if !s.seen[c] {
		s.seen[c] = true
		s.list = append(s.list, c)
	}
}

// staleEntries are dictionary entries a document no longer occupies.
type staleEntries struct {
	owner   suggestionOwner
	entries []db.Suggestion
}

// subtract returns the entries of a that are not in b.
func subtract(a, b []db.Suggestion) []db.Suggestion {
	keep := make(map[db.Suggestion]bool, len(b))
	for _, s := range b {
		keep[db.Suggestion{Key: s.Key, Text: s.Text}] = true
	}
	var out []db.Suggestion
	for _, s := range a {
		if !keep[db.Suggestion{Key: s.Key, Text: s.Text}] {
			out = append(out, s)
		}
	}
	return out
}

// dropSuggestions removes stale entries from every context no other indexed
// document with the same title still occupies.
func (r *Repo) dropSuggestions(ctx context.Context, stale []staleEntries) error {
	var del []db.Suggestion
	for _, st := range stale {
		if len(st.entries) == 0 {
			continue
		}
		covered, err := r.coveredContexts(ctx, st.owner)
		if err != nil {
			return err
		}
		for _, s := range st.entries {
			if !covered[s.Key] {
				del = append(del, s)
			}
		}
	}
	if err := r.store.SugDelMulti(ctx, del); err != nil {
		return fmt.Errorf("delete suggestions: %w", mapErr(err))
	}
	return nil
}

// coveredContexts returns the dictionary keys that other documents titled like o still populate.
func (r *Repo) coveredContexts(ctx context.Context, o suggestionOwner) (map[string]bool, error) {
	q := fmt.Sprintf("@%s:{%s} -@%s:{%s}",
		document.FieldTitleExact, escapeTag(document.NormalizeTitle(o.title)),
		document.FieldID, escapeTag(o.id))
	res, err := r.store.Search(ctx, &db.SearchQuery{
		IndexName:    r.cfg.IndexName,
		Query:        q,
		ReturnFields: []string{document.FieldID, document.FieldTitle, document.FieldRegion, document.FieldKind},
		Limit:        coverageScanLimit,
	})
	if err != nil {
		return nil, fmt.Errorf("check suggestion owners: %w", mapErr(err))
	}
	covered := make(map[string]bool)
	for _, e := range res.Entries {
		other, ok := ownerFromHash(e.Fields)
		if !ok || other.title != o.title {
			continue
		}
		for _, s := range other.suggestions() {
			covered[s.Key] = true
		}
	}
	return covered, nil
}
