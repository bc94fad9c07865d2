package redis

import (
	"context"
	"fmt"
	"strconv"

	"github.com/redis/rueidis"

	"github.com/kailas-cloud/listingsearch/internal/db"
)

// SugAddMulti adds suggestions in a single DoMulti round-trip. Re-adding an
// existing string replaces its score.
func (s *Store) SugAddMulti(ctx context.Context, items []db.Suggestion) error {
	if len(items) == 0 {
		return nil
	}
	cmds := make([]rueidis.Completed, len(items))
	for i, it := range items {
		cmds[i] = s.b().Arbitrary("FT.SUGADD").Keys(it.Key).
			Args(it.Text, strconv.FormatFloat(it.Score, 'f', -1, 64)).Build()
	}
	for i, res := range s.client.DoMulti(ctx, cmds...) {
		if err := res.Error(); err != nil {
			return &db.Error{Op: db.OpSugAdd, Err: fmt.Errorf("key %s: %w", items[i].Key, err)}
		}
	}
	return nil
}

// SugDelMulti removes suggestions in a single DoMulti round-trip. Missing entries are ignored.
func (s *Store) SugDelMulti(ctx context.Context, items []db.Suggestion) error {
	if len(items) == 0 {
		return nil
	}
	cmds := make([]rueidis.Completed, len(items))
	for i, it := range items {
		cmds[i] = s.b().Arbitrary("FT.SUGDEL").Keys(it.Key).Args(it.Text).Build()
	}
	for i, res := range s.client.DoMulti(ctx, cmds...) {
		if err := res.Error(); err != nil {
			return &db.Error{Op: db.OpSugDel, Err: fmt.Errorf("key %s: %w", items[i].Key, err)}
		}
	}
	return nil
}

// SugGet returns up to limit completions of prefix from the dictionary at key.
func (s *Store) SugGet(ctx context.Context, key, prefix string, limit int, fuzzy bool) ([]string, error) {
	args := []string{prefix}
	if fuzzy {
		args = append(args, "FUZZY")
	}
	if limit > 0 {
		args = append(args, "MAX", strconv.Itoa(limit))
	}
	cmd := s.b().Arbitrary("FT.SUGGET").Keys(key).Args(args...).Build()
	out, err := s.do(ctx, cmd).AsStrSlice()
	if err != nil {
		if rueidis.IsRedisNil(err) {
			return nil, nil
		}
		return nil, &db.Error{Op: db.OpSugGet, Err: err}
	}
	return out, nil
}
