package indexsync

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/kailas-cloud/listingsearch/internal/domain"
	"github.com/kailas-cloud/listingsearch/internal/domain/batch"
	"github.com/kailas-cloud/listingsearch/internal/domain/document"
	"github.com/kailas-cloud/listingsearch/internal/domain/listing"
	"github.com/kailas-cloud/listingsearch/internal/metrics"
)

const reindexLease = "reindex"

// ReindexReport summarizes a reindex run.
type ReindexReport struct {
	batch.Summary
	// Removed counts index documents deleted because their listing is gone or no longer searchable.
	Removed    int
	StartedAt  time.Time
	FinishedAt time.Time
}

// Reindexing reports whether this process is running a full reindex.
func (s *Service) Reindexing() bool { return s.reindexing.Load() }

// ReindexAll loads every searchable listing into the index and removes index
// documents without a searchable listing. Only one run is in flight at a
// time. A run is idempotent, so an interrupted one is simply started again.
func (s *Service) ReindexAll(ctx context.Context) (ReindexReport, error) {
	if !s.reindexing.CompareAndSwap(false, true) {
		return ReindexReport{}, domain.ErrReindexInProgress
	}
	defer s.reindexing.Store(false)

	if s.locker != nil {
		lease, ok, err := s.locker.Lock(ctx, reindexLease, s.cfg.LeaseTTL)
		if err != nil {
			return ReindexReport{}, fmt.Errorf("acquire reindex lease: %w", err)
		}
		if !ok {
			return ReindexReport{}, domain.ErrReindexInProgress
		}
		stop := s.keepLease(ctx, lease)
		defer stop()
	}

	rep := ReindexReport{StartedAt: s.now()}
	s.logger.Info("Full reindex started")

	seen, err := s.loadAll(ctx, &rep)
	if err != nil {
		return rep, err
	}
	if err := s.sweepStale(ctx, seen, &rep); err != nil {
		return rep, err
	}

	rep.FinishedAt = s.now()
	s.logger.Info("Full reindex finished",
		zap.Int("indexed", rep.Indexed),
		zap.Int("skipped", rep.Skipped),
		zap.Int("failed", rep.Failed),
		zap.Int("removed", rep.Removed),
		zap.Duration("took", rep.FinishedAt.Sub(rep.StartedAt)),
	)
	return rep, nil
}

// loadAll pages through the store by id and writes each page, with a bounded
// number of pages in flight. It returns the set of enumerated ids.
func (s *Service) loadAll(ctx context.Context, rep *ReindexReport) (map[string]struct{}, error) {
	seen := make(map[string]struct{})
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.ReindexConcurrency)

	after := ""
	var enumErr error
	for {
		page, err := s.listings.Enumerate(gctx, after, s.cfg.ReindexBatchSize)
		if err != nil {
			enumErr = fmt.Errorf("enumerate listings: %w", err)
			break
		}
		if len(page) == 0 {
			break
		}
		ids := make([]string, len(page))
		for i, l := range page {
			seen[l.ID] = struct{}{}
			ids[i] = l.ID
		}
		after = page[len(page)-1].ID

		g.Go(func() error {
			results, removed := s.indexBatch(gctx, ids)
			mu.Lock()
			rep.Add(results)
			rep.Removed += removed
			mu.Unlock()
			return gctx.Err()
		})
		if len(page) < s.cfg.ReindexBatchSize {
			break
		}
	}
	if err := g.Wait(); err != nil && enumErr == nil {
		enumErr = err
	}
	if enumErr != nil {
		return nil, enumErr
	}
	return seen, nil
}

// indexBatch writes the current store state of ids to the index: searchable
// listings are upserted, the rest removed. The store is read again after every
// write until it reads back what was written, so a change the sync path
// applied in between is not overwritten by an older copy. Any change committed
// after the last read reaches the sync path and is applied after this write.
func (s *Service) indexBatch(ctx context.Context, ids []string) ([]batch.Result, int) {
	outcome := make(map[string]batch.Result, len(ids))
	written := make(map[string]*listing.Listing, len(ids))
	removed := make(map[string]bool)

	pending := ids
	for round := 1; len(pending) > 0; round++ {
		found, err := s.listings.FetchMany(ctx, pending)
		if err != nil {
			for _, id := range pending {
				outcome[id] = batch.NewError(id, fmt.Errorf("fetch listings: %w", err))
			}
			break
		}
		current := make(map[string]*listing.Listing, len(found))
		for _, l := range found {
			current[l.ID] = l
		}

		var load []*listing.Listing
		var gone []string
		for _, id := range pending {
			l, ok := current[id]
			switch {
			case !ok || !l.IsSearchable():
				if !removed[id] {
					gone = append(gone, id)
				}
			case written[id] == nil || !reflect.DeepEqual(written[id], l):
				load = append(load, l)
			}
		}
		if len(load) == 0 && len(gone) == 0 {
			break
		}
		if round > s.cfg.MaxAttempts {
			s.logger.Warn("Reindex batch kept changing, leaving the rest to sync",
				zap.Int("listings", len(load)+len(gone)))
			break
		}

		pending = nil
		if len(gone) > 0 {
			scopes, err := s.index.Delete(ctx, gone)
			for _, id := range gone {
				if err != nil {
					outcome[id] = batch.NewError(id, fmt.Errorf("delete documents: %w", err))
					continue
				}
				removed[id] = true
				delete(written, id)
				delete(outcome, id)
				pending = append(pending, id)
			}
			if err == nil {
				s.invalidate(scopes)
			}
		}
		for _, id := range s.upsertListings(ctx, load, outcome) {
			written[id] = current[id]
			delete(removed, id)
			pending = append(pending, id)
		}
	}

	results := make([]batch.Result, 0, len(outcome))
	for _, id := range ids {
		if r, ok := outcome[id]; ok {
			results = append(results, r)
		}
	}
	n := len(removed)
	if n > 0 {
		metrics.ReindexDocumentsTotal.WithLabelValues("removed").Add(float64(n))
	}
	s.observeBatch(results)
	return results, n
}

// upsertListings maps and upserts ls, recording each outcome. Listings that
// fail to map are skipped. It returns the ids that were written.
func (s *Service) upsertListings(ctx context.Context, ls []*listing.Listing, outcome map[string]batch.Result) []string {
	now := s.now()
	docs := make([]document.Document, 0, len(ls))
	for _, l := range ls {
		doc, err := document.ToDocument(l, now)
		if err != nil {
			s.logger.Warn("Skipping unmappable listing", zap.String("listing_id", l.ID), zap.Error(err))
			outcome[l.ID] = batch.NewSkipped(l.ID, err)
			continue
		}
		docs = append(docs, doc)
	}
	if len(docs) == 0 {
		return nil
	}

	var scopes []listing.Scope
	err := s.retry(ctx, func() error {
		var err error
		scopes, err = s.index.Upsert(ctx, docs)
		return err
	})
	if err != nil {
		s.logger.Error("Reindex batch failed", zap.Int("documents", len(docs)), zap.Error(err))
		for _, d := range docs {
			outcome[d.ID()] = batch.NewError(d.ID(), err)
		}
		return nil
	}
	s.invalidate(scopes)
	ids := make([]string, len(docs))
	for i, d := range docs {
		outcome[d.ID()] = batch.NewOK(d.ID())
		ids[i] = d.ID()
	}
	return ids
}

func (s *Service) observeBatch(results []batch.Result) {
	for _, r := range results {
		switch r.Status() {
		case batch.StatusOK:
			metrics.ReindexDocumentsTotal.WithLabelValues("indexed").Inc()
		case batch.StatusSkipped:
			metrics.ReindexDocumentsTotal.WithLabelValues("skipped").Inc()
		case batch.StatusError:
			metrics.ReindexDocumentsTotal.WithLabelValues("failed").Inc()
		}
	}
}

// sweepStale deletes index documents whose id was not enumerated. Candidates
// are re-read first so listings created during the run are kept.
func (s *Service) sweepStale(ctx context.Context, seen map[string]struct{}, rep *ReindexReport) error {
	indexed, err := s.index.IDs(ctx)
	if err != nil {
		return fmt.Errorf("list index ids: %w", err)
	}
	var candidates []string
	for _, id := range indexed {
		if _, ok := seen[id]; !ok {
			candidates = append(candidates, id)
		}
	}

	for start := 0; start < len(candidates); start += s.cfg.ReindexBatchSize {
		end := min(start+s.cfg.ReindexBatchSize, len(candidates))
		chunk := candidates[start:end]

		stale, err := s.unsearchable(ctx, chunk)
		if err != nil {
			return err
		}
		if len(stale) == 0 {
			continue
		}
		scopes, err := s.index.Delete(ctx, stale)
		if err != nil {
			return fmt.Errorf("delete stale documents: %w", err)
		}
		s.invalidate(scopes)
		rep.Removed += len(stale)
		metrics.ReindexDocumentsTotal.WithLabelValues("removed").Add(float64(len(stale)))
	}
	return nil
}

// unsearchable returns the ids among ids that have no searchable listing.
func (s *Service) unsearchable(ctx context.Context, ids []string) ([]string, error) {
	found, err := s.listings.FetchMany(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("fetch listings: %w", err)
	}
	live := make(map[string]bool, len(found))
	for _, l := range found {
		live[l.ID] = l.IsSearchable()
	}
	var out []string
	for _, id := range ids {
		if !live[id] {
			out = append(out, id)
		}
	}
	return out, nil
}

// ReindexIDs brings the given listings in line with the store: searchable
// ones are upserted, the rest removed from the index. It is the remediation
// for a drift report and may run alongside anything else.
func (s *Service) ReindexIDs(ctx context.Context, ids []string) (ReindexReport, error) {
	rep := ReindexReport{StartedAt: s.now()}
	ids = dedupe(ids)

	for start := 0; start < len(ids); start += s.cfg.ReindexBatchSize {
		end := min(start+s.cfg.ReindexBatchSize, len(ids))
		results, removed := s.indexBatch(ctx, ids[start:end])
		rep.Add(results)
		rep.Removed += removed
		if err := ctx.Err(); err != nil {
			return rep, err
		}
	}
	rep.FinishedAt = s.now()
	return rep, nil
}

// retry runs fn until it succeeds, fails permanently, or exhausts the attempts.
func (s *Service) retry(ctx context.Context, fn func() error) error {
	for attempt := 1; ; attempt++ {
		err := fn()
		if err == nil || !domain.IsTransient(err) || attempt >= s.cfg.MaxAttempts {
			return err
		}
		metrics.SyncRetriesTotal.Inc()
		if serr := s.sleep(ctx, s.backoff(attempt)); serr != nil {
			return errors.Join(err, serr)
		}
	}
}

// keepLease renews lease in the background until the returned stop is called,
// which also releases it.
func (s *Service) keepLease(ctx context.Context, lease Lease) func() {
	done := make(chan struct{})
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		ticker := time.NewTicker(s.cfg.LeaseTTL / 3)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := lease.Renew(ctx); err != nil {
					s.logger.Warn("Failed to renew reindex lease", zap.Error(err))
				}
			}
		}
	}()
	return func() {
		close(done)
		<-stopped
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := lease.Release(rctx); err != nil {
			s.logger.Warn("Failed to release reindex lease", zap.Error(err))
		}
	}
}

func dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
