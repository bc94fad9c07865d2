// Package indexsync keeps the search index eventually consistent with the
// transactional store.
//
// Incremental sync consumes the change feed with a pool of workers sharded by
// listing id, so changes to one listing apply in order while different
// listings proceed concurrently. Failed applies are retried with exponential
// backoff and then dead-lettered for replay. Full and partial reindexes,
// drift verification and dead-letter replay run on demand or on a schedule.
package indexsync

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cespare/xxhash/v2"
	"go.uber.org/zap"

	"github.com/kailas-cloud/listingsearch/internal/domain"
	"github.com/kailas-cloud/listingsearch/internal/domain/change"
	"github.com/kailas-cloud/listingsearch/internal/domain/document"
	"github.com/kailas-cloud/listingsearch/internal/domain/listing"
	"github.com/kailas-cloud/listingsearch/internal/domain/search/tag"
	"github.com/kailas-cloud/listingsearch/internal/metrics"
)

// Config tunes synchronization.
type Config struct {
	Workers    int
	QueueDepth int
	// CommitInterval is how often the acknowledged cursor is persisted.
	CommitInterval time.Duration
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration

	ReindexBatchSize   int
	ReindexConcurrency int
	// LeaseTTL bounds how long a crashed reindex blocks the next one.
	LeaseTTL time.Duration

	// OutboxRetention is how long committed outbox rows are kept.
	OutboxRetention time.Duration
}

func (c *Config) applyDefaults() {
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.QueueDepth <= 0 {
		c.QueueDepth = 64
	}
	if c.CommitInterval <= 0 {
		c.CommitInterval = time.Second
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 5
	}
	if c.InitialBackoff <= 0 {
		c.InitialBackoff = 200 * time.Millisecond
	}
	if c.MaxBackoff < c.InitialBackoff {
		c.MaxBackoff = c.InitialBackoff
	}
	if c.ReindexBatchSize <= 0 {
		c.ReindexBatchSize = 500
	}
	if c.ReindexConcurrency <= 0 {
		c.ReindexConcurrency = 2
	}
	if c.LeaseTTL <= 0 {
		c.LeaseTTL = time.Minute
	}
	if c.OutboxRetention <= 0 {
		c.OutboxRetention = 7 * 24 * time.Hour
	}
}

// Service applies listing changes to the index.
type Service struct {
	listings ListingReader
	index    IndexWriter
	feed     ChangeFeed
	dead     DeadLetterStore
	cache    Invalidator
	locker   Locker
	cfg      Config
	logger   *zap.Logger

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error

	reindexing atomic.Bool
}

// Option configures optional collaborators.
type Option func(*Service)

// WithInvalidator drops cached results touched by confirmed writes.
func WithInvalidator(inv Invalidator) Option {
	return func(s *Service) { s.cache = inv }
}

// WithLocker makes full reindexes exclusive across processes.
func WithLocker(l Locker) Option {
	return func(s *Service) { s.locker = l }
}

// New creates a sync service.
func New(
	listings ListingReader, index IndexWriter, feed ChangeFeed, dead DeadLetterStore,
	cfg Config, logger *zap.Logger, opts ...Option,
) *Service {
	cfg.applyDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Service{
		listings: listings,
		index:    index,
		feed:     feed,
		dead:     dead,
		cfg:      cfg,
		logger:   logger,
		now:      time.Now,
		sleep:    sleepCtx,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Run consumes the change feed until ctx is cancelled. Notifications not yet
// acknowledged when Run returns are delivered again on the next start.
func (s *Service) Run(ctx context.Context) error {
	from, err := s.feed.Cursor(ctx)
	if err != nil {
		return fmt.Errorf("read cursor: %w", err)
	}
	s.logger.Info("Starting change sync",
		zap.Int64("cursor", from), zap.Int("workers", s.cfg.Workers))

	tracker := NewTracker(from)
	queues := make([]chan change.Notification, s.cfg.Workers)
	var wg sync.WaitGroup
	for i := range queues {
		queues[i] = make(chan change.Notification, s.cfg.QueueDepth)
		wg.Add(1)
		go func(q <-chan change.Notification) {
			defer wg.Done()
			for n := range q {
				if s.process(ctx, n) {
					tracker.Ack(n.Seq)
				}
			}
		}(queues[i])
	}

	commitDone := make(chan struct{})
	stopCommit := make(chan struct{})
	committed := from
	go func() {
		defer close(commitDone)
		ticker := time.NewTicker(s.cfg.CommitInterval)
		defer ticker.Stop()
		for {
			select {
			case <-stopCommit:
				return
			case <-ticker.C:
				committed = s.commit(ctx, tracker, committed)
			}
		}
	}()

	deliver := func(ctx context.Context, n change.Notification) error {
		tracker.Deliver(n.Seq)
		select {
		case queues[s.shard(n.ListingID)] <- n:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	runErr := s.feed.Run(ctx, from, deliver)

	for _, q := range queues {
		close(q)
	}
	wg.Wait()
	close(stopCommit)
	<-commitDone

	// Persist what the workers finished before shutdown.
	final, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	committed = s.commit(final, tracker, committed)
	s.logger.Info("Change sync stopped", zap.Int64("cursor", committed))

	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		return fmt.Errorf("consume changes: %w", runErr)
	}
	return nil
}

func (s *Service) commit(ctx context.Context, tracker *Tracker, last int64) int64 {
	seq := tracker.Advance()
	metrics.SyncLagSeq.Set(float64(tracker.Pending()))
	if seq <= last {
		return last
	}
	if err := s.feed.SaveCursor(ctx, seq); err != nil {
		s.logger.Warn("Failed to save sync cursor", zap.Int64("cursor", seq), zap.Error(err))
		return last
	}
	return seq
}

// shard picks the worker owning id.
func (s *Service) shard(id string) int {
	return int(xxhash.Sum64String(id) % uint64(s.cfg.Workers))
}

// process applies n with bounded retries. It reports whether n is settled,
// either applied or dead-lettered; false means shutdown interrupted it.
func (s *Service) process(ctx context.Context, n change.Notification) bool {
	log := s.logger.With(
		zap.String("listing_id", n.ListingID),
		zap.String("operation", string(n.Op)),
		zap.Int64("seq", n.Seq),
	)
	for attempt := 1; ; attempt++ {
		err := s.apply(ctx, n)
		if err == nil {
			metrics.SyncEventsTotal.WithLabelValues(string(n.Op), "applied").Inc()
			return true
		}
		if ctx.Err() != nil {
			return false
		}
		if !domain.IsTransient(err) || attempt >= s.cfg.MaxAttempts {
			return s.deadLetter(ctx, log, n, attempt, err)
		}

		metrics.SyncRetriesTotal.Inc()
		delay := s.backoff(attempt)
		log.Warn("Apply failed, retrying",
			zap.Int("attempt", attempt), zap.Duration("backoff", delay), zap.Error(err))
		if s.sleep(ctx, delay) != nil {
			return false
		}
	}
}

// deadLetter records n. The write itself is retried until it succeeds or
// shutdown, because losing it would drop the notification.
func (s *Service) deadLetter(ctx context.Context, log *zap.Logger, n change.Notification, attempts int, cause error) bool {
	dl := change.DeadLetter{Notification: n, Attempts: attempts, LastError: cause.Error()}
	for try := 1; ; try++ {
		stored, err := s.dead.Add(ctx, dl)
		if err == nil {
			metrics.SyncEventsTotal.WithLabelValues(string(n.Op), "dead_lettered").Inc()
			metrics.SyncDeadLettersTotal.Inc()
			log.Error("Change dead-lettered",
				zap.String("dead_letter_id", stored.ID), zap.Int("attempt", attempts), zap.Error(cause))
			return true
		}
		log.Error("Failed to store dead letter", zap.Int("attempt", try), zap.Error(err))
		if s.sleep(ctx, s.backoff(try)) != nil {
			return false
		}
	}
}

// apply brings the index entry of one listing in line with the store. The
// record is always re-read, so applying a stale or repeated notification
// converges on the current state.
func (s *Service) apply(ctx context.Context, n change.Notification) error {
	scopes, err := s.reconcile(ctx, n.Op, n.ListingID)
	if err != nil {
		return err
	}
	s.invalidate(scopes)
	return nil
}

func (s *Service) reconcile(ctx context.Context, op change.Operation, id string) ([]listing.Scope, error) {
	if op == change.OpDelete {
		return s.remove(ctx, id)
	}
	l, err := s.listings.Fetch(ctx, id)
	if errors.Is(err, domain.ErrNotFound) {
		return s.remove(ctx, id)
	}
	if err != nil {
		return nil, fmt.Errorf("fetch listing: %w", err)
	}
	if !l.IsSearchable() {
		return s.remove(ctx, id)
	}

	doc, err := document.ToDocument(l, s.now())
	if err != nil {
		return nil, err
	}
	scopes, err := s.index.Upsert(ctx, []document.Document{doc})
	if err != nil {
		return nil, fmt.Errorf("upsert document: %w", err)
	}
	return scopes, nil
}

func (s *Service) remove(ctx context.Context, id string) ([]listing.Scope, error) {
	scopes, err := s.index.Delete(ctx, []string{id})
	if err != nil {
		return nil, fmt.Errorf("delete document: %w", err)
	}
	return scopes, nil
}

func (s *Service) invalidate(scopes []listing.Scope) {
	if s.cache == nil || len(scopes) == 0 {
		return
	}
	s.cache.Invalidate(tag.ForScopes(scopes...)...)
}

// backoff returns initial * 2^(attempt-1), capped at the maximum.
func (s *Service) backoff(attempt int) time.Duration {
	d := s.cfg.InitialBackoff
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= s.cfg.MaxBackoff {
			return s.cfg.MaxBackoff
		}
	}
	return d
}

// ReplayReport counts the outcome of a dead-letter replay.
type ReplayReport struct {
	Replayed int
	Failed   int
}

// ReplayDeadLetters applies up to limit pending dead letters once each.
// Successful ones are marked replayed; failures stay pending with the attempt recorded.
func (s *Service) ReplayDeadLetters(ctx context.Context, limit int) (ReplayReport, error) {
	pending, err := s.dead.Pending(ctx, limit)
	if err != nil {
		return ReplayReport{}, fmt.Errorf("list dead letters: %w", err)
	}

	var rep ReplayReport
	for _, dl := range pending {
		if err := s.apply(ctx, dl.Notification); err != nil {
			if ctx.Err() != nil {
				return rep, ctx.Err()
			}
			rep.Failed++
			s.logger.Warn("Dead letter replay failed",
				zap.String("dead_letter_id", dl.ID), zap.String("listing_id", dl.Notification.ListingID), zap.Error(err))
			if err := s.dead.RecordAttempt(ctx, dl.ID, err.Error()); err != nil {
				return rep, fmt.Errorf("record replay attempt: %w", err)
			}
			continue
		}
		if err := s.dead.MarkReplayed(ctx, dl.ID); err != nil {
			return rep, fmt.Errorf("mark replayed: %w", err)
		}
		rep.Replayed++
	}
	if len(pending) > 0 {
		s.logger.Info("Replayed dead letters", zap.Int("replayed", rep.Replayed), zap.Int("failed", rep.Failed))
	}
	return rep, nil
}

// PruneOutbox deletes committed outbox rows older than the retention.
func (s *Service) PruneOutbox(ctx context.Context) (int64, error) {
	cursor, err := s.feed.Cursor(ctx)
	if err != nil {
		return 0, fmt.Errorf("read cursor: %w", err)
	}
	n, err := s.feed.Prune(ctx, cursor, s.now().Add(-s.cfg.OutboxRetention))
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.logger.Info("Pruned change outbox", zap.Int64("rows", n), zap.Int64("cursor", cursor))
	}
	return n, nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
