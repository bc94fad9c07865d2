// Package changefeed reads listing mutations from the transactional outbox.
//
// A trigger on listings appends {seq, listing_id, operation, occurred_at} rows
// to listing_changes and sends NOTIFY on the configured channel. The feed
// polls rows after its cursor in seq order, never passing a seq that an open
// transaction may still commit. It wakes early on NOTIFY and
// persists the cursor in search_sync_state so delivery is at-least-once
// across restarts.
package changefeed

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/kailas-cloud/listingsearch/internal/domain"
	"github.com/kailas-cloud/listingsearch/internal/domain/change"
)

// store is the consumer interface over the Postgres pool.
type store interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// Config tunes the poller.
type Config struct {
	// Consumer names the cursor row; one per independent index.
	Consumer     string
	BatchSize    int
	PollInterval time.Duration
}

// Feed polls the outbox.
type Feed struct {
	store  store
	cfg    Config
	wake   <-chan *pq.Notification
	logger *zap.Logger
}

// New creates a feed. wake may be nil, in which case the feed only polls.
func New(s store, cfg Config, wake <-chan *pq.Notification, logger *zap.Logger) (*Feed, error) {
	if cfg.Consumer == "" {
		return nil, fmt.Errorf("consumer name is required")
	}
	if cfg.BatchSize < 1 {
		return nil, fmt.Errorf("batch size must be positive")
	}
	if cfg.PollInterval <= 0 {
		return nil, fmt.Errorf("poll interval must be positive")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Feed{store: s, cfg: cfg, wake: wake, logger: logger}, nil
}

// Cursor returns the last committed sequence, zero when nothing was committed yet.
func (f *Feed) Cursor(ctx context.Context) (int64, error) {
	var seq int64
	err := f.store.QueryRowContext(ctx,
		`SELECT last_seq FROM search_sync_state WHERE consumer = $1`, f.cfg.Consumer).Scan(&seq)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read sync cursor: %w", mapErr(err))
	}
	return seq, nil
}

// SaveCursor commits seq. The stored cursor never moves backwards.
func (f *Feed) SaveCursor(ctx context.Context, seq int64) error {
	_, err := f.store.ExecContext(ctx,
		`INSERT INTO search_sync_state (consumer, last_seq, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (consumer) DO UPDATE
		SET last_seq = GREATEST(search_sync_state.last_seq, EXCLUDED.last_seq), updated_at = now()`,
		f.cfg.Consumer, seq)
	if err != nil {
		return fmt.Errorf("save sync cursor: %w", mapErr(err))
	}
	return nil
}

// Fetch returns up to limit notifications with seq greater than after, in seq order.
func (f *Feed) Fetch(ctx context.Context, after int64, limit int) ([]change.Notification, error) {
	rows, err := f.store.QueryContext(ctx,
		`SELECT seq, listing_id, operation, occurred_at FROM listing_changes
		WHERE seq > $1
		ORDER BY seq ASC
		LIMIT $2`, after, limit)
	if err != nil {
		return nil, fmt.Errorf("fetch changes: %w", mapErr(err))
	}
	defer func() { _ = rows.Close() }()

	var out []change.Notification
	for rows.Next() {
		var (
			n  change.Notification
			op string
		)
		if err := rows.Scan(&n.Seq, &n.ListingID, &op, &n.OccurredAt); err != nil {
			return nil, fmt.Errorf("scan change: %w", err)
		}
		if n.Op, err = change.ParseOperation(op); err != nil {
			// An unknown operation still names a listing; reconcile it as an update.
			f.logger.Warn("Unknown change operation", zap.Int64("seq", n.Seq), zap.String("operation", op))
			n.Op = change.OpUpdate
		}
		out = append(out, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("fetch changes: %w", mapErr(err))
	}
	return out, nil
}

// Run delivers every notification after from, in seq order, until ctx is
// done or deliver fails. Between drains it sleeps for the poll interval or
// until a NOTIFY arrives. Fetch errors are logged and retried on the next tick.
//
// Sequence numbers are taken before commit, so a lower seq can become visible
// after a higher one. Delivery stops at the first missing seq and resumes when
// it commits or the horizon proves it never will.
func (f *Feed) Run(ctx context.Context, from int64, deliver func(context.Context, change.Notification) error) error {
	ticker := time.NewTicker(f.cfg.PollInterval)
	defer ticker.Stop()

	cursor := from
	var hold gapHold
	for {
		for {
			next, more, err := f.poll(ctx, cursor, &hold, deliver)
			cursor = next
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				var de deliverError
				if errors.As(err, &de) {
					return de.err
				}
				f.logger.Warn("Change feed poll failed", zap.Int64("cursor", cursor), zap.Error(err))
				break
			}
			if !more {
				break
			}
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		case <-f.wake:
			// A nil notification means the listener reconnected and may have missed events.
		}
	}
}

// gapHold remembers the first missing seq and the snapshot xmax observed when
// it was first seen. Every transaction that could still commit that seq has
// an xid below xmax.
type gapHold struct {
	seq  int64
	xmax int64
}

type deliverError struct{ err error }

func (e deliverError) Error() string { return e.err.Error() }

// poll delivers the contiguous run of one batch after cursor. It returns the
// new cursor and whether another batch may be ready right away.
func (f *Feed) poll(ctx context.Context, cursor int64, hold *gapHold,
	deliver func(context.Context, change.Notification) error) (int64, bool, error) {
	batch, err := f.Fetch(ctx, cursor, f.cfg.BatchSize)
	if err != nil {
		return cursor, false, err
	}
	if len(batch) == 0 {
		return cursor, false, nil
	}

	skip := false
	if batch[0].Seq != cursor+1 {
		settled, err := f.settle(ctx, hold, cursor+1)
		if err != nil || !settled {
			return cursor, false, err
		}
		// Rows that committed while the gap was open must come first.
		if batch, err = f.Fetch(ctx, cursor, f.cfg.BatchSize); err != nil || len(batch) == 0 {
			return cursor, false, err
		}
		if batch[0].Seq != cursor+1 {
			f.logger.Debug("Skipping outbox sequence gap",
				zap.Int64("from", cursor+1), zap.Int64("to", batch[0].Seq-1))
			skip = true
		}
	}

	for i, n := range batch {
		if n.Seq != cursor+1 && !(i == 0 && skip) {
			return cursor, true, nil
		}
		if err := deliver(ctx, n); err != nil {
			return cursor, false, deliverError{err}
		}
		cursor = n.Seq
	}
	return cursor, len(batch) == f.cfg.BatchSize, nil
}

// settle reports whether seq can no longer commit. That holds once every
// transaction running when the gap was first seen has finished.
func (f *Feed) settle(ctx context.Context, hold *gapHold, seq int64) (bool, error) {
	if hold.seq != seq {
		_, xmax, err := f.horizon(ctx)
		if err != nil {
			return false, err
		}
		*hold = gapHold{seq: seq, xmax: xmax}
	}
	xmin, _, err := f.horizon(ctx)
	if err != nil {
		return false, err
	}
	return xmin >= hold.xmax, nil
}

// horizon returns the xmin and xmax of a fresh snapshot.
func (f *Feed) horizon(ctx context.Context) (xmin, xmax int64, err error) {
	err = f.store.QueryRowContext(ctx,
		`SELECT pg_snapshot_xmin(s)::text::bigint, pg_snapshot_xmax(s)::text::bigint
		FROM pg_current_snapshot() AS s`).Scan(&xmin, &xmax)
	if err != nil {
		return 0, 0, fmt.Errorf("read snapshot horizon: %w", mapErr(err))
	}
	return xmin, xmax, nil
}

// Prune deletes outbox rows at or below the committed cursor that are older than before.
func (f *Feed) Prune(ctx context.Context, upTo int64, before time.Time) (int64, error) {
	res, err := f.store.ExecContext(ctx,
		`DELETE FROM listing_changes WHERE seq <= $1 AND occurred_at < $2`, upTo, before)
	if err != nil {
		return 0, fmt.Errorf("prune changes: %w", mapErr(err))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("prune changes: %w", err)
	}
	return n, nil
}

func mapErr(err error) error {
	if domain.IsTransient(err) {
		return domain.NewTransient("postgres", err)
	}
	return err
}
