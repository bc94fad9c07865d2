// Package deadletter stores change notifications that could not be applied to
// the index so they can be inspected and replayed.
package deadletter

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/kailas-cloud/listingsearch/internal/domain"
	"github.com/kailas-cloud/listingsearch/internal/domain/change"
)

// store is the consumer interface over the Postgres pool.
type store interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// Repo reads and writes search_sync_dead_letters.
type Repo struct {
	store store
	now   func() time.Time
}

// New creates a dead-letter repository.
func New(s store) *Repo {
	return &Repo{store: s, now: time.Now}
}

// Add persists a dead letter and returns it with its id and failure time set.
func (r *Repo) Add(ctx context.Context, dl change.DeadLetter) (change.DeadLetter, error) {
	if dl.ID == "" {
		dl.ID = uuid.NewString()
	}
	if dl.FailedAt.IsZero() {
		dl.FailedAt = r.now().UTC()
	}
	n := dl.Notification
	_, err := r.store.ExecContext(ctx,
		`INSERT INTO search_sync_dead_letters
			(id, seq, listing_id, operation, occurred_at, attempts, last_error, failed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		dl.ID, n.Seq, n.ListingID, string(n.Op), n.OccurredAt, dl.Attempts, dl.LastError, dl.FailedAt)
	if err != nil {
		return change.DeadLetter{}, fmt.Errorf("add dead letter for %s: %w", n.ListingID, mapErr(err))
	}
	return dl, nil
}

// Pending returns up to limit dead letters not yet replayed, oldest first.
func (r *Repo) Pending(ctx context.Context, limit int) ([]change.DeadLetter, error) {
	rows, err := r.store.QueryContext(ctx,
		`SELECT id, seq, listing_id, operation, occurred_at, attempts, last_error, failed_at
		FROM search_sync_dead_letters
		WHERE replayed_at IS NULL
		ORDER BY failed_at ASC, id ASC
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("list dead letters: %w", mapErr(err))
	}
	defer func() { _ = rows.Close() }()

	var out []change.DeadLetter
	for rows.Next() {
		var (
			dl change.DeadLetter
			op string
		)
		if err := rows.Scan(&dl.ID, &dl.Notification.Seq, &dl.Notification.ListingID, &op,
			&dl.Notification.OccurredAt, &dl.Attempts, &dl.LastError, &dl.FailedAt); err != nil {
			return nil, fmt.Errorf("scan dead letter: %w", err)
		}
		if dl.Notification.Op, err = change.ParseOperation(op); err != nil {
			dl.Notification.Op = change.OpUpdate
		}
		out = append(out, dl)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list dead letters: %w", mapErr(err))
	}
	return out, nil
}

// CountPending returns the number of dead letters awaiting replay.
func (r *Repo) CountPending(ctx context.Context) (int64, error) {
	var n int64
	err := r.store.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM search_sync_dead_letters WHERE replayed_at IS NULL`).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count dead letters: %w", mapErr(err))
	}
	return n, nil
}

// MarkReplayed closes a dead letter after a successful replay.
func (r *Repo) MarkReplayed(ctx context.Context, id string) error {
	res, err := r.store.ExecContext(ctx,
		`UPDATE search_sync_dead_letters SET replayed_at = $2 WHERE id = $1 AND replayed_at IS NULL`,
		id, r.now().UTC())
	if err != nil {
		return fmt.Errorf("mark dead letter %s replayed: %w", id, mapErr(err))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("mark dead letter %s replayed: %w", id, err)
	}
	if n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// RecordAttempt bumps the attempt counter of a dead letter whose replay failed again.
func (r *Repo) RecordAttempt(ctx context.Context, id string, lastErr string) error {
	_, err := r.store.ExecContext(ctx,
		`UPDATE search_sync_dead_letters
		SET attempts = attempts + 1, last_error = $2, failed_at = $3
		WHERE id = $1`,
		id, lastErr, r.now().UTC())
	if err != nil {
		return fmt.Errorf("record dead letter %s attempt: %w", id, mapErr(err))
	}
	return nil
}

func mapErr(err error) error {
	if domain.IsTransient(err) {
		return domain.NewTransient("postgres", err)
	}
	return err
}
