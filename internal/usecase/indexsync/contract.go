package indexsync

import (
	"context"
	"time"

	"github.com/kailas-cloud/listingsearch/internal/domain/change"
	"github.com/kailas-cloud/listingsearch/internal/domain/document"
	"github.com/kailas-cloud/listingsearch/internal/domain/listing"
)

// ListingReader reads canonical records from the transactional store.
type ListingReader interface {
	Fetch(ctx context.Context, id string) (*listing.Listing, error)
	FetchMany(ctx context.Context, ids []string) ([]*listing.Listing, error)
	Enumerate(ctx context.Context, afterID string, limit int) ([]*listing.Listing, error)
	Count(ctx context.Context) (int64, error)
	IDs(ctx context.Context) ([]string, error)
}

// IndexWriter maintains the search index. Writes return the scopes of the
// versions they replaced or removed, plus those of the versions written.
type IndexWriter interface {
	Upsert(ctx context.Context, docs []document.Document) ([]listing.Scope, error)
	Delete(ctx context.Context, ids []string) ([]listing.Scope, error)
	Count(ctx context.Context) (int64, error)
	IDs(ctx context.Context) ([]string, error)
}

// ChangeFeed delivers mutation notifications and stores the consumer cursor.
type ChangeFeed interface {
	Cursor(ctx context.Context) (int64, error)
	SaveCursor(ctx context.Context, seq int64) error
	Run(ctx context.Context, from int64, deliver func(context.Context, change.Notification) error) error
	Prune(ctx context.Context, upTo int64, before time.Time) (int64, error)
}

// DeadLetterStore persists notifications that could not be applied.
type DeadLetterStore interface {
	Add(ctx context.Context, dl change.DeadLetter) (change.DeadLetter, error)
	Pending(ctx context.Context, limit int) ([]change.DeadLetter, error)
	MarkReplayed(ctx context.Context, id string) error
	RecordAttempt(ctx context.Context, id string, lastErr string) error
}

// Invalidator drops cached search results by tag.
type Invalidator interface {
	Invalidate(tagsOrKeys ...string) int
}

// Lease is a held cross-process lock.
type Lease interface {
	Renew(ctx context.Context) error
	Release(ctx context.Context) error
}

// Locker hands out leases. acquired is false when another process holds name.
type Locker interface {
	Lock(ctx context.Context, name string, ttl time.Duration) (lease Lease, acquired bool, err error)
}
