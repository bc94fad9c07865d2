package index

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/kailas-cloud/listingsearch/internal/db"
)

const leasePrefix = "lease:listingsearch:"

// Lease is a best-effort cross-process lock held in the index store.
type Lease struct {
	repo  *Repo
	key   string
	owner string
	ttl   time.Duration
}

// AcquireLease tries to take the named lease for ttl. acquired is false when
// another owner holds it.
func (r *Repo) AcquireLease(ctx context.Context, name string, ttl time.Duration) (*Lease, bool, error) {
	l := &Lease{repo: r, key: leasePrefix + name, owner: uuid.NewString(), ttl: ttl}
	ok, err := r.store.SetNX(ctx, l.key, []byte(l.owner), ttl)
	if err != nil {
		return nil, false, mapErr(err)
	}
	if !ok {
		return nil, false, nil
	}
	return l, true, nil
}

// Renew extends the lease if it is still held by this owner.
func (l *Lease) Renew(ctx context.Context) error {
	held, err := l.held(ctx)
	if err != nil {
		return err
	}
	if !held {
		return fmt.Errorf("lease %s lost", l.key)
	}
	if err := l.repo.store.Expire(ctx, l.key, l.ttl); err != nil {
		return mapErr(err)
	}
	return nil
}

// Release drops the lease if it is still held by this owner. The check and
// delete are two commands; a lease that expires in between may be released
// on behalf of its next owner, which shortens but never extends exclusivity.
func (l *Lease) Release(ctx context.Context) error {
	held, err := l.held(ctx)
	if err != nil || !held {
		return err
	}
	if err := l.repo.store.Del(ctx, l.key); err != nil {
		return mapErr(err)
	}
	return nil
}

func (l *Lease) held(ctx context.Context) (bool, error) {
	v, err := l.repo.store.Get(ctx, l.key)
	if errors.Is(err, db.ErrKeyNotFound) {
		return false, nil
	}
	if err != nil {
		return false, mapErr(err)
	}
	return string(v) == l.owner, nil
}
