package health

import "context"

// IndexChecker checks search index availability.
type IndexChecker interface {
	Ready(ctx context.Context) error
	Count(ctx context.Context) (int64, error)
}

// StorePinger checks transactional store availability.
type StorePinger interface {
	Ping(ctx context.Context) error
}
