package index

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/listingsearch/internal/db"
)

const (
	provisionLease     = "ensure-index"
	provisionLeaseTTL  = 30 * time.Second
	provisionPollEvery = 250 * time.Millisecond
)

// EnsureResult describes the outcome of EnsureIndex.
type EnsureResult struct {
	Created bool
	// Missing and Unexpected list attribute differences against the expected
	// schema when the index already existed. They require an explicit reindex
	// into a new index; the existing one is never modified.
	Missing    []string
	Unexpected []string
}

// SchemaMismatch reports whether the existing index differs from the expected mapping.
func (e EnsureResult) SchemaMismatch() bool {
	return len(e.Missing) > 0 || len(e.Unexpected) > 0
}

// EnsureIndex provisions the listing index if it does not exist. Safe to call
// on every start and from several processes at once: creation is guarded by a
// lease, and losing a creation race is treated as success.
func (r *Repo) EnsureIndex(ctx context.Context) (EnsureResult, error) {
	info, err := r.store.IndexInfo(ctx, r.cfg.IndexName)
	switch {
	case err == nil:
		return r.compare(info), nil
	case !errors.Is(err, db.ErrIndexNotFound):
		return EnsureResult{}, fmt.Errorf("probe index: %w", mapErr(err))
	}

	lease, acquired, err := r.AcquireLease(ctx, provisionLease, provisionLeaseTTL)
	if err != nil {
		return EnsureResult{}, fmt.Errorf("acquire provisioning lease: %w", err)
	}
	if !acquired {
		return r.awaitIndex(ctx)
	}
	defer func() {
		if err := lease.Release(context.WithoutCancel(ctx)); err != nil {
			r.logger.Warn("Failed to release provisioning lease", zap.Error(err))
		}
	}()

	err = r.store.CreateIndex(ctx, r.schema)
	switch {
	case err == nil:
		r.logger.Info("Search index created",
			zap.String("index", r.cfg.IndexName),
			zap.Int("fields", len(r.schema.Fields)),
		)
		return EnsureResult{Created: true}, nil
	case errors.Is(err, db.ErrIndexExists):
		return EnsureResult{}, nil
	default:
		return EnsureResult{}, fmt.Errorf("create index: %w", mapErr(err))
	}
}

func (r *Repo) compare(info *db.IndexInfo) EnsureResult {
	missing, unexpected := schemaDiff(r.schema.FieldNames(), info.Attributes)
	res := EnsureResult{Missing: missing, Unexpected: unexpected}
	if res.SchemaMismatch() {
		r.logger.Warn("Search index mapping differs from expected schema; reindex into a new index to migrate",
			zap.String("index", r.cfg.IndexName),
			zap.Strings("missing", missing),
			zap.Strings("unexpected", unexpected),
		)
	}
	return res
}

// awaitIndex waits for another process holding the provisioning lease to finish.
func (r *Repo) awaitIndex(ctx context.Context) (EnsureResult, error) {
	r.logger.Info("Index provisioning in progress elsewhere, waiting", zap.String("index", r.cfg.IndexName))

	ctx, cancel := context.WithTimeout(ctx, provisionLeaseTTL)
	defer cancel()

	ticker := time.NewTicker(provisionPollEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return EnsureResult{}, fmt.Errorf("wait for index %s: %w", r.cfg.IndexName, ctx.Err())
		case <-ticker.C:
			info, err := r.store.IndexInfo(ctx, r.cfg.IndexName)
			if err == nil {
				return r.compare(info), nil
			}
			if !errors.Is(err, db.ErrIndexNotFound) {
				return EnsureResult{}, fmt.Errorf("probe index: %w", mapErr(err))
			}
		}
	}
}
