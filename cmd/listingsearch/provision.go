package main

import (
	"context"
	"time"

	"go.uber.org/zap"

	indexrepo "github.com/kailas-cloud/listingsearch/internal/repository/index"
)

const maxProvisionBackoff = 30 * time.Second

type indexProvisioner interface {
	EnsureIndex(ctx context.Context) (indexrepo.EnsureResult, error)
}

// provisionIndex retries EnsureIndex with doubling delays until it succeeds
// or ctx is done.
func provisionIndex(ctx context.Context, p indexProvisioner, delay time.Duration, logger *zap.Logger) (indexrepo.EnsureResult, error) {
	for attempt := 1; ; attempt++ {
		t := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			t.Stop()
			return indexrepo.EnsureResult{}, ctx.Err()
		case <-t.C:
		}

		res, err := p.EnsureIndex(ctx)
		if err == nil {
			logger.Info("Search index provisioned", zap.Int("attempt", attempt), zap.Bool("created", res.Created))
			return res, nil
		}
		logger.Warn("Search index still unavailable", zap.Int("attempt", attempt), zap.Error(err))
		delay = min(delay*2, maxProvisionBackoff)
	}
}
