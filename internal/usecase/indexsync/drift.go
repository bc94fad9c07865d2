package indexsync

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/kailas-cloud/listingsearch/internal/domain/change"
	"github.com/kailas-cloud/listingsearch/internal/metrics"
)

// VerifyDrift compares the searchable listings of the store with the index.
// Counts are compared first; the id-sets are diffed when the counts differ
// or when full is set. It never modifies either side.
func (s *Service) VerifyDrift(ctx context.Context, full bool) (change.DriftReport, error) {
	storeCount, err := s.listings.Count(ctx)
	if err != nil {
		return change.DriftReport{}, fmt.Errorf("count listings: %w", err)
	}
	indexCount, err := s.index.Count(ctx)
	if err != nil {
		return change.DriftReport{}, fmt.Errorf("count index documents: %w", err)
	}
	rep := change.DriftReport{StoreCount: storeCount, IndexCount: indexCount, CheckedAt: s.now()}

	if full || storeCount != indexCount {
		storeIDs, err := s.listings.IDs(ctx)
		if err != nil {
			return change.DriftReport{}, fmt.Errorf("list listing ids: %w", err)
		}
		indexIDs, err := s.index.IDs(ctx)
		if err != nil {
			return change.DriftReport{}, fmt.Errorf("list index ids: %w", err)
		}
		rep.MissingInIndex, rep.MissingInStore = change.Diff(storeIDs, indexIDs)
		rep.Compared = true
	}
	if rep.MissingInIndex == nil {
		rep.MissingInIndex = []string{}
	}
	if rep.MissingInStore == nil {
		rep.MissingInStore = []string{}
	}

	metrics.SyncDriftIDs.WithLabelValues("missing_in_index").Set(float64(len(rep.MissingInIndex)))
	metrics.SyncDriftIDs.WithLabelValues("missing_in_store").Set(float64(len(rep.MissingInStore)))

	if rep.InSync() {
		s.logger.Debug("No index drift", zap.Int64("documents", indexCount))
	} else {
		s.logger.Warn("Index drift detected",
			zap.Int64("store_count", storeCount),
			zap.Int64("index_count", indexCount),
			zap.Int("missing_in_index", len(rep.MissingInIndex)),
			zap.Int("missing_in_store", len(rep.MissingInStore)),
		)
	}
	return rep, nil
}
