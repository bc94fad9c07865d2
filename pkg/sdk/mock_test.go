package listingsearch

import (
	"context"

	"github.com/kailas-cloud/listingsearch/internal/domain/change"
	"github.com/kailas-cloud/listingsearch/internal/domain/listing"
	"github.com/kailas-cloud/listingsearch/internal/domain/search/filter"
	"github.com/kailas-cloud/listingsearch/internal/domain/search/result"
	healthuc "github.com/kailas-cloud/listingsearch/internal/usecase/health"
	syncuc "github.com/kailas-cloud/listingsearch/internal/usecase/indexsync"
)

// --- searchUseCase mock ---

type mockSearchUC struct {
	searchFn  func(ctx context.Context, f filter.Filters) (result.SearchResult, error)
	suggestFn func(ctx context.Context, prefix string, sc listing.Scope) ([]string, error)
}

func (m *mockSearchUC) Search(ctx context.Context, f filter.Filters) (result.SearchResult, error) {
	return m.searchFn(ctx, f)
}

func (m *mockSearchUC) Suggest(ctx context.Context, prefix string, sc listing.Scope) ([]string, error) {
	return m.suggestFn(ctx, prefix, sc)
}

// --- syncUseCase mock ---

type mockSyncUC struct {
	reindexAllFn func(ctx context.Context) (syncuc.ReindexReport, error)
	reindexIDsFn func(ctx context.Context, ids []string) (syncuc.ReindexReport, error)
	driftFn      func(ctx context.Context, full bool) (change.DriftReport, error)
}

func (m *mockSyncUC) ReindexAll(ctx context.Context) (syncuc.ReindexReport, error) {
	return m.reindexAllFn(ctx)
}

func (m *mockSyncUC) ReindexIDs(ctx context.Context, ids []string) (syncuc.ReindexReport, error) {
	return m.reindexIDsFn(ctx, ids)
}

func (m *mockSyncUC) VerifyDrift(ctx context.Context, full bool) (change.DriftReport, error) {
	return m.driftFn(ctx, full)
}

// --- healthUseCase mock ---

type mockHealthUC struct {
	report healthuc.Report
}

func (m *mockHealthUC) Check(context.Context) healthuc.Report { return m.report }
