package listingsearch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/kailas-cloud/listingsearch/internal/domain/batch"
	"github.com/kailas-cloud/listingsearch/internal/domain/change"
	healthuc "github.com/kailas-cloud/listingsearch/internal/usecase/health"
	syncuc "github.com/kailas-cloud/listingsearch/internal/usecase/indexsync"
)

func TestNew_NoAddress(t *testing.T) {
	_, err := New(context.Background(), WithPostgres("postgres://localhost/listings"))
	if err == nil || !strings.Contains(err.Error(), "WithRedis") {
		t.Fatalf("expected missing address error, got %v", err)
	}
}

func TestNew_NoDSN(t *testing.T) {
	_, err := New(context.Background(), WithRedis("localhost:6379", ""))
	if err == nil || !strings.Contains(err.Error(), "WithPostgres") {
		t.Fatalf("expected missing dsn error, got %v", err)
	}
}

func TestClientOptions(t *testing.T) {
	cfg := defaultConfig()
	logger := slog.Default()
	reg := prometheus.NewRegistry()

	for _, o := range []Option{
		WithRedis("redis:6379", "pw"),
		WithPostgres("postgres://db/listings"),
		WithIndex("idx2", "l2:"),
		WithLanguages("english"),
		WithBackendTimeout(time.Second),
		WithPriceBuckets(1, 2, 3),
		WithLogger(logger),
		WithPrometheus(reg),
	} {
		o.apply(cfg)
	}

	if len(cfg.addrs) != 1 || cfg.addrs[0] != "redis:6379" || cfg.password != "pw" {
		t.Errorf("redis options not applied: %v %q", cfg.addrs, cfg.password)
	}
	if cfg.dsn != "postgres://db/listings" {
		t.Errorf("dsn = %q", cfg.dsn)
	}
	if cfg.indexName != "idx2" || cfg.keyPrefix != "l2:" {
		t.Errorf("index = %q %q", cfg.indexName, cfg.keyPrefix)
	}
	if len(cfg.languages) != 1 || cfg.backendTimeout != time.Second {
		t.Errorf("languages/timeout not applied")
	}
	if len(cfg.priceBounds) != 3 || cfg.priceBounds[2] != 3 {
		t.Errorf("price bounds = %v", cfg.priceBounds)
	}
	if cfg.logger != logger || cfg.metricsReg != reg {
		t.Error("observability options not applied")
	}
}

func TestObserver_RecordsOutcomes(t *testing.T) {
	reg := prometheus.NewRegistry()
	obs, err := newObserver(nil, reg)
	if err != nil {
		t.Fatalf("newObserver: %v", err)
	}

	obs.observe("search", time.Now(), nil)
	obs.observe("search", time.Now(), fmt.Errorf("search: %w", ErrInvalidQuery))
	obs.observe("search", time.Now(), ErrSearchUnavailable)
	obs.observe("reindex", time.Now(), ErrReindexInProgress)
	obs.observe("reindex", time.Now(), errors.New("boom"))

	tests := []struct {
		op, status string
	}{
		{"search", "ok"},
		{"search", "invalid"},
		{"search", "unavailable"},
		{"reindex", "conflict"},
		{"reindex", "error"},
	}
	for _, tc := range tests {
		if got := testutil.ToFloat64(obs.metrics.operations.WithLabelValues(tc.op, tc.status)); got != 1 {
			t.Errorf("%s/%s count = %v, want 1", tc.op, tc.status, got)
		}
	}
}

func TestObserver_ReusesRegisteredMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	first, err := newObserver(nil, reg)
	if err != nil {
		t.Fatalf("first observer: %v", err)
	}
	second, err := newObserver(nil, reg)
	if err != nil {
		t.Fatalf("second observer: %v", err)
	}
	if first.metrics.operations != second.metrics.operations {
		t.Error("second client should share the registered collectors")
	}
}

func TestObserver_Nil(_ *testing.T) {
	var obs *observer
	obs.observe("search", time.Now(), nil)
}

func TestReindex(t *testing.T) {
	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	c := &Client{syncSvc: &mockSyncUC{
		reindexAllFn: func(context.Context) (syncuc.ReindexReport, error) {
			return syncuc.ReindexReport{
				Summary:    batch.Summary{Indexed: 10, Failed: 1, FailedIDs: []string{"l-7"}},
				Removed:    3,
				StartedAt:  start,
				FinishedAt: start.Add(2 * time.Second),
			}, nil
		},
	}}

	rep, err := c.Reindex(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rep.Indexed != 10 || rep.Removed != 3 || rep.FailedIDs[0] != "l-7" {
		t.Errorf("report = %+v", rep)
	}
	if rep.Duration != 2*time.Second {
		t.Errorf("duration = %v", rep.Duration)
	}
}

func TestReindex_InProgress(t *testing.T) {
	c := &Client{syncSvc: &mockSyncUC{
		reindexAllFn: func(context.Context) (syncuc.ReindexReport, error) {
			return syncuc.ReindexReport{}, ErrReindexInProgress
		},
	}}
	if _, err := c.Reindex(context.Background()); !errors.Is(err, ErrReindexInProgress) {
		t.Fatalf("err = %v, want ErrReindexInProgress", err)
	}
}

func TestReindexIDs(t *testing.T) {
	var got []string
	c := &Client{syncSvc: &mockSyncUC{
		reindexIDsFn: func(_ context.Context, ids []string) (syncuc.ReindexReport, error) {
			got = ids
			return syncuc.ReindexReport{Summary: batch.Summary{Indexed: len(ids)}}, nil
		},
	}}

	rep, err := c.ReindexIDs(context.Background(), "l-1", "l-2")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 2 || rep.Indexed != 2 {
		t.Errorf("ids = %v, report = %+v", got, rep)
	}
}

func TestVerifyDrift(t *testing.T) {
	c := &Client{syncSvc: &mockSyncUC{
		driftFn: func(_ context.Context, full bool) (change.DriftReport, error) {
			if !full {
				t.Error("full flag not passed through")
			}
			return change.DriftReport{StoreCount: 2, IndexCount: 1, MissingInIndex: []string{"l-2"}, Compared: true}, nil
		},
	}}

	rep, err := c.VerifyDrift(context.Background(), true)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rep.InSync || len(rep.MissingInIndex) != 1 {
		t.Errorf("report = %+v", rep)
	}
}

func TestHealth(t *testing.T) {
	c := &Client{healthSvc: &mockHealthUC{report: healthuc.Report{
		Status:         healthuc.Degraded,
		StoreAvailable: true,
		Checks: map[string]healthuc.CheckResult{
			"index": healthuc.CheckError,
			"store": healthuc.CheckOK,
		},
	}}}

	h := c.Health(context.Background())
	if h.Status != "degraded" || h.IndexAvailable || !h.StoreAvailable {
		t.Errorf("status = %+v", h)
	}
	if h.Checks["index"] != "error" || h.Checks["store"] != "ok" {
		t.Errorf("checks = %v", h.Checks)
	}
}
