package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/lib/pq"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/kailas-cloud/listingsearch/internal/config"
	"github.com/kailas-cloud/listingsearch/internal/db/postgres"
	dbRedis "github.com/kailas-cloud/listingsearch/internal/db/redis"
	logpkg "github.com/kailas-cloud/listingsearch/internal/logger"
	"github.com/kailas-cloud/listingsearch/internal/metrics"
	"github.com/kailas-cloud/listingsearch/internal/repository/changefeed"
	"github.com/kailas-cloud/listingsearch/internal/repository/deadletter"
	indexrepo "github.com/kailas-cloud/listingsearch/internal/repository/index"
	listingrepo "github.com/kailas-cloud/listingsearch/internal/repository/listing"
	"github.com/kailas-cloud/listingsearch/internal/repository/resultcache"
	"github.com/kailas-cloud/listingsearch/internal/text"
	chiTransport "github.com/kailas-cloud/listingsearch/internal/transport/chi"
	healthuc "github.com/kailas-cloud/listingsearch/internal/usecase/health"
	syncuc "github.com/kailas-cloud/listingsearch/internal/usecase/indexsync"
	searchuc "github.com/kailas-cloud/listingsearch/internal/usecase/search"
	"github.com/kailas-cloud/listingsearch/internal/version"
)

func main() {
	// Load configuration based on ENV
	env := config.GetEnv()

	cfg, err := config.Load(env)
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	logger, err := logpkg.NewLogger(env, cfg.Logging.Level)
	if err != nil {
		panic("failed to create logger: " + err.Error())
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("Starting listingsearch API server",
		zap.String("build", version.String()),
		zap.String("env", env),
		zap.Int("http_port", cfg.HTTP.Port),
		zap.Strings("redis_addrs", cfg.Redis.Addrs),
		zap.Bool("sync_enabled", cfg.Sync.Enabled),
	)

	// Cancelled on shutdown; bounds the sync loop and background jobs.
	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	store, err := dbRedis.NewStore(dbRedis.Config{
		Addrs:    cfg.Redis.Addrs,
		Username: cfg.Redis.Username,
		Password: cfg.Redis.Password,
	})
	if err != nil {
		logger.Fatal("Invalid index store configuration", zap.Error(err))
	}
	defer store.Close()

	if err := store.WaitForReady(ctx, time.Duration(cfg.Redis.ReadinessTimeout)*time.Second); err != nil {
		// Searches are served from postgres until the index store answers.
		logger.Warn("Index store not reachable, starting degraded", zap.Error(err))
	} else {
		logger.Info("Connected to index store")
	}

	pg, err := postgres.Open(ctx, postgres.Config{
		DSN:            cfg.Postgres.DSN,
		MaxOpenConns:   cfg.Postgres.MaxOpenConns,
		MaxIdleConns:   cfg.Postgres.MaxIdleConns,
		ConnectTimeout: time.Duration(cfg.Postgres.ConnectTimeoutSec) * time.Second,
		MaxLifetime:    time.Duration(cfg.Postgres.ConnMaxLifetimeM) * time.Minute,
	}, logger)
	if err != nil {
		logger.Fatal("Failed to connect to postgres", zap.Error(err))
	}
	defer func() { _ = pg.Close() }()

	// Register metrics explicitly (no init())
	metrics.RegisterSearchMetrics()
	metrics.RegisterSyncMetrics()
	metrics.RegisterHTTPMetrics()

	analyzers, err := text.NewAnalyzers(cfg.Redis.Languages)
	if err != nil {
		logger.Fatal("Invalid analyzer languages", zap.Error(err))
	}

	// Repositories
	index, err := indexrepo.New(store, indexrepo.Config{
		IndexName:   cfg.Redis.IndexName,
		KeyPrefix:   cfg.Redis.KeyPrefix,
		Analyzers:   analyzers,
		FacetTopN:   cfg.Search.FacetTopN,
		PriceBounds: cfg.Search.PriceBuckets,
	}, logpkg.Component(logger, "index"))
	if err != nil {
		logger.Fatal("Failed to create index repository", zap.Error(err))
	}
	listings, err := listingrepo.New(pg, listingrepo.Config{
		FacetTopN:   cfg.Search.FacetTopN,
		PriceBounds: cfg.Search.PriceBuckets,
	}, logpkg.Component(logger, "listings"))
	if err != nil {
		logger.Fatal("Failed to create listing repository", zap.Error(err))
	}
	deadLetters := deadletter.New(pg)

	ensured, ensureErr := index.EnsureIndex(ctx)
	if ensureErr != nil {
		// Searches degrade to postgres until the index is provisioned.
		logger.Error("Failed to provision search index, retrying in background", zap.Error(ensureErr))
	}

	cache, err := resultcache.New(resultcache.Config{
		Capacity:      cfg.Search.CacheCapacity,
		TTL:           time.Duration(cfg.Search.CacheTTLSec) * time.Second,
		SweepInterval: time.Duration(cfg.Search.CacheSweepSec) * time.Second,
	}, metrics.SearchCacheTotal, logpkg.Component(logger, "cache"))
	if err != nil {
		logger.Fatal("Failed to create result cache", zap.Error(err))
	}
	defer cache.Close()

	// Use case services
	searchSvc := searchuc.New(index, index, listings, cache, searchuc.Config{
		BackendTimeout:      time.Duration(cfg.Search.BackendTimeoutMs) * time.Millisecond,
		HealthTTL:           time.Duration(cfg.Search.HealthCheckTTLMs) * time.Millisecond,
		CacheTTL:            time.Duration(cfg.Search.CacheTTLSec) * time.Second,
		SuggestLimit:        cfg.Search.SuggestLimit,
		SuggestMinPrefixLen: cfg.Search.SuggestMinPrefixLen,
	}, logpkg.Component(logger, "search"))

	var wake *changefeed.Listener
	if cfg.Sync.Enabled {
		wake, err = changefeed.Listen(pg.DSN(), logpkg.Component(logger, "listener"))
		if err != nil {
			// Polling alone still delivers every change.
			logger.Warn("Change notifications unavailable, polling only", zap.Error(err))
		} else {
			defer func() { _ = wake.Close() }()
		}
	}
	feed, err := changefeed.New(pg, changefeed.Config{
		Consumer:     cfg.Sync.Consumer,
		BatchSize:    cfg.Sync.PollBatchSize,
		PollInterval: time.Duration(cfg.Sync.PollIntervalMs) * time.Millisecond,
	}, notifications(wake), logpkg.Component(logger, "feed"))
	if err != nil {
		logger.Fatal("Failed to create change feed", zap.Error(err))
	}

	syncSvc := syncuc.New(listings, index, feed, deadLetters, syncuc.Config{
		Workers:            cfg.Sync.Workers,
		QueueDepth:         cfg.Sync.QueueDepth,
		CommitInterval:     time.Duration(cfg.Sync.CommitIntervalMs) * time.Millisecond,
		MaxAttempts:        cfg.Sync.MaxAttempts,
		InitialBackoff:     time.Duration(cfg.Sync.InitialBackoffMs) * time.Millisecond,
		MaxBackoff:         time.Duration(cfg.Sync.MaxBackoffMs) * time.Millisecond,
		ReindexBatchSize:   cfg.Sync.ReindexBatchSize,
		ReindexConcurrency: cfg.Sync.ReindexConcurrency,
		LeaseTTL:           time.Duration(cfg.Sync.ReindexLeaseSec) * time.Second,
		OutboxRetention:    time.Duration(cfg.Sync.OutboxRetentionHours) * time.Hour,
	}, logpkg.Component(logger, "sync"),
		syncuc.WithInvalidator(cache),
		syncuc.WithLocker(leaseLocker{repo: index}),
	)

	healthSvc := healthuc.New(index, listings, logpkg.Component(logger, "health"))

	syncDone := make(chan struct{})
	if cfg.Sync.Enabled {
		go func() {
			defer close(syncDone)
			if err := syncSvc.Run(ctx); err != nil {
				logger.Error("Change synchronization stopped", zap.Error(err))
			}
		}()
	} else {
		close(syncDone)
	}

	go func() {
		if ensureErr != nil {
			var err error
			if ensured, err = provisionIndex(ctx, index, time.Second, logger); err != nil {
				return
			}
		}
		if !cfg.Sync.ReindexOnStart || !ensured.Created {
			return
		}
		rep, err := syncSvc.ReindexAll(ctx)
		if err != nil {
			logger.Error("Initial reindex failed", zap.Error(err))
			return
		}
		logger.Info("Initial reindex finished", zap.Int("indexed", rep.Indexed), zap.Int("failed", rep.Failed))
	}()

	scheduler, err := newScheduler(ctx, cfg.Sync, syncSvc, deadLetters, logger)
	if err != nil {
		logger.Fatal("Failed to schedule maintenance jobs", zap.Error(err))
	}
	scheduler.Start()

	// Create chi server
	server := chiTransport.NewServer(ctx, searchSvc, syncSvc, healthSvc, chiTransport.Config{
		DefaultPageSize: cfg.Search.DefaultPageSize,
		MaxPageSize:     cfg.Search.MaxPageSize,
		AdminAPIKeys:    cfg.Auth.AdminAPIKeys,
	}, logger)

	r := chi.NewRouter()
	r.Use(jsonRecoverer(logger))
	r.Use(chiMiddleware.RequestID)
	r.Use(wideEventMiddleware(logger))
	r.Use(metrics.Middleware())
	server.Register(r)

	addr := fmt.Sprintf(":%d", cfg.HTTP.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  time.Duration(cfg.HTTP.ReadTimeoutSec) * time.Second,
		WriteTimeout: time.Duration(cfg.HTTP.WriteTimeoutSec) * time.Second,
	}

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	go func() {
		logger.Info("Starting HTTP server", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("HTTP server error", zap.Error(err))
		}
	}()

	<-quit
	logger.Info("Received shutdown signal")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.HTTP.ShutdownSec)*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Error during shutdown", zap.Error(err))
	}

	// Stop scheduling, then cancel the sync loop; it commits its cursor on the way out.
	<-scheduler.Stop().Done()
	stop()
	select {
	case <-syncDone:
	case <-shutdownCtx.Done():
		logger.Warn("Change synchronization did not stop in time")
	}

	logger.Info("Server stopped gracefully")
}

// leaseLocker adapts index leases to the synchronizer's Locker.
type leaseLocker struct {
	repo *indexrepo.Repo
}

func (l leaseLocker) Lock(ctx context.Context, name string, ttl time.Duration) (syncuc.Lease, bool, error) {
	lease, ok, err := l.repo.AcquireLease(ctx, name, ttl)
	if err != nil || !ok {
		// Never hand out a typed nil.
		return nil, false, err
	}
	return lease, true, nil
}

func notifications(l *changefeed.Listener) <-chan *pq.Notification {
	if l == nil {
		return nil
	}
	return l.Notifications()
}

// deadLetterCounter reports the replay backlog.
type deadLetterCounter interface {
	CountPending(ctx context.Context) (int64, error)
}

// newScheduler registers the periodic maintenance jobs. A job still running
// when its next tick fires is skipped.
func newScheduler(
	ctx context.Context,
	cfg config.SyncConfig,
	svc *syncuc.Service,
	dead deadLetterCounter,
	logger *zap.Logger,
) (*cron.Cron, error) {
	cl := cronLogger{logger.Sugar().Named("cron")}
	c := cron.New(cron.WithLogger(cl), cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)))

	jobs := []struct {
		name string
		spec string
		run  func()
	}{
		{"drift", cfg.DriftSchedule, func() {
			if _, err := svc.VerifyDrift(ctx, false); err != nil {
				logger.Error("Drift check failed", zap.Error(err))
			}
		}},
		{"dead_letter_replay", cfg.ReplaySchedule, func() {
			rep, err := svc.ReplayDeadLetters(ctx, cfg.ReplayBatchSize)
			if err != nil {
				logger.Error("Dead letter replay failed", zap.Error(err))
				return
			}
			if rep.Replayed > 0 || rep.Failed > 0 {
				logger.Info("Dead letters replayed", zap.Int("replayed", rep.Replayed), zap.Int("failed", rep.Failed))
			}
			if n, err := dead.CountPending(ctx); err == nil {
				metrics.SyncDeadLettersPending.Set(float64(n))
			}
		}},
		{"outbox_prune", cfg.PruneSchedule, func() {
			if _, err := svc.PruneOutbox(ctx); err != nil {
				logger.Error("Outbox prune failed", zap.Error(err))
			}
		}},
	}
	for _, j := range jobs {
		if j.spec == "" || !cfg.Enabled {
			continue
		}
		if _, err := c.AddFunc(j.spec, j.run); err != nil {
			return nil, fmt.Errorf("schedule %s: %w", j.name, err)
		}
		logger.Info("Scheduled maintenance job", zap.String("job", j.name), zap.String("schedule", j.spec))
	}
	return c, nil
}

// cronLogger routes scheduler logs through zap.
type cronLogger struct {
	l *zap.SugaredLogger
}

func (c cronLogger) Info(msg string, keysAndValues ...any) {
	c.l.Debugw(msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...any) {
	c.l.Errorw(msg, append(keysAndValues, "error", err)...)
}

// jsonRecoverer is a recovery middleware that returns JSON instead of a plain text stacktrace.
func jsonRecoverer(logger *zap.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rvr := recover(); rvr != nil {
					logger.Error("panic recovered",
						zap.Any("panic", rvr),
						zap.Stack("stacktrace"),
					)
					w.Header().Set("Content-Type", "application/json")
					w.WriteHeader(http.StatusInternalServerError)
					_ = json.NewEncoder(w).Encode(chiTransport.ErrorResponse{
						Code:    chiTransport.ErrorResponseCodeInternalError,
						Message: "internal error",
					})
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// wideEventMiddleware emits a canonical log line per request and propagates X-Request-ID.
func wideEventMiddleware(logger *zap.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			requestID := chiMiddleware.GetReqID(r.Context())
			if requestID != "" {
				w.Header().Set("X-Request-ID", requestID)
			}

			reqLogger := logger.With(zap.String("request_id", requestID))
			ctx := logpkg.ContextWithLogger(r.Context(), reqLogger)

			ww := chiMiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r.WithContext(ctx))

			reqLogger.Info("http_request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Duration("latency", time.Since(start)),
				zap.String("ip", r.RemoteAddr),
				zap.Int64("content_length", r.ContentLength),
				zap.String("user_agent", r.UserAgent()),
				zap.Int("response_bytes", ww.BytesWritten()),
			)
		})
	}
}
