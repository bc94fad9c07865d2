package search

import (
	"context"
	"strconv"
	"strings"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/cespare/xxhash/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/kailas-cloud/listingsearch/internal/domain"
	"github.com/kailas-cloud/listingsearch/internal/domain/listing"
	"github.com/kailas-cloud/listingsearch/internal/domain/search/filter"
	"github.com/kailas-cloud/listingsearch/internal/domain/search/result"
	"github.com/kailas-cloud/listingsearch/internal/domain/search/tag"
	"github.com/kailas-cloud/listingsearch/internal/metrics"
)

// Path identifies the backend that served a request.
type Path string

const (
	// PathIndex is the full-text index.
	PathIndex Path = "index"
	// PathFallback is the transactional store.
	PathFallback Path = "fallback"
)

// Config tunes the orchestrator.
type Config struct {
	// BackendTimeout bounds every backend call.
	BackendTimeout time.Duration
	// HealthTTL is how long a primary readiness probe result is reused.
	HealthTTL time.Duration
	// CacheTTL is the lifetime of cached results. Zero uses the cache default.
	CacheTTL time.Duration
	// SuggestLimit caps the number of suggestions returned.
	SuggestLimit int
	// SuggestMinPrefixLen is the shortest prefix, in runes, that reaches a backend.
	SuggestMinPrefixLen int
}

// Service answers search and autocomplete requests from the index, degrading
// to the transactional store when the index is unhealthy or failing.
type Service struct {
	primary  Backend
	fallback Backend
	cache    Cache
	probe    *healthProbe
	cfg      Config
	logger   *zap.Logger
	group    singleflight.Group
}

// New creates a search service. cache may be nil.
func New(primary Backend, prober Prober, fallback Backend, cache Cache, cfg Config, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.BackendTimeout <= 0 {
		cfg.BackendTimeout = 2 * time.Second
	}
	if cfg.SuggestLimit <= 0 {
		cfg.SuggestLimit = 10
	}
	return &Service{
		primary:  primary,
		fallback: fallback,
		cache:    cache,
		probe:    newHealthProbe(prober, cfg.HealthTTL, cfg.BackendTimeout),
		cfg:      cfg,
		logger:   logger,
	}
}

// Search returns one page of listings matching f.
//
// Identical concurrent requests share a single backend execution. If the
// caller goes away the execution still completes and its result is cached.
func (s *Service) Search(ctx context.Context, f filter.Filters) (result.SearchResult, error) {
	path := s.route(ctx)
	key := cacheKey(path, f)
	if s.cache != nil {
		if res, ok := s.cache.Get(key); ok {
			metrics.SearchRequestsTotal.WithLabelValues(string(path), "cached").Inc()
			return res, nil
		}
	}

	ch := s.group.DoChan(key, func() (any, error) {
		return s.execute(context.WithoutCancel(ctx), path, f)
	})
	select {
	case <-ctx.Done():
		return result.SearchResult{}, ctx.Err()
	case r := <-ch:
		if r.Err != nil {
			return result.SearchResult{}, r.Err
		}
		res := r.Val.(result.SearchResult)
		if r.Shared {
			return res.Clone(), nil
		}
		return res, nil
	}
}

// execute runs f on path, degrading from the index to the fallback on failure.
func (s *Service) execute(ctx context.Context, path Path, f filter.Filters) (result.SearchResult, error) {
	if path == PathIndex {
		res, err := s.searchOn(ctx, PathIndex, f)
		if err == nil {
			return res, nil
		}
		s.logger.Warn("Index search failed, using fallback", zap.Error(err))
		s.probe.markDown()
		metrics.SearchFallbackTotal.WithLabelValues("error").Inc()

		if s.cache != nil {
			if cached, ok := s.cache.Get(cacheKey(PathFallback, f)); ok {
				return cached, nil
			}
		}
	}

	res, err := s.searchOn(ctx, PathFallback, f)
	if err != nil {
		s.logger.Error("Fallback search failed", zap.Error(err))
		metrics.SearchRequestsTotal.WithLabelValues("none", "error").Inc()
		return result.SearchResult{}, domain.ErrSearchUnavailable
	}
	return res, nil
}

func (s *Service) searchOn(ctx context.Context, path Path, f filter.Filters) (result.SearchResult, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.BackendTimeout)
	defer cancel()

	var gen uint64
	if s.cache != nil {
		gen = s.cache.Generation()
	}
	start := time.Now()
	res, err := s.backend(path).Search(ctx, f)
	metrics.SearchDuration.WithLabelValues(string(path)).Observe(time.Since(start).Seconds())
	if err != nil {
		return result.SearchResult{}, err
	}
	metrics.SearchRequestsTotal.WithLabelValues(string(path), "ok").Inc()

	if s.cache != nil {
		s.cache.Set(cacheKey(path, f), res, s.cfg.CacheTTL, gen, tag.ForFilters(f)...)
	}
	return res, nil
}

// Suggest returns up to the configured number of listing titles completing
// prefix within the scope. Prefixes shorter than the minimum yield no results.
func (s *Service) Suggest(ctx context.Context, prefix string, sc listing.Scope) ([]string, error) {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" || utf8.RuneCountInString(prefix) < s.cfg.SuggestMinPrefixLen {
		return []string{}, nil
	}

	path := s.route(ctx)
	if path == PathIndex {
		out, err := s.suggestOn(ctx, PathIndex, prefix, sc)
		if err == nil {
			return out, nil
		}
		s.logger.Warn("Index suggest failed, using fallback", zap.Error(err))
		s.probe.markDown()
		metrics.SearchFallbackTotal.WithLabelValues("error").Inc()
	}

	out, err := s.suggestOn(ctx, PathFallback, prefix, sc)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		s.logger.Error("Fallback suggest failed", zap.Error(err))
		return nil, domain.ErrSearchUnavailable
	}
	return out, nil
}

func (s *Service) suggestOn(ctx context.Context, path Path, prefix string, sc listing.Scope) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.BackendTimeout)
	defer cancel()

	out, err := s.backend(path).Suggest(ctx, prefix, sc, s.cfg.SuggestLimit)
	if err != nil {
		return nil, err
	}
	if out == nil {
		out = []string{}
	}
	return out, nil
}

// IndexAvailable reports the cached readiness of the primary backend.
func (s *Service) IndexAvailable(ctx context.Context) bool {
	return s.probe.healthy(ctx)
}

// route picks the execution path for a request.
func (s *Service) route(ctx context.Context) Path {
	if s.probe.healthy(ctx) {
		return PathIndex
	}
	metrics.SearchFallbackTotal.WithLabelValues("unhealthy").Inc()
	return PathFallback
}

func (s *Service) backend(p Path) Backend {
	if p == PathIndex {
		return s.primary
	}
	return s.fallback
}

// cacheKey derives the result cache key of f on path. Results of different
// paths never share a key.
func cacheKey(path Path, f filter.Filters) string {
	h := xxhash.New()
	_, _ = h.WriteString(string(path))
	_, _ = h.WriteString("\x00")
	_, _ = h.WriteString(f.Canonical())
	return string(path) + ":" + strconv.FormatUint(h.Sum64(), 16)
}

// healthProbe caches the primary readiness for a short TTL so that requests
// do not each pay for a probe. Concurrent callers with a stale state share one
// in-flight probe and never wait past their own context.
type healthProbe struct {
	prober  Prober
	ttl     time.Duration
	timeout time.Duration
	now     func() time.Time

	state  atomic.Pointer[healthState]
	flight singleflight.Group
}

type healthState struct {
	ok        bool
	checkedAt time.Time
}

func newHealthProbe(p Prober, ttl, timeout time.Duration) *healthProbe {
	return &healthProbe{prober: p, ttl: ttl, timeout: timeout, now: time.Now}
}

func (h *healthProbe) healthy(ctx context.Context) bool {
	if h.prober == nil {
		return true
	}
	last := h.state.Load()
	if last != nil && h.now().Sub(last.checkedAt) < h.ttl {
		return last.ok
	}

	ch := h.flight.DoChan("ready", func() (any, error) {
		return h.refresh(ctx), nil
	})
	select {
	case r := <-ch:
		return r.Val.(bool)
	case <-ctx.Done():
		return last != nil && last.ok
	}
}

// refresh runs one readiness check. A failure recorded by markDown while the
// check was running wins over its result.
func (h *healthProbe) refresh(ctx context.Context) bool {
	started := h.now()
	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), h.timeout)
	defer cancel()
	next := &healthState{ok: h.prober.Ready(pctx) == nil, checkedAt: started}

	for {
		cur := h.state.Load()
		if cur != nil && cur.checkedAt.After(started) {
			return cur.ok
		}
		if h.state.CompareAndSwap(cur, next) {
			return next.ok
		}
	}
}

// markDown records a failure observed on a live request until the next probe.
func (h *healthProbe) markDown() {
	h.state.Store(&healthState{ok: false, checkedAt: h.now()})
}
