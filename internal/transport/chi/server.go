package chi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/oapi-codegen/runtime"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/kailas-cloud/listingsearch/internal/domain"
	"github.com/kailas-cloud/listingsearch/internal/domain/change"
	"github.com/kailas-cloud/listingsearch/internal/domain/listing"
	"github.com/kailas-cloud/listingsearch/internal/domain/search/filter"
	"github.com/kailas-cloud/listingsearch/internal/domain/search/result"
	logpkg "github.com/kailas-cloud/listingsearch/internal/logger"
	healthuc "github.com/kailas-cloud/listingsearch/internal/usecase/health"
	syncuc "github.com/kailas-cloud/listingsearch/internal/usecase/indexsync"
)

const (
	maxReindexIDs      = 1000
	defaultReplayLimit = 100
	maxReplayLimit     = 1000
)

// Searcher answers search and autocomplete requests.
type Searcher interface {
	Search(ctx context.Context, f filter.Filters) (result.SearchResult, error)
	Suggest(ctx context.Context, prefix string, sc listing.Scope) ([]string, error)
}

// Syncer runs the operational index jobs.
type Syncer interface {
	ReindexAll(ctx context.Context) (syncuc.ReindexReport, error)
	Reindexing() bool
	ReindexIDs(ctx context.Context, ids []string) (syncuc.ReindexReport, error)
	VerifyDrift(ctx context.Context, full bool) (change.DriftReport, error)
	ReplayDeadLetters(ctx context.Context, limit int) (syncuc.ReplayReport, error)
}

// HealthChecker reports component health.
type HealthChecker interface {
	Check(ctx context.Context) healthuc.Report
}

// errorHandler tries to handle a domain error. Returns true if handled.
type errorHandler func(w http.ResponseWriter, err error, msg string) bool

// Config tunes request handling.
type Config struct {
	DefaultPageSize int
	MaxPageSize     int
	// AdminAPIKeys guard the admin routes. Empty disables authentication.
	AdminAPIKeys []string
	// HealthTimeout bounds a health check.
	HealthTimeout time.Duration
}

// Server serves the search API.
type Server struct {
	search        Searcher
	sync          Syncer
	health        HealthChecker
	cfg           Config
	logger        *zap.Logger
	errorHandlers []errorHandler

	// jobs is the lifetime of background jobs started by requests.
	jobs context.Context
}

// NewServer creates an HTTP API server. jobs bounds background reindexes
// started through the API and should be cancelled on shutdown.
func NewServer(
	jobs context.Context,
	search Searcher,
	sync Syncer,
	health HealthChecker,
	cfg Config,
	logger *zap.Logger,
) *Server {
	if cfg.DefaultPageSize <= 0 {
		cfg.DefaultPageSize = filter.DefaultPageSize
	}
	if cfg.MaxPageSize <= 0 || cfg.MaxPageSize > filter.MaxPageSize {
		cfg.MaxPageSize = filter.MaxPageSize
	}
	if cfg.HealthTimeout <= 0 {
		cfg.HealthTimeout = 3 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		search: search,
		sync:   sync,
		health: health,
		cfg:    cfg,
		logger: logger,
		jobs:   jobs,
	}
	s.errorHandlers = []errorHandler{
		validationHandler,
		sentinelHandler(domain.ErrNotFound, http.StatusNotFound, ErrorResponseCodeNotFound),
		sentinelHandler(domain.ErrReindexInProgress, http.StatusConflict, ErrorResponseCodeReindexInProgress),
		sentinelHandler(domain.ErrSearchUnavailable,
			http.StatusServiceUnavailable, ErrorResponseCodeSearchUnavailable),
		sentinelHandler(domain.ErrIndexNotProvisioned,
			http.StatusServiceUnavailable, ErrorResponseCodeIndexNotProvisioned),
		sentinelHandler(domain.ErrTransient, http.StatusServiceUnavailable, ErrorResponseCodeBackendUnavailable),
	}
	return s
}

// Register mounts the API routes on r.
func (s *Server) Register(r chi.Router) {
	r.Get("/health", s.HealthCheck)
	r.Get("/metrics", s.Metrics)

	r.Route("/v1", func(r chi.Router) {
		r.Get("/search", s.Search)
		r.Get("/suggest", s.Suggest)

		r.Route("/admin", func(r chi.Router) {
			r.Use(BearerAuthMiddleware(s.cfg.AdminAPIKeys))
			r.Post("/reindex", s.Reindex)
			r.Post("/reindex/ids", s.ReindexIDs)
			r.Get("/drift", s.Drift)
			r.Post("/dead-letters/replay", s.ReplayDeadLetters)
		})
	})
}

// Search handles GET /v1/search.
func (s *Server) Search(w http.ResponseWriter, r *http.Request) {
	var params SearchParams
	if err := bindSearchParams(r.URL.Query(), &params); err != nil {
		writeError(w, http.StatusBadRequest, ErrorResponseCodeBadRequest, err.Error())
		return
	}

	p, err := s.filterParams(params)
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}
	f, err := filter.New(p)
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}

	res, err := s.search.Search(r.Context(), f)
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, searchResultToAPI(&res))
}

// Suggest handles GET /v1/suggest.
func (s *Server) Suggest(w http.ResponseWriter, r *http.Request) {
	var params SuggestParams
	q := r.URL.Query()
	if err := runtime.BindQueryParameter("form", true, false, "prefix", q, &params.Prefix); err != nil {
		writeError(w, http.StatusBadRequest, ErrorResponseCodeBadRequest, "invalid prefix")
		return
	}
	if err := runtime.BindQueryParameter("form", true, false, "region", q, &params.Region); err != nil {
		writeError(w, http.StatusBadRequest, ErrorResponseCodeBadRequest, "invalid region")
		return
	}
	if err := runtime.BindQueryParameter("form", true, false, "kind", q, &params.Kind); err != nil {
		writeError(w, http.StatusBadRequest, ErrorResponseCodeBadRequest, "invalid kind")
		return
	}

	var sc listing.Scope
	if params.Region != nil {
		sc.Region = *params.Region
	}
	if params.Kind != nil && *params.Kind != "" {
		sc.Kind = listing.Kind(*params.Kind)
		if !sc.Kind.IsValid() {
			s.handleDomainError(w, r, domain.NewValidationError("kind", fmt.Sprintf("unknown kind %q", *params.Kind)))
			return
		}
	}

	out, err := s.search.Suggest(r.Context(), params.Prefix, sc)
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, SuggestResponse{Suggestions: out})
}

// Reindex handles POST /v1/admin/reindex. The run happens in the background
// unless wait=true is given.
func (s *Server) Reindex(w http.ResponseWriter, r *http.Request) {
	var wait bool
	if err := runtime.BindQueryParameter("form", true, false, "wait", r.URL.Query(), &wait); err != nil {
		writeError(w, http.StatusBadRequest, ErrorResponseCodeBadRequest, "invalid wait")
		return
	}

	if wait {
		rep, err := s.sync.ReindexAll(r.Context())
		if err != nil {
			s.handleDomainError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, reindexReportToAPI("completed", rep))
		return
	}

	if s.sync.Reindexing() {
		s.handleDomainError(w, r, domain.ErrReindexInProgress)
		return
	}
	logger := logpkg.FromContext(r.Context())
	go func() {
		if _, err := s.sync.ReindexAll(s.jobs); err != nil {
			logger.Error("Background reindex failed", zap.Error(err))
		}
	}()
	writeJSON(w, http.StatusAccepted, ReindexResponse{Status: "started"})
}

// ReindexIDs handles POST /v1/admin/reindex/ids.
func (s *Server) ReindexIDs(w http.ResponseWriter, r *http.Request) {
	var req ReindexIDsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, ErrorResponseCodeBadRequest, "Invalid request body: "+err.Error())
		return
	}
	if len(req.IDs) == 0 {
		writeError(w, http.StatusBadRequest, ErrorResponseCodeValidationFailed, "ids are required")
		return
	}
	if len(req.IDs) > maxReindexIDs {
		writeError(w, http.StatusBadRequest, ErrorResponseCodeValidationFailed,
			fmt.Sprintf("at most %d ids per request", maxReindexIDs))
		return
	}

	rep, err := s.sync.ReindexIDs(r.Context(), req.IDs)
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, reindexReportToAPI("completed", rep))
}

// Drift handles GET /v1/admin/drift.
func (s *Server) Drift(w http.ResponseWriter, r *http.Request) {
	var full bool
	if err := runtime.BindQueryParameter("form", true, false, "full", r.URL.Query(), &full); err != nil {
		writeError(w, http.StatusBadRequest, ErrorResponseCodeBadRequest, "invalid full")
		return
	}

	rep, err := s.sync.VerifyDrift(r.Context(), full)
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, DriftResponse{
		InSync:         rep.InSync(),
		StoreCount:     rep.StoreCount,
		IndexCount:     rep.IndexCount,
		Compared:       rep.Compared,
		MissingInIndex: nonNil(rep.MissingInIndex),
		MissingInStore: nonNil(rep.MissingInStore),
		CheckedAt:      rep.CheckedAt,
	})
}

// ReplayDeadLetters handles POST /v1/admin/dead-letters/replay.
func (s *Server) ReplayDeadLetters(w http.ResponseWriter, r *http.Request) {
	limit := defaultReplayLimit
	if err := runtime.BindQueryParameter("form", true, false, "limit", r.URL.Query(), &limit); err != nil {
		writeError(w, http.StatusBadRequest, ErrorResponseCodeBadRequest, "invalid limit")
		return
	}
	if limit < 1 || limit > maxReplayLimit {
		writeError(w, http.StatusBadRequest, ErrorResponseCodeValidationFailed,
			fmt.Sprintf("limit must be between 1 and %d", maxReplayLimit))
		return
	}

	rep, err := s.sync.ReplayDeadLetters(r.Context(), limit)
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ReplayResponse{Replayed: rep.Replayed, Failed: rep.Failed})
}

// HealthCheck handles GET /health. A degraded service still answers
// searches from the fallback, so only total failure is reported as 503.
func (s *Server) HealthCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.HealthTimeout)
	defer cancel()
	report := s.health.Check(ctx)

	checks := make(map[string]string, len(report.Checks))
	for k, v := range report.Checks {
		checks[k] = string(v)
	}

	httpStatus := http.StatusOK
	if report.Status == healthuc.Unhealthy {
		httpStatus = http.StatusServiceUnavailable
	}

	writeJSON(w, httpStatus, HealthResponse{
		Status:         string(report.Status),
		IndexAvailable: report.IndexAvailable,
		DocumentCount:  report.DocumentCount,
		StoreAvailable: report.StoreAvailable,
		Checks:         checks,
	})
}

// Metrics handles GET /metrics.
func (s *Server) Metrics(w http.ResponseWriter, r *http.Request) {
	promhttp.Handler().ServeHTTP(w, r)
}

// filterParams converts bound query parameters, applying the configured page size limits.
func (s *Server) filterParams(p SearchParams) (filter.Params, error) {
	out := filter.Params{
		Query:    deref(p.Q),
		Kinds:    deref(p.Kind),
		Minerals: deref(p.Mineral),
		Regions:  deref(p.Region),
		Statuses: deref(p.Status),
		PriceMin: p.PriceMin,
		PriceMax: p.PriceMax,
		AreaMin:  p.AreaMin,
		AreaMax:  p.AreaMax,
		Verified: p.Verified,
		Featured: p.Featured,
		Lat:      p.Lat,
		Lon:      p.Lon,
		RadiusKm: p.RadiusKm,
		Sort:     deref(p.Sort),
		Page:     deref(p.Page),
		PageSize: s.cfg.DefaultPageSize,
	}
	out.Direction = deref(p.Direction)
	if p.PageSize != nil {
		if *p.PageSize < 1 || *p.PageSize > s.cfg.MaxPageSize {
			return filter.Params{}, domain.NewValidationError("page_size",
				fmt.Sprintf("must be between 1 and %d", s.cfg.MaxPageSize))
		}
		out.PageSize = *p.PageSize
	}
	return out, nil
}

func bindSearchParams(q url.Values, p *SearchParams) error {
	binds := []struct {
		name string
		dest any
	}{
		{"q", &p.Q},
		{"kind", &p.Kind},
		{"mineral", &p.Mineral},
		{"region", &p.Region},
		{"status", &p.Status},
		{"price_min", &p.PriceMin},
		{"price_max", &p.PriceMax},
		{"area_min", &p.AreaMin},
		{"area_max", &p.AreaMax},
		{"verified", &p.Verified},
		{"featured", &p.Featured},
		{"lat", &p.Lat},
		{"lon", &p.Lon},
		{"radius_km", &p.RadiusKm},
		{"sort", &p.Sort},
		{"direction", &p.Direction},
		{"page", &p.Page},
		{"page_size", &p.PageSize},
	}
	for _, b := range binds {
		if err := runtime.BindQueryParameter("form", true, false, b.name, q, b.dest); err != nil {
			return fmt.Errorf("invalid format for parameter %s", b.name)
		}
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code ErrorResponseCode, message string) {
	writeJSON(w, status, ErrorResponse{
		Code:    code,
		Message: message,
	})
}

// safeDomainMessage returns a sentinel error message for the client without exposing internals.
func safeDomainMessage(err error) string {
	sentinels := []error{
		domain.ErrNotFound,
		domain.ErrReindexInProgress,
		domain.ErrSearchUnavailable,
		domain.ErrIndexNotProvisioned,
		domain.ErrTransient,
	}
	for _, s := range sentinels {
		if errors.Is(err, s) {
			return s.Error()
		}
	}
	return "internal error"
}

// sentinelHandler returns an errorHandler that matches a single sentinel error.
func sentinelHandler(sentinel error, status int, code ErrorResponseCode) errorHandler {
	return func(w http.ResponseWriter, err error, msg string) bool {
		if !errors.Is(err, sentinel) {
			return false
		}
		writeError(w, status, code, msg)
		return true
	}
}

// validationHandler reports the offending field of a rejected request.
func validationHandler(w http.ResponseWriter, err error, _ string) bool {
	var ve *domain.ValidationError
	if !errors.As(err, &ve) {
		return false
	}
	writeError(w, http.StatusBadRequest, ErrorResponseCodeValidationFailed, ve.Field+": "+ve.Reason)
	return true
}

func (s *Server) handleDomainError(w http.ResponseWriter, r *http.Request, err error) {
	logger := logpkg.FromContext(r.Context())
	if errors.Is(err, context.Canceled) {
		logger.Debug("request cancelled", zap.Error(err))
		return
	}
	logger.Warn("domain error", zap.Error(err))
	msg := safeDomainMessage(err)
	for _, h := range s.errorHandlers {
		if h(w, err, msg) {
			return
		}
	}
	s.logger.Error("internal error", zap.Error(err))
	writeError(w, http.StatusInternalServerError, ErrorResponseCodeInternalError, "internal error")
}

func searchResultToAPI(res *result.SearchResult) SearchResponse {
	items := make([]ListingItem, 0, len(res.Hits()))
	for _, h := range res.Hits() {
		items = append(items, hitToAPI(h))
	}
	f := res.Facets()
	return SearchResponse{
		Items:      items,
		Total:      res.Total(),
		Page:       res.Page(),
		PageSize:   res.PageSize(),
		TotalPages: res.TotalPages(),
		Facets: Facets{
			Kind:    bucketsToAPI(f.Kind),
			Mineral: bucketsToAPI(f.Mineral),
			Region:  bucketsToAPI(f.Region),
			Price:   priceBucketsToAPI(f.Price),
		},
	}
}

func hitToAPI(h result.Hit) ListingItem {
	d := h.Document()
	item := ListingItem{
		ID:                d.ID(),
		Kind:              string(d.Kind()),
		Title:             d.Title(),
		Description:       d.Description(),
		Mineral:           d.Mineral(),
		Region:            d.Region(),
		Status:            string(d.Status()),
		Price:             d.Price(),
		Area:              d.Area(),
		Verified:          d.Verified(),
		Featured:          d.Featured(),
		ViewCount:         d.ViewCount(),
		FavoriteCount:     d.FavoriteCount(),
		LicenseNumber:     d.LicenseNumber(),
		LicenseExpiresAt:  d.LicenseExpiresAt(),
		ExplorationStage:  d.ExplorationStage(),
		ExplorationBudget: d.ExplorationBudget(),
		DiscoveredAt:      d.DiscoveredAt(),
		Confidence:        d.Confidence(),
		CreatedAt:         d.CreatedAt(),
		UpdatedAt:         d.UpdatedAt(),
		Score:             h.Score(),
	}
	if loc := d.Location(); loc != nil {
		item.Location = &Location{Lat: loc.Lat, Lon: loc.Lon}
	}
	return item
}

func bucketsToAPI(in []result.Bucket) []FacetBucket {
	out := make([]FacetBucket, len(in))
	for i, b := range in {
		out[i] = FacetBucket{Value: b.Value, Count: b.Count}
	}
	return out
}

func priceBucketsToAPI(in []result.PriceBucket) []PriceFacetBucket {
	out := make([]PriceFacetBucket, len(in))
	for i, b := range in {
		out[i] = PriceFacetBucket{Key: b.Key, From: b.From, To: b.To, Count: b.Count}
	}
	return out
}

func reindexReportToAPI(status string, rep syncuc.ReindexReport) ReindexResponse {
	out := ReindexResponse{
		Status:    status,
		Indexed:   rep.Indexed,
		Skipped:   rep.Skipped,
		Failed:    rep.Failed,
		FailedIDs: rep.FailedIDs,
		Removed:   rep.Removed,
	}
	if !rep.StartedAt.IsZero() {
		t := rep.StartedAt
		out.StartedAt = &t
	}
	if !rep.FinishedAt.IsZero() {
		t := rep.FinishedAt
		out.FinishedAt = &t
	}
	return out
}

func deref[T any](p *T) T {
	var zero T
	if p == nil {
		return zero
	}
	return *p
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
