package health

import (
	"context"

	"go.uber.org/zap"
)

// Status represents the aggregated health status.
type Status string

const (
	// Healthy indicates all components are operational.
	Healthy Status = "ok"
	// Degraded indicates partial failure; searches are served from the fallback.
	Degraded Status = "degraded"
	// Unhealthy indicates total failure.
	Unhealthy Status = "error"
)

// CheckResult represents an individual component health check outcome.
type CheckResult string

const (
	// CheckOK indicates a passing health check.
	CheckOK CheckResult = "ok"
	// CheckError indicates a failing health check.
	CheckError CheckResult = "error"
)

// Report aggregates health check results.
type Report struct {
	Status         Status
	IndexAvailable bool
	// DocumentCount is the number of indexed listings, zero when the index is unavailable.
	DocumentCount  int64
	StoreAvailable bool
	Checks         map[string]CheckResult
}

// Service coordinates health checks.
type Service struct {
	index  IndexChecker
	store  StorePinger
	logger *zap.Logger
}

// New creates a Service.
func New(index IndexChecker, store StorePinger, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{index: index, store: store, logger: logger}
}

// Check runs health checks against all components.
func (s *Service) Check(ctx context.Context) Report {
	r := Report{Checks: make(map[string]CheckResult)}

	if err := s.index.Ready(ctx); err != nil {
		s.logger.Warn("Index health check failed", zap.Error(err))
		r.Checks["index"] = CheckError
	} else if n, err := s.index.Count(ctx); err != nil {
		s.logger.Warn("Index document count failed", zap.Error(err))
		r.Checks["index"] = CheckError
	} else {
		r.Checks["index"] = CheckOK
		r.IndexAvailable = true
		r.DocumentCount = n
	}

	if err := s.store.Ping(ctx); err != nil {
		s.logger.Warn("Store health check failed", zap.Error(err))
		r.Checks["store"] = CheckError
	} else {
		r.Checks["store"] = CheckOK
		r.StoreAvailable = true
	}

	switch {
	case r.IndexAvailable && r.StoreAvailable:
		r.Status = Healthy
	case r.IndexAvailable || r.StoreAvailable:
		r.Status = Degraded
	default:
		r.Status = Unhealthy
	}
	return r
}
