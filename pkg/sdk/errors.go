package listingsearch

import "github.com/kailas-cloud/listingsearch/internal/domain"

// Sentinel errors re-exported from the domain layer.
// Use errors.Is() to check.
var (
	ErrInvalidQuery        = domain.ErrValidation
	ErrSearchUnavailable   = domain.ErrSearchUnavailable
	ErrIndexNotProvisioned = domain.ErrIndexNotProvisioned
	ErrReindexInProgress   = domain.ErrReindexInProgress
)
