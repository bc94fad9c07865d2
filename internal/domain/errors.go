package domain

import (
	"context"
	"database/sql/driver"
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/lib/pq"

	"github.com/kailas-cloud/listingsearch/internal/db"
)

var (
	// ErrNotFound signals a missing canonical record.
	ErrNotFound = errors.New("not found")
	// ErrValidation signals malformed input rejected before any backend call.
	ErrValidation = errors.New("validation failed")
	// ErrSearchUnavailable is the single error surfaced when no search backend can serve a request.
	ErrSearchUnavailable = errors.New("search temporarily unavailable")
	// ErrIndexNotProvisioned signals that the search index has not been created yet.
	ErrIndexNotProvisioned = errors.New("search index not provisioned")
	// ErrReindexInProgress signals that a full reindex is already running.
	ErrReindexInProgress = errors.New("reindex already in progress")
	// ErrTransient marks timeouts and connectivity failures that are worth retrying.
	ErrTransient = errors.New("transient backend error")
	// ErrMapping marks a document that does not conform to the index schema.
	ErrMapping = errors.New("document mapping error")
)

// TransientError wraps a backend failure that may succeed on retry.
type TransientError struct {
	Backend string
	Err     error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("%s: %s: %v", ErrTransient.Error(), e.Backend, e.Err)
}

// Unwrap exposes both the sentinel and the cause to errors.Is/As.
func (e *TransientError) Unwrap() []error { return []error{ErrTransient, e.Err} }

// NewTransient wraps err as a transient failure of the named backend.
func NewTransient(backend string, err error) error {
	return &TransientError{Backend: backend, Err: err}
}

// MappingError reports a single document that could not be projected into the index.
type MappingError struct {
	ID  string
	Err error
}

func (e *MappingError) Error() string {
	return fmt.Sprintf("%s: listing %s: %v", ErrMapping.Error(), e.ID, e.Err)
}

// Unwrap exposes both the sentinel and the cause to errors.Is/As.
func (e *MappingError) Unwrap() []error { return []error{ErrMapping, e.Err} }

// NewMappingError creates a mapping error for the given listing.
func NewMappingError(id string, err error) error {
	return &MappingError{ID: id, Err: err}
}

// ValidationError carries the offending field of a rejected request.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s: %s", ErrValidation.Error(), e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// NewValidationError creates a validation error for a request field.
func NewValidationError(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

// IsTransient reports whether err is worth retrying or degrading around:
// explicit transient errors, deadlines, network errors, index command errors,
// broken driver connections and Postgres connection-class failures.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrMapping) || errors.Is(err, ErrValidation) {
		return false
	}
	if errors.Is(err, ErrTransient) ||
		errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, driver.ErrBadConn) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var dbErr *db.Error
	if errors.As(err, &dbErr) {
		return true
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		code := string(pqErr.Code)
		return strings.HasPrefix(code, "08") || strings.HasPrefix(code, "57P") || code == "53300"
	}
	return false
}
