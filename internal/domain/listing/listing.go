// Package listing models the canonical mining-listing record owned by the transactional store.
package listing

import (
	"fmt"
	"time"

	"github.com/kailas-cloud/listingsearch/internal/domain/geo"
)

// Kind is the license/occurrence variant of a listing.
type Kind string

const (
	// KindMiningLicense is a granted extraction license.
	KindMiningLicense Kind = "mining_license"
	// KindExplorationLicense is a granted exploration license.
	KindExplorationLicense Kind = "exploration_license"
	// KindOccurrence is an unlicensed mineral occurrence.
	KindOccurrence Kind = "mineral_occurrence"
)

// Kinds lists every supported kind in canonical order.
func Kinds() []Kind {
	return []Kind{KindMiningLicense, KindExplorationLicense, KindOccurrence}
}

// IsValid reports whether k is a known kind.
func (k Kind) IsValid() bool {
	switch k {
	case KindMiningLicense, KindExplorationLicense, KindOccurrence:
		return true
	}
	return false
}

// Status is the lifecycle state of a listing.
type Status string

const (
	StatusActive  Status = "active"
	StatusPending Status = "pending"
	StatusSold    Status = "sold"
	StatusDraft   Status = "draft"
)

// IsValid reports whether s is a known status.
func (s Status) IsValid() bool {
	switch s {
	case StatusActive, StatusPending, StatusSold, StatusDraft:
		return true
	}
	return false
}

// IsSearchable reports whether listings in this status belong in search results.
// Sold and draft listings never appear.
func (s Status) IsSearchable() bool {
	return s == StatusActive || s == StatusPending
}

// SearchableStatuses lists the statuses that are present in the index.
func SearchableStatuses() []Status {
	return []Status{StatusActive, StatusPending}
}

// Scope is a region/kind slice of the listings. Empty fields are unconstrained.
type Scope struct {
	Region string
	Kind   Kind
}

// LicenseDetails holds attributes specific to mining licenses.
type LicenseDetails struct {
	Number    string
	ExpiresAt *time.Time
}

// ExplorationDetails holds attributes specific to exploration licenses.
type ExplorationDetails struct {
	Stage  string
	Budget *float64
}

// OccurrenceDetails holds attributes specific to mineral occurrences.
type OccurrenceDetails struct {
	DiscoveredAt *time.Time
	Confidence   string
}

// Listing is the canonical record. It is read-only for the search subsystem.
type Listing struct {
	ID            string
	Kind          Kind
	Title         string
	Description   string
	Mineral       string
	Region        string
	Price         *float64
	Area          *float64
	Latitude      *float64
	Longitude     *float64
	Status        Status
	Verified      bool
	Featured      bool
	ViewCount     int64
	FavoriteCount int64

	License     *LicenseDetails
	Exploration *ExplorationDetails
	Occurrence  *OccurrenceDetails

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Validate checks the invariants the index relies on.
func (l *Listing) Validate() error {
	if l.ID == "" {
		return fmt.Errorf("listing id is required")
	}
	if !l.Kind.IsValid() {
		return fmt.Errorf("listing %s: unknown kind %q", l.ID, l.Kind)
	}
	if !l.Status.IsValid() {
		return fmt.Errorf("listing %s: unknown status %q", l.ID, l.Status)
	}
	if l.Title == "" {
		return fmt.Errorf("listing %s: title is required", l.ID)
	}
	if l.Latitude != nil && (*l.Latitude < -geo.MaxLatitude || *l.Latitude > geo.MaxLatitude) {
		return fmt.Errorf("listing %s: latitude %f out of range", l.ID, *l.Latitude)
	}
	if l.Longitude != nil && (*l.Longitude < -180 || *l.Longitude > 180) {
		return fmt.Errorf("listing %s: longitude %f out of range", l.ID, *l.Longitude)
	}
	return nil
}

// IsSearchable reports whether the listing should be present in the index.
func (l *Listing) IsSearchable() bool {
	return l.Status.IsSearchable()
}

// Scope returns the region/kind slice the listing belongs to.
func (l *Listing) Scope() Scope {
	return Scope{Region: l.Region, Kind: l.Kind}
}

// LicenseNumber returns the license number or an empty string.
func (l *Listing) LicenseNumber() string {
	if l.License == nil {
		return ""
	}
	return l.License.Number
}
