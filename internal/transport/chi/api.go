package chi

import "time"

// ErrorResponseCode is the machine-readable error code of an ErrorResponse.
type ErrorResponseCode string

// Error codes.
const (
	ErrorResponseCodeBadRequest          ErrorResponseCode = "bad_request"
	ErrorResponseCodeValidationFailed    ErrorResponseCode = "validation_failed"
	ErrorResponseCodeUnauthorized        ErrorResponseCode = "unauthorized"
	ErrorResponseCodeNotFound            ErrorResponseCode = "not_found"
	ErrorResponseCodeReindexInProgress   ErrorResponseCode = "reindex_in_progress"
	ErrorResponseCodeSearchUnavailable   ErrorResponseCode = "search_unavailable"
	ErrorResponseCodeIndexNotProvisioned ErrorResponseCode = "index_not_provisioned"
	ErrorResponseCodeBackendUnavailable  ErrorResponseCode = "backend_unavailable"
	ErrorResponseCodeInternalError       ErrorResponseCode = "internal_error"
)

// ErrorResponse is the body of every error reply.
type ErrorResponse struct {
	Code    ErrorResponseCode `json:"code"`
	Message string            `json:"message"`
}

// SearchParams are the query parameters of GET /v1/search.
type SearchParams struct {
	Q         *string   `form:"q"`
	Kind      *[]string `form:"kind"`
	Mineral   *[]string `form:"mineral"`
	Region    *[]string `form:"region"`
	Status    *[]string `form:"status"`
	PriceMin  *float64  `form:"price_min"`
	PriceMax  *float64  `form:"price_max"`
	AreaMin   *float64  `form:"area_min"`
	AreaMax   *float64  `form:"area_max"`
	Verified  *bool     `form:"verified"`
	Featured  *bool     `form:"featured"`
	Lat       *float64  `form:"lat"`
	Lon       *float64  `form:"lon"`
	RadiusKm  *float64  `form:"radius_km"`
	Sort      *string   `form:"sort"`
	Direction *string   `form:"direction"`
	Page      *int      `form:"page"`
	PageSize  *int      `form:"page_size"`
}

// SuggestParams are the query parameters of GET /v1/suggest.
type SuggestParams struct {
	Prefix string  `form:"prefix"`
	Region *string `form:"region"`
	Kind   *string `form:"kind"`
}

// Location is a WGS84 coordinate pair.
type Location struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// ListingItem is one search hit.
type ListingItem struct {
	ID                string     `json:"id"`
	Kind              string     `json:"kind"`
	Title             string     `json:"title"`
	Description       string     `json:"description,omitempty"`
	Mineral           string     `json:"mineral,omitempty"`
	Region            string     `json:"region,omitempty"`
	Status            string     `json:"status"`
	Price             *float64   `json:"price,omitempty"`
	Area              *float64   `json:"area,omitempty"`
	Location          *Location  `json:"location,omitempty"`
	Verified          bool       `json:"verified"`
	Featured          bool       `json:"featured"`
	ViewCount         int64      `json:"view_count"`
	FavoriteCount     int64      `json:"favorite_count"`
	LicenseNumber     string     `json:"license_number,omitempty"`
	LicenseExpiresAt  *time.Time `json:"license_expires_at,omitempty"`
	ExplorationStage  string     `json:"exploration_stage,omitempty"`
	ExplorationBudget *float64   `json:"exploration_budget,omitempty"`
	DiscoveredAt      *time.Time `json:"discovered_at,omitempty"`
	Confidence        string     `json:"discovery_confidence,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
	Score             float64    `json:"score"`
}

// FacetBucket is one facet value and its count.
type FacetBucket struct {
	Value string `json:"value"`
	Count int64  `json:"count"`
}

// PriceFacetBucket is one price range and its count.
type PriceFacetBucket struct {
	Key   string   `json:"key"`
	From  *float64 `json:"from,omitempty"`
	To    *float64 `json:"to,omitempty"`
	Count int64    `json:"count"`
}

// Facets groups the facet counts of a search.
type Facets struct {
	Kind    []FacetBucket      `json:"kind"`
	Mineral []FacetBucket      `json:"mineral"`
	Region  []FacetBucket      `json:"region"`
	Price   []PriceFacetBucket `json:"price"`
}

// SearchResponse is the body of GET /v1/search.
type SearchResponse struct {
	Items      []ListingItem `json:"items"`
	Total      int64         `json:"total"`
	Page       int           `json:"page"`
	PageSize   int           `json:"page_size"`
	TotalPages int           `json:"total_pages"`
	Facets     Facets        `json:"facets"`
}

// SuggestResponse is the body of GET /v1/suggest.
type SuggestResponse struct {
	Suggestions []string `json:"suggestions"`
}

// ReindexIDsRequest is the body of POST /v1/admin/reindex/ids.
type ReindexIDsRequest struct {
	IDs []string `json:"ids"`
}

// ReindexResponse reports a reindex run.
type ReindexResponse struct {
	Status     string     `json:"status"`
	Indexed    int        `json:"indexed"`
	Skipped    int        `json:"skipped"`
	Failed     int        `json:"failed"`
	FailedIDs  []string   `json:"failed_ids,omitempty"`
	Removed    int        `json:"removed"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// DriftResponse is the body of GET /v1/admin/drift.
type DriftResponse struct {
	InSync         bool      `json:"in_sync"`
	StoreCount     int64     `json:"store_count"`
	IndexCount     int64     `json:"index_count"`
	Compared       bool      `json:"compared"`
	MissingInIndex []string  `json:"missing_in_index"`
	MissingInStore []string  `json:"missing_in_store"`
	CheckedAt      time.Time `json:"checked_at"`
}

// ReplayResponse is the body of POST /v1/admin/dead-letters/replay.
type ReplayResponse struct {
	Replayed int `json:"replayed"`
	Failed   int `json:"failed"`
}

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status         string            `json:"status"`
	IndexAvailable bool              `json:"index_available"`
	DocumentCount  int64             `json:"document_count"`
	StoreAvailable bool              `json:"store_available"`
	Checks         map[string]string `json:"checks"`
}
