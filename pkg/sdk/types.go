package listingsearch

import "time"

// Kind is the listing kind.
type Kind string

// Kind constants.
const (
	KindMiningLicense      Kind = "mining_license"
	KindExplorationLicense Kind = "exploration_license"
	KindOccurrence         Kind = "mineral_occurrence"
)

// SortField selects the result ordering.
type SortField string

// SortField constants. The zero value picks relevance for text queries,
// distance for geo queries and newest first otherwise.
const (
	SortRelevance     SortField = "relevance"
	SortCreatedAt     SortField = "created_at"
	SortUpdatedAt     SortField = "updated_at"
	SortPrice         SortField = "price"
	SortArea          SortField = "area"
	SortViewCount     SortField = "view_count"
	SortFavoriteCount SortField = "favorite_count"
	SortDistance      SortField = "distance"
)

// Query is a listing search request. Nil pointers and empty slices do not filter.
type Query struct {
	Text     string
	Kinds    []Kind
	Minerals []string
	Regions  []string
	// Statuses defaults to the searchable statuses (active, pending).
	Statuses []string
	PriceMin *float64
	PriceMax *float64
	AreaMin  *float64
	AreaMax  *float64
	Verified *bool
	Featured *bool
	Near     *GeoRadius

	Sort SortField
	// Ascending flips the default direction of Sort.
	Ascending *bool

	Page     int // 1-based, default 1
	PageSize int // default 20, at most 100
}

// GeoRadius restricts results to a circle around a point.
type GeoRadius struct {
	Lat      float64
	Lon      float64
	RadiusKm float64
}

// Listing is a single search hit.
type Listing struct {
	ID            string
	Kind          Kind
	Title         string
	Description   string
	Mineral       string
	Region        string
	Status        string
	Price         *float64
	Area          *float64
	Lat           *float64
	Lon           *float64
	Verified      bool
	Featured      bool
	ViewCount     int64
	FavoriteCount int64
	LicenseNumber string
	CreatedAt     time.Time
	UpdatedAt     time.Time
	Score         float64
}

// FacetCount is one facet value with its count.
type FacetCount struct {
	Value string
	Count int64
}

// PriceRange is one price bucket. From is inclusive, To exclusive; nil is open.
type PriceRange struct {
	From  *float64
	To    *float64
	Count int64
}

// Facets are counts over all matches, not only the returned page.
type Facets struct {
	Kinds    []FacetCount
	Minerals []FacetCount
	Regions  []FacetCount
	Prices   []PriceRange
}

// Page is one page of search results.
type Page struct {
	Listings   []Listing
	Total      int64
	Page       int
	PageSize   int
	TotalPages int
	Facets     Facets
}

// ReindexReport summarizes a reindex run.
type ReindexReport struct {
	Indexed   int
	Skipped   int
	Failed    int
	FailedIDs []string
	Removed   int
	Duration  time.Duration
}

// DriftReport compares Postgres with the index.
type DriftReport struct {
	InSync         bool
	StoreCount     int64
	IndexCount     int64
	MissingInIndex []string
	MissingInStore []string
}
