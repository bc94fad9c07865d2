package filter

import (
	"fmt"
	"strings"

	"github.com/kailas-cloud/listingsearch/internal/domain"
)

// SortField is a sortable attribute of a listing.
type SortField string

// Sort fields. Relevance is only meaningful with a text query; Distance requires a geo filter.
const (
	SortRelevance     SortField = "relevance"
	SortCreatedAt     SortField = "created_at"
	SortUpdatedAt     SortField = "updated_at"
	SortPrice         SortField = "price"
	SortArea          SortField = "area"
	SortViewCount     SortField = "view_count"
	SortFavoriteCount SortField = "favorite_count"
	SortDistance      SortField = "distance"

	// SortID is only used as the final tiebreaker.
	SortID SortField = "id"
)

// IsValid reports whether f is a caller-selectable sort field.
func (f SortField) IsValid() bool {
	switch f {
	case SortRelevance, SortCreatedAt, SortUpdatedAt, SortPrice, SortArea,
		SortViewCount, SortFavoriteCount, SortDistance:
		return true
	}
	return false
}

// SortKey is one ordering criterion.
type SortKey struct {
	Field SortField
	Desc  bool
}

// Sort is the resolved primary ordering of a search.
type Sort struct {
	field SortField
	desc  bool
}

// Field returns the primary sort field.
func (s Sort) Field() SortField { return s.field }

// Desc reports descending order of the primary field.
func (s Sort) Desc() bool { return s.desc }

// Keys expands the sort into a total order. Relevance breaks ties on recency
// and then id; every other field breaks ties on id.
func (s Sort) Keys() []SortKey {
	keys := []SortKey{{Field: s.field, Desc: s.desc}}
	if s.field == SortRelevance {
		keys = append(keys, SortKey{Field: SortCreatedAt, Desc: true})
	}
	return append(keys, SortKey{Field: SortID})
}

func (s Sort) String() string {
	dir := "asc"
	if s.desc {
		dir = "desc"
	}
	return string(s.field) + ":" + dir
}

func resolveSort(field, direction string, hasQuery, hasGeo bool) (Sort, error) {
	f := SortField(strings.ToLower(strings.TrimSpace(field)))
	if f == "" {
		f = SortRelevance
	}
	if !f.IsValid() {
		return Sort{}, domain.NewValidationError("sort", fmt.Sprintf("unknown sort field %q", field))
	}
	if f == SortDistance && !hasGeo {
		return Sort{}, domain.NewValidationError("sort", "distance sort requires a geo filter")
	}
	if f == SortRelevance && !hasQuery {
		// Nothing to score without a query: newest first.
		return Sort{field: SortCreatedAt, desc: true}, nil
	}

	desc := f != SortDistance
	switch strings.ToLower(strings.TrimSpace(direction)) {
	case "":
	case "asc":
		desc = false
	case "desc":
		desc = true
	default:
		return Sort{}, domain.NewValidationError("direction", fmt.Sprintf("must be asc or desc, got %q", direction))
	}
	if f == SortRelevance {
		desc = true
	}
	return Sort{field: f, desc: desc}, nil
}
