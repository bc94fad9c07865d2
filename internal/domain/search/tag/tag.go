// Package tag derives result-cache invalidation tags.
//
// A cached result is tagged with the slices of listings it depends on; a
// confirmed index write invalidates the tags of the slices it touched.
package tag

import (
	"github.com/kailas-cloud/listingsearch/internal/domain/listing"
	"github.com/kailas-cloud/listingsearch/internal/domain/search/filter"
)

// All is carried by results whose filters constrain neither region nor kind.
const All = "all"

// ForFilters returns the tags of a result for f. A result depends on listings
// of the filtered regions, else of the filtered kinds, else on all listings.
func ForFilters(f filter.Filters) []string {
	if regions := f.Regions(); len(regions) > 0 {
		out := make([]string, len(regions))
		for i, r := range regions {
			out[i] = Region(r)
		}
		return out
	}
	if kinds := f.Kinds(); len(kinds) > 0 {
		out := make([]string, len(kinds))
		for i, k := range kinds {
			out[i] = Kind(k)
		}
		return out
	}
	return []string{All}
}

// ForScopes returns the tags to invalidate after listings in the given scopes
// changed. Pass both the old and the new scope of a moved listing.
func ForScopes(scopes ...listing.Scope) []string {
	seen := map[string]bool{All: true}
	tags := []string{All}
	add := func(t string) {
		if !seen[t] {
			seen[t] = true
			tags = append(tags, t)
		}
	}
	for _, s := range scopes {
		if s.Region != "" {
			add(Region(s.Region))
		}
		if s.Kind != "" {
			add(Kind(s.Kind))
		}
	}
	return tags
}

// Region tags results filtered by region.
func Region(region string) string { return "region:" + region }

// Kind tags results filtered by kind.
func Kind(kind listing.Kind) string { return "kind:" + string(kind) }
