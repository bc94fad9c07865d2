package index

import (
	"sort"

	"github.com/kailas-cloud/listingsearch/internal/db"
	"github.com/kailas-cloud/listingsearch/internal/domain/document"
	"github.com/kailas-cloud/listingsearch/internal/text"
)

// Text field weights. Titles score higher than descriptions; the
// concatenated blob only backs up the per-language fields.
const (
	titleWeight       = 2.0
	descriptionWeight = 1.0
	searchTextWeight  = 0.5
)

// buildSchema creates the listing index definition. Title and description are
// indexed once per analyzer, already stemmed by the writer, so the engine must not stem them again.
func buildSchema(name, prefix string, analyzers text.Analyzers) (*db.IndexDefinition, error) {
	b := db.NewIndex(name).Prefix(prefix).NoStopwords()

	for _, f := range []string{
		document.FieldID, document.FieldKind, document.FieldRegion, document.FieldMineral,
		document.FieldStatus, document.FieldLicenseNumber, document.FieldVerified, document.FieldFeatured,
	} {
		b.TagWithOpts(f, document.ValueSeparator, true, false)
	}
	b.TagWithOpts(document.FieldTitleExact, document.TitleSeparator, false, true)
	b.TagWithOpts(document.FieldKeywords, document.KeywordSeparator, false, false)

	for _, f := range []string{
		document.FieldPrice, document.FieldArea, document.FieldViewCount, document.FieldFavoriteCount,
		document.FieldCreatedAt, document.FieldUpdatedAt, document.FieldBoostScore,
	} {
		b.NumericSortable(f)
	}
	b.Geo(document.FieldLocation)

	for _, a := range analyzers {
		b.TextWithOpts(document.TitleField(a), titleWeight, true)
		b.TextWithOpts(document.DescriptionField(a), descriptionWeight, true)
	}
	b.TextWithOpts(document.FieldSearchText, searchTextWeight, true)

	return b.Build()
}

// schemaDiff returns the expected attributes missing from actual and the
// actual attributes the schema does not define, both sorted.
func schemaDiff(expected, actual []string) (missing, unexpected []string) {
	have := make(map[string]bool, len(actual))
	for _, a := range actual {
		have[a] = true
	}
	want := make(map[string]bool, len(expected))
	for _, e := range expected {
		want[e] = true
		if !have[e] {
			missing = append(missing, e)
		}
	}
	for _, a := range actual {
		if !want[a] {
			unexpected = append(unexpected, a)
		}
	}
	sort.Strings(missing)
	sort.Strings(unexpected)
	return missing, unexpected
}
