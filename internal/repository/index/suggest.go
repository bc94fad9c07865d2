package index

import (
	"context"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/kailas-cloud/listingsearch/internal/db"
	"github.com/kailas-cloud/listingsearch/internal/domain/document"
	"github.com/kailas-cloud/listingsearch/internal/domain/listing"
)

const (
	suggestionPrefix = "sug:listing:"
	// Prefixes at least this long also match with edit distance 1.
	fuzzyMinPrefixLen = 4
	// coverageScanLimit bounds the same-title lookup when pruning suggestions.
	coverageScanLimit = 1000
)

// SuggestionKey returns the dictionary holding the titles of a scope.
func SuggestionKey(c listing.Scope) string {
	var b strings.Builder
	b.WriteString(suggestionPrefix)
	switch {
	case c.Region != "" && c.Kind != "":
		b.WriteString("region:" + c.Region + ":kind:" + string(c.Kind))
	case c.Region != "":
		b.WriteString("region:" + c.Region)
	case c.Kind != "":
		b.WriteString("kind:" + string(c.Kind))
	default:
		b.WriteString("all")
	}
	return b.String()
}

// Suggest returns up to limit distinct titles completing prefix within the context.
func (r *Repo) Suggest(ctx context.Context, prefix string, sc listing.Scope, limit int) ([]string, error) {
	prefix = strings.TrimSpace(prefix)
	fuzzy := utf8.RuneCountInString(prefix) >= fuzzyMinPrefixLen
	// Over-fetch: entries differing only in case collapse below.
	raw, err := r.store.SugGet(ctx, SuggestionKey(sc), prefix, 2*limit, fuzzy)
	if err != nil {
		return nil, mapErr(err)
	}
	return dedupeTitles(raw, limit), nil
}

func dedupeTitles(titles []string, limit int) []string {
	seen := make(map[string]bool, len(titles))
	out := make([]string, 0, min(len(titles), limit))
	for _, t := range titles {
		key := document.NormalizeTitle(t)
		if key == "" || seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, t)
		if len(out) == limit {
			break
		}
	}
	return out
}

// suggestionOwner is the part of a document that determines its dictionary entries.
type suggestionOwner struct {
	id     string
	title  string
	region string
	kind   listing.Kind
	score  float64
}

func ownerOf(d *document.Document) suggestionOwner {
	return suggestionOwner{id: d.ID(), title: d.Title(), region: d.Region(), kind: d.Kind(), score: d.BoostScore()}
}

// ownerFromHash reads the owner of a stored hash. An empty hash means the document did not exist.
func ownerFromHash(fields map[string]string) (suggestionOwner, bool) {
	if len(fields) == 0 || fields[document.FieldTitle] == "" {
		return suggestionOwner{}, false
	}
	o := suggestionOwner{
		id:     fields[document.FieldID],
		title:  fields[document.FieldTitle],
		region: fields[document.FieldRegion],
		kind:   listing.Kind(fields[document.FieldKind]),
	}
	if s, err := strconv.ParseFloat(fields[document.FieldBoostScore], 64); err == nil {
		o.score = s
	}
	return o, true
}

// sameEntries reports whether both owners occupy the same dictionary entries.
func (o suggestionOwner) sameEntries(other suggestionOwner) bool {
	return o.title == other.title && o.region == other.region && o.kind == other.kind
}

// suggestions lists the dictionary entries of the owner: the global one plus
// one per context dimension and their combination.
func (o suggestionOwner) suggestions() []db.Suggestion {
	contexts := []listing.Scope{{}}
	if o.region != "" {
		contexts = append(contexts, listing.Scope{Region: o.region})
	}
	if o.kind != "" {
		contexts = append(contexts, listing.Scope{Kind: o.kind})
	}
	if o.region != "" && o.kind != "" {
		contexts = append(contexts, listing.Scope{Region: o.region, Kind: o.kind})
	}
	out := make([]db.Suggestion, len(contexts))
	for i, c := range contexts {
		out[i] = db.Suggestion{Key: SuggestionKey(c), Text: o.title, Score: o.score}
	}
	return out
}
