// Package document holds the index-side projection of a listing and the
// transformation that derives it from the canonical record.
package document

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/kailas-cloud/listingsearch/internal/domain"
	"github.com/kailas-cloud/listingsearch/internal/domain/geo"
	"github.com/kailas-cloud/listingsearch/internal/domain/listing"
	"github.com/kailas-cloud/listingsearch/internal/text"
)

// Hash field names of an indexed listing.
const (
	FieldID            = "id"
	FieldKind          = "kind"
	FieldTitle         = "title"
	FieldTitleExact    = "title_exact"
	FieldDescription   = "description"
	FieldMineral       = "mineral"
	FieldRegion        = "region"
	FieldStatus        = "status"
	FieldLicenseNumber = "license_number"
	FieldVerified      = "verified"
	FieldFeatured      = "featured"
	FieldPrice         = "price"
	FieldArea          = "area"
	FieldLocation      = "location"
	FieldViewCount     = "view_count"
	FieldFavoriteCount = "favorite_count"
	FieldCreatedAt     = "created_at"
	FieldUpdatedAt     = "updated_at"
	FieldBoostScore    = "boost_score"
	FieldKeywords      = "keywords"
	FieldSearchText    = "search_text"

	FieldLicenseExpiresAt  = "license_expires_at"
	FieldExplorationStage  = "exploration_stage"
	FieldExplorationBudget = "exploration_budget"
	FieldDiscoveredAt      = "discovered_at"
	FieldConfidence        = "confidence"
)

// Boost signal coefficients.
const (
	BaseBoost       = 1.0
	VerifiedBoost   = 0.3
	FeaturedBoost   = 0.5
	PopularityBoost = 0.2
	RecencyBoost    = 0.1
	MaxBoost        = 2.0

	viewsPerBoostUnit = 1000.0
	recencyWindow     = 30 * 24 * time.Hour
)

// KeywordSeparator joins keywords in the hash representation.
const KeywordSeparator = ","

// ValueSeparator is the tag separator of the whole-value filter fields (kind,
// region, mineral, status). A comma is common in region names, a pipe is not.
const ValueSeparator = "|"

// TitleSeparator is the tag separator of the exact-title field. Titles never contain it.
const TitleSeparator = "|"

var kindKeywords = map[listing.Kind][]string{
	listing.KindMiningLicense:      {"mining", "license", "extraction"},
	listing.KindExplorationLicense: {"exploration", "license", "prospecting"},
	listing.KindOccurrence:         {"occurrence", "deposit", "discovery"},
}

// Document is the index document (immutable value object).
type Document struct {
	id            string
	kind          listing.Kind
	title         string
	description   string
	mineral       string
	region        string
	status        listing.Status
	licenseNumber string
	verified      bool
	featured      bool
	price         *float64
	area          *float64
	location      *geo.Point
	viewCount     int64
	favoriteCount int64
	createdAt     time.Time
	updatedAt     time.Time

	licenseExpiresAt  *time.Time
	explorationStage  string
	explorationBudget *float64
	discoveredAt      *time.Time
	confidence        string

	searchText string
	boostScore float64
	keywords   []string
}

// ToDocument projects a canonical record into an index document. now drives the
// recency signal, so the same record and clock always yield the same document.
// Records that violate the listing invariants are rejected with a mapping error.
func ToDocument(l *listing.Listing, now time.Time) (Document, error) {
	if l == nil {
		return Document{}, domain.NewMappingError("", fmt.Errorf("nil listing"))
	}
	if err := l.Validate(); err != nil {
		return Document{}, domain.NewMappingError(l.ID, err)
	}

	d := Document{
		id:            l.ID,
		kind:          l.Kind,
		title:         strings.TrimSpace(l.Title),
		description:   strings.TrimSpace(l.Description),
		mineral:       strings.TrimSpace(l.Mineral),
		region:        strings.TrimSpace(l.Region),
		status:        l.Status,
		licenseNumber: strings.TrimSpace(l.LicenseNumber()),
		verified:      l.Verified,
		featured:      l.Featured,
		price:         cloneFloat(l.Price),
		area:          cloneFloat(l.Area),
		viewCount:     l.ViewCount,
		favoriteCount: l.FavoriteCount,
		createdAt:     l.CreatedAt.UTC(),
		updatedAt:     l.UpdatedAt.UTC(),
	}
	if l.Latitude != nil && l.Longitude != nil {
		d.location = &geo.Point{Lat: *l.Latitude, Lon: *l.Longitude}
	}
	if l.License != nil {
		d.licenseExpiresAt = cloneTime(l.License.ExpiresAt)
	}
	if l.Exploration != nil {
		d.explorationStage = l.Exploration.Stage
		d.explorationBudget = cloneFloat(l.Exploration.Budget)
	}
	if l.Occurrence != nil {
		d.discoveredAt = cloneTime(l.Occurrence.DiscoveredAt)
		d.confidence = l.Occurrence.Confidence
	}

	d.searchText = searchBlob(d.title, d.description, d.region, d.mineral, string(d.kind), d.licenseNumber)
	d.boostScore = Boost(l, now)
	d.keywords = Keywords(l.Kind, d.mineral, d.region)
	return d, nil
}

// Boost computes the ranking multiplier of a listing in [BaseBoost, MaxBoost].
func Boost(l *listing.Listing, now time.Time) float64 {
	score := BaseBoost
	if l.Verified {
		score += VerifiedBoost
	}
	if l.Featured {
		score += FeaturedBoost
	}
	if l.ViewCount > 0 {
		score += min(float64(l.ViewCount)/viewsPerBoostUnit, PopularityBoost)
	}
	if !l.CreatedAt.IsZero() && now.Sub(l.CreatedAt) <= recencyWindow {
		score += RecencyBoost
	}
	return min(score, MaxBoost)
}

// Keywords returns the sorted lower-cased keyword set for a kind, mineral and region.
func Keywords(kind listing.Kind, mineral, region string) []string {
	set := make(map[string]struct{}, 5)
	for _, k := range kindKeywords[kind] {
		set[k] = struct{}{}
	}
	for _, v := range []string{mineral, region} {
		if v = normalizeKeyword(v); v != "" {
			set[v] = struct{}{}
		}
	}
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func normalizeKeyword(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	return strings.ReplaceAll(s, KeywordSeparator, " ")
}

func searchBlob(parts ...string) string {
	nonEmpty := make([]string, 0, len(parts))
	for _, p := range parts {
		if p != "" {
			nonEmpty = append(nonEmpty, p)
		}
	}
	return strings.Join(nonEmpty, " ")
}

// NormalizeTitle is the exact-title form used for faceting and suggestion deduplication.
func NormalizeTitle(title string) string {
	t := strings.Join(strings.Fields(strings.ToLower(title)), " ")
	return strings.ReplaceAll(t, TitleSeparator, " ")
}

// ID returns the listing identifier.
func (d *Document) ID() string { return d.id }

// Kind returns the listing kind.
func (d *Document) Kind() listing.Kind { return d.kind }

// Title returns the display title.
func (d *Document) Title() string { return d.title }

// Description returns the free-text description.
func (d *Document) Description() string { return d.description }

// Mineral returns the mineral name.
func (d *Document) Mineral() string { return d.mineral }

// Region returns the region name.
func (d *Document) Region() string { return d.region }

// Status returns the listing status.
func (d *Document) Status() listing.Status { return d.status }

// LicenseNumber returns the license number, empty for occurrences.
func (d *Document) LicenseNumber() string { return d.licenseNumber }

// Verified reports the verification flag.
func (d *Document) Verified() bool { return d.verified }

// Featured reports the featured flag.
func (d *Document) Featured() bool { return d.featured }

// Price returns the asking price, nil when not set.
func (d *Document) Price() *float64 { return d.price }

// Area returns the area, nil when not set.
func (d *Document) Area() *float64 { return d.area }

// Location returns the geo point, nil when either coordinate is absent.
func (d *Document) Location() *geo.Point { return d.location }

// ViewCount returns the view counter.
func (d *Document) ViewCount() int64 { return d.viewCount }

// FavoriteCount returns the favorite counter.
func (d *Document) FavoriteCount() int64 { return d.favoriteCount }

// CreatedAt returns the creation time.
func (d *Document) CreatedAt() time.Time { return d.createdAt }

// UpdatedAt returns the last update time.
func (d *Document) UpdatedAt() time.Time { return d.updatedAt }

// LicenseExpiresAt returns the mining license expiry, if any.
func (d *Document) LicenseExpiresAt() *time.Time { return d.licenseExpiresAt }
func (d *Document) ExplorationStage() string { return d.explorationStage }
func (d *Document) ExplorationBudget() *float64 { return d.explorationBudget }
func (d *Document) DiscoveredAt() *time.Time { return d.discoveredAt }
func (d *Document) Confidence() string { return d.confidence }

// SearchText returns the concatenated searchable blob.
func (d *Document) SearchText() string { return d.searchText }
func (d *Document) BoostScore() float64 { return d.boostScore }
func (d *Document) Keywords() []string { return d.keywords }

// TitleExact returns the normalized exact-match title.
func (d *Document) TitleExact() string { return NormalizeTitle(d.title) }

// Fields renders the hash representation stored in the index. Every configured
// analyzer contributes its own pre-stemmed title and description fields.
// Absent optional values are omitted rather than written as zero.
func (d *Document) Fields(analyzers text.Analyzers) map[string]string {
	f := map[string]string{
		FieldID:            d.id,
		FieldKind:          string(d.kind),
		FieldTitle:         d.title,
		FieldTitleExact:    d.TitleExact(),
		FieldDescription:   d.description,
		FieldMineral:       d.mineral,
		FieldRegion:        d.region,
		FieldStatus:        string(d.status),
		FieldLicenseNumber: d.licenseNumber,
		FieldVerified:      strconv.FormatBool(d.verified),
		FieldFeatured:      strconv.FormatBool(d.featured),
		FieldViewCount:     strconv.FormatInt(d.viewCount, 10),
		FieldFavoriteCount: strconv.FormatInt(d.favoriteCount, 10),
		FieldCreatedAt:     strconv.FormatInt(d.createdAt.Unix(), 10),
		FieldUpdatedAt:     strconv.FormatInt(d.updatedAt.Unix(), 10),
		FieldBoostScore:    formatFloat(d.boostScore),
		FieldKeywords:      strings.Join(d.keywords, KeywordSeparator),
		FieldSearchText:    d.searchText,
	}
	if d.price != nil {
		f[FieldPrice] = formatFloat(*d.price)
	}
	if d.area != nil {
		f[FieldArea] = formatFloat(*d.area)
	}
	if d.location != nil {
		// GEO fields take "lon,lat".
		f[FieldLocation] = formatFloat(d.location.Lon) + "," + formatFloat(d.location.Lat)
	}
	if d.licenseExpiresAt != nil {
		f[FieldLicenseExpiresAt] = strconv.FormatInt(d.licenseExpiresAt.Unix(), 10)
	}
	if d.explorationStage != "" {
		f[FieldExplorationStage] = d.explorationStage
	}
	if d.explorationBudget != nil {
		f[FieldExplorationBudget] = formatFloat(*d.explorationBudget)
	}
	if d.discoveredAt != nil {
		f[FieldDiscoveredAt] = strconv.FormatInt(d.discoveredAt.Unix(), 10)
	}
	if d.confidence != "" {
		f[FieldConfidence] = d.confidence
	}
	for _, a := range analyzers {
		f[TitleField(a)] = a.Analyze(d.title)
		f[DescriptionField(a)] = a.Analyze(d.description)
	}
	return f
}

// TitleField is the per-language analyzed title field name.
func TitleField(a text.Analyzer) string { return FieldTitle + "_" + a.Suffix() }

// DescriptionField is the per-language analyzed description field name.
func DescriptionField(a text.Analyzer) string { return FieldDescription + "_" + a.Suffix() }

// FromFields hydrates a document from its hash representation. Analyzed fields are ignored.
func FromFields(fields map[string]string) (Document, error) {
	id := fields[FieldID]
	if id == "" {
		return Document{}, fmt.Errorf("document hash has no %s field", FieldID)
	}
	d := Document{
		id:               id,
		kind:             listing.Kind(fields[FieldKind]),
		title:            fields[FieldTitle],
		description:      fields[FieldDescription],
		mineral:          fields[FieldMineral],
		region:           fields[FieldRegion],
		status:           listing.Status(fields[FieldStatus]),
		licenseNumber:    fields[FieldLicenseNumber],
		explorationStage: fields[FieldExplorationStage],
		confidence:       fields[FieldConfidence],
		searchText:       fields[FieldSearchText],
	}

	var err error
	if d.verified, err = parseBool(fields, FieldVerified); err != nil {
		return Document{}, err
	}
	if d.featured, err = parseBool(fields, FieldFeatured); err != nil {
		return Document{}, err
	}
	if d.viewCount, err = parseInt(fields, FieldViewCount); err != nil {
		return Document{}, err
	}
	if d.favoriteCount, err = parseInt(fields, FieldFavoriteCount); err != nil {
		return Document{}, err
	}
	if d.createdAt, err = parseUnix(fields, FieldCreatedAt); err != nil {
		return Document{}, err
	}
	if d.updatedAt, err = parseUnix(fields, FieldUpdatedAt); err != nil {
		return Document{}, err
	}
	if d.price, err = parseOptFloat(fields, FieldPrice); err != nil {
		return Document{}, err
	}
	if d.area, err = parseOptFloat(fields, FieldArea); err != nil {
		return Document{}, err
	}
	if d.explorationBudget, err = parseOptFloat(fields, FieldExplorationBudget); err != nil {
		return Document{}, err
	}
	if d.licenseExpiresAt, err = parseOptUnix(fields, FieldLicenseExpiresAt); err != nil {
		return Document{}, err
	}
	if d.discoveredAt, err = parseOptUnix(fields, FieldDiscoveredAt); err != nil {
		return Document{}, err
	}
	if raw := fields[FieldBoostScore]; raw != "" {
		if d.boostScore, err = strconv.ParseFloat(raw, 64); err != nil {
			return Document{}, fmt.Errorf("parse %s: %w", FieldBoostScore, err)
		}
	}
	if raw := fields[FieldLocation]; raw != "" {
		lonStr, latStr, ok := strings.Cut(raw, ",")
		if !ok {
			return Document{}, fmt.Errorf("parse %s: malformed %q", FieldLocation, raw)
		}
		lon, errLon := strconv.ParseFloat(lonStr, 64)
		lat, errLat := strconv.ParseFloat(latStr, 64)
		if errLon != nil || errLat != nil {
			return Document{}, fmt.Errorf("parse %s: malformed %q", FieldLocation, raw)
		}
		d.location = &geo.Point{Lat: lat, Lon: lon}
	}
	if raw := fields[FieldKeywords]; raw != "" {
		d.keywords = strings.Split(raw, KeywordSeparator)
	}
	return d, nil
}

func formatFloat(v float64) string { return strconv.FormatFloat(v, 'f', -1, 64) }

func parseBool(fields map[string]string, name string) (bool, error) {
	raw, ok := fields[name]
	if !ok || raw == "" {
		return false, nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("parse %s: %w", name, err)
	}
	return v, nil
}

func parseInt(fields map[string]string, name string) (int64, error) {
	raw, ok := fields[name]
	if !ok || raw == "" {
		return 0, nil
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", name, err)
	}
	return v, nil
}

func parseUnix(fields map[string]string, name string) (time.Time, error) {
	sec, err := parseInt(fields, name)
	if err != nil || sec == 0 {
		return time.Time{}, err
	}
	return time.Unix(sec, 0).UTC(), nil
}

func parseOptUnix(fields map[string]string, name string) (*time.Time, error) {
	if fields[name] == "" {
		return nil, nil
	}
	t, err := parseUnix(fields, name)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func parseOptFloat(fields map[string]string, name string) (*float64, error) {
	raw := fields[name]
	if raw == "" {
		return nil, nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", name, err)
	}
	return &v, nil
}

func cloneFloat(v *float64) *float64 {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}

func cloneTime(v *time.Time) *time.Time {
	if v == nil {
		return nil
	}
	c := v.UTC()
	return &c
}
