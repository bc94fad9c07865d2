package listing

import (
	"database/sql"
	"fmt"
	"time"

	domlisting "github.com/kailas-cloud/listingsearch/internal/domain/listing"
)

// listingColumns is the select list scanned by scanListing, in order.
const listingColumns = `id, kind, title, COALESCE(description, ''), COALESCE(mineral, ''), COALESCE(region, ''),
	price, area, latitude, longitude, status, verified, featured, view_count, favorite_count,
	license_number, license_expires_at, exploration_stage, exploration_budget,
	discovered_at, discovery_confidence, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

// scanListing hydrates a canonical listing from one row of listingColumns.
func scanListing(s rowScanner) (*domlisting.Listing, error) {
	var (
		l                   domlisting.Listing
		kind, status        string
		price, area         sql.NullFloat64
		lat, lon            sql.NullFloat64
		licenseNumber       sql.NullString
		licenseExpires      sql.NullTime
		stage, confidence   sql.NullString
		budget              sql.NullFloat64
		discovered          sql.NullTime
		createdAt, updateAt time.Time
	)
	err := s.Scan(
		&l.ID, &kind, &l.Title, &l.Description, &l.Mineral, &l.Region,
		&price, &area, &lat, &lon, &status, &l.Verified, &l.Featured, &l.ViewCount, &l.FavoriteCount,
		&licenseNumber, &licenseExpires, &stage, &budget,
		&discovered, &confidence, &createdAt, &updateAt,
	)
	if err != nil {
		return nil, err
	}

	l.Kind = domlisting.Kind(kind)
	l.Status = domlisting.Status(status)
	l.Price = nullFloat(price)
	l.Area = nullFloat(area)
	l.Latitude = nullFloat(lat)
	l.Longitude = nullFloat(lon)
	l.CreatedAt = createdAt.UTC()
	l.UpdatedAt = updateAt.UTC()

	if licenseNumber.Valid || licenseExpires.Valid {
		l.License = &domlisting.LicenseDetails{Number: licenseNumber.String, ExpiresAt: nullTime(licenseExpires)}
	}
	if stage.Valid || budget.Valid {
		l.Exploration = &domlisting.ExplorationDetails{Stage: stage.String, Budget: nullFloat(budget)}
	}
	if discovered.Valid || confidence.Valid {
		l.Occurrence = &domlisting.OccurrenceDetails{DiscoveredAt: nullTime(discovered), Confidence: confidence.String}
	}
	return &l, nil
}

func scanListings(rows *sql.Rows) ([]*domlisting.Listing, error) {
	defer func() { _ = rows.Close() }()
	var out []*domlisting.Listing
	for rows.Next() {
		l, err := scanListing(rows)
		if err != nil {
			return nil, fmt.Errorf("scan listing: %w", err)
		}
		out = append(out, l)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func nullFloat(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}

func nullTime(v sql.NullTime) *time.Time {
	if !v.Valid {
		return nil
	}
	t := v.Time.UTC()
	return &t
}
