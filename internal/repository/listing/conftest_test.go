package listing

import (
	"database/sql/driver"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

var listingColumnNames = []string{
	"id", "kind", "title", "description", "mineral", "region",
	"price", "area", "latitude", "longitude", "status", "verified", "featured", "view_count", "favorite_count",
	"license_number", "license_expires_at", "exploration_stage", "exploration_budget",
	"discovered_at", "discovery_confidence", "created_at", "updated_at",
}

func testRepoConfig() Config {
	return Config{FacetTopN: 10, PriceBounds: []float64{100, 1000, 10000}}
}

func newTestRepo(t *testing.T) (*Repo, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	repo, err := New(db, testRepoConfig(), nil)
	require.NoError(t, err)
	repo.now = func() time.Time { return testNow }
	return repo, mock
}

// listingRow renders a minimal active gold mining license.
func listingRow(id, title, region string) []driver.Value {
	return []driver.Value{
		id, "mining_license", title, "", "gold", region,
		150.0, nil, 47.1, 51.9, "active", true, false, int64(10), int64(2),
		"ML-1", nil, nil, nil,
		nil, nil, testNow.Add(-time.Hour), testNow,
	}
}

func listingRows(rows ...[]driver.Value) *sqlmock.Rows {
	r := sqlmock.NewRows(listingColumnNames)
	for _, row := range rows {
		r.AddRow(row...)
	}
	return r
}
