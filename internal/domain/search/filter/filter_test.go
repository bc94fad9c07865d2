package filter

import (
	"errors"
	"reflect"
	"testing"

	"github.com/kailas-cloud/listingsearch/internal/domain"
	"github.com/kailas-cloud/listingsearch/internal/domain/listing"
)

func floatPtr(f float64) *float64 { return &f }
func boolPtr(b bool) *bool       { return &b }

// --- Range tests ---

func TestNewRange(t *testing.T) {
	tests := []struct {
		name     string
		min, max *float64
		wantErr  bool
	}{
		{"min only", floatPtr(1), nil, false},
		{"max only", nil, floatPtr(10), false},
		{"both", floatPtr(1), floatPtr(10), false},
		{"equal", floatPtr(5), floatPtr(5), false},
		{"none", nil, nil, true},
		{"inverted", floatPtr(10), floatPtr(1), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewRange(tt.min, tt.max)
			if (err != nil) != tt.wantErr {
				t.Errorf("err = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestRange_Contains(t *testing.T) {
	r, _ := NewRange(floatPtr(10), floatPtr(20))
	for v, want := range map[float64]bool{9.99: false, 10: true, 15: true, 20: true, 20.01: false} {
		if r.Contains(v) != want {
			t.Errorf("Contains(%v) = %v, want %v", v, !want, want)
		}
	}
}

// --- Filters tests ---

func TestNew_Defaults(t *testing.T) {
	f, err := New(Params{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if f.Page() != 1 || f.PageSize() != DefaultPageSize {
		t.Errorf("pagination = %d/%d", f.Page(), f.PageSize())
	}
	if f.HasQuery() {
		t.Error("expected match-all")
	}
	if f.Sort().Field() != SortCreatedAt || !f.Sort().Desc() {
		t.Errorf("default sort without query = %s", f.Sort())
	}
}

func TestNew_ValidationErrors(t *testing.T) {
	tests := []struct {
		name  string
		p     Params
		field string
	}{
		{"page size too large", Params{PageSize: 101}, "page_size"},
		{"page size negative", Params{PageSize: -1}, "page_size"},
		{"page negative", Params{Page: -2}, "page"},
		{"unknown kind", Params{Kinds: []string{"quarry"}}, "kind"},
		{"unknown status", Params{Statuses: []string{"archived"}}, "status"},
		{"inverted price", Params{PriceMin: floatPtr(5), PriceMax: floatPtr(1)}, "price"},
		{"partial geo", Params{Lat: floatPtr(10), Lon: floatPtr(10)}, "geo"},
		{"bad radius", Params{Lat: floatPtr(10), Lon: floatPtr(10), RadiusKm: floatPtr(0)}, "geo"},
		{"unknown sort", Params{Sort: "title"}, "sort"},
		{"distance without geo", Params{Sort: "distance"}, "sort"},
		{"bad direction", Params{Sort: "price", Direction: "up"}, "direction"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.p)
			if !errors.Is(err, domain.ErrValidation) {
				t.Fatalf("expected ErrValidation, got %v", err)
			}
			var ve *domain.ValidationError
			if !errors.As(err, &ve) || ve.Field != tt.field {
				t.Errorf("field = %v, want %s", err, tt.field)
			}
		})
	}
}

func TestNew_NormalizesLists(t *testing.T) {
	f, err := New(Params{
		Query:    "  gold   license ",
		Regions:  []string{"Karaganda", " Almaty ", "Karaganda", ""},
		Minerals: []string{"gold", "copper"},
		Kinds:    []string{"mineral_occurrence", "mining_license", "mining_license"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if f.Query() != "gold license" {
		t.Errorf("Query() = %q", f.Query())
	}
	if !reflect.DeepEqual(f.Regions(), []string{"Almaty", "Karaganda"}) {
		t.Errorf("Regions() = %v", f.Regions())
	}
	if !reflect.DeepEqual(f.Minerals(), []string{"copper", "gold"}) {
		t.Errorf("Minerals() = %v", f.Minerals())
	}
	want := []listing.Kind{listing.KindOccurrence, listing.KindMiningLicense}
	if !reflect.DeepEqual(f.Kinds(), want) {
		t.Errorf("Kinds() = %v, want %v", f.Kinds(), want)
	}
}

func TestCanonical_OrderInsensitive(t *testing.T) {
	a, err := New(Params{Regions: []string{"b", "a"}, Verified: boolPtr(true), PriceMin: floatPtr(100)})
	if err != nil {
		t.Fatal(err)
	}
	b, err := New(Params{Regions: []string{"a", "b", "a"}, Verified: boolPtr(true), PriceMin: floatPtr(100)})
	if err != nil {
		t.Fatal(err)
	}
	if a.Canonical() != b.Canonical() {
		t.Errorf("canonical mismatch:\n%s\n%s", a.Canonical(), b.Canonical())
	}

	c, _ := New(Params{Regions: []string{"a", "b"}, Verified: boolPtr(false), PriceMin: floatPtr(100)})
	if a.Canonical() == c.Canonical() {
		t.Error("different filters must encode differently")
	}
	d, _ := New(Params{Regions: []string{"a", "b"}, Verified: boolPtr(true), PriceMin: floatPtr(100), Page: 2})
	if a.Canonical() == d.Canonical() {
		t.Error("page must be part of the encoding")
	}
}

func TestEffectiveStatuses(t *testing.T) {
	f, _ := New(Params{})
	if !reflect.DeepEqual(f.EffectiveStatuses(), listing.SearchableStatuses()) {
		t.Errorf("default statuses = %v", f.EffectiveStatuses())
	}
	f, _ = New(Params{Statuses: []string{"sold", "pending"}})
	if !reflect.DeepEqual(f.EffectiveStatuses(), []listing.Status{listing.StatusPending}) {
		t.Errorf("statuses = %v", f.EffectiveStatuses())
	}
	f, _ = New(Params{Statuses: []string{"draft"}})
	if len(f.EffectiveStatuses()) != 0 {
		t.Errorf("non-searchable statuses must select nothing, got %v", f.EffectiveStatuses())
	}
}

func TestOffset(t *testing.T) {
	f, _ := New(Params{Page: 3, PageSize: 25})
	if f.Offset() != 50 {
		t.Errorf("Offset() = %d", f.Offset())
	}
}
