package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func newRouter() chi.Router {
	r := chi.NewRouter()
	r.Use(Middleware())
	r.Get("/v1/search", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("{}"))
	})
	r.Post("/v1/admin/reindex", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	})
	r.Get("/v1/suggest", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})
	r.Get("/metrics", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("# metrics"))
	})
	return r
}

func serve(r http.Handler, method, path string) *httptest.ResponseRecorder {
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(method, path, http.NoBody))
	return rr
}

func TestMiddleware_LabelsByRouteAndClass(t *testing.T) {
	r := newRouter()

	tests := []struct {
		method, path, route, class string
	}{
		{"GET", "/v1/search?q=gold", "/v1/search", "2xx"},
		{"POST", "/v1/admin/reindex", "/v1/admin/reindex", "2xx"},
		{"GET", "/v1/suggest?prefix=go", "/v1/suggest", "5xx"},
	}
	for _, tc := range tests {
		t.Run(tc.path, func(t *testing.T) {
			counter := HTTPRequestsTotal.WithLabelValues(tc.method, tc.route, tc.class)
			before := testutil.ToFloat64(counter)
			serve(r, tc.method, tc.path)
			if got := testutil.ToFloat64(counter) - before; got != 1 {
				t.Errorf("requests_total delta for %s %s = %v, want 1", tc.route, tc.class, got)
			}
		})
	}
	if testutil.CollectAndCount(HTTPRequestDuration) == 0 {
		t.Error("expected duration observations")
	}
}

func TestMiddleware_UnmatchedRoutesShareOneLabel(t *testing.T) {
	r := newRouter()
	counter := HTTPRequestsTotal.WithLabelValues("GET", "unmatched", "4xx")
	before := testutil.ToFloat64(counter)

	serve(r, "GET", "/v1/listings/abc")
	serve(r, "GET", "/nope")

	if got := testutil.ToFloat64(counter) - before; got != 2 {
		t.Errorf("unmatched delta = %v, want 2", got)
	}
}

func TestMiddleware_SkipsMetricsScrape(t *testing.T) {
	r := newRouter()
	counter := HTTPRequestsTotal.WithLabelValues("GET", "/metrics", "2xx")

	rr := serve(r, "GET", "/metrics")
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	if got := testutil.ToFloat64(counter); got != 0 {
		t.Errorf("metrics scrape counted %v times", got)
	}
	if got := testutil.ToFloat64(HTTPInFlight); got != 0 {
		t.Errorf("in flight = %v after requests finished", got)
	}
}

func TestRouteLabel(t *testing.T) {
	tests := []struct {
		input, want string
	}{
		{"", "unmatched"},
		{"/*", "unmatched"},
		{"/v1/admin/reindex/", "/v1/admin/reindex"},
		{"/health", "/health"},
	}
	for _, tc := range tests {
		if got := routeLabel(tc.input); got != tc.want {
			t.Errorf("routeLabel(%q) = %q, want %q", tc.input, got, tc.want)
		}
	}
}

func TestStatusClass(t *testing.T) {
	for status, want := range map[int]string{200: "2xx", 202: "2xx", 409: "4xx", 503: "5xx"} {
		if got := statusClass(status); got != want {
			t.Errorf("statusClass(%d) = %q, want %q", status, got, want)
		}
	}
}
