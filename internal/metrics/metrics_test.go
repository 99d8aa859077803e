package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMiddlewareCountsByRoutePattern(t *testing.T) {
	r := chi.NewRouter()
	r.Use(Middleware)
	r.Get("/attempts/{attemptID}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})

	before := testutil.ToFloat64(RequestCounter.WithLabelValues("GET", "/attempts/{attemptID}", "418"))
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/attempts/abc", nil))
	after := testutil.ToFloat64(RequestCounter.WithLabelValues("GET", "/attempts/{attemptID}", "418"))

	if after-before != 1 {
		t.Errorf("request counter delta = %v, want 1", after-before)
	}
}

func TestMiddlewareUnmatchedRoute(t *testing.T) {
	r := chi.NewRouter()
	r.Use(Middleware)
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {})

	before := testutil.ToFloat64(RequestCounter.WithLabelValues("GET", UnmatchedRoute, "404"))
	for _, path := range []string{"/random/one", "/random/two"} {
		r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, path, nil))
	}
	after := testutil.ToFloat64(RequestCounter.WithLabelValues("GET", UnmatchedRoute, "404"))
	if after-before != 2 {
		t.Errorf("unmatched counter delta = %v, want 2", after-before)
	}

	families, err := Registry.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	for _, mf := range families {
		for _, m := range mf.GetMetric() {
			for _, l := range m.GetLabel() {
				if strings.HasPrefix(l.GetValue(), "/random/") {
					t.Errorf("%s has raw path label %q", mf.GetName(), l.GetValue())
				}
			}
		}
	}
}

func TestHandlerExposesCollectors(t *testing.T) {
	Verdicts.WithLabelValues(OutcomeExact).Inc()

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "assessor_verdicts_total") {
		t.Error("expected verdict counter in exposition output")
	}
}
