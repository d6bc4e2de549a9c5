package observability_test

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/jetsuite/jetsuite-api/internal/infra/observability"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestRequestLogger_RoutePattern(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	metrics := observability.NewMetrics()

	r := chi.NewRouter()
	r.Use(observability.RequestLogger(zap.New(core), metrics))
	r.Get("/v1/oauth/{platform}/callback", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusFound)
	})

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/v1/oauth/twitter/callback?code=secret-code", nil))
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/nowhere", nil))

	entries := logs.All()
	if len(entries) != 2 {
		t.Fatalf("expected 2 log lines, got %d", len(entries))
	}
	first := entries[0].ContextMap()
	if first["route"] != "/v1/oauth/{platform}/callback" {
		t.Errorf("route = %v", first["route"])
	}
	for k, v := range first {
		if s, ok := v.(string); ok && strings.Contains(s, "secret-code") {
			t.Errorf("query string leaked into %q", k)
		}
	}
	if entries[1].ContextMap()["route"] != "unmatched" || entries[1].Level != zap.WarnLevel {
		t.Errorf("unexpected 404 entry: %v at %v", entries[1].ContextMap(), entries[1].Level)
	}

	families, err := metrics.Registry.Gather()
	if err != nil {
		t.Fatal(err)
	}
	found := false
	for _, mf := range families {
		if mf.GetName() != "jetsuite_request_duration_seconds" {
			continue
		}
		for _, m := range mf.GetMetric() {
			for _, l := range m.GetLabel() {
				if l.GetValue() == "GET /v1/oauth/{platform}/callback" && m.GetHistogram().GetSampleCount() == 1 {
					found = true
				}
			}
		}
	}
	if !found {
		t.Error("request duration not recorded under the route pattern")
	}
}
