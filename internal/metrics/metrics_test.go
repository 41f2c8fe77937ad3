package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
)

func scrape(t *testing.T, c *Collector) string {
	t.Helper()
	rr := httptest.NewRecorder()
	c.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected metrics handler to return 200, got %d", rr.Code)
	}
	return rr.Body.String()
}

func TestCollectorRecordsRoutePattern(t *testing.T) {
	collector, err := NewCollector()
	if err != nil {
		t.Fatalf("NewCollector returned error: %v", err)
	}

	router := chi.NewRouter()
	router.Use(collector.InstrumentHandler)
	router.Get("/worklogs/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	})

	for _, id := range []string{"a", "b"} {
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/worklogs/"+id, nil))
		if rr.Code != http.StatusAccepted {
			t.Fatalf("unexpected status code: %d", rr.Code)
		}
	}

	body := scrape(t, collector)
	if !strings.Contains(body, `agencyline_http_requests_total{method="GET",path="/worklogs/{id}",status="202"} 2`) {
		t.Fatalf("requests_total metric not recorded, body=%q", body)
	}
	if !strings.Contains(body, `agencyline_http_request_duration_seconds_count{method="GET",path="/worklogs/{id}",status="202"} 2`) {
		t.Fatalf("request_duration_seconds_count metric not recorded, body=%q", body)
	}
}

func TestCollectorFallsBackToURLPath(t *testing.T) {
	collector, err := NewCollector()
	if err != nil {
		t.Fatal(err)
	}
	h := collector.InstrumentHandler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/plain", nil))

	body := scrape(t, collector)
	if !strings.Contains(body, `agencyline_http_requests_total{method="POST",path="/plain",status="200"} 1`) {
		t.Fatalf("requests_total metric not recorded, body=%q", body)
	}
}

func TestScanAndSyncCounters(t *testing.T) {
	collector, err := NewCollector()
	if err != nil {
		t.Fatal(err)
	}
	collector.ObserveScan("ok")
	collector.ObserveScan("ok")
	collector.ObserveScan("error")
	collector.AddStatsSynced(30)
	collector.AddStatsSynced(0)

	var nilCollector *Collector
	nilCollector.ObserveScan("ok")

	body := scrape(t, collector)
	for _, want := range []string{
		`agencyline_scanner_scans_total{outcome="ok"} 2`,
		`agencyline_scanner_scans_total{outcome="error"} 1`,
		`agencyline_gsc_daily_stats_synced_total 30`,
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("missing %s in %q", want, body)
		}
	}
}
