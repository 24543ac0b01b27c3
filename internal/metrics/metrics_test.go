package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
)

func scrape(t *testing.T, m *Metrics) string {
	t.Helper()
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return string(body)
}

func TestMetrics_CountersAndHandler(t *testing.T) {
	m := New()
	m.UpdatesApplied.Add(3)
	m.FeedState.Set(1)
	m.HTTPRequests.WithLabelValues("GET", "2xx").Inc()

	body := scrape(t, m)
	for _, want := range []string{
		"depthmap_book_updates_applied_total 3",
		"depthmap_feed_connected 1",
		`depthmap_http_requests_total{method="GET",status="2xx"} 1`,
		"go_goroutines",
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("expected %q in exposition", want)
		}
	}
}

func TestMetrics_IndependentRegistries(t *testing.T) {
	a, b := New(), New()
	a.SnapshotsSaved.Inc()
	if !strings.Contains(scrape(t, b), "depthmap_sampler_snapshots_saved_total 0") {
		t.Fatal("expected registries to be independent")
	}
}
