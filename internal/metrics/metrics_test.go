package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/ashareinsight/ashareinsight/internal/cache"
)

func TestHandler_ExposesRegisteredCollectors(t *testing.T) {
	reg := New()
	reg.RequestDuration.WithLabelValues("/search", "200").Observe(0.05)

	req := httptest.NewRequest("GET", "/metrics", nil)
	rec := httptest.NewRecorder()
	reg.Handler().ServeHTTP(rec, req)

	if rec.Code != 200 {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	body := rec.Body.String()
	if !strings.Contains(body, "ashareinsight_request_duration_seconds") {
		t.Fatal("expected the request duration histogram to appear in /metrics output")
	}
}

func TestObserveCacheStats_AddsOnlyTheDelta(t *testing.T) {
	reg := New()
	prev := cache.Stats{Hits: 5, Misses: 2, Size: 3}
	cur := cache.Stats{Hits: 8, Misses: 2, Size: 4}

	reg.ObserveCacheStats(prev, cur)

	req := httptest.NewRequest("GET", "/metrics", nil)
	rec := httptest.NewRecorder()
	reg.Handler().ServeHTTP(rec, req)
	body := rec.Body.String()

	if !strings.Contains(body, "ashareinsight_cache_hits_total 3") {
		t.Fatalf("expected only the 3-hit delta to be recorded, got body:\n%s", body)
	}
	if strings.Contains(body, "ashareinsight_cache_misses_total 2") {
		t.Fatal("a zero misses delta must not be added to the cumulative counter")
	}
}
