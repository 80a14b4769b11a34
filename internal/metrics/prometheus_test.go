package metrics

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestObserveRecordsCounters(t *testing.T) {
	rec, err := NewPrometheusRecorder(nil)
	if err != nil {
		t.Fatalf("new recorder: %v", err)
	}

	rec.Observe(context.Background(), "annotation.create", true, 25*time.Millisecond)
	rec.Observe(context.Background(), "annotation.create", true, 10*time.Millisecond)
	rec.Observe(context.Background(), "annotation.create", false, 5*time.Millisecond)
	rec.Observe(context.Background(), "", true, time.Millisecond) // dropped

	success := testutil.ToFloat64(rec.results.WithLabelValues("annotation.create", "success"))
	if success != 2 {
		t.Fatalf("expected 2 successes, got %v", success)
	}
	failure := testutil.ToFloat64(rec.results.WithLabelValues("annotation.create", "error"))
	if failure != 1 {
		t.Fatalf("expected 1 error, got %v", failure)
	}

	count := testutil.CollectAndCount(rec.durations, "annotcore_operation_duration_seconds")
	if count != 1 {
		t.Fatalf("expected 1 duration series, got %d", count)
	}
}

func TestScrapeHandlerServesMetrics(t *testing.T) {
	rec, err := NewPrometheusRecorder(nil)
	if err != nil {
		t.Fatalf("new recorder: %v", err)
	}
	rec.Observe(context.Background(), "annotation.search", true, time.Millisecond)

	req := httptest.NewRequest("GET", "/metrics", nil)
	res := httptest.NewRecorder()
	rec.Handler().ServeHTTP(res, req)
	if res.Code != 200 {
		t.Fatalf("unexpected scrape status %d", res.Code)
	}
	if !strings.Contains(res.Body.String(), "annotcore_operation_results_total") {
		t.Fatalf("scrape output missing counter:\n%s", res.Body.String())
	}
}

func TestRegisterTwiceFails(t *testing.T) {
	registry := prometheus.NewRegistry()
	if _, err := NewPrometheusRecorder(registry); err != nil {
		t.Fatalf("first recorder: %v", err)
	}
	if _, err := NewPrometheusRecorder(registry); err == nil {
		t.Fatalf("second recorder on same registry must fail")
	}
}
