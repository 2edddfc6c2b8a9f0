package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestObserveSwapAndHandler(t *testing.T) {
	ObserveSwap("sandbox", OutcomeSettled, 20*time.Millisecond)
	ObserveSwap("sandbox", "SWAP_SLIPPAGE_EXCEEDED", time.Millisecond)
	ObserveHTTPRequest("/api/v1/swaps", "POST", 500, time.Millisecond)
	ObserveJobTransition("succeeded")

	families, err := Gatherer().Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	found := false
	for _, mf := range families {
		if mf.GetName() == "swapper_http_request_errors_total" {
			found = len(mf.GetMetric()) > 0 && mf.GetMetric()[0].GetCounter().GetValue() >= 1
		}
	}
	if !found {
		t.Fatalf("server errors not counted")
	}

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	for _, name := range []string{
		`swapper_swaps_total{chain="sandbox",outcome="SWAP_SLIPPAGE_EXCEEDED"}`,
		"swapper_swap_duration_seconds_bucket",
		`swapper_job_transitions_total{status="succeeded"}`,
		"swapper_http_request_duration_seconds_count",
	} {
		if !strings.Contains(string(body), name) {
			t.Fatalf("metrics output missing %s", name)
		}
	}
}
