package observability

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetricsHandler_Smoke(t *testing.T) {
	reg := prometheus.NewRegistry()
	for _, c := range collectors() {
		reg.MustRegister(c)
	}
	ObserveHTTP("GET", "/features", 200, 0.001)
	IncCacheHit("features")

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rr := httptest.NewRecorder()
	promhttp.HandlerFor(reg, promhttp.HandlerOpts{}).ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d want 200", rr.Code)
	}
	body := rr.Body.String()
	if !strings.Contains(body, "http_requests_total") || !strings.Contains(body, `cache_results_total{cache="features",outcome="hit"}`) {
		t.Fatalf("metrics payload did not contain expected metric names; got:\n%s", body)
	}
}

func TestCounters_Increment(t *testing.T) {
	before := testutil.ToFloat64(transformFallbacks)
	IncTransformFallback()
	if got := testutil.ToFloat64(transformFallbacks); got != before+1 {
		t.Fatalf("fallback counter=%v want %v", got, before+1)
	}

	AddFeaturesDropped("no_geometry", 0)
	AddFeaturesDropped("no_geometry", 3)
	if got := testutil.ToFloat64(featuresDropped.WithLabelValues("no_geometry")); got < 3 {
		t.Fatalf("dropped counter=%v want >=3", got)
	}
}
