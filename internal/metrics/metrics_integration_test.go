package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/mohammed-shakir/wfs-ingest/internal/core/observability"
)

func assertHasMetricLine(t *testing.T, body, metric string, wantLabels ...string) {
	t.Helper()
	for ln := range strings.SplitSeq(body, "\n") {
		if !strings.HasPrefix(ln, metric+"{") {
			continue
		}
		ok := true
		for _, s := range wantLabels {
			if !strings.Contains(ln, s) {
				ok = false
				break
			}
		}
		if ok && (len(ln) > 0 && ln[len(ln)-1] >= '0' && ln[len(ln)-1] <= '9') {
			return
		}
	}
	t.Fatalf("expected a %s line with labels %v; got:\n%s", metric, wantLabels, body)
}

func Test_PipelineMetrics_CustomRegistry_Smoke(t *testing.T) {
	p := Init(Config{Service: "wfs-gateway", Build: BuildInfo{Version: "test"}})
	observability.Init(p.Registerer())

	observability.ObserveHTTP("GET", "/features", 200, 0.012)
	observability.ObserveUpstreamLatency("wfs", 0.2)
	observability.IncUpstreamRetry("wfs")
	observability.IncCacheHit("features")
	observability.IncCacheMiss("responses")
	observability.ObserveCacheOp("hset", nil, 0.002)
	observability.ObserveCacheOp("hgetall", errors.New("down"), 0.001)
	observability.AddFeaturesDropped("geometry", 3)
	observability.IncTransformFallback()
	observability.IncKafkaConsumerError("decode")

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rr := httptest.NewRecorder()
	p.Handler().ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d", rr.Code)
	}
	body := rr.Body.String()

	assertHasMetricLine(t, body, "http_requests_total", `route="/features"`, `status="200"`)
	assertHasMetricLine(t, body, "cache_results_total", `cache="features"`, `outcome="hit"`)
	assertHasMetricLine(t, body, "cache_results_total", `cache="responses"`, `outcome="miss"`)
	assertHasMetricLine(t, body, "kafka_consumer_errors_total", `kind="decode"`)
	assertHasMetricLine(t, body, "app_build_info", `service="wfs-gateway"`, `version="test"`)
}
