package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

func scrape(t *testing.T, p *Provider) string {
	t.Helper()
	rr := httptest.NewRecorder()
	p.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d want 200", rr.Code)
	}
	return rr.Body.String()
}

func TestProvider_GatewayBuildInfoDefaults(t *testing.T) {
	p := Init(Config{Build: BuildInfo{Revision: "4f2c1ab", Branch: "main", BuildDate: "2026-10-01"}})
	body := scrape(t, p)

	for _, want := range []string{
		"go_goroutines",
		"app_build_info{",
		`service="wfs-gateway"`,
		`version="dev"`,
		`revision="4f2c1ab"`,
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("missing %s in payload:\n%s", want, body)
		}
	}
	if !strings.Contains(body, "process_cpu_seconds_total") && !strings.Contains(body, "process_start_time_seconds") {
		t.Fatalf("expected process_* metrics in payload; got:\n%s", body)
	}
}

func TestProvider_ExplicitBuildAndRegisteredCollector(t *testing.T) {
	p := Init(Config{Service: "wfs-gateway-canary", Build: BuildInfo{Version: "1.2.0"}})
	layers := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "wfs_capability_layers",
		Help: "Layers advertised by the last capabilities refresh.",
	})
	p.Register(layers)
	layers.Set(3)

	body := scrape(t, p)
	for _, want := range []string{
		`service="wfs-gateway-canary"`,
		`version="1.2.0"`,
		"wfs_capability_layers 3",
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("missing %s in payload:\n%s", want, body)
		}
	}
}
