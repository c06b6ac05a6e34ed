package invalidation_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/IBM/sarama"
	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mohammed-shakir/wfs-ingest/internal/cache"
	"github.com/mohammed-shakir/wfs-ingest/internal/cache/keys"
	"github.com/mohammed-shakir/wfs-ingest/internal/cache/redisstore"
	"github.com/mohammed-shakir/wfs-ingest/internal/core/observability"
	"github.com/mohammed-shakir/wfs-ingest/internal/ingest"
	"github.com/mohammed-shakir/wfs-ingest/internal/invalidation/kafkaconsumer"
)

func TestIntegration_Miniredis_ClearAndMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	observability.Init(reg)

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	responses, err := redisstore.New(ctx, mr.Addr(), "wfsresp:")
	if err != nil {
		t.Fatalf("redis store: %v", err)
	}
	t.Cleanup(func() { _ = responses.Close() })

	k1 := keys.ResponseKey("layer-50772", keys.ResponseParams{Format: "application/json", Count: 10})
	k2 := keys.ResponseKey("layer-1", keys.ResponseParams{Format: "application/json", Count: 10})
	for _, k := range []string{k1, k2} {
		if err := responses.Set(ctx, k, cache.Response{ContentType: "application/json", Body: []byte(`{}`)}); err != nil {
			t.Fatalf("seed %s: %v", k, err)
		}
	}

	svc := ingest.New(nil, ingest.Options{Layer: "layer-50772"}, ingest.Deps{
		Caches: ingest.NewCaches(0, 10, responses),
	})
	cons := kafkaconsumer.New(kafkaconsumer.Config{Topic: "t"}, nil, svc)

	msg := &sarama.ConsumerMessage{Topic: "t", Offset: 1,
		Value: []byte(`{"version":1,"op":"update","layer":"layer-50772","ts":"2025-10-26T12:30:45Z"}`)}
	if err := cons.ProcessOne(ctx, msg); err != nil {
		t.Fatalf("process: %v", err)
	}

	if _, ok, _ := responses.Get(ctx, k1); ok {
		t.Fatalf("layer-50772 response survived invalidation")
	}
	if _, ok, _ := responses.Get(ctx, k2); !ok {
		t.Fatalf("layer-1 response must be kept")
	}

	rr := httptest.NewRecorder()
	promhttp.HandlerFor(reg, promhttp.HandlerOpts{}).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if !strings.Contains(rr.Body.String(), `cache_invalidations_total{source="kafka"} 1`) {
		t.Fatalf("metrics missing invalidation counter:\n%s", rr.Body.String())
	}
}
