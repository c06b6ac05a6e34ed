package router

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/mohammed-shakir/wfs-ingest/internal/core/config"
	"github.com/mohammed-shakir/wfs-ingest/internal/core/failure"
	"github.com/mohammed-shakir/wfs-ingest/internal/core/model"
)

type fakeService struct {
	err       error
	lastBBox  *model.BBox
	lastMax   int
	lastLayer model.LayerDescriptor
	cleared   []string
}

func (f *fakeService) LoadLayerInfo(context.Context) model.LayerDescriptor {
	return model.DefaultLayerDescriptor("ns:layer-1")
}

func (f *fakeService) FetchWfsData(_ context.Context, layer model.LayerDescriptor, bbox *model.BBox, maxFeatures int) (*geojson.FeatureCollection, error) {
	f.lastLayer, f.lastBBox, f.lastMax = layer, bbox, maxFeatures
	if f.err != nil {
		return nil, f.err
	}
	fc := geojson.NewFeatureCollection()
	fc.Append(geojson.NewFeature(orb.Point{174.77, -41.28}))
	return fc, nil
}

func (f *fakeService) ClearCache(_ context.Context, layerID string) error {
	f.cleared = append(f.cleared, layerID)
	return nil
}

func testConfig() config.Config {
	cfg := config.Config{}
	cfg.WFS.MaxFeatures = 1000
	return cfg
}

func quiet() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestParseBBOX_Valid(t *testing.T) {
	bb, err := parseBBOX("174.0,-42.0,175.0,-41.0,EPSG:4326")
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	want := model.BBox{X1: 174, Y1: -42, X2: 175, Y2: -41, SRID: "EPSG:4326"}
	if bb != want {
		t.Fatalf("got %+v want %+v", bb, want)
	}

	bb, err = parseBBOX("174,-42,175,-41")
	if err != nil || bb.SRID != model.WGS84 {
		t.Fatalf("four values: bb=%+v err=%v", bb, err)
	}
}

func TestParseBBOX_Invalid(t *testing.T) {
	for _, raw := range []string{
		"174,-42,175,-41,EPSG:3857",
		"174,-42,174,-41",
		"174,-42,175",
		"x,-42,175,-41",
		"174,-95,175,-41",
	} {
		if _, err := parseBBOX(raw); err == nil {
			t.Fatalf("%q: expected error", raw)
		}
	}
}

func TestHandleFeatures_Dispatch(t *testing.T) {
	svc := &fakeService{}
	req := httptest.NewRequest(http.MethodGet, "/features?bbox=174,-42,175,-41&maxFeatures=5000", nil)
	rr := httptest.NewRecorder()
	HandleFeatures(quiet(), testConfig(), svc)(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", rr.Code, rr.Body.String())
	}
	if ct := rr.Header().Get("Content-Type"); ct != "application/geo+json" {
		t.Fatalf("content-type=%q", ct)
	}
	if svc.lastBBox == nil || svc.lastMax != 1000 || svc.lastLayer.ID != "layer-1" {
		t.Fatalf("service got bbox=%v max=%d layer=%+v", svc.lastBBox, svc.lastMax, svc.lastLayer)
	}
	if !strings.Contains(rr.Body.String(), `"FeatureCollection"`) {
		t.Fatalf("body=%s", rr.Body.String())
	}
}

func TestHandleFeatures_StatusMapping(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want int
	}{
		{"timeout", failure.New(failure.KindTimeout, "fetch.GetFeature", errors.New("deadline")), http.StatusGatewayTimeout},
		{"network", failure.New(failure.KindNetwork, "fetch.GetFeature", errors.New("502")), http.StatusBadGateway},
		{"other", errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rr := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodGet, "/features", nil)
			HandleFeatures(quiet(), testConfig(), &fakeService{err: tc.err})(rr, req)
			if rr.Code != tc.want {
				t.Fatalf("status=%d want %d", rr.Code, tc.want)
			}
		})
	}
}

func TestHandleFeatures_BadParams(t *testing.T) {
	for _, q := range []string{"bbox=1,2,3", "maxFeatures=0", "maxFeatures=abc"} {
		rr := httptest.NewRecorder()
		svc := &fakeService{}
		HandleFeatures(quiet(), testConfig(), svc)(rr, httptest.NewRequest(http.MethodGet, "/features?"+q, nil))
		if rr.Code != http.StatusBadRequest {
			t.Fatalf("%s: status=%d want 400", q, rr.Code)
		}
		if svc.lastMax != 0 {
			t.Fatalf("%s: service must not be called", q)
		}
	}
}

func TestHandleLayerAndClearCache(t *testing.T) {
	svc := &fakeService{}

	rr := httptest.NewRecorder()
	HandleLayer(svc)(rr, httptest.NewRequest(http.MethodGet, "/layer", nil))
	if rr.Code != http.StatusOK || !strings.Contains(rr.Body.String(), `"id":"layer-1"`) {
		t.Fatalf("layer: status=%d body=%s", rr.Code, rr.Body.String())
	}

	rr = httptest.NewRecorder()
	HandleClearCache(quiet(), svc)(rr, httptest.NewRequest(http.MethodDelete, "/cache?layer=layer-1", nil))
	rr2 := httptest.NewRecorder()
	HandleClearCache(quiet(), svc)(rr2, httptest.NewRequest(http.MethodDelete, "/cache", nil))
	if rr.Code != http.StatusNoContent || rr2.Code != http.StatusNoContent {
		t.Fatalf("clear status=%d/%d", rr.Code, rr2.Code)
	}
	if len(svc.cleared) != 2 || svc.cleared[0] != "layer-1" || svc.cleared[1] != "" {
		t.Fatalf("cleared=%q", svc.cleared)
	}
}
