package router

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	"github.com/paulmach/orb/geojson"

	"github.com/mohammed-shakir/wfs-ingest/internal/core/config"
	"github.com/mohammed-shakir/wfs-ingest/internal/core/failure"
	"github.com/mohammed-shakir/wfs-ingest/internal/core/model"
	"github.com/mohammed-shakir/wfs-ingest/internal/core/observability"
)

// Service is the ingestion pipeline behind the HTTP surface
type Service interface {
	LoadLayerInfo(ctx context.Context) model.LayerDescriptor
	FetchWfsData(ctx context.Context, layer model.LayerDescriptor, bbox *model.BBox, maxFeatures int) (*geojson.FeatureCollection, error)
	ClearCache(ctx context.Context, layerID string) error
}

type FeatureRequest struct {
	BBox        *model.BBox
	MaxFeatures int
}

// HandleLayer serves the configured layer's descriptor
func HandleLayer(svc Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, code: http.StatusOK}
		writeJSON(sw, svc.LoadLayerInfo(r.Context()))
		observability.ObserveHTTP(r.Method, "/layer", sw.code, time.Since(start).Seconds())
	}
}

// HandleFeatures validates bbox/maxFeatures and returns the layer's features as GeoJSON
func HandleFeatures(logger *slog.Logger, cfg config.Config, svc Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, code: http.StatusOK}
		defer func() {
			observability.ObserveHTTP(r.Method, "/features", sw.code, time.Since(start).Seconds())
		}()

		fr, err := ParseFeatureRequest(r, cfg.WFS.MaxFeatures)
		if err != nil {
			http.Error(sw, err.Error(), http.StatusBadRequest)
			return
		}

		ctx := r.Context()
		layer := svc.LoadLayerInfo(ctx)
		fc, err := svc.FetchWfsData(ctx, layer, fr.BBox, fr.MaxFeatures)
		if err != nil {
			code := statusFor(err)
			logger.WarnContext(ctx, "features request failed", "status", code, "err", err)
			http.Error(sw, http.StatusText(code), code)
			return
		}

		b, err := fc.MarshalJSON()
		if err != nil {
			logger.ErrorContext(ctx, "encode feature collection", "err", err)
			http.Error(sw, "internal server error", http.StatusInternalServerError)
			return
		}
		sw.Header().Set("Content-Type", "application/geo+json")
		_, _ = sw.Write(b)
	}
}

// HandleClearCache drops cached entries of ?layer=, or everything when it is absent
func HandleClearCache(logger *slog.Logger, svc Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, code: http.StatusOK}
		layer := strings.TrimSpace(r.URL.Query().Get("layer"))
		if err := svc.ClearCache(r.Context(), layer); err != nil {
			logger.ErrorContext(r.Context(), "clear cache failed", "layer", layer, "err", err)
			http.Error(sw, "clear cache failed", http.StatusInternalServerError)
		} else {
			observability.IncInvalidation("http")
			sw.WriteHeader(http.StatusNoContent)
		}
		observability.ObserveHTTP(r.Method, "/cache", sw.code, time.Since(start).Seconds())
	}
}

type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}

func statusFor(err error) int {
	switch {
	case failure.Is(err, failure.KindTimeout), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case failure.Is(err, failure.KindNetwork):
		return http.StatusBadGateway
	case errors.Is(err, context.Canceled):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func writeJSON(w http.ResponseWriter, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(b)
}

// ParseFeatureRequest reads the optional bbox and maxFeatures parameters.
// maxFeatures above limit is clamped; absent means limit.
func ParseFeatureRequest(r *http.Request, limit int) (FeatureRequest, error) {
	if limit <= 0 {
		limit = model.MaxFeatures
	}
	fr := FeatureRequest{MaxFeatures: limit}

	if raw := strings.TrimSpace(r.URL.Query().Get("bbox")); raw != "" {
		bb, err := parseBBOX(raw)
		if err != nil {
			return FeatureRequest{}, fmt.Errorf("invalid bbox: %w", err)
		}
		fr.BBox = &bb
	}

	if raw := strings.TrimSpace(r.URL.Query().Get("maxFeatures")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			return FeatureRequest{}, fmt.Errorf("invalid maxFeatures %q: must be a positive integer", raw)
		}
		fr.MaxFeatures = min(n, limit)
	}
	return fr, nil
}

func parseBBOX(bboxParam string) (model.BBox, error) {
	parts := strings.Split(bboxParam, ",")
	if len(parts) != 4 && len(parts) != 5 {
		return model.BBox{}, errors.New("expected x1,y1,x2,y2[,EPSG:4326]")
	}
	var v [4]float64
	for i, name := range []string{"x1", "y1", "x2", "y2"} {
		f, err := parseFloat(parts[i])
		if err != nil {
			return model.BBox{}, fmt.Errorf("%s: %w", name, err)
		}
		v[i] = f
	}
	xMin, yMin, xMax, yMax := v[0], v[1], v[2], v[3]

	srid := model.WGS84
	if len(parts) == 5 {
		srid = strings.ToUpper(strings.TrimSpace(parts[4]))
	}
	if srid != model.WGS84 {
		return model.BBox{}, fmt.Errorf("only %s is supported (got %q)", model.WGS84, srid)
	}

	if !(xMin >= -180 && xMin <= 180 && xMax >= -180 && xMax <= 180) {
		return model.BBox{}, errors.New("longitude must be in [-180,180]")
	}
	if !(yMin >= -90 && yMin <= 90 && yMax >= -90 && yMax <= 90) {
		return model.BBox{}, errors.New("latitude must be in [-90,90]")
	}
	if xMax <= xMin || yMax <= yMin {
		return model.BBox{}, errors.New("coordinates must satisfy x2>x1 and y2>y1")
	}
	return model.BBox{X1: xMin, Y1: yMin, X2: xMax, Y2: yMax, SRID: srid}, nil
}

func parseFloat(v string) (float64, error) {
	f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
	if err != nil {
		return 0, fmt.Errorf("parse float: %w", err)
	}
	return f, nil
}
