package crs

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/mohammed-shakir/wfs-ingest/internal/core/failure"
	"github.com/mohammed-shakir/wfs-ingest/internal/core/model"
	"github.com/mohammed-shakir/wfs-ingest/internal/core/observability"
)

type pointFunc func(orb.Point) orb.Point

type Transformer struct {
	log         *slog.Logger
	projections map[string]TransverseMercator
}

func NewTransformer(log *slog.Logger) *Transformer {
	if log == nil {
		log = slog.Default()
	}
	return &Transformer{
		log:         log,
		projections: map[string]TransverseMercator{model.NZTM2000: NZTM2000},
	}
}

// Supports reports whether a transform between the two references is implemented
func (t *Transformer) Supports(source, target string) bool {
	source, target = Normalize(source), Normalize(target)
	if source == target {
		return true
	}
	if target == model.WGS84 {
		_, ok := t.projections[source]
		return ok
	}
	if source == model.WGS84 {
		_, ok := t.projections[target]
		return ok
	}
	return false
}

// Transform reprojects fc from source to target. An empty source is detected from fc,
// an empty target means WGS84. The input collection is never modified; when source and
// target coincide it is returned as is.
func (t *Transformer) Transform(ctx context.Context, fc *geojson.FeatureCollection, source, target string) (*geojson.FeatureCollection, error) {
	if fc == nil {
		return geojson.NewFeatureCollection(), nil
	}
	if source = Normalize(source); source == "" {
		source = Detect(fc)
	}
	if target = Normalize(target); target == "" {
		target = model.WGS84
	}
	if source == target {
		return fc, nil
	}

	var (
		fallbacks int
		firstErr  error
	)
	var fn pointFunc
	switch {
	case target == model.WGS84 && t.has(source):
		proj := t.projections[source]
		fn = func(p orb.Point) orb.Point {
			lon, lat, err := proj.Inverse(p[0], p[1])
			if err != nil {
				fallbacks++
				if firstErr == nil {
					firstErr = err
				}
				observability.IncTransformFallback()
				lon, lat = proj.Approximate(p[0], p[1])
			}
			return orb.Point{lon, lat}
		}
	case source == model.WGS84 && t.has(target):
		proj := t.projections[target]
		fn = func(p orb.Point) orb.Point {
			e, n, err := proj.Forward(p[0], p[1])
			if err != nil {
				fallbacks++
				if firstErr == nil {
					firstErr = err
				}
				return p
			}
			return orb.Point{e, n}
		}
	default:
		return fc, failure.New(failure.KindTransform, "crs.transform",
			fmt.Errorf("unsupported transform %s -> %s", source, target))
	}

	out := geojson.NewFeatureCollection()
	out.ExtraMembers = fc.ExtraMembers.Clone()
	if out.ExtraMembers == nil {
		out.ExtraMembers = geojson.Properties{}
	}
	out.ExtraMembers[Member] = target
	out.Features = make([]*geojson.Feature, 0, len(fc.Features))
	for _, f := range fc.Features {
		if f == nil {
			continue
		}
		nf := &geojson.Feature{
			ID:         f.ID,
			Type:       f.Type,
			Geometry:   transformGeometry(f.Geometry, fn),
			Properties: f.Properties.Clone(),
		}
		out.Features = append(out.Features, nf)
	}

	if fallbacks > 0 {
		t.log.WarnContext(ctx, "crs transform fell back to linear approximation",
			"source", source, "target", target, "points", fallbacks, "err", firstErr)
	}
	return out, nil
}

func (t *Transformer) has(ref string) bool {
	_, ok := t.projections[ref]
	return ok
}

func transformGeometry(g orb.Geometry, fn pointFunc) orb.Geometry {
	switch v := g.(type) {
	case nil:
		return nil
	case orb.Point:
		return fn(v)
	case orb.MultiPoint:
		return orb.MultiPoint(transformPoints(v, fn))
	case orb.LineString:
		return orb.LineString(transformPoints(v, fn))
	case orb.Ring:
		return orb.Ring(transformPoints(v, fn))
	case orb.Polygon:
		return transformPolygon(v, fn)
	case orb.MultiLineString:
		out := make(orb.MultiLineString, len(v))
		for i, ls := range v {
			out[i] = orb.LineString(transformPoints(ls, fn))
		}
		return out
	case orb.MultiPolygon:
		out := make(orb.MultiPolygon, len(v))
		for i, p := range v {
			out[i] = transformPolygon(p, fn)
		}
		return out
	case orb.Collection:
		out := make(orb.Collection, len(v))
		for i, m := range v {
			out[i] = transformGeometry(m, fn)
		}
		return out
	case orb.Bound:
		return orb.Bound{Min: fn(v.Min), Max: fn(v.Max)}
	}
	return g
}

func transformPolygon(p orb.Polygon, fn pointFunc) orb.Polygon {
	out := make(orb.Polygon, len(p))
	for i, r := range p {
		out[i] = orb.Ring(transformPoints(r, fn))
	}
	return out
}

func transformPoints[S ~[]orb.Point](pts S, fn pointFunc) []orb.Point {
	out := make([]orb.Point, len(pts))
	for i, p := range pts {
		out[i] = fn(p)
	}
	return out
}
