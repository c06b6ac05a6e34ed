package normalize

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/paulmach/orb"

	"github.com/mohammed-shakir/wfs-ingest/internal/xmlmap"
)

var errUnrecognized = errors.New("unrecognized geometry")

// extractGeometry reads a geometry from a GeoJSON object, an Esri JSON object or a
// decoded GML element tree. Objects that match none of them are searched one level deep.
func extractGeometry(v any, fromXML bool) (orb.Geometry, error) {
	return geometryAt(v, fromXML, 0)
}

func geometryAt(v any, fromXML bool, depth int) (orb.Geometry, error) {
	if arr, ok := v.([]any); ok && len(arr) == 1 {
		v = arr[0]
	}
	m, ok := v.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%w: %T", errUnrecognized, v)
	}

	if t, ok := m["type"].(string); ok && !fromXML {
		if g, err := geoJSONGeometry(KindOf(t), m); err == nil || !errors.Is(err, errUnrecognized) {
			return g, err
		}
	}
	if !fromXML {
		if g, ok, err := esriGeometry(m); ok {
			return g, err
		}
	}
	keys := sortedKeys(m)
	for _, k := range keys {
		if strings.HasPrefix(k, xmlmap.AttrPrefix) {
			continue
		}
		if kind := KindOf(k); kind != KindUnrecognized {
			return gmlGeometry(kind, m[k])
		}
	}
	if depth > 0 {
		return nil, errUnrecognized
	}
	for _, k := range keys {
		if strings.HasPrefix(k, xmlmap.AttrPrefix) || k == xmlmap.TextKey {
			continue
		}
		switch m[k].(type) {
		case map[string]any, []any:
			if g, err := geometryAt(m[k], fromXML, depth+1); err == nil {
				return g, nil
			}
		}
	}
	return nil, errUnrecognized
}

// ---- GeoJSON

func geoJSONGeometry(kind Kind, m map[string]any) (orb.Geometry, error) {
	if kind == KindGeometryCollection {
		members, ok := m["geometries"].([]any)
		if !ok {
			return nil, fmt.Errorf("%w: collection without geometries", errUnrecognized)
		}
		out := make(orb.Collection, 0, len(members))
		for _, mm := range members {
			g, err := geometryAt(mm, false, 1)
			if err != nil {
				return nil, err
			}
			out = append(out, g)
		}
		return out, nil
	}
	coords, ok := m["coordinates"]
	if !ok {
		return nil, fmt.Errorf("%w: no coordinates", errUnrecognized)
	}
	switch kind {
	case KindPoint:
		return jsonPoint(coords)
	case KindLineString:
		pts, err := jsonPoints(coords)
		return orb.LineString(pts), err
	case KindMultiPoint:
		pts, err := jsonPoints(coords)
		return orb.MultiPoint(pts), err
	case KindPolygon:
		return jsonPolygon(coords)
	case KindMultiLineString:
		parts, ok := coords.([]any)
		if !ok {
			return nil, errBadCoordinates(coords)
		}
		out := make(orb.MultiLineString, 0, len(parts))
		for _, p := range parts {
			pts, err := jsonPoints(p)
			if err != nil {
				return nil, err
			}
			out = append(out, pts)
		}
		return out, nil
	case KindMultiPolygon:
		parts, ok := coords.([]any)
		if !ok {
			return nil, errBadCoordinates(coords)
		}
		out := make(orb.MultiPolygon, 0, len(parts))
		for _, p := range parts {
			poly, err := jsonPolygon(p)
			if err != nil {
				return nil, err
			}
			out = append(out, poly)
		}
		return out, nil
	}
	return nil, fmt.Errorf("%w: type %v", errUnrecognized, m["type"])
}

func jsonPoint(v any) (orb.Point, error) {
	arr, ok := v.([]any)
	if !ok || len(arr) < 2 {
		return orb.Point{}, errBadCoordinates(v)
	}
	x, okx := number(arr[0])
	y, oky := number(arr[1])
	if !okx || !oky {
		return orb.Point{}, errBadCoordinates(v)
	}
	return orb.Point{x, y}, nil
}

func jsonPoints(v any) ([]orb.Point, error) {
	arr, ok := v.([]any)
	if !ok {
		return nil, errBadCoordinates(v)
	}
	out := make([]orb.Point, 0, len(arr))
	for _, c := range arr {
		p, err := jsonPoint(c)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

func jsonPolygon(v any) (orb.Polygon, error) {
	rings, ok := v.([]any)
	if !ok || len(rings) == 0 {
		return nil, errBadCoordinates(v)
	}
	out := make(orb.Polygon, 0, len(rings))
	for _, r := range rings {
		pts, err := jsonPoints(r)
		if err != nil {
			return nil, err
		}
		out = append(out, closeRing(pts))
	}
	return out, nil
}

// ---- Esri JSON

// esriGeometry reports ok=false when m carries none of the Esri geometry members
func esriGeometry(m map[string]any) (orb.Geometry, bool, error) {
	if xv, ok := m["x"]; ok {
		x, okx := number(xv)
		y, oky := number(m["y"])
		if !okx || !oky {
			return nil, true, errBadCoordinates(m)
		}
		return orb.Point{x, y}, true, nil
	}
	if pts, ok := m["points"]; ok {
		p, err := jsonPoints(pts)
		return orb.MultiPoint(p), true, err
	}
	if paths, ok := m["paths"].([]any); ok {
		out := make(orb.MultiLineString, 0, len(paths))
		for _, p := range paths {
			pts, err := jsonPoints(p)
			if err != nil {
				return nil, true, err
			}
			out = append(out, pts)
		}
		if len(out) == 1 {
			return out[0], true, nil
		}
		return out, true, nil
	}
	if rings, ok := m["rings"].([]any); ok {
		g, err := esriRings(rings)
		return g, true, err
	}
	return nil, false, nil
}

// esriRings groups rings into polygons: clockwise rings are shells, the
// counter-clockwise rings that follow them are holes
func esriRings(rings []any) (orb.Geometry, error) {
	var out orb.MultiPolygon
	for _, r := range rings {
		pts, err := jsonPoints(r)
		if err != nil {
			return nil, err
		}
		ring := closeRing(pts)
		if ring.Orientation() == orb.CCW && len(out) > 0 {
			last := len(out) - 1
			out[last] = append(out[last], ring)
			continue
		}
		out = append(out, orb.Polygon{ring})
	}
	switch len(out) {
	case 0:
		return nil, fmt.Errorf("%w: empty rings", errUnrecognized)
	case 1:
		return out[0], nil
	}
	return out, nil
}

// ---- helpers

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func closeRing(pts []orb.Point) orb.Ring {
	if n := len(pts); n > 0 && pts[0] != pts[n-1] {
		pts = append(pts, pts[0])
	}
	return orb.Ring(pts)
}

func number(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		return f, err == nil
	}
	return 0, false
}

func errBadCoordinates(v any) error {
	return fmt.Errorf("%w: bad coordinates %T", errUnrecognized, v)
}
