package normalize

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/paulmach/orb"

	"github.com/mohammed-shakir/wfs-ingest/internal/xmlmap"
)

// gmlGeometry converts a decoded GML element of the given kind. GML positions are
// read as (lat, lon) / (northing, easting) and swapped into (x, y).
func gmlGeometry(kind Kind, body any) (orb.Geometry, error) {
	m, ok := first(body).(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%w: empty %s element", errUnrecognized, kind)
	}
	switch kind {
	case KindPoint:
		pts, err := gmlPoints(m, dimension(m, 2))
		if err != nil {
			return nil, err
		}
		return pts[0], nil
	case KindLineString:
		return gmlCurve(m)
	case KindPolygon:
		return gmlPolygon(m)
	case KindEnvelope:
		return gmlEnvelope(m)
	case KindMultiPoint:
		var out orb.MultiPoint
		err := eachMember(m, func(g orb.Geometry) error {
			switch t := g.(type) {
			case orb.Point:
				out = append(out, t)
			case orb.MultiPoint:
				out = append(out, t...)
			default:
				return fmt.Errorf("%w: %s in MultiPoint", errUnrecognized, g.GeoJSONType())
			}
			return nil
		}, "gml:pointMember", "pointMember", "gml:pointMembers", "pointMembers")
		return nonEmpty(out, len(out), err)
	case KindMultiLineString:
		var out orb.MultiLineString
		err := eachMember(m, func(g orb.Geometry) error {
			switch t := g.(type) {
			case orb.LineString:
				out = append(out, t)
			case orb.MultiLineString:
				out = append(out, t...)
			default:
				return fmt.Errorf("%w: %s in MultiCurve", errUnrecognized, g.GeoJSONType())
			}
			return nil
		}, "gml:curveMember", "curveMember", "gml:curveMembers", "curveMembers",
			"gml:lineStringMember", "lineStringMember", "gml:lineStringMembers", "lineStringMembers")
		return nonEmpty(out, len(out), err)
	case KindMultiPolygon:
		var out orb.MultiPolygon
		err := eachMember(m, func(g orb.Geometry) error {
			switch t := g.(type) {
			case orb.Polygon:
				out = append(out, t)
			case orb.MultiPolygon:
				out = append(out, t...)
			default:
				return fmt.Errorf("%w: %s in MultiSurface", errUnrecognized, g.GeoJSONType())
			}
			return nil
		}, "gml:surfaceMember", "surfaceMember", "gml:surfaceMembers", "surfaceMembers",
			"gml:polygonMember", "polygonMember", "gml:polygonMembers", "polygonMembers")
		if err == nil && len(out) == 0 {
			// CompositeSurface lists its members directly
			for _, g := range childGeometries(m) {
				if p, ok := g.(orb.Polygon); ok {
					out = append(out, p)
				}
			}
		}
		return nonEmpty(out, len(out), err)
	case KindGeometryCollection:
		var out orb.Collection
		err := eachMember(m, func(g orb.Geometry) error {
			out = append(out, g)
			return nil
		}, "gml:geometryMember", "geometryMember", "gml:geometryMembers", "geometryMembers")
		return nonEmpty(out, len(out), err)
	}
	return nil, fmt.Errorf("%w: %s", errUnrecognized, kind)
}

func nonEmpty(g orb.Geometry, n int, err error) (orb.Geometry, error) {
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, fmt.Errorf("%w: no members", errUnrecognized)
	}
	return g, nil
}

// eachMember decodes every geometry wrapped by the named member properties
func eachMember(m map[string]any, fn func(orb.Geometry) error, names ...string) error {
	for _, item := range lookupEach(m, names...) {
		for _, g := range childGeometries(item) {
			if err := fn(g); err != nil {
				return err
			}
		}
	}
	return nil
}

func lookupEach(m map[string]any, names ...string) []any {
	var out []any
	seen := map[string]bool{}
	for _, n := range names {
		local := xmlmap.Local(n)
		if seen[local] {
			continue
		}
		if vals := xmlmap.LookupAll(m, n); len(vals) > 0 {
			seen[local] = true
			out = append(out, vals...)
		}
	}
	return out
}

// childGeometries decodes each geometry-named child of a member element
func childGeometries(v any) []orb.Geometry {
	m, ok := v.(map[string]any)
	if !ok {
		return nil
	}
	var out []orb.Geometry
	for _, k := range sortedKeys(m) {
		kind := KindOf(k)
		if kind == KindUnrecognized || kind == KindEnvelope {
			continue
		}
		for _, body := range xmlmap.Items(m[k]) {
			if g, err := gmlGeometry(kind, body); err == nil {
				out = append(out, g)
			}
		}
	}
	return out
}

func gmlCurve(m map[string]any) (orb.Geometry, error) {
	if segs, ok := xmlmap.LookupMap(m, "gml:segments", "segments"); ok {
		var out orb.LineString
		for _, seg := range lookupEach(segs, "gml:LineStringSegment", "LineStringSegment", "gml:ArcString", "ArcString") {
			sm, ok := seg.(map[string]any)
			if !ok {
				continue
			}
			pts, err := gmlPoints(sm, dimension(sm, dimension(m, 2)))
			if err != nil {
				return nil, err
			}
			if len(out) > 0 && len(pts) > 0 && out[len(out)-1] == pts[0] {
				pts = pts[1:]
			}
			out = append(out, pts...)
		}
		if len(out) == 0 {
			return nil, fmt.Errorf("%w: curve without segments", errUnrecognized)
		}
		return out, nil
	}
	pts, err := gmlPoints(m, dimension(m, 2))
	if err != nil {
		return nil, err
	}
	return orb.LineString(pts), nil
}

func gmlPolygon(m map[string]any) (orb.Geometry, error) {
	if patches, ok := xmlmap.LookupMap(m, "gml:patches", "patches"); ok {
		var out orb.MultiPolygon
		for _, p := range lookupEach(patches, "gml:PolygonPatch", "PolygonPatch") {
			pm, ok := p.(map[string]any)
			if !ok {
				continue
			}
			g, err := gmlPolygon(pm)
			if err != nil {
				return nil, err
			}
			if poly, ok := g.(orb.Polygon); ok {
				out = append(out, poly)
			}
		}
		switch len(out) {
		case 0:
			return nil, fmt.Errorf("%w: surface without patches", errUnrecognized)
		case 1:
			return out[0], nil
		}
		return out, nil
	}

	dim := dimension(m, 2)
	shell, ok := xmlmap.Lookup(m, "gml:exterior", "exterior", "gml:outerBoundaryIs", "outerBoundaryIs")
	if !ok {
		return nil, fmt.Errorf("%w: polygon without exterior", errUnrecognized)
	}
	outer, err := gmlRing(first(shell), dim)
	if err != nil {
		return nil, err
	}
	poly := orb.Polygon{outer}
	for _, h := range lookupEach(m, "gml:interior", "interior", "gml:innerBoundaryIs", "innerBoundaryIs") {
		ring, err := gmlRing(h, dim)
		if err != nil {
			return nil, err
		}
		poly = append(poly, ring)
	}
	return poly, nil
}

func gmlRing(v any, dim int) (orb.Ring, error) {
	bm, ok := v.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%w: empty ring", errUnrecognized)
	}
	rm, ok := xmlmap.LookupMap(bm, "gml:LinearRing", "LinearRing")
	if !ok {
		// gml:Ring composed of curve members
		if ring, ok := xmlmap.LookupMap(bm, "gml:Ring", "Ring"); ok {
			var pts []orb.Point
			for _, g := range memberCurves(ring) {
				pts = append(pts, g...)
			}
			if len(pts) == 0 {
				return nil, fmt.Errorf("%w: empty ring", errUnrecognized)
			}
			return closeRing(pts), nil
		}
		return nil, fmt.Errorf("%w: ring without LinearRing", errUnrecognized)
	}
	pts, err := gmlPoints(rm, dimension(rm, dim))
	if err != nil {
		return nil, err
	}
	return closeRing(pts), nil
}

func memberCurves(m map[string]any) []orb.LineString {
	var out []orb.LineString
	for _, item := range lookupEach(m, "gml:curveMember", "curveMember") {
		for _, g := range childGeometries(item) {
			if ls, ok := g.(orb.LineString); ok {
				out = append(out, ls)
			}
		}
	}
	return out
}

func gmlEnvelope(m map[string]any) (orb.Geometry, error) {
	var pts []orb.Point
	lower := xmlmap.LookupText(m, "gml:lowerCorner", "lowerCorner")
	upper := xmlmap.LookupText(m, "gml:upperCorner", "upperCorner")
	if lower != "" && upper != "" {
		lo, err := parsePosList(lower, 2)
		if err != nil {
			return nil, err
		}
		hi, err := parsePosList(upper, 2)
		if err != nil {
			return nil, err
		}
		pts = append(lo, hi...)
	} else {
		var err error
		if pts, err = gmlPoints(m, 2); err != nil {
			return nil, err
		}
	}
	if len(pts) < 2 {
		return nil, fmt.Errorf("%w: envelope needs two corners", errUnrecognized)
	}
	b := orb.Bound{Min: pts[0], Max: pts[0]}.Extend(pts[1])
	return b.ToPolygon(), nil
}

// gmlPoints reads posList, pos, coordinates or coord children in that order
func gmlPoints(m map[string]any, dim int) ([]orb.Point, error) {
	var pts []orb.Point
	if lists := lookupEach(m, "gml:posList", "posList"); len(lists) > 0 {
		for _, l := range lists {
			d := dim
			if lm, ok := l.(map[string]any); ok {
				d = dimension(lm, dim)
			}
			p, err := parsePosList(xmlmap.Text(l), d)
			if err != nil {
				return nil, err
			}
			pts = append(pts, p...)
		}
	} else if poss := lookupEach(m, "gml:pos", "pos"); len(poss) > 0 {
		for _, p := range poss {
			d := dim
			if pm, ok := p.(map[string]any); ok {
				d = dimension(pm, dim)
			}
			pp, err := parsePosList(xmlmap.Text(p), d)
			if err != nil {
				return nil, err
			}
			if len(pp) != 1 {
				return nil, fmt.Errorf("%w: pos holds %d positions", errUnrecognized, len(pp))
			}
			pts = append(pts, pp[0])
		}
	} else if coords := lookupEach(m, "gml:coordinates", "coordinates"); len(coords) > 0 {
		for _, c := range coords {
			cs, ts := ",", " "
			if cm, ok := c.(map[string]any); ok {
				if v := xmlmap.Attr(cm, "cs"); v != "" {
					cs = v
				}
				if v := xmlmap.Attr(cm, "ts"); v != "" {
					ts = v
				}
			}
			p, err := parseCoordinates(xmlmap.Text(c), cs, ts)
			if err != nil {
				return nil, err
			}
			pts = append(pts, p...)
		}
	} else {
		for _, c := range lookupEach(m, "gml:coord", "coord") {
			cm, ok := c.(map[string]any)
			if !ok {
				continue
			}
			x, okx := number(xmlmap.LookupText(cm, "gml:X", "X"))
			y, oky := number(xmlmap.LookupText(cm, "gml:Y", "Y"))
			if !okx || !oky {
				return nil, fmt.Errorf("%w: bad coord", errUnrecognized)
			}
			pts = append(pts, orb.Point{y, x})
		}
	}
	if len(pts) == 0 {
		return nil, fmt.Errorf("%w: no positions", errUnrecognized)
	}
	return pts, nil
}

func parsePosList(s string, dim int) ([]orb.Point, error) {
	fields := strings.Fields(s)
	if dim < 2 {
		dim = 2
	}
	if len(fields) == 0 || len(fields)%dim != 0 {
		return nil, fmt.Errorf("%w: %d ordinates for dimension %d", errUnrecognized, len(fields), dim)
	}
	out := make([]orb.Point, 0, len(fields)/dim)
	for i := 0; i < len(fields); i += dim {
		a, err := strconv.ParseFloat(fields[i], 64)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", errUnrecognized, err)
		}
		b, err := strconv.ParseFloat(fields[i+1], 64)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", errUnrecognized, err)
		}
		out = append(out, orb.Point{b, a})
	}
	return out, nil
}

func parseCoordinates(s, cs, ts string) ([]orb.Point, error) {
	var tuples []string
	if strings.TrimSpace(ts) == "" {
		tuples = strings.Fields(s)
	} else {
		tuples = strings.Split(s, ts)
	}
	out := make([]orb.Point, 0, len(tuples))
	for _, t := range tuples {
		t = strings.TrimSpace(t)
		if t == "" {
			continue
		}
		parts := strings.Split(t, cs)
		if len(parts) < 2 {
			return nil, fmt.Errorf("%w: tuple %q", errUnrecognized, t)
		}
		a, err := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", errUnrecognized, err)
		}
		b, err := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", errUnrecognized, err)
		}
		out = append(out, orb.Point{b, a})
	}
	return out, nil
}

func dimension(m map[string]any, def int) int {
	if s := xmlmap.Attr(m, "srsDimension"); s != "" {
		if n, err := strconv.Atoi(s); err == nil && n >= 2 {
			return n
		}
	}
	return def
}

func first(v any) any {
	if arr, ok := v.([]any); ok {
		if len(arr) == 0 {
			return nil
		}
		return arr[0]
	}
	return v
}
