// Package crs detects the spatial reference of feature collections and reprojects them to WGS84.
package crs

import (
	"strconv"
	"strings"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/mohammed-shakir/wfs-ingest/internal/core/model"
)

// Member is the collection-level foreign member carrying the reference system
const Member = "crs"

// Evidence records which detection rule produced a reference
type Evidence string

const (
	EvidenceAnnotation  Evidence = "annotation"
	EvidenceProperty    Evidence = "property"
	EvidenceCoordinates Evidence = "coordinates"
	EvidenceDefault     Evidence = "default"
)

// projected envelope of NZTM2000 used by the range heuristic
const (
	nztmMinE = 1_000_000
	nztmMaxE = 2_200_000
	nztmMinN = 4_700_000
	nztmMaxN = 6_300_000
)

const sampleLimit = 16

var propertyHints = []string{"crs", "srid", "srs"}

// Normalize maps the many spellings of a reference to "EPSG:<code>".
// Unrecognized input is returned trimmed.
func Normalize(ref string) string {
	s := strings.TrimSpace(ref)
	if s == "" {
		return ""
	}
	up := strings.ToUpper(s)
	if strings.HasSuffix(up, "CRS84") {
		return model.WGS84
	}
	if code, ok := strings.CutPrefix(up, "EPSG:"); ok && isDigits(code) {
		return "EPSG:" + code
	}
	if isDigits(s) {
		return "EPSG:" + s
	}
	if strings.Contains(up, "EPSG") {
		// urn:ogc:def:crs:EPSG::2193, .../def/crs/EPSG/0/2193, .../epsg.xml#2193
		if code := trailingDigits(s); code != "" {
			return "EPSG:" + code
		}
	}
	return s
}

// Detect returns the normalized reference of fc, falling back to WGS84
func Detect(fc *geojson.FeatureCollection) string {
	ref, _ := DetectWithEvidence(fc)
	return ref
}

// DetectWithEvidence applies the detection rules in order: collection annotation,
// per-feature property hints, coordinate ranges, then WGS84.
func DetectWithEvidence(fc *geojson.FeatureCollection) (string, Evidence) {
	if fc == nil {
		return model.WGS84, EvidenceDefault
	}
	if ref := refFromMember(fc.ExtraMembers[Member]); ref != "" {
		return ref, EvidenceAnnotation
	}
	for _, f := range fc.Features {
		if f == nil {
			continue
		}
		for _, k := range propertyHints {
			if ref := refFromMember(f.Properties[k]); ref != "" {
				return ref, EvidenceProperty
			}
		}
	}
	if ref := fromCoordinates(fc); ref != "" {
		return ref, EvidenceCoordinates
	}
	return model.WGS84, EvidenceDefault
}

// refFromMember accepts a bare string, a number, or a GeoJSON named crs object
func refFromMember(v any) string {
	switch t := v.(type) {
	case string:
		return Normalize(t)
	case float64:
		if t > 0 && t == float64(int64(t)) {
			return "EPSG:" + strconv.FormatInt(int64(t), 10)
		}
	case int:
		if t > 0 {
			return "EPSG:" + strconv.Itoa(t)
		}
	case map[string]any:
		if props, ok := t["properties"].(map[string]any); ok {
			if name, ok := props["name"].(string); ok {
				return Normalize(name)
			}
			if code, ok := props["code"]; ok {
				return refFromMember(code)
			}
		}
		if name, ok := t["name"].(string); ok {
			return Normalize(name)
		}
	}
	return ""
}

func fromCoordinates(fc *geojson.FeatureCollection) string {
	var pts []orb.Point
	for _, f := range fc.Features {
		if f == nil || f.Geometry == nil {
			continue
		}
		pts = samplePoints(f.Geometry, pts)
		if len(pts) >= sampleLimit {
			break
		}
	}
	if len(pts) == 0 {
		return ""
	}
	projected, geographic := true, true
	for _, p := range pts {
		if !inNZTMEnvelope(p) {
			projected = false
		}
		if p[0] < -180 || p[0] > 180 || p[1] < -90 || p[1] > 90 {
			geographic = false
		}
	}
	switch {
	case projected:
		return model.NZTM2000
	case geographic:
		return model.WGS84
	}
	return ""
}

func inNZTMEnvelope(p orb.Point) bool {
	return p[0] >= nztmMinE && p[0] <= nztmMaxE && p[1] >= nztmMinN && p[1] <= nztmMaxN
}

func samplePoints(g orb.Geometry, acc []orb.Point) []orb.Point {
	if len(acc) >= sampleLimit {
		return acc
	}
	switch t := g.(type) {
	case orb.Point:
		return append(acc, t)
	case orb.MultiPoint:
		return appendPoints(acc, t)
	case orb.LineString:
		return appendPoints(acc, t)
	case orb.Ring:
		return appendPoints(acc, t)
	case orb.Polygon:
		for _, r := range t {
			acc = appendPoints(acc, r)
		}
	case orb.MultiLineString:
		for _, ls := range t {
			acc = appendPoints(acc, ls)
		}
	case orb.MultiPolygon:
		for _, p := range t {
			acc = samplePoints(p, acc)
		}
	case orb.Collection:
		for _, m := range t {
			acc = samplePoints(m, acc)
		}
	}
	return acc
}

func appendPoints[S ~[]orb.Point](acc []orb.Point, pts S) []orb.Point {
	for _, p := range pts {
		if len(acc) >= sampleLimit {
			break
		}
		acc = append(acc, p)
	}
	return acc
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

func trailingDigits(s string) string {
	i := len(s)
	for i > 0 && s[i-1] >= '0' && s[i-1] <= '9' {
		i--
	}
	return s[i:]
}
