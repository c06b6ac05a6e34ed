package normalize

import "strings"

// Kind is the geometry variant a source element or type tag declares
type Kind int

const (
	KindUnrecognized Kind = iota
	KindPoint
	KindLineString
	KindPolygon
	KindMultiPoint
	KindMultiLineString
	KindMultiPolygon
	KindGeometryCollection
	KindEnvelope
)

var kindNames = [...]string{
	KindUnrecognized:       "Unrecognized",
	KindPoint:              "Point",
	KindLineString:         "LineString",
	KindPolygon:            "Polygon",
	KindMultiPoint:         "MultiPoint",
	KindMultiLineString:    "MultiLineString",
	KindMultiPolygon:       "MultiPolygon",
	KindGeometryCollection: "GeometryCollection",
	KindEnvelope:           "Envelope",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return kindNames[KindUnrecognized]
}

// schema maps GeoJSON type tags and GML element local names onto kinds.
// GML curve and surface variants alias to their nearest simple feature.
var schema = map[string]Kind{
	"point":              KindPoint,
	"linestring":         KindLineString,
	"curve":              KindLineString,
	"linearring":         KindLineString,
	"polygon":            KindPolygon,
	"surface":            KindPolygon,
	"multipoint":         KindMultiPoint,
	"multilinestring":    KindMultiLineString,
	"multicurve":         KindMultiLineString,
	"multipolygon":       KindMultiPolygon,
	"multisurface":       KindMultiPolygon,
	"geometrycollection": KindGeometryCollection,
	"multigeometry":      KindGeometryCollection,
	"compositecurve":     KindLineString,
	"compositesurface":   KindMultiPolygon,
	"envelope":           KindEnvelope,
	"box":                KindEnvelope,
}

// KindOf resolves a type tag or (possibly prefixed) element name
func KindOf(name string) Kind {
	if i := strings.LastIndex(name, ":"); i >= 0 {
		name = name[i+1:]
	}
	return schema[strings.ToLower(name)]
}

// IsGeometryKey reports whether a property key names a geometry source
func IsGeometryKey(key string) bool {
	if i := strings.LastIndex(key, ":"); i >= 0 {
		key = key[i+1:]
	}
	k := strings.ToLower(key)
	return k == "geometry" || strings.Contains(k, "geom") || strings.Contains(k, "shape")
}
