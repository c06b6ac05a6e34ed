// Package normalize converts decoded WFS payloads (GeoJSON, member-wrapped JSON, Esri JSON
// and GML) into canonical GeoJSON feature collections.
package normalize

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"strings"

	json "github.com/goccy/go-json"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/mohammed-shakir/wfs-ingest/internal/cache"
	"github.com/mohammed-shakir/wfs-ingest/internal/cache/keys"
	"github.com/mohammed-shakir/wfs-ingest/internal/core/failure"
	"github.com/mohammed-shakir/wfs-ingest/internal/core/observability"
	"github.com/mohammed-shakir/wfs-ingest/internal/logger"
	"github.com/mohammed-shakir/wfs-ingest/internal/xmlmap"
)

const DefaultBatchSize = 100

// CRSMember is the collection foreign member that records the source reference system
const CRSMember = "crs"

var (
	ErrEmptyInput  = errors.New("empty payload")
	ErrNoFeatures  = errors.New("no feature collection found")
	ErrUnsupported = errors.New("unsupported payload type")
)

// Document is implemented by payloads that were already decoded upstream
type Document interface {
	Value() any
	IsXML() bool
}

// element names that must decode as arrays even when a single instance is present
var forceArrayNames = []string{
	"member", "featureMember", "featureMembers",
	"pos", "posList", "coordinates",
	"surfaceMember", "curveMember", "pointMember", "polygonMember",
	"lineStringMember", "geometryMember",
	"interior", "innerBoundaryIs",
}

// XMLOptions is the decoder configuration every GML payload must be parsed with
func XMLOptions() xmlmap.Options {
	return xmlmap.Options{ForceArray: xmlmap.ForceNames(forceArrayNames...)}
}

var memberNames = []string{
	"wfs:member", "member",
	"gml:featureMember", "featureMember",
	"gml:featureMembers", "featureMembers",
	"members",
}

type Options struct {
	BatchSize  int
	Geometries *cache.Bounded[orb.Geometry]
	Logger     *slog.Logger
}

type Normalizer struct {
	log   *slog.Logger
	batch int
	geoms *cache.Bounded[orb.Geometry]
}

func New(opts Options) *Normalizer {
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultBatchSize
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Normalizer{log: opts.Logger, batch: opts.BatchSize, geoms: opts.Geometries}
}

type source struct {
	items    []any
	strategy string
	fromXML  bool
	crs      any
}

// Normalize converts raw into a collection holding only features with a geometry.
// Unusable input yields an empty collection together with a parse error.
func (n *Normalizer) Normalize(ctx context.Context, raw any, layerID string) (*geojson.FeatureCollection, error) {
	ctx = logger.WithLayer(logger.WithComponent(ctx, "normalize"), layerID)

	doc, fromXML, err := decodeInput(raw)
	if err != nil {
		n.log.WarnContext(ctx, "normalize: unreadable payload", "err", err)
		return geojson.NewFeatureCollection(), failure.New(failure.KindParse, "normalize", err)
	}
	if fc, ok := doc.(*geojson.FeatureCollection); ok {
		return CloneCollection(fc), nil
	}

	src, err := locate(doc, fromXML)
	if err != nil {
		n.log.WarnContext(ctx, "normalize: no feature source", "err", err)
		return geojson.NewFeatureCollection(), failure.New(failure.KindParse, "normalize", err)
	}
	if src.strategy == "heuristic" {
		n.log.DebugContext(ctx, "normalize: heuristic feature source", "items", len(src.items))
	}

	fc := geojson.NewFeatureCollection()
	fc.Features = make([]*geojson.Feature, 0, len(src.items))
	crsRef := src.crs
	dropped := 0
	for start := 0; start < len(src.items); start += n.batch {
		if start > 0 {
			runtime.Gosched()
			if err := ctx.Err(); err != nil {
				return fc, err
			}
		}
		end := min(start+n.batch, len(src.items))
		for i, item := range src.items[start:end] {
			f, srs, err := n.feature(item, src.fromXML)
			if err != nil {
				dropped++
				n.log.DebugContext(ctx, "normalize: feature dropped", "index", start+i, "err", err)
				continue
			}
			if crsRef == nil && srs != "" {
				crsRef = srs
			}
			fc.Append(f)
		}
	}
	if crsRef != nil {
		fc.ExtraMembers = geojson.Properties{CRSMember: crsRef}
	}
	if dropped > 0 {
		observability.AddFeaturesDropped("geometry", dropped)
		n.log.DebugContext(ctx, "normalize: done",
			"features", len(fc.Features), "dropped", dropped, "source", src.strategy)
	}
	return fc, nil
}

func decodeInput(raw any) (any, bool, error) {
	switch v := raw.(type) {
	case nil:
		return nil, false, ErrEmptyInput
	case Document:
		if v.Value() == nil {
			return nil, false, ErrEmptyInput
		}
		return v.Value(), v.IsXML(), nil
	case *geojson.FeatureCollection:
		return v, false, nil
	case map[string]any:
		return v, false, nil
	case []any:
		return v, false, nil
	case []byte:
		return decodeBytes(v)
	case string:
		return decodeBytes([]byte(v))
	}
	return nil, false, fmt.Errorf("%w: %T", ErrUnsupported, raw)
}

func decodeBytes(b []byte) (any, bool, error) {
	b = bytes.TrimSpace(bytes.TrimPrefix(b, []byte("\xef\xbb\xbf")))
	if len(b) == 0 {
		return nil, false, ErrEmptyInput
	}
	switch b[0] {
	case '<':
		doc, err := xmlmap.DecodeBytes(b, XMLOptions())
		if err != nil {
			return nil, true, fmt.Errorf("decode xml: %w", err)
		}
		return doc, true, nil
	case '{', '[':
		var v any
		if err := json.Unmarshal(b, &v); err != nil {
			return nil, false, fmt.Errorf("decode json: %w", err)
		}
		return v, false, nil
	}
	return nil, false, fmt.Errorf("%w: leading byte %q", ErrUnsupported, b[0])
}

// locate picks the array of raw features: a features array, a member wrapper,
// or, failing both, the first array of objects found on the document.
func locate(doc any, fromXML bool) (source, error) {
	src := source{fromXML: fromXML}
	switch v := doc.(type) {
	case []any:
		src.items, src.strategy = v, "array"
		return src, nil
	case map[string]any:
		m := v
		if !fromXML {
			src.crs = m["crs"]
		}
		if feats, ok := m["features"]; ok {
			arr, _ := feats.([]any)
			src.items, src.strategy = arr, "features"
			return src, nil
		}
		if t, _ := m["type"].(string); t == "Feature" {
			src.items, src.strategy = []any{m}, "feature"
			return src, nil
		}
		if fromXML {
			name, body, ok := xmlmap.Root(m)
			if !ok {
				return src, ErrNoFeatures
			}
			if xmlmap.Local(name) == "ExceptionReport" {
				return src, fmt.Errorf("service exception: %s", exceptionText(body))
			}
			if s := findSRS(body, 0); s != "" {
				src.crs = s
			}
			m = body
		}
		if _, ok := xmlmap.Lookup(m, memberNames...); ok {
			src.items, src.strategy = unwrapMembers(lookupEach(m, memberNames...)), "member"
			return src, nil
		}
		for _, k := range sortedKeys(m) {
			if arr, ok := m[k].([]any); ok && hasObject(arr) {
				src.items, src.strategy = arr, "heuristic"
				return src, nil
			}
		}
	}
	return src, ErrNoFeatures
}

// unwrapMembers returns the typed feature objects held by each member element
func unwrapMembers(members []any) []any {
	out := make([]any, 0, len(members))
	for _, it := range members {
		mm, ok := it.(map[string]any)
		if !ok {
			out = append(out, it)
			continue
		}
		if isFeatureObject(mm) {
			out = append(out, mm)
			continue
		}
		for _, k := range sortedKeys(mm) {
			if strings.HasPrefix(k, xmlmap.AttrPrefix) || k == xmlmap.TextKey {
				continue
			}
			out = append(out, xmlmap.Items(mm[k])...)
		}
	}
	return out
}

func isFeatureObject(m map[string]any) bool {
	if t, _ := m["type"].(string); t == "Feature" {
		return true
	}
	_, g := m["geometry"]
	_, p := m["properties"]
	_, a := m["attributes"]
	return g || p || a
}

func hasObject(arr []any) bool {
	for _, v := range arr {
		if _, ok := v.(map[string]any); ok {
			return true
		}
	}
	return false
}

func exceptionText(body map[string]any) string {
	ex, ok := xmlmap.LookupMap(body, "ows:Exception", "Exception")
	if !ok {
		return "unknown"
	}
	if t := xmlmap.LookupText(ex, "ows:ExceptionText", "ExceptionText"); t != "" {
		return t
	}
	return xmlmap.Attr(ex, "exceptionCode")
}

// feature builds one canonical feature; the returned string is any srsName seen on its geometry
func (n *Normalizer) feature(item any, fromXML bool) (*geojson.Feature, string, error) {
	m, ok := item.(map[string]any)
	if !ok {
		return nil, "", failure.New(failure.KindGeometry, "normalize.feature", fmt.Errorf("feature is %T", item))
	}
	f := geojson.NewFeature(nil)
	f.ID = featureID(m)

	var sources []any
	_, declared := m["geometry"]
	for _, k := range sortedKeys(m) {
		v := m[k]
		switch {
		case strings.HasPrefix(k, xmlmap.AttrPrefix), k == xmlmap.TextKey:
		case !fromXML && (k == "id" || k == "bbox"):
		case k == "geometry" && v == nil:
		case k == "type" && v == "Feature":
		case fromXML && isBoundedBy(k):
		case k == "properties" || k == "attributes":
			if pm, ok := v.(map[string]any); ok {
				for pk, pv := range pm {
					f.Properties[pk] = pv
				}
			}
		case IsGeometryKey(k) && structured(v):
			sources = append(sources, v)
		default:
			f.Properties[propertyName(k, fromXML)] = propertyValue(v, fromXML)
		}
	}

	var lastErr error
	for _, src := range sources {
		g, err := n.geometry(src, fromXML)
		if err == nil {
			f.Geometry = g
			return f, findSRS(src, 0), nil
		}
		lastErr = err
	}
	if len(sources) == 0 && !declared {
		g, key, err := n.fallbackGeometry(m, fromXML)
		if err == nil {
			f.Geometry = g
			if key == "" {
				dropGeometryMembers(f, m, fromXML)
				return f, "", nil
			}
			delete(f.Properties, propertyName(key, fromXML))
			return f, findSRS(m[key], 0), nil
		}
		lastErr = err
	}
	if lastErr == nil {
		lastErr = failure.New(failure.KindGeometry, "normalize.feature", errors.New("null geometry"))
	}
	return nil, "", lastErr
}

// geometry extracts through the bounded geometry cache; callers always get their own copy
func (n *Normalizer) geometry(src any, fromXML bool) (orb.Geometry, error) {
	var key string
	if n.geoms != nil {
		if b, err := json.Marshal(src); err == nil {
			key = keys.GeometryKey(b, fromXML)
			if g, ok := n.geoms.Get(key); ok {
				observability.IncCacheHit("geometry")
				return orb.Clone(g), nil
			}
			observability.IncCacheMiss("geometry")
		}
	}
	g, err := extractGeometry(src, fromXML)
	if err != nil {
		return nil, failure.New(failure.KindGeometry, "normalize.geometry", err)
	}
	if key != "" {
		n.geoms.Set(key, g)
		return orb.Clone(g), nil
	}
	return g, nil
}

// fallbackGeometry looks for a geometry when no key names one. The item itself
// is tried first, then each structured child in key order; the returned key is
// the child that held it, empty when the item matched directly. Envelopes under
// boundedBy describe extent, not shape, and are never used.
func (n *Normalizer) fallbackGeometry(m map[string]any, fromXML bool) (orb.Geometry, string, error) {
	if g, err := geometryAt(m, fromXML, 1); err == nil {
		return g, "", nil
	}
	for _, k := range sortedKeys(m) {
		v := m[k]
		if strings.HasPrefix(k, xmlmap.AttrPrefix) || k == xmlmap.TextKey || isBoundedBy(k) || !structured(v) {
			continue
		}
		if g, err := n.geometry(v, fromXML); err == nil {
			return g, k, nil
		}
	}
	return nil, "", failure.New(failure.KindGeometry, "normalize.feature", errUnrecognized)
}

// dropGeometryMembers removes what a directly matched item contributed to its
// own geometry. A JSON item is then a bare geometry with no properties.
func dropGeometryMembers(f *geojson.Feature, m map[string]any, fromXML bool) {
	if !fromXML {
		f.Properties = geojson.Properties{}
		return
	}
	for k := range m {
		if KindOf(k) != KindUnrecognized {
			delete(f.Properties, propertyName(k, fromXML))
		}
	}
}

func isBoundedBy(k string) bool {
	return xmlmap.Local(k) == "boundedBy"
}

func featureID(m map[string]any) any {
	switch id := m["id"].(type) {
	case string:
		if id != "" {
			return id
		}
	case float64:
		return id
	}
	if id := xmlmap.Attr(m, "gml:id"); id != "" {
		return id
	}
	if id := xmlmap.Attr(m, "fid"); id != "" {
		return id
	}
	return nil
}

func structured(v any) bool {
	switch v.(type) {
	case map[string]any, []any:
		return true
	}
	return false
}

func propertyName(k string, fromXML bool) string {
	if fromXML {
		return xmlmap.Local(k)
	}
	return k
}

func propertyValue(v any, fromXML bool) any {
	if !fromXML {
		return v
	}
	if m, ok := v.(map[string]any); ok {
		if _, hasText := m[xmlmap.TextKey]; hasText {
			return xmlmap.Text(m)
		}
	}
	return v
}

// findSRS returns the first srsName attribute (or GeoJSON crs member) within a few levels of v
func findSRS(v any, depth int) string {
	if depth > 3 {
		return ""
	}
	switch t := v.(type) {
	case []any:
		for _, it := range t {
			if s := findSRS(it, depth+1); s != "" {
				return s
			}
		}
	case map[string]any:
		if s := xmlmap.Attr(t, "srsName"); s != "" {
			return s
		}
		if c, ok := t["crs"]; ok {
			if s := crsName(c); s != "" {
				return s
			}
		}
		for _, k := range sortedKeys(t) {
			if strings.HasPrefix(k, xmlmap.AttrPrefix) {
				continue
			}
			if s := findSRS(t[k], depth+1); s != "" {
				return s
			}
		}
	}
	return ""
}

func crsName(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case map[string]any:
		if p, ok := t["properties"].(map[string]any); ok {
			if s, ok := p["name"].(string); ok {
				return s
			}
		}
	}
	return ""
}

// CloneCollection deep-copies in, skipping features without geometry
func CloneCollection(in *geojson.FeatureCollection) *geojson.FeatureCollection {
	out := geojson.NewFeatureCollection()
	out.ExtraMembers = in.ExtraMembers.Clone()
	for _, f := range in.Features {
		if f == nil || f.Geometry == nil {
			continue
		}
		out.Append(&geojson.Feature{
			ID:         f.ID,
			Type:       f.Type,
			Geometry:   orb.Clone(f.Geometry),
			Properties: f.Properties.Clone(),
		})
	}
	return out
}
