package capabilities

import (
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/mohammed-shakir/wfs-ingest/internal/core/model"
	"github.com/mohammed-shakir/wfs-ingest/internal/crs"
	"github.com/mohammed-shakir/wfs-ingest/internal/xmlmap"
)

var ErrNoFeatureTypes = errors.New("capabilities: no FeatureTypeList")

// candidate element names, most specific first; Lookup falls back to local names
var (
	featureTypeListKeys = []string{"wfs:FeatureTypeList", "FeatureTypeList"}
	featureTypeKeys     = []string{"wfs:FeatureType", "FeatureType"}
	nameKeys            = []string{"wfs:Name", "Name"}
	titleKeys           = []string{"wfs:Title", "Title", "ows:Title"}
	abstractKeys        = []string{"wfs:Abstract", "Abstract", "ows:Abstract"}
	crsKeys             = []string{"wfs:DefaultCRS", "DefaultCRS", "wfs:DefaultSRS", "DefaultSRS", "wfs:SRS", "SRS"}
	wgs84BoxKeys        = []string{"ows:WGS84BoundingBox", "WGS84BoundingBox"}
	lowerCornerKeys     = []string{"ows:LowerCorner", "LowerCorner"}
	upperCornerKeys     = []string{"ows:UpperCorner", "UpperCorner"}
	latLongBoxKeys      = []string{"wfs:LatLongBoundingBox", "LatLongBoundingBox"}
	keywordsKeys        = []string{"ows:Keywords", "Keywords", "wfs:Keywords"}
	keywordKeys         = []string{"ows:Keyword", "Keyword"}
	outputFormatsKeys   = []string{"wfs:OutputFormats", "OutputFormats"}
	formatKeys          = []string{"wfs:Format", "Format"}
)

// Parse extracts layer descriptors from a decoded GetCapabilities document
func Parse(doc any) ([]model.LayerDescriptor, error) {
	m, ok := doc.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("capabilities: unexpected document %T", doc)
	}
	name, root, ok := xmlmap.Root(m)
	if !ok {
		return nil, ErrNoFeatureTypes
	}
	if xmlmap.Local(name) == "ExceptionReport" || xmlmap.Local(name) == "ServiceExceptionReport" {
		return nil, fmt.Errorf("capabilities: service exception: %s", exceptionText(root))
	}
	ftl, ok := xmlmap.LookupMap(root, featureTypeListKeys...)
	if !ok {
		return nil, ErrNoFeatureTypes
	}

	shared := operationFormats(root)
	var out []model.LayerDescriptor
	for _, it := range xmlmap.LookupAll(ftl, featureTypeKeys...) {
		ft, ok := it.(map[string]any)
		if !ok {
			continue
		}
		if d, ok := descriptor(ft, shared); ok {
			out = append(out, d)
		}
	}
	return out, nil
}

func descriptor(ft map[string]any, shared []string) (model.LayerDescriptor, bool) {
	name := xmlmap.LookupText(ft, nameKeys...)
	if name == "" {
		return model.LayerDescriptor{}, false
	}
	d := model.LayerDescriptor{
		ID:         model.LayerID(name),
		Name:       name,
		Title:      xmlmap.LookupText(ft, titleKeys...),
		Abstract:   xmlmap.LookupText(ft, abstractKeys...),
		DefaultCRS: crs.Normalize(xmlmap.LookupText(ft, crsKeys...)),
		BBox:       boundingBox(ft),
		Keywords:   keywords(ft),
	}
	if d.Title == "" {
		d.Title = name
	}
	if of, ok := xmlmap.LookupMap(ft, outputFormatsKeys...); ok {
		d.OutputFormats = texts(xmlmap.LookupAll(of, formatKeys...))
	}
	if len(d.OutputFormats) == 0 {
		d.OutputFormats = append([]string(nil), shared...)
	}
	return d, true
}

// boundingBox reads the WGS84 extent; OWS corners are already lon/lat
func boundingBox(ft map[string]any) *model.BBox {
	if box, ok := xmlmap.LookupMap(ft, wgs84BoxKeys...); ok {
		lo := floats(xmlmap.LookupText(box, lowerCornerKeys...))
		hi := floats(xmlmap.LookupText(box, upperCornerKeys...))
		if len(lo) >= 2 && len(hi) >= 2 {
			return &model.BBox{X1: lo[0], Y1: lo[1], X2: hi[0], Y2: hi[1], SRID: model.WGS84}
		}
	}
	if box, ok := xmlmap.LookupMap(ft, latLongBoxKeys...); ok {
		var v [4]float64
		for i, a := range []string{"minx", "miny", "maxx", "maxy"} {
			f, err := strconv.ParseFloat(xmlmap.Attr(box, a), 64)
			if err != nil {
				return nil
			}
			v[i] = f
		}
		return &model.BBox{X1: v[0], Y1: v[1], X2: v[2], Y2: v[3], SRID: model.WGS84}
	}
	return nil
}

func keywords(ft map[string]any) []string {
	var out []string
	for _, kw := range xmlmap.LookupAll(ft, keywordsKeys...) {
		switch t := kw.(type) {
		case string:
			for _, s := range strings.Split(t, ",") {
				if s = strings.TrimSpace(s); s != "" {
					out = append(out, s)
				}
			}
		case map[string]any:
			out = append(out, texts(xmlmap.LookupAll(t, keywordKeys...))...)
		}
	}
	return out
}

// operationFormats finds GetFeature outputFormat values in OperationsMetadata, else in the
// legacy Capability/Request/GetFeature section
func operationFormats(root map[string]any) []string {
	var out []string
	if om, ok := xmlmap.LookupMap(root, "ows:OperationsMetadata", "OperationsMetadata"); ok {
		for _, op := range xmlmap.LookupAll(om, "ows:Operation", "Operation") {
			opm, ok := op.(map[string]any)
			if !ok || xmlmap.Attr(opm, "name") != "GetFeature" {
				continue
			}
			out = append(out, outputFormatParam(opm)...)
		}
		if len(out) == 0 {
			out = outputFormatParam(om)
		}
	}
	if len(out) > 0 {
		return out
	}

	capab, ok := xmlmap.LookupMap(root, "wfs:Capability", "Capability")
	if !ok {
		return nil
	}
	req, ok := xmlmap.LookupMap(capab, "wfs:Request", "Request")
	if !ok {
		return nil
	}
	gf, ok := xmlmap.LookupMap(req, "wfs:GetFeature", "GetFeature")
	if !ok {
		return nil
	}
	if f := texts(xmlmap.LookupAll(gf, formatKeys...)); len(f) > 0 {
		return f
	}
	if rf, ok := xmlmap.LookupMap(gf, "wfs:ResultFormat", "ResultFormat"); ok {
		for k := range rf {
			if !strings.HasPrefix(k, xmlmap.AttrPrefix) {
				out = append(out, xmlmap.Local(k))
			}
		}
		slices.Sort(out)
	}
	return out
}

func outputFormatParam(m map[string]any) []string {
	var out []string
	for _, p := range xmlmap.LookupAll(m, "ows:Parameter", "Parameter") {
		pm, ok := p.(map[string]any)
		if !ok || !strings.EqualFold(xmlmap.Attr(pm, "name"), "outputFormat") {
			continue
		}
		values := pm
		if av, ok := xmlmap.LookupMap(pm, "ows:AllowedValues", "AllowedValues"); ok {
			values = av
		}
		out = append(out, texts(xmlmap.LookupAll(values, "ows:Value", "Value"))...)
	}
	return out
}

func exceptionText(root map[string]any) string {
	for _, k := range [][]string{{"ows:Exception", "Exception"}, {"ServiceException"}} {
		if v, ok := xmlmap.Lookup(root, k...); ok {
			if m, ok := v.(map[string]any); ok {
				if t := xmlmap.LookupText(m, "ows:ExceptionText", "ExceptionText"); t != "" {
					return t
				}
			}
			if t := xmlmap.Text(v); t != "" {
				return t
			}
		}
	}
	return "unknown"
}

func texts(items []any) []string {
	out := make([]string, 0, len(items))
	for _, it := range items {
		if s := xmlmap.Text(it); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func floats(s string) []float64 {
	var out []float64
	for _, f := range strings.Fields(s) {
		v, err := strconv.ParseFloat(f, 64)
		if err != nil {
			return nil
		}
		out = append(out, v)
	}
	return out
}
