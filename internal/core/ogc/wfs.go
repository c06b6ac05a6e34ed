package ogc

import (
	"net/url"
	"strconv"
	"strings"

	"github.com/mohammed-shakir/wfs-ingest/internal/core/model"
)

const (
	DefaultGMLFormat = "application/gml+xml; version=3.2"
	JSONFormat       = "application/json"
	wfsVersion       = "2.0.0"
)

// OWSEndpoint keeps explicit /wfs or /ows endpoints and appends /ows to a bare server base
func OWSEndpoint(base string) string {
	trimmed := strings.TrimRight(base, "/")
	lower := strings.ToLower(trimmed)
	if strings.HasSuffix(lower, "/wfs") || strings.HasSuffix(lower, "/ows") {
		return trimmed
	}
	return trimmed + "/ows"
}

func BuildGetCapabilitiesParams(srsName string) url.Values {
	params := url.Values{}
	params.Set("service", "WFS")
	params.Set("request", "GetCapabilities")
	if s := strings.TrimSpace(srsName); s != "" {
		params.Set("srsName", s)
	}
	return params
}

// BuildGetFeatureParams encodes a feature query; bbox is only sent when appendBBox is set
func BuildGetFeatureParams(q model.FeatureQuery, appendBBox bool) url.Values {
	params := url.Values{}
	params.Set("service", "WFS")
	params.Set("version", wfsVersion)
	params.Set("request", "GetFeature")
	params.Set("typeName", q.Layer)
	if f := strings.TrimSpace(q.OutputFormat); f != "" {
		params.Set("outputFormat", f)
	}
	count := q.MaxFeatures
	if count <= 0 {
		count = model.MaxFeatures
	}
	params.Set("count", strconv.Itoa(count))
	params.Set("startIndex", strconv.Itoa(max(q.StartIndex, 0)))
	if appendBBox && q.BBox != nil {
		params.Set("bbox", BBoxParam(*q.BBox))
	}
	if f := strings.TrimSpace(q.Filter); f != "" {
		params.Set("filter", f)
	}
	if s := strings.TrimSpace(q.SortBy); s != "" {
		order := q.SortOrder
		if order != model.SortDesc {
			order = model.SortAsc
		}
		params.Set("sortBy", s+" "+string(order))
	}
	return params
}

func BBoxParam(b model.BBox) string {
	return b.String()
}

func IsJSONFormat(format string) bool {
	return strings.Contains(strings.ToLower(format), "json")
}

// NegotiateFormat prefers the first JSON-like format the service offers, else the GML default
func NegotiateFormat(supported []string) string {
	for _, f := range supported {
		if IsJSONFormat(f) {
			return strings.TrimSpace(f)
		}
	}
	return DefaultGMLFormat
}

func AcceptFor(format string) string {
	if IsJSONFormat(format) {
		return JSONFormat
	}
	return "application/gml+xml, application/xml, text/xml"
}
