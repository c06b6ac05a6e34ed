package xmlmap

import (
	"errors"
	"strings"
	"testing"
)

const doc = `<?xml version="1.0" encoding="UTF-8"?>
<wfs:FeatureCollection xmlns:wfs="http://www.opengis.net/wfs/2.0" xmlns:gml="http://www.opengis.net/gml/3.2" numberMatched="1">
  <wfs:member>
    <topo:road gml:id="road.1" xmlns:topo="http://example.com/topo">
      <topo:name>Main St</topo:name>
      <topo:shape>
        <gml:LineString srsName="urn:ogc:def:crs:EPSG::2193">
          <gml:posList>5400000 1750000 5400010 1750010</gml:posList>
        </gml:LineString>
      </topo:shape>
    </topo:road>
  </wfs:member>
</wfs:FeatureCollection>`

func TestDecode_PrefixesAttrsAndForcedArrays(t *testing.T) {
	m, err := Decode(strings.NewReader(doc), Options{ForceArray: ForceNames("member", "posList")})
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	name, root, ok := Root(m)
	if !ok || name != "wfs:FeatureCollection" {
		t.Fatalf("root=%q ok=%v", name, ok)
	}
	if got := Attr(root, "numberMatched"); got != "1" {
		t.Fatalf("numberMatched attr=%q", got)
	}
	members, ok := root["wfs:member"].([]any)
	if !ok || len(members) != 1 {
		t.Fatalf("member must be forced to a 1-element array, got %#v", root["wfs:member"])
	}
	road, ok := LookupMap(members[0].(map[string]any), "road")
	if !ok {
		t.Fatalf("road element missing: %#v", members[0])
	}
	if got := Attr(road, "gml:id"); got != "road.1" {
		t.Fatalf("gml:id=%q", got)
	}
	if got := LookupText(road, "name"); got != "Main St" {
		t.Fatalf("name=%q", got)
	}
	shape, _ := LookupMap(road, "topo:shape")
	line, _ := LookupMap(shape, "gml:LineString", "LineString")
	pl := LookupAll(line, "gml:posList")
	if len(pl) != 1 || Text(pl[0]) != "5400000 1750000 5400010 1750010" {
		t.Fatalf("posList=%#v", pl)
	}
	if Attr(line, "srsName") != "urn:ogc:def:crs:EPSG::2193" {
		t.Fatalf("srsName attr missing: %#v", line)
	}
}

func TestDecode_RepeatedChildrenBecomeArrays(t *testing.T) {
	m, err := Decode(strings.NewReader(`<a><b>1</b><b>2</b><c x="y">t</c></a>`), Options{})
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	_, root, _ := Root(m)
	bs, ok := root["b"].([]any)
	if !ok || len(bs) != 2 || bs[1] != "2" {
		t.Fatalf("b=%#v", root["b"])
	}
	c := root["c"].(map[string]any)
	if c[TextKey] != "t" || c["@_x"] != "y" {
		t.Fatalf("c=%#v", c)
	}
}

func TestDecode_Errors(t *testing.T) {
	if _, err := Decode(strings.NewReader(""), Options{}); !errors.Is(err, ErrEmptyDocument) {
		t.Fatalf("empty input err=%v want ErrEmptyDocument", err)
	}
	if _, err := Decode(strings.NewReader("<a><b></a>"), Options{}); err == nil {
		t.Fatalf("expected mismatched element error")
	}
	if _, err := Decode(strings.NewReader("<a>"), Options{}); err == nil {
		t.Fatalf("expected unclosed element error")
	}
}

func TestDecode_Latin1Charset(t *testing.T) {
	in := "<?xml version=\"1.0\" encoding=\"ISO-8859-1\"?><n>Rangit\xe2to</n>"
	m, err := Decode(strings.NewReader(in), Options{})
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if got := m["n"]; got != "Rangitâto" {
		t.Fatalf("n=%q", got)
	}
}

func TestLookup_CandidateOrderThenLocalName(t *testing.T) {
	m := map[string]any{"ows:Title": "a", "Title": "b", "wfs:Name": "n"}
	if v, _ := Lookup(m, "Title", "ows:Title"); v != "b" {
		t.Fatalf("first candidate must win, got %v", v)
	}
	if v, _ := Lookup(m, "Name"); v != "n" {
		t.Fatalf("local-name fallback failed, got %v", v)
	}
	if _, ok := Lookup(m, "Abstract"); ok {
		t.Fatalf("unexpected match")
	}
}
