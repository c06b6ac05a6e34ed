package model

import "testing"

func TestLayerID(t *testing.T) {
	cases := map[string]string{
		"data.linz.govt.nz:layer-50772": "layer-50772",
		"layer-50772":                   "layer-50772",
		" topp:states ":                 "states",
		"":                              "",
	}
	for in, want := range cases {
		if got := LayerID(in); got != want {
			t.Fatalf("LayerID(%q)=%q want %q", in, got, want)
		}
	}
}

func TestBBoxString_DefaultsSRID(t *testing.T) {
	b := BBox{X1: 174, Y1: -41.5, X2: 175, Y2: -41}
	if got, want := b.String(), "174.000000,-41.500000,175.000000,-41.000000,EPSG:4326"; got != want {
		t.Fatalf("String()=%q want %q", got, want)
	}
}

func TestDefaultLayerDescriptor(t *testing.T) {
	d := DefaultLayerDescriptor("data.linz.govt.nz:layer-50772")
	if d.ID != "layer-50772" || d.Name != "data.linz.govt.nz:layer-50772" {
		t.Fatalf("unexpected identity: %+v", d)
	}
	if len(d.OutputFormats) == 0 || d.BBox == nil {
		t.Fatalf("default descriptor must carry formats and bbox: %+v", d)
	}
}
