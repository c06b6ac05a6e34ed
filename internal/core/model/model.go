// Package model defines core domain types shared across the service.
package model

import (
	"fmt"
	"strings"
	"time"
)

const (
	WGS84       = "EPSG:4326"
	NZTM2000    = "EPSG:2193"
	MaxFeatures = 5000
)

type BBox struct {
	X1, Y1 float64
	X2, Y2 float64
	SRID   string
}

// String representation matching wfs/wms bbox format
func (b BBox) String() string {
	srid := b.SRID
	if srid == "" {
		srid = WGS84
	}
	return fmt.Sprintf("%.6f,%.6f,%.6f,%.6f,%s", b.X1, b.Y1, b.X2, b.Y2, srid)
}

type LayerDescriptor struct {
	ID            string   `json:"id"`
	Name          string   `json:"name"`
	Title         string   `json:"title"`
	Abstract      string   `json:"abstract,omitempty"`
	DefaultCRS    string   `json:"defaultCrs,omitempty"`
	OutputFormats []string `json:"outputFormats"`
	BBox          *BBox    `json:"bbox,omitempty"`
	Keywords      []string `json:"keywords,omitempty"`
}

// LayerID derives the cache/lookup id from a qualified type name ("ns:layer-1" -> "layer-1")
func LayerID(name string) string {
	name = strings.TrimSpace(name)
	if i := strings.LastIndex(name, ":"); i >= 0 {
		return name[i+1:]
	}
	return name
}

// DefaultLayerDescriptor is served when capability resolution fails
func DefaultLayerDescriptor(name string) LayerDescriptor {
	return LayerDescriptor{
		ID:            LayerID(name),
		Name:          name,
		Title:         name,
		DefaultCRS:    NZTM2000,
		OutputFormats: []string{"application/json"},
		BBox:          &BBox{X1: 166.0, Y1: -48.0, X2: 179.0, Y2: -34.0, SRID: WGS84},
	}
}

type SortOrder string

const (
	SortAsc  SortOrder = "ASC"
	SortDesc SortOrder = "DESC"
)

type FeatureQuery struct {
	Layer        string
	OutputFormat string
	BBox         *BBox
	MaxFeatures  int
	StartIndex   int
	Filter       string
	SortBy       string
	SortOrder    SortOrder
	Timeout      time.Duration
	Retries      int
}
