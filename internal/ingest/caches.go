package ingest

import (
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/mohammed-shakir/wfs-ingest/internal/cache"
	"github.com/mohammed-shakir/wfs-ingest/internal/core/model"
)

// Caches bundles the four pipeline stores so they share one lifecycle
type Caches struct {
	Metadata   cache.Store[model.LayerDescriptor]
	Features   cache.Store[*geojson.FeatureCollection]
	Responses  cache.ResponseStore
	Geometries *cache.Bounded[orb.Geometry]
}

// NewCaches builds in-memory stores. featureLRU <= 0 keeps the feature cache unbounded;
// a nil responses store falls back to memory.
func NewCaches(featureLRU, geometryMax int, responses cache.ResponseStore) *Caches {
	if responses == nil {
		responses = cache.NewMemoryResponses()
	}
	return &Caches{
		Metadata:   cache.NewMap[model.LayerDescriptor](),
		Features:   cache.NewLRU[*geojson.FeatureCollection](featureLRU),
		Responses:  responses,
		Geometries: cache.NewBounded[orb.Geometry](geometryMax),
	}
}
