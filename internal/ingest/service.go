// Package ingest composes capability resolution, feature fetching, normalization and
// CRS transformation into the layer-info and feature-data entry points.
package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/paulmach/orb/geojson"

	"github.com/mohammed-shakir/wfs-ingest/internal/cache/keys"
	"github.com/mohammed-shakir/wfs-ingest/internal/core/failure"
	"github.com/mohammed-shakir/wfs-ingest/internal/core/model"
	"github.com/mohammed-shakir/wfs-ingest/internal/core/observability"
	"github.com/mohammed-shakir/wfs-ingest/internal/core/ogc"
	"github.com/mohammed-shakir/wfs-ingest/internal/crs"
	"github.com/mohammed-shakir/wfs-ingest/internal/fetch"
	"github.com/mohammed-shakir/wfs-ingest/internal/logger"
	"github.com/mohammed-shakir/wfs-ingest/internal/normalize"
)

type LayerResolver interface {
	ResolveLayer(ctx context.Context, id string) (*model.LayerDescriptor, error)
}

type FeatureFetcher interface {
	FetchFeatures(ctx context.Context, q model.FeatureQuery) (*fetch.Payload, error)
}

type Options struct {
	// Layer is the configured type name served by LoadLayerInfo
	Layer   string
	Timeout time.Duration
	Retries int
}

type Deps struct {
	Resolver    LayerResolver
	Fetcher     FeatureFetcher
	Normalizer  *normalize.Normalizer
	Transformer *crs.Transformer
	Caches      *Caches
}

type Service struct {
	log     *slog.Logger
	opts    Options
	deps    Deps
	nowFunc func() time.Time
}

func New(log *slog.Logger, opts Options, deps Deps) *Service {
	if log == nil {
		log = slog.Default()
	}
	if deps.Caches == nil {
		deps.Caches = NewCaches(0, 0, nil)
	}
	if deps.Normalizer == nil {
		deps.Normalizer = normalize.New(normalize.Options{Geometries: deps.Caches.Geometries, Logger: log})
	}
	if deps.Transformer == nil {
		deps.Transformer = crs.NewTransformer(log)
	}
	return &Service{log: log, opts: opts, deps: deps, nowFunc: time.Now}
}

// Layer is the configured type name
func (s *Service) Layer() string { return s.opts.Layer }

// LoadLayerInfo resolves the configured layer's descriptor. Any resolution failure
// degrades to the built-in default descriptor.
func (s *Service) LoadLayerInfo(ctx context.Context) model.LayerDescriptor {
	ctx = logger.WithLayer(logger.WithComponent(ctx, "ingest"), model.LayerID(s.opts.Layer))
	d, err := s.deps.Resolver.ResolveLayer(ctx, s.opts.Layer)
	if err != nil || d == nil {
		s.log.WarnContext(ctx, "layer capabilities unavailable, using default descriptor", "err", err)
		return model.DefaultLayerDescriptor(s.opts.Layer)
	}
	return *d
}

// FetchWfsData returns the layer's features inside bbox, in WGS84. Results are cached per
// (layer, bbox); callers always receive their own copy. Only timeouts, exhausted retries and
// caller cancellation are returned as errors; unreadable payloads produce an empty collection.
func (s *Service) FetchWfsData(ctx context.Context, layer model.LayerDescriptor, bbox *model.BBox, maxFeatures int) (*geojson.FeatureCollection, error) {
	if maxFeatures <= 0 {
		maxFeatures = model.MaxFeatures
	}
	id := layer.ID
	if id == "" {
		id = model.LayerID(layer.Name)
	}
	name := layer.Name
	if name == "" {
		name = id
	}
	ctx = logger.WithLayer(logger.WithComponent(ctx, "ingest"), id)
	start := s.nowFunc()

	key := keys.FeatureKey(id, bbox)
	if fc, ok := s.deps.Caches.Features.Get(key); ok {
		observability.IncCacheHit("features")
		return normalize.CloneCollection(fc), nil
	}
	observability.IncCacheMiss("features")

	q := model.FeatureQuery{
		Layer:        name,
		OutputFormat: ogc.NegotiateFormat(layer.OutputFormats),
		BBox:         bbox,
		MaxFeatures:  maxFeatures,
		Timeout:      s.opts.Timeout,
		Retries:      s.opts.Retries,
	}
	p, err := s.deps.Fetcher.FetchFeatures(ctx, q)
	if err != nil {
		if failure.Is(err, failure.KindParse) {
			s.log.WarnContext(ctx, "feature payload unreadable, returning empty collection", "err", err)
			return geojson.NewFeatureCollection(), nil
		}
		return nil, err
	}

	fc, err := s.deps.Normalizer.Normalize(ctx, p, id)
	if err != nil {
		if failure.Is(err, failure.KindParse) {
			s.log.WarnContext(ctx, "feature payload not normalizable, returning empty collection", "err", err)
			return geojson.NewFeatureCollection(), nil
		}
		return nil, err
	}

	source, evidence := crs.DetectWithEvidence(fc)
	if evidence == crs.EvidenceDefault && layer.DefaultCRS != "" {
		source = crs.Normalize(layer.DefaultCRS)
	}
	out, err := s.deps.Transformer.Transform(ctx, fc, source, model.WGS84)
	if err != nil {
		if !failure.Is(err, failure.KindTransform) {
			return nil, err
		}
		s.log.WarnContext(ctx, "crs transform unavailable, returning source coordinates",
			"source", source, "err", err)
		out = fc
	}

	s.deps.Caches.Features.Set(key, out)
	s.log.DebugContext(ctx, "features loaded",
		"features", len(out.Features),
		"crs", source,
		"crs_evidence", string(evidence),
		"format", q.OutputFormat,
		"from_cache", p.FromCache,
		"duration", time.Since(start).String())
	return normalize.CloneCollection(out), nil
}

// ClearCache drops every metadata, feature and raw response entry of layerID.
// An empty id clears all four stores, including the geometry cache.
func (s *Service) ClearCache(ctx context.Context, layerID string) error {
	c := s.deps.Caches
	id := strings.TrimSpace(layerID)
	if id == "" {
		c.Metadata.Clear()
		c.Features.Clear()
		c.Geometries.Clear()
		err := c.Responses.Clear(ctx)
		s.log.InfoContext(ctx, "cache cleared", "scope", "all", "err", err)
		return err
	}

	prefix := keys.LayerPrefix(model.LayerID(id))
	n := c.Metadata.DeletePrefix(prefix) + c.Features.DeletePrefix(prefix)
	err := c.Responses.DeletePrefix(ctx, prefix)
	s.log.InfoContext(ctx, "cache cleared", "layer", id, "entries", n, "err", err)
	if err != nil {
		return fmt.Errorf("clear response cache: %w", err)
	}
	return nil
}
