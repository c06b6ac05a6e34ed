// Package capabilities resolves layer descriptors from a WFS GetCapabilities document.
package capabilities

import (
	"context"
	"errors"
	"log/slog"
	"slices"

	"github.com/mohammed-shakir/wfs-ingest/internal/cache"
	"github.com/mohammed-shakir/wfs-ingest/internal/cache/keys"
	"github.com/mohammed-shakir/wfs-ingest/internal/core/failure"
	"github.com/mohammed-shakir/wfs-ingest/internal/core/model"
	"github.com/mohammed-shakir/wfs-ingest/internal/core/observability"
	"github.com/mohammed-shakir/wfs-ingest/internal/fetch"
)

var ErrLayerNotFound = errors.New("capabilities: layer not advertised")

// Source issues the GetCapabilities request; *fetch.Fetcher satisfies it
type Source interface {
	FetchCapabilities(ctx context.Context, srsName string) (*fetch.Payload, error)
}

type Resolver struct {
	log  *slog.Logger
	src  Source
	srs  string
	meta cache.Store[model.LayerDescriptor]
}

func NewResolver(log *slog.Logger, src Source, meta cache.Store[model.LayerDescriptor], srsName string) *Resolver {
	if log == nil {
		log = slog.Default()
	}
	return &Resolver{log: log, src: src, srs: srsName, meta: meta}
}

// Resolve fetches and parses the capabilities document. Any failure yields an empty
// list and a typed error; every resolved layer is written to the metadata cache.
func (r *Resolver) Resolve(ctx context.Context) ([]model.LayerDescriptor, error) {
	p, err := r.src.FetchCapabilities(ctx, r.srs)
	if err != nil {
		r.log.WarnContext(ctx, "capabilities fetch failed", "err", err)
		return []model.LayerDescriptor{}, err
	}
	layers, err := Parse(p.Data)
	if err != nil {
		r.log.WarnContext(ctx, "capabilities parse failed", "err", err)
		return []model.LayerDescriptor{}, failure.New(failure.KindParse, "capabilities.resolve", err)
	}
	if r.meta != nil {
		for _, l := range layers {
			r.meta.Set(keys.MetadataKey(l.ID), l)
		}
	}
	r.log.DebugContext(ctx, "capabilities resolved", "layers", len(layers))
	return layers, nil
}

// ResolveLayer answers from the metadata cache, resolving the document on a miss.
// id may be the bare layer id or the qualified type name.
func (r *Resolver) ResolveLayer(ctx context.Context, id string) (*model.LayerDescriptor, error) {
	want := model.LayerID(id)
	if r.meta != nil {
		if d, ok := r.meta.Get(keys.MetadataKey(want)); ok {
			observability.IncCacheHit("metadata")
			return clone(d), nil
		}
		observability.IncCacheMiss("metadata")
	}
	layers, err := r.Resolve(ctx)
	if err != nil {
		return nil, err
	}
	for _, l := range layers {
		if l.ID == want || l.Name == id {
			return clone(l), nil
		}
	}
	return nil, ErrLayerNotFound
}

func clone(d model.LayerDescriptor) *model.LayerDescriptor {
	d.OutputFormats = slices.Clone(d.OutputFormats)
	d.Keywords = slices.Clone(d.Keywords)
	if d.BBox != nil {
		b := *d.BBox
		d.BBox = &b
	}
	return &d
}
