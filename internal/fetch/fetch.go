// Package fetch issues WFS requests with per-attempt timeouts and retry-with-backoff,
// and decodes the responses into generic trees for normalization.
package fetch

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	json "github.com/goccy/go-json"

	"github.com/mohammed-shakir/wfs-ingest/internal/cache"
	"github.com/mohammed-shakir/wfs-ingest/internal/cache/keys"
	"github.com/mohammed-shakir/wfs-ingest/internal/core/failure"
	"github.com/mohammed-shakir/wfs-ingest/internal/core/httpclient"
	"github.com/mohammed-shakir/wfs-ingest/internal/core/model"
	"github.com/mohammed-shakir/wfs-ingest/internal/core/observability"
	"github.com/mohammed-shakir/wfs-ingest/internal/core/ogc"
	"github.com/mohammed-shakir/wfs-ingest/internal/logger"
	"github.com/mohammed-shakir/wfs-ingest/internal/normalize"
	"github.com/mohammed-shakir/wfs-ingest/internal/retry"
	"github.com/mohammed-shakir/wfs-ingest/internal/xmlmap"
)

const (
	FormatJSON = "json"
	FormatXML  = "xml"

	upstream = "wfs"

	DefaultTimeout       = 30 * time.Second
	DefaultLargeXMLBytes = 1 << 20
)

// Payload is a decoded upstream response; it satisfies normalize.Document
type Payload struct {
	Format      string
	ContentType string
	Data        any
	Raw         []byte
	FromCache   bool
}

func (p *Payload) Value() any  { return p.Data }
func (p *Payload) IsXML() bool { return p.Format == FormatXML }

type Options struct {
	Endpoint      string
	Client        *http.Client
	Responses     cache.ResponseStore
	Logger        *slog.Logger
	Clock         retry.Clock
	BackoffBase   time.Duration
	Timeout       time.Duration
	Retries       int
	AppendBBox    bool
	LargeXMLBytes int
}

type Fetcher struct {
	log        *slog.Logger
	client     *http.Client
	owsURL     *url.URL
	responses  cache.ResponseStore
	clock      retry.Clock
	base       time.Duration
	timeout    time.Duration
	retries    int
	appendBBox bool
	largeXML   int
	startNow   func() time.Time // for tests
}

func New(opts Options) (*Fetcher, error) {
	u, err := url.Parse(ogc.OWSEndpoint(opts.Endpoint))
	if err != nil {
		return nil, fmt.Errorf("parse wfs url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("parse wfs url: %q is not absolute", opts.Endpoint)
	}
	f := &Fetcher{
		log:        opts.Logger,
		client:     opts.Client,
		owsURL:     u,
		responses:  opts.Responses,
		clock:      opts.Clock,
		base:       opts.BackoffBase,
		timeout:    opts.Timeout,
		retries:    opts.Retries,
		appendBBox: opts.AppendBBox,
		largeXML:   opts.LargeXMLBytes,
		startNow:   time.Now,
	}
	if f.log == nil {
		f.log = slog.Default()
	}
	if f.client == nil {
		f.client = httpclient.NewOutbound()
	}
	if f.clock == nil {
		f.clock = retry.SystemClock
	}
	if f.base <= 0 {
		f.base = time.Second
	}
	if f.timeout <= 0 {
		f.timeout = DefaultTimeout
	}
	if f.largeXML <= 0 {
		f.largeXML = DefaultLargeXMLBytes
	}
	return f, nil
}

// Endpoint is the resolved OWS URL requests are sent to
func (f *Fetcher) Endpoint() string { return f.owsURL.String() }

// FetchFeatures runs a GetFeature request. The raw response store is consulted first and
// filled after a successful fetch. Timeouts and exhausted retries are returned as typed
// failures; an undecodable body comes back as a parse failure with Raw populated.
func (f *Fetcher) FetchFeatures(ctx context.Context, q model.FeatureQuery) (*Payload, error) {
	ctx = logger.WithLayer(logger.WithComponent(ctx, "fetch"), q.Layer)
	params := ogc.BuildGetFeatureParams(q, f.appendBBox)

	rp := keys.ResponseParams{
		Format:     q.OutputFormat,
		Count:      q.MaxFeatures,
		StartIndex: q.StartIndex,
		Filter:     q.Filter,
		SortBy:     q.SortBy,
		SortOrder:  q.SortOrder,
	}
	if q.BBox != nil {
		f.log.DebugContext(ctx, "bbox computed", "bbox", ogc.BBoxParam(*q.BBox), "appended", f.appendBBox)
		if f.appendBBox {
			rp.BBox = q.BBox
		}
	}
	key := keys.ResponseKey(model.LayerID(q.Layer), rp)

	if f.responses != nil {
		r, ok, err := f.responses.Get(ctx, key)
		switch {
		case err != nil:
			f.log.WarnContext(ctx, "response cache get failed", "err", err)
		case ok:
			observability.IncCacheHit("responses")
			p, derr := f.decode(ctx, r.Body, r.ContentType)
			if p != nil {
				p.FromCache = true
			}
			return p, derr
		default:
			observability.IncCacheMiss("responses")
		}
	}

	timeout := q.Timeout
	if timeout <= 0 {
		timeout = f.timeout
	}
	body, ct, err := f.get(ctx, "GetFeature", params, ogc.AcceptFor(q.OutputFormat), timeout, q.Retries)
	if err != nil {
		return nil, err
	}

	p, derr := f.decode(ctx, body, ct)
	if derr == nil && f.responses != nil {
		if err := f.responses.Set(ctx, key, cache.Response{ContentType: ct, Body: body}); err != nil {
			f.log.WarnContext(ctx, "response cache set failed", "err", err)
		}
	}
	return p, derr
}

// FetchCapabilities runs a GetCapabilities request and decodes the XML document
func (f *Fetcher) FetchCapabilities(ctx context.Context, srsName string) (*Payload, error) {
	ctx = logger.WithComponent(ctx, "capabilities")
	params := ogc.BuildGetCapabilitiesParams(srsName)
	body, ct, err := f.get(ctx, "GetCapabilities", params, "application/xml, text/xml", f.timeout, f.retries)
	if err != nil {
		return nil, err
	}
	doc, err := f.decodeXML(ctx, body)
	if err != nil {
		return &Payload{Format: FormatXML, ContentType: ct, Raw: body},
			failure.New(failure.KindParse, "fetch.GetCapabilities", err)
	}
	return &Payload{Format: FormatXML, ContentType: ct, Data: doc, Raw: body}, nil
}

func (f *Fetcher) get(ctx context.Context, op string, params url.Values, accept string, timeout time.Duration, retries int) ([]byte, string, error) {
	var (
		body []byte
		ct   string
	)
	policy := retry.Policy{
		MaxRetries: retries,
		Base:       f.base,
		Clock:      f.clock,
		Retryable:  failure.Retryable,
		OnRetry: func(attempt int, delay time.Duration, err error) {
			observability.IncUpstreamRetry(upstream)
			f.log.WarnContext(ctx, "wfs request failed, retrying",
				"op", op, "attempt", attempt+1, "delay", delay.String(), "err", err)
		},
	}
	err := retry.Do(ctx, policy, func(ctx context.Context, _ int) error {
		b, c, err := f.attempt(ctx, op, params, accept, timeout)
		if err != nil {
			return err
		}
		body, ct = b, c
		return nil
	})
	return body, ct, err
}

// attempt performs one request bounded by its own timeout
func (f *Fetcher) attempt(ctx context.Context, op string, params url.Values, accept string, timeout time.Duration) ([]byte, string, error) {
	actx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	u := *f.owsURL
	u.RawQuery = params.Encode()
	req, err := http.NewRequestWithContext(actx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, "", fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", accept)

	start := f.startNow()
	f.log.DebugContext(ctx, "wfs request", "op", op, "url", u.String())
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, "", classify(ctx, actx, "fetch."+op, fmt.Errorf("do request: %w", err))
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 8<<10))
		observability.ObserveUpstreamLatency(upstream, time.Since(start).Seconds())
		return nil, "", failure.New(failure.KindNetwork, "fetch."+op,
			fmt.Errorf("upstream status %d: %s", resp.StatusCode, strings.TrimSpace(string(b))))
	}
	b, err := io.ReadAll(resp.Body)
	observability.ObserveUpstreamLatency(upstream, time.Since(start).Seconds())
	if err != nil {
		return nil, "", classify(ctx, actx, "fetch."+op, fmt.Errorf("read body: %w", err))
	}
	return b, resp.Header.Get("Content-Type"), nil
}

// classify separates an expired attempt deadline (timeout) from the caller's own
// cancellation and from ordinary transport failures (network)
func classify(parent, attempt context.Context, op string, err error) error {
	switch {
	case parent.Err() != nil:
		return fmt.Errorf("%s: %w", op, parent.Err())
	case errors.Is(attempt.Err(), context.DeadlineExceeded):
		return failure.New(failure.KindTimeout, op, err)
	}
	return failure.New(failure.KindNetwork, op, err)
}

func (f *Fetcher) decode(ctx context.Context, body []byte, contentType string) (*Payload, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return &Payload{ContentType: contentType, Raw: body},
			failure.New(failure.KindParse, "fetch.decode", errors.New("empty body"))
	}
	if trimmed[0] != '<' && (ogc.IsJSONFormat(contentType) || trimmed[0] == '{' || trimmed[0] == '[') {
		var v any
		if err := json.Unmarshal(trimmed, &v); err != nil {
			return &Payload{Format: FormatJSON, ContentType: contentType, Raw: body},
				failure.New(failure.KindParse, "fetch.decode", fmt.Errorf("decode json: %w", err))
		}
		return &Payload{Format: FormatJSON, ContentType: contentType, Data: v, Raw: body}, nil
	}
	doc, err := f.decodeXML(ctx, trimmed)
	if err != nil {
		return &Payload{Format: FormatXML, ContentType: contentType, Raw: body},
			failure.New(failure.KindParse, "fetch.decode", err)
	}
	return &Payload{Format: FormatXML, ContentType: contentType, Data: doc, Raw: body}, nil
}

// decodeXML parses large documents on their own goroutine so the caller can give up on ctx
func (f *Fetcher) decodeXML(ctx context.Context, body []byte) (map[string]any, error) {
	opts := normalize.XMLOptions()
	if len(body) <= f.largeXML {
		return xmlmap.DecodeBytes(body, opts)
	}
	type result struct {
		doc map[string]any
		err error
	}
	ch := make(chan result, 1)
	go func() {
		doc, err := xmlmap.DecodeBytes(body, opts)
		ch <- result{doc: doc, err: err}
	}()
	f.log.DebugContext(ctx, "decoding large xml off the request goroutine", "bytes", len(body))
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r := <-ch:
		return r.doc, r.err
	}
}
