package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/mohammed-shakir/wfs-ingest/internal/cache"
	"github.com/mohammed-shakir/wfs-ingest/internal/cache/redisstore"
	"github.com/mohammed-shakir/wfs-ingest/internal/capabilities"
	"github.com/mohammed-shakir/wfs-ingest/internal/core/config"
	"github.com/mohammed-shakir/wfs-ingest/internal/core/health"
	"github.com/mohammed-shakir/wfs-ingest/internal/core/httpclient"
	"github.com/mohammed-shakir/wfs-ingest/internal/core/observability"
	"github.com/mohammed-shakir/wfs-ingest/internal/core/server"
	"github.com/mohammed-shakir/wfs-ingest/internal/crs"
	"github.com/mohammed-shakir/wfs-ingest/internal/fetch"
	"github.com/mohammed-shakir/wfs-ingest/internal/ingest"
	"github.com/mohammed-shakir/wfs-ingest/internal/invalidation/kafkaconsumer"
	"github.com/mohammed-shakir/wfs-ingest/internal/logger"
	"github.com/mohammed-shakir/wfs-ingest/internal/metrics"
	"github.com/mohammed-shakir/wfs-ingest/internal/normalize"
)

var Version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	layerFlag := flag.String("layer", "", "WFS type name to serve (overrides WFS_LAYER)")
	addrFlag := flag.String("addr", "", "listen address (overrides ADDR)")
	flag.Parse()

	cfg := config.FromEnv()
	if *layerFlag != "" {
		cfg.WFS.Layer = strings.TrimSpace(*layerFlag)
	}
	if *addrFlag != "" {
		cfg.Addr = *addrFlag
	}

	zl := logger.Build(logger.Config{
		Level:     cfg.LogLevel,
		Console:   cfg.LogConsole,
		SampleN:   cfg.LogSampleN,
		Service:   "wfs-gateway",
		Component: "main",
	}, os.Stdout)
	appLog := logger.NewSlog(&zl)

	var metricsHandler http.Handler
	if cfg.MetricsEnabled {
		p := metrics.Init(metrics.Config{
			Service: "wfs-gateway",
			Build: metrics.BuildInfo{
				Version:   Version,
				Revision:  os.Getenv("BUILD_REVISION"),
				Branch:    os.Getenv("BUILD_BRANCH"),
				BuildDate: os.Getenv("BUILD_DATE"),
			},
		})
		observability.Init(p.Registerer())
		metricsHandler = p.Handler()
	}

	appLog.Info("starting wfs gateway",
		"addr", cfg.Addr,
		"version", Version,
		"wfs", cfg.WFS.URL,
		"layer", cfg.WFS.Layer)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var (
		responses cache.ResponseStore
		ready     health.ReadinessReporter
	)
	if cfg.Cache.RedisAddr != "" {
		pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		rc, err := redisstore.New(pingCtx, cfg.Cache.RedisAddr, cfg.Cache.RedisKeyPrefix,
			redisstore.WithReadTimeout(cfg.Cache.OpTimeout))
		cancel()
		if err != nil {
			appLog.Error("redis response cache unavailable", "addr", cfg.Cache.RedisAddr, "err", err)
			return 1
		}
		defer func() { _ = rc.Close() }()
		responses = rc
		ready = redisReadiness{rc: rc, timeout: cfg.Cache.OpTimeout}
	}
	caches := ingest.NewCaches(cfg.Cache.FeatureLRU, cfg.Cache.GeometryMax, responses)

	fetcher, err := fetch.New(fetch.Options{
		Endpoint:      cfg.WFS.URL,
		Client:        httpclient.NewOutbound(),
		Responses:     caches.Responses,
		Logger:        appLog,
		BackoffBase:   cfg.WFS.BackoffBase,
		Timeout:       cfg.WFS.Timeout,
		Retries:       cfg.WFS.Retries,
		AppendBBox:    cfg.WFS.AppendBBox,
		LargeXMLBytes: cfg.WFS.LargeXMLBytes,
	})
	if err != nil {
		appLog.Error("failed to initialize fetcher", "err", err)
		return 1
	}

	svc := ingest.New(appLog, ingest.Options{
		Layer:   cfg.WFS.Layer,
		Timeout: cfg.WFS.Timeout,
		Retries: cfg.WFS.Retries,
	}, ingest.Deps{
		Resolver: capabilities.NewResolver(appLog, fetcher, caches.Metadata, cfg.WFS.CapsSRS),
		Fetcher:  fetcher,
		Normalizer: normalize.New(normalize.Options{
			BatchSize:  cfg.NormalizeBatch,
			Geometries: caches.Geometries,
			Logger:     appLog,
		}),
		Transformer: crs.NewTransformer(appLog),
		Caches:      caches,
	})

	if cfg.Invalidation.Enabled {
		if cfg.Invalidation.Driver != "kafka" {
			appLog.Error("unsupported invalidation driver", "driver", cfg.Invalidation.Driver)
			return 1
		}
		cons := kafkaconsumer.New(kafkaconsumer.FromConfig(cfg.Invalidation), appLog, svc)
		go func() {
			if err := cons.Start(ctx); err != nil {
				appLog.Error("invalidation consumer stopped", "err", err)
			}
		}()
	}

	handler := server.Routes(cfg, appLog, svc, metricsHandler, ready)
	if err := server.Run(ctx, cfg, appLog, handler); err != nil {
		appLog.Error("server exited with error", "err", err)
		return 1
	}
	appLog.Info("server stopped")
	return 0
}

type redisReadiness struct {
	rc      *redisstore.Client
	timeout time.Duration
}

func (r redisReadiness) Ready() (bool, map[string]string) {
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout+time.Second)
	defer cancel()
	if err := r.rc.Ping(ctx); err != nil {
		return false, map[string]string{"redis": err.Error()}
	}
	return true, map[string]string{"redis": "ok"}
}
