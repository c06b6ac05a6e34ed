// Package server wires the chi router and runs the HTTP server until its context ends.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/mohammed-shakir/wfs-ingest/internal/core/config"
	"github.com/mohammed-shakir/wfs-ingest/internal/core/health"
	middleware "github.com/mohammed-shakir/wfs-ingest/internal/core/middleware"
	"github.com/mohammed-shakir/wfs-ingest/internal/core/router"
)

// Routes builds the HTTP surface; metrics and ready may be nil
func Routes(cfg config.Config, logger *slog.Logger, svc router.Service, metrics http.Handler, ready health.ReadinessReporter) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recover(logger))
	r.Use(middleware.Logging(logger))
	r.Use(middleware.CORS())

	r.Get("/healthz", health.Liveness())
	if ready != nil {
		r.Get("/readyz", health.Readiness(ready))
	}
	if metrics != nil {
		r.Method(http.MethodGet, "/metrics", metrics)
	}
	r.Get("/layer", router.HandleLayer(svc))
	r.Get("/features", router.HandleFeatures(logger, cfg, svc))
	r.Delete("/cache", router.HandleClearCache(logger, svc))
	return r
}

// Run serves handler on cfg.Addr and shuts down gracefully when ctx is done
func Run(ctx context.Context, cfg config.Config, logger *slog.Logger, handler http.Handler) error {
	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      cfg.WFS.Timeout*time.Duration(cfg.WFS.Retries+1) + 30*time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http listen", "addr", cfg.Addr)
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return nil
	case err := <-errCh:
		return err
	}
}
