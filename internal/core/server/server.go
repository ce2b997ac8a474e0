package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mohammed-shakir/pgwfs/internal/core/health"
	"github.com/mohammed-shakir/pgwfs/internal/core/middleware"
	"github.com/mohammed-shakir/pgwfs/internal/core/router"
)

// Deps are the collaborators behind the HTTP surface. Cache and Consumer
// are nil when disabled.
type Deps struct {
	Executor router.Executor
	DB       health.Pinger
	Cache    health.Pinger
	Consumer health.ReadinessReporter
}

// NewHandler builds the chi router serving /wfs and the probes.
func NewHandler(logger *slog.Logger, deps Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recover(logger))
	r.Use(middleware.Logging(logger))
	r.Use(middleware.CORS())

	r.Get("/healthz", health.Liveness())
	r.Get("/readyz", health.Readiness(deps.DB, deps.Cache, deps.Consumer))
	r.Get("/metrics", promhttp.Handler().ServeHTTP)

	wfs := router.HandleWFS(logger, deps.Executor)
	r.Get("/wfs", wfs)
	r.Post("/wfs", wfs)
	return r
}

// Run serves until ctx is done, then shuts down gracefully.
func Run(ctx context.Context, addr string, logger *slog.Logger, deps Deps) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           NewHandler(logger, deps),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      120 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http listen", "addr", addr)
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
