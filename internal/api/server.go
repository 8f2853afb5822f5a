// Package api provides the admin and circulation HTTP API.
package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// ServerOption configures the API server
type ServerOption func(*serverConfig)

// serverConfig holds the server configuration
type serverConfig struct {
	middlewares []func(http.Handler) http.Handler
	registry    *prometheus.Registry
}

// WithMiddlewares adds middleware to the server
func WithMiddlewares(mw ...func(http.Handler) http.Handler) ServerOption {
	return func(cfg *serverConfig) {
		cfg.middlewares = append(cfg.middlewares, mw...)
	}
}

// WithMetricsRegistry mounts a Prometheus scrape endpoint at /metrics.
func WithMetricsRegistry(registry *prometheus.Registry) ServerOption {
	return func(cfg *serverConfig) {
		cfg.registry = registry
	}
}

// NewServer creates and configures the HTTP router with the given routes and options
func NewServer(routes *Routes, opts ...ServerOption) *chi.Mux {
	cfg := &serverConfig{
		middlewares: []func(http.Handler) http.Handler{},
	}

	for _, opt := range opts {
		opt(cfg)
	}

	r := chi.NewRouter()

	for _, mw := range cfg.middlewares {
		r.Use(mw)
	}

	r.Get("/health", routes.health)
	r.Get("/version", routes.version)

	if cfg.registry != nil {
		r.Handle("/metrics", promhttp.HandlerFor(cfg.registry, promhttp.HandlerOpts{}))
	}

	r.Route("/collections", func(r chi.Router) {
		r.Get("/", routes.listCollections)
		r.Route("/{collection}", func(r chi.Router) {
			r.Get("/checkpoint", routes.getCheckpoint)
			r.Delete("/checkpoint", routes.resetCheckpoint)
			r.Post("/sync", routes.triggerSync)
			r.Post("/selftest", routes.selfTest)

			r.Route("/titles/{identifier}", func(r chi.Router) {
				r.Get("/", routes.getTitle)
				r.Post("/loans", routes.acquireLoan)
				r.Delete("/loans/{patron}", routes.releaseLoan)
				r.Post("/holds", routes.placeHold)
				r.Post("/holds/{patron}/convert", routes.convertHold)
				r.Delete("/holds/{patron}", routes.cancelHold)
			})
		})
	})

	r.Post("/coverage/{type}/refresh", routes.forceCoverageRefresh)

	return r
}

// LoggingMiddleware logs HTTP requests
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		slog.Debug("HTTP request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}
