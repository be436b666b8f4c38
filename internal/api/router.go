// Package api exposes VIN resolution over HTTP.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sells-group/vehicle-resolver/internal/model"
	"github.com/sells-group/vehicle-resolver/internal/monitoring"
	"github.com/sells-group/vehicle-resolver/internal/resolver"
)

// Resolver resolves one validated request.
type Resolver interface {
	Resolve(ctx context.Context, req resolver.Request) (*model.Resolution, error)
}

// StatsCollector reports cache statistics.
type StatsCollector interface {
	Collect(ctx context.Context) (*monitoring.Snapshot, error)
}

// Config holds request limits for the router.
type Config struct {
	DefaultRadius  int
	MaxRadius      int
	CORSOrigins    []string
	RequestTimeout time.Duration
}

// NewRouter builds the HTTP handler.
func NewRouter(res Resolver, stats StatsCollector, cfg Config) http.Handler {
	h := &handler{resolver: res, stats: stats, cfg: cfg}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: cfg.CORSOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type", "Authorization"},
		MaxAge:         300,
	}))
	if cfg.RequestTimeout > 0 {
		r.Use(middleware.Timeout(cfg.RequestTimeout))
	}

	r.Get("/health", h.health)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())
	r.Get("/cache/stats", h.cacheStats)
	r.Get("/vehicles/{vin}", h.vehicle)

	return r
}
