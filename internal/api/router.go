package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/cors"

	"github.com/atmx/energy-market/internal/metrics"
)

// RouterConfig holds the HTTP middleware settings.
type RouterConfig struct {
	CORSOrigins    []string
	RequestTimeout time.Duration
}

// NewRouter mounts every endpoint. hub may be nil to disable /api/v1/ws.
func NewRouter(svc *Service, hub *WSHub, cfg RouterConfig) chi.Router {
	if len(cfg.CORSOrigins) == 0 {
		cfg.CORSOrigins = []string{"*"}
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 30 * time.Second
	}

	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(metrics.Middleware)
	r.Use(cors.New(cors.Options{
		AllowedOrigins: cfg.CORSOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", "Authorization"},
	}).Handler)

	r.Get("/health", svc.Health)

	// Prometheus metrics endpoint.
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		// WebSocket endpoint for tick reports; outside the request timeout.
		if hub != nil {
			r.Get("/ws", hub.HandleWS)
		}

		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(cfg.RequestTimeout))

			r.Get("/buildings", svc.ListBuildings)
			r.Get("/buildings/{buildingID}", svc.GetBuilding)

			r.Get("/trades", svc.ListTrades)
			r.Get("/trades/export", svc.ExportTrades)

			r.Get("/stats", svc.GetStats)
			r.Get("/leaderboard", svc.GetLeaderboard)
			r.Get("/energy/history", svc.GetHistory)

			r.Get("/simulation", svc.GetSimulation)
			r.Post("/simulation/pause", svc.Pause)
			r.Post("/simulation/resume", svc.Resume)
			r.Post("/simulation/step", svc.Step)
			r.Put("/simulation/weather", svc.SetWeather)
		})
	})

	return r
}
