package http

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tapreward/server/internal/auth"
	"github.com/tapreward/server/internal/http/handlers"
	"github.com/tapreward/server/internal/middleware"
	"github.com/tapreward/server/internal/reward"
)

// RouterConfig wires the HTTP surface
type RouterConfig struct {
	Service    *reward.Service
	Periods    *reward.PeriodService
	JWTService *auth.JWTService
	Cookie     handlers.SessionCookie
	DB         handlers.Pinger
	// Gatherer backs GET /metrics. Nil disables the endpoint.
	Gatherer prometheus.Gatherer
	// RateLimit is requests per minute per client IP on tap, claim and wallet routes.
	RateLimit      int
	RateLimitBurst int
}

// NewRouter creates a new HTTP router with all routes configured
func NewRouter(cfg RouterConfig) *chi.Mux {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Logger)
	r.Use(chimw.Recoverer)

	healthHandler := handlers.NewHealthHandler(cfg.DB)
	r.Get("/health", healthHandler.ServeHTTP)
	if cfg.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(cfg.Gatherer, promhttp.HandlerOpts{}))
	}

	tapHandler := handlers.NewTapHandler(cfg.Service, cfg.Cookie)
	rewardHandler := handlers.NewRewardHandler(cfg.Service, cfg.Cookie)
	adminHandler := handlers.NewAdminHandler(cfg.Periods)

	// Public routes, limited per client IP
	r.Group(func(r chi.Router) {
		if cfg.RateLimit > 0 {
			limiter := middleware.NewRateLimiter(time.Minute, cfg.RateLimit, cfg.RateLimitBurst)
			r.Use(middleware.RateLimitMiddleware(limiter, middleware.GetIPKey))
		}
		r.Use(middleware.SessionMiddleware(cfg.Cookie.Name))

		r.Get("/tap", tapHandler.HandleTap)
		r.Route("/reward", func(r chi.Router) {
			r.Post("/claim", rewardHandler.HandleClaim)
			r.Get("/status", rewardHandler.HandleStatus)
		})
		r.Get("/wallet/message", rewardHandler.HandleWalletMessage)
	})

	// Operator routes (require an admin JWT)
	r.Route("/admin", func(r chi.Router) {
		r.Use(middleware.AdminMiddleware(cfg.JWTService))
		r.Post("/periods", adminHandler.HandleStartPeriod)
		r.Post("/periods/stop", adminHandler.HandleStopPeriod)
		r.Get("/periods/active", adminHandler.HandleActivePeriod)
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":"not found"}` + "\n"))
	})

	return r
}
