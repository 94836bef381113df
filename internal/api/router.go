package api

import (
	"github.com/go-chi/chi/v5"

	"github.com/good-yellow-bee/blazealert/internal/api/middleware"
)

// setupRouter creates and configures the chi router with all routes.
func (s *Server) setupRouter() *chi.Mux {
	r := chi.NewRouter()

	ipLimiter := middleware.NewRateLimiter(s.config.RateLimitPerIP)

	// Global middleware
	r.Use(middleware.RequestLogger(s.logger, s.config.Verbose))
	r.Use(middleware.PrometheusMiddleware)
	r.Use(middleware.SecurityHeaders)
	r.Use(middleware.Recoverer(s.logger))

	r.Route("/api/v1", func(r chi.Router) {
		// Token redemption is authorized by the token itself.
		r.Group(func(r chi.Router) {
			r.Use(middleware.RateLimitByIP(ipLimiter))
			r.Get("/silence", s.Redeem)
			r.Post("/silence", s.Redeem)
		})

		r.Route("/alerts/{id}", func(r chi.Router) {
			r.Use(middleware.APITokenAuth(s.config.APIToken))
			r.Post("/silence-token", s.IssueToken)
			r.Post("/silenced", s.Silence)
			r.Delete("/silenced", s.Unsilence)
		})
	})

	r.Get("/health", s.healthHandler.Health)
	r.Get("/health/live", s.healthHandler.Live)
	r.Get("/health/ready", s.healthHandler.Ready)

	return r
}
