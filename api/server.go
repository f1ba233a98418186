/*
server.go - HTTP router configuration

PURPOSE:
  Wires the chi router: request-scoped middleware, CORS, identity
  verification, role gates per route group, and the operational
  endpoints (health, metrics).

ROUTE GROUPS:
  /api/...        authenticated; role-gated per subtree
  /api/admin/...  admin only
  /health         unauthenticated liveness probe
  /metrics        Prometheus scrape endpoint

SEE ALSO:
  - handlers.go:  endpoint implementations
  - identity.go:  Authenticator and RequireRole middleware
  - metrics.go:   request instrumentation
*/
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewRouter builds the HTTP routing table around the handler set.
func NewRouter(h *Handler) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(h.Metrics.Middleware)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://*", "http://*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", h.Health)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Use(Authenticator(h.JWTSecret))

		// Customer surface.
		r.Group(func(r chi.Router) {
			r.Use(RequireRole(RoleCustomer))

			r.Post("/reservations", h.CreateReservation)
			r.Get("/reservations", h.ListReservations)
			r.Post("/reservations/{id}/cancel", h.CancelReservation)

			r.Get("/balance", h.GetBalance)
			r.Get("/transactions", h.GetTransactions)

			r.Get("/penalty", h.GetPenalty)
			r.Post("/forgiveness", h.RequestForgiveness)

			r.Get("/cooldown", h.GetCooldown)
			r.Post("/cooldown/lift", h.LiftCooldown)

			r.Get("/achievements", h.ListAchievements)
			r.Post("/achievements/{id}/claim", h.ClaimAchievement)
		})

		// Visible to both sides of a reservation.
		r.Group(func(r chi.Router) {
			r.Use(RequireRole(RoleCustomer, RolePartner))
			r.Get("/reservations/{id}", h.GetReservation)
		})

		// Partner surface.
		r.Group(func(r chi.Router) {
			r.Use(RequireRole(RolePartner))

			r.Post("/pickup/confirm", h.ConfirmPickup)
			r.Post("/reservations/{id}/no-show", h.ReportNoShow)
			r.Post("/forgiveness/{id}/resolve", h.ResolveForgiveness)
		})

		// Admin surface.
		r.Route("/admin", func(r chi.Router) {
			r.Use(RequireRole(RoleAdmin))

			r.Post("/accounts", h.CreateAccount)
			r.Post("/referrals", h.RecordReferral)
			r.Post("/sweep", h.TriggerSweep)
			r.Post("/demo", h.SeedDemo)
		})
	})

	return r
}
