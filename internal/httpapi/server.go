package httpapi

import (
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"
)

// NewRouter wires the endpoints spec.md §6 names onto h, behind the
// request-ID, panic-recovery, request-logging, and API-key-authentication
// middleware stack. CORS is permissive by default since this is an
// internal back-office service sitting behind the upstream collaborator's
// own gateway.
func NewRouter(h *Handler, logger zerolog.Logger) *chi.Mux {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.Recoverer)
	r.Use(RequestLogging(logger))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "PATCH", "DELETE"},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-API-Key", "X-Request-User-Id", "X-Correlation-Id", "Idempotency-Key"},
	}))

	r.Get("/health", h.Health)

	r.Group(func(r chi.Router) {
		r.Use(Authenticate(h.Auth))

		r.Route("/users", func(r chi.Router) {
			r.Post("/", h.CreateUser)
			r.Get("/{id}", h.GetUser)
			r.Patch("/{id}", h.PatchUser)
			r.Delete("/{id}", h.DeleteUser)
			r.Get("/{id}/balance", h.GetBalance)
			r.Get("/{id}/history", h.GetHistory)
		})

		r.Route("/transfers", func(r chi.Router) {
			r.Post("/", h.Transfer)
			r.Get("/{id}", h.GetTransfer)
		})

		r.Route("/admin", func(r chi.Router) {
			r.Post("/mint", h.Mint)
			r.Post("/burn", h.Burn)
			r.Get("/events", h.ListEvents)
		})
	})

	return r
}
