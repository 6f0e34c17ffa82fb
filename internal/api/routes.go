package api

import (
	"github.com/go-chi/chi/v5"
)

// setupAPIRoutes sets up API v1 routes
func (s *RESTServer) setupAPIRoutes(r chi.Router) {
	// Health check
	r.Get("/health", s.HandleHealth)
	r.Get("/", s.HandleRoot)

	// Auth routes (public)
	r.Route("/auth", func(r chi.Router) {
		r.Post("/login", s.HandleLogin)
		r.Post("/refresh", s.HandleRefresh)
	})

	// Protected routes
	r.Group(func(r chi.Router) {
		// Slots
		r.Route("/slots", func(r chi.Router) {
			r.Use(s.authMiddleware)
			r.Get("/", s.HandleListSlots)
			r.Route("/{index}", func(r chi.Router) {
				r.Get("/", s.HandleGetSlot)
				r.Put("/brand", s.HandleSetBrandOverride)
				r.Delete("/brand", s.HandleDeleteBrandOverride)
			})
		})

		// Phones
		r.Route("/phones", func(r chi.Router) {
			r.Use(s.authMiddleware)
			r.Get("/{id}/state", s.HandleGetPhoneState)
			r.Post("/{id}/refresh", s.HandleRefreshPhone)
		})

		// Event log
		r.Route("/events", func(r chi.Router) {
			r.Use(s.authMiddleware)
			r.Get("/", s.HandleListEvents)
		})
	})
}
