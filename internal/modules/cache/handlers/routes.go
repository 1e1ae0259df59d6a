package handlers

import (
	"github.com/go-chi/chi/v5"
)

// RegisterRoutes mounts the cache endpoints.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/cache", func(r chi.Router) {
		r.Get("/stats", h.HandleStats)
		r.Delete("/", h.HandleClear)
	})
}
