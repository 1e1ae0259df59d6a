package handlers

import (
	"github.com/go-chi/chi/v5"
)

// RegisterRoutes mounts the regime endpoints.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/regime", func(r chi.Router) {
		r.Get("/{symbol}", h.HandleDetect)
	})
}
