package handlers

import (
	"github.com/go-chi/chi/v5"
)

// RegisterRoutes mounts the context endpoints.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/context", func(r chi.Router) {
		r.Get("/{symbol}", h.HandleAnalyze)
	})
}
