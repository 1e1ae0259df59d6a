package handlers

import (
	"github.com/go-chi/chi/v5"
)

// RegisterRoutes mounts the market data endpoints.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/ohlcv", func(r chi.Router) {
		r.Get("/{symbol}", h.HandleOHLCV)
	})
	r.Route("/symbols", func(r chi.Router) {
		r.Get("/search", h.HandleSearch)
		r.Get("/pairs", h.HandlePairs)
	})
	r.Route("/price", func(r chi.Router) {
		r.Get("/{symbol}", h.HandlePrice)
	})
}
