// Package handlers exposes cache inspection and invalidation over HTTP.
package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/avramidis/skopos/internal/domain"
	"github.com/avramidis/skopos/internal/modules/cache"
)

// Handler handles cache HTTP requests.
type Handler struct {
	cache *cache.Manager
	log   zerolog.Logger
}

// NewHandler creates a new cache handler.
func NewHandler(cacheMgr *cache.Manager, log zerolog.Logger) *Handler {
	return &Handler{
		cache: cacheMgr,
		log:   log.With().Str("handler", "cache").Logger(),
	}
}

// HandleStats handles GET /api/cache/stats.
func (h *Handler) HandleStats(w http.ResponseWriter, r *http.Request) {
	report, err := h.cache.Stats(r.Context())
	if err != nil {
		h.writeError(w, r, http.StatusInternalServerError, "cache stats unavailable", err)
		return
	}
	h.writeJSON(w, http.StatusOK, report)
}

// HandleClear handles DELETE /api/cache.
//
// Without filters the whole cache is cleared; ?symbol= narrows to one
// symbol, ?symbol=&timeframe= to one key. A timeframe without a symbol is
// rejected because segment keys are scanned by symbol first.
func (h *Handler) HandleClear(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	symbol := strings.TrimSpace(q.Get("symbol"))
	timeframe := strings.TrimSpace(q.Get("timeframe"))

	if timeframe != "" {
		if symbol == "" {
			h.writeError(w, r, http.StatusBadRequest, "timeframe filter requires a symbol", nil)
			return
		}
		if _, err := domain.ParseTimeframe(timeframe); err != nil {
			h.writeError(w, r, http.StatusBadRequest, "invalid timeframe", err)
			return
		}
	}

	if err := h.cache.Clear(r.Context(), symbol, timeframe); err != nil {
		h.writeError(w, r, http.StatusInternalServerError, "cache clear failed", err)
		return
	}

	scope := "all"
	switch {
	case symbol != "" && timeframe != "":
		scope = fmt.Sprintf("%s %s", strings.ToUpper(symbol), timeframe)
	case symbol != "":
		scope = strings.ToUpper(symbol)
	}
	h.log.Info().Str("scope", scope).Msg("Cache cleared")
	h.writeJSON(w, http.StatusOK, map[string]string{
		"message": "cache cleared",
		"scope":   scope,
	})
}

type errorBody struct {
	Error     string `json:"error"`
	Detail    string `json:"detail,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

// writeJSON writes a JSON response.
func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}

// writeError writes the JSON error envelope.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, status int, msg string, err error) {
	body := errorBody{Error: msg, RequestID: middleware.GetReqID(r.Context())}
	if err != nil {
		body.Detail = err.Error()
	}
	evt := h.log.Warn()
	if status >= http.StatusInternalServerError {
		evt = h.log.Error()
	}
	evt.Err(err).Int("status", status).Str("path", r.URL.Path).Msg(msg)
	h.writeJSON(w, status, body)
}
