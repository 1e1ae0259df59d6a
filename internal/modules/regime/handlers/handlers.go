// Package handlers exposes regime detection over HTTP.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/avramidis/skopos/internal/domain"
	"github.com/avramidis/skopos/internal/modules/marketdata"
	"github.com/avramidis/skopos/internal/modules/regime"
)

// Handler handles regime detection HTTP requests.
type Handler struct {
	engine *regime.Engine
	log    zerolog.Logger
}

// NewHandler creates a new regime handler.
func NewHandler(engine *regime.Engine, log zerolog.Logger) *Handler {
	return &Handler{
		engine: engine,
		log:    log.With().Str("handler", "regime").Logger(),
	}
}

// HandleDetect handles GET /api/regime/{symbol}.
//
// Query parameters: timeframe (required), count, reference_date (epoch
// milliseconds or RFC3339), source.
func (h *Handler) HandleDetect(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	req := regime.Request{
		Symbol:    chi.URLParam(r, "symbol"),
		Timeframe: strings.TrimSpace(q.Get("timeframe")),
		Source:    strings.TrimSpace(q.Get("source")),
	}
	if req.Timeframe == "" {
		h.writeError(w, r, http.StatusBadRequest, "timeframe query parameter is required", nil)
		return
	}
	if _, err := domain.ParseTimeframe(req.Timeframe); err != nil {
		h.writeError(w, r, http.StatusBadRequest, "invalid timeframe", err)
		return
	}
	if raw := q.Get("count"); raw != "" {
		count, err := strconv.Atoi(raw)
		if err != nil || count < 1 {
			h.writeError(w, r, http.StatusBadRequest, "count must be a positive integer", err)
			return
		}
		req.Count = count
	}
	if raw := q.Get("reference_date"); raw != "" {
		ref, err := domain.ParseReferenceDate(raw)
		if err != nil {
			h.writeError(w, r, http.StatusBadRequest, "invalid reference_date", err)
			return
		}
		req.ReferenceDate = &ref
	}

	result, err := h.engine.Detect(r.Context(), req)
	if err != nil {
		status, msg := detectStatus(err)
		h.writeError(w, r, status, msg, err)
		return
	}
	h.writeJSON(w, http.StatusOK, result)
}

// detectStatus maps a detection failure to a status code and a stable,
// client-facing message. The raw error still travels in the detail field.
func detectStatus(err error) (int, string) {
	switch {
	case errors.Is(err, marketdata.ErrUnknownSource):
		return http.StatusBadRequest, "unknown market data source"
	case errors.Is(err, domain.ErrInvalidTimeframe):
		return http.StatusBadRequest, "invalid timeframe"
	case errors.Is(err, marketdata.ErrInvalidRequest):
		return http.StatusBadRequest, "invalid request"
	case errors.Is(err, regime.ErrInsufficientBars),
		errors.Is(err, marketdata.ErrInsufficientHistory),
		errors.Is(err, marketdata.ErrNoData):
		return http.StatusUnprocessableEntity, "not enough closed bars for detection"
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "detection timed out"
	default:
		return http.StatusBadGateway, "market data fetch failed"
	}
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
