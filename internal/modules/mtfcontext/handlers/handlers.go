// Package handlers exposes the multi-timeframe context analysis over HTTP.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/avramidis/skopos/internal/domain"
	"github.com/avramidis/skopos/internal/modules/marketdata"
	"github.com/avramidis/skopos/internal/modules/mtfcontext"
)

// Handler handles context analysis HTTP requests.
type Handler struct {
	analyzer *mtfcontext.Analyzer
	log      zerolog.Logger
}

// NewHandler creates a new context handler.
func NewHandler(analyzer *mtfcontext.Analyzer, log zerolog.Logger) *Handler {
	return &Handler{
		analyzer: analyzer,
		log:      log.With().Str("handler", "context").Logger(),
	}
}

// HandleAnalyze handles GET /api/context/{symbol}.
//
// Query parameters: long, medium, short (at least one must name a
// timeframe), narrative, reference_date (epoch milliseconds or RFC3339),
// source. Failures of a single timeframe do not fail the request; they
// are reported in the errors map of the body.
func (h *Handler) HandleAnalyze(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	req := mtfcontext.Request{
		Symbol: chi.URLParam(r, "symbol"),
		Source: strings.TrimSpace(q.Get("source")),
	}

	slots := []struct {
		role string
		dst  **string
	}{
		{"long", &req.Timeframes.Long},
		{"medium", &req.Timeframes.Medium},
		{"short", &req.Timeframes.Short},
	}
	seen := make(map[string]string, len(slots))
	for _, slot := range slots {
		raw := strings.TrimSpace(q.Get(slot.role))
		if raw == "" {
			continue
		}
		if _, err := domain.ParseTimeframe(raw); err != nil {
			h.writeError(w, r, http.StatusBadRequest,
				fmt.Sprintf("invalid %s timeframe", slot.role), err)
			return
		}
		if prev, dup := seen[raw]; dup {
			h.writeError(w, r, http.StatusBadRequest,
				fmt.Sprintf("timeframe %q given as both %s and %s", raw, prev, slot.role), nil)
			return
		}
		seen[raw] = slot.role
		tf := raw
		*slot.dst = &tf
	}
	if len(seen) == 0 {
		h.writeError(w, r, http.StatusBadRequest,
			"at least one of long, medium or short is required", nil)
		return
	}

	if raw := q.Get("narrative"); raw != "" {
		include, err := strconv.ParseBool(raw)
		if err != nil {
			h.writeError(w, r, http.StatusBadRequest, "narrative must be a boolean", err)
			return
		}
		req.IncludeNarrative = include
	}
	if raw := q.Get("reference_date"); raw != "" {
		ref, err := domain.ParseReferenceDate(raw)
		if err != nil {
			h.writeError(w, r, http.StatusBadRequest, "invalid reference_date", err)
			return
		}
		req.ReferenceDate = &ref
	}

	report, err := h.analyzer.Analyze(r.Context(), req)
	if err != nil {
		status, msg := analyzeStatus(err)
		h.writeError(w, r, status, msg, err)
		return
	}
	h.writeJSON(w, http.StatusOK, report)
}

// analyzeStatus maps an analysis failure to a status code and a stable,
// client-facing message.
func analyzeStatus(err error) (int, string) {
	switch {
	case errors.Is(err, marketdata.ErrUnknownSource):
		return http.StatusBadRequest, "unknown market data source"
	case errors.Is(err, domain.ErrInvalidTimeframe):
		return http.StatusBadRequest, "invalid timeframe"
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "context analysis timed out"
	default:
		return http.StatusBadGateway, "context analysis failed"
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
