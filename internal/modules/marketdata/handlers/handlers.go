// Package handlers exposes raw OHLCV loading and symbol lookups over HTTP.
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
)

const (
	defaultOHLCVCount  = 100
	defaultSearchLimit = 20
	maxSearchLimit     = 100
)

// Handler handles market data HTTP requests.
type Handler struct {
	registry *marketdata.Registry
	log      zerolog.Logger
}

// NewHandler creates a new market data handler.
func NewHandler(registry *marketdata.Registry, log zerolog.Logger) *Handler {
	return &Handler{
		registry: registry,
		log:      log.With().Str("handler", "marketdata").Logger(),
	}
}

// HandleOHLCV handles GET /api/ohlcv/{symbol}.
//
// Query parameters: timeframe (required), count, from, to (epoch
// milliseconds), reference_date, source, skip_cache. The response is the
// raw load result including provenance and the gap report, which makes
// this the inspection surface for cache and adapter behavior.
func (h *Handler) HandleOHLCV(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	req := marketdata.Request{
		Symbol:    chi.URLParam(r, "symbol"),
		Timeframe: strings.TrimSpace(q.Get("timeframe")),
		Count:     defaultOHLCVCount,
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
	if raw := q.Get("from"); raw != "" {
		from, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || from < 0 {
			h.writeError(w, r, http.StatusBadRequest, "from must be epoch milliseconds", err)
			return
		}
		req.From = from
	}
	if raw := q.Get("to"); raw != "" {
		to, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || to < 0 {
			h.writeError(w, r, http.StatusBadRequest, "to must be epoch milliseconds", err)
			return
		}
		req.To = to
	}
	if raw := q.Get("reference_date"); raw != "" {
		ref, err := domain.ParseReferenceDate(raw)
		if err != nil {
			h.writeError(w, r, http.StatusBadRequest, "invalid reference_date", err)
			return
		}
		req.ReferenceDate = &ref
	}
	if raw := q.Get("skip_cache"); raw != "" {
		skip, err := strconv.ParseBool(raw)
		if err != nil {
			h.writeError(w, r, http.StatusBadRequest, "skip_cache must be a boolean", err)
			return
		}
		req.SkipCache = skip
	}

	provider, err := h.registry.Provider(strings.TrimSpace(q.Get("source")))
	if err != nil {
		h.writeError(w, r, http.StatusBadRequest, "unknown market data source", err)
		return
	}

	result, err := provider.LoadOHLCV(r.Context(), req)
	if err != nil {
		status, msg := loadStatus(err)
		h.writeError(w, r, status, msg, err)
		return
	}
	h.writeJSON(w, http.StatusOK, result)
}

// HandleSearch handles GET /api/symbols/search.
//
// Query parameters: q (required), limit, source.
func (h *Handler) HandleSearch(w http.ResponseWriter, r *http.Request) {
	params := r.URL.Query()

	query := strings.TrimSpace(params.Get("q"))
	if query == "" {
		h.writeError(w, r, http.StatusBadRequest, "q query parameter is required", nil)
		return
	}
	limit := defaultSearchLimit
	if raw := params.Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			h.writeError(w, r, http.StatusBadRequest, "limit must be a positive integer", err)
			return
		}
		limit = parsed
		if limit > maxSearchLimit {
			limit = maxSearchLimit
		}
	}
	provider, err := h.registry.Provider(strings.TrimSpace(params.Get("source")))
	if err != nil {
		h.writeError(w, r, http.StatusBadRequest, "unknown market data source", err)
		return
	}

	results, err := provider.Adapter().SearchSymbols(r.Context(), query, limit)
	if err != nil {
		h.writeError(w, r, fetchStatus(err), "symbol search failed", err)
		return
	}
	if results == nil {
		results = []domain.SymbolInfo{}
	}
	h.writeJSON(w, http.StatusOK, map[string]any{
		"query":   query,
		"count":   len(results),
		"results": results,
		"source":  provider.Adapter().Name(),
	})
}

// HandlePairs handles GET /api/symbols/pairs.
func (h *Handler) HandlePairs(w http.ResponseWriter, r *http.Request) {
	provider, err := h.registry.Provider(strings.TrimSpace(r.URL.Query().Get("source")))
	if err != nil {
		h.writeError(w, r, http.StatusBadRequest, "unknown market data source", err)
		return
	}

	pairs, err := provider.Adapter().ListPairs(r.Context())
	if err != nil {
		h.writeError(w, r, fetchStatus(err), "pair listing failed", err)
		return
	}
	if pairs == nil {
		pairs = []domain.SymbolInfo{}
	}
	h.writeJSON(w, http.StatusOK, map[string]any{
		"count":  len(pairs),
		"pairs":  pairs,
		"source": provider.Adapter().Name(),
	})
}

// HandlePrice handles GET /api/price/{symbol}.
func (h *Handler) HandlePrice(w http.ResponseWriter, r *http.Request) {
	symbol := strings.ToUpper(strings.TrimSpace(chi.URLParam(r, "symbol")))

	provider, err := h.registry.Provider(strings.TrimSpace(r.URL.Query().Get("source")))
	if err != nil {
		h.writeError(w, r, http.StatusBadRequest, "unknown market data source", err)
		return
	}

	price, err := provider.Adapter().GetPrice(r.Context(), symbol)
	if err != nil {
		h.writeError(w, r, fetchStatus(err), "price fetch failed", err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{
		"symbol": symbol,
		"price":  price,
		"source": provider.Adapter().Name(),
	})
}

// loadStatus maps a load failure to a status code and a stable,
// client-facing message.
func loadStatus(err error) (int, string) {
	switch {
	case errors.Is(err, marketdata.ErrInvalidRequest),
		errors.Is(err, domain.ErrInvalidTimeframe):
		return http.StatusBadRequest, "invalid request"
	case errors.Is(err, marketdata.ErrInsufficientHistory):
		return http.StatusUnprocessableEntity, "insufficient history before the reference date"
	case errors.Is(err, marketdata.ErrNoData):
		return http.StatusUnprocessableEntity, "no data for the requested window"
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "load timed out"
	default:
		return http.StatusBadGateway, "market data fetch failed"
	}
}

// fetchStatus distinguishes timeouts from plain adapter failures on the
// lookup endpoints.
func fetchStatus(err error) int {
	if errors.Is(err, context.DeadlineExceeded) {
		return http.StatusGatewayTimeout
	}
	return http.StatusBadGateway
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
