// Package server provides the HTTP server and routing for Skopos.
package server

import (
	"encoding/json"
	"net/http"
)

// handleHealth handles health check requests. The cache field reports the
// Redis probe so load balancers can tell a degraded instance from a dead
// one.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	response := map[string]any{
		"status":  "healthy",
		"service": "skopos",
		"version": "1.0.0",
	}

	switch {
	case s.container.Cache == nil:
		response["cache"] = "disabled"
	case s.container.Cache.Ping(r.Context()) != nil:
		response["cache"] = "unavailable"
	default:
		response["cache"] = "ok"
	}

	s.writeJSON(w, http.StatusOK, response)
}

// writeJSON writes a JSON response
func (s *Server) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}
