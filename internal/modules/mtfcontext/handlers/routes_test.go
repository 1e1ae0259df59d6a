package handlers

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"

	testingpkg "github.com/avramidis/skopos/internal/testing"
)

func TestRegisterRoutes(t *testing.T) {
	h, _ := newTestHandler(t, testingpkg.TrendingBars(300, 100, 0.5))
	router := chi.NewRouter()

	assert.NotPanics(t, func() { h.RegisterRoutes(router) })

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodDelete, "/context/BTCUSDT", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}
