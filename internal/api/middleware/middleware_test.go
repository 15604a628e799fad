package middleware_test

import (
	"compress/gzip"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zatekoja/patientflow/internal/api/middleware"
)

func okHandler(body string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTeapot)
		_, _ = w.Write([]byte(body))
	})
}

func TestCompression(t *testing.T) {
	handler := middleware.ResponseOptimization(okHandler(`{"success":true}`))

	t.Run("compresses when accepted", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/api/clinics", nil)
		req.Header.Set("Accept-Encoding", "gzip")
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)

		assert.Equal(t, "gzip", w.Header().Get("Content-Encoding"))
		assert.Equal(t, "private, no-cache, must-revalidate", w.Header().Get("Cache-Control"))
		gz, err := gzip.NewReader(w.Body)
		require.NoError(t, err)
		body, err := io.ReadAll(gz)
		require.NoError(t, err)
		assert.Equal(t, `{"success":true}`, string(body))
	})

	t.Run("leaves streams alone", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/api/stream/clinics/lab", nil)
		req.Header.Set("Accept-Encoding", "gzip")
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)

		assert.Empty(t, w.Header().Get("Content-Encoding"))
		assert.Empty(t, w.Header().Get("Cache-Control"))
	})

	t.Run("route templates are cacheable", func(t *testing.T) {
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, httptest.NewRequest("GET", "/api/routes/general", nil))
		assert.Equal(t, "public, max-age=60, must-revalidate", w.Header().Get("Cache-Control"))
	})
}

func TestLoggingMiddleware_CapturesStatus(t *testing.T) {
	handler := middleware.LoggingMiddleware(middleware.ObservabilityMiddleware(nil)(okHandler("{}")))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest("POST", "/api/admin/tick", nil))
	assert.Equal(t, http.StatusTeapot, w.Code)
	assert.Equal(t, "{}", w.Body.String())
}

func TestCORS(t *testing.T) {
	preflight := func(h http.Handler, origin string) *httptest.ResponseRecorder {
		req := httptest.NewRequest("OPTIONS", "/api/admin/settings/grace_minutes", nil)
		req.Header.Set("Origin", origin)
		w := httptest.NewRecorder()
		h.ServeHTTP(w, req)
		return w
	}

	w := preflight(middleware.CORS(nil)(okHandler("{}")), "http://kiosk.local")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, w.Header().Get("Access-Control-Allow-Methods"), "PUT")

	restricted := middleware.CORS([]string{"http://board.local"})(okHandler("{}"))
	w = preflight(restricted, "http://board.local")
	assert.Equal(t, "http://board.local", w.Header().Get("Access-Control-Allow-Origin"))
	w = preflight(restricted, "http://evil.example")
	assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
}
