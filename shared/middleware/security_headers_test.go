package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSecurityHeadersWithCSP(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })

	t.Run("plain http", func(t *testing.T) {
		rr := httptest.NewRecorder()
		SecurityHeadersWithCSP(false, FrontendCSP)(next).ServeHTTP(rr, httptest.NewRequest("GET", "/", nil))

		assert.Equal(t, "DENY", rr.Header().Get("X-Frame-Options"))
		assert.Equal(t, "nosniff", rr.Header().Get("X-Content-Type-Options"))
		assert.Equal(t, FrontendCSP, rr.Header().Get("Content-Security-Policy"))
		assert.Empty(t, rr.Header().Get("Strict-Transport-Security"))
	})

	t.Run("https without csp", func(t *testing.T) {
		rr := httptest.NewRecorder()
		SecurityHeadersWithCSP(true, "")(next).ServeHTTP(rr, httptest.NewRequest("GET", "/", nil))

		assert.Empty(t, rr.Header().Get("Content-Security-Policy"))
		assert.NotEmpty(t, rr.Header().Get("Strict-Transport-Security"))
	})
}
