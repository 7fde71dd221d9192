package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/neuroaccess/neuroaccess/shared/csrf"
	"github.com/neuroaccess/neuroaccess/shared/logger"
)

const (
	csrfCookieName = "csrf_token"
	csrfFormField  = "csrf_token"
	CSRFHeader     = "X-CSRF-Token"
)

type csrfContextKey string

const csrfTokenContextKey csrfContextKey = "csrf_token"

// CSRFConfig holds CSRF middleware configuration
type CSRFConfig struct {
	SecureCookies bool  // Use Secure flag on cookies (requires HTTPS)
	MaxAge        int   // cookie lifetime in seconds
	MaxMemory     int64 // multipart bytes kept in memory while parsing, the rest spills to disk
}

// GenerateCSRFToken makes sure every visitor has a token cookie and exposes
// the token to templates through the request context.
func GenerateCSRFToken(config CSRFConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var token string
			if cookie, err := r.Cookie(csrfCookieName); err == nil && cookie.Value != "" {
				token = cookie.Value
			} else {
				token, err = csrf.GenerateToken()
				if err != nil {
					logger.Log.Error("failed to generate CSRF token", "error", err)
					http.Error(w, "Internal server error", http.StatusInternalServerError)
					return
				}
				http.SetCookie(w, &http.Cookie{
					Name:     csrfCookieName,
					Value:    token,
					Path:     "/",
					HttpOnly: true,
					Secure:   config.SecureCookies,
					SameSite: http.SameSiteLaxMode,
					MaxAge:   config.MaxAge,
				})
			}

			ctx := context.WithValue(r.Context(), csrfTokenContextKey, token)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// ExposeCSRFToken echoes the request's token in the X-CSRF-Token response
// header. Scripts cannot read the HttpOnly cookie, so API callers take the
// token from any response and send it back on unsafe requests. Must run
// after GenerateCSRFToken.
func ExposeCSRFToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if token := GetCSRFTokenFromContext(r); token != "" {
			w.Header().Set(CSRFHeader, token)
		}
		next.ServeHTTP(w, r)
	})
}

// ValidateCSRFToken rejects unsafe requests whose form field (or X-CSRF-Token
// header) does not match the cookie.
func ValidateCSRFToken(config CSRFConfig) func(http.Handler) http.Handler {
	maxMemory := config.MaxMemory
	if maxMemory <= 0 {
		maxMemory = 32 << 20
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			switch r.Method {
			case http.MethodGet, http.MethodHead, http.MethodOptions:
				next.ServeHTTP(w, r)
				return
			}

			cookie, err := r.Cookie(csrfCookieName)
			if err != nil {
				logger.Log.Warn("CSRF token cookie missing", "path", r.URL.Path)
				http.Error(w, "CSRF token missing", http.StatusForbidden)
				return
			}

			submitted := r.Header.Get(CSRFHeader)
			if submitted == "" {
				contentType := r.Header.Get("Content-Type")
				if strings.HasPrefix(contentType, "multipart/form-data") {
					if err := r.ParseMultipartForm(maxMemory); err != nil {
						logger.Log.Warn("failed to parse multipart form", "path", r.URL.Path, "error", err)
						http.Error(w, "Invalid form data", http.StatusBadRequest)
						return
					}
				} else if r.Form == nil {
					if err := r.ParseForm(); err != nil {
						logger.Log.Warn("failed to parse form", "path", r.URL.Path, "error", err)
						http.Error(w, "Invalid form data", http.StatusBadRequest)
						return
					}
				}
				submitted = r.FormValue(csrfFormField)
			}

			if !csrf.ValidateToken(cookie.Value, submitted) {
				logger.Log.Warn("CSRF token validation failed", "path", r.URL.Path)
				http.Error(w, "CSRF token invalid", http.StatusForbidden)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// GetCSRFTokenFromContext retrieves CSRF token from request context
func GetCSRFTokenFromContext(r *http.Request) string {
	token, _ := r.Context().Value(csrfTokenContextKey).(string)
	return token
}
