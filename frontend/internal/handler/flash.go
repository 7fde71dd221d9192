package handler

import (
	"context"
	"encoding/base64"
	"errors"
	"net/http"

	"github.com/neuroaccess/neuroaccess/frontend/internal/scanstate"
	internal_errors "github.com/neuroaccess/neuroaccess/shared/errors"
	"github.com/neuroaccess/neuroaccess/shared/logger"
)

const (
	flashCookieError   = "flash_error"
	flashCookieSuccess = "flash_success"
	flashMaxAge        = 300 // 5 minutes (enough time for redirect)
)

// setFlash stores a one-shot notice for the next rendered page. Messages are
// base64 encoded for safe storage of special characters.
func (h *Handler) setFlash(w http.ResponseWriter, name, message string) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    base64.StdEncoding.EncodeToString([]byte(message)),
		Path:     "/",
		MaxAge:   flashMaxAge,
		HttpOnly: true,
		Secure:   h.Public.SecureCookies,
		SameSite: http.SameSiteLaxMode,
	})
}

func (h *Handler) redirectWithFlash(w http.ResponseWriter, r *http.Request, targetURL, name, message string) {
	h.setFlash(w, name, message)
	http.Redirect(w, r, targetURL, http.StatusSeeOther)
}

// popFlash reads and clears a flash cookie.
func (h *Handler) popFlash(w http.ResponseWriter, r *http.Request, name string) string {
	cookie, err := r.Cookie(name)
	if err != nil || cookie.Value == "" {
		return ""
	}
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.Public.SecureCookies,
		SameSite: http.SameSiteLaxMode,
	})
	decoded, err := base64.StdEncoding.DecodeString(cookie.Value)
	if err != nil {
		return ""
	}
	return string(decoded)
}

const (
	msgInternal      = "Something went wrong. Please try again."
	msgDraftConflict = "Your upload changed in another tab. Please try again."
	msgSessionGone   = "Your session could not be read. Please reload the page."
)

// userMessage is what a person sees for err. Typed errors carry their own
// message; anything else is internal and stays in the log.
func userMessage(err error) string {
	var e *internal_errors.ErrorWithStatusCode
	if errors.As(err, &e) && e.Message != "" {
		return e.Message
	}
	return msgInternal
}

// abandoned reports whether the caller went away; results for such requests
// are dropped without touching the store.
func abandoned(ctx context.Context, err error) bool {
	if ctx.Err() != nil || errors.Is(err, context.Canceled) {
		logger.Log.Debug("request abandoned by client", "error", err)
		return true
	}
	return false
}

func isStale(err error) bool {
	return errors.Is(err, scanstate.ErrStale)
}
