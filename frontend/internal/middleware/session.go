package middleware

import (
	"context"
	"net/http"

	"github.com/google/uuid"
	"github.com/neuroaccess/neuroaccess/shared/jwt"
	"github.com/neuroaccess/neuroaccess/shared/logger"
)

const SessionCookieName = "neuro_session"

type sessionContextKey string

const sessionIDContextKey sessionContextKey = "session_id"

// SessionKeeper extends the stored state of a session. kv.Store satisfies it.
type SessionKeeper interface {
	Touch(ctx context.Context, namespace string) error
}

// Session gives every browser a signed session cookie. The session id it
// carries names the browser's namespace in the session store.
type Session struct {
	jwt           jwt.JwtService
	keeper        SessionKeeper
	secureCookies bool
}

// keeper may be nil when nothing is stored per session.
func NewSession(jwtService jwt.JwtService, keeper SessionKeeper, secureCookies bool) *Session {
	return &Session{jwt: jwtService, keeper: keeper, secureCookies: secureCookies}
}

// Middleware resolves the session id, starting a new session when the cookie
// is missing, expired or forged. The cookie is re-issued on every request so
// that active sessions slide forward, and the stored state slides with it.
func (s *Session) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var sid string
		if cookie, err := r.Cookie(SessionCookieName); err == nil && cookie.Value != "" {
			sid, err = s.jwt.DecodeToken(cookie.Value)
			if err != nil {
				logger.Log.Debug("discarding invalid session cookie", "error", err)
			}
		}
		if sid == "" {
			sid = uuid.NewString()
		} else if s.keeper != nil {
			if err := s.keeper.Touch(r.Context(), sid); err != nil {
				logger.Log.Warn("failed to extend session state", "error", err)
			}
		}

		token, err := s.jwt.NewToken(sid)
		if err != nil {
			logger.Log.Error("failed to issue session token", "error", err)
			http.Error(w, "Internal server error", http.StatusInternalServerError)
			return
		}
		http.SetCookie(w, &http.Cookie{
			Name:     SessionCookieName,
			Value:    token,
			Path:     "/",
			HttpOnly: true,
			Secure:   s.secureCookies,
			SameSite: http.SameSiteLaxMode,
			MaxAge:   int(s.jwt.TTL().Seconds()),
		})

		next.ServeHTTP(w, r.WithContext(WithSessionID(r.Context(), sid)))
	})
}

func WithSessionID(ctx context.Context, sid string) context.Context {
	return context.WithValue(ctx, sessionIDContextKey, sid)
}

// SessionIDFromContext returns "" outside the session middleware.
func SessionIDFromContext(ctx context.Context) string {
	sid, _ := ctx.Value(sessionIDContextKey).(string)
	return sid
}
