package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/neuroaccess/neuroaccess/shared/jwt"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sessionCookie(t *testing.T, rr *httptest.ResponseRecorder) *http.Cookie {
	t.Helper()
	for _, c := range rr.Result().Cookies() {
		if c.Name == SessionCookieName {
			return c
		}
	}
	t.Fatal("session cookie not set")
	return nil
}

type recordingKeeper struct {
	touched []string
	err     error
}

func (k *recordingKeeper) Touch(ctx context.Context, namespace string) error {
	k.touched = append(k.touched, namespace)
	return k.err
}

func TestSessionMiddleware(t *testing.T) {
	jwtService := jwt.New("0123456789abcdef0123456789abcdef", time.Hour)
	s := NewSession(jwtService, nil, true)

	var seen string
	handler := s.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = SessionIDFromContext(r.Context())
	}))

	t.Run("new visitor gets a session", func(t *testing.T) {
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))

		require.NotEmpty(t, seen)
		c := sessionCookie(t, rr)
		assert.True(t, c.HttpOnly)
		assert.True(t, c.Secure)
		assert.Equal(t, 3600, c.MaxAge)
		sid, err := jwtService.DecodeToken(c.Value)
		require.NoError(t, err)
		assert.Equal(t, seen, sid)
	})

	t.Run("returning visitor keeps the session", func(t *testing.T) {
		token, err := jwtService.NewToken("known-session")
		require.NoError(t, err)
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.AddCookie(&http.Cookie{Name: SessionCookieName, Value: token})
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)

		assert.Equal(t, "known-session", seen)
		sid, err := jwtService.DecodeToken(sessionCookie(t, rr).Value)
		require.NoError(t, err)
		assert.Equal(t, "known-session", sid)
	})

	t.Run("forged cookie starts a new session", func(t *testing.T) {
		other := jwt.New("another-secret-another-secret-xx", time.Hour)
		token, err := other.NewToken("victim-session")
		require.NoError(t, err)
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.AddCookie(&http.Cookie{Name: SessionCookieName, Value: token})
		handler.ServeHTTP(httptest.NewRecorder(), req)

		assert.NotEmpty(t, seen)
		assert.NotEqual(t, "victim-session", seen)
	})

	t.Run("outside middleware", func(t *testing.T) {
		assert.Empty(t, SessionIDFromContext(httptest.NewRequest(http.MethodGet, "/", nil).Context()))
	})
}

func TestSessionMiddleware_ExtendsStoredState(t *testing.T) {
	jwtService := jwt.New("0123456789abcdef0123456789abcdef", time.Hour)
	keeper := &recordingKeeper{}
	handler := NewSession(jwtService, keeper, false).Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	// a fresh session has nothing stored yet
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Empty(t, keeper.touched)

	token, err := jwtService.NewToken("known-session")
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: SessionCookieName, Value: token})
	handler.ServeHTTP(httptest.NewRecorder(), req)
	assert.Equal(t, []string{"known-session"}, keeper.touched)

	t.Run("store failure does not block the request", func(t *testing.T) {
		keeper.err = errors.New("store down")
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)
		assert.Equal(t, http.StatusOK, rr.Code)
		assert.NotNil(t, sessionCookie(t, rr))
	})
}
