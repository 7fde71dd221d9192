package jwt

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
	internal_errors "github.com/neuroaccess/neuroaccess/shared/errors"
)

const issuer = "neuroaccess"

// JwtService signs and verifies the session cookie. The only claim that
// matters is the session id carried in "sid".
type JwtService interface {
	NewToken(sessionID string) (string, error)
	DecodeToken(jwtStr string) (string, error)
	TTL() time.Duration
}

type Jwt struct {
	secretKey string
	ttl       time.Duration
}

func New(secretKey string, ttl time.Duration) JwtService {
	return &Jwt{secretKey, ttl}
}

func (j *Jwt) TTL() time.Duration {
	return j.ttl
}

func (j *Jwt) NewToken(sessionID string) (string, error) {
	if sessionID == "" {
		return "", errors.New("empty session id")
	}
	claims := jwt.MapClaims{}
	claims["sid"] = sessionID
	claims["iss"] = issuer
	claims["iat"] = time.Now().Unix()
	claims["exp"] = time.Now().Add(j.ttl).Unix()

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString([]byte(j.secretKey))
	if err != nil {
		return "", fmt.Errorf("can't sign session token: %w", err)
	}

	return tokenString, nil
}

func (j *Jwt) DecodeToken(jwtStr string) (string, error) {
	token, err := jwt.Parse(jwtStr, func(token *jwt.Token) (interface{}, error) {
		// Verify signing algorithm
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, &internal_errors.ErrorWithStatusCode{Message: fmt.Sprintf("Unexpected signing method: %v", token.Header["alg"]), StatusCode: http.StatusUnauthorized}
		}
		return []byte(j.secretKey), nil
	}, jwt.WithIssuer(issuer), jwt.WithExpirationRequired())
	if err != nil {
		return "", &internal_errors.ErrorWithStatusCode{Message: "Invalid session token", StatusCode: http.StatusUnauthorized, Err: err}
	}

	if !token.Valid {
		return "", &internal_errors.ErrorWithStatusCode{Message: "Invalid session token", StatusCode: http.StatusUnauthorized}
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return "", &internal_errors.ErrorWithStatusCode{Message: "Invalid session claims", StatusCode: http.StatusUnauthorized}
	}
	sid, _ := claims["sid"].(string)
	if sid == "" {
		return "", &internal_errors.ErrorWithStatusCode{Message: "Session id missing", StatusCode: http.StatusUnauthorized}
	}
	return sid, nil
}
