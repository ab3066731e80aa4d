// Package auth binds a verified principal to an incoming websocket handshake.
package auth

import (
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"sentinal-realtime/internal/domain"
	sentinal_errors "sentinal-realtime/pkg/errors"
)

const (
	tokenQueryParam = "token"
	tokenCookie     = "access_token"
)

type AccessClaims struct {
	Role string `json:"role,omitempty"`
	jwt.RegisteredClaims
}

// JWTBinder verifies HS256 access tokens issued by the external authenticator.
type JWTBinder struct {
	secret []byte
}

func NewJWTBinder(secret string) *JWTBinder {
	return &JWTBinder{secret: []byte(secret)}
}

// Bind extracts and verifies the token carried by r. Any failure is
// ErrUnauthorized.
func (b *JWTBinder) Bind(r *http.Request) (domain.Principal, error) {
	return b.Parse(ExtractToken(r))
}

func (b *JWTBinder) Parse(tokenString string) (domain.Principal, error) {
	if tokenString == "" {
		return domain.Principal{}, sentinal_errors.ErrUnauthorized
	}

	parsed, err := jwt.ParseWithClaims(tokenString, &AccessClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, sentinal_errors.ErrUnauthorized
		}
		return b.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return domain.Principal{}, sentinal_errors.ErrUnauthorized
	}

	claims, ok := parsed.Claims.(*AccessClaims)
	if !ok || !parsed.Valid || claims.Subject == "" {
		return domain.Principal{}, sentinal_errors.ErrUnauthorized
	}

	return domain.Principal{ID: claims.Subject, Role: claims.Role}, nil
}

// Issue signs a token for p. The authenticator owns issuance in production;
// this is used by local tooling and tests.
func (b *JWTBinder) Issue(p domain.Principal, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := AccessClaims{
		Role: p.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   p.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(b.secret)
}

// ExtractToken looks in the query string, then the Authorization header,
// then the access_token cookie.
func ExtractToken(r *http.Request) string {
	if token := r.URL.Query().Get(tokenQueryParam); token != "" {
		return token
	}
	if token := extractBearer(r.Header.Get("Authorization")); token != "" {
		return token
	}
	if cookie, err := r.Cookie(tokenCookie); err == nil {
		return cookie.Value
	}
	return ""
}

func extractBearer(value string) string {
	parts := strings.SplitN(value, " ", 2)
	if len(parts) != 2 {
		return ""
	}
	if !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
