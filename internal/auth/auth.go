// Package auth mints and validates the HS256 JWTs presented at the
// WebSocket upgrade. Tokens never travel inside message envelopes; the
// realtime layer itself stays auth-free.
package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Errors
var (
	ErrMissingSecret = errors.New("auth secret is required")
	ErrInvalidToken  = errors.New("invalid token")
)

// Claims is the data carried inside a TeamLoop token.
type Claims struct {
	UserID      string   `json:"user_id"`
	DisplayName string   `json:"display_name,omitempty"`
	Roles       []string `json:"roles,omitempty"`
	jwt.RegisteredClaims
}

// Authenticator signs and verifies tokens with a shared secret.
type Authenticator struct {
	secret []byte
	ttl    time.Duration
	issuer string
}

// NewAuthenticator builds an authenticator. The secret comes from
// configuration, never from source.
func NewAuthenticator(secret string, ttl time.Duration, issuer string) (*Authenticator, error) {
	if secret == "" {
		return nil, ErrMissingSecret
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	if issuer == "" {
		issuer = "teamloop-realtime"
	}
	return &Authenticator{secret: []byte(secret), ttl: ttl, issuer: issuer}, nil
}

// Mint creates a signed token for a user.
func (a *Authenticator) Mint(userID, displayName string, roles []string) (string, error) {
	now := time.Now()
	claims := &Claims{
		UserID:      userID,
		DisplayName: displayName,
		Roles:       roles,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(a.ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    a.issuer,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(a.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// Validate parses a token and checks its signature and expiry.
func (a *Authenticator) Validate(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", token.Header["alg"])
		}
		return a.secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}
	if claims.UserID == "" {
		return nil, fmt.Errorf("%w: missing user_id", ErrInvalidToken)
	}
	return claims, nil
}

// TokenFromRequest extracts a token from the ?token= query parameter or
// an Authorization: Bearer header. Browser WebSocket clients cannot set
// headers, so the query parameter comes first.
func TokenFromRequest(r *http.Request) string {
	if token := r.URL.Query().Get("token"); token != "" {
		return token
	}
	header := r.Header.Get("Authorization")
	if after, ok := strings.CutPrefix(header, "Bearer "); ok {
		return after
	}
	return ""
}
