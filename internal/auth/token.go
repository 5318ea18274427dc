// Package auth issues and verifies the signed session tokens that gate cart
// mutation. Tokens are stateless: nothing is persisted server-side and a token
// stays valid until the signing secret changes, unless an optional TTL is
// configured.
package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrTokenMalformed indicates the presented token could not be parsed.
	ErrTokenMalformed = errors.New("auth: token malformed")
	// ErrSignatureInvalid indicates the token was signed with a different secret.
	ErrSignatureInvalid = errors.New("auth: token signature invalid")
	// ErrTokenExpired indicates a TTL-bearing token has passed its expiry.
	ErrTokenExpired = errors.New("auth: token expired")
)

// TokenUser is the identity payload embedded in every session token.
type TokenUser struct {
	ID string `json:"id"`
}

// Claims mirrors the wire shape of the session token: the user identity is
// nested under a "user" claim alongside the registered claim set.
type Claims struct {
	jwt.RegisteredClaims
	User TokenUser `json:"user"`
}

// Issuer signs and verifies session tokens with a shared HMAC secret.
type Issuer struct {
	secret []byte
	ttl    time.Duration
}

// Option mutates issuer configuration.
type Option func(*Issuer)

// WithTTL stamps issued tokens with an expiry claim. A zero or negative
// duration leaves tokens unbounded, which is the default.
func WithTTL(ttl time.Duration) Option {
	return func(i *Issuer) {
		i.ttl = ttl
	}
}

// NewIssuer constructs an Issuer from the shared signing secret.
func NewIssuer(secret string, opts ...Option) (*Issuer, error) {
	trimmed := strings.TrimSpace(secret)
	if trimmed == "" {
		return nil, fmt.Errorf("auth: signing secret is required")
	}
	issuer := &Issuer{secret: []byte(trimmed)}
	for _, opt := range opts {
		opt(issuer)
	}
	return issuer, nil
}

// Issue signs a token embedding the provided user id. It never fails for a
// well-formed id.
func (i *Issuer) Issue(userID string) (string, error) {
	claims := Claims{User: TokenUser{ID: userID}}
	if i.ttl > 0 {
		claims.ExpiresAt = jwt.NewNumericDate(time.Now().Add(i.ttl))
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(i.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// Verify parses and validates a token, returning the embedded user id.
// Failures are normalised onto the package sentinel errors so callers can
// branch without inspecting library internals.
func (i *Issuer) Verify(tokenString string) (string, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return i.secret, nil
	})
	switch {
	case err == nil:
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		return "", ErrSignatureInvalid
	case errors.Is(err, jwt.ErrTokenExpired):
		return "", ErrTokenExpired
	default:
		return "", ErrTokenMalformed
	}
	if !token.Valid {
		return "", ErrTokenMalformed
	}
	if claims.User.ID == "" {
		return "", ErrTokenMalformed
	}
	return claims.User.ID, nil
}
