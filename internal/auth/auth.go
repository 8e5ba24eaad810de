// Package auth reads the identity carried by tokens issued by the external
// identity provider. Tokens are HS256 JWTs with a subject and a role claim.
package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"service-dispatch/internal/apperr"
	"service-dispatch/internal/domain"
)

// Identity is who a connection or request acts as.
type Identity struct {
	Subject string
	Role    domain.Role
}

// Claims is the token payload.
type Claims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// Verifier validates tokens signed with a shared secret.
type Verifier struct {
	secret []byte
	now    func() time.Time
}

// NewVerifier creates a verifier for HS256 tokens.
func NewVerifier(secret string) *Verifier {
	return &Verifier{secret: []byte(secret), now: time.Now}
}

// Verify parses a token and returns its identity. Every failure wraps
// apperr.ErrUnauthorized.
func (v *Verifier) Verify(token string) (Identity, error) {
	if strings.TrimSpace(token) == "" {
		return Identity{}, fmt.Errorf("missing token: %w", apperr.ErrUnauthorized)
	}
	var claims Claims
	parsed, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return v.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(v.now))
	if err != nil {
		return Identity{}, fmt.Errorf("parse token: %v: %w", err, apperr.ErrUnauthorized)
	}
	if !parsed.Valid {
		return Identity{}, fmt.Errorf("invalid token: %w", apperr.ErrUnauthorized)
	}

	id := Identity{Subject: strings.TrimSpace(claims.Subject), Role: domain.Role(claims.Role)}
	if id.Subject == "" {
		return Identity{}, fmt.Errorf("token without subject: %w", apperr.ErrUnauthorized)
	}
	if !id.Role.Valid() {
		return Identity{}, fmt.Errorf("token role %q: %w", claims.Role, apperr.ErrUnauthorized)
	}
	return id, nil
}

// Issue signs a token for local tooling. A zero ttl yields a token without expiry.
func Issue(secret, subject string, role domain.Role, ttl time.Duration) (string, error) {
	if !role.Valid() {
		return "", fmt.Errorf("role %q: %w", role, apperr.ErrInvalid)
	}
	if strings.TrimSpace(subject) == "" {
		return "", fmt.Errorf("empty subject: %w", apperr.ErrInvalid)
	}
	now := time.Now()
	claims := Claims{
		Role: string(role),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:  subject,
			IssuedAt: jwt.NewNumericDate(now),
		},
	}
	if ttl > 0 {
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(ttl))
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

// TokenFromRequest takes the token from the token query parameter, falling
// back to a bearer Authorization header. Browsers cannot set headers on
// websocket upgrades, hence the query parameter.
func TokenFromRequest(r *http.Request) string {
	if t := r.URL.Query().Get("token"); t != "" {
		return t
	}
	h := r.Header.Get("Authorization")
	scheme, token, ok := strings.Cut(h, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

type ctxKey struct{}

// WithIdentity stores id in ctx.
func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, ctxKey{}, id)
}

// FromContext returns the identity set by WithIdentity.
func FromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(ctxKey{}).(Identity)
	return id, ok
}

// IsUnauthorized reports whether err is an authentication failure.
func IsUnauthorized(err error) bool { return errors.Is(err, apperr.ErrUnauthorized) }
