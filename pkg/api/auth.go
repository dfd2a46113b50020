package api

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// Claims are the bearer-token claims the ingress understands. TenantID
// binds the token to one tenant; handlers reject bodies naming another.
type Claims struct {
	jwt.RegisteredClaims
	TenantID string `json:"tenant_id"`
}

// Authenticator validates HS256 bearer tokens.
type Authenticator struct {
	secret   []byte
	required bool
}

// NewAuthenticator builds one. With required false, unauthenticated
// requests pass through and only presented tokens are checked.
func NewAuthenticator(secret []byte, required bool) *Authenticator {
	return &Authenticator{secret: secret, required: required}
}

func (a *Authenticator) validate(tokenStr string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return a.secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("token validation: %w", err)
	}
	if !token.Valid {
		return nil, fmt.Errorf("invalid token")
	}
	if claims.TenantID == "" {
		return nil, fmt.Errorf("token lacks tenant binding")
	}
	return claims, nil
}

// middleware gates everything except liveness and metrics. A presented
// token is always validated, even when auth is optional.
func (a *Authenticator) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if publicPath(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}
		header := r.Header.Get("Authorization")
		if header == "" {
			if a.required {
				writeProblem(w, r, http.StatusUnauthorized, "Unauthorized", "missing bearer token", "")
				return
			}
			next.ServeHTTP(w, r)
			return
		}
		scheme, token, ok := strings.Cut(header, " ")
		if !ok || !strings.EqualFold(scheme, "Bearer") {
			writeProblem(w, r, http.StatusUnauthorized, "Unauthorized",
				"authorization header is not a bearer token", "")
			return
		}
		claims, err := a.validate(token)
		if err != nil {
			writeProblem(w, r, http.StatusUnauthorized, "Unauthorized", "invalid or expired token", "")
			return
		}
		next.ServeHTTP(w, r.WithContext(withTenant(r.Context(), claims.TenantID)))
	})
}

func publicPath(path string) bool {
	return path == "/healthz" || path == "/metrics"
}

func withTenant(ctx context.Context, tenant string) context.Context {
	return context.WithValue(ctx, ctxTenant, tenant)
}

// TenantFrom returns the authenticated tenant, empty when anonymous.
func TenantFrom(ctx context.Context) string {
	t, _ := ctx.Value(ctxTenant).(string)
	return t
}
