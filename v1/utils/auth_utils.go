// Package utils holds request-scoped helpers for the v1 API: bearer token
// parsing, the authenticated-user context slot and client IP resolution.
package utils

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strings"

	"github.com/forestry-sandbox/licensing-backend/v1/models"
)

// contextKey is unexported so no other package can collide with our
// context values.
type contextKey string

const userContextKey contextKey = "authenticated_user"

// ExtractBearerToken pulls the token out of "Authorization: Bearer <tok>".
func ExtractBearerToken(r *http.Request) (string, error) {
	header := r.Header.Get("Authorization")
	switch {
	case header == "":
		return "", fmt.Errorf("authorization header is missing")
	case !strings.HasPrefix(header, "Bearer "):
		return "", fmt.Errorf("authorization header must start with 'Bearer '")
	}

	token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	if token == "" {
		return "", fmt.Errorf("bearer token is empty")
	}
	return token, nil
}

// SetAuthenticatedUser stores the user in the context; the JWT middleware
// calls this once per request after validation.
func SetAuthenticatedUser(ctx context.Context, user *models.AuthenticatedUser) context.Context {
	return context.WithValue(ctx, userContextKey, user)
}

// GetAuthenticatedUser returns the user placed in the context by the
// authentication middleware.
func GetAuthenticatedUser(ctx context.Context) (*models.AuthenticatedUser, error) {
	user, ok := ctx.Value(userContextKey).(*models.AuthenticatedUser)
	if !ok || user == nil {
		return nil, fmt.Errorf("no authenticated user found in context")
	}
	return user, nil
}

// RequireAuthentication is GetAuthenticatedUser for handlers holding the
// request rather than the context.
func RequireAuthentication(r *http.Request) (*models.AuthenticatedUser, error) {
	return GetAuthenticatedUser(r.Context())
}

// GetRequestIP resolves the client address, trusting proxy headers in the
// order X-Forwarded-For (first hop), X-Real-IP, then the socket address.
func GetRequestIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return strings.TrimSpace(xri)
	}
	if r.RemoteAddr != "" {
		if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
			return host
		}
		return r.RemoteAddr
	}
	return "unknown"
}
