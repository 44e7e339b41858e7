package middleware

import (
	"context"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/big"
	"net/http"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	sharedutils "github.com/forestry-sandbox/licensing-backend/shared/utils"
	"github.com/forestry-sandbox/licensing-backend/v1/models"
	authutils "github.com/forestry-sandbox/licensing-backend/v1/utils"
)

// jwksMaxAge bounds how long cached signing keys are trusted before the
// key set is fetched again.
const jwksMaxAge = time.Hour

// JWKS is the JSON Web Key Set document served by the identity provider.
type JWKS struct {
	Keys []JWK `json:"keys"`
}

// JWK is a single key entry within a JWKS document.
type JWK struct {
	Kty string `json:"kty"`
	Kid string `json:"kid"`
	Use string `json:"use"`
	Alg string `json:"alg"`
	N   string `json:"n"`
	E   string `json:"e"`
}

// JWTAuthConfig configures token validation against an identity provider.
type JWTAuthConfig struct {
	JWKSURL          string
	ExpectedIssuer   string
	ExpectedAudience string
	Timeout          time.Duration
}

// JWTAuthMiddleware validates RS256 bearer tokens against the provider's
// JWKS and places the resulting user into the request context.
type JWTAuthMiddleware struct {
	config     JWTAuthConfig
	httpClient *http.Client
	keys       keyCache
}

// keyCache holds the signing keys by kid. Requests arrive concurrently, so
// reads and refreshes are mutex-guarded.
type keyCache struct {
	mu        sync.RWMutex
	byKid     map[string]*rsa.PublicKey
	fetchedAt time.Time
}

// NewJWTAuthMiddleware creates a middleware for the given provider config.
func NewJWTAuthMiddleware(config JWTAuthConfig) *JWTAuthMiddleware {
	if config.Timeout == 0 {
		config.Timeout = 10 * time.Second
	}
	return &JWTAuthMiddleware{
		config:     config,
		httpClient: &http.Client{Timeout: config.Timeout},
		keys:       keyCache{byKid: make(map[string]*rsa.PublicKey)},
	}
}

// AuthenticateJWT rejects requests without a valid bearer token. Liveness
// and scrape paths pass through unauthenticated.
func (j *JWTAuthMiddleware) AuthenticateJWT(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if skipsAuth(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		tokenString, err := authutils.ExtractBearerToken(r)
		if err != nil {
			slog.Warn("Failed to extract bearer token", "error", err, "path", r.URL.Path, "method", r.Method)
			sharedutils.RespondWithError(w, http.StatusUnauthorized, "Invalid or missing authorization header")
			return
		}

		user, err := j.validateToken(tokenString)
		if err != nil {
			slog.Warn("Token validation failed", "error", err, "path", r.URL.Path, "method", r.Method)
			sharedutils.RespondWithError(w, http.StatusUnauthorized, "Invalid access token")
			return
		}

		if user.IsTokenExpired() {
			slog.Warn("Token is expired", "expiry", user.ExpiresAt, "user", user.Email)
			sharedutils.RespondWithError(w, http.StatusUnauthorized, "Access token has expired")
			return
		}

		slog.Debug("User authenticated",
			"userAccountId", user.UserAccountID, "path", r.URL.Path, "method", r.Method)

		next.ServeHTTP(w, r.WithContext(authutils.SetAuthenticatedUser(r.Context(), user)))
	})
}

// validateToken parses and verifies the token signature and claims.
func (j *JWTAuthMiddleware) validateToken(tokenString string) (*models.AuthenticatedUser, error) {
	if err := j.refreshKeysIfStale(); err != nil {
		return nil, fmt.Errorf("failed to refresh signing keys: %w", err)
	}

	token, err := jwt.ParseWithClaims(tokenString, &models.UserClaims{}, j.signingKeyFor)
	if err != nil {
		return nil, fmt.Errorf("failed to parse token: %w", err)
	}

	claims, ok := token.Claims.(*models.UserClaims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid token claims")
	}
	if err := j.checkClaims(claims); err != nil {
		return nil, fmt.Errorf("claim validation failed: %w", err)
	}

	return models.NewAuthenticatedUser(claims), nil
}

// signingKeyFor is the jwt.Keyfunc: it resolves the token's kid to a cached
// public key, refreshing the JWKS once on a miss to pick up rotated keys.
func (j *JWTAuthMiddleware) signingKeyFor(token *jwt.Token) (interface{}, error) {
	if _, ok := token.Method.(*jwt.SigningMethodRSA); !ok {
		return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
	}

	kid, ok := token.Header["kid"].(string)
	if !ok {
		return nil, fmt.Errorf("missing 'kid' in token header")
	}

	if key := j.keys.lookup(kid); key != nil {
		return key, nil
	}

	slog.Info("Key not found, refreshing JWKS", "kid", kid)
	if err := j.fetchJWKS(); err != nil {
		return nil, fmt.Errorf("failed to refresh JWKS: %w", err)
	}
	if key := j.keys.lookup(kid); key != nil {
		return key, nil
	}
	return nil, fmt.Errorf("no public key found for kid: %s", kid)
}

// checkClaims enforces issuer, audience and the identity claims this
// service depends on.
func (j *JWTAuthMiddleware) checkClaims(claims *models.UserClaims) error {
	if j.config.ExpectedIssuer != "" && claims.Issuer != j.config.ExpectedIssuer {
		return fmt.Errorf("invalid issuer: expected %s, got %s", j.config.ExpectedIssuer, claims.Issuer)
	}
	if j.config.ExpectedAudience != "" && !slices.Contains(claims.Audience, j.config.ExpectedAudience) {
		return fmt.Errorf("invalid audience: expected %s, got %v", j.config.ExpectedAudience, claims.Audience)
	}
	if claims.Email == "" {
		return fmt.Errorf("email claim is missing")
	}
	if claims.Subject == "" {
		return fmt.Errorf("subject claim is missing")
	}
	return nil
}

// fetchJWKS downloads and installs the provider's current key set.
func (j *JWTAuthMiddleware) fetchJWKS() error {
	ctx, cancel := context.WithTimeout(context.Background(), j.httpClient.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, j.config.JWKSURL, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := j.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to fetch JWKS: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("JWKS endpoint returned status %d", resp.StatusCode)
	}

	var jwks JWKS
	if err := json.NewDecoder(resp.Body).Decode(&jwks); err != nil {
		return fmt.Errorf("failed to parse JWKS: %w", err)
	}

	fresh := make(map[string]*rsa.PublicKey)
	for _, key := range jwks.Keys {
		if key.Kty != "RSA" || key.Use != "sig" {
			continue
		}
		publicKey, err := buildRSAPublicKey(key.N, key.E)
		if err != nil {
			slog.Warn("Failed to build RSA public key", "kid", key.Kid, "error", err)
			continue
		}
		fresh[key.Kid] = publicKey
	}

	j.keys.replace(fresh)
	slog.Info("Successfully fetched JWKS", "keys_count", len(fresh))
	return nil
}

// refreshKeysIfStale fetches the JWKS when no keys are cached yet or the
// cache has outlived jwksMaxAge.
func (j *JWTAuthMiddleware) refreshKeysIfStale() error {
	if j.keys.stale() {
		return j.fetchJWKS()
	}
	return nil
}

func (c *keyCache) lookup(kid string) *rsa.PublicKey {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.byKid[kid]
}

func (c *keyCache) replace(keys map[string]*rsa.PublicKey) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.byKid = keys
	c.fetchedAt = time.Now()
}

func (c *keyCache) stale() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.byKid) == 0 || time.Since(c.fetchedAt) > jwksMaxAge
}

// buildRSAPublicKey assembles a public key from base64url modulus and
// exponent strings.
func buildRSAPublicKey(nStr, eStr string) (*rsa.PublicKey, error) {
	nBytes, err := base64.RawURLEncoding.DecodeString(nStr)
	if err != nil {
		return nil, fmt.Errorf("failed to decode modulus: %w", err)
	}
	eBytes, err := base64.RawURLEncoding.DecodeString(eStr)
	if err != nil {
		return nil, fmt.Errorf("failed to decode exponent: %w", err)
	}

	e := new(big.Int).SetBytes(eBytes)
	if !e.IsInt64() || e.Int64() < 2 {
		return nil, fmt.Errorf("invalid exponent")
	}

	return &rsa.PublicKey{
		N: new(big.Int).SetBytes(nBytes),
		E: int(e.Int64()),
	}, nil
}

// skipsAuth reports whether the path is served without authentication.
func skipsAuth(path string) bool {
	for _, prefix := range []string{"/health", "/metrics", "/favicon.ico"} {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}
