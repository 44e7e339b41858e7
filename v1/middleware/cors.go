package middleware

import (
	"net/http"
	"os"
	"strconv"

	"github.com/forestry-sandbox/licensing-backend/shared/utils"
)

// CORSMiddleware answers browser preflights and stamps CORS headers on
// every response. The allowed origin defaults to "*" and can be narrowed
// with CORS_ALLOWED_ORIGIN; CORS_MAX_AGE overrides the preflight cache
// lifetime (seconds).
func CORSMiddleware() func(http.Handler) http.Handler {
	allowedOrigin := utils.GetEnvOrDefault("CORS_ALLOWED_ORIGIN", "*")
	maxAge := corsMaxAge()

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			h := w.Header()
			h.Set("Access-Control-Allow-Origin", allowedOrigin)
			h.Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
			h.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Requested-With, Accept, Origin")
			h.Set("Access-Control-Allow-Credentials", "true")
			h.Set("Access-Control-Max-Age", maxAge)

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusOK)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func corsMaxAge() string {
	if value := os.Getenv("CORS_MAX_AGE"); value != "" {
		if _, err := strconv.Atoi(value); err == nil {
			return value
		}
	}
	return "86400" // 24 hours
}
