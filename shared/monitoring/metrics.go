// Package monitoring exposes the service's OpenTelemetry metrics: request
// counters and latencies, external-call tracking and business events, with
// route normalization to keep label cardinality bounded.
package monitoring

import (
	"errors"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"
)

var (
	initOnce sync.Once
	initErr  error
)

var (
	// routesMu guards exactRoutes and routeTemplates.
	routesMu sync.RWMutex
	// exactRoutes are static registered paths, matched verbatim.
	exactRoutes = make(map[string]struct{})
	// routeTemplates are registered paths containing :id placeholders.
	routeTemplates []string
)

// ensureInitialized lazily boots the OpenTelemetry pipeline on first use.
// ENABLE_OBSERVABILITY=false or OTEL_METRICS_ENABLED=false turn the whole
// package into a no-op.
func ensureInitialized() {
	initOnce.Do(func() {
		enableObservability := getEnvBoolOrDefault("ENABLE_OBSERVABILITY", true)
		otelMetricsEnabled := getEnvBoolOrDefault("OTEL_METRICS_ENABLED", true)

		if !enableObservability || !otelMetricsEnabled {
			slog.Info("Observability disabled via environment variable, skipping initialization",
				"ENABLE_OBSERVABILITY", enableObservability,
				"OTEL_METRICS_ENABLED", otelMetricsEnabled)
			// Sentinel error so IsInitialized() reports false when disabled
			initErr = errors.New("observability disabled via environment variable")
			return
		}

		serviceName := os.Getenv("SERVICE_NAME")
		if serviceName == "" {
			serviceName = "licensing-backend"
		}

		initErr = Initialize(DefaultConfig(serviceName))
		if initErr != nil {
			slog.Error("Failed to initialize OpenTelemetry metrics, metrics will be disabled",
				"error", initErr, "service", serviceName)
		}
	})
}

// GetInitError reports why metrics initialization failed, nil on success.
func GetInitError() error {
	ensureInitialized()
	return initErr
}

// IsInitialized reports whether the metrics pipeline is live.
func IsInitialized() bool {
	ensureInitialized()
	return initErr == nil
}

// RegisterRoutes declares the paths this service serves, static or with
// :id / {id} placeholders, so request metrics can carry a route label.
// Call once during startup, before traffic arrives.
func RegisterRoutes(routesList []string) {
	routesMu.Lock()
	defer routesMu.Unlock()

	for _, route := range routesList {
		normalized := strings.ReplaceAll(route, "{id}", ":id")
		if strings.Contains(normalized, ":id") {
			routeTemplates = append(routeTemplates, normalized)
		} else {
			exactRoutes[route] = struct{}{}
		}
	}
}

// Handler returns the metrics endpoint handler: the Prometheus scrape page,
// or a plain status page when metrics ship via OTLP.
func Handler() http.Handler {
	ensureInitialized()
	return otelHandler()
}

// HTTPMetricsMiddleware records count and latency for every request passing
// through it.
func HTTPMetricsMiddleware(next http.Handler) http.Handler {
	ensureInitialized()
	return otelHTTPMetricsMiddleware(next)
}

// responseWriter captures the status code written by the wrapped handler.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// normalizeRoute maps a concrete request path to a registered route or
// template. Unrecognized paths fall back to ID-segment detection, and
// anything still ambiguous becomes "unknown" rather than a fresh label.
func normalizeRoute(path string) string {
	parts := splitPath(path)
	if len(parts) == 0 {
		return "/"
	}
	fullPath := "/" + strings.Join(parts, "/")

	routesMu.RLock()
	defer routesMu.RUnlock()

	if _, ok := exactRoutes[fullPath]; ok {
		return fullPath
	}
	for _, template := range routeTemplates {
		if matchesTemplate(template, parts) {
			return template
		}
	}
	return fallbackNormalize(parts)
}

func splitPath(path string) []string {
	parts := strings.Split(path, "/")
	if len(parts) > 0 && parts[0] == "" {
		parts = parts[1:]
	}
	if len(parts) == 1 && parts[0] == "" {
		return nil
	}
	return parts
}

// fallbackNormalize substitutes :id for ID-looking segments in unregistered
// paths. Long paths stay "unknown"; a label per crawler probe would defeat
// the point of normalizing.
func fallbackNormalize(parts []string) string {
	switch {
	case len(parts) <= 1:
		return "unknown"
	case len(parts) == 2:
		if looksLikeID(parts[1]) && !isCommonPathWord(parts[1]) {
			return "/" + parts[0] + "/:id"
		}
		return "unknown"
	}

	normalized := make([]string, len(parts))
	copy(normalized, parts)
	idFound := false
	for i, part := range parts {
		if i < 2 && len(part) <= 3 {
			continue // leading api/version segments
		}
		if looksLikeID(part) && !isCommonPathWord(part) {
			normalized[i] = ":id"
			idFound = true
		}
	}
	if idFound && len(parts) <= 7 {
		return "/" + strings.Join(normalized, "/")
	}
	return "unknown"
}

// matchesTemplate reports whether pathParts fills the template's segments,
// with :id matching anything.
func matchesTemplate(template string, pathParts []string) bool {
	templateParts := splitPath(template)
	if len(pathParts) != len(templateParts) {
		return false
	}
	for i, tp := range templateParts {
		if tp == ":id" || tp == "{id}" {
			continue
		}
		if pathParts[i] != tp {
			return false
		}
	}
	return true
}

// looksLikeID reports whether a path segment is plausibly a dynamic
// identifier: UUID, prefixed id such as "aa_9f2c41d3", all digits, or a
// longer plain alphanumeric token.
func looksLikeID(s string) bool {
	if s == "" {
		return false
	}
	if len(s) == 36 && strings.Count(s, "-") == 4 {
		return true
	}
	if (strings.Contains(s, "_") || strings.Contains(s, "-")) && strings.ContainsAny(s, "0123456789") {
		return true
	}
	if allOf(s, func(r rune) bool { return r >= '0' && r <= '9' }) {
		return true
	}
	return len(s) >= 4 && allOf(s, func(r rune) bool {
		return (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9')
	})
}

func allOf(s string, pred func(rune) bool) bool {
	for _, r := range s {
		if !pred(r) {
			return false
		}
	}
	return true
}

// isCommonPathWord keeps fixed route vocabulary from being mistaken for IDs.
func isCommonPathWord(word string) bool {
	if len(word) <= 2 {
		return true
	}
	commonWords := map[string]bool{
		"api": true, "v1": true, "v2": true,
		"agent-authorities": true, "agent-authority": true,
		"forms": true, "form": true, "documents": true, "document": true,
		"agencies": true, "agency": true, "woodland-owners": true,
		"users": true, "user": true, "resolve": true, "status": true,
		"deactivate": true, "health": true, "metrics": true,
		"list": true, "create": true, "update": true, "delete": true,
		"check": true, "admin": true,
	}
	return commonWords[strings.ToLower(word)]
}

// RecordExternalCall tracks latency and failures of a downstream dependency
// call (database, blob storage, audit service).
func RecordExternalCall(target, operation string, duration time.Duration, err error) {
	ensureInitialized()
	otelRecordExternalCall(target, operation, duration, err)
}

// RecordBusinessEvent counts a domain-level event and its outcome.
func RecordBusinessEvent(action, outcome string) {
	ensureInitialized()
	otelRecordBusinessEvent(action, outcome)
}
