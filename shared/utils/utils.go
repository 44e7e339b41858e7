// Package utils carries the HTTP plumbing shared by every surface of the
// licensing backend: JSON responders, panic containment, server lifecycle
// and environment helpers.
package utils

import (
	"context"
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"
)

// ErrorResponse is the JSON body returned on every failed request.
type ErrorResponse struct {
	Error string `json:"error"`
}

// SuccessResponse wraps a message and optional payload for simple
// acknowledgement responses.
type SuccessResponse struct {
	Message string      `json:"message,omitempty"`
	Data    interface{} `json:"data,omitempty"`
}

// RespondWithJSON writes data as a JSON body with the given status code.
// Encoding failures are logged; at that point the status line has already
// been sent, so nothing more can be done for the client.
func RespondWithJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("Failed to encode JSON response", "error", err)
	}
}

// RespondWithError writes a JSON error body. The message must be safe to
// show to callers; internal detail belongs in the log, not here.
func RespondWithError(w http.ResponseWriter, statusCode int, message string) {
	RespondWithJSON(w, statusCode, ErrorResponse{Error: message})
}

// ParseJSONRequest decodes the request body into target and drains it.
func ParseJSONRequest(r *http.Request, target interface{}) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(target)
}

// CreateCollectionResponse wraps a list payload with its element count.
func CreateCollectionResponse(items interface{}, count int) map[string]interface{} {
	return map[string]interface{}{
		"items": items,
		"count": count,
	}
}

// HealthHandler returns a minimal liveness handler for serviceName.
// Services with real dependencies (database, storage) should wire their own
// readiness handler instead.
func HealthHandler(serviceName string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		RespondWithJSON(w, http.StatusOK, map[string]string{
			"service": serviceName,
			"status":  "healthy",
		})
	}
}

// PanicRecoveryMiddleware converts handler panics into 500 responses so a
// single bad request cannot take the process down.
func PanicRecoveryMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				slog.Error("Handler panicked", "panic", rec, "method", r.Method, "path", r.URL.Path)
				RespondWithError(w, http.StatusInternalServerError, "Internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// ServerConfig holds the listen address and timeouts for an HTTP server.
type ServerConfig struct {
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
}

// NewServerConfig builds a ServerConfig from the environment. PORT defaults
// to defaultPort when unset.
func NewServerConfig(defaultPort string) *ServerConfig {
	return &ServerConfig{
		Port:            GetEnvOrDefault("PORT", defaultPort),
		ReadTimeout:     15 * time.Second,
		WriteTimeout:    30 * time.Second,
		IdleTimeout:     60 * time.Second,
		ShutdownTimeout: 30 * time.Second,
	}
}

// NewServer builds an http.Server for handler from config.
func NewServer(config *ServerConfig, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:         net.JoinHostPort("", config.Port),
		Handler:      handler,
		ReadTimeout:  config.ReadTimeout,
		WriteTimeout: config.WriteTimeout,
		IdleTimeout:  config.IdleTimeout,
	}
}

// RunServer serves until SIGINT/SIGTERM, then drains in-flight requests
// within shutdownTimeout and runs the cleanup hooks in order. It returns the
// serve error, if any, once shutdown completes.
func RunServer(server *http.Server, serviceName string, shutdownTimeout time.Duration, cleanup ...func()) error {
	serveErr := make(chan error, 1)
	go func() {
		slog.Info("Server starting", "service", serviceName, "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serveErr <- err
			return
		}
		serveErr <- nil
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serveErr:
		// Listener failed before any signal arrived.
		return err
	case sig := <-quit:
		slog.Info("Shutting down", "service", serviceName, "signal", sig.String())
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		slog.Error("Server shutdown error", "error", err, "service", serviceName)
	}

	for _, fn := range cleanup {
		fn()
	}
	return <-serveErr
}

// GetEnvOrDefault returns the environment variable value or a default.
func GetEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// SetupLogging installs the process-wide slog handler. format "json" selects
// the JSON handler, anything else text.
func SetupLogging(format, level string) {
	opts := &slog.HandlerOptions{Level: parseLogLevel(level)}

	var handler slog.Handler
	if format == "json" {
		opts.AddSource = true
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	slog.SetDefault(slog.New(handler))
}

func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
