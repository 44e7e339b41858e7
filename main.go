package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/joho/godotenv"

	"github.com/forestry-sandbox/licensing-backend/shared/audit"
	"github.com/forestry-sandbox/licensing-backend/shared/monitoring"
	"github.com/forestry-sandbox/licensing-backend/shared/utils"
	v1 "github.com/forestry-sandbox/licensing-backend/v1"
	v1handlers "github.com/forestry-sandbox/licensing-backend/v1/handlers"
	v1middleware "github.com/forestry-sandbox/licensing-backend/v1/middleware"
	"github.com/forestry-sandbox/licensing-backend/v1/storage"
)

const serviceName = "licensing-backend"

func main() {
	// Load .env file if it exists (optional - fails silently if not found)
	_ = godotenv.Load()

	utils.SetupLogging(utils.GetEnvOrDefault("LOG_FORMAT", "json"), utils.GetEnvOrDefault("LOG_LEVEL", "info"))

	slog.Info("Starting Licensing Backend initialization")

	// Initialize GORM database connection
	dbConfig := v1.NewDatabaseConfig()
	gormDB, err := v1.ConnectGormDB(dbConfig)
	if err != nil {
		slog.Error("Failed to connect to GORM database", "error", err)
		os.Exit(1)
	}

	// Initialize document blob storage
	storageRoot := utils.GetEnvOrDefault("DOCUMENT_STORAGE_ROOT", "./data/documents")
	fileStorage, err := storage.NewLocalFileStorage(storageRoot)
	if err != nil {
		slog.Error("Failed to initialize document storage", "error", err, "root", storageRoot)
		os.Exit(1)
	}

	// Initialize V1 handlers
	v1Handler := v1handlers.NewV1Handler(gormDB, fileStorage)

	// All /api/v1/... and /internal/api/v1/... routes go here
	apiMux := http.NewServeMux()
	v1Handler.SetupV1Routes(apiMux)

	// Setup JWT authentication middleware
	idpBaseURL := os.Getenv("IDP_BASE_URL")
	if idpBaseURL == "" {
		slog.Error("IDP_BASE_URL environment variable is required")
		os.Exit(1)
	}

	jwtConfig := v1middleware.JWTAuthConfig{
		JWKSURL:          utils.GetEnvOrDefault("IDP_JWKS_URL", idpBaseURL+"/oauth2/jwks"),
		ExpectedIssuer:   utils.GetEnvOrDefault("IDP_TOKEN_ISSUER", idpBaseURL+"/oauth2/token"),
		ExpectedAudience: utils.GetEnvOrDefault("IDP_EXPECTED_AUDIENCE", serviceName),
		Timeout:          10 * time.Second,
	}
	jwtAuthMiddleware := v1middleware.NewJWTAuthMiddleware(jwtConfig)

	corsMiddleware := v1middleware.CORSMiddleware()

	// Initialize the audit system (creates the global instance used by
	// LogAuditEvent calls from handlers)
	auditServiceURL := utils.GetEnvOrDefault("AUDIT_SERVICE_URL", "")
	_ = audit.NewAuditMiddleware(audit.NewClient(auditServiceURL))

	// Register routes for metric normalization before traffic arrives
	monitoring.RegisterRoutes([]string{
		"/health",
		"/metrics",
		"/api/v1/agent-authorities",
		"/api/v1/agent-authorities/resolve",
		"/api/v1/agent-authorities/status-check",
		"/api/v1/agent-authorities/{id}",
		"/api/v1/agent-authorities/{id}/deactivate",
		"/api/v1/agent-authorities/{id}/forms",
		"/api/v1/agent-authorities/{id}/forms/{id}",
		"/api/v1/agent-authorities/{id}/forms/{id}/documents",
		"/internal/api/v1/agent-authorities/resolve",
		"/internal/api/v1/agent-authorities/status-check",
		"/internal/api/v1/agent-authorities/{id}/forms/{id}/documents",
	})

	// Middleware chain for external traffic: CORS -> metrics -> JWT auth.
	// Audit logging happens directly in handlers via LogAuditEvent.
	protectedAPIHandler := corsMiddleware(
		monitoring.HTTPMetricsMiddleware(
			jwtAuthMiddleware.AuthenticateJWT(apiMux),
		),
	)

	topLevelMux := http.NewServeMux()

	topLevelMux.Handle("/health", utils.PanicRecoveryMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		type DBHealth struct {
			Status   string `json:"status"`
			Error    string `json:"error,omitempty"`
			Database string `json:"database,omitempty"`
		}
		type HealthStatus struct {
			Status   string   `json:"status"`
			Service  string   `json:"service"`
			Database DBHealth `json:"database"`
		}

		status := HealthStatus{
			Status:   "healthy",
			Service:  serviceName,
			Database: DBHealth{Status: "unknown"},
		}

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		sqlDB, err := gormDB.DB()
		if err != nil {
			status.Database = DBHealth{Status: "unhealthy", Error: fmt.Sprintf("failed to get sql.DB: %v", err)}
			status.Status = "unhealthy"
		} else if err := sqlDB.PingContext(ctx); err != nil {
			status.Database = DBHealth{Status: "unhealthy", Error: err.Error()}
			status.Status = "unhealthy"
		} else {
			status.Database = DBHealth{Status: "healthy", Database: dbConfig.Database}
		}

		statusCode := http.StatusOK
		if status.Status != "healthy" {
			statusCode = http.StatusServiceUnavailable
		}

		utils.RespondWithJSON(w, statusCode, status)
	})))

	topLevelMux.Handle("/metrics", monitoring.Handler())

	// External API traffic passes through the full middleware chain
	topLevelMux.Handle("/api/v1/", protectedAPIHandler)

	// Internal service-to-service routes skip JWT authentication; network
	// policy restricts who can reach them
	topLevelMux.Handle("/internal/api/v1/", monitoring.HTTPMetricsMiddleware(apiMux))

	serverConfig := utils.NewServerConfig("3000")
	server := utils.NewServer(serverConfig, topLevelMux)

	closeDB := func() {
		if sqlDB, err := gormDB.DB(); err == nil {
			if err := sqlDB.Close(); err != nil {
				slog.Error("Failed to close database connection", "error", err)
			}
		}
	}

	if err := utils.RunServer(server, serviceName, serverConfig.ShutdownTimeout, closeDB); err != nil {
		slog.Error("Licensing Backend server failed", "error", err)
		os.Exit(1)
	}

	slog.Info("Licensing Backend exited")
}
