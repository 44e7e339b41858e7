package v1

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/forestry-sandbox/licensing-backend/shared/monitoring"
	"github.com/forestry-sandbox/licensing-backend/v1/models"
)

// DatabaseConfig holds the PostgreSQL connection settings and pool limits.
type DatabaseConfig struct {
	Host            string
	Port            string
	Username        string
	Password        string
	Database        string
	SSLMode         string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

// NewDatabaseConfig reads connection settings from FORESTRY_DATABASE_*
// environment variables, with development-friendly defaults.
func NewDatabaseConfig() *DatabaseConfig {
	return &DatabaseConfig{
		Host:            getEnvOrDefault("FORESTRY_DATABASE_HOSTNAME", "localhost"),
		Port:            getEnvOrDefault("FORESTRY_DATABASE_PORT", "5432"),
		Username:        getEnvOrDefault("FORESTRY_DATABASE_USERNAME", "postgres"),
		Password:        getEnvOrDefault("FORESTRY_DATABASE_PASSWORD", "password"),
		Database:        getEnvOrDefault("FORESTRY_DATABASE_DATABASENAME", "forestry_licensing"),
		SSLMode:         getEnvOrDefault("DB_SSLMODE", "require"),
		MaxOpenConns:    25,
		MaxIdleConns:    5,
		ConnMaxLifetime: time.Hour,
		ConnMaxIdleTime: 30 * time.Minute,
	}
}

// dsn renders the config as a libpq keyword/value connection string.
func (c *DatabaseConfig) dsn() string {
	pairs := []string{
		"host=" + c.Host,
		"port=" + c.Port,
		"user=" + c.Username,
		"password=" + c.Password,
		"dbname=" + c.Database,
		"sslmode=" + c.SSLMode,
	}
	return strings.Join(pairs, " ")
}

// ConnectGormDB opens the PostgreSQL connection, applies the pool limits,
// verifies connectivity and, when RUN_MIGRATION=true, auto-migrates the
// domain schema.
func ConnectGormDB(config *DatabaseConfig) (*gorm.DB, error) {
	start := time.Now()
	db, err := gorm.Open(postgres.Open(config.dsn()), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	monitoring.RecordExternalCall("postgres", "connect", time.Since(start), err)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}
	sqlDB.SetMaxOpenConns(config.MaxOpenConns)
	sqlDB.SetMaxIdleConns(config.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(config.ConnMaxLifetime)
	sqlDB.SetConnMaxIdleTime(config.ConnMaxIdleTime)

	if err := sqlDB.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	slog.Info("Connected to PostgreSQL",
		"host", config.Host, "port", config.Port, "database", config.Database)

	if os.Getenv("RUN_MIGRATION") == "true" {
		if err := migrateSchema(db); err != nil {
			return nil, err
		}
	} else {
		slog.Info("Database connected (migration skipped)")
	}

	return db, nil
}

// migrateSchema creates or updates the tables for the licensing domain.
func migrateSchema(db *gorm.DB) error {
	slog.Info("Running GORM auto-migration")
	err := db.AutoMigrate(
		&models.Agency{},
		&models.WoodlandOwner{},
		&models.UserAccount{},
		&models.AgentAuthority{},
		&models.AgentAuthorityForm{},
		&models.AafDocument{},
	)
	if err != nil {
		return fmt.Errorf("failed to run auto-migration: %w", err)
	}
	slog.Info("GORM auto-migration completed")
	return nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
