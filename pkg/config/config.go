package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/newcloud/newcloud/pkg/auth"
	"github.com/newcloud/newcloud/pkg/observability"
	"github.com/newcloud/newcloud/pkg/storage"
)

// Config holds all application configuration
type Config struct {
	// Server configuration
	Server ServerConfig

	// Database configuration
	Database DatabaseConfig

	// Auth configuration
	Auth AuthConfig

	// Avatar storage configuration
	Storage storage.Config

	// Redis configuration (token revocation)
	Redis RedisConfig

	// Observability configuration
	Observability ObservabilityConfig

	// Development exposes internal error detail in responses
	Development bool
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
	MaxBodyBytes    int64

	// Health/metrics server (separate port for k8s probes)
	HealthPort string

	AllowedOrigins []string
}

// DatabaseConfig holds PostgreSQL connection settings
type DatabaseConfig struct {
	URL         string
	MaxConns    int
	MinConns    int
	Timeout     time.Duration
	MaxLifetime time.Duration
	MaxIdleTime time.Duration
}

// AuthConfig holds token signing and password hashing settings
type AuthConfig struct {
	JWTSecret  string
	TokenTTL   time.Duration
	BcryptCost int
}

// RedisConfig holds the revocation-list store settings. Redis is optional;
// when Addr is empty, revocation checks are skipped.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// Enabled reports whether a redis address was configured.
func (r RedisConfig) Enabled() bool {
	return r.Addr != ""
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	LogLevel       observability.LogLevel
	MetricsEnabled bool
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	cfg := &Config{
		Server:        loadServerConfig(),
		Database:      loadDatabaseConfig(),
		Auth:          loadAuthConfig(),
		Storage:       loadStorageConfig(),
		Redis:         loadRedisConfig(),
		Observability: loadObservabilityConfig(),
		Development:   getEnvBool("NEWCLOUD_DEV_MODE", false),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// loadServerConfig loads server configuration from environment
func loadServerConfig() ServerConfig {
	cfg := ServerConfig{
		Host:            getEnv("NEWCLOUD_HOST", "0.0.0.0"),
		Port:            getEnv("NEWCLOUD_PORT", "8080"),
		ReadTimeout:     getEnvDuration("NEWCLOUD_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:    getEnvDuration("NEWCLOUD_WRITE_TIMEOUT", 15*time.Second),
		IdleTimeout:     getEnvDuration("NEWCLOUD_IDLE_TIMEOUT", 60*time.Second),
		ShutdownTimeout: getEnvDuration("NEWCLOUD_SHUTDOWN_TIMEOUT", 30*time.Second),
		MaxBodyBytes:    getEnvInt64("NEWCLOUD_MAX_BODY_BYTES", 10<<20),
		HealthPort:      getEnv("NEWCLOUD_HEALTH_PORT", "9090"),
	}
	if origins := getEnv("NEWCLOUD_ALLOWED_ORIGINS", ""); origins != "" {
		for _, o := range strings.Split(origins, ",") {
			if o = strings.TrimSpace(o); o != "" {
				cfg.AllowedOrigins = append(cfg.AllowedOrigins, o)
			}
		}
	}
	return cfg
}

// loadDatabaseConfig loads PostgreSQL configuration from environment
func loadDatabaseConfig() DatabaseConfig {
	return DatabaseConfig{
		URL:         getEnv("NEWCLOUD_POSTGRES_URL", "postgres://localhost:5432/newcloud?sslmode=disable"),
		MaxConns:    getEnvInt("NEWCLOUD_POSTGRES_MAX_CONNS", 25),
		MinConns:    getEnvInt("NEWCLOUD_POSTGRES_MIN_CONNS", 5),
		Timeout:     getEnvDuration("NEWCLOUD_POSTGRES_TIMEOUT", 5*time.Second),
		MaxLifetime: getEnvDuration("NEWCLOUD_POSTGRES_MAX_LIFETIME", 30*time.Minute),
		MaxIdleTime: getEnvDuration("NEWCLOUD_POSTGRES_MAX_IDLE_TIME", 5*time.Minute),
	}
}

// loadAuthConfig loads token and password configuration from environment.
// There is deliberately no default for the signing secret.
func loadAuthConfig() AuthConfig {
	return AuthConfig{
		JWTSecret:  os.Getenv("NEWCLOUD_JWT_SECRET"),
		TokenTTL:   getEnvDuration("NEWCLOUD_TOKEN_TTL", auth.DefaultTokenTTL),
		BcryptCost: getEnvInt("NEWCLOUD_BCRYPT_COST", auth.DefaultBcryptCost),
	}
}

// loadStorageConfig loads avatar storage configuration from environment
func loadStorageConfig() storage.Config {
	cfg := storage.DefaultConfig()

	if storageType := getEnv("NEWCLOUD_STORAGE_TYPE", ""); storageType != "" {
		cfg.Type = storageType
	}
	if uploadDir := getEnv("NEWCLOUD_UPLOAD_DIR", ""); uploadDir != "" {
		cfg.UploadDir = uploadDir
	}
	if baseURL := getEnv("NEWCLOUD_UPLOAD_BASE_URL", ""); baseURL != "" {
		cfg.PublicBaseURL = baseURL
	}

	if s3Endpoint := getEnv("NEWCLOUD_S3_ENDPOINT", ""); s3Endpoint != "" {
		cfg.S3Endpoint = s3Endpoint
	}
	if s3Region := getEnv("NEWCLOUD_S3_REGION", ""); s3Region != "" {
		cfg.S3Region = s3Region
	}
	if s3Bucket := getEnv("NEWCLOUD_S3_BUCKET", ""); s3Bucket != "" {
		cfg.S3Bucket = s3Bucket
	}
	if s3AccessKey := getEnv("NEWCLOUD_S3_ACCESS_KEY", ""); s3AccessKey != "" {
		cfg.S3AccessKey = s3AccessKey
	}
	if s3SecretKey := getEnv("NEWCLOUD_S3_SECRET_KEY", ""); s3SecretKey != "" {
		cfg.S3SecretKey = s3SecretKey
	}
	if s3UsePathStyle := getEnv("NEWCLOUD_S3_USE_PATH_STYLE", ""); s3UsePathStyle != "" {
		cfg.S3UsePathStyle = strings.ToLower(s3UsePathStyle) == "true"
	}
	if s3Timeout := getEnvDuration("NEWCLOUD_S3_TIMEOUT", 0); s3Timeout > 0 {
		cfg.S3Timeout = s3Timeout
	}

	return cfg
}

// loadRedisConfig loads the revocation store configuration from environment
func loadRedisConfig() RedisConfig {
	return RedisConfig{
		Addr:     getEnv("NEWCLOUD_REDIS_ADDR", ""),
		Password: getEnv("NEWCLOUD_REDIS_PASSWORD", ""),
		DB:       getEnvInt("NEWCLOUD_REDIS_DB", 0),
	}
}

// loadObservabilityConfig loads observability configuration from environment
func loadObservabilityConfig() ObservabilityConfig {
	return ObservabilityConfig{
		LogLevel:       parseLogLevel(getEnv("NEWCLOUD_LOG_LEVEL", "info")),
		MetricsEnabled: getEnvBool("NEWCLOUD_METRICS_ENABLED", true),
	}
}

// Validate checks if the configuration is valid. A missing signing secret is
// a hard startup failure, never substituted with a default.
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}
	if c.Server.HealthPort == "" {
		return fmt.Errorf("health port is required")
	}
	if c.Server.Port == c.Server.HealthPort {
		return fmt.Errorf("server port and health port must be different")
	}

	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("NEWCLOUD_JWT_SECRET is required")
	}
	if c.Auth.TokenTTL <= 0 {
		return fmt.Errorf("token TTL must be positive")
	}
	if c.Auth.BcryptCost < 4 || c.Auth.BcryptCost > 31 {
		return fmt.Errorf("bcrypt cost must be between 4 and 31")
	}

	if c.Database.URL == "" {
		return fmt.Errorf("postgres URL is required")
	}

	switch c.Storage.Type {
	case "filesystem":
		if c.Storage.UploadDir == "" {
			return fmt.Errorf("upload directory is required for filesystem storage")
		}
	case "s3":
		if c.Storage.S3Bucket == "" {
			return fmt.Errorf("S3 bucket is required for s3 storage")
		}
		if c.Storage.S3Region == "" {
			return fmt.Errorf("S3 region is required for s3 storage")
		}
	default:
		return fmt.Errorf("invalid storage type: %s (must be filesystem or s3)", c.Storage.Type)
	}

	return nil
}

// parseLogLevel parses a log level string
func parseLogLevel(level string) observability.LogLevel {
	switch strings.ToLower(level) {
	case "debug":
		return observability.DebugLevel
	case "info":
		return observability.InfoLevel
	case "warn", "warning":
		return observability.WarnLevel
	case "error":
		return observability.ErrorLevel
	default:
		return observability.InfoLevel
	}
}

// getEnv returns an environment variable value or a default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool returns a boolean environment variable or a default
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return strings.ToLower(value) == "true" || value == "1"
	}
	return defaultValue
}

// getEnvInt returns an integer environment variable or a default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvInt64 returns an int64 environment variable or a default
func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvDuration returns a duration environment variable or a default
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
