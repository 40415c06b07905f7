package config

import (
	"fmt"
	"os"
	"strings"
	"time"
)

// OTP delivery modes.
const (
	OTPDeliveryLog    = "log"
	OTPDeliveryStdout = "stdout"
)

// Config holds the application configuration
type Config struct {
	// Database connection string (DSN)
	DatabaseURL string

	// Server bind address (host:port)
	ServerAddr string

	// Route prefix the auth API is mounted under
	APIPrefix string

	// HMAC key for access and refresh tokens
	JWTSigningKey string

	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration

	// One-time passcode lifetime and server-side attempt limit
	OTPTTL         time.Duration
	OTPMaxAttempts int

	// Where passcodes are sent in development: log or stdout
	OTPDelivery string

	// Browser origins allowed by CORS
	AllowedOrigins []string

	// Enable debug logging
	Debug bool

	// OTLP/HTTP trace exporter endpoint; empty disables export
	OTLPEndpoint string
}

// Load reads configuration from environment variables with fallback defaults.
// It does not validate; callers that serve traffic call Validate after
// applying flag overrides.
func Load() (*Config, error) {
	cfg := &Config{
		DatabaseURL:     getEnv("DATABASE_URL", "file:staffgrid.db?cache=shared"),
		ServerAddr:      getEnv("SERVER_ADDR", "localhost:8080"),
		APIPrefix:       getEnv("API_PREFIX", "/api/v1"),
		JWTSigningKey:   getEnv("JWT_SIGNING_KEY", ""),
		AccessTokenTTL:  getEnvDuration("ACCESS_TOKEN_TTL", 15*time.Minute),
		RefreshTokenTTL: getEnvDuration("REFRESH_TOKEN_TTL", 7*24*time.Hour),
		OTPTTL:          getEnvDuration("OTP_TTL", 5*time.Minute),
		OTPMaxAttempts:  getEnvInt("OTP_MAX_ATTEMPTS", 5),
		OTPDelivery:     getEnv("OTP_DELIVERY", OTPDeliveryLog),
		AllowedOrigins:  getEnvList("CORS_ALLOWED_ORIGINS", []string{"http://localhost:5173", "http://127.0.0.1:5173"}),
		Debug:           getEnvBool("DEBUG", false),
		OTLPEndpoint:    getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
	}
	cfg.APIPrefix = strings.TrimSuffix(cfg.APIPrefix, "/")
	return cfg, nil
}

// Validate checks field combinations that Load cannot default.
func (c *Config) Validate() error {
	if c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	if len(c.JWTSigningKey) < 32 {
		return fmt.Errorf("JWT_SIGNING_KEY must be at least 32 bytes")
	}
	if c.AccessTokenTTL <= 0 || c.RefreshTokenTTL <= 0 {
		return fmt.Errorf("token lifetimes must be positive")
	}
	if c.RefreshTokenTTL < c.AccessTokenTTL {
		return fmt.Errorf("REFRESH_TOKEN_TTL must not be shorter than ACCESS_TOKEN_TTL")
	}
	if c.OTPTTL <= 0 {
		return fmt.Errorf("OTP_TTL must be positive")
	}
	if c.OTPMaxAttempts < 1 {
		return fmt.Errorf("OTP_MAX_ATTEMPTS must be at least 1")
	}
	switch c.OTPDelivery {
	case OTPDeliveryLog, OTPDeliveryStdout:
	default:
		return fmt.Errorf("unsupported OTP_DELIVERY %q (want log or stdout)", c.OTPDelivery)
	}
	if c.APIPrefix != "" && !strings.HasPrefix(c.APIPrefix, "/") {
		return fmt.Errorf("API_PREFIX must start with /")
	}
	c.APIPrefix = strings.TrimSuffix(c.APIPrefix, "/")
	return nil
}

// getEnv retrieves an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt retrieves an integer environment variable or returns a default value
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		var result int
		if _, err := fmt.Sscanf(value, "%d", &result); err == nil {
			return result
		}
	}
	return defaultValue
}

// getEnvBool retrieves a boolean environment variable or returns a default value
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return value == "true" || value == "1" || value == "yes"
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getEnvList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
