// Package config loads application configuration from environment variables.
package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds all application configuration
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	IdP      IdPConfig
	Authz    AuthzConfig
	Sessions SessionConfig
	Sweep    SweepConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host string
	Port string
}

// DatabaseConfig holds PostgreSQL connection configuration
type DatabaseConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	SSLMode  string
}

// RedisConfig holds Redis connection configuration
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// IdPConfig holds identity-provider configuration. The identity provider is
// an external collaborator: it signs bearer tokens and publishes the
// verification keys this service fetches.
type IdPConfig struct {
	// Issuer is the exact issuer string expected in bearer tokens.
	Issuer string
	// JWKSURL is the endpoint publishing the provider's signing keys.
	JWKSURL string
	// CredentialURL is the endpoint accepting credential-update requests.
	CredentialURL string
	// FetchTimeout bounds a single key fetch.
	FetchTimeout time.Duration
}

// AuthzConfig holds authorization engine configuration
type AuthzConfig struct {
	// ForceBootstrap disables session checks on the session-creation route.
	// This is a break-glass override for emergency recovery only; enabling it
	// is logged loudly at startup and on every forced decision.
	ForceBootstrap bool
	// KeyCacheTTL is how long a fetched verification key stays usable.
	KeyCacheTTL time.Duration
	// KeyCacheSize bounds the number of cached verification keys.
	KeyCacheSize int
}

// SessionConfig holds session lifecycle configuration
type SessionConfig struct {
	// AbsoluteLifetime sets expires_at for new sessions. Independent of the
	// per-user rolling inactivity timeout.
	AbsoluteLifetime time.Duration
}

// SweepConfig holds maintenance sweep configuration
type SweepConfig struct {
	Interval   time.Duration
	BatchSize  int
	BatchDelay time.Duration
	PageSize   int
	Enabled    bool
}

// Load reads configuration from environment variables
func Load() *Config {
	return &Config{
		Server: ServerConfig{
			Host: getEnv("SERVER_HOST", "0.0.0.0"),
			Port: getEnv("SERVER_PORT", "8080"),
		},
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnv("DB_PORT", "5432"),
			User:     getEnv("DB_USER", "postgres"),
			Password: getEnv("DB_PASSWORD", ""),
			DBName:   getEnv("DB_NAME", "timetracker"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getIntEnv("REDIS_DB", 0),
		},
		IdP: IdPConfig{
			Issuer:        getEnv("IDP_ISSUER", ""),
			JWKSURL:       getEnv("IDP_JWKS_URL", ""),
			CredentialURL: getEnv("IDP_CREDENTIAL_URL", ""),
			FetchTimeout:  getDurationEnv("IDP_FETCH_TIMEOUT_SECONDS", 10*time.Second, time.Second),
		},
		Authz: AuthzConfig{
			ForceBootstrap: getBoolEnv("AUTHZ_FORCE_BOOTSTRAP", false),
			KeyCacheTTL:    getDurationEnv("AUTHZ_KEY_CACHE_TTL_MINUTES", 10*time.Minute, time.Minute),
			KeyCacheSize:   getIntEnv("AUTHZ_KEY_CACHE_SIZE", 5),
		},
		Sessions: SessionConfig{
			AbsoluteLifetime: getDurationEnv("SESSION_ABSOLUTE_LIFETIME_HOURS", 24*time.Hour, time.Hour),
		},
		Sweep: SweepConfig{
			Interval:   getDurationEnv("SWEEP_INTERVAL_MINUTES", 60*time.Minute, time.Minute),
			BatchSize:  getIntEnv("SWEEP_BATCH_SIZE", 25),
			BatchDelay: getDurationEnv("SWEEP_BATCH_DELAY_MS", 200*time.Millisecond, time.Millisecond),
			PageSize:   getIntEnv("SWEEP_PAGE_SIZE", 500),
			Enabled:    getBoolEnv("SWEEP_ENABLED", true),
		},
	}
}

// DSN returns the PostgreSQL connection string
func (d *DatabaseConfig) DSN() string {
	return "host=" + d.Host +
		" port=" + d.Port +
		" user=" + d.User +
		" password=" + d.Password +
		" dbname=" + d.DBName +
		" sslmode=" + d.SSLMode
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		switch value {
		case "true", "1", "yes":
			return true
		case "false", "0", "no":
			return false
		}
	}
	return defaultValue
}

// getDurationEnv parses an integer environment variable in the given unit
func getDurationEnv(key string, defaultValue time.Duration, unit time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return time.Duration(n) * unit
		}
	}
	return defaultValue
}
