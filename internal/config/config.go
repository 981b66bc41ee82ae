// Package config loads service configuration from environment variables and
// validates it on startup.
package config

import (
	"strconv"
	"time"
)

// Config holds all service configuration.
type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Import    ImportConfig
	Reconcile ReconcileConfig
	Rate      RateLimitConfig
	Security  SecurityConfig
	Logging   LoggingConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host string `env:"SERVER_HOST" default:"0.0.0.0"`
	Port int    `env:"SERVER_PORT" default:"8080"`

	ReadTimeout time.Duration `env:"SERVER_READ_TIMEOUT" default:"30s"`
	// WriteTimeout is zero by default so progress streams stay open.
	WriteTimeout    time.Duration `env:"SERVER_WRITE_TIMEOUT" default:"0s"`
	IdleTimeout     time.Duration `env:"SERVER_IDLE_TIMEOUT" default:"60s"`
	ShutdownTimeout time.Duration `env:"SERVER_SHUTDOWN_TIMEOUT" default:"30s"`
}

// DatabaseConfig holds PostgreSQL pool settings.
type DatabaseConfig struct {
	URL             string        `env:"DATABASE_URL" envAlt:"DB_URL" required:"true"`
	MaxConns        int           `env:"DB_MAX_CONNS" default:"10"`
	MinConns        int           `env:"DB_MIN_CONNS" default:"2"`
	MaxConnLifetime time.Duration `env:"DB_MAX_CONN_LIFETIME" default:"1h"`
	MaxConnIdleTime time.Duration `env:"DB_MAX_CONN_IDLE_TIME" default:"30m"`
}

// ImportConfig holds import run settings.
type ImportConfig struct {
	// MaxFileSize is the upload limit in bytes (default: 10MB).
	MaxFileSize int64 `env:"IMPORT_MAX_FILE_SIZE" default:"10485760"`

	MaxConcurrent int           `env:"IMPORT_MAX_CONCURRENT" default:"4"`
	MaxWaitTime   time.Duration `env:"IMPORT_MAX_WAIT_TIME" default:"30s"`
	Timeout       time.Duration `env:"IMPORT_TIMEOUT" default:"10m"`

	// ChunkSize records are written per chunk, with ChunkDelay between
	// chunks to stay under rate-limited stores.
	ChunkSize  int           `env:"IMPORT_CHUNK_SIZE" default:"5"`
	ChunkDelay time.Duration `env:"IMPORT_CHUNK_DELAY" default:"250ms"`

	// RunRetention is how long finished runs can still be queried.
	RunRetention time.Duration `env:"IMPORT_RUN_RETENTION" default:"5m"`

	// RegionTarget overrides each kind's row filter target, for example "MEX".
	RegionTarget string `env:"IMPORT_REGION_TARGET"`
}

// ReconcileConfig tunes record matching.
type ReconcileConfig struct {
	// MaxDistance is the fingerprint edit distance that still counts as the
	// same record. -1 disables fuzzy matching.
	MaxDistance int `env:"RECONCILE_MAX_DISTANCE" default:"2"`

	// EnrichKinds merge natural-key duplicates instead of skipping them.
	EnrichKinds []string `env:"RECONCILE_ENRICH_KINDS"`
}

// RateLimitConfig limits requests per client IP.
type RateLimitConfig struct {
	Enabled           bool `env:"RATE_LIMIT_ENABLED" default:"true"`
	RequestsPerMinute int  `env:"RATE_LIMIT_REQUESTS_PER_MINUTE" default:"120"`
}

// SecurityConfig holds API access settings.
type SecurityConfig struct {
	RequireAPIKey  bool     `env:"REQUIRE_API_KEY" default:"false"`
	APIKeys        []string `env:"API_KEYS"`
	TrustedProxies []string `env:"TRUSTED_PROXIES"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `env:"LOG_LEVEL" default:"info"`
	Format string `env:"LOG_FORMAT" default:"text"`
}

// Addr returns the listen address in host:port form.
func (c *ServerConfig) Addr() string {
	return c.Host + ":" + strconv.Itoa(c.Port)
}
