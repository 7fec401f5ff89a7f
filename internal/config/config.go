// Package config provides centralized configuration management for the application.
// It loads configuration from environment variables with sensible defaults and
// validates all settings on startup to fail fast on misconfiguration.
package config

import (
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration.
// All settings can be configured via environment variables.
type Config struct {
	Server   ServerConfig
	Storage  StorageConfig
	Session  SessionConfig
	CSV      CSVConfig
	Rate     RateLimitConfig
	Security SecurityConfig
	Logging  LoggingConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	// Host is the interface to bind to (default: 0.0.0.0)
	Host string `env:"SERVER_HOST" default:"0.0.0.0"`

	// Port is the port to listen on (default: 8080)
	Port int `env:"SERVER_PORT" default:"8080"`

	// ReadTimeout is the maximum duration for reading request body (default: 15s)
	ReadTimeout time.Duration `env:"SERVER_READ_TIMEOUT" default:"15s"`

	// WriteTimeout is the maximum duration for writing a response (default: 30s)
	WriteTimeout time.Duration `env:"SERVER_WRITE_TIMEOUT" default:"30s"`

	// IdleTimeout is the keep-alive timeout (default: 60s)
	IdleTimeout time.Duration `env:"SERVER_IDLE_TIMEOUT" default:"60s"`

	// ShutdownTimeout is the maximum duration to wait for graceful shutdown (default: 30s)
	ShutdownTimeout time.Duration `env:"SERVER_SHUTDOWN_TIMEOUT" default:"30s"`

	// RequestTimeout is the middleware timeout for requests (default: 60s)
	RequestTimeout time.Duration `env:"SERVER_REQUEST_TIMEOUT" default:"60s"`
}

// StorageConfig selects and tunes the document store.
type StorageConfig struct {
	// Backend is "fs" or "postgres" (default: fs)
	Backend string `env:"STORAGE_BACKEND" default:"fs"`

	// Dir is the document root for the fs backend (default: ./documents)
	Dir string `env:"STORAGE_DIR" default:"./documents"`

	// AtomicWrites writes through a temp file and rename (default: true)
	AtomicWrites bool `env:"STORAGE_ATOMIC_WRITES" default:"true"`

	// MaxFileSize is the largest document accepted in bytes (default: 10MB)
	MaxFileSize int64 `env:"STORAGE_MAX_FILE_SIZE" default:"10485760"`

	// DatabaseURL is the PostgreSQL connection string (required for postgres)
	// Supports both DATABASE_URL and DB_URL env vars for compatibility
	DatabaseURL string `env:"DATABASE_URL" envAlt:"DB_URL"`

	// MaxConns is the maximum number of connections in the pool (default: 10)
	MaxConns int `env:"DB_MAX_CONNS" default:"10"`

	// MinConns is the minimum number of connections to keep open (default: 2)
	MinConns int `env:"DB_MIN_CONNS" default:"2"`

	// MaxConnLifetime is the maximum lifetime of a connection (default: 1h)
	MaxConnLifetime time.Duration `env:"DB_MAX_CONN_LIFETIME" default:"1h"`

	// InitSchema creates the documents table on startup (default: true)
	InitSchema bool `env:"STORAGE_INIT_SCHEMA" default:"true"`
}

// SessionConfig holds edit session settings.
type SessionConfig struct {
	// MaxSessions is the number of live sessions allowed (default: 100)
	MaxSessions int `env:"SESSION_MAX" default:"100"`

	// IdleTimeout closes sessions unused for this long (default: 30m)
	IdleTimeout time.Duration `env:"SESSION_IDLE_TIMEOUT" default:"30m"`

	// SweepInterval is how often idle sessions are checked (default: 1m)
	SweepInterval time.Duration `env:"SESSION_SWEEP_INTERVAL" default:"1m"`

	// MaxConcurrentIO is the number of parallel storage operations (default: 5)
	MaxConcurrentIO int `env:"SESSION_MAX_CONCURRENT_IO" default:"5"`

	// MaxWaitTime is how long to wait for a storage slot (default: 30s)
	MaxWaitTime time.Duration `env:"SESSION_MAX_WAIT_TIME" default:"30s"`

	// QueueWait is how long a session operation waits behind another (default: 0s, reject)
	QueueWait time.Duration `env:"SESSION_QUEUE_WAIT" default:"0s"`

	// OpTimeout bounds each storage read/write (default: 0s, none)
	OpTimeout time.Duration `env:"SESSION_OP_TIMEOUT" default:"0s"`

	// ReturnToLoadedAfterExport keeps the session loaded after export (default: false)
	ReturnToLoadedAfterExport bool `env:"SESSION_KEEP_AFTER_EXPORT" default:"false"`

	// ExportName is the default export file name (default: File.csv)
	ExportName string `env:"SESSION_EXPORT_NAME" default:"File.csv"`

	// MaxRows bounds how far an edit may grow a grid (default: 100000)
	MaxRows int `env:"SESSION_MAX_ROWS" default:"100000"`

	// MaxColumns bounds how far an edit may widen a row (default: 1000)
	MaxColumns int `env:"SESSION_MAX_COLUMNS" default:"1000"`
}

// CSVConfig holds codec settings.
type CSVConfig struct {
	// Delimiter is the single-character field separator, or "tab" (default: ,)
	Delimiter string `env:"CSV_DELIMITER" default:","`

	// LineEnding is "lf" or "crlf" for exported files (default: lf)
	LineEnding string `env:"CSV_LINE_ENDING" default:"lf"`
}

// RateLimitConfig holds rate limiting settings per time window.
type RateLimitConfig struct {
	// Enabled controls whether rate limiting is active (default: true)
	Enabled bool `env:"RATE_LIMIT_ENABLED" default:"true"`

	// RequestsPerMinute is the default rate limit per IP (default: 300)
	RequestsPerMinute int `env:"RATE_LIMIT_REQUESTS_PER_MINUTE" default:"300"`
}

// SecurityConfig holds security-related settings.
type SecurityConfig struct {
	// TrustedProxies is a comma-separated list of trusted proxy CIDRs
	TrustedProxies []string `env:"TRUSTED_PROXIES"`

	// EnableCSP enables Content-Security-Policy headers (default: true)
	EnableCSP bool `env:"SECURITY_ENABLE_CSP" default:"true"`

	// RequireAPIKey enables X-API-Key authentication on /api (default: false)
	RequireAPIKey bool `env:"REQUIRE_API_KEY" default:"false"`

	// APIKeys is a comma-separated list of accepted API keys
	APIKeys []string `env:"API_KEYS"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	// Level is the minimum log level: debug, info, warn, error (default: info)
	Level string `env:"LOG_LEVEL" default:"info"`

	// Format is the log format: text or json (default: text)
	Format string `env:"LOG_FORMAT" default:"text"`
}

// Addr returns the server listen address in host:port format.
func (c *ServerConfig) Addr() string {
	return c.Host + ":" + strconv.Itoa(c.Port)
}

// Comma returns the delimiter as a rune. "tab" selects a tab character.
func (c *CSVConfig) Comma() rune {
	if strings.EqualFold(c.Delimiter, "tab") {
		return '\t'
	}
	for _, r := range c.Delimiter {
		return r
	}
	return ','
}

// CRLF reports whether exports use CRLF line endings.
func (c *CSVConfig) CRLF() bool {
	return strings.EqualFold(c.LineEnding, "crlf")
}
