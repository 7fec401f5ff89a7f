package config

import (
	"fmt"
	"net/netip"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"
)

var durationType = reflect.TypeOf(time.Duration(0))

// Load reads configuration from environment variables.
// It applies defaults for unset values and validates the result.
// Returns an error if required values are missing or validation fails.
func Load() (*Config, error) {
	cfg := &Config{}

	if err := loadStruct(reflect.ValueOf(cfg).Elem()); err != nil {
		return nil, fmt.Errorf("config load: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return cfg, nil
}

// MustLoad loads configuration and panics on error.
// Use this only in main() where early termination is desired.
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load configuration: %v", err))
	}
	return cfg
}

// loadStruct recursively populates struct fields from environment variables.
// Tags: env (name), envAlt (fallback name), default, required.
func loadStruct(v reflect.Value) error {
	t := v.Type()

	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		fieldVal := v.Field(i)

		if !fieldVal.CanSet() {
			continue
		}

		if field.Type.Kind() == reflect.Struct {
			if err := loadStruct(fieldVal); err != nil {
				return err
			}
			continue
		}

		envName := field.Tag.Get("env")
		if envName == "" {
			continue
		}

		value, ok := lookup(envName, field.Tag.Get("envAlt"))
		if !ok {
			if field.Tag.Get("required") == "true" {
				return fmt.Errorf("required environment variable %s is not set", envName)
			}
			value = field.Tag.Get("default")
		}
		if value == "" {
			continue
		}

		if err := setField(fieldVal, value); err != nil {
			return fmt.Errorf("invalid value for %s=%q: %w", envName, value, err)
		}
	}

	return nil
}

// lookup returns the first non-empty value of name or alt.
func lookup(name, alt string) (string, bool) {
	if v := os.Getenv(name); v != "" {
		return v, true
	}
	if alt != "" {
		if v := os.Getenv(alt); v != "" {
			return v, true
		}
	}
	return "", false
}

// setField sets a reflect.Value from a string based on its type.
func setField(field reflect.Value, value string) error {
	switch field.Kind() {
	case reflect.String:
		field.SetString(value)

	case reflect.Int, reflect.Int64:
		if field.Type() == durationType {
			d, err := time.ParseDuration(value)
			if err != nil {
				return fmt.Errorf("invalid duration: %w", err)
			}
			field.SetInt(int64(d))
			return nil
		}
		i, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid integer: %w", err)
		}
		field.SetInt(i)

	case reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("invalid boolean: %w", err)
		}
		field.SetBool(b)

	case reflect.Slice:
		if field.Type().Elem().Kind() != reflect.String {
			return fmt.Errorf("unsupported slice type: %s", field.Type().Elem().Kind())
		}
		parts := strings.Split(value, ",")
		result := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				result = append(result, p)
			}
		}
		field.Set(reflect.ValueOf(result))

	default:
		return fmt.Errorf("unsupported field type: %s", field.Kind())
	}

	return nil
}

// Validate checks that the configuration is valid.
// Returns an error describing all validation failures.
func (c *Config) Validate() error {
	var errs []string

	// Server
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Sprintf("SERVER_PORT (%d) must be 1-65535", c.Server.Port))
	}
	if c.Server.ReadTimeout < 0 {
		errs = append(errs, "SERVER_READ_TIMEOUT must be non-negative")
	}
	if c.Server.RequestTimeout <= 0 {
		errs = append(errs, "SERVER_REQUEST_TIMEOUT must be positive")
	}
	if c.Server.ShutdownTimeout <= 0 {
		errs = append(errs, "SERVER_SHUTDOWN_TIMEOUT must be positive")
	}

	// Storage
	switch strings.ToLower(c.Storage.Backend) {
	case "fs":
		if strings.TrimSpace(c.Storage.Dir) == "" {
			errs = append(errs, "STORAGE_DIR is required for the fs backend")
		}
	case "postgres":
		if c.Storage.DatabaseURL == "" {
			errs = append(errs, "DATABASE_URL is required for the postgres backend")
		}
		if c.Storage.MaxConns <= 0 {
			errs = append(errs, "DB_MAX_CONNS must be positive")
		}
		if c.Storage.MinConns < 0 {
			errs = append(errs, "DB_MIN_CONNS must be non-negative")
		}
		if c.Storage.MaxConns < c.Storage.MinConns {
			errs = append(errs, fmt.Sprintf("DB_MAX_CONNS (%d) must be >= DB_MIN_CONNS (%d)",
				c.Storage.MaxConns, c.Storage.MinConns))
		}
	default:
		errs = append(errs, fmt.Sprintf("STORAGE_BACKEND (%q) must be one of: fs, postgres", c.Storage.Backend))
	}
	if c.Storage.MaxFileSize <= 0 {
		errs = append(errs, "STORAGE_MAX_FILE_SIZE must be positive")
	}

	// Session
	if c.Session.MaxSessions <= 0 {
		errs = append(errs, "SESSION_MAX must be positive")
	}
	if c.Session.IdleTimeout <= 0 {
		errs = append(errs, "SESSION_IDLE_TIMEOUT must be positive")
	}
	if c.Session.SweepInterval <= 0 {
		errs = append(errs, "SESSION_SWEEP_INTERVAL must be positive")
	}
	if c.Session.MaxConcurrentIO <= 0 {
		errs = append(errs, "SESSION_MAX_CONCURRENT_IO must be positive")
	}
	if c.Session.MaxWaitTime <= 0 {
		errs = append(errs, "SESSION_MAX_WAIT_TIME must be positive")
	}
	if c.Session.QueueWait < 0 || c.Session.OpTimeout < 0 {
		errs = append(errs, "SESSION_QUEUE_WAIT and SESSION_OP_TIMEOUT must be non-negative")
	}
	if c.Session.MaxRows < 0 || c.Session.MaxColumns < 0 {
		errs = append(errs, "SESSION_MAX_ROWS and SESSION_MAX_COLUMNS must be non-negative")
	}
	if strings.TrimSpace(c.Session.ExportName) == "" {
		errs = append(errs, "SESSION_EXPORT_NAME must not be empty")
	}

	// CSV
	if !strings.EqualFold(c.CSV.Delimiter, "tab") {
		r, size := utf8.DecodeRuneInString(c.CSV.Delimiter)
		if size == 0 || size != len(c.CSV.Delimiter) || r == '"' || r == '\r' || r == '\n' || r == utf8.RuneError {
			errs = append(errs, fmt.Sprintf("CSV_DELIMITER (%q) must be a single character other than a quote or line break", c.CSV.Delimiter))
		}
	}
	validEndings := map[string]bool{"lf": true, "crlf": true}
	if !validEndings[strings.ToLower(c.CSV.LineEnding)] {
		errs = append(errs, fmt.Sprintf("CSV_LINE_ENDING (%q) must be one of: lf, crlf", c.CSV.LineEnding))
	}

	// Rate limit
	if c.Rate.Enabled && c.Rate.RequestsPerMinute <= 0 {
		errs = append(errs, "RATE_LIMIT_REQUESTS_PER_MINUTE must be positive when rate limiting is enabled")
	}

	// Security
	for _, entry := range c.Security.TrustedProxies {
		if _, err := netip.ParsePrefix(entry); err == nil {
			continue
		}
		if _, err := netip.ParseAddr(entry); err != nil {
			errs = append(errs, fmt.Sprintf("TRUSTED_PROXIES entry %q must be a CIDR or IP address", entry))
		}
	}
	if c.Security.RequireAPIKey && len(c.Security.APIKeys) == 0 {
		errs = append(errs, "REQUIRE_API_KEY is true but API_KEYS is empty; configure at least one API key or disable auth")
	}

	// Logging
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.Logging.Level)] {
		errs = append(errs, fmt.Sprintf("LOG_LEVEL (%q) must be one of: debug, info, warn, error", c.Logging.Level))
	}

	validFormats := map[string]bool{"text": true, "json": true}
	if !validFormats[strings.ToLower(c.Logging.Format)] {
		errs = append(errs, fmt.Sprintf("LOG_FORMAT (%q) must be one of: text, json", c.Logging.Format))
	}

	if len(errs) > 0 {
		return fmt.Errorf("validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}

	return nil
}

// String returns a safe string representation of the config for logging.
// The database URL and API keys are masked.
func (c *Config) String() string {
	var b strings.Builder
	b.WriteString("Config{")
	fmt.Fprintf(&b, "Server: {Host: %q, Port: %d}, ", c.Server.Host, c.Server.Port)
	fmt.Fprintf(&b, "Storage: {Backend: %q, Dir: %q, DatabaseURL: [MASKED], MaxFileSize: %d}, ",
		c.Storage.Backend, c.Storage.Dir, c.Storage.MaxFileSize)
	fmt.Fprintf(&b, "Session: {MaxSessions: %d, IdleTimeout: %s, KeepAfterExport: %v}, ",
		c.Session.MaxSessions, c.Session.IdleTimeout, c.Session.ReturnToLoadedAfterExport)
	fmt.Fprintf(&b, "Security: {RequireAPIKey: %v, APIKeys: [%d MASKED]}, ",
		c.Security.RequireAPIKey, len(c.Security.APIKeys))
	fmt.Fprintf(&b, "Logging: {Level: %q, Format: %q}", c.Logging.Level, c.Logging.Format)
	b.WriteString("}")
	return b.String()
}
