// Package config loads and validates app config from env and an optional .env file using Viper.
package config

import (
	"encoding/hex"
	"errors"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Storage backends accepted by STORAGE_BACKEND and SESSION_STORE.
const (
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
	BackendRedis    = "redis"
	// BackendHistory is only valid for RATE_LIMIT_BACKEND: counts audit history instead of reserving.
	BackendHistory = "history"
)

// CSRF modes accepted by CSRF_MODE.
const (
	CSRFModeOff    = "off"
	CSRFModeLegacy = "legacy"
	CSRFModeHMAC   = "hmac"
)

// Config holds application configuration loaded from the environment.
type Config struct {
	// HTTPAddr is the address the HTTP server listens on (e.g. :8080).
	HTTPAddr string `mapstructure:"HTTP_ADDR"`
	// Env is the application environment (e.g. "development", "production").
	Env string `mapstructure:"APP_ENV"`
	// LogLevel is the zap level (debug, info, warn, error).
	LogLevel string `mapstructure:"LOG_LEVEL"`
	// LogFormat is "json" or "console".
	LogFormat string `mapstructure:"LOG_FORMAT"`

	// DatabaseURL is the Postgres DSN; required when any store uses postgres.
	DatabaseURL string `mapstructure:"DATABASE_URL"`
	// StorageBackend selects the audit event and account store: memory or postgres.
	StorageBackend string `mapstructure:"STORAGE_BACKEND"`
	// SessionStore selects the session store: memory, postgres or redis. Empty follows StorageBackend.
	SessionStore string `mapstructure:"SESSION_STORE"`
	// RateLimitBackend selects the limiter: memory, redis or history.
	RateLimitBackend string `mapstructure:"RATE_LIMIT_BACKEND"`
	// RedisURL is the redis:// URL; required when a redis backend is selected.
	RedisURL string `mapstructure:"REDIS_URL"`

	// JWTPrivateKey is the PEM-encoded private key (RSA or ECDSA) or path to file.
	JWTPrivateKey string `mapstructure:"JWT_PRIVATE_KEY"`
	// JWTPublicKey is the PEM-encoded public key or path to file.
	JWTPublicKey string `mapstructure:"JWT_PUBLIC_KEY"`
	JWTIssuer    string `mapstructure:"JWT_ISSUER"`
	JWTAudience  string `mapstructure:"JWT_AUDIENCE"`
	// JWTAccessTTL is the access token lifetime (e.g. "15m").
	JWTAccessTTL string `mapstructure:"JWT_ACCESS_TTL"`
	// BcryptCost is the bcrypt cost factor (4–31); default 12.
	BcryptCost int `mapstructure:"BCRYPT_COST"`

	// SessionMaxAge is the absolute session lifetime (e.g. "24h").
	SessionMaxAge string `mapstructure:"SESSION_MAX_AGE"`
	// SessionIdleTimeout is the inactivity limit (e.g. "30m").
	SessionIdleTimeout string `mapstructure:"SESSION_IDLE_TIMEOUT"`

	// RiskWindow is the trailing window used for anomaly detection (e.g. "60m").
	RiskWindow string `mapstructure:"RISK_WINDOW"`
	// RiskFailedLoginThreshold locks the account when failed logins in the window reach it.
	RiskFailedLoginThreshold int `mapstructure:"RISK_FAILED_LOGIN_THRESHOLD"`
	// RiskDistinctIPThreshold flags the account when distinct IPs in the window exceed it.
	RiskDistinctIPThreshold int `mapstructure:"RISK_DISTINCT_IP_THRESHOLD"`

	LoginRateLimit     int    `mapstructure:"LOGIN_RATE_LIMIT"`
	LoginRateWindow    string `mapstructure:"LOGIN_RATE_WINDOW"`
	PasswordRateLimit  int    `mapstructure:"PASSWORD_RATE_LIMIT"`
	PasswordRateWindow string `mapstructure:"PASSWORD_RATE_WINDOW"`
	// HTTPRatePerSecond and HTTPRateBurst configure the per-IP token bucket in front of all routes.
	HTTPRatePerSecond float64 `mapstructure:"HTTP_RATE_PER_SECOND"`
	HTTPRateBurst     int     `mapstructure:"HTTP_RATE_BURST"`

	// CSRFMode is off, legacy or hmac.
	CSRFMode string `mapstructure:"CSRF_MODE"`
	// CSRFSecret keys the HMAC binder; required when CSRFMode is hmac.
	CSRFSecret string `mapstructure:"CSRF_SECRET"`
	// FieldEncryptionKey is a hex-encoded 32-byte key; when set, audit metadata is encrypted at rest.
	FieldEncryptionKey string `mapstructure:"FIELD_ENCRYPTION_KEY"`

	// CORSAllowedOrigins is a comma-separated list of origins.
	CORSAllowedOrigins string `mapstructure:"CORS_ALLOWED_ORIGINS"`
	// RequestTimeout bounds each HTTP request (e.g. "30s").
	RequestTimeout string `mapstructure:"REQUEST_TIMEOUT"`

	// Alerts (optional). When Kafka brokers are set, security alerts are published to Kafka.
	// KafkaBrokers is a comma-separated list of Kafka broker addresses (e.g. "localhost:9092").
	KafkaBrokers string `mapstructure:"KAFKA_BROKERS"`
	// AlertKafkaTopic is the Kafka topic for security alerts.
	AlertKafkaTopic string `mapstructure:"ALERT_KAFKA_TOPIC"`

	// Worker-only: Loki URL for the alert worker to push logs (e.g. http://localhost:3100).
	LokiURL string `mapstructure:"LOKI_URL"`
	// KafkaGroupID is the consumer group ID for the alert worker.
	KafkaGroupID string `mapstructure:"KAFKA_GROUP_ID"`

	// OTLPEndpoint is the OTLP gRPC collector endpoint; empty disables export.
	OTLPEndpoint    string `mapstructure:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	OTLPInsecure    bool   `mapstructure:"OTEL_EXPORTER_OTLP_INSECURE"`
	OTELServiceName string `mapstructure:"OTEL_SERVICE_NAME"`
}

// Load reads .env (if present), then builds and validates Config from the environment via Viper.
// Missing .env is ignored (e.g. in CI). Env vars override .env. Returns an error if required fields are invalid.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigFile(".env")
	v.SetConfigType("env")
	_ = v.ReadInConfig() // ignore ErrConfigFileNotFound

	v.AutomaticEnv()

	v.SetDefault("HTTP_ADDR", ":8080")
	v.SetDefault("APP_ENV", "")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")
	v.SetDefault("DATABASE_URL", "")
	v.SetDefault("STORAGE_BACKEND", BackendMemory)
	v.SetDefault("SESSION_STORE", "")
	v.SetDefault("RATE_LIMIT_BACKEND", BackendMemory)
	v.SetDefault("REDIS_URL", "")
	v.SetDefault("JWT_PRIVATE_KEY", "")
	v.SetDefault("JWT_PUBLIC_KEY", "")
	v.SetDefault("JWT_ISSUER", "ledgerguard-auth")
	v.SetDefault("JWT_AUDIENCE", "ledgerguard-api")
	v.SetDefault("JWT_ACCESS_TTL", "15m")
	v.SetDefault("BCRYPT_COST", 12)
	v.SetDefault("SESSION_MAX_AGE", "24h")
	v.SetDefault("SESSION_IDLE_TIMEOUT", "30m")
	v.SetDefault("RISK_WINDOW", "60m")
	v.SetDefault("RISK_FAILED_LOGIN_THRESHOLD", 5)
	v.SetDefault("RISK_DISTINCT_IP_THRESHOLD", 3)
	v.SetDefault("LOGIN_RATE_LIMIT", 10)
	v.SetDefault("LOGIN_RATE_WINDOW", "15m")
	v.SetDefault("PASSWORD_RATE_LIMIT", 20)
	v.SetDefault("PASSWORD_RATE_WINDOW", "1m")
	v.SetDefault("HTTP_RATE_PER_SECOND", 20.0)
	v.SetDefault("HTTP_RATE_BURST", 40)
	v.SetDefault("CSRF_MODE", CSRFModeLegacy)
	v.SetDefault("CSRF_SECRET", "")
	v.SetDefault("FIELD_ENCRYPTION_KEY", "")
	v.SetDefault("CORS_ALLOWED_ORIGINS", "*")
	v.SetDefault("REQUEST_TIMEOUT", "30s")
	v.SetDefault("KAFKA_BROKERS", "")
	v.SetDefault("ALERT_KAFKA_TOPIC", "ledgerguard-security-alerts")
	v.SetDefault("LOKI_URL", "")
	v.SetDefault("KAFKA_GROUP_ID", "ledgerguard-alert-worker")
	v.SetDefault("OTEL_EXPORTER_OTLP_ENDPOINT", "")
	v.SetDefault("OTEL_EXPORTER_OTLP_INSECURE", false)
	v.SetDefault("OTEL_SERVICE_NAME", "ledgerguard")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.HTTPAddr == "" {
		return errors.New("config: HTTP_ADDR must be set")
	}

	if c.BcryptCost == 0 {
		c.BcryptCost = 12
	}
	if c.BcryptCost < 4 || c.BcryptCost > 31 {
		return errors.New("config: BCRYPT_COST must be between 4 and 31")
	}

	switch c.StorageBackend {
	case BackendMemory, BackendPostgres:
	default:
		return errors.New("config: STORAGE_BACKEND must be memory or postgres")
	}
	switch c.SessionBackend() {
	case BackendMemory, BackendPostgres, BackendRedis:
	default:
		return errors.New("config: SESSION_STORE must be memory, postgres or redis")
	}
	switch c.RateLimitBackend {
	case BackendMemory, BackendRedis, BackendHistory:
	default:
		return errors.New("config: RATE_LIMIT_BACKEND must be memory, redis or history")
	}

	needsPostgres := c.StorageBackend == BackendPostgres || c.SessionBackend() == BackendPostgres
	if needsPostgres && c.DatabaseURL == "" {
		return errors.New("config: DATABASE_URL must be set when a postgres backend is selected")
	}
	needsRedis := c.SessionBackend() == BackendRedis || c.RateLimitBackend == BackendRedis
	if needsRedis && c.RedisURL == "" {
		return errors.New("config: REDIS_URL must be set when a redis backend is selected")
	}

	if c.RiskFailedLoginThreshold < 1 {
		return errors.New("config: RISK_FAILED_LOGIN_THRESHOLD must be positive")
	}
	if c.RiskDistinctIPThreshold < 1 {
		return errors.New("config: RISK_DISTINCT_IP_THRESHOLD must be positive")
	}
	if c.LoginRateLimit < 1 || c.PasswordRateLimit < 1 {
		return errors.New("config: LOGIN_RATE_LIMIT and PASSWORD_RATE_LIMIT must be positive")
	}

	switch c.CSRFMode {
	case CSRFModeOff, CSRFModeLegacy:
	case CSRFModeHMAC:
		if c.CSRFSecret == "" {
			return errors.New("config: CSRF_SECRET must be set when CSRF_MODE=hmac")
		}
	default:
		return errors.New("config: CSRF_MODE must be off, legacy or hmac")
	}

	if c.FieldEncryptionKey != "" {
		if _, err := c.FieldKey(); err != nil {
			return err
		}
	}

	if c.Env == "production" {
		if c.JWTPrivateKey == "" || c.JWTPublicKey == "" {
			return errors.New("config: JWT_PRIVATE_KEY and JWT_PUBLIC_KEY must be set when APP_ENV=production")
		}
		if c.CSRFMode == CSRFModeOff {
			return errors.New("config: CSRF_MODE must not be off when APP_ENV=production")
		}
	}
	return nil
}

// SessionBackend returns the effective session store, falling back to StorageBackend.
func (c *Config) SessionBackend() string {
	if c.SessionStore == "" {
		return c.StorageBackend
	}
	return c.SessionStore
}

// FieldKey decodes FieldEncryptionKey. Returns nil, nil when unset.
func (c *Config) FieldKey() ([]byte, error) {
	if c.FieldEncryptionKey == "" {
		return nil, nil
	}
	key, err := hex.DecodeString(c.FieldEncryptionKey)
	if err != nil || len(key) != 32 {
		return nil, errors.New("config: FIELD_ENCRYPTION_KEY must be 64 hex characters")
	}
	return key, nil
}

func parseDuration(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

// AccessTTL parses JWTAccessTTL as a time.Duration. Returns 15m if unset or invalid.
func (c *Config) AccessTTL() time.Duration {
	return parseDuration(c.JWTAccessTTL, 15*time.Minute)
}

// MaxAge parses SessionMaxAge. Returns 24h if unset or invalid.
func (c *Config) MaxAge() time.Duration {
	return parseDuration(c.SessionMaxAge, 24*time.Hour)
}

// IdleTimeout parses SessionIdleTimeout. Returns 30m if unset or invalid.
func (c *Config) IdleTimeout() time.Duration {
	return parseDuration(c.SessionIdleTimeout, 30*time.Minute)
}

// Window parses RiskWindow. Returns 60m if unset or invalid.
func (c *Config) Window() time.Duration {
	return parseDuration(c.RiskWindow, 60*time.Minute)
}

// LoginWindow parses LoginRateWindow. Returns 15m if unset or invalid.
func (c *Config) LoginWindow() time.Duration {
	return parseDuration(c.LoginRateWindow, 15*time.Minute)
}

// PasswordWindow parses PasswordRateWindow. Returns 1m if unset or invalid.
func (c *Config) PasswordWindow() time.Duration {
	return parseDuration(c.PasswordRateWindow, time.Minute)
}

// Timeout parses RequestTimeout. Returns 30s if unset or invalid.
func (c *Config) Timeout() time.Duration {
	return parseDuration(c.RequestTimeout, 30*time.Second)
}

// KafkaBrokersList returns Kafka broker addresses from the comma-separated config.
// Used to decide if alert publishing is enabled (non-empty list) and to create the producer.
func (c *Config) KafkaBrokersList() []string {
	if c == nil {
		return nil
	}
	return splitList(c.KafkaBrokers)
}

// CORSOrigins returns the allowed origins list; defaults to "*".
func (c *Config) CORSOrigins() []string {
	if out := splitList(c.CORSAllowedOrigins); len(out) > 0 {
		return out
	}
	return []string{"*"}
}

func splitList(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}
