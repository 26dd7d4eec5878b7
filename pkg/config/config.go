package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/platinummonkey/keystone/pkg/observability"
	"gopkg.in/yaml.v3"
)

// Store types
const (
	StoreMemory   = "memory"
	StorePostgres = "postgres"
)

// Config holds all application configuration
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Database      DatabaseConfig      `yaml:"database"`
	Cache         CacheConfig         `yaml:"cache"`
	Auth          AuthConfig          `yaml:"auth"`
	Shares        SharesConfig        `yaml:"shares"`
	Enrollment    EnrollmentConfig    `yaml:"enrollment"`
	Dispatcher    DispatcherConfig    `yaml:"dispatcher"`
	Archive       ArchiveConfig       `yaml:"archive"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string        `yaml:"host"`
	Port            string        `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

	// Health/metrics server (separate port for k8s probes)
	HealthPort string `yaml:"health_port"`
}

// DatabaseConfig selects and configures the row store
type DatabaseConfig struct {
	Type        string        `yaml:"type"`
	PostgresURL string        `yaml:"postgres_url"`
	MaxConns    int           `yaml:"max_conns"`
	MinConns    int           `yaml:"min_conns"`
	Timeout     time.Duration `yaml:"timeout"`
	MaxLifetime time.Duration `yaml:"max_lifetime"`
}

// CacheConfig configures the principal attribute resolver caches
type CacheConfig struct {
	ResolverTTL  time.Duration `yaml:"resolver_ttl"`
	ResolverSize int           `yaml:"resolver_size"`
	RedisURL     string        `yaml:"redis_url"`
	RedisDB      int           `yaml:"redis_db"`
}

// AuthConfig configures bearer-token verification
type AuthConfig struct {
	OIDCIssuer   string `yaml:"oidc_issuer"`
	OIDCClientID string `yaml:"oidc_client_id"`
	// HookSecret authenticates the identity provider's enrollment webhook.
	HookSecret string `yaml:"hook_secret"`
}

// SharesConfig configures share tokens
type SharesConfig struct {
	DefaultTTL time.Duration `yaml:"default_ttl"`
	// RateLimit caps anonymous share resolutions per client per minute.
	RateLimit int `yaml:"rate_limit"`
}

// EnrollmentConfig configures the enrollment retry loop
type EnrollmentConfig struct {
	MaxAttempts  int           `yaml:"max_attempts"`
	RetryBackoff time.Duration `yaml:"retry_backoff"`
}

// DispatcherConfig holds cron schedules for the dispatcher binary
type DispatcherConfig struct {
	EscalationSchedule string `yaml:"escalation_schedule"`
	HealthSchedule     string `yaml:"health_schedule"`
	BatchSize          int    `yaml:"batch_size"`

	// Notifications are posted here when set; otherwise they stay queued
	// for an external consumer.
	WebhookURL     string        `yaml:"webhook_url"`
	WebhookSecret  string        `yaml:"webhook_secret"`
	WebhookTimeout time.Duration `yaml:"webhook_timeout"`

	// Optional client credentials grant for the webhook endpoint
	WebhookTokenURL     string `yaml:"webhook_token_url"`
	WebhookClientID     string `yaml:"webhook_client_id"`
	WebhookClientSecret string `yaml:"webhook_client_secret"`
}

// ArchiveConfig holds the S3 destination for the daily audit archive. The
// archive job is off while Bucket is empty.
type ArchiveConfig struct {
	Schedule       string `yaml:"schedule"`
	Prefix         string `yaml:"prefix"`
	S3Bucket       string `yaml:"s3_bucket"`
	S3Region       string `yaml:"s3_region"`
	S3Endpoint     string `yaml:"s3_endpoint"`
	S3AccessKey    string `yaml:"s3_access_key"`
	S3SecretKey    string `yaml:"s3_secret_key"`
	S3UsePathStyle bool   `yaml:"s3_use_path_style"`
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	LogLevel       string `yaml:"log_level"`
	MetricsEnabled bool   `yaml:"metrics_enabled"`

	OTelEnabled        bool   `yaml:"otel_enabled"`
	OTelEndpoint       string `yaml:"otel_endpoint"`
	OTelServiceName    string `yaml:"otel_service_name"`
	OTelServiceVersion string `yaml:"otel_service_version"`
	OTelInsecure       bool   `yaml:"otel_insecure"`
}

// Level returns the parsed log level.
func (o ObservabilityConfig) Level() observability.LogLevel {
	return observability.ParseLogLevel(o.LogLevel)
}

// OTel converts to the observability tracing config.
func (o ObservabilityConfig) OTel() observability.OTelConfig {
	return observability.OTelConfig{
		Enabled:        o.OTelEnabled,
		Endpoint:       o.OTelEndpoint,
		ServiceName:    o.OTelServiceName,
		ServiceVersion: o.OTelServiceVersion,
		Insecure:       o.OTelInsecure,
	}
}

// Default returns the built-in defaults.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            "8080",
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 30 * time.Second,
			HealthPort:      "9090",
		},
		Database: DatabaseConfig{
			Type:        StoreMemory,
			MaxConns:    20,
			MinConns:    2,
			Timeout:     5 * time.Second,
			MaxLifetime: 30 * time.Minute,
		},
		Cache: CacheConfig{
			ResolverTTL:  30 * time.Second,
			ResolverSize: 10000,
		},
		Shares: SharesConfig{
			DefaultTTL: 7 * 24 * time.Hour,
			RateLimit:  60,
		},
		Enrollment: EnrollmentConfig{
			MaxAttempts:  5,
			RetryBackoff: 2 * time.Second,
		},
		Dispatcher: DispatcherConfig{
			EscalationSchedule: "*/15 * * * *",
			HealthSchedule:     "0 * * * *",
			BatchSize:          100,
			WebhookTimeout:     10 * time.Second,
		},
		Archive: ArchiveConfig{
			Schedule: "30 0 * * *",
			Prefix:   "audit",
			S3Region: "us-east-1",
		},
		Observability: ObservabilityConfig{
			LogLevel:           "info",
			MetricsEnabled:     true,
			OTelEndpoint:       "localhost:4317",
			OTelServiceName:    "keystone",
			OTelServiceVersion: "1.0.0",
			OTelInsecure:       true,
		},
	}
}

// Load builds the configuration: defaults, then the optional YAML file at
// path, then KEYSTONE_* environment variables. The result is validated.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		if err := cfg.overlayFile(path); err != nil {
			return nil, err
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

func (c *Config) overlayFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() {
	c.Server.Host = getEnv("KEYSTONE_HOST", c.Server.Host)
	c.Server.Port = getEnv("KEYSTONE_PORT", c.Server.Port)
	c.Server.ReadTimeout = getEnvDuration("KEYSTONE_READ_TIMEOUT", c.Server.ReadTimeout)
	c.Server.WriteTimeout = getEnvDuration("KEYSTONE_WRITE_TIMEOUT", c.Server.WriteTimeout)
	c.Server.IdleTimeout = getEnvDuration("KEYSTONE_IDLE_TIMEOUT", c.Server.IdleTimeout)
	c.Server.ShutdownTimeout = getEnvDuration("KEYSTONE_SHUTDOWN_TIMEOUT", c.Server.ShutdownTimeout)
	c.Server.HealthPort = getEnv("KEYSTONE_HEALTH_PORT", c.Server.HealthPort)

	c.Database.Type = getEnv("KEYSTONE_STORE_TYPE", c.Database.Type)
	c.Database.PostgresURL = getEnv("KEYSTONE_POSTGRES_URL", getEnv("DATABASE_URL", c.Database.PostgresURL))
	c.Database.MaxConns = getEnvInt("KEYSTONE_POSTGRES_MAX_CONNS", c.Database.MaxConns)
	c.Database.MinConns = getEnvInt("KEYSTONE_POSTGRES_MIN_CONNS", c.Database.MinConns)
	c.Database.Timeout = getEnvDuration("KEYSTONE_POSTGRES_TIMEOUT", c.Database.Timeout)

	c.Cache.ResolverTTL = getEnvDuration("KEYSTONE_RESOLVER_TTL", c.Cache.ResolverTTL)
	c.Cache.ResolverSize = getEnvInt("KEYSTONE_RESOLVER_SIZE", c.Cache.ResolverSize)
	c.Cache.RedisURL = getEnv("KEYSTONE_REDIS_URL", c.Cache.RedisURL)
	c.Cache.RedisDB = getEnvInt("KEYSTONE_REDIS_DB", c.Cache.RedisDB)

	c.Auth.OIDCIssuer = getEnv("KEYSTONE_OIDC_ISSUER", c.Auth.OIDCIssuer)
	c.Auth.OIDCClientID = getEnv("KEYSTONE_OIDC_CLIENT_ID", c.Auth.OIDCClientID)
	c.Auth.HookSecret = getEnv("KEYSTONE_HOOK_SECRET", c.Auth.HookSecret)

	c.Shares.DefaultTTL = getEnvDuration("KEYSTONE_SHARE_TTL", c.Shares.DefaultTTL)
	c.Shares.RateLimit = getEnvInt("KEYSTONE_SHARE_RATE_LIMIT", c.Shares.RateLimit)

	c.Enrollment.MaxAttempts = getEnvInt("KEYSTONE_ENROLLMENT_MAX_ATTEMPTS", c.Enrollment.MaxAttempts)
	c.Enrollment.RetryBackoff = getEnvDuration("KEYSTONE_ENROLLMENT_RETRY_BACKOFF", c.Enrollment.RetryBackoff)

	c.Dispatcher.EscalationSchedule = getEnv("KEYSTONE_ESCALATION_SCHEDULE", c.Dispatcher.EscalationSchedule)
	c.Dispatcher.HealthSchedule = getEnv("KEYSTONE_HEALTH_SCHEDULE", c.Dispatcher.HealthSchedule)
	c.Dispatcher.BatchSize = getEnvInt("KEYSTONE_DISPATCH_BATCH_SIZE", c.Dispatcher.BatchSize)
	c.Dispatcher.WebhookURL = getEnv("KEYSTONE_WEBHOOK_URL", c.Dispatcher.WebhookURL)
	c.Dispatcher.WebhookSecret = getEnv("KEYSTONE_WEBHOOK_SECRET", c.Dispatcher.WebhookSecret)
	c.Dispatcher.WebhookTimeout = getEnvDuration("KEYSTONE_WEBHOOK_TIMEOUT", c.Dispatcher.WebhookTimeout)
	c.Dispatcher.WebhookTokenURL = getEnv("KEYSTONE_WEBHOOK_TOKEN_URL", c.Dispatcher.WebhookTokenURL)
	c.Dispatcher.WebhookClientID = getEnv("KEYSTONE_WEBHOOK_CLIENT_ID", c.Dispatcher.WebhookClientID)
	c.Dispatcher.WebhookClientSecret = getEnv("KEYSTONE_WEBHOOK_CLIENT_SECRET", c.Dispatcher.WebhookClientSecret)

	c.Archive.Schedule = getEnv("KEYSTONE_ARCHIVE_SCHEDULE", c.Archive.Schedule)
	c.Archive.Prefix = getEnv("KEYSTONE_ARCHIVE_PREFIX", c.Archive.Prefix)
	c.Archive.S3Bucket = getEnv("KEYSTONE_S3_BUCKET", c.Archive.S3Bucket)
	c.Archive.S3Region = getEnv("KEYSTONE_S3_REGION", c.Archive.S3Region)
	c.Archive.S3Endpoint = getEnv("KEYSTONE_S3_ENDPOINT", c.Archive.S3Endpoint)
	c.Archive.S3AccessKey = getEnv("KEYSTONE_S3_ACCESS_KEY", c.Archive.S3AccessKey)
	c.Archive.S3SecretKey = getEnv("KEYSTONE_S3_SECRET_KEY", c.Archive.S3SecretKey)
	c.Archive.S3UsePathStyle = getEnvBool("KEYSTONE_S3_USE_PATH_STYLE", c.Archive.S3UsePathStyle)

	c.Observability.LogLevel = getEnv("KEYSTONE_LOG_LEVEL", c.Observability.LogLevel)
	c.Observability.MetricsEnabled = getEnvBool("KEYSTONE_METRICS_ENABLED", c.Observability.MetricsEnabled)
	c.Observability.OTelEnabled = getEnvBool("KEYSTONE_OTEL_ENABLED", c.Observability.OTelEnabled)
	c.Observability.OTelEndpoint = getEnv("KEYSTONE_OTEL_ENDPOINT", c.Observability.OTelEndpoint)
	c.Observability.OTelServiceName = getEnv("KEYSTONE_OTEL_SERVICE_NAME", c.Observability.OTelServiceName)
	c.Observability.OTelServiceVersion = getEnv("KEYSTONE_OTEL_SERVICE_VERSION", c.Observability.OTelServiceVersion)
	c.Observability.OTelInsecure = getEnvBool("KEYSTONE_OTEL_INSECURE", c.Observability.OTelInsecure)
}

// Validate checks if the configuration is valid
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

	switch c.Database.Type {
	case StoreMemory:
	case StorePostgres:
		if c.Database.PostgresURL == "" {
			return fmt.Errorf("postgres URL is required for postgres store")
		}
	default:
		return fmt.Errorf("invalid store type: %s (must be memory or postgres)", c.Database.Type)
	}

	if c.Cache.ResolverSize <= 0 {
		return fmt.Errorf("resolver cache size must be positive")
	}
	if c.Shares.DefaultTTL <= 0 {
		return fmt.Errorf("share token TTL must be positive")
	}
	if c.Enrollment.MaxAttempts < 1 {
		return fmt.Errorf("enrollment max attempts must be at least 1")
	}

	if c.Observability.OTelEnabled {
		if c.Observability.OTelEndpoint == "" {
			return fmt.Errorf("OpenTelemetry endpoint is required when OTel is enabled")
		}
		if c.Observability.OTelServiceName == "" {
			return fmt.Errorf("OpenTelemetry service name is required when OTel is enabled")
		}
	}

	return nil
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

// getEnvDuration returns a duration environment variable or a default
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
