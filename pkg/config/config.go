package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"

	"github.com/invoicely/gatekeeper/pkg/observability"
	"github.com/invoicely/gatekeeper/pkg/ratelimit"
)

// Config holds all application configuration
type Config struct {
	Server        ServerConfig        `validate:"required"`
	Postgres      PostgresConfig
	Redis         RedisConfig
	RateLimit     RateLimitConfig     `validate:"required"`
	Audit         AuditConfig         `validate:"required"`
	Cron          CronConfig
	Observability ObservabilityConfig `validate:"required"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string
	Port            string        `validate:"required,numeric"`
	ReadTimeout     time.Duration `validate:"gt=0"`
	WriteTimeout    time.Duration `validate:"gt=0"`
	IdleTimeout     time.Duration `validate:"gt=0"`
	ShutdownTimeout time.Duration `validate:"gt=0"`

	// TrustProxy reads the client IP from X-Forwarded-For / X-Real-IP
	TrustProxy bool

	// DevSeed creates a demo user, workspace and session in the in-memory stores
	DevSeed bool
}

// PostgresConfig holds the identity, workspace and audit database settings.
// An empty URL selects in-memory identity and workspace stores.
type PostgresConfig struct {
	URL             string
	MaxOpenConns    int           `validate:"gte=0"`
	ConnMaxLifetime time.Duration `validate:"gte=0"`
}

// RedisConfig holds the counter store connection
type RedisConfig struct {
	URL      string
	PoolSize int `validate:"gte=0"`
	Prefix   string
}

// RateLimitConfig holds the profile registry and cooldown table
type RateLimitConfig struct {
	Backend       string              `validate:"oneof=memory redis"`
	SweepSchedule string              `validate:"required"`
	Profiles      []ratelimit.Profile `validate:"required,min=1,dive"`
	Cooldowns     ratelimit.Cooldowns `validate:"required"`
}

// AuditConfig holds the durable audit sink
type AuditConfig struct {
	Sink         string `validate:"oneof=postgres file log"`
	FileDir      string
	FileMaxSize  int64         `validate:"gte=0"`
	FileMaxFiles int           `validate:"gte=0"`
	Workers      int           `validate:"min=1,max=64"`
	QueueSize    int           `validate:"min=1"`
	WriteTimeout time.Duration `validate:"gt=0"`
}

// CronConfig holds the scheduler shared secret. An empty secret is allowed at startup;
// cron routes then reject every call.
type CronConfig struct {
	Secret string
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	// Logging
	LogLevel observability.LogLevel

	// Metrics
	MetricsEnabled bool

	// OpenTelemetry
	OTelEnabled        bool
	OTelEndpoint       string
	OTelServiceName    string
	OTelServiceVersion string
	OTelInsecure       bool    // Use insecure gRPC connection
	OTelSampleRatio    float64 `validate:"gte=0,lte=1"`
}

// fileConfig is the optional YAML overlay for the profile registry and cooldowns
type fileConfig struct {
	Profiles  []ratelimit.Profile      `yaml:"profiles"`
	Cooldowns map[string]time.Duration `yaml:"cooldowns"`
}

var configValidator = validator.New()

// Load loads configuration from environment variables and the optional
// YAML file named by GATEKEEPER_CONFIG_FILE
func Load() (*Config, error) {
	cfg := &Config{
		Server:        loadServerConfig(),
		Postgres:      loadPostgresConfig(),
		Redis:         loadRedisConfig(),
		RateLimit:     loadRateLimitConfig(),
		Audit:         loadAuditConfig(),
		Cron:          CronConfig{Secret: os.Getenv("CRON_SECRET")},
		Observability: loadObservabilityConfig(),
	}

	if path := getEnv("GATEKEEPER_CONFIG_FILE", ""); path != "" {
		if err := cfg.applyFile(path); err != nil {
			return nil, err
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

func loadServerConfig() ServerConfig {
	return ServerConfig{
		Host:            getEnv("GATEKEEPER_HOST", "0.0.0.0"),
		Port:            getEnv("GATEKEEPER_PORT", "8080"),
		ReadTimeout:     getEnvDuration("GATEKEEPER_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:    getEnvDuration("GATEKEEPER_WRITE_TIMEOUT", 15*time.Second),
		IdleTimeout:     getEnvDuration("GATEKEEPER_IDLE_TIMEOUT", 60*time.Second),
		ShutdownTimeout: getEnvDuration("GATEKEEPER_SHUTDOWN_TIMEOUT", 30*time.Second),
		TrustProxy:      getEnvBool("GATEKEEPER_TRUST_PROXY", false),
		DevSeed:         getEnvBool("GATEKEEPER_DEV_SEED", false),
	}
}

func loadPostgresConfig() PostgresConfig {
	return PostgresConfig{
		URL:             getEnv("GATEKEEPER_POSTGRES_URL", ""),
		MaxOpenConns:    getEnvInt("GATEKEEPER_POSTGRES_MAX_CONNS", 20),
		ConnMaxLifetime: getEnvDuration("GATEKEEPER_POSTGRES_CONN_MAX_LIFETIME", 30*time.Minute),
	}
}

func loadRedisConfig() RedisConfig {
	return RedisConfig{
		URL:      getEnv("GATEKEEPER_REDIS_URL", ""),
		PoolSize: getEnvInt("GATEKEEPER_REDIS_POOL_SIZE", 0),
		Prefix:   getEnv("GATEKEEPER_REDIS_PREFIX", "gatekeeper"),
	}
}

func loadRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		Backend:       strings.ToLower(getEnv("GATEKEEPER_RATELIMIT_BACKEND", "memory")),
		SweepSchedule: getEnv("GATEKEEPER_SWEEP_SCHEDULE", ratelimit.DefaultSweepSchedule),
		Profiles:      ratelimit.DefaultProfiles(),
		Cooldowns:     ratelimit.DefaultCooldowns(),
	}
}

func loadAuditConfig() AuditConfig {
	return AuditConfig{
		Sink:         strings.ToLower(getEnv("GATEKEEPER_AUDIT_SINK", "log")),
		FileDir:      getEnv("GATEKEEPER_AUDIT_FILE_DIR", ""),
		FileMaxSize:  getEnvInt64("GATEKEEPER_AUDIT_FILE_MAX_SIZE", 100*1024*1024),
		FileMaxFiles: getEnvInt("GATEKEEPER_AUDIT_FILE_MAX_FILES", 10),
		Workers:      getEnvInt("GATEKEEPER_AUDIT_WORKERS", 4),
		QueueSize:    getEnvInt("GATEKEEPER_AUDIT_QUEUE_SIZE", 1024),
		WriteTimeout: getEnvDuration("GATEKEEPER_AUDIT_WRITE_TIMEOUT", 5*time.Second),
	}
}

func loadObservabilityConfig() ObservabilityConfig {
	return ObservabilityConfig{
		LogLevel:           observability.ParseLogLevel(getEnv("GATEKEEPER_LOG_LEVEL", "info")),
		MetricsEnabled:     getEnvBool("GATEKEEPER_METRICS_ENABLED", true),
		OTelEnabled:        getEnvBool("GATEKEEPER_OTEL_ENABLED", false),
		OTelEndpoint:       getEnv("GATEKEEPER_OTEL_ENDPOINT", "localhost:4317"),
		OTelServiceName:    getEnv("GATEKEEPER_OTEL_SERVICE_NAME", "gatekeeper"),
		OTelServiceVersion: getEnv("GATEKEEPER_OTEL_SERVICE_VERSION", "1.0.0"),
		OTelInsecure:       getEnvBool("GATEKEEPER_OTEL_INSECURE", true),
		OTelSampleRatio:    getEnvFloat("GATEKEEPER_OTEL_SAMPLE_RATIO", 1.0),
	}
}

// applyFile overlays profiles and cooldowns from a YAML file. Profiles replace the
// defaults with the same name; new names are added.
func (c *Config) applyFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var fc fileConfig
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&fc); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	byName := make(map[string]ratelimit.Profile, len(c.RateLimit.Profiles))
	for _, p := range c.RateLimit.Profiles {
		byName[p.Name] = p
	}
	for _, p := range fc.Profiles {
		byName[p.Name] = p
	}
	names := make([]string, 0, len(byName))
	for name := range byName {
		names = append(names, name)
	}
	sort.Strings(names)
	profiles := make([]ratelimit.Profile, 0, len(names))
	for _, name := range names {
		profiles = append(profiles, byName[name])
	}
	c.RateLimit.Profiles = profiles

	cooldowns := make(ratelimit.Cooldowns, len(c.RateLimit.Cooldowns)+len(fc.Cooldowns))
	for k, v := range c.RateLimit.Cooldowns {
		cooldowns[k] = v
	}
	for k, v := range fc.Cooldowns {
		cooldowns[k] = v
	}
	c.RateLimit.Cooldowns = cooldowns

	return nil
}

// Validate checks struct rules, then the cross-field rules they cannot express
func (c *Config) Validate() error {
	if err := configValidator.Struct(c); err != nil {
		return formatValidationError(err)
	}

	if _, err := ratelimit.NewRegistry(c.RateLimit.Profiles); err != nil {
		return fmt.Errorf("invalid rate limit profiles: %w", err)
	}
	for name, d := range c.RateLimit.Cooldowns {
		if d <= 0 {
			return fmt.Errorf("cooldown %s must be positive", name)
		}
	}
	if _, err := cron.ParseStandard(c.RateLimit.SweepSchedule); err != nil {
		return fmt.Errorf("invalid sweep schedule %q: %w", c.RateLimit.SweepSchedule, err)
	}

	if c.RateLimit.Backend == "redis" && c.Redis.URL == "" {
		return fmt.Errorf("redis URL is required for the redis rate limit backend")
	}

	switch c.Audit.Sink {
	case "postgres":
		if c.Postgres.URL == "" {
			return fmt.Errorf("postgres URL is required for the postgres audit sink")
		}
	case "file":
		if c.Audit.FileDir == "" {
			return fmt.Errorf("audit file directory is required for the file audit sink")
		}
	}

	if c.Server.DevSeed && c.Postgres.URL != "" {
		return fmt.Errorf("dev seed only applies to in-memory stores; unset the postgres URL")
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

func formatValidationError(err error) error {
	if validationErrors, ok := err.(validator.ValidationErrors); ok {
		messages := make([]string, 0, len(validationErrors))
		for _, fieldError := range validationErrors {
			messages = append(messages, fmt.Sprintf("field '%s' failed validation: %s (value: %v)",
				fieldError.Namespace(), fieldError.Tag(), fieldError.Value()))
		}
		return fmt.Errorf("validation errors: %s", strings.Join(messages, "; "))
	}
	return err
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

// getEnvFloat returns a float environment variable or a default
func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
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
