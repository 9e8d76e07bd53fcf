package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/invoicely/gatekeeper/pkg/observability"
	"github.com/invoicely/gatekeeper/pkg/ratelimit"
)

var envKeys = []string{
	"GATEKEEPER_HOST", "GATEKEEPER_PORT", "GATEKEEPER_READ_TIMEOUT", "GATEKEEPER_WRITE_TIMEOUT",
	"GATEKEEPER_IDLE_TIMEOUT", "GATEKEEPER_SHUTDOWN_TIMEOUT", "GATEKEEPER_TRUST_PROXY", "GATEKEEPER_DEV_SEED",
	"GATEKEEPER_POSTGRES_URL", "GATEKEEPER_POSTGRES_MAX_CONNS", "GATEKEEPER_POSTGRES_CONN_MAX_LIFETIME",
	"GATEKEEPER_REDIS_URL", "GATEKEEPER_REDIS_POOL_SIZE", "GATEKEEPER_REDIS_PREFIX",
	"GATEKEEPER_RATELIMIT_BACKEND", "GATEKEEPER_SWEEP_SCHEDULE",
	"GATEKEEPER_AUDIT_SINK", "GATEKEEPER_AUDIT_FILE_DIR", "GATEKEEPER_AUDIT_FILE_MAX_SIZE",
	"GATEKEEPER_AUDIT_FILE_MAX_FILES", "GATEKEEPER_AUDIT_WORKERS", "GATEKEEPER_AUDIT_QUEUE_SIZE",
	"GATEKEEPER_AUDIT_WRITE_TIMEOUT", "CRON_SECRET",
	"GATEKEEPER_LOG_LEVEL", "GATEKEEPER_METRICS_ENABLED", "GATEKEEPER_OTEL_ENABLED", "GATEKEEPER_OTEL_ENDPOINT",
	"GATEKEEPER_OTEL_SERVICE_NAME", "GATEKEEPER_OTEL_SERVICE_VERSION", "GATEKEEPER_OTEL_INSECURE",
	"GATEKEEPER_OTEL_SAMPLE_RATIO", "GATEKEEPER_CONFIG_FILE",
}

// clearEnv blanks every key Load reads; getEnv treats empty as unset
func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range envKeys {
		t.Setenv(k, "")
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, 30*time.Second, cfg.Server.ShutdownTimeout)
	assert.False(t, cfg.Server.TrustProxy)
	assert.Equal(t, "memory", cfg.RateLimit.Backend)
	assert.Equal(t, ratelimit.DefaultSweepSchedule, cfg.RateLimit.SweepSchedule)
	assert.Equal(t, ratelimit.DefaultProfiles(), cfg.RateLimit.Profiles)
	assert.Equal(t, ratelimit.DefaultCooldowns(), cfg.RateLimit.Cooldowns)
	assert.Equal(t, "log", cfg.Audit.Sink)
	assert.Equal(t, 4, cfg.Audit.Workers)
	assert.Equal(t, observability.InfoLevel, cfg.Observability.LogLevel)
	assert.Empty(t, cfg.Cron.Secret, "a missing cron secret does not fail startup")
}

func TestLoad_EnvOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("GATEKEEPER_PORT", "9000")
	t.Setenv("GATEKEEPER_TRUST_PROXY", "true")
	t.Setenv("GATEKEEPER_RATELIMIT_BACKEND", "REDIS")
	t.Setenv("GATEKEEPER_REDIS_URL", "redis://cache:6379/1")
	t.Setenv("GATEKEEPER_AUDIT_SINK", "postgres")
	t.Setenv("GATEKEEPER_POSTGRES_URL", "postgres://db/invoicely")
	t.Setenv("GATEKEEPER_AUDIT_WORKERS", "8")
	t.Setenv("GATEKEEPER_LOG_LEVEL", "debug")
	t.Setenv("GATEKEEPER_SWEEP_SCHEDULE", "*/10 * * * *")
	t.Setenv("CRON_SECRET", "s3cret")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "9000", cfg.Server.Port)
	assert.True(t, cfg.Server.TrustProxy)
	assert.Equal(t, "redis", cfg.RateLimit.Backend)
	assert.Equal(t, "postgres", cfg.Audit.Sink)
	assert.Equal(t, 8, cfg.Audit.Workers)
	assert.Equal(t, observability.DebugLevel, cfg.Observability.LogLevel)
	assert.Equal(t, "s3cret", cfg.Cron.Secret)
}

func TestLoad_ValidationFailures(t *testing.T) {
	tests := []struct {
		name    string
		env     map[string]string
		wantErr string
	}{
		{"unknown backend", map[string]string{"GATEKEEPER_RATELIMIT_BACKEND": "memcached"}, "Backend"},
		{"redis without url", map[string]string{"GATEKEEPER_RATELIMIT_BACKEND": "redis"}, "redis URL"},
		{"postgres sink without url", map[string]string{"GATEKEEPER_AUDIT_SINK": "postgres"}, "postgres URL"},
		{"file sink without dir", map[string]string{"GATEKEEPER_AUDIT_SINK": "file"}, "audit file directory"},
		{"unknown sink", map[string]string{"GATEKEEPER_AUDIT_SINK": "kafka"}, "Sink"},
		{"bad schedule", map[string]string{"GATEKEEPER_SWEEP_SCHEDULE": "every so often"}, "sweep schedule"},
		{"non numeric port", map[string]string{"GATEKEEPER_PORT": "http"}, "Port"},
		{"zero workers", map[string]string{"GATEKEEPER_AUDIT_WORKERS": "0"}, "Workers"},
		{"sample ratio", map[string]string{"GATEKEEPER_OTEL_SAMPLE_RATIO": "1.5"}, "OTelSampleRatio"},
		{"dev seed with postgres", map[string]string{"GATEKEEPER_DEV_SEED": "true", "GATEKEEPER_POSTGRES_URL": "postgres://db"}, "dev seed"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := Load()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "gatekeeper.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad_ProfileFile(t *testing.T) {
	clearEnv(t)
	t.Setenv("GATEKEEPER_CONFIG_FILE", writeFile(t, `
profiles:
  - name: auth
    limit: 10
    window: 30m
  - name: csvExport
    limit: 3
    window: 1h
cooldowns:
  invoiceSend: 10m
  statementEmail: 12h
`))

	cfg, err := Load()
	require.NoError(t, err)

	registry, err := ratelimit.NewRegistry(cfg.RateLimit.Profiles)
	require.NoError(t, err)

	auth := registry.MustGet(ratelimit.ProfileAuth)
	assert.Equal(t, 10, auth.Limit)
	assert.Equal(t, 30*time.Minute, auth.Window)
	assert.Equal(t, 3, registry.MustGet("csvExport").Limit)
	assert.Equal(t, 100, registry.MustGet(ratelimit.ProfileGeneral).Limit, "defaults not named in the file survive")

	assert.Equal(t, 10*time.Minute, cfg.RateLimit.Cooldowns[ratelimit.CooldownInvoiceSend])
	assert.Equal(t, 12*time.Hour, cfg.RateLimit.Cooldowns["statementEmail"])
	assert.Equal(t, time.Minute, cfg.RateLimit.Cooldowns[ratelimit.CooldownVerificationEmail])
}

func TestLoad_ProfileFileErrors(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{"unknown key", "profils: []\n", "failed to parse"},
		{"zero limit", "profiles:\n  - name: auth\n    limit: 0\n    window: 1m\n", "invalid rate limit profiles"},
		{"negative cooldown", "cooldowns:\n  invoiceSend: -1m\n", "cooldown invoiceSend"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			t.Setenv("GATEKEEPER_CONFIG_FILE", writeFile(t, tt.content))
			_, err := Load()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}

	t.Run("missing file", func(t *testing.T) {
		clearEnv(t)
		t.Setenv("GATEKEEPER_CONFIG_FILE", filepath.Join(t.TempDir(), "nope.yaml"))
		_, err := Load()
		assert.ErrorContains(t, err, "failed to read config file")
	})

	t.Run("empty file", func(t *testing.T) {
		clearEnv(t)
		t.Setenv("GATEKEEPER_CONFIG_FILE", writeFile(t, ""))
		_, err := Load()
		assert.NoError(t, err)
	})
}

func TestGetEnvHelpers(t *testing.T) {
	t.Setenv("TEST_GATEKEEPER_INT", "12")
	t.Setenv("TEST_GATEKEEPER_BAD_INT", "twelve")
	t.Setenv("TEST_GATEKEEPER_BOOL", "1")
	t.Setenv("TEST_GATEKEEPER_DURATION", "90s")
	t.Setenv("TEST_GATEKEEPER_FLOAT", "0.25")

	assert.Equal(t, 12, getEnvInt("TEST_GATEKEEPER_INT", 1))
	assert.Equal(t, 1, getEnvInt("TEST_GATEKEEPER_BAD_INT", 1))
	assert.Equal(t, int64(12), getEnvInt64("TEST_GATEKEEPER_INT", 0))
	assert.True(t, getEnvBool("TEST_GATEKEEPER_BOOL", false))
	assert.False(t, getEnvBool("TEST_GATEKEEPER_UNSET_BOOL", false))
	assert.Equal(t, 90*time.Second, getEnvDuration("TEST_GATEKEEPER_DURATION", 0))
	assert.Equal(t, 0.25, getEnvFloat("TEST_GATEKEEPER_FLOAT", 1))
	assert.Equal(t, "fallback", getEnv("TEST_GATEKEEPER_UNSET", "fallback"))
}
