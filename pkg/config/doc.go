// Package config loads and validates gatekeeper configuration.
//
// # Overview
//
// Settings come from environment variables with sensible defaults. The rate-limit
// profile registry and cooldown table can be overlaid from a YAML file.
//
// # Configuration Structure
//
// Server settings:
//
//	GATEKEEPER_HOST="0.0.0.0"
//	GATEKEEPER_PORT="8080"
//	GATEKEEPER_SHUTDOWN_TIMEOUT="30s"
//	GATEKEEPER_TRUST_PROXY="false"
//
// Stores:
//
//	GATEKEEPER_POSTGRES_URL="postgres://localhost/invoicely?sslmode=disable"
//	GATEKEEPER_REDIS_URL="redis://localhost:6379/0"
//	GATEKEEPER_RATELIMIT_BACKEND="memory"  # memory, redis
//	GATEKEEPER_SWEEP_SCHEDULE="@every 5m"
//
// Audit:
//
//	GATEKEEPER_AUDIT_SINK="postgres"  # postgres, file, log
//	GATEKEEPER_AUDIT_FILE_DIR="/var/log/gatekeeper/audit"
//	GATEKEEPER_AUDIT_WORKERS="4"
//
// Scheduler:
//
//	CRON_SECRET="..."  # cron routes reject every call while unset
//
// Observability settings:
//
//	GATEKEEPER_LOG_LEVEL="info"  # debug, info, warn, error
//	GATEKEEPER_OTEL_ENABLED="true"
//	GATEKEEPER_OTEL_ENDPOINT="otel-collector:4317"
//
// Profile overlay (GATEKEEPER_CONFIG_FILE):
//
//	profiles:
//	  - name: auth
//	    limit: 10
//	    window: 15m
//	cooldowns:
//	  invoiceSend: 10m
//
// # Usage Example
//
//	cfg, err := config.Load()
//	if err != nil {
//		log.Fatal(err)
//	}
//	registry, _ := ratelimit.NewRegistry(cfg.RateLimit.Profiles)
package config
