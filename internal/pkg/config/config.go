// Package config provides service configuration through environment variables.
package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/allisson/go-env"
	"github.com/joho/godotenv"
)

// Config holds everything the four services read from the environment.
// Each service uses the subset it needs; unused fields cost nothing.
type Config struct {
	// ServiceName identifies the service in logs, traces, and consumer groups.
	ServiceName string

	// HTTPPort is the port the order service API listens on.
	HTTPPort int

	// LogLevel is the slog level ("debug", "info", "warn", "error").
	LogLevel string

	// RedisAddr is the address of the redis instance backing the event log,
	// the document store, and the idempotency store.
	RedisAddr string

	// Partitions is the number of stream partitions per topic. All services
	// must agree on this value; changing it reshuffles partition assignment.
	Partitions int

	// AuditLogPath is the sqlite file for the transition audit log.
	AuditLogPath string

	// IdempotencyTTL is the retention window for completed idempotency
	// records. It must exceed the maximum plausible redelivery delay:
	// duplicates arriving after this window are processed as new events.
	IdempotencyTTL time.Duration
	// IdempotencyClaimTTL bounds how long an in-progress claim survives a
	// crashed consumer before redelivery may reprocess the event.
	IdempotencyClaimTTL time.Duration

	// RetryMaxAttempts, RetryBaseDelay and RetryMaxDelay shape the backoff
	// schedule for transient failures (downstream calls and the consumer's
	// in-place retry of deferred transitions).
	RetryMaxAttempts int
	RetryBaseDelay   time.Duration
	RetryMaxDelay    time.Duration

	// BreakerFailureThreshold is the number of failures inside the rolling
	// window that opens the circuit.
	BreakerFailureThreshold int
	// BreakerWindow is the rolling window over which failures are counted.
	BreakerWindow time.Duration
	// BreakerCooldown is how long the breaker stays open before probing.
	BreakerCooldown time.Duration
	// BreakerProbes is the half-open probe budget.
	BreakerProbes int

	// PaymentAuthLimit is the stub authorizer's decline threshold.
	PaymentAuthLimit float64
}

// Load loads configuration from environment variables and an optional .env file.
func Load(serviceName string) *Config {
	loadDotEnv()

	return &Config{
		ServiceName: env.GetString("SERVICE_NAME", serviceName),

		HTTPPort: env.GetInt("HTTP_PORT", 8080),
		LogLevel: env.GetString("LOG_LEVEL", "info"),

		RedisAddr:  env.GetString("REDIS_ADDR", "localhost:6379"),
		Partitions: env.GetInt("LOG_PARTITIONS", 8),

		AuditLogPath: env.GetString("AUDIT_LOG_PATH", "./data/"+serviceName+".db"),

		IdempotencyTTL:      env.GetDuration("IDEMPOTENCY_TTL_HOURS", 48, time.Hour),
		IdempotencyClaimTTL: env.GetDuration("IDEMPOTENCY_CLAIM_TTL_SECONDS", 120, time.Second),

		RetryMaxAttempts: env.GetInt("RETRY_MAX_ATTEMPTS", 5),
		RetryBaseDelay:   env.GetDuration("RETRY_BASE_DELAY_MS", 100, time.Millisecond),
		RetryMaxDelay:    env.GetDuration("RETRY_MAX_DELAY_MS", 5000, time.Millisecond),

		BreakerFailureThreshold: env.GetInt("BREAKER_FAILURE_THRESHOLD", 5),
		BreakerWindow:           env.GetDuration("BREAKER_WINDOW_SECONDS", 60, time.Second),
		BreakerCooldown:         env.GetDuration("BREAKER_COOLDOWN_SECONDS", 30, time.Second),
		BreakerProbes:           env.GetInt("BREAKER_PROBES", 1),

		PaymentAuthLimit: env.GetFloat64("PAYMENT_AUTH_LIMIT", 500.00),
	}
}

// loadDotEnv walks up from the working directory looking for a .env file so
// the services can be started from any subdirectory during development.
func loadDotEnv() {
	dir, err := os.Getwd()
	if err != nil {
		return
	}

	for {
		envFile := filepath.Join(dir, ".env")
		if _, err := os.Stat(envFile); err == nil {
			_ = godotenv.Load(envFile)
			return
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return
		}
		dir = parent
	}
}
