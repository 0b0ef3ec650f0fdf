package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Config holds all application configuration.
// Values are loaded from environment variables with sensible defaults.
type Config struct {
	// Server
	Port     int
	LogLevel string

	// Database
	DBDriver      string // postgres | sqlite
	DatabaseURL   string
	RunMigrations bool

	// Broker
	AMQPURL      string // empty: outbox events are logged instead of published
	AMQPExchange string

	// Invoices
	PaymentTolerance decimal.Decimal

	// Resilience
	StorageConflictRetries int
	InitialBackoff         time.Duration
	MaxConcurrency         int

	// Cache
	TenantCacheTTL time.Duration

	// Workers
	Tenants            []string // empty: discovered from the store
	GenerationInterval time.Duration
	SweepInterval      time.Duration
	RelayInterval      time.Duration
	RelayBatchSize     int
	AuditInterval      time.Duration

	// Observability
	OTLPEndpoint   string
	TracingEnabled bool
}

// Load reads configuration from environment variables with defaults.
func Load() *Config {
	return &Config{
		Port:     getEnvInt("PORT", 8080),
		LogLevel: getEnv("LOG_LEVEL", "info"),

		DBDriver:      getEnv("DB_DRIVER", "sqlite"),
		DatabaseURL:   getEnv("DATABASE_URL", "faturas.db"),
		RunMigrations: getEnvBool("RUN_MIGRATIONS", true),

		AMQPURL:      getEnv("AMQP_URL", ""),
		AMQPExchange: getEnv("AMQP_EXCHANGE", "faturas.events"),

		PaymentTolerance: getEnvDecimal("PAYMENT_TOLERANCE", decimal.Zero),

		StorageConflictRetries: getEnvInt("STORAGE_CONFLICT_RETRIES", 3),
		InitialBackoff:         getEnvDuration("INITIAL_BACKOFF", 50*time.Millisecond),
		MaxConcurrency:         getEnvInt("MAX_CONCURRENCY", 4),

		TenantCacheTTL: getEnvDuration("TENANT_CACHE_TTL", 5*time.Minute),

		Tenants:            getEnvList("TENANTS"),
		GenerationInterval: getEnvDuration("GENERATION_INTERVAL", time.Hour),
		SweepInterval:      getEnvDuration("SWEEP_INTERVAL", time.Hour),
		RelayInterval:      getEnvDuration("RELAY_INTERVAL", 5*time.Second),
		RelayBatchSize:     getEnvInt("RELAY_BATCH_SIZE", 100),
		AuditInterval:      getEnvDuration("AUDIT_INTERVAL", 6*time.Hour),

		OTLPEndpoint:   getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
		TracingEnabled: getEnvBool("TRACING_ENABLED", false),
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func getEnvDecimal(key string, fallback decimal.Decimal) decimal.Decimal {
	if v := os.Getenv(key); v != "" {
		if d, err := decimal.NewFromString(v); err == nil && !d.IsNegative() {
			return d
		}
	}
	return fallback
}

// getEnvList splits a comma-separated variable, dropping blanks.
func getEnvList(key string) []string {
	var out []string
	for _, part := range strings.Split(os.Getenv(key), ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
