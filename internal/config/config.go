package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration.
type Config struct {
	AppName     string
	AppVersion  string
	Environment string
	HTTPAddr    string

	DBType            string
	DBHost            string
	DBPort            string
	DBName            string
	DBUser            string
	DBPassword        string
	DBSSLMode         string
	DBPath            string
	DBMaxIdleConn     int
	DBMaxOpenConn     int
	DBConnMaxLifetime int
	DBConnMaxIdleTime int

	Observability ObservabilityConfig
	Redis         RedisConfig
	ACP           ACPConfig
	Webhook   WebhookConfig
	Retention RetentionConfig
	RateLimit RateLimitConfig
	Scheduler SchedulerConfig
}

// ObservabilityConfig selects log output and the OTLP exporter shared by
// traces and metrics. The standard OTEL_* variables take precedence over the
// service-specific ones.
type ObservabilityConfig struct {
	LogLevel       string
	LogFormat      string
	OtelEnabled    bool
	OTLPEndpoint   string
	OTLPProtocol   string
	SamplingRatio  float64
	DeploymentEnv  string
	ServiceVersion string
}

type RedisConfig struct {
	Enabled  bool
	Addr     string
	Password string
	DB       int
}

// ACPConfig configures the inbound request pipeline.
type ACPConfig struct {
	APIKey             string
	MerchantAPIKey     string
	SigningSecret      string
	SignatureRequired  bool
	TimestampTolerance time.Duration
	IdempotencyTTL     time.Duration
	ResultTTL          time.Duration
	PolicyPath         string
}

// WebhookConfig configures outbound order-status notifications.
type WebhookConfig struct {
	Enabled     bool
	URL         string
	Secret      string
	Timeout     time.Duration
	MaxAttempts int
	RetryBatch  int
	BackoffBase time.Duration
	BackoffMax  time.Duration
}

type RetentionConfig struct {
	SessionDays int
	WebhookDays int
	LogDays     int
}

type RateLimitConfig struct {
	Enabled        bool
	AgentRate      float64
	AgentBurst     int
	SessionLockTTL time.Duration
}

type SchedulerConfig struct {
	Enabled       bool
	RunInterval   time.Duration
	RetryInterval time.Duration
	CleanupEvery  time.Duration
	SweepInterval time.Duration
	EnabledJobs   []string
}

// Load loads configuration from environment variables and .env file.
func Load() Config {
	_ = godotenv.Load()

	webhookSecret := strings.TrimSpace(getenv("ACP_WEBHOOK_SECRET", ""))

	cfg := Config{
		AppName:      getenv("APP_SERVICE", "acpgateway"),
		AppVersion:   getenv("APP_VERSION", "0.1.0"),
		Environment:  getenv("ENVIRONMENT", "development"),
		HTTPAddr:     getenv("HTTP_ADDR", ":8080"),

		DBType:            getenv("DATABASE_TYPE", "postgres"),
		DBHost:            getenv("DATABASE_HOST", "localhost"),
		DBPort:            getenv("DATABASE_PORT", "5432"),
		DBName:            getenv("DATABASE_NAME", "acp"),
		DBUser:            getenv("DATABASE_USER", "postgres"),
		DBPassword:        getenv("DATABASE_PASSWORD", ""),
		DBSSLMode:         getenv("DATABASE_SSLMODE", "disable"),
		DBPath:            getenv("DATABASE_PATH", "acp.db"),
		DBMaxIdleConn:     getenvInt("DATABASE_MAX_IDLE_CONN", 10),
		DBMaxOpenConn:     getenvInt("DATABASE_MAX_OPEN_CONN", 50),
		DBConnMaxLifetime: getenvInt("DATABASE_CONN_MAX_LIFETIME", 300),
		DBConnMaxIdleTime: getenvInt("DATABASE_CONN_MAX_IDLE_TIME", 60),

		Observability: ObservabilityConfig{
			LogLevel:       strings.ToLower(strings.TrimSpace(getenv("LOG_LEVEL", "info"))),
			LogFormat:      strings.ToLower(strings.TrimSpace(getenv("LOG_FORMAT", "json"))),
			OtelEnabled:    getenvBool("OTEL_ENABLED", true),
			OTLPEndpoint:   strings.TrimSpace(firstEnv("localhost:4317", "OTEL_EXPORTER_OTLP_ENDPOINT", "OTLP_ENDPOINT")),
			OTLPProtocol:   strings.ToLower(strings.TrimSpace(firstEnv("grpc", "OTEL_EXPORTER_OTLP_TRACES_PROTOCOL", "OTEL_EXPORTER_OTLP_PROTOCOL"))),
			SamplingRatio:  getenvFloat("OTEL_SAMPLING_RATIO", 0.1),
			DeploymentEnv:  strings.TrimSpace(os.Getenv("DEPLOYMENT_ENV")),
			ServiceVersion: strings.TrimSpace(os.Getenv("SERVICE_VERSION")),
		},
		Redis: RedisConfig{
			Enabled:  getenvBool("REDIS_ENABLED", false),
			Addr:     getenv("REDIS_ADDR", "localhost:6379"),
			Password: strings.TrimSpace(getenv("REDIS_PASSWORD", "")),
			DB:       getenvInt("REDIS_DB", 0),
		},
		ACP: ACPConfig{
			APIKey:             strings.TrimSpace(getenv("ACP_API_KEY", "")),
			MerchantAPIKey:     strings.TrimSpace(getenv("ACP_MERCHANT_API_KEY", "")),
			SigningSecret:      strings.TrimSpace(getenv("ACP_SIGNING_SECRET", webhookSecret)),
			SignatureRequired:  getenvBool("ACP_SIGNATURE_REQUIRED", false),
			TimestampTolerance: time.Duration(getenvInt64("ACP_TIMESTAMP_TOLERANCE", 300)) * time.Second,
			IdempotencyTTL:     getenvDuration("ACP_IDEMPOTENCY_TTL", 24*time.Hour),
			ResultTTL:          getenvDuration("ACP_IDEMPOTENCY_RESULT_TTL", time.Hour),
			PolicyPath:         getenv("ACP_POLICY_PATH", ""),
		},
		Webhook: WebhookConfig{
			Enabled:     getenvBool("ACP_WEBHOOKS_ENABLED", true),
			URL:         strings.TrimSpace(getenv("ACP_WEBHOOK_URL", "")),
			Secret:      webhookSecret,
			Timeout:     getenvDuration("ACP_WEBHOOK_TIMEOUT", 30*time.Second),
			MaxAttempts: getenvInt("ACP_WEBHOOK_MAX_ATTEMPTS", 3),
			RetryBatch:  getenvInt("ACP_WEBHOOK_RETRY_BATCH", 10),
			BackoffBase: getenvDuration("ACP_WEBHOOK_BACKOFF_BASE", time.Minute),
			BackoffMax:  getenvDuration("ACP_WEBHOOK_BACKOFF_MAX", time.Hour),
		},
		Retention: RetentionConfig{
			SessionDays: getenvInt("ACP_SESSION_RETENTION_DAYS", 30),
			WebhookDays: getenvInt("ACP_WEBHOOK_RETENTION_DAYS", 30),
			LogDays:     getenvInt("ACP_LOG_RETENTION_DAYS", 30),
		},
		RateLimit: RateLimitConfig{
			Enabled:        getenvBool("ACP_RATE_LIMIT_ENABLED", false),
			AgentRate:      getenvFloat("ACP_RATE_LIMIT_RATE", 10),
			AgentBurst:     getenvInt("ACP_RATE_LIMIT_BURST", 20),
			SessionLockTTL: getenvDuration("ACP_SESSION_LOCK_TTL", 45*time.Second),
		},
		Scheduler: SchedulerConfig{
			Enabled:       getenvBool("SCHEDULER_ENABLED", true),
			RunInterval:   getenvDuration("SCHEDULER_RUN_INTERVAL", time.Minute),
			RetryInterval: getenvDuration("SCHEDULER_RETRY_INTERVAL", 15*time.Minute),
			CleanupEvery:  getenvDuration("SCHEDULER_CLEANUP_INTERVAL", 24*time.Hour),
			SweepInterval: getenvDuration("SCHEDULER_SWEEP_INTERVAL", 5*time.Minute),
			EnabledJobs:   parseList(getenv("SCHEDULER_JOBS", "")),
		},
	}

	return cfg
}

func (c Config) IsProduction() bool {
	return strings.EqualFold(strings.TrimSpace(c.Environment), "production")
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// firstEnv returns the first non-empty variable among keys.
func firstEnv(def string, keys ...string) string {
	for _, key := range keys {
		if v := strings.TrimSpace(os.Getenv(key)); v != "" {
			return v
		}
	}
	return def
}

func getenvBool(key string, def bool) bool {
	value := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	if value == "" {
		return def
	}
	switch value {
	case "1", "true", "yes", "y", "on":
		return true
	case "0", "false", "no", "n", "off":
		return false
	default:
		return def
	}
}

func getenvInt(key string, def int) int {
	return int(getenvInt64(key, int64(def)))
}

func getenvInt64(key string, def int64) int64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return def
	}
	return parsed
}

func getenvFloat(key string, def float64) float64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return def
	}
	return parsed
}

// getenvDuration accepts Go duration strings ("15m") or plain seconds ("900").
func getenvDuration(key string, def time.Duration) time.Duration {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	if parsed, err := time.ParseDuration(value); err == nil {
		return parsed
	}
	if seconds, err := strconv.ParseInt(value, 10, 64); err == nil {
		return time.Duration(seconds) * time.Second
	}
	return def
}

func parseList(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		out = append(out, p)
	}
	return out
}
