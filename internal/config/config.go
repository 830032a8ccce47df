package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds process-wide configuration read once at startup. Per-tenant
// overrides (timezone, schedule hours, retry profile) live in the tenant
// store and are read fresh on every cron tick and claim cycle.
type Config struct {
	Env      string
	LogLevel string

	DatabaseURL string
	RedisAddr   string
	RedisTLS    bool

	AWSRegion           string
	AWSEndpointOverride string

	DynamoHandoffTable string
	SQSInboundQueueURL string
	S3AuditBucket      string
	SESFromEmail       string
	SESFromName        string

	ChatGatewayBaseURL string
	ChatGatewayAPIKey  string

	CalendarBaseURL string
	CalendarAPIKey  string

	WorkerCount          int
	WorkerBatchSize      int
	WorkerPollInterval   time.Duration
	WorkerInnerBound     int
	ClaimVisibility      time.Duration
	InterMessageDelay    time.Duration
	HandoffGraceDelay    time.Duration
	RetentionSweepDays   int
	RetentionSweepEvery  time.Duration
	DefaultMaxAttempts   int
	DefaultBaseDelay     time.Duration
	DefaultCapDelay      time.Duration
	AuditDefaultDays     int
	PendingReplyTTL      time.Duration
	IdempotencyTTL       time.Duration
	OperatorNotifyEmails string

	AdminJWTSecret       string
	AdminCORSOrigins     string
	AdminRateLimitPerSec float64
	AdminRateLimitBurst  int
}

// Load reads configuration from environment variables, following the
// explicit os.Getenv/strconv idiom used throughout this codebase rather
// than a struct-tag/reflection-based loader.
func Load() *Config {
	return &Config{
		Env:      getEnv("ENV", "development"),
		LogLevel: getEnv("LOG_LEVEL", "info"),

		DatabaseURL: getEnv("DATABASE_URL", ""),
		RedisAddr:   getEnv("REDIS_ADDR", "localhost:6379"),
		RedisTLS:    getEnvAsBool("REDIS_TLS", false),

		AWSRegion:           getEnv("AWS_REGION", "us-east-1"),
		AWSEndpointOverride: getEnv("AWS_ENDPOINT_OVERRIDE", ""),

		DynamoHandoffTable: getEnv("DYNAMO_HANDOFF_TABLE", "handoff_records"),
		SQSInboundQueueURL: getEnv("SQS_INBOUND_QUEUE_URL", ""),
		S3AuditBucket:      getEnv("S3_AUDIT_BUCKET", ""),
		SESFromEmail:       getEnv("SES_FROM_EMAIL", ""),
		SESFromName:        getEnv("SES_FROM_NAME", "Scheduling Operations"),

		ChatGatewayBaseURL: getEnv("CHAT_GATEWAY_BASE_URL", ""),
		ChatGatewayAPIKey:  getEnv("CHAT_GATEWAY_API_KEY", ""),

		CalendarBaseURL: getEnv("CALENDAR_BASE_URL", ""),
		CalendarAPIKey:  getEnv("CALENDAR_API_KEY", ""),

		WorkerCount:         getEnvAsInt("WORKER_COUNT", 3),
		WorkerBatchSize:     getEnvAsInt("WORKER_BATCH_SIZE", 20),
		WorkerPollInterval:  getEnvAsDuration("WORKER_POLL_INTERVAL", 5*time.Second),
		WorkerInnerBound:    getEnvAsInt("WORKER_INNER_BOUND", 5),
		ClaimVisibility:     getEnvAsDuration("CLAIM_VISIBILITY_TIMEOUT", 10*time.Minute),
		InterMessageDelay:   getEnvAsDuration("INTER_MESSAGE_DELAY", 2*time.Second),
		HandoffGraceDelay:   getEnvAsDuration("HANDOFF_GRACE_DELAY", 5*time.Minute),
		RetentionSweepDays:  getEnvAsInt("RETENTION_SWEEP_DAYS", 30),
		RetentionSweepEvery: getEnvAsDuration("RETENTION_SWEEP_INTERVAL", 24*time.Hour),
		DefaultMaxAttempts:  getEnvAsInt("DEFAULT_MAX_ATTEMPTS", 3),
		DefaultBaseDelay:    getEnvAsDuration("DEFAULT_BASE_DELAY", time.Second),
		DefaultCapDelay:     getEnvAsDuration("DEFAULT_CAP_DELAY", 10*time.Second),
		AuditDefaultDays:    getEnvAsInt("AUDIT_DEFAULT_DAYS", 7),
		PendingReplyTTL:     getEnvAsDuration("PENDING_REPLY_TTL", 24*time.Hour),
		IdempotencyTTL:      getEnvAsDuration("IDEMPOTENCY_TTL", 30*time.Minute),

		OperatorNotifyEmails: getEnv("OPERATOR_NOTIFY_EMAILS", ""),

		AdminJWTSecret:       getEnv("ADMIN_JWT_SECRET", ""),
		AdminCORSOrigins:     getEnv("ADMIN_CORS_ORIGINS", ""),
		AdminRateLimitPerSec: getEnvAsFloat("ADMIN_RATE_LIMIT_PER_SEC", 5),
		AdminRateLimitBurst:  getEnvAsInt("ADMIN_RATE_LIMIT_BURST", 20),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseFloat(valueStr, 64); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}

// AdminAllowedOrigins splits the comma-separated ADMIN_CORS_ORIGINS setting.
func (c *Config) AdminAllowedOrigins() []string {
	raw := strings.TrimSpace(c.AdminCORSOrigins)
	if raw == "" {
		return nil
	}
	var out []string
	for _, o := range strings.Split(raw, ",") {
		o = strings.TrimSpace(o)
		if o != "" {
			out = append(out, o)
		}
	}
	return out
}

// OperatorEmails splits the comma-separated OPERATOR_NOTIFY_EMAILS setting.
func (c *Config) OperatorEmails() []string {
	raw := strings.TrimSpace(c.OperatorNotifyEmails)
	if raw == "" {
		return nil
	}
	var out []string
	for _, e := range strings.Split(raw, ",") {
		e = strings.TrimSpace(e)
		if e != "" {
			out = append(out, e)
		}
	}
	return out
}
