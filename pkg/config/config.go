// Package config loads supervision runtime configuration from environment
// variables and YAML seed files.
package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/arguslabs/argus/core/pkg/errcode"
)

// Config holds the full runtime configuration. Zero values never appear:
// Load fills every field from the environment or its documented default.
type Config struct {
	// Policy engine
	PolicyCacheTTLSeconds      int
	PolicyCacheMaxSize         int
	PolicyEvaluationTimeoutMs  int
	DenyWinsRule               bool
	MaxPolicyVersionHistory    int

	// Constraints
	RateLimitWindowSeconds int
	AllowOnConsensusFail   bool
	RedisScriptTimeoutMs   int

	// Anomaly detection
	BaselineSampleSize int
	MinBaselineSamples int
	ZScoreThreshold    float64
	IQRMultiplier      float64
	RollingWindowDays  int

	// Escalation
	EscalationTimeoutSeconds    int
	EscalationRetryCount        int
	EscalationRetryDelaySeconds int
	MaxEscalationLevel          int
	RequireMFAForApproval       bool

	// Audit
	AuditSigningEnabled bool
	AuditRetentionDays  int
	AuditSigningKeyID   string

	// Access control
	RequireMFAForAdmin    bool
	SessionTimeoutMinutes int
	SessionSigningSecret  string

	// Integration endpoints
	DatabaseURL        string
	SQLitePath         string
	RedisURL           string
	SigningKeyFile     string
	MasterSecret       string
	NotifierWebhookURL string
	NotifierHMACSecret string

	// Audit archiver
	ArchiveBackend  string // "s3", "gcs", "file", or "" (disabled)
	ArchiveBucket   string
	ArchiveRegion   string
	ArchiveEndpoint string
	ArchivePrefix   string
	ArchiveDir      string

	// Seeds
	PolicySeedDir string

	// Observability / ops
	OTLPEndpoint string
	LogLevel     string
	Port         string
}

// Load reads configuration from environment variables, applying defaults.
// Unparsable numeric or boolean values are E8703 errors.
func Load() (*Config, error) {
	var errs []error

	cfg := &Config{
		PolicyCacheTTLSeconds:     envInt("POLICY_CACHE_TTL_SECONDS", 300, &errs),
		PolicyCacheMaxSize:        envInt("POLICY_CACHE_MAX_SIZE", 1000, &errs),
		PolicyEvaluationTimeoutMs: envInt("POLICY_EVALUATION_TIMEOUT_MS", 100, &errs),
		DenyWinsRule:              envBool("DENY_WINS_RULE", true, &errs),
		MaxPolicyVersionHistory:   envInt("MAX_POLICY_VERSION_HISTORY", 10, &errs),

		RateLimitWindowSeconds: envInt("RATE_LIMIT_WINDOW_SECONDS", 60, &errs),
		AllowOnConsensusFail:   envBool("ALLOW_ON_CONSENSUS_FAIL", false, &errs),
		RedisScriptTimeoutMs:   envInt("REDIS_SCRIPT_TIMEOUT_MS", 50, &errs),

		BaselineSampleSize: envInt("BASELINE_SAMPLE_SIZE", 1000, &errs),
		MinBaselineSamples: envInt("MIN_BASELINE_SAMPLES", 30, &errs),
		ZScoreThreshold:    envFloat("Z_SCORE_THRESHOLD", 3.0, &errs),
		IQRMultiplier:      envFloat("IQR_MULTIPLIER", 1.5, &errs),
		RollingWindowDays:  envInt("ROLLING_WINDOW_DAYS", 30, &errs),

		EscalationTimeoutSeconds:    envInt("ESCALATION_TIMEOUT_SECONDS", 300, &errs),
		EscalationRetryCount:        envInt("ESCALATION_RETRY_COUNT", 3, &errs),
		EscalationRetryDelaySeconds: envInt("ESCALATION_RETRY_DELAY_SECONDS", 2, &errs),
		MaxEscalationLevel:          envInt("MAX_ESCALATION_LEVEL", 3, &errs),
		RequireMFAForApproval:       envBool("REQUIRE_MFA_FOR_APPROVAL", true, &errs),

		AuditSigningEnabled: envBool("AUDIT_SIGNING_ENABLED", true, &errs),
		AuditRetentionDays:  envInt("AUDIT_RETENTION_DAYS", 365, &errs),
		AuditSigningKeyID:   envStr("AUDIT_SIGNING_KEY_ID", "audit_signer_v1"),

		RequireMFAForAdmin:    envBool("REQUIRE_MFA_FOR_ADMIN", true, &errs),
		SessionTimeoutMinutes: envInt("SESSION_TIMEOUT_MINUTES", 60, &errs),
		SessionSigningSecret:  envStr("SESSION_SIGNING_SECRET", ""),

		DatabaseURL:        envStr("DATABASE_URL", ""),
		SQLitePath:         envStr("SQLITE_PATH", "argus.db"),
		RedisURL:           envStr("REDIS_URL", ""),
		SigningKeyFile:     envStr("SIGNING_KEY_FILE", ""),
		MasterSecret:       envStr("MASTER_SECRET", ""),
		NotifierWebhookURL: envStr("NOTIFIER_WEBHOOK_URL", ""),
		NotifierHMACSecret: envStr("NOTIFIER_HMAC_SECRET", ""),

		ArchiveBackend:  envStr("ARCHIVE_BACKEND", ""),
		ArchiveBucket:   envStr("ARCHIVE_BUCKET", ""),
		ArchiveRegion:   envStr("ARCHIVE_REGION", ""),
		ArchiveEndpoint: envStr("ARCHIVE_ENDPOINT", ""),
		ArchivePrefix:   envStr("ARCHIVE_PREFIX", ""),
		ArchiveDir:      envStr("ARCHIVE_DIR", ""),

		PolicySeedDir: envStr("POLICY_SEED_DIR", ""),

		OTLPEndpoint: envStr("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
		LogLevel:     envStr("LOG_LEVEL", "INFO"),
		Port:         envStr("PORT", "8080"),
	}

	if len(errs) > 0 {
		return nil, errcode.Wrap(errcode.CodeConfigTypeError, "environment parse failed", errs[0])
	}
	return cfg, nil
}

// Validate checks ranges and cross-field requirements.
func (c *Config) Validate() error {
	switch {
	case c.PolicyCacheTTLSeconds <= 0:
		return errcode.New(errcode.CodeConfigInvalid, "POLICY_CACHE_TTL_SECONDS must be positive")
	case c.PolicyCacheMaxSize <= 0:
		return errcode.New(errcode.CodeConfigInvalid, "POLICY_CACHE_MAX_SIZE must be positive")
	case c.PolicyEvaluationTimeoutMs <= 0:
		return errcode.New(errcode.CodeConfigInvalid, "POLICY_EVALUATION_TIMEOUT_MS must be positive")
	case c.RateLimitWindowSeconds <= 0:
		return errcode.New(errcode.CodeConfigInvalid, "RATE_LIMIT_WINDOW_SECONDS must be positive")
	case c.BaselineSampleSize <= 0:
		return errcode.New(errcode.CodeConfigInvalid, "BASELINE_SAMPLE_SIZE must be positive")
	case c.MinBaselineSamples < 2:
		return errcode.New(errcode.CodeConfigInvalid, "MIN_BASELINE_SAMPLES must be at least 2")
	case c.MinBaselineSamples > c.BaselineSampleSize:
		return errcode.New(errcode.CodeConfigInvalid, "MIN_BASELINE_SAMPLES exceeds BASELINE_SAMPLE_SIZE")
	case c.ZScoreThreshold <= 0:
		return errcode.New(errcode.CodeInvalidThreshold, "Z_SCORE_THRESHOLD must be positive")
	case c.IQRMultiplier <= 0:
		return errcode.New(errcode.CodeInvalidThreshold, "IQR_MULTIPLIER must be positive")
	case c.EscalationTimeoutSeconds <= 0:
		return errcode.New(errcode.CodeConfigInvalid, "ESCALATION_TIMEOUT_SECONDS must be positive")
	case c.EscalationRetryCount < 0:
		return errcode.New(errcode.CodeConfigInvalid, "ESCALATION_RETRY_COUNT must not be negative")
	case c.MaxEscalationLevel < 1:
		return errcode.New(errcode.CodeConfigInvalid, "MAX_ESCALATION_LEVEL must be at least 1")
	case c.SessionTimeoutMinutes <= 0:
		return errcode.New(errcode.CodeConfigInvalid, "SESSION_TIMEOUT_MINUTES must be positive")
	case c.AuditRetentionDays <= 0:
		return errcode.New(errcode.CodeConfigInvalid, "AUDIT_RETENTION_DAYS must be positive")
	}

	switch c.ArchiveBackend {
	case "", "file":
	case "s3", "gcs":
		if c.ArchiveBucket == "" {
			return errcode.New(errcode.CodeConfigMissing, "ARCHIVE_BUCKET required for "+c.ArchiveBackend+" backend")
		}
	default:
		return errcode.Newf(errcode.CodeConfigInvalid, "unknown ARCHIVE_BACKEND %q", c.ArchiveBackend)
	}

	if c.NotifierWebhookURL != "" && c.NotifierHMACSecret == "" {
		return errcode.New(errcode.CodeConfigMissing, "NOTIFIER_HMAC_SECRET required when NOTIFIER_WEBHOOK_URL is set")
	}
	return nil
}

func envStr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int, errs *[]error) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s=%q: %w", key, v, err))
		return def
	}
	return n
}

func envFloat(key string, def float64, errs *[]error) float64 {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s=%q: %w", key, v, err))
		return def
	}
	return f
}

func envBool(key string, def bool, errs *[]error) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s=%q: %w", key, v, err))
		return def
	}
	return b
}
