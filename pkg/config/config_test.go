package config_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arguslabs/argus/core/pkg/config"
	"github.com/arguslabs/argus/core/pkg/errcode"
)

// clearEnv blanks every variable a test might inherit from the host.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"POLICY_CACHE_TTL_SECONDS", "POLICY_CACHE_MAX_SIZE",
		"POLICY_EVALUATION_TIMEOUT_MS", "DENY_WINS_RULE",
		"RATE_LIMIT_WINDOW_SECONDS", "ALLOW_ON_CONSENSUS_FAIL",
		"BASELINE_SAMPLE_SIZE", "MIN_BASELINE_SAMPLES",
		"Z_SCORE_THRESHOLD", "IQR_MULTIPLIER",
		"ESCALATION_TIMEOUT_SECONDS", "MAX_ESCALATION_LEVEL",
		"REQUIRE_MFA_FOR_APPROVAL", "AUDIT_SIGNING_ENABLED",
		"AUDIT_RETENTION_DAYS", "AUDIT_SIGNING_KEY_ID",
		"SESSION_TIMEOUT_MINUTES", "DATABASE_URL", "REDIS_URL",
		"ARCHIVE_BACKEND", "ARCHIVE_BUCKET", "NOTIFIER_WEBHOOK_URL",
		"NOTIFIER_HMAC_SECRET", "LOG_LEVEL", "PORT",
	} {
		t.Setenv(key, "")
	}
}

// Load must boot with safe defaults when nothing is configured.
func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)

	cfg, err := config.Load()
	require.NoError(t, err)

	assert.Equal(t, 300, cfg.PolicyCacheTTLSeconds)
	assert.Equal(t, 1000, cfg.PolicyCacheMaxSize)
	assert.Equal(t, 100, cfg.PolicyEvaluationTimeoutMs)
	assert.True(t, cfg.DenyWinsRule)
	assert.Equal(t, 10, cfg.MaxPolicyVersionHistory)
	assert.Equal(t, 60, cfg.RateLimitWindowSeconds)
	assert.False(t, cfg.AllowOnConsensusFail)
	assert.Equal(t, 50, cfg.RedisScriptTimeoutMs)
	assert.Equal(t, 1000, cfg.BaselineSampleSize)
	assert.Equal(t, 30, cfg.MinBaselineSamples)
	assert.Equal(t, 3.0, cfg.ZScoreThreshold)
	assert.Equal(t, 1.5, cfg.IQRMultiplier)
	assert.Equal(t, 30, cfg.RollingWindowDays)
	assert.Equal(t, 300, cfg.EscalationTimeoutSeconds)
	assert.Equal(t, 3, cfg.EscalationRetryCount)
	assert.Equal(t, 2, cfg.EscalationRetryDelaySeconds)
	assert.Equal(t, 3, cfg.MaxEscalationLevel)
	assert.True(t, cfg.RequireMFAForApproval)
	assert.True(t, cfg.AuditSigningEnabled)
	assert.Equal(t, 365, cfg.AuditRetentionDays)
	assert.Equal(t, "audit_signer_v1", cfg.AuditSigningKeyID)
	assert.True(t, cfg.RequireMFAForAdmin)
	assert.Equal(t, 60, cfg.SessionTimeoutMinutes)
	assert.Equal(t, "INFO", cfg.LogLevel)
	assert.Equal(t, "8080", cfg.Port)

	assert.NoError(t, cfg.Validate())
}

// Ops must be able to control every knob via standard 12-factor env vars.
func TestLoad_Overrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("ESCALATION_TIMEOUT_SECONDS", "5")
	t.Setenv("MAX_ESCALATION_LEVEL", "2")
	t.Setenv("REQUIRE_MFA_FOR_APPROVAL", "false")
	t.Setenv("Z_SCORE_THRESHOLD", "2.5")
	t.Setenv("DATABASE_URL", "postgres://argus@localhost:5432/argus")

	cfg, err := config.Load()
	require.NoError(t, err)

	assert.Equal(t, 5, cfg.EscalationTimeoutSeconds)
	assert.Equal(t, 2, cfg.MaxEscalationLevel)
	assert.False(t, cfg.RequireMFAForApproval)
	assert.Equal(t, 2.5, cfg.ZScoreThreshold)
	assert.Equal(t, "postgres://argus@localhost:5432/argus", cfg.DatabaseURL)
}

func TestLoad_TypeError(t *testing.T) {
	clearEnv(t)
	t.Setenv("POLICY_CACHE_TTL_SECONDS", "many")

	_, err := config.Load()
	require.Error(t, err)
	assert.Equal(t, errcode.CodeConfigTypeError, errcode.CodeOf(err))
}

func TestValidate_Ranges(t *testing.T) {
	clearEnv(t)

	cfg, err := config.Load()
	require.NoError(t, err)
	cfg.MinBaselineSamples = cfg.BaselineSampleSize + 1
	assert.Equal(t, errcode.CodeConfigInvalid, errcode.CodeOf(cfg.Validate()))

	cfg, _ = config.Load()
	cfg.ZScoreThreshold = -1
	assert.Equal(t, errcode.CodeInvalidThreshold, errcode.CodeOf(cfg.Validate()))

	cfg, _ = config.Load()
	cfg.ArchiveBackend = "s3"
	assert.Equal(t, errcode.CodeConfigMissing, errcode.CodeOf(cfg.Validate()))

	cfg, _ = config.Load()
	cfg.ArchiveBackend = "tape"
	assert.Equal(t, errcode.CodeConfigInvalid, errcode.CodeOf(cfg.Validate()))

	cfg, _ = config.Load()
	cfg.NotifierWebhookURL = "https://hooks.example.com/argus"
	assert.Equal(t, errcode.CodeConfigMissing, errcode.CodeOf(cfg.Validate()))
}
