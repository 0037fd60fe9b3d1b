package errcode

// Policy errors (E80xx).
const (
	CodePolicyNotFound         = "E8001"
	CodePolicyEvaluationFailed = "E8002"
	CodePolicyInvalidCondition = "E8003"
	CodePolicyCacheError       = "E8004"
	CodePolicyContextMissing   = "E8005"
	CodePolicyDeployFailed     = "E8006"
	CodePolicyVersionConflict  = "E8007"
	CodePolicyRollbackFailed   = "E8008"
)

// Constraint errors (E81xx).
const (
	CodeConstraintViolation     = "E8101"
	CodeRateLimitExceeded       = "E8102"
	CodeQuotaExceeded           = "E8103"
	CodeResourceCapExceeded     = "E8104"
	CodeConstraintNotFound      = "E8105"
	CodeConstraintInvalid       = "E8106"
	CodeConstraintConflict      = "E8107"
	CodeTemporalViolation       = "E8108"
	CodeBusinessHoursViolation  = "E8109"
)

// Escalation errors (E82xx).
const (
	CodeEscalationFailed        = "E8201"
	CodeEscalationTimeout       = "E8202"
	CodeNoApprover              = "E8203"
	CodeEscalationNotFound      = "E8204"
	CodeAlreadyResolved         = "E8205"
	CodeInvalidState            = "E8206"
	CodeNotificationFailed      = "E8207"
	CodeMFARequired             = "E8208"
	CodeMFAFailed               = "E8209"
	CodeEscalationLevelExceeded = "E8210"
)

// Anomaly errors (E83xx).
const (
	CodeAnomalyDetectionFailed     = "E8301"
	CodeInsufficientBaselineData   = "E8302"
	CodeBaselineComputationFailed  = "E8303"
	CodeAnomalyNotFound            = "E8304"
	CodeMetricNotTracked           = "E8305"
	CodeInvalidThreshold           = "E8306"
)

// Audit errors (E84xx).
const (
	CodeAuditWriteFailed       = "E8401"
	CodeAuditSignatureInvalid  = "E8402"
	CodeAuditEntryNotFound     = "E8403"
	CodeAuditIntegrityViolated = "E8404"
	CodeAuditQueryFailed       = "E8405"
	CodeAuditVerificationFailed = "E8406"
	CodeAuditRetentionExpired  = "E8407"
)

// Access errors (E85xx).
const (
	CodeAccessDenied           = "E8501"
	CodeAccessMFARequired      = "E8502"
	CodeInsufficientPrivileges = "E8503"
	CodeSessionExpired         = "E8504"
	CodeTokenInvalid           = "E8505"
	CodePermissionNotFound     = "E8506"
	CodeRoleNotAssigned        = "E8507"
)

// Integration errors (E86xx).
const (
	CodeDataStoreUnreachable    = "E8601"
	CodeCounterStoreUnreachable = "E8602"
	CodeSignerUnreachable       = "E8603"
	CodeNotifierUnreachable     = "E8604"
	CodeConsensusTimeout        = "E8605"
	CodeBridgeNotInitialized    = "E8606"
)

// Config errors (E87xx).
const (
	CodeConfigInvalid   = "E8701"
	CodeConfigMissing   = "E8702"
	CodeConfigTypeError = "E8703"
)

// Performance errors (E88xx).
const (
	CodeEvaluationTimeout = "E8801"
	CodeCacheMiss         = "E8802"
	CodeSLAViolation      = "E8803"
)

// Internal errors (E89xx).
const (
	CodeInternal           = "E8901"
	CodeNotImplemented     = "E8902"
	CodeShutdownInProgress = "E8903"
)
