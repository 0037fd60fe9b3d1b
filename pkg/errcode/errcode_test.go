package errcode

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestCodeOfUnwrapsChains(t *testing.T) {
	base := New(CodeRateLimitExceeded, "rate limit exceeded")
	wrapped := fmt.Errorf("check constraint c1: %w", base)
	doubly := fmt.Errorf("evaluate: %w", wrapped)

	if got := CodeOf(doubly); got != CodeRateLimitExceeded {
		t.Fatalf("CodeOf = %q, want %q", got, CodeRateLimitExceeded)
	}
	if !Is(doubly, CodeRateLimitExceeded) {
		t.Fatal("Is should match through wrap chain")
	}
	if Is(doubly, CodeQuotaExceeded) {
		t.Fatal("Is matched the wrong code")
	}
}

func TestWrapKeepsCause(t *testing.T) {
	cause := errors.New("connection refused")
	err := Wrap(CodeCounterStoreUnreachable, "counter store down", cause)

	if !errors.Is(err, cause) {
		t.Fatal("cause not reachable through Unwrap")
	}
	if CodeOf(err) != CodeCounterStoreUnreachable {
		t.Fatalf("CodeOf = %q", CodeOf(err))
	}
}

func TestCodeOfPlainError(t *testing.T) {
	if got := CodeOf(errors.New("plain")); got != "" {
		t.Fatalf("CodeOf(plain) = %q, want empty", got)
	}
}

func TestWithDetail(t *testing.T) {
	err := New(CodeQuotaExceeded, "quota exceeded").
		WithDetail("limit", 100).
		WithDetail("usage", 140)

	if err.Details["limit"] != 100 || err.Details["usage"] != 140 {
		t.Fatalf("details = %v", err.Details)
	}
}

func TestHTTPStatus(t *testing.T) {
	cases := []struct {
		code string
		want int
	}{
		{CodePolicyNotFound, http.StatusNotFound},
		{CodePolicyVersionConflict, http.StatusConflict},
		{CodePolicyInvalidCondition, http.StatusBadRequest},
		{CodeRateLimitExceeded, http.StatusTooManyRequests},
		{CodeQuotaExceeded, http.StatusTooManyRequests},
		{CodeTemporalViolation, http.StatusBadRequest},
		{CodeEscalationNotFound, http.StatusNotFound},
		{CodeInvalidState, http.StatusBadRequest},
		{CodeInsufficientBaselineData, http.StatusUnprocessableEntity},
		{CodeAuditEntryNotFound, http.StatusNotFound},
		{CodeAuditIntegrityViolated, http.StatusConflict},
		{CodeAccessDenied, http.StatusForbidden},
		{CodeAccessMFARequired, http.StatusUnauthorized},
		{CodeSessionExpired, http.StatusUnauthorized},
		{CodeDataStoreUnreachable, http.StatusServiceUnavailable},
		{CodeNotifierUnreachable, http.StatusServiceUnavailable},
		{CodeEvaluationTimeout, http.StatusGatewayTimeout},
		{CodeConfigInvalid, http.StatusInternalServerError},
		{CodeInternal, http.StatusInternalServerError},
		{"E9999", http.StatusInternalServerError},
	}
	for _, tc := range cases {
		if got := HTTPStatus(tc.code); got != tc.want {
			t.Errorf("HTTPStatus(%s) = %d, want %d", tc.code, got, tc.want)
		}
	}
}
