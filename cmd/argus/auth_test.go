package main

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/arguslabs/argus/core/pkg/access"
)

func TestRequireAuth(t *testing.T) {
	sessions, err := access.NewSessions("test-secret", access.Options{})
	if err != nil {
		t.Fatalf("NewSessions: %v", err)
	}
	handler := requireAuth(sessions, access.PermAuditRead, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	t.Run("missing token", func(t *testing.T) {
		rec := httptest.NewRecorder()
		handler(rec, httptest.NewRequest(http.MethodGet, "/auditz", nil))
		if rec.Code != http.StatusUnauthorized {
			t.Errorf("status = %d, want 401", rec.Code)
		}
	})

	t.Run("valid operator token", func(t *testing.T) {
		token, err := sessions.IssueSession("op-1", access.RoleOperator, false)
		if err != nil {
			t.Fatalf("IssueSession: %v", err)
		}
		req := httptest.NewRequest(http.MethodGet, "/auditz", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		rec := httptest.NewRecorder()
		handler(rec, req)
		if rec.Code != http.StatusOK {
			t.Errorf("status = %d, want 200", rec.Code)
		}
	})

	t.Run("nil sessions refuses", func(t *testing.T) {
		open := requireAuth(nil, access.PermAuditRead, func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusOK)
		})
		rec := httptest.NewRecorder()
		open(rec, httptest.NewRequest(http.MethodGet, "/auditz", nil))
		if rec.Code != http.StatusServiceUnavailable {
			t.Errorf("status = %d, want 503", rec.Code)
		}
	})
}
