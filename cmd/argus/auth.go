package main

import (
	"net/http"
	"strings"
	"time"

	"github.com/arguslabs/argus/core/pkg/access"
	"github.com/arguslabs/argus/core/pkg/config"
	"github.com/arguslabs/argus/core/pkg/errcode"
)

// sessionsFromConfig builds the admin session manager, or nil when no
// session secret is configured (the protected endpoints then refuse all
// requests rather than running open).
func sessionsFromConfig(cfg *config.Config) (*access.Sessions, error) {
	if cfg.SessionSigningSecret == "" {
		return nil, nil
	}
	return access.NewSessions(cfg.SessionSigningSecret, access.Options{
		Timeout:            time.Duration(cfg.SessionTimeoutMinutes) * time.Minute,
		RequireMFAForAdmin: cfg.RequireMFAForAdmin,
	})
}

// requireAuth gates a handler behind a bearer session token carrying the
// given permission.
func requireAuth(sessions *access.Sessions, permission string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if sessions == nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{
				"error": "admin sessions are not configured; set SESSION_SIGNING_SECRET",
			})
			return
		}
		token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		if token == "" || token == r.Header.Get("Authorization") {
			writeJSON(w, http.StatusUnauthorized, map[string]string{
				"error": "missing bearer token",
			})
			return
		}
		if _, err := sessions.Authorize(token, permission); err != nil {
			code := errcode.CodeOf(err)
			writeJSON(w, errcode.HTTPStatus(code), map[string]string{
				"error": err.Error(),
				"code":  code,
			})
			return
		}
		next(w, r)
	}
}
