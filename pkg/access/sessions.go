package access

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/arguslabs/argus/core/pkg/errcode"
)

// Session is a validated admin session.
type Session struct {
	UserID      string
	Role        string
	MFAVerified bool
	ExpiresAt   time.Time
}

// sessionClaims is the JWT claim set for admin sessions.
type sessionClaims struct {
	Role        string `json:"role"`
	MFAVerified bool   `json:"mfa_verified"`
	jwt.RegisteredClaims
}

// Options parameterize the session manager.
type Options struct {
	Timeout           time.Duration // session TTL
	RequireMFAForAdmin bool         // admin roles need a verified-MFA claim
	Clock             func() time.Time
}

// Sessions issues and validates HS256 admin session tokens.
type Sessions struct {
	secret []byte
	opts   Options
}

// NewSessions builds a session manager. An empty secret is E8702: sessions
// cannot run unsigned.
func NewSessions(secret string, opts Options) (*Sessions, error) {
	if secret == "" {
		return nil, errcode.New(errcode.CodeConfigMissing, "session signing secret is required")
	}
	if opts.Timeout <= 0 {
		opts.Timeout = time.Hour
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	return &Sessions{secret: []byte(secret), opts: opts}, nil
}

// IssueSession mints a session token for a user in a role. Unknown roles
// are E8507.
func (s *Sessions) IssueSession(userID, role string, mfaVerified bool) (string, error) {
	if _, ok := grants[role]; !ok {
		return "", errcode.Newf(errcode.CodeRoleNotAssigned, "unknown role %q", role)
	}
	now := s.opts.Clock()
	claims := sessionClaims{
		Role:        role,
		MFAVerified: mfaVerified,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.opts.Timeout)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", errcode.Wrap(errcode.CodeInternal, "sign session token", err)
	}
	return signed, nil
}

// ValidateSession parses and verifies a session token. Expired tokens are
// E8504, anything else malformed or mis-signed is E8505.
func (s *Sessions) ValidateSession(token string) (*Session, error) {
	var claims sessionClaims
	parsed, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return s.secret, nil
	}, jwt.WithValidMethods([]string{"HS256"}), jwt.WithTimeFunc(s.opts.Clock))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, errcode.Wrap(errcode.CodeSessionExpired, "session expired", err)
		}
		return nil, errcode.Wrap(errcode.CodeTokenInvalid, "invalid session token", err)
	}
	if !parsed.Valid {
		return nil, errcode.New(errcode.CodeTokenInvalid, "invalid session token")
	}
	return &Session{
		UserID:      claims.Subject,
		Role:        claims.Role,
		MFAVerified: claims.MFAVerified,
		ExpiresAt:   claims.ExpiresAt.Time,
	}, nil
}

// Authorize validates the token and checks it grants the permission.
// Admin-role sessions additionally need a verified-MFA claim when the MFA
// gate is on (E8502). Missing grants are E8503.
func (s *Sessions) Authorize(token, permission string) (*Session, error) {
	sess, err := s.ValidateSession(token)
	if err != nil {
		return nil, err
	}
	ok, err := HasPermission(sess.Role, permission)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errcode.Newf(errcode.CodeInsufficientPrivileges,
			"role %q does not grant %q", sess.Role, permission)
	}
	if s.opts.RequireMFAForAdmin && sess.Role == RoleAdmin && !sess.MFAVerified {
		return nil, errcode.New(errcode.CodeAccessMFARequired, "admin session requires verified MFA")
	}
	return sess, nil
}
