package auth

import "errors"

// Role represents an authorisation tier carried in an access token.
type Role string

const (
	// RoleUser may act only on devices listed among its owners.
	RoleUser Role = "user"

	// RoleAdmin bypasses device ownership checks.
	RoleAdmin Role = "admin"
)

// IsValidRole returns true if r is a role this service understands.
func IsValidRole(r Role) bool {
	return r == RoleUser || r == RoleAdmin
}

// Identity is the verified caller behind an access token.
type Identity struct {
	SubjectID string `json:"subject_id"`
	IsAdmin   bool   `json:"is_admin"`
}

// Auth errors.
var (
	ErrTokenInvalid = errors.New("invalid token")
	ErrTokenExpired = errors.New("token has expired")
	ErrTokenMissing = errors.New("token is required")
)
