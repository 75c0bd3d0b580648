// Package token issues, verifies, rotates and revokes access/refresh token
// pairs, and detects refresh token reuse.
package token

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// State is the lifecycle state of a refresh token record. An active record
// becomes rotated when used, or revoked on logout or reuse detection. Both
// rotated and revoked are terminal.
type State string

const (
	StateActive  State = "active"
	StateRotated State = "rotated"
	StateRevoked State = "revoked"
)

// RefreshTokenRecord is one link in a session's rotation chain. All records
// minted by successive rotations of one login share a FamilyID, and at most
// one record per family is active at any time.
type RefreshTokenRecord struct {
	ID            string
	UserID        string
	OrgID         string
	Role          string
	FamilyID      string
	State         State
	TokenHash     string
	IssuedAt      time.Time
	ExpiresAt     time.Time
	RotatedAt     *time.Time
	PredecessorID string
}

// Claims is the signed access token payload. Validity is determined purely
// by signature and expiry; access tokens are never looked up in storage.
type Claims struct {
	OrgID string `json:"org"`
	Role  string `json:"role"`
	jwt.RegisteredClaims
}

// UserID returns the token subject.
func (c *Claims) UserID() string { return c.Subject }

// TokenPair carries freshly minted credentials.
type TokenPair struct {
	AccessToken      string
	RefreshToken     string
	AccessExpiresAt  time.Time
	RefreshExpiresAt time.Time
}
