// Package auth issues and validates opaque bearer tokens for stitchd.
//
// Tokens are uuid values looked up by equality only; there is no signed
// claim format. A token becomes logically invalid at its expiry, which is
// evaluated lazily at validation time - nothing sweeps the table. The
// first user is created through a one-time bootstrap that is only
// accepted while the user table is empty.
package auth

import "time"

// TokenKind distinguishes short-lived access tokens from the refresh
// tokens used to mint them.
type TokenKind string

const (
	KindAccess  TokenKind = "access"
	KindRefresh TokenKind = "refresh"
)

// Token lifetimes. Access lifetime is deliberately much shorter than
// refresh lifetime.
const (
	AccessTTL  = 30 * time.Minute
	RefreshTTL = 7 * 24 * time.Hour
)

// User is an authenticated principal.
type User struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
}

// Token is one opaque bearer credential.
type Token struct {
	ID        string    `json:"id"`
	Subject   string    `json:"subject"`
	Kind      TokenKind `json:"kind"`
	Value     string    `json:"value"`
	IssuedAt  time.Time `json:"issued_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Expired reports whether the token is past its horizon at now.
func (t *Token) Expired(now time.Time) bool {
	return now.After(t.ExpiresAt)
}

// TokenPair is what a successful login or bootstrap issues.
type TokenPair struct {
	Access  *Token `json:"access"`
	Refresh *Token `json:"refresh"`
}
