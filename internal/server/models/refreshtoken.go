package models

import "time"

// RefreshToken is one link in a rotation chain. The raw secret is never
// stored; TokenDigest is its one-way hash.
type RefreshToken struct {
	ID            string
	UserID        int64
	TokenDigest   string
	JTI           string
	Family        string
	ExpiresAt     time.Time
	CreatedAt     time.Time
	RevokedAt     *time.Time
	ReplacedByJTI *string
}

// Revoked reports whether the token has been revoked or rotated away.
func (t *RefreshToken) Revoked() bool {
	return t.RevokedAt != nil
}

// Expired reports whether now is at or past the expiry instant.
func (t *RefreshToken) Expired(now time.Time) bool {
	return !now.Before(t.ExpiresAt)
}

// Usable reports whether the token may still be exchanged for a new pair.
func (t *RefreshToken) Usable(now time.Time) bool {
	return !t.Revoked() && !t.Expired(now)
}
