package domain

import (
	"time"

	"github.com/google/uuid"
)

// RefreshToken is the session continuation credential. Only the SHA-256
// fingerprint of the opaque token is persisted. Rotation is one-shot: using a
// token revokes it and records exactly one successor.
type RefreshToken struct {
	ID           uuid.UUID
	UserID       uuid.UUID
	TokenHash    string
	Revoked      bool
	ReplacedBy   *uuid.UUID // successor token, set on rotation
	UserAgent    string
	IPAddress    string
	ExpiresAt    time.Time
	CreatedAt    time.Time
}

// IsValid reports whether the token may still authorize a rotation.
func (t *RefreshToken) IsValid(now time.Time) bool {
	return !t.Revoked && now.Before(t.ExpiresAt)
}
