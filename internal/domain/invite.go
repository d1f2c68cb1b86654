package domain

import (
	"time"

	"github.com/google/uuid"
)

// InviteStatus transitions are monotonic along pending → {accepted, expired,
// revoked}. The only path out of a terminal state is expired → pending via the
// resend/refresh flow, which also replaces the token and expiry.
type InviteStatus string

const (
	InvitePending  InviteStatus = "pending"
	InviteAccepted InviteStatus = "accepted"
	InviteExpired  InviteStatus = "expired"
	InviteRevoked  InviteStatus = "revoked"
)

// Invite is a time-limited onboarding grant binding an email to a role and,
// optionally, an organization.
type Invite struct {
	ID               uuid.UUID
	Email            string
	Role             Role
	InvitedBy        uuid.UUID
	OrganizationID   *uuid.UUID
	OrganizationName string // only set when inviting a client_admin to found a new organization
	Token            string
	Status           InviteStatus
	ExpiresAt        time.Time
	AcceptedAt       *time.Time
	AcceptedBy       *uuid.UUID
	CreatedAt        time.Time
	UpdatedAt        time.Time

	// Annotations populated by list/detail queries.
	InviterName      string
	InviterEmail     string
	AcceptedByName   string
	AcceptedByEmail  string
}

// IsValid reports whether the invite can still be accepted. Expiry is checked
// lazily here; callers observing a stale pending invite flip it to expired.
func (i *Invite) IsValid(now time.Time) bool {
	return i.Status == InvitePending && now.Before(i.ExpiresAt)
}
