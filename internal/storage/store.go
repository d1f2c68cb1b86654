// Package storage defines the data access contracts for the identity
// service. Concrete drivers live in subpackages (postgres for production,
// memory for tests and local development).
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/quorumlabs/identity/internal/domain"
)

var (
	ErrNotFound = errors.New("storage: not found")
	ErrConflict = errors.New("storage: already exists")
)

// Store is the root data access interface, split into per-entity
// repositories to keep concerns tidy and testable.
type Store interface {
	Users() Users
	Organizations() Organizations
	Invites() Invites
	RefreshTokens() RefreshTokens

	// WithTx executes fn against a transaction-scoped Store. If fn returns
	// an error the transaction rolls back, otherwise it commits. Multi-step
	// operations that must not leave orphans (user+organization creation,
	// refresh rotation) go through here.
	WithTx(ctx context.Context, fn func(tx Store) error) error

	// Ping verifies the backing connection is alive.
	Ping(ctx context.Context) error

	// Close releases underlying resources.
	Close() error
}

type Users interface {
	// GetByID returns the user with its organization attached when bound.
	GetByID(ctx context.Context, id uuid.UUID) (*domain.User, error)

	// GetByEmail looks up by exact (lowercase) email with the organization
	// attached when bound.
	GetByEmail(ctx context.Context, email string) (*domain.User, error)

	// Create inserts a new user. Returns ErrConflict on a duplicate email.
	Create(ctx context.Context, u *domain.User) error

	// SetPendingOTP stores the hashed one-time code and its expiry.
	SetPendingOTP(ctx context.Context, userID uuid.UUID, otpHash string, expiresAt time.Time) error

	// ClearPendingOTP clears the pending OTP pair only while the stored
	// hash still equals expectHash. Returns false when another request
	// already consumed it — the conditional update is what makes the code
	// single-use under concurrency.
	ClearPendingOTP(ctx context.Context, userID uuid.UUID, expectHash string) (bool, error)

	// SetTOTPSecret stores a fresh shared secret with enrollment pending.
	SetTOTPSecret(ctx context.Context, userID uuid.UUID, secret string) error

	// EnableTOTP marks enrollment complete.
	EnableTOTP(ctx context.Context, userID uuid.UUID) error

	// SetMFAMethod replaces the personal method, secret and enrollment flag
	// in one write.
	SetMFAMethod(ctx context.Context, userID uuid.UUID, method domain.MFAMethod, totpSecret *string, totpEnabled bool) error

	// SetOrganization binds the user to an organization.
	SetOrganization(ctx context.Context, userID, orgID uuid.UUID) error

	// Deactivate soft-disables the account. Users are never hard-deleted.
	Deactivate(ctx context.Context, userID uuid.UUID) error
}

type Organizations interface {
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Organization, error)

	// Create inserts a new organization. Returns ErrConflict on a
	// duplicate slug.
	Create(ctx context.Context, o *domain.Organization) error

	// SetMFAMethod updates the organization-wide policy.
	SetMFAMethod(ctx context.Context, orgID uuid.UUID, method domain.MFAMethod) error
}

type Invites interface {
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Invite, error)

	// GetByToken returns the invite with inviter name/email annotated.
	GetByToken(ctx context.Context, token string) (*domain.Invite, error)

	// GetPendingByEmail returns the latest invite for email still in
	// status pending, regardless of expiry (the caller decides between
	// resend and refresh).
	GetPendingByEmail(ctx context.Context, email string) (*domain.Invite, error)

	// Create inserts a new invite. Returns ErrConflict on a duplicate token.
	Create(ctx context.Context, i *domain.Invite) error

	// ListByInviter returns invites created by inviterID, newest first,
	// with accepting-user name/email annotated. status nil means all.
	ListByInviter(ctx context.Context, inviterID uuid.UUID, status *domain.InviteStatus) ([]domain.Invite, error)

	// MarkAccepted finalizes a pending invite.
	MarkAccepted(ctx context.Context, id, acceptedBy uuid.UUID, at time.Time) error

	// MarkExpired flips pending → expired (lazy expiry on read).
	MarkExpired(ctx context.Context, id uuid.UUID) error

	// MarkRevoked flips pending → revoked.
	MarkRevoked(ctx context.Context, id uuid.UUID) error

	// Refresh resets an expired invite back to pending with a new token
	// and expiry (resend path).
	Refresh(ctx context.Context, id uuid.UUID, token string, expiresAt time.Time) error

	// ExpireStale is the housekeeping sweep; read-time checks remain the
	// authoritative gate. Returns the number of invites flipped.
	ExpireStale(ctx context.Context, now time.Time) (int64, error)
}

type RefreshTokens interface {
	Create(ctx context.Context, t *domain.RefreshToken) error

	GetByHash(ctx context.Context, tokenHash string) (*domain.RefreshToken, error)

	// RevokeForRotation marks the token revoked and records its successor,
	// conditional on it not being revoked yet. Returns false when a
	// concurrent rotation won the race — at most one caller sees true.
	RevokeForRotation(ctx context.Context, id, successor uuid.UUID) (bool, error)

	// RevokeByHash is idempotent; revoking an absent or already-revoked
	// token is not an error.
	RevokeByHash(ctx context.Context, tokenHash string) error

	// RevokeAllForUser kills every active session of a user.
	RevokeAllForUser(ctx context.Context, userID uuid.UUID) error

	// DeleteExpired is optional housekeeping.
	DeleteExpired(ctx context.Context, now time.Time) error
}
