package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"

	"github.com/quorumlabs/identity/internal/apperr"
	"github.com/quorumlabs/identity/internal/audit"
	"github.com/quorumlabs/identity/internal/domain"
	"github.com/quorumlabs/identity/internal/events"
	"github.com/quorumlabs/identity/internal/notify"
	"github.com/quorumlabs/identity/internal/storage"
)

// DefaultInviteTTL is how long an invitation stays redeemable.
const DefaultInviteTTL = 7 * 24 * time.Hour

const inviteTokenBytes = 32

// InviteService owns the onboarding state machine: invite creation with
// resend-on-duplicate, lazy expiry, acceptance (account creation plus initial
// MFA setup), and revocation.
type InviteService struct {
	store     storage.Store
	hasher    PasswordHasher
	twoFactor *TwoFactorManager
	tokens    *TokenService
	mailer    notify.EmailSender
	events    events.Publisher
	audit     audit.Logger
	logger    *slog.Logger
	appURL    string
	inviteTTL time.Duration
}

func NewInviteService(
	store storage.Store,
	hasher PasswordHasher,
	twoFactor *TwoFactorManager,
	tokens *TokenService,
	mailer notify.EmailSender,
	publisher events.Publisher,
	auditor audit.Logger,
	logger *slog.Logger,
	appURL string,
) *InviteService {
	return &InviteService{
		store:     store,
		hasher:    hasher,
		twoFactor: twoFactor,
		tokens:    tokens,
		mailer:    mailer,
		events:    publisher,
		audit:     auditor,
		logger:    logger,
		appURL:    appURL,
		inviteTTL: DefaultInviteTTL,
	}
}

// CreateInvite issues (or re-issues) an invitation. Creation is idempotent
// per email: a live pending invite is resent with its token unchanged, and
// an expired one is refreshed in place rather than duplicated.
func (s *InviteService) CreateInvite(ctx context.Context, inviter *domain.User, email string, role domain.Role, organizationName string) (*domain.Invite, error) {
	email = strings.ToLower(strings.TrimSpace(email))

	if !role.Valid() {
		return nil, apperr.New(apperr.Validation, "invalid role")
	}
	if !inviter.Role.CanInvite(role) {
		return nil, apperr.New(apperr.Authorization,
			fmt.Sprintf("role %s cannot invite %s", inviter.Role, role))
	}

	if _, err := s.store.Users().GetByEmail(ctx, email); err == nil {
		return nil, apperr.New(apperr.Conflict, "a user with this email already exists")
	} else if !errors.Is(err, storage.ErrNotFound) {
		return nil, err
	}

	var orgID *uuid.UUID
	switch role {
	case domain.RoleClientAdmin:
		if strings.TrimSpace(organizationName) == "" {
			return nil, apperr.New(apperr.Validation, "organizationName is required for client_admin invites")
		}
	case domain.RoleClientUser:
		if inviter.OrganizationID == nil {
			return nil, apperr.New(apperr.Validation, "inviter does not belong to an organization")
		}
		orgID = inviter.OrganizationID
		organizationName = ""
	default:
		organizationName = ""
	}

	now := time.Now().UTC()

	// Resend path: one live invite row per email.
	if existing, err := s.store.Invites().GetPendingByEmail(ctx, email); err == nil {
		if existing.IsValid(now) {
			s.sendInviteEmail(ctx, existing, inviter)
			return existing, nil
		}
		token, err := GenerateSecureToken(inviteTokenBytes)
		if err != nil {
			return nil, err
		}
		if err := s.store.Invites().Refresh(ctx, existing.ID, token, now.Add(s.inviteTTL)); err != nil {
			return nil, err
		}
		existing.Token = token
		existing.ExpiresAt = now.Add(s.inviteTTL)
		existing.Status = domain.InvitePending
		s.sendInviteEmail(ctx, existing, inviter)
		return existing, nil
	} else if !errors.Is(err, storage.ErrNotFound) {
		return nil, err
	}

	token, err := GenerateSecureToken(inviteTokenBytes)
	if err != nil {
		return nil, err
	}
	invite := &domain.Invite{
		ID:               uuid.New(),
		Email:            email,
		Role:             role,
		InvitedBy:        inviter.ID,
		OrganizationID:   orgID,
		OrganizationName: organizationName,
		Token:            token,
		Status:           domain.InvitePending,
		ExpiresAt:        now.Add(s.inviteTTL),
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := s.store.Invites().Create(ctx, invite); err != nil {
		return nil, err
	}

	s.audit.Log(ctx, "invite.created", map[string]any{
		"invite_id":  invite.ID.String(),
		"email":      email,
		"role":       string(role),
		"invited_by": inviter.ID.String(),
	})
	s.sendInviteEmail(ctx, invite, inviter)
	s.publish(ctx, events.TypeInviteCreated, map[string]any{
		"invite_id": invite.ID.String(),
		"role":      string(role),
	})

	return invite, nil
}

// AcceptResult is the outcome of redeeming an invitation.
type AcceptResult struct {
	User              *UserView  `json:"user"`
	Tokens            *TokenPair `json:"tokens,omitempty"`
	RequiresTOTPSetup bool       `json:"requiresTotpSetup,omitempty"`
	TOTP              *TOTPSetup `json:"totp,omitempty"`
}

// AcceptInvite redeems an invitation: it creates the account (and, for a new
// client_admin, the organization), runs the MFA bootstrap, and marks the
// invite accepted, all in one transaction.
func (s *InviteService) AcceptInvite(ctx context.Context, token, firstName, lastName, password string, requestedMethod domain.MFAMethod, meta ClientMeta) (*AcceptResult, error) {
	invite, err := s.store.Invites().GetByToken(ctx, token)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, apperr.New(apperr.NotFound, "invite not found")
		}
		return nil, err
	}

	now := time.Now().UTC()
	if !invite.IsValid(now) {
		if invite.Status == domain.InvitePending {
			// Lazy expiry: the read is the authoritative gate.
			if err := s.store.Invites().MarkExpired(ctx, invite.ID); err != nil && !errors.Is(err, storage.ErrNotFound) {
				return nil, err
			}
		}
		return nil, apperr.New(apperr.Validation, "invite is expired or no longer valid")
	}

	passwordHash, err := s.hasher.Hash(password)
	if err != nil {
		return nil, err
	}

	user := &domain.User{
		ID:             uuid.New(),
		Email:          invite.Email,
		PasswordHash:   passwordHash,
		FirstName:      firstName,
		LastName:       lastName,
		Role:           invite.Role,
		OrganizationID: invite.OrganizationID,
		Active:         true,
		InvitedBy:      &invite.InvitedBy,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	result := &AcceptResult{}

	err = s.store.WithTx(ctx, func(tx storage.Store) error {
		if err := tx.Users().Create(ctx, user); err != nil {
			if errors.Is(err, storage.ErrConflict) {
				return apperr.New(apperr.Conflict, "a user with this email already exists")
			}
			return err
		}

		var org *domain.Organization
		if invite.Role == domain.RoleClientAdmin && invite.OrganizationName != "" {
			org = &domain.Organization{
				ID:          uuid.New(),
				Name:        invite.OrganizationName,
				Slug:        slugify(invite.OrganizationName),
				MFAMethod:   domain.MFAOTP,
				AdminUserID: user.ID,
				Active:      true,
				CreatedAt:   now,
				UpdatedAt:   now,
			}
			if err := tx.Organizations().Create(ctx, org); err != nil {
				if errors.Is(err, storage.ErrConflict) {
					return apperr.New(apperr.Conflict, "an organization with this name already exists")
				}
				return err
			}
			if err := tx.Users().SetOrganization(ctx, user.ID, org.ID); err != nil {
				return err
			}
			user.OrganizationID = &org.ID
			user.Organization = org
		} else if invite.OrganizationID != nil {
			loaded, err := tx.Organizations().GetByID(ctx, *invite.OrganizationID)
			if err != nil {
				return err
			}
			org = loaded
			user.Organization = org
		}

		if err := s.bootstrapMFA(ctx, tx, user, org, requestedMethod, result); err != nil {
			return err
		}

		return tx.Invites().MarkAccepted(ctx, invite.ID, user.ID, now)
	})
	if err != nil {
		return nil, err
	}

	s.audit.Log(ctx, "invite.accepted", map[string]any{
		"invite_id": invite.ID.String(),
		"user_id":   user.ID.String(),
		"role":      string(user.Role),
	})
	s.publish(ctx, events.TypeInviteAccepted, map[string]any{
		"invite_id": invite.ID.String(),
		"user_id":   user.ID.String(),
	})
	s.publish(ctx, events.TypeUserCreated, map[string]any{
		"user_id": user.ID.String(),
		"role":    string(user.Role),
	})

	result.User = NewUserView(user)
	if !result.RequiresTOTPSetup {
		pair, err := s.tokens.IssuePair(ctx, user, meta)
		if err != nil {
			return nil, err
		}
		result.Tokens = pair
	}
	return result, nil
}

// bootstrapMFA applies the initial MFA policy for a freshly created account.
// A client_user always inherits the organization's method; any requested
// method is ignored because member MFA policy is centrally governed.
func (s *InviteService) bootstrapMFA(ctx context.Context, tx storage.Store, user *domain.User, org *domain.Organization, requested domain.MFAMethod, result *AcceptResult) error {
	var effective domain.MFAMethod
	if user.Role == domain.RoleClientUser {
		if org != nil {
			effective = org.MFAMethod
		}
	} else {
		switch {
		case requested.Valid():
			effective = requested
		case org != nil && org.MFAMethod.Valid():
			effective = org.MFAMethod
		default:
			effective = domain.MFANone
		}
	}

	if effective == domain.MFATOTP {
		secret, qr, err := s.twoFactor.GenerateTOTPSecret(user.Email)
		if err != nil {
			return err
		}
		if err := tx.Users().SetMFAMethod(ctx, user.ID, effective, &secret, false); err != nil {
			return err
		}
		user.MFAMethod = effective
		user.TOTPSecret = &secret
		result.RequiresTOTPSetup = true
		result.TOTP = &TOTPSetup{Secret: secret, QRCode: qr}
		return nil
	}

	if err := tx.Users().SetMFAMethod(ctx, user.ID, effective, nil, false); err != nil {
		return err
	}
	user.MFAMethod = effective
	return nil
}

// InviteDetails is the public projection shown on the acceptance page.
type InviteDetails struct {
	Email            string      `json:"email"`
	Role             domain.Role `json:"role"`
	OrganizationName string      `json:"organizationName,omitempty"`
	InviterName      string      `json:"inviterName"`
	InviterEmail     string      `json:"inviterEmail"`
	ExpiresAt        time.Time   `json:"expiresAt"`
}

// GetInviteDetails resolves a token to its projection, expiring the invite
// lazily when the TTL has passed.
func (s *InviteService) GetInviteDetails(ctx context.Context, token string) (*InviteDetails, error) {
	invite, err := s.store.Invites().GetByToken(ctx, token)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, apperr.New(apperr.NotFound, "invite not found")
		}
		return nil, err
	}

	if !invite.IsValid(time.Now()) {
		if invite.Status == domain.InvitePending {
			if err := s.store.Invites().MarkExpired(ctx, invite.ID); err != nil && !errors.Is(err, storage.ErrNotFound) {
				return nil, err
			}
		}
		return nil, apperr.New(apperr.Validation, "invite is expired or no longer valid")
	}

	name := invite.OrganizationName
	if name == "" && invite.OrganizationID != nil {
		if org, err := s.store.Organizations().GetByID(ctx, *invite.OrganizationID); err == nil {
			name = org.Name
		}
	}

	return &InviteDetails{
		Email:            invite.Email,
		Role:             invite.Role,
		OrganizationName: name,
		InviterName:      invite.InviterName,
		InviterEmail:     invite.InviterEmail,
		ExpiresAt:        invite.ExpiresAt,
	}, nil
}

// ListInvites returns the invites created by the inviter, newest first,
// optionally filtered by status. Stale pending invites are swept first so
// the listed statuses are accurate.
func (s *InviteService) ListInvites(ctx context.Context, inviterID uuid.UUID, status *domain.InviteStatus) ([]domain.Invite, error) {
	if _, err := s.store.Invites().ExpireStale(ctx, time.Now().UTC()); err != nil {
		return nil, err
	}
	return s.store.Invites().ListByInviter(ctx, inviterID, status)
}

// RevokeInvite withdraws a pending invitation. Only the inviter may revoke,
// and only while the invite is still pending.
func (s *InviteService) RevokeInvite(ctx context.Context, inviteID, inviterID uuid.UUID) error {
	invite, err := s.store.Invites().GetByID(ctx, inviteID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return apperr.New(apperr.NotFound, "invite not found")
		}
		return err
	}
	if invite.InvitedBy != inviterID {
		return apperr.New(apperr.NotFound, "invite not found")
	}
	if invite.Status != domain.InvitePending {
		return apperr.New(apperr.Validation, "Can only revoke pending invites")
	}

	if err := s.store.Invites().MarkRevoked(ctx, inviteID); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return apperr.New(apperr.Validation, "Can only revoke pending invites")
		}
		return err
	}

	s.audit.Log(ctx, "invite.revoked", map[string]any{
		"invite_id":  inviteID.String(),
		"revoked_by": inviterID.String(),
	})
	s.publish(ctx, events.TypeInviteRevoked, map[string]any{"invite_id": inviteID.String()})
	return nil
}

// ExpireStaleInvites is the periodic housekeeping sweep. Lazy expiry at read
// time remains the authoritative gate.
func (s *InviteService) ExpireStaleInvites(ctx context.Context) (int64, error) {
	n, err := s.store.Invites().ExpireStale(ctx, time.Now().UTC())
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.logger.Info("invites_expired", "count", n)
	}
	return n, nil
}

// sendInviteEmail is best-effort: delivery failure never fails the invite.
func (s *InviteService) sendInviteEmail(ctx context.Context, invite *domain.Invite, inviter *domain.User) {
	url := fmt.Sprintf("%s/invites/accept?token=%s", strings.TrimRight(s.appURL, "/"), invite.Token)
	if err := s.mailer.SendInvite(ctx, invite.Email, url, inviter.FullName(), string(invite.Role)); err != nil {
		s.logger.Warn("invite_email_failed", "invite_id", invite.ID, "error", err)
	}
}

func (s *InviteService) publish(ctx context.Context, eventType string, payload map[string]any) {
	_ = s.events.Publish(ctx, events.Event{Type: eventType, Payload: payload})
}

// slugify derives the organization slug: lowercase, punctuation stripped,
// spaces collapsed to single hyphens.
func slugify(name string) string {
	var b strings.Builder
	lastHyphen := true
	for _, r := range strings.ToLower(strings.TrimSpace(name)) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
			lastHyphen = false
		case !lastHyphen:
			b.WriteRune('-')
			lastHyphen = true
		}
	}
	return strings.TrimRight(b.String(), "-")
}
