package auth

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/quorumlabs/identity/internal/apperr"
	"github.com/quorumlabs/identity/internal/domain"
	"github.com/quorumlabs/identity/internal/events"
	"github.com/quorumlabs/identity/internal/storage"
)

// VerifyOTP redeems a pending emailed code. The caller proves the password
// step with the pre-auth token handed out alongside the challenge. The code
// is single-use: it is cleared on success and on expiry, and the clear is
// conditional on the stored hash so two concurrent redemptions cannot both
// win.
func (s *AuthService) VerifyOTP(ctx context.Context, preAuthToken, code string, meta ClientMeta) (*LoginResult, error) {
	userID, err := s.tokens.ValidatePreAuth(preAuthToken)
	if err != nil {
		return nil, err
	}
	user, err := s.getUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	if user.OTPHash == nil || user.OTPExpiresAt == nil {
		return nil, apperr.New(apperr.Validation, "no OTP found")
	}

	if time.Now().After(*user.OTPExpiresAt) {
		if _, err := s.store.Users().ClearPendingOTP(ctx, user.ID, *user.OTPHash); err != nil {
			return nil, err
		}
		return nil, apperr.New(apperr.Validation, "OTP expired")
	}

	if !s.twoFactor.VerifyOTP(*user.OTPHash, code) {
		s.logger.Info("otp_verify_failed", "user_id", user.ID)
		return nil, apperr.New(apperr.Validation, "Invalid OTP")
	}

	cleared, err := s.store.Users().ClearPendingOTP(ctx, user.ID, *user.OTPHash)
	if err != nil {
		return nil, err
	}
	if !cleared {
		// A concurrent request redeemed the code first.
		return nil, apperr.New(apperr.Validation, "no OTP found")
	}

	s.audit.Log(ctx, "mfa.otp_verified", map[string]any{"user_id": user.ID.String()})
	return s.completeLogin(ctx, user, meta)
}

// VerifyTOTP checks an authenticator-app code against the login the pre-auth
// token belongs to. On the first successful check after enrollment it flips
// the enabled flag, completing inline setup.
func (s *AuthService) VerifyTOTP(ctx context.Context, preAuthToken, code string, meta ClientMeta) (*LoginResult, error) {
	userID, err := s.tokens.ValidatePreAuth(preAuthToken)
	if err != nil {
		return nil, err
	}
	user, err := s.getUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	if user.TOTPSecret == nil {
		return nil, apperr.New(apperr.Validation, "TOTP not enabled")
	}
	if !s.twoFactor.ValidateTOTP(code, *user.TOTPSecret) {
		s.logger.Info("totp_verify_failed", "user_id", user.ID)
		return nil, apperr.New(apperr.Validation, "Invalid TOTP code")
	}

	if !user.TOTPEnabled {
		if err := s.store.Users().EnableTOTP(ctx, user.ID); err != nil {
			return nil, err
		}
		user.TOTPEnabled = true
	}

	s.audit.Log(ctx, "mfa.totp_verified", map[string]any{"user_id": user.ID.String()})
	return s.completeLogin(ctx, user, meta)
}

// SetupTOTP starts out-of-band enrollment for an authenticated user: a fresh
// secret replaces any previous one and stays unconfirmed until ConfirmTOTP.
func (s *AuthService) SetupTOTP(ctx context.Context, userID uuid.UUID) (*TOTPSetup, error) {
	user, err := s.getUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	secret, qr, err := s.twoFactor.GenerateTOTPSecret(user.Email)
	if err != nil {
		return nil, err
	}
	if err := s.store.Users().SetTOTPSecret(ctx, user.ID, secret); err != nil {
		return nil, err
	}

	return &TOTPSetup{Secret: secret, QRCode: qr}, nil
}

// ConfirmTOTP completes out-of-band enrollment by proving possession of the
// secret.
func (s *AuthService) ConfirmTOTP(ctx context.Context, userID uuid.UUID, code string) error {
	user, err := s.getUser(ctx, userID)
	if err != nil {
		return err
	}

	if user.TOTPSecret == nil {
		return apperr.New(apperr.Validation, "TOTP setup not initialized")
	}
	if !s.twoFactor.ValidateTOTP(code, *user.TOTPSecret) {
		return apperr.New(apperr.Validation, "Invalid TOTP code")
	}

	if err := s.store.Users().EnableTOTP(ctx, user.ID); err != nil {
		return err
	}
	s.audit.Log(ctx, "mfa.totp_confirmed", map[string]any{"user_id": user.ID.String()})
	return nil
}

// MFAChangeResult describes the outcome of a method switch. Switching to
// TOTP returns the new enrollment payload and requires confirmation before
// the method takes effect at login.
type MFAChangeResult struct {
	Method                   domain.MFAMethod `json:"method"`
	TOTPSetup                *TOTPSetup       `json:"totpSetup,omitempty"`
	RequiresTOTPConfirmation bool             `json:"requiresTotpConfirmation"`
}

// ChangeMFAMethod switches the user's personal MFA method. client_user is
// rejected outright: member MFA policy is governed by the organization, not
// the member.
func (s *AuthService) ChangeMFAMethod(ctx context.Context, userID uuid.UUID, method domain.MFAMethod) (*MFAChangeResult, error) {
	user, err := s.getUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	if user.Role == domain.RoleClientUser {
		return nil, apperr.New(apperr.Authorization, "MFA method is managed by your organization")
	}
	if method != domain.MFANone && !method.Valid() {
		return nil, apperr.New(apperr.Validation, "invalid MFA method")
	}

	result := &MFAChangeResult{Method: method}

	switch method {
	case domain.MFATOTP:
		secret, qr, err := s.twoFactor.GenerateTOTPSecret(user.Email)
		if err != nil {
			return nil, err
		}
		// Unconfirmed until the user proves possession of the new secret.
		if err := s.store.Users().SetMFAMethod(ctx, user.ID, method, &secret, false); err != nil {
			return nil, err
		}
		result.TOTPSetup = &TOTPSetup{Secret: secret, QRCode: qr}
		result.RequiresTOTPConfirmation = true

	default:
		if err := s.store.Users().SetMFAMethod(ctx, user.ID, method, nil, false); err != nil {
			return nil, err
		}
	}

	s.audit.Log(ctx, "mfa.method_changed", map[string]any{
		"user_id": user.ID.String(),
		"method":  string(method),
	})
	_ = s.events.Publish(ctx, events.Event{
		Type: events.TypeMFAChanged,
		Payload: map[string]any{
			"user_id": user.ID.String(),
			"method":  string(method),
		},
	})

	return result, nil
}

// ChangeOrganizationMFAMethod updates the policy an organization enforces on
// its member users. Only the organization's own client_admin may change it,
// and an organization always keeps a concrete method.
func (s *AuthService) ChangeOrganizationMFAMethod(ctx context.Context, actorID uuid.UUID, method domain.MFAMethod) (*domain.Organization, error) {
	actor, err := s.getUser(ctx, actorID)
	if err != nil {
		return nil, err
	}

	if actor.Role != domain.RoleClientAdmin || actor.OrganizationID == nil {
		return nil, apperr.New(apperr.Authorization, "only an organization admin can change the organization MFA method")
	}
	if !method.Valid() {
		return nil, apperr.New(apperr.Validation, "invalid MFA method")
	}

	if err := s.store.Organizations().SetMFAMethod(ctx, *actor.OrganizationID, method); err != nil {
		return nil, err
	}
	org, err := s.store.Organizations().GetByID(ctx, *actor.OrganizationID)
	if err != nil {
		return nil, err
	}

	s.audit.Log(ctx, "mfa.org_method_changed", map[string]any{
		"organization_id": org.ID.String(),
		"method":          string(method),
		"changed_by":      actor.ID.String(),
	})
	_ = s.events.Publish(ctx, events.Event{
		Type: events.TypeMFAChanged,
		Payload: map[string]any{
			"organization_id": org.ID.String(),
			"method":          string(method),
		},
	})

	return org, nil
}

func (s *AuthService) getUser(ctx context.Context, userID uuid.UUID) (*domain.User, error) {
	user, err := s.store.Users().GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, apperr.New(apperr.NotFound, "user not found")
		}
		return nil, err
	}
	return user, nil
}
