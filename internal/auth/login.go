package auth

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/quorumlabs/identity/internal/apperr"
	"github.com/quorumlabs/identity/internal/domain"
	"github.com/quorumlabs/identity/internal/events"
	"github.com/quorumlabs/identity/internal/storage"
)

// Authenticate runs the password step. A successful check either issues
// tokens directly (no MFA) or returns the challenge the client must answer
// next.
//
// The error for a missing user, an inactive user, and a wrong password is
// identical on purpose: the response must not reveal which accounts exist.
func (s *AuthService) Authenticate(ctx context.Context, email, password string, meta ClientMeta) (*LoginResult, error) {
	email = strings.ToLower(strings.TrimSpace(email))

	user, err := s.store.Users().GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			s.logger.Info("login_failed", "reason", "unknown_email")
			return nil, apperr.New(apperr.Authentication, "invalid credentials")
		}
		return nil, err
	}
	if !user.Active {
		s.logger.Info("login_failed", "reason", "inactive", "user_id", user.ID)
		return nil, apperr.New(apperr.Authentication, "invalid credentials")
	}
	if err := s.hasher.Compare(user.PasswordHash, password); err != nil {
		s.logger.Info("login_failed", "reason", "bad_password", "user_id", user.ID)
		return nil, apperr.New(apperr.Authentication, "invalid credentials")
	}

	s.audit.Log(ctx, "login.password_ok", map[string]any{
		"user_id": user.ID.String(),
		"ip":      meta.IPAddress,
	})

	return s.initiateTwoFactor(ctx, user, meta)
}

// initiateTwoFactor picks the effective MFA method and either finishes the
// login or prepares the challenge.
func (s *AuthService) initiateTwoFactor(ctx context.Context, user *domain.User, meta ClientMeta) (*LoginResult, error) {
	switch method := user.EffectiveMFAMethod(); method {
	case domain.MFANone:
		return s.completeLogin(ctx, user, meta)

	case domain.MFAOTP:
		code, err := s.twoFactor.GenerateOTP()
		if err != nil {
			return nil, err
		}
		hash, err := s.twoFactor.HashOTP(code)
		if err != nil {
			return nil, err
		}
		expiresAt := time.Now().UTC().Add(OTPExpiry)
		if err := s.store.Users().SetPendingOTP(ctx, user.ID, hash, expiresAt); err != nil {
			return nil, err
		}
		// OTP delivery is the whole second factor; if the email cannot go
		// out the login cannot continue.
		if err := s.mailer.SendOTPCode(ctx, user.Email, code); err != nil {
			s.logger.Error("otp_email_failed", "user_id", user.ID, "error", err)
			return nil, apperr.Wrap(apperr.Validation, "failed to send verification code", err)
		}
		preAuth, err := s.tokens.IssuePreAuth(user.ID)
		if err != nil {
			return nil, err
		}
		return &LoginResult{
			RequiresTwoFactor: true,
			TwoFactorMethod:   domain.MFAOTP,
			UserID:            user.ID,
			PreAuthToken:      preAuth,
		}, nil

	case domain.MFATOTP:
		preAuth, err := s.tokens.IssuePreAuth(user.ID)
		if err != nil {
			return nil, err
		}
		if !user.TOTPEnabled {
			// First-time enrollment happens inline during login instead of
			// locking the user out.
			secret := ""
			if user.TOTPSecret != nil {
				secret = *user.TOTPSecret
			}
			var qr []byte
			if secret == "" {
				var err error
				secret, qr, err = s.twoFactor.GenerateTOTPSecret(user.Email)
				if err != nil {
					return nil, err
				}
				if err := s.store.Users().SetTOTPSecret(ctx, user.ID, secret); err != nil {
					return nil, err
				}
			} else {
				var err error
				qr, err = s.twoFactor.RenderTOTPQR(user.Email, secret)
				if err != nil {
					return nil, err
				}
			}
			return &LoginResult{
				RequiresTwoFactor: true,
				TwoFactorMethod:   domain.MFATOTP,
				UserID:            user.ID,
				PreAuthToken:      preAuth,
				RequiresTOTPSetup: true,
				TOTP:              &TOTPSetup{Secret: secret, QRCode: qr},
			}, nil
		}
		return &LoginResult{
			RequiresTwoFactor: true,
			TwoFactorMethod:   domain.MFATOTP,
			UserID:            user.ID,
			PreAuthToken:      preAuth,
		}, nil

	default:
		return nil, apperr.New(apperr.Validation, "invalid two-factor configuration")
	}
}

// completeLogin issues the token pair and records the session.
func (s *AuthService) completeLogin(ctx context.Context, user *domain.User, meta ClientMeta) (*LoginResult, error) {
	pair, err := s.tokens.IssuePair(ctx, user, meta)
	if err != nil {
		return nil, err
	}

	s.audit.Log(ctx, "login.completed", map[string]any{
		"user_id": user.ID.String(),
		"ip":      meta.IPAddress,
	})
	_ = s.events.Publish(ctx, events.Event{
		Type: events.TypeUserLoggedIn,
		Payload: map[string]any{
			"user_id": user.ID.String(),
			"role":    string(user.Role),
		},
	})

	return &LoginResult{
		Tokens: pair,
		User:   NewUserView(user),
	}, nil
}
