package auth

import (
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/quorumlabs/identity/internal/audit"
	"github.com/quorumlabs/identity/internal/domain"
	"github.com/quorumlabs/identity/internal/events"
	"github.com/quorumlabs/identity/internal/notify"
	"github.com/quorumlabs/identity/internal/storage"
)

// ClientMeta is the request fingerprint stored with every refresh token for
// session audit.
type ClientMeta struct {
	UserAgent string
	IPAddress string
}

// UserView is the sanitized projection handed to clients. It deliberately
// carries no password hash, TOTP secret, or pending OTP state.
type UserView struct {
	ID              uuid.UUID        `json:"id"`
	Email           string           `json:"email"`
	FirstName       string           `json:"firstName"`
	LastName        string           `json:"lastName"`
	Role            domain.Role      `json:"role"`
	OrganizationID  *uuid.UUID       `json:"organizationId,omitempty"`
	TwoFactorMethod domain.MFAMethod `json:"twoFactorMethod,omitempty"`
	CreatedAt       time.Time        `json:"createdAt"`
}

func NewUserView(u *domain.User) *UserView {
	return &UserView{
		ID:              u.ID,
		Email:           u.Email,
		FirstName:       u.FirstName,
		LastName:        u.LastName,
		Role:            u.Role,
		OrganizationID:  u.OrganizationID,
		TwoFactorMethod: u.EffectiveMFAMethod(),
		CreatedAt:       u.CreatedAt,
	}
}

// TOTPSetup is the enrollment payload: the shared secret plus a QR code the
// client renders for the authenticator app.
type TOTPSetup struct {
	Secret string `json:"secret"`
	QRCode []byte `json:"qrCode"`
}

// LoginResult is the outcome of the password step or of a completed MFA
// verification. Exactly one of Tokens or a challenge description is set. A
// challenge carries the pre-auth token the client must present back on the
// verify step.
type LoginResult struct {
	RequiresTwoFactor bool             `json:"requiresTwoFactor"`
	TwoFactorMethod   domain.MFAMethod `json:"twoFactorMethod,omitempty"`
	UserID            uuid.UUID        `json:"userId,omitempty"`
	PreAuthToken      string           `json:"preAuthToken,omitempty"`
	RequiresTOTPSetup bool             `json:"requiresTotpSetup,omitempty"`
	TOTP              *TOTPSetup       `json:"totp,omitempty"`
	Tokens            *TokenPair       `json:"tokens,omitempty"`
	User              *UserView        `json:"user,omitempty"`
}

// AuthService orchestrates the credential check, MFA challenge selection,
// challenge verification, and token issuance.
type AuthService struct {
	store     storage.Store
	hasher    PasswordHasher
	twoFactor *TwoFactorManager
	tokens    *TokenService
	mailer    notify.EmailSender
	events    events.Publisher
	audit     audit.Logger
	logger    *slog.Logger
}

func NewAuthService(
	store storage.Store,
	hasher PasswordHasher,
	twoFactor *TwoFactorManager,
	tokens *TokenService,
	mailer notify.EmailSender,
	publisher events.Publisher,
	auditor audit.Logger,
	logger *slog.Logger,
) *AuthService {
	return &AuthService{
		store:     store,
		hasher:    hasher,
		twoFactor: twoFactor,
		tokens:    tokens,
		mailer:    mailer,
		events:    publisher,
		audit:     auditor,
		logger:    logger,
	}
}
