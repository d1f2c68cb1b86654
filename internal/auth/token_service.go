package auth

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/quorumlabs/identity/internal/apperr"
	"github.com/quorumlabs/identity/internal/domain"
	"github.com/quorumlabs/identity/internal/storage"
)

// RefreshTokenTTL is the sliding window a session can stay alive without a
// fresh login.
const RefreshTokenTTL = 7 * 24 * time.Hour

const refreshTokenBytes = 32

// TokenPair is what a successful authentication hands to the client.
type TokenPair struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
	ExpiresIn    int    `json:"expiresIn"` // access token lifetime in seconds
}

// TokenService issues access tokens and manages the rotating refresh token
// chain backing them.
type TokenService struct {
	store    storage.Store
	provider TokenProvider
}

func NewTokenService(store storage.Store, provider TokenProvider) *TokenService {
	return &TokenService{store: store, provider: provider}
}

// IssuePair mints an access token and a fresh refresh token for the user.
func (s *TokenService) IssuePair(ctx context.Context, user *domain.User, meta ClientMeta) (*TokenPair, error) {
	access, err := s.provider.GenerateAccessToken(user)
	if err != nil {
		return nil, err
	}

	raw, err := GenerateSecureToken(refreshTokenBytes)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	record := &domain.RefreshToken{
		ID:        uuid.New(),
		UserID:    user.ID,
		TokenHash: hashToken(raw),
		UserAgent: meta.UserAgent,
		IPAddress: meta.IPAddress,
		ExpiresAt: now.Add(RefreshTokenTTL),
		CreatedAt: now,
	}
	if err := s.store.RefreshTokens().Create(ctx, record); err != nil {
		return nil, err
	}

	return &TokenPair{
		AccessToken:  access,
		RefreshToken: raw,
		ExpiresIn:    int((15 * time.Minute).Seconds()),
	}, nil
}

// IssuePreAuth mints the short-lived token that carries a login between the
// password step and the MFA verification step.
func (s *TokenService) IssuePreAuth(userID uuid.UUID) (string, error) {
	return s.provider.GeneratePreAuthToken(userID)
}

// ValidatePreAuth checks a pre-auth token and returns the user it was issued
// to. Tokens carrying any other scope are rejected, so a leaked access token
// cannot stand in for a completed password step.
func (s *TokenService) ValidatePreAuth(token string) (uuid.UUID, error) {
	claims, err := s.provider.ValidateToken(token)
	if err != nil {
		return uuid.Nil, apperr.New(apperr.Authentication, "invalid or expired pre-auth token")
	}
	if claims.Scope != "pre_auth" {
		return uuid.Nil, apperr.New(apperr.Authentication, "invalid or expired pre-auth token")
	}
	return claims.UserID, nil
}

// Rotate redeems a refresh token for a new pair. The old token is revoked in
// the same transaction that persists its successor, and the conditional
// revoke guarantees that concurrent redemptions of the same token produce at
// most one winner. The loser, and any replayed token, gets an authentication
// error.
func (s *TokenService) Rotate(ctx context.Context, rawToken string, meta ClientMeta) (*TokenPair, error) {
	current, err := s.store.RefreshTokens().GetByHash(ctx, hashToken(rawToken))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, apperr.New(apperr.Authentication, "invalid refresh token")
		}
		return nil, err
	}
	if !current.IsValid(time.Now()) {
		return nil, apperr.New(apperr.Authentication, "invalid refresh token")
	}

	user, err := s.store.Users().GetByID(ctx, current.UserID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, apperr.New(apperr.Authentication, "invalid refresh token")
		}
		return nil, err
	}
	if !user.Active {
		return nil, apperr.New(apperr.Authentication, "invalid refresh token")
	}

	newRaw, err := GenerateSecureToken(refreshTokenBytes)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	successor := &domain.RefreshToken{
		ID:        uuid.New(),
		UserID:    user.ID,
		TokenHash: hashToken(newRaw),
		UserAgent: meta.UserAgent,
		IPAddress: meta.IPAddress,
		ExpiresAt: now.Add(RefreshTokenTTL),
		CreatedAt: now,
	}

	err = s.store.WithTx(ctx, func(tx storage.Store) error {
		// Successor first: if the conditional revoke loses the race the
		// whole transaction rolls back and the successor never exists.
		if err := tx.RefreshTokens().Create(ctx, successor); err != nil {
			return err
		}
		won, err := tx.RefreshTokens().RevokeForRotation(ctx, current.ID, successor.ID)
		if err != nil {
			return err
		}
		if !won {
			return apperr.New(apperr.Authentication, "invalid refresh token")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	access, err := s.provider.GenerateAccessToken(user)
	if err != nil {
		return nil, err
	}

	return &TokenPair{
		AccessToken:  access,
		RefreshToken: newRaw,
		ExpiresIn:    int((15 * time.Minute).Seconds()),
	}, nil
}

// Revoke invalidates a single refresh token. Revoking an unknown or already
// revoked token is a no-op so logout stays idempotent.
func (s *TokenService) Revoke(ctx context.Context, rawToken string) error {
	err := s.store.RefreshTokens().RevokeByHash(ctx, hashToken(rawToken))
	if errors.Is(err, storage.ErrNotFound) {
		return nil
	}
	return err
}

// RevokeAll invalidates every live session for the user.
func (s *TokenService) RevokeAll(ctx context.Context, userID uuid.UUID) error {
	return s.store.RefreshTokens().RevokeAllForUser(ctx, userID)
}
