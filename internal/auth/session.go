package auth

import (
	"context"

	"github.com/google/uuid"
)

// RefreshSession rotates a refresh token into a new pair.
func (s *AuthService) RefreshSession(ctx context.Context, refreshToken string, meta ClientMeta) (*TokenPair, error) {
	return s.tokens.Rotate(ctx, refreshToken, meta)
}

// Logout revokes the presented refresh token. Unknown and already revoked
// tokens succeed silently.
func (s *AuthService) Logout(ctx context.Context, refreshToken string) error {
	if err := s.tokens.Revoke(ctx, refreshToken); err != nil {
		return err
	}
	s.audit.Log(ctx, "session.logout", nil)
	return nil
}

// RevokeAllSessions terminates every live session for the user.
func (s *AuthService) RevokeAllSessions(ctx context.Context, userID uuid.UUID) error {
	if err := s.tokens.RevokeAll(ctx, userID); err != nil {
		return err
	}
	s.audit.Log(ctx, "session.revoke_all", map[string]any{"user_id": userID.String()})
	return nil
}
