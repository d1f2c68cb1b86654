package postgres

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/quorumlabs/identity/internal/domain"
)

type refreshTokensRepo struct {
	db dbtx
}

func (r *refreshTokensRepo) Create(ctx context.Context, t *domain.RefreshToken) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO refresh_tokens (
			id, user_id, token_hash, revoked, replaced_by,
			user_agent, ip_address, expires_at, created_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		t.ID, t.UserID, t.TokenHash, t.Revoked, t.ReplacedBy,
		t.UserAgent, t.IPAddress, t.ExpiresAt, t.CreatedAt,
	)
	return mapErr(err)
}

func (r *refreshTokensRepo) GetByHash(ctx context.Context, tokenHash string) (*domain.RefreshToken, error) {
	var t domain.RefreshToken
	err := r.db.QueryRow(ctx, `
		SELECT id, user_id, token_hash, revoked, replaced_by,
		       user_agent, ip_address, expires_at, created_at
		FROM refresh_tokens
		WHERE token_hash = $1`,
		tokenHash,
	).Scan(&t.ID, &t.UserID, &t.TokenHash, &t.Revoked, &t.ReplacedBy,
		&t.UserAgent, &t.IPAddress, &t.ExpiresAt, &t.CreatedAt)
	if err != nil {
		return nil, mapErr(err)
	}
	return &t, nil
}

// RevokeForRotation is the conditional update that guarantees at most one
// rotation winner per token: the revoked guard makes the check-and-set
// atomic, so the losing request observes zero rows.
func (r *refreshTokensRepo) RevokeForRotation(ctx context.Context, id, successor uuid.UUID) (bool, error) {
	tag, err := r.db.Exec(ctx, `
		UPDATE refresh_tokens
		SET revoked = true, replaced_by = $2
		WHERE id = $1 AND revoked = false`,
		id, successor,
	)
	if err != nil {
		return false, mapErr(err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *refreshTokensRepo) RevokeByHash(ctx context.Context, tokenHash string) error {
	_, err := r.db.Exec(ctx, `
		UPDATE refresh_tokens
		SET revoked = true
		WHERE token_hash = $1 AND revoked = false`,
		tokenHash,
	)
	return mapErr(err)
}

func (r *refreshTokensRepo) RevokeAllForUser(ctx context.Context, userID uuid.UUID) error {
	_, err := r.db.Exec(ctx, `
		UPDATE refresh_tokens
		SET revoked = true
		WHERE user_id = $1 AND revoked = false`,
		userID,
	)
	return mapErr(err)
}

func (r *refreshTokensRepo) DeleteExpired(ctx context.Context, now time.Time) error {
	_, err := r.db.Exec(ctx, `DELETE FROM refresh_tokens WHERE expires_at < $1`, now)
	return mapErr(err)
}
