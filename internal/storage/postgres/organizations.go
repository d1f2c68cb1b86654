package postgres

import (
	"context"

	"github.com/google/uuid"
	"github.com/quorumlabs/identity/internal/domain"
)

type organizationsRepo struct {
	db dbtx
}

func (r *organizationsRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Organization, error) {
	var o domain.Organization
	err := r.db.QueryRow(ctx, `
		SELECT id, name, slug, mfa_method, admin_user_id, active, created_at, updated_at
		FROM organizations
		WHERE id = $1`,
		id,
	).Scan(&o.ID, &o.Name, &o.Slug, &o.MFAMethod, &o.AdminUserID, &o.Active, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		return nil, mapErr(err)
	}
	return &o, nil
}

func (r *organizationsRepo) Create(ctx context.Context, o *domain.Organization) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO organizations (id, name, slug, mfa_method, admin_user_id, active, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		o.ID, o.Name, o.Slug, o.MFAMethod, o.AdminUserID, o.Active, o.CreatedAt, o.UpdatedAt,
	)
	return mapErr(err)
}

func (r *organizationsRepo) SetMFAMethod(ctx context.Context, orgID uuid.UUID, method domain.MFAMethod) error {
	_, err := r.db.Exec(ctx, `
		UPDATE organizations
		SET mfa_method = $2, updated_at = now()
		WHERE id = $1`,
		orgID, method,
	)
	return mapErr(err)
}
