package postgres

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/quorumlabs/identity/internal/domain"
)

type usersRepo struct {
	db dbtx
}

const userColumns = `
	u.id, u.email, u.password_hash, u.first_name, u.last_name, u.role,
	u.organization_id, u.mfa_method, u.totp_secret, u.totp_enabled,
	u.otp_hash, u.otp_expires_at, u.active, u.invited_by,
	u.created_at, u.updated_at,
	o.id, o.name, o.slug, o.mfa_method, o.admin_user_id, o.active,
	o.created_at, o.updated_at`

const userJoin = `
	FROM users u
	LEFT JOIN organizations o ON o.id = u.organization_id`

func scanUser(row interface{ Scan(dest ...any) error }) (*domain.User, error) {
	var u domain.User
	var orgID *uuid.UUID
	var orgName, orgSlug *string
	var orgMFA *string
	var orgAdmin *uuid.UUID
	var orgActive *bool
	var orgCreated, orgUpdated *time.Time

	err := row.Scan(
		&u.ID, &u.Email, &u.PasswordHash, &u.FirstName, &u.LastName, &u.Role,
		&u.OrganizationID, &u.MFAMethod, &u.TOTPSecret, &u.TOTPEnabled,
		&u.OTPHash, &u.OTPExpiresAt, &u.Active, &u.InvitedBy,
		&u.CreatedAt, &u.UpdatedAt,
		&orgID, &orgName, &orgSlug, &orgMFA, &orgAdmin, &orgActive,
		&orgCreated, &orgUpdated,
	)
	if err != nil {
		return nil, mapErr(err)
	}

	if orgID != nil {
		u.Organization = &domain.Organization{
			ID:          *orgID,
			Name:        *orgName,
			Slug:        *orgSlug,
			MFAMethod:   domain.MFAMethod(*orgMFA),
			AdminUserID: *orgAdmin,
			Active:      *orgActive,
			CreatedAt:   *orgCreated,
			UpdatedAt:   *orgUpdated,
		}
	}

	return &u, nil
}

func (r *usersRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.User, error) {
	row := r.db.QueryRow(ctx, `SELECT`+userColumns+userJoin+` WHERE u.id = $1`, id)
	return scanUser(row)
}

func (r *usersRepo) GetByEmail(ctx context.Context, email string) (*domain.User, error) {
	row := r.db.QueryRow(ctx, `SELECT`+userColumns+userJoin+` WHERE u.email = $1`, email)
	return scanUser(row)
}

func (r *usersRepo) Create(ctx context.Context, u *domain.User) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO users (
			id, email, password_hash, first_name, last_name, role,
			organization_id, mfa_method, totp_secret, totp_enabled,
			otp_hash, otp_expires_at, active, invited_by, created_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)`,
		u.ID, u.Email, u.PasswordHash, u.FirstName, u.LastName, u.Role,
		u.OrganizationID, u.MFAMethod, u.TOTPSecret, u.TOTPEnabled,
		u.OTPHash, u.OTPExpiresAt, u.Active, u.InvitedBy, u.CreatedAt, u.UpdatedAt,
	)
	return mapErr(err)
}

func (r *usersRepo) SetPendingOTP(ctx context.Context, userID uuid.UUID, otpHash string, expiresAt time.Time) error {
	_, err := r.db.Exec(ctx, `
		UPDATE users
		SET otp_hash = $2, otp_expires_at = $3, updated_at = now()
		WHERE id = $1`,
		userID, otpHash, expiresAt,
	)
	return mapErr(err)
}

func (r *usersRepo) ClearPendingOTP(ctx context.Context, userID uuid.UUID, expectHash string) (bool, error) {
	tag, err := r.db.Exec(ctx, `
		UPDATE users
		SET otp_hash = NULL, otp_expires_at = NULL, updated_at = now()
		WHERE id = $1 AND otp_hash = $2`,
		userID, expectHash,
	)
	if err != nil {
		return false, mapErr(err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *usersRepo) SetTOTPSecret(ctx context.Context, userID uuid.UUID, secret string) error {
	_, err := r.db.Exec(ctx, `
		UPDATE users
		SET totp_secret = $2, totp_enabled = false, updated_at = now()
		WHERE id = $1`,
		userID, secret,
	)
	return mapErr(err)
}

func (r *usersRepo) EnableTOTP(ctx context.Context, userID uuid.UUID) error {
	_, err := r.db.Exec(ctx, `
		UPDATE users
		SET totp_enabled = true, updated_at = now()
		WHERE id = $1`,
		userID,
	)
	return mapErr(err)
}

func (r *usersRepo) SetMFAMethod(ctx context.Context, userID uuid.UUID, method domain.MFAMethod, totpSecret *string, totpEnabled bool) error {
	_, err := r.db.Exec(ctx, `
		UPDATE users
		SET mfa_method = $2, totp_secret = $3, totp_enabled = $4, updated_at = now()
		WHERE id = $1`,
		userID, method, totpSecret, totpEnabled,
	)
	return mapErr(err)
}

func (r *usersRepo) SetOrganization(ctx context.Context, userID, orgID uuid.UUID) error {
	_, err := r.db.Exec(ctx, `
		UPDATE users
		SET organization_id = $2, updated_at = now()
		WHERE id = $1`,
		userID, orgID,
	)
	return mapErr(err)
}

func (r *usersRepo) Deactivate(ctx context.Context, userID uuid.UUID) error {
	_, err := r.db.Exec(ctx, `
		UPDATE users
		SET active = false, updated_at = now()
		WHERE id = $1`,
		userID,
	)
	return mapErr(err)
}
